// Package handshake implements the two key-agreement forms the listener
// protocol supports: an asymmetric ECDH handshake keyed by node keypairs,
// and a password-derived handshake with cipher/encoding preference-list
// negotiation.
package handshake

import (
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"github.com/jarbas-hive/hivemind-go/crypto/envelope"
	"github.com/jarbas-hive/hivemind-go/identity"
	"golang.org/x/crypto/hkdf"
)

// ErrEmptyIntersection is returned when a peer's preference vector shares no
// entry with the server's allowed list — a protocol_requirement failure,
// the closest a handshake can get to aborting cleanly.
var ErrEmptyIntersection = errors.New("handshake: empty preference intersection")

// HelloPayload is the payload of the HELLO envelope, sent in both
// directions: the listener's own outbound greeting and, for a federated
// peer node, the HELLO it sends back once its own handshake completes.
type HelloPayload struct {
	PublicKey string `json:"pubkey"`
	Peer      string `json:"peer"`
	NodeID    string `json:"node_id"`
	SessionID string `json:"session_id,omitempty"`
	SiteID    string `json:"site_id,omitempty"`
}

// Request is the payload of the HANDSHAKE-request envelope sent immediately
// after HELLO (Greeted -> Handshaking transition).
type Request struct {
	Handshake          bool     `json:"handshake"`
	MinProtocolVersion int      `json:"min_protocol_version"`
	MaxProtocolVersion int      `json:"max_protocol_version"`
	Binarize           bool     `json:"binarize"`
	PresharedKey       bool     `json:"preshared_key"`
	Password           bool     `json:"password"`
	CryptoRequired     bool     `json:"crypto_required"`
	Encodings          []string `json:"encodings"`
	Ciphers            []string `json:"ciphers"`
}

// NewRequest builds the HANDSHAKE-request payload per the state machine's
// transition rule: min_protocol_version is 1 only when the peer has no
// pre-shared key and crypto is required, else 0; max_protocol_version is 1.
func NewRequest(presharedKey, password, cryptoRequired, handshakeEnabled, binarize bool, encodings, ciphers []string) *Request {
	min := 0
	if !presharedKey && cryptoRequired {
		min = 1
	}
	return &Request{
		Handshake:          handshakeEnabled,
		MinProtocolVersion: min,
		MaxProtocolVersion: 1,
		Binarize:           binarize,
		PresharedKey:       presharedKey,
		Password:           password,
		CryptoRequired:     cryptoRequired,
		Encodings:          encodings,
		Ciphers:            ciphers,
	}
}

// Message is the payload of a HANDSHAKE envelope, in either direction.
type Message struct {
	PubKey    string             `json:"pubkey,omitempty"`
	Envelope  *envelope.JSONFrame `json:"envelope,omitempty"`
	Encoding  string             `json:"encoding,omitempty"`
	Cipher    string             `json:"cipher,omitempty"`
	Encodings []string           `json:"encodings,omitempty"`
	Ciphers   []string           `json:"ciphers,omitempty"`
	Binarize  bool               `json:"binarize,omitempty"`
	SessionID string             `json:"session_id,omitempty"`
}

// IsWellFormed rejects a HANDSHAKE message missing both forms of key material,
// the HandshakeFailure trigger in the error handling design.
func (m *Message) IsWellFormed() bool {
	if m == nil {
		return false
	}
	return m.PubKey != "" || m.Envelope != nil
}

// IntersectPreferred returns the subset of peerPreference that also appears
// in serverAllowed, preserving the peer's order. Both the password handshake's
// cipher and encoding negotiation use this rule.
func IntersectPreferred(peerPreference, serverAllowed []string) []string {
	allowed := make(map[string]struct{}, len(serverAllowed))
	for _, a := range serverAllowed {
		allowed[a] = struct{}{}
	}
	out := make([]string, 0, len(peerPreference))
	for _, p := range peerPreference {
		if _, ok := allowed[p]; ok {
			out = append(out, p)
		}
	}
	return out
}

// Negotiate picks the first entry of IntersectPreferred(peerPreference,
// serverAllowed), failing with ErrEmptyIntersection if nothing survives.
func Negotiate(peerPreference, serverAllowed []string) (string, error) {
	inter := IntersectPreferred(peerPreference, serverAllowed)
	if len(inter) == 0 {
		return "", ErrEmptyIntersection
	}
	return inter[0], nil
}

// Asymmetric derives the post-handshake symmetric key from this node's
// private key and the peer's public key via ECDH, expanding the shared
// secret to envelope.KeyLen octets with HKDF-SHA256.
func Asymmetric(priv *ecdh.PrivateKey, peerPub *ecdh.PublicKey) ([envelope.KeyLen]byte, error) {
	var out [envelope.KeyLen]byte
	secret, err := priv.ECDH(peerPub)
	if err != nil {
		return out, fmt.Errorf("handshake: ecdh: %w", err)
	}
	kr := hkdf.New(sha256.New, secret, nil, []byte("hivemind-handshake-v1:asymmetric"))
	if _, err := io.ReadFull(kr, out[:]); err != nil {
		return out, err
	}
	return out, nil
}

// PasswordContext holds the per-connection state of a password-derived
// handshake: the shared password. The nonces exchanged as each side's
// "envelope" challenge are not stored here.
type PasswordContext struct {
	Password string
}

// NewPasswordContext constructs a password handshake context; the caller
// only builds one when the client record carries a password.
func NewPasswordContext(password string) *PasswordContext {
	return &PasswordContext{Password: password}
}

// Challenge returns a fresh random nonce to send as this side's envelope
// challenge value.
func (p *PasswordContext) Challenge() ([]byte, error) {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("handshake: generate challenge: %w", err)
	}
	return nonce, nil
}

// DeriveKey derives the shared symmetric key from the password and both
// sides' challenge nonces. clientNonce/serverNonce must be passed in that
// fixed order by both sides so the derivation matches regardless of which
// side computes it. The key never transits the wire; only the nonces (as
// each side's envelope) do.
func (p *PasswordContext) DeriveKey(clientNonce, serverNonce []byte) ([envelope.KeyLen]byte, error) {
	var out [envelope.KeyLen]byte
	salt := append(append([]byte{}, clientNonce...), serverNonce...)
	kr := hkdf.New(sha256.New, []byte(p.Password), salt, []byte("hivemind-handshake-v1:password"))
	if _, err := io.ReadFull(kr, out[:]); err != nil {
		return out, err
	}
	return out, nil
}

// DecodePublicKey is re-exported for callers that only import this package.
func DecodePublicKey(b64 string) (*ecdh.PublicKey, error) { return identity.DecodePublicKey(b64) }
