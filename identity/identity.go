// Package identity holds the broker node's long-lived keypair, its site id,
// and the peer identifier format shared by every connection.
package identity

import (
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
)

// Curve is the ECDH curve used for the asymmetric handshake.
func Curve() ecdh.Curve { return ecdh.P256() }

// Node is this broker's long-lived identity.
type Node struct {
	NodeID     string
	SiteID     string
	PrivateKey *ecdh.PrivateKey
}

// New generates a fresh node identity with a random keypair.
func New(nodeID, siteID string) (*Node, error) {
	priv, err := Curve().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("identity: generate keypair: %w", err)
	}
	return &Node{NodeID: nodeID, SiteID: siteID, PrivateKey: priv}, nil
}

// PublicKeyB64 returns this node's public key, base64-standard-encoded, the
// form carried in the HELLO envelope.
func (n *Node) PublicKeyB64() string {
	if n == nil || n.PrivateKey == nil {
		return ""
	}
	return base64.StdEncoding.EncodeToString(n.PrivateKey.PublicKey().Bytes())
}

// DecodePublicKey parses a base64-standard-encoded peer public key in the
// same encoding PublicKeyB64 produces.
func DecodePublicKey(b64 string) (*ecdh.PublicKey, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("identity: decode public key: %w", err)
	}
	pub, err := Curve().NewPublicKey(raw)
	if err != nil {
		return nil, fmt.Errorf("identity: parse public key: %w", err)
	}
	return pub, nil
}

// PeerID formats the routable connection identifier:
// {useragent}::{client_id}::{name}::{session_id}.
func PeerID(useragent string, clientID int64, name, sessionID string) string {
	return strings.Join([]string{
		useragent,
		strconv.FormatInt(clientID, 10),
		name,
		sessionID,
	}, "::")
}

// ParsePeerID splits a peer id back into its four components. It returns
// ok=false if the string does not have exactly four "::"-separated parts.
func ParsePeerID(peer string) (useragent string, clientID int64, name, sessionID string, ok bool) {
	parts := strings.Split(peer, "::")
	if len(parts) != 4 {
		return "", 0, "", "", false
	}
	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return "", 0, "", "", false
	}
	return parts[0], id, parts[2], parts[3], true
}
