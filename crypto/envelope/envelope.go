// Package envelope implements the symmetric AEAD crypto envelope: encrypting
// and decrypting HiveMessage frames under a negotiated cipher and text
// encoding.
package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/jarbas-hive/hivemind-go/crypto/envelope/internal/base91"
	"github.com/jarbas-hive/hivemind-go/crypto/envelope/internal/z85"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// KeyLen is the required length, in octets, of a crypto_key. Longer or
// shorter keys are rejected rather than truncated or padded.
const KeyLen = 16

const nonceLen = 12

var (
	// ErrInvalidKeyLength is returned when a key is not exactly KeyLen octets.
	ErrInvalidKeyLength = errors.New("envelope: key must be exactly 16 octets")
	// ErrAuthenticationFailed is returned when AEAD tag verification fails.
	ErrAuthenticationFailed = errors.New("envelope: authentication failed")
	// ErrUnknownCipher is returned for an unrecognized Cipher value.
	ErrUnknownCipher = errors.New("envelope: unknown cipher")
	// ErrUnknownEncoding is returned for an unrecognized Encoding value.
	ErrUnknownEncoding = errors.New("envelope: unknown encoding")
)

// Cipher identifies a symmetric AEAD construction.
type Cipher string

const (
	CipherAESGCM             Cipher = "AES-GCM"
	CipherChaCha20Poly1305   Cipher = "CHACHA20-POLY1305"
)

// Encoding identifies a text serialization of the ciphertext+tag+nonce triple.
type Encoding string

const (
	EncodingJSONB64         Encoding = "JSON-B64"
	EncodingJSONURLSafeB64  Encoding = "JSON-URLSAFE-B64"
	EncodingJSONB91         Encoding = "JSON-B91"
	EncodingJSONZ85B        Encoding = "JSON-Z85B"
	EncodingJSONZ85P        Encoding = "JSON-Z85P"
	EncodingJSONB32         Encoding = "JSON-B32"
	EncodingJSONHex         Encoding = "JSON-HEX"
)

// DefaultEncodings is the recognized encodings in descending preference order.
var DefaultEncodings = []Encoding{
	EncodingJSONB64, EncodingJSONURLSafeB64, EncodingJSONB91,
	EncodingJSONZ85B, EncodingJSONZ85P, EncodingJSONB32, EncodingJSONHex,
}

// DefaultCiphers is the recognized ciphers in descending preference order.
var DefaultCiphers = []Cipher{CipherAESGCM, CipherChaCha20Poly1305}

// ValidateKey rejects any key whose length is not exactly KeyLen octets.
func ValidateKey(key []byte) error {
	if len(key) != KeyLen {
		return ErrInvalidKeyLength
	}
	return nil
}

// newAEAD builds the AEAD instance for cipher c from a 16-octet key.
//
// AES-GCM uses the key directly as an AES-128 key. ChaCha20-Poly1305 requires
// a 32-byte key by construction, so its 32-byte working key is derived from
// the 16-octet crypto_key via HKDF-SHA256 — this keeps the wire/data-model
// key length uniformly 16 octets while still using a correctly-sized key for
// the underlying primitive.
func newAEAD(c Cipher, key []byte) (cipher.AEAD, error) {
	if len(key) != KeyLen {
		return nil, ErrInvalidKeyLength
	}
	switch c {
	case CipherAESGCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, err
		}
		return cipher.NewGCM(block)
	case CipherChaCha20Poly1305:
		sub := make([]byte, chacha20poly1305.KeySize)
		kr := hkdf.New(sha256.New, key, nil, []byte("hivemind-envelope-v1:chacha20poly1305"))
		if _, err := io.ReadFull(kr, sub); err != nil {
			return nil, err
		}
		return chacha20poly1305.New(sub)
	default:
		return nil, ErrUnknownCipher
	}
}

// Encrypt seals plaintext under key using cipher c, returning a fresh random
// nonce and the ciphertext with the AEAD tag appended (this package's
// decoder also accepts a separately-encoded tag; see JSON below).
func Encrypt(c Cipher, key, plaintext []byte) (nonce, ciphertext []byte, err error) {
	aead, err := newAEAD(c, key)
	if err != nil {
		return nil, nil, err
	}
	nonce = make([]byte, nonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("envelope: generate nonce: %w", err)
	}
	ciphertext = aead.Seal(nil, nonce, plaintext, nil)
	return nonce, ciphertext, nil
}

// Decrypt opens a ciphertext (tag appended) produced by Encrypt.
func Decrypt(c Cipher, key, nonce, ciphertext []byte) ([]byte, error) {
	aead, err := newAEAD(c, key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != aead.NonceSize() {
		return nil, ErrAuthenticationFailed
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}
	return plaintext, nil
}

// JSONFrame is the text-frame wire form: {ciphertext, tag, nonce}. This
// package's encoder always appends the tag to Ciphertext and leaves Tag
// empty; its decoder accepts both that form and a legacy form where Tag
// carries the AEAD tag separately from Ciphertext.
type JSONFrame struct {
	Ciphertext string `json:"ciphertext"`
	Tag        string `json:"tag,omitempty"`
	Nonce      string `json:"nonce"`
}

func encodeBytes(enc Encoding, b []byte) (string, error) {
	switch enc {
	case EncodingJSONB64:
		return b64Std.EncodeToString(b), nil
	case EncodingJSONURLSafeB64:
		return b64URL.EncodeToString(b), nil
	case EncodingJSONB91:
		return base91.Encode(b), nil
	case EncodingJSONZ85B:
		return z85.EncodeB(b), nil
	case EncodingJSONZ85P:
		return z85.EncodeP(b), nil
	case EncodingJSONB32:
		return b32Std.EncodeToString(b), nil
	case EncodingJSONHex:
		return hexEncode(b), nil
	default:
		return "", ErrUnknownEncoding
	}
}

func decodeBytes(enc Encoding, s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	switch enc {
	case EncodingJSONB64:
		return b64Std.DecodeString(s)
	case EncodingJSONURLSafeB64:
		return b64URL.DecodeString(s)
	case EncodingJSONB91:
		return base91.Decode(s)
	case EncodingJSONZ85B:
		return z85.DecodeB(s)
	case EncodingJSONZ85P:
		return z85.DecodeP(s)
	case EncodingJSONB32:
		return b32Std.DecodeString(s)
	case EncodingJSONHex:
		return hexDecode(s)
	default:
		return nil, ErrUnknownEncoding
	}
}

// EncodeText encodes raw bytes under encoding enc, exported for callers that
// need to carry a bare nonce or challenge value alongside a JSONFrame rather
// than a full sealed payload (the password handshake's nonce exchange).
func EncodeText(enc Encoding, b []byte) (string, error) { return encodeBytes(enc, b) }

// DecodeText reverses EncodeText.
func DecodeText(enc Encoding, s string) ([]byte, error) { return decodeBytes(enc, s) }

// SealJSON encrypts plaintext and encodes the result as a JSONFrame.
func SealJSON(c Cipher, enc Encoding, key, plaintext []byte) (*JSONFrame, error) {
	nonce, ciphertext, err := Encrypt(c, key, plaintext)
	if err != nil {
		return nil, err
	}
	ctEnc, err := encodeBytes(enc, ciphertext)
	if err != nil {
		return nil, err
	}
	nonceEnc, err := encodeBytes(enc, nonce)
	if err != nil {
		return nil, err
	}
	return &JSONFrame{Ciphertext: ctEnc, Nonce: nonceEnc}, nil
}

// OpenJSON decrypts a JSONFrame, accepting both the tag-appended form this
// package emits and a tag-separate form for interoperability.
func OpenJSON(c Cipher, enc Encoding, key []byte, frame *JSONFrame) ([]byte, error) {
	nonce, err := decodeBytes(enc, frame.Nonce)
	if err != nil {
		return nil, err
	}
	ct, err := decodeBytes(enc, frame.Ciphertext)
	if err != nil {
		return nil, err
	}
	if frame.Tag != "" {
		tag, err := decodeBytes(enc, frame.Tag)
		if err != nil {
			return nil, err
		}
		ct = append(ct, tag...)
	}
	return Decrypt(c, key, nonce, ct)
}

// MarshalJSONFrame is a convenience for transports that carry the frame as a
// JSON text message.
func MarshalJSONFrame(f *JSONFrame) ([]byte, error) { return json.Marshal(f) }

// UnmarshalJSONFrame parses a JSON text message into a JSONFrame.
func UnmarshalJSONFrame(b []byte) (*JSONFrame, error) {
	var f JSONFrame
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// cipherID byte tags for binary frames.
const (
	cipherIDAESGCM           byte = 1
	cipherIDChaCha20Poly1305 byte = 2
)

func cipherToID(c Cipher) (byte, error) {
	switch c {
	case CipherAESGCM:
		return cipherIDAESGCM, nil
	case CipherChaCha20Poly1305:
		return cipherIDChaCha20Poly1305, nil
	default:
		return 0, ErrUnknownCipher
	}
}

func idToCipher(id byte) (Cipher, error) {
	switch id {
	case cipherIDAESGCM:
		return CipherAESGCM, nil
	case cipherIDChaCha20Poly1305:
		return CipherChaCha20Poly1305, nil
	default:
		return "", ErrUnknownCipher
	}
}

// SealBinary encrypts plaintext and returns a contiguous frame:
// cipher-id(1) | nonce(12) | ciphertext-with-appended-tag.
func SealBinary(c Cipher, key, plaintext []byte) ([]byte, error) {
	id, err := cipherToID(c)
	if err != nil {
		return nil, err
	}
	nonce, ciphertext, err := Encrypt(c, key, plaintext)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, 1+len(nonce)+len(ciphertext))
	out = append(out, id)
	out = append(out, nonce...)
	out = append(out, ciphertext...)
	return out, nil
}

// OpenBinary reverses SealBinary.
func OpenBinary(key, frame []byte) ([]byte, error) {
	if len(frame) < 1+nonceLen {
		return nil, errors.New("envelope: binary frame too short")
	}
	c, err := idToCipher(frame[0])
	if err != nil {
		return nil, err
	}
	nonce := frame[1 : 1+nonceLen]
	ciphertext := frame[1+nonceLen:]
	return Decrypt(c, key, nonce, ciphertext)
}
