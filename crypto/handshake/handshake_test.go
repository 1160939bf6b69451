package handshake

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/jarbas-hive/hivemind-go/identity"
)

func TestIntersectPreferred_PreservesPeerOrder(t *testing.T) {
	peer := []string{"Z85_B", "B64", "HEX", "B91"}
	server := []string{"HEX", "B64"}
	got := IntersectPreferred(peer, server)
	want := []string{"B64", "HEX"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestNegotiate_PicksFirstSurvivor(t *testing.T) {
	got, err := Negotiate([]string{"CHACHA20_POLY1305", "AES_GCM"}, []string{"AES_GCM", "CHACHA20_POLY1305"})
	if err != nil {
		t.Fatal(err)
	}
	if got != "CHACHA20_POLY1305" {
		t.Fatalf("got %q", got)
	}
}

func TestNegotiate_EmptyIntersectionFails(t *testing.T) {
	_, err := Negotiate([]string{"X25519"}, []string{"AES_GCM"})
	if err != ErrEmptyIntersection {
		t.Fatalf("got %v, want ErrEmptyIntersection", err)
	}
}

func TestNewRequest_MinVersionRule(t *testing.T) {
	req := NewRequest(false, false, true, true, false, nil, nil)
	if req.MinProtocolVersion != 1 {
		t.Fatalf("no preshared key + crypto required: got min=%d, want 1", req.MinProtocolVersion)
	}
	req2 := NewRequest(true, false, true, true, false, nil, nil)
	if req2.MinProtocolVersion != 0 {
		t.Fatalf("preshared key present: got min=%d, want 0", req2.MinProtocolVersion)
	}
	req3 := NewRequest(false, false, false, true, false, nil, nil)
	if req3.MinProtocolVersion != 0 {
		t.Fatalf("crypto not required: got min=%d, want 0", req3.MinProtocolVersion)
	}
}

func TestMessage_IsWellFormed(t *testing.T) {
	if (&Message{}).IsWellFormed() {
		t.Fatal("expected empty message to be ill-formed")
	}
	if !(&Message{PubKey: "abc"}).IsWellFormed() {
		t.Fatal("expected pubkey-only message to be well-formed")
	}
}

func TestAsymmetric_SharedSecretAgrees(t *testing.T) {
	curve := identity.Curve()
	a, err := curve.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	b, err := curve.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	keyA, err := Asymmetric(a, b.PublicKey())
	if err != nil {
		t.Fatal(err)
	}
	keyB, err := Asymmetric(b, a.PublicKey())
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(keyA[:], keyB[:]) {
		t.Fatal("ECDH keys derived by both sides must agree")
	}
}

func TestPasswordContext_DeriveKeySymmetric(t *testing.T) {
	p := NewPasswordContext("hunter2")
	clientNonce, err := p.Challenge()
	if err != nil {
		t.Fatal(err)
	}
	serverNonce, err := p.Challenge()
	if err != nil {
		t.Fatal(err)
	}
	k1, err := p.DeriveKey(clientNonce, serverNonce)
	if err != nil {
		t.Fatal(err)
	}
	k2, err := p.DeriveKey(clientNonce, serverNonce)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(k1[:], k2[:]) {
		t.Fatal("derivation must be deterministic given the same nonces")
	}

	other := NewPasswordContext("wrong password")
	k3, err := other.DeriveKey(clientNonce, serverNonce)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(k1[:], k3[:]) {
		t.Fatal("different passwords must not derive the same key")
	}
}

func TestDecodePublicKey_RoundTrip(t *testing.T) {
	node, err := identity.New("node-a", "site-a")
	if err != nil {
		t.Fatal(err)
	}
	pub, err := DecodePublicKey(node.PublicKeyB64())
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(pub.Bytes(), node.PrivateKey.PublicKey().Bytes()) {
		t.Fatal("decoded public key does not match original")
	}
}
