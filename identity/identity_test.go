package identity

import "testing"

func TestPeerIDRoundTrip(t *testing.T) {
	peer := PeerID("voice-client", 42, "kitchen", "sess-1")
	ua, id, name, sessionID, ok := ParsePeerID(peer)
	if !ok {
		t.Fatalf("expected ok, got peer=%q", peer)
	}
	if ua != "voice-client" || id != 42 || name != "kitchen" || sessionID != "sess-1" {
		t.Fatalf("mismatch: ua=%q id=%d name=%q session=%q", ua, id, name, sessionID)
	}
}

func TestParsePeerID_MalformedRejected(t *testing.T) {
	for _, bad := range []string{"", "a::b", "a::b::c", "a::b::c::d::e", "a::notanint::c::d"} {
		if _, _, _, _, ok := ParsePeerID(bad); ok {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
}

func TestNewNode_GeneratesDistinctKeys(t *testing.T) {
	a, err := New("node-a", "site-a")
	if err != nil {
		t.Fatal(err)
	}
	b, err := New("node-b", "site-a")
	if err != nil {
		t.Fatal(err)
	}
	if a.PublicKeyB64() == b.PublicKeyB64() {
		t.Fatal("two generated nodes must not share a public key")
	}
}

func TestDecodePublicKey_InvalidBase64(t *testing.T) {
	if _, err := DecodePublicKey("not-valid-base64!!"); err == nil {
		t.Fatal("expected an error for invalid base64")
	}
}
