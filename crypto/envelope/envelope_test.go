package envelope

import (
	"bytes"
	"crypto/rand"
	"testing"
)

func allEncodings() []Encoding {
	return []Encoding{
		EncodingJSONB64, EncodingJSONURLSafeB64, EncodingJSONB91,
		EncodingJSONZ85B, EncodingJSONZ85P, EncodingJSONB32, EncodingJSONHex,
	}
}

func allCiphers() []Cipher {
	return []Cipher{CipherAESGCM, CipherChaCha20Poly1305}
}

// TestRoundTrip_JSON covers invariant 5: decrypt(encrypt(x)) == x for every
// negotiated (cipher, encoding) pair and a valid 16-octet key.
func TestRoundTrip_JSON(t *testing.T) {
	key := make([]byte, KeyLen)
	if _, err := rand.Read(key); err != nil {
		t.Fatal(err)
	}
	plaintext := []byte(`{"msg_type":"BUS","payload":{"type":"recognizer_loop:utterance"}}`)

	for _, c := range allCiphers() {
		for _, enc := range allEncodings() {
			frame, err := SealJSON(c, enc, key, plaintext)
			if err != nil {
				t.Fatalf("%s/%s: seal: %v", c, enc, err)
			}
			got, err := OpenJSON(c, enc, key, frame)
			if err != nil {
				t.Fatalf("%s/%s: open: %v", c, enc, err)
			}
			if !bytes.Equal(got, plaintext) {
				t.Fatalf("%s/%s: round-trip mismatch: got %q", c, enc, got)
			}
		}
	}
}

func TestRoundTrip_Binary(t *testing.T) {
	key := make([]byte, KeyLen)
	if _, err := rand.Read(key); err != nil {
		t.Fatal(err)
	}
	plaintext := []byte("raw binary audio payload")
	for _, c := range allCiphers() {
		frame, err := SealBinary(c, key, plaintext)
		if err != nil {
			t.Fatalf("%s: seal: %v", c, err)
		}
		got, err := OpenBinary(key, frame)
		if err != nil {
			t.Fatalf("%s: open: %v", c, err)
		}
		if !bytes.Equal(got, plaintext) {
			t.Fatalf("%s: mismatch: got %q", c, got)
		}
	}
}

func TestEncrypt_InvalidKeyLength(t *testing.T) {
	for _, n := range []int{0, 8, 15, 17, 32} {
		key := make([]byte, n)
		if _, _, err := Encrypt(CipherAESGCM, key, []byte("x")); err != ErrInvalidKeyLength {
			t.Fatalf("key len %d: got %v, want ErrInvalidKeyLength", n, err)
		}
	}
}

func TestDecrypt_AuthenticationError(t *testing.T) {
	key := make([]byte, KeyLen)
	nonce, ct, err := Encrypt(CipherChaCha20Poly1305, key, []byte("hello"))
	if err != nil {
		t.Fatal(err)
	}
	ct[0] ^= 0xFF // corrupt the ciphertext
	if _, err := Decrypt(CipherChaCha20Poly1305, key, nonce, ct); err != ErrAuthenticationFailed {
		t.Fatalf("got %v, want ErrAuthenticationFailed", err)
	}
}

// TestOpenJSON_TagSeparateForm verifies the decoder accepts a legacy frame
// where Tag is encoded apart from Ciphertext, even though SealJSON only
// ever emits the tag-appended form.
func TestOpenJSON_TagSeparateForm(t *testing.T) {
	key := make([]byte, KeyLen)
	plaintext := []byte("legacy tag placement")
	nonce, ct, err := Encrypt(CipherAESGCM, key, plaintext)
	if err != nil {
		t.Fatal(err)
	}
	tagLen := 16
	split := len(ct) - tagLen
	ctOnly, tag := ct[:split], ct[split:]

	ctEnc, err := EncodeText(EncodingJSONB64, ctOnly)
	if err != nil {
		t.Fatal(err)
	}
	tagEnc, err := EncodeText(EncodingJSONB64, tag)
	if err != nil {
		t.Fatal(err)
	}
	nonceEnc, err := EncodeText(EncodingJSONB64, nonce)
	if err != nil {
		t.Fatal(err)
	}
	frame := &JSONFrame{Ciphertext: ctEnc, Tag: tagEnc, Nonce: nonceEnc}
	got, err := OpenJSON(CipherAESGCM, EncodingJSONB64, key, frame)
	if err != nil {
		t.Fatalf("open tag-separate frame: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("mismatch: got %q", got)
	}
}

func TestEncrypt_FreshNoncePerMessage(t *testing.T) {
	key := make([]byte, KeyLen)
	n1, _, err := Encrypt(CipherAESGCM, key, []byte("a"))
	if err != nil {
		t.Fatal(err)
	}
	n2, _, err := Encrypt(CipherAESGCM, key, []byte("a"))
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(n1, n2) {
		t.Fatal("nonces must not repeat across messages")
	}
}

func TestMarshalUnmarshalJSONFrame(t *testing.T) {
	f := &JSONFrame{Ciphertext: "abc", Nonce: "def"}
	b, err := MarshalJSONFrame(f)
	if err != nil {
		t.Fatal(err)
	}
	got, err := UnmarshalJSONFrame(b)
	if err != nil {
		t.Fatal(err)
	}
	if got.Ciphertext != f.Ciphertext || got.Nonce != f.Nonce {
		t.Fatalf("mismatch: %+v", got)
	}
}
