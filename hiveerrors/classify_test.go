package hiveerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jarbas-hive/hivemind-go/crypto/envelope"
	"github.com/jarbas-hive/hivemind-go/crypto/handshake"
)

func TestClassifyDecodeErr(t *testing.T) {
	cases := []struct {
		err  error
		want Code
	}{
		{nil, ""},
		{envelope.ErrAuthenticationFailed, CodeAuthenticationError},
		{fmt.Errorf("decrypt: %w", envelope.ErrAuthenticationFailed), CodeAuthenticationError},
		{envelope.ErrInvalidKeyLength, CodeInvalidKeyLength},
		{errors.New("garbled"), CodeMalformedEnvelope},
	}
	for _, c := range cases {
		if got := ClassifyDecodeErr(c.err); got != c.want {
			t.Fatalf("ClassifyDecodeErr(%v) = %q, want %q", c.err, got, c.want)
		}
	}
}

func TestClassifyHandshakeErr(t *testing.T) {
	if got := ClassifyHandshakeErr(handshake.ErrEmptyIntersection); got != CodeProtocolRequirement {
		t.Fatalf("empty intersection should classify as protocol requirement, got %q", got)
	}
	if got := ClassifyHandshakeErr(errors.New("bad pubkey")); got != CodeHandshakeFailure {
		t.Fatalf("generic failure should classify as handshake failure, got %q", got)
	}
	if got := ClassifyHandshakeErr(nil); got != "" {
		t.Fatalf("nil should classify as empty code, got %q", got)
	}
}
