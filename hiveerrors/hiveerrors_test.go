package hiveerrors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestError_MessageIncludesCause(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(PathEnvelope, StageDecrypt, CodeAuthenticationError, cause)
	msg := err.Error()
	if !containsAll(msg, "envelope", "decrypt", "authentication_error", "boom") {
		t.Fatalf("unexpected message: %q", msg)
	}
}

func TestError_MessageWithoutCause(t *testing.T) {
	err := Wrap(PathConn, StageAccept, CodeInvalidAccessKey, nil)
	msg := err.Error()
	if !containsAll(msg, "conn", "accept", "invalid_access_key") {
		t.Fatalf("unexpected message: %q", msg)
	}
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := Wrap(PathStore, StageSync, CodeStoreFailure, cause)
	if !errors.Is(err, cause) {
		t.Fatal("expected errors.Is to find the wrapped cause")
	}
}

func TestCodeOf_DirectAndWrapped(t *testing.T) {
	base := Wrap(PathHandshake, StageHandshake, CodeHandshakeFailure, nil)
	if code, ok := CodeOf(base); !ok || code != CodeHandshakeFailure {
		t.Fatalf("got code=%v ok=%v", code, ok)
	}

	wrapped := fmt.Errorf("context: %w", base)
	if code, ok := CodeOf(wrapped); !ok || code != CodeHandshakeFailure {
		t.Fatalf("got code=%v ok=%v for fmt-wrapped error", code, ok)
	}

	if _, ok := CodeOf(errors.New("plain")); ok {
		t.Fatal("expected ok=false for a plain error")
	}
}

func containsAll(s string, subs ...string) bool {
	for _, sub := range subs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}
