package hiveerrors

import (
	"errors"

	"github.com/jarbas-hive/hivemind-go/crypto/envelope"
	"github.com/jarbas-hive/hivemind-go/crypto/handshake"
)

// ClassifyDecodeErr maps a frame decode/decrypt failure onto its stable
// Code: a failed AEAD tag is an authentication error, a bad key length is an
// invalid key length, anything else is a malformed envelope.
func ClassifyDecodeErr(err error) Code {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, envelope.ErrAuthenticationFailed):
		return CodeAuthenticationError
	case errors.Is(err, envelope.ErrInvalidKeyLength):
		return CodeInvalidKeyLength
	default:
		return CodeMalformedEnvelope
	}
}

// ClassifyHandshakeErr maps a handshake failure onto its stable Code: an
// empty cipher/encoding intersection is a protocol requirement violation,
// anything else a handshake failure.
func ClassifyHandshakeErr(err error) Code {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, handshake.ErrEmptyIntersection):
		return CodeProtocolRequirement
	default:
		return CodeHandshakeFailure
	}
}
