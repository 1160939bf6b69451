// Package hiveerrors provides a structured, programmatically identifiable
// error type used across the listener core.
package hiveerrors

import "fmt"

// Path identifies the broad area of the core a failure originated in.
type Path string

const (
	PathListener  Path = "listener"
	PathHandshake Path = "handshake"
	PathEnvelope  Path = "envelope"
	PathStore     Path = "store"
	PathAgentBus  Path = "agentbus"
	PathConn      Path = "conn"
)

// Stage identifies the step within Path that failed.
type Stage string

const (
	StageAccept    Stage = "accept"
	StageValidate  Stage = "validate"
	StageHandshake Stage = "handshake"
	StageDecrypt   Stage = "decrypt"
	StageEncrypt   Stage = "encrypt"
	StageDispatch  Stage = "dispatch"
	StageFanOut    Stage = "fan_out"
	StageSend      Stage = "send"
	StageSync      Stage = "sync"
	StageClose     Stage = "close"
)

// Code is a stable, programmatic error identifier covering one distinct
// failure mode per protocol stage.
type Code string

const (
	CodeInvalidAccessKey    Code = "invalid_access_key"
	CodeProtocolRequirement Code = "protocol_requirement"
	CodeHandshakeFailure    Code = "handshake_failure"
	CodeAuthenticationError Code = "authentication_error"
	CodeUnauthorized        Code = "unauthorized"
	CodeIllegalFanOut       Code = "illegal_fan_out"
	CodeUnroutable          Code = "unroutable"
	CodeUnknownBinaryType   Code = "unknown_binary_type"
	CodeUnknownMessageType  Code = "unknown_message_type"
	CodeInvalidKeyLength    Code = "invalid_key_length"
	CodeMalformedEnvelope   Code = "malformed_envelope"
	CodeStoreFailure        Code = "store_failure"
)

// Error is a structured, programmatically identifiable error.
type Error struct {
	Path  Path
	Stage Stage
	Code  Code
	Err   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s %s (%s): %v", e.Path, e.Stage, e.Code, e.Err)
	}
	return fmt.Sprintf("%s %s (%s)", e.Path, e.Stage, e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap constructs a structured Error.
func Wrap(path Path, stage Stage, code Code, err error) error {
	return &Error{Path: path, Stage: stage, Code: code, Err: err}
}

// CodeOf extracts the Code from err if it (or something it wraps) is an *Error.
func CodeOf(err error) (Code, bool) {
	var e *Error
	for err != nil {
		if he, ok := err.(*Error); ok {
			e = he
			break
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = unwrapper.Unwrap()
	}
	if e == nil {
		return "", false
	}
	return e.Code, true
}
