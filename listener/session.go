// Package listener implements the HiveMind Listener Protocol: the
// stateful per-connection state machine that performs the handshake,
// authorizes and dispatches envelopes among the four directional fan-out
// primitives, and relays decrypted application messages to the agent bus.
package listener

import (
	"crypto/ecdh"

	"github.com/jarbas-hive/hivemind-go/conn"
	"github.com/jarbas-hive/hivemind-go/crypto/handshake"
)

// Sender is the transport-supplied per-connection write/close callback pair.
type Sender interface {
	// Send writes one wire frame, text (binary=false) or binary.
	Send(data []byte, binary bool) error
	// Close tears down the underlying transport connection.
	Close() error
}

// session is the listener's private per-connection context: conn.Conn plus
// the handshake-in-progress state the wire protocol needs that doesn't
// belong in conn's generic gating/session fields.
type session struct {
	c      *conn.Conn
	sender Sender

	pswdCtx      *handshake.PasswordContext
	serverNonce  []byte
	peerPubKey   *ecdh.PublicKey
	notifiedConn bool // Guards against re-emitting hive.client.connect on key rotation.
}

func (s *session) isSessionHandle() {}

// SessionHandle is the opaque per-connection handle a transport holds onto
// between Accept and HandleFrame/Disconnect calls. Its only implementation
// is the listener's private session type; transports never inspect it.
type SessionHandle interface {
	isSessionHandle()
}
