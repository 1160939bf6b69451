// Package conn holds the per-connection state the listener core manages for
// each accepted peer: its negotiated crypto parameters, its session context,
// and the outgoing write queue a connection's goroutine drains.
package conn

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jarbas-hive/hivemind-go/crypto/envelope"
	"github.com/jarbas-hive/hivemind-go/message"
	"github.com/jarbas-hive/hivemind-go/store"
)

// State is the connection's position in the accept/handshake/auth lifecycle.
type State int

const (
	Accepted State = iota
	Greeted
	Handshaking
	Authenticated
	Closed
)

func (s State) String() string {
	switch s {
	case Accepted:
		return "accepted"
	case Greeted:
		return "greeted"
	case Handshaking:
		return "handshaking"
	case Authenticated:
		return "authenticated"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// cryptoParams is the negotiated symmetric crypto configuration, swapped
// atomically so a key-rotation HANDSHAKE message never races a concurrent
// encrypt/decrypt on the same connection.
type cryptoParams struct {
	cipher   envelope.Cipher
	encoding envelope.Encoding
	key      [envelope.KeyLen]byte
	binarize bool
	enabled  bool
}

// Conn is one accepted connection's mutable state.
type Conn struct {
	// ConnID is a random v4 UUID minted once at Accept and held for the
	// connection's whole lifetime, so log lines and metrics can correlate a
	// connection across a PeerID change (session-id adoption re-keys PeerID
	// in the listener's peer table, but ConnID never moves).
	ConnID    string
	PeerID    string
	UserAgent string
	Client    *store.Client // Nil until authenticated.

	Session SessionState

	state    atomic.Int32
	crypto   atomic.Pointer[cryptoParams]
	lastSeen atomic.Int64

	mu     sync.Mutex // Guards the outgoing queue below.
	cond   *sync.Cond
	out    []QueuedFrame
	closed bool
}

// QueuedFrame is one outgoing wire frame waiting to be written by the
// connection's writer pump, tagged with the websocket frame kind it must be
// sent as (text JSON vs. binary) since that can differ message-to-message
// (HELLO/HANDSHAKE are always text; later frames follow Binarize/BINARY).
type QueuedFrame struct {
	Data   []byte
	Binary bool
}

// SessionState mirrors the nested session object of BUS payloads.
type SessionState struct {
	SessionID          string
	SiteID             string
	BlacklistedSkills  []string
	BlacklistedIntents []string
}

// New returns a fresh Conn in the Accepted state with an empty default
// session and an empty outgoing queue. The queue itself has no bound; the
// listener checks QueueDepth before each enqueue.
func New(peerID, userAgent string) *Conn {
	c := &Conn{
		ConnID:    uuid.NewString(),
		PeerID:    peerID,
		UserAgent: userAgent,
		Session:   SessionState{SessionID: "default"},
	}
	c.cond = sync.NewCond(&c.mu)
	c.state.Store(int32(Accepted))
	c.crypto.Store(&cryptoParams{})
	return c
}

// State returns the current lifecycle state.
func (c *Conn) State() State { return State(c.state.Load()) }

// SetState advances the lifecycle state.
func (c *Conn) SetState(s State) { c.state.Store(int32(s)) }

// TouchLastSeen records the current time as this connection's last activity.
func (c *Conn) TouchLastSeen(now time.Time) { c.lastSeen.Store(now.Unix()) }

// LastSeen returns the last recorded activity time, or the zero Unix time.
func (c *Conn) LastSeen() int64 { return c.lastSeen.Load() }

// SetCrypto atomically installs a new negotiated crypto configuration,
// e.g. on a HANDSHAKE key-rotation message.
func (c *Conn) SetCrypto(cipher envelope.Cipher, enc envelope.Encoding, key [envelope.KeyLen]byte, binarize bool) {
	c.crypto.Store(&cryptoParams{cipher: cipher, encoding: enc, key: key, binarize: binarize, enabled: true})
}

// CryptoEnabled reports whether a symmetric key has been negotiated.
func (c *Conn) CryptoEnabled() bool { return c.crypto.Load().enabled }

// Seal encrypts payload under the currently negotiated crypto parameters as a
// text JSON frame.
func (c *Conn) Seal(payload []byte) (*envelope.JSONFrame, error) {
	p := c.crypto.Load()
	return envelope.SealJSON(p.cipher, p.encoding, p.key[:], payload)
}

// Open decrypts a JSON frame under the currently negotiated crypto parameters.
func (c *Conn) Open(frame *envelope.JSONFrame) ([]byte, error) {
	p := c.crypto.Load()
	return envelope.OpenJSON(p.cipher, p.encoding, p.key[:], frame)
}

// Binarize reports whether negotiated frames should be sent as binary rather
// than JSON-text.
func (c *Conn) Binarize() bool { return c.crypto.Load().binarize }

// SealBinary encrypts payload under the currently negotiated crypto
// parameters into a contiguous binary frame (cipher-id | nonce | ciphertext).
func (c *Conn) SealBinary(payload []byte) ([]byte, error) {
	p := c.crypto.Load()
	return envelope.SealBinary(p.cipher, p.key[:], payload)
}

// OpenBinaryFrame decrypts a contiguous binary frame produced by SealBinary.
func (c *Conn) OpenBinaryFrame(frame []byte) ([]byte, error) {
	p := c.crypto.Load()
	return envelope.OpenBinary(p.key[:], frame)
}

// Enqueue appends a raw outgoing frame to the write queue and wakes the
// drain loop. binary tags the frame as a websocket binary message rather
// than text.
func (c *Conn) Enqueue(data []byte, binary bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.out = append(c.out, QueuedFrame{Data: data, Binary: binary})
	c.cond.Signal()
	return true
}

// QueueDepth reports the number of frames currently buffered, so a caller
// can disconnect a slow client instead of letting the queue grow unbounded.
func (c *Conn) QueueDepth() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.out)
}

// Dequeue blocks until a frame is available or the connection is closed,
// returning ok=false only in the latter case with an empty queue.
func (c *Conn) Dequeue() (frame QueuedFrame, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.out) == 0 && !c.closed {
		c.cond.Wait()
	}
	if len(c.out) == 0 {
		return QueuedFrame{}, false
	}
	frame = c.out[0]
	c.out = c.out[1:]
	return frame, true
}

// Close marks the connection closed and wakes any blocked Dequeue.
func (c *Conn) Close() {
	c.mu.Lock()
	c.closed = true
	c.cond.Broadcast()
	c.mu.Unlock()
	c.SetState(Closed)
}

// Closed reports whether Close has been called.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Authorize reports whether this connection, once authenticated, is allowed
// to admit an inbound BUS message of the given application type: it must
// appear in Client.AllowedTypes. Client.MessageBlacklist is an outbound-only
// filter (see the outgoing gate in listener.sendGated) and plays no part in
// inbound admission.
func (c *Conn) Authorize(msgType string) bool {
	if c.Client == nil {
		return false
	}
	for _, t := range c.Client.AllowedTypes {
		if t == msgType {
			return true
		}
	}
	return false
}

// AuthorizeFanOut reports whether this connection's client record grants the
// given fan-out kind. BROADCAST is admin-only; PROPAGATE and ESCALATE follow
// their capability bits.
func (c *Conn) AuthorizeFanOut(kind message.Type) bool {
	if c.Client == nil {
		return false
	}
	switch kind {
	case message.TypeBroadcast:
		return c.Client.IsAdmin
	case message.TypePropagate:
		return c.Client.CanPropagate
	case message.TypeEscalate:
		return c.Client.CanEscalate
	default:
		return false
	}
}
