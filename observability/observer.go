// Package observability defines event hooks the listener core invokes so that
// metrics and tracing backends can be swapped without touching dispatch logic.
package observability

import (
	"sync"
	"sync/atomic"
	"time"
)

// AcceptResult describes the outcome of validating a newly accepted connection's
// access key against the client record store.
type AcceptResult string

const (
	AcceptResultOK            AcceptResult = "ok"
	AcceptResultInvalidKey    AcceptResult = "invalid_key"
	AcceptResultStoreError    AcceptResult = "store_error"
	AcceptResultMalformedURI  AcceptResult = "malformed_uri"
	AcceptResultProtocolError AcceptResult = "protocol_error"
)

// HandshakeKind identifies which of the two handshake forms completed.
type HandshakeKind string

const (
	HandshakeKindAsymmetric HandshakeKind = "asymmetric"
	HandshakeKindPassword   HandshakeKind = "password"
)

// CloseReason explains why a connection transitioned to Closed.
type CloseReason string

const (
	CloseReasonTransport        CloseReason = "transport_closed"
	CloseReasonInvalidKey       CloseReason = "invalid_key"
	CloseReasonProtocolRequired CloseReason = "protocol_requirement"
	CloseReasonHandshakeFailed  CloseReason = "handshake_failure"
	CloseReasonShutdown         CloseReason = "shutdown"
)

// DispatchResult is the per-message outcome recorded by the listener's
// dispatch table, one value per distinct failure or success path.
type DispatchResult string

const (
	DispatchResultOK                DispatchResult = "ok"
	DispatchResultAuthError         DispatchResult = "authentication_error"
	DispatchResultUnauthorized      DispatchResult = "unauthorized"
	DispatchResultIllegalFanOut     DispatchResult = "illegal_fan_out"
	DispatchResultUnroutable        DispatchResult = "unroutable"
	DispatchResultUnknownBinaryType DispatchResult = "unknown_binary_type"
	DispatchResultUnknownMsgType    DispatchResult = "unknown_message_type"
	DispatchResultLoopDropped       DispatchResult = "loop_dropped"
)

// FanOutKind is one of the three directional fan-out primitives.
type FanOutKind string

const (
	FanOutBroadcast FanOutKind = "broadcast"
	FanOutPropagate FanOutKind = "propagate"
	FanOutEscalate  FanOutKind = "escalate"
)

// ListenerObserver receives lifecycle and dispatch events from the listener core.
type ListenerObserver interface {
	ConnCount(n int64)
	PeerTableSize(n int)
	Accept(result AcceptResult)
	HandshakeComplete(kind HandshakeKind)
	Close(reason CloseReason)
	Dispatch(msgType string, result DispatchResult)
	DispatchLatency(msgType string, d time.Duration)
	FanOut(kind FanOutKind, targets int)
}

type noopListenerObserver struct{}

func (noopListenerObserver) ConnCount(int64)                     {}
func (noopListenerObserver) PeerTableSize(int)                   {}
func (noopListenerObserver) Accept(AcceptResult)                 {}
func (noopListenerObserver) HandshakeComplete(HandshakeKind)     {}
func (noopListenerObserver) Close(CloseReason)                   {}
func (noopListenerObserver) Dispatch(string, DispatchResult)      {}
func (noopListenerObserver) DispatchLatency(string, time.Duration) {}
func (noopListenerObserver) FanOut(FanOutKind, int)               {}

// Noop is a zero-cost observer used when metrics are disabled.
var Noop ListenerObserver = noopListenerObserver{}

// Atomic swaps its delegate observer at runtime without locking readers.
type Atomic struct {
	once sync.Once
	v    atomic.Value
}

type observerHolder struct {
	obs ListenerObserver
}

// NewAtomic returns an initialized atomic observer defaulting to Noop.
func NewAtomic() *Atomic {
	a := &Atomic{}
	a.once.Do(func() { a.v.Store(&observerHolder{obs: Noop}) })
	return a
}

// Set replaces the delegate, falling back to Noop on nil.
func (a *Atomic) Set(obs ListenerObserver) {
	if obs == nil {
		obs = Noop
	}
	a.once.Do(func() { a.v.Store(&observerHolder{obs: Noop}) })
	a.v.Store(&observerHolder{obs: obs})
}

func (a *Atomic) load() ListenerObserver {
	a.once.Do(func() { a.v.Store(&observerHolder{obs: Noop}) })
	return a.v.Load().(*observerHolder).obs
}

func (a *Atomic) ConnCount(n int64)   { a.load().ConnCount(n) }
func (a *Atomic) PeerTableSize(n int) { a.load().PeerTableSize(n) }
func (a *Atomic) Accept(result AcceptResult) { a.load().Accept(result) }
func (a *Atomic) HandshakeComplete(kind HandshakeKind) { a.load().HandshakeComplete(kind) }
func (a *Atomic) Close(reason CloseReason) { a.load().Close(reason) }
func (a *Atomic) Dispatch(msgType string, result DispatchResult) { a.load().Dispatch(msgType, result) }
func (a *Atomic) DispatchLatency(msgType string, d time.Duration) {
	a.load().DispatchLatency(msgType, d)
}
func (a *Atomic) FanOut(kind FanOutKind, targets int) { a.load().FanOut(kind, targets) }
