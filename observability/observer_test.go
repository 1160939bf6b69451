package observability

import (
	"testing"
	"time"
)

func TestNoop_DoesNotPanic(t *testing.T) {
	Noop.ConnCount(1)
	Noop.PeerTableSize(1)
	Noop.Accept(AcceptResultOK)
	Noop.HandshakeComplete(HandshakeKindAsymmetric)
	Noop.Close(CloseReasonShutdown)
	Noop.Dispatch("BUS", DispatchResultOK)
	Noop.DispatchLatency("BUS", time.Millisecond)
	Noop.FanOut(FanOutBroadcast, 3)
}

func TestAtomic_DefaultsToNoop(t *testing.T) {
	a := NewAtomic()
	a.ConnCount(1) // must not panic before Set is ever called
}

func TestAtomic_SetSwapsDelegate(t *testing.T) {
	a := NewAtomic()
	seen := 0
	a.Set(funcObserver{close: func(CloseReason) { seen++ }})
	a.Close(CloseReasonTransport)
	if seen != 1 {
		t.Fatalf("got %d calls, want 1", seen)
	}
}

func TestAtomic_SetNilFallsBackToNoop(t *testing.T) {
	a := NewAtomic()
	a.Set(nil)
	a.ConnCount(1) // must route to Noop, not panic on a nil interface
}

// funcObserver lets a single test stub exactly the callback it checks.
type funcObserver struct {
	close func(CloseReason)
}

func (f funcObserver) ConnCount(int64)                         {}
func (f funcObserver) PeerTableSize(int)                       {}
func (f funcObserver) Accept(AcceptResult)                     {}
func (f funcObserver) HandshakeComplete(HandshakeKind)         {}
func (f funcObserver) Close(reason CloseReason) {
	if f.close != nil {
		f.close(reason)
	}
}
func (f funcObserver) Dispatch(string, DispatchResult)          {}
func (f funcObserver) DispatchLatency(string, time.Duration)    {}
func (f funcObserver) FanOut(FanOutKind, int)                   {}
