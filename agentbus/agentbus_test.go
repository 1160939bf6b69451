package agentbus

import (
	"testing"

	"github.com/jarbas-hive/hivemind-go/message"
)

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	b := New()
	var got1, got2 any
	b.Subscribe("topic", func(p any) { got1 = p })
	b.Subscribe("topic", func(p any) { got2 = p })

	b.Publish("topic", 42)

	if got1 != 42 || got2 != 42 {
		t.Fatalf("got %v, %v; want both 42", got1, got2)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	calls := 0
	unsub := b.Subscribe("topic", func(any) { calls++ })
	b.Publish("topic", nil)
	unsub()
	b.Publish("topic", nil)

	if calls != 1 {
		t.Fatalf("got %d calls, want 1", calls)
	}
}

type fakePeers struct {
	sent     map[string]*message.Envelope
	fannedOut *message.Envelope
	known    map[string]bool
}

func (f *fakePeers) SendToPeer(peer string, env *message.Envelope) bool {
	if !f.known[peer] {
		return false
	}
	if f.sent == nil {
		f.sent = make(map[string]*message.Envelope)
	}
	f.sent[peer] = env
	return true
}

func (f *fakePeers) FanOut(env *message.Envelope, exclude string) { f.fannedOut = env }

func (f *fakePeers) KnownPeer(peer string) bool { return f.known[peer] }

func TestAdapterDownstreamSendsToKnownPeer(t *testing.T) {
	bus := New()
	peers := &fakePeers{known: map[string]bool{"p1": true}}
	Attach(bus, peers)

	env := &message.Envelope{MsgType: message.TypeBus}
	bus.Publish(TopicSendDownstream, DownstreamEvent{Payload: env, Peer: "p1", MsgType: "BUS"})

	if peers.sent["p1"] != env {
		t.Fatalf("expected envelope delivered to p1")
	}
}

func TestAdapterDownstreamUnknownPeerEmitsSendError(t *testing.T) {
	bus := New()
	peers := &fakePeers{known: map[string]bool{}}
	Attach(bus, peers)

	var errEv SendErrorEvent
	bus.Subscribe(TopicSendError, func(p any) { errEv, _ = p.(SendErrorEvent) })

	env := &message.Envelope{MsgType: message.TypeBus}
	bus.Publish(TopicSendDownstream, DownstreamEvent{Payload: env, Peer: "ghost", MsgType: "BUS"})

	if errEv.Peer != "ghost" {
		t.Fatalf("got %+v, want error for peer ghost", errEv)
	}
}

func TestAdapterDownstreamFanOutForPropagate(t *testing.T) {
	bus := New()
	peers := &fakePeers{known: map[string]bool{}}
	Attach(bus, peers)

	env := &message.Envelope{MsgType: message.TypePropagate}
	bus.Publish(TopicSendDownstream, DownstreamEvent{Payload: env, MsgType: string(message.TypePropagate)})

	if peers.fannedOut != env {
		t.Fatalf("expected propagate to fan out")
	}
}

func TestAdapterDownstreamIgnoresEscalate(t *testing.T) {
	bus := New()
	peers := &fakePeers{known: map[string]bool{}}
	Attach(bus, peers)

	env := &message.Envelope{MsgType: message.TypeEscalate}
	bus.Publish(TopicSendDownstream, DownstreamEvent{Payload: env, MsgType: string(message.TypeEscalate)})

	if peers.fannedOut != nil {
		t.Fatalf("expected escalate to be ignored, not fanned out")
	}
}
