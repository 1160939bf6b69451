package agentbus

import (
	"github.com/jarbas-hive/hivemind-go/message"
)

// PeerSender is the narrow view of the listener's peer table the adapter
// needs. It is injected at construction rather than holding a back-reference
// to *listener.Listener, breaking the listener/adapter/binary-handler
// ownership cycle.
type PeerSender interface {
	// SendToPeer delivers env to the named peer's outgoing queue. It reports
	// whether the peer was connected and able to receive it.
	SendToPeer(peer string, env *message.Envelope) bool
	// FanOut delivers env to every connected peer except exclude.
	FanOut(env *message.Envelope, exclude string)
	// KnownPeer reports whether peer is currently registered.
	KnownPeer(peer string) bool
}

// Adapter wires a Bus to a PeerSender: it consumes hive.send.downstream and
// raw message events, and is also the place the listener calls into to emit
// connect/disconnect/error notifications on the client's behalf.
type Adapter struct {
	bus    *Bus
	peers  PeerSender
	unsubs []func()
}

// Attach subscribes the adapter's handlers to bus and returns the Adapter.
func Attach(bus *Bus, peers PeerSender) *Adapter {
	a := &Adapter{bus: bus, peers: peers}
	a.unsubs = append(a.unsubs,
		bus.Subscribe(TopicSendDownstream, a.handleDownstream),
		bus.Subscribe(TopicMessage, a.handleRawMessage),
	)
	return a
}

// Detach unsubscribes every handler this adapter registered.
func (a *Adapter) Detach() {
	for _, u := range a.unsubs {
		u()
	}
}

func (a *Adapter) handleDownstream(payload any) {
	ev, ok := payload.(DownstreamEvent)
	if !ok {
		return
	}
	env, ok := ev.Payload.(*message.Envelope)
	if !ok {
		return
	}
	switch message.Type(ev.MsgType) {
	case message.TypePropagate, message.TypeBroadcast:
		a.peers.FanOut(env, "")
		return
	case message.TypeEscalate:
		// Escalations flow only from slave to master, never the reverse.
		return
	}
	if ev.Peer == "" {
		return
	}
	if !a.peers.SendToPeer(ev.Peer, env) {
		a.bus.Publish(TopicSendError, SendErrorEvent{
			Error: "That client is not connected",
			Peer:  ev.Peer,
		})
	}
}

// RawMessage is the shape a catch-all "message" event's payload is inspected
// as: a destination (string or list of strings) plus the message itself.
type RawMessage struct {
	Destination any
	Envelope    *message.Envelope
}

func (a *Adapter) handleRawMessage(payload any) {
	raw, ok := payload.(RawMessage)
	if !ok || raw.Envelope == nil {
		return
	}
	for _, peer := range destinations(raw.Destination) {
		if !a.peers.KnownPeer(peer) {
			continue
		}
		bm, err := message.DecodeBusMessage(raw.Envelope.Payload)
		if err != nil {
			continue
		}
		if bm.Context == nil {
			bm.Context = &message.Context{}
		}
		bm.Context.Source = "hive"
		payload, err := message.EncodeBusMessage(bm)
		if err != nil {
			continue
		}
		env := &message.Envelope{
			MsgType:     message.TypeBus,
			Payload:     payload,
			TargetPeers: []string{peer},
		}
		a.peers.SendToPeer(peer, env)
	}
}

func destinations(d any) []string {
	switch v := d.(type) {
	case string:
		return []string{v}
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// NotifyConnect publishes hive.client.connect.
func (a *Adapter) NotifyConnect(key, sessionID string) {
	a.bus.Publish(TopicClientConnect, ConnectEvent{Key: key, SessionID: sessionID})
}

// NotifyDisconnect publishes hive.client.disconnect.
func (a *Adapter) NotifyDisconnect(key string) {
	a.bus.Publish(TopicClientDisconnect, DisconnectEvent{Key: key})
}

// NotifyConnectionError publishes hive.client.connection.error.
func (a *Adapter) NotifyConnectionError(errMsg, peer string) {
	a.bus.Publish(TopicConnectionError, ConnectionErrorEvent{Error: errMsg, Peer: peer})
}

// NotifyUpstream publishes hive.send.upstream carrying the unpacked payload.
func (a *Adapter) NotifyUpstream(env *message.Envelope) {
	a.bus.Publish(TopicSendUpstream, UpstreamEvent{Payload: env})
}
