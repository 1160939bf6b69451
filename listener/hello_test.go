package listener

import (
	"encoding/json"
	"testing"

	"github.com/jarbas-hive/hivemind-go/agentbus"
	"github.com/jarbas-hive/hivemind-go/crypto/envelope"
	"github.com/jarbas-hive/hivemind-go/crypto/handshake"
	"github.com/jarbas-hive/hivemind-go/identity"
	"github.com/jarbas-hive/hivemind-go/message"
	"github.com/jarbas-hive/hivemind-go/store"
)

func TestHandshakeAdoptsNonDefaultSessionID(t *testing.T) {
	l, st := newTestListener(t, DefaultConfig())
	sess, _ := acceptClient(t, l, st, store.NewClient(0, "key-20", "session-host"))
	oldPeerID := sess.c.PeerID

	peer1, err := identity.New("peer-1", "site-1")
	if err != nil {
		t.Fatalf("identity.New: %v", err)
	}
	req := &handshake.Message{
		PubKey:    peer1.PublicKeyB64(),
		SessionID: "s1",
		Ciphers:   []string{string(envelope.CipherChaCha20Poly1305)},
		Encodings: []string{string(envelope.EncodingJSONB64)},
	}
	payload, _ := json.Marshal(req)
	l.dispatch(sess, &message.Envelope{MsgType: message.TypeHandshake, Payload: payload})

	if sess.c.Session.SessionID != "s1" {
		t.Fatalf("expected session id to be adopted, got %q", sess.c.Session.SessionID)
	}
	if sess.c.PeerID == oldPeerID {
		t.Fatalf("expected the peer id to change once the session id was adopted")
	}

	l.mu.RLock()
	_, stillUnderOld := l.peers[oldPeerID]
	_, nowUnderNew := l.peers[sess.c.PeerID]
	l.mu.RUnlock()
	if stillUnderOld {
		t.Fatalf("expected the peer table to drop the old peer id entry")
	}
	if !nowUnderNew {
		t.Fatalf("expected the peer table to hold an entry under the new peer id")
	}
}

func TestHandshakeKeepsDefaultSessionIDWhenUnset(t *testing.T) {
	l, st := newTestListener(t, DefaultConfig())
	sess, _ := acceptClient(t, l, st, store.NewClient(0, "key-21", "no-session-host"))
	oldPeerID := sess.c.PeerID

	peer1, err := identity.New("peer-1", "site-1")
	if err != nil {
		t.Fatalf("identity.New: %v", err)
	}
	req := &handshake.Message{PubKey: peer1.PublicKeyB64()}
	payload, _ := json.Marshal(req)
	l.dispatch(sess, &message.Envelope{MsgType: message.TypeHandshake, Payload: payload})

	if sess.c.Session.SessionID != "default" {
		t.Fatalf("expected session id to remain \"default\", got %q", sess.c.Session.SessionID)
	}
	if sess.c.PeerID != oldPeerID {
		t.Fatalf("expected peer id to be unchanged without an explicit session id")
	}
}

func TestDispatchHello_AdoptsSiteIDAndSessionID(t *testing.T) {
	l, st := newTestListener(t, noHandshakeConfig())
	sess, _ := acceptClient(t, l, st, store.NewClient(0, "key-22", "hello-host"))

	remote, err := identity.New("remote-node", "site-9")
	if err != nil {
		t.Fatalf("identity.New: %v", err)
	}
	hello := handshake.HelloPayload{
		PublicKey: remote.PublicKeyB64(),
		Peer:      "remote-peer",
		NodeID:    "remote-node",
		SessionID: "s2",
		SiteID:    "kitchen",
	}
	payload, err := json.Marshal(hello)
	if err != nil {
		t.Fatalf("json.Marshal: %v", err)
	}
	l.dispatch(sess, &message.Envelope{MsgType: message.TypeHello, Payload: payload})

	if sess.c.Session.SiteID != "kitchen" {
		t.Fatalf("expected site id to be adopted, got %q", sess.c.Session.SiteID)
	}
	if sess.c.Session.SessionID != "s2" {
		t.Fatalf("expected session id to be adopted, got %q", sess.c.Session.SessionID)
	}
	if sess.peerPubKey == nil {
		t.Fatalf("expected the peer's public key to be recorded")
	}
}

func TestDispatchHello_MalformedPayloadIsDropped(t *testing.T) {
	l, st := newTestListener(t, noHandshakeConfig())
	sess, _ := acceptClient(t, l, st, store.NewClient(0, "key-23", "bad-hello-host"))

	l.dispatch(sess, &message.Envelope{MsgType: message.TypeHello, Payload: json.RawMessage(`{not json`)})

	if sess.c.Session.SessionID != "default" {
		t.Fatalf("expected a malformed HELLO to leave the session untouched, got %q", sess.c.Session.SessionID)
	}
}

func TestHandshakeEmptyIntersectionClosesWithProtocolError(t *testing.T) {
	l, st := newTestListener(t, DefaultConfig())
	sess, _ := acceptClient(t, l, st, store.NewClient(0, "key-24", "mismatched-host"))

	var events []agentbus.ConnectionErrorEvent
	l.bus.Subscribe(agentbus.TopicConnectionError, func(p any) {
		if ev, ok := p.(agentbus.ConnectionErrorEvent); ok {
			events = append(events, ev)
		}
	})

	peer1, err := identity.New("peer-1", "site-1")
	if err != nil {
		t.Fatalf("identity.New: %v", err)
	}
	req := &handshake.Message{
		PubKey:  peer1.PublicKeyB64(),
		Ciphers: []string{"ROT13"},
	}
	payload, _ := json.Marshal(req)
	l.dispatch(sess, &message.Envelope{MsgType: message.TypeHandshake, Payload: payload})

	if len(events) != 1 || events[0].Error != "protocol error" {
		t.Fatalf("expected one protocol-error connection.error, got %+v", events)
	}
	if !sess.c.Closed() {
		t.Fatalf("expected an empty cipher intersection to close the connection")
	}
}
