package listener

import (
	"encoding/base64"
	"strings"
	"sync"
	"time"

	"github.com/jarbas-hive/hivemind-go/agentbus"
	"github.com/jarbas-hive/hivemind-go/binarydata"
	"github.com/jarbas-hive/hivemind-go/conn"
	"github.com/jarbas-hive/hivemind-go/crypto/envelope"
	"github.com/jarbas-hive/hivemind-go/hiveerrors"
	"github.com/jarbas-hive/hivemind-go/hivelog"
	"github.com/jarbas-hive/hivemind-go/identity"
	"github.com/jarbas-hive/hivemind-go/message"
	"github.com/jarbas-hive/hivemind-go/observability"
	"github.com/jarbas-hive/hivemind-go/store"
)

// Config holds the server-side handshake/crypto negotiation policy.
type Config struct {
	Binarize         bool
	AllowedEncodings []string
	AllowedCiphers   []string
	HandshakeEnabled bool
	RequireCrypto    bool
	// MaxQueueDepth bounds a connection's outgoing write queue; 0 means the
	// package default (256).
	MaxQueueDepth int
}

// DefaultConfig returns the default negotiation policy: binarize off, the
// full seven-entry encoding preference list, and AES-GCM preferred over
// ChaCha20-Poly1305.
func DefaultConfig() Config {
	return Config{
		Binarize: false,
		AllowedEncodings: []string{
			string(envelope.EncodingJSONB64), string(envelope.EncodingJSONURLSafeB64),
			string(envelope.EncodingJSONB91), string(envelope.EncodingJSONZ85B),
			string(envelope.EncodingJSONZ85P), string(envelope.EncodingJSONB32),
			string(envelope.EncodingJSONHex),
		},
		AllowedCiphers:   []string{string(envelope.CipherAESGCM), string(envelope.CipherChaCha20Poly1305)},
		HandshakeEnabled: true,
		RequireCrypto:    true,
		MaxQueueDepth:    256,
	}
}

// Listener is the core per-broker state machine owner: it holds the shared
// peer table, the client record store, the agent-bus adapter, the binary
// handler, and every accepted connection's session state.
type Listener struct {
	node    *identity.Node
	store   store.Store
	bus     *agentbus.Bus
	adapter *agentbus.Adapter
	binH    binarydata.Handler
	cfg     Config
	obs     observability.ListenerObserver
	log     *hivelog.Logger

	// OnIllegalFanOut, when set, is invoked with the offending envelope
	// whenever a non-admin BROADCAST or a capability-less PROPAGATE/ESCALATE
	// is rejected.
	OnIllegalFanOut func(peerID string, env any)
	// OnSharedBus, when set, is invoked for every SHARED_BUS envelope.
	// Observational only; it does not affect delivery.
	OnSharedBus func(peerID string, env any)
	// OnUnknownMessage, when set, receives envelopes of a type the dispatch
	// table has no handler for (the reserved PING/QUERY/CASCADE families).
	// Without it such envelopes are logged and dropped.
	OnUnknownMessage func(peerID string, env *message.Envelope)

	mu      sync.RWMutex
	peers   map[string]*session
	connCnt int64
}

// New constructs a Listener and attaches its agent-bus adapter.
func New(node *identity.Node, st store.Store, bus *agentbus.Bus, binH binarydata.Handler, cfg Config, obs observability.ListenerObserver, log *hivelog.Logger) *Listener {
	if obs == nil {
		obs = observability.Noop
	}
	if log == nil {
		log = hivelog.Default()
	}
	if binH == nil {
		binH = &binarydata.NoopHandler{}
	}
	l := &Listener{
		node:  node,
		store: st,
		bus:   bus,
		binH:  binH,
		cfg:   cfg,
		obs:   obs,
		log:   log,
		peers: make(map[string]*session),
	}
	l.adapter = agentbus.Attach(bus, l)
	return l
}

// DecodeAcceptURI decodes the accept-URI authorization token:
// base64(standard) of "useragent:access_key".
func DecodeAcceptURI(token string) (useragent, apiKey string, err error) {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return "", "", hiveerrors.Wrap(hiveerrors.PathListener, hiveerrors.StageAccept, hiveerrors.CodeMalformedEnvelope, err)
	}
	parts := strings.SplitN(string(raw), ":", 2)
	if len(parts) != 2 {
		return "", "", hiveerrors.Wrap(hiveerrors.PathListener, hiveerrors.StageAccept, hiveerrors.CodeMalformedEnvelope, nil)
	}
	return parts[0], parts[1], nil
}

// SendToPeer implements agentbus.PeerSender. A session that has not reached
// Authenticated is reported as not connected.
func (l *Listener) SendToPeer(peer string, env *message.Envelope) bool {
	l.mu.RLock()
	sess := l.peers[peer]
	l.mu.RUnlock()
	if sess == nil || sess.c.State() != conn.Authenticated {
		return false
	}
	l.sendGated(sess, env)
	return true
}

// FanOut implements agentbus.PeerSender: deliver env to every registered
// peer that has reached Authenticated, except exclude.
func (l *Listener) FanOut(env *message.Envelope, exclude string) {
	for _, sess := range l.fanOutTargets("", exclude) {
		l.sendGated(sess, env)
	}
}

// KnownPeer implements agentbus.PeerSender.
func (l *Listener) KnownPeer(peer string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.peers[peer]
	return ok
}

// PeerCount returns the number of sessions in the peer table, including those
// registered at Accept that have not yet authenticated.
func (l *Listener) PeerCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.peers)
}

func (l *Listener) register(sess *session) {
	l.mu.Lock()
	l.peers[sess.c.PeerID] = sess
	l.mu.Unlock()
	l.obs.PeerTableSize(l.PeerCount())
}

func (l *Listener) reregister(sess *session, newPeerID string) {
	l.mu.Lock()
	delete(l.peers, sess.c.PeerID)
	sess.c.PeerID = newPeerID
	l.peers[newPeerID] = sess
	l.mu.Unlock()
}

func (l *Listener) unregister(sess *session) {
	l.mu.Lock()
	if l.peers[sess.c.PeerID] == sess {
		delete(l.peers, sess.c.PeerID)
	}
	l.mu.Unlock()
	l.obs.PeerTableSize(l.PeerCount())
}

func (l *Listener) closeSession(sess *session, reason observability.CloseReason) {
	l.unregister(sess)
	sess.c.Close()
	_ = sess.sender.Close()
	l.obs.Close(reason)
	if sess.c.Client != nil && sess.notifiedConn {
		l.adapter.NotifyDisconnect(sess.c.Client.APIKey)
	}
}

// Close tears down every currently registered session, for graceful shutdown.
func (l *Listener) Close() {
	l.mu.RLock()
	all := make([]*session, 0, len(l.peers))
	for _, sess := range l.peers {
		all = append(all, sess)
	}
	l.mu.RUnlock()
	for _, sess := range all {
		l.closeSession(sess, observability.CloseReasonShutdown)
	}
}

func (l *Listener) touchLastSeen(sess *session) {
	now := time.Now()
	sess.c.TouchLastSeen(now)
	if sess.c.Client == nil {
		return
	}
	sess.c.Client.LastSeen = now.Unix()
	if err := l.store.Update(sess.c.Client); err != nil {
		l.log.WithPeer(sess.c.PeerID).Warnf("failed to persist last_seen: %v", err)
	}
}

func unionStrings(base, extra []string) []string {
	seen := make(map[string]struct{}, len(base))
	out := append([]string(nil), base...)
	for _, b := range base {
		seen[b] = struct{}{}
	}
	for _, e := range extra {
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	return out
}
