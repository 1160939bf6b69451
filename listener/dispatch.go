package listener

import (
	"encoding/json"

	"github.com/jarbas-hive/hivemind-go/binarydata"
	"github.com/jarbas-hive/hivemind-go/conn"
	"github.com/jarbas-hive/hivemind-go/crypto/envelope"
	"github.com/jarbas-hive/hivemind-go/crypto/handshake"
	"github.com/jarbas-hive/hivemind-go/message"
	"github.com/jarbas-hive/hivemind-go/observability"
)

// dispatch routes one decoded envelope by its outer type.
func (l *Listener) dispatch(sess *session, env *message.Envelope) {
	if l.cfg.RequireCrypto && !sess.c.CryptoEnabled() &&
		env.MsgType != message.TypeHello && env.MsgType != message.TypeHandshake {
		// Only HELLO and HANDSHAKE may travel in the clear when crypto is
		// required; anything else before a key is negotiated is a protocol
		// violation.
		l.adapter.NotifyConnectionError("protocol error", sess.c.PeerID)
		l.obs.Dispatch(string(env.MsgType), observability.DispatchResultUnauthorized)
		l.closeSession(sess, observability.CloseReasonProtocolRequired)
		return
	}
	switch env.MsgType {
	case message.TypeHello:
		l.dispatchHello(sess, env)
	case message.TypeHandshake:
		l.dispatchHandshake(sess, env)
	case message.TypeBus:
		l.dispatchBus(sess, env)
	case message.TypeSharedBus:
		l.dispatchSharedBus(sess, env)
	case message.TypeBroadcast, message.TypePropagate, message.TypeEscalate:
		l.dispatchFanOut(sess, env)
	case message.TypeIntercom:
		l.dispatchIntercom(sess, env)
	case message.TypeBinary:
		l.dispatchBinary(sess, env)
	default:
		if l.OnUnknownMessage != nil {
			l.OnUnknownMessage(sess.c.PeerID, env)
			return
		}
		l.log.WithPeer(sess.c.PeerID).Warnf("unknown message type %q", env.MsgType)
		l.obs.Dispatch(string(env.MsgType), observability.DispatchResultUnknownMsgType)
	}
}

// dispatchBus authorizes a BUS envelope against the client's allowed_types,
// folds its session context into the connection's
// tracked session state, and republishes the inner application message on
// the agent bus under its own type as topic.
func (l *Listener) dispatchBus(sess *session, env *message.Envelope) {
	if sess.c.State() != conn.Authenticated {
		l.obs.Dispatch(string(env.MsgType), observability.DispatchResultUnauthorized)
		return
	}
	if err := l.store.Sync(); err != nil {
		l.log.WithPeer(sess.c.PeerID).Warnf("store sync failed: %v", err)
	}
	bm, err := message.DecodeBusMessage(env.Payload)
	if err != nil {
		l.obs.Dispatch(string(env.MsgType), observability.DispatchResultUnroutable)
		return
	}
	if !sess.c.Authorize(bm.Type) {
		l.log.WithPeer(sess.c.PeerID).Warnf("unauthorized message type %q", bm.Type)
		l.obs.Dispatch(bm.Type, observability.DispatchResultUnauthorized)
		return
	}

	// Synchronize the connection's session with the message's: a message
	// carrying the placeholder id inherits the connection's session, any
	// other id becomes the connection's session (re-keying the peer table).
	ms := bm.Context.Session
	if ms.SessionID == "" || ms.SessionID == "default" {
		ms.SessionID = sess.c.Session.SessionID
	} else if ms.SessionID != sess.c.Session.SessionID {
		l.adoptSessionID(sess, ms.SessionID)
	}
	if ms.SiteID != "" {
		sess.c.Session.SiteID = ms.SiteID
	} else if sess.c.Session.SiteID != "" {
		ms.SiteID = sess.c.Session.SiteID
	}
	bm.Context.Session.BlacklistedSkills = unionStrings(bm.Context.Session.BlacklistedSkills, sess.c.Session.BlacklistedSkills)
	bm.Context.Session.BlacklistedIntents = unionStrings(bm.Context.Session.BlacklistedIntents, sess.c.Session.BlacklistedIntents)
	if sess.c.Client != nil {
		bm.Context.Session.BlacklistedSkills = unionStrings(bm.Context.Session.BlacklistedSkills, sess.c.Client.SkillBlacklist)
		bm.Context.Session.BlacklistedIntents = unionStrings(bm.Context.Session.BlacklistedIntents, sess.c.Client.IntentBlacklist)
	}
	switch {
	case bm.Type == "speak":
		bm.Context.Destination = []string{"audio"}
	case bm.Context.Destination == nil:
		bm.Context.Destination = "skills"
	}
	bm.Context.Peer = sess.c.PeerID
	bm.Context.Source = sess.c.PeerID

	l.bus.Publish(bm.Type, bm)
	l.obs.Dispatch(bm.Type, observability.DispatchResultOK)
	l.touchLastSeen(sess)
}

// dispatchHello accepts an inbound HELLO from an already-connected peer (a
// federated node completing its own side of the handshake): it records the
// peer's site id and public key, and, if the peer supplied a session id
// other than "default", adopts it and re-keys the peer table entry.
func (l *Listener) dispatchHello(sess *session, env *message.Envelope) {
	var hello handshake.HelloPayload
	if err := json.Unmarshal(env.Payload, &hello); err != nil {
		l.obs.Dispatch(string(env.MsgType), observability.DispatchResultUnroutable)
		return
	}
	if hello.SiteID != "" {
		sess.c.Session.SiteID = hello.SiteID
	}
	if hello.PublicKey != "" {
		if peerPub, err := handshake.DecodePublicKey(hello.PublicKey); err == nil {
			sess.peerPubKey = peerPub
		}
	}
	l.adoptSessionID(sess, hello.SessionID)
	l.obs.Dispatch(string(env.MsgType), observability.DispatchResultOK)
}

// dispatchSharedBus is observational only: it never forwards the envelope,
// it just notifies OnSharedBus if a caller installed one.
func (l *Listener) dispatchSharedBus(sess *session, env *message.Envelope) {
	if l.OnSharedBus != nil {
		l.OnSharedBus(sess.c.PeerID, env)
	}
	l.obs.Dispatch(string(env.MsgType), observability.DispatchResultOK)
}

// dispatchFanOut implements the three directional fan-out primitives:
// BROADCAST (downstream only), PROPAGATE (downstream and upstream), and
// ESCALATE (upstream only). A non-capable client is rejected and reported
// to OnIllegalFanOut; a route that already passed through this node is
// dropped rather than re-forwarded.
func (l *Listener) dispatchFanOut(sess *session, env *message.Envelope) {
	if sess.c.State() != conn.Authenticated {
		l.obs.Dispatch(string(env.MsgType), observability.DispatchResultUnauthorized)
		return
	}
	if !sess.c.AuthorizeFanOut(env.MsgType) {
		l.obs.Dispatch(string(env.MsgType), observability.DispatchResultIllegalFanOut)
		if l.OnIllegalFanOut != nil {
			l.OnIllegalFanOut(sess.c.PeerID, env)
		}
		return
	}
	if message.RouteContainsSource(env.Route, l.node.NodeID) {
		l.obs.Dispatch(string(env.MsgType), observability.DispatchResultLoopDropped)
		return
	}

	targets := l.fanOutTargets(env.TargetSiteID, sess.c.PeerID)
	targetIDs := make([]string, len(targets))
	for i, t := range targets {
		targetIDs[i] = t.c.PeerID
	}
	env.Route = message.AppendHop(env.Route, l.node.NodeID, targetIDs)
	env.TargetPeers = message.RemoveTarget(env.TargetPeers, sess.c.PeerID)
	env.SourcePeer = l.node.NodeID

	// The payload of a fan-out primitive is itself an envelope. Unpack it,
	// replace its route with the accumulated hops, stamp this node as its
	// source, and drop the originator from its targets. The unpacked form is
	// what goes upstream and what is dispatched locally on a site-id match.
	// Peers receive it inside the directional wrapper (same updated payload):
	// delivering the bare inner would strip the msg_type and route the next
	// node needs to continue or suppress the flood.
	inner, err := message.Decode(env.Payload)
	if err != nil || inner.MsgType == "" {
		inner = nil
	} else {
		inner.Route = env.Route
		inner.SourcePeer = l.node.NodeID
		inner.TargetPeers = message.RemoveTarget(inner.TargetPeers, sess.c.PeerID)
		if b, merr := message.Encode(inner); merr == nil {
			env.Payload = b
		}
	}
	upstream := env
	if inner != nil {
		upstream = inner
	}

	switch env.MsgType {
	case message.TypeBroadcast:
		for _, t := range targets {
			l.sendGated(t, env)
		}
		l.obs.FanOut(observability.FanOutBroadcast, len(targets))
	case message.TypePropagate:
		for _, t := range targets {
			l.sendGated(t, env)
		}
		l.obs.FanOut(observability.FanOutPropagate, len(targets))
		l.adapter.NotifyUpstream(upstream)
	case message.TypeEscalate:
		l.adapter.NotifyUpstream(upstream)
		l.obs.FanOut(observability.FanOutEscalate, 1)
	}
	if inner != nil && inner.MsgType == message.TypeBus &&
		inner.TargetSiteID != "" && inner.TargetSiteID == l.node.SiteID {
		l.dispatchBus(sess, inner)
	}
	l.obs.Dispatch(string(env.MsgType), observability.DispatchResultOK)
}

// fanOutTargets snapshots the authenticated peers a fan-out should reach:
// everyone but exclude, restricted to siteID when it is set.
func (l *Listener) fanOutTargets(siteID, exclude string) []*session {
	l.mu.RLock()
	defer l.mu.RUnlock()
	targets := make([]*session, 0, len(l.peers))
	for id, sess := range l.peers {
		if id == exclude || sess.c.State() != conn.Authenticated {
			continue
		}
		if siteID != "" && sess.c.Session.SiteID != siteID {
			continue
		}
		targets = append(targets, sess)
	}
	return targets
}

// dispatchIntercom either floods an INTERCOM envelope not addressed to this
// node toward the node's other peers, or, when it is addressed to this
// node's public key, decrypts its nested asymmetric envelope and re-dispatches
// the message it carries.
func (l *Listener) dispatchIntercom(sess *session, env *message.Envelope) {
	if env.TargetPublicKey != "" && env.TargetPublicKey != l.node.PublicKeyB64() {
		if message.RouteContainsSource(env.Route, l.node.NodeID) {
			l.obs.Dispatch(string(env.MsgType), observability.DispatchResultLoopDropped)
			return
		}
		env.Route = message.AppendHop(env.Route, l.node.NodeID, nil)
		l.FanOut(env, sess.c.PeerID)
		l.obs.Dispatch(string(env.MsgType), observability.DispatchResultOK)
		return
	}

	senderPubB64, _ := env.Metadata["sender_public_key"].(string)
	if senderPubB64 == "" {
		// Not asymmetrically wrapped: the payload is a plain nested envelope.
		inner, err := message.Decode(env.Payload)
		if err != nil || inner.MsgType == "" {
			l.obs.Dispatch(string(env.MsgType), observability.DispatchResultUnroutable)
			return
		}
		l.obs.Dispatch(string(env.MsgType), observability.DispatchResultOK)
		l.dispatch(sess, inner)
		return
	}
	senderPub, err := handshake.DecodePublicKey(senderPubB64)
	if err != nil {
		l.obs.Dispatch(string(env.MsgType), observability.DispatchResultUnroutable)
		return
	}
	key, err := handshake.Asymmetric(l.node.PrivateKey, senderPub)
	if err != nil {
		l.obs.Dispatch(string(env.MsgType), observability.DispatchResultUnroutable)
		return
	}
	jf, err := envelope.UnmarshalJSONFrame(env.Payload)
	if err != nil {
		l.obs.Dispatch(string(env.MsgType), observability.DispatchResultUnroutable)
		return
	}
	enc := envelope.EncodingJSONB64
	if s, ok := env.Metadata["encoding"].(string); ok && s != "" {
		enc = envelope.Encoding(s)
	}
	cph := envelope.CipherAESGCM
	if s, ok := env.Metadata["cipher"].(string); ok && s != "" {
		cph = envelope.Cipher(s)
	}
	plain, err := envelope.OpenJSON(cph, enc, key[:], jf)
	if err != nil {
		l.obs.Dispatch(string(env.MsgType), observability.DispatchResultAuthError)
		return
	}
	inner, err := message.Decode(plain)
	if err != nil {
		l.obs.Dispatch(string(env.MsgType), observability.DispatchResultUnroutable)
		return
	}
	l.obs.Dispatch(string(env.MsgType), observability.DispatchResultOK)
	l.dispatch(sess, inner)
}

// dispatchBinary routes a BINARY envelope's raw payload to the configured
// binarydata.Handler off the caller's goroutine, so a slow handler (writing
// a large file, say) never stalls the connection's read loop.
func (l *Listener) dispatchBinary(sess *session, env *message.Envelope) {
	if sess.c.State() != conn.Authenticated {
		l.obs.Dispatch(string(env.MsgType), observability.DispatchResultUnauthorized)
		return
	}
	info := binarydata.ConnInfo{PeerID: sess.c.PeerID, SiteID: sess.c.Session.SiteID}
	if sess.c.Client != nil {
		info.APIKey = sess.c.Client.APIKey
	}
	data := append([]byte(nil), env.Payload...)
	binType, meta := env.BinaryType, env.Metadata
	go func() {
		if !binarydata.Dispatch(l.binH, binType, data, meta, info) {
			l.log.WithPeer(info.PeerID).Warnf("unknown binary_type %q, dropped", binType)
			l.obs.Dispatch(string(env.MsgType), observability.DispatchResultUnknownBinaryType)
			return
		}
		l.obs.Dispatch(string(env.MsgType), observability.DispatchResultOK)
	}()
}
