package listener

import (
	"encoding/json"

	"github.com/jarbas-hive/hivemind-go/conn"
	"github.com/jarbas-hive/hivemind-go/crypto/envelope"
	"github.com/jarbas-hive/hivemind-go/crypto/handshake"
	"github.com/jarbas-hive/hivemind-go/hiveerrors"
	"github.com/jarbas-hive/hivemind-go/identity"
	"github.com/jarbas-hive/hivemind-go/message"
	"github.com/jarbas-hive/hivemind-go/observability"
)

// adoptSessionID makes a peer-supplied session id the connection's session:
// a session id other than the "default" placeholder becomes the client's
// session and the connection is re-keyed in the peer table under its new
// peer id.
func (l *Listener) adoptSessionID(sess *session, sessionID string) {
	if sessionID == "" || sessionID == "default" || sessionID == sess.c.Session.SessionID {
		return
	}
	sess.c.Session.SessionID = sessionID
	clientID := int64(0)
	name := ""
	if sess.c.Client != nil {
		clientID = sess.c.Client.ClientID
		name = sess.c.Client.Name
	}
	newPeerID := identity.PeerID(sess.c.UserAgent, clientID, name, sessionID)
	l.reregister(sess, newPeerID)
}

// negotiate resolves the symmetric cipher and text encoding for a handshake
// reply: the peer's preference list intersected with this listener's allowed
// set, falling back to the server's own list when the peer sent no
// preference (a bare asymmetric reply carries only a public key).
func (l *Listener) negotiate(msg *handshake.Message) (envelope.Cipher, envelope.Encoding, error) {
	cipherPref := msg.Ciphers
	if len(cipherPref) == 0 {
		cipherPref = l.cfg.AllowedCiphers
	}
	cipherStr, err := handshake.Negotiate(cipherPref, l.cfg.AllowedCiphers)
	if err != nil {
		return "", "", err
	}
	encPref := msg.Encodings
	if len(encPref) == 0 {
		encPref = l.cfg.AllowedEncodings
	}
	encStr, err := handshake.Negotiate(encPref, l.cfg.AllowedEncodings)
	if err != nil {
		return "", "", err
	}
	return envelope.Cipher(cipherStr), envelope.Encoding(encStr), nil
}

func (l *Listener) failHandshake(sess *session, msgType message.Type) {
	l.obs.Dispatch(string(msgType), observability.DispatchResultAuthError)
	l.closeSession(sess, observability.CloseReasonHandshakeFailed)
}

// dispatchHandshake completes either handshake form: asymmetric (the peer's
// HANDSHAKE reply carries its ECDH public key) or password-derived (it
// carries a JSONFrame whose Nonce field is the peer's plaintext challenge).
func (l *Listener) dispatchHandshake(sess *session, env *message.Envelope) {
	var msg handshake.Message
	if err := json.Unmarshal(env.Payload, &msg); err != nil || !msg.IsWellFormed() {
		l.failHandshake(sess, env.MsgType)
		return
	}
	cipher, enc, err := l.negotiate(&msg)
	if err != nil {
		if hiveerrors.ClassifyHandshakeErr(err) == hiveerrors.CodeProtocolRequirement {
			l.adapter.NotifyConnectionError("protocol error", sess.c.PeerID)
			l.obs.Dispatch(string(env.MsgType), observability.DispatchResultUnauthorized)
			l.closeSession(sess, observability.CloseReasonProtocolRequired)
			return
		}
		l.failHandshake(sess, env.MsgType)
		return
	}
	binarize := msg.Binarize || l.cfg.Binarize
	l.adoptSessionID(sess, msg.SessionID)

	if msg.PubKey != "" {
		peerPub, err := handshake.DecodePublicKey(msg.PubKey)
		if err != nil {
			l.failHandshake(sess, env.MsgType)
			return
		}
		key, err := handshake.Asymmetric(l.node.PrivateKey, peerPub)
		if err != nil {
			l.failHandshake(sess, env.MsgType)
			return
		}
		sess.peerPubKey = peerPub
		l.completeHandshake(sess, key, cipher, enc, binarize, observability.HandshakeKindAsymmetric, nil)
		return
	}

	if msg.Envelope == nil || sess.c.Client == nil || sess.c.Client.Password == "" {
		l.failHandshake(sess, env.MsgType)
		return
	}
	clientNonce, err := envelope.DecodeText(enc, msg.Envelope.Nonce)
	if err != nil {
		l.failHandshake(sess, env.MsgType)
		return
	}
	pctx := sess.pswdCtx
	if pctx == nil {
		pctx = handshake.NewPasswordContext(sess.c.Client.Password)
		sess.pswdCtx = pctx
	}
	serverNonce, err := pctx.Challenge()
	if err != nil {
		l.failHandshake(sess, env.MsgType)
		return
	}
	key, err := pctx.DeriveKey(clientNonce, serverNonce)
	if err != nil {
		l.failHandshake(sess, env.MsgType)
		return
	}
	serverNonceText, err := envelope.EncodeText(enc, serverNonce)
	if err != nil {
		l.failHandshake(sess, env.MsgType)
		return
	}
	sess.serverNonce = serverNonce
	l.completeHandshake(sess, key, cipher, enc, binarize, observability.HandshakeKindPassword,
		&envelope.JSONFrame{Nonce: serverNonceText})
}

// completeHandshake installs the negotiated symmetric parameters, replies
// with a HANDSHAKE ack (always sent in the clear: the peer needs it to
// derive or confirm the very key the ack is announcing), and fires the
// connect notification exactly once per session.
func (l *Listener) completeHandshake(sess *session, key [envelope.KeyLen]byte, cipher envelope.Cipher,
	enc envelope.Encoding, binarize bool, kind observability.HandshakeKind, ackExtra *envelope.JSONFrame) {
	sess.c.SetCrypto(cipher, enc, key, binarize)
	sess.c.SetState(conn.Authenticated)
	l.obs.HandshakeComplete(kind)

	ackMsg := handshake.Message{
		Cipher:    string(cipher),
		Encoding:  string(enc),
		Binarize:  binarize,
		SessionID: sess.c.Session.SessionID,
		Envelope:  ackExtra,
	}
	payload, err := json.Marshal(ackMsg)
	if err != nil {
		l.closeSession(sess, observability.CloseReasonHandshakeFailed)
		return
	}
	if err := l.sendEnvelope(sess, &message.Envelope{MsgType: message.TypeHandshake, Payload: payload}, true); err != nil {
		l.closeSession(sess, observability.CloseReasonTransport)
		return
	}
	if !sess.notifiedConn {
		sess.notifiedConn = true
		l.notifyConnect(sess)
	}
	l.obs.Dispatch(string(message.TypeHandshake), observability.DispatchResultOK)
}
