package listener

import (
	"encoding/json"
	"sync/atomic"

	"github.com/jarbas-hive/hivemind-go/conn"
	"github.com/jarbas-hive/hivemind-go/crypto/envelope"
	"github.com/jarbas-hive/hivemind-go/crypto/handshake"
	"github.com/jarbas-hive/hivemind-go/hiveerrors"
	"github.com/jarbas-hive/hivemind-go/identity"
	"github.com/jarbas-hive/hivemind-go/message"
	"github.com/jarbas-hive/hivemind-go/observability"
)

// Accept validates apiKey against the client store, registers a new session
// under sender, and sends the HELLO/HANDSHAKE-request pair that opens the
// Accepted -> Greeted -> Handshaking transition. The caller owns reading
// frames off the transport and feeding them to HandleFrame.
func (l *Listener) Accept(useragent, apiKey string, sender Sender) (SessionHandle, error) {
	client, err := l.store.GetByKey(apiKey)
	if err != nil {
		l.obs.Accept(observability.AcceptResultStoreError)
		return nil, hiveerrors.Wrap(hiveerrors.PathListener, hiveerrors.StageAccept, hiveerrors.CodeStoreFailure, err)
	}
	if client == nil || client.IsTombstone() {
		l.obs.Accept(observability.AcceptResultInvalidKey)
		l.adapter.NotifyConnectionError("invalid access key", useragent)
		return nil, hiveerrors.Wrap(hiveerrors.PathListener, hiveerrors.StageAccept, hiveerrors.CodeInvalidAccessKey, nil)
	}
	if l.cfg.RequireCrypto && !l.cfg.HandshakeEnabled && len(client.CryptoKey) != envelope.KeyLen {
		l.obs.Accept(observability.AcceptResultProtocolError)
		l.adapter.NotifyConnectionError("protocol error", useragent)
		return nil, hiveerrors.Wrap(hiveerrors.PathListener, hiveerrors.StageAccept, hiveerrors.CodeProtocolRequirement, nil)
	}

	peerID := identity.PeerID(useragent, client.ClientID, client.Name, "default")
	c := conn.New(peerID, useragent)
	c.Client = client.Clone()
	sess := &session{c: c, sender: sender}

	// A pre-shared key skips key agreement entirely: the record's crypto_key
	// becomes the session key under the server's first-preference cipher and
	// encoding, and the peer may speak encrypted frames right away. A later
	// HANDSHAKE still rotates it.
	presharedKey := len(client.CryptoKey) == envelope.KeyLen
	if presharedKey {
		var key [envelope.KeyLen]byte
		copy(key[:], client.CryptoKey)
		c.SetCrypto(l.defaultCipher(), l.defaultEncoding(), key, l.cfg.Binarize)
	}

	l.register(sess)
	go l.pump(sess)
	l.obs.Accept(observability.AcceptResultOK)
	l.obs.ConnCount(atomic.AddInt64(&l.connCnt, 1))
	l.log.WithPeer(c.PeerID).Debugf("accepted connection %s", c.ConnID)

	hello, err := json.Marshal(handshake.HelloPayload{
		PublicKey: l.node.PublicKeyB64(),
		Peer:      peerID,
		NodeID:    l.node.NodeID,
	})
	if err != nil {
		l.closeSession(sess, observability.CloseReasonTransport)
		return nil, err
	}
	if err := l.sendEnvelope(sess, &message.Envelope{MsgType: message.TypeHello, Payload: hello}, true); err != nil {
		l.closeSession(sess, observability.CloseReasonTransport)
		return nil, err
	}
	c.SetState(conn.Greeted)

	if presharedKey || !l.cfg.HandshakeEnabled {
		c.SetState(conn.Authenticated)
		sess.notifiedConn = true
		l.notifyConnect(sess)
		if !l.cfg.HandshakeEnabled {
			return sess, nil
		}
	}

	req := handshake.NewRequest(len(client.CryptoKey) > 0, client.Password != "",
		l.cfg.RequireCrypto, true, l.cfg.Binarize, l.cfg.AllowedEncodings, l.cfg.AllowedCiphers)
	reqPayload, err := json.Marshal(req)
	if err != nil {
		l.closeSession(sess, observability.CloseReasonTransport)
		return nil, err
	}
	if err := l.sendEnvelope(sess, &message.Envelope{MsgType: message.TypeHandshake, Payload: reqPayload}, true); err != nil {
		l.closeSession(sess, observability.CloseReasonTransport)
		return nil, err
	}
	if !presharedKey {
		c.SetState(conn.Handshaking)
	}
	return sess, nil
}

func (l *Listener) defaultCipher() envelope.Cipher {
	if len(l.cfg.AllowedCiphers) > 0 {
		return envelope.Cipher(l.cfg.AllowedCiphers[0])
	}
	return envelope.CipherAESGCM
}

func (l *Listener) defaultEncoding() envelope.Encoding {
	if len(l.cfg.AllowedEncodings) > 0 {
		return envelope.Encoding(l.cfg.AllowedEncodings[0])
	}
	return envelope.EncodingJSONB64
}

// HandleFrame is the read-path entrypoint: decode (and decrypt, if the
// connection has negotiated crypto) one inbound wire frame and dispatch it.
func (l *Listener) HandleFrame(handle SessionHandle, data []byte, isBinary bool) {
	sess, ok := handle.(*session)
	if !ok || sess == nil {
		return
	}
	l.touchLastSeen(sess)
	env, err := l.decodeIncoming(sess, data, isBinary)
	if err != nil {
		// A frame that fails AEAD verification (or cannot be parsed) is
		// dropped on its own; only key and protocol failures close the
		// connection.
		result := observability.DispatchResultUnroutable
		if hiveerrors.ClassifyDecodeErr(err) == hiveerrors.CodeAuthenticationError {
			result = observability.DispatchResultAuthError
		}
		l.log.WithPeer(sess.c.PeerID).Warnf("dropping unreadable frame: %v", err)
		l.obs.Dispatch("", result)
		return
	}
	l.dispatch(sess, env)
}

func (l *Listener) decodeIncoming(sess *session, data []byte, isBinary bool) (*message.Envelope, error) {
	cryptoOn := sess.c.CryptoEnabled()
	switch {
	case isBinary && cryptoOn:
		plain, err := sess.c.OpenBinaryFrame(data)
		if err != nil {
			return nil, hiveerrors.Wrap(hiveerrors.PathEnvelope, hiveerrors.StageDecrypt, hiveerrors.CodeAuthenticationError, err)
		}
		return message.DecodeBinaryFrame(plain)
	case isBinary && !cryptoOn:
		return message.DecodeBinaryFrame(data)
	case !isBinary && cryptoOn:
		jf, err := envelope.UnmarshalJSONFrame(data)
		if err == nil && jf.Ciphertext != "" {
			plain, oerr := sess.c.Open(jf)
			if oerr != nil {
				return nil, hiveerrors.Wrap(hiveerrors.PathEnvelope, hiveerrors.StageDecrypt, hiveerrors.CodeAuthenticationError, oerr)
			}
			return message.Decode(plain)
		}
		// HELLO and HANDSHAKE remain legal in the clear even after a key is
		// active (a pre-shared-key peer rotating, or a federated node's own
		// greeting).
		env, derr := message.Decode(data)
		if derr == nil && (env.MsgType == message.TypeHello || env.MsgType == message.TypeHandshake) {
			return env, nil
		}
		return nil, hiveerrors.Wrap(hiveerrors.PathEnvelope, hiveerrors.StageDecrypt, hiveerrors.CodeMalformedEnvelope, derr)
	default:
		return message.Decode(data)
	}
}

// Disconnect tears down the session behind handle, for a transport whose
// read loop exited (the peer closed the socket, or a read error occurred)
// rather than one of the listener's own internal failure paths.
func (l *Listener) Disconnect(handle SessionHandle, reason observability.CloseReason) {
	if sess, ok := handle.(*session); ok && sess != nil {
		l.closeSession(sess, reason)
	}
}

func (l *Listener) notifyConnect(sess *session) {
	if sess.c.Client == nil {
		return
	}
	l.adapter.NotifyConnect(sess.c.Client.APIKey, sess.c.Session.SessionID)
}
