package listener

import (
	"github.com/jarbas-hive/hivemind-go/crypto/envelope"
	"github.com/jarbas-hive/hivemind-go/message"
	"github.com/jarbas-hive/hivemind-go/observability"
)

// sendGated applies the outgoing message_blacklist check for BUS envelopes,
// then encrypts/frames and enqueues env for sess's writer pump. It never
// blocks on I/O: it only appends to sess.c's queue.
func (l *Listener) sendGated(sess *session, env *message.Envelope) {
	if env.MsgType == message.TypeBus && sess.c.Client != nil {
		if bm, err := message.DecodeBusMessage(env.Payload); err == nil {
			for _, blocked := range sess.c.Client.MessageBlacklist {
				if blocked == bm.Type {
					l.log.WithPeer(sess.c.PeerID).Debugf("dropping blacklisted bus message type %q", bm.Type)
					return
				}
			}
		}
	}
	if err := l.sendEnvelope(sess, env, false); err != nil {
		l.log.WithPeer(sess.c.PeerID).Warnf("send failed: %v", err)
	}
}

// sendEnvelope serializes env, encrypting it under sess's negotiated crypto
// parameters unless forceCleartext is set or env is HELLO/HANDSHAKE (always
// sent in the clear). Binary framing is used when the connection negotiated
// binarize or env.MsgType is BINARY.
func (l *Listener) sendEnvelope(sess *session, env *message.Envelope, forceCleartext bool) error {
	cleartext := forceCleartext || !sess.c.CryptoEnabled() ||
		env.MsgType == message.TypeHello || env.MsgType == message.TypeHandshake
	binary := sess.c.Binarize() || env.MsgType == message.TypeBinary

	var frame []byte
	var err error
	switch {
	case cleartext && !binary:
		frame, err = message.Encode(env)
	case cleartext && binary:
		frame, err = message.EncodeBinaryFrame(env)
	case !cleartext && !binary:
		plain, merr := message.Encode(env)
		if merr != nil {
			return merr
		}
		jf, serr := sess.c.Seal(plain)
		if serr != nil {
			return serr
		}
		frame, err = envelope.MarshalJSONFrame(jf)
	default: // encrypted binary
		plain, merr := message.EncodeBinaryFrame(env)
		if merr != nil {
			return merr
		}
		frame, err = sess.c.SealBinary(plain)
	}
	if err != nil {
		return err
	}
	if sess.c.QueueDepth() >= maxQueueDepth(l.cfg) {
		l.closeSession(sess, observability.CloseReasonTransport)
		return nil
	}
	sess.c.Enqueue(frame, binary)
	return nil
}

func maxQueueDepth(cfg Config) int {
	if cfg.MaxQueueDepth > 0 {
		return cfg.MaxQueueDepth
	}
	return 256
}

// pump drains sess's outgoing queue and writes each frame through its
// Sender, one connection's writes always issued in FIFO order from a single
// goroutine so ordering holds without a lock around Sender.Send.
func (l *Listener) pump(sess *session) {
	for {
		f, ok := sess.c.Dequeue()
		if !ok {
			return
		}
		if err := sess.sender.Send(f.Data, f.Binary); err != nil {
			l.closeSession(sess, observability.CloseReasonTransport)
			return
		}
	}
}
