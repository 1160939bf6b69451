// Package streamrelay carries large BINARY envelope payloads (audio clips,
// files, images) over a yamux-multiplexed side channel instead of the
// connection's control-channel write queue, so a multi-megabyte payload
// never stalls ordinary BUS/fan-out traffic on the same peer link.
package streamrelay

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"

	"github.com/hashicorp/yamux"

	"github.com/jarbas-hive/hivemind-go/binarydata"
	"github.com/jarbas-hive/hivemind-go/message"
)

// Relay wraps one yamux session dedicated to binary payload streams.
type Relay struct {
	sess *yamux.Session
}

// NewServerRelay accepts the multiplexer's server side of conn.
func NewServerRelay(conn net.Conn, cfg *yamux.Config) (*Relay, error) {
	if cfg == nil {
		cfg = yamux.DefaultConfig()
	}
	sess, err := yamux.Server(conn, cfg)
	if err != nil {
		return nil, fmt.Errorf("streamrelay: server session: %w", err)
	}
	return &Relay{sess: sess}, nil
}

// NewClientRelay opens the multiplexer's client side of conn.
func NewClientRelay(conn net.Conn, cfg *yamux.Config) (*Relay, error) {
	if cfg == nil {
		cfg = yamux.DefaultConfig()
	}
	sess, err := yamux.Client(conn, cfg)
	if err != nil {
		return nil, fmt.Errorf("streamrelay: client session: %w", err)
	}
	return &Relay{sess: sess}, nil
}

// Close tears down the underlying yamux session.
func (r *Relay) Close() error { return r.sess.Close() }

// SendBinary opens a fresh stream and writes one length-prefixed binary
// envelope frame. Each payload gets its own stream so concurrent sends
// interleave at the yamux layer rather than serializing behind each other.
func (r *Relay) SendBinary(env *message.Envelope) error {
	stream, err := r.sess.OpenStream()
	if err != nil {
		return fmt.Errorf("streamrelay: open stream: %w", err)
	}
	defer stream.Close()

	frame, err := message.EncodeBinaryFrame(env)
	if err != nil {
		return err
	}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(frame)))
	if _, err := stream.Write(hdr[:]); err != nil {
		return fmt.Errorf("streamrelay: write header: %w", err)
	}
	if _, err := stream.Write(frame); err != nil {
		return fmt.Errorf("streamrelay: write frame: %w", err)
	}
	return nil
}

// AcceptBinary blocks for the next stream the peer opens and decodes the
// binary envelope frame it carries.
func (r *Relay) AcceptBinary() (*message.Envelope, error) {
	stream, err := r.sess.AcceptStream()
	if err != nil {
		return nil, fmt.Errorf("streamrelay: accept stream: %w", err)
	}
	defer stream.Close()

	var hdr [4]byte
	if _, err := io.ReadFull(stream, hdr[:]); err != nil {
		return nil, fmt.Errorf("streamrelay: read header: %w", err)
	}
	n := binary.BigEndian.Uint32(hdr[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(stream, buf); err != nil {
		return nil, fmt.Errorf("streamrelay: read frame: %w", err)
	}
	return message.DecodeBinaryFrame(buf)
}

// Serve accepts streams in a loop and routes each decoded envelope's
// payload to h, until AcceptBinary returns an error (the session closed).
func (r *Relay) Serve(h binarydata.Handler, info binarydata.ConnInfo) error {
	for {
		env, err := r.AcceptBinary()
		if err != nil {
			return err
		}
		binarydata.Dispatch(h, env.BinaryType, env.Payload, env.Metadata, info)
	}
}
