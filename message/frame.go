package message

import (
	"encoding/binary"
	"errors"
	"io"
)

// ErrFrameTooLarge signals a length-prefixed frame exceeded the configured cap.
var ErrFrameTooLarge = errors.New("message: frame too large")

// DefaultMaxFrameBytes bounds a single length-prefixed envelope frame read
// from a byte-stream transport, where unlike a
// WebSocket message there is no transport-level frame boundary to rely on.
const DefaultMaxFrameBytes = 1 << 20

// WriteFrame writes a length-prefixed JSON envelope to w.
func WriteFrame(w io.Writer, e *Envelope) error {
	b, err := Encode(e)
	if err != nil {
		return err
	}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(b)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// ReadFrame reads a length-prefixed JSON envelope from r, rejecting frames
// larger than maxLen (DefaultMaxFrameBytes if maxLen<=0).
func ReadFrame(r io.Reader, maxLen int) (*Envelope, error) {
	if maxLen <= 0 {
		maxLen = DefaultMaxFrameBytes
	}
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := int(binary.BigEndian.Uint32(hdr[:]))
	if n < 0 || n > maxLen {
		return nil, ErrFrameTooLarge
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return Decode(b)
}
