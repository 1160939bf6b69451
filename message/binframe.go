package message

import (
	"encoding/binary"
	"encoding/json"
	"errors"
)

// ErrBinaryFrameTooShort signals a truncated binary frame.
var ErrBinaryFrameTooShort = errors.New("message: binary frame too short")

// binFrameMeta is the length-prefixed JSON metadata block of a binary frame:
// every envelope field except Payload, which travels as a separate
// length-prefixed raw byte block so large binary payloads (audio, files,
// images) avoid base64 inflation.
type binFrameMeta struct {
	MsgType         Type           `json:"msg_type"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	BinaryType      BinaryType     `json:"binary_type,omitempty"`
	Route           []Hop          `json:"route,omitempty"`
	SourcePeer      string         `json:"source_peer,omitempty"`
	TargetPeers     []string       `json:"target_peers,omitempty"`
	TargetSiteID    string         `json:"target_site_id,omitempty"`
	TargetPublicKey string         `json:"target_public_key,omitempty"`
}

// EncodeBinaryFrame serializes an envelope as the binary wire form: a
// length-tagged bitstring of (hive_type | metadata | binary_type | payload).
// Used whenever the connection has negotiated binarize=true, or for BINARY
// envelopes regardless of that negotiation.
func EncodeBinaryFrame(e *Envelope) ([]byte, error) {
	meta, err := json.Marshal(binFrameMeta{
		MsgType:         e.MsgType,
		Metadata:        e.Metadata,
		BinaryType:      e.BinaryType,
		Route:           e.Route,
		SourcePeer:      e.SourcePeer,
		TargetPeers:     e.TargetPeers,
		TargetSiteID:    e.TargetSiteID,
		TargetPublicKey: e.TargetPublicKey,
	})
	if err != nil {
		return nil, err
	}
	payload := []byte(e.Payload)
	out := make([]byte, 0, 4+len(meta)+4+len(payload))
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(meta)))
	out = append(out, hdr[:]...)
	out = append(out, meta...)
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))
	out = append(out, hdr[:]...)
	out = append(out, payload...)
	return out, nil
}

// DecodeBinaryFrame reverses EncodeBinaryFrame.
func DecodeBinaryFrame(b []byte) (*Envelope, error) {
	if len(b) < 4 {
		return nil, ErrBinaryFrameTooShort
	}
	metaLen := int(binary.BigEndian.Uint32(b[:4]))
	b = b[4:]
	if metaLen < 0 || len(b) < metaLen+4 {
		return nil, ErrBinaryFrameTooShort
	}
	metaBytes := b[:metaLen]
	b = b[metaLen:]
	payloadLen := int(binary.BigEndian.Uint32(b[:4]))
	b = b[4:]
	if payloadLen < 0 || len(b) < payloadLen {
		return nil, ErrBinaryFrameTooShort
	}
	payload := b[:payloadLen]

	var meta binFrameMeta
	if err := json.Unmarshal(metaBytes, &meta); err != nil {
		return nil, err
	}
	return &Envelope{
		MsgType:         meta.MsgType,
		Metadata:        meta.Metadata,
		BinaryType:      meta.BinaryType,
		Route:           meta.Route,
		SourcePeer:      meta.SourcePeer,
		TargetPeers:     meta.TargetPeers,
		TargetSiteID:    meta.TargetSiteID,
		TargetPublicKey: meta.TargetPublicKey,
		Payload:         append(json.RawMessage(nil), payload...),
	}, nil
}
