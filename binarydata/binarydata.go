// Package binarydata defines the pluggable handler interface the listener
// dispatches BINARY envelopes to, off the connection's read loop.
package binarydata

import (
	"log"

	"github.com/jarbas-hive/hivemind-go/message"
)

// ConnInfo is the minimal per-connection context a handler needs: enough to
// reply or attribute the payload, without exposing the full connection type.
type ConnInfo struct {
	PeerID string
	SiteID string
	APIKey string
}

// Handler receives typed binary payloads routed off BINARY envelopes. Every
// method may be a no-op; the listener logs and drops on an unrecognized
// binary_type rather than calling a handler that doesn't exist for it.
type Handler interface {
	Microphone(data []byte, sampleRate, sampleWidth int, conn ConnInfo)
	STTTranscribe(data []byte, sampleRate, sampleWidth int, lang string, conn ConnInfo)
	STTHandle(data []byte, sampleRate, sampleWidth int, lang string, conn ConnInfo)
	ReceiveTTS(data []byte, utterance, lang, fileName string, conn ConnInfo)
	ReceiveFile(data []byte, fileName string, conn ConnInfo)
	Image(data []byte, cameraID string, conn ConnInfo)
}

// NoopHandler logs and discards every binary payload; it is the default
// handler a listener is constructed with.
type NoopHandler struct {
	Logger *log.Logger
}

func (h *NoopHandler) logf(format string, args ...any) {
	if h.Logger != nil {
		h.Logger.Printf(format, args...)
	}
}

func (h *NoopHandler) Microphone(data []byte, sampleRate, sampleWidth int, conn ConnInfo) {
	h.logf("binarydata: discarding %d bytes of microphone audio from %s", len(data), conn.PeerID)
}

func (h *NoopHandler) STTTranscribe(data []byte, sampleRate, sampleWidth int, lang string, conn ConnInfo) {
	h.logf("binarydata: discarding %d bytes of stt-transcribe audio (%s) from %s", len(data), lang, conn.PeerID)
}

func (h *NoopHandler) STTHandle(data []byte, sampleRate, sampleWidth int, lang string, conn ConnInfo) {
	h.logf("binarydata: discarding %d bytes of stt-handle audio (%s) from %s", len(data), lang, conn.PeerID)
}

func (h *NoopHandler) ReceiveTTS(data []byte, utterance, lang, fileName string, conn ConnInfo) {
	h.logf("binarydata: discarding %d bytes of tts audio %q from %s", len(data), fileName, conn.PeerID)
}

func (h *NoopHandler) ReceiveFile(data []byte, fileName string, conn ConnInfo) {
	h.logf("binarydata: discarding %d byte file %q from %s", len(data), fileName, conn.PeerID)
}

func (h *NoopHandler) Image(data []byte, cameraID string, conn ConnInfo) {
	h.logf("binarydata: discarding %d byte image from camera %q (%s)", len(data), cameraID, conn.PeerID)
}

var _ Handler = (*NoopHandler)(nil)

// intMeta extracts an integer metadata field, accepting both a JSON-decoded
// float64 and a plain int (constructed in-process or from tests).
func intMeta(meta map[string]any, key string) int {
	switch v := meta[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

// Dispatch routes a decoded BINARY envelope's bytes to the matching Handler
// method by binary_type, reporting false for an unrecognized type.
func Dispatch(h Handler, binType message.BinaryType, data []byte, meta map[string]any, conn ConnInfo) bool {
	sampleRate := intMeta(meta, "sample_rate")
	sampleWidth := intMeta(meta, "sample_width")
	lang, _ := meta["lang"].(string)
	fileName, _ := meta["file_name"].(string)
	utterance, _ := meta["utterance"].(string)
	cameraID, _ := meta["camera_id"].(string)

	switch binType {
	case message.BinaryRawAudio:
		h.Microphone(data, sampleRate, sampleWidth, conn)
	case message.BinarySTTAudioTranscribe:
		h.STTTranscribe(data, sampleRate, sampleWidth, lang, conn)
	case message.BinarySTTAudioHandle:
		h.STTHandle(data, sampleRate, sampleWidth, lang, conn)
	case message.BinaryTTSAudio:
		h.ReceiveTTS(data, utterance, lang, fileName, conn)
	case message.BinaryFile:
		h.ReceiveFile(data, fileName, conn)
	case message.BinaryNumpyImage:
		h.Image(data, cameraID, conn)
	default:
		return false
	}
	return true
}
