// Package message defines the HiveMessage envelope and the application-level
// bus message it carries, plus the small set of route/peer helpers the
// listener's dispatch table needs for loop prevention and fan-out.
package message

import "encoding/json"

// Type is the outer envelope's msg_type.
type Type string

const (
	TypeHandshake  Type = "HANDSHAKE"
	TypeHello      Type = "HELLO"
	TypeBus        Type = "BUS"
	TypeSharedBus  Type = "SHARED_BUS"
	TypeBroadcast  Type = "BROADCAST"
	TypePropagate  Type = "PROPAGATE"
	TypeEscalate   Type = "ESCALATE"
	TypeIntercom   Type = "INTERCOM"
	TypeBinary     Type = "BINARY"
	TypePing       Type = "PING"
	TypeQuery      Type = "QUERY"
	TypeCascade    Type = "CASCADE"
	TypeRendezvous Type = "RENDEZVOUS"
	TypeThirdParty Type = "THIRDPARTY"
)

// BinaryType tags a BINARY envelope's payload domain.
type BinaryType string

const (
	BinaryRawAudio           BinaryType = "RAW_AUDIO"
	BinarySTTAudioTranscribe BinaryType = "STT_AUDIO_TRANSCRIBE"
	BinarySTTAudioHandle     BinaryType = "STT_AUDIO_HANDLE"
	BinaryTTSAudio           BinaryType = "TTS_AUDIO"
	BinaryFile               BinaryType = "FILE"
	BinaryNumpyImage         BinaryType = "NUMPY_IMAGE"
)

// Hop records one fan-out step for loop prevention and diagnostics.
type Hop struct {
	Source  string   `json:"source"`
	Targets []string `json:"targets,omitempty"`
}

// Envelope is a HiveMessage: a typed container that may wrap an application
// bus message (Payload) or, for INTERCOM, another encoded Envelope.
type Envelope struct {
	MsgType         Type            `json:"msg_type"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	BinaryType      BinaryType      `json:"binary_type,omitempty"`
	Metadata        map[string]any  `json:"metadata,omitempty"`
	Route           []Hop           `json:"route,omitempty"`
	SourcePeer      string          `json:"source_peer,omitempty"`
	TargetPeers     []string        `json:"target_peers,omitempty"`
	TargetSiteID    string          `json:"target_site_id,omitempty"`
	TargetPublicKey string          `json:"target_public_key,omitempty"`
}

// Encode marshals the envelope to JSON.
func Encode(e *Envelope) ([]byte, error) {
	return json.Marshal(e)
}

// Decode unmarshals a JSON-encoded envelope.
func Decode(b []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// SessionContext is the nested context.session object of a BUS payload.
type SessionContext struct {
	SessionID          string   `json:"session_id"`
	SiteID             string   `json:"site_id,omitempty"`
	BlacklistedSkills  []string `json:"blacklisted_skills,omitempty"`
	BlacklistedIntents []string `json:"blacklisted_intents,omitempty"`
}

// Context is the context object of a BUS application message.
type Context struct {
	Destination any             `json:"destination,omitempty"`
	Source      string          `json:"source,omitempty"`
	Peer        string          `json:"peer,omitempty"`
	Session     *SessionContext `json:"session,omitempty"`
}

// BusMessage is the application message carried inside a BUS envelope's payload.
type BusMessage struct {
	Type    string         `json:"type"`
	Data    map[string]any `json:"data,omitempty"`
	Context *Context       `json:"context,omitempty"`
}

// DecodeBusMessage parses an envelope's Payload as a BusMessage.
func DecodeBusMessage(payload json.RawMessage) (*BusMessage, error) {
	var m BusMessage
	if err := json.Unmarshal(payload, &m); err != nil {
		return nil, err
	}
	if m.Context == nil {
		m.Context = &Context{}
	}
	if m.Context.Session == nil {
		m.Context.Session = &SessionContext{SessionID: "default"}
	}
	return &m, nil
}

// EncodeBusMessage serializes a BusMessage back into a payload.
func EncodeBusMessage(m *BusMessage) (json.RawMessage, error) {
	return json.Marshal(m)
}

// AppendHop appends {source, targets} to route, unless the last hop already
// has this source (avoids re-stamping a hop the node itself just added).
func AppendHop(route []Hop, source string, targets []string) []Hop {
	if len(route) > 0 && route[len(route)-1].Source == source {
		return route
	}
	return append(route, Hop{Source: source, Targets: targets})
}

// RouteContainsSource reports whether any hop in route originated at source,
// the loop-prevention check fan-out primitives use before re-forwarding.
func RouteContainsSource(route []Hop, source string) bool {
	for _, h := range route {
		if h.Source == source {
			return true
		}
	}
	return false
}

// RemoveTarget returns targets with any occurrence of remove dropped, used to
// keep a fan-out originator out of its own broadcast's target list.
func RemoveTarget(targets []string, remove string) []string {
	out := targets[:0:0]
	for _, t := range targets {
		if t != remove {
			out = append(out, t)
		}
	}
	return out
}
