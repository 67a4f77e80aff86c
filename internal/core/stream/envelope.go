package stream

import (
	"encoding/json"
	"strings"
	"time"
)

// Envelope is the {type, data} frame every push channel delivers.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Heartbeat envelope types. They are consumed by the connection layer.
const (
	TypePing      = "ping"
	TypePong      = "pong"
	TypeHeartbeat = "heartbeat"
	TypeSubscribe = "subscribe"
)

// ParseEnvelope decodes a frame. It fails on invalid JSON or a missing
// type.
func ParseEnvelope(raw []byte) (Envelope, bool) {
	var env Envelope
	if len(raw) == 0 {
		return env, false
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, false
	}
	env.Type = strings.TrimSpace(env.Type)
	if env.Type == "" {
		return Envelope{}, false
	}
	return env, true
}

// IsHeartbeat reports whether raw is a keep-alive frame.
func IsHeartbeat(raw []byte) bool {
	env, ok := ParseEnvelope(raw)
	if !ok {
		return false
	}
	switch env.Type {
	case TypePing, TypePong, TypeHeartbeat:
		return true
	default:
		return false
	}
}

// IsPing reports whether raw is a ping that expects a pong.
func IsPing(raw []byte) bool {
	env, ok := ParseEnvelope(raw)
	return ok && env.Type == TypePing
}

// Decode parses a frame and validates its data against the validator
// selected by the frame type. Unknown types are rejected silently.
func Decode(raw []byte, now time.Time) (Event, bool) {
	env, ok := ParseEnvelope(raw)
	if !ok {
		return Event{}, false
	}
	kind, ok := ParseKind(env.Type)
	if !ok {
		return Event{}, false
	}
	return Validate([]byte(env.Data), kind, now)
}

// Encode builds an envelope frame. It is used by the mock backend and
// by tests.
func Encode(typ string, data any) ([]byte, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: typ, Data: body})
}

// SubscribeMessage builds the topic subscription frame sent after a
// WebSocket handshake.
func SubscribeMessage(topics []string) []byte {
	msg, _ := json.Marshal(struct {
		Type   string   `json:"type"`
		Topics []string `json:"topics"`
	}{Type: TypeSubscribe, Topics: topics})
	return msg
}

// PongMessage is the reply to a ping.
func PongMessage() []byte {
	return []byte(`{"type":"pong"}`)
}
