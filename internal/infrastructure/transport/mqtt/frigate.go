package mqtt

import (
	"encoding/json"
	"math"
	"time"

	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/core/stream"
)

// frigateEvent is the payload Frigate publishes on frigate/events
type frigateEvent struct {
	Type  string        `json:"type"`
	After *frigateState `json:"after"`
}

type frigateState struct {
	ID        string    `json:"id"`
	Camera    string    `json:"camera"`
	Label     string    `json:"label"`
	TopScore  float64   `json:"top_score"`
	Score     float64   `json:"score"`
	StartTime float64   `json:"start_time"`
	Box       []float64 `json:"box"`
	Snapshot  string    `json:"thumbnail_url"`
}

// AdaptPayload turns an MQTT payload into an envelope frame. Payloads that
// already are {type, data} envelopes pass through unchanged. Frigate
// "new" and "update" events become detection envelopes; "end" events and
// anything unrecognised are dropped.
func AdaptPayload(payload []byte) ([]byte, bool) {
	var probe struct {
		Type  string          `json:"type"`
		Data  json.RawMessage `json:"data"`
		After json.RawMessage `json:"after"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil || probe.Type == "" {
		return nil, false
	}
	if len(probe.Data) > 0 && len(probe.After) == 0 {
		return payload, true
	}

	var ev frigateEvent
	if err := json.Unmarshal(payload, &ev); err != nil || ev.After == nil {
		return nil, false
	}
	if ev.Type != "new" && ev.Type != "update" {
		return nil, false
	}

	a := ev.After
	detection := map[string]any{
		"id":         a.ID,
		"camera_id":  a.Camera,
		"label":      a.Label,
		"confidence": confidence(a),
	}
	if a.StartTime > 0 {
		sec, frac := math.Modf(a.StartTime)
		detection["timestamp"] = time.Unix(int64(sec), int64(frac*1e9)).UTC().Format(time.RFC3339Nano)
	}
	if len(a.Box) == 4 {
		detection["bbox"] = map[string]any{
			"x":      int(a.Box[0]),
			"y":      int(a.Box[1]),
			"width":  int(a.Box[2] - a.Box[0]),
			"height": int(a.Box[3] - a.Box[1]),
		}
	}
	if a.Snapshot != "" {
		detection["thumbnail_url"] = a.Snapshot
	}

	frame, err := stream.Encode(string(stream.KindDetection), detection)
	if err != nil {
		return nil, false
	}
	return frame, true
}

func confidence(a *frigateState) float64 {
	if a.TopScore > 0 {
		return a.TopScore
	}
	return a.Score
}
