package offline

import (
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"

	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/core/stream"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	var err error
	if encMode, err = opts.EncMode(); err != nil {
		panic("offline: cbor encoder: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("offline: cbor decoder: " + err.Error())
	}
}

// EncodePayload serializes a payload for the payload column
func EncodePayload(v any) ([]byte, error) {
	data, err := encMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return data, nil
}

// DecodePayload deserializes a payload column into v
func DecodePayload(data []byte, v any) error {
	if err := decMode.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

// EventRecord builds the record for a security event
func EventRecord(ev stream.SecurityEvent) (Record, error) {
	payload, err := EncodePayload(ev)
	if err != nil {
		return Record{}, err
	}
	return Record{
		ID:        ev.ID,
		Kind:      stream.KindEvent,
		CameraID:  ev.CameraID,
		Timestamp: ev.StartedAt,
		Payload:   payload,
	}, nil
}

// Event decodes a security event record
func (r Record) Event() (stream.SecurityEvent, error) {
	if r.Kind != stream.KindEvent {
		return stream.SecurityEvent{}, fmt.Errorf("record %s is a %s, not an event", r.ID, r.Kind)
	}
	var ev stream.SecurityEvent
	err := DecodePayload(r.Payload, &ev)
	return ev, err
}
