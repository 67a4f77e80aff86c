package stream

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestValidate_Detection_AcceptsAndRejects(t *testing.T) {
	tests := []struct {
		name        string
		raw         any
		expectOK    bool
		description string
	}{
		{
			name:        "ValidJSON_ShouldSucceed",
			raw:         `{"id":"d1","camera_id":"front_door","label":"person","confidence":0.92,"timestamp":"2026-03-01T11:59:00Z"}`,
			expectOK:    true,
			description: "complete detection should validate",
		},
		{
			name:        "NumericID_ShouldSucceed",
			raw:         map[string]any{"id": float64(42), "camera_id": "yard", "label": "dog", "confidence": 0.5},
			expectOK:    true,
			description: "integral numeric ids are accepted",
		},
		{
			name:        "FractionalID_ShouldFail",
			raw:         map[string]any{"id": 4.2, "camera_id": "yard", "label": "dog", "confidence": 0.5},
			expectOK:    false,
			description: "fractional ids are not identifiers",
		},
		{
			name:        "MissingCamera_ShouldFail",
			raw:         `{"id":"d1","label":"person","confidence":0.9}`,
			expectOK:    false,
			description: "camera_id is required",
		},
		{
			name:        "WrongConfidenceType_ShouldFail",
			raw:         `{"id":"d1","camera_id":"c","label":"person","confidence":"high"}`,
			expectOK:    false,
			description: "confidence must be numeric",
		},
		{
			name:        "ConfidenceOutOfRange_ShouldFail",
			raw:         `{"id":"d1","camera_id":"c","label":"person","confidence":1.5}`,
			expectOK:    false,
			description: "confidence must be within [0,1]",
		},
		{
			name:        "InvalidTimestamp_ShouldFail",
			raw:         `{"id":"d1","camera_id":"c","label":"person","confidence":0.5,"timestamp":"yesterday"}`,
			expectOK:    false,
			description: "unparseable timestamps are rejected",
		},
		{
			name:        "Nil_ShouldFail",
			raw:         nil,
			expectOK:    false,
			description: "nil input is dropped",
		},
		{
			name:        "NotAnObject_ShouldFail",
			raw:         `[1,2,3]`,
			expectOK:    false,
			description: "arrays are not events",
		},
		{
			name:        "BadBBox_ShouldFail",
			raw:         `{"id":"d1","camera_id":"c","label":"person","confidence":0.5,"bbox":{"x":1}}`,
			expectOK:    false,
			description: "a present bbox must be complete",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, ok := Validate(tt.raw, KindDetection, now)
			assert.Equal(t, tt.expectOK, ok, tt.description)
			if ok {
				assert.Equal(t, KindDetection, ev.Kind)
				assert.NotEmpty(t, ev.ID)
				assert.NotEmpty(t, ev.Keys.CameraID)
				_, isDetection := ev.Payload.(Detection)
				assert.True(t, isDetection, "payload should be a Detection")
			}
		})
	}
}

func TestValidate_MissingTimestamp_DefaultsToNow(t *testing.T) {
	ev, ok := Validate(`{"id":"d1","camera_id":"c","label":"car","confidence":0.7}`, KindDetection, now)
	require.True(t, ok)
	assert.True(t, ev.Timestamp.Equal(now), "absent timestamp should default to validation time")
}

func TestValidate_Batch_DerivesDurationFromClosedAt(t *testing.T) {
	raw := `{"batch_id":"b1","camera_id":"garage","status":"completed","detection_count":7,
		"started_at":"2026-03-01T11:00:00Z","closed_at":"2026-03-01T11:01:30Z","closure_reason":"idle"}`
	ev, ok := Validate(raw, KindBatch, now)
	require.True(t, ok)

	b := ev.Payload.(BatchUpdate)
	assert.Equal(t, "b1", ev.ID)
	assert.Equal(t, BatchCompleted, b.Status)
	assert.Equal(t, ClosureIdle, b.ClosureReason)
	assert.InDelta(t, 90.0, b.DurationSeconds, 0.001)
	assert.True(t, ev.Timestamp.Equal(b.StartedAt), "batch events order by start time when no timestamp is given")
}

func TestValidate_Batch_RejectsUnknownStatus(t *testing.T) {
	_, ok := Validate(`{"batch_id":"b1","camera_id":"garage","status":"paused"}`, KindBatch, now)
	assert.False(t, ok)
}

func TestValidate_ZoneCrossing_UsesKindForDirection(t *testing.T) {
	raw := `{"zone_id":"porch","camera_id":"front","entity_id":7,"entity_type":"person","timestamp":"2026-03-01T11:00:00Z"}`

	enter, ok := Validate(raw, KindZoneEnter, now)
	require.True(t, ok)
	exit, ok := Validate(raw, KindZoneExit, now)
	require.True(t, ok)

	assert.Equal(t, DirectionEnter, enter.Payload.(ZoneCrossing).Direction)
	assert.Equal(t, DirectionExit, exit.Payload.(ZoneCrossing).Direction)
	assert.Equal(t, KindZoneExit, exit.Payload.Kind())
	assert.Equal(t, "porch", enter.Keys.ZoneID)
	assert.Equal(t, "7", enter.Keys.EntityID)
	assert.NotEmpty(t, enter.ID, "crossings without ids get a derived id")
}

func TestValidate_Anomaly_RequiresKnownSeverity(t *testing.T) {
	_, ok := Validate(`{"id":"a1","zone_id":"z","severity":"apocalyptic"}`, KindAnomaly, now)
	assert.False(t, ok)

	ev, ok := Validate(`{"id":"a1","zone_id":"z","severity":"high","acknowledged":false}`, KindAnomaly, now)
	require.True(t, ok)
	assert.Equal(t, SeverityHigh, ev.Payload.(Anomaly).Severity)
}

func TestValidate_SecurityEvent_DerivesRiskLevel(t *testing.T) {
	ev, ok := Validate(`{"id":9,"camera_id":"drive","risk_score":72}`, KindEvent, now)
	require.True(t, ok)
	assert.Equal(t, SeverityHigh, ev.Payload.(SecurityEvent).RiskLevel)

	_, ok = Validate(`{"id":9,"camera_id":"drive","risk_score":172}`, KindEvent, now)
	assert.False(t, ok, "risk scores above 100 are rejected")
}

func TestValidate_UnknownKind_Rejected(t *testing.T) {
	_, ok := Validate(`{"id":"x"}`, Kind("mystery"), now)
	assert.False(t, ok)
}

func TestDecode_RoutesByEnvelopeType(t *testing.T) {
	frame, err := Encode("detection", map[string]any{"id": "d1", "camera_id": "c", "label": "cat", "confidence": 0.3})
	require.NoError(t, err)

	ev, ok := Decode(frame, now)
	require.True(t, ok)
	assert.Equal(t, KindDetection, ev.Kind)

	for _, raw := range []string{`{"type":"unknown"}`, `null`, ``, `{"data":{}}`, `{"type":"detection"}`, `not json`} {
		_, ok := Decode([]byte(raw), now)
		assert.False(t, ok, "frame %q should be dropped", raw)
	}
}

func TestIsHeartbeat_ClassifiesKeepAlives(t *testing.T) {
	assert.True(t, IsHeartbeat([]byte(`{"type":"ping"}`)))
	assert.True(t, IsHeartbeat([]byte(`{"type":"heartbeat","data":{"ts":1}}`)))
	assert.True(t, IsPing([]byte(`{"type":"ping"}`)))
	assert.False(t, IsPing([]byte(`{"type":"pong"}`)))
	assert.False(t, IsHeartbeat([]byte(`{"type":"detection","data":{}}`)))
	assert.False(t, IsHeartbeat(nil))
}

func TestParseJobEvent_HandlesEachEventType(t *testing.T) {
	progress, ok := ParseJobEvent([]byte(`{"event_type":"progress","job_id":"j1","percent":40,"message":"encoding"}`))
	require.True(t, ok)
	assert.Equal(t, JobProgress, progress.Type)
	assert.InDelta(t, 40.0, progress.Percent, 0.001)

	complete, ok := ParseJobEvent([]byte(`{"event_type":"complete","download_url":"/exports/j1.zip"}`))
	require.True(t, ok)
	assert.Equal(t, "/exports/j1.zip", complete.DownloadURL)
	assert.InDelta(t, 100.0, complete.Percent, 0.001)

	failed, ok := ParseJobEvent([]byte(`{"event_type":"error"}`))
	require.True(t, ok)
	assert.Equal(t, "export failed", failed.Message)

	_, ok = ParseJobEvent([]byte(`{"event_type":"queued"}`))
	assert.False(t, ok, "unknown event types are ignored")
}

// TestDecode_PropertyBased_NeverPanics feeds arbitrary bytes and objects
// through the decoder.
func TestDecode_PropertyBased_NeverPanics(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		raw := rapid.SliceOf(rapid.Byte()).Draw(t, "raw")
		assert.NotPanics(t, func() { Decode(raw, now) })

		kind := rapid.SampledFrom(Kinds()).Draw(t, "kind")
		obj := map[string]any{
			"id":        rapid.OneOf(rapid.Just[any]("x"), rapid.Just[any](1.5), rapid.Just[any](nil)).Draw(t, "id"),
			"camera_id": rapid.OneOf(rapid.Just[any]("c"), rapid.Just[any](3.0), rapid.Just[any](true)).Draw(t, "camera"),
			"timestamp": rapid.OneOf(rapid.Just[any]("2026-03-01T00:00:00Z"), rapid.Just[any]("bogus"), rapid.Just[any](12.0)).Draw(t, "ts"),
		}
		assert.NotPanics(t, func() { Validate(obj, kind, now) })
	})
}

func TestEncodeDecode_EveryPayloadKind_RoundTrips(t *testing.T) {
	at := now.Add(-time.Minute)
	closed := at.Add(30 * time.Second)
	tests := []struct {
		name        string
		typ         string
		data        any
		expectKind  Kind
		expectID    string
		description string
	}{
		{
			name:        "Detection",
			typ:         "detection",
			data:        Detection{ID: "d1", CameraID: "front_door", Label: "person", Confidence: 0.9, DetectedAt: at},
			expectKind:  KindDetection,
			expectID:    "d1",
			description: "detection without bbox or thumbnail",
		},
		{
			name:        "Batch",
			typ:         "batch_update",
			data:        BatchUpdate{BatchID: "b1", CameraID: "garage", Status: BatchCompleted, StartedAt: at, ClosedAt: &closed, ClosureReason: ClosureIdle},
			expectKind:  KindBatch,
			expectID:    "b1",
			description: "closed batch",
		},
		{
			name:        "ZoneCrossingWithoutID",
			typ:         "zone_enter",
			data:        ZoneCrossing{ZoneID: "porch", CameraID: "front_door", EntityID: "p1", EntityType: "person", OccurredAt: at},
			expectKind:  KindZoneEnter,
			expectID:    "porch:p1:" + strconv.FormatInt(at.UnixNano(), 10),
			description: "empty id is generated from zone, entity and time",
		},
		{
			name:        "Anomaly",
			typ:         "anomaly",
			data:        Anomaly{ID: "a1", ZoneID: "porch", Severity: SeverityHigh, DetectedAt: at},
			expectKind:  KindAnomaly,
			expectID:    "a1",
			description: "anomaly with required severity",
		},
		{
			name:        "SecurityEventWithoutLevel",
			typ:         "event",
			data:        SecurityEvent{ID: "e1", CameraID: "driveway", RiskScore: 70, StartedAt: at},
			expectKind:  KindEvent,
			expectID:    "e1",
			description: "risk level is derived from the score",
		},
		{
			name:        "NotificationWithoutSeverity",
			typ:         "notification",
			data:        Notification{ID: "n1", Title: "hello", CreatedAt: at},
			expectKind:  KindNotification,
			expectID:    "n1",
			description: "severity defaults to low",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := Encode(tt.typ, tt.data)
			require.NoError(t, err)

			ev, ok := Decode(frame, now)
			require.True(t, ok, tt.description)
			assert.Equal(t, tt.expectKind, ev.Kind)
			assert.Equal(t, tt.expectID, ev.ID)
			assert.True(t, at.Equal(ev.Timestamp))
		})
	}
}

func TestEncodeDecode_DefaultsFilledIn(t *testing.T) {
	frame, err := Encode("event", SecurityEvent{ID: "e1", CameraID: "driveway", RiskScore: 70, StartedAt: now})
	require.NoError(t, err)
	ev, ok := Decode(frame, now)
	require.True(t, ok)
	assert.Equal(t, RiskLevelFor(70), ev.Payload.(SecurityEvent).RiskLevel)

	frame, err = Encode("notification", Notification{ID: "n1", Title: "hello"})
	require.NoError(t, err)
	ev, ok = Decode(frame, now)
	require.True(t, ok)
	assert.Equal(t, SeverityLow, ev.Payload.(Notification).Severity)
}

func TestValidate_NullOrEmptyOptionalFields_TreatedAsAbsent(t *testing.T) {
	tests := []struct {
		name        string
		kind        Kind
		raw         map[string]any
		description string
	}{
		{"NullRiskLevel", KindEvent, map[string]any{"id": "e1", "camera_id": "c", "risk_score": 80.0, "risk_level": nil}, "null level derives from score"},
		{"EmptyRiskLevel", KindEvent, map[string]any{"id": "e1", "camera_id": "c", "risk_score": 80.0, "risk_level": ""}, "empty level derives from score"},
		{"NullSeverity", KindNotification, map[string]any{"title": "t", "severity": nil}, "null severity defaults to low"},
		{"EmptySeverity", KindNotification, map[string]any{"title": "t", "severity": ""}, "empty severity defaults to low"},
		{"NullNotificationID", KindNotification, map[string]any{"title": "t", "id": nil}, "null id is generated"},
		{"EmptyNotificationID", KindNotification, map[string]any{"title": "t", "id": ""}, "empty id is generated"},
		{"NullCrossingID", KindZoneExit, map[string]any{"zone_id": "z", "camera_id": "c", "entity_id": "p", "entity_type": "person", "id": nil}, "null id is generated"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, ok := Validate(tt.raw, tt.kind, now)
			require.True(t, ok, tt.description)
			assert.NotEmpty(t, ev.ID)
		})
	}

	_, ok := Validate(map[string]any{"id": "e1", "camera_id": "c", "risk_score": 80.0, "risk_level": 3.0}, KindEvent, now)
	assert.False(t, ok, "a level of the wrong type is still a mismatch")
}
