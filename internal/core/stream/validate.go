package stream

import (
	"fmt"
	"time"
)

// Validate narrows untyped wire data into an Event of the given kind.
// raw may be JSON bytes, a JSON string or an already decoded object. It
// returns false for any shape mismatch and never panics.
func Validate(raw any, kind Kind, now time.Time) (Event, bool) {
	obj, ok := asObject(raw)
	if !ok {
		return Event{}, false
	}
	switch kind {
	case KindDetection:
		return validateDetection(obj, now)
	case KindBatch:
		return validateBatch(obj, now)
	case KindZoneEnter, KindZoneExit:
		return validateZoneCrossing(obj, kind, now)
	case KindAnomaly:
		return validateAnomaly(obj, now)
	case KindEvent:
		return validateSecurityEvent(obj, now)
	case KindNotification:
		return validateNotification(obj, now)
	default:
		return Event{}, false
	}
}

func validateDetection(o object, now time.Time) (Event, bool) {
	id, ok := o.id("id")
	if !ok {
		return Event{}, false
	}
	camera, ok := o.str("camera_id")
	if !ok {
		return Event{}, false
	}
	label, ok := o.str(o.firstPresent("label", "object_type"))
	if !ok {
		return Event{}, false
	}
	confidence, ok := o.num("confidence")
	if !ok || confidence < 0 || confidence > 1 {
		return Event{}, false
	}
	ts, ok := o.timestamp(o.firstPresent("timestamp", "detected_at"), now)
	if !ok {
		return Event{}, false
	}
	thumb, ok := o.optStr("thumbnail_url")
	if !ok {
		return Event{}, false
	}
	bbox, ok := parseBBox(o["bbox"])
	if !ok {
		return Event{}, false
	}

	d := Detection{
		ID:           id,
		CameraID:     camera,
		Label:        label,
		Confidence:   confidence,
		BBox:         bbox,
		ThumbnailURL: thumb,
		DetectedAt:   ts,
	}
	return Event{
		Kind:      KindDetection,
		ID:        id,
		Keys:      Keys{CameraID: camera, EntityType: label},
		Timestamp: ts,
		Payload:   d,
	}, true
}

func parseBBox(v any) (*BoundingBox, bool) {
	if v == nil {
		return nil, true
	}
	obj, ok := asObject(v)
	if !ok {
		return nil, false
	}
	var box BoundingBox
	fields := []struct {
		key string
		dst *int
	}{
		{"x", &box.X}, {"y", &box.Y}, {"width", &box.Width}, {"height", &box.Height},
	}
	for _, f := range fields {
		n, ok := obj.num(f.key)
		if !ok || n < 0 {
			return nil, false
		}
		*f.dst = int(n)
	}
	return &box, true
}

func validateBatch(o object, now time.Time) (Event, bool) {
	batchID, ok := o.id("batch_id")
	if !ok {
		return Event{}, false
	}
	camera, ok := o.str("camera_id")
	if !ok {
		return Event{}, false
	}
	rawStatus, ok := o.str("status")
	if !ok {
		return Event{}, false
	}
	status := BatchStatus(rawStatus)
	switch status {
	case BatchProcessing, BatchCompleted, BatchFailed:
	default:
		return Event{}, false
	}
	count, ok := o.optNum("detection_count")
	if !ok || count < 0 {
		return Event{}, false
	}
	started, ok := o.timestamp("started_at", now)
	if !ok {
		return Event{}, false
	}
	ts, ok := o.timestamp("timestamp", started)
	if !ok {
		return Event{}, false
	}
	closed, ok := o.optTime("closed_at")
	if !ok {
		return Event{}, false
	}
	reason, ok := o.optStr("closure_reason")
	if !ok {
		return Event{}, false
	}
	duration, ok := o.optNum("duration_seconds")
	if !ok || duration < 0 {
		return Event{}, false
	}
	if duration == 0 && closed != nil {
		duration = closed.Sub(started).Seconds()
		if duration < 0 {
			duration = 0
		}
	}
	errMsg, ok := o.optStr("error")
	if !ok {
		return Event{}, false
	}

	b := BatchUpdate{
		BatchID:         batchID,
		CameraID:        camera,
		Status:          status,
		DetectionCount:  int(count),
		StartedAt:       started,
		ClosedAt:        closed,
		ClosureReason:   ClosureReason(reason),
		DurationSeconds: duration,
		Error:           errMsg,
	}
	return Event{
		Kind:      KindBatch,
		ID:        batchID,
		Keys:      Keys{CameraID: camera, BatchID: batchID},
		Timestamp: ts,
		Payload:   b,
	}, true
}

func validateZoneCrossing(o object, kind Kind, now time.Time) (Event, bool) {
	zone, ok := o.str("zone_id")
	if !ok {
		return Event{}, false
	}
	camera, ok := o.str("camera_id")
	if !ok {
		return Event{}, false
	}
	entity, ok := o.id("entity_id")
	if !ok {
		return Event{}, false
	}
	entityType, ok := o.str("entity_type")
	if !ok {
		return Event{}, false
	}
	ts, ok := o.timestamp(o.firstPresent("timestamp", "occurred_at"), now)
	if !ok {
		return Event{}, false
	}
	dwell, ok := o.optNum("dwell_seconds")
	if !ok || dwell < 0 {
		return Event{}, false
	}
	id := fmt.Sprintf("%s:%s:%d", zone, entity, ts.UnixNano())
	if !o.blank("id") {
		if id, ok = o.id("id"); !ok {
			return Event{}, false
		}
	}

	direction := DirectionEnter
	if kind == KindZoneExit {
		direction = DirectionExit
	}
	z := ZoneCrossing{
		ID:           id,
		ZoneID:       zone,
		CameraID:     camera,
		EntityID:     entity,
		EntityType:   entityType,
		Direction:    direction,
		DwellSeconds: dwell,
		OccurredAt:   ts,
	}
	return Event{
		Kind:      kind,
		ID:        id,
		Keys:      Keys{CameraID: camera, ZoneID: zone, EntityType: entityType, EntityID: entity},
		Timestamp: ts,
		Payload:   z,
	}, true
}

func validateAnomaly(o object, now time.Time) (Event, bool) {
	id, ok := o.id("id")
	if !ok {
		return Event{}, false
	}
	zone, ok := o.str("zone_id")
	if !ok {
		return Event{}, false
	}
	camera, ok := o.optStr("camera_id")
	if !ok {
		return Event{}, false
	}
	rawSeverity, ok := o.str("severity")
	if !ok {
		return Event{}, false
	}
	severity, ok := ParseSeverity(rawSeverity)
	if !ok {
		return Event{}, false
	}
	description, ok := o.optStr("description")
	if !ok {
		return Event{}, false
	}
	acked, ok := o.optBool("acknowledged")
	if !ok {
		return Event{}, false
	}
	ts, ok := o.timestamp(o.firstPresent("timestamp", "detected_at"), now)
	if !ok {
		return Event{}, false
	}

	a := Anomaly{
		ID:           id,
		ZoneID:       zone,
		CameraID:     camera,
		Severity:     severity,
		Description:  description,
		Acknowledged: acked,
		DetectedAt:   ts,
	}
	return Event{
		Kind:      KindAnomaly,
		ID:        id,
		Keys:      Keys{CameraID: camera, ZoneID: zone},
		Timestamp: ts,
		Payload:   a,
	}, true
}

func validateSecurityEvent(o object, now time.Time) (Event, bool) {
	id, ok := o.id("id")
	if !ok {
		return Event{}, false
	}
	camera, ok := o.str("camera_id")
	if !ok {
		return Event{}, false
	}
	score, ok := o.num("risk_score")
	if !ok || score < 0 || score > 100 {
		return Event{}, false
	}
	level := RiskLevelFor(int(score))
	if !o.blank("risk_level") {
		raw, ok := o.str("risk_level")
		if !ok {
			return Event{}, false
		}
		if level, ok = ParseSeverity(raw); !ok {
			return Event{}, false
		}
	}
	summary, ok := o.optStr("summary")
	if !ok {
		return Event{}, false
	}
	reviewed, ok := o.optBool("reviewed")
	if !ok {
		return Event{}, false
	}
	ts, ok := o.timestamp(o.firstPresent("started_at", "timestamp"), now)
	if !ok {
		return Event{}, false
	}

	e := SecurityEvent{
		ID:        id,
		CameraID:  camera,
		RiskScore: int(score),
		RiskLevel: level,
		Summary:   summary,
		Reviewed:  reviewed,
		StartedAt: ts,
	}
	return Event{
		Kind:      KindEvent,
		ID:        id,
		Keys:      Keys{CameraID: camera},
		Timestamp: ts,
		Payload:   e,
	}, true
}

func validateNotification(o object, now time.Time) (Event, bool) {
	title, ok := o.str("title")
	if !ok {
		return Event{}, false
	}
	body, ok := o.optStr("body")
	if !ok {
		return Event{}, false
	}
	severity := SeverityLow
	if !o.blank("severity") {
		raw, ok := o.str("severity")
		if !ok {
			return Event{}, false
		}
		if severity, ok = ParseSeverity(raw); !ok {
			return Event{}, false
		}
	}
	ts, ok := o.timestamp(o.firstPresent("created_at", "timestamp"), now)
	if !ok {
		return Event{}, false
	}
	id := fmt.Sprintf("%s@%d", title, ts.UnixNano())
	if !o.blank("id") {
		if id, ok = o.id("id"); !ok {
			return Event{}, false
		}
	}

	n := Notification{ID: id, Title: title, Body: body, Severity: severity, CreatedAt: ts}
	return Event{
		Kind:      KindNotification,
		ID:        id,
		Timestamp: ts,
		Payload:   n,
	}, true
}
