// Package stream models the push events delivered by the backend's
// WebSocket, SSE and MQTT channels and validates untyped wire data into
// them.
package stream

import (
	"fmt"
	"time"
)

// Kind discriminates the StreamEvent union.
type Kind string

const (
	KindDetection    Kind = "detection"
	KindBatch        Kind = "batch"
	KindZoneEnter    Kind = "zone-enter"
	KindZoneExit     Kind = "zone-exit"
	KindAnomaly      Kind = "anomaly"
	KindEvent        Kind = "event"
	KindNotification Kind = "notification"
)

// Kinds lists every domain kind in a stable order.
func Kinds() []Kind {
	return []Kind{KindDetection, KindBatch, KindZoneEnter, KindZoneExit, KindAnomaly, KindEvent, KindNotification}
}

// ParseKind maps a wire type string to a Kind. Underscore spellings
// ("zone_enter") are accepted.
func ParseKind(value string) (Kind, bool) {
	switch value {
	case "detection", "detections":
		return KindDetection, true
	case "batch", "batch_update":
		return KindBatch, true
	case "zone-enter", "zone_enter":
		return KindZoneEnter, true
	case "zone-exit", "zone_exit":
		return KindZoneExit, true
	case "anomaly", "zone_anomaly":
		return KindAnomaly, true
	case "event", "security_event":
		return KindEvent, true
	case "notification":
		return KindNotification, true
	default:
		return "", false
	}
}

// Keys are the correlation identifiers used by filters.
type Keys struct {
	CameraID   string
	ZoneID     string
	EntityType string
	EntityID   string
	BatchID    string
}

// Payload is implemented by every kind-specific body.
type Payload interface {
	Kind() Kind
}

// Event is a validated StreamEvent.
type Event struct {
	Kind      Kind
	ID        string
	Keys      Keys
	Timestamp time.Time
	Payload   Payload
}

// String returns a short description used in logs.
func (e Event) String() string {
	return fmt.Sprintf("Event{Kind: %s, ID: %s, Camera: %s, At: %s}",
		e.Kind, e.ID, e.Keys.CameraID, e.Timestamp.Format(time.RFC3339))
}

// BoundingBox is a detection rectangle in frame pixels.
type BoundingBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Detection is a single object detection from a camera.
type Detection struct {
	ID           string       `json:"id"`
	CameraID     string       `json:"camera_id"`
	Label        string       `json:"label"`
	Confidence   float64      `json:"confidence"`
	BBox         *BoundingBox `json:"bbox,omitempty"`
	ThumbnailURL string       `json:"thumbnail_url,omitempty"`
	DetectedAt   time.Time    `json:"detected_at"`
}

func (Detection) Kind() Kind { return KindDetection }

// BatchStatus is the lifecycle of a detection batch.
type BatchStatus string

const (
	BatchProcessing BatchStatus = "processing"
	BatchCompleted  BatchStatus = "completed"
	BatchFailed     BatchStatus = "failed"
)

// IsClosed reports whether the batch has finished, successfully or not.
func (s BatchStatus) IsClosed() bool {
	return s == BatchCompleted || s == BatchFailed
}

// ClosureReason explains why a batch window was closed.
type ClosureReason string

const (
	ClosureTimeout     ClosureReason = "timeout"
	ClosureIdle        ClosureReason = "idle"
	ClosureMaxDuration ClosureReason = "max_duration"
	ClosureManual      ClosureReason = "manual"
)

// ClosureReasons lists the known reasons in display order.
func ClosureReasons() []ClosureReason {
	return []ClosureReason{ClosureTimeout, ClosureIdle, ClosureMaxDuration, ClosureManual}
}

// BatchUpdate is the state of one detection batch.
type BatchUpdate struct {
	BatchID         string        `json:"batch_id"`
	CameraID        string        `json:"camera_id"`
	Status          BatchStatus   `json:"status"`
	DetectionCount  int           `json:"detection_count"`
	StartedAt       time.Time     `json:"started_at"`
	ClosedAt        *time.Time    `json:"closed_at,omitempty"`
	ClosureReason   ClosureReason `json:"closure_reason,omitempty"`
	DurationSeconds float64       `json:"duration_seconds"`
	Error           string        `json:"error,omitempty"`
}

func (BatchUpdate) Kind() Kind { return KindBatch }

// CrossingDirection is the direction of a zone crossing.
type CrossingDirection string

const (
	DirectionEnter CrossingDirection = "enter"
	DirectionExit  CrossingDirection = "exit"
)

// ZoneCrossing is an entity entering or leaving a zone.
type ZoneCrossing struct {
	ID           string            `json:"id"`
	ZoneID       string            `json:"zone_id"`
	CameraID     string            `json:"camera_id"`
	EntityID     string            `json:"entity_id"`
	EntityType   string            `json:"entity_type"`
	Direction    CrossingDirection `json:"direction"`
	DwellSeconds float64           `json:"dwell_seconds,omitempty"`
	OccurredAt   time.Time         `json:"occurred_at"`
}

func (z ZoneCrossing) Kind() Kind {
	if z.Direction == DirectionExit {
		return KindZoneExit
	}
	return KindZoneEnter
}

// Severity grades anomalies and notifications.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ParseSeverity validates a severity string.
func ParseSeverity(value string) (Severity, bool) {
	switch Severity(value) {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return Severity(value), true
	default:
		return "", false
	}
}

// AtLeast reports whether s is as severe as other.
func (s Severity) AtLeast(other Severity) bool {
	return severityRank[s] >= severityRank[other]
}

var severityRank = map[Severity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Anomaly is unusual activity detected in a zone.
type Anomaly struct {
	ID           string    `json:"id"`
	ZoneID       string    `json:"zone_id"`
	CameraID     string    `json:"camera_id,omitempty"`
	Severity     Severity  `json:"severity"`
	Description  string    `json:"description,omitempty"`
	Acknowledged bool      `json:"acknowledged"`
	DetectedAt   time.Time `json:"detected_at"`
}

func (Anomaly) Kind() Kind { return KindAnomaly }

// SecurityEvent is an analysed, risk-scored event.
type SecurityEvent struct {
	ID        string    `json:"id"`
	CameraID  string    `json:"camera_id"`
	RiskScore int       `json:"risk_score"`
	RiskLevel Severity  `json:"risk_level,omitempty"`
	Summary   string    `json:"summary,omitempty"`
	Reviewed  bool      `json:"reviewed"`
	Deleted   bool      `json:"deleted,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

func (SecurityEvent) Kind() Kind { return KindEvent }

// RiskLevelFor maps a 0..100 score to a level.
func RiskLevelFor(score int) Severity {
	switch {
	case score >= 85:
		return SeverityCritical
	case score >= 60:
		return SeverityHigh
	case score >= 30:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Notification is a user-facing alert pushed by the backend.
type Notification struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body,omitempty"`
	Severity  Severity  `json:"severity,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (Notification) Kind() Kind { return KindNotification }
