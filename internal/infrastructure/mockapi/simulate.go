package mockapi

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/core/stream"
)

var (
	cameras = []string{"front_door", "driveway", "backyard", "garage"}
	zones   = map[string]string{
		"front_door": "porch",
		"driveway":   "driveway",
		"backyard":   "yard",
		"garage":     "garage",
	}
	labels = []string{"person", "person", "vehicle", "animal", "package"}
)

// Seed stores n past events spread over the last hours plus one anomaly
// per zone. Nothing is pushed.
func (s *Server) Seed(n int, rng *rand.Rand) {
	now := s.opts.Clock.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range n {
		score := rng.IntN(101)
		s.events = append(s.events, stream.SecurityEvent{
			ID:        uuid.NewString(),
			CameraID:  cameras[rng.IntN(len(cameras))],
			RiskScore: score,
			RiskLevel: stream.RiskLevelFor(score),
			Summary:   "Seeded activity",
			Reviewed:  rng.IntN(3) == 0,
			StartedAt: now.Add(-time.Duration(i+1) * 7 * time.Minute),
		})
	}
	for _, camera := range cameras {
		s.anomalies = append(s.anomalies, stream.Anomaly{
			ID:          uuid.NewString(),
			ZoneID:      zones[camera],
			CameraID:    camera,
			Severity:    stream.SeverityLow,
			Description: "Activity outside usual hours",
			DetectedAt:  now.Add(-time.Hour),
		})
	}
	s.sortEventsLocked()
}

// Simulate pushes a generated batch lifecycle every interval until ctx
// ends: detections, zone crossings, the closing batch update, a scored
// event and, for risky events, an anomaly and a notification.
func (s *Server) Simulate(ctx context.Context, interval time.Duration, rng *rand.Rand) {
	logger := s.opts.Logger.Named("simulator")
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.opts.Clock.After(interval):
		}
		if err := s.simulateBatch(rng); err != nil {
			logger.Warn("simulation step failed", "error", err)
		}
	}
}

func (s *Server) simulateBatch(rng *rand.Rand) error {
	now := s.opts.Clock.Now().UTC()
	camera := cameras[rng.IntN(len(cameras))]
	zone := zones[camera]
	batchID := uuid.NewString()
	count := 1 + rng.IntN(4)

	if err := s.Publish(string(stream.KindBatch), stream.BatchUpdate{
		BatchID:   batchID,
		CameraID:  camera,
		Status:    stream.BatchProcessing,
		StartedAt: now,
	}); err != nil {
		return err
	}

	for range count {
		label := labels[rng.IntN(len(labels))]
		d := s.AddDetection(stream.Detection{
			CameraID:   camera,
			Label:      label,
			Confidence: 0.5 + rng.Float64()/2,
			BBox: &stream.BoundingBox{
				X: rng.IntN(1280), Y: rng.IntN(720), Width: 40 + rng.IntN(200), Height: 40 + rng.IntN(300),
			},
			DetectedAt: now,
		})
		if err := s.Publish("zone_enter", stream.ZoneCrossing{
			ID:         uuid.NewString(),
			ZoneID:     zone,
			CameraID:   camera,
			EntityID:   d.ID,
			EntityType: label,
			Direction:  stream.DirectionEnter,
			OccurredAt: now,
		}); err != nil {
			return err
		}
	}

	closed := now.Add(time.Duration(5+rng.IntN(55)) * time.Second)
	status := stream.BatchCompleted
	var batchErr string
	if rng.IntN(10) == 0 {
		status = stream.BatchFailed
		batchErr = "analysis timed out"
	}
	reasons := stream.ClosureReasons()
	if err := s.Publish(string(stream.KindBatch), stream.BatchUpdate{
		BatchID:         batchID,
		CameraID:        camera,
		Status:          status,
		DetectionCount:  count,
		StartedAt:       now,
		ClosedAt:        &closed,
		ClosureReason:   reasons[rng.IntN(len(reasons))],
		DurationSeconds: closed.Sub(now).Seconds(),
		Error:           batchErr,
	}); err != nil {
		return err
	}
	if status == stream.BatchFailed {
		return nil
	}

	score := rng.IntN(101)
	ev := s.AddEvent(stream.SecurityEvent{
		CameraID:  camera,
		RiskScore: score,
		Summary:   fmt.Sprintf("%d detections on %s", count, camera),
		StartedAt: now,
	})
	if ev.RiskLevel.AtLeast(stream.SeverityHigh) {
		s.AddAnomaly(stream.Anomaly{
			ZoneID:      zone,
			CameraID:    camera,
			Severity:    ev.RiskLevel,
			Description: "Unusual activity in " + zone,
			DetectedAt:  now,
		})
		if err := s.Publish(string(stream.KindNotification), stream.Notification{
			ID:        uuid.NewString(),
			Title:     "High risk activity on " + camera,
			Body:      ev.Summary,
			Severity:  ev.RiskLevel,
			CreatedAt: now,
		}); err != nil {
			return err
		}
	}
	return nil
}
