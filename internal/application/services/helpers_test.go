package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/core/clock"
	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/core/pagination"
	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/core/querycache"
	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/core/stream"
	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/infrastructure/api"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeSource delivers frames synchronously to its subscribers
type fakeSource struct {
	mu       sync.Mutex
	handlers map[int]func([]byte)
	next     int
}

func newFakeSource() *fakeSource {
	return &fakeSource{handlers: make(map[int]func([]byte))}
}

func (s *fakeSource) Subscribe(handler func([]byte)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	id := s.next
	s.handlers[id] = handler
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.handlers, id)
	}
}

func (s *fakeSource) subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handlers)
}

func (s *fakeSource) emit(frame []byte) {
	s.mu.Lock()
	handlers := make([]func([]byte), 0, len(s.handlers))
	for _, h := range s.handlers {
		handlers = append(handlers, h)
	}
	s.mu.Unlock()
	for _, h := range handlers {
		h(frame)
	}
}

func (s *fakeSource) push(t *testing.T, typ string, data any) {
	t.Helper()
	frame, err := stream.Encode(typ, data)
	require.NoError(t, err)
	s.emit(frame)
}

func testDeps(src *fakeSource) Deps {
	return Deps{Source: src, Clock: clock.NewFake(t0)}
}

func testCache() *querycache.Cache {
	return querycache.New(querycache.Options{Clock: clock.NewFake(t0)})
}

func detectionFrame(id, camera, label string, at time.Time) map[string]any {
	return map[string]any{
		"id":         id,
		"camera_id":  camera,
		"label":      label,
		"confidence": 0.9,
		"timestamp":  at.Format(time.RFC3339),
	}
}

func batchFrame(id, camera, status string, started time.Time, count int) map[string]any {
	return map[string]any{
		"batch_id":        id,
		"camera_id":       camera,
		"status":          status,
		"detection_count": count,
		"started_at":      started.Format(time.RFC3339),
	}
}

func crossingFrame(zone, entity, entityType string, at time.Time) map[string]any {
	return map[string]any{
		"zone_id":     zone,
		"camera_id":   "front",
		"entity_id":   entity,
		"entity_type": entityType,
		"timestamp":   at.Format(time.RFC3339),
	}
}

func anomalyFrame(id, zone, severity string) map[string]any {
	return map[string]any{
		"id":          id,
		"zone_id":     zone,
		"severity":    severity,
		"description": "loitering",
		"timestamp":   t0.Format(time.RFC3339),
	}
}

func eventFrame(id, camera string, score int, at time.Time) map[string]any {
	return map[string]any{
		"id":         id,
		"camera_id":  camera,
		"risk_score": score,
		"summary":    "person at door",
		"started_at": at.Format(time.RFC3339),
	}
}

// mockEventAPI is a testify mock of EventAPI
type mockEventAPI struct {
	mock.Mock
}

func (m *mockEventAPI) ListEvents(ctx context.Context, q api.EventQuery) (pagination.Page[stream.SecurityEvent], error) {
	args := m.Called(ctx, q)
	return args.Get(0).(pagination.Page[stream.SecurityEvent]), args.Error(1)
}

func (m *mockEventAPI) DeleteEvent(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockEventAPI) RestoreEvent(ctx context.Context, id string) (stream.SecurityEvent, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(stream.SecurityEvent), args.Error(1)
}

func (m *mockEventAPI) MarkReviewed(ctx context.Context, id string, reviewed bool) (stream.SecurityEvent, error) {
	args := m.Called(ctx, id, reviewed)
	return args.Get(0).(stream.SecurityEvent), args.Error(1)
}

// mockAnomalyAPI is a testify mock of AnomalyAPI
type mockAnomalyAPI struct {
	mock.Mock
}

func (m *mockAnomalyAPI) ZoneAnomalies(ctx context.Context, zoneID string) ([]stream.Anomaly, error) {
	args := m.Called(ctx, zoneID)
	return args.Get(0).([]stream.Anomaly), args.Error(1)
}

func (m *mockAnomalyAPI) AcknowledgeAnomaly(ctx context.Context, id string) (stream.Anomaly, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(stream.Anomaly), args.Error(1)
}
