package services

import (
	"slices"
	"sync"
	"time"

	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/core/history"
	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/core/stream"
	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/core/views"
)

// DefaultDetectionHistory bounds the detection feed
const DefaultDetectionHistory = 100

// DetectionStreamOptions configure a DetectionStream
type DetectionStreamOptions struct {
	MaxSize int
	// OnDetection runs for every new detection, on the receive goroutine.
	OnDetection func(stream.Detection)
}

// DetectionStream keeps the newest detections pushed by the backend
type DetectionStream struct {
	feed        *feed
	history     *history.History[stream.Detection]
	onDetection func(stream.Detection)

	mu     sync.RWMutex
	filter views.FilterState
}

// NewDetectionStream subscribes to detection frames
func NewDetectionStream(deps Deps, opts DetectionStreamOptions) *DetectionStream {
	deps = deps.withDefaults("detections")
	if opts.MaxSize == 0 {
		opts.MaxSize = DefaultDetectionHistory
	}
	s := &DetectionStream{
		history: history.New(history.Config[stream.Detection]{
			Mode:    history.PrependTruncate,
			MaxSize: opts.MaxSize,
			ID:      detectionID,
			SortKey: detectionAt,
		}),
		onDetection: opts.OnDetection,
	}
	s.feed = newFeed(deps, []stream.Kind{stream.KindDetection}, s.handle)
	return s
}

func detectionID(d stream.Detection) string    { return d.ID }
func detectionAt(d stream.Detection) time.Time { return d.DetectedAt }

func (s *DetectionStream) handle(ev stream.Event) {
	d, ok := ev.Payload.(stream.Detection)
	if !ok {
		return
	}
	if s.history.Insert(d) && s.onDetection != nil {
		s.onDetection(d)
	}
}

// Backfill merges detections fetched over REST into the feed by
// DetectedAt without firing OnDetection. Live pushes that arrived first
// are never displaced: ids already held are skipped and, once the feed
// is full, the remaining older backfill is dropped.
func (s *DetectionStream) Backfill(detections []stream.Detection) {
	if s.feed.isClosed() {
		return
	}
	sorted := slices.Clone(detections)
	slices.SortStableFunc(sorted, func(a, b stream.Detection) int {
		return b.DetectedAt.Compare(a.DetectedAt)
	})
	for _, d := range sorted {
		s.history.Merge(d)
	}
}

// SetFilter narrows Detections and Summary
func (s *DetectionStream) SetFilter(f views.FilterState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filter = f
}

// Filter returns the current filter
func (s *DetectionStream) Filter() views.FilterState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filter
}

// Detections returns the filtered feed, newest first
func (s *DetectionStream) Detections() []stream.Detection {
	return views.Filter(s.history.Items(), s.Filter(), views.DetectionKeys)
}

// Latest returns the newest detection regardless of the filter
func (s *DetectionStream) Latest() (stream.Detection, bool) {
	return s.history.Latest()
}

// TotalReceived counts distinct detections since start or Clear
func (s *DetectionStream) TotalReceived() int {
	return s.history.Received()
}

// Summary aggregates the filtered feed
func (s *DetectionStream) Summary() views.DetectionStats {
	return views.DetectionSummary(s.history.Items(), s.Filter())
}

func (s *DetectionStream) Clear() {
	s.history.Clear()
}

// Close stops the feed. The collected detections stay readable.
func (s *DetectionStream) Close() {
	s.feed.close()
}
