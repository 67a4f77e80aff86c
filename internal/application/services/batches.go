package services

import (
	"sync"
	"time"

	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/core/history"
	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/core/stream"
	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/core/views"
)

// DefaultBatchHistory bounds both batch collections
const DefaultBatchHistory = 50

// BatchTrackerOptions configure a BatchTracker
type BatchTrackerOptions struct {
	MaxActive    int
	MaxCompleted int
}

// BatchTracker follows detection batches from processing to closure.
// Processing batches are upserted by id; a batch that completes or fails
// moves to the completed history and later updates for it are ignored.
type BatchTracker struct {
	feed      *feed
	mu        sync.Mutex
	active    *history.History[stream.BatchUpdate]
	completed *history.History[stream.BatchUpdate]
}

// NewBatchTracker subscribes to batch frames
func NewBatchTracker(deps Deps, opts BatchTrackerOptions) *BatchTracker {
	deps = deps.withDefaults("batches")
	if opts.MaxActive == 0 {
		opts.MaxActive = DefaultBatchHistory
	}
	if opts.MaxCompleted == 0 {
		opts.MaxCompleted = DefaultBatchHistory
	}
	t := &BatchTracker{
		active: history.New(history.Config[stream.BatchUpdate]{
			Mode:    history.UpsertSort,
			MaxSize: opts.MaxActive,
			ID:      batchID,
			SortKey: func(b stream.BatchUpdate) time.Time { return b.StartedAt },
			Equal:   batchEqual,
		}),
		completed: history.New(history.Config[stream.BatchUpdate]{
			Mode:    history.PrependTruncate,
			MaxSize: opts.MaxCompleted,
			ID:      batchID,
		}),
	}
	t.feed = newFeed(deps, []stream.Kind{stream.KindBatch}, t.handle)
	return t
}

func batchID(b stream.BatchUpdate) string { return b.BatchID }

func batchEqual(a, b stream.BatchUpdate) bool {
	return a.Status == b.Status &&
		a.DetectionCount == b.DetectionCount &&
		a.StartedAt.Equal(b.StartedAt) &&
		a.DurationSeconds == b.DurationSeconds
}

func (t *BatchTracker) handle(ev stream.Event) {
	b, ok := ev.Payload.(stream.BatchUpdate)
	if !ok {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, done := t.completed.Get(b.BatchID); done {
		return
	}
	if b.Status.IsClosed() {
		t.active.Remove(b.BatchID)
		t.completed.Insert(b)
		return
	}
	t.active.Insert(b)
}

// Active returns the processing batches, newest first by start time
func (t *BatchTracker) Active() []stream.BatchUpdate {
	return t.active.Items()
}

// Completed returns the closed batches, most recently closed first
func (t *BatchTracker) Completed() []stream.BatchUpdate {
	return t.completed.Items()
}

// Views derives the filtered batch views and statistics
func (t *BatchTracker) Views(f views.FilterState) views.BatchViews {
	t.mu.Lock()
	active, completed := t.active.Items(), t.completed.Items()
	t.mu.Unlock()
	return views.DeriveBatchViews(active, completed, f)
}

func (t *BatchTracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active.Clear()
	t.completed.Clear()
}

func (t *BatchTracker) Close() {
	t.feed.close()
}
