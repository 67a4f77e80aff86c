// Package notification keeps the desktop notification history and
// delivers alerts when the platform allows it.
package notification

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/core/clock"
	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/core/history"
	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/core/stream"
)

// ErrUnavailable is returned by notifiers that cannot deliver on this
// platform.
var ErrUnavailable = errors.New("notification: notifier unavailable")

// DefaultMaxHistory bounds the notification history
const DefaultMaxHistory = 50

// Permission mirrors the platform notification permission
type Permission string

const (
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
	PermissionDefault Permission = "default"
)

// Entry is one notification in the history
type Entry struct {
	stream.Notification
	Acknowledged bool `json:"acknowledged"`
	Delivered    bool `json:"delivered"`
}

// History is the upsert-by-id notification log, newest first
type History struct {
	mu      sync.Mutex
	entries *history.History[Entry]
}

// NewHistory creates a History keeping at most maxSize entries
func NewHistory(maxSize int) *History {
	if maxSize == 0 {
		maxSize = DefaultMaxHistory
	}
	return &History{
		entries: history.New(history.Config[Entry]{
			Mode:    history.UpsertSort,
			MaxSize: maxSize,
			ID:      func(e Entry) string { return e.ID },
			SortKey: func(e Entry) time.Time { return e.CreatedAt },
			Equal:   func(a, b Entry) bool { return a == b },
		}),
	}
}

// Record adds or replaces an entry. An update keeps the acknowledged flag
// of the stored entry.
func (h *History) Record(e Entry) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if existing, ok := h.entries.Get(e.ID); ok && existing.Acknowledged {
		e.Acknowledged = true
	}
	return h.entries.Insert(e)
}

// Acknowledge marks one entry as seen
func (h *History) Acknowledge(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.entries.Get(id)
	if !ok || e.Acknowledged {
		return false
	}
	e.Acknowledged = true
	return h.entries.Insert(e)
}

// AcknowledgeAll marks every entry as seen and returns how many changed
func (h *History) AcknowledgeAll() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, e := range h.entries.Items() {
		if e.Acknowledged {
			continue
		}
		e.Acknowledged = true
		h.entries.Insert(e)
		n++
	}
	return n
}

// Entries returns the history, newest first
func (h *History) Entries() []Entry {
	return h.entries.Items()
}

// Unacknowledged returns the count of entries not yet seen
func (h *History) Unacknowledged() int {
	n := 0
	for _, e := range h.entries.Items() {
		if !e.Acknowledged {
			n++
		}
	}
	return n
}

// Clear empties the history
func (h *History) Clear() {
	h.entries.Clear()
}

// Notifier delivers a notification to the user
type Notifier interface {
	Permission() Permission
	Notify(ctx context.Context, n stream.Notification) error
}

// Dispatcher records every notification and delivers it when the
// notifier is available and permitted. Missing capability degrades to
// record-only rather than failing.
type Dispatcher struct {
	history  *History
	notifier Notifier
	clock    clock.Clock
	logger   hclog.Logger
	// MinSeverity filters which notifications are delivered; lower ones
	// are still recorded.
	MinSeverity stream.Severity
}

// NewDispatcher creates a Dispatcher. notifier may be nil.
func NewDispatcher(h *History, notifier Notifier, clk clock.Clock, logger hclog.Logger) *Dispatcher {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Dispatcher{history: h, notifier: notifier, clock: clk, logger: logger, MinSeverity: stream.SeverityLow}
}

// History returns the dispatcher's history
func (d *Dispatcher) History() *History {
	return d.history
}

// Notify records n and tries to deliver it. Missing ids and timestamps
// are filled in. It reports whether the notification was delivered.
func (d *Dispatcher) Notify(ctx context.Context, n stream.Notification) bool {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = d.clock.Now()
	}
	if n.Severity == "" {
		n.Severity = stream.SeverityLow
	}

	delivered := false
	switch {
	case d.notifier == nil:
	case !n.Severity.AtLeast(d.MinSeverity):
	case d.notifier.Permission() != PermissionGranted:
		d.logger.Debug("notification permission not granted", "permission", d.notifier.Permission())
	default:
		if err := d.notifier.Notify(ctx, n); err != nil {
			d.logger.Debug("notification delivery failed", "id", n.ID, "error", err)
		} else {
			delivered = true
		}
	}

	d.history.Record(Entry{Notification: n, Delivered: delivered})
	return delivered
}
