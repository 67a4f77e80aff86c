package services

import (
	"context"
	"fmt"

	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/core/history"
	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/core/notification"
	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/core/stream"
)

// NotificationsOptions configure a Notifications service
type NotificationsOptions struct {
	// MinRisk is the lowest event risk level that raises a notification.
	// Defaults to high.
	MinRisk stream.Severity
	// SeenWindow is how many source ids are remembered for deduplication,
	// independent of the notification history size. Defaults to
	// DefaultNotificationSeenWindow.
	SeenWindow int
}

// DefaultNotificationSeenWindow bounds the ids remembered for dedupe
const DefaultNotificationSeenWindow = 4096

// Notifications turns high-risk security events, anomalies and backend
// notifications into user notifications. Each source object notifies at
// most once.
type Notifications struct {
	feed       *feed
	dispatcher *notification.Dispatcher
	minRisk    stream.Severity
	seenIDs    *history.History[string]
}

// NewNotifications subscribes to event, anomaly and notification frames
func NewNotifications(deps Deps, dispatcher *notification.Dispatcher, opts NotificationsOptions) *Notifications {
	deps = deps.withDefaults("notifications")
	if opts.MinRisk == "" {
		opts.MinRisk = stream.SeverityHigh
	}
	if opts.SeenWindow <= 0 {
		opts.SeenWindow = DefaultNotificationSeenWindow
	}
	n := &Notifications{
		dispatcher: dispatcher,
		minRisk:    opts.MinRisk,
		seenIDs: history.New(history.Config[string]{
			Mode:    history.PrependTruncate,
			MaxSize: opts.SeenWindow,
			ID:      func(id string) string { return id },
		}),
	}
	n.feed = newFeed(deps, []stream.Kind{stream.KindEvent, stream.KindAnomaly, stream.KindNotification}, n.handle)
	return n
}

func (n *Notifications) handle(ev stream.Event) {
	note, ok := n.notificationFor(ev)
	if !ok {
		return
	}
	if !n.seenIDs.Insert(note.ID) {
		return
	}
	n.dispatcher.Notify(context.Background(), note)
}

func (n *Notifications) notificationFor(ev stream.Event) (stream.Notification, bool) {
	switch p := ev.Payload.(type) {
	case stream.SecurityEvent:
		if !p.RiskLevel.AtLeast(n.minRisk) {
			return stream.Notification{}, false
		}
		return stream.Notification{
			ID:        "event:" + p.ID,
			Title:     fmt.Sprintf("%s risk event on %s (score %d)", p.RiskLevel, p.CameraID, p.RiskScore),
			Body:      p.Summary,
			Severity:  p.RiskLevel,
			CreatedAt: p.StartedAt,
		}, true
	case stream.Anomaly:
		return stream.Notification{
			ID:        "anomaly:" + p.ID,
			Title:     fmt.Sprintf("%s anomaly in zone %s", p.Severity, p.ZoneID),
			Body:      p.Description,
			Severity:  p.Severity,
			CreatedAt: p.DetectedAt,
		}, true
	case stream.Notification:
		return p, true
	default:
		return stream.Notification{}, false
	}
}

// History returns the notification history
func (n *Notifications) History() *notification.History {
	return n.dispatcher.History()
}

func (n *Notifications) Close() {
	n.feed.close()
}
