// Package services composes the core packages into the long-lived feeds
// a client process runs: one service per push feed, each folding frames
// from a shared connection into its own history or the shared cache.
package services

import (
	"context"
	"errors"
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/core/clock"
	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/core/pagination"
	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/core/stream"
	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/infrastructure/api"
)

// ErrClosed is returned by service operations after Close
var ErrClosed = errors.New("services: service closed")

// ErrNoAPI is returned by pull and mutation operations of a service built
// without a REST client
var ErrNoAPI = errors.New("services: backend API not configured")

// Source delivers raw push frames. *connection.Lifecycle implements it.
type Source interface {
	Subscribe(handler func(frame []byte)) func()
}

// EventAPI is the part of the REST client the event feed needs
type EventAPI interface {
	ListEvents(ctx context.Context, q api.EventQuery) (pagination.Page[stream.SecurityEvent], error)
	DeleteEvent(ctx context.Context, id string) error
	RestoreEvent(ctx context.Context, id string) (stream.SecurityEvent, error)
	MarkReviewed(ctx context.Context, id string, reviewed bool) (stream.SecurityEvent, error)
}

// AnomalyAPI is the part of the REST client zone activity needs
type AnomalyAPI interface {
	ZoneAnomalies(ctx context.Context, zoneID string) ([]stream.Anomaly, error)
	AcknowledgeAnomaly(ctx context.Context, id string) (stream.Anomaly, error)
}

// Deps are shared by every service
type Deps struct {
	Source Source
	Clock  clock.Clock
	Logger hclog.Logger
}

func (d Deps) withDefaults(name string) Deps {
	if d.Clock == nil {
		d.Clock = clock.Real()
	}
	if d.Logger == nil {
		d.Logger = hclog.NewNullLogger()
	}
	d.Logger = d.Logger.Named(name)
	return d
}

// feed decodes frames for one service and drops everything after Close.
// Handlers run on the source's receive goroutine.
type feed struct {
	clock  clock.Clock
	logger hclog.Logger

	mu          sync.RWMutex
	closed      bool
	unsubscribe func()
}

func newFeed(deps Deps, kinds []stream.Kind, handle func(stream.Event)) *feed {
	f := &feed{clock: deps.Clock, logger: deps.Logger}
	if deps.Source == nil {
		return f
	}
	wanted := make(map[stream.Kind]bool, len(kinds))
	for _, k := range kinds {
		wanted[k] = true
	}
	f.unsubscribe = deps.Source.Subscribe(func(frame []byte) {
		f.mu.RLock()
		defer f.mu.RUnlock()
		if f.closed {
			return
		}
		ev, ok := stream.Decode(frame, f.clock.Now())
		if !ok {
			f.logger.Debug("dropping invalid frame", "size", len(frame))
			return
		}
		if !wanted[ev.Kind] {
			return
		}
		handle(ev)
	})
	return f
}

// isClosed reports whether Close has run
func (f *feed) isClosed() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.closed
}

// close unsubscribes and waits for an in-flight handler to return
func (f *feed) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	if f.unsubscribe != nil {
		f.unsubscribe()
	}
}
