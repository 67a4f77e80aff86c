package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/core/pagination"
	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/core/querycache"
	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/core/reconcile"
	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/core/stream"
	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/core/views"
	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/infrastructure/api"
	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/infrastructure/offline"
)

// ErrOfflineDisabled is returned by Offline when no store is configured
var ErrOfflineDisabled = errors.New("services: offline cache disabled")

// EventListPrefix addresses every cached events list
var EventListPrefix = querycache.Key{"events", "list"}

// EventListKey addresses the events list of one filter
func EventListKey(f views.FilterState) querycache.Key {
	return querycache.Key{"events", "list", f.Key()}
}

// OfflineStore is the part of the offline cache the event feed uses
type OfflineStore interface {
	PutEvent(ctx context.Context, ev stream.SecurityEvent) error
	PutEvents(ctx context.Context, events []stream.SecurityEvent) error
	Events(ctx context.Context, cameraID string, limit int) ([]stream.SecurityEvent, error)
	Delete(ctx context.Context, kind stream.Kind, id string) error
}

// EventFeedOptions configure an EventFeed
type EventFeedOptions struct {
	PageSize  int
	StaleTime time.Duration
	// Offline receives every fetched and pushed event. May be nil.
	Offline OfflineStore
}

// EventFeed is the cursor-paged security event list. Pushed events are
// reconciled into every cached list whose filter they match.
type EventFeed struct {
	feed   *feed
	cache  *querycache.Cache
	client EventAPI
	opts   EventFeedOptions
	logger hclog.Logger

	mu      sync.Mutex
	filters map[string]views.FilterState
}

// NewEventFeed subscribes to security event frames
func NewEventFeed(deps Deps, cache *querycache.Cache, client EventAPI, opts EventFeedOptions) *EventFeed {
	deps = deps.withDefaults("events")
	if opts.PageSize == 0 {
		opts.PageSize = 25
	}
	f := &EventFeed{
		cache:   cache,
		client:  client,
		opts:    opts,
		logger:  deps.Logger,
		filters: make(map[string]views.FilterState),
	}
	f.feed = newFeed(deps, []stream.Kind{stream.KindEvent}, f.handle)
	return f
}

func eventID(e stream.SecurityEvent) string { return e.ID }

func eventKeys(e stream.SecurityEvent) (stream.Keys, string) {
	return stream.Keys{CameraID: e.CameraID}, string(stream.KindEvent)
}

func (f *EventFeed) handle(ev stream.Event) {
	e, ok := ev.Payload.(stream.SecurityEvent)
	if !ok {
		return
	}
	for key, filter := range f.registered() {
		if !filter.Matches(eventKeys(e)) {
			continue
		}
		reconcile.InsertOrPatchPages(f.cache, querycache.Key{"events", "list", key}, e, eventID)
	}
	if f.opts.Offline != nil {
		if err := f.opts.Offline.PutEvent(context.Background(), e); err != nil {
			f.logger.Warn("failed to cache event offline", "id", e.ID, "error", err)
		}
	}
}

func (f *EventFeed) registered() map[string]views.FilterState {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]views.FilterState, len(f.filters))
	for k, v := range f.filters {
		out[k] = v
	}
	return out
}

func (f *EventFeed) register(filter views.FilterState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filters[filter.Key()] = filter
}

func (f *EventFeed) query(filter views.FilterState, cursor string) api.EventQuery {
	q := api.EventQuery{Cursor: cursor, Limit: f.opts.PageSize}
	if filter.CameraID != views.All {
		q.CameraID = filter.CameraID
	}
	return q
}

// Pages returns the cached pages of a filtered list, fetching the first
// page when the list is missing or stale. A refetch replaces any pages
// loaded with LoadMore.
func (f *EventFeed) Pages(ctx context.Context, filter views.FilterState) ([]pagination.Page[stream.SecurityEvent], error) {
	if f.feed.isClosed() {
		return nil, ErrClosed
	}
	if f.client == nil {
		return nil, ErrNoAPI
	}
	f.register(filter)
	return querycache.FetchAs(ctx, f.cache, EventListKey(filter), f.opts.StaleTime,
		func(ctx context.Context) ([]pagination.Page[stream.SecurityEvent], error) {
			page, err := f.client.ListEvents(ctx, f.query(filter, ""))
			if err != nil {
				return nil, err
			}
			f.persist(ctx, page.Items)
			return []pagination.Page[stream.SecurityEvent]{page}, nil
		})
}

// Events returns the flattened, de-duplicated list
func (f *EventFeed) Events(ctx context.Context, filter views.FilterState) ([]stream.SecurityEvent, error) {
	pages, err := f.Pages(ctx, filter)
	if err != nil {
		return nil, err
	}
	return pagination.Flatten(pages, eventID), nil
}

// HasMore reports whether the cached list has a next page
func (f *EventFeed) HasMore(filter views.FilterState) bool {
	pages, err := querycache.GetAs[[]pagination.Page[stream.SecurityEvent]](f.cache, EventListKey(filter))
	return err == nil && pagination.HasNextPage(pages)
}

// LoadMore fetches the next page of a cached list. It reports false when
// there is nothing more to load.
func (f *EventFeed) LoadMore(ctx context.Context, filter views.FilterState) (bool, error) {
	if f.feed.isClosed() {
		return false, ErrClosed
	}
	if f.client == nil {
		return false, ErrNoAPI
	}
	key := EventListKey(filter)
	pages, err := querycache.GetAs[[]pagination.Page[stream.SecurityEvent]](f.cache, key)
	if err != nil {
		return false, err
	}
	cursor, ok := pagination.NextCursor(pages)
	if !ok {
		return false, nil
	}
	page, err := f.client.ListEvents(ctx, f.query(filter, cursor))
	if err != nil {
		return false, fmt.Errorf("load events after %s: %w", cursor, err)
	}
	f.persist(ctx, page.Items)
	querycache.UpdateAs(f.cache, key, func(current []pagination.Page[stream.SecurityEvent]) []pagination.Page[stream.SecurityEvent] {
		if next, ok := pagination.NextCursor(current); !ok || next != cursor {
			return current
		}
		out := make([]pagination.Page[stream.SecurityEvent], 0, len(current)+1)
		out = append(out, current...)
		return append(out, page)
	})
	return true, nil
}

func (f *EventFeed) persist(ctx context.Context, events []stream.SecurityEvent) {
	if f.opts.Offline == nil || len(events) == 0 {
		return
	}
	if err := f.opts.Offline.PutEvents(ctx, events); err != nil {
		f.logger.Warn("failed to cache events offline", "count", len(events), "error", err)
	}
}

func patchEvents(id string, fn func(stream.SecurityEvent) stream.SecurityEvent) func(querycache.Key, any) any {
	return func(_ querycache.Key, current any) any {
		pages, ok := current.([]pagination.Page[stream.SecurityEvent])
		if !ok {
			return current
		}
		return pagination.Map(pages, func(e stream.SecurityEvent) stream.SecurityEvent {
			if e.ID != id {
				return e
			}
			return fn(e)
		})
	}
}

// Delete soft-deletes an event. It disappears from every cached list at
// once and comes back if the server rejects the delete.
func (f *EventFeed) Delete(ctx context.Context, id string) error {
	if f.feed.isClosed() {
		return ErrClosed
	}
	if f.client == nil {
		return ErrNoAPI
	}
	_, err := querycache.Mutate(ctx, f.cache, querycache.Mutation[struct{}]{
		Name:    "delete event",
		Targets: []querycache.Key{EventListPrefix},
		Apply: func(_ querycache.Key, current any) any {
			pages, ok := current.([]pagination.Page[stream.SecurityEvent])
			if !ok {
				return current
			}
			return reconcile.RemoveFromPages(pages, id, eventID)
		},
		Commit: func(ctx context.Context) (struct{}, error) {
			return struct{}{}, f.client.DeleteEvent(ctx, id)
		},
	})
	if err != nil {
		return err
	}
	if f.opts.Offline != nil {
		if err := f.opts.Offline.Delete(ctx, stream.KindEvent, id); err != nil && !errors.Is(err, offline.ErrNotFound) {
			f.logger.Warn("failed to drop offline event", "id", id, "error", err)
		}
	}
	return nil
}

// Restore undoes a soft delete. Cached lists are invalidated so the event
// reappears in the position the server gives it.
func (f *EventFeed) Restore(ctx context.Context, id string) (stream.SecurityEvent, error) {
	if f.feed.isClosed() {
		return stream.SecurityEvent{}, ErrClosed
	}
	if f.client == nil {
		return stream.SecurityEvent{}, ErrNoAPI
	}
	ev, err := querycache.Mutate(ctx, f.cache, querycache.Mutation[stream.SecurityEvent]{
		Name:    "restore event",
		Targets: []querycache.Key{EventListPrefix},
		Commit: func(ctx context.Context) (stream.SecurityEvent, error) {
			return f.client.RestoreEvent(ctx, id)
		},
	})
	if err != nil {
		return stream.SecurityEvent{}, err
	}
	f.persist(ctx, []stream.SecurityEvent{ev})
	return ev, nil
}

// MarkReviewed flags an event as reviewed in every cached list, rolling
// back if the server rejects it.
func (f *EventFeed) MarkReviewed(ctx context.Context, id string) (stream.SecurityEvent, error) {
	if f.feed.isClosed() {
		return stream.SecurityEvent{}, ErrClosed
	}
	if f.client == nil {
		return stream.SecurityEvent{}, ErrNoAPI
	}
	ev, err := querycache.Mutate(ctx, f.cache, querycache.Mutation[stream.SecurityEvent]{
		Name:    "mark event reviewed",
		Targets: []querycache.Key{EventListPrefix},
		Apply: patchEvents(id, func(e stream.SecurityEvent) stream.SecurityEvent {
			e.Reviewed = true
			return e
		}),
		Revert: patchEvents(id, func(e stream.SecurityEvent) stream.SecurityEvent {
			e.Reviewed = false
			return e
		}),
		Commit: func(ctx context.Context) (stream.SecurityEvent, error) {
			return f.client.MarkReviewed(ctx, id, true)
		},
	})
	if err != nil {
		return stream.SecurityEvent{}, err
	}
	f.persist(ctx, []stream.SecurityEvent{ev})
	return ev, nil
}

// Offline returns the events kept in the offline store, newest first
func (f *EventFeed) Offline(ctx context.Context, filter views.FilterState) ([]stream.SecurityEvent, error) {
	if f.opts.Offline == nil {
		return nil, ErrOfflineDisabled
	}
	camera := filter.CameraID
	if camera == views.All {
		camera = ""
	}
	return f.opts.Offline.Events(ctx, camera, 0)
}

func (f *EventFeed) Close() {
	f.feed.close()
}
