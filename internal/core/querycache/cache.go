// Package querycache is the key-addressed pull cache shared by every
// service. Entries are only ever replaced whole under the cache lock, so
// readers never observe a half-applied transform.
package querycache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/singleflight"

	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/core/clock"
)

// ErrNotCached is returned by typed getters for absent keys
var ErrNotCached = errors.New("querycache: key not cached")

// DefaultStaleTime is used when neither the cache nor the caller sets one
const DefaultStaleTime = 30 * time.Second

// Key addresses a cache entry, e.g. ["events", "list", "camera=front"]
type Key []string

// String renders the key for logs and map lookups
func (k Key) String() string {
	return strings.Join(k, "/")
}

// HasPrefix reports whether prefix addresses k or one of its ancestors
func (k Key) HasPrefix(prefix Key) bool {
	if len(prefix) > len(k) {
		return false
	}
	for i := range prefix {
		if k[i] != prefix[i] {
			return false
		}
	}
	return true
}

func (k Key) id() string {
	return strings.Join(k, "\x1f")
}

// Entry is a snapshot of one cached value
type Entry struct {
	Key       Key
	Data      any
	UpdatedAt time.Time
	StaleAt   time.Time
	Fetching  bool
	Err       error
	// Version increments on every write to Data.
	Version uint64
}

// IsStale reports whether the entry should be revalidated at now
func (e Entry) IsStale(now time.Time) bool {
	return !now.Before(e.StaleAt)
}

// ChangeType classifies a Change notification
type ChangeType string

const (
	ChangeSet         ChangeType = "set"
	ChangeInvalidated ChangeType = "invalidated"
	ChangeRemoved     ChangeType = "removed"
)

// Change is delivered to subscribers after an entry changes
type Change struct {
	Type  ChangeType
	Key   Key
	Entry Entry
}

// Options configure a Cache
type Options struct {
	Clock     clock.Clock
	Logger    hclog.Logger
	StaleTime time.Duration
}

type subscription struct {
	prefix Key
	fn     func(Change)
}

// Cache is a goroutine-safe key-addressed store of pull-fetched data
type Cache struct {
	mu        sync.Mutex
	clock     clock.Clock
	logger    hclog.Logger
	staleTime time.Duration

	entries  map[string]Entry
	inflight map[string]bool
	pending  map[string][]func(any) any

	subs    map[uint64]subscription
	nextSub uint64

	group singleflight.Group
}

// New creates an empty cache
func New(opts Options) *Cache {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = hclog.NewNullLogger()
	}
	if opts.StaleTime <= 0 {
		opts.StaleTime = DefaultStaleTime
	}
	return &Cache{
		clock:     opts.Clock,
		logger:    opts.Logger,
		staleTime: opts.StaleTime,
		entries:   make(map[string]Entry),
		inflight:  make(map[string]bool),
		pending:   make(map[string][]func(any) any),
		subs:      make(map[uint64]subscription),
	}
}

// Get returns the entry stored under key
func (c *Cache) Get(key Key) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key.id()]
	return e, ok
}

// Snapshot returns the data stored under key. The value is returned as
// stored, so a later rollback can restore the very same value.
func (c *Cache) Snapshot(key Key) (any, bool) {
	e, ok := c.Get(key)
	if !ok {
		return nil, false
	}
	return e.Data, true
}

// Keys returns the keys of every entry under prefix
func (c *Cache) Keys(prefix Key) []Key {
	c.mu.Lock()
	defer c.mu.Unlock()
	var keys []Key
	for _, e := range c.entries {
		if e.Key.HasPrefix(prefix) {
			keys = append(keys, e.Key)
		}
	}
	return keys
}

// SetEntry stores value under key as fresh data
func (c *Cache) SetEntry(key Key, value any) {
	c.mu.Lock()
	change := c.writeLocked(key, value, c.staleTime)
	c.mu.Unlock()
	c.publish(change)
}

func (c *Cache) writeLocked(key Key, value any, staleTime time.Duration) Change {
	now := c.clock.Now()
	prev := c.entries[key.id()]
	e := Entry{
		Key:       append(Key(nil), key...),
		Data:      value,
		UpdatedAt: now,
		StaleAt:   now.Add(staleTime),
		Fetching:  prev.Fetching,
		Version:   prev.Version + 1,
	}
	c.entries[key.id()] = e
	return Change{Type: ChangeSet, Key: e.Key, Entry: e}
}

// Update applies fn to the data stored under key as one atomic whole-entry
// replacement. It returns false, leaving the cache untouched, when key is
// absent. fn must not call back into the cache.
func (c *Cache) Update(key Key, fn func(current any) any) bool {
	c.mu.Lock()
	e, ok := c.entries[key.id()]
	if !ok {
		c.mu.Unlock()
		return false
	}
	change := c.transformLocked(e, fn)
	c.mu.Unlock()
	c.publish(change)
	return true
}

// transformLocked rewrites the data of e keeping its freshness window.
func (c *Cache) transformLocked(e Entry, fn func(any) any) Change {
	next := e
	next.Data = fn(e.Data)
	next.UpdatedAt = c.clock.Now()
	next.Version = e.Version + 1
	c.entries[e.Key.id()] = next
	return Change{Type: ChangeSet, Key: next.Key, Entry: next}
}

// ApplyPush applies a push-driven transform. When the entry exists it is
// transformed immediately. When a fetch for key is in flight the transform
// is also queued and replayed on the fetched data, so updates racing the
// initial fetch are never lost; transforms must therefore be idempotent.
// When the entry is absent and nothing is fetching, the cache is left
// untouched and ApplyPush returns false.
func (c *Cache) ApplyPush(key Key, fn func(current any) any) bool {
	c.mu.Lock()
	id := key.id()
	fetching := c.inflight[id]
	if fetching {
		c.pending[id] = append(c.pending[id], fn)
	}
	e, ok := c.entries[id]
	if !ok {
		c.mu.Unlock()
		if fetching {
			c.logger.Debug("queued push until fetch completes", "key", key.String())
		}
		return fetching
	}
	change := c.transformLocked(e, fn)
	c.mu.Unlock()
	c.publish(change)
	return true
}

// MarkStale forces the next Fetch of key to revalidate
func (c *Cache) MarkStale(key Key) bool {
	c.mu.Lock()
	e, ok := c.entries[key.id()]
	if !ok {
		c.mu.Unlock()
		return false
	}
	e.StaleAt = c.clock.Now()
	c.entries[key.id()] = e
	c.mu.Unlock()
	c.publish(Change{Type: ChangeInvalidated, Key: e.Key, Entry: e})
	return true
}

// Invalidate marks every entry under prefix stale and notifies
// subscribers so dependent views refetch. It returns the number of
// entries affected.
func (c *Cache) Invalidate(prefix Key) int {
	c.mu.Lock()
	now := c.clock.Now()
	var changes []Change
	for id, e := range c.entries {
		if !e.Key.HasPrefix(prefix) {
			continue
		}
		e.StaleAt = now
		c.entries[id] = e
		changes = append(changes, Change{Type: ChangeInvalidated, Key: e.Key, Entry: e})
	}
	c.mu.Unlock()

	for _, change := range changes {
		c.publish(change)
	}
	if len(changes) > 0 {
		c.logger.Debug("invalidated cache entries", "prefix", prefix.String(), "count", len(changes))
	}
	return len(changes)
}

// Remove deletes the entry stored under key
func (c *Cache) Remove(key Key) bool {
	c.mu.Lock()
	e, ok := c.entries[key.id()]
	if ok {
		delete(c.entries, key.id())
	}
	c.mu.Unlock()
	if ok {
		c.publish(Change{Type: ChangeRemoved, Key: e.Key, Entry: e})
	}
	return ok
}

// Subscribe registers fn for changes under prefix. fn runs on the
// goroutine that made the change, after the cache lock is released. The
// returned function unsubscribes and is safe to call more than once.
func (c *Cache) Subscribe(prefix Key, fn func(Change)) func() {
	c.mu.Lock()
	c.nextSub++
	id := c.nextSub
	c.subs[id] = subscription{prefix: append(Key(nil), prefix...), fn: fn}
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
		})
	}
}

func (c *Cache) publish(change Change) {
	c.mu.Lock()
	targets := make([]func(Change), 0, len(c.subs))
	for _, s := range c.subs {
		if change.Key.HasPrefix(s.prefix) {
			targets = append(targets, s.fn)
		}
	}
	c.mu.Unlock()

	for _, fn := range targets {
		fn(change)
	}
}

// Fetcher loads the authoritative value for a key
type Fetcher func(ctx context.Context) (any, error)

// Fetch returns cached data when it is fresh and otherwise calls fetcher.
// Concurrent fetches of one key share a single call. Pushes queued while
// the fetch was in flight are replayed on the result before it is stored.
// A failed fetch keeps any previous data and records the error on the
// entry. staleTime <= 0 uses the cache default.
func (c *Cache) Fetch(ctx context.Context, key Key, staleTime time.Duration, fetcher Fetcher) (any, error) {
	if staleTime <= 0 {
		staleTime = c.staleTime
	}
	if e, ok := c.Get(key); ok && e.Err == nil && !e.IsStale(c.clock.Now()) {
		return e.Data, nil
	}

	id := key.id()
	v, err, _ := c.group.Do(id, func() (any, error) {
		c.beginFetch(key)
		data, err := fetcher(ctx)
		return c.finishFetch(key, staleTime, data, err)
	})
	return v, err
}

func (c *Cache) beginFetch(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := key.id()
	c.inflight[id] = true
	if e, ok := c.entries[id]; ok {
		e.Fetching = true
		c.entries[id] = e
	}
}

func (c *Cache) finishFetch(key Key, staleTime time.Duration, data any, fetchErr error) (any, error) {
	c.mu.Lock()
	id := key.id()
	delete(c.inflight, id)

	if fetchErr != nil {
		// Pushes queued for a fetch that never produced data are discarded;
		// the next successful fetch returns state that already includes them.
		dropped := len(c.pending[id])
		delete(c.pending, id)
		var change *Change
		if e, ok := c.entries[id]; ok {
			e.Fetching = false
			e.Err = fetchErr
			c.entries[id] = e
			change = &Change{Type: ChangeSet, Key: e.Key, Entry: e}
		}
		c.mu.Unlock()
		if change != nil {
			c.publish(*change)
		}
		c.logger.Debug("fetch failed", "key", key.String(), "error", fetchErr, "dropped_pushes", dropped)
		return nil, fmt.Errorf("fetch %s: %w", key, fetchErr)
	}

	queued := c.pending[id]
	delete(c.pending, id)
	for _, fn := range queued {
		data = fn(data)
	}
	change := c.writeLocked(key, data, staleTime)
	e := c.entries[id]
	e.Fetching = false
	c.entries[id] = e
	change.Entry = e
	c.mu.Unlock()

	if len(queued) > 0 {
		c.logger.Debug("replayed queued pushes", "key", key.String(), "count", len(queued))
	}
	c.publish(change)
	return data, nil
}

// GetAs returns the typed data stored under key
func GetAs[T any](c *Cache, key Key) (T, error) {
	var zero T
	data, ok := c.Snapshot(key)
	if !ok {
		return zero, ErrNotCached
	}
	typed, ok := data.(T)
	if !ok {
		return zero, fmt.Errorf("querycache: %s holds %T", key, data)
	}
	return typed, nil
}

// FetchAs is Fetch with a typed fetcher and result
func FetchAs[T any](ctx context.Context, c *Cache, key Key, staleTime time.Duration, fetcher func(context.Context) (T, error)) (T, error) {
	var zero T
	data, err := c.Fetch(ctx, key, staleTime, func(ctx context.Context) (any, error) {
		return fetcher(ctx)
	})
	if err != nil {
		return zero, err
	}
	typed, ok := data.(T)
	if !ok {
		return zero, fmt.Errorf("querycache: %s holds %T", key, data)
	}
	return typed, nil
}

// UpdateAs is a typed Update. Entries holding another type are left
// untouched.
func UpdateAs[T any](c *Cache, key Key, fn func(T) T) bool {
	return c.Update(key, typed(fn))
}

// ApplyPushAs is a typed ApplyPush.
func ApplyPushAs[T any](c *Cache, key Key, fn func(T) T) bool {
	return c.ApplyPush(key, typed(fn))
}

func typed[T any](fn func(T) T) func(any) any {
	return func(current any) any {
		v, ok := current.(T)
		if !ok {
			return current
		}
		return fn(v)
	}
}
