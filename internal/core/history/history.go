// Package history implements the bounded, newest-first collections that
// push-driven feeds fold events into.
package history

import (
	"sort"
	"sync"
	"time"
)

// Mode selects how an insert treats an item whose id is already present
type Mode int

const (
	// PrependTruncate places new items at the head and drops the tail
	// past maxSize. Items whose id is already present are dropped.
	PrependTruncate Mode = iota
	// UpsertSort replaces items by id and keeps the collection sorted
	// newest first by a business timestamp.
	UpsertSort
)

// String implements the Stringer interface
func (m Mode) String() string {
	switch m {
	case PrependTruncate:
		return "prepend-truncate"
	case UpsertSort:
		return "upsert-sort"
	default:
		return "unknown"
	}
}

// Outcome describes what an upsert did
type Outcome int

const (
	Unchanged Outcome = iota
	Inserted
	Replaced
)

// Prepend inserts item at index 0 unless an item with the same id is
// already present. The result is truncated to maxSize; maxSize <= 0
// means unbounded. The input slice is never modified.
func Prepend[T any](items []T, item T, maxSize int, idOf func(T) string) ([]T, bool) {
	id := idOf(item)
	for _, existing := range items {
		if idOf(existing) == id {
			return items, false
		}
	}

	n := len(items) + 1
	if maxSize > 0 && n > maxSize {
		n = maxSize
	}
	out := make([]T, 0, n)
	out = append(out, item)
	out = append(out, items[:n-1]...)
	return out, true
}

// Upsert inserts or replaces item by id and returns the collection sorted
// newest first by sortKey. Items with equal sort keys keep their relative
// order. When equal reports that the stored item already matches, the
// input is returned as is. After an insert the oldest items past maxSize
// are evicted.
func Upsert[T any](items []T, item T, maxSize int, idOf func(T) string, sortKey func(T) time.Time, equal func(a, b T) bool) ([]T, Outcome) {
	id := idOf(item)
	index := -1
	for i, existing := range items {
		if idOf(existing) == id {
			index = i
			break
		}
	}

	out := make([]T, len(items), len(items)+1)
	copy(out, items)

	outcome := Inserted
	if index >= 0 {
		if equal != nil && equal(items[index], item) {
			return items, Unchanged
		}
		out[index] = item
		outcome = Replaced
	} else {
		out = append(out, item)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return sortKey(out[i]).After(sortKey(out[j]))
	})
	if outcome == Inserted && maxSize > 0 && len(out) > maxSize {
		for _, evicted := range out[maxSize:] {
			if idOf(evicted) == id {
				return items, Unchanged
			}
		}
		out = out[:maxSize]
	}
	return out, outcome
}

// Merge places item at its sortKey position in a newest-first
// collection. Unlike Prepend and Upsert it never evicts: the item is
// dropped when its id is already present or the collection holds maxSize
// items. Items with an equal sort key stay ahead of the merged one.
func Merge[T any](items []T, item T, maxSize int, idOf func(T) string, sortKey func(T) time.Time) ([]T, bool) {
	if maxSize > 0 && len(items) >= maxSize {
		return items, false
	}
	id := idOf(item)
	key := sortKey(item)
	at := len(items)
	for i, existing := range items {
		if idOf(existing) == id {
			return items, false
		}
		if at == len(items) && sortKey(existing).Before(key) {
			at = i
		}
	}

	out := make([]T, 0, len(items)+1)
	out = append(out, items[:at]...)
	out = append(out, item)
	out = append(out, items[at:]...)
	return out, true
}

// Config describes a History
type Config[T any] struct {
	Mode    Mode
	MaxSize int
	ID      func(T) string
	// SortKey is required in UpsertSort mode and by Merge.
	SortKey func(T) time.Time
	// Equal reports pure-update duplicates in UpsertSort mode. When nil,
	// every same-id insert is treated as a replacement.
	Equal func(a, b T) bool
}

// History is a goroutine-safe bounded collection with a session counter
type History[T any] struct {
	mu       sync.RWMutex
	config   Config[T]
	items    []T
	received int
}

// New creates an empty History
func New[T any](config Config[T]) *History[T] {
	if config.Mode == UpsertSort && config.SortKey == nil {
		panic("history: UpsertSort requires a SortKey")
	}
	return &History[T]{config: config}
}

// Insert folds item into the collection. It reports whether the
// collection changed.
//
// The received counter increments for every distinct append in
// PrependTruncate mode and for every new id in UpsertSort mode.
func (h *History[T]) Insert(item T) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch h.config.Mode {
	case UpsertSort:
		next, outcome := Upsert(h.items, item, h.config.MaxSize, h.config.ID, h.config.SortKey, h.config.Equal)
		if outcome == Unchanged {
			return false
		}
		h.items = next
		if outcome == Inserted {
			h.received++
		}
		return true
	default:
		next, added := Prepend(h.items, item, h.config.MaxSize, h.config.ID)
		if !added {
			return false
		}
		h.items = next
		h.received++
		return true
	}
}

// Merge folds an item that is older than the live feed, such as a REST
// backfill, into its timestamp position without evicting anything. It
// reports whether the item was kept; kept items count as received.
func (h *History[T]) Merge(item T) bool {
	if h.config.SortKey == nil {
		panic("history: Merge requires a SortKey")
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	next, added := Merge(h.items, item, h.config.MaxSize, h.config.ID, h.config.SortKey)
	if !added {
		return false
	}
	h.items = next
	h.received++
	return true
}

// Remove deletes the item with the given id
func (h *History[T]) Remove(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i, existing := range h.items {
		if h.config.ID(existing) == id {
			next := make([]T, 0, len(h.items)-1)
			next = append(next, h.items[:i]...)
			next = append(next, h.items[i+1:]...)
			h.items = next
			return true
		}
	}
	return false
}

// Get returns the item with the given id
func (h *History[T]) Get(id string) (T, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, existing := range h.items {
		if h.config.ID(existing) == id {
			return existing, true
		}
	}
	var zero T
	return zero, false
}

// Items returns a snapshot of the collection, newest first. Callers may
// keep the slice; later inserts never modify it.
func (h *History[T]) Items() []T {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.items
}

// Latest returns the head of the collection
func (h *History[T]) Latest() (T, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.items) == 0 {
		var zero T
		return zero, false
	}
	return h.items[0], true
}

// Len returns the current size
func (h *History[T]) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.items)
}

// Received returns the number of distinct items folded in since creation
// or the last Clear.
func (h *History[T]) Received() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.received
}

// Clear resets the collection and its counters
func (h *History[T]) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.items = nil
	h.received = 0
}
