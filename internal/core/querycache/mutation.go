package querycache

import (
	"context"
	"fmt"
)

// MutationError is returned when a user-triggered mutation fails. The
// cache has already been rolled back when it is returned.
type MutationError struct {
	Mutation string
	Message  string
	Err      error
}

// Error implements the error interface
func (e *MutationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

// Unwrap returns the underlying commit error
func (e *MutationError) Unwrap() error {
	return e.Err
}

// Mutation describes a snapshot / optimistic-apply / rollback-or-invalidate
// write against the cache.
type Mutation[V any] struct {
	// Name identifies the mutation in logs and errors.
	Name string
	// Message is the human-readable failure message. Defaults to
	// "failed to <Name>".
	Message string
	// Targets are the key prefixes whose existing entries receive Apply.
	Targets []Key
	// Apply is the optimistic transform of one entry's data.
	Apply func(key Key, current any) any
	// Revert undoes Apply on data that was changed by someone else after
	// the optimistic write. Optional; without it such entries are left for
	// the invalidation to correct.
	Revert func(key Key, current any) any
	// Commit performs the server write.
	Commit func(ctx context.Context) (V, error)
	// Invalidates are the prefixes invalidated once the mutation settles.
	// Defaults to Targets.
	Invalidates []Key
}

type applied struct {
	key      Key
	snapshot Entry
	version  uint64
}

// Mutate runs m against c. Every targeted entry is snapshotted and
// optimistically transformed before Commit runs. When Commit fails, each
// entry still holding this mutation's optimistic write is restored to the
// exact snapshotted value; entries rewritten since then get Revert
// instead, so concurrent mutations never undo each other. Success or
// failure, the Invalidates prefixes are invalidated before Mutate returns.
func Mutate[V any](ctx context.Context, c *Cache, m Mutation[V]) (V, error) {
	var done []applied
	if m.Apply != nil {
		done = c.applyOptimistic(m.Targets, m.Apply)
	}

	result, err := m.Commit(ctx)
	if err != nil {
		c.rollback(done, m.Revert)
	}

	invalidates := m.Invalidates
	if invalidates == nil {
		invalidates = m.Targets
	}
	for _, prefix := range invalidates {
		c.Invalidate(prefix)
	}

	if err != nil {
		message := m.Message
		if message == "" {
			message = "failed to " + m.Name
		}
		c.logger.Debug("mutation rolled back", "mutation", m.Name, "entries", len(done), "error", err)
		var zero V
		return zero, &MutationError{Mutation: m.Name, Message: message, Err: err}
	}
	return result, nil
}

// applyOptimistic snapshots and transforms every entry under targets in
// one critical section.
func (c *Cache) applyOptimistic(targets []Key, apply func(Key, any) any) []applied {
	c.mu.Lock()
	var done []applied
	var changes []Change
	seen := map[string]bool{}
	for _, prefix := range targets {
		for id, e := range c.entries {
			if seen[id] || !e.Key.HasPrefix(prefix) {
				continue
			}
			seen[id] = true
			key := e.Key
			change := c.transformLocked(e, func(current any) any { return apply(key, current) })
			done = append(done, applied{key: key, snapshot: e, version: change.Entry.Version})
			changes = append(changes, change)
		}
	}
	c.mu.Unlock()

	for _, change := range changes {
		c.publish(change)
	}
	return done
}

// rollback undoes an optimistic write.
func (c *Cache) rollback(done []applied, revert func(Key, any) any) {
	c.mu.Lock()
	var changes []Change
	for _, a := range done {
		id := a.key.id()
		current, ok := c.entries[id]
		switch {
		case !ok:
			continue
		case current.Version == a.version:
			restored := a.snapshot
			restored.Fetching = current.Fetching
			restored.Version = current.Version + 1
			c.entries[id] = restored
			changes = append(changes, Change{Type: ChangeSet, Key: restored.Key, Entry: restored})
		case revert != nil:
			key := a.key
			changes = append(changes, c.transformLocked(current, func(data any) any { return revert(key, data) }))
		}
	}
	c.mu.Unlock()

	for _, change := range changes {
		c.publish(change)
	}
}
