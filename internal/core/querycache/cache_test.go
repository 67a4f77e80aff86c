package querycache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/core/clock"
)

var epoch = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func newTestCache() (*Cache, *clock.FakeClock) {
	fake := clock.NewFake(epoch)
	return New(Options{Clock: fake, StaleTime: time.Minute}), fake
}

func TestKey_HasPrefix(t *testing.T) {
	key := Key{"events", "list", "all"}
	assert.True(t, key.HasPrefix(Key{"events"}))
	assert.True(t, key.HasPrefix(Key{"events", "list", "all"}))
	assert.True(t, key.HasPrefix(nil), "the empty prefix matches everything")
	assert.False(t, key.HasPrefix(Key{"events", "detail"}))
	assert.False(t, key.HasPrefix(Key{"events", "list", "all", "extra"}))
	assert.Equal(t, "events/list/all", key.String())
}

func TestCache_FetchReturnsFreshDataWithoutRefetching(t *testing.T) {
	cache, fake := newTestCache()
	calls := 0
	fetcher := func(context.Context) (any, error) {
		calls++
		return []string{"a"}, nil
	}

	_, err := cache.Fetch(context.Background(), Key{"events"}, 0, fetcher)
	require.NoError(t, err)
	_, err = cache.Fetch(context.Background(), Key{"events"}, 0, fetcher)
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "fresh data should come from the cache")

	fake.Advance(2 * time.Minute)
	_, err = cache.Fetch(context.Background(), Key{"events"}, 0, fetcher)
	require.NoError(t, err)
	assert.Equal(t, 2, calls, "stale data should be revalidated")
}

func TestCache_FetchDeduplicatesConcurrentCalls(t *testing.T) {
	cache, _ := newTestCache()
	var calls atomic.Int32
	release := make(chan struct{})
	fetcher := func(context.Context) (any, error) {
		calls.Add(1)
		<-release
		return "value", nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := cache.Fetch(context.Background(), Key{"k"}, 0, fetcher)
			assert.NoError(t, err)
			assert.Equal(t, "value", v)
		}()
	}
	time.Sleep(10 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
}

func TestCache_FetchFailureKeepsPreviousData(t *testing.T) {
	cache, fake := newTestCache()
	cache.SetEntry(Key{"k"}, "old")
	fake.Advance(2 * time.Minute)

	boom := errors.New("boom")
	_, err := cache.Fetch(context.Background(), Key{"k"}, 0, func(context.Context) (any, error) { return nil, boom })
	require.ErrorIs(t, err, boom)

	e, ok := cache.Get(Key{"k"})
	require.True(t, ok)
	assert.Equal(t, "old", e.Data)
	assert.ErrorIs(t, e.Err, boom)
	assert.False(t, e.Fetching)
}

func TestCache_ApplyPush_AbsentAndIdle_LeavesCacheUntouched(t *testing.T) {
	cache, _ := newTestCache()
	applied := ApplyPushAs(cache, Key{"events", "list"}, func(items []string) []string { return append(items, "x") })

	assert.False(t, applied)
	_, ok := cache.Get(Key{"events", "list"})
	assert.False(t, ok, "push must not create entries")
}

func TestCache_ApplyPush_DuringInitialFetch_IsReplayed(t *testing.T) {
	cache, _ := newTestCache()
	started := make(chan struct{})
	release := make(chan struct{})

	done := make(chan []string)
	go func() {
		v, err := FetchAs(context.Background(), cache, Key{"events"}, 0, func(context.Context) ([]string, error) {
			close(started)
			<-release
			return []string{"server"}, nil
		})
		assert.NoError(t, err)
		done <- v
	}()

	<-started
	queued := ApplyPushAs(cache, Key{"events"}, func(items []string) []string {
		return append([]string{"pushed"}, items...)
	})
	assert.True(t, queued)
	close(release)

	assert.Equal(t, []string{"pushed", "server"}, <-done, "a push racing the first fetch must not be dropped")
	got, err := GetAs[[]string](cache, Key{"events"})
	require.NoError(t, err)
	assert.Equal(t, []string{"pushed", "server"}, got)
}

func TestCache_ApplyPush_FailedFetch_DiscardsQueuedPushes(t *testing.T) {
	cache, _ := newTestCache()
	started := make(chan struct{})
	release := make(chan struct{})

	done := make(chan error)
	go func() {
		_, err := FetchAs(context.Background(), cache, Key{"events"}, 0, func(context.Context) ([]string, error) {
			close(started)
			<-release
			return nil, errors.New("backend down")
		})
		done <- err
	}()

	<-started
	require.True(t, ApplyPushAs(cache, Key{"events"}, func(items []string) []string {
		return append([]string{"pushed"}, items...)
	}))
	close(release)
	require.Error(t, <-done)

	got, err := FetchAs(context.Background(), cache, Key{"events"}, 0, func(context.Context) ([]string, error) {
		return []string{"server"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"server"}, got, "pushes queued for a failed fetch are not replayed later")
}

func TestCache_InvalidateMatchesPrefixAndNotifies(t *testing.T) {
	cache, fake := newTestCache()
	cache.SetEntry(Key{"events", "list", "all"}, 1)
	cache.SetEntry(Key{"events", "list", "camera=front"}, 2)
	cache.SetEntry(Key{"zones"}, 3)

	var got []Change
	unsubscribe := cache.Subscribe(Key{"events"}, func(c Change) { got = append(got, c) })
	defer unsubscribe()

	n := cache.Invalidate(Key{"events", "list"})
	assert.Equal(t, 2, n)
	require.Len(t, got, 2)
	for _, c := range got {
		assert.Equal(t, ChangeInvalidated, c.Type)
		assert.True(t, c.Entry.IsStale(fake.Now()))
	}

	zones, _ := cache.Get(Key{"zones"})
	assert.False(t, zones.IsStale(fake.Now()), "entries outside the prefix stay fresh")
}

func TestCache_Subscribe_UnsubscribeIsIdempotent(t *testing.T) {
	cache, _ := newTestCache()
	calls := 0
	unsubscribe := cache.Subscribe(nil, func(Change) { calls++ })

	cache.SetEntry(Key{"a"}, 1)
	unsubscribe()
	unsubscribe()
	cache.SetEntry(Key{"a"}, 2)

	assert.Equal(t, 1, calls)
}

func TestCache_UpdateAbsentKey_ReturnsFalse(t *testing.T) {
	cache, _ := newTestCache()
	assert.False(t, cache.Update(Key{"nope"}, func(any) any { return 1 }))
	assert.False(t, cache.MarkStale(Key{"nope"}))
	assert.False(t, cache.Remove(Key{"nope"}))

	_, err := GetAs[int](cache, Key{"nope"})
	assert.ErrorIs(t, err, ErrNotCached)
}

func TestCache_UpdatePreservesFreshnessAndBumpsVersion(t *testing.T) {
	cache, _ := newTestCache()
	cache.SetEntry(Key{"n"}, 1)
	before, _ := cache.Get(Key{"n"})

	require.True(t, UpdateAs(cache, Key{"n"}, func(n int) int { return n + 1 }))
	after, _ := cache.Get(Key{"n"})

	assert.Equal(t, 2, after.Data)
	assert.Equal(t, before.StaleAt, after.StaleAt)
	assert.Greater(t, after.Version, before.Version)
}
