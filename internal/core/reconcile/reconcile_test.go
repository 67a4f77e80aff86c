package reconcile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/core/clock"
	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/core/pagination"
	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/core/querycache"
)

type anomaly struct {
	ID    string
	Acked bool
}

func anomalyID(a anomaly) string { return a.ID }

func acknowledge(a anomaly) anomaly {
	a.Acked = true
	return a
}

func newCache() (*querycache.Cache, *clock.FakeClock) {
	fake := clock.NewFake(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	return querycache.New(querycache.Options{Clock: fake, StaleTime: time.Hour}), fake
}

func TestInsertOrPatch_AbsentEntry_Untouched(t *testing.T) {
	cache, _ := newCache()
	key := querycache.Key{"zones", "z1", "anomalies"}

	assert.False(t, InsertOrPatch(cache, key, anomaly{ID: "a1"}, anomalyID, 10))
	_, ok := cache.Get(key)
	assert.False(t, ok)
}

func TestInsertOrPatch_InsertsAtHeadAndMarksStale(t *testing.T) {
	cache, fake := newCache()
	key := querycache.Key{"zones", "z1", "anomalies"}
	cache.SetEntry(key, []anomaly{{ID: "a1"}, {ID: "a2"}})

	require.True(t, InsertOrPatch(cache, key, anomaly{ID: "a0"}, anomalyID, 2))

	got, err := querycache.GetAs[[]anomaly](cache, key)
	require.NoError(t, err)
	assert.Equal(t, []anomaly{{ID: "a0"}, {ID: "a1"}}, got, "new items go first and the list is truncated")

	e, _ := cache.Get(key)
	assert.True(t, e.IsStale(fake.Now()), "reconciled entries revalidate on next read")
}

func TestInsertOrPatch_KnownID_PatchedInPlace(t *testing.T) {
	cache, _ := newCache()
	key := querycache.Key{"anomalies"}
	cache.SetEntry(key, []anomaly{{ID: "a1"}, {ID: "a2"}})

	InsertOrPatch(cache, key, anomaly{ID: "a2", Acked: true}, anomalyID, 0)
	got, _ := querycache.GetAs[[]anomaly](cache, key)
	assert.Equal(t, []anomaly{{ID: "a1"}, {ID: "a2", Acked: true}}, got)
}

func TestPatch_UnknownID_LeavesDataAsIs(t *testing.T) {
	cache, _ := newCache()
	key := querycache.Key{"anomalies"}
	original := []anomaly{{ID: "a1"}}
	cache.SetEntry(key, original)

	Patch(cache, key, "missing", anomalyID, acknowledge)
	got, _ := querycache.GetAs[[]anomaly](cache, key)
	assert.Equal(t, original, got)

	Patch(cache, key, "a1", anomalyID, acknowledge)
	got, _ = querycache.GetAs[[]anomaly](cache, key)
	assert.True(t, got[0].Acked)
	assert.False(t, original[0].Acked, "the previous slice must not be mutated")
}

func TestInsertOrPatchPages(t *testing.T) {
	cache, _ := newCache()
	key := querycache.Key{"events", "list", "all"}
	cache.SetEntry(key, []pagination.Page[anomaly]{
		{Items: []anomaly{{ID: "e2"}}, NextCursor: "c", HasMore: true},
		{Items: []anomaly{{ID: "e1"}}},
	})

	InsertOrPatchPages(cache, key, anomaly{ID: "e3"}, anomalyID)
	InsertOrPatchPages(cache, key, anomaly{ID: "e1", Acked: true}, anomalyID)

	pages, err := querycache.GetAs[[]pagination.Page[anomaly]](cache, key)
	require.NoError(t, err)
	assert.Equal(t, []anomaly{{ID: "e3"}, {ID: "e2"}, {ID: "e1", Acked: true}}, pagination.Flatten(pages, anomalyID))
	assert.Equal(t, "c", pages[0].NextCursor)

	PatchPages(cache, key, "e2", anomalyID, acknowledge)
	pages, _ = querycache.GetAs[[]pagination.Page[anomaly]](cache, key)
	assert.True(t, pages[0].Items[1].Acked)

	trimmed := RemoveFromPages(pages, "e3", anomalyID)
	assert.Len(t, pagination.Flatten(trimmed, anomalyID), 2)
	assert.Len(t, pagination.Flatten(pages, anomalyID), 3)
}
