package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/core/history"
	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/core/querycache"
	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/core/reconcile"
	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/core/stream"
	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/core/views"
)

// Default sizes of the zone feeds
const (
	DefaultCrossingHistory = 100
	DefaultAnomalyHistory  = 50
)

// AnomaliesKey addresses the anomalies of one zone
func AnomaliesKey(zoneID string) querycache.Key {
	return querycache.Key{"zones", zoneID, "anomalies"}
}

// RecentAnomaliesKey addresses the cross-zone list of pushed anomalies
var RecentAnomaliesKey = querycache.Key{"anomalies"}

// ZoneActivityOptions configure a ZoneActivity
type ZoneActivityOptions struct {
	MaxCrossings int
	MaxAnomalies int
	// StaleTime of fetched anomaly lists. Zero uses the cache default.
	StaleTime time.Duration
}

// ZoneActivity follows zone crossings and anomalies. Crossings feed a
// bounded history and the per-zone occupancy; anomalies are reconciled
// into the shared cache.
type ZoneActivity struct {
	feed  *feed
	cache *querycache.Cache
	api   AnomalyAPI
	opts  ZoneActivityOptions

	crossings *history.History[stream.ZoneCrossing]

	mu        sync.Mutex
	occupants map[string]map[string]struct{}
}

// NewZoneActivity subscribes to zone and anomaly frames. api may be nil,
// in which case only pushed anomalies are available.
func NewZoneActivity(deps Deps, cache *querycache.Cache, api AnomalyAPI, opts ZoneActivityOptions) *ZoneActivity {
	deps = deps.withDefaults("zones")
	if opts.MaxCrossings == 0 {
		opts.MaxCrossings = DefaultCrossingHistory
	}
	if opts.MaxAnomalies == 0 {
		opts.MaxAnomalies = DefaultAnomalyHistory
	}
	z := &ZoneActivity{
		cache: cache,
		api:   api,
		opts:  opts,
		crossings: history.New(history.Config[stream.ZoneCrossing]{
			Mode:    history.PrependTruncate,
			MaxSize: opts.MaxCrossings,
			ID:      func(c stream.ZoneCrossing) string { return c.ID },
		}),
		occupants: make(map[string]map[string]struct{}),
	}
	if _, ok := cache.Get(RecentAnomaliesKey); !ok {
		cache.SetEntry(RecentAnomaliesKey, []stream.Anomaly{})
	}
	z.feed = newFeed(deps, []stream.Kind{stream.KindZoneEnter, stream.KindZoneExit, stream.KindAnomaly}, z.handle)
	return z
}

func anomalyID(a stream.Anomaly) string { return a.ID }

func (z *ZoneActivity) handle(ev stream.Event) {
	switch p := ev.Payload.(type) {
	case stream.ZoneCrossing:
		if z.crossings.Insert(p) {
			z.track(p)
		}
	case stream.Anomaly:
		reconcile.InsertOrPatch(z.cache, AnomaliesKey(p.ZoneID), p, anomalyID, z.opts.MaxAnomalies)
		reconcile.InsertOrPatch(z.cache, RecentAnomaliesKey, p, anomalyID, z.opts.MaxAnomalies)
	}
}

func (z *ZoneActivity) track(c stream.ZoneCrossing) {
	z.mu.Lock()
	defer z.mu.Unlock()
	occupants := z.occupants[c.ZoneID]
	if c.Direction == stream.DirectionExit {
		delete(occupants, c.EntityID)
		if len(occupants) == 0 {
			delete(z.occupants, c.ZoneID)
		}
		return
	}
	if occupants == nil {
		occupants = make(map[string]struct{})
		z.occupants[c.ZoneID] = occupants
	}
	occupants[c.EntityID] = struct{}{}
}

// ZoneKeys adapts zone crossings to views.Filter
func ZoneKeys(c stream.ZoneCrossing) (stream.Keys, string) {
	return stream.Keys{CameraID: c.CameraID, ZoneID: c.ZoneID, EntityType: c.EntityType, EntityID: c.EntityID}, string(c.Kind())
}

// Crossings returns the filtered crossing feed, newest first
func (z *ZoneActivity) Crossings(f views.FilterState) []stream.ZoneCrossing {
	return views.Filter(z.crossings.Items(), f, ZoneKeys)
}

// Occupancy returns how many entities are currently inside each zone
func (z *ZoneActivity) Occupancy() map[string]int {
	z.mu.Lock()
	defer z.mu.Unlock()
	out := make(map[string]int, len(z.occupants))
	for zone, occupants := range z.occupants {
		out[zone] = len(occupants)
	}
	return out
}

// Zones lists the zones seen in the crossing feed, sorted
func (z *ZoneActivity) Zones() []string {
	seen := map[string]struct{}{}
	for _, c := range z.crossings.Items() {
		seen[c.ZoneID] = struct{}{}
	}
	zones := make([]string, 0, len(seen))
	for zone := range seen {
		zones = append(zones, zone)
	}
	sort.Strings(zones)
	return zones
}

// Anomalies returns the anomalies of a zone, fetching them when the cached
// list is missing or stale.
func (z *ZoneActivity) Anomalies(ctx context.Context, zoneID string) ([]stream.Anomaly, error) {
	if z.feed.isClosed() {
		return nil, ErrClosed
	}
	if z.api == nil {
		list, err := querycache.GetAs[[]stream.Anomaly](z.cache, AnomaliesKey(zoneID))
		if err != nil {
			return anomaliesFor(z.RecentAnomalies(), zoneID), nil
		}
		return list, nil
	}
	return querycache.FetchAs(ctx, z.cache, AnomaliesKey(zoneID), z.opts.StaleTime, func(ctx context.Context) ([]stream.Anomaly, error) {
		return z.api.ZoneAnomalies(ctx, zoneID)
	})
}

func anomaliesFor(list []stream.Anomaly, zoneID string) []stream.Anomaly {
	out := []stream.Anomaly{}
	for _, a := range list {
		if a.ZoneID == zoneID {
			out = append(out, a)
		}
	}
	return out
}

// RecentAnomalies returns the pushed anomalies across all zones
func (z *ZoneActivity) RecentAnomalies() []stream.Anomaly {
	list, err := querycache.GetAs[[]stream.Anomaly](z.cache, RecentAnomaliesKey)
	if err != nil {
		return nil
	}
	return list
}

// Acknowledge marks an anomaly as acknowledged everywhere it is cached
// and rolls back when the server rejects the write.
func (z *ZoneActivity) Acknowledge(ctx context.Context, id string) (stream.Anomaly, error) {
	if z.feed.isClosed() {
		return stream.Anomaly{}, ErrClosed
	}
	if z.api == nil {
		return stream.Anomaly{}, ErrNoAPI
	}
	setAck := func(value bool) func(querycache.Key, any) any {
		return func(_ querycache.Key, current any) any {
			list, ok := current.([]stream.Anomaly)
			if !ok {
				return current
			}
			out := make([]stream.Anomaly, len(list))
			for i, a := range list {
				if a.ID == id {
					a.Acknowledged = value
				}
				out[i] = a
			}
			return out
		}
	}
	return querycache.Mutate(ctx, z.cache, querycache.Mutation[stream.Anomaly]{
		Name:    "acknowledge anomaly",
		Targets: []querycache.Key{{"zones"}, RecentAnomaliesKey},
		Apply:   setAck(true),
		Revert:  setAck(false),
		Commit: func(ctx context.Context) (stream.Anomaly, error) {
			return z.api.AcknowledgeAnomaly(ctx, id)
		},
	})
}

func (z *ZoneActivity) Clear() {
	z.crossings.Clear()
	z.mu.Lock()
	z.occupants = make(map[string]map[string]struct{})
	z.mu.Unlock()
}

func (z *ZoneActivity) Close() {
	z.feed.close()
}
