// Package views derives filtered collections and aggregate statistics
// from the push-driven histories. Every function here is pure.
package views

import (
	"strings"

	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/core/stream"
)

// All is the filter value that places no constraint on a field
const All = "all"

// FilterState holds optional equality predicates. An empty value or All
// means the field is not constrained.
type FilterState struct {
	CameraID   string `json:"camera_id,omitempty"`
	ZoneID     string `json:"zone_id,omitempty"`
	EntityType string `json:"entity_type,omitempty"`
	EventType  string `json:"event_type,omitempty"`
}

// IsEmpty reports whether the filter matches everything
func (f FilterState) IsEmpty() bool {
	return unconstrained(f.CameraID) && unconstrained(f.ZoneID) &&
		unconstrained(f.EntityType) && unconstrained(f.EventType)
}

// Matches reports whether an item with the given keys and event type
// passes every constrained field.
func (f FilterState) Matches(keys stream.Keys, eventType string) bool {
	return field(f.CameraID, keys.CameraID) &&
		field(f.ZoneID, keys.ZoneID) &&
		field(f.EntityType, keys.EntityType) &&
		field(f.EventType, eventType)
}

// Key renders the filter as a stable cache-key segment
func (f FilterState) Key() string {
	if f.IsEmpty() {
		return All
	}
	parts := []string{}
	for _, p := range []struct{ name, value string }{
		{"camera", f.CameraID}, {"zone", f.ZoneID}, {"entity", f.EntityType}, {"type", f.EventType},
	} {
		if !unconstrained(p.value) {
			parts = append(parts, p.name+"="+p.value)
		}
	}
	return strings.Join(parts, "&")
}

func unconstrained(value string) bool {
	return value == "" || value == All
}

func field(want, got string) bool {
	return unconstrained(want) || want == got
}

// Filter returns the items that match f, preserving order. keysOf
// extracts the filterable keys and event type of an item. An empty filter
// returns items unchanged.
func Filter[T any](items []T, f FilterState, keysOf func(T) (stream.Keys, string)) []T {
	if f.IsEmpty() {
		return items
	}
	out := make([]T, 0, len(items))
	for _, item := range items {
		keys, eventType := keysOf(item)
		if f.Matches(keys, eventType) {
			out = append(out, item)
		}
	}
	return out
}

// EventKeys adapts stream events to Filter.
func EventKeys(e stream.Event) (stream.Keys, string) {
	return e.Keys, string(e.Kind)
}
