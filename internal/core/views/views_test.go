package views

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/core/stream"
)

var start = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func batch(id, camera string, status stream.BatchStatus, detections int, duration float64, reason stream.ClosureReason) stream.BatchUpdate {
	return stream.BatchUpdate{
		BatchID:         id,
		CameraID:        camera,
		Status:          status,
		DetectionCount:  detections,
		StartedAt:       start,
		DurationSeconds: duration,
		ClosureReason:   reason,
	}
}

func TestDeriveBatchViews_EmptyInput_ReturnsZeros(t *testing.T) {
	v := DeriveBatchViews(nil, nil, FilterState{})

	assert.Empty(t, v.Processing)
	assert.Empty(t, v.Completed)
	assert.Empty(t, v.Failed)
	assert.Zero(t, v.TotalBatches)
	assert.Zero(t, v.AverageDurationSeconds)
	assert.Zero(t, v.AverageDetectionsPerBatch)
	for _, reason := range stream.ClosureReasons() {
		pct, ok := v.ClosureReasonPercentages[reason]
		require.True(t, ok, "every known reason should be present")
		assert.False(t, math.IsNaN(pct) || math.IsInf(pct, 0), "percentages must be finite")
		assert.Zero(t, pct)
	}
}

func TestDeriveBatchViews_SplitsAndAggregates(t *testing.T) {
	active := []stream.BatchUpdate{
		batch("b1", "front", stream.BatchProcessing, 3, 0, ""),
		batch("b2", "back", stream.BatchProcessing, 1, 0, ""),
	}
	closed := []stream.BatchUpdate{
		batch("b3", "front", stream.BatchCompleted, 5, 60, stream.ClosureTimeout),
		batch("b4", "front", stream.BatchCompleted, 2, 30, stream.ClosureIdle),
		batch("b5", "back", stream.BatchFailed, 1, 30, stream.ClosureTimeout),
		batch("b6", "back", stream.BatchCompleted, 0, 0, stream.ClosureMaxDuration),
	}

	v := DeriveBatchViews(active, closed, FilterState{})

	assert.Len(t, v.Processing, 2)
	assert.Len(t, v.Completed, 3)
	assert.Len(t, v.Failed, 1)
	assert.Equal(t, 6, v.TotalBatches)
	assert.InDelta(t, 30.0, v.AverageDurationSeconds, 0.001)
	assert.InDelta(t, 2.0, v.AverageDetectionsPerBatch, 0.001)
	assert.InDelta(t, 50.0, v.ClosureReasonPercentages[stream.ClosureTimeout], 0.001)
	assert.InDelta(t, 25.0, v.ClosureReasonPercentages[stream.ClosureIdle], 0.001)
	assert.InDelta(t, 25.0, v.ClosureReasonPercentages[stream.ClosureMaxDuration], 0.001)
	assert.Zero(t, v.ClosureReasonPercentages[stream.ClosureManual])

	front := v.PerCamera["front"]
	assert.Equal(t, 1, front.Active)
	assert.Equal(t, 2, front.Completed)
	assert.Equal(t, 3, front.TotalBatches)
	assert.Equal(t, 10, front.TotalDetections, "counts are summed across active and closed sources")
	assert.InDelta(t, 45.0, front.AverageDuration, 0.001)

	back := v.PerCamera["back"]
	assert.Equal(t, 1, back.Failed)
	assert.Equal(t, 3, back.TotalBatches)
	assert.Equal(t, []string{"back", "front"}, CameraIDs(v.PerCamera))
}

func TestDeriveBatchViews_DuplicateIDPrefersClosedRecord(t *testing.T) {
	active := []stream.BatchUpdate{batch("b1", "front", stream.BatchProcessing, 2, 0, "")}
	closed := []stream.BatchUpdate{batch("b1", "front", stream.BatchCompleted, 4, 20, stream.ClosureIdle)}

	v := DeriveBatchViews(active, closed, FilterState{})
	assert.Equal(t, 1, v.TotalBatches)
	assert.Empty(t, v.Processing)
	assert.Equal(t, 4, v.PerCamera["front"].TotalDetections)
}

func TestDeriveBatchViews_CameraFilter(t *testing.T) {
	active := []stream.BatchUpdate{batch("b1", "front", stream.BatchProcessing, 1, 0, "")}
	closed := []stream.BatchUpdate{batch("b2", "back", stream.BatchCompleted, 1, 10, stream.ClosureIdle)}

	v := DeriveBatchViews(active, closed, FilterState{CameraID: "back"})
	assert.Empty(t, v.Processing)
	assert.Len(t, v.Completed, 1)
	assert.NotContains(t, v.PerCamera, "front")
}

func TestPerCameraStats_MergesSeparateSources(t *testing.T) {
	active := []stream.BatchUpdate{batch("b1", "garage", stream.BatchProcessing, 4, 0, "")}
	closed := []stream.BatchUpdate{batch("b2", "garage", stream.BatchCompleted, 6, 12, stream.ClosureTimeout)}

	stats := PerCameraStats(active, closed)
	require.Len(t, stats, 1)
	assert.Equal(t, CameraStats{
		CameraID:        "garage",
		Active:          1,
		Completed:       1,
		TotalBatches:    2,
		TotalDetections: 10,
		AverageDuration: 12,
	}, stats["garage"])
}

func TestAverageAndPercentages_ZeroDivision(t *testing.T) {
	assert.Zero(t, Average([]float64{}, func(f float64) float64 { return f }))
	pct := Percentages(map[string]int{}, 0, []string{"a", "b"})
	assert.Equal(t, map[string]float64{"a": 0, "b": 0}, pct)
}

func TestFilterState_Matches(t *testing.T) {
	keys := stream.Keys{CameraID: "front", ZoneID: "porch", EntityType: "person"}
	tests := []struct {
		name     string
		filter   FilterState
		expected bool
	}{
		{"Empty_MatchesAll", FilterState{}, true},
		{"AllValue_MatchesAll", FilterState{CameraID: All, ZoneID: All}, true},
		{"Camera_Matches", FilterState{CameraID: "front"}, true},
		{"Camera_Mismatch", FilterState{CameraID: "back"}, false},
		{"Combined_Matches", FilterState{CameraID: "front", EntityType: "person", EventType: "zone-enter"}, true},
		{"Combined_OneMismatch", FilterState{CameraID: "front", ZoneID: "driveway"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.filter.Matches(keys, "zone-enter"))
		})
	}
}

func TestFilterState_Key_IsStable(t *testing.T) {
	assert.Equal(t, All, FilterState{}.Key())
	assert.Equal(t, "camera=front&type=event", FilterState{CameraID: "front", EventType: "event", ZoneID: All}.Key())
}

func TestDetectionSummary(t *testing.T) {
	detections := []stream.Detection{
		{ID: "1", CameraID: "front", Label: "person", Confidence: 0.9},
		{ID: "2", CameraID: "front", Label: "car", Confidence: 0.7},
		{ID: "3", CameraID: "back", Label: "person", Confidence: 0.5},
	}

	all := DetectionSummary(detections, FilterState{})
	assert.Equal(t, 3, all.Total)
	assert.Equal(t, []LabelCount{{"person", 2}, {"car", 1}}, all.ByLabel)
	assert.Equal(t, map[string]int{"front": 2, "back": 1}, all.ByCamera)
	assert.InDelta(t, 0.7, all.AverageConfidence, 0.0001)

	none := DetectionSummary(nil, FilterState{})
	assert.Zero(t, none.AverageConfidence)
	assert.Empty(t, none.ByLabel)
}

func TestRiskDistribution_ExcludesDeleted(t *testing.T) {
	events := []stream.SecurityEvent{
		{ID: "1", RiskScore: 90, RiskLevel: stream.SeverityCritical},
		{ID: "2", RiskScore: 10, RiskLevel: stream.SeverityLow},
		{ID: "3", RiskScore: 70, RiskLevel: stream.SeverityHigh, Deleted: true},
	}
	dist := RiskDistribution(events)
	assert.Equal(t, 2, dist.Total)
	assert.Equal(t, 1, dist.Counts[stream.SeverityCritical])
	assert.Zero(t, dist.Counts[stream.SeverityHigh])
	assert.InDelta(t, 50.0, dist.Percentages[stream.SeverityLow], 0.001)
	assert.InDelta(t, 50.0, dist.AverageRisk, 0.001)

	empty := RiskDistribution(nil)
	assert.Zero(t, empty.Percentages[stream.SeverityCritical])
}

// TestFilter_PropertyBased_Correctness checks that a camera filter
// returns exactly the matching subset in order and that resetting it to
// All returns everything.
func TestFilter_PropertyBased_Correctness(t *testing.T) {
	cameras := []string{"front", "back", "garage"}
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 40).Draw(t, "n")
		events := make([]stream.Event, n)
		for i := range events {
			events[i] = stream.Event{
				Kind: stream.KindDetection,
				ID:   fmt.Sprintf("e%d", i),
				Keys: stream.Keys{CameraID: rapid.SampledFrom(cameras).Draw(t, "camera")},
			}
		}
		target := rapid.SampledFrom(cameras).Draw(t, "target")

		filtered := Filter(events, FilterState{CameraID: target}, EventKeys)
		expected := 0
		for _, e := range events {
			if e.Keys.CameraID == target {
				expected++
			}
		}
		if len(filtered) != expected {
			t.Fatalf("expected %d matches, got %d", expected, len(filtered))
		}
		last := -1
		for _, e := range filtered {
			if e.Keys.CameraID != target {
				t.Fatalf("event %s from camera %s leaked through filter %s", e.ID, e.Keys.CameraID, target)
			}
			var idx int
			fmt.Sscanf(e.ID, "e%d", &idx)
			if idx <= last {
				t.Fatalf("filter reordered items")
			}
			last = idx
		}

		reset := Filter(events, FilterState{CameraID: All}, EventKeys)
		if len(reset) != len(events) {
			t.Fatalf("resetting to all returned %d of %d", len(reset), len(events))
		}
	})
}
