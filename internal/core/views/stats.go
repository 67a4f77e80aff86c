package views

import (
	"sort"

	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/core/stream"
)

// Percentages converts counts into percentages of total for every key in
// keys. A zero total yields 0 for every key.
func Percentages[K comparable](counts map[K]int, total int, keys []K) map[K]float64 {
	out := make(map[K]float64, len(keys))
	for _, k := range keys {
		if total <= 0 {
			out[k] = 0
			continue
		}
		out[k] = float64(counts[k]) / float64(total) * 100
	}
	return out
}

// Average returns the mean of value over items, or 0 for no items
func Average[T any](items []T, value func(T) float64) float64 {
	if len(items) == 0 {
		return 0
	}
	var sum float64
	for _, item := range items {
		sum += value(item)
	}
	return sum / float64(len(items))
}

// LabelCount is one row of a detection breakdown
type LabelCount struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// DetectionStats summarizes a detection feed
type DetectionStats struct {
	Total             int            `json:"total"`
	ByLabel           []LabelCount   `json:"by_label"`
	ByCamera          map[string]int `json:"by_camera"`
	AverageConfidence float64        `json:"average_confidence"`
}

// DetectionKeys adapts detections to Filter.
func DetectionKeys(d stream.Detection) (stream.Keys, string) {
	return stream.Keys{CameraID: d.CameraID, EntityType: d.Label}, string(stream.KindDetection)
}

// DetectionSummary counts the filtered detections by label and camera.
// Labels are ordered by count, then name.
func DetectionSummary(detections []stream.Detection, f FilterState) DetectionStats {
	detections = Filter(detections, f, DetectionKeys)
	labels := map[string]int{}
	stats := DetectionStats{Total: len(detections), ByCamera: map[string]int{}, ByLabel: []LabelCount{}}
	for _, d := range detections {
		labels[d.Label]++
		stats.ByCamera[d.CameraID]++
	}
	for label, count := range labels {
		stats.ByLabel = append(stats.ByLabel, LabelCount{Label: label, Count: count})
	}
	sort.Slice(stats.ByLabel, func(i, j int) bool {
		if stats.ByLabel[i].Count != stats.ByLabel[j].Count {
			return stats.ByLabel[i].Count > stats.ByLabel[j].Count
		}
		return stats.ByLabel[i].Label < stats.ByLabel[j].Label
	})
	stats.AverageConfidence = Average(detections, func(d stream.Detection) float64 { return d.Confidence })
	return stats
}

// RiskStats is the distribution of security events across risk levels
type RiskStats struct {
	Total       int                         `json:"total"`
	Counts      map[stream.Severity]int     `json:"counts"`
	Percentages map[stream.Severity]float64 `json:"percentages"`
	AverageRisk float64                     `json:"average_risk"`
}

var riskLevels = []stream.Severity{stream.SeverityLow, stream.SeverityMedium, stream.SeverityHigh, stream.SeverityCritical}

// RiskDistribution counts events per risk level. Deleted events are
// excluded.
func RiskDistribution(events []stream.SecurityEvent) RiskStats {
	live := make([]stream.SecurityEvent, 0, len(events))
	for _, e := range events {
		if !e.Deleted {
			live = append(live, e)
		}
	}
	counts := make(map[stream.Severity]int, len(riskLevels))
	for _, level := range riskLevels {
		counts[level] = 0
	}
	for _, e := range live {
		counts[e.RiskLevel]++
	}
	return RiskStats{
		Total:       len(live),
		Counts:      counts,
		Percentages: Percentages(counts, len(live), riskLevels),
		AverageRisk: Average(live, func(e stream.SecurityEvent) float64 { return float64(e.RiskScore) }),
	}
}
