package views

import (
	"sort"

	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/core/stream"
)

// CameraStats aggregates batches of one camera across active and closed
// sources.
type CameraStats struct {
	CameraID        string  `json:"camera_id"`
	Active          int     `json:"active"`
	Completed       int     `json:"completed"`
	Failed          int     `json:"failed"`
	TotalBatches    int     `json:"total_batches"`
	TotalDetections int     `json:"total_detections"`
	AverageDuration float64 `json:"average_duration_seconds"`
}

// BatchViews is the derived view over the batch histories
type BatchViews struct {
	Processing []stream.BatchUpdate
	Completed  []stream.BatchUpdate
	Failed     []stream.BatchUpdate
	PerCamera  map[string]CameraStats

	ClosureReasonPercentages  map[stream.ClosureReason]float64
	AverageDurationSeconds    float64
	AverageDetectionsPerBatch float64
	TotalBatches              int
}

// BatchKeys adapts batch updates to Filter.
func BatchKeys(b stream.BatchUpdate) (stream.Keys, string) {
	return stream.Keys{CameraID: b.CameraID, BatchID: b.BatchID}, string(b.Status)
}

// DeriveBatchViews splits the filtered batches by status and computes the
// aggregate statistics. A batch id present in both sources is counted
// once, preferring the closed record.
func DeriveBatchViews(active, closed []stream.BatchUpdate, f FilterState) BatchViews {
	closed = Filter(closed, f, BatchKeys)
	active = Filter(active, f, BatchKeys)

	closedIDs := make(map[string]struct{}, len(closed))
	for _, b := range closed {
		closedIDs[b.BatchID] = struct{}{}
	}

	v := BatchViews{
		Processing: []stream.BatchUpdate{},
		Completed:  []stream.BatchUpdate{},
		Failed:     []stream.BatchUpdate{},
	}
	all := make([]stream.BatchUpdate, 0, len(active)+len(closed))
	for _, b := range active {
		if _, dup := closedIDs[b.BatchID]; dup {
			continue
		}
		all = append(all, b)
	}
	all = append(all, closed...)

	var finished []stream.BatchUpdate
	for _, b := range all {
		switch b.Status {
		case stream.BatchCompleted:
			v.Completed = append(v.Completed, b)
			finished = append(finished, b)
		case stream.BatchFailed:
			v.Failed = append(v.Failed, b)
			finished = append(finished, b)
		default:
			v.Processing = append(v.Processing, b)
		}
	}

	v.PerCamera = PerCameraStats(all)
	v.ClosureReasonPercentages = ClosureReasonPercentages(finished)
	v.AverageDurationSeconds = Average(finished, func(b stream.BatchUpdate) float64 { return b.DurationSeconds })
	v.AverageDetectionsPerBatch = Average(all, func(b stream.BatchUpdate) float64 { return float64(b.DetectionCount) })
	v.TotalBatches = len(all)
	return v
}

// PerCameraStats builds one stats object per camera in a single pass over
// the merged batches, summing counts from active and closed records.
func PerCameraStats(batches ...[]stream.BatchUpdate) map[string]CameraStats {
	type accumulator struct {
		CameraStats
		durationSum   float64
		durationCount int
	}
	stats := map[string]*accumulator{}
	for _, source := range batches {
		for _, b := range source {
			s, ok := stats[b.CameraID]
			if !ok {
				s = &accumulator{CameraStats: CameraStats{CameraID: b.CameraID}}
				stats[b.CameraID] = s
			}
			s.TotalBatches++
			s.TotalDetections += b.DetectionCount
			switch b.Status {
			case stream.BatchCompleted:
				s.Completed++
			case stream.BatchFailed:
				s.Failed++
			default:
				s.Active++
			}
			if b.Status.IsClosed() {
				s.durationSum += b.DurationSeconds
				s.durationCount++
			}
		}
	}

	out := make(map[string]CameraStats, len(stats))
	for id, s := range stats {
		if s.durationCount > 0 {
			s.AverageDuration = s.durationSum / float64(s.durationCount)
		}
		out[id] = s.CameraStats
	}
	return out
}

// ClosureReasonPercentages returns the share of each known closure reason
// among the given batches. Every known reason is present; all are 0 when
// batches is empty.
func ClosureReasonPercentages(batches []stream.BatchUpdate) map[stream.ClosureReason]float64 {
	counts := map[stream.ClosureReason]int{}
	for _, b := range batches {
		if b.ClosureReason != "" {
			counts[b.ClosureReason]++
		}
	}
	keys := stream.ClosureReasons()
	for reason := range counts {
		if !containsReason(keys, reason) {
			keys = append(keys, reason)
		}
	}
	return Percentages(counts, len(batches), keys)
}

func containsReason(reasons []stream.ClosureReason, r stream.ClosureReason) bool {
	for _, existing := range reasons {
		if existing == r {
			return true
		}
	}
	return false
}

// CameraIDs returns the cameras of a stats map in sorted order
func CameraIDs(stats map[string]CameraStats) []string {
	ids := make([]string, 0, len(stats))
	for id := range stats {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
