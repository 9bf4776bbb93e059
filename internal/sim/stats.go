// Package sim implements the Monte Carlo simulation engine: trial models,
// batched parallel execution, and streaming statistics merge.
package sim

import (
	"math"
	"sort"

	"github.com/anthropics/decision-engine/internal/domain"
)

// BatchStats holds the sufficient statistics of one batch of trial outcomes.
// Mean and M2 follow Welford's online form, so batches of any size merge
// without revisiting raw samples.
type BatchStats struct {
	Count   int64
	Mean    float64
	M2      float64
	Min     float64
	Max     float64
	Samples []float64 // sorted ascending
}

// NewBatchStats accumulates the given samples into batch statistics.
// The sample slice is sorted in place.
func NewBatchStats(samples []float64) BatchStats {
	s := BatchStats{Min: math.Inf(1), Max: math.Inf(-1)}
	for _, x := range samples {
		s.Count++
		delta := x - s.Mean
		s.Mean += delta / float64(s.Count)
		s.M2 += delta * (x - s.Mean)
		if x < s.Min {
			s.Min = x
		}
		if x > s.Max {
			s.Max = x
		}
	}
	sort.Float64s(samples)
	s.Samples = samples
	return s
}

// Merge combines two batch statistics using Chan et al.'s parallel update.
// The operation is associative up to floating point error, so the final
// summary does not depend on batch completion order.
func Merge(a, b BatchStats) BatchStats {
	if a.Count == 0 {
		return b
	}
	if b.Count == 0 {
		return a
	}
	n := a.Count + b.Count
	delta := b.Mean - a.Mean
	out := BatchStats{
		Count: n,
		Mean:  a.Mean + delta*float64(b.Count)/float64(n),
		M2:    a.M2 + b.M2 + delta*delta*float64(a.Count)*float64(b.Count)/float64(n),
		Min:   math.Min(a.Min, b.Min),
		Max:   math.Max(a.Max, b.Max),
	}
	out.Samples = mergeSorted(a.Samples, b.Samples)
	return out
}

// StdDev returns the population standard deviation.
func (s BatchStats) StdDev() float64 {
	if s.Count == 0 {
		return 0
	}
	return math.Sqrt(s.M2 / float64(s.Count))
}

func mergeSorted(a, b []float64) []float64 {
	out := make([]float64, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if a[i] <= b[j] {
			out = append(out, a[i])
			i++
		} else {
			out = append(out, b[j])
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}

// percentile extracts the p-th percentile (0..100) from sorted samples with
// linear interpolation between closest ranks.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

const histogramBins = 30

func buildHistogram(sorted []float64) domain.Histogram {
	h := domain.Histogram{
		Counts:   make([]int, histogramBins),
		BinEdges: make([]float64, histogramBins+1),
	}
	if len(sorted) == 0 {
		return h
	}
	lo, hi := sorted[0], sorted[len(sorted)-1]
	width := (hi - lo) / histogramBins
	if width == 0 {
		// All samples identical: a single degenerate bin.
		for i := range h.BinEdges {
			h.BinEdges[i] = lo
		}
		h.Counts[0] = len(sorted)
		return h
	}
	for i := 0; i <= histogramBins; i++ {
		h.BinEdges[i] = lo + width*float64(i)
	}
	for _, x := range sorted {
		bin := int((x - lo) / width)
		if bin >= histogramBins {
			bin = histogramBins - 1
		}
		h.Counts[bin]++
	}
	return h
}

// Summarize converts merged batch statistics into the task-facing summary.
func Summarize(s BatchStats, failedBatches int, degraded bool) domain.SimulationSummary {
	out := domain.SimulationSummary{
		Count:         s.Count,
		Mean:          s.Mean,
		StdDev:        s.StdDev(),
		Min:           s.Min,
		Max:           s.Max,
		P10:           percentile(s.Samples, 10),
		P25:           percentile(s.Samples, 25),
		P50:           percentile(s.Samples, 50),
		P75:           percentile(s.Samples, 75),
		P90:           percentile(s.Samples, 90),
		ValueAtRisk:   percentile(s.Samples, 10),
		Histogram:     buildHistogram(s.Samples),
		Degraded:      degraded,
		FailedBatches: failedBatches,
	}
	if s.Count > 0 {
		losses := sort.SearchFloat64s(s.Samples, 0)
		out.ProbLoss = float64(losses) / float64(s.Count)
	}
	if out.StdDev > 0 {
		ratio := out.Mean / out.StdDev
		out.SharpeRatio = &ratio
	}
	return out
}
