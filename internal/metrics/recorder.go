// Package metrics records latency samples for one measured benchmark phase.
package metrics

import (
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Recorder accumulates latency samples. It is used from a single goroutine;
// the benchmark loop is strictly sequential.
type Recorder struct {
	hist  *hdrhistogram.Histogram
	min   time.Duration
	max   time.Duration
	sum   time.Duration
	count int64
}

// Stats is an aggregated view over the recorded samples.
type Stats struct {
	Count int64         `json:"count"`
	Min   time.Duration `json:"-"`
	Max   time.Duration `json:"-"`
	Mean  time.Duration `json:"-"`
	P50   time.Duration `json:"-"`
	P90   time.Duration `json:"-"`
	P99   time.Duration `json:"-"`

	// Millisecond mirrors for JSON reports.
	MinMs  float64 `json:"min_ms"`
	MaxMs  float64 `json:"max_ms"`
	MeanMs float64 `json:"mean_ms"`
	P50Ms  float64 `json:"p50_ms"`
	P90Ms  float64 `json:"p90_ms"`
	P99Ms  float64 `json:"p99_ms"`
}

// NewRecorder tracks latencies from 1µs up to 60s with 3 significant figures.
func NewRecorder() *Recorder {
	return &Recorder{hist: hdrhistogram.New(1, 60_000_000, 3)}
}

// Record adds one latency sample.
func (r *Recorder) Record(latency time.Duration) {
	us := latency.Microseconds()
	if us < r.hist.LowestTrackableValue() {
		us = r.hist.LowestTrackableValue()
	}
	if us > r.hist.HighestTrackableValue() {
		us = r.hist.HighestTrackableValue()
	}
	_ = r.hist.RecordValue(us)

	r.sum += latency
	r.count++
	if r.min == 0 || latency < r.min {
		r.min = latency
	}
	if latency > r.max {
		r.max = latency
	}
}

// Stats aggregates everything recorded so far.
func (r *Recorder) Stats() Stats {
	stats := Stats{
		Count: r.count,
		Min:   r.min,
		Max:   r.max,
	}
	if r.count > 0 {
		stats.Mean = r.sum / time.Duration(r.count)
		stats.P50 = time.Duration(r.hist.ValueAtQuantile(50)) * time.Microsecond
		stats.P90 = time.Duration(r.hist.ValueAtQuantile(90)) * time.Microsecond
		stats.P99 = time.Duration(r.hist.ValueAtQuantile(99)) * time.Microsecond
	}
	stats.MinMs = durationMs(stats.Min)
	stats.MaxMs = durationMs(stats.Max)
	stats.MeanMs = durationMs(stats.Mean)
	stats.P50Ms = durationMs(stats.P50)
	stats.P90Ms = durationMs(stats.P90)
	stats.P99Ms = durationMs(stats.P99)
	return stats
}

func durationMs(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000.0
}
