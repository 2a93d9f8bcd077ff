package metrics_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tgbench/tgbench/internal/metrics"
)

func TestRecorderEmpty(t *testing.T) {
	stats := metrics.NewRecorder().Stats()
	assert.Equal(t, int64(0), stats.Count)
	assert.Equal(t, time.Duration(0), stats.Mean)
	assert.Equal(t, 0.0, stats.MeanMs)
}

func TestRecorderAggregates(t *testing.T) {
	rec := metrics.NewRecorder()
	for _, latency := range []time.Duration{
		10 * time.Millisecond,
		20 * time.Millisecond,
		30 * time.Millisecond,
	} {
		rec.Record(latency)
	}

	stats := rec.Stats()
	assert.Equal(t, int64(3), stats.Count)
	assert.Equal(t, 10*time.Millisecond, stats.Min)
	assert.Equal(t, 30*time.Millisecond, stats.Max)
	assert.Equal(t, 20*time.Millisecond, stats.Mean)
	assert.InDelta(t, 20.0, stats.MeanMs, 0.01)

	// Histogram quantiles carry 3 significant figures of precision.
	assert.InDelta(t, float64(20*time.Millisecond), float64(stats.P50), float64(stats.P50)/100)
	assert.InDelta(t, float64(30*time.Millisecond), float64(stats.P99), float64(stats.P99)/100)
}

func TestRecorderClampsOutliers(t *testing.T) {
	rec := metrics.NewRecorder()
	rec.Record(500 * time.Nanosecond) // below lowest trackable value
	rec.Record(2 * time.Minute)       // above highest trackable value

	stats := rec.Stats()
	assert.Equal(t, int64(2), stats.Count)
	assert.Equal(t, 500*time.Nanosecond, stats.Min)
	assert.Equal(t, 2*time.Minute, stats.Max)
}
