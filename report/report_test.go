package report

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuantile(t *testing.T) {
	values := []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100}
	assert.Equal(t, 50.0, Quantile(values, 0.50))
	assert.Equal(t, 100.0, Quantile(values, 1.0))
	assert.Equal(t, 10.0, Quantile(values, 0.0))
	assert.InDelta(t, 90.0, Quantile(values, 0.95), 10.0)
	assert.Equal(t, 0.0, Quantile(nil, 0.5))
	assert.Equal(t, 42.0, Quantile([]float64{42}, 0.95))
}

func TestCollectorSnapshot(t *testing.T) {
	c := NewCollector()
	c.Inc("pages_attempted")
	c.Inc("pages_attempted")
	c.Addn("links_found", 7)
	c.IncDrop("blocked")
	c.IncDrop("blocked")
	c.IncDrop("validation")
	c.IncError("read_timeout")
	c.IncError("read_timeout")
	c.IncError("terminal_status")
	c.IncError("")
	c.IncFallback()
	c.ObserveLatency(100)
	c.ObserveLatency(300)
	c.ObserveLatency(200)

	sr := c.Snapshot("src", 5)
	assert.Equal(t, 2, sr.Counts["pages_attempted"])
	assert.Equal(t, 7, sr.Counts["links_found"])
	assert.Equal(t, 2, sr.DropReasons["blocked"])
	assert.Equal(t, 1, sr.Fallbacks)
	assert.Equal(t, 200.0, sr.LatencyP50MS)

	require.Len(t, sr.TopErrors, 2, "empty kinds are not recorded")
	assert.Equal(t, "read_timeout", sr.TopErrors[0].Kind)
	assert.Equal(t, 2, sr.TopErrors[0].Count)
}

func TestCollectorTopKBound(t *testing.T) {
	c := NewCollector()
	for _, k := range []string{"a", "b", "c", "d"} {
		c.IncError(k)
	}
	sr := c.Snapshot("src", 2)
	assert.Len(t, sr.TopErrors, 2)
}

func TestBuilderStatusAggregation(t *testing.T) {
	start := time.Now()

	tests := []struct {
		name     string
		statuses []string
		want     string
		exit     int
	}{
		{"all success", []string{StatusSuccess, StatusSuccess}, StatusSuccess, 0},
		{"one partial", []string{StatusSuccess, StatusPartial}, StatusPartial, 1},
		{"one failed among success", []string{StatusSuccess, StatusFailed}, StatusPartial, 1},
		{"all failed", []string{StatusFailed, StatusFailed}, StatusFailed, 1},
		{"no sources", nil, StatusFailed, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBuilder("run1", start)
			for i, s := range tt.statuses {
				b.Add(SourceReport{SourceID: string(rune('a' + i)), Status: s})
			}
			rep := b.Build(start.Add(time.Second))
			assert.Equal(t, tt.want, rep.Status)
			assert.Equal(t, tt.exit, rep.ExitCode())
			assert.Equal(t, len(tt.statuses), rep.Summary["sources_total"])
		})
	}
}

func TestBuilderSortsSources(t *testing.T) {
	b := NewBuilder("run1", time.Now())
	b.Add(SourceReport{SourceID: "zulu", Status: StatusSuccess})
	b.Add(SourceReport{SourceID: "alpha", Status: StatusSuccess})
	rep := b.Build(time.Now())
	assert.Equal(t, "alpha", rep.Sources[0].SourceID)
	assert.Equal(t, "zulu", rep.Sources[1].SourceID)
}
