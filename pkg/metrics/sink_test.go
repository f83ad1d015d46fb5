package metrics

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addValues(s Sink, values ...float64) {
	for _, v := range values {
		s.Add(Sample{Time: time.Now(), Value: v})
	}
}

func TestCounterSink(t *testing.T) {
	s := &CounterSink{}
	assert.True(t, s.IsEmpty())
	addValues(s, 1, 2, 3)
	assert.False(t, s.IsEmpty())

	out := s.Format(2)
	assert.Equal(t, 6.0, out["count"])
	assert.Equal(t, 3.0, out["rate"])
	assert.Equal(t, 0.0, s.Format(0)["rate"])
}

func TestCounterSink_ZeroValueNotEmpty(t *testing.T) {
	s := &CounterSink{}
	addValues(s, 0)
	assert.False(t, s.IsEmpty())
}

func TestGaugeSink(t *testing.T) {
	s := &GaugeSink{}
	addValues(s, 5, 1, 9, 3)
	out := s.Format(0)
	assert.Equal(t, 3.0, out["value"])
	assert.Equal(t, 1.0, out["min"])
	assert.Equal(t, 9.0, out["max"])
}

func TestRateSink(t *testing.T) {
	s := &RateSink{}
	assert.Equal(t, 0.0, s.Format(0)["rate"])

	addValues(s, 1, 0, 1, 1)
	out := s.Format(0)
	assert.Equal(t, 0.75, out["rate"])
	assert.Equal(t, 3.0, out["passes"])
	assert.Equal(t, 1.0, out["fails"])
}

func TestTrendSink_ExactPercentile(t *testing.T) {
	s := NewTrendSink()
	addValues(s, 9000, 100, 300, 200)

	out := s.Format(0)
	assert.Equal(t, 4.0, out["count"])
	assert.Equal(t, 100.0, out["min"])
	assert.Equal(t, 9000.0, out["max"])
	assert.Equal(t, 2400.0, out["avg"])
	assert.Equal(t, 250.0, out["med"])
	// rank = 0.95*3 = 2.85 -> 300*0.15 + 9000*0.85
	assert.InDelta(t, 7695.0, out["p(95)"], 1e-9)
	assert.InDelta(t, 7695.0, s.Percentile(95), 1e-9)
}

func TestTrendSink_Empty(t *testing.T) {
	s := NewTrendSink()
	assert.True(t, s.IsEmpty())
	out := s.Format(0)
	for _, k := range []string{"count", "min", "max", "avg", "med", "p(90)", "p(95)", "p(99)"} {
		v, ok := out[k]
		require.True(t, ok, k)
		assert.Equal(t, 0.0, v, k)
	}
}

func TestTrendSink_BoundedBeyondCapacity(t *testing.T) {
	s := NewTrendSink()
	n := ExactSampleCapacity * 10
	for i := 1; i <= n; i++ {
		s.Add(Sample{Value: float64(i)})
	}

	s.mu.Lock()
	assert.True(t, s.overflow)
	assert.Nil(t, s.exact)
	s.mu.Unlock()

	out := s.Format(0)
	assert.Equal(t, float64(n), out["count"])
	assert.Equal(t, 1.0, out["min"])
	assert.Equal(t, float64(n), out["max"])
	assert.InDelta(t, float64(n+1)/2, out["avg"], 1e-6)

	// histogram keeps 3 significant digits
	for _, p := range []float64{50, 90, 95, 99} {
		want := p / 100 * float64(n)
		got := s.Percentile(p)
		assert.InDelta(t, want, got, want*0.01+1, "p(%v)", p)
	}
}

func TestTrendSink_DistributionIsFrozen(t *testing.T) {
	s := NewTrendSink()
	addValues(s, 10, 20, 30)
	d := s.Distribution()
	before := d.Percentile(90)

	addValues(s, 1000, 2000)
	assert.Equal(t, before, d.Percentile(90))
	assert.Equal(t, int64(3), d.Count())
}

func TestTrendSink_ClampsOutOfRange(t *testing.T) {
	s := NewTrendSink()
	addValues(s, -5, math.MaxFloat64/2)
	for i := 0; i < ExactSampleCapacity; i++ {
		addValues(s, 1)
	}
	v := s.Percentile(99.99)
	assert.False(t, math.IsNaN(v))
	assert.LessOrEqual(t, v, math.MaxFloat64/2)
}
