package correlate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	bad := DefaultConfig()
	bad.WindowSize = 1
	assert.Error(t, bad.Validate())

	bad = DefaultConfig()
	bad.AnomalyStdDevs = 0
	assert.Error(t, bad.Validate())
}

func TestPearsonPerfectLinear(t *testing.T) {
	xs := []float64{1, 2, 3, 4, 5}
	ys := []float64{3, 6, 9, 12, 15}
	assert.InDelta(t, 1.0, pearson(xs, ys), 0.001)

	neg := []float64{15, 12, 9, 6, 3}
	assert.InDelta(t, -1.0, pearson(xs, neg), 0.001)
}

func TestPearsonZeroVariance(t *testing.T) {
	xs := []float64{1, 2, 3, 4, 5}
	flat := []float64{7, 7, 7, 7, 7}
	assert.Zero(t, pearson(xs, flat))
}

// Two perfectly linearly related series (y = 3x) over matched
// timestamps correlate with coefficient near 1.
func TestLinearlyRelatedSeriesCorrelate(t *testing.T) {
	e := newTestEngine(t)
	base := time.Now()

	for i := 0; i < 12; i++ {
		ts := base.Add(time.Duration(i) * time.Second)
		x := float64(i + 1)
		e.RecordMetric("requests", x, ts, nil)
		e.RecordMetric("bytes_sent", 3*x, ts, nil)
	}

	correlations := e.Correlations()
	require.Len(t, correlations, 1)
	c := correlations[0]
	assert.InDelta(t, 1.0, c.Coefficient, 0.1)
	assert.Equal(t, DirectionPositive, c.Direction)
	assert.Equal(t, StrengthVeryStrong, c.Strength)
	assert.GreaterOrEqual(t, c.SampleSize, 10)

	forRequests := e.CorrelationsFor("requests")
	require.Len(t, forRequests, 1)
	assert.Empty(t, e.CorrelationsFor("unknown"))
}

func TestCorrelationRequiresMinimumOverlap(t *testing.T) {
	e := newTestEngine(t)
	base := time.Now()

	for i := 0; i < 8; i++ {
		ts := base.Add(time.Duration(i) * time.Second)
		e.RecordMetric("a", float64(i), ts, nil)
		e.RecordMetric("b", float64(2*i), ts, nil)
	}
	assert.Empty(t, e.Correlations())
}

// A single outlier after a flat-ish baseline is flagged as a SPIKE with
// deviation well past two standard deviations.
func TestSpikeAnomalyDetection(t *testing.T) {
	e := newTestEngine(t)
	base := time.Now()
	noise := []float64{-0.5, 0.5, -0.2, 0.2}

	for i := 0; i < 20; i++ {
		e.RecordMetric("cpu", 50+noise[i%len(noise)], base.Add(time.Duration(i)*time.Second), nil)
	}
	require.Empty(t, e.AnomaliesFor("cpu"))

	e.RecordMetric("cpu", 100, base.Add(21*time.Second), nil)

	anomalies := e.AnomaliesFor("cpu")
	require.Len(t, anomalies, 1)
	a := anomalies[0]
	assert.Equal(t, AnomalySpike, a.Type)
	assert.Greater(t, a.Deviation, 2.0)
	assert.InDelta(t, 50, a.ExpectedValue, 2)
	assert.Equal(t, SeverityCritical, a.Severity)
}

func TestDropAnomalyDetection(t *testing.T) {
	e := newTestEngine(t)
	base := time.Now()

	for i := 0; i < 20; i++ {
		e.RecordMetric("throughput", 100+float64(i%3), base.Add(time.Duration(i)*time.Second), nil)
	}
	e.RecordMetric("throughput", 10, base.Add(21*time.Second), nil)

	anomalies := e.AnomaliesFor("throughput")
	require.Len(t, anomalies, 1)
	assert.Equal(t, AnomalyDrop, anomalies[0].Type)
}

// Fifteen monotonically increasing points yield an INCREASING trend
// with positive slope.
func TestIncreasingTrend(t *testing.T) {
	e := newTestEngine(t)
	base := time.Now()

	for i := 0; i < 15; i++ {
		e.RecordMetric("latency_ms", 10+float64(i)*2, base.Add(time.Duration(i)*time.Second), nil)
	}

	tr, ok := e.TrendFor("latency_ms")
	require.True(t, ok)
	assert.Equal(t, TrendIncreasing, tr.Direction)
	assert.Greater(t, tr.Slope, 0.0)
	assert.Greater(t, tr.ChangePercent, 0.0)
	assert.Equal(t, 15, tr.SampleSize)
}

func TestStableTrend(t *testing.T) {
	e := newTestEngine(t)
	base := time.Now()

	for i := 0; i < 15; i++ {
		e.RecordMetric("flat", 100+float64(i%2), base.Add(time.Duration(i)*time.Second), nil)
	}

	tr, ok := e.TrendFor("flat")
	require.True(t, ok)
	assert.Equal(t, TrendStable, tr.Direction)
}

func TestInsightSynthesis(t *testing.T) {
	e := newTestEngine(t)
	base := time.Now()

	events, cancel := e.InsightEvents().Subscribe()
	defer cancel()

	for i := 0; i < 12; i++ {
		ts := base.Add(time.Duration(i) * time.Second)
		e.RecordMetric("errors", float64(i), ts, nil)
		e.RecordMetric("restarts", float64(i)*1.5, ts, nil)
	}

	var found bool
	for _, in := range e.Insights() {
		if in.Type == InsightCorrelation {
			found = true
			assert.True(t, in.Actionable)
			assert.NotEmpty(t, in.Recommendations)
			assert.Contains(t, in.Title, "errors")
		}
	}
	require.True(t, found, "expected a correlation insight")

	select {
	case in := <-events:
		assert.NotEmpty(t, in.Title)
	case <-time.After(time.Second):
		t.Fatal("no insight published")
	}
}

func TestAnomalyEventsStream(t *testing.T) {
	e := newTestEngine(t)
	base := time.Now()

	events, cancel := e.AnomalyEvents().Subscribe()
	defer cancel()

	for i := 0; i < 20; i++ {
		e.RecordMetric("mem", 50, base.Add(time.Duration(i)*time.Second), nil)
	}
	// Zero-variance baseline cannot produce anomalies.
	e.RecordMetric("mem", 50.5, base.Add(21*time.Second), nil)
	select {
	case a := <-events:
		t.Fatalf("unexpected anomaly %+v", a)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestClearOldData(t *testing.T) {
	e := newTestEngine(t)
	base := time.Now().Add(-time.Hour)

	for i := 0; i < 12; i++ {
		ts := base.Add(time.Duration(i) * time.Second)
		e.RecordMetric("old_a", float64(i), ts, nil)
		e.RecordMetric("old_b", float64(i)*2, ts, nil)
	}
	require.NotEmpty(t, e.Correlations())

	e.ClearOldData(time.Now().Add(-time.Minute))

	assert.Empty(t, e.Correlations())
	assert.Empty(t, e.Trends())
	assert.Empty(t, e.MetricNames())
}

func TestWindowBounded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WindowSize = 10
	e, err := NewEngine(cfg)
	require.NoError(t, err)
	defer e.Close()

	base := time.Now()
	for i := 0; i < 50; i++ {
		e.RecordMetric("windowed", float64(i), base.Add(time.Duration(i)*time.Second), nil)
	}

	tr, ok := e.TrendFor("windowed")
	require.True(t, ok)
	assert.Equal(t, 10, tr.SampleSize)
}
