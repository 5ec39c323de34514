package correlate

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/c360/trackstream/errors"
	"github.com/c360/trackstream/pkg/observe"
)

// Config tunes the analysis thresholds.
type Config struct {
	// WindowSize bounds how many points each metric retains.
	WindowSize int `yaml:"window_size"`
	// MinOverlap is the minimum number of timestamp-matched samples two
	// metrics need before a correlation is computed.
	MinOverlap int `yaml:"min_overlap"`
	// MinTrendPoints is the minimum window size for trend fitting.
	MinTrendPoints int `yaml:"min_trend_points"`
	// AnomalyStdDevs is the deviation threshold, in standard-deviation
	// units, above which the newest point is flagged.
	AnomalyStdDevs float64 `yaml:"anomaly_std_devs"`
	// StableChangePercent is the absolute percent change below which a
	// trend is classified STABLE regardless of slope sign.
	StableChangePercent float64 `yaml:"stable_change_percent"`
	// MaxAnomalies bounds the retained anomaly history.
	MaxAnomalies int `yaml:"max_anomalies"`
}

// DefaultConfig returns production analysis defaults.
func DefaultConfig() Config {
	return Config{
		WindowSize:          100,
		MinOverlap:          10,
		MinTrendPoints:      5,
		AnomalyStdDevs:      2.0,
		StableChangePercent: 5.0,
		MaxAnomalies:        200,
	}
}

// Validate checks the configuration at construction time.
func (c Config) Validate() error {
	if c.WindowSize < 2 {
		return errors.WrapFatal(errors.ErrInvalidConfig, "correlate.config", "window_size must be at least 2")
	}
	if c.MinOverlap < 2 {
		return errors.WrapFatal(errors.ErrInvalidConfig, "correlate.config", "min_overlap must be at least 2")
	}
	if c.AnomalyStdDevs <= 0 {
		return errors.WrapFatal(errors.ErrInvalidConfig, "correlate.config", "anomaly_std_devs must be positive")
	}
	return nil
}

// Engine records metric series and derives correlations, trends,
// anomalies and insights after each recorded point. Derived collections
// are fully replaced on each analysis pass so no stale artifact
// survives.
type Engine struct {
	cfg    Config
	logger *slog.Logger
	clock  func() time.Time

	mu           sync.Mutex
	series       map[string][]DataPoint
	correlations []Correlation
	trends       []Trend
	anomalies    []Anomaly
	insights     []Insight
	insightSeen  map[string]struct{}

	correlationEvents *observe.Stream[Correlation]
	trendEvents       *observe.Stream[Trend]
	anomalyEvents     *observe.Stream[Anomaly]
	insightEvents     *observe.Stream[Insight]
}

// Option configures optional engine collaborators.
type Option func(*Engine)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger.With("component", "correlate.engine")
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.clock = now }
}

// NewEngine creates an engine with the given analysis thresholds.
func NewEngine(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:               cfg,
		logger:            slog.Default().With("component", "correlate.engine"),
		clock:             time.Now,
		series:            make(map[string][]DataPoint),
		insightSeen:       make(map[string]struct{}),
		correlationEvents: observe.NewStream[Correlation](64),
		trendEvents:       observe.NewStream[Trend](64),
		anomalyEvents:     observe.NewStream[Anomaly](64),
		insightEvents:     observe.NewStream[Insight](64),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// CorrelationEvents streams every recomputed correlation.
func (e *Engine) CorrelationEvents() *observe.Stream[Correlation] { return e.correlationEvents }

// TrendEvents streams every recomputed trend.
func (e *Engine) TrendEvents() *observe.Stream[Trend] { return e.trendEvents }

// AnomalyEvents streams each newly detected anomaly.
func (e *Engine) AnomalyEvents() *observe.Stream[Anomaly] { return e.anomalyEvents }

// InsightEvents streams each newly synthesized insight.
func (e *Engine) InsightEvents() *observe.Stream[Insight] { return e.insightEvents }

// RecordMetric appends a data point to the metric's window and runs a
// full analysis pass.
func (e *Engine) RecordMetric(name string, value float64, ts time.Time, tags map[string]string) {
	if name == "" {
		return
	}
	if ts.IsZero() {
		ts = e.clock()
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	window := append(e.series[name], DataPoint{Value: value, Timestamp: ts, Tags: tags})
	if len(window) > e.cfg.WindowSize {
		window = window[len(window)-e.cfg.WindowSize:]
	}
	e.series[name] = window

	e.analyzeLocked(name)
}

// analyzeLocked recomputes all derived collections. Anomaly detection
// only inspects the metric that just received a point, since only its
// newest value changed.
func (e *Engine) analyzeLocked(updated string) {
	now := e.clock()

	e.recomputeCorrelationsLocked(now)
	e.recomputeTrendsLocked(now)
	e.detectAnomalyLocked(updated, now)
	e.synthesizeInsightsLocked(now)
}

func (e *Engine) recomputeCorrelationsLocked(now time.Time) {
	names := e.metricNamesLocked()
	correlations := make([]Correlation, 0)

	for i := 0; i < len(names); i++ {
		for j := i + 1; j < len(names); j++ {
			xs, ys := pairByTimestamp(e.series[names[i]], e.series[names[j]])
			if len(xs) < e.cfg.MinOverlap {
				continue
			}
			r := pearson(xs, ys)
			c := Correlation{
				Metric1:     names[i],
				Metric2:     names[j],
				Coefficient: r,
				Direction:   classifyDirection(r),
				Strength:    classifyStrength(r),
				SampleSize:  len(xs),
				ComputedAt:  now,
			}
			correlations = append(correlations, c)
			e.correlationEvents.Publish(c)
		}
	}
	e.correlations = correlations
}

func (e *Engine) recomputeTrendsLocked(now time.Time) {
	trends := make([]Trend, 0, len(e.series))

	for _, name := range e.metricNamesLocked() {
		window := e.series[name]
		if len(window) < e.cfg.MinTrendPoints {
			continue
		}
		values := make([]float64, len(window))
		for i, p := range window {
			values[i] = p.Value
		}

		slope := linearSlope(values)
		change := percentChange(values[0], values[len(values)-1])

		direction := TrendStable
		if math.Abs(change) >= e.cfg.StableChangePercent {
			if slope > 0 {
				direction = TrendIncreasing
			} else if slope < 0 {
				direction = TrendDecreasing
			}
		}

		tr := Trend{
			MetricName:    name,
			Slope:         slope,
			Direction:     direction,
			ChangePercent: change,
			SampleSize:    len(window),
			ComputedAt:    now,
		}
		trends = append(trends, tr)
		e.trendEvents.Publish(tr)
	}
	e.trends = trends
}

func (e *Engine) detectAnomalyLocked(name string, now time.Time) {
	window := e.series[name]
	if len(window) < e.cfg.MinTrendPoints {
		return
	}

	// Baseline excludes the newest point so a single outlier cannot
	// mask itself by inflating the window statistics.
	newest := window[len(window)-1]
	baseline := make([]float64, 0, len(window)-1)
	for _, p := range window[:len(window)-1] {
		baseline = append(baseline, p.Value)
	}

	mean, stddev := meanStdDev(baseline)
	if stddev == 0 {
		return
	}
	deviation := math.Abs(newest.Value-mean) / stddev
	if deviation < e.cfg.AnomalyStdDevs {
		return
	}

	kind := AnomalySpike
	if newest.Value < mean {
		kind = AnomalyDrop
	}
	a := Anomaly{
		MetricName:    name,
		Type:          kind,
		Value:         newest.Value,
		ExpectedValue: mean,
		Deviation:     deviation,
		Severity:      classifyDeviation(deviation),
		Timestamp:     newest.Timestamp,
	}

	e.anomalies = append(e.anomalies, a)
	if len(e.anomalies) > e.cfg.MaxAnomalies {
		e.anomalies = e.anomalies[len(e.anomalies)-e.cfg.MaxAnomalies:]
	}
	e.anomalyEvents.Publish(a)

	e.logger.Warn("metric anomaly detected",
		"metric", name,
		"type", string(kind),
		"value", newest.Value,
		"expected", mean,
		"deviation", deviation,
		"severity", string(a.Severity))
}

// synthesizeInsightsLocked rebuilds the insight list from the current
// derived collections. Only insights not seen in the previous pass are
// published, so subscribers see each finding once.
func (e *Engine) synthesizeInsightsLocked(now time.Time) {
	insights := make([]Insight, 0)
	seen := make(map[string]struct{})

	for _, c := range e.correlations {
		if c.Strength != StrengthVeryStrong {
			continue
		}
		insights = append(insights, Insight{
			Type:     InsightCorrelation,
			Severity: SeverityMedium,
			Title:    fmt.Sprintf("Strong correlation between %s and %s", c.Metric1, c.Metric2),
			Description: fmt.Sprintf("%s and %s move together with coefficient %.2f over %d samples",
				c.Metric1, c.Metric2, c.Coefficient, c.SampleSize),
			Recommendations: []string{
				"Investigate whether one metric drives the other",
				"Consider alerting on the leading metric only",
			},
			Actionable: true,
			Metadata: map[string]string{
				"metric1":     c.Metric1,
				"metric2":     c.Metric2,
				"coefficient": fmt.Sprintf("%.3f", c.Coefficient),
			},
			CreatedAt: now,
		})
	}

	for _, tr := range e.trends {
		if tr.Direction == TrendStable || math.Abs(tr.ChangePercent) < 2*e.cfg.StableChangePercent {
			continue
		}
		severity := SeverityLow
		if math.Abs(tr.ChangePercent) >= 50 {
			severity = SeverityMedium
		}
		insights = append(insights, Insight{
			Type:     InsightTrend,
			Severity: severity,
			Title:    fmt.Sprintf("%s is %s", tr.MetricName, string(tr.Direction)),
			Description: fmt.Sprintf("%s changed %.1f%% over its window (slope %.4f)",
				tr.MetricName, tr.ChangePercent, tr.Slope),
			Recommendations: []string{
				"Check recent deploys or configuration changes",
				"Project capacity needs if the trend continues",
			},
			Actionable: severity != SeverityLow,
			Metadata: map[string]string{
				"metric":         tr.MetricName,
				"change_percent": fmt.Sprintf("%.1f", tr.ChangePercent),
			},
			CreatedAt: now,
		})
	}

	for _, a := range e.anomalies {
		if a.Severity != SeverityHigh && a.Severity != SeverityCritical {
			continue
		}
		insights = append(insights, Insight{
			Type:     InsightAnomaly,
			Severity: a.Severity,
			Title:    fmt.Sprintf("%s %s on %s", string(a.Severity), string(a.Type), a.MetricName),
			Description: fmt.Sprintf("%s value %.2f deviates %.1f standard deviations from expected %.2f",
				a.MetricName, a.Value, a.Deviation, a.ExpectedValue),
			Recommendations: []string{
				"Inspect the data source feeding this metric",
				"Correlate with active alerts at the anomaly timestamp",
			},
			Actionable: true,
			Metadata: map[string]string{
				"metric":    a.MetricName,
				"type":      string(a.Type),
				"deviation": fmt.Sprintf("%.2f", a.Deviation),
			},
			CreatedAt: now,
		})
	}

	for _, in := range insights {
		key := string(in.Type) + "|" + in.Title
		seen[key] = struct{}{}
		if _, dup := e.insightSeen[key]; !dup {
			e.insightEvents.Publish(in)
		}
	}
	e.insights = insights
	e.insightSeen = seen
}

// Correlations returns the current correlation list.
func (e *Engine) Correlations() []Correlation {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Correlation, len(e.correlations))
	copy(out, e.correlations)
	return out
}

// Trends returns the current trend list.
func (e *Engine) Trends() []Trend {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Trend, len(e.trends))
	copy(out, e.trends)
	return out
}

// Anomalies returns the retained anomaly history, oldest first.
func (e *Engine) Anomalies() []Anomaly {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Anomaly, len(e.anomalies))
	copy(out, e.anomalies)
	return out
}

// Insights returns the current insight list.
func (e *Engine) Insights() []Insight {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Insight, len(e.insights))
	copy(out, e.insights)
	return out
}

// CorrelationsFor returns correlations involving the metric.
func (e *Engine) CorrelationsFor(name string) []Correlation {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []Correlation
	for _, c := range e.correlations {
		if c.Metric1 == name || c.Metric2 == name {
			out = append(out, c)
		}
	}
	return out
}

// TrendFor returns the metric's current trend, if one exists.
func (e *Engine) TrendFor(name string) (Trend, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, tr := range e.trends {
		if tr.MetricName == name {
			return tr, true
		}
	}
	return Trend{}, false
}

// AnomaliesFor returns retained anomalies for the metric.
func (e *Engine) AnomaliesFor(name string) []Anomaly {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []Anomaly
	for _, a := range e.anomalies {
		if a.MetricName == name {
			out = append(out, a)
		}
	}
	return out
}

// MetricNames returns the recorded series names, sorted.
func (e *Engine) MetricNames() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.metricNamesLocked()
}

// ClearOldData drops data points and anomalies older than cutoff and
// rebuilds all derived collections from what remains.
func (e *Engine) ClearOldData(cutoff time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for name, window := range e.series {
		kept := window[:0]
		for _, p := range window {
			if !p.Timestamp.Before(cutoff) {
				kept = append(kept, p)
			}
		}
		if len(kept) == 0 {
			delete(e.series, name)
			continue
		}
		e.series[name] = kept
	}

	keptAnomalies := e.anomalies[:0]
	for _, a := range e.anomalies {
		if !a.Timestamp.Before(cutoff) {
			keptAnomalies = append(keptAnomalies, a)
		}
	}
	e.anomalies = keptAnomalies

	now := e.clock()
	e.recomputeCorrelationsLocked(now)
	e.recomputeTrendsLocked(now)
	e.synthesizeInsightsLocked(now)
}

// Close shuts down all event streams.
func (e *Engine) Close() {
	e.correlationEvents.Close()
	e.trendEvents.Close()
	e.anomalyEvents.Close()
	e.insightEvents.Close()
}

func (e *Engine) metricNamesLocked() []string {
	names := make([]string, 0, len(e.series))
	for name := range e.series {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// pairByTimestamp matches two series on exact timestamps and returns
// the paired values.
func pairByTimestamp(a, b []DataPoint) (xs, ys []float64) {
	index := make(map[int64]float64, len(b))
	for _, p := range b {
		index[p.Timestamp.UnixNano()] = p.Value
	}
	for _, p := range a {
		if v, ok := index[p.Timestamp.UnixNano()]; ok {
			xs = append(xs, p.Value)
			ys = append(ys, v)
		}
	}
	return xs, ys
}
