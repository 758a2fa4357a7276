package monitor

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/justin4957/latency-anomaly-detector/internal/config"
	"github.com/justin4957/latency-anomaly-detector/internal/stats"
	"github.com/justin4957/latency-anomaly-detector/pkg/models"
	"github.com/rs/zerolog/log"
)

// Model scores single latency feature vectors
type Model interface {
	Score(x []float64) float64
	IsOutlier(x []float64) bool
}

// AlertSink receives every raised anomaly. Sinks run in order and may
// annotate the anomaly for the ones after them.
type AlertSink interface {
	HandleAnomaly(ctx context.Context, anomaly *models.Anomaly) error
}

// Monitor scores streamed latency samples and raises an anomaly when
// enough consecutive samples are anomalous
type Monitor struct {
	config           config.MonitorConfig
	model            Model
	metricsCollector *MetricsCollector
	detector         *StreakDetector
	sinks            []AlertSink
}

// NewMonitor creates a monitor. baseline describes the training latencies
// and is used to grade severity.
func NewMonitor(cfg config.MonitorConfig, model Model, baseline stats.Summary, sinks ...AlertSink) *Monitor {
	return &Monitor{
		config:           cfg,
		model:            model,
		metricsCollector: NewMetricsCollector(cfg.WindowSize),
		detector:         NewStreakDetector(cfg.StreakThreshold, baseline),
		sinks:            sinks,
	}
}

// Metrics exposes the window metrics collector
func (m *Monitor) Metrics() *MetricsCollector {
	return m.metricsCollector
}

// Score runs a single sample through the model
func (m *Monitor) Score(sample models.LatencySample) models.ScoredSample {
	x := []float64{sample.LatencyMs}
	scored := models.ScoredSample{
		LatencySample: sample,
		Score:         m.model.Score(x),
	}
	if m.model.IsOutlier(x) {
		scored.Anomaly = 1
	}
	return scored
}

// Start consumes samples until ctx is cancelled or input is closed. Scored
// samples, window metrics and anomalies are sent to output, which is closed
// on return.
func (m *Monitor) Start(ctx context.Context, input <-chan models.LatencySample, output chan<- any) {
	tick := time.Duration(m.config.TickMs) * time.Millisecond
	if tick <= 0 {
		tick = time.Second
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	alerts := make(chan models.Anomaly, 16)
	sinksDone := make(chan struct{})
	go m.runSinks(ctx, alerts, output, sinksDone)
	defer func() {
		close(alerts)
		<-sinksDone
		close(output)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case sample, ok := <-input:
			if !ok {
				m.send(ctx, output, m.metricsCollector.GetCurrentMetrics(m.detector.Streak()))
				return
			}
			scored := m.Score(sample)
			m.metricsCollector.AddSample(scored)
			m.send(ctx, output, scored)

			if anomaly := m.detector.Observe(scored); anomaly != nil {
				log.Warn().
					Str("severity", string(anomaly.Severity)).
					Int("streak", anomaly.Streak).
					Float64("meanLatencyMs", anomaly.ActualValue).
					Msg(anomaly.Description)
				select {
				case alerts <- *anomaly:
				case <-ctx.Done():
					return
				}
			}
		case <-ticker.C:
			m.send(ctx, output, m.metricsCollector.GetCurrentMetrics(m.detector.Streak()))
		}
	}
}

func (m *Monitor) runSinks(ctx context.Context, alerts <-chan models.Anomaly, output chan<- any, done chan<- struct{}) {
	defer close(done)
	for anomaly := range alerts {
		for _, sink := range m.sinks {
			if err := sink.HandleAnomaly(ctx, &anomaly); err != nil {
				log.Error().Err(err).Type("sink", sink).Msg("Alert sink failed")
			}
		}
		m.send(ctx, output, anomaly)
	}
}

func (m *Monitor) send(ctx context.Context, output chan<- any, value any) {
	select {
	case output <- value:
	case <-ctx.Done():
	}
}

// StreakDetector raises one anomaly per run of consecutive anomalous samples,
// once the run reaches the threshold
type StreakDetector struct {
	threshold int
	baseline  stats.Summary
	streak    []float64
}

// NewStreakDetector creates a detector; thresholds below one are raised to one
func NewStreakDetector(threshold int, baseline stats.Summary) *StreakDetector {
	if threshold < 1 {
		threshold = 1
	}
	return &StreakDetector{threshold: threshold, baseline: baseline}
}

// Streak returns the length of the current anomalous run
func (d *StreakDetector) Streak() int {
	return len(d.streak)
}

// Observe updates the run with sample and returns an anomaly when the run
// has just reached the threshold
func (d *StreakDetector) Observe(sample models.ScoredSample) *models.Anomaly {
	if sample.Anomaly == 0 {
		d.streak = d.streak[:0]
		return nil
	}
	d.streak = append(d.streak, sample.LatencyMs)
	if len(d.streak) != d.threshold {
		return nil
	}

	samples := make([]float64, len(d.streak))
	copy(samples, d.streak)
	actual := stats.Summarize(samples).Mean
	return &models.Anomaly{
		Timestamp:     sample.Timestamp,
		Type:          models.AnomalyTypeLatency,
		Severity:      calculateSeverity(actual, d.baseline.Mean, d.baseline.StdDev),
		Description:   fmt.Sprintf("%d consecutive anomalous latency samples", len(samples)),
		Metric:        "latency_ms",
		ActualValue:   actual,
		ExpectedValue: d.baseline.Mean,
		Deviation:     actual - d.baseline.Mean,
		Streak:        len(samples),
		Samples:       samples,
	}
}

func calculateSeverity(actual, expected, stdDev float64) models.Severity {
	deviation := math.Abs(actual - expected)
	if stdDev <= 0 {
		return models.SeverityMedium
	}
	if deviation > 8*stdDev {
		return models.SeverityCritical
	} else if deviation > 6*stdDev {
		return models.SeverityHigh
	} else if deviation > 4*stdDev {
		return models.SeverityMedium
	}
	return models.SeverityLow
}
