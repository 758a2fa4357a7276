package monitor

import (
	"sync"
	"time"

	"github.com/justin4957/latency-anomaly-detector/internal/stats"
	"github.com/justin4957/latency-anomaly-detector/pkg/models"
	"gonum.org/v1/gonum/stat"
)

// MetricsCollector aggregates scored samples into per-tick windows
type MetricsCollector struct {
	currentWindow     *metricsWindow
	historicalMetrics []models.WindowMetrics
	maxHistoricalSize int
	mu                sync.RWMutex
}

type metricsWindow struct {
	startTime    time.Time
	latencies    []float64
	anomalyCount int
}

// NewMetricsCollector creates a collector keeping the last historySize windows
func NewMetricsCollector(historySize int) *MetricsCollector {
	if historySize <= 0 {
		historySize = 100
	}
	return &MetricsCollector{
		currentWindow:     newMetricsWindow(),
		historicalMetrics: make([]models.WindowMetrics, 0, historySize),
		maxHistoricalSize: historySize,
	}
}

func newMetricsWindow() *metricsWindow {
	return &metricsWindow{
		startTime: time.Now(),
		latencies: make([]float64, 0, 256),
	}
}

// AddSample adds a scored sample to the current window
func (mc *MetricsCollector) AddSample(sample models.ScoredSample) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.currentWindow.latencies = append(mc.currentWindow.latencies, sample.LatencyMs)
	if sample.Anomaly == 1 {
		mc.currentWindow.anomalyCount++
	}
}

// GetCurrentMetrics closes the current window, archives its metrics and
// starts a new one
func (mc *MetricsCollector) GetCurrentMetrics(streak int) *models.WindowMetrics {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	metrics := computeMetrics(mc.currentWindow, time.Now())
	metrics.CurrentStreak = streak

	mc.historicalMetrics = append(mc.historicalMetrics, *metrics)
	if len(mc.historicalMetrics) > mc.maxHistoricalSize {
		mc.historicalMetrics = mc.historicalMetrics[1:]
	}

	mc.currentWindow = newMetricsWindow()
	return metrics
}

// GetHistoricalMetrics returns a copy of the archived windows, oldest first
func (mc *MetricsCollector) GetHistoricalMetrics() []models.WindowMetrics {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	historical := make([]models.WindowMetrics, len(mc.historicalMetrics))
	copy(historical, mc.historicalMetrics)
	return historical
}

// Latest returns the most recently archived window
func (mc *MetricsCollector) Latest() (models.WindowMetrics, bool) {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	if len(mc.historicalMetrics) == 0 {
		return models.WindowMetrics{}, false
	}
	return mc.historicalMetrics[len(mc.historicalMetrics)-1], true
}

func computeMetrics(window *metricsWindow, now time.Time) *models.WindowMetrics {
	duration := now.Sub(window.startTime).Seconds()
	if duration <= 0 {
		duration = 1
	}

	metrics := &models.WindowMetrics{
		Timestamp:     now,
		Count:         len(window.latencies),
		AnomalyCount:  window.anomalyCount,
		SamplesPerSec: float64(len(window.latencies)) / duration,
	}
	if metrics.Count == 0 {
		return metrics
	}

	metrics.MeanLatency = stat.Mean(window.latencies, nil)
	metrics.P95Latency = stats.Quantile(window.latencies, 0.95)
	for _, v := range window.latencies {
		if v > metrics.MaxLatency {
			metrics.MaxLatency = v
		}
	}
	metrics.AnomalyRate = float64(window.anomalyCount) / float64(metrics.Count)
	return metrics
}
