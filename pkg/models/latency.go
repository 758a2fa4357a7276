package models

import (
	"encoding/json"
	"time"
)

// LatencySample is a single latency observation, either streamed from a
// latency log or submitted to the prediction endpoint.
type LatencySample struct {
	Timestamp time.Time `json:"timestamp"`
	LatencyMs float64   `json:"latency_ms"`
	Source    string    `json:"source,omitempty"`
}

// ScoredSample is a LatencySample after it went through the model.
type ScoredSample struct {
	LatencySample
	Score   float64 `json:"score"`
	Anomaly int     `json:"anomaly"`
}

// Anomaly represents a sustained latency anomaly raised by the monitor
type Anomaly struct {
	Timestamp     time.Time   `json:"timestamp"`
	Type          AnomalyType `json:"type"`
	Severity      Severity    `json:"severity"`
	Description   string      `json:"description"`
	Metric        string      `json:"metric"`
	ActualValue   float64     `json:"actual_value"`
	ExpectedValue float64     `json:"expected_value"`
	Deviation     float64     `json:"deviation"`
	Streak        int         `json:"streak"`
	Samples       []float64   `json:"samples,omitempty"`
	Remediated    bool        `json:"remediated,omitempty"`
}

// AnomalyType represents the type of anomaly detected
type AnomalyType string

const AnomalyTypeLatency AnomalyType = "latency"

// Severity represents anomaly severity
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// WindowMetrics aggregates scored samples of one monitor tick.
type WindowMetrics struct {
	Timestamp     time.Time `json:"timestamp"`
	Count         int       `json:"count"`
	MeanLatency   float64   `json:"mean_latency"`
	P95Latency    float64   `json:"p95_latency"`
	MaxLatency    float64   `json:"max_latency"`
	AnomalyCount  int       `json:"anomaly_count"`
	AnomalyRate   float64   `json:"anomaly_rate"`
	SamplesPerSec float64   `json:"samples_per_sec"`
	CurrentStreak int       `json:"current_streak"`
}

// PredictionRequest is the body of POST /predict. LatencyMs is kept raw so
// that presence and numeric conversion can be validated separately.
type PredictionRequest struct {
	LatencyMs json.RawMessage `json:"latency_ms"`
}

// PredictionResponse is the successful answer of POST /predict.
type PredictionResponse struct {
	Anomaly int `json:"anomaly"`
}

// ErrorResponse is returned with any 4xx/5xx status.
type ErrorResponse struct {
	Error string `json:"error"`
}
