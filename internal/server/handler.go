package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/justin4957/latency-anomaly-detector/pkg/models"
	"github.com/rs/zerolog/log"
)

const maxBodyBytes = 1 << 20

const latencyKey = "latency_ms"

const (
	msgMissingLatency = "Missing latency_ms in request"
	msgNotNumber      = "latency_ms must be a number"
)

var (
	errMissingLatency = errors.New(msgMissingLatency)
	errNotNumber      = errors.New(msgNotNumber)
)

// parseLatency extracts latency_ms from a request body. A body that is not a
// JSON object or lacks the exact key is a missing value; anything but a finite
// JSON number or numeric string is not a number.
func parseLatency(body []byte) (float64, error) {
	// struct decoding would also accept keys differing only in case
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return 0, errMissingLatency
	}
	field, ok := fields[latencyKey]
	if !ok {
		return 0, errMissingLatency
	}
	req := models.PredictionRequest{LatencyMs: field}

	raw := bytes.TrimSpace(req.LatencyMs)
	var value float64
	switch {
	case len(raw) > 0 && raw[0] == '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, errNotNumber
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, errNotNumber
		}
		value = v
	default:
		// null, booleans, arrays and objects fail here; true is not read as 1.0
		if err := json.Unmarshal(raw, &value); err != nil || string(raw) == "null" {
			return 0, errNotNumber
		}
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, errNotNumber
	}
	return value, nil
}

func (s *Server) handlePredict(ctx *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(ctx.Request.Body, maxBodyBytes))
	if err != nil {
		respondError(ctx, http.StatusBadRequest, msgMissingLatency)
		return
	}

	latency, err := parseLatency(body)
	if err != nil {
		respondError(ctx, http.StatusBadRequest, err.Error())
		return
	}

	anomaly := s.model.Predict(latency)
	log.Debug().Float64("latencyMs", latency).Int("anomaly", anomaly).Msg("prediction")
	ctx.JSON(http.StatusOK, models.PredictionResponse{Anomaly: anomaly})
}

func (s *Server) handleHealth(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type modelInfo struct {
	RunID         string   `json:"run_id,omitempty"`
	TrainedAt     string   `json:"trained_at"`
	Contamination float64  `json:"contamination"`
	F1            *float64 `json:"f1"`
	Offset        float64  `json:"offset"`
	Trees         int      `json:"trees"`
	MaxSamples    int      `json:"max_samples"`
	Train         any      `json:"train"`
}

func (s *Server) handleModel(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, modelInfo{
		RunID:         s.model.RunID,
		TrainedAt:     s.model.TrainedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		Contamination: s.model.Contamination,
		F1:            s.model.F1,
		Offset:        s.model.Forest.Offset,
		Trees:         len(s.model.Forest.Trees),
		MaxSamples:    s.model.Forest.MaxSamples,
		Train:         s.model.Train,
	})
}
