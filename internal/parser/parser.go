package parser

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/justin4957/latency-anomaly-detector/pkg/models"
)

var errNoLatency = errors.New("line carries no latency")

// LatencyParser turns one line of a latency log into a sample
type LatencyParser interface {
	Parse(line string) (*models.LatencySample, error)
}

// NewParser creates a parser based on the specified format
func NewParser(format string) LatencyParser {
	switch format {
	case "json":
		return &JSONParser{}
	case "csv":
		return &CSVParser{}
	case "plain":
		return &PlainParser{}
	default:
		return &JSONParser{}
	}
}

func parseTimestamp(value string) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Now()
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02T15:04:05"} {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts
		}
	}
	if unix, err := strconv.ParseFloat(value, 64); err == nil {
		sec, frac := math.Modf(unix)
		return time.Unix(int64(sec), int64(frac*1e9))
	}
	return time.Now()
}

func finite(v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("latency %v is not finite", v)
	}
	return nil
}

// JSONParser parses JSON-formatted latency records such as
// {"timestamp": "...", "latency_ms": 120.5, "source": "https://example.com"}
type JSONParser struct{}

type jsonRecord struct {
	Timestamp string   `json:"timestamp"`
	LatencyMs *float64 `json:"latency_ms"`
	Latency   *float64 `json:"latency"`
	Source    string   `json:"source"`
	URL       string   `json:"url"`
}

func (p *JSONParser) Parse(line string) (*models.LatencySample, error) {
	var rec jsonRecord
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		return nil, fmt.Errorf("failed to parse JSON latency: %w", err)
	}

	latency := rec.LatencyMs
	if latency == nil {
		latency = rec.Latency
	}
	if latency == nil {
		return nil, errNoLatency
	}
	if err := finite(*latency); err != nil {
		return nil, err
	}

	source := rec.Source
	if source == "" {
		source = rec.URL
	}
	return &models.LatencySample{
		Timestamp: parseTimestamp(rec.Timestamp),
		LatencyMs: *latency,
		Source:    source,
	}, nil
}

// CSVParser parses "latency_ms[,timestamp[,source]]" lines
type CSVParser struct{}

func (p *CSVParser) Parse(line string) (*models.LatencySample, error) {
	reader := csv.NewReader(strings.NewReader(line))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	fields, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to parse CSV latency: %w", err)
	}

	latency, err := strconv.ParseFloat(strings.TrimSpace(fields[0]), 64)
	if err != nil {
		// header lines are not samples
		return nil, fmt.Errorf("invalid latency %q: %w", fields[0], errNoLatency)
	}
	if err := finite(latency); err != nil {
		return nil, err
	}

	sample := &models.LatencySample{LatencyMs: latency}
	if len(fields) > 1 {
		sample.Timestamp = parseTimestamp(fields[1])
	} else {
		sample.Timestamp = time.Now()
	}
	if len(fields) > 2 {
		sample.Source = strings.TrimSpace(fields[2])
	}
	return sample, nil
}

// PlainParser parses a bare number, optionally preceded by a timestamp and
// followed by an "ms" unit: "2024-01-15T10:30:45Z 120.5ms"
type PlainParser struct {
	regex *regexp.Regexp
}

func (p *PlainParser) Parse(line string) (*models.LatencySample, error) {
	if p.regex == nil {
		p.regex = regexp.MustCompile(
			`^\s*(?:(\S+)\s+)?([-+]?(?:\d+\.?\d*|\.\d+)(?:[eE][-+]?\d+)?)\s*(?:ms)?\s*$`,
		)
	}

	matches := p.regex.FindStringSubmatch(line)
	if len(matches) != 3 {
		return nil, fmt.Errorf("invalid plain latency line: %w", errNoLatency)
	}

	latency, err := strconv.ParseFloat(matches[2], 64)
	if err != nil {
		return nil, fmt.Errorf("invalid latency %q: %w", matches[2], err)
	}
	if err := finite(latency); err != nil {
		return nil, err
	}

	return &models.LatencySample{
		Timestamp: parseTimestamp(matches[1]),
		LatencyMs: latency,
	}, nil
}
