package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

const (
	LatencyColumn = "latency_ms"
	AnomalyColumn = "anomaly"
)

// ErrMissingLatencyColumn is returned when the header has no latency_ms column.
var ErrMissingLatencyColumn = errors.New("missing latency_ms column")

// naTokens are the cell values read as a missing latency.
var naTokens = map[string]struct{}{
	"": {}, "NA": {}, "N/A": {}, "n/a": {}, "NaN": {}, "nan": {}, "-NaN": {}, "-nan": {},
	"null": {}, "NULL": {}, "None": {}, "<NA>": {}, "#N/A": {}, "#NA": {}, "-1.#IND": {},
	"-1.#QNAN": {}, "1.#IND": {}, "1.#QNAN": {}, "#N/A N/A": {},
}

// Row is one record of a latency dataset. Fields holds the original cells so
// that a cleaned dataset keeps the input schema.
type Row struct {
	Latency    float64
	HasLatency bool
	Anomaly    int
	Fields     []string
}

// Dataset is a tabular latency dataset with an optional anomaly label column.
type Dataset struct {
	Header     []string
	Rows       []Row
	latencyCol int
	anomalyCol int
}

// New builds a dataset from rows whose Fields follow header. Rows without
// Fields get them rendered from Latency and Anomaly.
func New(header []string, rows []Row) (*Dataset, error) {
	ds := &Dataset{Header: header, latencyCol: -1, anomalyCol: -1}
	if err := ds.resolveColumns(); err != nil {
		return nil, err
	}
	for _, r := range rows {
		if r.Fields == nil {
			r.Fields = ds.render(r)
		}
		ds.Rows = append(ds.Rows, r)
	}
	return ds, nil
}

func (ds *Dataset) resolveColumns() error {
	ds.latencyCol, ds.anomalyCol = -1, -1
	for i, name := range ds.Header {
		switch strings.TrimSpace(name) {
		case LatencyColumn:
			ds.latencyCol = i
		case AnomalyColumn:
			ds.anomalyCol = i
		}
	}
	if ds.latencyCol < 0 {
		return ErrMissingLatencyColumn
	}
	return nil
}

func (ds *Dataset) render(r Row) []string {
	fields := make([]string, len(ds.Header))
	if r.HasLatency {
		fields[ds.latencyCol] = strconv.FormatFloat(r.Latency, 'f', -1, 64)
	}
	if ds.anomalyCol >= 0 {
		fields[ds.anomalyCol] = strconv.Itoa(r.Anomaly)
	}
	return fields
}

// HasLabels reports whether the dataset carries an anomaly column.
func (ds *Dataset) HasLabels() bool {
	return ds.anomalyCol >= 0
}

// Len returns the number of rows.
func (ds *Dataset) Len() int {
	return len(ds.Rows)
}

// Latencies returns the non-null latency values in row order.
func (ds *Dataset) Latencies() []float64 {
	out := make([]float64, 0, len(ds.Rows))
	for _, r := range ds.Rows {
		if r.HasLatency {
			out = append(out, r.Latency)
		}
	}
	return out
}

// WithRows returns a dataset sharing the schema of ds with different rows.
func (ds *Dataset) WithRows(rows []Row) *Dataset {
	return &Dataset{
		Header:     ds.Header,
		Rows:       rows,
		latencyCol: ds.latencyCol,
		anomalyCol: ds.anomalyCol,
	}
}

// Load reads a comma delimited dataset with a header row.
func Load(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset: %w", err)
	}
	defer f.Close()

	ds, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ds, nil
}

// Read parses a dataset from r.
func Read(r io.Reader) (*Dataset, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, ErrMissingLatencyColumn
	} else if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	ds := &Dataset{Header: header}
	if err := ds.resolveColumns(); err != nil {
		return nil, err
	}

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, fmt.Errorf("failed to read record: %w", err)
		}
		line, _ := reader.FieldPos(0)
		row, err := ds.parseRow(record)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		ds.Rows = append(ds.Rows, row)
	}
	return ds, nil
}

func (ds *Dataset) parseRow(record []string) (Row, error) {
	row := Row{Fields: record}

	cell := strings.TrimSpace(record[ds.latencyCol])
	if _, na := naTokens[cell]; !na {
		v, err := strconv.ParseFloat(cell, 64)
		if err != nil {
			return row, fmt.Errorf("invalid %s value %q", LatencyColumn, cell)
		}
		row.Latency = v
		row.HasLatency = true
	}

	if ds.anomalyCol >= 0 {
		label := strings.TrimSpace(record[ds.anomalyCol])
		switch label {
		case "0", "0.0", "False", "false":
			row.Anomaly = 0
		case "1", "1.0", "True", "true":
			row.Anomaly = 1
		default:
			return row, fmt.Errorf("invalid %s label %q", AnomalyColumn, label)
		}
	}
	return row, nil
}

// Save writes the header and the original cells of every row to path.
func Save(ds *Dataset, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}

	if err := Write(ds, f); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}

// Write encodes ds as CSV to w.
func Write(ds *Dataset, w io.Writer) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(ds.Header); err != nil {
		return err
	}
	for _, r := range ds.Rows {
		if err := writer.Write(r.Fields); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}
