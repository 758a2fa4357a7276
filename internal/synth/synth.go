package synth

import (
	"fmt"
	"math/rand/v2"

	"github.com/justin4957/latency-anomaly-detector/internal/dataset"
)

// Options describes a two-cluster latency dataset.
type Options struct {
	NormalCount  int
	NormalMean   float64
	NormalStd    float64
	AnomalyCount int
	AnomalyMean  float64
	AnomalyStd   float64
	// NullFraction of the rows get no latency.
	NullFraction float64
	Seed         uint64
}

// DefaultOptions returns 1000 normal readings around 120ms and 20 anomalies
// around 300ms.
func DefaultOptions() Options {
	return Options{
		NormalCount:  1000,
		NormalMean:   120,
		NormalStd:    15,
		AnomalyCount: 20,
		AnomalyMean:  300,
		AnomalyStd:   20,
		Seed:         42,
	}
}

// Generate draws a labelled, shuffled dataset with latency_ms and anomaly
// columns.
func Generate(opts Options) *dataset.Dataset {
	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed))

	rows := make([]dataset.Row, 0, opts.NormalCount+opts.AnomalyCount)
	for i := 0; i < opts.NormalCount; i++ {
		rows = append(rows, dataset.Row{
			Latency:    opts.NormalMean + opts.NormalStd*rng.NormFloat64(),
			HasLatency: true,
		})
	}
	for i := 0; i < opts.AnomalyCount; i++ {
		rows = append(rows, dataset.Row{
			Latency:    opts.AnomalyMean + opts.AnomalyStd*rng.NormFloat64(),
			HasLatency: true,
			Anomaly:    1,
		})
	}
	rng.Shuffle(len(rows), func(i, j int) { rows[i], rows[j] = rows[j], rows[i] })

	if opts.NullFraction > 0 {
		for i := range rows {
			if rng.Float64() < opts.NullFraction {
				rows[i].HasLatency = false
				rows[i].Latency = 0
			}
		}
	}

	ds, err := dataset.New([]string{dataset.LatencyColumn, dataset.AnomalyColumn}, rows)
	if err != nil {
		// the header always carries the latency column
		panic(err)
	}
	return ds
}

// WriteFile generates a dataset and saves it as CSV.
func WriteFile(path string, opts Options) (*dataset.Dataset, error) {
	ds := Generate(opts)
	if err := dataset.Save(ds, path); err != nil {
		return nil, fmt.Errorf("failed to write synthetic dataset: %w", err)
	}
	return ds, nil
}
