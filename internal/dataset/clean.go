package dataset

import (
	"math"

	"github.com/justin4957/latency-anomaly-detector/internal/stats"
	"github.com/rs/zerolog/log"
)

// DefaultCapQuantile is the quantile above which latencies are dropped.
const DefaultCapQuantile = 0.99

// CleanResult describes what Clean removed.
type CleanResult struct {
	Cap     float64
	Dropped int // rows with a null latency
	Capped  int // rows above Cap
}

// Clean drops rows with a null latency, then drops rows above the
// capQuantile quantile of the remaining latencies. The cap is computed from
// ds itself; a row equal to the cap is kept. An empty result has Cap NaN.
func Clean(ds *Dataset, capQuantile float64) (*Dataset, CleanResult) {
	var res CleanResult
	present := make([]Row, 0, len(ds.Rows))
	for _, r := range ds.Rows {
		if !r.HasLatency || math.IsNaN(r.Latency) {
			res.Dropped++
			continue
		}
		present = append(present, r)
	}

	values := make([]float64, len(present))
	for i, r := range present {
		values[i] = r.Latency
	}
	res.Cap = stats.Quantile(values, capQuantile)

	kept := make([]Row, 0, len(present))
	for _, r := range present {
		if r.Latency <= res.Cap {
			kept = append(kept, r)
		} else {
			res.Capped++
		}
	}
	return ds.WithRows(kept), res
}

// Prepare loads the dataset at in, cleans it and writes the result to out.
func Prepare(in, out string, capQuantile float64) (*Dataset, CleanResult, error) {
	raw, err := Load(in)
	if err != nil {
		return nil, CleanResult{}, err
	}

	cleaned, res := Clean(raw, capQuantile)
	if err := Save(cleaned, out); err != nil {
		return nil, res, err
	}

	log.Info().
		Str("input", in).
		Str("output", out).
		Int("rawRows", raw.Len()).
		Int("nullDropped", res.Dropped).
		Int("capped", res.Capped).
		Float64("cap", res.Cap).
		Msgf("Cleaned data: %d rows", cleaned.Len())
	return cleaned, res, nil
}
