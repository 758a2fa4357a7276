package stats

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Quantile returns the q-th quantile of values using linear interpolation
// between closest ranks (R type 7). values need not be sorted and are not
// modified. Returns NaN for an empty slice.
func Quantile(values []float64, q float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	return QuantileSorted(sorted, q)
}

// QuantileSorted is Quantile for an already ascending slice.
func QuantileSorted(sorted []float64, q float64) float64 {
	n := len(sorted)
	if n == 0 {
		return math.NaN()
	}
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[n-1]
	}
	h := q * float64(n-1)
	lo := math.Floor(h)
	i := int(lo)
	if i+1 >= n {
		return sorted[n-1]
	}
	frac := h - lo
	return sorted[i] + frac*(sorted[i+1]-sorted[i])
}

// Summary describes a sample of latencies.
type Summary struct {
	Count  int     `msgpack:"count" json:"count"`
	Mean   float64 `msgpack:"mean" json:"mean"`
	StdDev float64 `msgpack:"std_dev" json:"std_dev"`
	Min    float64 `msgpack:"min" json:"min"`
	Max    float64 `msgpack:"max" json:"max"`
	P50    float64 `msgpack:"p50" json:"p50"`
	P95    float64 `msgpack:"p95" json:"p95"`
	P99    float64 `msgpack:"p99" json:"p99"`
}

// Summarize computes a Summary. The zero Summary is returned for no values.
func Summarize(values []float64) Summary {
	if len(values) == 0 {
		return Summary{}
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	s := Summary{
		Count: len(sorted),
		Mean:  stat.Mean(sorted, nil),
		Min:   sorted[0],
		Max:   sorted[len(sorted)-1],
		P50:   QuantileSorted(sorted, 0.50),
		P95:   QuantileSorted(sorted, 0.95),
		P99:   QuantileSorted(sorted, 0.99),
	}
	if len(sorted) > 1 {
		s.StdDev = stat.StdDev(sorted, nil)
	}
	return s
}

// ZScore returns how many standard deviations x lies from the mean of s.
// A zero deviation yields 0.
func (s Summary) ZScore(x float64) float64 {
	if s.StdDev == 0 {
		return 0
	}
	return (x - s.Mean) / s.StdDev
}
