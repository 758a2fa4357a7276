package stats

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestQuantile tests type 7 interpolation against values computed with numpy
func TestQuantile(t *testing.T) {
	testCases := []struct {
		name     string
		values   []float64
		q        float64
		expected float64
	}{
		{"Single", []float64{7}, 0.99, 7},
		{"Median even", []float64{1, 2, 3, 4}, 0.5, 2.5},
		{"Unsorted", []float64{4, 1, 3, 2}, 0.5, 2.5},
		{"Q99 of 1..100", seq(1, 100), 0.99, 99.01},
		{"Q25", []float64{1, 2, 3, 4, 5}, 0.25, 2},
		{"Zero", []float64{3, 1, 2}, 0, 1},
		{"One", []float64{3, 1, 2}, 1, 3},
		{"Ties", []float64{5, 5, 5, 5}, 0.99, 5},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.expected, Quantile(tc.values, tc.q), 1e-9)
		})
	}
}

func TestQuantileEmpty(t *testing.T) {
	assert.True(t, math.IsNaN(Quantile(nil, 0.5)))
}

func TestQuantileDoesNotModifyInput(t *testing.T) {
	values := []float64{3, 1, 2}
	Quantile(values, 0.5)
	assert.Equal(t, []float64{3, 1, 2}, values)
}

func TestSummarize(t *testing.T) {
	s := Summarize([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	assert.Equal(t, 8, s.Count)
	assert.InDelta(t, 5.0, s.Mean, 1e-9)
	// sample standard deviation
	assert.InDelta(t, 2.138089935, s.StdDev, 1e-6)
	assert.Equal(t, 2.0, s.Min)
	assert.Equal(t, 9.0, s.Max)
	assert.InDelta(t, 4.5, s.P50, 1e-9)

	assert.InDelta(t, 2.0, Summary{Mean: 10, StdDev: 5}.ZScore(20), 1e-9)
	assert.Equal(t, 0.0, Summary{Mean: 10}.ZScore(20))
	assert.Equal(t, Summary{}, Summarize(nil))
}

func seq(from, to int) []float64 {
	out := make([]float64, 0, to-from+1)
	for i := from; i <= to; i++ {
		out = append(out, float64(i))
	}
	return out
}
