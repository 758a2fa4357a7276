package selection

import (
	"context"
	"testing"

	"github.com/justin4957/latency-anomaly-detector/internal/dataset"
	"github.com/justin4957/latency-anomaly-detector/internal/synth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStratifiedSplitProportions(t *testing.T) {
	rows := synth.Generate(synth.DefaultOptions()).Rows
	split := StratifiedSplit(rows, 0.2, 42, true)

	// ceil(0.2 * 1020)
	assert.Len(t, split.Test, 204)
	assert.Len(t, split.Train, 816)

	anomalies := 0
	for _, r := range split.Test {
		anomalies += r.Anomaly
	}
	assert.Equal(t, 4, anomalies)
}

func TestStratifiedSplitPartitionsRows(t *testing.T) {
	var rows []dataset.Row
	for i := 0; i < 53; i++ {
		rows = append(rows, dataset.Row{Latency: float64(i), HasLatency: true, Anomaly: i % 7 / 6})
	}

	for _, stratify := range []bool{true, false} {
		split := StratifiedSplit(rows, 0.2, 42, stratify)
		assert.Len(t, split.Test, 11)

		seen := make(map[float64]int)
		for _, r := range append(append([]dataset.Row{}, split.Train...), split.Test...) {
			seen[r.Latency]++
		}
		assert.Len(t, seen, len(rows))
		for _, count := range seen {
			assert.Equal(t, 1, count)
		}
	}
}

func TestStratifiedSplitDeterministic(t *testing.T) {
	rows := synth.Generate(synth.DefaultOptions()).Rows
	a := StratifiedSplit(rows, 0.2, 42, true)
	b := StratifiedSplit(rows, 0.2, 42, true)
	assert.Equal(t, a, b)

	c := StratifiedSplit(rows, 0.2, 7, true)
	assert.NotEqual(t, a.Test, c.Test)
}

func f64(v float64) *float64 {
	return &v
}

func TestPickBest(t *testing.T) {
	testCases := []struct {
		name     string
		f1s      []*float64
		expected int
		degraded bool
	}{
		{"HighestWins", []*float64{f64(0.2), f64(0.9), f64(0.5)}, 1, false},
		{"TieKeepsEarliest", []*float64{f64(0.4), f64(0.8), f64(0.8), f64(0.1)}, 1, false},
		{"AllZero", []*float64{f64(0), f64(0)}, 0, false},
		{"NoLabels", []*float64{nil, nil, nil}, 0, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cands := make([]Candidate, len(tc.f1s))
			for i, f1 := range tc.f1s {
				cands[i] = Candidate{F1: f1}
			}
			idx, degraded := pickBest(cands)
			assert.Equal(t, tc.expected, idx)
			assert.Equal(t, tc.degraded, degraded)
		})
	}
}

func TestSelectEmptyTrainingSet(t *testing.T) {
	_, err := Select(context.Background(), nil, nil, Options{Labeled: true})
	assert.ErrorIs(t, err, ErrEmptyTrainingSet)
}

// TestSelectPicksMaximum tests that the selected F1 is the best of the sweep
// and that the sweep follows the configured order
func TestSelectPicksMaximum(t *testing.T) {
	rows := synth.Generate(synth.DefaultOptions()).Rows
	split := StratifiedSplit(rows, 0.2, 42, true)

	var order []float64
	res, err := Select(context.Background(), split.Train, split.Test, Options{
		Seed:        42,
		Labeled:     true,
		OnCandidate: func(c Candidate) { order = append(order, c.Contamination) },
	})
	require.NoError(t, err)

	assert.Equal(t, DefaultContaminations, order)
	assert.False(t, res.Degraded)
	require.NotNil(t, res.Best.F1)
	for _, c := range res.Candidates {
		require.NotNil(t, c.F1)
		assert.LessOrEqual(t, *c.F1, *res.Best.F1)
		assert.Len(t, c.Predictions, len(split.Test))
	}
	assert.Greater(t, *res.Best.F1, 0.0)
}

func TestSelectDeterministic(t *testing.T) {
	rows := synth.Generate(synth.DefaultOptions()).Rows
	split := StratifiedSplit(rows, 0.2, 42, true)
	opts := Options{Seed: 42, Labeled: true, NumTrees: 25}

	a, err := Select(context.Background(), split.Train, split.Test, opts)
	require.NoError(t, err)
	b, err := Select(context.Background(), split.Train, split.Test, opts)
	require.NoError(t, err)

	assert.Equal(t, a.Best.Contamination, b.Best.Contamination)
	assert.Equal(t, *a.Best.F1, *b.Best.F1)
}

func TestSelectWithoutLabels(t *testing.T) {
	rows := synth.Generate(synth.DefaultOptions()).Rows
	split := StratifiedSplit(rows, 0.2, 42, false)

	res, err := Select(context.Background(), split.Train, split.Test, Options{
		Contaminations: []float64{0.05, 0.01},
		Seed:           42,
		NumTrees:       10,
	})
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	assert.Equal(t, 0.05, res.Best.Contamination)
	assert.Nil(t, res.Best.F1)
	assert.Nil(t, res.Best.Report)
}

func TestSelectCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rows := synth.Generate(synth.DefaultOptions()).Rows
	_, err := Select(ctx, rows, rows, Options{Labeled: true})
	assert.ErrorIs(t, err, context.Canceled)
}
