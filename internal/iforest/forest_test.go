package iforest

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func latencySample(seed uint64) []float64 {
	rng := rand.New(rand.NewPCG(seed, seed))
	values := make([]float64, 0, 1020)
	for i := 0; i < 1000; i++ {
		values = append(values, 120+15*rng.NormFloat64())
	}
	for i := 0; i < 20; i++ {
		values = append(values, 300+20*rng.NormFloat64())
	}
	return values
}

func TestAveragePathLength(t *testing.T) {
	assert.Equal(t, 0.0, averagePathLength(0))
	assert.Equal(t, 0.0, averagePathLength(1))
	assert.Equal(t, 1.0, averagePathLength(2))
	// c(256) as used by scikit-learn
	assert.InDelta(t, 10.244770920, averagePathLength(256), 1e-6)
}

func TestFitValidation(t *testing.T) {
	_, err := Fit(nil, Config{Contamination: 0.1})
	assert.ErrorIs(t, err, ErrNoSamples)

	_, err = Fit(Column([]float64{1, 2}), Config{Contamination: 0})
	assert.ErrorIs(t, err, ErrInvalidContamination)

	_, err = Fit(Column([]float64{1, 2}), Config{Contamination: 0.6})
	assert.ErrorIs(t, err, ErrInvalidContamination)

	_, err = Fit([][]float64{{1}, {1, 2}}, Config{Contamination: 0.1})
	assert.Error(t, err)
}

func TestFitShape(t *testing.T) {
	X := Column(latencySample(1))
	f, err := Fit(X, Config{Contamination: 0.05, Seed: 42})
	require.NoError(t, err)

	assert.Len(t, f.Trees, DefaultNumTrees)
	assert.Equal(t, DefaultMaxSamples, f.MaxSamples)
	for _, tree := range f.Trees {
		require.NotEmpty(t, tree.Nodes)
		assert.Equal(t, DefaultMaxSamples, tree.Nodes[0].Size)
	}

	small, err := Fit(Column([]float64{1, 2, 3, 4, 5}), Config{Contamination: 0.1, Seed: 42, NumTrees: 3})
	require.NoError(t, err)
	assert.Equal(t, 5, small.MaxSamples)
	assert.Len(t, small.Trees, 3)
}

// TestFitDeterministic tests that equal seeds give equal forests
func TestFitDeterministic(t *testing.T) {
	X := Column(latencySample(2))
	a, err := Fit(X, Config{Contamination: 0.02, Seed: 42})
	require.NoError(t, err)
	b, err := Fit(X, Config{Contamination: 0.02, Seed: 42})
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := Fit(X, Config{Contamination: 0.02, Seed: 43})
	require.NoError(t, err)
	assert.NotEqual(t, a.Offset, c.Offset)
}

func TestScoresRange(t *testing.T) {
	X := Column(latencySample(3))
	f, err := Fit(X, Config{Contamination: 0.01, Seed: 42})
	require.NoError(t, err)

	for _, s := range f.ScoreSamples(X) {
		assert.Less(t, s, 0.0)
		assert.GreaterOrEqual(t, s, -1.0)
	}
	assert.Less(t, f.Score([]float64{2000}), f.Score([]float64{120}))
}

// TestContaminationFraction tests that about contamination of the training
// data is flagged
func TestContaminationFraction(t *testing.T) {
	X := Column(latencySample(4))
	for _, contamination := range []float64{0.01, 0.05, 0.1} {
		f, err := Fit(X, Config{Contamination: contamination, Seed: 42})
		require.NoError(t, err)

		flagged := 0
		for _, p := range f.Predict(X) {
			flagged += p
		}
		expected := contamination * float64(len(X))
		assert.InDelta(t, expected, float64(flagged), math.Max(3, expected*0.2))
	}
}

func TestKnownLatencies(t *testing.T) {
	X := Column(latencySample(42))
	f, err := Fit(X, Config{Contamination: 0.01, Seed: 42})
	require.NoError(t, err)

	testCases := []struct {
		latency  float64
		expected int
	}{
		{50, 0},
		{118, 0},
		{2000, 1},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.expected, f.Predict([][]float64{{tc.latency}})[0], "latency %v", tc.latency)
	}
}

func TestBelowTrainingMinimumScoresLikeMinimum(t *testing.T) {
	values := latencySample(5)
	lowest := values[0]
	for _, v := range values {
		lowest = math.Min(lowest, v)
	}
	f, err := Fit(Column(values), Config{Contamination: 0.05, Seed: 42})
	require.NoError(t, err)

	assert.Equal(t, f.Score([]float64{lowest}), f.Score([]float64{lowest - 1000}))
}

func TestConstantData(t *testing.T) {
	f, err := Fit(Column([]float64{7, 7, 7, 7}), Config{Contamination: 0.25, Seed: 42, NumTrees: 5})
	require.NoError(t, err)
	for _, tree := range f.Trees {
		assert.Len(t, tree.Nodes, 1)
	}
	assert.False(t, f.IsOutlier([]float64{7}))
}

func BenchmarkScore(b *testing.B) {
	f, err := Fit(Column(latencySample(6)), Config{Contamination: 0.01, Seed: 42})
	require.NoError(b, err)
	x := []float64{250}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f.Score(x)
	}
}

func BenchmarkFit(b *testing.B) {
	X := Column(latencySample(7))

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Fit(X, Config{Contamination: 0.01, Seed: 42}); err != nil {
			b.Fatal(err)
		}
	}
}
