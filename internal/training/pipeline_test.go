package training

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/justin4957/latency-anomaly-detector/internal/artifact"
	"github.com/justin4957/latency-anomaly-detector/internal/config"
	"github.com/justin4957/latency-anomaly-detector/internal/dataset"
	"github.com/justin4957/latency-anomaly-detector/internal/registry"
	"github.com/justin4957/latency-anomaly-detector/internal/selection"
	"github.com/justin4957/latency-anomaly-detector/internal/synth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	conf := config.DefaultConfig()
	conf.Dataset.InputPath = filepath.Join(dir, "synthetic_latency.csv")
	conf.Dataset.CleanedPath = filepath.Join(dir, "synthetic_latency_clean.csv")
	conf.Artifact.Path = filepath.Join(dir, "model.lgif")
	_, err := synth.WriteFile(conf.Dataset.InputPath, synth.DefaultOptions())
	require.NoError(t, err)
	return conf
}

type memoryRecorder struct {
	runs []*registry.Run
}

func (m *memoryRecorder) RecordRun(_ context.Context, run *registry.Run) error {
	m.runs = append(m.runs, run)
	return nil
}

// TestRunEndToEnd tests the whole pipeline from a raw CSV to a persisted
// model that flags slow requests
func TestRunEndToEnd(t *testing.T) {
	conf := testConfig(t)
	recorder := &memoryRecorder{}
	var seen []selection.Candidate

	res, err := Run(context.Background(), conf, Options{
		OnCandidate: func(c selection.Candidate) { seen = append(seen, c) },
		Recorder:    recorder,
	})
	require.NoError(t, err)

	assert.Equal(t, 1020, res.RawRows)
	assert.Less(t, res.Cleaned.Len(), 1020)
	assert.Len(t, seen, len(conf.Training.Contaminations))
	assert.False(t, res.Selection.Degraded)

	require.NotNil(t, res.Selection.Best.F1)
	best := *res.Selection.Best.F1
	for _, c := range res.Selection.Candidates {
		assert.LessOrEqual(t, *c.F1, best)
	}

	cleaned, err := dataset.Load(conf.Dataset.CleanedPath)
	require.NoError(t, err)
	assert.Equal(t, res.Cleaned.Len(), cleaned.Len())
	for _, r := range cleaned.Rows {
		assert.LessOrEqual(t, r.Latency, res.Clean.Cap)
	}

	model, err := artifact.Load(conf.Artifact.Path)
	require.NoError(t, err)
	assert.Equal(t, res.RunID, model.RunID)
	assert.Equal(t, res.Selection.Best.Contamination, model.Contamination)
	assert.Equal(t, 1, model.Predict(310))
	assert.Equal(t, 0, model.Predict(118))

	require.Len(t, recorder.runs, 1)
	run := recorder.runs[0]
	assert.Equal(t, res.RunID, run.ID)
	assert.Equal(t, res.Cleaned.Len(), run.CleanedRows)
	assert.Len(t, run.Candidates, len(conf.Training.Contaminations))
}

func TestRunDeterministic(t *testing.T) {
	conf := testConfig(t)
	conf.Training.NumTrees = 30

	first, err := Run(context.Background(), conf, Options{})
	require.NoError(t, err)
	second, err := Run(context.Background(), conf, Options{})
	require.NoError(t, err)

	assert.Equal(t, first.Selection.Best.Contamination, second.Selection.Best.Contamination)
	assert.Equal(t, *first.Selection.Best.F1, *second.Selection.Best.F1)
	assert.NotEqual(t, first.RunID, second.RunID)
}

func TestRunWithoutLabels(t *testing.T) {
	conf := testConfig(t)
	conf.Training.NumTrees = 10
	var rows []dataset.Row
	for _, v := range synth.Generate(synth.DefaultOptions()).Latencies() {
		rows = append(rows, dataset.Row{Latency: v, HasLatency: true})
	}
	ds, err := dataset.New([]string{"latency_ms"}, rows)
	require.NoError(t, err)
	require.NoError(t, dataset.Save(ds, conf.Dataset.InputPath))

	res, err := Run(context.Background(), conf, Options{})
	require.NoError(t, err)
	assert.True(t, res.Selection.Degraded)
	assert.Equal(t, conf.Training.Contaminations[0], res.Model.Contamination)
	assert.Nil(t, res.Model.F1)
}

func TestRunErrors(t *testing.T) {
	conf := testConfig(t)
	require.NoError(t, os.WriteFile(conf.Dataset.InputPath, []byte("latency\n1\n"), 0o644))
	_, err := Run(context.Background(), conf, Options{})
	assert.ErrorIs(t, err, dataset.ErrMissingLatencyColumn)

	require.NoError(t, os.WriteFile(conf.Dataset.InputPath, []byte("latency_ms,anomaly\n,0\n"), 0o644))
	_, err = Run(context.Background(), conf, Options{})
	assert.ErrorIs(t, err, selection.ErrEmptyTrainingSet)

	_, err = os.Stat(conf.Artifact.Path)
	assert.True(t, os.IsNotExist(err))
}
