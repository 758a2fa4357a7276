package registry

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func f64(v float64) *float64 {
	return &v
}

func TestRecordAndGetRun(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	run := &Run{
		ID:            uuid.NewString(),
		StartedAt:     started,
		FinishedAt:    started.Add(2 * time.Second),
		DatasetPath:   "synthetic_latency.csv",
		RawRows:       1020,
		CleanedRows:   1009,
		Cap:           287.5,
		Contamination: 0.02,
		F1:            f64(0.8),
		ArtifactPath:  "model.lgif",
		Candidates: []Candidate{
			{Position: 0, Contamination: 0.01, F1: f64(0.6)},
			{Position: 1, Contamination: 0.02, F1: f64(0.8)},
		},
	}
	require.NoError(t, store.RecordRun(ctx, run))

	got, err := store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.ID, got.ID)
	assert.True(t, started.Equal(got.StartedAt))
	assert.Equal(t, 1009, got.CleanedRows)
	assert.Equal(t, 287.5, got.Cap)
	assert.Equal(t, 0.8, *got.F1)
	assert.False(t, got.Degraded)
	assert.Equal(t, run.Candidates, got.Candidates)
}

func TestRecordDegradedRun(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	run := &Run{
		ID:            uuid.NewString(),
		StartedAt:     time.Now(),
		FinishedAt:    time.Now(),
		Cap:           math.NaN(),
		Contamination: 0.01,
		Degraded:      true,
		Candidates:    []Candidate{{Position: 0, Contamination: 0.01}},
	}
	require.NoError(t, store.RecordRun(ctx, run))

	got, err := store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.True(t, got.Degraded)
	assert.Nil(t, got.F1)
	assert.True(t, math.IsNaN(got.Cap))
	assert.Nil(t, got.Candidates[0].F1)
}

func TestListRunsNewestFirst(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		require.NoError(t, store.RecordRun(ctx, &Run{
			ID:            uuid.NewString(),
			StartedAt:     base.Add(time.Duration(i) * time.Hour),
			FinishedAt:    base.Add(time.Duration(i) * time.Hour),
			RawRows:       i,
			Contamination: 0.01,
		}))
	}

	runs, err := store.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, 2, runs[0].RawRows)
	assert.Equal(t, 1, runs[1].RawRows)
}

func TestGetRunNotFound(t *testing.T) {
	store := openStore(t)
	_, err := store.GetRun(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestReopenKeepsRuns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	ctx := context.Background()

	store, err := Open(ctx, path)
	require.NoError(t, err)
	id := uuid.NewString()
	require.NoError(t, store.RecordRun(ctx, &Run{ID: id, StartedAt: time.Now(), FinishedAt: time.Now(), Contamination: 0.05}))
	require.NoError(t, store.Close())

	reopened, err := Open(ctx, path)
	require.NoError(t, err)
	defer reopened.Close()
	_, err = reopened.GetRun(ctx, id)
	assert.NoError(t, err)
}
