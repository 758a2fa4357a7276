package training

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/justin4957/latency-anomaly-detector/internal/artifact"
	"github.com/justin4957/latency-anomaly-detector/internal/config"
	"github.com/justin4957/latency-anomaly-detector/internal/dataset"
	"github.com/justin4957/latency-anomaly-detector/internal/evaluation"
	"github.com/justin4957/latency-anomaly-detector/internal/registry"
	"github.com/justin4957/latency-anomaly-detector/internal/selection"
	"github.com/justin4957/latency-anomaly-detector/internal/stats"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// RunRecorder stores a summary of each finished training run.
type RunRecorder interface {
	RecordRun(ctx context.Context, run *registry.Run) error
}

// Options are the optional collaborators of Run.
type Options struct {
	// OnCandidate is called after each contamination value was evaluated.
	OnCandidate func(selection.Candidate)
	Recorder    RunRecorder
}

// Result summarizes a finished training run.
type Result struct {
	RunID     string
	RawRows   int
	Cleaned   *dataset.Dataset
	Clean     dataset.CleanResult
	Split     selection.Split
	Selection *selection.Result
	Model     *artifact.Model
}

// Run prepares the dataset, selects the best contamination and persists the
// winning model to conf.Artifact.Path.
func Run(ctx context.Context, conf *config.Config, opts Options) (*Result, error) {
	started := time.Now()
	runID := uuid.NewString()
	logger := log.With().Str("runId", runID).Logger()

	raw, err := dataset.Load(conf.Dataset.InputPath)
	if err != nil {
		return nil, err
	}
	cleaned, cleanRes := dataset.Clean(raw, conf.Dataset.CapQuantile)
	if conf.Dataset.CleanedPath != "" {
		if err := dataset.Save(cleaned, conf.Dataset.CleanedPath); err != nil {
			return nil, err
		}
	}
	logger.Info().
		Int("rawRows", raw.Len()).
		Int("nullDropped", cleanRes.Dropped).
		Int("capped", cleanRes.Capped).
		Float64("cap", cleanRes.Cap).
		Msgf("Cleaned data: %d rows", cleaned.Len())

	labeled := cleaned.HasLabels()
	split := selection.StratifiedSplit(cleaned.Rows, conf.Training.TestSize, conf.Training.Seed, labeled)
	logger.Info().Int("train", len(split.Train)).Int("test", len(split.Test)).Bool("stratified", labeled).Msg("Split data")

	sel, err := selection.Select(ctx, split.Train, split.Test, selection.Options{
		Contaminations: conf.Training.Contaminations,
		Seed:           conf.Training.Seed,
		NumTrees:       conf.Training.NumTrees,
		MaxSamples:     conf.Training.MaxSamples,
		Labeled:        labeled,
		OnCandidate:    opts.OnCandidate,
	})
	if err != nil {
		return nil, err
	}
	logSelection(logger, sel, split)

	trainLatencies := make([]float64, len(split.Train))
	for i, r := range split.Train {
		trainLatencies[i] = r.Latency
	}
	model := &artifact.Model{
		Forest:        sel.Best.Forest,
		Contamination: sel.Best.Contamination,
		F1:            sel.Best.F1,
		RunID:         runID,
		TrainedAt:     time.Now().UTC(),
		Train:         stats.Summarize(trainLatencies),
	}
	if err := artifact.Save(conf.Artifact.Path, model, conf.Artifact.CompressionLevel); err != nil {
		return nil, fmt.Errorf("failed to save model: %w", err)
	}
	logger.Info().Str("path", conf.Artifact.Path).Msg("Best model saved")

	if opts.Recorder != nil {
		run := &registry.Run{
			ID:            runID,
			StartedAt:     started,
			FinishedAt:    time.Now(),
			DatasetPath:   conf.Dataset.InputPath,
			RawRows:       raw.Len(),
			CleanedRows:   cleaned.Len(),
			Cap:           cleanRes.Cap,
			Contamination: sel.Best.Contamination,
			F1:            sel.Best.F1,
			Degraded:      sel.Degraded,
			ArtifactPath:  conf.Artifact.Path,
		}
		for i, c := range sel.Candidates {
			run.Candidates = append(run.Candidates, registry.Candidate{
				Position:      i,
				Contamination: c.Contamination,
				F1:            c.F1,
			})
		}
		if err := opts.Recorder.RecordRun(ctx, run); err != nil {
			// registry failures do not fail the run
			logger.Error().Err(err).Msg("Failed to record training run")
		}
	}

	return &Result{
		RunID:     runID,
		RawRows:   raw.Len(),
		Cleaned:   cleaned,
		Clean:     cleanRes,
		Split:     split,
		Selection: sel,
		Model:     model,
	}, nil
}

func logSelection(logger zerolog.Logger, sel *selection.Result, split selection.Split) {
	event := logger.Info().Float64("contamination", sel.Best.Contamination).Bool("degraded", sel.Degraded)
	if sel.Best.F1 != nil {
		event = event.Float64("f1", *sel.Best.F1)
	}
	event.Msg("Selected best model")

	if sel.Best.Report != nil {
		logger.Info().Msg("Classification report of the best model:\n" + evaluation.RenderReport(sel.Best.Report, 2))
	}

	for i := 0; i < len(split.Test) && i < 10; i++ {
		logger.Debug().
			Float64("latencyMs", split.Test[i].Latency).
			Int("label", split.Test[i].Anomaly).
			Int("prediction", sel.Best.Predictions[i]).
			Msg("Sample prediction")
	}
}
