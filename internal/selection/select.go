package selection

import (
	"context"
	"errors"
	"fmt"

	"github.com/justin4957/latency-anomaly-detector/internal/dataset"
	"github.com/justin4957/latency-anomaly-detector/internal/evaluation"
	"github.com/justin4957/latency-anomaly-detector/internal/iforest"
	"github.com/rs/zerolog/log"
)

// ErrEmptyTrainingSet is returned when there is nothing to fit a model on.
var ErrEmptyTrainingSet = errors.New("empty training set")

// DefaultContaminations are swept in this order.
var DefaultContaminations = []float64{0.01, 0.02, 0.05, 0.1}

// Options configures a contamination sweep.
type Options struct {
	Contaminations []float64
	Seed           uint64
	NumTrees       int
	MaxSamples     int
	// Labeled is false when the test rows carry no anomaly labels. The first
	// candidate is then selected without scoring.
	Labeled     bool
	OnCandidate func(Candidate)
}

// Candidate is one fitted model of the sweep. F1 is nil without labels.
type Candidate struct {
	Contamination float64
	Forest        *iforest.Forest
	F1            *float64
	Report        *evaluation.Report
	Predictions   []int
}

// Result is the outcome of Select. Degraded is set when the winner was chosen
// without labels.
type Result struct {
	Best       Candidate
	Candidates []Candidate
	Degraded   bool
}

// Select fits one isolation forest per contamination value on train and
// keeps the one with the highest anomaly-class F1 on test. Ties keep the
// earliest candidate.
func Select(ctx context.Context, train, test []dataset.Row, opts Options) (*Result, error) {
	if len(train) == 0 {
		return nil, ErrEmptyTrainingSet
	}
	contaminations := opts.Contaminations
	if len(contaminations) == 0 {
		contaminations = DefaultContaminations
	}

	xTrain := features(train)
	xTest := features(test)
	yTest := make([]int, len(test))
	for i, r := range test {
		yTest[i] = r.Anomaly
	}

	res := &Result{Candidates: make([]Candidate, 0, len(contaminations))}
	for _, contamination := range contaminations {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		forest, err := iforest.Fit(xTrain, iforest.Config{
			Contamination: contamination,
			Seed:          opts.Seed,
			NumTrees:      opts.NumTrees,
			MaxSamples:    opts.MaxSamples,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to fit contamination %v: %w", contamination, err)
		}

		cand := Candidate{
			Contamination: contamination,
			Forest:        forest,
			Predictions:   forest.Predict(xTest),
		}
		if opts.Labeled {
			report, err := evaluation.NewReport(yTest, cand.Predictions)
			if err != nil {
				return nil, fmt.Errorf("failed to evaluate contamination %v: %w", contamination, err)
			}
			f1 := report.F1()
			cand.F1 = &f1
			cand.Report = report
		}

		res.Candidates = append(res.Candidates, cand)
		if opts.OnCandidate != nil {
			opts.OnCandidate(cand)
		}

		event := log.Info().Float64("contamination", contamination)
		if cand.F1 != nil {
			event = event.Float64("f1", *cand.F1)
		}
		event.Msg("Evaluated candidate")
	}

	bestIdx, degraded := pickBest(res.Candidates)
	if degraded {
		res.Degraded = true
		log.Warn().
			Float64("contamination", res.Candidates[0].Contamination).
			Msg("No anomaly labels available, selecting the first candidate without evaluation")
	}
	res.Best = res.Candidates[bestIdx]
	return res, nil
}

// pickBest returns the index of the first candidate with the highest F1.
// Without any scored candidate the first one is returned and degraded is set.
func pickBest(cands []Candidate) (idx int, degraded bool) {
	bestF1 := -1.0
	idx = -1
	for i, c := range cands {
		if c.F1 != nil && *c.F1 > bestF1 {
			bestF1 = *c.F1
			idx = i
		}
	}
	if idx < 0 {
		return 0, true
	}
	return idx, false
}

func features(rows []dataset.Row) [][]float64 {
	X := make([][]float64, len(rows))
	for i, r := range rows {
		X[i] = []float64{r.Latency}
	}
	return X
}
