package evaluation

import (
	"errors"

	"github.com/justin4957/latency-anomaly-detector/internal/dataset"
)

// Scorer decides whether a feature vector is an outlier.
type Scorer interface {
	IsOutlier(x []float64) bool
}

// Evaluate scores every labelled row of ds that has a latency and compares
// the predictions with the labels. ds is not modified.
func Evaluate(scorer Scorer, ds *dataset.Dataset) (*Report, error) {
	if !ds.HasLabels() {
		return nil, ErrNoLabels
	}

	yTrue := make([]int, 0, ds.Len())
	yPred := make([]int, 0, ds.Len())
	for _, r := range ds.Rows {
		if !r.HasLatency {
			continue
		}
		yTrue = append(yTrue, r.Anomaly)
		yPred = append(yPred, Predict(scorer, r.Latency))
	}
	if len(yTrue) == 0 {
		return nil, errors.New("no rows with a latency to evaluate")
	}
	return NewReport(yTrue, yPred)
}

// Predict maps the outlier decision for a single latency to 1, inliers to 0.
func Predict(scorer Scorer, latency float64) int {
	if scorer.IsOutlier([]float64{latency}) {
		return 1
	}
	return 0
}
