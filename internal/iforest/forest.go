package iforest

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/justin4957/latency-anomaly-detector/internal/stats"
)

const (
	DefaultNumTrees   = 100
	DefaultMaxSamples = 256

	eulerGamma = 0.5772156649
)

var (
	ErrNoSamples            = errors.New("no samples to fit")
	ErrInvalidContamination = errors.New("contamination must be in (0, 0.5]")
)

// Config controls how a Forest is grown.
type Config struct {
	Contamination float64
	Seed          uint64
	NumTrees      int
	MaxSamples    int
}

// Forest is a fitted isolation forest. A Forest is never mutated after Fit
// returns, so it is safe for concurrent scoring.
type Forest struct {
	Trees         []Tree  `msgpack:"trees"`
	NumFeatures   int     `msgpack:"num_features"`
	MaxSamples    int     `msgpack:"max_samples"`
	Contamination float64 `msgpack:"contamination"`
	Offset        float64 `msgpack:"offset"`
	Seed          uint64  `msgpack:"seed"`
}

// Tree is an isolation tree stored as a flat node slice rooted at index 0.
type Tree struct {
	Nodes []Node `msgpack:"nodes"`
}

// Node is either a split (Left >= 0) or a leaf holding the number of
// subsampled training points that reached it.
type Node struct {
	Feature   int     `msgpack:"f"`
	Threshold float64 `msgpack:"t"`
	Left      int32   `msgpack:"l"`
	Right     int32   `msgpack:"r"`
	Size      int     `msgpack:"s"`
}

func (n Node) isLeaf() bool {
	return n.Left < 0
}

// Fit grows cfg.NumTrees isolation trees, each on cfg.MaxSamples points drawn
// without replacement, and sets the decision offset so that a fraction
// cfg.Contamination of X scores as outliers.
func Fit(X [][]float64, cfg Config) (*Forest, error) {
	if len(X) == 0 {
		return nil, ErrNoSamples
	}
	if cfg.Contamination <= 0 || cfg.Contamination > 0.5 {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidContamination, cfg.Contamination)
	}
	if cfg.NumTrees <= 0 {
		cfg.NumTrees = DefaultNumTrees
	}
	if cfg.MaxSamples <= 0 {
		cfg.MaxSamples = DefaultMaxSamples
	}

	numFeatures := len(X[0])
	if numFeatures == 0 {
		return nil, errors.New("samples have no features")
	}
	for i, x := range X {
		if len(x) != numFeatures {
			return nil, fmt.Errorf("sample %d has %d features, expected %d", i, len(x), numFeatures)
		}
	}

	maxSamples := min(cfg.MaxSamples, len(X))
	maxDepth := int(math.Ceil(math.Log2(float64(max(maxSamples, 2)))))

	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed))
	f := &Forest{
		Trees:         make([]Tree, cfg.NumTrees),
		NumFeatures:   numFeatures,
		MaxSamples:    maxSamples,
		Contamination: cfg.Contamination,
		Seed:          cfg.Seed,
	}

	indices := make([]int, len(X))
	for t := range f.Trees {
		for i := range indices {
			indices[i] = i
		}
		// partial Fisher-Yates: the first maxSamples indices are the subsample
		for i := 0; i < maxSamples; i++ {
			j := i + rng.IntN(len(indices)-i)
			indices[i], indices[j] = indices[j], indices[i]
		}
		sample := make([]int, maxSamples)
		copy(sample, indices[:maxSamples])

		b := builder{X: X, rng: rng, maxDepth: maxDepth, numFeatures: numFeatures}
		b.grow(sample, 0)
		f.Trees[t] = Tree{Nodes: b.nodes}
	}

	f.Offset = stats.Quantile(f.ScoreSamples(X), cfg.Contamination)
	return f, nil
}

type builder struct {
	X           [][]float64
	rng         *rand.Rand
	maxDepth    int
	numFeatures int
	nodes       []Node
}

func (b *builder) grow(idx []int, depth int) int32 {
	id := int32(len(b.nodes))
	b.nodes = append(b.nodes, Node{Left: -1, Right: -1, Size: len(idx)})
	if depth >= b.maxDepth || len(idx) <= 1 {
		return id
	}

	// features are tried in random order until one is not constant
	for _, feature := range b.rng.Perm(b.numFeatures) {
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, i := range idx {
			v := b.X[i][feature]
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
		if hi <= lo {
			continue
		}

		threshold := lo + b.rng.Float64()*(hi-lo)
		if threshold >= hi {
			threshold = lo
		}

		left := make([]int, 0, len(idx))
		right := make([]int, 0, len(idx))
		for _, i := range idx {
			if b.X[i][feature] <= threshold {
				left = append(left, i)
			} else {
				right = append(right, i)
			}
		}

		l := b.grow(left, depth+1)
		r := b.grow(right, depth+1)
		b.nodes[id].Feature = feature
		b.nodes[id].Threshold = threshold
		b.nodes[id].Left = l
		b.nodes[id].Right = r
		return id
	}
	return id
}

// averagePathLength is the expected path length of an unsuccessful search
// in a binary search tree built from n points.
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	fn := float64(n)
	return 2*(math.Log(fn-1)+eulerGamma) - 2*(fn-1)/fn
}

func (t Tree) pathLength(x []float64) float64 {
	depth := 0
	node := t.Nodes[0]
	for !node.isLeaf() {
		if x[node.Feature] <= node.Threshold {
			node = t.Nodes[node.Left]
		} else {
			node = t.Nodes[node.Right]
		}
		depth++
	}
	return float64(depth) + averagePathLength(node.Size)
}

// Score returns the opposite of the anomaly score of x: the lower, the more
// abnormal. Values lie in [-1, 0).
func (f *Forest) Score(x []float64) float64 {
	var total float64
	for _, t := range f.Trees {
		total += t.pathLength(x)
	}
	mean := total / float64(len(f.Trees))
	norm := averagePathLength(f.MaxSamples)
	if norm == 0 {
		return -1
	}
	return -math.Pow(2, -mean/norm)
}

// ScoreSamples scores every row of X.
func (f *Forest) ScoreSamples(X [][]float64) []float64 {
	out := make([]float64, len(X))
	for i, x := range X {
		out[i] = f.Score(x)
	}
	return out
}

// DecisionFunction is Score shifted by the fitted offset. Negative values are
// outliers.
func (f *Forest) DecisionFunction(x []float64) float64 {
	return f.Score(x) - f.Offset
}

// IsOutlier reports whether x is an outlier under the fitted contamination.
func (f *Forest) IsOutlier(x []float64) bool {
	return f.Score(x) < f.Offset
}

// Predict returns 1 for every outlier row of X and 0 for every inlier.
func (f *Forest) Predict(X [][]float64) []int {
	out := make([]int, len(X))
	for i, x := range X {
		if f.IsOutlier(x) {
			out[i] = 1
		}
	}
	return out
}

// Column turns univariate values into the row layout Fit expects.
func Column(values []float64) [][]float64 {
	X := make([][]float64, len(values))
	for i, v := range values {
		X[i] = []float64{v}
	}
	return X
}
