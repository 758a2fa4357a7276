package artifact

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/justin4957/latency-anomaly-detector/internal/iforest"
	"github.com/justin4957/latency-anomaly-detector/internal/stats"
	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	magic   = "LGIF"
	version = byte(1)
)

var (
	ErrArtifactMissing      = errors.New("model artifact not found")
	ErrArtifactCorrupt      = errors.New("model artifact is corrupt")
	ErrArtifactIncompatible = errors.New("model artifact is incompatible")
)

// Model is the persisted outcome of a training run. A loaded Model is only
// read, never modified.
type Model struct {
	Forest        *iforest.Forest `msgpack:"forest"`
	Contamination float64         `msgpack:"contamination"`
	F1            *float64        `msgpack:"f1"`
	RunID         string          `msgpack:"run_id"`
	TrainedAt     time.Time       `msgpack:"trained_at"`
	Train         stats.Summary   `msgpack:"train"`
}

// Score returns the isolation forest score of x, lower is more abnormal.
func (m *Model) Score(x []float64) float64 {
	return m.Forest.Score(x)
}

// IsOutlier reports whether x is an outlier under the persisted forest.
func (m *Model) IsOutlier(x []float64) bool {
	return m.Forest.IsOutlier(x)
}

// Predict maps a single latency to 1 (anomalous) or 0.
func (m *Model) Predict(latency float64) int {
	if m.Forest.IsOutlier([]float64{latency}) {
		return 1
	}
	return 0
}

func encoderLevel(level int) zstd.EncoderLevel {
	switch level {
	case 1:
		return zstd.SpeedFastest
	case 3:
		return zstd.SpeedBetterCompression
	case 4:
		return zstd.SpeedBestCompression
	default:
		return zstd.SpeedDefault
	}
}

// Encode serializes m with the artifact header.
func Encode(m *Model, level int) ([]byte, error) {
	if m == nil || m.Forest == nil {
		return nil, errors.New("model has no forest")
	}
	payload, err := msgpack.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode model: %w", err)
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(encoderLevel(level)))
	if err != nil {
		return nil, fmt.Errorf("failed to create encoder: %w", err)
	}
	defer encoder.Close()

	out := make([]byte, 0, len(magic)+1+len(payload)/2)
	out = append(out, magic...)
	out = append(out, version)
	return encoder.EncodeAll(payload, out), nil
}

// Decode is the inverse of Encode.
func Decode(data []byte) (*Model, error) {
	if len(data) < len(magic)+1 {
		return nil, fmt.Errorf("%w: truncated header", ErrArtifactCorrupt)
	}
	if !bytes.Equal(data[:len(magic)], []byte(magic)) {
		return nil, fmt.Errorf("%w: unknown format", ErrArtifactIncompatible)
	}
	if v := data[len(magic)]; v != version {
		return nil, fmt.Errorf("%w: version %d, expected %d", ErrArtifactIncompatible, v, version)
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}
	defer decoder.Close()

	payload, err := decoder.DecodeAll(data[len(magic)+1:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArtifactCorrupt, err)
	}

	var m Model
	if err := msgpack.Unmarshal(payload, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArtifactCorrupt, err)
	}
	if m.Forest == nil || len(m.Forest.Trees) == 0 {
		return nil, fmt.Errorf("%w: no trees", ErrArtifactCorrupt)
	}
	// models score a single latency feature
	if m.Forest.NumFeatures != 1 {
		return nil, fmt.Errorf("%w: %d features, expected 1", ErrArtifactIncompatible, m.Forest.NumFeatures)
	}
	if m.Forest.MaxSamples <= 0 {
		return nil, fmt.Errorf("%w: max samples %d", ErrArtifactCorrupt, m.Forest.MaxSamples)
	}
	if math.IsNaN(m.Forest.Offset) || math.IsInf(m.Forest.Offset, 0) {
		return nil, fmt.Errorf("%w: offset %v", ErrArtifactCorrupt, m.Forest.Offset)
	}
	for i, t := range m.Forest.Trees {
		if err := validateTree(t, m.Forest.NumFeatures); err != nil {
			return nil, fmt.Errorf("%w: tree %d: %v", ErrArtifactCorrupt, i, err)
		}
	}
	return &m, nil
}

func validateTree(t iforest.Tree, numFeatures int) error {
	if len(t.Nodes) == 0 {
		return errors.New("empty tree")
	}
	for i, n := range t.Nodes {
		if n.Left < 0 {
			continue
		}
		if n.Feature < 0 || n.Feature >= numFeatures {
			return fmt.Errorf("node %d splits on feature %d", i, n.Feature)
		}
		if math.IsNaN(n.Threshold) {
			return fmt.Errorf("node %d has no threshold", i)
		}
		// children are always stored after their parent
		if int(n.Left) <= i || int(n.Right) <= i || int(n.Left) >= len(t.Nodes) || int(n.Right) >= len(t.Nodes) {
			return fmt.Errorf("node %d has invalid children", i)
		}
	}
	return nil
}

// Save writes m to path, replacing any previous artifact. Concurrent writers
// are serialized by a lock file next to path, and readers never observe a
// partially written artifact.
func Save(path string, m *Model, level int) error {
	data, err := Encode(m, level)
	if err != nil {
		return err
	}

	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("acquire artifact lock: %w", err)
	}
	defer lock.Unlock()

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp artifact: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace artifact: %w", err)
	}
	return nil
}

// Load reads the artifact at path.
func Load(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrArtifactMissing, path)
	} else if err != nil {
		return nil, fmt.Errorf("failed to read artifact %s: %w", path, err)
	}

	m, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}
