package stream

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/justin4957/latency-anomaly-detector/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func appendLines(t *testing.T, path string, lines ...string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o644)
	require.NoError(t, err)
	defer f.Close()
	for _, line := range lines {
		_, err := f.WriteString(line + "\n")
		require.NoError(t, err)
	}
}

func receiveLine(t *testing.T, lines <-chan string) string {
	t.Helper()
	select {
	case line := <-lines:
		return line
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a line")
		return ""
	}
}

func TestTailerEmitsAppendedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "latency.log")
	appendLines(t, path, "old")

	tailer := NewTailer()
	lines, err := tailer.Start(context.Background(), path)
	require.NoError(t, err)
	defer tailer.Stop()

	appendLines(t, path, "120", "", "130\r")
	assert.Equal(t, "120", receiveLine(t, lines))
	assert.Equal(t, "130", receiveLine(t, lines))
}

func TestTailerFromStartAndIncompleteLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "latency.log")
	appendLines(t, path, "1", "2")

	tailer := NewTailerFromStart()
	lines, err := tailer.Start(context.Background(), path)
	require.NoError(t, err)
	defer tailer.Stop()

	assert.Equal(t, "1", receiveLine(t, lines))
	assert.Equal(t, "2", receiveLine(t, lines))

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("3")
	require.NoError(t, err)
	time.Sleep(300 * time.Millisecond)
	_, err = f.WriteString("45\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	assert.Equal(t, "345", receiveLine(t, lines))
}

func TestTailerFollowsTruncation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "latency.log")
	appendLines(t, path, "aaaaaaaaaa", "bbbbbbbbbb")

	tailer := NewTailerFromStart()
	lines, err := tailer.Start(context.Background(), path)
	require.NoError(t, err)
	defer tailer.Stop()
	receiveLine(t, lines)
	receiveLine(t, lines)

	require.NoError(t, os.Truncate(path, 0))
	time.Sleep(300 * time.Millisecond)
	appendLines(t, path, "c")
	assert.Equal(t, "c", receiveLine(t, lines))
}

func TestTailerFollowsRotation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "latency.log")
	appendLines(t, path, "before")

	tailer := NewTailer()
	lines, err := tailer.Start(context.Background(), path)
	require.NoError(t, err)
	defer tailer.Stop()

	require.NoError(t, os.Rename(path, filepath.Join(dir, "latency.log.1")))
	time.Sleep(200 * time.Millisecond)
	appendLines(t, path, "after")
	assert.Equal(t, "after", receiveLine(t, lines))
}

func TestTailerStopClosesChannel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "latency.log")
	appendLines(t, path, "x")

	tailer := NewTailer()
	lines, err := tailer.Start(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, tailer.Stop())
	require.NoError(t, tailer.Stop())

	_, ok := <-lines
	assert.False(t, ok)
}

func TestTailerMissingFile(t *testing.T) {
	_, err := NewTailer().Start(context.Background(), filepath.Join(t.TempDir(), "absent.log"))
	assert.Error(t, err)
}

func TestLatencyStream(t *testing.T) {
	path := filepath.Join(t.TempDir(), "latency.log")
	appendLines(t, path, "latency_ms,timestamp", "120.5", "garbage", "310")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := make(chan models.LatencySample, 10)
	ls := NewLatencyStreamWithTailer(path, "csv", NewTailerFromStart())
	errCh := make(chan error, 1)
	go func() { errCh <- ls.Start(ctx, out) }()

	var got []float64
	for len(got) < 2 {
		select {
		case s := <-out:
			got = append(got, s.LatencyMs)
			assert.Equal(t, path, s.Source)
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for samples")
		}
	}
	assert.Equal(t, []float64{120.5, 310}, got)

	cancel()
	assert.NoError(t, <-errCh)
}
