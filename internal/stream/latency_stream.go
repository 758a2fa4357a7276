package stream

import (
	"context"

	"github.com/justin4957/latency-anomaly-detector/internal/parser"
	"github.com/justin4957/latency-anomaly-detector/pkg/models"
	"github.com/rs/zerolog/log"
)

// LatencyStream turns appended lines of a latency log into samples
type LatencyStream struct {
	path   string
	format string
	parser parser.LatencyParser
	tailer FileTailer
}

// NewLatencyStream creates a stream over new lines of path
func NewLatencyStream(path, format string) *LatencyStream {
	return NewLatencyStreamWithTailer(path, format, NewTailer())
}

// NewLatencyStreamWithTailer creates a stream using a custom tailer
func NewLatencyStreamWithTailer(path, format string, tailer FileTailer) *LatencyStream {
	return &LatencyStream{
		path:   path,
		format: format,
		parser: parser.NewParser(format),
		tailer: tailer,
	}
}

// Start streams parsed samples to output until ctx is cancelled or the tailer
// stops. output is not closed.
func (ls *LatencyStream) Start(ctx context.Context, output chan<- models.LatencySample) error {
	lineChan, err := ls.tailer.Start(ctx, ls.path)
	if err != nil {
		return err
	}
	defer ls.tailer.Stop()

	skipped := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lineChan:
			if !ok {
				return nil
			}

			sample, err := ls.parser.Parse(line)
			if err != nil {
				skipped++
				log.Debug().Err(err).Int("skipped", skipped).Msg("Skipping unparsable latency line")
				continue
			}
			if sample.Source == "" {
				sample.Source = ls.path
			}

			select {
			case output <- *sample:
			case <-ctx.Done():
				return nil
			}
		}
	}
}
