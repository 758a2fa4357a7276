package stream

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// FileTailer interface for tailing files
type FileTailer interface {
	Start(ctx context.Context, path string) (<-chan string, error)
	Stop() error
}

// Tailer implements FileTailer for real-time file tailing. It follows the
// path across rotation and truncation.
type Tailer struct {
	watcher    *fsnotify.Watcher
	file       *os.File
	reader     *bufio.Reader
	lineChan   chan string
	stopCh     chan struct{}
	stopOnce   sync.Once
	done       chan struct{}
	offset     int64
	mu         sync.Mutex
	path       string
	fromStart  bool
	pollEvery  time.Duration
	incomplete string // Buffer for incomplete lines
}

// NewTailer creates a new file tailer that only emits lines appended after
// Start.
func NewTailer() *Tailer {
	return &Tailer{
		lineChan:  make(chan string, 100),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
		pollEvery: 100 * time.Millisecond,
	}
}

// NewTailerFromStart creates a tailer that first emits the existing content.
func NewTailerFromStart() *Tailer {
	t := NewTailer()
	t.fromStart = true
	return t
}

// Start begins tailing the specified file
func (t *Tailer) Start(ctx context.Context, path string) (<-chan string, error) {
	t.path = path

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	var offset int64
	if !t.fromStart {
		// Seek to end of file to start tailing new content
		if offset, err = file.Seek(0, io.SeekEnd); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to seek file: %w", err)
		}
	}
	t.file = file
	t.offset = offset
	t.reader = bufio.NewReader(file)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	t.watcher = watcher

	// the directory is watched so that a recreated file is noticed
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		file.Close()
		return nil, fmt.Errorf("failed to watch file: %w", err)
	}

	log.Info().Str("path", path).Msg("Started tailing file")
	go t.tailLoop(ctx)

	return t.lineChan, nil
}

// tailLoop is the main loop that watches for file changes
func (t *Tailer) tailLoop(ctx context.Context) {
	defer func() {
		t.closeFile()
		t.watcher.Close()
		close(t.lineChan)
		close(t.done)
		log.Debug().Str("path", t.path).Msg("Tailer loop stopped")
	}()

	// Ticker for periodic reads (fallback if fsnotify misses events)
	ticker := time.NewTicker(t.pollEvery)
	defer ticker.Stop()

	t.readNewLines(ctx)
	for {
		select {
		case <-ctx.Done():
			return

		case <-t.stopCh:
			return

		case event, ok := <-t.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(t.path) {
				continue
			}

			switch {
			case event.Op&fsnotify.Write == fsnotify.Write:
				t.readNewLines(ctx)

			case event.Op&fsnotify.Remove == fsnotify.Remove, event.Op&fsnotify.Rename == fsnotify.Rename:
				log.Info().Str("path", event.Name).Msg("File rotated")
				// drain what was written before the rotation
				t.readNewLines(ctx)
				t.closeFile()

			case event.Op&fsnotify.Create == fsnotify.Create:
				log.Info().Str("path", event.Name).Msg("File created")
				t.reopenFile()
				t.readNewLines(ctx)
			}

		case err, ok := <-t.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("Watcher error")

		case <-ticker.C:
			t.mu.Lock()
			missing := t.file == nil
			t.mu.Unlock()
			if missing {
				t.reopenFile()
			}
			t.readNewLines(ctx)
		}
	}
}

// readNewLines reads complete lines appended since the last read
func (t *Tailer) readNewLines(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.file == nil {
		return
	}

	fileInfo, err := t.file.Stat()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to stat file")
		return
	}

	// Check if file was truncated (log rotation scenario)
	if fileInfo.Size() < t.offset {
		log.Info().Str("path", t.path).Msg("File truncated, resetting to beginning")
		if _, err := t.file.Seek(0, io.SeekStart); err != nil {
			log.Warn().Err(err).Msg("Failed to rewind file")
			return
		}
		t.offset = 0
		t.reader.Reset(t.file)
		t.incomplete = ""
	}

	for {
		line, err := t.reader.ReadString('\n')
		t.offset += int64(len(line))

		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Warn().Err(err).Msg("Error reading file")
			}
			// Save incomplete line for next read
			t.incomplete += line
			return
		}

		if t.incomplete != "" {
			line = t.incomplete + line
			t.incomplete = ""
		}

		line = trimEOL(line)
		if line == "" {
			continue
		}

		select {
		case t.lineChan <- line:
		case <-ctx.Done():
			return
		case <-t.stopCh:
			return
		}
	}
}

func trimEOL(line string) string {
	if len(line) > 0 && line[len(line)-1] == '\n' {
		line = line[:len(line)-1]
	}
	if len(line) > 0 && line[len(line)-1] == '\r' {
		line = line[:len(line)-1]
	}
	return line
}

func (t *Tailer) closeFile() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.file != nil {
		t.file.Close()
		t.file = nil
	}
}

// reopenFile opens the path again after rotation. A missing file is retried
// on the next poll.
func (t *Tailer) reopenFile() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.file != nil {
		t.file.Close()
		t.file = nil
	}

	file, err := os.Open(t.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Warn().Err(err).Msg("Failed to reopen file")
		}
		return
	}

	t.file = file
	t.offset = 0
	t.reader.Reset(file)
	t.incomplete = ""
	log.Info().Str("path", t.path).Msg("Reopened file")
}

// Stop stops the tailer and waits for its loop to exit
func (t *Tailer) Stop() error {
	if t.watcher == nil {
		return nil
	}
	t.stopOnce.Do(func() { close(t.stopCh) })
	<-t.done
	return nil
}
