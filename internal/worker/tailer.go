package worker

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// LogTailer streams new lines from a worker's captured stdout as the
// subprocess writes them. It uses fsnotify for change detection with a
// polling fallback for missed events.
type LogTailer struct {
	path    string
	watcher *fsnotify.Watcher
	mu      sync.Mutex
	closed  bool
}

// NewLogTailer creates a tailer for the given file path. The file does not
// need to exist yet; the tailer waits for creation.
func NewLogTailer(path string) (*LogTailer, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	return &LogTailer{path: path, watcher: watcher}, nil
}

// Tail streams lines from the file. The returned channel closes when the
// context is cancelled or Close is called.
func (t *LogTailer) Tail(ctx context.Context) (<-chan string, error) {
	lines := make(chan string, 100)
	go t.tailLoop(ctx, lines)
	return lines, nil
}

// Close stops the tailer.
func (t *LogTailer) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	return t.watcher.Close()
}

func (t *LogTailer) tailLoop(ctx context.Context, lines chan<- string) {
	defer close(lines)

	if err := t.waitForFile(ctx); err != nil {
		return
	}
	offset := t.readNewLines(ctx, lines, 0)
	t.streamNewContent(ctx, lines, offset)
}

// waitForFile blocks until the file exists.
func (t *LogTailer) waitForFile(ctx context.Context) error {
	if _, err := os.Stat(t.path); err == nil {
		return nil
	}
	if err := t.watcher.Add(filepath.Dir(t.path)); err != nil {
		return err
	}

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-t.watcher.Events:
			if !ok {
				return fmt.Errorf("watcher closed")
			}
			if event.Name == t.path && (event.Has(fsnotify.Create) || event.Has(fsnotify.Write)) {
				return nil
			}
		case <-ticker.C:
			if _, err := os.Stat(t.path); err == nil {
				return nil
			}
		case err, ok := <-t.watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher closed")
			}
			return err
		}
	}
}

// streamNewContent forwards appended lines until the context ends.
func (t *LogTailer) streamNewContent(ctx context.Context, lines chan<- string, offset int64) {
	t.watcher.Add(t.path)

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			// Drain what the subprocess wrote before the stop.
			t.readNewLines(context.Background(), lines, offset)
			return
		case event, ok := <-t.watcher.Events:
			if !ok {
				return
			}
			if event.Name == t.path && event.Has(fsnotify.Write) {
				offset = t.readNewLines(ctx, lines, offset)
			}
		case <-ticker.C:
			offset = t.readNewLines(ctx, lines, offset)
		case _, ok := <-t.watcher.Errors:
			if !ok {
				return
			}
			// Polling covers missed events.
		}
	}
}

// readNewLines reads complete lines starting at offset and returns the new
// offset. Truncation resets to the file start.
func (t *LogTailer) readNewLines(ctx context.Context, lines chan<- string, offset int64) int64 {
	file, err := os.Open(t.path)
	if err != nil {
		return offset
	}
	defer file.Close()

	if info, err := file.Stat(); err == nil && info.Size() < offset {
		offset = 0
	}
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return offset
	}

	reader := bufio.NewReader(file)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			// An unterminated tail is read again once its newline arrives.
			return offset
		}
		select {
		case <-ctx.Done():
			return offset
		case lines <- strings.TrimRight(line, "\r\n"):
			offset += int64(len(line))
		}
	}
}
