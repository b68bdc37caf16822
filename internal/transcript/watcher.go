package transcript

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// settleDelay gives the writing process time to finish before the file is
// read; editors and downloaders rarely write atomically.
const settleDelay = 500 * time.Millisecond

// debounceWindow collapses the burst of Write events a single save produces.
const debounceWindow = time.Second

// Handler processes one transcript file. Errors are logged, not fatal; the
// watcher keeps running.
type Handler func(ctx context.Context, path string) error

// Watcher invokes a handler for transcript files created or modified in a
// directory. Files are processed sequentially in event order.
type Watcher struct {
	dir     string
	handler Handler
	watcher *fsnotify.Watcher
	logger  *zap.Logger

	mu       sync.Mutex
	lastSeen map[string]time.Time
}

func NewWatcher(dir string, handler Handler, logger *zap.Logger) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := fsWatcher.Add(dir); err != nil {
		fsWatcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	return &Watcher{
		dir:      dir,
		handler:  handler,
		watcher:  fsWatcher,
		logger:   logger.Named("watcher"),
		lastSeen: make(map[string]time.Time),
	}, nil
}

// Start blocks until ctx is cancelled or the watcher breaks.
func (w *Watcher) Start(ctx context.Context) error {
	w.logger.Info("Watching for transcripts",
		zap.String("dir", w.dir),
		zap.Strings("formats", []string{".txt", ".srt", ".vtt"}))

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Transcript watcher stopped")
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !IsTranscript(event.Name) {
				w.logger.Debug("Ignoring non-transcript file", zap.String("path", event.Name))
				continue
			}
			if w.debounced(event.Name) {
				continue
			}

			time.Sleep(settleDelay)
			w.logger.Info("Transcript detected", zap.String("path", event.Name))
			if err := w.handler(ctx, event.Name); err != nil {
				w.logger.Error("Failed to process transcript",
					zap.String("path", event.Name),
					zap.Error(err))
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			w.logger.Error("Watcher error", zap.Error(err))
		}
	}
}

// Close stops the underlying filesystem watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

func (w *Watcher) debounced(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	if last, ok := w.lastSeen[path]; ok && now.Sub(last) < debounceWindow {
		return true
	}
	w.lastSeen[path] = now
	return false
}
