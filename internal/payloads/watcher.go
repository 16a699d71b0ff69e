package payloads

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/telhawk-systems/inbox/internal/model"
)

// DefaultSettle is how long a file must stay quiet before it is read.
const DefaultSettle = 250 * time.Millisecond

// Handler receives newly settled payload files as one batch, in lexical
// order. A returned error stops the watcher.
type Handler func(ctx context.Context, envs []model.Envelope) error

// Watcher ingests payload files as they are created or rewritten in a
// directory.
type Watcher struct {
	dir    string
	settle time.Duration
	logger *slog.Logger
}

func NewWatcher(dir string, settle time.Duration, logger *slog.Logger) *Watcher {
	if settle <= 0 {
		settle = DefaultSettle
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{dir: dir, settle: settle, logger: logger.With(slog.String("component", "payload_watcher"))}
}

// Run blocks until ctx is done or handle fails. Files present before Run
// starts are not reported.
func (w *Watcher) Run(ctx context.Context, handle Handler) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	w.logger.InfoContext(ctx, "watching payload directory", slog.String("dir", w.dir))

	pending := make(map[string]time.Time)
	ticker := time.NewTicker(w.settle / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			if IsPayloadFile(ev.Name) {
				pending[ev.Name] = time.Now()
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.WarnContext(ctx, "watcher error", slog.String("error", err.Error()))

		case now := <-ticker.C:
			ready := settled(pending, now, w.settle)
			if len(ready) == 0 {
				continue
			}
			envs := w.load(ctx, ready)
			if len(envs) == 0 {
				continue
			}
			if err := handle(ctx, envs); err != nil {
				return fmt.Errorf("handle payloads: %w", err)
			}
		}
	}
}

// settled removes and returns the paths that have been quiet for settle.
func settled(pending map[string]time.Time, now time.Time, settle time.Duration) []string {
	var ready []string
	for path, last := range pending {
		if now.Sub(last) >= settle {
			ready = append(ready, path)
			delete(pending, path)
		}
	}
	sort.Strings(ready)
	return ready
}

func (w *Watcher) load(ctx context.Context, paths []string) []model.Envelope {
	envs := make([]model.Envelope, 0, len(paths))
	for _, path := range paths {
		env, err := LoadFile(path)
		if err != nil {
			// Removed or renamed before it settled.
			if !errors.Is(err, os.ErrNotExist) {
				w.logger.WarnContext(ctx, "failed to read payload",
					slog.String("file", filepath.Base(path)),
					slog.String("error", err.Error()))
			}
			continue
		}
		envs = append(envs, env)
	}
	return envs
}
