package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceDelay coalesces bursts of library writes into one sync.
const debounceDelay = 2 * time.Second

// Trigger drives the syncer from two sources: a periodic ticker and a
// filesystem watch on the library database. Both sources funnel into
// Sync, whose single-flight guard drops whatever arrives mid-attempt.
type Trigger struct {
	syncer      *Syncer
	libraryPath string
	interval    time.Duration
	logger      *slog.Logger
}

// NewTrigger creates a trigger for the given library file.
func NewTrigger(s *Syncer, libraryPath string, interval time.Duration, logger *slog.Logger) *Trigger {
	return &Trigger{
		syncer:      s,
		libraryPath: libraryPath,
		interval:    interval,
		logger:      logger,
	}
}

// Run blocks until the context is canceled. It performs one sync on
// startup, then syncs on every tick and on debounced library writes.
// Writes the syncer itself makes to the library re-fire the watcher;
// those attempts settle as no-ops through change detection.
func (t *Trigger) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating library watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory, not the file: bbolt rewrites can recreate the
	// inode, which would silently detach a file-level watch.
	if err := watcher.Add(filepath.Dir(t.libraryPath)); err != nil {
		return fmt.Errorf("watching library directory: %w", err)
	}

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	debounce := time.NewTimer(0)
	if !debounce.Stop() {
		<-debounce.C
	}

	t.sync(ctx, "startup")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-ticker.C:
			t.sync(ctx, "interval")

		case <-debounce.C:
			t.sync(ctx, "library_change")

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("library watcher closed")
			}

			if event.Name != t.libraryPath {
				continue
			}

			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			debounce.Reset(debounceDelay)

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("library watcher closed")
			}

			t.logger.Warn("library watcher error", "error", err)
		}
	}
}

func (t *Trigger) sync(ctx context.Context, reason string) {
	result, err := t.syncer.Sync(ctx)
	if err != nil {
		t.logger.Error("sync attempt failed", "reason", reason, "error", err)
		return
	}

	t.logger.Debug("sync attempt finished", "reason", reason, "status", result.Status.String())
}
