// Package watch reloads the grid profile when its file changes.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/JonMunkholm/gridfill/internal/config"
)

// DefaultDebounce collapses the burst of events an editor emits on save.
const DefaultDebounce = 250 * time.Millisecond

// ApplyFunc installs a freshly parsed profile.
type ApplyFunc func(ctx context.Context, p *config.Profile) error

// ProfileWatcher re-parses a profile file after each change and hands valid
// profiles to apply. A profile that fails to parse is logged and ignored, so
// the previous one stays active.
type ProfileWatcher struct {
	path     string
	apply    ApplyFunc
	debounce time.Duration
	watcher  *fsnotify.Watcher
}

// NewProfileWatcher watches path. The directory is watched rather than the
// file so that editors replacing the file by rename are still seen.
func NewProfileWatcher(path string, apply ApplyFunc) (*ProfileWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve profile path: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	return &ProfileWatcher{path: abs, apply: apply, debounce: DefaultDebounce, watcher: w}, nil
}

// Run blocks until ctx ends, then closes the watcher.
func (pw *ProfileWatcher) Run(ctx context.Context) error {
	defer pw.watcher.Close()

	logger := slog.With("profile", pw.path)
	logger.Info("profile watcher started")

	var (
		timer   *time.Timer
		pending <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			logger.Info("profile watcher stopped")
			return nil

		case event, ok := <-pw.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != pw.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(pw.debounce)
			} else {
				timer.Reset(pw.debounce)
			}
			pending = timer.C

		case <-pending:
			pending = nil
			pw.reload(ctx, logger)

		case err, ok := <-pw.watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("profile watcher error", "error", err)
		}
	}
}

func (pw *ProfileWatcher) reload(ctx context.Context, logger *slog.Logger) {
	p, err := config.LoadProfile(pw.path)
	if err != nil {
		logger.Warn("profile reload failed, keeping previous profile", "error", err)
		return
	}
	if err := pw.apply(ctx, p); err != nil {
		logger.Warn("profile rejected, keeping previous profile", "error", err)
		return
	}
	logger.Info("profile reloaded", "name", p.Name)
}
