package storage

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ChangeCallback receives the keys whose stored value changed.
type ChangeCallback func(keys []string)

// Watch observes the file backend's directory until ctx is cancelled and
// calls cb with the keys changed by other writers, such as another process
// sharing the same data directory. Writes made through f itself are not
// reported. Bursts of events are coalesced for debounce.
func Watch(ctx context.Context, f *FS, debounce time.Duration, logger *slog.Logger, cb ChangeCallback) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(f.Root()); err != nil {
		return err
	}
	if debounce <= 0 {
		debounce = 100 * time.Millisecond
	}

	logger.Info("watcher: started", slog.String("path", f.Path()))

	var timer *time.Timer
	var fire <-chan time.Time

	schedule := func() {
		if timer == nil {
			timer = time.NewTimer(debounce)
			fire = timer.C
		} else {
			timer.Reset(debounce)
		}
	}

	target := filepath.Clean(f.Path())

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-fire:
			keys, err := f.changedKeys()
			if err != nil {
				logger.Warn("watcher: reload failed", slog.String("error", err.Error()))
				continue
			}
			if len(keys) == 0 {
				continue
			}
			logger.Debug("watcher: external change", slog.Any("keys", keys))
			if cb != nil {
				cb(keys)
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				schedule()
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}
