package config

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// Watcher polls a config file's modification time and reloads it when it
// changes. A file that fails to load is logged and the previous config stays
// in effect.
type Watcher struct {
	path     string
	interval time.Duration
	logger   *slog.Logger
	onChange func(*Config)

	modTime time.Time
}

// NewWatcher creates a Watcher for path. onChange receives every config that
// loads and validates.
func NewWatcher(path string, interval time.Duration, logger *slog.Logger, onChange func(*Config)) *Watcher {
	return &Watcher{
		path:     path,
		interval: interval,
		logger:   logger,
		onChange: onChange,
		modTime:  fileModTime(path),
	}
}

// Run polls until ctx is cancelled. It blocks, so call it in a goroutine.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.poll()
		}
	}
}

func (w *Watcher) poll() {
	current := fileModTime(w.path)

	// Missing (possibly mid-save) or unchanged.
	if current.IsZero() || current.Equal(w.modTime) {
		return
	}
	w.modTime = current

	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Error("config reload failed, keeping previous config", "path", w.path, "error", err)
		return
	}
	w.logger.Info("config file changed", "path", w.path)
	w.onChange(cfg)
}

// fileModTime returns the file's modification time, or zero if it can't be read.
func fileModTime(path string) time.Time {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}
