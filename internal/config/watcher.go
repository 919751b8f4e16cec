// ABOUTME: Watches the config file with fsnotify and re-parses it on change
// ABOUTME: Only settings that are safe to change at runtime are applied by callers

package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a config file whenever it is written or replaced.
type Watcher struct {
	path     string
	logger   *slog.Logger
	onReload func(*Config)
}

// NewWatcher creates a Watcher that calls onReload with each successfully parsed config.
func NewWatcher(path string, logger *slog.Logger, onReload func(*Config)) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		path:     path,
		logger:   logger.With("component", "config-watcher"),
		onReload: onReload,
	}
}

// Run watches until ctx is cancelled. The parent directory is watched so
// editors that replace the file atomically are still noticed.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(w.path), err)
	}

	target := filepath.Clean(w.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.reload(ev.Op)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("config watcher error", "error", err)
		}
	}
}

func (w *Watcher) reload(op fsnotify.Op) {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Warn("ignoring invalid config change", "path", w.path, "error", err)
		return
	}
	w.logger.Info("config file changed", "path", w.path, "op", op.String())
	if w.onReload != nil {
		w.onReload(cfg)
	}
}

// ParseLevel maps a logging.level string to a slog.Level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
