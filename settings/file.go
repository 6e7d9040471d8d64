package settings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// File reads settings from a YAML file. A missing file yields the defaults.
type File struct {
	Path   string
	Logger *slog.Logger
}

// Load implements Reader.
func (f *File) Load(context.Context) (Settings, error) {
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("settings: read %s: %w", f.Path, err)
	}
	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Settings{}, fmt.Errorf("settings: parse %s: %w", f.Path, err)
	}
	return Normalize(s)
}

// Watch calls onChange with the new settings every time the file is
// written, until ctx is done. Bursts of events are coalesced; invalid
// contents are logged and skipped.
func (f *File) Watch(ctx context.Context, onChange func(Settings)) error {
	logger := f.Logger
	if logger == nil {
		logger = slog.Default()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("settings: watcher: %w", err)
	}
	// Watch the directory so editors that replace the file are seen.
	dir := filepath.Dir(f.Path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("settings: watch %s: %w", dir, err)
	}

	go func() {
		defer watcher.Close()
		var (
			mu       sync.Mutex
			debounce *time.Timer
		)
		reload := func() {
			s, err := f.Load(ctx)
			if err != nil {
				logger.Warn("settings: reload failed", "path", f.Path, "error", err)
				return
			}
			logger.Info("settings: reloaded", "path", f.Path, "preset", s.StylePreset, "batch_size", s.BatchSize)
			onChange(s)
		}

		for {
			select {
			case <-ctx.Done():
				mu.Lock()
				if debounce != nil {
					debounce.Stop()
				}
				mu.Unlock()
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(f.Path) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				mu.Lock()
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(100*time.Millisecond, reload)
				mu.Unlock()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("settings: watcher error", "error", err)
			}
		}
	}()
	return nil
}
