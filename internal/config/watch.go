package config

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Store holds the current configuration snapshot and supports atomic reload.
// Components receive the snapshot at construction; long-lived consumers that
// honor reloads register a callback and re-read settings from the new
// snapshot there. The snapshot itself is never mutated in place.
type Store struct {
	path   string
	logger *slog.Logger

	current atomic.Pointer[Config]

	mu        sync.Mutex
	callbacks []func(*Config)
}

// NewStore wraps an already-loaded config. path may be empty for configs not
// backed by a file; Reload is then a no-op.
func NewStore(path string, cfg *Config, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Store{path: path, logger: logger}
	s.current.Store(cfg)
	return s
}

// Current returns the active configuration snapshot.
func (s *Store) Current() *Config {
	return s.current.Load()
}

// OnReload registers a callback invoked with each new snapshot after a
// successful reload.
func (s *Store) OnReload(fn func(*Config)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks = append(s.callbacks, fn)
}

// Reload re-reads the backing file and atomically swaps the snapshot.
// A config that fails validation leaves the previous snapshot in place.
func (s *Store) Reload() error {
	if s.path == "" {
		return nil
	}
	cfg, err := Load(s.path)
	if err != nil {
		return fmt.Errorf("reload config: %w", err)
	}
	s.current.Store(cfg)

	s.mu.Lock()
	cbs := append([]func(*Config){}, s.callbacks...)
	s.mu.Unlock()
	for _, fn := range cbs {
		fn(cfg)
	}
	s.logger.Info("configuration reloaded", "path", s.path)
	return nil
}

// Watch reloads the config when the backing file changes. It blocks until
// ctx is cancelled. Editors often replace files via rename, so the watch is
// on the parent directory filtered to the config file name.
func (s *Store) Watch(ctx context.Context) error {
	if s.path == "" {
		<-ctx.Done()
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}
	defer w.Close()

	dir := filepath.Dir(s.path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	base := filepath.Base(s.path)

	// Debounce: editors fire several events per save.
	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			pending = time.After(250 * time.Millisecond)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("config watcher error", "error", err)
		case <-pending:
			pending = nil
			if err := s.Reload(); err != nil {
				s.logger.Warn("config reload failed, keeping previous snapshot", "error", err)
			}
		}
	}
}
