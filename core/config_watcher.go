package core

import (
	"fmt"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// ConfigStore holds the current Config behind an atomic pointer and,
// when Watch is started, hot-swaps it whenever the backing file
// changes on disk. Current() returns the latest validated *Config as one
// atomic pointer, so a reader never observes a half-swapped value; the
// routing Scorer does not read it (see Config).
type ConfigStore struct {
	path    string
	current atomic.Pointer[Config]
	logger  Logger
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewConfigStore loads path once and returns a store ready for Watch.
func NewConfigStore(path string, opts ...ConfigOption) (*ConfigStore, error) {
	cfg, err := LoadConfig(path, opts...)
	if err != nil {
		return nil, err
	}

	logger := Logger(&NoOpLogger{})
	if cal, ok := cfg.logger.(ComponentAwareLogger); ok {
		logger = cal.WithComponent("core")
	} else if cfg.logger != nil {
		logger = cfg.logger
	}

	s := &ConfigStore{path: path, logger: logger}
	s.current.Store(cfg)
	return s, nil
}

// Current returns the most recently loaded, validated Config.
func (s *ConfigStore) Current() *Config {
	return s.current.Load()
}

// Watch starts an fsnotify watch on the config file, reloading and
// atomically swapping Current() on every write. A reload that fails
// validation is logged and discarded; the previously loaded Config
// keeps serving. Call Close to stop watching.
func (s *ConfigStore) Watch() error {
	if s.path == "" {
		return nil // nothing on disk to watch; Current() stays static
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(s.path); err != nil {
		watcher.Close()
		return err
	}

	s.watcher = watcher
	s.done = make(chan struct{})

	go s.watchLoop()
	return nil
}

func (s *ConfigStore) watchLoop() {
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			s.reload()
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("config watcher error", map[string]interface{}{"error": err.Error()})
		case <-s.done:
			return
		}
	}
}

func (s *ConfigStore) reload() {
	if err := s.Reload(); err != nil {
		s.logger.Error("config reload failed, keeping previous configuration", map[string]interface{}{
			"path":  s.path,
			"error": err.Error(),
		})
	}
}

// Reload re-reads and validates the config file, swapping Current() only
// on success, and returns the validation error otherwise so an explicit
// caller (the `reload-config` control-surface operation, spec §6.6) can
// report a config-validation failure distinctly from the silent
// keep-previous behavior the fsnotify watch loop uses.
func (s *ConfigStore) Reload() error {
	if s.path == "" {
		return fmt.Errorf("reload-config: %w (no config file path configured)", ErrMissingConfiguration)
	}
	cfg, err := LoadConfig(s.path, WithLogger(s.current.Load().logger))
	if err != nil {
		return err
	}
	s.current.Store(cfg)
	s.logger.Info("configuration reloaded", map[string]interface{}{"path": s.path})
	return nil
}

// Close stops the watch goroutine, if one was started.
func (s *ConfigStore) Close() error {
	if s.watcher == nil {
		return nil
	}
	close(s.done)
	return s.watcher.Close()
}
