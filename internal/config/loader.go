package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/gyaneshwarpardhi/underwriting/pkg/domainerrors"
)

// Loader reads a policy YAML file and watches it for changes. Only configs
// that pass Validate become current.
type Loader struct {
	path       string
	logger     *slog.Logger
	mu         sync.RWMutex
	current    *PolicyConfig
	onChange   []func(*PolicyConfig)
	generation atomic.Uint64
}

// NewLoader creates a Loader and performs the initial load. An invalid file
// is an error.
func NewLoader(path string, logger *slog.Logger) (*Loader, error) {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Loader{path: path, logger: logger}
	cfg, err := l.load()
	if err != nil {
		return nil, err
	}
	l.current = cfg
	l.generation.Store(1)
	return l, nil
}

// Config returns the current (latest valid) configuration.
func (l *Loader) Config() *PolicyConfig {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// Path is the watched file.
func (l *Loader) Path() string { return l.path }

// Generation counts successful loads, starting at 1.
func (l *Loader) Generation() uint64 { return l.generation.Load() }

// OnChange registers a callback invoked whenever the config reloads.
func (l *Loader) OnChange(fn func(*PolicyConfig)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onChange = append(l.onChange, fn)
}

// Watch starts a background goroutine that hot-reloads the config on file
// changes. The parent directory is watched so editors that replace the file
// by rename are noticed. Call the returned stop function to clean up.
func (l *Loader) Watch() (stop func(), err error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config watcher: %w", err)
	}
	dir := filepath.Dir(l.path)
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("config watcher add %s: %w", dir, err)
	}
	target := filepath.Clean(l.path)

	done := make(chan struct{})
	go func() {
		defer w.Close()
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
					if _, err := l.Reload(); err != nil {
						l.logger.Warn("policy reload skipped; keeping previous version", "path", l.path, "err", err)
					}
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				l.logger.Warn("policy watcher error", "err", err)
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }, nil
}

// Reload forces an immediate re-read of the config file. An invalid file
// leaves the current config in place.
func (l *Loader) Reload() (*PolicyConfig, error) {
	cfg, err := l.load()
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	l.current = cfg
	callbacks := make([]func(*PolicyConfig), len(l.onChange))
	copy(callbacks, l.onChange)
	l.mu.Unlock()
	gen := l.generation.Add(1)
	l.logger.Info("policy loaded", "version", cfg.Version, "generation", gen)
	for _, fn := range callbacks {
		fn(cfg)
	}
	return cfg, nil
}

func (l *Loader) load() (*PolicyConfig, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeConfiguration, "read config "+l.path)
	}
	return Parse(data)
}

// Parse decodes, defaults and validates a policy document.
func Parse(data []byte) (*PolicyConfig, error) {
	var cfg PolicyConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeConfiguration, "parse config")
	}
	ApplyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
