package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Loader handles loading and watching the configuration file together with
// the policy path it references.
type Loader struct {
	path     string
	logger   *slog.Logger
	watcher  *fsnotify.Watcher
	current  *Config
	mu       sync.RWMutex
	onChange func(*Config)
	onError  func(error)
	watched  []string
	close    chan struct{}
	once     sync.Once
}

// NewLoader creates a Loader for path.
func NewLoader(path string, logger *slog.Logger) (*Loader, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Loader{
		path:   absPath,
		logger: logger,
		close:  make(chan struct{}),
	}, nil
}

// Path returns the absolute config file path.
func (l *Loader) Path() string {
	return l.path
}

// Load reads and validates the configuration. The current configuration is
// replaced only when loading succeeds.
func (l *Loader) Load() (*Config, error) {
	cfg, err := Load(l.path)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.current = cfg
	l.mu.Unlock()

	return cfg, nil
}

// Current returns the last successfully loaded configuration.
func (l *Loader) Current() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// Watch starts monitoring the config file, and the policy path of the
// current configuration, for changes. onChange is called with every
// configuration that reloads successfully; failed reloads are logged and
// the previous configuration is retained.
func (l *Loader) Watch(onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	l.watcher = watcher
	l.onChange = onChange

	for _, dir := range l.watchDirs() {
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return fmt.Errorf("failed to watch directory %s: %w", dir, err)
		}
		l.watched = append(l.watched, dir)
	}

	go l.watchLoop()
	return nil
}

// OnReloadError registers fn to be called whenever a watched change fails
// to load. It must be called before Watch.
func (l *Loader) OnReloadError(fn func(error)) {
	l.onError = fn
}

func (l *Loader) policyPath() string {
	cfg := l.Current()
	if cfg == nil || cfg.Policy.Path == "" {
		return ""
	}
	abs, err := filepath.Abs(cfg.Policy.Path)
	if err != nil {
		return ""
	}
	return abs
}

func (l *Loader) watchDirs() []string {
	dirs := []string{filepath.Dir(l.path)}
	policy := l.policyPath()
	if policy == "" {
		return dirs
	}
	candidates := []string{filepath.Dir(policy)}
	if info, err := os.Stat(policy); err == nil && info.IsDir() {
		candidates = append(candidates, policy)
	}
	for _, dir := range candidates {
		if !slices.Contains(dirs, dir) {
			dirs = append(dirs, dir)
		}
	}
	return dirs
}

// syncWatches follows a policy path that moved in the reloaded configuration.
// It runs on the watch goroutine only.
func (l *Loader) syncWatches() {
	want := l.watchDirs()
	kept := make([]string, 0, len(want))
	for _, dir := range l.watched {
		if slices.Contains(want, dir) {
			kept = append(kept, dir)
			continue
		}
		if err := l.watcher.Remove(dir); err != nil {
			l.logger.Debug("Failed to stop watching directory", "dir", dir, "error", err)
		}
	}
	for _, dir := range want {
		if slices.Contains(kept, dir) {
			continue
		}
		if err := l.watcher.Add(dir); err != nil {
			l.logger.Warn("Failed to watch directory", "dir", dir, "error", err)
			continue
		}
		kept = append(kept, dir)
	}
	l.watched = kept
}

func (l *Loader) relevant(name string) bool {
	name = filepath.Clean(name)
	if name == l.path {
		return true
	}
	policy := l.policyPath()
	return policy != "" && (name == policy || filepath.Dir(name) == policy)
}

func (l *Loader) watchLoop() {
	for {
		select {
		case <-l.close:
			return
		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			// Editors often save by rename, so Create and Rename count as writes.
			if !l.relevant(event.Name) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}

			cfg, err := l.Load()
			if err != nil {
				l.logger.Error("Config reload failed, keeping previous configuration", "path", l.path, "error", err)
				if l.onError != nil {
					l.onError(err)
				}
				continue
			}
			l.syncWatches()
			l.logger.Info("Config reloaded", "path", l.path, "trigger", event.Name)
			if l.onChange != nil {
				l.onChange(cfg)
			}

		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.logger.Warn("Config watcher error", "error", err)
		}
	}
}

// Close stops the watcher.
func (l *Loader) Close() error {
	l.once.Do(func() { close(l.close) })
	if l.watcher != nil {
		return l.watcher.Close()
	}
	return nil
}
