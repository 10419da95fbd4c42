package config

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Reload is an accepted configuration change.
type Reload struct {
	Old, New *Config
	Diff     ConfigDiff
}

// Watcher polls the configuration file of a running server. A change is
// reported only when the file parses, validates and differs in meaning from
// the current configuration; edits to comments or formatting, touches and
// invalid files are not.
type Watcher struct {
	path     string
	interval time.Duration

	mu      sync.Mutex
	current *Config
	// raw is the file content seen by the last poll, valid or not, so a
	// broken file is reported once rather than on every tick.
	raw []byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads the file at path. The returned Watcher does nothing until
// [Watcher.Run] is called.
func NewWatcher(path string, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{path: path, interval: 5 * time.Second}
	for _, opt := range opts {
		opt(w)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current = cfg
	w.raw = raw
	return w, nil
}

// Current returns the most recently accepted configuration.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Run polls until ctx is done and calls onReload, from the polling
// goroutine, for every accepted change.
func (w *Watcher) Run(ctx context.Context, onReload func(Reload)) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if r, ok := w.check(); ok && onReload != nil {
				onReload(r)
			}
		}
	}
}

func (w *Watcher) check() (Reload, bool) {
	raw, err := os.ReadFile(w.path)
	if err != nil {
		slog.Warn("config watcher: cannot read file", "path", w.path, "err", err)
		return Reload{}, false
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if bytes.Equal(raw, w.raw) {
		return Reload{}, false
	}
	w.raw = raw

	cfg, err := LoadFromReader(bytes.NewReader(raw))
	if err != nil {
		slog.Warn("config watcher: keeping current config, new file is invalid", "path", w.path, "err", err)
		return Reload{}, false
	}
	if *cfg == *w.current {
		return Reload{}, false
	}

	r := Reload{Old: w.current, New: cfg, Diff: Diff(w.current, cfg)}
	w.current = cfg
	slog.Info("config watcher: configuration reloaded", "path", w.path)
	return r, true
}
