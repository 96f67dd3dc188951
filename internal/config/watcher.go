package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// ChangeFunc receives the previous and the newly loaded scene config after
// the watched file changed on disk.
type ChangeFunc func(old, new *Config)

// snapshot is one successfully parsed version of the watched file.
type snapshot struct {
	cfg   *Config
	sum   [sha256.Size]byte
	mtime time.Time
}

// Watcher polls a config file and reports content changes to a [ChangeFunc].
// Polling keeps it working on network mounts and with editors that replace
// the file instead of writing it in place.
type Watcher struct {
	path     string
	interval time.Duration
	onChange ChangeFunc

	// reloadMu orders polls and explicit reloads so callbacks never overlap.
	reloadMu sync.Mutex

	mu   sync.Mutex
	last snapshot

	done chan struct{}
	stop sync.Once
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets how often the file is stat'ed. Default 5s.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path once and then polls it in the background until
// [Watcher.Stop]. onChange may be nil.
func NewWatcher(path string, onChange ChangeFunc, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	snap, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.last = snap

	go w.loop()
	return w, nil
}

// Current returns the last valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last.cfg
}

// Reload reads the file immediately regardless of its modification time.
// It reports whether the content changed. On error the current config stays
// in effect.
func (w *Watcher) Reload() (bool, error) {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()
	return w.apply()
}

// Stop ends polling. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.stop.Do(func() { close(w.done) })
}

func (w *Watcher) loop() {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-t.C:
			w.tick()
		}
	}
}

// tick reloads when the modification time moved. Hashing is skipped for
// files that were not touched.
func (w *Watcher) tick() {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()

	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config watcher: stat failed", "path", w.path, "err", err)
		return
	}
	w.mu.Lock()
	unchanged := info.ModTime().Equal(w.last.mtime)
	w.mu.Unlock()
	if unchanged {
		return
	}
	if _, err := w.apply(); err != nil {
		slog.Warn("config watcher: keeping previous config", "path", w.path, "err", err)
	}
}

// apply reads the file and, when its content differs, swaps the snapshot
// and runs onChange outside the lock. Requires reloadMu.
func (w *Watcher) apply() (bool, error) {
	next, err := w.read()
	if err != nil {
		return false, err
	}

	w.mu.Lock()
	prev := w.last
	w.last = next
	if next.sum == prev.sum {
		// Touched only; keep the existing *Config so callers see no change.
		w.last.cfg = prev.cfg
		w.mu.Unlock()
		return false, nil
	}
	w.mu.Unlock()

	slog.Info("config watcher: reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(prev.cfg, next.cfg)
	}
	return true, nil
}

// read loads, validates and fingerprints the file.
func (w *Watcher) read() (snapshot, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return snapshot{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return snapshot{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return snapshot{}, err
	}
	return snapshot{cfg: cfg, sum: sha256.Sum256(data), mtime: info.ModTime()}, nil
}
