package kerberos

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/marmos91/alluxio-auth/internal/logger"
)

const (
	// defaultKeytabPollInterval is used when no interval is configured.
	defaultKeytabPollInterval = 60 * time.Second

	// keytabSettleDelay lets a burst of writes to the keytab finish before
	// it is parsed.
	keytabSettleDelay = 250 * time.Millisecond
)

// KeytabWatcher reloads a Provider's keytab when the file is rotated.
//
// It watches the keytab's directory rather than the file, so a keytab
// replaced by rename (kadmin ktadd, k5srvutil) is seen like one rewritten in
// place. A slow poll of the modification time covers filesystems that emit
// no events, such as NFS.
//
// Thread Safety: All methods are safe for concurrent use.
type KeytabWatcher struct {
	path     string
	interval time.Duration
	provider *Provider

	mu      sync.Mutex
	lastMod time.Time
	reloads int

	stopOnce sync.Once
	stop     chan struct{}
}

// NewKeytabWatcher creates a watcher for path (not yet started). A zero
// interval selects the 60 second poll default.
func NewKeytabWatcher(path string, interval time.Duration, provider *Provider) *KeytabWatcher {
	if interval <= 0 {
		interval = defaultKeytabPollInterval
	}
	return &KeytabWatcher{
		path:     filepath.Clean(path),
		interval: interval,
		provider: provider,
		stop:     make(chan struct{}),
	}
}

// Start records the keytab's modification time and begins watching.
func (w *KeytabWatcher) Start() error {
	info, err := os.Stat(w.path)
	if err != nil {
		return fmt.Errorf("keytab file not accessible: %w", err)
	}
	w.mu.Lock()
	w.lastMod = info.ModTime()
	w.mu.Unlock()

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create keytab watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		_ = fw.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}

	go w.run(fw)

	logger.Info("Keytab hot-reload started",
		logger.KeyPath, w.path,
		"poll_interval", w.interval.String())
	return nil
}

// Stop ends watching. It is safe to call more than once, or on a watcher
// that never started.
func (w *KeytabWatcher) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
}

// Reloads returns how many successful reloads have happened.
func (w *KeytabWatcher) Reloads() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reloads
}

func (w *KeytabWatcher) run(fw *fsnotify.Watcher) {
	defer func() { _ = fw.Close() }()

	poll := time.NewTicker(w.interval)
	defer poll.Stop()

	var settle <-chan time.Time
	for {
		select {
		case <-w.stop:
			return
		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) == w.path && ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				settle = time.After(keytabSettleDelay)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			logger.Warn("Keytab watch error", logger.KeyPath, w.path, logger.KeyError, err)
		case <-settle:
			settle = nil
			w.reloadIfChanged()
		case <-poll.C:
			w.reloadIfChanged()
		}
	}
}

// reloadIfChanged reloads the keytab when its modification time moved. A
// keytab that fails to parse leaves the previous one in service and is
// retried on the next change.
func (w *KeytabWatcher) reloadIfChanged() {
	w.mu.Lock()
	defer w.mu.Unlock()

	info, err := os.Stat(w.path)
	if err != nil {
		logger.Warn("Keytab file stat failed", logger.KeyPath, w.path, logger.KeyError, err)
		return
	}
	if info.ModTime().Equal(w.lastMod) {
		return
	}

	if err := w.provider.ReloadKeytab(); err != nil {
		logger.Error("Keytab reload failed", logger.KeyPath, w.path, logger.KeyError, err)
		return
	}
	w.lastMod = info.ModTime()
	w.reloads++
	logger.Info("Keytab reloaded", logger.KeyPath, w.path, "reloads", w.reloads)
}
