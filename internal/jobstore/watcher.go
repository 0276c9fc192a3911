package jobstore

import (
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce coalesces the burst of events a single atomic
// write-temp-then-rename produces into one Reload.
const watchDebounce = 300 * time.Millisecond

// Watcher watches the directory holding a Store's backing file and calls
// Reload whenever the file is written or replaced out from under the
// daemon — an operator hand-editing jobs.json, or a config-management tool
// dropping in a new one, is not required to go through a running daemon's
// (out-of-scope) HTTP API.
type Watcher struct {
	store    *Store
	fileName string
	fsw      *fsnotify.Watcher
	logger   *slog.Logger

	mu       sync.Mutex
	stopChan chan struct{}
}

// NewWatcher creates a Watcher for store's backing file. It does not begin
// watching until Start is called.
func NewWatcher(store *Store, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		store:    store,
		fileName: filepath.Base(store.path),
		fsw:      fsw,
		logger:   logger,
	}, nil
}

// Start begins watching the store's directory in the background.
func (w *Watcher) Start() error {
	if err := w.fsw.Add(filepath.Dir(w.store.path)); err != nil {
		return err
	}
	w.mu.Lock()
	w.stopChan = make(chan struct{})
	w.mu.Unlock()
	go w.loop()
	return nil
}

// Stop halts the watcher. Safe to call even if Start was never called.
func (w *Watcher) Stop() {
	w.mu.Lock()
	stopChan := w.stopChan
	w.mu.Unlock()
	if stopChan != nil {
		close(stopChan)
	}
	w.fsw.Close()
}

func (w *Watcher) loop() {
	var debounce *time.Timer
	for {
		select {
		case <-w.stopChan:
			if debounce != nil {
				debounce.Stop()
			}
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != w.fileName {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(watchDebounce, w.reload)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("jobstore: watcher error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	if err := w.store.Reload(); err != nil {
		w.logger.Warn("jobstore: reload after external edit failed", "error", err)
	}
}
