package limits

import (
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/gemshare/gemshare/pkg/logging"
	"github.com/gemshare/gemshare/pkg/models"
)

// Watcher re-reads the limit file whenever the pod manager rewrites it.
// It watches the containing directory and matches events by base name,
// so atomic rename-into-place updates are caught as well.
type Watcher struct {
	path    string
	base    string
	watcher *fsnotify.Watcher
	apply   func([]models.ClientLimit)
	log     *logging.Logger
	stopCh  chan struct{}
}

// NewWatcher watches the directory containing path and calls apply with
// freshly parsed entries after each rewrite of the file.
func NewWatcher(path string, log *logging.Logger, apply func([]models.ClientLimit)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	dir := filepath.Dir(path)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	log.Info("Watching limit directory", map[string]interface{}{"dir": dir})

	return &Watcher{
		path:    path,
		base:    filepath.Base(path),
		watcher: fsw,
		apply:   apply,
		log:     log,
		stopCh:  make(chan struct{}),
	}, nil
}

// Start runs the watch loop until Stop is called.
func (w *Watcher) Start() {
	go w.loop()
}

func (w *Watcher) loop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != w.base {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.log.Info("Limit file modified, updating client settings", map[string]interface{}{"file": event.Name})
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("Limit watcher error", map[string]interface{}{"error": err.Error()})
		case <-w.stopCh:
			return
		}
	}
}

// reload parses the file and hands the entries to apply. A file that
// fails to parse is logged and skipped; the previous entries stay live.
func (w *Watcher) reload() {
	entries, err := ParseFile(w.path)
	if err != nil {
		w.log.Warn("Skipping limit reload", map[string]interface{}{"error": err.Error()})
		return
	}
	w.apply(entries)
}

// Stop ends the watch loop and releases the inotify watch.
func (w *Watcher) Stop() error {
	close(w.stopCh)
	return w.watcher.Close()
}
