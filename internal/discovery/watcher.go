package discovery

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/hanibalsk/autodev/internal/logger"
)

// Watcher monitors the epics file for changes and invokes a callback
// after a debounce window
type Watcher struct {
	path     string
	debounce time.Duration
	onChange func()
	log      logger.Logger

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	running bool
	stopCh  chan struct{}
	pending bool
}

// NewWatcher creates a file watcher for the epics file
func NewWatcher(path string, debounce time.Duration, onChange func(), log logger.Logger) *Watcher {
	return &Watcher{
		path:     path,
		debounce: debounce,
		onChange: onChange,
		log:      log,
	}
}

// Start begins watching for file changes
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	// Watch the containing directory; editors often replace the file
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		watcher.Close()
		return err
	}

	w.watcher = watcher
	w.running = true
	w.stopCh = make(chan struct{})

	go w.run()
	return nil
}

// Stop stops watching for file changes
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return nil
	}
	w.running = false
	close(w.stopCh)
	return w.watcher.Close()
}

// IsRunning returns whether the watcher is currently active
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Watcher) run() {
	debounceTimer := time.NewTimer(w.debounce)
	debounceTimer.Stop()

	for {
		select {
		case <-w.stopCh:
			debounceTimer.Stop()
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			w.mu.Lock()
			w.pending = true
			w.mu.Unlock()
			debounceTimer.Reset(w.debounce)

		case <-debounceTimer.C:
			w.mu.Lock()
			pending := w.pending
			w.pending = false
			w.mu.Unlock()

			if pending {
				w.log.Debug("epics file changed, refreshing", "path", w.path)
				w.onChange()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("watcher error", "error", err)
		}
	}
}
