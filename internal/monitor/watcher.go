package monitor

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"gridlink/internal/logging"
)

const authDebounce = 250 * time.Millisecond

// authWatcher calls onChange after the daemon's auth file is written,
// created, renamed, or removed. Bursts of events collapse into one call.
type authWatcher struct {
	path     string
	onChange func()
	logger   *slog.Logger
	debounce time.Duration

	watcher *fsnotify.Watcher
	trigger chan struct{}
	stop    chan struct{}
	wg      sync.WaitGroup
}

func newAuthWatcher(path string, onChange func(), logger *slog.Logger) (*authWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve auth file path: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create auth file watcher: %w", err)
	}
	// The directory is watched because editors and daemons replace the file
	// rather than rewrite it.
	if err := w.Add(filepath.Dir(abs)); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	aw := &authWatcher{
		path:     abs,
		onChange: onChange,
		logger:   logger,
		debounce: authDebounce,
		watcher:  w,
		trigger:  make(chan struct{}, 1),
		stop:     make(chan struct{}),
	}
	aw.wg.Add(2)
	go aw.watchLoop()
	go aw.debounceLoop()
	return aw, nil
}

func (w *authWatcher) watchLoop() {
	defer w.wg.Done()
	name := filepath.Base(w.path)
	for {
		select {
		case <-w.stop:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			w.logger.Debug("auth file changed", logging.String("op", event.Op.String()))
			select {
			case w.trigger <- struct{}{}:
			default:
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.WarnWithContext(w.logger, "auth file watcher error", "auth_watch_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "secret rotation may not reconnect until the next failure"))
		}
	}
}

func (w *authWatcher) debounceLoop() {
	defer w.wg.Done()
	var timer *time.Timer
	for {
		select {
		case <-w.stop:
			if timer != nil {
				timer.Stop()
			}
			return
		case <-w.trigger:
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, w.onChange)
		}
	}
}

func (w *authWatcher) Close() error {
	close(w.stop)
	err := w.watcher.Close()
	w.wg.Wait()
	return err
}
