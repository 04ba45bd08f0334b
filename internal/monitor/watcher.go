package monitor

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher turns filesystem activity under the runs directory into refresh
// signals for the dashboard. Events are debounced so a burst of artifact
// writes from one stage produces a single redraw.
type Watcher struct {
	fs       *fsnotify.Watcher
	changes  chan struct{}
	done     chan struct{}
	debounce time.Duration
}

// NewWatcher watches the runs directory and every run directory inside it.
// New run directories are picked up as they appear.
func NewWatcher(runsDir string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fw.Add(runsDir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", runsDir, err)
	}

	// Existing run directories: each run writes artifacts into its own
	// subdirectory, so the root watch alone misses them.
	entries, err := os.ReadDir(runsDir)
	if err != nil {
		fw.Close()
		return nil, fmt.Errorf("read %s: %w", runsDir, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			// Best effort: a run removed mid-scan is not an error.
			_ = fw.Add(filepath.Join(runsDir, e.Name()))
		}
	}

	w := &Watcher{
		fs:       fw,
		changes:  make(chan struct{}, 1),
		done:     make(chan struct{}),
		debounce: 250 * time.Millisecond,
	}
	go w.loop()
	return w, nil
}

// Changes delivers one signal per debounced burst of filesystem activity.
func (w *Watcher) Changes() <-chan struct{} {
	return w.changes
}

// Close stops the watcher and closes the changes channel.
func (w *Watcher) Close() error {
	err := w.fs.Close()
	<-w.done
	return err
}

func (w *Watcher) loop() {
	defer close(w.done)
	defer close(w.changes)

	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if ev.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					_ = w.fs.Add(ev.Name)
				}
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				fire = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}

		case <-fire:
			timer = nil
			fire = nil
			select {
			case w.changes <- struct{}{}:
			default:
			}

		case _, ok := <-w.fs.Errors:
			if !ok {
				return
			}
		}
	}
}
