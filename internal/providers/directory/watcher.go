package directory

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watcher coalesces bursts of filesystem events into one notification per
// debounce window.
type watcher struct {
	p       *Provider
	fsw     *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
	closeMu sync.Once
}

func newWatcher(p *Provider) (*watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	w := &watcher{p: p, fsw: fsw, done: make(chan struct{})}
	if err := w.addTree(p.root); err != nil {
		fsw.Close()
		return nil, err
	}

	w.wg.Add(1)
	go w.loop()
	return w, nil
}

func (w *watcher) addTree(root string) error {
	if !w.p.cfg.Recursive {
		return w.fsw.Add(root)
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if err := w.fsw.Add(path); err != nil {
				return fmt.Errorf("failed to watch %s: %w", path, err)
			}
		}
		return nil
	})
}

// relevant reports whether ev may change what List returns.
func (w *watcher) relevant(ev fsnotify.Event) bool {
	if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Write) {
		return false
	}
	if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
		if ev.Has(fsnotify.Create) && w.p.cfg.Recursive {
			if err := w.addTree(ev.Name); err != nil {
				w.p.logger.Warn("Failed to watch new directory", "path", ev.Name, "error", err)
			}
		}
		return false
	}
	return w.p.matches(filepath.Base(ev.Name))
}

func (w *watcher) loop() {
	defer w.wg.Done()

	var (
		timer   *time.Timer
		timerCh <-chan time.Time
	)

	for {
		select {
		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !w.relevant(ev) {
				continue
			}
			w.p.logger.Debug("Directory change detected", "path", ev.Name, "op", ev.Op.String())
			if timer == nil {
				timer = time.NewTimer(w.p.cfg.Debounce)
				timerCh = timer.C
			}

		case <-timerCh:
			timer, timerCh = nil, nil
			w.p.notify()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.p.logger.Warn("Directory watcher error", "error", err)
		}
	}
}

func (w *watcher) close() error {
	var err error
	w.closeMu.Do(func() {
		close(w.done)
		err = w.fsw.Close()
		w.wg.Wait()
	})
	return err
}
