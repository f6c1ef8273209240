package templates

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceDelay coalesces bursts of file events into one reload.
var debounceDelay = 150 * time.Millisecond

// newWatcher creates the fsnotify watcher; tests may replace it to inject errors.
var newWatcher = fsnotify.NewWatcher

// Watch loads dir and reloads it whenever a template file in it is created,
// written, renamed or removed, until ctx ends. onReload, when non-nil, is
// called after every reload with the LoadDir error. Load errors are logged;
// Watch itself fails only when the directory cannot be created or watched.
func (l *Library) Watch(ctx context.Context, dir string, onReload func(error)) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := l.LoadDir(dir); err != nil {
		l.log().Warn("templates: initial load had errors", "dir", dir, "error", err)
	}

	w, err := newWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return err
	}

	go l.watchLoop(ctx, w, dir, onReload)
	return nil
}

func (l *Library) watchLoop(ctx context.Context, w *fsnotify.Watcher, dir string, onReload func(error)) {
	defer w.Close()

	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	reload := func() {
		err := l.LoadDir(dir)
		if err != nil {
			l.log().Warn("templates: reload had errors", "dir", dir, "error", err)
		}
		if onReload != nil {
			onReload(err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			mu.Unlock()
			return

		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if !isTemplateFile(ev.Name) {
				continue
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) &&
				!ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounceDelay, reload)
			mu.Unlock()

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			if !errors.Is(err, fsnotify.ErrEventOverflow) {
				l.log().Warn("templates: watcher error", "error", err)
				continue
			}
			// Events were lost; reload everything.
			reload()
		}
	}
}
