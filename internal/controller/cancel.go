package controller

import (
	"context"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// watchCancel watches the session directory for the cancel file and cancels
// the run when it appears. The watcher goroutine exits with the run context.
func (c *Controller) watchCancel(ctx context.Context, s *session, cancel context.CancelFunc) error {
	cancelPath := filepath.Join(s.dir, CancelFileName)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(s.dir); err != nil {
		watcher.Close()
		return err
	}

	requestAbort := func() {
		s.abortReason = "cancel requested by operator"
		c.log(LogLevelWarn, "cancel file detected session=%s", s.id)
		cancel()
	}

	// The file may predate the watch.
	if _, err := os.Stat(cancelPath); err == nil {
		requestAbort()
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Name == cancelPath && (ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write)) {
					requestAbort()
					return
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				c.log(LogLevelError, "cancel watcher session=%s err=%v", s.id, err)
			}
		}
	}()
	return nil
}
