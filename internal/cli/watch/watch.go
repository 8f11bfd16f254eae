// Package watch re-runs a callback when SQL files under a directory change.
package watch

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

const debounce = 500 * time.Millisecond

// Watcher watches a directory tree for *.sql changes.
type Watcher struct {
	root     string
	callback func() error
	watcher  *fsnotify.Watcher
	done     chan struct{}
}

// NewWatcher builds a watcher over root and every directory below it.
func NewWatcher(root string, callback func() error) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		fsw.Close()
		return nil, err
	}
	err = filepath.WalkDir(abs, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return fsw.Add(path)
		}
		return nil
	})
	if err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", root, err)
	}

	return &Watcher{
		root:     abs,
		callback: callback,
		watcher:  fsw,
		done:     make(chan struct{}),
	}, nil
}

// Start runs the callback once, then again after each debounced burst of
// SQL file changes. It returns after the initial callback; watching
// continues in the background until Stop.
func (w *Watcher) Start() error {
	if err := w.callback(); err != nil {
		return fmt.Errorf("initial run: %w", err)
	}

	go func() {
		timer := time.NewTimer(debounce)
		timer.Stop()
		var pending <-chan time.Time

		for {
			select {
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				if !strings.HasSuffix(event.Name, ".sql") {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
					timer.Reset(debounce)
					pending = timer.C
				}

			case <-pending:
				if err := w.callback(); err != nil {
					fmt.Fprintf(os.Stderr, "watch callback error: %v\n", err)
				}
				pending = nil

			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				fmt.Fprintf(os.Stderr, "watch error: %v\n", err)

			case <-w.done:
				return
			}
		}
	}()

	return nil
}

// Stop ends watching.
func (w *Watcher) Stop() error {
	close(w.done)
	return w.watcher.Close()
}
