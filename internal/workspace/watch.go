package workspace

import (
	"cmp"
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Change is a settled change to one source file. Removed is decided when
// the batch is flushed, so a rename shows up as a removal of the old path.
type Change struct {
	Path    string
	Removed bool
}

type ChangeHandler func(changes []Change)

// Watcher reports changes to source files below root in debounced batches.
type Watcher struct {
	filter   *filter
	watcher  *fsnotify.Watcher
	handler  ChangeHandler
	debounce time.Duration

	paths    chan string
	done     chan struct{}
	stopOnce sync.Once
}

func NewWatcher(root string, opts Options, debounce time.Duration, handler ChangeHandler) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		filter:   newFilter(root, opts),
		watcher:  watcher,
		handler:  handler,
		debounce: debounce,
		paths:    make(chan string, 1000),
		done:     make(chan struct{}),
	}, nil
}

// Start watches every directory below root. Events are processed in the
// background until ctx is done or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.addRecursive(w.filter.root); err != nil {
		return err
	}
	go w.processEvents(ctx)
	go w.debounceLoop(ctx)
	return nil
}

func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.watcher.Close()
	})
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if w.filter.ignored(path, true) {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
}

func (w *Watcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.addRecursive(event.Name); err != nil {
						log.Warningf("failed to watch %s: %s", event.Name, err)
					}
					continue
				}
			}
			if (event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write)) || !w.filter.wanted(event.Name) {
				continue
			}
			select {
			case w.paths <- event.Name:
			default:
				log.Warningf("dropping change to %s, buffer full", event.Name)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if !errors.Is(err, fsnotify.ErrEventOverflow) {
				log.Errorf("watch error: %s", err)
			}
		}
	}
}

func (w *Watcher) debounceLoop(ctx context.Context) {
	pending := map[string]struct{}{}
	var timer *time.Timer
	var timerC <-chan time.Time

	flush := func() {
		timer, timerC = nil, nil
		if len(pending) == 0 {
			return
		}
		changes := make([]Change, 0, len(pending))
		for path := range pending {
			_, err := os.Stat(path)
			changes = append(changes, Change{Path: path, Removed: errors.Is(err, fs.ErrNotExist)})
		}
		clear(pending)
		slices.SortFunc(changes, func(a, b Change) int {
			return cmp.Compare(a.Path, b.Path)
		})
		w.handler(changes)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case path := <-w.paths:
			pending[path] = struct{}{}
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(w.debounce)
			timerC = timer.C
		case <-timerC:
			flush()
		}
	}
}
