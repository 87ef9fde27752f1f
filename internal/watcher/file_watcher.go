package watcher

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jeanbovet/semantica/internal/config"
)

// debounceWindow is the write-stability debounce from §4.5: files being
// streamed to disk should not be parsed mid-write.
const debounceWindow = 2 * time.Second

// maxDirectories and maxDepth bound the recursive directory watch the
// same way the original implementation did, to avoid unbounded fd/watch
// growth on pathological trees.
const (
	maxDirectories = 10000
	maxDepth       = 64
)

// Watcher wraps fsnotify over the configured roots, applying the Gate
// and emitting debounced add/change/unlink events.
type Watcher struct {
	fsw  *fsnotify.Watcher
	gate *Gate
	dirs []string

	ctx    context.Context
	cancel context.CancelFunc

	accumulatedMu sync.Mutex
	accumulated   map[string]EventType

	timerMu       sync.Mutex
	debounceTimer *time.Timer

	watchedDirCount int
	countMu         sync.Mutex

	doneCh   chan struct{}
	stopOnce sync.Once
}

// New creates a Watcher over cfg's watched folders, recursively adding
// every subdirectory to fsnotify up front.
func New(cfg *config.Config) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		fsw:         fsw,
		gate:        NewGate(cfg),
		dirs:        cfg.WatchedFolders,
		accumulated: make(map[string]EventType),
		doneCh:      make(chan struct{}),
	}

	for _, dir := range w.dirs {
		if err := w.addDirectoriesRecursively(dir, 0); err != nil {
			fsw.Close()
			return nil, err
		}
	}

	return w, nil
}

// Start begins watching, invoking callback with a debounced batch of
// events once the quiet period has elapsed since the last change.
func (w *Watcher) Start(ctx context.Context, callback func([]Event)) {
	w.ctx, w.cancel = context.WithCancel(ctx)
	go w.watch(callback)
}

// Stop closes the file watcher, stopping new work from entering — step
// 1 of the Shutdown Orchestrator's drain.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		if w.cancel != nil {
			w.cancel()
			<-w.doneCh
		} else {
			close(w.doneCh)
		}
		err = w.fsw.Close()
	})
	return err
}

func (w *Watcher) watch(callback func([]Event)) {
	defer close(w.doneCh)

	fireCh := make(chan struct{}, 1)

	for {
		select {
		case <-w.ctx.Done():
			w.stopDebounceTimer()
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}

			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.addDirectoriesRecursively(event.Name, 0); err != nil {
						log.Printf("[WATCH] failed to watch new directory %s: %v", event.Name, err)
					}
					continue
				}
			}

			evType, ok := classify(event)
			if !ok {
				continue
			}

			if evType != EventUnlink {
				info, err := os.Stat(event.Name)
				if err != nil || !w.gate.Allow(event.Name, info.Size()) {
					continue
				}
			}

			w.accumulatedMu.Lock()
			w.accumulated[event.Name] = evType
			w.accumulatedMu.Unlock()

			w.resetDebounceTimer(fireCh)

		case <-fireCh:
			w.flush(callback)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Printf("[WATCH] error: %v", err)
		}
	}
}

func classify(event fsnotify.Event) (EventType, bool) {
	switch {
	case event.Op&fsnotify.Remove != 0, event.Op&fsnotify.Rename != 0:
		return EventUnlink, true
	case event.Op&fsnotify.Create != 0:
		return EventAdd, true
	case event.Op&fsnotify.Write != 0:
		return EventChange, true
	default:
		return "", false
	}
}

func (w *Watcher) flush(callback func([]Event)) {
	w.accumulatedMu.Lock()
	if len(w.accumulated) == 0 {
		w.accumulatedMu.Unlock()
		return
	}
	events := make([]Event, 0, len(w.accumulated))
	for path, t := range w.accumulated {
		events = append(events, Event{Type: t, Path: path})
	}
	w.accumulated = make(map[string]EventType)
	w.accumulatedMu.Unlock()

	if callback != nil {
		callback(events)
	}
}

func (w *Watcher) resetDebounceTimer(fireCh chan struct{}) {
	w.timerMu.Lock()
	defer w.timerMu.Unlock()

	if w.debounceTimer != nil {
		if !w.debounceTimer.Stop() {
			select {
			case <-w.debounceTimer.C:
			default:
			}
		}
	}

	w.debounceTimer = time.AfterFunc(debounceWindow, func() {
		select {
		case fireCh <- struct{}{}:
		default:
		}
	})
}

func (w *Watcher) stopDebounceTimer() {
	w.timerMu.Lock()
	defer w.timerMu.Unlock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
		w.debounceTimer = nil
	}
}

func (w *Watcher) addDirectoriesRecursively(root string, depth int) error {
	if depth > maxDepth {
		return nil
	}

	dirName := filepath.Base(root)
	if dirName == ".git" || dirName == "node_modules" || dirName == ".semantica" {
		return nil
	}

	w.countMu.Lock()
	if w.watchedDirCount >= maxDirectories {
		w.countMu.Unlock()
		return nil
	}
	w.countMu.Unlock()

	entries, err := os.ReadDir(root)
	if err != nil {
		return err
	}

	if err := w.fsw.Add(root); err != nil {
		return err
	}
	w.countMu.Lock()
	w.watchedDirCount++
	w.countMu.Unlock()

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if entry.Name() == ".git" || entry.Name() == "node_modules" || entry.Name() == ".semantica" {
			continue
		}
		subPath := filepath.Join(root, entry.Name())
		if err := w.addDirectoriesRecursively(subPath, depth+1); err != nil {
			log.Printf("[WATCH] %v", err)
		}
	}

	return nil
}
