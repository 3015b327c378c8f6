package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mmr-tortoise/gantry/internal/model"
)

// DefaultDebounce is how long the tree must stay quiet before changes
// are reported. Editors and formatters write in bursts; half a second
// folds a burst into one callback.
const DefaultDebounce = 500 * time.Millisecond

// skipDirs are directory names never watched: VCS metadata and gantry's
// own config directory, whose churn should not retrigger runs.
var skipDirs = map[string]bool{
	".git":         true,
	".gantry":      true,
	"node_modules": true,
}

// Handler receives the deduplicated, sorted paths of a settled batch of
// changes.
type Handler func(paths []string)

// Watcher observes a repository tree and reports settled change batches.
type Watcher struct {
	root     string
	debounce time.Duration
	handler  Handler

	fsw *fsnotify.Watcher

	mu      sync.Mutex
	pending map[string]bool
	timer   *time.Timer
}

// New creates a Watcher over root. The handler is called from a
// background goroutine once per settled batch.
func New(root string, debounce time.Duration, handler Handler) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, model.WrapCLIError(model.ExitGeneralError, "failed to create file watcher", err)
	}

	w := &Watcher{
		root:     root,
		debounce: debounce,
		handler:  handler,
		fsw:      fsw,
		pending:  make(map[string]bool),
	}

	if err := w.addRecursive(root); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return w, nil
}

// addRecursive registers root and every non-skipped subdirectory.
// fsnotify watches are per-directory and not recursive on their own.
func (w *Watcher) addRecursive(root string) error {
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if skipDirs[d.Name()] && path != root {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
	if err != nil {
		return model.WrapCLIError(model.ExitGeneralError, "failed to watch repository tree", err)
	}
	return nil
}

// Run processes events until the context is cancelled, then closes the
// underlying watcher. It blocks; callers run it in a goroutine or as
// the command's main loop.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()

	for {
		select {
		case <-ctx.Done():
			w.stopTimer()
			return ctx.Err()

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)

		case _, ok := <-w.fsw.Errors:
			// Transient errors (e.g. a directory vanishing mid-walk)
			// should not kill watch mode.
			if !ok {
				return nil
			}
		}
	}
}

// handleEvent filters one fsnotify event and schedules a flush.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	if w.skipped(event.Name) {
		return
	}

	// New directories need their own watch to keep recursion live.
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			_ = w.addRecursive(event.Name)
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending[event.Name] = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.flush)
}

// skipped reports whether a path lives under an ignored directory.
func (w *Watcher) skipped(path string) bool {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return false
	}
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if skipDirs[part] {
			return true
		}
	}
	return false
}

// flush hands the settled batch to the handler.
func (w *Watcher) flush() {
	w.mu.Lock()
	if len(w.pending) == 0 {
		w.mu.Unlock()
		return
	}
	paths := make([]string, 0, len(w.pending))
	for p := range w.pending {
		paths = append(paths, p)
	}
	w.pending = make(map[string]bool)
	w.mu.Unlock()

	sort.Strings(paths)
	w.handler(paths)
}

// stopTimer cancels a pending flush during shutdown.
func (w *Watcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
}
