// Package trigger turns source tree changes into push events and runs the
// matrix for each of them, superseding the run still in flight.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"matrixctl/internal/matrix"
	"matrixctl/pkg/logging"
)

const (
	subsystem = "trigger"

	// DefaultDebounce batches the burst of writes an editor or checkout produces.
	DefaultDebounce = 500 * time.Millisecond
)

// ignoredDirs are skipped in addition to every hidden directory.
var ignoredDirs = map[string]bool{
	"__pycache__":  true,
	"node_modules": true,
	"build":        true,
	"dist":         true,
}

// Change is one debounced batch of filesystem changes.
type Change struct {
	Event matrix.Event
	Paths []string
	At    time.Time
}

// Watcher watches a source tree recursively.
type Watcher struct {
	root     string
	debounce time.Duration
	fsw      *fsnotify.Watcher
}

// NewWatcher creates a watcher over root and every non-hidden directory
// below it.
func NewWatcher(root string, debounce time.Duration) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch %s: not a directory", root)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}

	w := &Watcher{root: abs, debounce: debounce, fsw: fsw}
	if err := w.addTree(abs); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return w, nil
}

// Root returns the absolute watched directory.
func (w *Watcher) Root() string {
	return w.root
}

// Run delivers debounced push changes to fire until ctx is done. The
// watcher is closed when Run returns.
func (w *Watcher) Run(ctx context.Context, fire func(Change)) error {
	defer w.fsw.Close()

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	pending := make(map[string]struct{})

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.fsw.Events:
			if !ok {
				return errors.New("file watcher closed")
			}
			if !w.relevant(event) {
				continue
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.addTree(event.Name); err != nil {
						logging.Warn(subsystem, "Failed to watch new directory %s: %v", event.Name, err)
					}
				}
			}
			logging.Debug(subsystem, "%s %s", event.Op, event.Name)
			pending[event.Name] = struct{}{}
			timer.Reset(w.debounce)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return errors.New("file watcher closed")
			}
			logging.Error(subsystem, err, "File watcher error")

		case <-timer.C:
			if len(pending) == 0 {
				continue
			}
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			sort.Strings(paths)
			clear(pending)

			logging.Info(subsystem, "%d changed path(s), triggering %s", len(paths), matrix.EventPush)
			fire(Change{Event: matrix.EventPush, Paths: paths, At: time.Now()})
		}
	}
}

// relevant filters chmod-only events and anything below a hidden or
// ignored directory.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Op == fsnotify.Chmod {
		return false
	}
	rel, err := filepath.Rel(w.root, event.Name)
	if err != nil {
		return false
	}
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if skipName(part) {
			return false
		}
	}
	return true
}

func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && skipName(d.Name()) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}

func skipName(name string) bool {
	return (strings.HasPrefix(name, ".") && name != "." && name != "..") || ignoredDirs[name]
}
