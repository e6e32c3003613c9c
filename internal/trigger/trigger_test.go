package trigger

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matrixctl/internal/matrix"
)

func startWatcher(t *testing.T, root string) <-chan Change {
	t.Helper()
	w, err := NewWatcher(root, 50*time.Millisecond)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	changes := make(chan Change, 8)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx, func(c Change) { changes <- c })
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return changes
}

func TestWatcher_DebouncedPush(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src", "pkg"), 0o755))
	changes := startWatcher(t, root)

	require.NoError(t, os.WriteFile(filepath.Join(root, "setup.py"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "src", "pkg", "mod.py"), []byte("x"), 0o644))

	select {
	case c := <-changes:
		assert.Equal(t, matrix.EventPush, c.Event)
		assert.Contains(t, c.Paths, filepath.Join(root, "src", "pkg", "mod.py"))
	case <-time.After(5 * time.Second):
		t.Fatal("no change delivered")
	}
}

func TestWatcher_WatchesNewDirectories(t *testing.T) {
	root := t.TempDir()
	changes := startWatcher(t, root)

	newDir := filepath.Join(root, "tests")
	require.NoError(t, os.Mkdir(newDir, 0o755))
	<-waitChange(t, changes)

	require.NoError(t, os.WriteFile(filepath.Join(newDir, "test_a.py"), []byte("x"), 0o644))
	c := <-waitChange(t, changes)
	assert.Contains(t, c.Paths, filepath.Join(newDir, "test_a.py"))
}

func waitChange(t *testing.T, changes <-chan Change) <-chan Change {
	t.Helper()
	out := make(chan Change, 1)
	select {
	case c := <-changes:
		out <- c
	case <-time.After(5 * time.Second):
		t.Fatal("no change delivered")
	}
	return out
}

func TestWatcher_RelevantSkipsHidden(t *testing.T) {
	root := t.TempDir()
	w, err := NewWatcher(root, 0)
	require.NoError(t, err)
	defer w.fsw.Close()

	assert.True(t, w.relevant(fsnotify.Event{Name: filepath.Join(root, "src", "a.py"), Op: fsnotify.Write}))
	assert.False(t, w.relevant(fsnotify.Event{Name: filepath.Join(root, ".git", "index"), Op: fsnotify.Write}))
	assert.False(t, w.relevant(fsnotify.Event{Name: filepath.Join(root, ".tox", "py310", "log"), Op: fsnotify.Create}))
	assert.False(t, w.relevant(fsnotify.Event{Name: filepath.Join(root, "src", "__pycache__", "a.pyc"), Op: fsnotify.Create}))
	assert.False(t, w.relevant(fsnotify.Event{Name: filepath.Join(root, "a.py"), Op: fsnotify.Chmod}))
}

func TestNewWatcher_Errors(t *testing.T) {
	_, err := NewWatcher(filepath.Join(t.TempDir(), "missing"), 0)
	assert.Error(t, err)

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	_, err = NewWatcher(file, 0)
	assert.Error(t, err)
}

func TestDispatcher_SupersedesRunInFlight(t *testing.T) {
	var (
		mu      sync.Mutex
		results []string
	)
	started := make(chan struct{}, 2)

	d := NewDispatcher(func(ctx context.Context, c Change) {
		started <- struct{}{}
		select {
		case <-ctx.Done():
			mu.Lock()
			results = append(results, c.Paths[0]+":cancelled")
			mu.Unlock()
		case <-time.After(100 * time.Millisecond):
			mu.Lock()
			results = append(results, c.Paths[0]+":done")
			mu.Unlock()
		}
	})

	ctx := context.Background()
	d.Trigger(ctx, Change{Event: matrix.EventPush, Paths: []string{"first"}})
	<-started
	d.Trigger(ctx, Change{Event: matrix.EventPush, Paths: []string{"second"}})
	d.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"first:cancelled", "second:done"}, results)
	assert.Equal(t, 2, d.Runs())
}

func TestDispatcher_Stop(t *testing.T) {
	cancelled := make(chan struct{})
	d := NewDispatcher(func(ctx context.Context, c Change) {
		<-ctx.Done()
		close(cancelled)
	})

	d.Trigger(context.Background(), Change{Event: matrix.EventPush})
	d.Stop()

	select {
	case <-cancelled:
	default:
		t.Fatal("Stop must cancel and wait for the active run")
	}
}

func TestDispatcher_CancelledParent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := NewDispatcher(func(context.Context, Change) { t.Error("must not run") })
	d.Trigger(ctx, Change{})
	d.Wait()
	assert.Zero(t, d.Runs())
}
