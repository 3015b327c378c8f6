package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collectBatches starts a watcher over dir and returns the channel its
// settled batches arrive on.
func collectBatches(t *testing.T, dir string) chan []string {
	t.Helper()

	batches := make(chan []string, 16)
	w, err := New(dir, 50*time.Millisecond, func(paths []string) {
		batches <- paths
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = w.Run(ctx) }()

	// Give the watch registration a moment before the test writes.
	time.Sleep(100 * time.Millisecond)
	return batches
}

// waitBatch receives one batch or fails the test.
func waitBatch(t *testing.T, batches chan []string) []string {
	t.Helper()
	select {
	case b := <-batches:
		return b
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a change batch")
		return nil
	}
}

// TestWatcher_ReportsSettledChanges verifies a burst of writes arrives
// as one deduplicated batch.
func TestWatcher_ReportsSettledChanges(t *testing.T) {
	dir := t.TempDir()
	batches := collectBatches(t, dir)

	target := filepath.Join(dir, "main.py")
	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(target, []byte("print()"), 0o644))
		time.Sleep(5 * time.Millisecond)
	}

	batch := waitBatch(t, batches)
	assert.Contains(t, batch, target)

	count := 0
	for _, p := range batch {
		if p == target {
			count++
		}
	}
	assert.Equal(t, 1, count, "repeated writes to one file must deduplicate")
}

// TestWatcher_SkipsIgnoredDirectories verifies churn under .git and
// .gantry never triggers a batch.
func TestWatcher_SkipsIgnoredDirectories(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".git"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".gantry"), 0o755))

	batches := collectBatches(t, dir)

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".git", "index"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".gantry", "state"), []byte("x"), 0o644))

	select {
	case batch := <-batches:
		t.Fatalf("ignored directories produced a batch: %v", batch)
	case <-time.After(300 * time.Millisecond):
	}

	// A real change still comes through on the same watcher.
	visible := filepath.Join(dir, "app.py")
	require.NoError(t, os.WriteFile(visible, []byte("x"), 0o644))
	batch := waitBatch(t, batches)
	assert.Contains(t, batch, visible)
}

// TestWatcher_PicksUpNewDirectories verifies directories created after
// startup are watched too.
func TestWatcher_PicksUpNewDirectories(t *testing.T) {
	dir := t.TempDir()
	batches := collectBatches(t, dir)

	sub := filepath.Join(dir, "pkg")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	// The mkdir itself settles into a batch; drain it.
	waitBatch(t, batches)

	inner := filepath.Join(sub, "mod.py")
	require.NoError(t, os.WriteFile(inner, []byte("x"), 0o644))

	batch := waitBatch(t, batches)
	assert.Contains(t, batch, inner)
}
