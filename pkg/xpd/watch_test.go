package xpd

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestWatchDarks(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	dir := t.TempDir()
	staging := t.TempDir()
	idx := NewDarkIndex(nil)

	sw, err := WatchDarks(dir, idx)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() {
		done <- sw.Run(ctx)
	}()

	// stacks are moved into place complete, as the acquisition side does
	staged := filepath.Join(staging, "dark.fits")
	require.NoError(t, WriteStack(staged, darkRecord("watched", 0.2, t0, 3)))
	target := filepath.Join(dir, "dark.fits")
	require.NoError(t, os.Rename(staged, target))

	require.Eventually(t, func() bool { return idx.Len() == 1 }, 5*time.Second, 20*time.Millisecond)
	got, err := idx.Lookup(0.2, LookupOptions{})
	require.NoError(t, err)
	assert.Equal(t, "watched", got.ID)

	light := filepath.Join(staging, "light.fits")
	require.NoError(t, WriteStack(light, lightRecord("light", 0.2, 1, 1)))
	require.NoError(t, os.Rename(light, filepath.Join(dir, "light.fits")))

	require.NoError(t, os.Remove(target))
	require.Eventually(t, func() bool { return idx.Len() == 0 }, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestNewStackWatcherMissingDir(t *testing.T) {
	_, err := NewStackWatcher(filepath.Join(t.TempDir(), "missing"), nil)
	assert.Error(t, err)
}
