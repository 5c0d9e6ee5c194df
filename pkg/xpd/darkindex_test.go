package xpd

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// populatedIndex holds darks at 0.1s (t1), 0.2s (t2), 0.5s (t3) and a newer 0.2s stack (t4).
func populatedIndex(t *testing.T) *DarkIndex {
	t.Helper()
	idx := NewDarkIndex(nil)
	for _, r := range []*ExposureRecord{
		darkRecord("t1-0.1", 0.1, t0.Add(1*time.Minute), 5),
		darkRecord("t2-0.2", 0.2, t0.Add(2*time.Minute), 5),
		darkRecord("t3-0.5", 0.5, t0.Add(3*time.Minute), 5),
		darkRecord("t4-0.2", 0.2, t0.Add(4*time.Minute), 5),
	} {
		require.NoError(t, idx.Register(r))
	}
	return idx
}

func TestLookup(t *testing.T) {
	idx := populatedIndex(t)

	tests := []struct {
		name     string
		exposure float64
		opts     LookupOptions
		want     string
		wantErr  error
	}{
		{name: "most recent exact match", exposure: 0.2, want: "t4-0.2"},
		{name: "exact only", exposure: 0.5, opts: LookupOptions{Exact: true}, want: "t3-0.5"},
		{name: "nearest", exposure: 0.3, want: "t4-0.2"},
		{name: "nearest above", exposure: 0.45, want: "t3-0.5"},
		{name: "long exposure uses the longest dark", exposure: 30, want: "t3-0.5"},
		{name: "exact without match", exposure: 0.3, opts: LookupOptions{Exact: true}, wantErr: ErrNoDarkAvailable},
		{name: "tolerance picks most recent compatible", exposure: 0.12, opts: LookupOptions{Tolerance: 0.08}, want: "t4-0.2"},
		{name: "tolerance without match", exposure: 0.3, opts: LookupOptions{Tolerance: 0.05}, wantErr: ErrNoDarkAvailable},
		{name: "at or before", exposure: 0.2, opts: LookupOptions{AtOrBefore: t0.Add(3 * time.Minute)}, want: "t2-0.2"},
		{name: "at or before excludes everything", exposure: 0.2, opts: LookupOptions{AtOrBefore: t0}, wantErr: ErrNoDarkAvailable},
		{name: "zero exposure", exposure: 0, wantErr: ErrZeroExposure},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := idx.Lookup(tc.exposure, tc.opts)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got.ID)
		})
	}
}

func TestLookupEmpty(t *testing.T) {
	_, err := NewDarkIndex(nil).Lookup(0.2, LookupOptions{})
	assert.ErrorIs(t, err, ErrNoDarkAvailable)
}

func TestRegisterRejects(t *testing.T) {
	idx := NewDarkIndex(nil)

	light := darkRecord("light", 0.2, t0, 3)
	light.IsDark = false
	assert.ErrorIs(t, idx.Register(light), ErrInvalidRecord)
	assert.ErrorIs(t, idx.Register(darkRecord("empty", 0.2, t0, 0)), ErrInvalidRecord)
	assert.ErrorIs(t, idx.Register(darkRecord("zero", 0, t0, 2)), ErrInvalidRecord)
	assert.ErrorIs(t, idx.Register(nil), ErrInvalidRecord)
	assert.Equal(t, 0, idx.Len())
}

func TestRegisterReplacesSameID(t *testing.T) {
	idx := NewDarkIndex(nil)
	require.NoError(t, idx.Register(darkRecord("abc", 0.2, t0, 3)))
	require.NoError(t, idx.Register(darkRecord("abc", 0.2, t0.Add(time.Hour), 3)))

	assert.Equal(t, 1, idx.Len())
	got, err := idx.Lookup(0.2, LookupOptions{})
	require.NoError(t, err)
	assert.Equal(t, t0.Add(time.Hour), got.AcquiredAt)
}

func TestGet(t *testing.T) {
	idx := populatedIndex(t)

	got, err := idx.Get("t3")
	require.NoError(t, err)
	assert.Equal(t, "t3-0.5", got.ID)

	_, err = idx.Get("zz")
	assert.ErrorIs(t, err, ErrNoDarkAvailable)

	rs := idx.Records()
	require.Len(t, rs, 4)
	assert.Equal(t, "t4-0.2", rs[0].ID)
	assert.Equal(t, "t1-0.1", rs[3].ID)
}

func TestRebuildFromDir(t *testing.T) {
	dir := t.TempDir()
	for _, r := range []*ExposureRecord{
		darkRecord("older02", 0.2, t0, 3),
		darkRecord("newer02", 0.2, t0.Add(time.Hour), 3),
	} {
		_, err := SaveDarkStack(r, dir, 1)
		require.NoError(t, err)
	}
	// a light stack in the dark directory is ignored
	require.NoError(t, WriteStack(filepath.Join(dir, "light.fits"), lightRecord("light01", 0.2, 2, 1)))
	// so is garbage
	require.NoError(t, os.WriteFile(filepath.Join(dir, "junk.fits"), []byte("not fits"), 0o600))

	idx := NewDarkIndex(DirSource{Dir: dir})
	require.NoError(t, idx.Register(darkRecord("stale", 0.2, t0.Add(48*time.Hour), 3)))
	require.NoError(t, idx.Rebuild(context.Background()))

	assert.Equal(t, 2, idx.Len())
	got, err := idx.Lookup(0.2, LookupOptions{})
	require.NoError(t, err)
	assert.Equal(t, "newer02", got.ID)
	assert.Equal(t, 3, got.FrameCount())
}

func TestRebuildUnavailable(t *testing.T) {
	idx := NewDarkIndex(DirSource{Dir: filepath.Join(t.TempDir(), "missing")})
	require.NoError(t, idx.Register(darkRecord("kept", 0.2, t0, 3)))

	assert.ErrorIs(t, idx.Rebuild(context.Background()), ErrIndexUnavailable)
	// a failed rebuild leaves the index as it was
	assert.Equal(t, 1, idx.Len())

	assert.ErrorIs(t, NewDarkIndex(nil).Rebuild(context.Background()), ErrIndexUnavailable)
}

type fakeSource struct {
	mu    sync.Mutex
	calls int
	rs    []*ExposureRecord
	err   error
}

func (f *fakeSource) Darks(context.Context) ([]*ExposureRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.rs, f.err
}

func TestLookupDuringRebuild(t *testing.T) {
	src := &fakeSource{rs: []*ExposureRecord{darkRecord("d1", 0.2, t0, 2)}}
	idx := NewDarkIndex(src)
	require.NoError(t, idx.Rebuild(context.Background()))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			assert.NoError(t, idx.Rebuild(context.Background()))
		}()
		go func() {
			defer wg.Done()
			_, err := idx.Lookup(0.2, LookupOptions{})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, src.calls)

	src.err = errors.New("registry down")
	assert.ErrorIs(t, idx.Rebuild(context.Background()), ErrIndexUnavailable)
}
