package xpd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/astrogo/fitsio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestStackRoundTrip(t *testing.T) {
	r := lightRecord("9f8e7d6c", 0.5, 3, 0)
	for k, f := range r.Frames {
		rows, cols := f.Dims()
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				f.Set(i, j, float64(100*k+10*i+j)+0.25)
			}
		}
	}
	r.MotorValues = []float64{300, 310, 320.5}
	r.MotorUnit = "K"
	r.Meta.SAF = "300123"
	r.Meta.Composition = "Ni"

	p := filepath.Join(t.TempDir(), "stack.fits")
	require.NoError(t, WriteStack(p, r))
	assert.NoFileExists(t, p+".part")

	got, err := ReadStack(p)
	require.NoError(t, err)

	assert.Equal(t, r.ID, got.ID)
	assert.True(t, r.AcquiredAt.Equal(got.AcquiredAt))
	assert.Equal(t, 0.5, got.ExposureTime)
	assert.False(t, got.IsDark)
	assert.Equal(t, r.Meta.SampleName, got.Meta.SampleName)
	assert.Equal(t, r.Meta.Experimenters, got.Meta.Experimenters)
	assert.Equal(t, "300123", got.Meta.SAF)
	assert.Equal(t, "Ni", got.Meta.Composition)
	assert.Equal(t, r.MotorValues, got.MotorValues)
	assert.Equal(t, "K", got.MotorUnit)
	assert.Equal(t, p, got.Path)

	require.Equal(t, 3, got.FrameCount())
	for k := range r.Frames {
		assert.True(t, mat.Equal(r.Frames[k], got.Frames[k]), "frame %d differs", k)
	}
	assert.Equal(t, 123.25, got.Frames[1].At(2, 3))
}

func TestReadStackWithoutID(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "external.fits")

	f, err := os.Create(p)
	require.NoError(t, err)
	cards := []fitsio.Card{
		{Name: cardExposure, Value: 0.2},
		{Name: cardDark, Value: true},
	}
	require.NoError(t, writeCube(f, cards, make([]float64, 2*3*2), 3, 2, 2))
	require.NoError(t, f.Close())

	a, err := ReadStack(p)
	require.NoError(t, err)
	b, err := ReadStack(p)
	require.NoError(t, err)

	assert.NotEmpty(t, a.ID)
	assert.Equal(t, a.ID, b.ID, "ids derived from the path are stable")
	assert.True(t, a.IsDark)
	assert.Equal(t, 0.2, a.ExposureTime)
	assert.False(t, a.AcquiredAt.IsZero())

	rows, cols := a.Shape()
	assert.Equal(t, 2, rows)
	assert.Equal(t, 3, cols)
}

func TestWriteStackRejectsInvalid(t *testing.T) {
	r := lightRecord("x", 0.5, 2, 1)
	r.Frames[1] = mat.NewDense(2, 2, nil)

	p := filepath.Join(t.TempDir(), "bad.fits")
	assert.ErrorIs(t, WriteStack(p, r), ErrInvalidRecord)
	assert.NoFileExists(t, p)
}

func TestReadStackScaledIntegers(t *testing.T) {
	p := filepath.Join(t.TempDir(), "detector.fits")
	f, err := os.Create(p)
	require.NoError(t, err)

	ff, err := fitsio.Create(f)
	require.NoError(t, err)
	im := fitsio.NewImage(16, []int{3, 2, 2})
	require.NoError(t, im.Header().Append(
		fitsio.Card{Name: "BZERO", Value: 32768},
		fitsio.Card{Name: "BSCALE", Value: 1.},
		fitsio.Card{Name: cardExposure, Value: 0.1},
	))
	data := make([]int16, 3*2*2)
	for i := range data {
		data[i] = int16(i*1000 - 32768)
	}
	require.NoError(t, im.Write(data))
	require.NoError(t, ff.Write(im))
	require.NoError(t, im.Close())
	require.NoError(t, ff.Close())
	require.NoError(t, f.Close())

	r, err := ReadStack(p)
	require.NoError(t, err)
	require.Equal(t, 2, r.FrameCount())
	rows, cols := r.Shape()
	assert.Equal(t, 2, rows)
	assert.Equal(t, 3, cols)
	assert.Equal(t, 0.0, r.Frames[0].At(0, 0))
	assert.Equal(t, 5000.0, r.Frames[0].At(1, 2))
	assert.Equal(t, 11000.0, r.Frames[1].At(1, 2))
}

func TestWriteRemovesPartialOnRename(t *testing.T) {
	tests := []struct {
		name  string
		write func(p string) error
	}{
		{name: "stack", write: func(p string) error { return WriteStack(p, darkRecord("d1", 0.5, t0, 2)) }},
		{name: "tiff", write: func(p string) error { return WriteTIFF(p, mat.NewDense(2, 2, nil)) }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			// a non-empty directory in the way makes the final rename fail
			p := filepath.Join(t.TempDir(), "out")
			require.NoError(t, os.MkdirAll(filepath.Join(p, "taken"), 0o755))

			err := tc.write(p)
			require.ErrorContains(t, err, "rename")
			assert.NoFileExists(t, p+".part")
			assert.DirExists(t, filepath.Join(p, "taken"))
		})
	}
}

func TestVerifyWritten(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "x.tif")
	require.NoError(t, os.WriteFile(file, []byte("II*"), 0o644))

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{name: "file", path: file},
		{name: "missing", path: filepath.Join(dir, "gone.tif"), wantErr: true},
		{name: "directory", path: dir, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := VerifyWritten(tc.path)
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrWriteVerification)
				return
			}
			assert.NoError(t, err)
		})
	}
}
