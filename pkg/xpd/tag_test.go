package xpd

import (
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExifTagger(t *testing.T) {
	if _, err := exec.LookPath("exiftool"); err != nil {
		t.Skip("exiftool not installed")
	}

	tg, err := NewExifTagger()
	require.NoError(t, err)
	defer tg.Close()

	p := filepath.Join(t.TempDir(), "frame.tif")
	require.NoError(t, WriteTIFF(p, constFrames(1, 4, 4, 9)[0]))

	id, err := tg.TaggedID(p)
	require.NoError(t, err)
	assert.Empty(t, id)

	r := lightRecord("c0ffee42", 0.5, 1, 1)
	require.NoError(t, tg.Tag(p, r))

	id, err = tg.TaggedID(p)
	require.NoError(t, err)
	assert.Equal(t, "c0ffee42", id)
}
