package beamtime

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xpdacq/xpdacq/pkg/xpd"
)

func TestSessionRoundTrip(t *testing.T) {
	c := testConfig(t)
	require.NoError(t, os.MkdirAll(c.BaseDir, 0o755))

	s, err := LoadSession(c)
	require.NoError(t, err)
	assert.Nil(t, s)

	want := &Session{SAF: "300123", PI: "Billinge", Experimenters: []string{"Billinge", "Tim"}, StartedAt: july}
	require.NoError(t, SaveSession(c, want))

	got, err := LoadSession(c)
	require.NoError(t, err)
	assert.Equal(t, want.SAF, got.SAF)
	assert.Equal(t, want.Experimenters, got.Experimenters)
	assert.True(t, want.StartedAt.Equal(got.StartedAt))
}

func TestLoadSessionCorrupt(t *testing.T) {
	c := testConfig(t)
	require.NoError(t, os.MkdirAll(c.BaseDir, 0o755))
	require.NoError(t, os.WriteFile(SessionPath(c), []byte("saf: [unterminated"), 0o644))

	_, err := LoadSession(c)
	assert.Error(t, err)
}

func TestPromptSession(t *testing.T) {
	p := &scripted{answers: []string{" 300123", "Billinge ", "Tim, , Billinge,Max"}}
	s, err := PromptSession(p, july)
	require.NoError(t, err)
	assert.Equal(t, "300123", s.SAF)
	assert.Equal(t, "Billinge", s.PI)
	assert.Equal(t, []string{"Billinge", "Tim", "Max"}, s.Experimenters)
	assert.Equal(t, july, s.StartedAt)

	_, err = PromptSession(&scripted{answers: []string{"300123"}}, july)
	assert.ErrorIs(t, err, ErrAborted)
}

func TestSessionApply(t *testing.T) {
	s := &Session{SAF: "300123", PI: "Billinge", Experimenters: []string{"Billinge", "Tim"}}

	m := &xpd.RunMetadata{SampleName: "Ni", PI: "Someone"}
	s.Apply(m)
	assert.Equal(t, "300123", m.SAF)
	assert.Equal(t, "Someone", m.PI, "acquisition metadata wins")
	assert.Equal(t, []string{"Billinge", "Tim"}, m.Experimenters)

	m.Experimenters[0] = "changed"
	assert.Equal(t, "Billinge", s.Experimenters[0])

	var none *Session
	none.Apply(m)
}

func TestSaveSessionChecksFile(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(t *testing.T, c *Config)
		wantErr bool
	}{
		{name: "written", prepare: func(*testing.T, *Config) {}},
		{name: "directory in the way", prepare: func(t *testing.T, c *Config) {
			require.NoError(t, os.MkdirAll(SessionPath(c), 0o755))
		}, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := testConfig(t)
			require.NoError(t, os.MkdirAll(c.BaseDir, 0o755))
			tc.prepare(t, c)

			err := SaveSession(c, &Session{SAF: "300123"})
			if tc.wantErr {
				assert.Error(t, err)
				assert.DirExists(t, SessionPath(c))
				return
			}
			require.NoError(t, err)
			assert.FileExists(t, SessionPath(c))
		})
	}
}
