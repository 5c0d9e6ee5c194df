package beamtime

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var july = time.Date(2016, 7, 21, 9, 30, 0, 0, time.UTC)

// scripted answers questions in order and fails once it runs out.
type scripted struct {
	answers []string
	asked   []string
}

func (s *scripted) Ask(q string) (string, error) {
	s.asked = append(s.asked, q)
	if len(s.answers) == 0 {
		return "", errors.Join(ErrAborted, errors.New("no scripted answer"))
	}
	a := s.answers[0]
	s.answers = s.answers[1:]
	return a, nil
}

func testConfig(t *testing.T) *Config {
	t.Helper()
	root := t.TempDir()
	return &Config{
		BaseDir:     filepath.Join(root, "xpdUser"),
		ArchiveRoot: filepath.Join(root, "pe1_data"),
		FeatureKeys: []string{"sample_name"},
	}
}

// populate creates the working directories with one file each.
func populate(t *testing.T, c *Config) {
	t.Helper()
	for _, d := range c.WorkDirs() {
		require.NoError(t, os.MkdirAll(d, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(d, filepath.Base(d)+".dat"), []byte(d), 0o644))
	}
}

// listing returns every path below dir, relative to it.
func listing(t *testing.T, dir string) []string {
	t.Helper()
	var got []string
	err := filepath.WalkDir(dir, func(p string, _ os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		if rel != "." {
			got = append(got, filepath.ToSlash(rel))
		}
		return nil
	})
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	return got
}
