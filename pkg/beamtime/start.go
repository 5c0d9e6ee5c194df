package beamtime

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/karrick/godirwalk"
	"k8s.io/klog/v2"
)

// Start prepares the working directories for a new beamtime.
//
// It fails with ErrNotEmpty, without creating anything, if the base directory holds
// anything besides the empty working directories. Missing directories are created.
func Start(c *Config) error {
	spurious, err := spuriousEntries(c)
	if err != nil {
		return err
	}
	if len(spurious) > 0 {
		return fmt.Errorf("%w: %s has unknown files:\n  %s", ErrNotEmpty, c.BaseDir, strings.Join(spurious, "\n  "))
	}

	for _, d := range append([]string{c.BaseDir}, c.WorkDirs()...) {
		if st, err := os.Stat(d); err == nil && st.IsDir() {
			continue
		}
		klog.Infof("creating %s", d)
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("mkdir: %w", err)
		}
	}
	return nil
}

// spuriousEntries lists everything below the base directory that is not a working directory.
func spuriousEntries(c *Config) ([]string, error) {
	if _, err := os.Stat(c.BaseDir); os.IsNotExist(err) {
		return nil, nil
	}

	allowed := map[string]bool{filepath.Clean(c.BaseDir): true}
	for _, d := range c.WorkDirs() {
		allowed[filepath.Clean(d)] = true
	}

	spurious := []string{}
	err := godirwalk.Walk(c.BaseDir, &godirwalk.Options{
		Callback: func(path string, de *godirwalk.Dirent) error {
			if allowed[filepath.Clean(path)] {
				if !de.IsDir() {
					spurious = append(spurious, path)
				}
				return nil
			}
			spurious = append(spurious, path)
			if de.IsDir() {
				return godirwalk.SkipThis
			}
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", c.BaseDir, err)
	}
	return spurious, nil
}
