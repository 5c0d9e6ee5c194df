package xpd

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/ini.v1"
	"k8s.io/klog/v2"
)

// CalibrationExt is the extension of calibration config files.
var CalibrationExt = ".cfg"

// Calibration is a calibration config file carried with run metadata.
// Its contents are kept as opaque sections of key/value pairs.
type Calibration struct {
	File      string
	CreatedAt time.Time
	Sections  map[string]map[string]string
}

// LoadCalibration reads a calibration file from dir. When file is empty the most
// recently modified config file in dir is used.
func LoadCalibration(dir string, file string) (*Calibration, error) {
	path := filepath.Join(dir, file)
	if file == "" {
		latest, err := latestConfig(dir)
		if err != nil {
			return nil, err
		}
		path = latest
		klog.Infof("using %s, the most recent config file found", path)
	}

	st, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoCalibration, err)
	}

	f, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	c := &Calibration{
		File:      filepath.Base(path),
		CreatedAt: st.ModTime(),
		Sections:  map[string]map[string]string{},
	}
	for _, s := range f.Sections() {
		kv := s.KeysHash()
		if s.Name() == ini.DefaultSection && len(kv) == 0 {
			continue
		}
		c.Sections[s.Name()] = kv
	}
	return c, nil
}

func latestConfig(dir string) (string, error) {
	des, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrNoCalibration, err)
	}

	var latest string
	var latestTime time.Time
	for _, de := range des {
		if de.IsDir() || !strings.HasSuffix(de.Name(), CalibrationExt) {
			continue
		}
		fi, err := de.Info()
		if err != nil {
			return "", fmt.Errorf("stat: %w", err)
		}
		if latest == "" || fi.ModTime().After(latestTime) {
			latest = filepath.Join(dir, de.Name())
			latestTime = fi.ModTime()
		}
	}

	if latest == "" {
		return "", fmt.Errorf("%w: no %s files in %s", ErrNoCalibration, CalibrationExt, dir)
	}
	return latest, nil
}

// WriteConfig writes sections as an INI file at path, with sections and keys sorted.
func WriteConfig(path string, sections map[string]map[string]string) error {
	f := ini.Empty()

	names := make([]string, 0, len(sections))
	for n := range sections {
		names = append(names, n)
	}
	sort.Strings(names)

	for _, n := range names {
		s, err := f.NewSection(n)
		if err != nil {
			return fmt.Errorf("section %q: %w", n, err)
		}
		keys := make([]string, 0, len(sections[n]))
		for k := range sections[n] {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if _, err := s.NewKey(k, sections[n][k]); err != nil {
				return fmt.Errorf("key %q: %w", k, err)
			}
		}
	}

	if err := f.SaveTo(path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return VerifyWritten(path)
}
