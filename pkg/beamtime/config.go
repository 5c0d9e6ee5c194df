// Package beamtime handles the start and end of a beamtime: preparing the
// working directories and archiving them once the users leave.
package beamtime

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"k8s.io/klog/v2"
)

// Working directory names below the base directory.
const (
	TifDir    = "tif_base"
	DarkDir   = "dark_base"
	ConfigDir = "config_base"
	ScriptDir = "script_base"
)

// Config holds configuration for beamtime tooling.
type Config struct {
	// BaseDir holds the four working directories.
	BaseDir string
	// ArchiveRoot receives the working directories at the end of a beamtime.
	ArchiveRoot string
	// CatalogPath is the run catalog database.
	CatalogPath string
	// FeatureKeys name the metadata fields used in output file names.
	FeatureKeys []string
}

// Tif is the folder for dark-corrected images.
func (c *Config) Tif() string { return filepath.Join(c.BaseDir, TifDir) }

// Dark is the folder for dark stacks.
func (c *Config) Dark() string { return filepath.Join(c.BaseDir, DarkDir) }

// Calibrations is the folder for calibration files.
func (c *Config) Calibrations() string { return filepath.Join(c.BaseDir, ConfigDir) }

// Script is the folder for experiment scripts.
func (c *Config) Script() string { return filepath.Join(c.BaseDir, ScriptDir) }

// WorkDirs returns the four working directories in archive order.
func (c *Config) WorkDirs() []string {
	return []string{c.Tif(), c.Dark(), c.Calibrations(), c.Script()}
}

// LoadConfig builds a Config from defaults, an optional YAML file at path and
// XPD_* environment variables, in increasing order of precedence.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	v.SetDefault("base_dir", filepath.Join(home, "xpdUser"))
	v.SetDefault("archive_root", "/tmp/pe1_data")
	v.SetDefault("catalog_path", filepath.Join(home, ".xpdacq", "catalog.db"))
	v.SetDefault("feature_keys", []string{"sample_name", "experimenters"})

	v.SetEnvPrefix("XPD")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		klog.V(1).Infof("loaded config from %s", v.ConfigFileUsed())
	}

	c := &Config{
		BaseDir:     expandHome(v.GetString("base_dir"), home),
		ArchiveRoot: expandHome(v.GetString("archive_root"), home),
		CatalogPath: expandHome(v.GetString("catalog_path"), home),
		FeatureKeys: v.GetStringSlice("feature_keys"),
	}
	if c.BaseDir == "" {
		return nil, fmt.Errorf("base_dir is empty")
	}
	if c.ArchiveRoot == "" {
		return nil, fmt.Errorf("archive_root is empty")
	}
	return c, nil
}

func expandHome(p string, home string) string {
	if p == "~" {
		return home
	}
	if strings.HasPrefix(p, "~/") {
		return filepath.Join(home, p[2:])
	}
	return p
}
