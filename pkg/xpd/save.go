package xpd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"k8s.io/klog/v2"
)

// Tagger attaches run metadata to a saved image.
type Tagger interface {
	Tag(path string, r *ExposureRecord) error
}

// SaveOptions controls how a light stack is corrected and written.
type SaveOptions struct {
	OutDir string
	Mode   Mode

	// FeatureKeys name the metadata fields that describe the run in file names.
	FeatureKeys []string
	// Name overrides the generated base name when set.
	Name string

	// DarkID selects a specific dark stack by id prefix instead of a lookup.
	DarkID string
	Lookup LookupOptions

	// Tagger, if set, is applied to every written image.
	Tagger Tagger
}

// Saved describes the files written for one light stack.
type Saved struct {
	Light          *ExposureRecord
	Dark           *ExposureRecord
	DarkFramesUsed int
	Images         []string
	Config         string
}

// SaveCorrected dark-corrects a light stack and writes the result as TIFF files.
//
// Nothing is written if dark selection or correction fails. Names are deterministic,
// so saving the same stack again overwrites the same files.
func SaveCorrected(light *ExposureRecord, idx *DarkIndex, o SaveOptions) (*Saved, error) {
	if o.OutDir == "" {
		return nil, fmt.Errorf("no output directory")
	}
	if o.FeatureKeys == nil {
		o.FeatureKeys = DefaultFeatureKeys
	}

	var dark *ExposureRecord
	var err error
	if o.DarkID != "" {
		dark, err = idx.Get(o.DarkID)
	} else {
		dark, err = idx.Lookup(light.ExposureTime, o.Lookup)
	}
	if err != nil {
		return nil, fmt.Errorf("select dark for %s: %w", light.ID, err)
	}
	klog.Infof("using dark %s for %s", dark, light)

	c, err := Correct(light, dark, o.Mode)
	if err != nil {
		return nil, fmt.Errorf("correct %s: %w", light.ID, err)
	}
	klog.Infof("%d dark frames applied to %s", c.DarkFramesUsed, light.ID)

	if err := os.MkdirAll(o.OutDir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir: %w", err)
	}

	s := &Saved{Light: light, Dark: dark, DarkFramesUsed: c.DarkFramesUsed}
	names := imageNames(light, o)
	for i, fr := range c.Frames {
		p := filepath.Join(o.OutDir, names[i])
		if err := WriteTIFF(p, fr); err != nil {
			return s, fmt.Errorf("write %s: %w", p, err)
		}
		klog.Infof("dark corrected image %q has been saved at %q", names[i], o.OutDir)
		s.Images = append(s.Images, p)

		if o.Tagger != nil {
			if err := o.Tagger.Tag(p, light); err != nil {
				return s, fmt.Errorf("tag %s: %w", p, err)
			}
		}
	}

	if cal := light.Meta.Calibration; cal != nil {
		base := o.Name
		if base == "" {
			base = NameFor(light, o.FeatureKeys, "", "")
		}
		p := filepath.Join(o.OutDir, "config_"+base+CalibrationExt)
		if err := WriteConfig(p, calibrationSections(cal)); err != nil {
			return s, fmt.Errorf("write config: %w", err)
		}
		s.Config = p
	}

	return s, nil
}

func imageNames(light *ExposureRecord, o SaveOptions) []string {
	const ext = ".tif"
	if o.Mode == Sum {
		if o.Name != "" {
			return []string{o.Name + ext}
		}
		return []string{NameFor(light, o.FeatureKeys, "", ext)}
	}

	names := make([]string, light.FrameCount())
	for i := range names {
		suffix := FrameSuffix(i)
		if len(light.MotorValues) == light.FrameCount() {
			suffix = MotorSuffix(light.MotorValues[i], light.MotorUnit) + "_" + suffix
		}
		if o.Name != "" {
			names[i] = o.Name + "_" + suffix + ext
			continue
		}
		names[i] = NameFor(light, o.FeatureKeys, suffix, ext)
	}
	return names
}

func calibrationSections(c *Calibration) map[string]map[string]string {
	out := map[string]map[string]string{
		"calibration_information": {
			"from_calibration_file":    c.File,
			"calib_file_creation_date": c.CreatedAt.Format(time.RFC3339),
		},
	}
	for n, kv := range c.Sections {
		out[n] = kv
	}
	return out
}

// SaveDarkStack stores a dark stack in dir under its canonical name and writes TIFF
// previews of its last previews frames. It returns the stack path.
func SaveDarkStack(r *ExposureRecord, dir string, previews int) (string, error) {
	if err := validateDark(r); err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir: %w", err)
	}

	p := filepath.Join(dir, NameFor(r, nil, "dark", StackExt))
	if err := WriteStack(p, r); err != nil {
		return "", fmt.Errorf("write stack: %w", err)
	}
	klog.Infof("dark stack %s (%d frames) saved to %s", r.ID, r.FrameCount(), p)

	n := r.FrameCount()
	for i := max(0, n-previews); i < n; i++ {
		pp := filepath.Join(dir, NameFor(r, nil, "dark_"+FrameSuffix(i), ".tif"))
		if err := WriteTIFF(pp, r.Frames[i]); err != nil {
			return p, fmt.Errorf("write preview: %w", err)
		}
	}
	return p, nil
}
