package xpd

import (
	"fmt"
	"strings"

	"github.com/barasher/go-exiftool"
	"k8s.io/klog/v2"
)

var exifDate = "2006:01:02 15:04:05"

// ExifTagger writes run metadata into saved images with exiftool.
type ExifTagger struct {
	et *exiftool.Exiftool
}

// NewExifTagger starts an exiftool process.
func NewExifTagger() (*ExifTagger, error) {
	et, err := exiftool.NewExiftool()
	if err != nil {
		return nil, fmt.Errorf("exiftool: %w", err)
	}
	return &ExifTagger{et: et}, nil
}

// Tag records the sample, experimenters, run id, acquisition time and exposure in path.
func (t *ExifTagger) Tag(path string, r *ExposureRecord) error {
	fms := t.et.ExtractMetadata(path)
	if len(fms) == 0 {
		return fmt.Errorf("no metadata for %s", path)
	}
	fm := fms[0]
	if fm.Err != nil {
		return fmt.Errorf("extract fail for %q: %w", path, fm.Err)
	}

	desc := r.Meta.SampleName
	if r.Meta.Composition != "" {
		desc = fmt.Sprintf("%s (%s)", desc, r.Meta.Composition)
	}
	fm.SetString("ImageDescription", desc)
	fm.SetString("Artist", strings.Join(r.Meta.Experimenters, ", "))
	fm.SetString("ImageUniqueID", r.ID)
	fm.SetString("DateTimeOriginal", r.AcquiredAt.Format(exifDate))
	fm.SetFloat("ExposureTime", r.ExposureTime)

	fms[0] = fm
	t.et.WriteMetadata(fms)
	if fms[0].Err != nil {
		return fmt.Errorf("write metadata for %s: %w", path, fms[0].Err)
	}
	klog.V(1).Infof("tagged %s with %s", path, r.ID)
	return nil
}

// TaggedID returns the run id recorded in path, or "" if there is none.
func (t *ExifTagger) TaggedID(path string) (string, error) {
	fms := t.et.ExtractMetadata(path)
	if len(fms) == 0 {
		return "", fmt.Errorf("no metadata for %s", path)
	}
	if fms[0].Err != nil {
		return "", fmt.Errorf("extract fail for %q: %w", path, fms[0].Err)
	}
	id, err := fms[0].GetString("ImageUniqueID")
	if err != nil {
		return "", nil
	}
	return id, nil
}

// Close stops the exiftool process.
func (t *ExifTagger) Close() error {
	return t.et.Close()
}
