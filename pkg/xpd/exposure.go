package xpd

import (
	"fmt"
	"strings"
	"time"

	"gonum.org/v1/gonum/mat"
)

// RunMetadata is the experiment metadata attached to a single exposure.
type RunMetadata struct {
	SampleName    string
	Experimenters []string
	PI            string
	SAF           string
	Composition   string
	Comments      map[string]string
	// Extra holds free-form fields supplied by the acquisition side.
	Extra map[string]string

	Calibration *Calibration
}

// Field returns the value stored under a feature key, and whether it was set.
func (m RunMetadata) Field(key string) (string, bool) {
	var v string
	switch key {
	case "sample_name", "sample":
		v = m.SampleName
	case "experimenters":
		v = strings.Join(m.Experimenters, "_")
	case "pi_name", "pi":
		v = m.PI
	case "saf", "SAF_num", "saf_number":
		v = m.SAF
	case "composition":
		v = m.Composition
	default:
		if c, ok := strings.CutPrefix(key, "comments."); ok {
			v = m.Comments[c]
		} else {
			v = m.Extra[key]
		}
	}
	return v, v != ""
}

// ExposureRecord is one acquired frame stack.
type ExposureRecord struct {
	ID         string
	AcquiredAt time.Time
	// ExposureTime is the per-frame exposure in seconds.
	ExposureTime float64
	IsDark       bool
	Frames       []*mat.Dense

	// MotorValues optionally holds one motor position per frame, e.g. a temperature ramp.
	MotorValues []float64
	MotorUnit   string

	Meta RunMetadata

	// Path is the file the record was read from, if any.
	Path string
}

// FrameCount returns the number of frames in the stack.
func (r *ExposureRecord) FrameCount() int {
	return len(r.Frames)
}

// Shape returns the rows and columns of the first frame.
func (r *ExposureRecord) Shape() (int, int) {
	if len(r.Frames) == 0 {
		return 0, 0
	}
	return r.Frames[0].Dims()
}

// Validate checks that the record has at least one frame and that all frames share a shape.
func (r *ExposureRecord) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidRecord)
	}
	if len(r.Frames) < 1 {
		return fmt.Errorf("%w: %s has no frames", ErrInvalidRecord, r.ID)
	}
	rows, cols := r.Shape()
	for i, f := range r.Frames {
		fr, fc := f.Dims()
		if fr != rows || fc != cols {
			return fmt.Errorf("%w: %s frame %d is %dx%d, frame 0 is %dx%d", ErrInvalidRecord, r.ID, i, fr, fc, rows, cols)
		}
	}
	if len(r.MotorValues) > 0 && len(r.MotorValues) != len(r.Frames) {
		return fmt.Errorf("%w: %s has %d motor values for %d frames", ErrInvalidRecord, r.ID, len(r.MotorValues), len(r.Frames))
	}
	return nil
}

func (r *ExposureRecord) String() string {
	kind := "light"
	if r.IsDark {
		kind = "dark"
	}
	return fmt.Sprintf("%s[%s %gs x%d @ %s]", kind, r.ID, r.ExposureTime, len(r.Frames), r.AcquiredAt.Format(time.RFC3339))
}
