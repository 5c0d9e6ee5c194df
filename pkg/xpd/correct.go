package xpd

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"k8s.io/klog/v2"
)

// Mode selects how light frames are combined during correction.
type Mode int

const (
	// Sum adds the light frames together and subtracts the dark signal once.
	Sum Mode = iota
	// PerFrame corrects every light frame separately.
	PerFrame
)

func (m Mode) String() string {
	switch m {
	case Sum:
		return "sum"
	case PerFrame:
		return "per-frame"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Correction is the result of dark-subtracting a light stack.
type Correction struct {
	// Frames holds one frame in Sum mode, or one per light frame in PerFrame mode.
	Frames         []*mat.Dense
	DarkFramesUsed int
	Mode           Mode
}

// DarkFramesUsed returns how many of the most recent dark frames make up the dark
// signal for one light frame: round(light/dark exposure), clamped to [1, dark frames].
func DarkFramesUsed(light, dark *ExposureRecord) (int, error) {
	if light.ExposureTime <= 0 {
		return 0, fmt.Errorf("%w: light %s has %gs", ErrZeroExposure, light.ID, light.ExposureTime)
	}
	if dark.ExposureTime <= 0 {
		return 0, fmt.Errorf("%w: dark %s has %gs", ErrZeroExposure, dark.ID, dark.ExposureTime)
	}

	// clamp before converting, the ratio can exceed any int
	ratio := math.Round(light.ExposureTime / dark.ExposureTime)
	switch {
	case ratio >= float64(dark.FrameCount()):
		return dark.FrameCount(), nil
	case ratio < 1:
		return 1, nil
	}
	return int(ratio), nil
}

// Correct subtracts the dark signal of dark from the frames of light.
//
// The dark signal is the sum of the last DarkFramesUsed frames of the dark stack.
// Neither record is modified.
func Correct(light, dark *ExposureRecord, mode Mode) (*Correction, error) {
	if err := light.Validate(); err != nil {
		return nil, fmt.Errorf("light: %w", err)
	}
	if err := dark.Validate(); err != nil {
		return nil, fmt.Errorf("dark: %w", err)
	}

	n, err := DarkFramesUsed(light, dark)
	if err != nil {
		return nil, err
	}

	lr, lc := light.Shape()
	dr, dc := dark.Shape()
	if lr != dr || lc != dc {
		return nil, fmt.Errorf("%w: light %s is %dx%d, dark %s is %dx%d", ErrShapeMismatch, light.ID, lr, lc, dark.ID, dr, dc)
	}

	klog.V(1).Infof("correcting %s with last %d frames of %s (%s)", light, n, dark, mode)

	signal := mat.NewDense(dr, dc, nil)
	for _, f := range dark.Frames[dark.FrameCount()-n:] {
		signal.Add(signal, f)
	}

	c := &Correction{DarkFramesUsed: n, Mode: mode}
	switch mode {
	case Sum:
		total := mat.NewDense(lr, lc, nil)
		for _, f := range light.Frames {
			total.Add(total, f)
		}
		total.Sub(total, signal)
		c.Frames = []*mat.Dense{total}
	case PerFrame:
		for _, f := range light.Frames {
			out := mat.NewDense(lr, lc, nil)
			out.Sub(f, signal)
			c.Frames = append(c.Frames, out)
		}
	default:
		return nil, fmt.Errorf("unknown mode: %v", mode)
	}

	return c, nil
}
