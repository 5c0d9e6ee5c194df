// Package xpd provides dark-current correction, output naming and file output
// for area detector exposures taken at a powder diffraction beamline.
package xpd

import "errors"

var (
	// ErrInvalidRecord is returned for records that cannot be used, such as a light stack registered as a dark.
	ErrInvalidRecord = errors.New("invalid exposure record")
	// ErrNoDarkAvailable is returned when no dark stack satisfies a lookup.
	ErrNoDarkAvailable = errors.New("no dark stack available")
	// ErrIndexUnavailable is returned when the dark index backing store cannot be read.
	ErrIndexUnavailable = errors.New("dark index unavailable")
	// ErrShapeMismatch is returned when light and dark frames differ in dimensions.
	ErrShapeMismatch = errors.New("frame shape mismatch")
	// ErrZeroExposure is returned for non-positive exposure times.
	ErrZeroExposure = errors.New("exposure time must be positive")
	// ErrWriteVerification is returned when a written file is missing afterwards.
	ErrWriteVerification = errors.New("file not found after write")
	// ErrNoCalibration is returned when no calibration file can be found.
	ErrNoCalibration = errors.New("no calibration file")
)
