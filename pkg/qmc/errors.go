package qmc

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument is returned for malformed inputs, like a negative length or a missing input directory.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrMaskTooShort is returned when data extends past the end of the available mask.
	ErrMaskTooShort = errors.New("mask is shorter than data")
	// ErrOversizedInput is reported for input files larger than the available mask.
	// It matches ErrMaskTooShort with errors.Is.
	ErrOversizedInput = fmt.Errorf("%w: input exceeds the supported size", ErrMaskTooShort)
	// ErrOutputConflict is returned when the output directory is in use and replacing it wasn't requested.
	ErrOutputConflict = errors.New("output directory already exists and is not empty")
	// ErrInvalidState is returned when a persisted State is malformed or isn't a real scan position.
	ErrInvalidState = errors.New("invalid mask generator state")
)
