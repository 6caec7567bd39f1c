package camera

import (
	"errors"
	"fmt"
)

// ErrNotAvailable indicates the camera hardware is missing or not yet configured.
var ErrNotAvailable = errors.New("camera not available")

// ValidationError reports an input that failed range or enum validation.
// It is always raised before any hardware call is made.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// HardwareError reports a well-formed request that the camera or encoder
// rejected, e.g. a control unsupported on this libcamera version.
type HardwareError struct {
	Op  string
	Err error
}

func (e *HardwareError) Error() string {
	return fmt.Sprintf("hardware rejected %s: %v", e.Op, e.Err)
}

func (e *HardwareError) Unwrap() error {
	return e.Err
}

// IsValidation reports whether err is a validation failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsHardware reports whether err is a hardware rejection.
func IsHardware(err error) bool {
	var he *HardwareError
	return errors.As(err, &he)
}
