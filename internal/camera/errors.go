package camera

import (
	"errors"
	"fmt"
	"strings"
)

// Domain errors for the camera engine.
var (
	// ErrTransport wraps any failure reported by the transport adapter.
	ErrTransport = errors.New("camera: transport error")

	// ErrWorkerGone is returned when the serializer worker has stopped.
	// No further transactions are possible on that Interface.
	ErrWorkerGone = errors.New("camera: interface worker gone")

	// ErrGuardReleased is returned when a Guard is used after Release.
	ErrGuardReleased = errors.New("camera: guard already released")

	// ErrConvergenceTimeout is returned when Ensure exhausts its attempt
	// budget without observing the target value.
	ErrConvergenceTimeout = errors.New("camera: property did not converge")

	// ErrConfirmationTimeout is returned when a capture was exposed but
	// neither a capture event nor a file info change was observed in time.
	ErrConfirmationTimeout = errors.New("camera: capture confirmation timed out")

	// ErrCaptureFailed is returned when the device reports a failed
	// capture in its capture-complete event.
	ErrCaptureFailed = errors.New("camera: device reported capture failure")

	// ErrAutofocusFailed is returned when the device reports an autofocus
	// warning or focus never settles.
	ErrAutofocusFailed = errors.New("camera: autofocus failed")

	// ErrSettingFailed is returned when the device raises the
	// setting-failure caution flag while a property is being applied.
	ErrSettingFailed = errors.New("camera: device reported setting failure")

	// ErrUnknownProperty is returned when a property has never been
	// reported by the device.
	ErrUnknownProperty = errors.New("camera: property not observed")

	// ErrInvalidValue is returned when a request carries a value that
	// cannot be applied.
	ErrInvalidValue = errors.New("camera: invalid value")

	// ErrNoStorage is returned when the card storage never appears.
	ErrNoStorage = errors.New("camera: storage not available")

	// ErrEngineStopped is returned when a request is submitted to an
	// engine that is not running.
	ErrEngineStopped = errors.New("camera: engine stopped")
)

// CaptureError is a capture the device rejected. Caution holds the
// caution flags read right after the failure.
type CaptureError struct {
	Caution uint16
}

func (e *CaptureError) Error() string {
	if flags := CautionFlags(e.Caution); len(flags) > 0 {
		return fmt.Sprintf("%s (caution: %s)", ErrCaptureFailed, strings.Join(flags, ", "))
	}
	return fmt.Sprintf("%s (caution 0x%04X)", ErrCaptureFailed, e.Caution)
}

func (e *CaptureError) Unwrap() error { return ErrCaptureFailed }
