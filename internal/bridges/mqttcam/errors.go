package mqttcam

import (
	"context"
	"errors"

	"github.com/nerrad567/payload-core/internal/camera"
)

// Domain errors for the camera bridge.
var (
	// ErrUnknownCommand is returned for a command or request action the
	// bridge does not handle.
	ErrUnknownCommand = errors.New("mqttcam: unknown command")

	// ErrInvalidParameters is returned when a message parameter is missing
	// or has the wrong type.
	ErrInvalidParameters = errors.New("mqttcam: invalid parameters")

	// ErrMissingDependency is returned by NewBridge when a required
	// collaborator is nil.
	ErrMissingDependency = errors.New("mqttcam: missing dependency")

	// ErrCommandTimeout is recorded when a command gets no engine result
	// within the command timeout.
	ErrCommandTimeout = errors.New("mqttcam: no result within command timeout")
)

// errorCode maps an error to the ErrCode reported on the wire.
func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrUnknownCommand):
		return ErrCodeInvalidCommand
	case errors.Is(err, ErrInvalidParameters), errors.Is(err, camera.ErrInvalidValue):
		return ErrCodeInvalidParameters
	case errors.Is(err, camera.ErrConvergenceTimeout):
		return ErrCodeConvergenceTimeout
	case errors.Is(err, camera.ErrConfirmationTimeout):
		return ErrCodeConfirmationTimeout
	case errors.Is(err, camera.ErrAutofocusFailed):
		return ErrCodeAutofocusFailed
	case errors.Is(err, camera.ErrCaptureFailed):
		return ErrCodeCaptureFailed
	case errors.Is(err, camera.ErrSettingFailed):
		return ErrCodeSettingFailed
	case errors.Is(err, camera.ErrUnknownProperty):
		return ErrCodeUnknownProperty
	case errors.Is(err, camera.ErrNoStorage):
		return ErrCodeStorageUnavailable
	case errors.Is(err, camera.ErrEngineStopped):
		return ErrCodeEngineStopped
	case errors.Is(err, camera.ErrTransport), errors.Is(err, camera.ErrWorkerGone):
		return ErrCodeDeviceUnreachable
	case errors.Is(err, context.DeadlineExceeded):
		return ErrCodeTimeout
	}
	return ErrCodeBridgeError
}
