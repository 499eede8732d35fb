package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/payload-core/internal/camera"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest     = "bad_request"
	ErrCodeNotFound       = "not_found"
	ErrCodeUnauthorized   = "unauthorised"
	ErrCodeForbidden      = "forbidden"
	ErrCodeInternal       = "internal_error"
	ErrCodeUnavailable    = "unavailable"
	ErrCodeMethodNotAllow = "method_not_allowed"
)

// Camera error codes.
const (
	ErrCodeInvalidValue        = "invalid_value"
	ErrCodeUnknownProperty     = "unknown_property"
	ErrCodeConvergenceTimeout  = "convergence_timeout"
	ErrCodeConfirmationTimeout = "confirmation_timeout"
	ErrCodeAutofocusFailed     = "autofocus_failed"
	ErrCodeCaptureFailed       = "capture_failed"
	ErrCodeSettingFailed       = "setting_failed"
	ErrCodeStorageUnavailable  = "storage_unavailable"
	ErrCodeEngineStopped       = "engine_stopped"
	ErrCodeDeviceUnreachable   = "device_unreachable"
	ErrCodeTimeout             = "timeout"
)

// cameraErrors maps engine sentinels to HTTP status and code. Order matters:
// the first match wins, and transport errors often wrap something else.
var cameraErrors = []struct {
	err    error
	status int
	code   string
}{
	{camera.ErrInvalidValue, http.StatusBadRequest, ErrCodeInvalidValue},
	{camera.ErrUnknownProperty, http.StatusNotFound, ErrCodeUnknownProperty},
	{camera.ErrConvergenceTimeout, http.StatusGatewayTimeout, ErrCodeConvergenceTimeout},
	{camera.ErrConfirmationTimeout, http.StatusGatewayTimeout, ErrCodeConfirmationTimeout},
	{camera.ErrAutofocusFailed, http.StatusUnprocessableEntity, ErrCodeAutofocusFailed},
	{camera.ErrCaptureFailed, http.StatusUnprocessableEntity, ErrCodeCaptureFailed},
	{camera.ErrSettingFailed, http.StatusUnprocessableEntity, ErrCodeSettingFailed},
	{camera.ErrNoStorage, http.StatusServiceUnavailable, ErrCodeStorageUnavailable},
	{camera.ErrEngineStopped, http.StatusServiceUnavailable, ErrCodeEngineStopped},
	{camera.ErrWorkerGone, http.StatusServiceUnavailable, ErrCodeEngineStopped},
	{camera.ErrTransport, http.StatusBadGateway, ErrCodeDeviceUnreachable},
	{context.DeadlineExceeded, http.StatusGatewayTimeout, ErrCodeTimeout},
}

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeForbidden writes a 403 error response.
func writeForbidden(w http.ResponseWriter, message string) {
	writeError(w, http.StatusForbidden, ErrCodeForbidden, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeCameraError maps an engine error to a structured response.
func writeCameraError(w http.ResponseWriter, err error) {
	status, code := cameraErrorStatus(err)
	writeError(w, status, code, err.Error())
}

func cameraErrorStatus(err error) (int, string) {
	for _, m := range cameraErrors {
		if errors.Is(err, m.err) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, ErrCodeInternal
}
