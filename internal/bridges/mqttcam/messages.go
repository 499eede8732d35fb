package mqttcam

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/payload-core/internal/camera"
)

// MQTT message types exchanged between the ground segment and the camera
// bridge. All JSON except DownloadEnvelope, which is CBOR.

// CommandMessage asks the camera to do something.
// Topic: payload/command/camera/{id}
type CommandMessage struct {
	// ID correlates the command with its acknowledgments. When empty the
	// last topic segment is used.
	ID string `json:"id"`

	// Timestamp is when the command was issued (UTC, RFC3339).
	Timestamp time.Time `json:"timestamp"`

	// Command is the operation name, e.g. "capture", "zoom", "set".
	Command string `json:"command"`

	// Parameters contains command-specific values.
	// Examples:
	//   {"burst_ms": 2000, "high_speed": true} for capture
	//   {"mode": "level", "level": 40} for zoom
	Parameters map[string]any `json:"parameters,omitempty"`

	// Source indicates where the command originated, e.g. "gcs", "mission".
	Source string `json:"source,omitempty"`
}

// AckStatus is the lifecycle stage reported for a command.
type AckStatus string

const (
	// AckAccepted indicates the command was queued on the engine.
	AckAccepted AckStatus = "accepted"

	// AckCompleted indicates the engine finished the command.
	AckCompleted AckStatus = "completed"

	// AckRejected indicates the command never reached the engine
	// (bad payload, unknown command, queue full).
	AckRejected AckStatus = "rejected"

	// AckFailed indicates the engine ran the command and it failed.
	AckFailed AckStatus = "failed"

	// AckTimeout indicates the device did not respond in time.
	AckTimeout AckStatus = "timeout"
)

// AckMessage reports progress of a command.
// Topic: payload/ack/camera/{id}
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Timestamp time.Time `json:"timestamp"`
	Command   string    `json:"command"`
	Status    AckStatus `json:"status"`

	// Result is the engine's response for completed commands.
	Result any `json:"result,omitempty"`

	Error *AckError `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	// Code is one of the ErrCode constants.
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`
}

// Error codes for command and request failures.
const (
	ErrCodeInvalidCommand      = "INVALID_COMMAND"
	ErrCodeInvalidParameters   = "INVALID_PARAMETERS"
	ErrCodeBusy                = "BUSY"
	ErrCodeDeviceUnreachable   = "DEVICE_UNREACHABLE"
	ErrCodeConvergenceTimeout  = "CONVERGENCE_TIMEOUT"
	ErrCodeConfirmationTimeout = "CONFIRMATION_TIMEOUT"
	ErrCodeAutofocusFailed     = "AUTOFOCUS_FAILED"
	ErrCodeCaptureFailed       = "CAPTURE_FAILED"
	ErrCodeSettingFailed       = "SETTING_FAILED"
	ErrCodeUnknownProperty     = "UNKNOWN_PROPERTY"
	ErrCodeStorageUnavailable  = "STORAGE_UNAVAILABLE"
	ErrCodeTimeout             = "TIMEOUT"
	ErrCodeEngineStopped       = "ENGINE_STOPPED"
	ErrCodeBridgeError         = "BRIDGE_ERROR"
	ErrCodeMalformedMessage    = "MALFORMED_MESSAGE"
)

// RequestMessage asks for data without changing camera behaviour.
// Topic: payload/request/camera/{request_id}
type RequestMessage struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`

	// Action is the requested operation.
	// Values: "status", "get", "property_get", "storage_list", "file_list", "health"
	Action string `json:"action"`

	Parameters map[string]any `json:"parameters,omitempty"`
}

// ResponseMessage answers a RequestMessage.
// Topic: payload/response/camera/{request_id}
type ResponseMessage struct {
	RequestID string         `json:"request_id"`
	Timestamp time.Time      `json:"timestamp"`
	Success   bool           `json:"success"`
	Data      any            `json:"data,omitempty"`
	Error     *ResponseError `json:"error,omitempty"`
}

// ResponseError contains error details for failed requests.
type ResponseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// StateMessage carries the latest camera status snapshot.
// Topic: payload/state/camera/status
// QoS: 1, Retained: Yes
type StateMessage struct {
	Timestamp time.Time     `json:"timestamp"`
	Status    camera.Status `json:"status"`
	Health    camera.Health `json:"health"`
}

// EventMessage is a capture or error event.
// Topic: payload/event/camera/{capture|error}
type EventMessage struct {
	Type      camera.CameraEventType `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Capture   *camera.CaptureResult  `json:"capture,omitempty"`
	Op        string                 `json:"op,omitempty"`
	Code      string                 `json:"code,omitempty"`
	Message   string                 `json:"message,omitempty"`
	// Reason and Caution classify capture failures.
	Reason    string   `json:"reason,omitempty"`
	Caution   []string `json:"caution,omitempty"`
	ElapsedMS int64    `json:"elapsed_ms,omitempty"`
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
	HealthOffline   HealthStatus = "offline"
	HealthStarting  HealthStatus = "starting"
	HealthStopping  HealthStatus = "stopping"
)

// HealthMessage reports bridge and camera status.
// Topic: payload/health/camera
// QoS: 1, Retained: Yes
type HealthMessage struct {
	Bridge        string        `json:"bridge"`
	Timestamp     time.Time     `json:"timestamp"`
	Status        HealthStatus  `json:"status"`
	Version       string        `json:"version"`
	UptimeSeconds int64         `json:"uptime_seconds"`
	Camera        camera.Health `json:"camera"`
	Statistics    Statistics    `json:"statistics"`

	// Reason explains the status (especially for offline/degraded).
	Reason string `json:"reason,omitempty"`
}

// Statistics counts bridge traffic.
type Statistics struct {
	CommandsReceived uint64 `json:"commands_received"`
	RequestsReceived uint64 `json:"requests_received"`
	EventsPublished  uint64 `json:"events_published"`
	Errors           uint64 `json:"errors"`
}

// DownloadEnvelope announces a downloaded image. Integer keys keep the
// envelope small on the radio link; Data is present only when image
// publishing is enabled.
// Topic: payload/event/camera/download
type DownloadEnvelope struct {
	ID         string    `cbor:"1,keyasint"`
	Timestamp  time.Time `cbor:"2,keyasint"`
	Handle     uint32    `cbor:"3,keyasint"`
	Filename   string    `cbor:"4,keyasint,omitempty"`
	Format     uint16    `cbor:"5,keyasint"`
	Size       uint64    `cbor:"6,keyasint"`
	CapturedAt time.Time `cbor:"7,keyasint"`
	ElapsedMS  int64     `cbor:"8,keyasint,omitempty"`
	Data       []byte    `cbor:"9,keyasint,omitempty"`
}

// UnmarshalJSON accepts RFC3339 timestamps and tolerates a missing one.
func (m *CommandMessage) UnmarshalJSON(data []byte) error {
	type Alias CommandMessage
	aux := &struct {
		*Alias
		Timestamp string `json:"timestamp"`
	}{
		Alias: (*Alias)(m),
	}
	if err := json.Unmarshal(data, aux); err != nil {
		return fmt.Errorf("unmarshal command message: %w", err)
	}
	if aux.Timestamp != "" {
		t, err := time.Parse(time.RFC3339, aux.Timestamp)
		if err != nil {
			return fmt.Errorf("parse timestamp: %w", err)
		}
		m.Timestamp = t
	}
	return nil
}

// NewAckMessage creates an acknowledgment for cmd.
func NewAckMessage(cmd CommandMessage, status AckStatus) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		Command:   cmd.Command,
		Status:    status,
	}
}

// NewAckError creates a failed acknowledgment. A TIMEOUT or
// CONFIRMATION_TIMEOUT code yields AckTimeout.
func NewAckError(cmd CommandMessage, status AckStatus, code, message string) AckMessage {
	if code == ErrCodeTimeout || code == ErrCodeConfirmationTimeout {
		status = AckTimeout
	}
	ack := NewAckMessage(cmd, status)
	ack.Error = &AckError{Code: code, Message: message}
	return ack
}

// NewResponse creates a successful response.
func NewResponse(requestID string, data any) ResponseMessage {
	return ResponseMessage{
		RequestID: requestID,
		Timestamp: time.Now().UTC(),
		Success:   true,
		Data:      data,
	}
}

// NewErrorResponse creates a failed response.
func NewErrorResponse(requestID, code, message string) ResponseMessage {
	return ResponseMessage{
		RequestID: requestID,
		Timestamp: time.Now().UTC(),
		Error:     &ResponseError{Code: code, Message: message},
	}
}

// NewDownloadEnvelope builds the envelope for obj, attaching the image
// bytes only when withData is set.
func NewDownloadEnvelope(obj camera.DownloadedObject, withData bool) DownloadEnvelope {
	env := DownloadEnvelope{
		ID:         obj.ID,
		Timestamp:  time.Now().UTC(),
		Handle:     uint32(obj.Handle),
		Filename:   obj.Info.Filename,
		Format:     obj.Info.Format,
		Size:       obj.Info.Size,
		CapturedAt: obj.CapturedAt.UTC(),
		ElapsedMS:  obj.FetchDuration.Milliseconds(),
	}
	if env.Size == 0 {
		env.Size = uint64(len(obj.Data))
	}
	if withData {
		env.Data = obj.Data
	}
	return env
}
