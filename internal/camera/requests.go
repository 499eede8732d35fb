package camera

import (
	"fmt"
	"time"
)

// Request is a command for the dispatch loop.
type Request interface {
	// Kind names the request for logging and metrics.
	Kind() string
}

// Result is the outcome of one request.
type Result struct {
	Response any
	Err      error
}

// StatusRequest asks for a snapshot of the main properties.
type StatusRequest struct{}

// GetRequest reads one typed setting.
type GetRequest struct {
	Setting Setting
}

// SetRequest applies one typed setting. Value is the textual form, e.g.
// "aperture-priority" or "2.5".
type SetRequest struct {
	Setting Setting
	Value   string
}

// PropertyGetRequest reads any property by code.
type PropertyGetRequest struct {
	Code PropertyCode
}

// PropertySetRequest drives any property by code to Value.
type PropertySetRequest struct {
	Code  PropertyCode
	Value DeviceValue
}

// CaptureRequest takes a still image or a burst.
type CaptureRequest struct {
	// BurstDuration is how long S2 is held; zero takes a single shot.
	BurstDuration time.Duration

	// BurstHighSpeed selects speed-priority continuous shooting.
	BurstHighSpeed bool
}

// ContinuousAction starts or stops interval recording.
type ContinuousAction string

// Continuous capture actions.
const (
	ContinuousStart ContinuousAction = "start"
	ContinuousStop  ContinuousAction = "stop"
)

// ContinuousCaptureRequest toggles interval still recording.
type ContinuousCaptureRequest struct {
	Action ContinuousAction
}

// ZoomMode selects the kind of zoom operation.
type ZoomMode string

// Zoom modes.
const (
	ZoomWide  ZoomMode = "wide"
	ZoomTele  ZoomMode = "tele"
	ZoomLevel ZoomMode = "level"

	// ZoomFocalLength moves to the lens position closest to a focal length.
	ZoomFocalLength ZoomMode = "focal_length"
)

// ZoomRequest moves the lens.
type ZoomRequest struct {
	Mode ZoomMode

	// Duration is how long wide/tele is held. Default: 1s.
	Duration time.Duration

	// Level is the absolute position for ZoomLevel.
	Level uint8

	// FocalLength is the target for ZoomFocalLength, in mm.
	FocalLength float64
}

// ResetRequest restores the camera's factory settings.
type ResetRequest struct{}

// InitializeRequest reboots the camera system and reconnects.
type InitializeRequest struct{}

// StorageListRequest lists storages in contents transfer mode.
type StorageListRequest struct{}

// FileListRequest lists objects on the card under Parent.
// A zero Parent lists the storage root.
type FileListRequest struct {
	Parent ObjectHandle
}

// FileGetRequest downloads one object. A zero Handle fetches the next
// image from the in-camera buffer.
type FileGetRequest struct {
	Handle ObjectHandle
}

func (StatusRequest) Kind() string            { return "status" }
func (GetRequest) Kind() string               { return "get" }
func (SetRequest) Kind() string               { return "set" }
func (PropertyGetRequest) Kind() string       { return "property_get" }
func (PropertySetRequest) Kind() string       { return "property_set" }
func (CaptureRequest) Kind() string           { return "capture" }
func (ContinuousCaptureRequest) Kind() string { return "continuous_capture" }
func (ZoomRequest) Kind() string              { return "zoom" }
func (ResetRequest) Kind() string             { return "reset" }
func (InitializeRequest) Kind() string        { return "initialize" }
func (StorageListRequest) Kind() string       { return "storage_list" }
func (FileListRequest) Kind() string          { return "file_list" }
func (FileGetRequest) Kind() string           { return "file_get" }

// Setting is a typed, user-facing camera setting.
type Setting string

// Supported settings.
const (
	SettingExposureMode  Setting = "exposure-mode"
	SettingOperatingMode Setting = "operating-mode"
	SettingSaveMode      Setting = "save-mode"
	SettingFocusMode     Setting = "focus-mode"
	SettingZoomLevel     Setting = "zoom-level"
	SettingCCInterval    Setting = "cc-interval"
	SettingShutterSpeed  Setting = "shutter-speed"
	SettingAperture      Setting = "aperture"
)

// Settings lists every supported setting.
var Settings = []Setting{
	SettingExposureMode, SettingOperatingMode, SettingSaveMode, SettingFocusMode,
	SettingZoomLevel, SettingCCInterval, SettingShutterSpeed, SettingAperture,
}

// ParseSetting validates a setting name.
func ParseSetting(s string) (Setting, error) {
	for _, setting := range Settings {
		if string(setting) == s {
			return setting, nil
		}
	}
	return "", fmt.Errorf("%w: unknown setting %q", ErrInvalidValue, s)
}

// Property returns the device property backing the setting.
func (s Setting) Property() PropertyCode {
	switch s {
	case SettingExposureMode:
		return PropExposureMode
	case SettingOperatingMode:
		return PropOperatingMode
	case SettingSaveMode:
		return PropSaveMedia
	case SettingFocusMode:
		return PropFocusMode
	case SettingZoomLevel:
		return PropZoomAbsolutePosition
	case SettingCCInterval:
		return PropIntervalTime
	case SettingShutterSpeed:
		return PropShutterSpeed
	case SettingAperture:
		return PropFNumber
	}
	return 0
}

// SettingValue is the response to Get and Set requests.
type SettingValue struct {
	Setting Setting     `json:"setting"`
	Display string      `json:"display"`
	Value   DeviceValue `json:"value"`
}

// CaptureResult is the response to a confirmed capture. Timestamp is the
// moment the shutter was fully pressed.
type CaptureResult struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	ConfirmedAt time.Time `json:"confirmed_at"`
	Burst       bool      `json:"burst"`
}

// Status is a snapshot of the camera's main properties. Fields the
// device has not reported are empty.
type Status struct {
	OperatingMode    string   `json:"operating_mode,omitempty"`
	ExposureMode     string   `json:"exposure_mode,omitempty"`
	FocusMode        string   `json:"focus_mode,omitempty"`
	SaveMedia        string   `json:"save_media,omitempty"`
	Compression      string   `json:"compression,omitempty"`
	DriveMode        uint16   `json:"drive_mode,omitempty"`
	ShutterSpeed     string   `json:"shutter_speed,omitempty"`
	ISO              string   `json:"iso,omitempty"`
	Aperture         string   `json:"aperture,omitempty"`
	BatteryLevel     *int64   `json:"battery_level,omitempty"`
	ZoomPosition     *uint64  `json:"zoom_position,omitempty"`
	ShootingFileInfo uint16   `json:"shooting_file_info"`
	PendingImages    int      `json:"pending_images"`
	Caution          []string `json:"caution,omitempty"`
	IntervalTime     *float64 `json:"interval_time,omitempty"`
	IntervalActive   *bool    `json:"interval_active,omitempty"`
	PropertyCount    int      `json:"property_count"`
}
