package camera

import (
	"fmt"
	"strconv"
	"strings"
)

// PropertyCode identifies a vendor device property.
//
// Codes the engine does not know are still representable: Known reports
// false and String renders them as Unrecognized(0xNNNN).
type PropertyCode uint16

// Known property codes.
const (
	PropAELock                      PropertyCode = 0xD6E8
	PropAspectRatio                 PropertyCode = 0xD6B3
	PropBatteryLevel                PropertyCode = 0xD6F1
	PropBatteryRemain               PropertyCode = 0xD6E7
	PropCaptureCount                PropertyCode = 0xD633
	PropCaution                     PropertyCode = 0xD6BA
	PropCompression                 PropertyCode = 0xD6B9
	PropDateTime                    PropertyCode = 0xD6B1
	PropDriveMode                   PropertyCode = 0xD6B0
	PropExposureCompensation        PropertyCode = 0xD6C3
	PropExposureMode                PropertyCode = 0xD6CC
	PropFNumber                     PropertyCode = 0xD6C5
	PropFocusIndication             PropertyCode = 0xD6EC
	PropFocusMode                   PropertyCode = 0xD6CB
	PropImageSize                   PropertyCode = 0xD6B7
	PropIntervalStillRecordingState PropertyCode = 0xD632
	PropIntervalTime                PropertyCode = 0xD631
	PropISO                         PropertyCode = 0xD6F2
	PropLiveViewStatus              PropertyCode = 0xD6DE
	PropMovieRecording              PropertyCode = 0xD6CD
	PropOperatingMode               PropertyCode = 0xD6E2
	PropSaveMedia                   PropertyCode = 0xD6CF
	PropShootingFileInfo            PropertyCode = 0xD6C6
	PropShutterSpeed                PropertyCode = 0xD6EA
	PropStorageInfo                 PropertyCode = 0xD6BB
	PropWhiteBalance                PropertyCode = 0xD6B8
	PropZoomInfo                    PropertyCode = 0xD6BF
	PropZoomMagnificationInfo       PropertyCode = 0xD63A
	PropZoomAbsolutePosition        PropertyCode = 0xD6BE
	PropZoom                        PropertyCode = 0xD6C9
)

var propertyNames = map[PropertyCode]string{
	PropAELock:                      "AELock",
	PropAspectRatio:                 "AspectRatio",
	PropBatteryLevel:                "BatteryLevel",
	PropBatteryRemain:               "BatteryRemain",
	PropCaptureCount:                "CaptureCount",
	PropCaution:                     "Caution",
	PropCompression:                 "Compression",
	PropDateTime:                    "DateTime",
	PropDriveMode:                   "DriveMode",
	PropExposureCompensation:        "ExposureCompensation",
	PropExposureMode:                "ExposureMode",
	PropFNumber:                     "FNumber",
	PropFocusIndication:             "FocusIndication",
	PropFocusMode:                   "FocusMode",
	PropImageSize:                   "ImageSize",
	PropIntervalStillRecordingState: "IntervalStillRecordingState",
	PropIntervalTime:                "IntervalTime",
	PropISO:                         "ISO",
	PropLiveViewStatus:              "LiveViewStatus",
	PropMovieRecording:              "MovieRecording",
	PropOperatingMode:               "OperatingMode",
	PropSaveMedia:                   "SaveMedia",
	PropShootingFileInfo:            "ShootingFileInfo",
	PropShutterSpeed:                "ShutterSpeed",
	PropStorageInfo:                 "StorageInfo",
	PropWhiteBalance:                "WhiteBalance",
	PropZoomInfo:                    "ZoomInfo",
	PropZoomMagnificationInfo:       "ZoomMagnificationInfo",
	PropZoomAbsolutePosition:        "ZoomAbsolutePosition",
	PropZoom:                        "Zoom",
}

// Known reports whether the code belongs to the recognised property set.
func (c PropertyCode) Known() bool {
	_, ok := propertyNames[c]
	return ok
}

func (c PropertyCode) String() string {
	if name, ok := propertyNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Unrecognized(0x%04X)", uint16(c))
}

// ParsePropertyCode accepts a property name (case-insensitive) or a hex
// code such as "0xD6CC".
func ParsePropertyCode(s string) (PropertyCode, error) {
	s = strings.TrimSpace(s)
	for code, name := range propertyNames {
		if strings.EqualFold(name, s) {
			return code, nil
		}
	}
	if n, err := strconv.ParseUint(s, 0, 16); err == nil {
		return PropertyCode(n), nil
	}
	return 0, fmt.Errorf("%w: unknown property %q", ErrInvalidValue, s)
}

// ControlCode identifies a vendor control (button-like action).
// Controls live in a different namespace from properties.
type ControlCode uint16

// Known control codes.
const (
	CtrlAELock                 ControlCode = 0xD61E
	CtrlAFLock                 ControlCode = 0xD63B
	CtrlCameraSettingReset     ControlCode = 0xD6D9
	CtrlIntervalStillRecording ControlCode = 0xD630
	CtrlMediaFormat            ControlCode = 0xD61C
	CtrlMovieRecording         ControlCode = 0xD60F
	CtrlPowerOff               ControlCode = 0xD637
	CtrlRequestForUpdate       ControlCode = 0xD612
	CtrlS1Button               ControlCode = 0xD61D
	CtrlS2Button               ControlCode = 0xD617
	CtrlSystemInit             ControlCode = 0xD6DA
	CtrlZoomControlAbsolute    ControlCode = 0xD60E
	CtrlZoomControlTele        ControlCode = 0xD63C
	CtrlZoomControlTeleOneShot ControlCode = 0xD614
	CtrlZoomControlWide        ControlCode = 0xD63E
	CtrlZoomControlWideOneShot ControlCode = 0xD613
)

var controlNames = map[ControlCode]string{
	CtrlAELock:                 "AELock",
	CtrlAFLock:                 "AFLock",
	CtrlCameraSettingReset:     "CameraSettingReset",
	CtrlIntervalStillRecording: "IntervalStillRecording",
	CtrlMediaFormat:            "MediaFormat",
	CtrlMovieRecording:         "MovieRecording",
	CtrlPowerOff:               "PowerOff",
	CtrlRequestForUpdate:       "RequestForUpdate",
	CtrlS1Button:               "S1Button",
	CtrlS2Button:               "S2Button",
	CtrlSystemInit:             "SystemInit",
	CtrlZoomControlAbsolute:    "ZoomControlAbsolute",
	CtrlZoomControlTele:        "ZoomControlTele",
	CtrlZoomControlTeleOneShot: "ZoomControlTeleOneShot",
	CtrlZoomControlWide:        "ZoomControlWide",
	CtrlZoomControlWideOneShot: "ZoomControlWideOneShot",
}

// Known reports whether the code belongs to the recognised control set.
func (c ControlCode) Known() bool {
	_, ok := controlNames[c]
	return ok
}

func (c ControlCode) String() string {
	if name, ok := controlNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Unrecognized(0x%04X)", uint16(c))
}

// Button payloads for press/release style controls.
var (
	ButtonPress   = Uint16(0x0002)
	ButtonRelease = Uint16(0x0001)
)

// EventCode identifies an asynchronous device event.
type EventCode uint16

// Device events of interest.
const (
	EventPropertyChanged EventCode = 0xC203
	EventCaptureComplete EventCode = 0xC204
)

func (c EventCode) String() string {
	switch c {
	case EventPropertyChanged:
		return "PropertyChanged"
	case EventCaptureComplete:
		return "CaptureComplete"
	default:
		return fmt.Sprintf("Event(0x%04X)", uint16(c))
	}
}

// ObjectHandle identifies an object on the device.
type ObjectHandle uint32

// Reserved handles. These are not filesystem objects and must not be
// listed or deleted.
const (
	HandleImageBuffer ObjectHandle = 0xFFFFC001
	HandleLiveView    ObjectHandle = 0xFFFFC002
)

// Reserved reports whether h is one of the device's virtual handles.
func (h ObjectHandle) Reserved() bool {
	return h == HandleImageBuffer || h == HandleLiveView
}

// StorageID identifies a storage on the device.
type StorageID uint32

// StorageCard is the logical card storage.
const StorageCard StorageID = 0x00010001
