package camera

import (
	"fmt"
	"strings"
)

// OperatingMode is the value of PropOperatingMode (UINT8).
type OperatingMode uint8

// Operating modes.
const (
	ModeStandby          OperatingMode = 0x01
	ModeStillRec         OperatingMode = 0x02
	ModeMovieRec         OperatingMode = 0x03
	ModeContentsTransfer OperatingMode = 0x04
)

// Value returns the wire value.
func (m OperatingMode) Value() DeviceValue { return Uint8(uint8(m)) }

func (m OperatingMode) String() string {
	switch m {
	case ModeStandby:
		return "standby"
	case ModeStillRec:
		return "still-rec"
	case ModeMovieRec:
		return "movie-rec"
	case ModeContentsTransfer:
		return "contents-transfer"
	}
	return fmt.Sprintf("operating-mode(0x%02X)", uint8(m))
}

// ParseOperatingMode parses the String form.
func ParseOperatingMode(s string) (OperatingMode, error) {
	for _, m := range []OperatingMode{ModeStandby, ModeStillRec, ModeMovieRec, ModeContentsTransfer} {
		if strings.EqualFold(m.String(), s) {
			return m, nil
		}
	}
	return 0, fmt.Errorf("%w: operating mode %q", ErrInvalidValue, s)
}

// ExposureMode is the value of PropExposureMode (UINT16).
type ExposureMode uint16

// Exposure modes.
const (
	ExposureManual                ExposureMode = 0x0001
	ExposureProgramAuto           ExposureMode = 0x0002
	ExposureAperturePriority      ExposureMode = 0x0003
	ExposureShutterPriority       ExposureMode = 0x0004
	ExposureIntelligentAuto       ExposureMode = 0x8000
	ExposureSuperiorAuto          ExposureMode = 0x8001
	ExposureMovieProgramAuto      ExposureMode = 0x8050
	ExposureMovieAperturePriority ExposureMode = 0x8051
	ExposureMovieShutterPriority  ExposureMode = 0x8052
	ExposureMovieManual           ExposureMode = 0x8053
	ExposureMovieIntelligentAuto  ExposureMode = 0x8054
)

var exposureNames = map[ExposureMode]string{
	ExposureManual:                "manual",
	ExposureProgramAuto:           "program-auto",
	ExposureAperturePriority:      "aperture-priority",
	ExposureShutterPriority:       "shutter-priority",
	ExposureIntelligentAuto:       "intelligent-auto",
	ExposureSuperiorAuto:          "superior-auto",
	ExposureMovieProgramAuto:      "movie-program-auto",
	ExposureMovieAperturePriority: "movie-aperture-priority",
	ExposureMovieShutterPriority:  "movie-shutter-priority",
	ExposureMovieManual:           "movie-manual",
	ExposureMovieIntelligentAuto:  "movie-intelligent-auto",
}

// Value returns the wire value.
func (m ExposureMode) Value() DeviceValue { return Uint16(uint16(m)) }

func (m ExposureMode) String() string {
	if name, ok := exposureNames[m]; ok {
		return name
	}
	return fmt.Sprintf("exposure-mode(0x%04X)", uint16(m))
}

// ParseExposureMode parses the String form.
func ParseExposureMode(s string) (ExposureMode, error) {
	for m, name := range exposureNames {
		if strings.EqualFold(name, s) {
			return m, nil
		}
	}
	return 0, fmt.Errorf("%w: exposure mode %q", ErrInvalidValue, s)
}

// FocusMode is the value of PropFocusMode (UINT16).
type FocusMode uint16

// Focus modes.
const (
	FocusManual         FocusMode = 0x0001
	FocusAutoStill      FocusMode = 0x0002
	FocusAutoContinuous FocusMode = 0x8004
)

// Value returns the wire value.
func (m FocusMode) Value() DeviceValue { return Uint16(uint16(m)) }

func (m FocusMode) String() string {
	switch m {
	case FocusManual:
		return "manual"
	case FocusAutoStill:
		return "af-s"
	case FocusAutoContinuous:
		return "af-c"
	}
	return fmt.Sprintf("focus-mode(0x%04X)", uint16(m))
}

// ParseFocusMode parses the String form.
func ParseFocusMode(s string) (FocusMode, error) {
	for _, m := range []FocusMode{FocusManual, FocusAutoStill, FocusAutoContinuous} {
		if strings.EqualFold(m.String(), s) {
			return m, nil
		}
	}
	return 0, fmt.Errorf("%w: focus mode %q", ErrInvalidValue, s)
}

// FocusIndication is the value of PropFocusIndication (UINT8).
type FocusIndication uint8

// Focus indications reported while S1 is held.
const (
	FocusAFUnlock          FocusIndication = 0x01
	FocusAFLock            FocusIndication = 0x02
	FocusAFWarning         FocusIndication = 0x03
	FocusFocusedContinuous FocusIndication = 0x05
	FocusFocusing          FocusIndication = 0x06
)

// DriveMode is the value of PropDriveMode (UINT16).
type DriveMode uint16

// Drive modes.
const (
	DriveNormal                      DriveMode = 0x0001
	DriveContinuousShot              DriveMode = 0x0002
	DriveSpeedPriorityContinuousShot DriveMode = 0x8010
)

// Value returns the wire value.
func (m DriveMode) Value() DeviceValue { return Uint16(uint16(m)) }

// Compression is the value of PropCompression (UINT8).
type Compression uint8

// Compression settings.
const (
	CompressionStandard Compression = 0x02
	CompressionFine     Compression = 0x03
	CompressionRawJpeg  Compression = 0x13
)

func (c Compression) String() string {
	switch c {
	case CompressionStandard:
		return "standard"
	case CompressionFine:
		return "fine"
	case CompressionRawJpeg:
		return "raw+jpeg"
	}
	return fmt.Sprintf("compression(0x%02X)", uint8(c))
}

// SaveMedia is the value of PropSaveMedia (UINT16).
type SaveMedia uint16

// Save destinations.
const (
	SaveHost  SaveMedia = 0x0001
	SaveCard1 SaveMedia = 0x0002
)

// Value returns the wire value.
func (m SaveMedia) Value() DeviceValue { return Uint16(uint16(m)) }

func (m SaveMedia) String() string {
	switch m {
	case SaveHost:
		return "host"
	case SaveCard1:
		return "card1"
	}
	return fmt.Sprintf("save-media(0x%04X)", uint16(m))
}

// ParseSaveMedia parses the String form.
func ParseSaveMedia(s string) (SaveMedia, error) {
	for _, m := range []SaveMedia{SaveHost, SaveCard1} {
		if strings.EqualFold(m.String(), s) {
			return m, nil
		}
	}
	return 0, fmt.Errorf("%w: save media %q", ErrInvalidValue, s)
}

// ShutterSpeed is the value of PropShutterSpeed (UINT32): numerator in the
// high half, denominator in the low half.
type ShutterSpeed uint32

// ShutterBulb is the bulb exposure marker.
const ShutterBulb ShutterSpeed = 0xFFFFFFFE

func (s ShutterSpeed) String() string {
	if s == ShutterBulb {
		return "bulb"
	}
	num, den := uint32(s)>>16, uint32(s)&0xFFFF
	switch {
	case den == 0:
		return fmt.Sprintf("shutter(0x%08X)", uint32(s))
	case den == 1:
		return fmt.Sprintf("%d\"", num)
	case den == 10 && num >= 10:
		return fmt.Sprintf("%.1f\"", float64(num)/10)
	}
	return fmt.Sprintf("%d/%d", num, den)
}

// ISO is the value of PropISO (UINT32).
type ISO uint32

// ISOAuto selects automatic sensitivity.
const ISOAuto ISO = 0x00FFFFFF

func (i ISO) String() string {
	if i&0x00FFFFFF == ISOAuto {
		return "auto"
	}
	return fmt.Sprintf("ISO %d", uint32(i)&0x00FFFFFF)
}

// Aperture is the value of PropFNumber (UINT16), F-number times 100.
type Aperture uint16

// ApertureUndefined is reported when no lens value is available.
const ApertureUndefined Aperture = 0xFFFE

func (a Aperture) String() string {
	if a == ApertureUndefined {
		return "undefined"
	}
	return fmt.Sprintf("F%.1f", float64(a)/100)
}

// Caution flags reported in PropCaution (UINT16).
const (
	CautionFatal                      uint16 = 0x8000
	CautionRecordingFailed            uint16 = 0x4000
	CautionRecordingFailedStorageFull uint16 = 0x2000
	CautionRecordingFailedCardFull    uint16 = 0x1000
	CautionDataFailed                 uint16 = 0x0020
	CautionMediaAccessFailed          uint16 = 0x0010
	CautionSettingFailure             uint16 = 0x0001
)

// CautionFlags names the set bits of a caution value.
func CautionFlags(v uint16) []string {
	named := []struct {
		bit  uint16
		name string
	}{
		{CautionFatal, "fatal"},
		{CautionRecordingFailed, "recording-failed"},
		{CautionRecordingFailedStorageFull, "storage-full"},
		{CautionRecordingFailedCardFull, "card-full"},
		{CautionDataFailed, "data-failed"},
		{CautionMediaAccessFailed, "media-access-failed"},
		{CautionSettingFailure, "setting-failure"},
	}
	var out []string
	for _, n := range named {
		if v&n.bit != 0 {
			out = append(out, n.name)
		}
	}
	return out
}

// Shooting file info layout (PropShootingFileInfo, UINT16).
const (
	shootingBusyBit     uint16 = 0x8000
	shootingPendingMask uint16 = 0x7FFF
)

// ParseShutterSpeed accepts "bulb", "n/d", or seconds as `n"` or `n.n"`.
func ParseShutterSpeed(s string) (ShutterSpeed, error) {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "bulb") {
		return ShutterBulb, nil
	}
	var num, den uint32
	if _, err := fmt.Sscanf(s, "%d/%d", &num, &den); err == nil && den > 0 && num <= 0xFFFF && den <= 0xFFFF {
		return ShutterSpeed(num<<16 | den), nil
	}
	var secs float64
	if _, err := fmt.Sscanf(strings.TrimSuffix(s, "\""), "%g", &secs); err == nil && secs > 0 && secs <= 6553 {
		if secs == float64(uint32(secs)) {
			return ShutterSpeed(uint32(secs)<<16 | 1), nil
		}
		return ShutterSpeed(uint32(secs*10)<<16 | 10), nil
	}
	return 0, fmt.Errorf("%w: shutter speed %q", ErrInvalidValue, s)
}

// ParseAperture accepts "F4.0" or "4.0".
func ParseAperture(s string) (Aperture, error) {
	s = strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(s)), "F")
	var f float64
	if _, err := fmt.Sscanf(s, "%g", &f); err != nil || f <= 0 || f*100 >= float64(ApertureUndefined) {
		return 0, fmt.Errorf("%w: aperture %q", ErrInvalidValue, s)
	}
	return Aperture(f*100 + 0.5), nil
}
