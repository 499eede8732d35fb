package camera

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
)

// Interval recording bounds, in tenths of a second.
const (
	minIntervalTenths  = 10
	maxIntervalTenths  = 300
	intervalStepTenths = 5
)

// handle routes one request to its handler.
func (e *Engine) handle(ctx context.Context, req Request) (any, error) {
	switch r := req.(type) {
	case StatusRequest:
		return e.status(ctx)
	case GetRequest:
		return e.getSetting(ctx, r.Setting)
	case SetRequest:
		return e.setSetting(ctx, r.Setting, r.Value)
	case PropertyGetRequest:
		return e.getProperty(ctx, r.Code)
	case PropertySetRequest:
		if err := e.iface.Ensure(ctx, r.Code, r.Value); err != nil {
			return nil, err
		}
		return e.getProperty(ctx, r.Code)
	case CaptureRequest:
		return e.capture(ctx, r)
	case ContinuousCaptureRequest:
		return nil, e.continuousCapture(ctx, r.Action)
	case ZoomRequest:
		return nil, e.zoom(ctx, r)
	case ResetRequest:
		return nil, e.reset(ctx)
	case InitializeRequest:
		return nil, e.initialize(ctx)
	case StorageListRequest:
		return e.listStorage(ctx)
	case FileListRequest:
		return e.listFiles(ctx, r.Parent)
	case FileGetRequest:
		return e.getFile(ctx, r.Handle)
	}
	return nil, fmt.Errorf("%w: unsupported request %T", ErrInvalidValue, req)
}

func (e *Engine) status(ctx context.Context) (Status, error) {
	g, err := e.iface.Enter(ctx)
	if err != nil {
		return Status{}, err
	}
	err = g.Update()
	var props map[PropertyCode]PropertyInfo
	if err == nil {
		props, err = g.Snapshot()
	}
	g.Release()
	if err != nil {
		return Status{}, err
	}

	uintOf := func(code PropertyCode) (uint64, bool) {
		info, ok := props[code]
		if !ok {
			return 0, false
		}
		return info.Current.Uint()
	}

	st := Status{PropertyCount: len(props)}
	if v, ok := uintOf(PropOperatingMode); ok {
		st.OperatingMode = OperatingMode(v).String()
	}
	if v, ok := uintOf(PropExposureMode); ok {
		st.ExposureMode = ExposureMode(v).String()
	}
	if v, ok := uintOf(PropFocusMode); ok {
		st.FocusMode = FocusMode(v).String()
	}
	if v, ok := uintOf(PropSaveMedia); ok {
		st.SaveMedia = SaveMedia(v).String()
	}
	if v, ok := uintOf(PropCompression); ok {
		st.Compression = Compression(v).String()
	}
	if v, ok := uintOf(PropDriveMode); ok {
		st.DriveMode = uint16(v)
	}
	if v, ok := uintOf(PropShutterSpeed); ok {
		st.ShutterSpeed = ShutterSpeed(v).String()
	}
	if v, ok := uintOf(PropISO); ok {
		st.ISO = ISO(v).String()
	}
	if v, ok := uintOf(PropFNumber); ok {
		st.Aperture = Aperture(v).String()
	}
	if info, ok := props[PropBatteryLevel]; ok {
		if n, ok := info.Current.Int(); ok {
			st.BatteryLevel = &n
		} else if u, ok := info.Current.Uint(); ok {
			n := int64(u)
			st.BatteryLevel = &n
		}
	}
	if v, ok := uintOf(PropZoomAbsolutePosition); ok {
		st.ZoomPosition = &v
	}
	if v, ok := uintOf(PropShootingFileInfo); ok {
		st.ShootingFileInfo = uint16(v)
		st.PendingImages = int(uint16(v) & shootingPendingMask)
	}
	if v, ok := uintOf(PropCaution); ok {
		st.Caution = CautionFlags(uint16(v))
	}
	if v, ok := uintOf(PropIntervalTime); ok {
		secs := float64(v) / 10
		st.IntervalTime = &secs
	}
	if v, ok := uintOf(PropIntervalStillRecordingState); ok {
		active := v != 0
		st.IntervalActive = &active
	}
	return st, nil
}

// cachedValue returns the cached value of code after a refresh.
func (e *Engine) cachedValue(ctx context.Context, code PropertyCode, refresh bool) (PropertyInfo, error) {
	g, err := e.iface.Enter(ctx)
	if err != nil {
		return PropertyInfo{}, err
	}
	defer g.Release()
	if refresh {
		if err := g.Update(); err != nil {
			return PropertyInfo{}, err
		}
	}
	return g.GetInfo(code)
}

func (e *Engine) getProperty(ctx context.Context, code PropertyCode) (PropertyInfo, error) {
	return e.cachedValue(ctx, code, true)
}

func (e *Engine) getSetting(ctx context.Context, s Setting) (SettingValue, error) {
	code := s.Property()
	if code == 0 {
		return SettingValue{}, fmt.Errorf("%w: unknown setting %q", ErrInvalidValue, s)
	}
	info, err := e.cachedValue(ctx, code, false)
	if err != nil {
		return SettingValue{}, err
	}
	display, err := displaySetting(s, info.Current)
	if err != nil {
		return SettingValue{}, err
	}
	return SettingValue{Setting: s, Display: display, Value: info.Current}, nil
}

// displaySetting renders a value, checking it has the kind the setting
// is defined with.
func displaySetting(s Setting, v DeviceValue) (string, error) {
	wrongKind := fmt.Errorf("%w: %s has kind %s", ErrInvalidValue, s, v.Kind())
	switch s {
	case SettingOperatingMode:
		if n, ok := v.AsUint8(); ok {
			return OperatingMode(n).String(), nil
		}
	case SettingExposureMode:
		if n, ok := v.AsUint16(); ok {
			return ExposureMode(n).String(), nil
		}
	case SettingSaveMode:
		if n, ok := v.AsUint16(); ok {
			return SaveMedia(n).String(), nil
		}
	case SettingFocusMode:
		if n, ok := v.AsUint16(); ok {
			return FocusMode(n).String(), nil
		}
	case SettingZoomLevel:
		if n, ok := v.Uint(); ok {
			return strconv.FormatUint(uint64(uint8(n)), 10), nil
		}
	case SettingCCInterval:
		if n, ok := v.AsUint16(); ok {
			return strconv.FormatFloat(float64(n)/10, 'f', 1, 64), nil
		}
	case SettingShutterSpeed:
		if n, ok := v.AsUint32(); ok {
			return ShutterSpeed(n).String(), nil
		}
	case SettingAperture:
		if n, ok := v.AsUint16(); ok {
			return Aperture(n).String(), nil
		}
	}
	return "", wrongKind
}

// settingValue converts a textual setting into its device value.
func (e *Engine) settingValue(s Setting, text string) (DeviceValue, error) {
	text = strings.TrimSpace(text)
	switch s {
	case SettingExposureMode:
		m, err := ParseExposureMode(text)
		return m.Value(), err
	case SettingOperatingMode:
		m, err := ParseOperatingMode(text)
		return m.Value(), err
	case SettingSaveMode:
		m, err := ParseSaveMedia(text)
		return m.Value(), err
	case SettingFocusMode:
		m, err := ParseFocusMode(text)
		return m.Value(), err
	case SettingZoomLevel:
		n, err := strconv.ParseUint(text, 10, 8)
		if err != nil {
			return DeviceValue{}, fmt.Errorf("%w: zoom level %q", ErrInvalidValue, text)
		}
		return Uint8(uint8(n)), nil
	case SettingCCInterval:
		secs, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return DeviceValue{}, fmt.Errorf("%w: interval %q", ErrInvalidValue, text)
		}
		tenths, err := e.intervalTenths(secs)
		return Uint16(tenths), err
	case SettingShutterSpeed:
		ss, err := ParseShutterSpeed(text)
		return Uint32(uint32(ss)), err
	case SettingAperture:
		a, err := ParseAperture(text)
		return Uint16(uint16(a)), err
	}
	return DeviceValue{}, fmt.Errorf("%w: unknown setting %q", ErrInvalidValue, s)
}

// intervalTenths validates an interval recording period and rounds it
// down to the device's half-second steps.
func (e *Engine) intervalTenths(secs float64) (uint16, error) {
	tenths := math.Floor(secs * 10)
	if tenths < minIntervalTenths {
		return 0, fmt.Errorf("%w: minimum interval is 1 second", ErrInvalidValue)
	}
	if tenths > maxIntervalTenths {
		return 0, fmt.Errorf("%w: maximum interval is 30 seconds", ErrInvalidValue)
	}
	n := uint16(tenths)
	if rem := n % intervalStepTenths; rem != 0 {
		e.logWarn("interval must be a multiple of 0.5 seconds, rounding down", "requested", secs)
		n -= rem
	}
	return n, nil
}

func (e *Engine) setSetting(ctx context.Context, s Setting, text string) (SettingValue, error) {
	value, err := e.settingValue(s, text)
	if err != nil {
		return SettingValue{}, err
	}
	if err := e.iface.Ensure(ctx, s.Property(), value); err != nil {
		return SettingValue{}, err
	}
	display, _ := displaySetting(s, value)
	return SettingValue{Setting: s, Display: display, Value: value}, nil
}

func (e *Engine) continuousCapture(ctx context.Context, action ContinuousAction) error {
	switch action {
	case ContinuousStart:
		if err := e.iface.Ensure(ctx, PropOperatingMode, ModeStillRec.Value()); err != nil {
			return fmt.Errorf("entering still recording mode: %w", err)
		}
		return e.press(ctx, CtrlIntervalStillRecording)
	case ContinuousStop:
		return e.release(ctx, CtrlIntervalStillRecording)
	}
	return fmt.Errorf("%w: continuous capture action %q", ErrInvalidValue, action)
}

func (e *Engine) zoom(ctx context.Context, r ZoomRequest) error {
	d := r.Duration
	if d <= 0 {
		d = e.opts.ZoomHold
	}
	switch r.Mode {
	case ZoomWide:
		return e.hold(ctx, CtrlZoomControlWide, d)
	case ZoomTele:
		return e.hold(ctx, CtrlZoomControlTele, d)
	case ZoomLevel:
		return e.zoomTo(ctx, r.Level)
	case ZoomFocalLength:
		return e.zoomToFocalLength(ctx, r.FocalLength)
	}
	return fmt.Errorf("%w: zoom mode %q", ErrInvalidValue, r.Mode)
}

func (e *Engine) reset(ctx context.Context) error {
	e.logInfo("resetting camera settings")
	if err := e.iface.Ensure(ctx, PropOperatingMode, ModeStandby.Value()); err != nil {
		return fmt.Errorf("entering standby: %w", err)
	}
	return e.hold(ctx, CtrlCameraSettingReset, e.opts.ResetHold)
}

// initialize reboots the camera system, waits for it to come back and
// reconnects the session.
func (e *Engine) initialize(ctx context.Context) error {
	e.logInfo("initializing camera system", "wait", e.opts.InitializeWait)
	if err := e.iface.Ensure(ctx, PropOperatingMode, ModeStandby.Value()); err != nil {
		return fmt.Errorf("entering standby: %w", err)
	}
	if err := e.press(ctx, CtrlSystemInit); err != nil {
		return err
	}
	e.connected.Store(false)
	if err := sleep(ctx, e.opts.InitializeWait); err != nil {
		return err
	}

	g, err := e.iface.Enter(ctx)
	if err != nil {
		return err
	}
	err = g.Reconnect()
	if err == nil {
		err = g.Update()
	}
	g.Release()
	if err != nil {
		return fmt.Errorf("reconnecting to camera: %w", err)
	}
	e.connected.Store(true)
	e.afterConnect(ctx)
	return nil
}

// enterTransfer switches to contents transfer mode so storages are
// exposed to the host.
func (e *Engine) enterTransfer(ctx context.Context) error {
	if err := e.iface.Ensure(ctx, PropOperatingMode, ModeContentsTransfer.Value()); err != nil {
		return fmt.Errorf("entering contents transfer mode: %w", err)
	}
	return nil
}

func (e *Engine) storages(ctx context.Context) ([]StorageInfo, error) {
	g, err := e.iface.Enter(ctx)
	if err != nil {
		return nil, err
	}
	defer g.Release()
	return g.ListStorage()
}

// waitForCard polls until the card storage is listed.
func (e *Engine) waitForCard(ctx context.Context) ([]StorageInfo, error) {
	storages, err := Retry(ctx, e.opts.StorageAttempts, e.opts.StorageSpacing, func(ctx context.Context) ([]StorageInfo, error) {
		storages, err := e.storages(ctx)
		if err != nil {
			return nil, err
		}
		if !slices.ContainsFunc(storages, func(s StorageInfo) bool { return s.ID == StorageCard }) {
			return nil, ErrNoStorage
		}
		return storages, nil
	})
	if err != nil {
		return nil, fmt.Errorf("waiting for card storage: %w", err)
	}
	return storages, nil
}

func (e *Engine) listStorage(ctx context.Context) ([]StorageInfo, error) {
	if err := e.enterTransfer(ctx); err != nil {
		return nil, err
	}
	if err := sleep(ctx, e.opts.TransferSettle); err != nil {
		return nil, err
	}
	return e.waitForCard(ctx)
}

func (e *Engine) listFiles(ctx context.Context, parent ObjectHandle) ([]ObjectEntry, error) {
	if err := e.enterTransfer(ctx); err != nil {
		return nil, err
	}
	if _, err := e.waitForCard(ctx); err != nil {
		return nil, err
	}

	g, err := e.iface.Enter(ctx)
	if err != nil {
		return nil, err
	}
	defer g.Release()

	handles, err := g.ListObjects(StorageCard, parent)
	if err != nil {
		return nil, err
	}
	entries := make([]ObjectEntry, 0, len(handles))
	for _, h := range handles {
		if h.Reserved() {
			continue
		}
		info, err := g.ObjectInfo(h)
		if err != nil {
			return nil, err
		}
		entries = append(entries, ObjectEntry{Handle: h, Info: info})
	}
	return entries, nil
}

func (e *Engine) getFile(ctx context.Context, handle ObjectHandle) (DownloadedObject, error) {
	if handle == 0 {
		handle = HandleImageBuffer
	}
	if handle == HandleLiveView {
		return DownloadedObject{}, fmt.Errorf("%w: live view handle is not a file", ErrInvalidValue)
	}
	if err := e.enterTransfer(ctx); err != nil {
		return DownloadedObject{}, err
	}
	obj, err := e.fetchObject(ctx, handle)
	if err != nil {
		e.downloadErrors.Add(1)
		return DownloadedObject{}, err
	}
	e.publishDownload(obj)
	return obj, nil
}
