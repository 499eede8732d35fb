// Package simcam provides an in-memory camera.Transport that behaves like
// an R10C closely enough to drive the engine without hardware.
//
// Property writes settle after a configurable delay. S1 reports focus
// progress, S2 exposes into the host image buffer and raises
// capture-complete events, interval recording keeps exposing until
// released. Storage is only visible in contents-transfer mode.
package simcam

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/nerrad567/payload-core/internal/camera"
)

// Errors returned by the simulated device.
var (
	ErrNotConnected = errors.New("simcam: not connected")
	ErrRejected     = errors.New("simcam: value rejected")
	ErrNoObject     = errors.New("simcam: no such object")
)

// Config tunes the simulation.
type Config struct {
	// SettleDelay is how long a Set takes to become visible.
	SettleDelay time.Duration

	// FocusDelay is how long S1 takes to lock focus.
	FocusDelay time.Duration

	// WriteDelay is how long the busy bit stays set after an exposure.
	WriteDelay time.Duration

	// BurstInterval is the frame spacing while S2 is held in a continuous
	// drive mode.
	BurstInterval time.Duration

	// ImageWidth and ImageHeight size the generated JPEGs.
	ImageWidth  int
	ImageHeight int

	// CardFiles seeds the card with this many files.
	CardFiles int
}

func (cfg *Config) applyDefaults() {
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = 50 * time.Millisecond
	}
	if cfg.FocusDelay <= 0 {
		cfg.FocusDelay = 100 * time.Millisecond
	}
	if cfg.WriteDelay <= 0 {
		cfg.WriteDelay = 50 * time.Millisecond
	}
	if cfg.BurstInterval <= 0 {
		cfg.BurstInterval = 100 * time.Millisecond
	}
	if cfg.ImageWidth <= 0 {
		cfg.ImageWidth = 160
	}
	if cfg.ImageHeight <= 0 {
		cfg.ImageHeight = 120
	}
}

// Ensure Camera implements camera.Transport.
var _ camera.Transport = (*Camera)(nil)

type pendingSet struct {
	value camera.DeviceValue
	at    time.Time
}

type storedObject struct {
	info camera.ObjectInfo
	data []byte
}

// Camera is a simulated device. It is safe for concurrent use.
type Camera struct {
	cfg Config

	mu        sync.Mutex
	connected bool
	props     map[camera.PropertyCode]camera.PropertyInfo
	pending   map[camera.PropertyCode]pendingSet
	buffer    []storedObject
	card      map[camera.ObjectHandle]storedObject
	nextObj   camera.ObjectHandle
	seq       int
	busyUntil time.Time
	buttons   map[camera.ControlCode]bool
	zoomStart time.Time
	stopBurst chan struct{}
	sessions  int

	// failNext makes the next exposure fail with these caution flags.
	failNext  uint16
	failArmed bool

	events chan camera.Event
}

// New returns a powered-on, disconnected simulated camera.
func New(cfg Config) *Camera {
	cfg.applyDefaults()
	c := &Camera{
		cfg:     cfg,
		events:  make(chan camera.Event, 64),
		buttons: make(map[camera.ControlCode]bool),
		nextObj: 1,
	}
	c.resetLocked()
	c.card = make(map[camera.ObjectHandle]storedObject)
	for range cfg.CardFiles {
		c.storeOnCardLocked(c.newImageLocked(time.Now()))
	}
	return c
}

func enumOf(vals ...camera.DeviceValue) *camera.ValueSet {
	return &camera.ValueSet{Enum: vals}
}

func rangeOf(lo, hi, step camera.DeviceValue) *camera.ValueSet {
	return &camera.ValueSet{Range: &camera.ValueRange{Min: lo, Max: hi, Step: step}}
}

func defaults() []camera.PropertyInfo {
	rw := func(code camera.PropertyCode, v camera.DeviceValue, set *camera.ValueSet) camera.PropertyInfo {
		return camera.PropertyInfo{Code: code, Current: v, Default: v, Writable: true, Enabled: true, Constraints: set}
	}
	ro := func(code camera.PropertyCode, v camera.DeviceValue) camera.PropertyInfo {
		return camera.PropertyInfo{Code: code, Current: v, Default: v, Enabled: true}
	}
	return []camera.PropertyInfo{
		rw(camera.PropOperatingMode, camera.ModeStandby.Value(), enumOf(
			camera.ModeStandby.Value(), camera.ModeStillRec.Value(),
			camera.ModeMovieRec.Value(), camera.ModeContentsTransfer.Value())),
		rw(camera.PropExposureMode, camera.ExposureProgramAuto.Value(), enumOf(
			camera.ExposureManual.Value(), camera.ExposureProgramAuto.Value(),
			camera.ExposureAperturePriority.Value(), camera.ExposureShutterPriority.Value())),
		rw(camera.PropFocusMode, camera.FocusAutoStill.Value(), enumOf(
			camera.FocusManual.Value(), camera.FocusAutoStill.Value(), camera.FocusAutoContinuous.Value())),
		rw(camera.PropDriveMode, camera.DriveNormal.Value(), enumOf(
			camera.DriveNormal.Value(), camera.DriveContinuousShot.Value(),
			camera.DriveSpeedPriorityContinuousShot.Value())),
		rw(camera.PropSaveMedia, camera.SaveCard1.Value(), enumOf(camera.SaveHost.Value(), camera.SaveCard1.Value())),
		rw(camera.PropShutterSpeed, camera.Uint32(1<<16|250), nil),
		rw(camera.PropISO, camera.Uint32(uint32(camera.ISOAuto)), nil),
		rw(camera.PropFNumber, camera.Uint16(560), nil),
		rw(camera.PropCompression, camera.Uint8(uint8(camera.CompressionFine)), nil),
		rw(camera.PropZoomAbsolutePosition, camera.Uint8(0), rangeOf(camera.Uint8(0), camera.Uint8(100), camera.Uint8(1))),
		ro(camera.PropZoomMagnificationInfo, magnificationAt(0)),
		rw(camera.PropIntervalTime, camera.Uint16(20), rangeOf(camera.Uint16(10), camera.Uint16(300), camera.Uint16(5))),
		rw(camera.PropDateTime, camera.String(""), nil),
		ro(camera.PropFocusIndication, camera.Uint8(uint8(camera.FocusAFUnlock))),
		ro(camera.PropShootingFileInfo, camera.Uint16(0)),
		ro(camera.PropCaution, camera.Uint16(0)),
		ro(camera.PropIntervalStillRecordingState, camera.Uint8(0)),
		ro(camera.PropBatteryLevel, camera.Int8(80)),
		ro(camera.PropLiveViewStatus, camera.Uint8(1)),
	}
}

// resetLocked restores factory property values.
func (c *Camera) resetLocked() {
	c.props = make(map[camera.PropertyCode]camera.PropertyInfo)
	for _, p := range defaults() {
		c.props[p.Code] = p
	}
	c.pending = make(map[camera.PropertyCode]pendingSet)
}

// Connect opens a session.
func (c *Camera) Connect(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = true
	c.sessions++
	return nil
}

// Disconnect closes the session.
func (c *Camera) Disconnect(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	c.stopBurstLocked()
	return nil
}

// Sessions returns how many times Connect has been called.
func (c *Camera) Sessions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessions
}

func (c *Camera) checkLocked() error {
	if !c.connected {
		return ErrNotConnected
	}
	return nil
}

// settleLocked applies writes whose delay has elapsed and derives the
// busy bit of the shooting file info.
func (c *Camera) settleLocked(now time.Time) {
	for code, p := range c.pending {
		if now.Before(p.at) {
			continue
		}
		c.setLocked(code, p.value)
		delete(c.pending, code)
	}
	sfi := uint16(min(len(c.buffer), 0x7FFF))
	if now.Before(c.busyUntil) {
		sfi |= 0x8000
	}
	c.setLocked(camera.PropShootingFileInfo, camera.Uint16(sfi))
}

func (c *Camera) setLocked(code camera.PropertyCode, v camera.DeviceValue) {
	info := c.props[code]
	info.Code = code
	info.Current = v
	c.props[code] = info
	if code == camera.PropZoomAbsolutePosition {
		n, _ := v.Uint()
		c.setLocked(camera.PropZoomMagnificationInfo, magnificationAt(n))
	}
}

// magnificationAt reports the zoom magnification info for a lens
// position: 100% at the wide end plus 2% per position step.
func magnificationAt(pos uint64) camera.DeviceValue {
	return camera.Array(camera.KindUint16Array, []uint64{100, 100 + 2*pos})
}

// Query returns every property.
func (c *Camera) Query(_ context.Context) (map[camera.PropertyCode]camera.PropertyInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkLocked(); err != nil {
		return nil, err
	}
	c.settleLocked(time.Now())
	return maps.Clone(c.props), nil
}

// Set schedules a property write.
func (c *Camera) Set(_ context.Context, code camera.PropertyCode, value camera.DeviceValue) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkLocked(); err != nil {
		return err
	}
	info, ok := c.props[code]
	if !ok || !info.Writable {
		return fmt.Errorf("%w: %s is not writable", ErrRejected, code)
	}
	if value.Kind() != info.Current.Kind() {
		return fmt.Errorf("%w: %s expects %s, got %s", ErrRejected, code, info.Current.Kind(), value.Kind())
	}
	// Out-of-set values are accepted but never applied, as the device does.
	if !allowed(info.Constraints, value) {
		return nil
	}
	// Repeating a pending write does not restart its delay.
	if p, ok := c.pending[code]; ok && p.value.Equal(value) {
		return nil
	}
	c.pending[code] = pendingSet{value: value, at: time.Now().Add(c.cfg.SettleDelay)}
	return nil
}

func allowed(set *camera.ValueSet, v camera.DeviceValue) bool {
	switch {
	case set == nil:
		return true
	case set.Range != nil:
		n, ok := v.Uint()
		lo, _ := set.Range.Min.Uint()
		hi, _ := set.Range.Max.Uint()
		return ok && n >= lo && n <= hi
	default:
		return slices.ContainsFunc(set.Enum, v.Equal)
	}
}

func (c *Camera) currentLocked(code camera.PropertyCode) uint64 {
	n, _ := c.props[code].Current.Uint()
	return n
}

// Execute performs a control.
func (c *Camera) Execute(_ context.Context, code camera.ControlCode, value camera.DeviceValue) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkLocked(); err != nil {
		return err
	}
	c.settleLocked(time.Now())
	pressed := value.Equal(camera.ButtonPress)
	was := c.buttons[code]
	c.buttons[code] = pressed

	switch code {
	case camera.CtrlS1Button:
		if pressed && !was {
			c.setLocked(camera.PropFocusIndication, camera.Uint8(uint8(camera.FocusFocusing)))
			time.AfterFunc(c.cfg.FocusDelay, c.lockFocus)
		} else if !pressed {
			c.setLocked(camera.PropFocusIndication, camera.Uint8(uint8(camera.FocusAFUnlock)))
		}
	case camera.CtrlS2Button:
		if pressed && !was && c.stillMode() {
			c.exposeLocked()
			if camera.DriveMode(c.currentLocked(camera.PropDriveMode)) != camera.DriveNormal {
				c.startBurstLocked(c.cfg.BurstInterval)
			}
		} else if !pressed {
			c.stopBurstLocked()
		}
	case camera.CtrlIntervalStillRecording:
		if pressed && !was && c.stillMode() {
			every := time.Duration(c.currentLocked(camera.PropIntervalTime)) * 100 * time.Millisecond
			c.setLocked(camera.PropIntervalStillRecordingState, camera.Uint8(1))
			c.exposeLocked()
			c.startBurstLocked(every)
		} else if !pressed {
			c.setLocked(camera.PropIntervalStillRecordingState, camera.Uint8(0))
			c.stopBurstLocked()
		}
	case camera.CtrlZoomControlTele, camera.CtrlZoomControlWide:
		if pressed {
			c.zoomStart = time.Now()
		} else if !c.zoomStart.IsZero() {
			c.zoomLocked(code == camera.CtrlZoomControlTele, time.Since(c.zoomStart))
			c.zoomStart = time.Time{}
		}
	case camera.CtrlZoomControlAbsolute:
		// The target was written to the position property beforehand.
		if p, ok := c.pending[camera.PropZoomAbsolutePosition]; ok {
			c.setLocked(camera.PropZoomAbsolutePosition, p.value)
			delete(c.pending, camera.PropZoomAbsolutePosition)
		}
	case camera.CtrlCameraSettingReset:
		if pressed && !was {
			c.resetLocked()
		}
	case camera.CtrlSystemInit:
		if pressed {
			c.stopBurstLocked()
			c.buttons = make(map[camera.ControlCode]bool)
			c.connected = false
		}
	default:
		if !code.Known() {
			return fmt.Errorf("%w: control %s", ErrRejected, code)
		}
	}
	return nil
}

func (c *Camera) stillMode() bool {
	return camera.OperatingMode(c.currentLocked(camera.PropOperatingMode)) == camera.ModeStillRec
}

func (c *Camera) lockFocus() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.buttons[camera.CtrlS1Button] {
		c.setLocked(camera.PropFocusIndication, camera.Uint8(uint8(camera.FocusAFLock)))
	}
}

// zoomLocked moves the lens ten steps per second held.
func (c *Camera) zoomLocked(tele bool, held time.Duration) {
	steps := int(held / (100 * time.Millisecond))
	pos := int(c.currentLocked(camera.PropZoomAbsolutePosition))
	if tele {
		pos = min(pos+steps, 100)
	} else {
		pos = max(pos-steps, 0)
	}
	c.setLocked(camera.PropZoomAbsolutePosition, camera.Uint8(uint8(pos)))
}

func (c *Camera) startBurstLocked(every time.Duration) {
	c.stopBurstLocked()
	stop := make(chan struct{})
	c.stopBurst = stop
	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				c.mu.Lock()
				if c.connected {
					c.exposeLocked()
				}
				c.mu.Unlock()
			}
		}
	}()
}

func (c *Camera) stopBurstLocked() {
	if c.stopBurst != nil {
		close(c.stopBurst)
		c.stopBurst = nil
	}
}

// exposeLocked takes one frame into the host buffer, or onto the card when
// saving there, and raises capture-complete.
func (c *Camera) exposeLocked() {
	now := time.Now()
	if c.failArmed {
		c.failArmed = false
		c.setLocked(camera.PropCaution, camera.Uint16(c.failNext))
		c.raiseLocked(camera.Event{Code: camera.EventCaptureComplete, Params: []uint32{captureFailed}})
		return
	}
	c.setLocked(camera.PropCaution, camera.Uint16(0))
	obj := c.newImageLocked(now)
	if camera.SaveMedia(c.currentLocked(camera.PropSaveMedia)) == camera.SaveCard1 {
		c.storeOnCardLocked(obj)
	} else {
		c.buffer = append(c.buffer, obj)
	}
	c.busyUntil = now.Add(c.cfg.WriteDelay)
	c.settleLocked(now)

	c.raiseLocked(camera.Event{Code: camera.EventCaptureComplete, Params: []uint32{captureOK}})
}

// Capture-complete status parameters.
const (
	captureOK     uint32 = 0x0001
	captureFailed uint32 = 0x0002
)

// raiseLocked queues a device event, dropping it when nobody is reading.
func (c *Camera) raiseLocked(ev camera.Event) {
	select {
	case c.events <- ev:
	default:
	}
}

// FailNextCapture makes the next exposure fail: the camera raises
// capture-complete with a failure status and reports caution in
// PropCaution.
func (c *Camera) FailNextCapture(caution uint16) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failNext = caution
	c.failArmed = true
}

func (c *Camera) newImageLocked(at time.Time) storedObject {
	c.seq++
	data := renderJPEG(c.cfg.ImageWidth, c.cfg.ImageHeight, c.seq)
	return storedObject{
		info: camera.ObjectInfo{
			StorageID: camera.StorageCard,
			Format:    0x3801,
			Size:      uint64(len(data)),
			Filename:  fmt.Sprintf("DSC%05d.JPG", c.seq),
			Captured:  at,
			Modified:  at,
		},
		data: data,
	}
}

func (c *Camera) storeOnCardLocked(obj storedObject) {
	c.card[c.nextObj] = obj
	c.nextObj++
}

// renderJPEG draws a gradient with a frame-dependent tint.
func renderJPEG(w, h, seq int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, color.RGBA{
				R: uint8(x * 255 / w),
				G: uint8(y * 255 / h),
				B: uint8(seq * 37),
				A: 0xFF,
			})
		}
	}
	var buf bytes.Buffer
	_ = jpeg.Encode(&buf, img, &jpeg.Options{Quality: 75})
	return buf.Bytes()
}

// Recv waits for one event.
func (c *Camera) Recv(ctx context.Context, timeout time.Duration) (*camera.Event, error) {
	c.mu.Lock()
	err := c.checkLocked()
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case ev := <-c.events:
		return &ev, nil
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ListStorage reports the card while in contents-transfer mode.
func (c *Camera) ListStorage(_ context.Context) ([]camera.StorageInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkLocked(); err != nil {
		return nil, err
	}
	c.settleLocked(time.Now())
	if camera.OperatingMode(c.currentLocked(camera.PropOperatingMode)) != camera.ModeContentsTransfer {
		return nil, nil
	}
	var used uint64
	for _, o := range c.card {
		used += o.info.Size
	}
	const capacity = 64 << 30
	return []camera.StorageInfo{{
		ID:          camera.StorageCard,
		Type:        4,
		Filesystem:  3,
		Capacity:    capacity,
		Free:        capacity - used,
		Description: "SD",
		Volume:      "SIMCARD",
	}}, nil
}

// ListObjects lists card files. Only the root folder exists.
func (c *Camera) ListObjects(_ context.Context, storage camera.StorageID, parent camera.ObjectHandle) ([]camera.ObjectHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkLocked(); err != nil {
		return nil, err
	}
	if storage != camera.StorageCard || parent != 0 {
		return nil, nil
	}
	handles := slices.Collect(maps.Keys(c.card))
	slices.Sort(handles)
	return handles, nil
}

func (c *Camera) objectLocked(handle camera.ObjectHandle) (storedObject, error) {
	if handle == camera.HandleImageBuffer {
		if len(c.buffer) == 0 {
			return storedObject{}, fmt.Errorf("%w: image buffer is empty", ErrNoObject)
		}
		return c.buffer[0], nil
	}
	obj, ok := c.card[handle]
	if !ok {
		return storedObject{}, fmt.Errorf("%w: 0x%08X", ErrNoObject, uint32(handle))
	}
	return obj, nil
}

// ObjectInfo returns object metadata.
func (c *Camera) ObjectInfo(_ context.Context, handle camera.ObjectHandle) (camera.ObjectInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkLocked(); err != nil {
		return camera.ObjectInfo{}, err
	}
	obj, err := c.objectLocked(handle)
	return obj.info, err
}

// ObjectData returns object content. Reading the image buffer consumes
// its oldest frame.
func (c *Camera) ObjectData(_ context.Context, handle camera.ObjectHandle) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkLocked(); err != nil {
		return nil, err
	}
	obj, err := c.objectLocked(handle)
	if err != nil {
		return nil, err
	}
	if handle == camera.HandleImageBuffer {
		c.buffer = c.buffer[1:]
		c.settleLocked(time.Now())
	}
	return slices.Clone(obj.data), nil
}

// Buffered returns the number of frames waiting in the host buffer.
func (c *Camera) Buffered() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buffer)
}

// CardFiles returns the number of files on the card.
func (c *Camera) CardFiles() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.card)
}
