package camera

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// driveModeFor selects the drive mode for a capture request.
func driveModeFor(req CaptureRequest) DriveMode {
	switch {
	case req.BurstDuration <= 0:
		return DriveNormal
	case req.BurstHighSpeed:
		return DriveSpeedPriorityContinuousShot
	default:
		return DriveContinuousShot
	}
}

// CaptureFailureReason classifies a failed capture on error events.
type CaptureFailureReason string

// Capture failure reasons.
const (
	FailureAutofocus         CaptureFailureReason = "autofocus_failed"
	FailureNoAcknowledgement CaptureFailureReason = "no_acknowledgement"
	FailureDevice            CaptureFailureReason = "device_error"
	FailureAborted           CaptureFailureReason = "aborted"
)

// captureFailure maps a capture error to its reason and, for device
// rejections, the named caution flags.
func captureFailure(err error) (CaptureFailureReason, []string) {
	var ce *CaptureError
	switch {
	case errors.As(err, &ce):
		return FailureDevice, CautionFlags(ce.Caution)
	case errors.Is(err, ErrAutofocusFailed):
		return FailureAutofocus, nil
	case errors.Is(err, ErrConfirmationTimeout):
		return FailureNoAcknowledgement, nil
	}
	return FailureAborted, nil
}

// Capture-complete event status, carried in the first event parameter.
const (
	captureStatusOK     uint32 = 0x0001
	captureStatusFailed uint32 = 0x0002
)

// capture runs the capture state machine:
//
//	Idle → ModeEnsured → FocusAcquiring → Exposing → Confirming → Idle
//
// Any transport error aborts the sequence and is returned unchanged.
func (e *Engine) capture(ctx context.Context, req CaptureRequest) (CaptureResult, error) {
	start := time.Now()
	result, err := e.runCapture(ctx, req)
	if err != nil {
		e.captureErrors.Add(1)
		reason, caution := captureFailure(err)
		e.emit(CameraEvent{Type: CameraEventError, Op: "capture", Elapsed: time.Since(start),
			Err: fmt.Errorf("capture: %w", err), Reason: reason, Caution: caution})
		return CaptureResult{}, err
	}

	e.captures.Add(1)
	e.touch()
	e.logInfo("capture confirmed", "id", result.ID, "burst", result.Burst,
		"duration_ms", time.Since(start).Milliseconds())
	e.emit(CameraEvent{Type: CameraEventCapture, Timestamp: result.Timestamp, Capture: &result,
		Elapsed: time.Since(start)})
	e.triggerDownload()
	return result, nil
}

func (e *Engine) runCapture(ctx context.Context, req CaptureRequest) (CaptureResult, error) {
	// ModeEnsured
	if err := e.iface.Ensure(ctx, PropOperatingMode, ModeStillRec.Value()); err != nil {
		return CaptureResult{}, fmt.Errorf("entering still recording mode: %w", err)
	}
	if err := e.iface.Ensure(ctx, PropDriveMode, driveModeFor(req).Value()); err != nil {
		return CaptureResult{}, fmt.Errorf("setting drive mode: %w", err)
	}

	// The subscription is taken before exposure so a fast capture event
	// cannot be missed.
	sub := e.events.Subscribe(defaultEventBuffer)
	defer sub.Close()

	before, err := e.shootingFileInfo(ctx)
	if err != nil && !errors.Is(err, ErrUnknownProperty) {
		return CaptureResult{}, err
	}

	// FocusAcquiring
	if err := e.press(ctx, CtrlS1Button); err != nil {
		return CaptureResult{}, err
	}
	if err := e.acquireFocus(ctx); err != nil {
		return CaptureResult{}, err
	}

	// Exposing
	if err := e.press(ctx, CtrlS2Button); err != nil {
		e.releaseButtons(CtrlS1Button)
		return CaptureResult{}, err
	}
	triggered := time.Now()
	e.emit(CameraEvent{Type: CameraEventTrigger, Timestamp: triggered})

	if err := sleep(ctx, req.BurstDuration); err != nil {
		e.releaseButtons(CtrlS2Button, CtrlS1Button)
		return CaptureResult{}, err
	}
	if err := e.release(ctx, CtrlS2Button); err != nil {
		e.releaseButtons(CtrlS1Button)
		return CaptureResult{}, err
	}
	if err := e.release(ctx, CtrlS1Button); err != nil {
		return CaptureResult{}, err
	}

	// Confirming
	if err := e.confirmCapture(ctx, sub, before); err != nil {
		return CaptureResult{}, err
	}
	return CaptureResult{
		ID:          uuid.NewString(),
		Timestamp:   triggered,
		ConfirmedAt: time.Now(),
		Burst:       req.BurstDuration > 0,
	}, nil
}

// acquireFocus waits for autofocus when the camera is in AF-S. Other focus
// modes expose immediately.
func (e *Engine) acquireFocus(ctx context.Context) error {
	g, err := e.iface.Enter(ctx)
	if err != nil {
		return err
	}
	err = g.Update()
	var mode DeviceValue
	if err == nil {
		mode, err = g.GetValue(PropFocusMode)
	}
	g.Release()
	switch {
	case errors.Is(err, ErrUnknownProperty):
		return nil
	case err != nil:
		return err
	case !mode.Equal(FocusAutoStill.Value()):
		return nil
	}

	deadline := time.Now().Add(e.opts.FocusTimeout)
	for {
		indication, err := e.focusIndication(ctx)
		if err != nil && !errors.Is(err, ErrUnknownProperty) {
			return err
		}
		switch FocusIndication(indication) {
		case FocusAFLock, FocusFocusedContinuous:
			e.logDebug("focus acquired", "indication", indication)
			return nil
		case FocusAFWarning:
			e.logWarn("autofocus warning, releasing shutter")
			e.releaseButtons(CtrlS1Button)
			return ErrAutofocusFailed
		}
		// Focusing, AF unlock or not reported yet: keep polling.
		if time.Now().After(deadline) {
			e.releaseButtons(CtrlS1Button)
			return fmt.Errorf("%w: focus not acquired within %s", ErrAutofocusFailed, e.opts.FocusTimeout)
		}
		if err := sleep(ctx, e.opts.PollInterval); err != nil {
			e.releaseButtons(CtrlS1Button)
			return err
		}
	}
}

func (e *Engine) focusIndication(ctx context.Context) (uint8, error) {
	g, err := e.iface.Enter(ctx)
	if err != nil {
		return 0, err
	}
	defer g.Release()
	if err := g.Update(); err != nil {
		return 0, err
	}
	v, err := g.GetValue(PropFocusIndication)
	if err != nil {
		return 0, err
	}
	n, _ := v.Uint()
	return uint8(n), nil
}

// confirmCapture races a capture-complete event against a change of the
// shooting file info. Whichever is seen first decides the outcome. A
// capture-complete event reporting failure returns a *CaptureError.
func (e *Engine) confirmCapture(ctx context.Context, sub *Subscription[Event], before DeviceValue) error {
	timeout := time.NewTimer(e.opts.ConfirmationTimeout)
	defer timeout.Stop()
	ticker := time.NewTicker(e.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timeout.C:
			return ErrConfirmationTimeout
		case ev, ok := <-sub.C():
			if !ok {
				return ErrWorkerGone
			}
			if ev.Code != EventCaptureComplete {
				continue
			}
			var status uint32
			if len(ev.Params) > 0 {
				status = ev.Params[0]
			}
			switch status {
			case captureStatusOK:
				e.logDebug("capture confirmed by event")
				return nil
			case captureStatusFailed:
				return e.captureRejected(ctx)
			default:
				e.logWarn("unexpected capture status from camera", "params", ev.Params)
			}
		case <-ticker.C:
			current, err := e.shootingFileInfo(ctx)
			if err != nil {
				if errors.Is(err, ErrUnknownProperty) {
					continue
				}
				return err
			}
			if !current.Equal(before) {
				e.logDebug("capture confirmed by file info", "before", before, "after", current)
				return nil
			}
		}
	}
}

// captureRejected reads the caution flags behind a failed capture.
func (e *Engine) captureRejected(ctx context.Context) error {
	g, err := e.iface.Enter(ctx)
	if err != nil {
		return err
	}
	err = g.Update()
	var caution DeviceValue
	if err == nil {
		caution, err = g.GetValue(PropCaution)
	}
	g.Release()
	if err != nil && !errors.Is(err, ErrUnknownProperty) {
		return err
	}
	flags, _ := caution.AsUint16()
	e.logWarn("camera reported capture failure", "caution", CautionFlags(flags))
	return &CaptureError{Caution: flags}
}

// shootingFileInfo refreshes the cache and returns PropShootingFileInfo.
func (e *Engine) shootingFileInfo(ctx context.Context) (DeviceValue, error) {
	g, err := e.iface.Enter(ctx)
	if err != nil {
		return DeviceValue{}, err
	}
	defer g.Release()
	if err := g.Update(); err != nil {
		return DeviceValue{}, err
	}
	return g.GetValue(PropShootingFileInfo)
}

func (e *Engine) control(ctx context.Context, code ControlCode, value DeviceValue) error {
	g, err := e.iface.Enter(ctx)
	if err != nil {
		return err
	}
	defer g.Release()
	return g.Execute(code, value)
}

func (e *Engine) press(ctx context.Context, code ControlCode) error {
	return e.control(ctx, code, ButtonPress)
}

func (e *Engine) release(ctx context.Context, code ControlCode) error {
	return e.control(ctx, code, ButtonRelease)
}

// hold presses a control, waits d and releases it. The release is sent
// even if ctx is cancelled during the wait.
func (e *Engine) hold(ctx context.Context, code ControlCode, d time.Duration) error {
	if err := e.press(ctx, code); err != nil {
		return err
	}
	if err := sleep(ctx, d); err != nil {
		e.releaseButtons(code)
		return err
	}
	return e.release(ctx, code)
}

// releaseButtons is best-effort cleanup after an aborted sequence. It uses
// a detached context so cancellation does not leave a button held.
func (e *Engine) releaseButtons(codes ...ControlCode) {
	ctx, cancel := context.WithTimeout(context.Background(), e.opts.TransactionTimeout)
	defer cancel()
	for _, code := range codes {
		if err := e.release(ctx, code); err != nil {
			e.logError("failed to release control", err, "control", code)
		}
	}
}
