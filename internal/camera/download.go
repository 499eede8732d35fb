package camera

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// drainSlack is how many extra objects a drain pass may fetch beyond the
// pending count first observed.
const drainSlack = 16

// triggerDownload requests a drain pass without blocking. Triggers
// coalesce while a pass is pending.
func (e *Engine) triggerDownload() {
	select {
	case e.trigger <- struct{}{}:
	default:
	}
}

// downloadLoop runs a drain pass on every capture-complete event and on
// every direct trigger.
func (e *Engine) downloadLoop(ctx context.Context) error {
	sub := e.events.Subscribe(defaultEventBuffer)
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub.C():
			if !ok {
				return nil
			}
			if ev.Code != EventCaptureComplete {
				continue
			}
		case <-e.trigger:
		}

		n, err := e.drain(ctx)
		switch {
		case ctx.Err() != nil:
			return nil
		case err != nil:
			e.logError("download pass failed", err, "downloaded", n)
			e.emit(CameraEvent{Type: CameraEventError, Op: "download", Err: fmt.Errorf("download: %w", err)})
		case n > 0:
			e.logInfo("download pass complete", "downloaded", n)
		}
	}
}

// drain fetches images from the in-camera buffer until the shooting file
// info reports none pending. A failed object is logged and the buffer is
// polled again. It returns the number of objects delivered.
func (e *Engine) drain(ctx context.Context) (int, error) {
	var (
		delivered int
		attempts  int
		limit     = -1
		wait      = e.opts.DownloadPollMin
		busySince time.Time
	)

	for {
		v, err := e.shootingFileInfo(ctx)
		if err != nil {
			if errors.Is(err, ErrUnknownProperty) {
				return delivered, nil
			}
			return delivered, err
		}
		info, ok := v.AsUint16()
		if !ok {
			return delivered, fmt.Errorf("%w: shooting file info has kind %s", ErrInvalidValue, v.Kind())
		}

		if info&shootingBusyBit != 0 {
			if busySince.IsZero() {
				busySince = time.Now()
			} else if time.Since(busySince) > e.opts.DownloadBusyTimeout {
				return delivered, fmt.Errorf("camera still writing after %s", e.opts.DownloadBusyTimeout)
			}
			if err := sleep(ctx, wait); err != nil {
				return delivered, err
			}
			wait = min(wait*2, e.opts.DownloadPollMax)
			continue
		}
		busySince = time.Time{}
		wait = e.opts.DownloadPollMin

		pending := int(info & shootingPendingMask)
		if pending == 0 {
			return delivered, nil
		}
		if limit < 0 {
			limit = pending + drainSlack
		}
		if attempts >= limit {
			e.logWarn("image buffer not draining, giving up", "pending", pending, "attempts", attempts)
			return delivered, nil
		}
		attempts++

		obj, err := e.fetchObject(ctx, HandleImageBuffer)
		if err != nil {
			if ctx.Err() != nil {
				return delivered, ctx.Err()
			}
			e.downloadErrors.Add(1)
			e.logError("failed to download image", err, "pending", pending)
			continue
		}
		delivered++
		e.publishDownload(obj)
	}
}

// fetchObject reads info and data for handle under one guard.
func (e *Engine) fetchObject(ctx context.Context, handle ObjectHandle) (DownloadedObject, error) {
	start := time.Now()
	g, err := e.iface.Enter(ctx)
	if err != nil {
		return DownloadedObject{}, err
	}
	defer g.Release()

	info, err := g.ObjectInfo(handle)
	if err != nil {
		return DownloadedObject{}, err
	}
	data, err := g.ObjectData(handle)
	if err != nil {
		return DownloadedObject{}, err
	}
	return DownloadedObject{
		ID:            uuid.NewString(),
		Handle:        handle,
		Info:          info,
		Data:          data,
		CapturedAt:    time.Now(),
		FetchDuration: time.Since(start),
	}, nil
}

func (e *Engine) publishDownload(obj DownloadedObject) {
	e.downloads.Add(1)
	e.touch()
	e.logInfo("image downloaded", "id", obj.ID, "filename", obj.Info.Filename, "bytes", len(obj.Data))
	e.emit(CameraEvent{Type: CameraEventDownload, Timestamp: obj.CapturedAt, Object: &obj, Elapsed: obj.FetchDuration})
}
