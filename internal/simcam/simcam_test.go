package simcam

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/payload-core/internal/camera"
)

func fastConfig() Config {
	return Config{
		SettleDelay:   5 * time.Millisecond,
		FocusDelay:    5 * time.Millisecond,
		WriteDelay:    5 * time.Millisecond,
		BurstInterval: 10 * time.Millisecond,
		ImageWidth:    16,
		ImageHeight:   16,
	}
}

func connected(t *testing.T, cfg Config) *Camera {
	t.Helper()
	c := New(cfg)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	return c
}

func current(t *testing.T, c *Camera, code camera.PropertyCode) camera.DeviceValue {
	t.Helper()
	props, err := c.Query(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return props[code].Current
}

func TestSetSettlesAfterDelay(t *testing.T) {
	c := connected(t, fastConfig())
	ctx := context.Background()

	if err := c.Set(ctx, camera.PropOperatingMode, camera.ModeStillRec.Value()); err != nil {
		t.Fatal(err)
	}
	if got := current(t, c, camera.PropOperatingMode); !got.Equal(camera.ModeStandby.Value()) {
		t.Errorf("applied immediately: %s", got)
	}
	time.Sleep(10 * time.Millisecond)
	if got := current(t, c, camera.PropOperatingMode); !got.Equal(camera.ModeStillRec.Value()) {
		t.Errorf("after settle = %s", got)
	}
}

func TestRepeatedSetKeepsDeadline(t *testing.T) {
	cfg := fastConfig()
	cfg.SettleDelay = 30 * time.Millisecond
	c := connected(t, cfg)
	ctx := context.Background()

	// Re-sending the same value, as convergence does, must not hold the
	// write back indefinitely.
	deadline := time.Now().Add(150 * time.Millisecond)
	for time.Now().Before(deadline) {
		if err := c.Set(ctx, camera.PropOperatingMode, camera.ModeStillRec.Value()); err != nil {
			t.Fatal(err)
		}
		if current(t, c, camera.PropOperatingMode).Equal(camera.ModeStillRec.Value()) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("repeated Set never settled")
}

func TestMagnificationFollowsZoomPosition(t *testing.T) {
	c := connected(t, fastConfig())
	ctx := context.Background()

	if err := c.Set(ctx, camera.PropZoomAbsolutePosition, camera.Uint8(10)); err != nil {
		t.Fatal(err)
	}
	_ = c.Execute(ctx, camera.CtrlZoomControlAbsolute, camera.ButtonPress)
	_ = c.Execute(ctx, camera.CtrlZoomControlAbsolute, camera.ButtonRelease)

	elems, ok := current(t, c, camera.PropZoomMagnificationInfo).Elems()
	if !ok || len(elems) != 2 || elems[1] != 120 {
		t.Errorf("magnification info = %v, want [100 120]", elems)
	}
}

func TestSetRejectsWrongKind(t *testing.T) {
	c := connected(t, fastConfig())
	err := c.Set(context.Background(), camera.PropOperatingMode, camera.Uint16(2))
	if !errors.Is(err, ErrRejected) {
		t.Errorf("err = %v, want ErrRejected", err)
	}
	err = c.Set(context.Background(), camera.PropShootingFileInfo, camera.Uint16(0))
	if !errors.Is(err, ErrRejected) {
		t.Errorf("read-only err = %v, want ErrRejected", err)
	}
}

func TestRequiresConnection(t *testing.T) {
	c := New(fastConfig())
	if _, err := c.Query(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("err = %v, want ErrNotConnected", err)
	}
}

func TestExposureOnlyInStillMode(t *testing.T) {
	c := connected(t, fastConfig())
	ctx := context.Background()

	_ = c.Execute(ctx, camera.CtrlS2Button, camera.ButtonPress)
	_ = c.Execute(ctx, camera.CtrlS2Button, camera.ButtonRelease)
	if c.Buffered() != 0 || c.CardFiles() != 0 {
		t.Fatal("exposed outside still recording mode")
	}
}

// runEngine drives sim with an engine until the test ends.
func runEngine(t *testing.T, sim *Camera) *camera.Engine {
	t.Helper()
	e, err := camera.New(camera.Options{
		Transport:        sim,
		EnsureSpacing:    5 * time.Millisecond,
		PollInterval:     5 * time.Millisecond,
		EventPollTimeout: 5 * time.Millisecond,
		DownloadPollMin:  2 * time.Millisecond,
		DownloadPollMax:  10 * time.Millisecond,
		ConnectSpacing:   time.Millisecond,
		ZoomSettle:       time.Millisecond,
		ZoomAbsoluteHold: time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return e
}

func TestEngineCaptureAndDownload(t *testing.T) {
	sim := New(fastConfig())
	e := runEngine(t, sim)
	sub := e.Subscribe(16)
	defer sub.Close()

	reqCtx, reqCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer reqCancel()
	res, err := e.Do(reqCtx, camera.CaptureRequest{})
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if r, ok := res.(camera.CaptureResult); !ok || r.ID == "" {
		t.Fatalf("result = %#v", res)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-sub.C():
			if ev.Type != camera.CameraEventDownload {
				continue
			}
			if ev.Object == nil || len(ev.Object.Data) == 0 || ev.Object.Info.Filename == "" {
				t.Fatalf("download event = %+v", ev)
			}
			if sim.Buffered() != 0 {
				t.Errorf("buffer still holds %d frames", sim.Buffered())
			}
			return
		case <-deadline:
			t.Fatal("no download event")
		}
	}
}

func TestStorageVisibleInTransferMode(t *testing.T) {
	cfg := fastConfig()
	cfg.CardFiles = 3
	c := connected(t, cfg)
	ctx := context.Background()

	if s, _ := c.ListStorage(ctx); len(s) != 0 {
		t.Fatalf("storage visible in standby: %+v", s)
	}
	_ = c.Set(ctx, camera.PropOperatingMode, camera.ModeContentsTransfer.Value())
	time.Sleep(10 * time.Millisecond)
	s, err := c.ListStorage(ctx)
	if err != nil || len(s) != 1 || s[0].ID != camera.StorageCard {
		t.Fatalf("ListStorage = %+v, %v", s, err)
	}
	handles, err := c.ListObjects(ctx, camera.StorageCard, 0)
	if err != nil || len(handles) != 3 {
		t.Fatalf("ListObjects = %v, %v", handles, err)
	}
	info, err := c.ObjectInfo(ctx, handles[0])
	if err != nil || info.Filename != "DSC00001.JPG" {
		t.Errorf("ObjectInfo = %+v, %v", info, err)
	}
}

func TestZoomHold(t *testing.T) {
	c := connected(t, fastConfig())
	ctx := context.Background()

	_ = c.Execute(ctx, camera.CtrlZoomControlTele, camera.ButtonPress)
	time.Sleep(350 * time.Millisecond)
	_ = c.Execute(ctx, camera.CtrlZoomControlTele, camera.ButtonRelease)

	pos, _ := current(t, c, camera.PropZoomAbsolutePosition).Uint()
	if pos < 3 {
		t.Errorf("zoom position = %d, want >= 3", pos)
	}
}

func TestEngineCaptureRejectedByCamera(t *testing.T) {
	sim := New(fastConfig())
	e := runEngine(t, sim)
	sub := e.Subscribe(16)
	defer sub.Close()

	sim.FailNextCapture(camera.CautionRecordingFailed | camera.CautionRecordingFailedCardFull)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := e.Do(ctx, camera.CaptureRequest{})
	var ce *camera.CaptureError
	if !errors.As(err, &ce) || !errors.Is(err, camera.ErrCaptureFailed) {
		t.Fatalf("capture error = %v, want *camera.CaptureError", err)
	}
	if ce.Caution&camera.CautionRecordingFailedCardFull == 0 {
		t.Errorf("caution = 0x%04X, want card-full", ce.Caution)
	}

	for {
		select {
		case ev := <-sub.C():
			if ev.Type != camera.CameraEventError {
				continue
			}
			if ev.Reason != camera.FailureDevice || len(ev.Caution) != 2 {
				t.Errorf("error event reason = %q caution = %v", ev.Reason, ev.Caution)
			}
			return
		case <-ctx.Done():
			t.Fatal("no capture error event")
		}
	}
}

func TestEngineZoomToFocalLength(t *testing.T) {
	sim := New(fastConfig())
	e := runEngine(t, sim)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	// 16mm wide end, 2% per step: 24mm is 150%, position 25.
	if _, err := e.Do(ctx, camera.ZoomRequest{Mode: camera.ZoomFocalLength, FocalLength: 24}); err != nil {
		t.Fatalf("zoom: %v", err)
	}
	if pos, _ := current(t, sim, camera.PropZoomAbsolutePosition).Uint(); pos != 25 {
		t.Errorf("zoom position = %d, want 25", pos)
	}
}
