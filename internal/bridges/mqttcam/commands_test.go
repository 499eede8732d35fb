package mqttcam

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/nerrad567/payload-core/internal/camera"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name    string
		command string
		params  map[string]any
		want    camera.Request
	}{
		{"single capture", CommandCapture, nil, camera.CaptureRequest{}},
		{"burst capture", CommandCapture, map[string]any{"burst_ms": float64(2000), "high_speed": "true"},
			camera.CaptureRequest{BurstDuration: 2 * time.Second, BurstHighSpeed: true}},
		{"continuous stop", CommandContinuousCapture, map[string]any{"action": "stop"},
			camera.ContinuousCaptureRequest{Action: camera.ContinuousStop}},
		{"zoom tele", CommandZoom, map[string]any{"mode": "tele", "duration_ms": float64(500)},
			camera.ZoomRequest{Mode: camera.ZoomTele, Duration: 500 * time.Millisecond}},
		{"zoom level", CommandZoom, map[string]any{"mode": "level", "level": float64(200)},
			camera.ZoomRequest{Mode: camera.ZoomLevel, Level: 200}},
		{"zoom focal length", CommandZoom, map[string]any{"mode": "focal_length", "focal_length_mm": 35.5},
			camera.ZoomRequest{Mode: camera.ZoomFocalLength, FocalLength: 35.5}},
		{"set numeric value", CommandSet, map[string]any{"setting": "cc-interval", "value": 2.5},
			camera.SetRequest{Setting: camera.SettingCCInterval, Value: "2.5"}},
		{"reset", CommandReset, nil, camera.ResetRequest{}},
		{"initialize", CommandInitialize, nil, camera.InitializeRequest{}},
		{"file get hex", CommandFileGet, map[string]any{"handle": "0x00000010"},
			camera.FileGetRequest{Handle: 0x10}},
		{"file get buffer", CommandFileGet, nil, camera.FileGetRequest{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseCommand(CommandMessage{Command: tt.command, Parameters: tt.params})
			if err != nil {
				t.Fatalf("parseCommand: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParsePropertySet(t *testing.T) {
	got, err := parseCommand(CommandMessage{
		Command:    CommandPropertySet,
		Parameters: map[string]any{"code": "0x5007", "type": "uint16", "value": "0x0118"},
	})
	if err != nil {
		t.Fatal(err)
	}
	req, ok := got.(camera.PropertySetRequest)
	if !ok {
		t.Fatalf("got %T", got)
	}
	if req.Code != 0x5007 || !req.Value.Equal(camera.Uint16(0x0118)) {
		t.Errorf("request = %+v", req)
	}
}

func TestParseCommandErrors(t *testing.T) {
	tests := []struct {
		name    string
		command string
		params  map[string]any
		wantErr error
	}{
		{"unknown command", "self_destruct", nil, ErrUnknownCommand},
		{"negative burst", CommandCapture, map[string]any{"burst_ms": float64(-1)}, ErrInvalidParameters},
		{"fractional burst", CommandCapture, map[string]any{"burst_ms": 1.5}, ErrInvalidParameters},
		{"bad high_speed", CommandCapture, map[string]any{"high_speed": []any{}}, ErrInvalidParameters},
		{"missing action", CommandContinuousCapture, nil, ErrInvalidParameters},
		{"bad action", CommandContinuousCapture, map[string]any{"action": "pause"}, ErrInvalidParameters},
		{"zoom level missing", CommandZoom, map[string]any{"mode": "level"}, ErrInvalidParameters},
		{"zoom level range", CommandZoom, map[string]any{"mode": "level", "level": float64(256)}, ErrInvalidParameters},
		{"zoom focal length missing", CommandZoom, map[string]any{"mode": "focal_length"}, ErrInvalidParameters},
		{"zoom focal length negative", CommandZoom, map[string]any{"mode": "focal_length", "focal_length_mm": -20.0}, ErrInvalidParameters},
		{"zoom focal length text", CommandZoom, map[string]any{"mode": "focal_length", "focal_length_mm": "wide"}, ErrInvalidParameters},
		{"unknown setting", CommandSet, map[string]any{"setting": "warp", "value": "9"}, camera.ErrInvalidValue},
		{"set missing value", CommandSet, map[string]any{"setting": "aperture"}, ErrInvalidParameters},
		{"bad kind", CommandPropertySet, map[string]any{"code": "0x5007", "type": "float", "value": "1"}, camera.ErrInvalidValue},
		{"value overflow", CommandPropertySet, map[string]any{"code": "0x5007", "type": "uint8", "value": "300"}, camera.ErrInvalidValue},
		{"handle range", CommandFileGet, map[string]any{"handle": float64(-5)}, ErrInvalidParameters},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseCommand(CommandMessage{Command: tt.command, Parameters: tt.params})
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseRequest(t *testing.T) {
	tests := []struct {
		action string
		params map[string]any
		want   camera.Request
	}{
		{ActionStatus, nil, camera.StatusRequest{}},
		{ActionGet, map[string]any{"setting": "focus-mode"}, camera.GetRequest{Setting: camera.SettingFocusMode}},
		{ActionPropertyGet, map[string]any{"code": float64(0x5007)}, camera.PropertyGetRequest{Code: 0x5007}},
		{ActionStorageList, nil, camera.StorageListRequest{}},
		{ActionFileList, map[string]any{"parent": float64(7)}, camera.FileListRequest{Parent: 7}},
	}
	for _, tt := range tests {
		t.Run(tt.action, func(t *testing.T) {
			got, err := parseRequest(RequestMessage{Action: tt.action, Parameters: tt.params})
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}

	if _, err := parseRequest(RequestMessage{Action: ActionPropertyGet}); !errors.Is(err, ErrInvalidParameters) {
		t.Errorf("missing code: err = %v", err)
	}
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("%w: x", ErrUnknownCommand), ErrCodeInvalidCommand},
		{camera.ErrInvalidValue, ErrCodeInvalidParameters},
		{fmt.Errorf("ensure: %w", camera.ErrConvergenceTimeout), ErrCodeConvergenceTimeout},
		{camera.ErrSettingFailed, ErrCodeSettingFailed},
		{fmt.Errorf("capture: %w", &camera.CaptureError{Caution: 0x0004}), ErrCodeCaptureFailed},
		{camera.ErrNoStorage, ErrCodeStorageUnavailable},
		{camera.ErrEngineStopped, ErrCodeEngineStopped},
		{camera.ErrWorkerGone, ErrCodeDeviceUnreachable},
		{context.DeadlineExceeded, ErrCodeTimeout},
		{errors.New("boom"), ErrCodeBridgeError},
	}
	for _, tt := range tests {
		if got := errorCode(tt.err); got != tt.want {
			t.Errorf("errorCode(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func TestNewAckErrorTimeoutStatus(t *testing.T) {
	cmd := CommandMessage{ID: "c", Command: CommandCapture}
	if ack := NewAckError(cmd, AckFailed, ErrCodeConfirmationTimeout, "late"); ack.Status != AckTimeout {
		t.Errorf("status = %s, want timeout", ack.Status)
	}
	if ack := NewAckError(cmd, AckRejected, ErrCodeBusy, "full"); ack.Status != AckRejected {
		t.Errorf("status = %s, want rejected", ack.Status)
	}
}

func TestDownloadEnvelopeRoundTrip(t *testing.T) {
	captured := time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC)
	obj := camera.DownloadedObject{
		ID:            "dl",
		Handle:        camera.HandleImageBuffer,
		Info:          camera.ObjectInfo{Filename: "DSC00002.JPG", Format: 0x3801, Size: 3},
		Data:          []byte{1, 2, 3},
		CapturedAt:    captured,
		FetchDuration: 250 * time.Millisecond,
	}
	data, err := EncodeDownloadEnvelope(NewDownloadEnvelope(obj, true))
	if err != nil {
		t.Fatal(err)
	}
	env, err := DecodeDownloadEnvelope(data)
	if err != nil {
		t.Fatal(err)
	}
	if !env.CapturedAt.Equal(captured) || env.ElapsedMS != 250 || len(env.Data) != 3 {
		t.Errorf("envelope = %+v", env)
	}
	if _, err := DecodeDownloadEnvelope([]byte{0xff}); err == nil {
		t.Error("expected error for garbage input")
	}
}
