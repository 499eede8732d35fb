package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/payload-core/internal/audit"
	"github.com/nerrad567/payload-core/internal/camera"
)

// Request bodies for camera endpoints.

// setPropertyRequest is the body for PUT /properties/{name}.
// Kind is required when {name} is a raw property rather than a setting.
type setPropertyRequest struct {
	Value json.RawMessage `json:"value"`
	Kind  string          `json:"kind,omitempty"`
}

// captureRequest is the body for POST /capture. An empty body takes a
// single shot.
type captureRequest struct {
	BurstMS   int64 `json:"burst_ms"`
	HighSpeed bool  `json:"high_speed"`
}

// zoomRequest is the body for POST /zoom.
type zoomRequest struct {
	Mode       string `json:"mode"`
	DurationMS int64  `json:"duration_ms,omitempty"`
	Level      *int   `json:"level,omitempty"`

	// FocalLengthMM selects focal_length mode when Mode is empty.
	FocalLengthMM *float64 `json:"focal_length_mm,omitempty"`
}

// downloadRequest is the body for POST /files/download. A zero handle
// fetches the next buffered image.
type downloadRequest struct {
	Handle uint32 `json:"handle"`
}

// do runs req on the engine with the server's request timeout.
func (s *Server) do(ctx context.Context, req camera.Request) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, s.requestTimeout)
	defer cancel()

	start := time.Now()
	resp, err := s.engine.Do(ctx, req)
	if err != nil {
		s.logger.Warn("camera request failed",
			"kind", req.Kind(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", ctx.Value(ctxKeyRequestID),
			"error", err,
		)
		return nil, err
	}
	s.logger.Debug("camera request completed",
		"kind", req.Kind(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return resp, nil
}

// serve runs req and writes the response or the mapped error.
func (s *Server) serve(w http.ResponseWriter, r *http.Request, req camera.Request) {
	resp, err := s.do(r.Context(), req)
	if err != nil {
		writeCameraError(w, err)
		return
	}
	if resp == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// decodeOptional decodes an optional JSON body into v. An empty body
// leaves v untouched.
func decodeOptional(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// handleStatus returns a snapshot of the camera's main properties.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.serve(w, r, camera.StatusRequest{})
}

// handleGetProperty reads a typed setting or a raw property.
func (s *Server) handleGetProperty(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	if setting, err := camera.ParseSetting(name); err == nil {
		s.serve(w, r, camera.GetRequest{Setting: setting})
		return
	}

	code, err := camera.ParsePropertyCode(name)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidValue, err.Error())
		return
	}
	s.serve(w, r, camera.PropertyGetRequest{Code: code})
}

// handleSetProperty applies a typed setting or drives a raw property.
func (s *Server) handleSetProperty(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var body setPropertyRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	value, err := rawText(body.Value)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	if setting, parseErr := camera.ParseSetting(name); parseErr == nil {
		s.serveAudited(w, r, camera.SetRequest{Setting: setting, Value: value},
			audit.ActionPropertySet, name, map[string]any{"value": value})
		return
	}

	code, err := camera.ParsePropertyCode(name)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidValue, err.Error())
		return
	}
	if body.Kind == "" {
		writeBadRequest(w, "kind is required for raw properties")
		return
	}
	kind, err := camera.ParseValueKind(body.Kind)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidValue, err.Error())
		return
	}
	dv, err := camera.ParseDeviceValue(kind, value)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidValue, err.Error())
		return
	}
	s.serveAudited(w, r, camera.PropertySetRequest{Code: code, Value: dv},
		audit.ActionPropertySet, code.String(), map[string]any{"value": value, "kind": body.Kind})
}

// rawText returns a JSON string's contents, or a number's literal text.
func rawText(raw json.RawMessage) (string, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return "", fmt.Errorf("value is required")
	}
	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("invalid value: %w", err)
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("value must be a string or number")
	}
	return n.String(), nil
}

// handleCapture takes a still image or a burst.
func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	var body captureRequest
	if err := decodeOptional(r, &body); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if body.BurstMS < 0 {
		writeBadRequest(w, "burst_ms must not be negative")
		return
	}

	s.serve(w, r, camera.CaptureRequest{
		BurstDuration:  time.Duration(body.BurstMS) * time.Millisecond,
		BurstHighSpeed: body.HighSpeed,
	})
}

// handleContinuousCapture starts or stops interval still recording.
func (s *Server) handleContinuousCapture(w http.ResponseWriter, r *http.Request) {
	action := camera.ContinuousAction(chi.URLParam(r, "action"))
	if action != camera.ContinuousStart && action != camera.ContinuousStop {
		writeBadRequest(w, "action must be start or stop")
		return
	}
	s.serve(w, r, camera.ContinuousCaptureRequest{Action: action})
}

// handleZoom moves the lens wide, tele, or to an absolute level.
func (s *Server) handleZoom(w http.ResponseWriter, r *http.Request) {
	var body zoomRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	mode := camera.ZoomMode(body.Mode)
	switch {
	case mode != "":
	case body.Level != nil:
		mode = camera.ZoomLevel
	case body.FocalLengthMM != nil:
		mode = camera.ZoomFocalLength
	}
	if body.DurationMS < 0 {
		writeBadRequest(w, "duration_ms must not be negative")
		return
	}

	req := camera.ZoomRequest{
		Mode:     mode,
		Duration: time.Duration(body.DurationMS) * time.Millisecond,
	}
	switch mode {
	case camera.ZoomWide, camera.ZoomTele:
	case camera.ZoomLevel:
		if body.Level == nil {
			writeBadRequest(w, "level is required for level zoom")
			return
		}
		if *body.Level < 0 || *body.Level > 255 {
			writeBadRequest(w, "level must be between 0 and 255")
			return
		}
		req.Level = uint8(*body.Level)
	case camera.ZoomFocalLength:
		if body.FocalLengthMM == nil || *body.FocalLengthMM <= 0 {
			writeBadRequest(w, "focal_length_mm must be positive for focal_length zoom")
			return
		}
		req.FocalLength = *body.FocalLengthMM
	default:
		writeBadRequest(w, "mode must be wide, tele, level or focal_length")
		return
	}

	s.serve(w, r, req)
}

// handleReset restores the camera's factory settings.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.serveAudited(w, r, camera.ResetRequest{}, audit.ActionReset, "", nil)
}

// handleInitialize reboots the camera system and reconnects.
func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	s.serveAudited(w, r, camera.InitializeRequest{}, audit.ActionInitialize, "", nil)
}

// handleListStorage lists storages in contents transfer mode.
func (s *Server) handleListStorage(w http.ResponseWriter, r *http.Request) {
	s.serve(w, r, camera.StorageListRequest{})
}

// handleListFiles lists objects under ?parent= (default: storage root).
func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	var parent camera.ObjectHandle
	if v := r.URL.Query().Get("parent"); v != "" {
		n, err := strconv.ParseUint(v, 0, 32)
		if err != nil {
			writeBadRequest(w, "parent must be an object handle")
			return
		}
		parent = camera.ObjectHandle(n)
	}
	s.serve(w, r, camera.FileListRequest{Parent: parent})
}

// handleDownloadFile fetches one object. The response carries metadata
// only; image data reaches the ground over the MQTT download stream.
func (s *Server) handleDownloadFile(w http.ResponseWriter, r *http.Request) {
	var body downloadRequest
	if err := decodeOptional(r, &body); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	s.serve(w, r, camera.FileGetRequest{Handle: camera.ObjectHandle(body.Handle)})
}
