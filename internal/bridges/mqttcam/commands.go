package mqttcam

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/nerrad567/payload-core/internal/camera"
)

// Command names accepted on payload/command/camera/+.
const (
	CommandCapture           = "capture"
	CommandContinuousCapture = "continuous_capture"
	CommandZoom              = "zoom"
	CommandSet               = "set"
	CommandPropertySet       = "property_set"
	CommandReset             = "reset"
	CommandInitialize        = "initialize"
	CommandFileGet           = "file_get"
)

// Request actions accepted on payload/request/camera/+.
const (
	ActionStatus      = "status"
	ActionGet         = "get"
	ActionPropertyGet = "property_get"
	ActionStorageList = "storage_list"
	ActionFileList    = "file_list"
	ActionHealth      = "health"
)

// parseCommand converts a command message into an engine request.
func parseCommand(cmd CommandMessage) (camera.Request, error) {
	p := params(cmd.Parameters)
	switch cmd.Command {
	case CommandCapture:
		burst, err := p.millis("burst_ms")
		if err != nil {
			return nil, err
		}
		fast, err := p.boolean("high_speed")
		if err != nil {
			return nil, err
		}
		return camera.CaptureRequest{BurstDuration: burst, BurstHighSpeed: fast}, nil

	case CommandContinuousCapture:
		action, err := p.required("action")
		if err != nil {
			return nil, err
		}
		switch camera.ContinuousAction(action) {
		case camera.ContinuousStart, camera.ContinuousStop:
			return camera.ContinuousCaptureRequest{Action: camera.ContinuousAction(action)}, nil
		}
		return nil, fmt.Errorf("%w: action must be start or stop, got %q", ErrInvalidParameters, action)

	case CommandZoom:
		return parseZoom(p)

	case CommandSet:
		name, err := p.required("setting")
		if err != nil {
			return nil, err
		}
		setting, err := camera.ParseSetting(name)
		if err != nil {
			return nil, err
		}
		value, err := p.required("value")
		if err != nil {
			return nil, err
		}
		return camera.SetRequest{Setting: setting, Value: value}, nil

	case CommandPropertySet:
		code, err := p.propertyCode("code")
		if err != nil {
			return nil, err
		}
		kindName, err := p.required("type")
		if err != nil {
			return nil, err
		}
		kind, err := camera.ParseValueKind(kindName)
		if err != nil {
			return nil, err
		}
		text, err := p.required("value")
		if err != nil {
			return nil, err
		}
		value, err := camera.ParseDeviceValue(kind, text)
		if err != nil {
			return nil, err
		}
		return camera.PropertySetRequest{Code: code, Value: value}, nil

	case CommandReset:
		return camera.ResetRequest{}, nil

	case CommandInitialize:
		return camera.InitializeRequest{}, nil

	case CommandFileGet:
		handle, err := p.uint32("handle")
		if err != nil {
			return nil, err
		}
		return camera.FileGetRequest{Handle: camera.ObjectHandle(handle)}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Command)
}

func parseZoom(p params) (camera.Request, error) {
	mode, err := p.required("mode")
	if err != nil {
		return nil, err
	}
	req := camera.ZoomRequest{Mode: camera.ZoomMode(mode)}
	switch req.Mode {
	case camera.ZoomWide, camera.ZoomTele:
		if req.Duration, err = p.millis("duration_ms"); err != nil {
			return nil, err
		}
	case camera.ZoomLevel:
		if _, ok := p["level"]; !ok {
			return nil, fmt.Errorf("%w: level is required", ErrInvalidParameters)
		}
		level, err := p.integer("level")
		if err != nil {
			return nil, err
		}
		if level < 0 || level > math.MaxUint8 {
			return nil, fmt.Errorf("%w: level %d out of range 0-255", ErrInvalidParameters, level)
		}
		req.Level = uint8(level)
	case camera.ZoomFocalLength:
		mm, err := p.number("focal_length_mm")
		if err != nil {
			return nil, err
		}
		if !(mm > 0) || math.IsInf(mm, 0) {
			return nil, fmt.Errorf("%w: focal_length_mm must be positive", ErrInvalidParameters)
		}
		req.FocalLength = mm
	default:
		return nil, fmt.Errorf("%w: mode must be wide, tele, level or focal_length, got %q", ErrInvalidParameters, mode)
	}
	return req, nil
}

// parseRequest converts a request message into an engine request. The
// health action is answered by the bridge itself and never reaches here.
func parseRequest(req RequestMessage) (camera.Request, error) {
	p := params(req.Parameters)
	switch req.Action {
	case ActionStatus:
		return camera.StatusRequest{}, nil

	case ActionGet:
		name, err := p.required("setting")
		if err != nil {
			return nil, err
		}
		setting, err := camera.ParseSetting(name)
		if err != nil {
			return nil, err
		}
		return camera.GetRequest{Setting: setting}, nil

	case ActionPropertyGet:
		code, err := p.propertyCode("code")
		if err != nil {
			return nil, err
		}
		return camera.PropertyGetRequest{Code: code}, nil

	case ActionStorageList:
		return camera.StorageListRequest{}, nil

	case ActionFileList:
		parent, err := p.uint32("parent")
		if err != nil {
			return nil, err
		}
		return camera.FileListRequest{Parent: camera.ObjectHandle(parent)}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, req.Action)
}

// params reads typed values out of a decoded JSON parameter map. Absent
// keys yield zero values; present keys of the wrong type are errors.
type params map[string]any

func (p params) string(key string) (string, error) {
	switch v := p[key].(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case json.Number:
		return v.String(), nil
	case bool:
		return strconv.FormatBool(v), nil
	}
	return "", fmt.Errorf("%w: %s must be a string", ErrInvalidParameters, key)
}

func (p params) required(key string) (string, error) {
	s, err := p.string(key)
	if err != nil {
		return "", err
	}
	if s == "" {
		return "", fmt.Errorf("%w: %s is required", ErrInvalidParameters, key)
	}
	return s, nil
}

func (p params) integer(key string) (int64, error) {
	switch v := p[key].(type) {
	case nil:
		return 0, nil
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("%w: %s must be an integer", ErrInvalidParameters, key)
		}
		return int64(v), nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, fmt.Errorf("%w: %s: %w", ErrInvalidParameters, key, err)
		}
		return n, nil
	case string:
		n, err := strconv.ParseInt(v, 0, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %s: %w", ErrInvalidParameters, key, err)
		}
		return n, nil
	}
	return 0, fmt.Errorf("%w: %s must be a number", ErrInvalidParameters, key)
}

func (p params) number(key string) (float64, error) {
	switch v := p[key].(type) {
	case nil:
		return 0, nil
	case float64:
		return v, nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, fmt.Errorf("%w: %s: %w", ErrInvalidParameters, key, err)
		}
		return f, nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %s: %w", ErrInvalidParameters, key, err)
		}
		return f, nil
	}
	return 0, fmt.Errorf("%w: %s must be a number", ErrInvalidParameters, key)
}

func (p params) uint32(key string) (uint32, error) {
	n, err := p.integer(key)
	if err != nil {
		return 0, err
	}
	if n < 0 || n > math.MaxUint32 {
		return 0, fmt.Errorf("%w: %s out of range", ErrInvalidParameters, key)
	}
	return uint32(n), nil
}

func (p params) millis(key string) (time.Duration, error) {
	n, err := p.integer(key)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("%w: %s must not be negative", ErrInvalidParameters, key)
	}
	return time.Duration(n) * time.Millisecond, nil
}

func (p params) boolean(key string) (bool, error) {
	switch v := p[key].(type) {
	case nil:
		return false, nil
	case bool:
		return v, nil
	case string:
		b, err := strconv.ParseBool(v)
		if err != nil {
			return false, fmt.Errorf("%w: %s: %w", ErrInvalidParameters, key, err)
		}
		return b, nil
	}
	return false, fmt.Errorf("%w: %s must be a boolean", ErrInvalidParameters, key)
}

// propertyCode accepts a property name, a hex string or a number.
func (p params) propertyCode(key string) (camera.PropertyCode, error) {
	switch v := p[key].(type) {
	case nil:
		return 0, fmt.Errorf("%w: %s is required", ErrInvalidParameters, key)
	case string:
		return camera.ParsePropertyCode(v)
	}
	n, err := p.integer(key)
	if err != nil {
		return 0, err
	}
	if n <= 0 || n > math.MaxUint16 {
		return 0, fmt.Errorf("%w: %s out of range", ErrInvalidParameters, key)
	}
	return camera.PropertyCode(n), nil
}
