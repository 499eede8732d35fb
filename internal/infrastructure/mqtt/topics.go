package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefix is the root of every topic this process publishes or
// subscribes to.
//
// The layout mirrors the flat bridge scheme {prefix}/{category}/{device}/{id}
// so ground tooling can subscribe per category with a single wildcard.
const TopicPrefix = "payload"

// DeviceCamera is the device segment for the main camera.
const DeviceCamera = "camera"

// Event kinds published under payload/event/camera/{kind}.
const (
	EventCapture  = "capture"
	EventDownload = "download"
	EventError    = "error"
	EventTrigger  = "trigger"
)

// Topics builds payload topics.
//
//	t := mqtt.Topics{}
//	t.CameraCommand("cmd-42") // payload/command/camera/cmd-42
type Topics struct{}

// Command returns the topic a ground client publishes a command on.
// The final segment is the caller's command id, echoed in the ack.
func (Topics) Command(device, id string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefix, device, id)
}

// Ack returns the topic the bridge acknowledges a command on.
func (Topics) Ack(device, id string) string {
	return fmt.Sprintf("%s/ack/%s/%s", TopicPrefix, device, id)
}

// Request returns the topic for a read request.
func (Topics) Request(device, requestID string) string {
	return fmt.Sprintf("%s/request/%s/%s", TopicPrefix, device, requestID)
}

// Response returns the topic a request is answered on.
func (Topics) Response(device, requestID string) string {
	return fmt.Sprintf("%s/response/%s/%s", TopicPrefix, device, requestID)
}

// State returns a retained state topic.
func (Topics) State(device, name string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefix, device, name)
}

// Event returns the topic for asynchronous device events.
func (Topics) Event(device, kind string) string {
	return fmt.Sprintf("%s/event/%s/%s", TopicPrefix, device, kind)
}

// Health returns the periodic health topic for device.
func (Topics) Health(device string) string {
	return fmt.Sprintf("%s/health/%s", TopicPrefix, device)
}

// SystemStatus returns the retained online/offline topic.
func (Topics) SystemStatus() string {
	return TopicPrefix + "/system/status"
}

// CameraCommand is Command(DeviceCamera, id).
func (t Topics) CameraCommand(id string) string { return t.Command(DeviceCamera, id) }

// CameraAck is Ack(DeviceCamera, id).
func (t Topics) CameraAck(id string) string { return t.Ack(DeviceCamera, id) }

// CameraRequest is Request(DeviceCamera, requestID).
func (t Topics) CameraRequest(requestID string) string { return t.Request(DeviceCamera, requestID) }

// CameraResponse is Response(DeviceCamera, requestID).
func (t Topics) CameraResponse(requestID string) string { return t.Response(DeviceCamera, requestID) }

// CameraState is State(DeviceCamera, name).
func (t Topics) CameraState(name string) string { return t.State(DeviceCamera, name) }

// CameraEvent is Event(DeviceCamera, kind).
func (t Topics) CameraEvent(kind string) string { return t.Event(DeviceCamera, kind) }

// CameraHealth is Health(DeviceCamera).
func (t Topics) CameraHealth() string { return t.Health(DeviceCamera) }

// AllCameraCommands matches every camera command.
func (t Topics) AllCameraCommands() string { return t.Command(DeviceCamera, "+") }

// AllCameraRequests matches every camera request.
func (t Topics) AllCameraRequests() string { return t.Request(DeviceCamera, "+") }

// AllCameraEvents matches every camera event kind.
func (t Topics) AllCameraEvents() string { return t.Event(DeviceCamera, "+") }

// LastSegment returns the id segment of a command or request topic, or ""
// for a topic with no trailing segment.
func LastSegment(topic string) string {
	i := strings.LastIndexByte(topic, '/')
	if i < 0 || i == len(topic)-1 {
		return ""
	}
	return topic[i+1:]
}
