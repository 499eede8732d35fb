package mqttcam

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/payload-core/internal/camera"
	"github.com/nerrad567/payload-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/payload-core/internal/infrastructure/mqtt"
)

// Bridge operation constants.
const (
	// BridgeID identifies this bridge in health messages.
	BridgeID = "camera"

	defaultSubmitTimeout  = time.Second
	defaultCommandTimeout = 2 * time.Minute
	defaultEventBuffer    = 64

	// minTopicParts is the minimum segments in payload/{type}/camera/{id}.
	minTopicParts = 4

	stateName = "status"
)

// Bridge translates between MQTT and the camera engine.
// It handles:
//   - commands and requests from the ground segment, executed in arrival order
//   - capture, download and error events forwarded to MQTT and InfluxDB
//   - retained state and health reporting
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	engine  Engine
	mqtt    MQTTClient
	metrics MetricsWriter
	health  *HealthReporter
	topics  mqtt.Topics
	opts    Options

	ctx    context.Context
	cancel context.CancelFunc
	events *camera.Subscription[camera.CameraEvent]
	wg     sync.WaitGroup

	// submitMu keeps handler order equal to engine queue order when the
	// MQTT client delivers messages concurrently.
	submitMu sync.Mutex

	commandsReceived atomic.Uint64
	requestsReceived atomic.Uint64
	eventsPublished  atomic.Uint64
	failures         atomic.Uint64

	logSink
}

// Engine is the part of *camera.Engine the bridge drives.
type Engine interface {
	Submit(ctx context.Context, req camera.Request) (<-chan camera.Result, error)
	Subscribe(buffer int) *camera.Subscription[camera.CameraEvent]
	Health() camera.Health
}

// MQTTClient is the interface for MQTT operations.
// This allows mocking in tests and flexibility in implementation.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// MetricsWriter receives capture, download and status samples.
// *influxdb.Client satisfies it. Optional.
type MetricsWriter interface {
	WriteCapture(s influxdb.CaptureSample)
	WriteDownload(s influxdb.DownloadSample)
	WriteStatus(s influxdb.StatusSample)
}

// Options holds configuration for creating a bridge.
type Options struct {
	Engine  Engine
	MQTT    MQTTClient
	Metrics MetricsWriter
	Audit   AuditRecorder
	Logger  Logger

	// Version is reported in health messages.
	Version string

	// HealthInterval spaces health messages. Default: 30s.
	HealthInterval time.Duration

	// StateInterval spaces retained status snapshots. Default: HealthInterval.
	StateInterval time.Duration

	// SubmitTimeout bounds the wait for room in the engine queue before a
	// command is rejected as BUSY. Default: 1s.
	SubmitTimeout time.Duration

	// CommandTimeout bounds the wait for a command result. Default: 2m.
	CommandTimeout time.Duration

	// PublishImages attaches image bytes to download envelopes.
	PublishImages bool

	// QoS for acks, responses and events. Default: 1.
	QoS byte
}

// NewBridge creates a new bridge instance.
// Call Start() to begin operation.
func NewBridge(opts Options) (*Bridge, error) {
	if opts.Engine == nil {
		return nil, fmt.Errorf("%w: engine", ErrMissingDependency)
	}
	if opts.MQTT == nil {
		return nil, fmt.Errorf("%w: mqtt client", ErrMissingDependency)
	}
	if opts.HealthInterval <= 0 {
		opts.HealthInterval = defaultHealthInterval
	}
	if opts.StateInterval <= 0 {
		opts.StateInterval = opts.HealthInterval
	}
	if opts.SubmitTimeout <= 0 {
		opts.SubmitTimeout = defaultSubmitTimeout
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = defaultCommandTimeout
	}
	if opts.QoS == 0 {
		opts.QoS = 1
	}

	b := &Bridge{
		engine:  opts.Engine,
		mqtt:    opts.MQTT,
		metrics: opts.Metrics,
		opts:    opts,
	}
	b.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:  BridgeID,
		Version:   opts.Version,
		Interval:  opts.HealthInterval,
		Publisher: opts.MQTT,
		Camera:    opts.Engine,
		Stats:     b.Stats,
	})
	if opts.Logger != nil {
		b.SetLogger(opts.Logger)
	}
	return b, nil
}

// SetLogger sets the logger for the bridge and its health reporter.
func (b *Bridge) SetLogger(logger Logger) {
	b.logSink.SetLogger(logger)
	b.health.SetLogger(logger)
}

// Start subscribes to command and request topics, begins forwarding
// engine events and starts health reporting.
func (b *Bridge) Start(ctx context.Context) error {
	b.ctx, b.cancel = context.WithCancel(ctx)

	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}

	b.events = b.engine.Subscribe(defaultEventBuffer)
	b.wg.Add(1)
	go b.forwardEvents()

	commandTopic := b.topics.AllCameraCommands()
	if err := b.mqtt.Subscribe(commandTopic, 1, b.handleMQTTMessage); err != nil {
		b.Stop()
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logInfo("subscribed to commands", "topic", commandTopic)

	requestTopic := b.topics.AllCameraRequests()
	if err := b.mqtt.Subscribe(requestTopic, 1, b.handleMQTTMessage); err != nil {
		b.Stop()
		return fmt.Errorf("subscribe to requests: %w", err)
	}
	b.logInfo("subscribed to requests", "topic", requestTopic)

	b.health.Start(b.ctx)

	b.wg.Add(1)
	go b.stateLoop()

	b.logInfo("bridge started", "bridge_id", BridgeID, "publish_images", b.opts.PublishImages)
	return nil
}

// Stop gracefully shuts down the bridge. In-flight commands are abandoned
// without a final ack.
func (b *Bridge) Stop() {
	if b.cancel == nil {
		return
	}
	b.cancel()
	if b.events != nil {
		b.events.Close()
	}
	b.wg.Wait()
	b.health.Stop()
	b.logInfo("bridge stopped")
}

// Stats returns the bridge counters.
func (b *Bridge) Stats() Statistics {
	return Statistics{
		CommandsReceived: b.commandsReceived.Load(),
		RequestsReceived: b.requestsReceived.Load(),
		EventsPublished:  b.eventsPublished.Load(),
		Errors:           b.failures.Load(),
	}
}

// handleMQTTMessage routes incoming MQTT messages to appropriate handlers.
func (b *Bridge) handleMQTTMessage(topic string, payload []byte) {
	if b.ctx == nil || b.ctx.Err() != nil {
		return
	}
	parts := strings.Split(topic, "/")
	if len(parts) < minTopicParts {
		b.logError("invalid topic format", fmt.Errorf("topic: %s", topic))
		return
	}

	switch parts[1] {
	case "command":
		b.handleCommand(topic, payload)
	case "request":
		b.handleRequest(topic, payload)
	default:
		b.logError("unknown message type", fmt.Errorf("type: %s", parts[1]))
	}
}

// handleCommand validates a command, queues it on the engine and publishes
// "accepted" followed by the final ack once the engine replies.
func (b *Bridge) handleCommand(topic string, payload []byte) {
	b.commandsReceived.Add(1)

	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		cmd.ID = mqtt.LastSegment(topic)
		b.rejectCommand(cmd, ErrCodeMalformedMessage, err.Error())
		return
	}
	if cmd.ID == "" {
		cmd.ID = mqtt.LastSegment(topic)
	}

	req, err := parseCommand(cmd)
	if err != nil {
		b.rejectCommand(cmd, errorCode(err), err.Error())
		return
	}

	reply, err := b.submit(req)
	if err != nil {
		code := errorCode(err)
		if errors.Is(err, context.DeadlineExceeded) {
			code = ErrCodeBusy
		}
		b.rejectCommand(cmd, code, err.Error())
		return
	}

	b.publishAck(NewAckMessage(cmd, AckAccepted))
	b.logDebug("command accepted", "id", cmd.ID, "command", cmd.Command, "source", cmd.Source)

	b.wg.Add(1)
	go b.awaitCommand(cmd, reply)
}

func (b *Bridge) awaitCommand(cmd CommandMessage, reply <-chan camera.Result) {
	defer b.wg.Done()

	timer := time.NewTimer(b.opts.CommandTimeout)
	defer timer.Stop()

	select {
	case res := <-reply:
		b.recordAudit(cmd, res.Err)
		if res.Err != nil {
			b.failures.Add(1)
			b.publishAck(NewAckError(cmd, AckFailed, errorCode(res.Err), res.Err.Error()))
			b.logWarn("command failed", "id", cmd.ID, "command", cmd.Command, "error", res.Err)
			return
		}
		ack := NewAckMessage(cmd, AckCompleted)
		ack.Result = res.Response
		b.publishAck(ack)
		b.logInfo("command completed", "id", cmd.ID, "command", cmd.Command)
	case <-timer.C:
		b.failures.Add(1)
		b.recordAudit(cmd, ErrCommandTimeout)
		b.publishAck(NewAckError(cmd, AckFailed, ErrCodeTimeout,
			fmt.Sprintf("no result within %s", b.opts.CommandTimeout)))
	case <-b.ctx.Done():
	}
}

func (b *Bridge) rejectCommand(cmd CommandMessage, code, message string) {
	b.failures.Add(1)
	b.publishAck(NewAckError(cmd, AckRejected, code, message))
	b.logWarn("command rejected", "id", cmd.ID, "command", cmd.Command, "code", code, "reason", message)
}

func (b *Bridge) publishAck(ack AckMessage) {
	payload, err := json.Marshal(ack)
	if err != nil {
		b.logError("failed to marshal ack", err)
		return
	}
	if err := b.mqtt.Publish(b.topics.CameraAck(ack.CommandID), payload, b.opts.QoS, false); err != nil {
		b.logError("failed to publish ack", err, "id", ack.CommandID)
	}
}

// handleRequest answers a request. Health is served locally; everything
// else goes through the engine queue.
func (b *Bridge) handleRequest(topic string, payload []byte) {
	b.requestsReceived.Add(1)

	var req RequestMessage
	if err := json.Unmarshal(payload, &req); err != nil {
		b.publishResponse(NewErrorResponse(mqtt.LastSegment(topic), ErrCodeMalformedMessage, err.Error()))
		return
	}
	if req.RequestID == "" {
		req.RequestID = mqtt.LastSegment(topic)
	}

	if req.Action == ActionHealth {
		b.publishResponse(NewResponse(req.RequestID, b.health.Snapshot()))
		return
	}

	engineReq, err := parseRequest(req)
	if err != nil {
		b.failures.Add(1)
		b.publishResponse(NewErrorResponse(req.RequestID, errorCode(err), err.Error()))
		return
	}

	reply, err := b.submit(engineReq)
	if err != nil {
		code := errorCode(err)
		if errors.Is(err, context.DeadlineExceeded) {
			code = ErrCodeBusy
		}
		b.failures.Add(1)
		b.publishResponse(NewErrorResponse(req.RequestID, code, err.Error()))
		return
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		res, err := b.wait(reply)
		if err != nil {
			b.failures.Add(1)
			b.publishResponse(NewErrorResponse(req.RequestID, errorCode(err), err.Error()))
			return
		}
		b.publishResponse(NewResponse(req.RequestID, res))
	}()
}

func (b *Bridge) publishResponse(resp ResponseMessage) {
	payload, err := json.Marshal(resp)
	if err != nil {
		b.logError("failed to marshal response", err)
		return
	}
	if err := b.mqtt.Publish(b.topics.CameraResponse(resp.RequestID), payload, b.opts.QoS, false); err != nil {
		b.logError("failed to publish response", err, "request_id", resp.RequestID)
	}
}

// submit queues req on the engine, waiting at most SubmitTimeout for room.
func (b *Bridge) submit(req camera.Request) (<-chan camera.Result, error) {
	b.submitMu.Lock()
	defer b.submitMu.Unlock()

	ctx, cancel := context.WithTimeout(b.ctx, b.opts.SubmitTimeout)
	defer cancel()
	return b.engine.Submit(ctx, req)
}

// wait blocks for a result, bounded by CommandTimeout and the bridge context.
func (b *Bridge) wait(reply <-chan camera.Result) (any, error) {
	timer := time.NewTimer(b.opts.CommandTimeout)
	defer timer.Stop()

	select {
	case res := <-reply:
		return res.Response, res.Err
	case <-timer.C:
		return nil, fmt.Errorf("no result within %s: %w", b.opts.CommandTimeout, context.DeadlineExceeded)
	case <-b.ctx.Done():
		return nil, b.ctx.Err()
	}
}

// forwardEvents publishes engine events until the subscription closes.
func (b *Bridge) forwardEvents() {
	defer b.wg.Done()
	for {
		select {
		case <-b.ctx.Done():
			return
		case ev, ok := <-b.events.C():
			if !ok {
				return
			}
			b.publishEvent(ev)
		}
	}
}

func (b *Bridge) publishEvent(ev camera.CameraEvent) {
	var (
		topic   string
		payload []byte
		err     error
	)

	switch ev.Type {
	case camera.CameraEventCapture:
		topic = b.topics.CameraEvent(mqtt.EventCapture)
		payload, err = json.Marshal(EventMessage{
			Type:      ev.Type,
			Timestamp: ev.Timestamp.UTC(),
			Capture:   ev.Capture,
			ElapsedMS: ev.Elapsed.Milliseconds(),
		})
		if b.metrics != nil && ev.Capture != nil {
			b.metrics.WriteCapture(influxdb.CaptureSample{
				Time:     ev.Timestamp,
				Duration: ev.Elapsed,
				Burst:    ev.Capture.Burst,
				Success:  true,
			})
		}

	case camera.CameraEventTrigger:
		topic = b.topics.CameraEvent(mqtt.EventTrigger)
		payload, err = json.Marshal(EventMessage{
			Type:      ev.Type,
			Timestamp: ev.Timestamp.UTC(),
		})

	case camera.CameraEventDownload:
		if ev.Object == nil {
			return
		}
		topic = b.topics.CameraEvent(mqtt.EventDownload)
		payload, err = EncodeDownloadEnvelope(NewDownloadEnvelope(*ev.Object, b.opts.PublishImages))
		if b.metrics != nil {
			b.metrics.WriteDownload(influxdb.DownloadSample{
				Time:     ev.Timestamp,
				Bytes:    len(ev.Object.Data),
				Duration: ev.Elapsed,
				Format:   ev.Object.Info.Format,
			})
		}

	case camera.CameraEventError:
		code := errorCode(ev.Err)
		topic = b.topics.CameraEvent(mqtt.EventError)
		payload, err = json.Marshal(EventMessage{
			Type:      ev.Type,
			Timestamp: ev.Timestamp.UTC(),
			Op:        ev.Op,
			Code:      code,
			Message:   ev.Message,
			Reason:    string(ev.Reason),
			Caution:   ev.Caution,
			ElapsedMS: ev.Elapsed.Milliseconds(),
		})
		if b.metrics != nil && ev.Op == "capture" {
			b.metrics.WriteCapture(influxdb.CaptureSample{
				Time:     ev.Timestamp,
				Duration: ev.Elapsed,
				Error:    code,
			})
		}

	default:
		return
	}

	if err != nil {
		b.logError("failed to encode event", err, "type", ev.Type)
		return
	}
	if err := b.mqtt.Publish(topic, payload, b.opts.QoS, false); err != nil {
		b.failures.Add(1)
		b.logError("failed to publish event", err, "type", ev.Type)
		return
	}
	b.eventsPublished.Add(1)
}

// stateLoop publishes a retained status snapshot on every StateInterval
// tick while the camera is connected.
func (b *Bridge) stateLoop() {
	defer b.wg.Done()

	ticker := time.NewTicker(b.opts.StateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
			if err := b.PublishState(); err != nil && b.ctx.Err() == nil {
				b.logWarn("status snapshot failed", "error", err)
			}
		}
	}
}

// PublishState reads a status snapshot from the engine and publishes it
// retained on payload/state/camera/status. Call after Start.
func (b *Bridge) PublishState() error {
	health := b.engine.Health()
	if !health.Connected {
		b.writeStatusSample(health, nil)
		return nil
	}

	reply, err := b.submit(camera.StatusRequest{})
	if err != nil {
		return err
	}
	res, err := b.wait(reply)
	if err != nil {
		return err
	}
	status, ok := res.(camera.Status)
	if !ok {
		return fmt.Errorf("unexpected status response %T", res)
	}
	b.writeStatusSample(health, &status)

	payload, err := json.Marshal(StateMessage{
		Timestamp: time.Now().UTC(),
		Status:    status,
		Health:    health,
	})
	if err != nil {
		return err
	}
	return b.mqtt.Publish(b.topics.CameraState(stateName), payload, 1, true)
}

func (b *Bridge) writeStatusSample(health camera.Health, status *camera.Status) {
	if b.metrics == nil {
		return
	}
	s := influxdb.StatusSample{
		Time:          time.Now(),
		Connected:     health.Connected,
		Captures:      health.Captures,
		Downloads:     health.Downloads,
		EventsDropped: health.EventsDropped,
	}
	if status != nil {
		s.BatteryLevel = status.BatteryLevel
		s.PendingImages = status.PendingImages
	}
	b.metrics.WriteStatus(s)
}
