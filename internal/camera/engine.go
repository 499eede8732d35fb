package camera

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// Engine defaults.
const (
	defaultEventPollTimeout    = 100 * time.Millisecond
	defaultPollInterval        = 100 * time.Millisecond
	defaultConfirmationTimeout = 3 * time.Second
	defaultFocusTimeout        = 5 * time.Second
	defaultDownloadPollMin     = 100 * time.Millisecond
	defaultDownloadPollMax     = 500 * time.Millisecond
	defaultDownloadBusyTimeout = 30 * time.Second
	defaultStorageAttempts     = 10
	defaultStorageSpacing      = time.Second
	defaultTransferSettle      = time.Second
	defaultResetHold           = time.Second
	defaultInitializeWait      = 15 * time.Second
	defaultZoomHold            = time.Second
	defaultZoomAbsoluteHold    = 50 * time.Millisecond
	defaultZoomSettle          = time.Second
	defaultMinFocalLength      = 16.0
	defaultConnectAttempts     = 5
	defaultConnectSpacing      = 2 * time.Second
	defaultQueueSize           = 16
	defaultEventBuffer         = 32

	// dateTimeLayout is the device clock format, e.g. 20240102T150405.000+01:00.
	dateTimeLayout = "20060102T150405.000-07:00"
)

// Options configures an Engine. Zero values select the defaults.
type Options struct {
	// Transport is the device link. Required.
	Transport Transport

	// Logger is optional.
	Logger Logger

	TransactionTimeout time.Duration
	ConnectTimeout     time.Duration
	ConnectAttempts    int
	ConnectSpacing     time.Duration

	EnsureAttempts int
	EnsureSpacing  time.Duration

	// EventPollTimeout is the Recv timeout of the event poller. Default: 100ms.
	EventPollTimeout time.Duration

	// PollInterval spaces focus and confirmation polls. Default: 100ms.
	PollInterval time.Duration

	// ConfirmationTimeout bounds capture confirmation. Default: 3s.
	ConfirmationTimeout time.Duration

	// FocusTimeout bounds autofocus acquisition. Default: 5s.
	FocusTimeout time.Duration

	// DownloadPollMin and DownloadPollMax bound the wait while the device
	// is still writing an image. Defaults: 100ms and 500ms.
	DownloadPollMin     time.Duration
	DownloadPollMax     time.Duration
	DownloadBusyTimeout time.Duration

	StorageAttempts int
	StorageSpacing  time.Duration
	TransferSettle  time.Duration

	ResetHold        time.Duration
	InitializeWait   time.Duration
	ZoomHold         time.Duration
	ZoomAbsoluteHold time.Duration

	// ZoomSettle is the wait for the lens after each step of the
	// magnification sweep. Default: 1s.
	ZoomSettle time.Duration

	// MinFocalLength is the lens focal length at the wide end, in mm.
	// Default: 16.
	MinFocalLength float64

	// QueueSize is the inbound request buffer. Default: 16.
	QueueSize int
}

func (o *Options) applyDefaults() {
	setDur := func(d *time.Duration, def time.Duration) {
		if *d <= 0 {
			*d = def
		}
	}
	setInt := func(n *int, def int) {
		if *n <= 0 {
			*n = def
		}
	}
	setDur(&o.TransactionTimeout, defaultTransactionTimeout)
	setDur(&o.ConnectTimeout, defaultConnectTimeout)
	setInt(&o.ConnectAttempts, defaultConnectAttempts)
	setDur(&o.ConnectSpacing, defaultConnectSpacing)
	setInt(&o.EnsureAttempts, defaultEnsureAttempts)
	setDur(&o.EnsureSpacing, defaultEnsureSpacing)
	setDur(&o.EventPollTimeout, defaultEventPollTimeout)
	setDur(&o.PollInterval, defaultPollInterval)
	setDur(&o.ConfirmationTimeout, defaultConfirmationTimeout)
	setDur(&o.FocusTimeout, defaultFocusTimeout)
	setDur(&o.DownloadPollMin, defaultDownloadPollMin)
	setDur(&o.DownloadPollMax, defaultDownloadPollMax)
	setDur(&o.DownloadBusyTimeout, defaultDownloadBusyTimeout)
	setInt(&o.StorageAttempts, defaultStorageAttempts)
	setDur(&o.StorageSpacing, defaultStorageSpacing)
	setDur(&o.TransferSettle, defaultTransferSettle)
	setDur(&o.ResetHold, defaultResetHold)
	setDur(&o.InitializeWait, defaultInitializeWait)
	setDur(&o.ZoomHold, defaultZoomHold)
	setDur(&o.ZoomAbsoluteHold, defaultZoomAbsoluteHold)
	setDur(&o.ZoomSettle, defaultZoomSettle)
	if o.MinFocalLength <= 0 {
		o.MinFocalLength = defaultMinFocalLength
	}
	setInt(&o.QueueSize, defaultQueueSize)
	if o.DownloadPollMax < o.DownloadPollMin {
		o.DownloadPollMax = o.DownloadPollMin
	}
}

// CameraEventType discriminates outbound engine events.
type CameraEventType string

// Outbound event types.
const (
	CameraEventTrigger  CameraEventType = "trigger"
	CameraEventCapture  CameraEventType = "capture"
	CameraEventDownload CameraEventType = "download"
	CameraEventError    CameraEventType = "error"
)

// CameraEvent is published on the engine's outbound stream.
type CameraEvent struct {
	Type      CameraEventType   `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Capture   *CaptureResult    `json:"capture,omitempty"`
	Object    *DownloadedObject `json:"object,omitempty"`
	Err       error             `json:"-"`
	Message   string            `json:"message,omitempty"`

	// Op names the failed operation on error events: "capture" or "download".
	Op string `json:"op,omitempty"`

	// Reason classifies failed captures. Caution lists the device caution
	// flags when the camera itself rejected the capture.
	Reason  CaptureFailureReason `json:"reason,omitempty"`
	Caution []string             `json:"caution,omitempty"`

	// Elapsed is how long the capture sequence or object fetch took.
	Elapsed time.Duration `json:"-"`
}

// Health is a point-in-time view of engine activity.
type Health struct {
	Running        bool      `json:"running"`
	Connected      bool      `json:"connected"`
	Captures       uint64    `json:"captures"`
	CaptureErrors  uint64    `json:"capture_errors"`
	Downloads      uint64    `json:"downloads"`
	DownloadErrors uint64    `json:"download_errors"`
	Events         uint64    `json:"events"`
	EventsDropped  uint64    `json:"events_dropped"`
	LastActivity   time.Time `json:"last_activity,omitzero"`
}

type envelope struct {
	req   Request
	reply chan Result
}

// Engine is the camera control engine. It owns an Interface and runs the
// dispatch, event polling and download loops.
type Engine struct {
	opts   Options
	iface  *Interface
	events *Bus[Event]
	out    *Bus[CameraEvent]

	inbound chan envelope
	trigger chan struct{}

	// zoomTable maps lens positions to focal lengths. Built on first use
	// and only touched by the dispatch loop.
	zoomTable []zoomStep

	runOnce sync.Once
	stopped chan struct{}

	running        atomic.Bool
	connected      atomic.Bool
	captures       atomic.Uint64
	captureErrors  atomic.Uint64
	downloads      atomic.Uint64
	downloadErrors atomic.Uint64
	eventsSeen     atomic.Uint64
	lastActivity   atomic.Int64

	logSink
}

// New creates an Engine. Call Run to connect and start processing.
func New(opts Options) (*Engine, error) {
	if opts.Transport == nil {
		return nil, fmt.Errorf("camera: transport is required")
	}
	opts.applyDefaults()

	e := &Engine{
		opts: opts,
		iface: NewInterface(InterfaceOptions{
			Transport:          opts.Transport,
			TransactionTimeout: opts.TransactionTimeout,
			ConnectTimeout:     opts.ConnectTimeout,
			EnsureAttempts:     opts.EnsureAttempts,
			EnsureSpacing:      opts.EnsureSpacing,
			Logger:             opts.Logger,
		}),
		events:  NewBus[Event](),
		out:     NewBus[CameraEvent](),
		inbound: make(chan envelope, opts.QueueSize),
		trigger: make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
	e.logger = opts.Logger
	return e, nil
}

// Interface exposes the engine's serializer.
func (e *Engine) Interface() *Interface {
	return e.iface
}

// SetLogger replaces the logger of the engine and its serializer.
func (e *Engine) SetLogger(logger Logger) {
	e.logSink.SetLogger(logger)
	e.iface.SetLogger(logger)
}

// Subscribe returns a subscription to the outbound event stream.
func (e *Engine) Subscribe(buffer int) *Subscription[CameraEvent] {
	if buffer <= 0 {
		buffer = defaultEventBuffer
	}
	return e.out.Subscribe(buffer)
}

// DeviceEvents returns a subscription to raw device events.
func (e *Engine) DeviceEvents(buffer int) *Subscription[Event] {
	if buffer <= 0 {
		buffer = defaultEventBuffer
	}
	return e.events.Subscribe(buffer)
}

// Health returns current engine counters.
func (e *Engine) Health() Health {
	h := Health{
		Running:        e.running.Load(),
		Connected:      e.connected.Load(),
		Captures:       e.captures.Load(),
		CaptureErrors:  e.captureErrors.Load(),
		Downloads:      e.downloads.Load(),
		DownloadErrors: e.downloadErrors.Load(),
		Events:         e.eventsSeen.Load(),
		EventsDropped:  e.events.Dropped() + e.out.Dropped(),
	}
	if ts := e.lastActivity.Load(); ts > 0 {
		h.LastActivity = time.Unix(0, ts)
	}
	return h
}

func (e *Engine) touch() {
	e.lastActivity.Store(time.Now().UnixNano())
}

// Run connects to the device and processes requests until ctx is
// cancelled. The serializer worker, event poller, download loop and
// dispatch loop run under one errgroup. Run may only be called once.
func (e *Engine) Run(ctx context.Context) error {
	first := false
	e.runOnce.Do(func() { first = true })
	if !first {
		return fmt.Errorf("camera: engine already started")
	}
	defer close(e.stopped)
	defer e.out.Close()
	defer e.events.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.iface.Run(gctx) })

	if err := e.connect(gctx); err != nil {
		cancel()
		_ = g.Wait()
		return err
	}

	e.running.Store(true)
	defer e.running.Store(false)
	e.logInfo("camera engine started")

	g.Go(func() error { return e.pollEvents(gctx) })
	g.Go(func() error { return e.downloadLoop(gctx) })
	g.Go(func() error { return e.dispatch(gctx) })

	err := g.Wait()
	e.disconnect()
	e.logInfo("camera engine stopped")
	return err
}

// connect opens the session with retries, loads the cache, then syncs the
// device clock and routes captures to the host buffer.
func (e *Engine) connect(ctx context.Context) error {
	_, err := Retry(ctx, e.opts.ConnectAttempts, e.opts.ConnectSpacing, func(ctx context.Context) (struct{}, error) {
		g, err := e.iface.Enter(ctx)
		if err != nil {
			return struct{}{}, err
		}
		defer g.Release()
		if err := g.Connect(); err != nil {
			e.logWarn("camera connect failed", "error", err)
			return struct{}{}, err
		}
		return struct{}{}, g.Update()
	})
	if err != nil {
		return fmt.Errorf("connecting to camera: %w", err)
	}
	e.connected.Store(true)
	e.touch()
	e.logInfo("camera connected")

	e.afterConnect(ctx)
	return nil
}

func (e *Engine) afterConnect(ctx context.Context) {
	g, err := e.iface.Enter(ctx)
	if err != nil {
		return
	}
	now := time.Now().Format(dateTimeLayout)
	if err := g.Set(PropDateTime, String(now)); err != nil {
		e.logWarn("failed to set camera clock", "error", err)
	}
	g.Release()

	if err := e.iface.Ensure(ctx, PropSaveMedia, SaveHost.Value()); err != nil {
		e.logWarn("failed to route captures to host", "error", err)
	}
}

// disconnect closes the transport after the worker has exited; ownership
// of the transport is back with the engine at that point.
func (e *Engine) disconnect() {
	e.connected.Store(false)
	ctx, cancel := context.WithTimeout(context.Background(), e.opts.TransactionTimeout)
	defer cancel()
	if err := e.opts.Transport.Disconnect(ctx); err != nil {
		e.logError("camera disconnect failed", err)
	}
}

// pollEvents receives device events under short-lived guards and
// publishes them on the event bus.
func (e *Engine) pollEvents(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		g, err := e.iface.Enter(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		ev, err := g.Recv(e.opts.EventPollTimeout)
		g.Release()

		switch {
		case err != nil:
			e.logDebug("event poll failed", "error", err)
			if err := sleep(ctx, e.opts.EventPollTimeout); err != nil {
				return nil
			}
		case ev != nil:
			e.eventsSeen.Add(1)
			e.touch()
			e.logDebug("camera event", "code", ev.Code, "params", ev.Params)
			e.events.Publish(*ev)
		default:
			// Yield so waiting callers can take the permit.
			if err := sleep(ctx, time.Millisecond); err != nil {
				return nil
			}
		}
	}
}

// Submit queues req and returns the channel its result will arrive on.
func (e *Engine) Submit(ctx context.Context, req Request) (<-chan Result, error) {
	select {
	case <-e.stopped:
		return nil, ErrEngineStopped
	default:
	}
	env := envelope{req: req, reply: make(chan Result, 1)}
	select {
	case e.inbound <- env:
		return env.reply, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-e.stopped:
		return nil, ErrEngineStopped
	}
}

// Do submits req and waits for its result.
func (e *Engine) Do(ctx context.Context, req Request) (any, error) {
	ch, err := e.Submit(ctx, req)
	if err != nil {
		return nil, err
	}
	select {
	case res := <-ch:
		return res.Response, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-e.stopped:
		select {
		case res := <-ch:
			return res.Response, res.Err
		default:
			return nil, ErrEngineStopped
		}
	}
}

// dispatch processes requests strictly in arrival order. A handler error is
// returned to its caller and never stops the loop. If ctx is cancelled while
// a handler runs, the loop exits without replying.
func (e *Engine) dispatch(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case env := <-e.inbound:
			start := time.Now()
			resp, err := e.handle(ctx, env.req)
			if ctx.Err() != nil {
				e.logDebug("request abandoned on shutdown", "kind", env.req.Kind())
				return nil
			}
			if err != nil {
				e.logWarn("camera request failed", "kind", env.req.Kind(), "error", err,
					"duration_ms", time.Since(start).Milliseconds())
			} else {
				e.logDebug("camera request done", "kind", env.req.Kind(),
					"duration_ms", time.Since(start).Milliseconds())
			}
			env.reply <- Result{Response: resp, Err: err}
		}
	}
}

func (e *Engine) emit(ev CameraEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	if ev.Err != nil && ev.Message == "" {
		ev.Message = ev.Err.Error()
	}
	e.out.Publish(ev)
}
