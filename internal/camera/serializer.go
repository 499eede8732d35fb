package camera

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"
)

// Serializer defaults.
const (
	// defaultTransactionTimeout bounds one transport transaction.
	defaultTransactionTimeout = 5 * time.Second

	// defaultConnectTimeout bounds a connect or reconnect transaction.
	defaultConnectTimeout = 30 * time.Second

	// requestQueueSize is the buffer of the worker's request queue.
	// Admission is already limited to one guard, so one slot suffices.
	requestQueueSize = 1
)

// InterfaceOptions configures an Interface.
type InterfaceOptions struct {
	// Transport is the device link. Required.
	Transport Transport

	// TransactionTimeout bounds each transaction. Default: 5s.
	TransactionTimeout time.Duration

	// ConnectTimeout bounds connect transactions. Default: 30s.
	ConnectTimeout time.Duration

	// EnsureAttempts is the convergence budget. Default: 10.
	EnsureAttempts int

	// EnsureSpacing is the pause between convergence attempts. Default: 100ms.
	EnsureSpacing time.Duration

	// Logger is optional.
	Logger Logger
}

// Interface serializes all access to one Transport.
//
// A caller first acquires the single admission permit with Enter, then
// issues typed operations on the returned Guard. Each operation is executed
// by a dedicated worker goroutine that exclusively owns the transport and
// the property cache, so at most one transaction is ever outstanding.
type Interface struct {
	transport Transport
	cache     *propertyCache

	permit chan struct{}
	reqs   chan request
	done   chan struct{}

	txTimeout      time.Duration
	connectTimeout time.Duration
	ensureAttempts int
	ensureSpacing  time.Duration

	runOnce sync.Once
	logSink
}

type request struct {
	op      string
	timeout time.Duration
	fn      func(ctx context.Context) (any, error)
	reply   chan reply
}

type reply struct {
	val any
	err error
}

// NewInterface creates an Interface. Call Run to start its worker.
func NewInterface(opts InterfaceOptions) *Interface {
	i := &Interface{
		transport:      opts.Transport,
		cache:          newPropertyCache(),
		permit:         make(chan struct{}, 1),
		reqs:           make(chan request, requestQueueSize),
		done:           make(chan struct{}),
		txTimeout:      opts.TransactionTimeout,
		connectTimeout: opts.ConnectTimeout,
		ensureAttempts: opts.EnsureAttempts,
		ensureSpacing:  opts.EnsureSpacing,
	}
	if i.txTimeout <= 0 {
		i.txTimeout = defaultTransactionTimeout
	}
	if i.connectTimeout <= 0 {
		i.connectTimeout = defaultConnectTimeout
	}
	if i.ensureAttempts <= 0 {
		i.ensureAttempts = defaultEnsureAttempts
	}
	if i.ensureSpacing <= 0 {
		i.ensureSpacing = defaultEnsureSpacing
	}
	i.logger = opts.Logger
	return i
}

// Run executes transactions until ctx is cancelled. A transaction already
// taken from the queue always runs to completion and replies before Run
// returns. Run may only be called once.
func (i *Interface) Run(ctx context.Context) error {
	started := false
	i.runOnce.Do(func() { started = true })
	if !started {
		return fmt.Errorf("camera: interface worker already started")
	}
	defer close(i.done)

	for {
		select {
		case <-ctx.Done():
			return nil
		case req := <-i.reqs:
			i.execute(req)
		}
	}
}

// execute runs one transaction with its own deadline. The caller's
// context is deliberately not used: cancellation never tears a
// transaction in half.
func (i *Interface) execute(req request) {
	timeout := req.timeout
	if timeout <= 0 {
		timeout = i.txTimeout
	}
	txCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	val, err := req.fn(txCtx)
	req.reply <- reply{val: val, err: err}
}

// Done is closed when the worker has exited.
func (i *Interface) Done() <-chan struct{} {
	return i.done
}

// Enter acquires the admission permit. It blocks until the permit is
// free, ctx is cancelled or the worker is gone.
func (i *Interface) Enter(ctx context.Context) (*Guard, error) {
	select {
	case <-i.done:
		return nil, ErrWorkerGone
	default:
	}
	select {
	case i.permit <- struct{}{}:
		return &Guard{iface: i}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-i.done:
		return nil, ErrWorkerGone
	}
}

// Guard is scoped exclusive access to the device. It must be released.
// A Guard is not safe for concurrent use.
type Guard struct {
	iface    *Interface
	released bool
}

// Release returns the admission permit. Calling it twice is a no-op.
func (g *Guard) Release() {
	if g == nil || g.released {
		return
	}
	g.released = true
	<-g.iface.permit
}

// call hands fn to the worker and waits for its reply. Once enqueued the
// transaction is always awaited.
func (g *Guard) call(op string, timeout time.Duration, fn func(ctx context.Context) (any, error)) (any, error) {
	if g.released {
		return nil, ErrGuardReleased
	}
	i := g.iface
	req := request{op: op, timeout: timeout, fn: fn, reply: make(chan reply, 1)}

	select {
	case i.reqs <- req:
	case <-i.done:
		return nil, ErrWorkerGone
	}

	select {
	case r := <-req.reply:
		return r.val, r.err
	case <-i.done:
		// The worker replies before exiting if it took the request.
		select {
		case r := <-req.reply:
			return r.val, r.err
		default:
			return nil, ErrWorkerGone
		}
	}
}

func transportErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrTransport, op, err)
}

// Update queries every property and merges the result into the cache.
func (g *Guard) Update() error {
	_, err := g.call("update", 0, func(ctx context.Context) (any, error) {
		infos, err := g.iface.transport.Query(ctx)
		if err != nil {
			return nil, transportErr("query", err)
		}
		if dropped := g.iface.cache.merge(infos); len(dropped) > 0 {
			g.iface.logDebug("ignoring unrecognised properties", "codes", dropped)
		}
		return nil, nil
	})
	return err
}

// GetInfo returns the cached info for code, or ErrUnknownProperty.
func (g *Guard) GetInfo(code PropertyCode) (PropertyInfo, error) {
	val, err := g.call("get_info", 0, func(context.Context) (any, error) {
		info, ok := g.iface.cache.info(code)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownProperty, code)
		}
		return info, nil
	})
	if err != nil {
		return PropertyInfo{}, err
	}
	return val.(PropertyInfo), nil
}

// GetValue returns the cached current value for code, or ErrUnknownProperty.
func (g *Guard) GetValue(code PropertyCode) (DeviceValue, error) {
	info, err := g.GetInfo(code)
	if err != nil {
		return DeviceValue{}, err
	}
	return info.Current, nil
}

// Set writes a property. The cache is not touched until the next Update.
func (g *Guard) Set(code PropertyCode, value DeviceValue) error {
	_, err := g.call("set", 0, func(ctx context.Context) (any, error) {
		return nil, transportErr("set "+code.String(), g.iface.transport.Set(ctx, code, value))
	})
	return err
}

// Execute triggers a control.
func (g *Guard) Execute(code ControlCode, value DeviceValue) error {
	_, err := g.call("execute", 0, func(ctx context.Context) (any, error) {
		return nil, transportErr("execute "+code.String(), g.iface.transport.Execute(ctx, code, value))
	})
	return err
}

// Recv waits up to timeout for one device event; nil means none arrived.
func (g *Guard) Recv(timeout time.Duration) (*Event, error) {
	val, err := g.call("recv", timeout+g.iface.txTimeout, func(ctx context.Context) (any, error) {
		ev, err := g.iface.transport.Recv(ctx, timeout)
		if err != nil {
			return nil, transportErr("recv", err)
		}
		return ev, nil
	})
	if err != nil {
		return nil, err
	}
	return val.(*Event), nil
}

// ListStorage returns the device's storages.
func (g *Guard) ListStorage() ([]StorageInfo, error) {
	val, err := g.call("list_storage", 0, func(ctx context.Context) (any, error) {
		s, err := g.iface.transport.ListStorage(ctx)
		return s, transportErr("list storage", err)
	})
	if err != nil {
		return nil, err
	}
	return val.([]StorageInfo), nil
}

// ListObjects returns object handles under parent.
func (g *Guard) ListObjects(storage StorageID, parent ObjectHandle) ([]ObjectHandle, error) {
	val, err := g.call("list_objects", 0, func(ctx context.Context) (any, error) {
		h, err := g.iface.transport.ListObjects(ctx, storage, parent)
		return h, transportErr("list objects", err)
	})
	if err != nil {
		return nil, err
	}
	return val.([]ObjectHandle), nil
}

// ObjectInfo returns metadata for handle.
func (g *Guard) ObjectInfo(handle ObjectHandle) (ObjectInfo, error) {
	val, err := g.call("object_info", 0, func(ctx context.Context) (any, error) {
		info, err := g.iface.transport.ObjectInfo(ctx, handle)
		return info, transportErr("object info", err)
	})
	if err != nil {
		return ObjectInfo{}, err
	}
	return val.(ObjectInfo), nil
}

// ObjectData returns the content of handle.
func (g *Guard) ObjectData(handle ObjectHandle) ([]byte, error) {
	val, err := g.call("object_data", 0, func(ctx context.Context) (any, error) {
		data, err := g.iface.transport.ObjectData(ctx, handle)
		return data, transportErr("object data", err)
	})
	if err != nil {
		return nil, err
	}
	return val.([]byte), nil
}

// Connect opens the transport session.
func (g *Guard) Connect() error {
	_, err := g.call("connect", g.iface.connectTimeout, func(ctx context.Context) (any, error) {
		return nil, transportErr("connect", g.iface.transport.Connect(ctx))
	})
	return err
}

// Reconnect closes and reopens the transport session.
func (g *Guard) Reconnect() error {
	_, err := g.call("reconnect", g.iface.connectTimeout, func(ctx context.Context) (any, error) {
		if err := g.iface.transport.Disconnect(ctx); err != nil {
			g.iface.logWarn("disconnect before reconnect failed", "error", err)
		}
		return nil, transportErr("connect", g.iface.transport.Connect(ctx))
	})
	return err
}

// Snapshot returns a copy of the whole cache.
func (g *Guard) Snapshot() (map[PropertyCode]PropertyInfo, error) {
	val, err := g.call("snapshot", 0, func(context.Context) (any, error) {
		return maps.Clone(g.iface.cache.entries), nil
	})
	if err != nil {
		return nil, err
	}
	return val.(map[PropertyCode]PropertyInfo), nil
}
