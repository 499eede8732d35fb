package camera

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// pendingSet is a written value waiting to be applied by the fake.
type pendingSet struct {
	value     DeviceValue
	remaining int
}

// fakeTransport is an in-memory Transport for engine tests.
type fakeTransport struct {
	mu sync.Mutex

	props   map[PropertyCode]PropertyInfo
	pending map[PropertyCode]*pendingSet
	calls   []string

	// applyAfter is how many queries pass before a Set takes effect.
	applyAfter int
	// frozen properties ignore Set entirely.
	frozen map[PropertyCode]bool

	// sfiSeq and focusSeq override the reported value once per query.
	sfiSeq   []uint16
	focusSeq []uint8

	// extra is merged into every query result as-is.
	extra map[PropertyCode]PropertyInfo

	storages []StorageInfo
	objects  map[ObjectHandle]ObjectInfo

	failObjectData int
	errQuery       error
	errExecute     map[ControlCode]error

	onExecute func(code ControlCode, value DeviceValue)

	events chan Event

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	queries     atomic.Int32
	downloads   atomic.Int32
	connects    atomic.Int32
	queryDelay  time.Duration
}

func newFakeTransport() *fakeTransport {
	f := &fakeTransport{
		props:      make(map[PropertyCode]PropertyInfo),
		pending:    make(map[PropertyCode]*pendingSet),
		frozen:     make(map[PropertyCode]bool),
		objects:    make(map[ObjectHandle]ObjectInfo),
		errExecute: make(map[ControlCode]error),
		events:     make(chan Event, 16),
	}
	f.put(PropOperatingMode, ModeStillRec.Value())
	f.put(PropDriveMode, DriveNormal.Value())
	f.put(PropSaveMedia, SaveHost.Value())
	f.put(PropFocusMode, FocusManual.Value())
	f.put(PropShootingFileInfo, Uint16(0))
	f.put(PropCaution, Uint16(0))
	return f
}

func (f *fakeTransport) put(code PropertyCode, v DeviceValue) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.props[code] = PropertyInfo{Code: code, Current: v, Writable: true, Enabled: true}
}

func (f *fakeTransport) value(code PropertyCode) DeviceValue {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.props[code].Current
}

func (f *fakeTransport) record(format string, args ...any) {
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

func (f *fakeTransport) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeTransport) enter() func() {
	n := f.inFlight.Add(1)
	for {
		m := f.maxInFlight.Load()
		if n <= m || f.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}
	return func() { f.inFlight.Add(-1) }
}

func (f *fakeTransport) Connect(context.Context) error {
	defer f.enter()()
	f.connects.Add(1)
	f.mu.Lock()
	f.record("connect")
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Disconnect(context.Context) error {
	f.mu.Lock()
	f.record("disconnect")
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Query(context.Context) (map[PropertyCode]PropertyInfo, error) {
	defer f.enter()()
	if f.queryDelay > 0 {
		time.Sleep(f.queryDelay)
	}
	f.queries.Add(1)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.errQuery != nil {
		return nil, f.errQuery
	}
	for code, p := range f.pending {
		p.remaining--
		if p.remaining <= 0 {
			f.applyLocked(code, p.value)
			delete(f.pending, code)
		}
	}
	if len(f.sfiSeq) > 0 {
		f.applyLocked(PropShootingFileInfo, Uint16(f.sfiSeq[0]))
		f.sfiSeq = f.sfiSeq[1:]
	}
	if len(f.focusSeq) > 0 {
		f.applyLocked(PropFocusIndication, Uint8(f.focusSeq[0]))
		f.focusSeq = f.focusSeq[1:]
	}
	out := maps.Clone(f.props)
	maps.Copy(out, f.extra)
	return out, nil
}

func (f *fakeTransport) applyLocked(code PropertyCode, v DeviceValue) {
	info := f.props[code]
	info.Code = code
	info.Current = v
	f.props[code] = info
}

func (f *fakeTransport) Set(_ context.Context, code PropertyCode, v DeviceValue) error {
	defer f.enter()()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("set %s %s", code, v)
	if f.frozen[code] {
		return nil
	}
	if p, ok := f.pending[code]; ok && p.value.Equal(v) {
		return nil
	}
	if f.applyAfter <= 0 {
		f.applyLocked(code, v)
		return nil
	}
	f.pending[code] = &pendingSet{value: v, remaining: f.applyAfter}
	return nil
}

func (f *fakeTransport) Execute(_ context.Context, code ControlCode, v DeviceValue) error {
	defer f.enter()()
	f.mu.Lock()
	f.record("execute %s %s", code, v)
	err := f.errExecute[code]
	hook := f.onExecute
	f.mu.Unlock()
	if err != nil {
		return err
	}
	if hook != nil {
		hook(code, v)
	}
	return nil
}

func (f *fakeTransport) Recv(ctx context.Context, timeout time.Duration) (*Event, error) {
	defer f.enter()()
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case ev := <-f.events:
		return &ev, nil
	case <-t.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeTransport) ListStorage(context.Context) ([]StorageInfo, error) {
	defer f.enter()()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("list_storage")
	return append([]StorageInfo(nil), f.storages...), nil
}

func (f *fakeTransport) ListObjects(_ context.Context, storage StorageID, parent ObjectHandle) ([]ObjectHandle, error) {
	defer f.enter()()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("list_objects 0x%08X 0x%08X", uint32(storage), uint32(parent))
	var out []ObjectHandle
	for h, info := range f.objects {
		if info.ParentHandle == parent {
			out = append(out, h)
		}
	}
	return out, nil
}

func (f *fakeTransport) ObjectInfo(_ context.Context, h ObjectHandle) (ObjectInfo, error) {
	defer f.enter()()
	f.mu.Lock()
	defer f.mu.Unlock()
	if h == HandleImageBuffer {
		return ObjectInfo{Filename: fmt.Sprintf("DSC%05d.JPG", f.downloads.Load()+1), Format: 0x3801, Size: 4}, nil
	}
	info, ok := f.objects[h]
	if !ok {
		return ObjectInfo{}, errors.New("invalid object handle")
	}
	return info, nil
}

func (f *fakeTransport) ObjectData(_ context.Context, h ObjectHandle) ([]byte, error) {
	defer f.enter()()
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failObjectData > 0 {
		f.failObjectData--
		return nil, errors.New("incomplete transfer")
	}
	if h == HandleImageBuffer {
		f.downloads.Add(1)
		if v, ok := f.props[PropShootingFileInfo].Current.AsUint16(); ok && v&shootingPendingMask > 0 {
			f.applyLocked(PropShootingFileInfo, Uint16(v-1))
		}
	}
	return []byte{0xFF, 0xD8, 0xFF, 0xD9}, nil
}

// testOptions returns engine options with short timings.
func testOptions(ft *fakeTransport) Options {
	return Options{
		Transport:           ft,
		EnsureSpacing:       time.Millisecond,
		EventPollTimeout:    5 * time.Millisecond,
		PollInterval:        5 * time.Millisecond,
		ConfirmationTimeout: 500 * time.Millisecond,
		FocusTimeout:        500 * time.Millisecond,
		DownloadPollMin:     time.Millisecond,
		DownloadPollMax:     5 * time.Millisecond,
		StorageAttempts:     3,
		StorageSpacing:      time.Millisecond,
		TransferSettle:      time.Millisecond,
		ResetHold:           time.Millisecond,
		InitializeWait:      time.Millisecond,
		ZoomHold:            time.Millisecond,
		ZoomAbsoluteHold:    time.Millisecond,
		ZoomSettle:          time.Millisecond,
		ConnectSpacing:      time.Millisecond,
	}
}

// startEngine runs an engine until the test ends.
func startEngine(t *testing.T, opts Options) (*Engine, context.CancelFunc, <-chan error) {
	t.Helper()
	e, err := New(opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	waitFor(t, time.Second, func() bool { return e.Health().Running })

	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("engine did not stop")
		}
	})
	return e, cancel, done
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before timeout")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// startInterface runs a bare serializer until the test ends.
func startInterface(t *testing.T, ft *fakeTransport, opts InterfaceOptions) (*Interface, context.CancelFunc) {
	t.Helper()
	opts.Transport = ft
	if opts.EnsureSpacing == 0 {
		opts.EnsureSpacing = time.Millisecond
	}
	iface := NewInterface(opts)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = iface.Run(ctx) }()
	t.Cleanup(cancel)
	return iface, cancel
}
