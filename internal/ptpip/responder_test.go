package ptpip

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/payload-core/internal/camera"
)

// recordedOp is one operation seen by the fake responder.
type recordedOp struct {
	op     OpCode
	params []uint32
	data   []byte
}

type opHandler func(params []uint32, data []byte) (ResponseCode, []byte)

// fakeResponder is a minimal PTP/IP responder on a loopback listener.
type fakeResponder struct {
	t  *testing.T
	ln net.Listener

	mu         sync.Mutex
	ops        []recordedOp
	handlers   map[OpCode]opHandler
	conns      []net.Conn
	evt        net.Conn
	inits      int
	rejectInit bool
	evtReady   chan struct{}
}

func newFakeResponder(t *testing.T) *fakeResponder {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	r := &fakeResponder{
		t:        t,
		ln:       ln,
		handlers: make(map[OpCode]opHandler),
		evtReady: make(chan struct{}, 8),
	}
	r.handle(OpSdioGetExtDevInfo, func([]uint32, []byte) (ResponseCode, []byte) {
		return RespOK, encodeExtInfo(0x00C8, []uint16{0x5007, 0xD20D}, []uint16{0xD2C1})
	})
	go r.serve()
	t.Cleanup(func() {
		_ = ln.Close()
		r.dropAll()
	})
	return r
}

func (r *fakeResponder) addr() string { return r.ln.Addr().String() }

func (r *fakeResponder) handle(op OpCode, h opHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[op] = h
}

func (r *fakeResponder) recorded() []recordedOp {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedOp(nil), r.ops...)
}

func (r *fakeResponder) opCodes() []OpCode {
	var out []OpCode
	for _, o := range r.recorded() {
		out = append(out, o.op)
	}
	return out
}

func (r *fakeResponder) serve() {
	for {
		conn, err := r.ln.Accept()
		if err != nil {
			return
		}
		r.mu.Lock()
		r.conns = append(r.conns, conn)
		r.mu.Unlock()
		go r.serveConn(conn)
	}
}

func (r *fakeResponder) serveConn(conn net.Conn) {
	pkt, err := readPacket(conn)
	if err != nil {
		return
	}
	r.mu.Lock()
	reject := r.rejectInit
	r.mu.Unlock()
	if reject {
		e := newEncoder()
		e.u32(0x2)
		_ = writePacket(conn, pktInitFail, e.bytes())
		return
	}
	switch pkt.typ {
	case pktInitCommandRequest:
		r.mu.Lock()
		r.inits++
		r.mu.Unlock()
		e := newEncoder()
		e.u32(1)
		e.raw(make([]byte, 16))
		e.utf16z("ILCE-R10C")
		e.u32(protocolVersion)
		if writePacket(conn, pktInitCommandAck, e.bytes()) != nil {
			return
		}
		r.serveCommands(conn)
	case pktInitEventRequest:
		if writePacket(conn, pktInitEventAck, nil) != nil {
			return
		}
		r.mu.Lock()
		r.evt = conn
		r.mu.Unlock()
		r.evtReady <- struct{}{}
	}
}

func (r *fakeResponder) serveCommands(conn net.Conn) {
	for {
		pkt, err := readPacket(conn)
		if err != nil {
			return
		}
		if pkt.typ != pktOperationRequest {
			continue
		}
		d := newDecoder(pkt.payload)
		phase := d.u32()
		op := OpCode(d.u16())
		txid := d.u32()
		var params []uint32
		for d.remaining() >= 4 {
			params = append(params, d.u32())
		}

		var dataOut []byte
		if phase == dataPhaseOut {
			for {
				dp, err := readPacket(conn)
				if err != nil {
					return
				}
				if dp.typ == pktData || dp.typ == pktEndData {
					dataOut = append(dataOut, dp.payload[4:]...)
				}
				if dp.typ == pktEndData {
					break
				}
			}
		}

		r.mu.Lock()
		r.ops = append(r.ops, recordedOp{op: op, params: params, data: dataOut})
		h := r.handlers[op]
		r.mu.Unlock()

		code, reply := RespOK, []byte(nil)
		if h != nil {
			code, reply = h(params, dataOut)
		}
		if reply != nil {
			if writeData(conn, txid, reply) != nil {
				return
			}
		}
		e := newEncoder()
		e.u16(uint16(code))
		e.u32(txid)
		if writePacket(conn, pktOperationResponse, e.bytes()) != nil {
			return
		}
	}
}

func (r *fakeResponder) sendEvent(code uint16, params ...uint32) {
	r.t.Helper()
	r.mu.Lock()
	conn := r.evt
	r.mu.Unlock()
	e := newEncoder()
	e.u16(code)
	e.u32(0)
	for _, p := range params {
		e.u32(p)
	}
	if err := writePacket(conn, pktEvent, e.bytes()); err != nil {
		r.t.Fatalf("send event: %v", err)
	}
}

func (r *fakeResponder) dropAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.conns {
		_ = c.Close()
	}
	r.conns = nil
}

func encodeExtInfo(version uint16, props, controls []uint16) []byte {
	e := newEncoder()
	e.u16(version)
	e.u32(uint32(len(props)))
	for _, p := range props {
		e.u16(p)
	}
	e.u32(uint32(len(controls)))
	for _, c := range controls {
		e.u16(c)
	}
	return e.bytes()
}

// connectClient dials the responder and waits for the event channel.
func connectClient(t *testing.T, r *fakeResponder, cfg Config) *Client {
	t.Helper()
	cfg.Address = r.addr()
	if cfg.HandshakeSpacing == 0 {
		cfg.HandshakeSpacing = time.Millisecond
	}
	c, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	select {
	case <-r.evtReady:
	case <-time.After(2 * time.Second):
		t.Fatal("event channel never registered")
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestConnectHandshakeSequence(t *testing.T) {
	r := newFakeResponder(t)
	busy := 2
	r.handle(OpSdioGetExtDevInfo, func([]uint32, []byte) (ResponseCode, []byte) {
		if busy > 0 {
			busy--
			return RespDeviceBusy, nil
		}
		return RespOK, encodeExtInfo(0x00C8, []uint16{0x5007}, []uint16{0xD2C1, 0xD2C2})
	})
	c := connectClient(t, r, Config{})

	want := []OpCode{
		OpOpenSession,
		OpSdioConnect, OpSdioConnect,
		OpSdioGetExtDevInfo, OpSdioGetExtDevInfo, OpSdioGetExtDevInfo,
		OpSdioConnect,
	}
	got := r.opCodes()
	if len(got) != len(want) {
		t.Fatalf("ops = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("op %d = %s, want %s", i, got[i], want[i])
		}
	}

	ops := r.recorded()
	if ops[0].params[0] != sessionID {
		t.Errorf("OpenSession params = %v", ops[0].params)
	}
	for i, phase := range map[int]uint32{1: 1, 2: 2, 6: 3} {
		p := ops[i].params
		if len(p) != 3 || p[0] != phase || p[1] != sdioKeyCode || p[2] != sdioKeyCode {
			t.Errorf("SDIOConnect %d params = %v", phase, p)
		}
	}
	if ops[3].params[0] != sdioExtVersion {
		t.Errorf("GetExtDeviceInfo params = %v", ops[3].params)
	}

	info, ok := c.DeviceInfo()
	if !ok || info.Version != 0x00C8 || len(info.Controls) != 2 {
		t.Errorf("DeviceInfo() = %+v, %v", info, ok)
	}
	if s := c.Stats(); !s.Connected || s.DeviceName != "ILCE-R10C" {
		t.Errorf("Stats() = %+v", s)
	}
}

func TestConnectAcceptsSessionAlreadyOpen(t *testing.T) {
	r := newFakeResponder(t)
	r.handle(OpOpenSession, func([]uint32, []byte) (ResponseCode, []byte) {
		return RespSessionAlreadyOpen, nil
	})
	c := connectClient(t, r, Config{})
	if !c.IsConnected() {
		t.Fatal("expected connected")
	}
}

func TestConnectInitRejected(t *testing.T) {
	r := newFakeResponder(t)
	r.mu.Lock()
	r.rejectInit = true
	r.mu.Unlock()

	c, err := NewClient(Config{Address: r.addr()})
	if err != nil {
		t.Fatal(err)
	}
	err = c.Connect(context.Background())
	if !errors.Is(err, ErrInitRejected) {
		t.Fatalf("Connect() = %v, want ErrInitRejected", err)
	}
	if c.IsConnected() {
		t.Error("client reports connected after rejection")
	}
}

func TestOperationsBeforeConnect(t *testing.T) {
	c, err := NewClient(Config{Address: "127.0.0.1:1"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Query(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Query() = %v, want ErrNotConnected", err)
	}
}

func TestNewClientDefaultsPort(t *testing.T) {
	c, err := NewClient(Config{Address: "192.168.122.1"})
	if err != nil {
		t.Fatal(err)
	}
	if c.Address() != "192.168.122.1:15740" {
		t.Errorf("Address() = %q", c.Address())
	}
	if _, err := NewClient(Config{}); err == nil {
		t.Error("expected error for empty address")
	}
}

func TestSetSendsEncodedValue(t *testing.T) {
	r := newFakeResponder(t)
	c := connectClient(t, r, Config{})

	if err := c.Set(context.Background(), camera.PropOperatingMode, camera.Uint8(2)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := c.Execute(context.Background(), camera.CtrlS1Button, camera.Uint16(2)); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	ops := r.recorded()
	set := ops[len(ops)-2]
	if set.op != OpSdioSetExtProp || set.params[0] != uint32(camera.PropOperatingMode) {
		t.Errorf("set op = %s %v", set.op, set.params)
	}
	if len(set.data) != 1 || set.data[0] != 2 {
		t.Errorf("set data = %v, want [2]", set.data)
	}
	exec := ops[len(ops)-1]
	if exec.op != OpSdioControlDevice || exec.params[0] != uint32(camera.CtrlS1Button) {
		t.Errorf("execute op = %s %v", exec.op, exec.params)
	}
	if len(exec.data) != 2 || exec.data[0] != 2 || exec.data[1] != 0 {
		t.Errorf("execute data = %v, want [2 0]", exec.data)
	}
}

func TestResponseErrorSurfaced(t *testing.T) {
	r := newFakeResponder(t)
	c := connectClient(t, r, Config{})
	r.handle(OpSdioSetExtProp, func([]uint32, []byte) (ResponseCode, []byte) {
		return RespParameterNotSupp, nil
	})

	err := c.Set(context.Background(), camera.PropISO, camera.Uint32(100))
	var re *ResponseError
	if !errors.As(err, &re) || re.Code != RespParameterNotSupp || re.Op != OpSdioSetExtProp {
		t.Fatalf("Set() = %v, want ParameterNotSupported", err)
	}
	// A response error does not break the link.
	if !c.IsConnected() {
		t.Error("link broken by response error")
	}
}

func TestQueryDecodesProperties(t *testing.T) {
	r := newFakeResponder(t)
	c := connectClient(t, r, Config{})

	e := newEncoder()
	e.u64(2)
	// Operating mode: UINT8 enum.
	e.u16(uint16(camera.PropOperatingMode))
	e.u16(uint16(TypeUint8))
	e.u8(1)
	e.u8(1)
	e.u8(1)
	e.u8(2)
	e.u8(formEnum)
	e.u16(2)
	e.u8(1)
	e.u8(2)
	e.u16(3)
	e.u8(1)
	e.u8(2)
	e.u8(4)
	// Zoom position: UINT16 range, read-only.
	e.u16(uint16(camera.PropZoomAbsolutePosition))
	e.u16(uint16(TypeUint16))
	e.u8(0)
	e.u8(1)
	e.u16(0)
	e.u16(25)
	e.u8(formRange)
	e.u16(0)
	e.u16(100)
	e.u16(1)
	body := e.bytes()
	r.handle(OpSdioGetAllExtInfo, func([]uint32, []byte) (ResponseCode, []byte) {
		return RespOK, body
	})

	props, err := c.Query(context.Background())
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	op := props[camera.PropOperatingMode]
	if !op.Current.Equal(camera.Uint8(2)) || !op.Writable || !op.Enabled {
		t.Errorf("operating mode = %+v", op)
	}
	if op.Constraints == nil || len(op.Constraints.Enum) != 2 {
		t.Errorf("operating mode constraints = %+v", op.Constraints)
	}
	zoom := props[camera.PropZoomAbsolutePosition]
	if !zoom.Current.Equal(camera.Uint16(25)) || zoom.Writable {
		t.Errorf("zoom = %+v", zoom)
	}
	if zoom.Constraints == nil || zoom.Constraints.Range == nil || !zoom.Constraints.Range.Max.Equal(camera.Uint16(100)) {
		t.Errorf("zoom constraints = %+v", zoom.Constraints)
	}
}

func TestRecvDeliversEvents(t *testing.T) {
	r := newFakeResponder(t)
	c := connectClient(t, r, Config{})
	ctx := context.Background()

	ev, err := c.Recv(ctx, 20*time.Millisecond)
	if err != nil || ev != nil {
		t.Fatalf("idle Recv() = %v, %v; want nil, nil", ev, err)
	}

	r.sendEvent(uint16(camera.EventCaptureComplete), 0x0001)
	ev, err = c.Recv(ctx, 2*time.Second)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if ev == nil || ev.Code != camera.EventCaptureComplete || len(ev.Params) != 1 || ev.Params[0] != 0x0001 {
		t.Fatalf("Recv() = %+v", ev)
	}
}

func TestEventQueueDropsWhenFull(t *testing.T) {
	r := newFakeResponder(t)
	c := connectClient(t, r, Config{EventQueueSize: 1})

	for range 3 {
		r.sendEvent(uint16(camera.EventPropertyChanged))
	}
	deadline := time.Now().Add(2 * time.Second)
	for c.Stats().EventsRx < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if s := c.Stats(); s.EventsDropped != 2 {
		t.Errorf("EventsDropped = %d, want 2", s.EventsDropped)
	}
}

func TestStorageAndObjects(t *testing.T) {
	r := newFakeResponder(t)
	c := connectClient(t, r, Config{})
	ctx := context.Background()

	r.handle(OpGetStorageIDs, func([]uint32, []byte) (ResponseCode, []byte) {
		e := newEncoder()
		e.u32(1)
		e.u32(uint32(camera.StorageCard))
		return RespOK, e.bytes()
	})
	r.handle(OpGetStorageInfo, func([]uint32, []byte) (ResponseCode, []byte) {
		e := newEncoder()
		e.u16(4)
		e.u16(3)
		e.u16(0)
		e.u64(64 << 30)
		e.u64(32 << 30)
		e.u32(1000)
		e.str("SD")
		e.str("CARD1")
		return RespOK, e.bytes()
	})
	r.handle(OpGetObjectHandles, func(params []uint32, _ []byte) (ResponseCode, []byte) {
		e := newEncoder()
		e.u32(2)
		e.u32(0x10)
		e.u32(0x11)
		return RespOK, e.bytes()
	})
	big := make([]byte, 3*maxDataChunk+17)
	for i := range big {
		big[i] = byte(i)
	}
	r.handle(OpGetObject, func([]uint32, []byte) (ResponseCode, []byte) {
		return RespOK, big
	})

	storages, err := c.ListStorage(ctx)
	if err != nil {
		t.Fatalf("ListStorage: %v", err)
	}
	if len(storages) != 1 || storages[0].ID != camera.StorageCard || storages[0].Volume != "CARD1" || storages[0].Free != 32<<30 {
		t.Errorf("storages = %+v", storages)
	}

	handles, err := c.ListObjects(ctx, camera.StorageCard, 0)
	if err != nil {
		t.Fatalf("ListObjects: %v", err)
	}
	if len(handles) != 2 || handles[1] != 0x11 {
		t.Errorf("handles = %v", handles)
	}
	ops := r.recorded()
	if p := ops[len(ops)-1].params; p[0] != uint32(camera.StorageCard) || p[2] != rootParent {
		t.Errorf("GetObjectHandles params = %v", p)
	}

	data, err := c.ObjectData(ctx, 0x10)
	if err != nil {
		t.Fatalf("ObjectData: %v", err)
	}
	if len(data) != len(big) || data[len(data)-1] != big[len(big)-1] {
		t.Errorf("ObjectData len = %d, want %d", len(data), len(big))
	}
}

func TestReconnectAfterLinkLoss(t *testing.T) {
	r := newFakeResponder(t)
	c := connectClient(t, r, Config{ReconnectInterval: 10 * time.Millisecond})
	ctx := context.Background()

	e := newEncoder()
	e.u64(1)
	e.u16(uint16(camera.PropOperatingMode))
	e.u16(uint16(TypeUint8))
	e.u8(1)
	e.u8(1)
	e.u8(1)
	e.u8(2)
	e.u8(formNone)
	body := e.bytes()
	r.handle(OpSdioGetAllExtInfo, func([]uint32, []byte) (ResponseCode, []byte) {
		return RespOK, body
	})

	r.dropAll()

	// The first operation after the drop fails; later ones reconnect.
	deadline := time.Now().Add(3 * time.Second)
	var err error
	for time.Now().Before(deadline) {
		if _, err = c.Query(ctx); err == nil {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("Query never recovered: %v", err)
	}
	props, err := c.Query(ctx)
	if err != nil || !props[camera.PropOperatingMode].Current.Equal(camera.Uint8(2)) {
		t.Errorf("Query after reconnect = %v, %v", props, err)
	}
	if s := c.Stats(); s.ReconnectsTotal < 1 {
		t.Errorf("ReconnectsTotal = %d, want >= 1", s.ReconnectsTotal)
	}
}

func TestDisconnectStopsReconnection(t *testing.T) {
	r := newFakeResponder(t)
	c := connectClient(t, r, Config{})
	ctx := context.Background()

	if err := c.Disconnect(ctx); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	ops := r.recorded()
	if ops[len(ops)-1].op != OpCloseSession {
		t.Errorf("last op = %s, want CloseSession", ops[len(ops)-1].op)
	}
	if _, err := c.Query(ctx); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Query after Disconnect = %v, want ErrNotConnected", err)
	}
	// Disconnect twice is fine.
	if err := c.Disconnect(ctx); err != nil {
		t.Errorf("second Disconnect: %v", err)
	}
}

func TestCancelledContextBreaksTransaction(t *testing.T) {
	r := newFakeResponder(t)
	c := connectClient(t, r, Config{})
	block := make(chan struct{})
	t.Cleanup(func() { close(block) })
	r.handle(OpGetStorageIDs, func([]uint32, []byte) (ResponseCode, []byte) {
		<-block
		return RespOK, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.ListStorage(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("ListStorage() = %v, want deadline exceeded", err)
	}
}

func TestNextBackoff(t *testing.T) {
	initial := 5 * time.Second
	b := nextBackoff(0, initial)
	if b != initial {
		t.Fatalf("first backoff = %s", b)
	}
	b = nextBackoff(b, initial)
	if b != 7500*time.Millisecond {
		t.Errorf("second backoff = %s, want 7.5s", b)
	}
	for range 20 {
		b = nextBackoff(b, initial)
	}
	if b != maxReconnectInterval {
		t.Errorf("capped backoff = %s, want %s", b, maxReconnectInterval)
	}
}
