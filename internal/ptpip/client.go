package ptpip

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/payload-core/internal/camera"
)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// Default timeouts and intervals for the PTP/IP link.
const (
	// defaultConnectTimeout bounds dialling and the init exchange.
	defaultConnectTimeout = 10 * time.Second

	// defaultReadTimeout bounds one operation when the caller gives no deadline.
	// The event channel uses it as its idle poll interval.
	defaultReadTimeout = 30 * time.Second

	// defaultReconnectInterval is the initial delay between reconnection attempts.
	defaultReconnectInterval = 5 * time.Second

	// maxReconnectInterval is the maximum delay between reconnection attempts.
	maxReconnectInterval = 2 * time.Minute

	// defaultEventQueueSize bounds events received but not yet consumed by Recv.
	defaultEventQueueSize = 64

	// defaultHandshakeAttempts bounds the GetExtDeviceInfo retry in the
	// SDIO handshake; the camera refuses it until it is ready.
	defaultHandshakeAttempts = 50

	defaultHandshakeSpacing = 100 * time.Millisecond

	defaultClientName = "payload-core"
)

// Config holds PTP/IP connection configuration.
type Config struct {
	// Address is the responder's host:port. A bare host uses DefaultPort.
	Address string

	// Name is the initiator's friendly name sent in the init exchange.
	Name string

	// GUID identifies this initiator. Zero generates a random one.
	GUID uuid.UUID

	// ConnectTimeout is the maximum time to dial and complete the init exchange.
	// Default: 10 seconds.
	ConnectTimeout time.Duration

	// ReadTimeout bounds an operation when its context carries no deadline.
	// Default: 30 seconds.
	ReadTimeout time.Duration

	// ReconnectInterval is the initial delay between reconnection attempts.
	// Default: 5 seconds.
	ReconnectInterval time.Duration

	// EventQueueSize is the number of undelivered events kept. Further events
	// are dropped and counted.
	// Default: 64.
	EventQueueSize int

	// HandshakeAttempts and HandshakeSpacing control how long the client
	// waits for the camera to accept SDIO control.
	HandshakeAttempts int
	HandshakeSpacing  time.Duration
}

func (cfg *Config) applyDefaults() {
	if cfg.Name == "" {
		cfg.Name = defaultClientName
	}
	if cfg.GUID == uuid.Nil {
		cfg.GUID = uuid.New()
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = defaultReconnectInterval
	}
	if cfg.EventQueueSize <= 0 {
		cfg.EventQueueSize = defaultEventQueueSize
	}
	if cfg.HandshakeAttempts <= 0 {
		cfg.HandshakeAttempts = defaultHandshakeAttempts
	}
	if cfg.HandshakeSpacing <= 0 {
		cfg.HandshakeSpacing = defaultHandshakeSpacing
	}
}

// Stats holds operational statistics.
type Stats struct {
	OperationsTotal uint64
	EventsRx        uint64
	EventsDropped   uint64 // Events dropped due to a full queue
	ErrorsTotal     uint64
	ReconnectsTotal uint64 // Successful reconnections
	BytesIn         uint64 // Data phase bytes received
	LastActivity    time.Time
	Connected       bool
	DeviceName      string
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Ensure Client implements camera.Transport.
var _ camera.Transport = (*Client)(nil)

// Client is a PTP/IP initiator speaking the Sony SDIO extensions.
//
// Thread Safety:
//   - Operations are serialized internally; the camera engine calls from a
//     single goroutine anyway.
//   - Events are read by a dedicated goroutine per link.
//
// Reconnection:
//   - A broken link is detected by the next operation or the event reader.
//   - After a successful Connect, later operations re-establish the link
//     themselves, backing off from ReconnectInterval up to 2 minutes.
//   - Disconnect stops reconnection until Connect is called again.
type Client struct {
	cfg Config

	mu          sync.Mutex // serializes operations and link changes
	link        atomic.Pointer[link]
	wanted      bool // Connect succeeded and Disconnect has not been called
	backoff     time.Duration
	nextAttempt time.Time

	events chan camera.Event
	closed *closeOnce

	logger Logger

	opsTotal        atomic.Uint64
	eventsRx        atomic.Uint64
	eventsDropped   atomic.Uint64
	errorsTotal     atomic.Uint64
	reconnectsTotal atomic.Uint64
	bytesIn         atomic.Uint64
	lastActivity    atomic.Int64
}

// link is one established command+event channel pair.
type link struct {
	cmd        net.Conn
	evt        net.Conn
	connNumber uint32
	peerName   string
	txid       uint32
	ext        ExtDeviceInfo

	done  *closeOnce // event reader exited
	fault atomic.Pointer[linkFault]
}

type linkFault struct{ err error }

// fail records the first failure and closes both channels.
func (l *link) fail(err error) {
	l.fault.CompareAndSwap(nil, &linkFault{err: err})
	_ = l.cmd.Close()
	_ = l.evt.Close()
}

func (l *link) broken() error {
	if f := l.fault.Load(); f != nil {
		return f.err
	}
	return nil
}

func (l *link) healthy() bool { return l != nil && l.broken() == nil }

func (l *link) nextTxID() uint32 {
	l.txid++
	return l.txid
}

// NewClient returns an unconnected client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Address == "" {
		return nil, errors.New("ptpip: address required")
	}
	if _, _, err := net.SplitHostPort(cfg.Address); err != nil {
		cfg.Address = net.JoinHostPort(cfg.Address, fmt.Sprint(DefaultPort))
	}
	cfg.applyDefaults()
	return &Client{
		cfg:    cfg,
		events: make(chan camera.Event, cfg.EventQueueSize),
		closed: newCloseOnce(),
	}, nil
}

// SetLogger sets the logger for the client.
func (c *Client) SetLogger(logger Logger) {
	c.logger = logger
}

// Address returns the responder address in use.
func (c *Client) Address() string { return c.cfg.Address }

// Connect establishes the link and performs the SDIO handshake.
// Connecting an already-connected client is a no-op.
func (c *Client) Connect(ctx context.Context) error {
	if c.isClosed() {
		return ErrClosed
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.link.Load().healthy() {
		return nil
	}
	c.dropLink()

	reconnect := c.wanted
	if err := c.open(ctx); err != nil {
		c.errorsTotal.Add(1)
		return err
	}
	c.wanted = true
	c.backoff = 0
	c.nextAttempt = time.Time{}
	if reconnect {
		c.reconnectsTotal.Add(1)
	}
	return nil
}

// Disconnect closes the session and both channels.
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.wanted = false
	l := c.link.Load()
	if l == nil {
		return nil
	}
	if l.healthy() {
		if _, _, err := l.transact(ctx, c, OpCloseSession, nil, nil); err != nil {
			c.logDebug("close session failed", "error", err)
		}
	}
	c.dropLink()
	c.logInfo("disconnected", "address", c.cfg.Address)
	return nil
}

// Close disconnects and prevents further use.
func (c *Client) Close() error {
	c.closed.Close()
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ConnectTimeout)
	defer cancel()
	return c.Disconnect(ctx)
}

// IsConnected reports whether a healthy link is established.
func (c *Client) IsConnected() bool {
	return c.link.Load().healthy()
}

// DeviceInfo returns the capabilities reported in the last handshake.
func (c *Client) DeviceInfo() (ExtDeviceInfo, bool) {
	l := c.link.Load()
	if l == nil {
		return ExtDeviceInfo{}, false
	}
	return l.ext, true
}

// Stats returns current operational statistics.
func (c *Client) Stats() Stats {
	l := c.link.Load()
	var name string
	if l != nil {
		name = l.peerName
	}

	var last time.Time
	if ns := c.lastActivity.Load(); ns > 0 {
		last = time.Unix(0, ns)
	}
	return Stats{
		OperationsTotal: c.opsTotal.Load(),
		EventsRx:        c.eventsRx.Load(),
		EventsDropped:   c.eventsDropped.Load(),
		ErrorsTotal:     c.errorsTotal.Load(),
		ReconnectsTotal: c.reconnectsTotal.Load(),
		BytesIn:         c.bytesIn.Load(),
		LastActivity:    last,
		Connected:       l.healthy(),
		DeviceName:      name,
	}
}

func (c *Client) isClosed() bool {
	select {
	case <-c.closed.Done():
		return true
	default:
		return false
	}
}

func (c *Client) touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

// open dials both channels and runs the handshake. Caller holds mu.
func (c *Client) open(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	dialer := net.Dialer{}
	cmd, err := dialer.DialContext(ctx, "tcp", c.cfg.Address)
	if err != nil {
		return fmt.Errorf("dialling command channel: %w", err)
	}
	l := &link{cmd: cmd, done: newCloseOnce()}

	ack, err := initCommand(ctx, cmd, c.cfg.GUID, c.cfg.Name)
	if err != nil {
		_ = cmd.Close()
		return err
	}
	l.connNumber = ack.connNumber
	l.peerName = ack.name

	evt, err := dialer.DialContext(ctx, "tcp", c.cfg.Address)
	if err != nil {
		_ = cmd.Close()
		return fmt.Errorf("dialling event channel: %w", err)
	}
	l.evt = evt
	if err := initEvent(ctx, evt, ack.connNumber); err != nil {
		_ = cmd.Close()
		_ = evt.Close()
		return err
	}

	go c.receiveLoop(l)

	ext, err := c.handshake(ctx, l)
	if err != nil {
		l.fail(err)
		<-l.done.Done()
		return fmt.Errorf("sdio handshake: %w", err)
	}
	l.ext = ext
	c.link.Store(l)
	c.touch()
	c.logInfo("connected",
		"address", c.cfg.Address,
		"device", ack.name,
		"connection", ack.connNumber,
		"properties", len(ext.Properties),
		"controls", len(ext.Controls),
	)
	return nil
}

func initCommand(ctx context.Context, conn net.Conn, guid uuid.UUID, name string) (initCommandAck, error) {
	stop := bindDeadline(ctx, conn, 0)
	defer stop()

	if err := writePacket(conn, pktInitCommandRequest, initCommandRequest(guid, name)); err != nil {
		return initCommandAck{}, fmt.Errorf("sending init command request: %w", err)
	}
	pkt, err := readPacket(conn)
	if err != nil {
		return initCommandAck{}, fmt.Errorf("reading init command ack: %w", err)
	}
	switch pkt.typ {
	case pktInitCommandAck:
		return decodeInitCommandAck(pkt.payload)
	case pktInitFail:
		return initCommandAck{}, fmt.Errorf("%w: reason 0x%X", ErrInitRejected, initFailReason(pkt.payload))
	default:
		return initCommandAck{}, fmt.Errorf("%w: packet type %d during init", ErrProtocol, pkt.typ)
	}
}

func initEvent(ctx context.Context, conn net.Conn, connNumber uint32) error {
	stop := bindDeadline(ctx, conn, 0)
	defer stop()

	e := newEncoder()
	e.u32(connNumber)
	if err := writePacket(conn, pktInitEventRequest, e.bytes()); err != nil {
		return fmt.Errorf("sending init event request: %w", err)
	}
	pkt, err := readPacket(conn)
	if err != nil {
		return fmt.Errorf("reading init event ack: %w", err)
	}
	switch pkt.typ {
	case pktInitEventAck:
		return conn.SetDeadline(time.Time{})
	case pktInitFail:
		return fmt.Errorf("%w: reason 0x%X", ErrInitRejected, initFailReason(pkt.payload))
	default:
		return fmt.Errorf("%w: packet type %d during init", ErrProtocol, pkt.typ)
	}
}

// bindDeadline applies ctx's deadline (or fallback from now) to conn and
// unblocks pending I/O when ctx is cancelled. The returned func undoes both.
func bindDeadline(ctx context.Context, conn net.Conn, fallback time.Duration) func() {
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else if fallback > 0 {
		_ = conn.SetDeadline(time.Now().Add(fallback))
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	return func() {
		stop()
		_ = conn.SetDeadline(time.Time{})
	}
}

// dropLink tears down the current link. Caller holds mu.
func (c *Client) dropLink() {
	l := c.link.Swap(nil)
	if l == nil {
		return
	}
	l.fail(net.ErrClosed)
	<-l.done.Done()
}

// activeLink returns a healthy link, reconnecting if one is due.
// Caller holds mu.
func (c *Client) activeLink(ctx context.Context) (*link, error) {
	if c.isClosed() {
		return nil, ErrClosed
	}
	if l := c.link.Load(); l != nil {
		err := l.broken()
		if err == nil {
			return l, nil
		}
		c.logError("link lost", err, "address", c.cfg.Address)
		c.dropLink()
	}
	if !c.wanted {
		return nil, ErrNotConnected
	}
	if now := time.Now(); now.Before(c.nextAttempt) {
		return nil, fmt.Errorf("%w: next attempt in %s", ErrNotConnected, c.nextAttempt.Sub(now).Round(time.Millisecond))
	}

	c.logInfo("attempting reconnection", "address", c.cfg.Address)
	if err := c.open(ctx); err != nil {
		c.errorsTotal.Add(1)
		c.backoff = nextBackoff(c.backoff, c.cfg.ReconnectInterval)
		c.nextAttempt = time.Now().Add(c.backoff)
		c.logError("reconnect failed", err, "backoff", c.backoff.String())
		return nil, fmt.Errorf("%w: %w", ErrNotConnected, err)
	}
	c.backoff = 0
	c.nextAttempt = time.Time{}
	c.reconnectsTotal.Add(1)
	c.logInfo("reconnected", "address", c.cfg.Address)
	return c.link.Load(), nil
}

// nextBackoff grows the delay by 1.5x up to maxReconnectInterval.
func nextBackoff(current, initial time.Duration) time.Duration {
	if current <= 0 {
		return initial
	}
	next := current * 3 / 2
	if next > maxReconnectInterval {
		next = maxReconnectInterval
	}
	return next
}

// transact runs one operation on the active link.
func (c *Client) transact(ctx context.Context, op OpCode, params []uint32, dataOut []byte) (container, []byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	l, err := c.activeLink(ctx)
	if err != nil {
		return container{}, nil, err
	}
	resp, data, err := l.transact(ctx, c, op, params, dataOut)
	if err != nil {
		c.errorsTotal.Add(1)
	}
	return resp, data, err
}

// transact writes an operation request, sends or collects the data phase
// and waits for the matching response. I/O failures break the link.
func (l *link) transact(ctx context.Context, c *Client, op OpCode, params []uint32, dataOut []byte) (container, []byte, error) {
	if err := l.broken(); err != nil {
		return container{}, nil, err
	}
	stop := bindDeadline(ctx, l.cmd, c.cfg.ReadTimeout)
	defer stop()

	var txid uint32
	if op != OpOpenSession {
		txid = l.nextTxID()
	}
	c.opsTotal.Add(1)

	phase := dataPhaseNone
	if dataOut != nil {
		phase = dataPhaseOut
	}
	if err := writePacket(l.cmd, pktOperationRequest, operationRequest(phase, op, txid, params)); err != nil {
		return container{}, nil, l.ioError(ctx, op, err)
	}
	if dataOut != nil {
		if err := writeData(l.cmd, txid, dataOut); err != nil {
			return container{}, nil, l.ioError(ctx, op, err)
		}
	}

	var dataIn []byte
	for {
		pkt, err := readPacket(l.cmd)
		if err != nil {
			return container{}, nil, l.ioError(ctx, op, err)
		}
		switch pkt.typ {
		case pktStartData:
			d := newDecoder(pkt.payload)
			_ = d.u32()
			total := d.u64()
			if total < maxPacketSize {
				dataIn = make([]byte, 0, total)
			}
		case pktData, pktEndData:
			if len(pkt.payload) < 4 {
				return container{}, nil, l.ioError(ctx, op, fmt.Errorf("%w: short data packet", ErrProtocol))
			}
			dataIn = append(dataIn, pkt.payload[4:]...)
			c.bytesIn.Add(uint64(len(pkt.payload) - 4))
		case pktOperationResponse:
			resp, err := decodeContainer(pkt.payload)
			if err != nil {
				return container{}, nil, l.ioError(ctx, op, err)
			}
			if resp.txid != txid {
				return container{}, nil, l.ioError(ctx, op, fmt.Errorf("%w: response txid %d, want %d", ErrProtocol, resp.txid, txid))
			}
			c.touch()
			if code := ResponseCode(resp.code); code != RespOK {
				return resp, dataIn, &ResponseError{Op: op, Code: code}
			}
			return resp, dataIn, nil
		case pktCancel:
			return container{}, nil, l.ioError(ctx, op, fmt.Errorf("%w: responder cancelled transaction", ErrProtocol))
		case pktProbeRequest:
			if err := writePacket(l.cmd, pktProbeResponse, nil); err != nil {
				return container{}, nil, l.ioError(ctx, op, err)
			}
		default:
			c.logDebug("ignoring packet on command channel", "type", pkt.typ)
		}
	}
}

// ioError breaks the link and annotates err. A cancelled context is
// reported as such rather than as the resulting deadline error.
func (l *link) ioError(ctx context.Context, op OpCode, err error) error {
	l.fail(err)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", op, ctxErr)
	}
	// The socket deadline can fire just before the context's own timer.
	if dl, ok := ctx.Deadline(); ok && errors.Is(err, os.ErrDeadlineExceeded) && !time.Now().Before(dl) {
		return fmt.Errorf("%s: %w", op, context.DeadlineExceeded)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// writeData sends an outgoing data phase: StartData, Data chunks, EndData.
func writeData(w io.Writer, txid uint32, data []byte) error {
	start := newEncoder()
	start.u32(txid)
	start.u64(uint64(len(data)))
	if err := writePacket(w, pktStartData, start.bytes()); err != nil {
		return err
	}
	for len(data) > maxDataChunk {
		chunk := newEncoder()
		chunk.u32(txid)
		chunk.raw(data[:maxDataChunk])
		if err := writePacket(w, pktData, chunk.bytes()); err != nil {
			return err
		}
		data = data[maxDataChunk:]
	}
	end := newEncoder()
	end.u32(txid)
	end.raw(data)
	return writePacket(w, pktEndData, end.bytes())
}

// receiveLoop reads the event channel until the link fails.
func (c *Client) receiveLoop(l *link) {
	defer l.done.Close()

	for {
		_ = l.evt.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		pkt, err := readPacket(l.evt)
		if err != nil {
			if c.handleReadError(l, err) {
				return
			}
			continue
		}
		switch pkt.typ {
		case pktEvent:
			c.handleEvent(pkt.payload)
		case pktProbeRequest:
			if err := writePacket(l.evt, pktProbeResponse, nil); err != nil {
				l.fail(err)
				return
			}
		default:
			c.logDebug("ignoring packet on event channel", "type", pkt.typ)
		}
	}
}

// handleReadError returns true if the event reader should stop.
func (c *Client) handleReadError(l *link, err error) bool {
	if l.broken() != nil {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return false // idle event channel
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		c.logInfo("event channel closed by responder")
	} else {
		c.logError("event channel read failed", err)
	}
	c.errorsTotal.Add(1)
	l.fail(fmt.Errorf("event channel: %w", err))
	return true
}

func (c *Client) handleEvent(payload []byte) {
	ev, err := decodeContainer(payload)
	if err != nil {
		c.logWarn("malformed event", "error", err)
		return
	}
	c.eventsRx.Add(1)
	c.touch()
	select {
	case c.events <- camera.Event{Code: camera.EventCode(ev.code), Params: ev.params}:
	default:
		c.eventsDropped.Add(1)
		c.logWarn("event queue full, dropping event", "code", fmt.Sprintf("0x%04X", ev.code))
	}
}

// Recv waits up to timeout for one event.
func (c *Client) Recv(ctx context.Context, timeout time.Duration) (*camera.Event, error) {
	select {
	case ev := <-c.events:
		return &ev, nil
	default:
	}

	c.mu.Lock()
	l, err := c.activeLink(ctx)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case ev := <-c.events:
		return &ev, nil
	case <-timer.C:
		return nil, nil
	case <-l.done.Done():
		if err := l.broken(); err != nil {
			return nil, err
		}
		return nil, ErrNotConnected
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) logDebug(msg string, keysAndValues ...any) {
	if c.logger != nil {
		c.logger.Debug(msg, keysAndValues...)
	}
}

func (c *Client) logInfo(msg string, keysAndValues ...any) {
	if c.logger != nil {
		c.logger.Info(msg, keysAndValues...)
	}
}

func (c *Client) logWarn(msg string, keysAndValues ...any) {
	if c.logger != nil {
		c.logger.Warn(msg, keysAndValues...)
	}
}

func (c *Client) logError(msg string, err error, keysAndValues ...any) {
	if c.logger != nil {
		args := append([]any{"error", err}, keysAndValues...)
		c.logger.Error(msg, args...)
	}
}
