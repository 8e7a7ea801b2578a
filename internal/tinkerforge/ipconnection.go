package tinkerforge

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fisaks/weatherstation/internal/logging"
	"github.com/fisaks/weatherstation/internal/retry"
)

type EnumerationType uint8

const (
	EnumerationAvailable EnumerationType = iota
	EnumerationConnected
	EnumerationDisconnected
)

type ConnectReason uint8

const (
	ConnectReasonRequest ConnectReason = iota
	ConnectReasonAutoReconnect
)

type DisconnectReason uint8

const (
	DisconnectReasonRequest DisconnectReason = iota
	DisconnectReasonError
	DisconnectReasonShutdown
)

func (r DisconnectReason) String() string {
	switch r {
	case DisconnectReasonRequest:
		return "request"
	case DisconnectReasonError:
		return "error"
	case DisconnectReasonShutdown:
		return "shutdown"
	}
	return "unknown"
}

type EnumerateEvent struct {
	UID              string
	ConnectedUID     string
	Position         byte
	HardwareVersion  [3]uint8
	FirmwareVersion  [3]uint8
	DeviceIdentifier uint16
	EnumerationType  EnumerationType
}

const enumeratePayloadSize = 8 + 8 + 1 + 3 + 3 + 2 + 1

func parseEnumerate(payload []byte) (EnumerateEvent, error) {
	if len(payload) < enumeratePayloadSize {
		return EnumerateEvent{}, fmt.Errorf("%w: enumerate payload %d bytes", ErrShortResponse, len(payload))
	}
	var ev EnumerateEvent
	ev.UID = cString(payload[0:8])
	ev.ConnectedUID = cString(payload[8:16])
	ev.Position = payload[16]
	copy(ev.HardwareVersion[:], payload[17:20])
	copy(ev.FirmwareVersion[:], payload[20:23])
	ev.DeviceIdentifier = uint16(payload[23]) | uint16(payload[24])<<8
	ev.EnumerationType = EnumerationType(payload[25])
	return ev, nil
}

// EncodeEnumerate is the inverse of the enumerate callback decoding.
func EncodeEnumerate(ev EnumerateEvent) []byte {
	b := make([]byte, enumeratePayloadSize)
	copy(b[0:8], ev.UID)
	copy(b[8:16], ev.ConnectedUID)
	b[16] = ev.Position
	copy(b[17:20], ev.HardwareVersion[:])
	copy(b[20:23], ev.FirmwareVersion[:])
	b[23] = byte(ev.DeviceIdentifier)
	b[24] = byte(ev.DeviceIdentifier >> 8)
	b[25] = byte(ev.EnumerationType)
	return b
}

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

type Options struct {
	Addr           string
	DialTimeout    time.Duration
	RequestTimeout time.Duration
	AutoReconnect  bool
	Reconnect      retry.Policy
	CallbackBuffer int
}

func (o Options) withDefaults() Options {
	if o.DialTimeout <= 0 {
		o.DialTimeout = 5 * time.Second
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 2500 * time.Millisecond
	}
	if o.CallbackBuffer <= 0 {
		o.CallbackBuffer = 256
	}
	if o.Reconnect.MaxAttempts == 0 {
		o.Reconnect = retry.DefaultPolicy()
	}
	return o
}

type eventKind uint8

const (
	eventPacket eventKind = iota
	eventConnected
	eventDisconnected
	eventReconnectFailed
)

type event struct {
	kind   eventKind
	packet Packet
	reason uint8
	err    error
}

type pendingKey struct {
	uid        uint32
	functionID uint8
	sequence   uint8
}

// IPConnection is one TCP session to brickd. Callbacks and connection events are
// delivered one at a time from a single dispatch goroutine.
type IPConnection struct {
	opts Options

	connMu sync.RWMutex
	conn   net.Conn

	writeMu sync.Mutex
	seqMu   sync.Mutex
	nextSeq uint8

	pendingMu sync.Mutex
	pending   map[pendingKey]chan Packet

	devicesMu sync.RWMutex
	devices   map[uint32]*Device

	handlersMu        sync.RWMutex
	onEnumerate       func(EnumerateEvent)
	onConnected       func(ConnectReason)
	onDisconnected    func(DisconnectReason)
	onReconnectFailed func(error)

	events       chan event
	done         chan struct{}
	closeOnce    sync.Once
	wg           sync.WaitGroup
	disconnected atomic.Bool
	reconnecting atomic.Bool
}

func NewIPConnection(opts Options) *IPConnection {
	c := &IPConnection{
		opts:    opts.withDefaults(),
		pending: make(map[pendingKey]chan Packet),
		devices: make(map[uint32]*Device),
		done:    make(chan struct{}),
	}
	c.events = make(chan event, c.opts.CallbackBuffer)
	c.wg.Add(1)
	go c.dispatchLoop()
	return c
}

func (c *IPConnection) OnEnumerate(fn func(EnumerateEvent)) {
	c.handlersMu.Lock()
	c.onEnumerate = fn
	c.handlersMu.Unlock()
}

func (c *IPConnection) OnConnected(fn func(ConnectReason)) {
	c.handlersMu.Lock()
	c.onConnected = fn
	c.handlersMu.Unlock()
}

func (c *IPConnection) OnDisconnected(fn func(DisconnectReason)) {
	c.handlersMu.Lock()
	c.onDisconnected = fn
	c.handlersMu.Unlock()
}

// OnReconnectFailed is called once auto-reconnect gave up.
func (c *IPConnection) OnReconnectFailed(fn func(error)) {
	c.handlersMu.Lock()
	c.onReconnectFailed = fn
	c.handlersMu.Unlock()
}

func (c *IPConnection) Addr() string { return c.opts.Addr }

func (c *IPConnection) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.conn != nil
}

// Connect dials brickd once. Retrying is left to the caller.
func (c *IPConnection) Connect(ctx context.Context) error {
	if c.IsConnected() {
		return ErrAlreadyConnected
	}
	if err := c.dial(ctx); err != nil {
		return err
	}
	c.disconnected.Store(false)
	c.enqueueMeta(event{kind: eventConnected, reason: uint8(ConnectReasonRequest)})
	return nil
}

func (c *IPConnection) dial(ctx context.Context) error {
	d := net.Dialer{Timeout: c.opts.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", c.opts.Addr)
	if err != nil {
		return fmt.Errorf("dial brickd %s: %w", c.opts.Addr, err)
	}
	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	c.wg.Add(1)
	go c.receiveLoop(conn)
	return nil
}

// Disconnect closes the socket without auto-reconnect.
func (c *IPConnection) Disconnect() error {
	c.disconnected.Store(true)
	c.connMu.Lock()
	conn := c.conn
	c.conn = nil
	c.connMu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	err := conn.Close()
	c.failPending()
	c.enqueueMeta(event{kind: eventDisconnected, reason: uint8(DisconnectReasonRequest)})
	return err
}

// Close disconnects and stops the dispatch goroutine. The connection cannot be reused.
func (c *IPConnection) Close() error {
	_ = c.Disconnect()
	c.closeOnce.Do(func() { close(c.done) })
	c.wg.Wait()
	return nil
}

// Enumerate asks brickd to announce every attached device.
func (c *IPConnection) Enumerate(ctx context.Context) error {
	_, err := c.send(ctx, 0, FunctionEnumerate, nil, false)
	return err
}

func (c *IPConnection) sequence() uint8 {
	c.seqMu.Lock()
	defer c.seqMu.Unlock()
	c.nextSeq = c.nextSeq%15 + 1
	return c.nextSeq
}

func (c *IPConnection) send(ctx context.Context, uid uint32, functionID uint8, payload []byte, responseExpected bool) ([]byte, error) {
	if len(payload) > MaxPayload {
		return nil, fmt.Errorf("%w: payload %d bytes", ErrInvalidParameter, len(payload))
	}
	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()
	if conn == nil {
		return nil, ErrNotConnected
	}

	seq := c.sequence()
	pkt := NewPacket(uid, functionID, seq, responseExpected, payload)

	var respCh chan Packet
	key := pendingKey{uid: uid, functionID: functionID, sequence: seq}
	if responseExpected {
		respCh = make(chan Packet, 1)
		c.pendingMu.Lock()
		c.pending[key] = respCh
		c.pendingMu.Unlock()
		defer func() {
			c.pendingMu.Lock()
			delete(c.pending, key)
			c.pendingMu.Unlock()
		}()
	}

	c.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(c.opts.RequestTimeout))
	_, err := conn.Write(pkt.Bytes())
	c.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("write to brickd: %w", err)
	}
	if !responseExpected {
		return nil, nil
	}

	timer := time.NewTimer(c.opts.RequestTimeout)
	defer timer.Stop()
	select {
	case resp, ok := <-respCh:
		if !ok {
			return nil, ErrNotConnected
		}
		if err := errorFromCode(resp.ErrorCode); err != nil {
			return nil, err
		}
		return resp.Payload, nil
	case <-timer.C:
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *IPConnection) receiveLoop(conn net.Conn) {
	defer c.wg.Done()
	r := bufio.NewReader(conn)
	for {
		pkt, err := ReadPacket(r)
		if err != nil {
			c.connectionLost(conn, err)
			return
		}
		c.handlePacket(pkt)
	}
}

func (c *IPConnection) handlePacket(pkt Packet) {
	if pkt.Sequence == 0 {
		if pkt.FunctionID == CallbackEnumerate {
			c.enqueuePacket(pkt)
			return
		}
		if d := c.device(pkt.UID); d != nil && d.hasCallback(pkt.FunctionID) {
			c.enqueuePacket(pkt)
		}
		return
	}

	key := pendingKey{uid: pkt.UID, functionID: pkt.FunctionID, sequence: pkt.Sequence}
	c.pendingMu.Lock()
	ch, ok := c.pending[key]
	if ok {
		delete(c.pending, key)
	}
	c.pendingMu.Unlock()
	if !ok {
		logging.Debug("unexpected response", "uid", FormatUID(pkt.UID), "function", pkt.FunctionID, "seq", pkt.Sequence)
		return
	}
	ch <- pkt
}

func (c *IPConnection) connectionLost(conn net.Conn, cause error) {
	c.connMu.Lock()
	current := c.conn == conn
	if current {
		c.conn = nil
	}
	c.connMu.Unlock()
	_ = conn.Close()
	if !current || c.disconnected.Load() {
		return
	}

	reason := DisconnectReasonError
	if errors.Is(cause, io.EOF) {
		reason = DisconnectReasonShutdown
	}
	logging.Warn("brickd connection lost", "addr", c.opts.Addr, "reason", reason.String(), "error", cause)
	c.failPending()
	c.enqueueMeta(event{kind: eventDisconnected, reason: uint8(reason)})

	if c.opts.AutoReconnect && c.reconnecting.CompareAndSwap(false, true) {
		c.wg.Add(1)
		go c.reconnectLoop()
	}
}

func (c *IPConnection) reconnectLoop() {
	defer c.wg.Done()
	defer c.reconnecting.Store(false)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-c.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	err := c.opts.Reconnect.Do(ctx, "brickd reconnect", func(ctx context.Context) error {
		if c.disconnected.Load() {
			return nil
		}
		if err := c.dial(ctx); err != nil {
			return err
		}
		if c.disconnected.Load() {
			c.dropConn()
		}
		return nil
	})
	if c.disconnected.Load() {
		return
	}
	if err != nil {
		c.enqueueMeta(event{kind: eventReconnectFailed, err: err})
		return
	}
	logging.Info("brickd reconnected", "addr", c.opts.Addr)
	c.enqueueMeta(event{kind: eventConnected, reason: uint8(ConnectReasonAutoReconnect)})
}

func (c *IPConnection) dropConn() {
	c.connMu.Lock()
	conn := c.conn
	c.conn = nil
	c.connMu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

func (c *IPConnection) failPending() {
	c.pendingMu.Lock()
	for k, ch := range c.pending {
		close(ch)
		delete(c.pending, k)
	}
	c.pendingMu.Unlock()
}

// enqueuePacket never blocks the receive loop; a full queue drops the callback.
func (c *IPConnection) enqueuePacket(pkt Packet) {
	select {
	case c.events <- event{kind: eventPacket, packet: pkt}:
	default:
		logging.Warn("callback queue full, dropping packet", "uid", FormatUID(pkt.UID), "function", pkt.FunctionID)
	}
}

func (c *IPConnection) enqueueMeta(ev event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func (c *IPConnection) dispatchLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.done:
			return
		case ev := <-c.events:
			c.dispatch(ev)
		}
	}
}

func (c *IPConnection) dispatch(ev event) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("tinkerforge callback panic", "err", r)
		}
	}()

	c.handlersMu.RLock()
	onEnumerate := c.onEnumerate
	onConnected := c.onConnected
	onDisconnected := c.onDisconnected
	onReconnectFailed := c.onReconnectFailed
	c.handlersMu.RUnlock()

	switch ev.kind {
	case eventConnected:
		if onConnected != nil {
			onConnected(ConnectReason(ev.reason))
		}
	case eventDisconnected:
		if onDisconnected != nil {
			onDisconnected(DisconnectReason(ev.reason))
		}
	case eventReconnectFailed:
		if onReconnectFailed != nil {
			onReconnectFailed(ev.err)
		}
	case eventPacket:
		if ev.packet.FunctionID == CallbackEnumerate && ev.packet.Sequence == 0 {
			if onEnumerate == nil {
				return
			}
			e, err := parseEnumerate(ev.packet.Payload)
			if err != nil {
				logging.Warn("bad enumerate callback", "error", err)
				return
			}
			onEnumerate(e)
			return
		}
		if d := c.device(ev.packet.UID); d != nil {
			d.dispatchCallback(ev.packet.FunctionID, ev.packet.Payload)
		}
	}
}

func (c *IPConnection) device(uid uint32) *Device {
	c.devicesMu.RLock()
	defer c.devicesMu.RUnlock()
	return c.devices[uid]
}

func (c *IPConnection) addDevice(d *Device) {
	c.devicesMu.Lock()
	c.devices[d.uid] = d
	c.devicesMu.Unlock()
}

func (c *IPConnection) removeDevice(d *Device) {
	c.devicesMu.Lock()
	if c.devices[d.uid] == d {
		delete(c.devices, d.uid)
	}
	c.devicesMu.Unlock()
}
