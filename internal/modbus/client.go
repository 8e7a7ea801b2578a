package modbus

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fisaks/weatherstation/internal/config"
	"github.com/fisaks/weatherstation/internal/logging"
	"github.com/goburrow/modbus"
)

const (
	MinAnalogWordsPerRead = uint16(1)
	MaxAnalogWordsPerRead = uint16(125)
)

type ModbusHandler interface {
	modbus.ClientHandler
	Connect() error
	Close() error
}

// DeviceClient owns one connection to the sensor bus and reconnects with exponential backoff.
type DeviceClient struct {
	handler ModbusHandler // satisfied by both RTU and TCP handlers
	client  modbus.Client
	bus     config.BusConfig
	// Connection and backoff state
	connOK      bool
	backoff     time.Duration
	backoffMin  time.Duration
	backoffMax  time.Duration
	lastConnErr error
}

func newDeviceClient(handler ModbusHandler, bus config.BusConfig) *DeviceClient {
	return &DeviceClient{
		handler:    handler,
		client:     modbus.NewClient(handler),
		bus:        bus,
		backoff:    0, // means "ready to try now"
		backoffMin: 200 * time.Millisecond,
		backoffMax: 5 * time.Second,
	}
}

func NewRTUDeviceClient(bus config.BusConfig) *DeviceClient {
	handler := modbus.NewRTUClientHandler(bus.Port)
	handler.BaudRate = bus.Baud
	handler.DataBits = bus.DataBits
	handler.Parity = strings.ToUpper(bus.Parity)
	handler.StopBits = bus.StopBits
	handler.Timeout = bus.Timeout()
	if bus.Debug {
		handler.Logger = logging.WrapSlog("bus", bus.BusId)
	}
	return newDeviceClient(handler, bus)
}

func NewTCPDeviceClient(bus config.BusConfig) *DeviceClient {
	handler := modbus.NewTCPClientHandler(bus.TCPAddr)
	handler.Timeout = bus.Timeout()
	if bus.Debug {
		handler.Logger = logging.WrapSlog("bus", bus.BusId)
	}
	return newDeviceClient(handler, bus)
}

// NewDeviceClient picks the transport from bus.Type.
func NewDeviceClient(bus config.BusConfig) (*DeviceClient, error) {
	switch strings.ToLower(bus.Type) {
	case "rtu":
		return NewRTUDeviceClient(bus), nil
	case "tcp":
		return NewTCPDeviceClient(bus), nil
	}
	return nil, fmt.Errorf("unsupported modbus bus type %q", bus.Type)
}

func (m *DeviceClient) EnsureConnected(ctx context.Context) error {
	if m.connOK {
		return nil
	}
	if m.backoff > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.backoff):
		}
	}

	m.Close() // cleanup any stale
	if err := m.handler.Connect(); err != nil {
		m.bumpBackoff(err)
		return err
	}
	if m.lastConnErr != nil {
		logging.Info("Modbus bus reconnected", "bus", m.bus.BusId)
	}

	m.client = modbus.NewClient(m.handler)
	m.connOK = true
	m.backoff = 0
	m.lastConnErr = nil
	return nil
}

func (m *DeviceClient) Close() {
	_ = m.handler.Close()
	m.connOK = false
}

func (m *DeviceClient) bumpBackoff(err error) {
	m.connOK = false
	m.lastConnErr = err
	if m.backoff == 0 {
		m.backoff = m.backoffMin
	} else {
		m.backoff *= 2
		if m.backoff > m.backoffMax {
			m.backoff = m.backoffMax
		}
	}
}

func (m *DeviceClient) setSlave(id byte) {
	switch h := m.handler.(type) {
	case *modbus.RTUClientHandler:
		h.SlaveId = id
	case *modbus.TCPClientHandler:
		h.SlaveId = id
	default:
		logging.Error("Unknown Modbus handler type", "type", fmt.Sprintf("%T", h))
	}
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	if strings.Contains(s, "connection") ||
		strings.Contains(s, "broken pipe") ||
		strings.Contains(s, "reset") ||
		strings.Contains(s, "closed") ||
		strings.Contains(s, "eof") ||
		strings.Contains(s, "i/o") ||
		strings.Contains(s, "timeout") {
		return true
	}
	logging.Warn("Modbus error that may be transient", "error", err)
	return false
}

// withClient retries once after reconnecting when the failure looks like a broken link.
func (m *DeviceClient) withClient(ctx context.Context, unitId uint8, fn func() ([]byte, error)) ([]byte, error) {
	if err := m.EnsureConnected(ctx); err != nil {
		return nil, err
	}
	m.setSlave(unitId)

	v, err := m.callWithSettle(ctx, fn)
	if err == nil {
		return v, nil
	}
	logging.Warn("withClient error", "bus", m.bus.BusId, "unitId", unitId, "error", err)
	if isTransient(err) {
		m.bumpBackoff(err)
		if err2 := m.EnsureConnected(ctx); err2 == nil {
			m.setSlave(unitId)
			return m.callWithSettle(ctx, fn)
		}
	}
	return nil, err
}

func (m *DeviceClient) callWithSettle(ctx context.Context, fn func() ([]byte, error)) ([]byte, error) {
	if gap := m.bus.SettleBeforeRequest(); gap > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(gap):
		}
	}
	return fn()
}

// ReadInputRegisters (FC4) reads count registers starting at start, split into requests of at
// most MaxAnalogWordsPerRead. The raw big-endian bytes are concatenated.
func (m *DeviceClient) ReadInputRegisters(ctx context.Context, unitId uint8, start, count uint16) ([]byte, error) {
	if count == 0 {
		return []byte{}, nil
	}
	buf := make([]byte, 0, int(count)*2)

	var firstErr error
	forEachChunk(start, count, MaxAnalogWordsPerRead, func(addr, qty uint16) bool {
		data, err := m.withClient(ctx, unitId, func() ([]byte, error) {
			return m.client.ReadInputRegisters(addr, qty)
		})
		if err != nil {
			logging.Error("read regs failed", "bus", m.bus.BusId, "addr", addr, "qty", qty, "error", err)
			firstErr = err
			return false // stop on first failure
		}
		if len(data) != int(qty)*2 {
			firstErr = fmt.Errorf("short register response: got %d bytes for %d registers", len(data), qty)
			return false
		}
		buf = append(buf, data...)
		return true
	})
	if firstErr != nil {
		return nil, firstErr
	}
	return buf, nil
}

// forEachChunk splits [start, start+total) into chunks of size <= chunkSize.
// The callback returns false to abort early; true to continue.
func forEachChunk(start, total, chunkSize uint16, fn func(addr, qty uint16) bool) {
	if total == 0 || chunkSize == 0 {
		return
	}
	left := total
	addr := start
	for left > 0 {
		step := min(left, chunkSize)
		if !fn(addr, step) {
			return
		}
		addr += step
		left -= step
	}
}
