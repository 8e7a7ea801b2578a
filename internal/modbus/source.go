// Package modbus polls a wired weather sensor over Modbus RTU or TCP and feeds its input
// registers into the reading queue next to the Tinkerforge bricklets.
package modbus

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/fisaks/weatherstation/internal/config"
	"github.com/fisaks/weatherstation/internal/logging"
	"github.com/fisaks/weatherstation/internal/state"
	"github.com/fisaks/weatherstation/internal/weather"
)

type registerReader interface {
	ReadInputRegisters(ctx context.Context, unitId uint8, start, count uint16) ([]byte, error)
	Close()
}

type Source struct {
	cfg       config.ModbusSensorConfig
	reader    registerReader
	publisher weather.ReadingPublisher
	state     state.ReadingStateStore
	heartbeat time.Duration
	pollCh    chan ZeroSignal
	name      string
}

func NewSource(cfg config.ModbusSensorConfig, publisher weather.ReadingPublisher, heartbeat time.Duration) (*Source, error) {
	client, err := NewDeviceClient(cfg.Bus)
	if err != nil {
		return nil, err
	}
	return newSource(cfg, client, publisher, heartbeat), nil
}

func newSource(cfg config.ModbusSensorConfig, reader registerReader, publisher weather.ReadingPublisher, heartbeat time.Duration) *Source {
	return &Source{
		cfg:       cfg,
		reader:    reader,
		publisher: publisher,
		state:     state.NewReadingStateStore(),
		heartbeat: heartbeat,
		pollCh:    make(chan ZeroSignal, 1),
		name:      "modbus:" + cfg.Bus.BusId,
	}
}

func (s *Source) Name() string { return s.name }

// Run polls once immediately and then on every tick until ctx is done.
func (s *Source) Run(ctx context.Context) {
	defer s.reader.Close()

	go func() {
		t := time.NewTicker(s.cfg.PollInterval())
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				select {
				case s.pollCh <- Zero: // drop if one is queued
				default:
				}
			}
		}
	}()
	s.pollCh <- Zero

	logging.Info("Modbus sensor source started", "bus", s.cfg.Bus.BusId, "unitId", s.cfg.UnitId, "interval", s.cfg.PollInterval())
	for {
		select {
		case <-ctx.Done():
			logging.Info("Modbus sensor source stopped", "bus", s.cfg.Bus.BusId)
			return
		case <-s.pollCh:
			if err := s.PollOnce(ctx); err != nil && ctx.Err() == nil {
				logging.Warn("Modbus poll failed", "bus", s.cfg.Bus.BusId, "error", err)
			}
		}
	}
}

// PollOnce reads the span covering every configured register in one pass and publishes the
// readings that changed or are due for a heartbeat.
func (s *Source) PollOnce(ctx context.Context) error {
	start, count := registerSpan(s.cfg.Registers)
	if count == 0 {
		return nil
	}
	data, err := s.reader.ReadInputRegisters(ctx, s.cfg.UnitId, start, count)
	if err != nil {
		return fmt.Errorf("read input registers %d+%d: %w", start, count, err)
	}
	now := time.Now()
	for _, reg := range s.cfg.Registers {
		raw, err := decodeRegister(data, start, reg)
		if err != nil {
			logging.Warn("Modbus register decode failed", "kind", reg.Kind, "address", reg.Address, "error", err)
			continue
		}
		r := weather.SensorReading{Kind: reg.Kind, Raw: raw, Source: s.name, At: now}
		if !s.state.NeedsSend(r, s.heartbeat) {
			continue
		}
		if s.publisher.Publish(r) {
			s.state.Update(r)
		}
	}
	return nil
}

func registerSpan(regs []config.RegisterConfig) (start, count uint16) {
	if len(regs) == 0 {
		return 0, 0
	}
	lo, hi := int(regs[0].Address), 0
	for _, r := range regs {
		lo = min(lo, int(r.Address))
		hi = max(hi, int(r.Address)+words(r))
	}
	return uint16(lo), uint16(hi - lo)
}

func words(r config.RegisterConfig) int {
	if r.Words == 2 {
		return 2
	}
	return 1
}

// decodeRegister extracts one value from a big-endian register dump that begins at start.
// Two-word values are high word first. The result is multiplied by Factor so it lands on the
// kind's raw scale.
func decodeRegister(data []byte, start uint16, reg config.RegisterConfig) (int64, error) {
	off := (int(reg.Address) - int(start)) * 2
	n := words(reg) * 2
	if off < 0 || off+n > len(data) {
		return 0, fmt.Errorf("register %d outside response", reg.Address)
	}
	b := data[off : off+n]

	var v int64
	if n == 2 {
		u := binary.BigEndian.Uint16(b)
		if reg.Signed {
			v = int64(int16(u))
		} else {
			v = int64(u)
		}
	} else {
		u := binary.BigEndian.Uint32(b)
		if reg.Signed {
			v = int64(int32(u))
		} else {
			v = int64(u)
		}
	}
	factor := reg.Factor
	if factor == 0 {
		factor = 1
	}
	return v * factor, nil
}

// EncodeRegister is the inverse of decodeRegister: it turns a raw reading back into the
// register words a sensor would report, high word first.
func EncodeRegister(reg config.RegisterConfig, raw int64) []uint16 {
	factor := reg.Factor
	if factor == 0 {
		factor = 1
	}
	v := raw / factor
	if words(reg) == 2 {
		u := uint32(v)
		return []uint16{uint16(u >> 16), uint16(u)}
	}
	return []uint16{uint16(v)}
}
