package main

import (
	"fmt"
	"log"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/goburrow/serial"
	tcpserver "github.com/tbrandon/mbserver"
	rtuserver "github.com/womat/mbserver"

	"github.com/fisaks/weatherstation/internal/config"
	"github.com/fisaks/weatherstation/internal/modbus"
	"github.com/fisaks/weatherstation/internal/weather"
)

// registerBank is the input register table of whichever server library serves the bus.
type registerBank interface {
	set(addr uint16, v uint16)
	get(addr uint16) uint16
	close()
}

type tcpBank struct{ s *tcpserver.Server }

func (b tcpBank) set(addr uint16, v uint16) { b.s.InputRegisters[addr] = v }
func (b tcpBank) get(addr uint16) uint16    { return b.s.InputRegisters[addr] }
func (b tcpBank) close()                    { b.s.Close() }

type rtuBank struct {
	s    *rtuserver.Server
	id   uint8
	port serial.Port
}

func (b rtuBank) set(addr uint16, v uint16) { b.s.Devices[b.id].InputRegisters[addr] = v }
func (b rtuBank) get(addr uint16) uint16    { return b.s.Devices[b.id].InputRegisters[addr] }
func (b rtuBank) close()                    { _ = b.port.Close() }

func startBank(cfg *config.ModbusSensorConfig) (registerBank, error) {
	bus := cfg.Bus
	switch strings.ToLower(bus.Type) {
	case "tcp":
		s := tcpserver.NewServer()
		if err := s.ListenTCP(bus.TCPAddr); err != nil {
			return nil, fmt.Errorf("ListenTCP %s: %w", bus.TCPAddr, err)
		}
		log.Printf("Modbus TCP sensor listening on %s", bus.TCPAddr)
		return tcpBank{s: s}, nil
	case "rtu":
		s := rtuserver.NewServer()
		if cfg.UnitId != 1 {
			if err := s.NewDevice(cfg.UnitId); err != nil {
				return nil, fmt.Errorf("NewDevice(%d): %w", cfg.UnitId, err)
			}
		}
		port, err := serial.Open(&serial.Config{
			Address:  bus.Port,
			BaudRate: bus.Baud,
			DataBits: bus.DataBits,
			StopBits: bus.StopBits,
			Parity:   strings.ToUpper(bus.Parity),
			Timeout:  2 * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("serial open %s: %w", bus.Port, err)
		}
		if err := s.ListenRTU(port); err != nil {
			_ = port.Close()
			return nil, fmt.Errorf("listenRTU: %w", err)
		}
		log.Printf("Modbus RTU sensor ready on %s (unitId %d)", bus.Port, cfg.UnitId)
		return rtuBank{s: s, id: cfg.UnitId, port: port}, nil
	}
	return nil, fmt.Errorf("unsupported bus type %q", bus.Type)
}

// Sensor keeps the simulated readings and mirrors them into the register bank.
type Sensor struct {
	mu     sync.Mutex
	cfg    *config.ModbusSensorConfig
	bank   registerBank
	values map[weather.Kind]float64
}

var defaultValues = map[weather.Kind]float64{
	weather.Illuminance: 123.4,
	weather.Humidity:    45.2,
	weather.AirPressure: 1013.25,
	weather.Temperature: 21.5,
}

func NewSensor(cfg *config.ModbusSensorConfig, bank registerBank) *Sensor {
	s := &Sensor{cfg: cfg, bank: bank, values: map[weather.Kind]float64{}}
	for _, reg := range cfg.Registers {
		_ = s.Set(reg.Kind, defaultValues[reg.Kind])
	}
	return s
}

func (s *Sensor) register(kind weather.Kind) (config.RegisterConfig, bool) {
	for _, reg := range s.cfg.Registers {
		if reg.Kind == kind {
			return reg, true
		}
	}
	return config.RegisterConfig{}, false
}

// Set stores value (in display units) and writes the encoded words.
func (s *Sensor) Set(kind weather.Kind, value float64) error {
	reg, ok := s.register(kind)
	if !ok {
		return fmt.Errorf("kind %s is not mapped to a register", kind)
	}
	raw := int64(math.Round(value * kind.Scale()))
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, w := range modbus.EncodeRegister(reg, raw) {
		s.bank.set(reg.Address+uint16(i), w)
	}
	s.values[kind] = value
	return nil
}

type SensorState struct {
	Kind      weather.Kind `json:"kind"`
	Value     float64      `json:"value"`
	Unit      string       `json:"unit"`
	Address   uint16       `json:"address"`
	Registers []uint16     `json:"registers"`
}

func (s *Sensor) State() []SensorState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SensorState, 0, len(s.cfg.Registers))
	for _, reg := range s.cfg.Registers {
		st := SensorState{Kind: reg.Kind, Value: s.values[reg.Kind], Unit: reg.Kind.Unit(), Address: reg.Address}
		n := 1
		if reg.Words == 2 {
			n = 2
		}
		for i := 0; i < n; i++ {
			st.Registers = append(st.Registers, s.bank.get(reg.Address+uint16(i)))
		}
		out = append(out, st)
	}
	return out
}

// Drift nudges every value by up to ±step percent on each tick.
func (s *Sensor) Drift(interval time.Duration, step float64) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for range t.C {
		for _, reg := range s.cfg.Registers {
			s.mu.Lock()
			v := s.values[reg.Kind]
			s.mu.Unlock()
			v += v * step / 100 * (rand.Float64()*2 - 1)
			if err := s.Set(reg.Kind, v); err != nil {
				log.Printf("drift %s: %v", reg.Kind, err)
			}
		}
	}
}
