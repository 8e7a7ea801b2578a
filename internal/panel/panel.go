// Package panel drives a 20x4 character LCD wired to the station's own I²C bus, either a
// SparkFun SerLCD or an HD44780 behind a PCF8574 backpack. It is attached to the display
// mirror as an extra physical display.
package panel

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/hd44780"
	"periph.io/x/devices/v3/serlcd"
	"periph.io/x/host/v3"

	"github.com/fisaks/weatherstation/internal/config"
	"github.com/fisaks/weatherstation/internal/lcd"
	"github.com/fisaks/weatherstation/internal/logging"
)

var ErrUnknownDriver = errors.New("unknown panel driver")

// textDisplay is the part of periph's display.TextDisplay the panel needs.
type textDisplay interface {
	Clear() error
	MoveTo(row, col int) error
	MinRow() int
	MinCol() int
	WriteString(text string) (int, error)
	Halt() error
}

type Panel struct {
	mu   sync.Mutex
	dev  textDisplay
	bus  i2c.BusCloser
	name string
}

// Open initialises the host drivers, opens the bus (empty name picks the first one) and
// clears the display.
func Open(cfg config.PanelConfig) (*Panel, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}
	bus, err := i2creg.Open(cfg.I2CBus)
	if err != nil {
		return nil, fmt.Errorf("open i2c bus %q: %w", cfg.I2CBus, err)
	}
	dev, err := newDisplay(cfg, bus)
	if err != nil {
		_ = bus.Close()
		return nil, err
	}
	p, err := newPanel(dev, cfg.Driver)
	if err != nil {
		_ = bus.Close()
		return nil, err
	}
	p.bus = bus
	logging.Info("Local panel ready", "driver", cfg.Driver, "bus", bus.String(), "address", fmt.Sprintf("0x%02x", cfg.Address))
	return p, nil
}

func newDisplay(cfg config.PanelConfig, bus i2c.Bus) (textDisplay, error) {
	switch strings.ToLower(cfg.Driver) {
	case "serlcd":
		return serlcd.NewConn(&i2c.Dev{Bus: bus, Addr: cfg.Address}, lcd.Rows, lcd.Cols), nil
	case "hd44780":
		d, err := hd44780.NewPCF857xBackpack(bus, cfg.Address, lcd.Rows, lcd.Cols)
		if err != nil {
			return nil, fmt.Errorf("hd44780 backpack at 0x%02x: %w", cfg.Address, err)
		}
		return d, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
}

func newPanel(dev textDisplay, name string) (*Panel, error) {
	if err := dev.Clear(); err != nil {
		return nil, fmt.Errorf("%s clear: %w", name, err)
	}
	return &Panel{dev: dev, name: name}, nil
}

// WriteLine implements lcd.Physical. Text past the last column is dropped.
func (p *Panel) WriteLine(row, col uint8, text string) error {
	if int(row) >= lcd.Rows || int(col) >= lcd.Cols || text == "" {
		return nil
	}
	n := min(len(text), lcd.Cols-int(col))
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.dev.MoveTo(p.dev.MinRow()+int(row), p.dev.MinCol()+int(col)); err != nil {
		return fmt.Errorf("%s move to %d,%d: %w", p.name, row, col, err)
	}
	if _, err := p.dev.WriteString(text[:n]); err != nil {
		return fmt.Errorf("%s write: %w", p.name, err)
	}
	return nil
}

func (p *Panel) Clear() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dev.Clear()
}

func (p *Panel) Close() error {
	p.mu.Lock()
	err := p.dev.Halt()
	p.mu.Unlock()
	if p.bus != nil {
		return errors.Join(err, p.bus.Close())
	}
	return err
}
