package station

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fisaks/weatherstation/internal/lcd"
	"github.com/fisaks/weatherstation/internal/retry"
	tf "github.com/fisaks/weatherstation/internal/tinkerforge"
	"github.com/fisaks/weatherstation/internal/tinkerforge/tfsim"
	"github.com/fisaks/weatherstation/internal/weather"
)

var fastRetry = retry.Policy{MaxAttempts: 20, Initial: 10 * time.Millisecond, Max: 50 * time.Millisecond, Multiplier: 2}

type harness struct {
	sim      *tfsim.Server
	mirror   *lcd.Mirror
	registry *Registry
	router   *Router
	station  *Station
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	sim, err := tfsim.Start("127.0.0.1:0")
	if err != nil {
		t.Fatalf("start simulator: %v", err)
	}

	h := &harness{sim: sim, mirror: lcd.NewMirror(), registry: NewRegistry()}
	h.mirror.Attach(h.registry.Display())
	h.router = NewRouter(h.mirror, RouterConfig{})
	h.router.SetBacklightControl(h.registry.SetBacklight)

	ipcon := tf.NewIPConnection(tf.Options{Addr: sim.Addr(), AutoReconnect: true, Reconnect: fastRetry})
	h.station = New(ipcon, h.registry, h.router, Options{
		CallbackPeriod: 500 * time.Millisecond,
		Retry:          fastRetry,
		OnLCDReady:     h.router.Redraw,
	})

	ctx, cancel := context.WithCancel(context.Background())
	routerDone := make(chan struct{})
	go func() {
		_ = h.router.Run(ctx)
		close(routerDone)
	}()
	stationDone := make(chan error, 1)
	go func() { stationDone <- h.station.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		<-stationDone
		<-routerDone
		_ = ipcon.Close()
		_ = sim.Close()
	})
	return h
}

func (h *harness) allPresent() bool {
	return h.registry.LCD() != nil && h.registry.AmbientLight() != nil &&
		h.registry.Humidity() != nil && h.registry.Barometer() != nil
}

func TestStationInitializesEnumeratedDevices(t *testing.T) {
	h := newHarness(t)
	eventually(t, "all devices registered", h.allPresent)

	if got := len(h.registry.Devices()); got != 4 {
		t.Fatalf("registry lists %d devices", got)
	}
	if !h.sim.Backlight() {
		t.Errorf("backlight should be switched on")
	}
	if h.sim.Glyph(7) != lcd.Glyphs[7] {
		t.Errorf("glyph 7 = %v, want %v", h.sim.Glyph(7), lcd.Glyphs[7])
	}
	for _, uid := range []string{tfsim.AmbientLightUID, tfsim.HumidityUID, tfsim.BarometerUID} {
		if p := h.sim.Period(uid); p != 500 {
			t.Errorf("%s callback period = %d", uid, p)
		}
	}

	// Initial getter values seed every row.
	eventually(t, "seeded rows", func() bool {
		return h.mirror.Row(0) == "Illuminanc 123.40 lx" &&
			h.mirror.Row(1) == "Humidity    45.20 % " &&
			h.mirror.Row(2) == "Air Press  998.50 mb" &&
			h.mirror.Row(3) == "Temperature 21.50 \xDFC"
	})
}

func TestCallbacksReachGridAndLCD(t *testing.T) {
	h := newHarness(t)
	eventually(t, "all devices registered", h.allPresent)

	h.sim.SetChipTemperature(1875)
	h.sim.EmitAirPressure(1013250)
	eventually(t, "air pressure on LCD", func() bool { return h.sim.Line(2) == "Air Press 1013.25 mb" })
	eventually(t, "temperature after air pressure", func() bool { return h.sim.Line(3) == "Temperature 18.75 \xDFC" })

	h.sim.EmitIlluminance(99)
	eventually(t, "illuminance row", func() bool {
		return h.mirror.Row(0) == "Illuminanc   9.90 lx" && h.sim.Line(0) == "Illuminanc   9.90 lx"
	})
}

func TestDetachedDeviceIsCleared(t *testing.T) {
	h := newHarness(t)
	eventually(t, "all devices registered", h.allPresent)

	h.sim.Detach(tfsim.HumidityUID)
	eventually(t, "humidity cleared", func() bool { return h.registry.Humidity() == nil })
	if h.registry.LCD() == nil {
		t.Fatalf("LCD must stay registered")
	}
	if got := len(h.registry.Devices()); got != 3 {
		t.Fatalf("registry lists %d devices", got)
	}
}

func TestMissingLCDOnlySkipsPhysicalWrite(t *testing.T) {
	h := newHarness(t)
	eventually(t, "all devices registered", h.allPresent)

	h.sim.Detach(tfsim.LCDUID)
	eventually(t, "lcd cleared", func() bool { return h.registry.LCD() == nil })

	h.sim.EmitHumidity(611)
	eventually(t, "grid still updated", func() bool { return h.mirror.Row(1) == "Humidity    61.10 % " })
	if h.sim.Line(1) == "Humidity    61.10 % " {
		t.Fatalf("detached LCD should not receive writes")
	}
	if err := h.registry.SetBacklight(context.Background(), true); !errors.Is(err, ErrNoDisplay) {
		t.Fatalf("expected ErrNoDisplay, got %v", err)
	}
}

func TestReenumeratesAfterReconnect(t *testing.T) {
	h := newHarness(t)
	eventually(t, "all devices registered", h.allPresent)
	first := h.registry.LCD()

	h.sim.DropConnections()
	eventually(t, "devices back after reconnect", func() bool {
		l := h.registry.LCD()
		return l != nil && l != first && h.allPresent()
	})

	h.sim.EmitHumidity(300)
	eventually(t, "callbacks after reconnect", func() bool { return h.sim.Line(1) == "Humidity    30.00 % " })
}

func TestReinitializedLCDGetsGridBack(t *testing.T) {
	h := newHarness(t)
	eventually(t, "all devices registered", h.allPresent)

	h.sim.Detach(tfsim.AmbientLightUID)
	eventually(t, "ambient light cleared", func() bool { return h.registry.AmbientLight() == nil })
	const notice = "Light sensor missing"
	h.router.Submit(weather.DisplayCommand{Action: weather.ActionWrite, Row: 0, Text: notice})
	eventually(t, "notice on LCD", func() bool { return h.sim.Line(0) == notice })
	first := h.registry.LCD()

	// Reconnecting re-initializes the LCD, which clears it. Nothing refreshes row 0.
	h.sim.DropConnections()
	eventually(t, "new LCD handle", func() bool {
		l := h.registry.LCD()
		return l != nil && l != first
	})
	eventually(t, "grid replayed onto LCD", func() bool {
		for r := 0; r < lcd.Rows; r++ {
			if h.sim.Line(r) != h.mirror.Row(r) {
				return false
			}
		}
		return h.sim.Line(0) == notice
	})
}

func TestRunGivesUpWhenBrickdIsDown(t *testing.T) {
	ipcon := tf.NewIPConnection(tf.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond})
	defer ipcon.Close()
	s := New(ipcon, NewRegistry(), NewRouter(lcd.NewMirror(), RouterConfig{}), Options{
		Retry: retry.Policy{MaxAttempts: 2, Initial: time.Millisecond, Multiplier: 1},
	})
	err := s.Run(context.Background())
	if !errors.Is(err, retry.ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
}

func TestRegistryDisplayWithoutLCD(t *testing.T) {
	reg := NewRegistry()
	changes := 0
	reg.OnChange(func() { changes++ })
	if err := reg.Display().WriteLine(0, 0, "hello"); err != nil {
		t.Fatalf("absent LCD should be skipped silently: %v", err)
	}
	if reg.Remove("nope") {
		t.Fatalf("removing an unknown uid should report false")
	}
	if changes != 0 {
		t.Fatalf("unexpected change notifications: %d", changes)
	}
	reg.Reset()
	if changes != 1 {
		t.Fatalf("Reset should notify once, got %d", changes)
	}
}

func TestDeviceInitErrorUnwraps(t *testing.T) {
	err := error(&DeviceInitError{Device: "LCD 20x4 Bricklet", UID: "SCL", Err: tf.ErrTimeout})
	if !errors.Is(err, tf.ErrTimeout) {
		t.Fatalf("DeviceInitError should unwrap to the cause")
	}
	var initErr *DeviceInitError
	if !errors.As(err, &initErr) || initErr.UID != "SCL" {
		t.Fatalf("errors.As failed: %v", err)
	}
}
