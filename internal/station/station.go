package station

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fisaks/weatherstation/internal/lcd"
	"github.com/fisaks/weatherstation/internal/logging"
	"github.com/fisaks/weatherstation/internal/retry"
	tf "github.com/fisaks/weatherstation/internal/tinkerforge"
	"github.com/fisaks/weatherstation/internal/weather"
)

const sourceTinkerforge = "tinkerforge"

// DeviceInitError reports a device that enumerated but could not be set up.
type DeviceInitError struct {
	Device string
	UID    string
	Err    error
}

func (e *DeviceInitError) Error() string {
	return fmt.Sprintf("init %s %s: %v", e.Device, e.UID, e.Err)
}

func (e *DeviceInitError) Unwrap() error { return e.Err }

type Options struct {
	CallbackPeriod time.Duration
	Retry          retry.Policy
	InitTimeout    time.Duration
	// OnLCDReady runs after an LCD was initialized and registered. The device is blank then.
	OnLCDReady     func()
}

func (o Options) withDefaults() Options {
	if o.CallbackPeriod <= 0 {
		o.CallbackPeriod = time.Second
	}
	if o.Retry.MaxAttempts == 0 {
		o.Retry = retry.DefaultPolicy()
	}
	if o.InitTimeout <= 0 {
		o.InitTimeout = 10 * time.Second
	}
	return o
}

// Station owns the brickd session: it connects, enumerates, initializes every device
// that shows up and turns bricklet callbacks into readings.
type Station struct {
	opts      Options
	ipcon     *tf.IPConnection
	registry  *Registry
	publisher weather.ReadingPublisher

	ctx   context.Context
	fatal chan error
}

func New(ipcon *tf.IPConnection, registry *Registry, publisher weather.ReadingPublisher, opts Options) *Station {
	return &Station{
		opts:      opts.withDefaults(),
		ipcon:     ipcon,
		registry:  registry,
		publisher: publisher,
		ctx:       context.Background(),
		fatal:     make(chan error, 1),
	}
}

func (s *Station) Registry() *Registry { return s.registry }

// Ready reports whether the brickd session is currently up.
func (s *Station) Ready() bool { return s.ipcon.IsConnected() }

// Run connects and enumerates, retrying with the policy, then blocks until ctx is done
// or the connection is lost for good.
func (s *Station) Run(ctx context.Context) error {
	s.ctx = ctx
	s.ipcon.OnEnumerate(s.handleEnumerate)
	s.ipcon.OnConnected(s.handleConnected)
	s.ipcon.OnDisconnected(s.handleDisconnected)
	s.ipcon.OnReconnectFailed(func(err error) {
		s.fail(fmt.Errorf("brickd reconnect: %w", err))
	})

	err := s.opts.Retry.Do(ctx, "brickd connect", func(ctx context.Context) error {
		err := s.ipcon.Connect(ctx)
		if errors.Is(err, tf.ErrAlreadyConnected) {
			return nil
		}
		return err
	})
	if err != nil {
		return err
	}
	logging.Info("Connected to brickd", "addr", s.ipcon.Addr())
	if err := s.enumerate(ctx); err != nil {
		_ = s.ipcon.Disconnect()
		return err
	}

	select {
	case <-ctx.Done():
		_ = s.ipcon.Disconnect()
		return nil
	case err := <-s.fatal:
		_ = s.ipcon.Disconnect()
		return err
	}
}

func (s *Station) enumerate(ctx context.Context) error {
	return s.opts.Retry.Do(ctx, "brickd enumerate", s.ipcon.Enumerate)
}

func (s *Station) fail(err error) {
	select {
	case s.fatal <- err:
	default:
	}
}

func (s *Station) handleConnected(reason tf.ConnectReason) {
	if reason != tf.ConnectReasonAutoReconnect {
		return
	}
	logging.Info("brickd auto-reconnected, enumerating again", "addr", s.ipcon.Addr())
	// Off the dispatch goroutine: enumerate callbacks need it while we back off.
	go func() {
		if err := s.enumerate(s.ctx); err != nil && s.ctx.Err() == nil {
			s.fail(err)
		}
	}()
}

func (s *Station) handleDisconnected(reason tf.DisconnectReason) {
	logging.Warn("brickd disconnected", "addr", s.ipcon.Addr(), "reason", reason.String())
	if reason != tf.DisconnectReasonRequest {
		s.registry.Reset()
	}
}

func (s *Station) handleEnumerate(ev tf.EnumerateEvent) {
	name := tf.DeviceName(ev.DeviceIdentifier)
	if ev.EnumerationType == tf.EnumerationDisconnected {
		if s.registry.Remove(ev.UID) {
			logging.Warn("Device disconnected", "device", name, "uid", ev.UID)
		}
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.opts.InitTimeout)
	defer cancel()

	var err error
	switch ev.DeviceIdentifier {
	case tf.LCD20x4Identifier:
		err = s.initLCD(ctx, ev)
	case tf.AmbientLightIdentifier:
		err = s.initAmbientLight(ctx, ev)
	case tf.HumidityIdentifier:
		err = s.initHumidity(ctx, ev)
	case tf.BarometerIdentifier:
		err = s.initBarometer(ctx, ev)
	default:
		logging.Debug("Ignoring device", "uid", ev.UID, "identifier", ev.DeviceIdentifier)
		return
	}
	if err != nil {
		initErr := &DeviceInitError{Device: name, UID: ev.UID, Err: err}
		logging.Error("Device init failed", "device", name, "uid", ev.UID, "error", initErr)
		return
	}
	logging.Info("Device ready", "device", name, "uid", ev.UID, "position", string(rune(ev.Position)))
}

func (s *Station) initLCD(ctx context.Context, ev tf.EnumerateEvent) error {
	d, err := tf.NewLCD20x4(ev.UID, s.ipcon)
	if err != nil {
		return err
	}
	if err := d.ClearDisplay(ctx); err != nil {
		d.Destroy()
		return err
	}
	if err := d.BacklightOn(ctx); err != nil {
		d.Destroy()
		return err
	}
	if err := lcd.UploadGlyphs(d); err != nil {
		d.Destroy()
		return err
	}
	if _, err := d.IsBacklightOn(ctx); err != nil {
		d.Destroy()
		return err
	}
	s.registry.SetLCD(d, newDeviceInfo(ev))
	if s.opts.OnLCDReady != nil {
		s.opts.OnLCDReady()
	}
	return nil
}

func (s *Station) initAmbientLight(ctx context.Context, ev tf.EnumerateEvent) error {
	d, err := tf.NewAmbientLight(ev.UID, s.ipcon)
	if err != nil {
		return err
	}
	if err := d.SetIlluminanceCallbackPeriod(ctx, s.opts.CallbackPeriod); err != nil {
		d.Destroy()
		return err
	}
	v, err := d.GetIlluminance(ctx)
	if err != nil {
		d.Destroy()
		return err
	}
	d.OnIlluminance(func(v uint16) {
		s.publish(weather.Illuminance, int64(v))
	})
	s.registry.SetAmbientLight(d, newDeviceInfo(ev))
	s.publish(weather.Illuminance, int64(v))
	return nil
}

func (s *Station) initHumidity(ctx context.Context, ev tf.EnumerateEvent) error {
	d, err := tf.NewHumidity(ev.UID, s.ipcon)
	if err != nil {
		return err
	}
	if err := d.SetHumidityCallbackPeriod(ctx, s.opts.CallbackPeriod); err != nil {
		d.Destroy()
		return err
	}
	v, err := d.GetHumidity(ctx)
	if err != nil {
		d.Destroy()
		return err
	}
	d.OnHumidity(func(v uint16) {
		s.publish(weather.Humidity, int64(v))
	})
	s.registry.SetHumidity(d, newDeviceInfo(ev))
	s.publish(weather.Humidity, int64(v))
	return nil
}

func (s *Station) initBarometer(ctx context.Context, ev tf.EnumerateEvent) error {
	d, err := tf.NewBarometer(ev.UID, s.ipcon)
	if err != nil {
		return err
	}
	if err := d.SetAirPressureCallbackPeriod(ctx, s.opts.CallbackPeriod); err != nil {
		d.Destroy()
		return err
	}
	p, err := d.GetAirPressure(ctx)
	if err != nil {
		d.Destroy()
		return err
	}
	d.OnAirPressure(func(p int32) {
		s.publish(weather.AirPressure, int64(p))
		s.publishChipTemperature(d)
	})
	s.registry.SetBarometer(d, newDeviceInfo(ev))
	s.publish(weather.AirPressure, int64(p))
	s.publishChipTemperature(d)
	return nil
}

// publishChipTemperature reads the barometer's chip temperature. The bricklet has no
// temperature callback, so this follows each air pressure event.
func (s *Station) publishChipTemperature(d *tf.Barometer) {
	ctx, cancel := context.WithTimeout(s.ctx, s.opts.InitTimeout)
	defer cancel()
	t, err := d.GetChipTemperature(ctx)
	if err != nil {
		logging.Warn("chip temperature read failed", "uid", d.UID(), "error", err)
		return
	}
	s.publish(weather.Temperature, int64(t))
}

func (s *Station) publish(kind weather.Kind, raw int64) {
	s.publisher.Publish(weather.NewReading(kind, raw, sourceTinkerforge))
}
