// Package station ties the Tinkerforge devices, the display mirror and the reading
// sinks together.
package station

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fisaks/weatherstation/internal/lcd"
	"github.com/fisaks/weatherstation/internal/logging"
	"github.com/fisaks/weatherstation/internal/util"
	"github.com/fisaks/weatherstation/internal/weather"
)

var (
	ErrQueueFull      = errors.New("station: queue full")
	ErrNoDisplay      = errors.New("station: no LCD present")
	ErrUnknownAction  = errors.New("station: unknown display action")
	ErrInvalidCommand = errors.New("station: invalid display command")
)

type lineLayout struct {
	row    int
	format string
	digits int
}

var layouts = map[weather.Kind]lineLayout{
	weather.Illuminance: {row: 0, format: "Illuminanc %s lx", digits: 3},
	weather.Humidity:    {row: 1, format: "Humidity %s %%", digits: 5},
	weather.AirPressure: {row: 2, format: "Air Press %s mb", digits: 4},
	weather.Temperature: {row: 3, format: "Temperature %s \xDFC", digits: 2},
}

// RowFor returns the display row a reading kind is shown on.
func RowFor(kind weather.Kind) (int, bool) {
	l, ok := layouts[kind]
	return l.row, ok
}

// FormatLine renders a reading as the 20 character line of its row.
func FormatLine(r weather.SensorReading) (int, string, bool) {
	l, ok := layouts[r.Kind]
	if !ok {
		return 0, "", false
	}
	text := fmt.Sprintf(l.format, lcd.FormatValueDefault(r.Value(), l.digits))
	return l.row, util.Pad(text, lcd.Cols), true
}

type RouterConfig struct {
	QueueSize     int
	SinkQueueSize int
	SinkTimeout   time.Duration
}

func (c RouterConfig) withDefaults() RouterConfig {
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.SinkQueueSize <= 0 {
		c.SinkQueueSize = 128
	}
	if c.SinkTimeout <= 0 {
		c.SinkTimeout = 5 * time.Second
	}
	return c
}

// Router is the single writer of the display grid. Readings and display commands are
// queued by any goroutine and applied in order by Run.
type Router struct {
	cfg       RouterConfig
	mirror    *lcd.Mirror
	readings  chan weather.SensorReading
	commands  chan weather.DisplayCommand
	sinks     []*sinkWorker
	state     weather.DisplayStatePublisher
	stateCh   chan struct{}
	redrawCh  chan struct{}
	backlight func(ctx context.Context, on bool) error
}

func NewRouter(mirror *lcd.Mirror, cfg RouterConfig) *Router {
	cfg = cfg.withDefaults()
	return &Router{
		cfg:      cfg,
		mirror:   mirror,
		readings: make(chan weather.SensorReading, cfg.QueueSize),
		commands: make(chan weather.DisplayCommand, cfg.QueueSize),
		stateCh:  make(chan struct{}, 1),
		redrawCh: make(chan struct{}, 1),
	}
}

// AddSink registers a reading sink. Call before Run.
func (r *Router) AddSink(s weather.ReadingSink) {
	r.sinks = append(r.sinks, &sinkWorker{
		sink:    s,
		ch:      make(chan weather.SensorReading, r.cfg.SinkQueueSize),
		timeout: r.cfg.SinkTimeout,
	})
}

// SetStatePublisher receives the grid rows after every change. Call before Run.
func (r *Router) SetStatePublisher(p weather.DisplayStatePublisher) { r.state = p }

// SetBacklightControl wires the backlight action. Call before Run.
func (r *Router) SetBacklightControl(fn func(ctx context.Context, on bool) error) {
	r.backlight = fn
}

func (r *Router) Mirror() *lcd.Mirror { return r.mirror }

// Publish queues a reading without blocking; a full queue drops it.
func (r *Router) Publish(reading weather.SensorReading) bool {
	select {
	case r.readings <- reading:
		return true
	default:
		logging.Warn("reading queue full, dropping reading", "kind", reading.Kind.String(), "source", reading.Source)
		return false
	}
}

// Submit queues a display command without blocking; a full queue drops it.
func (r *Router) Submit(cmd weather.DisplayCommand) bool {
	select {
	case r.commands <- cmd:
		return true
	default:
		logging.Warn("display command queue full, dropping command", "id", cmd.ID, "action", cmd.Action)
		return false
	}
}

// Redraw asks Run to resend the whole grid to the physical displays, e.g. after the
// LCD was cleared by its initialization. Requests coalesce.
func (r *Router) Redraw() {
	select {
	case r.redrawCh <- struct{}{}:
	default:
	}
}

// OnDisplayCommand validates a loosely typed command and queues it.
func (r *Router) OnDisplayCommand(ctx context.Context, in weather.IncomingDisplayCommand) error {
	cmd, err := ToDisplayCommand(in)
	if err != nil {
		return err
	}
	if !r.Submit(cmd) {
		return ErrQueueFull
	}
	return nil
}

// ToDisplayCommand converts the wire shape, checking the action and the coordinates.
func ToDisplayCommand(in weather.IncomingDisplayCommand) (weather.DisplayCommand, error) {
	cmd := weather.DisplayCommand{ID: in.ID, Action: in.Action}
	switch in.Action {
	case weather.ActionWrite:
		cmd.Row = util.ToInt(in.Row)
		cmd.Col = util.ToInt(in.Col)
		cmd.Text = in.Text
		if cmd.Row < 0 || cmd.Row >= lcd.Rows {
			return cmd, fmt.Errorf("%w: row %v", ErrInvalidCommand, in.Row)
		}
		if cmd.Col < 0 {
			return cmd, fmt.Errorf("%w: col %v", ErrInvalidCommand, in.Col)
		}
	case weather.ActionClear:
	case weather.ActionBacklight:
		cmd.On = util.ToBool(in.On)
	default:
		return cmd, fmt.Errorf("%w: %q", ErrUnknownAction, in.Action)
	}
	return cmd, nil
}

// Run consumes both queues until ctx is done.
func (r *Router) Run(ctx context.Context) error {
	for _, s := range r.sinks {
		go s.run(ctx)
	}
	if r.state != nil {
		go r.runStatePublisher(ctx)
	}
	logging.Info("Router started", "sinks", len(r.sinks), "queue", r.cfg.QueueSize)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case reading := <-r.readings:
			r.handleReading(ctx, reading)
		case cmd := <-r.commands:
			r.handleCommand(ctx, cmd)
		case <-r.redrawCh:
			r.mirror.Redraw()
			logging.Debug("Display redrawn")
		}
	}
}

func (r *Router) handleReading(ctx context.Context, reading weather.SensorReading) {
	row, line, ok := FormatLine(reading)
	if !ok {
		logging.Warn("no display row for reading", "kind", reading.Kind.String())
		return
	}
	if err := r.mirror.WriteLine(row, 0, line); err != nil {
		logging.Error("display write failed", "row", row, "error", err)
		return
	}
	logging.Info(fmt.Sprintf("Write to line %d", row), "kind", reading.Kind.String(), "value", reading.Value(), "source", reading.Source)
	r.stateChanged()

	for _, s := range r.sinks {
		s.push(reading)
	}
}

func (r *Router) handleCommand(ctx context.Context, cmd weather.DisplayCommand) {
	logging.Debug("Display command", "id", cmd.ID, "action", cmd.Action, "row", cmd.Row, "col", cmd.Col)
	switch cmd.Action {
	case weather.ActionWrite:
		if err := r.mirror.WriteLine(cmd.Row, cmd.Col, cmd.Text); err != nil {
			logging.Warn("display command rejected", "id", cmd.ID, "error", err)
			return
		}
	case weather.ActionClear:
		if err := r.mirror.Clear(); err != nil {
			logging.Warn("display clear failed", "id", cmd.ID, "error", err)
			return
		}
	case weather.ActionBacklight:
		if r.backlight == nil {
			logging.Warn("backlight control not available", "id", cmd.ID)
			return
		}
		if err := r.backlight(ctx, cmd.On); err != nil {
			logging.Warn("backlight command failed", "id", cmd.ID, "on", cmd.On, "error", err)
		}
		return
	default:
		logging.Warn("unknown display action", "id", cmd.ID, "action", cmd.Action)
		return
	}
	r.stateChanged()
}

func (r *Router) stateChanged() {
	if r.state == nil {
		return
	}
	select {
	case r.stateCh <- struct{}{}: // coalesce; one pending signal is enough
	default:
	}
}

func (r *Router) runStatePublisher(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stateCh:
			pctx, cancel := context.WithTimeout(ctx, r.cfg.SinkTimeout)
			if err := r.state.PublishDisplayState(pctx, r.mirror.Snapshot()); err != nil {
				logging.Warn("display state publish failed", "error", err)
			}
			cancel()
		}
	}
}

type sinkWorker struct {
	sink    weather.ReadingSink
	ch      chan weather.SensorReading
	timeout time.Duration
}

func (s *sinkWorker) push(reading weather.SensorReading) {
	select {
	case s.ch <- reading:
	default:
		logging.Warn("sink queue full, dropping reading", "sink", s.sink.Name(), "kind", reading.Kind.String())
	}
}

func (s *sinkWorker) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case reading := <-s.ch:
			sctx, cancel := context.WithTimeout(ctx, s.timeout)
			if err := s.sink.Store(sctx, reading); err != nil {
				logging.Error("sink store failed", "sink", s.sink.Name(), "kind", reading.Kind.String(), "error", err)
			}
			cancel()
		}
	}
}
