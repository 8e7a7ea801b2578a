package messaging

import (
	"context"
	"encoding/json"
	"time"

	"github.com/fisaks/weatherstation/internal/logging"
	"github.com/fisaks/weatherstation/internal/state"
	"github.com/fisaks/weatherstation/internal/weather"
)

// ReadingMessage is the retained payload on <prefix>/reading/<kind>.
type ReadingMessage struct {
	Kind   weather.Kind `json:"kind"`
	Raw    int64        `json:"raw"`
	Value  float64      `json:"value"`
	Unit   string       `json:"unit"`
	Source string       `json:"source,omitempty"`
	At     time.Time    `json:"at"`
}

func NewReadingMessage(r weather.SensorReading) ReadingMessage {
	return ReadingMessage{
		Kind:   r.Kind,
		Raw:    r.Raw,
		Value:  r.Value(),
		Unit:   r.Kind.Unit(),
		Source: r.Source,
		At:     r.At.UTC(),
	}
}

// DisplayStateMessage is the retained payload on <prefix>/display/state.
type DisplayStateMessage struct {
	Rows []string  `json:"rows"`
	At   time.Time `json:"at"`
}

type StationBroker interface {
	Broker
	weather.ReadingSink
	weather.DisplayStatePublisher
	StartDisplaySubscriber(ctx context.Context, subscriber weather.DisplaySubscriber) error
}

type stationBroker struct {
	Broker
	subscriber        weather.DisplaySubscriber
	readingState      state.ReadingStateStore
	heartbeatInterval time.Duration
}

func NewStationBroker(cfg BrokerConfig, heartbeatInterval time.Duration) StationBroker {
	return newStationBroker(NewMsgBroker(cfg), heartbeatInterval)
}

func newStationBroker(broker Broker, heartbeatInterval time.Duration) *stationBroker {
	return &stationBroker{
		Broker:            broker,
		readingState:      state.NewReadingStateStore(),
		heartbeatInterval: heartbeatInterval,
	}
}

func (b *stationBroker) Name() string { return "mqtt" }

// Store publishes a reading when it changed or its heartbeat is due.
func (b *stationBroker) Store(ctx context.Context, r weather.SensorReading) error {
	if !b.readingState.NeedsSend(r, b.heartbeatInterval) {
		return nil
	}
	logging.Debug("Publishing reading", "kind", r.Kind.String(), "raw", r.Raw)
	err := b.PublishJSON(ctx, b.Topic("reading", r.Kind.String()), FireAndForget, true, NewReadingMessage(r))
	if err == nil {
		b.readingState.Update(r)
	}
	return err
}

func (b *stationBroker) PublishDisplayState(ctx context.Context, rows []string) error {
	return b.PublishJSON(ctx, b.Topic("display", "state"), FireAndForget, true, DisplayStateMessage{Rows: rows, At: time.Now().UTC()})
}

func (b *stationBroker) StartDisplaySubscriber(ctx context.Context, subscriber weather.DisplaySubscriber) error {
	b.subscriber = subscriber
	_, err := b.Subscribe(ctx, b.Topic("display", "cmd"), AtLeastOnce, b.OnMessage)
	return err
}

func (b *stationBroker) OnMessage(ctx context.Context, topic string, payload []byte) {
	logging.Debug("Received display command", "topic", topic)
	if b.subscriber == nil {
		return
	}
	var cmd weather.IncomingDisplayCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		logging.Warn("display cmd json", "topic", topic, "error", err)
		return
	}
	if err := b.subscriber.OnDisplayCommand(ctx, cmd); err != nil {
		logging.Warn("display cmd handling", "id", cmd.ID, "action", cmd.Action, "error", err)
	}
}
