// Package sink forwards readings to Kafka.
package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/fisaks/weatherstation/internal/logging"
	"github.com/fisaks/weatherstation/internal/weather"
)

type KafkaConfig struct {
	Brokers      []string
	Topic        string
	Station      string
	BatchTimeout time.Duration
	WriteTimeout time.Duration
}

// KafkaRecord is the JSON value written per reading. The message key is station/kind so
// every kind of one station lands on the same partition.
type KafkaRecord struct {
	Station string       `json:"station"`
	Kind    weather.Kind `json:"kind"`
	Raw     int64        `json:"raw"`
	Value   float64      `json:"value"`
	Unit    string       `json:"unit"`
	Source  string       `json:"source,omitempty"`
	At      time.Time    `json:"at"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Kafka struct {
	cfg    KafkaConfig
	writer messageWriter
}

func NewKafka(cfg KafkaConfig) (*Kafka, error) {
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, errors.New("kafka topic must not be empty")
	}
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("at least one kafka broker is required")
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           cfg.BatchTimeout,
		WriteTimeout:           cfg.WriteTimeout,
		AllowAutoTopicCreation: true,
		ErrorLogger:            kafka.LoggerFunc(func(msg string, args ...any) { logging.Warn(fmt.Sprintf(msg, args...), "component", "kafka") }),
	}
	logging.Info("Kafka sink ready", "brokers", cfg.Brokers, "topic", cfg.Topic)
	return newKafkaWithWriter(cfg, w), nil
}

func newKafkaWithWriter(cfg KafkaConfig, w messageWriter) *Kafka {
	return &Kafka{cfg: cfg, writer: w}
}

func (k *Kafka) Name() string { return "kafka" }

func (k *Kafka) Store(ctx context.Context, r weather.SensorReading) error {
	value, err := json.Marshal(KafkaRecord{
		Station: k.cfg.Station,
		Kind:    r.Kind,
		Raw:     r.Raw,
		Value:   r.Value(),
		Unit:    r.Kind.Unit(),
		Source:  r.Source,
		At:      r.At.UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal kafka record: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(k.cfg.Station + "/" + r.Kind.String()),
		Value: value,
		Time:  r.At,
		Headers: []kafka.Header{
			{Key: "source", Value: []byte(r.Source)},
		},
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write %s: %w", k.cfg.Topic, err)
	}
	return nil
}

func (k *Kafka) Close() error {
	return k.writer.Close()
}
