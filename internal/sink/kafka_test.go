package sink

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/fisaks/weatherstation/internal/weather"
)

type recordingWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaStoreKeysByStationAndKind(t *testing.T) {
	w := &recordingWriter{}
	k := newKafkaWithWriter(KafkaConfig{Topic: "weather.readings", Station: "roof"}, w)
	at := time.Date(2024, 1, 2, 15, 4, 5, 0, time.UTC)

	if err := k.Store(context.Background(), weather.SensorReading{Kind: weather.Temperature, Raw: 2150, Source: "tinkerforge", At: at}); err != nil {
		t.Fatalf("Store error: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(w.msgs))
	}
	msg := w.msgs[0]
	if string(msg.Key) != "roof/temperature" {
		t.Fatalf("key = %q", msg.Key)
	}
	var rec KafkaRecord
	if err := json.Unmarshal(msg.Value, &rec); err != nil {
		t.Fatalf("decode value: %v", err)
	}
	if rec.Station != "roof" || rec.Kind != weather.Temperature || rec.Value != 21.5 || rec.Unit != "°C" || !rec.At.Equal(at) {
		t.Fatalf("record = %+v", rec)
	}

	if err := k.Close(); err != nil || !w.closed {
		t.Fatalf("Close err=%v closed=%v", err, w.closed)
	}
}

func TestKafkaStoreWrapsWriteError(t *testing.T) {
	boom := errors.New("broker down")
	k := newKafkaWithWriter(KafkaConfig{Topic: "weather.readings"}, &recordingWriter{err: boom})
	err := k.Store(context.Background(), weather.NewReading(weather.Humidity, 1, "test"))
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

func TestNewKafkaValidates(t *testing.T) {
	if _, err := NewKafka(KafkaConfig{Brokers: []string{"localhost:9092"}}); err == nil {
		t.Fatalf("missing topic should fail")
	}
	if _, err := NewKafka(KafkaConfig{Topic: "t"}); err == nil {
		t.Fatalf("missing brokers should fail")
	}
}
