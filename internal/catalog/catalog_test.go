package catalog

import (
	"context"
	"strings"
	"testing"

	"github.com/fisaks/weatherstation/internal/config"
	"github.com/fisaks/weatherstation/internal/messaging"
	"github.com/fisaks/weatherstation/internal/station"
	"github.com/fisaks/weatherstation/internal/weather"
)

type staticDevices []station.DeviceInfo

func (s staticDevices) Devices() []station.DeviceInfo { return s }

type jsonBroker struct {
	messaging.Broker
	connected bool
	topics    []string
	payloads  []any
}

func (b *jsonBroker) IsConnected() bool { return b.connected }

func (b *jsonBroker) Topic(parts ...string) string {
	return messaging.JoinTopic("weather/roof", parts...)
}

func (b *jsonBroker) PublishJSON(_ context.Context, topic string, _ messaging.QoS, _ bool, v any) error {
	b.topics = append(b.topics, topic)
	b.payloads = append(b.payloads, v)
	return nil
}

func testConfig(t *testing.T) *config.StationConfig {
	t.Helper()
	cfg, err := config.LoadStationConfigFromReader(strings.NewReader(`{
		"station": "roof",
		"modbus": {
			"bus": {"type": "rtu", "port": "/dev/ttyUSB0", "baud": 9600},
			"unitId": 3,
			"pollIntervalMs": 5000,
			"registers": [{"kind": "humidity", "address": 1}]
		}
	}`))
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	return cfg
}

func TestBuild(t *testing.T) {
	devices := staticDevices{{UID: "SCL", Name: "LCD 20x4"}}
	c := NewStationCatalog(testConfig(t), devices, &jsonBroker{})
	msg := c.Build()

	if msg.Station != "roof" || msg.Display.Rows != 4 || msg.Display.Cols != 20 {
		t.Fatalf("header = %+v", msg)
	}
	if len(msg.Devices) != 1 || msg.Devices[0].UID != "SCL" {
		t.Fatalf("devices = %+v", msg.Devices)
	}
	if len(msg.Sources) != 2 || msg.Sources[0].Addr != "localhost:4223" {
		t.Fatalf("sources = %+v", msg.Sources)
	}
	mb := msg.Sources[1]
	if mb.Addr != "/dev/ttyUSB0" || mb.UnitId != 3 || len(mb.Kinds) != 1 || mb.Kinds[0] != weather.Humidity {
		t.Fatalf("modbus source = %+v", mb)
	}
	for i, k := range msg.Kinds {
		if k.Row != i || k.Kind != weather.Kinds[i] {
			t.Fatalf("kind %d = %+v", i, k)
		}
	}
}

func TestOnConnectPublishIsRetainedCatalogTopic(t *testing.T) {
	c := NewStationCatalog(testConfig(t), staticDevices{}, &jsonBroker{})
	req, err := c.OnConnectPublish()
	if err != nil {
		t.Fatalf("OnConnectPublish: %v", err)
	}
	if req.Topic != "weather/roof/catalog" || !req.Retain {
		t.Fatalf("request = %+v", req)
	}
	if _, ok := req.Payload.(*StationCatalogMessage); !ok {
		t.Fatalf("payload type %T", req.Payload)
	}
}

func TestPublishSkipsWhileDisconnected(t *testing.T) {
	b := &jsonBroker{}
	c := NewStationCatalog(testConfig(t), staticDevices{}, b)

	c.Publish(context.Background())
	if len(b.topics) != 0 {
		t.Fatalf("published while disconnected")
	}
	b.connected = true
	c.Publish(context.Background())
	if len(b.topics) != 1 || b.topics[0] != "weather/roof/catalog" {
		t.Fatalf("topics = %v", b.topics)
	}
}
