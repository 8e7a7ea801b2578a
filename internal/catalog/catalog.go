package catalog

import (
	"context"
	"time"

	"github.com/fisaks/weatherstation/internal/config"
	"github.com/fisaks/weatherstation/internal/lcd"
	"github.com/fisaks/weatherstation/internal/logging"
	"github.com/fisaks/weatherstation/internal/messaging"
	"github.com/fisaks/weatherstation/internal/station"
	"github.com/fisaks/weatherstation/internal/weather"
)

type StationCatalogMessage struct {
	Station   string               `json:"station"`
	Timestamp time.Time            `json:"timestamp"`
	Display   DisplaySummary       `json:"display"`
	Devices   []station.DeviceInfo `json:"devices"`
	Sources   []SourceSummary      `json:"sources"`
	Kinds     []KindSummary        `json:"kinds"`
}

type DisplaySummary struct {
	Rows int `json:"rows"`
	Cols int `json:"cols"`
}

type SourceSummary struct {
	Name   string         `json:"name"`
	Addr   string         `json:"addr"`
	UnitId uint8          `json:"unitId,omitempty"`
	Kinds  []weather.Kind `json:"kinds,omitempty"`
}

type KindSummary struct {
	Kind weather.Kind `json:"kind"`
	Unit string       `json:"unit"`
	Row  int          `json:"row"`
}

// DeviceLister is satisfied by station.Registry.
type DeviceLister interface {
	Devices() []station.DeviceInfo
}

type Catalog struct {
	cfg     *config.StationConfig
	devices DeviceLister
	broker  messaging.Broker
}

func NewStationCatalog(cfg *config.StationConfig, devices DeviceLister, broker messaging.Broker) *Catalog {
	return &Catalog{cfg: cfg, devices: devices, broker: broker}
}

func (c *Catalog) Build() *StationCatalogMessage {
	msg := &StationCatalogMessage{
		Station:   c.cfg.Station,
		Timestamp: time.Now().UTC(),
		Display:   DisplaySummary{Rows: lcd.Rows, Cols: lcd.Cols},
		Devices:   c.devices.Devices(),
		Sources:   []SourceSummary{{Name: "tinkerforge", Addr: c.cfg.Brickd.Addr()}},
	}
	if m := c.cfg.Modbus; m != nil {
		src := SourceSummary{Name: "modbus", UnitId: m.UnitId, Addr: m.Bus.TCPAddr}
		if m.Bus.Type == "rtu" {
			src.Addr = m.Bus.Port
		}
		for _, r := range m.Registers {
			src.Kinds = append(src.Kinds, r.Kind)
		}
		msg.Sources = append(msg.Sources, src)
	}
	for _, k := range weather.Kinds {
		row, _ := station.RowFor(k)
		msg.Kinds = append(msg.Kinds, KindSummary{Kind: k, Unit: k.Unit(), Row: row})
	}
	return msg
}

func (c *Catalog) OnConnectPublish() (messaging.PublishRequest, error) {
	return messaging.PublishRequest{
		Topic:   c.broker.Topic("catalog"),
		Qos:     messaging.AtLeastOnce,
		Retain:  true,
		Payload: c.Build(),
	}, nil
}

// Publish sends the catalog now, e.g. after a device appeared or vanished.
func (c *Catalog) Publish(ctx context.Context) {
	if !c.broker.IsConnected() {
		return
	}
	if err := c.broker.PublishJSON(ctx, c.broker.Topic("catalog"), messaging.AtLeastOnce, true, c.Build()); err != nil {
		logging.Error("Failed to publish catalog", "error", err)
		return
	}
	logging.Info("Published station catalog", "topic", c.broker.Topic("catalog"))
}
