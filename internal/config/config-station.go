// internal/config/config-station.go
package config

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/fisaks/weatherstation/internal/logging"
	"github.com/fisaks/weatherstation/internal/retry"
	"github.com/fisaks/weatherstation/internal/weather"
)

/* =========================
   Types
   ========================= */

type StationConfig struct {
	Station           string              `json:"station"`
	Brickd            BrickdConfig        `json:"brickd"`
	Retry             RetryConfig         `json:"retry"`
	CallbackPeriodMs  int                 `json:"callbackPeriodMs"`  // bricklet callback period
	HeartbeatInterval int                 `json:"heartbeatInterval"` // seconds, republish unchanged readings
	QueueSize         int                 `json:"queueSize"`
	MQTT              MQTTConfig          `json:"mqtt"`
	Kafka             *KafkaConfig        `json:"kafka"`
	History           *HistoryConfig      `json:"history"`
	Modbus            *ModbusSensorConfig `json:"modbus"`
	Panel             *PanelConfig        `json:"panel"`
	HTTP              *HTTPConfig         `json:"http"`
	Console           bool                `json:"console"`
}

type BrickdConfig struct {
	Host             string `json:"host"`
	Port             int    `json:"port"`
	RequestTimeoutMs int    `json:"requestTimeoutMs"`
	AutoReconnect    *bool  `json:"autoReconnect"`
}

type RetryConfig struct {
	MaxAttempts int     `json:"maxAttempts"`
	InitialMs   int     `json:"initialMs"`
	MaxMs       int     `json:"maxMs"`
	Multiplier  float64 `json:"multiplier"`
}

type MQTTConfig struct {
	TopicRoot        string `json:"topicRoot"`
	ConnectTimeoutMs int    `json:"connectTimeoutMs"`
	PublishTimeoutMs int    `json:"publishTimeoutMs"`
}

type KafkaConfig struct {
	Brokers        []string `json:"brokers"`
	Topic          string   `json:"topic"`
	BatchTimeMs    int      `json:"batchTimeMs"`
	WriteTimeoutMs int      `json:"writeTimeoutMs"`
}

type HistoryConfig struct {
	Path string `json:"path"`
	Keep int    `json:"keep"` // rows kept per kind, 0 keeps everything
}

type ModbusSensorConfig struct {
	Bus            BusConfig        `json:"bus"`
	UnitId         uint8            `json:"unitId"`
	PollIntervalMs int              `json:"pollIntervalMs"`
	Registers      []RegisterConfig `json:"registers"`
}

type BusConfig struct {
	BusId                 string `json:"busId"`
	Type                  string `json:"type"` // "rtu" | "tcp"
	TCPAddr               string `json:"tcpAddr"`
	Port                  string `json:"port"`
	Baud                  int    `json:"baud"`
	DataBits              int    `json:"dataBits"`
	StopBits              int    `json:"stopBits"`
	Parity                string `json:"parity"`
	TimeoutMs             int    `json:"timeoutMs"`
	SettleBeforeRequestMs int    `json:"settleBeforeRequestMs"`
	Debug                 bool   `json:"debug"`
}

// RegisterConfig maps input registers to one reading kind. Raw = register value * factor.
type RegisterConfig struct {
	Kind    weather.Kind `json:"kind"`
	Address uint16       `json:"address"`
	Words   int          `json:"words"` // 1 or 2 (high word first)
	Signed  bool         `json:"signed"`
	Factor  int64        `json:"factor"`
}

type PanelConfig struct {
	Driver  string `json:"driver"` // "serlcd" | "hd44780"
	I2CBus  string `json:"i2cBus"` // empty = first bus
	Address uint16 `json:"address"`
}

type HTTPConfig struct {
	Listen string `json:"listen"`
}

/* =========================
   Helpers
   ========================= */

func (c *StationConfig) CallbackPeriod() time.Duration {
	return time.Duration(c.CallbackPeriodMs) * time.Millisecond
}

func (c *StationConfig) Heartbeat() time.Duration {
	return time.Duration(c.HeartbeatInterval) * time.Second
}

func (b BrickdConfig) Addr() string { return net.JoinHostPort(b.Host, strconv.Itoa(b.Port)) }

func (b BrickdConfig) RequestTimeout() time.Duration {
	return time.Duration(b.RequestTimeoutMs) * time.Millisecond
}

func (b BrickdConfig) Reconnect() bool { return b.AutoReconnect == nil || *b.AutoReconnect }

func (r RetryConfig) Policy() retry.Policy {
	return retry.Policy{
		MaxAttempts: r.MaxAttempts,
		Initial:     time.Duration(r.InitialMs) * time.Millisecond,
		Max:         time.Duration(r.MaxMs) * time.Millisecond,
		Multiplier:  r.Multiplier,
	}
}

func (k *KafkaConfig) BatchTime() time.Duration {
	return time.Duration(k.BatchTimeMs) * time.Millisecond
}

func (k *KafkaConfig) WriteTimeout() time.Duration {
	return time.Duration(k.WriteTimeoutMs) * time.Millisecond
}

func (m MQTTConfig) ConnectTimeout() time.Duration {
	return time.Duration(m.ConnectTimeoutMs) * time.Millisecond
}

func (m MQTTConfig) PublishTimeout() time.Duration {
	return time.Duration(m.PublishTimeoutMs) * time.Millisecond
}

func (b BusConfig) Timeout() time.Duration { return time.Duration(b.TimeoutMs) * time.Millisecond }
func (b BusConfig) SettleBeforeRequest() time.Duration {
	return time.Duration(b.SettleBeforeRequestMs) * time.Millisecond
}

func (m *ModbusSensorConfig) PollInterval() time.Duration {
	return time.Duration(m.PollIntervalMs) * time.Millisecond
}

/* =========================
   Strict load + validate
   ========================= */

func LoadStationConfig(path string) (*StationConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	defer f.Close()
	return LoadStationConfigFromReader(f)
}

func LoadStationConfigFromReader(r io.Reader) (*StationConfig, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	clean := stripJSONComments(raw)

	dec := json.NewDecoder(strings.NewReader(string(clean)))
	dec.DisallowUnknownFields()

	var cfg StationConfig
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate fills defaults and collects every problem it finds.
func (c *StationConfig) Validate() error {
	var errs multiErr

	if strings.TrimSpace(c.Station) == "" {
		c.Station = "station1"
	}

	/* brickd */
	if c.Brickd.Host == "" {
		c.Brickd.Host = "localhost"
	}
	if c.Brickd.Port == 0 {
		c.Brickd.Port = 4223
	}
	if c.Brickd.Port < 0 || c.Brickd.Port > 65535 {
		errs.addf("brickd.port must be 1..65535, got %d", c.Brickd.Port)
	}
	if c.Brickd.RequestTimeoutMs < 0 {
		errs.add("brickd.requestTimeoutMs cannot be negative")
	} else if c.Brickd.RequestTimeoutMs == 0 {
		c.Brickd.RequestTimeoutMs = 2500
	}

	/* retry */
	def := retry.DefaultPolicy()
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = def.MaxAttempts
	}
	if c.Retry.InitialMs == 0 {
		c.Retry.InitialMs = int(def.Initial / time.Millisecond)
	}
	if c.Retry.MaxMs == 0 {
		c.Retry.MaxMs = int(def.Max / time.Millisecond)
	}
	if c.Retry.Multiplier == 0 {
		c.Retry.Multiplier = def.Multiplier
	}
	if c.Retry.MaxAttempts < 0 || c.Retry.InitialMs < 0 || c.Retry.MaxMs < 0 {
		errs.add("retry values cannot be negative")
	}
	if c.Retry.MaxMs < c.Retry.InitialMs {
		errs.addf("retry.maxMs (%d) must be >= retry.initialMs (%d)", c.Retry.MaxMs, c.Retry.InitialMs)
	}
	if c.Retry.Multiplier < 1 {
		errs.add("retry.multiplier must be >= 1")
	}

	/* cadence */
	if c.CallbackPeriodMs < 0 {
		errs.add("callbackPeriodMs cannot be negative")
	} else if c.CallbackPeriodMs == 0 {
		c.CallbackPeriodMs = 1000
	}
	if c.HeartbeatInterval < 0 {
		c.HeartbeatInterval = 60 // default 60s
	}
	if c.HeartbeatInterval == 0 {
		logging.Warn("heartbeatInterval=0 configured, heartbeats disabled")
	}
	if c.QueueSize < 0 {
		errs.add("queueSize cannot be negative")
	} else if c.QueueSize == 0 {
		c.QueueSize = 64
	}

	/* mqtt */
	if c.MQTT.TopicRoot == "" {
		c.MQTT.TopicRoot = "weather"
	}
	if strings.ContainsAny(c.MQTT.TopicRoot, "+#") {
		errs.add("mqtt.topicRoot cannot contain wildcards")
	}
	if c.MQTT.ConnectTimeoutMs <= 0 {
		c.MQTT.ConnectTimeoutMs = 10000
	}
	if c.MQTT.PublishTimeoutMs <= 0 {
		c.MQTT.PublishTimeoutMs = 5000
	}

	/* kafka */
	if k := c.Kafka; k != nil {
		if len(k.Brokers) == 0 {
			errs.add("kafka.brokers cannot be empty")
		}
		if k.Topic == "" {
			k.Topic = "weather.readings"
		}
		if k.BatchTimeMs <= 0 {
			k.BatchTimeMs = 100
		}
		if k.WriteTimeoutMs <= 0 {
			k.WriteTimeoutMs = 5000
		}
	}

	/* history */
	if h := c.History; h != nil {
		if strings.TrimSpace(h.Path) == "" {
			errs.add("history.path is required")
		}
		if h.Keep < 0 {
			errs.add("history.keep cannot be negative")
		}
	}

	/* modbus */
	if m := c.Modbus; m != nil {
		validateModbus(m, &errs)
	}

	/* panel */
	if p := c.Panel; p != nil {
		switch strings.ToLower(p.Driver) {
		case "serlcd":
			if p.Address == 0 {
				p.Address = 0x72
			}
		case "hd44780":
			if p.Address == 0 {
				p.Address = 0x27
			}
		default:
			errs.addf("panel.driver must be 'serlcd' or 'hd44780', got %q", p.Driver)
		}
		if p.Address > 0x7F {
			errs.addf("panel.address %#x is not a 7-bit I2C address", p.Address)
		}
	}

	/* http */
	if h := c.HTTP; h != nil && strings.TrimSpace(h.Listen) == "" {
		h.Listen = ":8080"
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateModbus(m *ModbusSensorConfig, errs *multiErr) {
	b := &m.Bus
	if strings.TrimSpace(b.BusId) == "" {
		b.BusId = "sensor"
	}
	switch strings.ToLower(b.Type) {
	case "tcp":
		if strings.TrimSpace(b.TCPAddr) == "" {
			errs.addf("modbus.bus/%s: tcpAddr is required for type=tcp", b.BusId)
		}
	case "rtu":
		if strings.TrimSpace(b.Port) == "" {
			errs.addf("modbus.bus/%s: port is required for type=rtu", b.BusId)
		}
		if b.Baud <= 0 {
			errs.addf("modbus.bus/%s: baud must be > 0 for type=rtu", b.BusId)
		}
		if b.DataBits == 0 {
			b.DataBits = 8
		}
		if b.StopBits == 0 {
			b.StopBits = 1
		}
		if b.Parity == "" {
			b.Parity = "N"
		}
		if !slices.Contains([]string{"N", "E", "O"}, strings.ToUpper(b.Parity)) {
			errs.addf("modbus.bus/%s: parity must be one of N,E,O", b.BusId)
		}
	default:
		errs.addf("modbus.bus/%s: type must be 'rtu' or 'tcp'", b.BusId)
	}
	if b.TimeoutMs <= 0 {
		b.TimeoutMs = 150
	}
	if b.SettleBeforeRequestMs < 0 {
		errs.addf("modbus.bus/%s: settle timings cannot be negative", b.BusId)
	}

	if m.UnitId == 0 || m.UnitId > 247 {
		errs.add("modbus.unitId must be 1..247")
	}
	if m.PollIntervalMs <= 0 {
		errs.add("modbus.pollIntervalMs must be > 0 (e.g., 5000)")
	}
	if len(m.Registers) == 0 {
		errs.add("modbus.registers cannot be empty")
	}
	seen := map[weather.Kind]int{}
	for i := range m.Registers {
		r := &m.Registers[i]
		if j, dup := seen[r.Kind]; dup {
			errs.addf("modbus.registers[%d]: duplicate kind %s (also at registers[%d])", i, r.Kind, j)
		} else {
			seen[r.Kind] = i
		}
		if r.Words == 0 {
			r.Words = 1
		}
		if r.Words != 1 && r.Words != 2 {
			errs.addf("modbus.registers[%d/%s]: words must be 1 or 2", i, r.Kind)
		}
		if r.Factor == 0 {
			r.Factor = 1
		}
		if int(r.Address)+r.Words > 0x10000 {
			errs.addf("modbus.registers[%d/%s]: address %d out of range", i, r.Kind, r.Address)
		}
	}
}

/* =========================
   Comment stripping + utils
   ========================= */

var (
	lineComments  = regexp.MustCompile(`(?m)//[^\n\r]*`)
	blockComments = regexp.MustCompile(`(?s)/\*.*?\*/`)
)

func stripJSONComments(in []byte) []byte {
	text := string(in)
	text = blockComments.ReplaceAllString(text, "")
	text = lineComments.ReplaceAllString(text, "")
	return []byte(text)
}

// small multi-error
type multiErr []string

func (m *multiErr) add(s string)            { *m = append(*m, s) }
func (m *multiErr) addf(f string, a ...any) { *m = append(*m, fmt.Sprintf(f, a...)) }
func (m multiErr) Error() string            { return "validation errors: " + strings.Join(m, "; ") }
