package weather

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Kind identifies which quantity a reading carries.
type Kind uint8

const (
	Illuminance Kind = iota
	Humidity
	AirPressure
	Temperature
)

// Kinds lists every kind in display row order.
var Kinds = []Kind{Illuminance, Humidity, AirPressure, Temperature}

var kindNames = map[Kind]string{
	Illuminance: "illuminance",
	Humidity:    "humidity",
	AirPressure: "airPressure",
	Temperature: "temperature",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// ParseKind is case-insensitive and also accepts "air_pressure".
func ParseKind(s string) (Kind, error) {
	norm := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "_", ""))
	for k, n := range kindNames {
		if strings.ToLower(n) == norm {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown reading kind %q", s)
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *Kind) UnmarshalText(b []byte) error {
	v, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// Scale is the fixed-point divisor the bricklets report raw values with.
func (k Kind) Scale() float64 {
	switch k {
	case Illuminance, Humidity:
		return 10
	case AirPressure:
		return 1000
	case Temperature:
		return 100
	}
	return 1
}

func (k Kind) Unit() string {
	switch k {
	case Illuminance:
		return "lx"
	case Humidity:
		return "%RH"
	case AirPressure:
		return "mbar"
	case Temperature:
		return "°C"
	}
	return ""
}

type SensorReading struct {
	Kind   Kind      `json:"kind"`
	Raw    int64     `json:"raw"`
	Source string    `json:"source,omitempty"`
	At     time.Time `json:"at"`
}

func NewReading(kind Kind, raw int64, source string) SensorReading {
	return SensorReading{Kind: kind, Raw: raw, Source: source, At: time.Now()}
}

// Value is the raw magnitude divided by the kind's scale.
func (r SensorReading) Value() float64 {
	return float64(r.Raw) / r.Kind.Scale()
}

const (
	ActionWrite     = "write"
	ActionClear     = "clear"
	ActionBacklight = "backlight"
)

// IncomingDisplayCommand is the loose wire shape received from MQTT / HTTP.
type IncomingDisplayCommand struct {
	ID     string `json:"id,omitempty"`
	Action string `json:"action"`
	Row    any    `json:"row,omitempty"` // accept number or string
	Col    any    `json:"col,omitempty"`
	Text   string `json:"text,omitempty"`
	On     any    `json:"on,omitempty"`
}

type DisplayCommand struct {
	ID     string
	Action string
	Row    int
	Col    int
	Text   string
	On     bool
}

// ReadingPublisher accepts readings from hardware sources without blocking.
type ReadingPublisher interface {
	Publish(r SensorReading) bool
}

// ReadingSink receives every reading after it reached the display.
type ReadingSink interface {
	Name() string
	Store(ctx context.Context, r SensorReading) error
}

type DisplaySubscriber interface {
	OnDisplayCommand(ctx context.Context, cmd IncomingDisplayCommand) error
}

type DisplayStatePublisher interface {
	PublishDisplayState(ctx context.Context, rows []string) error
}
