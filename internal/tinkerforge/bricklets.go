package tinkerforge

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"
)

// Device identifiers reported by enumeration.
const (
	LCD20x4Identifier      uint16 = 212
	AmbientLightIdentifier uint16 = 21
	HumidityIdentifier     uint16 = 27
	BarometerIdentifier    uint16 = 221
)

// Function ids, shared with the simulator.
const (
	LCDFunctionWriteLine          uint8 = 1
	LCDFunctionClearDisplay       uint8 = 2
	LCDFunctionBacklightOn        uint8 = 3
	LCDFunctionBacklightOff       uint8 = 4
	LCDFunctionIsBacklightOn      uint8 = 5
	LCDFunctionSetCustomCharacter uint8 = 11

	AmbientLightFunctionGetIlluminance       uint8 = 1
	AmbientLightFunctionSetIlluminancePeriod uint8 = 3
	AmbientLightCallbackIlluminance          uint8 = 13
	HumidityFunctionGetHumidity              uint8 = 1
	HumidityFunctionSetHumidityPeriod        uint8 = 3
	HumidityCallbackHumidity                 uint8 = 13
	BarometerFunctionGetAirPressure          uint8 = 1
	BarometerFunctionSetAirPressurePeriod    uint8 = 3
	BarometerFunctionGetChipTemperature      uint8 = 14
	BarometerCallbackAirPressure             uint8 = 15
)

// LCDTextWidth is the fixed text field of a write_line request.
const LCDTextWidth = 20

func DeviceName(identifier uint16) string {
	switch identifier {
	case LCD20x4Identifier:
		return "LCD 20x4 Bricklet"
	case AmbientLightIdentifier:
		return "Ambient Light Bricklet"
	case HumidityIdentifier:
		return "Humidity Bricklet"
	case BarometerIdentifier:
		return "Barometer Bricklet"
	}
	return fmt.Sprintf("device %d", identifier)
}

func periodPayload(period time.Duration) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, uint32(period.Milliseconds()))
	return b
}

func readUint16(b []byte) (uint16, error) {
	if len(b) < 2 {
		return 0, ErrShortResponse
	}
	return binary.LittleEndian.Uint16(b), nil
}

func readInt32(b []byte) (int32, error) {
	if len(b) < 4 {
		return 0, ErrShortResponse
	}
	return int32(binary.LittleEndian.Uint32(b)), nil
}

/* ========================= LCD 20x4 ========================= */

type LCD20x4 struct {
	*Device
}

func NewLCD20x4(uid string, ipcon *IPConnection) (*LCD20x4, error) {
	d, err := newDevice(uid, ipcon)
	if err != nil {
		return nil, err
	}
	return &LCD20x4{Device: d}, nil
}

// WriteLine sends up to 20 bytes of text in the LCD character set.
func (l *LCD20x4) WriteLine(line, position uint8, text string) error {
	payload := make([]byte, 2+LCDTextWidth)
	payload[0] = line
	payload[1] = position
	copy(payload[2:], text)
	_, err := l.request(context.Background(), LCDFunctionWriteLine, payload, false)
	return err
}

func (l *LCD20x4) ClearDisplay(ctx context.Context) error {
	_, err := l.request(ctx, LCDFunctionClearDisplay, nil, false)
	return err
}

func (l *LCD20x4) BacklightOn(ctx context.Context) error {
	_, err := l.request(ctx, LCDFunctionBacklightOn, nil, false)
	return err
}

func (l *LCD20x4) BacklightOff(ctx context.Context) error {
	_, err := l.request(ctx, LCDFunctionBacklightOff, nil, false)
	return err
}

func (l *LCD20x4) IsBacklightOn(ctx context.Context) (bool, error) {
	resp, err := l.request(ctx, LCDFunctionIsBacklightOn, nil, true)
	if err != nil {
		return false, err
	}
	if len(resp) < 1 {
		return false, ErrShortResponse
	}
	return resp[0] != 0, nil
}

// SetCustomCharacter stores a 5x8 glyph (low 5 bits of each byte) in slot index 0..7.
func (l *LCD20x4) SetCustomCharacter(index uint8, pattern [8]byte) error {
	if index > 7 {
		return fmt.Errorf("%w: glyph index %d", ErrInvalidParameter, index)
	}
	payload := make([]byte, 9)
	payload[0] = index
	copy(payload[1:], pattern[:])
	_, err := l.request(context.Background(), LCDFunctionSetCustomCharacter, payload, false)
	return err
}

/* ========================= Ambient Light ========================= */

type AmbientLight struct {
	*Device
}

func NewAmbientLight(uid string, ipcon *IPConnection) (*AmbientLight, error) {
	d, err := newDevice(uid, ipcon)
	if err != nil {
		return nil, err
	}
	return &AmbientLight{Device: d}, nil
}

// GetIlluminance returns lux/10.
func (a *AmbientLight) GetIlluminance(ctx context.Context) (uint16, error) {
	resp, err := a.request(ctx, AmbientLightFunctionGetIlluminance, nil, true)
	if err != nil {
		return 0, err
	}
	return readUint16(resp)
}

func (a *AmbientLight) SetIlluminanceCallbackPeriod(ctx context.Context, period time.Duration) error {
	_, err := a.request(ctx, AmbientLightFunctionSetIlluminancePeriod, periodPayload(period), false)
	return err
}

// OnIlluminance fires only when the value changed since the last period.
func (a *AmbientLight) OnIlluminance(fn func(illuminance uint16)) {
	a.registerCallback(AmbientLightCallbackIlluminance, func(p []byte) {
		if v, err := readUint16(p); err == nil {
			fn(v)
		}
	})
}

/* ========================= Humidity ========================= */

type Humidity struct {
	*Device
}

func NewHumidity(uid string, ipcon *IPConnection) (*Humidity, error) {
	d, err := newDevice(uid, ipcon)
	if err != nil {
		return nil, err
	}
	return &Humidity{Device: d}, nil
}

// GetHumidity returns %RH/10.
func (h *Humidity) GetHumidity(ctx context.Context) (uint16, error) {
	resp, err := h.request(ctx, HumidityFunctionGetHumidity, nil, true)
	if err != nil {
		return 0, err
	}
	return readUint16(resp)
}

func (h *Humidity) SetHumidityCallbackPeriod(ctx context.Context, period time.Duration) error {
	_, err := h.request(ctx, HumidityFunctionSetHumidityPeriod, periodPayload(period), false)
	return err
}

func (h *Humidity) OnHumidity(fn func(humidity uint16)) {
	h.registerCallback(HumidityCallbackHumidity, func(p []byte) {
		if v, err := readUint16(p); err == nil {
			fn(v)
		}
	})
}

/* ========================= Barometer ========================= */

type Barometer struct {
	*Device
}

func NewBarometer(uid string, ipcon *IPConnection) (*Barometer, error) {
	d, err := newDevice(uid, ipcon)
	if err != nil {
		return nil, err
	}
	return &Barometer{Device: d}, nil
}

// GetAirPressure returns mbar/1000.
func (b *Barometer) GetAirPressure(ctx context.Context) (int32, error) {
	resp, err := b.request(ctx, BarometerFunctionGetAirPressure, nil, true)
	if err != nil {
		return 0, err
	}
	return readInt32(resp)
}

// GetChipTemperature returns °C/100 of the sensor die.
func (b *Barometer) GetChipTemperature(ctx context.Context) (int16, error) {
	resp, err := b.request(ctx, BarometerFunctionGetChipTemperature, nil, true)
	if err != nil {
		return 0, err
	}
	v, err := readUint16(resp)
	return int16(v), err
}

func (b *Barometer) SetAirPressureCallbackPeriod(ctx context.Context, period time.Duration) error {
	_, err := b.request(ctx, BarometerFunctionSetAirPressurePeriod, periodPayload(period), false)
	return err
}

func (b *Barometer) OnAirPressure(fn func(airPressure int32)) {
	b.registerCallback(BarometerCallbackAirPressure, func(p []byte) {
		if v, err := readInt32(p); err == nil {
			fn(v)
		}
	})
}
