// Package tfsim is an in-process brickd stand-in with an LCD 20x4, Ambient Light,
// Humidity and Barometer bricklet attached.
package tfsim

import (
	"bufio"
	"encoding/binary"
	"errors"
	"net"
	"sync"

	"github.com/fisaks/weatherstation/internal/logging"
	tf "github.com/fisaks/weatherstation/internal/tinkerforge"
)

// Default uids of the simulated bricklets.
const (
	MasterUID       = "6R4xPk"
	LCDUID          = "SCL"
	AmbientLightUID = "amb"
	HumidityUID     = "hum"
	BarometerUID    = "bar"
)

type bricklet struct {
	uid        string
	numUID     uint32
	identifier uint16
	position   byte
}

type Server struct {
	ln net.Listener

	mu        sync.Mutex
	conns     map[net.Conn]*sync.Mutex
	bricklets map[uint32]*bricklet
	silent    map[uint32]bool

	lines     [4][tf.LCDTextWidth]byte
	backlight bool
	glyphs    [8][8]byte
	periods   map[uint32]uint32

	illuminance     uint16
	humidity        uint16
	airPressure     int32
	chipTemperature int16

	requests []tf.Header
	wg       sync.WaitGroup
}

// Start listens on addr ("127.0.0.1:0" for tests).
func Start(addr string) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	s := &Server{
		ln:              ln,
		conns:           make(map[net.Conn]*sync.Mutex),
		bricklets:       make(map[uint32]*bricklet),
		silent:          make(map[uint32]bool),
		periods:         make(map[uint32]uint32),
		illuminance:     1234,
		humidity:        452,
		airPressure:     998500,
		chipTemperature: 2150,
	}
	for i, b := range []struct {
		uid string
		id  uint16
	}{
		{LCDUID, tf.LCD20x4Identifier},
		{AmbientLightUID, tf.AmbientLightIdentifier},
		{HumidityUID, tf.HumidityIdentifier},
		{BarometerUID, tf.BarometerIdentifier},
	} {
		n, _ := tf.ParseUID(b.uid)
		s.bricklets[n] = &bricklet{uid: b.uid, numUID: n, identifier: b.id, position: byte('a' + i)}
	}
	for r := range s.lines {
		for c := range s.lines[r] {
			s.lines[r][c] = ' '
		}
	}
	s.wg.Add(1)
	go s.acceptLoop()
	return s, nil
}

func (s *Server) Addr() string { return s.ln.Addr().String() }

func (s *Server) Close() error {
	err := s.ln.Close()
	s.DropConnections()
	s.wg.Wait()
	return err
}

// DropConnections closes every client socket, as a brickd restart would.
func (s *Server) DropConnections() {
	s.mu.Lock()
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()
}

// Detach removes a bricklet from enumeration and announces it as disconnected.
func (s *Server) Detach(uid string) {
	n, _ := tf.ParseUID(uid)
	s.mu.Lock()
	b := s.bricklets[n]
	delete(s.bricklets, n)
	s.mu.Unlock()
	if b != nil {
		s.broadcast(enumeratePacket(b, tf.EnumerationDisconnected))
	}
}

// Silence makes a bricklet ignore requests, so getters time out.
func (s *Server) Silence(uid string) {
	n, _ := tf.ParseUID(uid)
	s.mu.Lock()
	s.silent[n] = true
	s.mu.Unlock()
}

func (s *Server) Line(row int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return string(s.lines[row][:])
}

func (s *Server) Backlight() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backlight
}

func (s *Server) Glyph(i int) [8]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.glyphs[i]
}

// Period returns the callback period (ms) last configured for uid.
func (s *Server) Period(uid string) uint32 {
	n, _ := tf.ParseUID(uid)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.periods[n]
}

// Requests returns the headers of every request received so far.
func (s *Server) Requests() []tf.Header {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]tf.Header(nil), s.requests...)
}

func (s *Server) SetChipTemperature(v int16) {
	s.mu.Lock()
	s.chipTemperature = v
	s.mu.Unlock()
}

// EmitIlluminance updates the value and sends the callback to every client.
func (s *Server) EmitIlluminance(v uint16) {
	s.mu.Lock()
	s.illuminance = v
	s.mu.Unlock()
	s.emit(AmbientLightUID, tf.AmbientLightCallbackIlluminance, u16(v))
}

func (s *Server) EmitHumidity(v uint16) {
	s.mu.Lock()
	s.humidity = v
	s.mu.Unlock()
	s.emit(HumidityUID, tf.HumidityCallbackHumidity, u16(v))
}

func (s *Server) EmitAirPressure(v int32) {
	s.mu.Lock()
	s.airPressure = v
	s.mu.Unlock()
	s.emit(BarometerUID, tf.BarometerCallbackAirPressure, u32(uint32(v)))
}

func (s *Server) emit(uid string, functionID uint8, payload []byte) {
	n, _ := tf.ParseUID(uid)
	s.broadcast(tf.NewPacket(n, functionID, 0, false, payload))
}

func (s *Server) broadcast(p tf.Packet) {
	s.mu.Lock()
	conns := make(map[net.Conn]*sync.Mutex, len(s.conns))
	for c, m := range s.conns {
		conns[c] = m
	}
	s.mu.Unlock()
	for c, m := range conns {
		writePacket(c, m, p)
	}
}

func writePacket(c net.Conn, m *sync.Mutex, p tf.Packet) {
	m.Lock()
	defer m.Unlock()
	if _, err := c.Write(p.Bytes()); err != nil {
		logging.Debug("tfsim write failed", "error", err)
	}
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		c, err := s.ln.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				logging.Warn("tfsim accept failed", "error", err)
			}
			return
		}
		m := &sync.Mutex{}
		s.mu.Lock()
		s.conns[c] = m
		s.mu.Unlock()
		s.wg.Add(1)
		go s.serve(c, m)
	}
}

func (s *Server) serve(c net.Conn, m *sync.Mutex) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()
		_ = c.Close()
	}()
	r := bufio.NewReader(c)
	for {
		req, err := tf.ReadPacket(r)
		if err != nil {
			return
		}
		for _, resp := range s.handle(req) {
			writePacket(c, m, resp)
		}
	}
}

func enumeratePacket(b *bricklet, typ tf.EnumerationType) tf.Packet {
	payload := tf.EncodeEnumerate(tf.EnumerateEvent{
		UID:              b.uid,
		ConnectedUID:     MasterUID,
		Position:         b.position,
		HardwareVersion:  [3]uint8{1, 0, 0},
		FirmwareVersion:  [3]uint8{2, 0, 3},
		DeviceIdentifier: b.identifier,
		EnumerationType:  typ,
	})
	return tf.NewPacket(0, tf.CallbackEnumerate, 0, false, payload)
}

func (s *Server) handle(req tf.Packet) []tf.Packet {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req.Header)

	if req.UID == 0 && req.FunctionID == tf.FunctionEnumerate {
		out := make([]tf.Packet, 0, len(s.bricklets))
		for _, b := range s.bricklets {
			out = append(out, enumeratePacket(b, tf.EnumerationAvailable))
		}
		return out
	}

	b, ok := s.bricklets[req.UID]
	if !ok || s.silent[req.UID] {
		return nil
	}

	var payload []byte
	errorCode := uint8(0)
	switch b.identifier {
	case tf.LCD20x4Identifier:
		payload, errorCode = s.handleLCD(req)
	case tf.AmbientLightIdentifier:
		switch req.FunctionID {
		case tf.AmbientLightFunctionGetIlluminance:
			payload = u16(s.illuminance)
		case tf.AmbientLightFunctionSetIlluminancePeriod:
			s.setPeriod(req)
		default:
			errorCode = 2
		}
	case tf.HumidityIdentifier:
		switch req.FunctionID {
		case tf.HumidityFunctionGetHumidity:
			payload = u16(s.humidity)
		case tf.HumidityFunctionSetHumidityPeriod:
			s.setPeriod(req)
		default:
			errorCode = 2
		}
	case tf.BarometerIdentifier:
		switch req.FunctionID {
		case tf.BarometerFunctionGetAirPressure:
			payload = u32(uint32(s.airPressure))
		case tf.BarometerFunctionGetChipTemperature:
			payload = u16(uint16(s.chipTemperature))
		case tf.BarometerFunctionSetAirPressurePeriod:
			s.setPeriod(req)
		default:
			errorCode = 2
		}
	}

	if !req.ResponseExpected {
		return nil
	}
	resp := tf.NewPacket(req.UID, req.FunctionID, req.Sequence, true, payload)
	resp.ErrorCode = errorCode
	return []tf.Packet{resp}
}

func (s *Server) handleLCD(req tf.Packet) ([]byte, uint8) {
	switch req.FunctionID {
	case tf.LCDFunctionWriteLine:
		if len(req.Payload) < 2+tf.LCDTextWidth || req.Payload[0] > 3 || req.Payload[1] >= tf.LCDTextWidth {
			return nil, 1
		}
		line, pos := req.Payload[0], int(req.Payload[1])
		text := req.Payload[2:]
		for i := 0; i < len(text) && pos+i < tf.LCDTextWidth; i++ {
			if text[i] == 0 {
				break
			}
			s.lines[line][pos+i] = text[i]
		}
	case tf.LCDFunctionClearDisplay:
		for r := range s.lines {
			for c := range s.lines[r] {
				s.lines[r][c] = ' '
			}
		}
	case tf.LCDFunctionBacklightOn:
		s.backlight = true
	case tf.LCDFunctionBacklightOff:
		s.backlight = false
	case tf.LCDFunctionIsBacklightOn:
		if s.backlight {
			return []byte{1}, 0
		}
		return []byte{0}, 0
	case tf.LCDFunctionSetCustomCharacter:
		if len(req.Payload) < 9 || req.Payload[0] > 7 {
			return nil, 1
		}
		copy(s.glyphs[req.Payload[0]][:], req.Payload[1:9])
	default:
		return nil, 2
	}
	return nil, 0
}

func (s *Server) setPeriod(req tf.Packet) {
	if len(req.Payload) >= 4 {
		s.periods[req.UID] = binary.LittleEndian.Uint32(req.Payload)
	}
}

func u16(v uint16) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, v)
	return b
}

func u32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}
