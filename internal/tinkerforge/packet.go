// Package tinkerforge speaks the brickd TCP protocol used by Tinkerforge bricks and bricklets.
package tinkerforge

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	HeaderSize    = 8
	MaxPacketSize = 80
	MaxPayload    = MaxPacketSize - HeaderSize

	FunctionEnumerate = 254
	CallbackEnumerate = 253
)

var ErrMalformedPacket = errors.New("tinkerforge: malformed packet")

// Header layout (little endian):
//
//	0..3 uid, 4 length, 5 function id,
//	6 sequence<<4 | responseExpected<<3 | options, 7 errorCode<<6
type Header struct {
	UID              uint32
	Length           uint8
	FunctionID       uint8
	Sequence         uint8
	ResponseExpected bool
	Options          uint8
	ErrorCode        uint8
}

type Packet struct {
	Header
	Payload []byte
}

func NewPacket(uid uint32, functionID, sequence uint8, responseExpected bool, payload []byte) Packet {
	return Packet{
		Header: Header{
			UID:              uid,
			Length:           uint8(HeaderSize + len(payload)),
			FunctionID:       functionID,
			Sequence:         sequence & 0x0f,
			ResponseExpected: responseExpected,
		},
		Payload: payload,
	}
}

func (h Header) put(b []byte) {
	binary.LittleEndian.PutUint32(b[0:4], h.UID)
	b[4] = h.Length
	b[5] = h.FunctionID
	flags := (h.Sequence & 0x0f) << 4
	if h.ResponseExpected {
		flags |= 1 << 3
	}
	flags |= h.Options & 0x07
	b[6] = flags
	b[7] = (h.ErrorCode & 0x03) << 6
}

func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("%w: short header (%d bytes)", ErrMalformedPacket, len(b))
	}
	h := Header{
		UID:              binary.LittleEndian.Uint32(b[0:4]),
		Length:           b[4],
		FunctionID:       b[5],
		Sequence:         b[6] >> 4,
		ResponseExpected: b[6]&(1<<3) != 0,
		Options:          b[6] & 0x07,
		ErrorCode:        b[7] >> 6,
	}
	if h.Length < HeaderSize || int(h.Length) > MaxPacketSize {
		return h, fmt.Errorf("%w: length %d", ErrMalformedPacket, h.Length)
	}
	return h, nil
}

func (p Packet) Bytes() []byte {
	b := make([]byte, HeaderSize+len(p.Payload))
	h := p.Header
	h.Length = uint8(len(b))
	h.put(b)
	copy(b[HeaderSize:], p.Payload)
	return b
}

// ReadPacket reads exactly one packet, using the header length to find its end.
func ReadPacket(r io.Reader) (Packet, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Packet{}, err
	}
	h, err := ParseHeader(hdr[:])
	if err != nil {
		return Packet{}, err
	}
	payload := make([]byte, int(h.Length)-HeaderSize)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Packet{}, err
	}
	return Packet{Header: h, Payload: payload}, nil
}
