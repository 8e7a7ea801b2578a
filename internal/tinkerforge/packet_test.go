package tinkerforge

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestPacketHeaderLayout(t *testing.T) {
	p := NewPacket(0x01020304, 5, 7, true, []byte{0xAA, 0xBB})
	p.ErrorCode = 2
	b := p.Bytes()

	want := []byte{0x04, 0x03, 0x02, 0x01, 10, 5, 7<<4 | 1<<3, 2 << 6, 0xAA, 0xBB}
	if !bytes.Equal(b, want) {
		t.Fatalf("Bytes() = % x, want % x", b, want)
	}

	h, err := ParseHeader(b)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if h.UID != 0x01020304 || h.Length != 10 || h.FunctionID != 5 || h.Sequence != 7 || !h.ResponseExpected || h.ErrorCode != 2 {
		t.Fatalf("unexpected header %+v", h)
	}
}

func TestCallbackPacketHasZeroSequence(t *testing.T) {
	b := NewPacket(9, CallbackEnumerate, 0, false, nil).Bytes()
	if b[6] != 0 {
		t.Fatalf("flags byte = %#x, want 0", b[6])
	}
}

func TestParseHeaderRejectsBadLength(t *testing.T) {
	b := NewPacket(1, 1, 1, false, nil).Bytes()
	b[4] = 3
	if _, err := ParseHeader(b); !errors.Is(err, ErrMalformedPacket) {
		t.Fatalf("expected ErrMalformedPacket, got %v", err)
	}
	if _, err := ParseHeader(b[:4]); !errors.Is(err, ErrMalformedPacket) {
		t.Fatalf("expected ErrMalformedPacket for short header, got %v", err)
	}
}

func TestReadPacketSplitsStream(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(NewPacket(1, 1, 1, true, []byte{1, 2, 3}).Bytes())
	buf.Write(NewPacket(2, 13, 0, false, []byte{4, 5}).Bytes())

	first, err := ReadPacket(&buf)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	if first.UID != 1 || !bytes.Equal(first.Payload, []byte{1, 2, 3}) {
		t.Fatalf("first packet %+v", first)
	}
	second, err := ReadPacket(&buf)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if second.UID != 2 || second.FunctionID != 13 || second.Sequence != 0 {
		t.Fatalf("second packet %+v", second)
	}
	if _, err := ReadPacket(&buf); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestEnumeratePayloadRoundTrip(t *testing.T) {
	in := EnumerateEvent{
		UID:              "SCL",
		ConnectedUID:     "6R4xPk",
		Position:         'a',
		HardwareVersion:  [3]uint8{1, 2, 0},
		FirmwareVersion:  [3]uint8{2, 0, 7},
		DeviceIdentifier: LCD20x4Identifier,
		EnumerationType:  EnumerationConnected,
	}
	out, err := parseEnumerate(EncodeEnumerate(in))
	if err != nil {
		t.Fatalf("parseEnumerate: %v", err)
	}
	if out != in {
		t.Fatalf("got %+v, want %+v", out, in)
	}
	if _, err := parseEnumerate(make([]byte, 10)); !errors.Is(err, ErrShortResponse) {
		t.Fatalf("expected ErrShortResponse, got %v", err)
	}
}

func TestErrorFromCode(t *testing.T) {
	cases := map[uint8]error{0: nil, 1: ErrInvalidParameter, 2: ErrNotSupported, 3: ErrUnknownErrorCode}
	for code, want := range cases {
		if got := errorFromCode(code); !errors.Is(got, want) {
			t.Errorf("errorFromCode(%d) = %v, want %v", code, got, want)
		}
	}
}
