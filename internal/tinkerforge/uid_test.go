package tinkerforge

import (
	"errors"
	"testing"
)

func TestParseUIDKnownValues(t *testing.T) {
	cases := []struct {
		in   string
		want uint32
	}{
		{"1", 0},
		{"2", 1},
		{"z", 33},
		{"21", 58},
		{"Z", 57},
	}
	for _, c := range cases {
		got, err := ParseUID(c.in)
		if err != nil {
			t.Fatalf("ParseUID(%q): %v", c.in, err)
		}
		if got != c.want {
			t.Errorf("ParseUID(%q) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestUIDRoundTrip(t *testing.T) {
	for _, uid := range []string{"SCL", "amb", "hum", "bar", "6R4xPk", "2", "JKLmn"} {
		n, err := ParseUID(uid)
		if err != nil {
			t.Fatalf("ParseUID(%q): %v", uid, err)
		}
		if got := FormatUID(n); got != uid {
			t.Errorf("FormatUID(ParseUID(%q)) = %q", uid, got)
		}
	}
}

func TestParseUIDRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "0", "abcO", "l1", "12345678901234"} {
		if _, err := ParseUID(in); !errors.Is(err, ErrInvalidUID) {
			t.Errorf("ParseUID(%q) err = %v, want ErrInvalidUID", in, err)
		}
	}
}

func TestParseUIDFoldsLongUIDs(t *testing.T) {
	n, err := ParseUID("ZZZZZZZZZZ")
	if err != nil {
		t.Fatalf("ParseUID: %v", err)
	}
	if n == 0 {
		t.Fatalf("folded uid should not be zero")
	}
}
