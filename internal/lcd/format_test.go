package lcd

import "testing"

func TestFormatValue(t *testing.T) {
	cases := []struct {
		value    float64
		pre      int
		post     int
		expected string
	}{
		{23.7, 3, 2, " 23.70"},
		{998.5, 4, 2, " 998.50"},
		{45.2, 5, 2, "   45.20"},
		{21.0, 2, 2, "21.00"},
		{0.05, 3, 2, "  0.05"},
		{123.456, 3, 1, "123.5"},
		{7, 1, 0, "7."},
	}
	for _, tc := range cases {
		got := FormatValue(tc.value, tc.pre, tc.post)
		if got != tc.expected {
			t.Errorf("FormatValue(%v, %d, %d) = %q, want %q", tc.value, tc.pre, tc.post, got, tc.expected)
		}
	}
}

func TestFormatValueLengthInvariant(t *testing.T) {
	for pre := 1; pre <= 5; pre++ {
		for post := 0; post <= 3; post++ {
			for _, v := range []float64{0, 0.5, 1.25, 3.14159} {
				got := FormatValue(v, pre, post)
				if want := pre + 1 + post; len(got) != want {
					t.Errorf("FormatValue(%v, %d, %d) = %q, len %d want %d", v, pre, post, got, len(got), want)
				}
			}
		}
	}
}

func TestFormatValueDefault(t *testing.T) {
	if got := FormatValueDefault(3.5, 2); got != " 3.50" {
		t.Fatalf("got %q", got)
	}
}
