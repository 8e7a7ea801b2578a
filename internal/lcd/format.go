package lcd

import (
	"strconv"
	"strings"
)

// FormatValue renders value as "<int>.<frac>" with the integer part left-padded with
// spaces to integerDigits and exactly fractionDigits fractional digits.
// Values that are negative or too wide for integerDigits are not clamped.
func FormatValue(value float64, integerDigits, fractionDigits int) string {
	if fractionDigits < 0 {
		fractionDigits = 0
	}
	s := strconv.FormatFloat(value, 'f', fractionDigits, 64)
	intPart, fracPart, _ := strings.Cut(s, ".")
	if pad := integerDigits - len(intPart); pad > 0 {
		intPart = strings.Repeat(" ", pad) + intPart
	}
	if pad := fractionDigits - len(fracPart); pad > 0 {
		fracPart += strings.Repeat("0", pad)
	}
	return intPart + "." + fracPart
}

// FormatValueDefault formats with two fractional digits.
func FormatValueDefault(value float64, integerDigits int) string {
	return FormatValue(value, integerDigits, 2)
}
