package lcd

import (
	"strings"
	"unicode/utf8"
)

// DegreeSign is the HD44780 ROM code for °.
const DegreeSign byte = 0xDF

// ConsoleRune maps one LCD character code to what a screen should draw.
// Custom glyph slots 0..7 become block elements of matching height.
func ConsoleRune(b byte) rune {
	switch {
	case b == DegreeSign:
		return '°'
	case b < 8:
		return []rune("▁▂▃▄▅▆▇█")[b]
	case b < 0x20 || b == 0x7f:
		return ' '
	case b < 0x80:
		return rune(b)
	}
	return '?'
}

// ConsoleText converts a row of LCD codes into a printable string.
func ConsoleText(row string) string {
	out := make([]rune, 0, len(row))
	for i := 0; i < len(row); i++ {
		out = append(out, ConsoleRune(row[i]))
	}
	return string(out)
}

// Frame draws rows inside an ASCII border, one line per row, for text views of the display.
func Frame(rows []string) string {
	var b strings.Builder
	edge := "+" + strings.Repeat("-", Cols) + "+\n"
	b.WriteString(edge)
	for _, row := range rows {
		text := ConsoleText(row)
		if pad := Cols - utf8.RuneCountInString(text); pad > 0 {
			text += strings.Repeat(" ", pad)
		}
		b.WriteString("|" + text + "|\n")
	}
	b.WriteString(edge)
	return b.String()
}
