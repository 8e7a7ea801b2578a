package util

import (
	"strconv"
	"strings"
)

// ToInt converts loosely typed JSON values (float64, string, int) to int.
// Unparseable input yields -1.
func ToInt(v any) int {
	switch t := v.(type) {
	case nil:
		return 0
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		return int(t)
	case float32:
		return int(t)
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return -1
		}
		return i
	case bool:
		if t {
			return 1
		}
		return 0
	}
	return -1
}

// ToBool treats non-zero numbers and "true"/"on"/"1" as true.
func ToBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "on", "1", "yes":
			return true
		}
		return false
	}
	return ToInt(v) > 0
}

// Pad right-pads s with spaces (or truncates) to exactly width bytes.
func Pad(s string, width int) string {
	if len(s) >= width {
		return s[:width]
	}
	return s + strings.Repeat(" ", width-len(s))
}
