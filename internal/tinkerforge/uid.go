package tinkerforge

import (
	"errors"
	"strings"
)

const base58Alphabet = "123456789abcdefghijkmnopqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ"

var ErrInvalidUID = errors.New("tinkerforge: invalid uid")

// ParseUID decodes a base58 uid. 64-bit uids are folded to 32 bits the way brickd does.
func ParseUID(s string) (uint32, error) {
	s = strings.TrimRight(s, "\x00")
	if s == "" || len(s) > 13 {
		return 0, ErrInvalidUID
	}
	var value uint64
	for i := 0; i < len(s); i++ {
		k := strings.IndexByte(base58Alphabet, s[i])
		if k < 0 {
			return 0, ErrInvalidUID
		}
		value = value*58 + uint64(k)
	}
	if value > 0xFFFFFFFF {
		value1 := value & 0xFFFFFFFF
		value2 := (value >> 32) & 0xFFFFFFFF

		folded := (value1 & 0x3F000000) << 2
		folded |= (value1 & 0x000F0000) << 6
		folded |= (value1 & 0x0000003F) << 16
		folded |= (value2 & 0x0F000000) >> 12
		folded |= value2 & 0x00000FFF
		value = folded
	}
	return uint32(value), nil
}

func FormatUID(uid uint32) string {
	if uid == 0 {
		return string(base58Alphabet[0])
	}
	var out []byte
	v := uint64(uid)
	for v > 0 {
		out = append(out, base58Alphabet[v%58])
		v /= 58
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return string(out)
}
