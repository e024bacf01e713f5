package brickd

import (
	"fmt"
	"strings"
)

const base58Alphabet = "123456789abcdefghijkmnopqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ"

// EncodeUID renders a numeric UID in Tinkerforge base58.
func EncodeUID(uid uint32) string {
	if uid == 0 {
		return string(base58Alphabet[0])
	}

	var digits []byte
	for v := uid; v > 0; v /= 58 {
		digits = append(digits, base58Alphabet[v%58])
	}
	for i, j := 0, len(digits)-1; i < j; i, j = i+1, j-1 {
		digits[i], digits[j] = digits[j], digits[i]
	}
	return string(digits)
}

// DecodeUID parses a base58 UID string.
//
// Some devices report 64 bit UIDs; those are folded into 32 bits the same
// way the device firmware does so the result addresses the device.
func DecodeUID(s string) (uint32, error) {
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidUID)
	}

	var value uint64
	for _, r := range s {
		idx := strings.IndexRune(base58Alphabet, r)
		if idx < 0 {
			return 0, fmt.Errorf("%w: %q contains %q", ErrInvalidUID, s, r)
		}
		next := value*58 + uint64(idx)
		if next/58 != value {
			return 0, fmt.Errorf("%w: %q overflows", ErrInvalidUID, s)
		}
		value = next
	}

	if value > 0xFFFFFFFF {
		low := value & 0xFFFFFFFF
		high := (value >> 32) & 0xFFFFFFFF
		value = low & 0x00000FFF
		value |= (low & 0x0F000000) >> 12
		value |= (high & 0x0000003F) << 16
		value |= (high & 0x000F0000) << 6
		value |= (high & 0x3F000000) << 2
	}

	return uint32(value), nil
}
