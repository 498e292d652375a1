package cmd

import (
	"fmt"
	"math/bits"
	"strconv"
	"strings"

	"armrecover/internal/memory"
)

// parseAddr reads a hexadecimal address with or without a 0x prefix.
func parseAddr(s string) (memory.Address, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("bad address %q: %w", s, err)
	}
	return memory.Address(v), nil
}

// parseWord reads one instruction word. Eight hex digits are taken as
// the bytes in memory order ("fd7bbfa9"); a 0x prefix means the numeric
// value ("0xa9bf7bfd").
func parseWord(s string) (uint32, error) {
	if hex, ok := strings.CutPrefix(s, "0x"); ok {
		v, err := strconv.ParseUint(hex, 16, 32)
		if err != nil {
			return 0, fmt.Errorf("bad word %q: %w", s, err)
		}
		return uint32(v), nil
	}
	if len(s) != 8 {
		return 0, fmt.Errorf("bad word %q: want 8 hex digits", s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("bad word %q: %w", s, err)
	}
	return bits.ReverseBytes32(uint32(v)), nil
}
