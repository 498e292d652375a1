// Package memory defines the address type and the read-only byte source the
// analysis engine consumes. Nothing in here knows about instructions.
package memory

import (
	"fmt"
	"math"
	"math/bits"
)

// Address is a virtual address in the analyzed image.
// The zero value is a valid address; callers compare against 0 explicitly
// where a null pointer is meaningful on disk.
type Address uint64

// Add returns a+n, wrapping on overflow.
func (a Address) Add(n uint64) Address { return a + Address(n) }

// Sub returns a-n, wrapping on underflow.
func (a Address) Sub(n uint64) Address { return a - Address(n) }

// Offset applies a signed displacement, wrapping.
func (a Address) Offset(d int64) Address { return Address(uint64(a) + uint64(d)) }

// SaturatingAdd returns a+n clamped to the maximum address.
func (a Address) SaturatingAdd(n uint64) Address {
	sum, carry := bits.Add64(uint64(a), n, 0)
	if carry != 0 {
		return Address(math.MaxUint64)
	}
	return Address(sum)
}

// SaturatingSub returns a-n clamped to zero.
func (a Address) SaturatingSub(n uint64) Address {
	if uint64(a) < n {
		return 0
	}
	return a - Address(n)
}

// Distance returns a-other as a signed value.
func (a Address) Distance(other Address) int64 { return int64(uint64(a) - uint64(other)) }

// IsNull reports whether a is the zero address.
func (a Address) IsNull() bool { return a == 0 }

// IsAligned reports whether a is a multiple of align. align must be a power of two.
func (a Address) IsAligned(align uint64) bool {
	mustPow2(align)
	return uint64(a)&(align-1) == 0
}

// AlignDown rounds a down to a multiple of align.
func (a Address) AlignDown(align uint64) Address {
	mustPow2(align)
	return Address(uint64(a) &^ (align - 1))
}

// AlignUp rounds a up to a multiple of align, wrapping at the top of the space.
func (a Address) AlignUp(align uint64) Address {
	mustPow2(align)
	return Address((uint64(a) + align - 1) &^ (align - 1))
}

// InRange reports start <= a < end.
func (a Address) InRange(start, end Address) bool { return a >= start && a < end }

func (a Address) String() string { return fmt.Sprintf("0x%016x", uint64(a)) }

func mustPow2(align uint64) {
	if align == 0 || align&(align-1) != 0 {
		panic(fmt.Sprintf("memory: alignment %d is not a power of two", align))
	}
}
