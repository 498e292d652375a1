package arm64

import "math/bits"

func elemMask(size uint) uint64 {
	if size >= 64 {
		return ^uint64(0)
	}
	return 1<<size - 1
}

// decodeBitMask expands the N:immr:imms logical immediate. Reserved
// combinations (no element size, all-ones element, N set in 32-bit form)
// report false.
func decodeBitMask(n, immr, imms uint32, sf bool) (uint64, bool) {
	if !sf && n != 0 {
		return 0, false
	}
	combined := n<<6 | (^imms & 0x3f)
	length := bits.Len32(combined) - 1
	if length < 1 {
		return 0, false
	}
	size := uint(1) << length
	levels := uint32(size - 1)
	s := imms & levels
	r := uint(immr & levels)
	if s == levels {
		return 0, false
	}
	welem := uint64(1)<<(s+1) - 1
	elem := welem
	if r != 0 {
		elem = (welem>>r | welem<<(size-r)) & elemMask(size)
	}
	out := elem
	for width := size; width < 64; width *= 2 {
		out |= out << width
	}
	if !sf {
		out &= 0xffffffff
	}
	return out, true
}

// encodeBitMask finds N:immr:imms for v, or reports false when v is not a
// representable logical immediate.
func encodeBitMask(v uint64, sf bool) (n, immr, imms uint32, ok bool) {
	if !sf {
		v &= 0xffffffff
		v |= v << 32
	}
	if v == 0 || v == ^uint64(0) {
		return 0, 0, 0, false
	}
	size := uint(64)
	for size > 2 {
		half := size / 2
		m := elemMask(half)
		if v&m != (v>>half)&m {
			break
		}
		size = half
	}
	if !sf && size == 64 {
		return 0, 0, 0, false
	}
	elem := v & elemMask(size)
	ones := uint(bits.OnesCount64(elem))
	if ones == 0 || ones == size {
		return 0, 0, 0, false
	}
	run := uint64(1)<<ones - 1
	for r := uint(0); r < size; r++ {
		rot := run
		if r != 0 {
			rot = (run>>r | run<<(size-r)) & elemMask(size)
		}
		if rot == elem {
			if size == 64 {
				n = 1
			}
			imms = uint32((^(size-1))<<1)&0x3f | uint32(ones-1)
			return n, uint32(r), imms, true
		}
	}
	return 0, 0, 0, false
}
