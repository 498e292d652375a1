package memory

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/text/encoding/unicode"
)

var (
	// ErrUnmapped is returned when no region backs the requested address.
	ErrUnmapped = errors.New("address not mapped")
	// ErrShortRead is returned when a read runs past the end of a mapping.
	ErrShortRead = errors.New("read crosses end of mapping")
)

// ReadError records the failed range. It unwraps to ErrUnmapped or ErrShortRead.
type ReadError struct {
	Addr Address
	Len  int
	Err  error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read %d bytes at %s: %v", e.Len, e.Addr, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// Source supplies raw bytes of an immutable image.
// Implementations bounds-check every read and never zero-fill.
type Source interface {
	ReadBytes(addr Address, n int) ([]byte, error)
	Regions() []Region
}

// ReadU8 reads one byte.
func ReadU8(src Source, addr Address) (uint8, error) {
	b, err := src.ReadBytes(addr, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadU16 reads a little-endian uint16.
func ReadU16(src Source, addr Address) (uint16, error) {
	b, err := src.ReadBytes(addr, 2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

// ReadU32 reads a little-endian uint32.
func ReadU32(src Source, addr Address) (uint32, error) {
	b, err := src.ReadBytes(addr, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// ReadU64 reads a little-endian uint64.
func ReadU64(src Source, addr Address) (uint64, error) {
	b, err := src.ReadBytes(addr, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// ReadPtr reads a 64-bit pointer.
func ReadPtr(src Source, addr Address) (Address, error) {
	v, err := ReadU64(src, addr)
	return Address(v), err
}

// ReadCString reads a NUL-terminated string of at most max bytes.
// If the full window is not readable it retries with shrinking lengths so a
// string close to the end of a mapping can still be recovered.
func ReadCString(src Source, addr Address, max int) (string, error) {
	var (
		b   []byte
		err error
	)
	for n := max; n > 0; n /= 2 {
		b, err = src.ReadBytes(addr, n)
		if err == nil {
			break
		}
	}
	if err != nil {
		return "", err
	}
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b), nil
}

// ReadUTF16LE reads up to maxChars UTF-16LE code units, stopping at a NUL unit.
func ReadUTF16LE(src Source, addr Address, maxChars int) (string, error) {
	raw, err := src.ReadBytes(addr, maxChars*2)
	if err != nil {
		return "", err
	}
	for i := 0; i+1 < len(raw); i += 2 {
		if raw[i] == 0 && raw[i+1] == 0 {
			raw = raw[:i]
			break
		}
	}
	dec := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()
	out, err := dec.Bytes(raw)
	if err != nil {
		return "", fmt.Errorf("decode utf-16 at %s: %w", addr, err)
	}
	return string(out), nil
}

// FindRegion returns the region containing addr.
func FindRegion(src Source, addr Address) (Region, bool) {
	for _, r := range src.Regions() {
		if r.Contains(addr) {
			return r, true
		}
	}
	return Region{}, false
}

// IsExecutable reports whether addr lies in an executable region.
func IsExecutable(src Source, addr Address) bool {
	r, ok := FindRegion(src, addr)
	return ok && r.IsExecutable()
}

// ExecutableRegions returns the executable subset of src's regions.
func ExecutableRegions(src Source) []Region {
	var out []Region
	for _, r := range src.Regions() {
		if r.IsExecutable() {
			out = append(out, r)
		}
	}
	return out
}
