// Package signature implements masked byte patterns: parsing the
// "FD 7B ?? A9" text form, matching against byte slices and scanning
// mapped memory in parallel windows.
package signature

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrEmpty is returned for zero-length patterns.
	ErrEmpty = errors.New("empty pattern")
	// ErrMaskLength is returned when bytes and mask differ in length.
	ErrMaskLength = errors.New("bytes and mask length differ")
	// ErrToken is returned for tokens that are neither hex bytes nor wildcards.
	ErrToken = errors.New("invalid pattern token")
)

// ParseError reports the offending token of a pattern string.
type ParseError struct {
	Pos   int
	Token string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("token %d %q: %v", e.Pos, e.Token, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Pattern is a byte sequence with a parallel mask. A zero mask byte is a
// wildcard; any other value must match exactly. Patterns are immutable.
type Pattern struct {
	Name  string
	bytes []byte
	mask  []byte
}

// New builds a pattern from bytes and mask. Both slices are copied.
func New(b, mask []byte) (Pattern, error) {
	if len(b) == 0 {
		return Pattern{}, ErrEmpty
	}
	if len(b) != len(mask) {
		return Pattern{}, fmt.Errorf("%w: %d bytes, %d mask", ErrMaskLength, len(b), len(mask))
	}
	p := Pattern{bytes: bytes.Clone(b), mask: bytes.Clone(mask)}
	for i, m := range p.mask {
		if m == 0 {
			p.bytes[i] = 0
		}
	}
	return p, nil
}

// FromBytes builds a pattern where every byte must match.
func FromBytes(b []byte) (Pattern, error) {
	return New(b, bytes.Repeat([]byte{0xff}, len(b)))
}

// Parse reads whitespace-separated tokens: two hex digits, "?" or "??".
func Parse(text string) (Pattern, error) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return Pattern{}, ErrEmpty
	}
	p := Pattern{bytes: make([]byte, len(fields)), mask: make([]byte, len(fields))}
	for i, tok := range fields {
		if tok == "?" || tok == "??" {
			continue
		}
		if len(tok) != 2 {
			return Pattern{}, &ParseError{Pos: i, Token: tok, Err: ErrToken}
		}
		v, err := strconv.ParseUint(tok, 16, 8)
		if err != nil {
			return Pattern{}, &ParseError{Pos: i, Token: tok, Err: ErrToken}
		}
		p.bytes[i] = byte(v)
		p.mask[i] = 0xff
	}
	return p, nil
}

// MustParse is Parse for package-level pattern tables. It panics on error.
func MustParse(text string) Pattern {
	p, err := Parse(text)
	if err != nil {
		panic(fmt.Sprintf("signature: MustParse(%q): %v", text, err))
	}
	return p
}

// FromInstructions builds a pattern from little-endian instruction words.
// masks[i] selects the bits of words[i] that must match; a byte is kept
// only when all eight of its bits are selected, otherwise it becomes a
// wildcard. A nil masks slice keeps every byte.
func FromInstructions(words []uint32, masks []uint32) (Pattern, error) {
	if masks != nil && len(masks) != len(words) {
		return Pattern{}, fmt.Errorf("%w: %d words, %d masks", ErrMaskLength, len(words), len(masks))
	}
	b := make([]byte, 4*len(words))
	m := make([]byte, 4*len(words))
	for i, w := range words {
		wm := uint32(0xffffffff)
		if masks != nil {
			wm = masks[i]
		}
		binary.LittleEndian.PutUint32(b[4*i:], w)
		binary.LittleEndian.PutUint32(m[4*i:], wm)
		for j := 4 * i; j < 4*i+4; j++ {
			if m[j] != 0xff {
				m[j] = 0
			}
		}
	}
	return New(b, m)
}

// WithName returns a copy of p carrying name.
func (p Pattern) WithName(name string) Pattern {
	p.Name = name
	return p
}

// Len returns the pattern length in bytes.
func (p Pattern) Len() int { return len(p.bytes) }

// Bytes returns a copy of the pattern bytes; wildcard positions are zero.
func (p Pattern) Bytes() []byte { return bytes.Clone(p.bytes) }

// Mask returns a copy of the mask.
func (p Pattern) Mask() []byte { return bytes.Clone(p.mask) }

// SignificantBytes counts the positions that must match.
func (p Pattern) SignificantBytes() int {
	n := 0
	for _, m := range p.mask {
		if m != 0 {
			n++
		}
	}
	return n
}

// Wildcards counts the wildcard positions.
func (p Pattern) Wildcards() int { return p.Len() - p.SignificantBytes() }

// String renders the text form: uppercase hex and "??".
func (p Pattern) String() string {
	var sb strings.Builder
	for i, b := range p.bytes {
		if i > 0 {
			sb.WriteByte(' ')
		}
		if p.mask[i] == 0 {
			sb.WriteString("??")
			continue
		}
		fmt.Fprintf(&sb, "%02X", b)
	}
	return sb.String()
}

// Matches reports whether data begins with the pattern.
func (p Pattern) Matches(data []byte) bool {
	if len(p.bytes) == 0 || len(data) < len(p.bytes) {
		return false
	}
	for i, b := range p.bytes {
		if p.mask[i] != 0 && data[i] != b {
			return false
		}
	}
	return true
}

// anchor is the first significant position; scans use it to skip ahead
// with bytes.IndexByte.
func (p Pattern) anchor() (int, bool) {
	for i, m := range p.mask {
		if m != 0 {
			return i, true
		}
	}
	return 0, false
}

// FindIn returns the lowest offset at which data matches.
func (p Pattern) FindIn(data []byte) (int, bool) {
	offs := p.find(data, true)
	if len(offs) == 0 {
		return 0, false
	}
	return offs[0], true
}

// FindAllIn returns every match offset in ascending order, overlapping
// matches included.
func (p Pattern) FindAllIn(data []byte) []int {
	return p.find(data, false)
}

func (p Pattern) find(data []byte, first bool) []int {
	n := len(p.bytes)
	if n == 0 || len(data) < n {
		return nil
	}
	last := len(data) - n
	var out []int

	a, ok := p.anchor()
	if !ok {
		// all wildcards: every position matches
		for i := 0; i <= last; i++ {
			out = append(out, i)
			if first {
				break
			}
		}
		return out
	}

	for start := 0; start <= last; {
		j := bytes.IndexByte(data[start+a:last+a+1], p.bytes[a])
		if j < 0 {
			break
		}
		cand := start + j
		if p.Matches(data[cand:]) {
			out = append(out, cand)
			if first {
				break
			}
		}
		start = cand + 1
	}
	return out
}
