package signature

import "sort"

// Match is one hit of a named pattern.
type Match struct {
	Name   string
	Offset int
}

// Set is an ordered collection of named patterns.
type Set struct {
	patterns []Pattern
}

// NewSet returns a set holding ps in order.
func NewSet(ps ...Pattern) *Set {
	return &Set{patterns: append([]Pattern(nil), ps...)}
}

// Add appends p.
func (s *Set) Add(p Pattern) { s.patterns = append(s.patterns, p) }

// Len returns the number of patterns.
func (s *Set) Len() int { return len(s.patterns) }

// Patterns returns the patterns in insertion order.
func (s *Set) Patterns() []Pattern { return append([]Pattern(nil), s.patterns...) }

// Lookup finds a pattern by name.
func (s *Set) Lookup(name string) (Pattern, bool) {
	for _, p := range s.patterns {
		if p.Name == name {
			return p, true
		}
	}
	return Pattern{}, false
}

// FindAll runs every pattern over data. Results are ordered by offset,
// then by insertion order of the pattern.
func (s *Set) FindAll(data []byte) []Match {
	var out []Match
	for _, p := range s.patterns {
		for _, off := range p.FindAllIn(data) {
			out = append(out, Match{Name: p.Name, Offset: off})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Offset < out[j].Offset })
	return out
}

// Common AArch64 idioms, little-endian byte order.
var (
	Prologue         = MustParse("FD 7B ?? A9 FD ?? ?? 91").WithName("prologue")
	PrologueSaveRegs = MustParse("FD 7B ?? A9 FD ?? ?? 91 F3 ?? ?? A9").WithName("prologue-save-regs")
	EpilogueRet      = MustParse("C0 03 5F D6").WithName("ret")
	EpilogueLDPRet   = MustParse("FD 7B ?? A8 C0 03 5F D6").WithName("ldp-ret")
	PACPrologue      = MustParse("3F 23 03 D5 FD 7B ?? A9").WithName("paciasp-prologue")
	BTIPrologue      = MustParse("5F 24 03 D5 FD 7B ?? A9").WithName("bti-c-prologue")
)

// ARM64 returns a set of the built-in function boundary idioms.
func ARM64() *Set {
	return NewSet(Prologue, PrologueSaveRegs, PACPrologue, BTIPrologue, EpilogueLDPRet, EpilogueRet)
}
