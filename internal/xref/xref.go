// Package xref resolves code cross-references from decoded instructions:
// direct branches, PC-relative literals and the ADRP page idiom.
package xref

import (
	"bytes"
	"encoding/binary"

	"armrecover/internal/arm64"
	"armrecover/internal/memory"
)

// pageSize is the ADRP granule.
const pageSize = 4096

// Kind says how a reference was formed.
type Kind uint8

const (
	Branch Kind = iota
	Call
	ConditionalBranch
	CompareBranch
	TestBranch
	PCRelative
	PageAdd
	PageLoad
)

func (k Kind) String() string {
	switch k {
	case Branch:
		return "branch"
	case Call:
		return "call"
	case ConditionalBranch:
		return "cond-branch"
	case CompareBranch:
		return "compare-branch"
	case TestBranch:
		return "test-branch"
	case PCRelative:
		return "pc-relative"
	case PageAdd:
		return "adrp+add"
	case PageLoad:
		return "adrp+ldr"
	}
	return "unknown"
}

// IsCode reports references that transfer control.
func (k Kind) IsCode() bool { return k <= TestBranch }

// Target is a resolved reference. Source is the address of the first
// instruction that formed it.
type Target struct {
	Address memory.Address
	Kind    Kind
	Source  memory.Address
}

// Resolve computes the reference formed by insts[0], or by insts[0] and
// insts[1] when insts[0] is ADRP. Only the first two instructions are
// examined. The page idiom needs the second instruction at exactly
// insts[0].Address+4 and consuming the ADRP register; anything else
// resolves to nothing.
func Resolve(insts []arm64.Instruction) (Target, bool) {
	if len(insts) == 0 {
		return Target{}, false
	}
	first := insts[0]
	if first.Op == arm64.ADRP {
		if len(insts) < 2 {
			return Target{}, false
		}
		return resolvePage(first, insts[1])
	}
	return resolveDirect(first)
}

func resolveDirect(inst arm64.Instruction) (Target, bool) {
	var kind Kind
	switch inst.Op {
	case arm64.B:
		kind = Branch
	case arm64.BL:
		kind = Call
	case arm64.BCond:
		kind = ConditionalBranch
	case arm64.CBZ, arm64.CBNZ:
		kind = CompareBranch
	case arm64.TBZ, arm64.TBNZ:
		kind = TestBranch
	case arm64.ADR, arm64.LDR, arm64.LDRSW, arm64.PRFM:
		kind = PCRelative
	default:
		return Target{}, false
	}
	addr, ok := inst.PCRelTarget()
	if !ok {
		return Target{}, false
	}
	return Target{Address: addr, Kind: kind, Source: inst.Address}, true
}

func resolvePage(adrp, next arm64.Instruction) (Target, bool) {
	if next.Address != adrp.Next() {
		return Target{}, false
	}
	page, ok := adrp.PCRelTarget()
	if !ok {
		return Target{}, false
	}
	rd, ok := adrp.Arg(0).Register()
	if !ok {
		return Target{}, false
	}

	switch {
	case next.Op == arm64.ADD && len(next.Args) == 3 && next.Args[2].Kind == arm64.KindImmediate:
		rn, _ := next.Args[1].Register()
		if rn != rd {
			return Target{}, false
		}
		return Target{Address: page.Offset(next.Args[2].Value()), Kind: PageAdd, Source: adrp.Address}, true
	case isOffsetLoad(next.Op):
		m, ok := next.Memory()
		if !ok || m.HasIndex || m.PreIndex || m.PostIndex || m.Base != rd {
			return Target{}, false
		}
		return Target{Address: page.Offset(m.Offset), Kind: PageLoad, Source: adrp.Address}, true
	}
	return Target{}, false
}

// isOffsetLoad reports single-register loads with an unsigned scaled offset
// form. The LDUR family and pairs are excluded.
func isOffsetLoad(op arm64.Opcode) bool {
	switch op {
	case arm64.LDR, arm64.LDRB, arm64.LDRH, arm64.LDRSB, arm64.LDRSH, arm64.LDRSW:
		return true
	}
	return false
}

// Scan resolves every reference in a linear instruction stream. ADRP is
// paired with its successor; all other instructions resolve alone.
func Scan(insts []arm64.Instruction) []Target {
	var out []Target
	for i := range insts {
		end := min(i+2, len(insts))
		if t, ok := Resolve(insts[i:end]); ok {
			out = append(out, t)
		}
	}
	return out
}

// RefsTo returns the references in insts that land on target.
func RefsTo(insts []arm64.Instruction, target memory.Address) []Target {
	var out []Target
	for _, t := range Scan(insts) {
		if t.Address == target {
			out = append(out, t)
		}
	}
	return out
}

// PageRefs returns the addresses of ADRP instructions that load the page
// containing target, whether or not a consumer follows.
func PageRefs(insts []arm64.Instruction, target memory.Address) []memory.Address {
	want := target.AlignDown(pageSize)
	var out []memory.Address
	for _, inst := range insts {
		if inst.Op != arm64.ADRP {
			continue
		}
		if page, ok := inst.PCRelTarget(); ok && page == want {
			out = append(out, inst.Address)
		}
	}
	return out
}

// PointerRefs finds every little-endian 8-byte occurrence of target in
// data, which is mapped at base. Matches may be unaligned and overlapping.
func PointerRefs(data []byte, base, target memory.Address) []memory.Address {
	var needle [8]byte
	binary.LittleEndian.PutUint64(needle[:], uint64(target))

	var out []memory.Address
	for off := 0; off+len(needle) <= len(data); {
		i := bytes.Index(data[off:], needle[:])
		if i < 0 {
			break
		}
		out = append(out, base.Add(uint64(off+i)))
		off += i + 1
	}
	return out
}
