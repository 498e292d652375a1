package arm64

import (
	"strings"

	"armrecover/internal/memory"
)

// InstructionSize is the fixed AArch64 instruction width in bytes.
const InstructionSize = 4

// Instruction is one decoded word. Cond/HasCond carry the condition of
// B.cond, CSEL-family and CCMP/CCMN; for aliases such as CSET the stored
// condition is the one the alias reads, not the encoded field. B.cond also
// lists the condition as its first operand, ahead of the target.
type Instruction struct {
	Address memory.Address
	Raw     uint32
	Op      Opcode
	Args    []Operand
	Cond    Condition
	HasCond bool
}

// Size is always 4.
func (i Instruction) Size() int { return InstructionSize }

// Next returns the address of the following instruction.
func (i Instruction) Next() memory.Address { return i.Address.Add(InstructionSize) }

// IsValid reports whether the word decoded to a known operation.
func (i Instruction) IsValid() bool { return i.Op != Undefined }

// Arg returns operand n, or the zero Operand when absent.
func (i Instruction) Arg(n int) Operand {
	if n < 0 || n >= len(i.Args) {
		return Operand{}
	}
	return i.Args[n]
}

func (i Instruction) IsBranch() bool      { return i.Op.IsBranch() }
func (i Instruction) IsCall() bool        { return i.Op.IsCall() }
func (i Instruction) IsReturn() bool      { return i.Op.IsReturn() }
func (i Instruction) IsLoad() bool        { return i.Op.IsLoad() }
func (i Instruction) IsStore() bool       { return i.Op.IsStore() }
func (i Instruction) IsConditional() bool { return i.Op.IsConditional() }
func (i Instruction) IsTrap() bool        { return i.Op.IsTrap() }

// pcrel returns the PC-relative operand, if any.
func (i Instruction) pcrel() (int64, bool) {
	for _, a := range i.Args {
		if a.Kind == KindPCRel {
			return a.Imm, true
		}
	}
	return 0, false
}

// BranchTarget returns the destination of a direct branch: B, BL, B.cond,
// CBZ/CBNZ and TBZ/TBNZ. Register branches have no static target.
func (i Instruction) BranchTarget() (memory.Address, bool) {
	if !i.Op.IsBranch() || i.Op.IsIndirect() {
		return 0, false
	}
	off, ok := i.pcrel()
	if !ok {
		return 0, false
	}
	return i.Address.Offset(off), true
}

// PCRelTarget returns the address named by any PC-relative operand. ADRP
// resolves against the 4 KiB page of the instruction.
func (i Instruction) PCRelTarget() (memory.Address, bool) {
	off, ok := i.pcrel()
	if !ok {
		return 0, false
	}
	if i.Op == ADRP {
		return i.Address.AlignDown(4096).Offset(off), true
	}
	return i.Address.Offset(off), true
}

// Dest returns the register written by the instruction, if any. Loads
// report the first transfer register; BL and BLR report LR.
func (i Instruction) Dest() (Register, bool) {
	switch {
	case i.Op == Undefined || i.Op == SIMD:
		return Register{}, false
	case i.Op == BL || i.Op == BLR:
		return LR, true
	case i.Op.writesStatus():
		return i.Arg(0).Register()
	case i.Op == MRS:
		return i.Arg(0).Register()
	case i.Op == PRFM:
		return Register{}, false
	case i.Op.IsBranch(), i.Op.IsStore(), i.Op.IsCompare(), i.Op.IsSystem(), i.Op.IsTrap():
		return Register{}, false
	}
	return i.Arg(0).Register()
}

// Writeback reports pre- or post-indexed memory operands.
func (i Instruction) Writeback() bool {
	for _, a := range i.Args {
		if a.Kind == KindMemory && (a.Mem.PreIndex || a.Mem.PostIndex) {
			return true
		}
	}
	return false
}

// Memory returns the memory operand, if any.
func (i Instruction) Memory() (Mem, bool) {
	for _, a := range i.Args {
		if a.Kind == KindMemory {
			return a.Mem, true
		}
	}
	return Mem{}, false
}

// Equal compares every field, operands element-wise.
func (i Instruction) Equal(o Instruction) bool {
	if i.Address != o.Address || i.Raw != o.Raw || i.Op != o.Op ||
		i.HasCond != o.HasCond || len(i.Args) != len(o.Args) {
		return false
	}
	if i.HasCond && i.Cond != o.Cond {
		return false
	}
	for n := range i.Args {
		if i.Args[n] != o.Args[n] {
			return false
		}
	}
	return true
}

// String renders the instruction in assembler syntax, with PC-relative
// operands shown as absolute addresses.
func (i Instruction) String() string {
	var b strings.Builder
	b.WriteString(i.Op.Mnemonic())
	if i.Op == BCond {
		b.WriteString(i.Cond.String())
	}
	args := make([]string, 0, len(i.Args)+1)
	for _, a := range i.Args {
		if a.Kind == KindCondition && i.Op == BCond {
			continue
		}
		if a.Kind == KindPCRel {
			t, _ := i.PCRelTarget()
			args = append(args, "#"+t.String())
			continue
		}
		args = append(args, a.String())
	}
	if i.HasCond && i.Op != BCond {
		args = append(args, i.Cond.String())
	}
	if len(args) > 0 {
		b.WriteByte(' ')
		b.WriteString(strings.Join(args, ", "))
	}
	return b.String()
}
