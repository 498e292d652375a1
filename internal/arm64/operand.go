package arm64

import (
	"fmt"
	"strings"

	"armrecover/internal/memory"
)

// OperandKind tags which fields of an Operand are meaningful.
type OperandKind uint8

const (
	KindNone OperandKind = iota
	KindRegister
	KindImmediate
	KindAddress
	KindPCRel
	KindMemory
	KindShifted
	KindExtended
	KindCondition
)

func (k OperandKind) String() string {
	return [...]string{"none", "register", "immediate", "address", "pcrel",
		"memory", "shifted", "extended", "condition"}[k]
}

// Mem is a memory addressing form: base plus either an immediate offset or
// an index register. PreIndex and PostIndex are mutually exclusive and
// write the updated address back to Base.
type Mem struct {
	Base      Register
	Index     Register
	HasIndex  bool
	Offset    int64
	PreIndex  bool
	PostIndex bool
	Extend    ExtendKind
	Amount    uint8
}

// Operand is a tagged union. Only the fields named for Kind are set:
//
//	KindRegister   Reg
//	KindImmediate  Imm, optionally Shift/Amount (MOVZ #imm, lsl #16)
//	KindAddress    Imm (absolute address bits)
//	KindPCRel      Imm (byte offset, already scaled)
//	KindMemory     Mem
//	KindShifted    Reg, Shift, Amount
//	KindExtended   Reg, Extend, Amount
//	KindCondition  Cond
//
// Operands are comparable with ==.
type Operand struct {
	Kind   OperandKind
	Reg    Register
	Imm    int64
	Shift  ShiftKind
	Extend ExtendKind
	Amount uint8
	Mem    Mem
	Cond   Condition
}

func RegOperand(r Register) Operand { return Operand{Kind: KindRegister, Reg: r} }

func ImmOperand(v int64) Operand { return Operand{Kind: KindImmediate, Imm: v} }

// ShiftedImmOperand is an immediate encoded as v << amount.
func ShiftedImmOperand(v int64, amount uint8) Operand {
	return Operand{Kind: KindImmediate, Imm: v, Shift: LSLShift, Amount: amount}
}

func AddrOperand(a memory.Address) Operand { return Operand{Kind: KindAddress, Imm: int64(a)} }

func PCRelOperand(off int64) Operand { return Operand{Kind: KindPCRel, Imm: off} }

func MemOperand(m Mem) Operand { return Operand{Kind: KindMemory, Mem: m} }

func ShiftedOperand(r Register, k ShiftKind, amount uint8) Operand {
	return Operand{Kind: KindShifted, Reg: r, Shift: k, Amount: amount}
}

func ExtendedOperand(r Register, k ExtendKind, amount uint8) Operand {
	return Operand{Kind: KindExtended, Reg: r, Extend: k, Amount: amount}
}

func CondOperand(c Condition) Operand { return Operand{Kind: KindCondition, Cond: c} }

// BaseOffset is [base, #off].
func BaseOffset(base Register, off int64) Mem { return Mem{Base: base, Offset: off} }

// PreIndexed is [base, #off]!.
func PreIndexed(base Register, off int64) Mem {
	return Mem{Base: base, Offset: off, PreIndex: true}
}

// PostIndexed is [base], #off.
func PostIndexed(base Register, off int64) Mem {
	return Mem{Base: base, Offset: off, PostIndex: true}
}

// RegOffset is [base, index{, extend #amount}].
func RegOffset(base, index Register, ext ExtendKind, amount uint8) Mem {
	return Mem{Base: base, Index: index, HasIndex: true, Extend: ext, Amount: amount}
}

// Value returns the effective immediate: Imm shifted left by Amount for
// shifted immediates, Imm otherwise.
func (o Operand) Value() int64 {
	if o.Kind == KindImmediate && o.Amount != 0 {
		return o.Imm << o.Amount
	}
	return o.Imm
}

// IsReg reports a plain register operand.
func (o Operand) IsReg() bool { return o.Kind == KindRegister }

// Register returns the register carried by register, shifted or extended
// operands.
func (o Operand) Register() (Register, bool) {
	switch o.Kind {
	case KindRegister, KindShifted, KindExtended:
		return o.Reg, true
	}
	return Register{}, false
}

func (o Operand) String() string {
	switch o.Kind {
	case KindRegister:
		return o.Reg.String()
	case KindImmediate:
		if o.Amount != 0 {
			return fmt.Sprintf("#%#x, %s #%d", o.Imm, o.Shift, o.Amount)
		}
		if o.Imm < 0 || o.Imm > 9 {
			return fmt.Sprintf("#%#x", o.Imm)
		}
		return fmt.Sprintf("#%d", o.Imm)
	case KindAddress:
		return memory.Address(o.Imm).String()
	case KindPCRel:
		if o.Imm < 0 {
			return fmt.Sprintf(".-%#x", -o.Imm)
		}
		return fmt.Sprintf(".+%#x", o.Imm)
	case KindMemory:
		return o.Mem.String()
	case KindShifted:
		if o.Amount == 0 && o.Shift == LSLShift {
			return o.Reg.String()
		}
		return fmt.Sprintf("%s, %s #%d", o.Reg, o.Shift, o.Amount)
	case KindExtended:
		if o.Amount == 0 {
			return fmt.Sprintf("%s, %s", o.Reg, o.Extend)
		}
		return fmt.Sprintf("%s, %s #%d", o.Reg, o.Extend, o.Amount)
	case KindCondition:
		return o.Cond.String()
	}
	return ""
}

func (m Mem) String() string {
	var b strings.Builder
	b.WriteByte('[')
	b.WriteString(m.Base.String())
	switch {
	case m.HasIndex:
		b.WriteString(", ")
		b.WriteString(m.Index.String())
		lsl := m.Extend == ExtendUXTX
		switch {
		case lsl && m.Amount != 0:
			fmt.Fprintf(&b, ", lsl #%d", m.Amount)
		case !lsl && m.Amount != 0:
			fmt.Fprintf(&b, ", %s #%d", m.Extend, m.Amount)
		case !lsl:
			fmt.Fprintf(&b, ", %s", m.Extend)
		}
		b.WriteByte(']')
	case m.PostIndex:
		fmt.Fprintf(&b, "], #%d", m.Offset)
	case m.PreIndex:
		fmt.Fprintf(&b, ", #%d]!", m.Offset)
	case m.Offset != 0:
		fmt.Fprintf(&b, ", #%d]", m.Offset)
	default:
		b.WriteByte(']')
	}
	return b.String()
}
