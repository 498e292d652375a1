// Package arm64 implements a bit-exact AArch64 instruction decoder and a
// matching encoder for the shapes the recovery heuristics need.
//
// Instructions are plain values. Classification (branch, call, load, ...)
// is derived from the opcode through static tables so it can never drift
// from the decoded opcode.
package arm64

import "fmt"

// Bank identifies the register file a Register belongs to.
type Bank uint8

const (
	General Bank = iota
	FloatingPoint
	Special
)

// Width is the access width of a register operand.
type Width uint8

const (
	Byte Width = iota
	Half
	Word
	Double
	Quad
)

// Bits returns the width in bits.
func (w Width) Bits() int { return 8 << w }

// Bytes returns the width in bytes.
func (w Width) Bytes() int { return 1 << w }

// Register names one architectural register at a given width.
// General/31 is the zero register; Special/31 is the stack pointer and
// Special/32 the program counter. Bank, not index alone, decides identity.
type Register struct {
	Bank  Bank
	Index uint8
	Width Width
}

const (
	indexZR = 31
	indexSP = 31
	indexPC = 32
)

// X returns the 64-bit general register n (n == 31 is XZR).
func X(n uint8) Register { return Register{General, n, Double} }

// W returns the 32-bit general register n (n == 31 is WZR).
func W(n uint8) Register { return Register{General, n, Word} }

// V returns floating point / vector register n at width w.
func V(n uint8, w Width) Register { return Register{FloatingPoint, n, w} }

// BReg, HReg, SReg, DReg and QReg name the scalar views of register n.
func BReg(n uint8) Register { return V(n, Byte) }
func HReg(n uint8) Register { return V(n, Half) }
func SReg(n uint8) Register { return V(n, Word) }
func DReg(n uint8) Register { return V(n, Double) }
func QReg(n uint8) Register { return V(n, Quad) }

var (
	SP  = Register{Special, indexSP, Double}
	WSP = Register{Special, indexSP, Word}
	PC  = Register{Special, indexPC, Double}
	XZR = X(indexZR)
	WZR = W(indexZR)
	LR  = X(30)
	FP  = X(29)
)

// gp returns general register n, with 31 read as the zero register.
func gp(n uint32, sf bool) Register {
	if sf {
		return X(uint8(n & 31))
	}
	return W(uint8(n & 31))
}

// gpSP returns general register n, with 31 read as the stack pointer.
func gpSP(n uint32, sf bool) Register {
	if n&31 == indexSP {
		if sf {
			return SP
		}
		return WSP
	}
	return gp(n, sf)
}

// Is64 reports a 64-bit wide register.
func (r Register) Is64() bool { return r.Width == Double }

// IsZero reports XZR/WZR.
func (r Register) IsZero() bool { return r.Bank == General && r.Index == indexZR }

// IsStackPointer reports SP/WSP.
func (r Register) IsStackPointer() bool { return r.Bank == Special && r.Index == indexSP }

func (r Register) IsPC() bool { return r.Bank == Special && r.Index == indexPC }

func (r Register) IsFramePointer() bool { return r.Bank == General && r.Index == 29 }

func (r Register) IsLinkRegister() bool { return r.Bank == General && r.Index == 30 }

// IsCalleeSaved reports x19-x28 (AAPCS64).
func (r Register) IsCalleeSaved() bool {
	return r.Bank == General && r.Index >= 19 && r.Index <= 28
}

// IsArgument reports x0-x7.
func (r Register) IsArgument() bool { return r.Bank == General && r.Index <= 7 }

// Overlaps reports whether r and o alias the same storage.
func (r Register) Overlaps(o Register) bool { return r.Bank == o.Bank && r.Index == o.Index }

// As returns the same register at another width.
func (r Register) As(w Width) Register { r.Width = w; return r }

func (r Register) String() string {
	switch r.Bank {
	case General:
		if r.Index == indexZR {
			if r.Width == Word {
				return "wzr"
			}
			return "xzr"
		}
		if r.Width == Word {
			return fmt.Sprintf("w%d", r.Index)
		}
		return fmt.Sprintf("x%d", r.Index)
	case FloatingPoint:
		return fmt.Sprintf("%c%d", "bhsdq"[r.Width], r.Index)
	case Special:
		switch r.Index {
		case indexSP:
			if r.Width == Word {
				return "wsp"
			}
			return "sp"
		case indexPC:
			return "pc"
		}
	}
	return fmt.Sprintf("r?%d", r.Index)
}
