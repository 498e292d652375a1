package arm64

import (
	"encoding/binary"

	"armrecover/internal/memory"
)

// Class is the top-level encoding group selected by bits [28:25].
type Class uint8

const (
	ClassUnallocated Class = iota
	ClassDataImm
	ClassBranch
	ClassLoadStore
	ClassDataReg
	ClassSIMD
)

func (c Class) String() string {
	return [...]string{"unallocated", "data-imm", "branch", "load-store", "data-reg", "simd"}[c]
}

// classTable maps op0 = bits [28:25] to its group:
// 0000-0011 unallocated, 100x imm, 101x branch, x1x0 ld/st, x101 reg, x111 simd.
var classTable = [16]Class{
	0b0000: ClassUnallocated,
	0b0001: ClassUnallocated,
	0b0010: ClassUnallocated,
	0b0011: ClassUnallocated,
	0b0100: ClassLoadStore,
	0b0101: ClassDataReg,
	0b0110: ClassLoadStore,
	0b0111: ClassSIMD,
	0b1000: ClassDataImm,
	0b1001: ClassDataImm,
	0b1010: ClassBranch,
	0b1011: ClassBranch,
	0b1100: ClassLoadStore,
	0b1101: ClassDataReg,
	0b1110: ClassLoadStore,
	0b1111: ClassSIMD,
}

// ClassOf returns the top-level group of word without decoding it fully.
func ClassOf(word uint32) Class { return classTable[(word>>25)&0xf] }

// familyDecoder fills inst from word and reports false for reserved encodings.
type familyDecoder func(word uint32, inst *Instruction) bool

var familyDecoders = [...]familyDecoder{
	ClassUnallocated: nil,
	ClassDataImm:     decodeDataImm,
	ClassBranch:      decodeBranch,
	ClassLoadStore:   decodeLoadStore,
	ClassDataReg:     decodeDataReg,
	ClassSIMD:        decodeSIMD,
}

// Decode decodes one instruction word located at addr. It is total: every
// word yields an Instruction, reserved or unknown ones as Undefined with
// the raw word as the only operand.
func Decode(word uint32, addr memory.Address) Instruction {
	inst := Instruction{Address: addr, Raw: word}
	if dec := familyDecoders[ClassOf(word)]; dec != nil && dec(word, &inst) {
		return inst
	}
	return undefined(word, addr)
}

func undefined(word uint32, addr memory.Address) Instruction {
	return Instruction{
		Address: addr,
		Raw:     word,
		Op:      Undefined,
		Args:    []Operand{ImmOperand(int64(word))},
	}
}

// DecodeBytes decodes the little-endian word at the start of b.
func DecodeBytes(b []byte, addr memory.Address) (Instruction, bool) {
	if len(b) < InstructionSize {
		return Instruction{}, false
	}
	return Decode(binary.LittleEndian.Uint32(b), addr), true
}

// DecodeStream decodes every whole word in data, the first at base.
// Trailing bytes that do not form a word are ignored.
func DecodeStream(data []byte, base memory.Address) []Instruction {
	out := make([]Instruction, 0, len(data)/InstructionSize)
	for off := 0; off+InstructionSize <= len(data); off += InstructionSize {
		word := binary.LittleEndian.Uint32(data[off:])
		out = append(out, Decode(word, base.Add(uint64(off))))
	}
	return out
}

// DecodeAt reads and decodes the word at addr.
func DecodeAt(src memory.Source, addr memory.Address) (Instruction, error) {
	word, err := memory.ReadU32(src, addr)
	if err != nil {
		return Instruction{}, err
	}
	return Decode(word, addr), nil
}

func field(w uint32, hi, lo uint) uint32 { return (w >> lo) & (1<<(hi-lo+1) - 1) }

func bit(w uint32, n uint) bool { return (w>>n)&1 == 1 }

// signExtend interprets the low n bits of v as two's complement.
func signExtend(v uint32, n uint) int64 {
	shift := 64 - n
	return int64(uint64(v)<<shift) >> shift
}

func (inst *Instruction) set(op Opcode, args ...Operand) bool {
	inst.Op = op
	inst.Args = args
	return true
}

func (inst *Instruction) setCond(op Opcode, c Condition, args ...Operand) bool {
	inst.Cond = c
	inst.HasCond = true
	return inst.set(op, args...)
}

func reg(r Register) Operand { return RegOperand(r) }
