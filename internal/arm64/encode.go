package arm64

import (
	"errors"
	"fmt"

	"armrecover/internal/memory"
)

var (
	// ErrOutOfRange is wrapped by every *RangeError.
	ErrOutOfRange = errors.New("immediate out of range")
	// ErrMisaligned reports an offset that is not a multiple of its scale.
	ErrMisaligned = errors.New("offset not aligned to access size")
	// ErrBadOperand reports a register or operand the encoding cannot express.
	ErrBadOperand = errors.New("operand not encodable")
	// ErrUnsupported reports an instruction shape the encoder does not build.
	ErrUnsupported = errors.New("unsupported instruction shape")
)

// RangeError is returned when a value does not fit its encoding field.
type RangeError struct {
	Field    string
	Value    int64
	Min, Max int64
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("%s %d outside [%d, %d]", e.Field, e.Value, e.Min, e.Max)
}

func (e *RangeError) Unwrap() error { return ErrOutOfRange }

// Encoder builds instruction words. The zero value rejects out-of-range
// immediates; with Truncate set they are masked to the field width
// instead. Misaligned offsets are rejected either way.
type Encoder struct {
	Truncate bool
}

func (e Encoder) signedField(name string, v int64, n uint) (uint32, error) {
	lo, hi := -int64(1)<<(n-1), int64(1)<<(n-1)-1
	if (v < lo || v > hi) && !e.Truncate {
		return 0, &RangeError{Field: name, Value: v, Min: lo, Max: hi}
	}
	return uint32(uint64(v) & (1<<n - 1)), nil
}

func (e Encoder) unsignedField(name string, v int64, n uint) (uint32, error) {
	hi := int64(1)<<n - 1
	if (v < 0 || v > hi) && !e.Truncate {
		return 0, &RangeError{Field: name, Value: v, Min: 0, Max: hi}
	}
	return uint32(uint64(v) & (1<<n - 1)), nil
}

func (e Encoder) scaledSigned(name string, v, scale int64, n uint) (uint32, error) {
	if v%scale != 0 {
		return 0, fmt.Errorf("%w: %s %d not a multiple of %d", ErrMisaligned, name, v, scale)
	}
	return e.signedField(name, v/scale, n)
}

func b2u(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

// regNum validates r for a general register slot. With sp set, field
// value 31 names the stack pointer; otherwise the zero register.
func regNum(r Register, sp bool) (uint32, error) {
	switch {
	case r.Bank == General && r.Index < 31:
		return uint32(r.Index), nil
	case r.Bank == General && r.Index == 31 && !sp:
		return 31, nil
	case r.IsStackPointer() && sp:
		return 31, nil
	}
	return 0, fmt.Errorf("%w: %s", ErrBadOperand, r)
}

func fpNum(r Register) (uint32, error) {
	if r.Bank != FloatingPoint || r.Index > 31 {
		return 0, fmt.Errorf("%w: %s is not a vector register", ErrBadOperand, r)
	}
	return uint32(r.Index), nil
}

// sameWidth returns sf for registers that are all 32-bit or all 64-bit.
func sameWidth(regs ...Register) (bool, error) {
	if len(regs) == 0 {
		return true, nil
	}
	w := regs[0].Width
	for _, r := range regs {
		if r.Width != w || (w != Word && w != Double) {
			return false, fmt.Errorf("%w: mixed or invalid register widths", ErrBadOperand)
		}
	}
	return w == Double, nil
}

// regs3 resolves rd, rn and rm; the flags select stack pointer slots.
func regs3(rd Register, rdSP bool, rn Register, rnSP bool, rm Register) (d, n, m uint32, err error) {
	if d, err = regNum(rd, rdSP); err != nil {
		return
	}
	if n, err = regNum(rn, rnSP); err != nil {
		return
	}
	m, err = regNum(rm, false)
	return
}

// --- branches ---

func (e Encoder) branchImm(link bool, off int64) (uint32, error) {
	imm, err := e.scaledSigned("branch offset", off, 4, 26)
	if err != nil {
		return 0, err
	}
	return 0x14000000 | b2u(link)<<31 | imm, nil
}

// B encodes an unconditional branch from one address to another.
func (e Encoder) B(from, to memory.Address) (uint32, error) {
	return e.branchImm(false, to.Distance(from))
}

// BL encodes a call.
func (e Encoder) BL(from, to memory.Address) (uint32, error) {
	return e.branchImm(true, to.Distance(from))
}

func (e Encoder) bcond(c Condition, off int64) (uint32, error) {
	imm, err := e.scaledSigned("conditional branch offset", off, 4, 19)
	if err != nil {
		return 0, err
	}
	return 0x54000000 | imm<<5 | c.Encoding(), nil
}

// BCond encodes B.<c>.
func (e Encoder) BCond(c Condition, from, to memory.Address) (uint32, error) {
	return e.bcond(c, to.Distance(from))
}

func (e Encoder) compareBranch(nonzero bool, rt Register, off int64) (uint32, error) {
	sf, err := sameWidth(rt)
	if err != nil {
		return 0, err
	}
	t, err := regNum(rt, false)
	if err != nil {
		return 0, err
	}
	imm, err := e.scaledSigned("compare branch offset", off, 4, 19)
	if err != nil {
		return 0, err
	}
	return 0x34000000 | b2u(sf)<<31 | b2u(nonzero)<<24 | imm<<5 | t, nil
}

// CBZ encodes a compare-and-branch-if-zero.
func (e Encoder) CBZ(rt Register, from, to memory.Address) (uint32, error) {
	return e.compareBranch(false, rt, to.Distance(from))
}

// CBNZ encodes a compare-and-branch-if-nonzero.
func (e Encoder) CBNZ(rt Register, from, to memory.Address) (uint32, error) {
	return e.compareBranch(true, rt, to.Distance(from))
}

func (e Encoder) testBranch(nonzero bool, rt Register, pos int64, off int64) (uint32, error) {
	if pos < 0 || pos > 63 {
		return 0, &RangeError{Field: "bit position", Value: pos, Min: 0, Max: 63}
	}
	// bit >= 32 needs an X register and bit < 32 a W register.
	if rt.Is64() != (pos >= 32) {
		return 0, fmt.Errorf("%w: bit %d does not match %s", ErrBadOperand, pos, rt)
	}
	t, err := regNum(rt, false)
	if err != nil {
		return 0, err
	}
	imm, err := e.scaledSigned("test branch offset", off, 4, 14)
	if err != nil {
		return 0, err
	}
	b5, b40 := uint32(pos>>5), uint32(pos&31)
	return 0x36000000 | b5<<31 | b2u(nonzero)<<24 | b40<<19 | imm<<5 | t, nil
}

// TBZ encodes a test-bit-and-branch-if-zero.
func (e Encoder) TBZ(rt Register, pos int64, from, to memory.Address) (uint32, error) {
	return e.testBranch(false, rt, pos, to.Distance(from))
}

// TBNZ encodes a test-bit-and-branch-if-nonzero.
func (e Encoder) TBNZ(rt Register, pos int64, from, to memory.Address) (uint32, error) {
	return e.testBranch(true, rt, pos, to.Distance(from))
}

func branchReg(opc uint32, rn Register) (uint32, error) {
	if rn.Bank != General || !rn.Is64() {
		return 0, fmt.Errorf("%w: branch register %s", ErrBadOperand, rn)
	}
	return 0xd61f0000 | opc<<21 | uint32(rn.Index)<<5, nil
}

func (e Encoder) BR(rn Register) (uint32, error)  { return branchReg(0b0000, rn) }
func (e Encoder) BLR(rn Register) (uint32, error) { return branchReg(0b0001, rn) }
func (e Encoder) RET(rn Register) (uint32, error) { return branchReg(0b0010, rn) }

func (e Encoder) pcRel(page bool, rd Register, off int64) (uint32, error) {
	if !rd.Is64() {
		return 0, fmt.Errorf("%w: %s must be 64-bit", ErrBadOperand, rd)
	}
	d, err := regNum(rd, false)
	if err != nil {
		return 0, err
	}
	var imm uint32
	if page {
		imm, err = e.scaledSigned("page offset", off, 4096, 21)
	} else {
		imm, err = e.signedField("adr offset", off, 21)
	}
	if err != nil {
		return 0, err
	}
	return 0x10000000 | b2u(page)<<31 | (imm&3)<<29 | (imm>>2)<<5 | d, nil
}

// ADR encodes rd = to, relative to from.
func (e Encoder) ADR(rd Register, from, to memory.Address) (uint32, error) {
	return e.pcRel(false, rd, to.Distance(from))
}

// ADRP encodes rd = page of to, relative to the page of from.
func (e Encoder) ADRP(rd Register, from, to memory.Address) (uint32, error) {
	return e.pcRel(true, rd, to.AlignDown(4096).Distance(from.AlignDown(4096)))
}

// --- data processing ---

func (e Encoder) addSubImm(sub, setFlags bool, rd, rn Register, imm12 int64, shift12 bool) (uint32, error) {
	sf, err := sameWidth(rd, rn)
	if err != nil {
		return 0, err
	}
	d, err := regNum(rd, !setFlags)
	if err != nil {
		return 0, err
	}
	n, err := regNum(rn, true)
	if err != nil {
		return 0, err
	}
	imm, err := e.unsignedField("add/sub immediate", imm12, 12)
	if err != nil {
		return 0, err
	}
	return 0x11000000 | b2u(sf)<<31 | b2u(sub)<<30 | b2u(setFlags)<<29 |
		b2u(shift12)<<22 | imm<<10 | n<<5 | d, nil
}

// splitImm12 picks the imm12/shift form for an effective add/sub value.
func (e Encoder) splitImm12(v int64) (int64, bool, error) {
	switch {
	case v >= 0 && v < 1<<12:
		return v, false, nil
	case v > 0 && v&0xfff == 0 && v>>12 < 1<<12:
		return v >> 12, true, nil
	case e.Truncate:
		return v & 0xfff, false, nil
	}
	return 0, false, &RangeError{Field: "add/sub immediate", Value: v, Min: 0, Max: 0xfff << 12}
}

func (e Encoder) addSubValue(sub, setFlags bool, rd, rn Register, v int64) (uint32, error) {
	imm, sh, err := e.splitImm12(v)
	if err != nil {
		return 0, err
	}
	return e.addSubImm(sub, setFlags, rd, rn, imm, sh)
}

// AddImm encodes ADD rd, rn, #v (v may be a 12-bit value shifted by 12).
func (e Encoder) AddImm(rd, rn Register, v int64) (uint32, error) {
	return e.addSubValue(false, false, rd, rn, v)
}

func (e Encoder) AddsImm(rd, rn Register, v int64) (uint32, error) {
	return e.addSubValue(false, true, rd, rn, v)
}

func (e Encoder) SubImm(rd, rn Register, v int64) (uint32, error) {
	return e.addSubValue(true, false, rd, rn, v)
}

func (e Encoder) SubsImm(rd, rn Register, v int64) (uint32, error) {
	return e.addSubValue(true, true, rd, rn, v)
}

// CmpImm encodes CMP rn, #v.
func (e Encoder) CmpImm(rn Register, v int64) (uint32, error) {
	return e.addSubValue(true, true, XZR.As(rn.Width), rn, v)
}

// CmnImm encodes CMN rn, #v.
func (e Encoder) CmnImm(rn Register, v int64) (uint32, error) {
	return e.addSubValue(false, true, XZR.As(rn.Width), rn, v)
}

// Mov encodes a register move: ADD #0 when either side is the stack
// pointer, ORR with the zero register otherwise.
func (e Encoder) Mov(rd, rm Register) (uint32, error) {
	if rd.IsStackPointer() || rm.IsStackPointer() {
		return e.addSubImm(false, false, rd, rm, 0, false)
	}
	return e.Logical(ORR, rd, XZR.As(rd.Width), rm, LSLShift, 0)
}

func (e Encoder) addSubShifted(sub, setFlags bool, rd, rn, rm Register, shift ShiftKind, amount int64) (uint32, error) {
	if shift == RORShift || shift == MSLShift {
		return 0, fmt.Errorf("%w: %s shift on add/sub", ErrBadOperand, shift)
	}
	sf, err := sameWidth(rd, rn, rm)
	if err != nil {
		return 0, err
	}
	d, n, m, err := regs3(rd, false, rn, false, rm)
	if err != nil {
		return 0, err
	}
	amt, err := e.unsignedField("shift amount", amount, 5+uint(b2u(sf)))
	if err != nil {
		return 0, err
	}
	return 0x0b000000 | b2u(sf)<<31 | b2u(sub)<<30 | b2u(setFlags)<<29 |
		uint32(shift)<<22 | m<<16 | amt<<10 | n<<5 | d, nil
}

// AddShifted encodes ADD rd, rn, rm{, shift #amount}.
func (e Encoder) AddShifted(rd, rn, rm Register, shift ShiftKind, amount int64) (uint32, error) {
	return e.addSubShifted(false, false, rd, rn, rm, shift, amount)
}

// SubShifted encodes SUB rd, rn, rm{, shift #amount}.
func (e Encoder) SubShifted(rd, rn, rm Register, shift ShiftKind, amount int64) (uint32, error) {
	return e.addSubShifted(true, false, rd, rn, rm, shift, amount)
}

func (e Encoder) addSubExtended(sub, setFlags bool, rd, rn, rm Register, ext ExtendKind, amount int64) (uint32, error) {
	sf, err := sameWidth(rd, rn)
	if err != nil {
		return 0, err
	}
	if rm.Is64() != (ext&0b011 == 0b011) {
		return 0, fmt.Errorf("%w: %s with %s", ErrBadOperand, rm, ext)
	}
	d, n, m, err := regs3(rd, !setFlags, rn, true, rm)
	if err != nil {
		return 0, err
	}
	if amount < 0 || amount > 4 {
		return 0, &RangeError{Field: "extend amount", Value: amount, Min: 0, Max: 4}
	}
	return 0x0b200000 | b2u(sf)<<31 | b2u(sub)<<30 | b2u(setFlags)<<29 |
		m<<16 | uint32(ext)<<13 | uint32(amount)<<10 | n<<5 | d, nil
}

var logicalFields = map[Opcode]uint32{
	AND: 0b000, BIC: 0b001, ORR: 0b010, ORN: 0b011,
	EOR: 0b100, EON: 0b101, ANDS: 0b110, BICS: 0b111,
}

// Logical encodes AND/BIC/ORR/ORN/EOR/EON/ANDS/BICS with a shifted register.
func (e Encoder) Logical(op Opcode, rd, rn, rm Register, shift ShiftKind, amount int64) (uint32, error) {
	opcN, ok := logicalFields[op]
	if !ok || shift > RORShift {
		return 0, fmt.Errorf("%w: %s shifted register", ErrUnsupported, op)
	}
	sf, err := sameWidth(rd, rn, rm)
	if err != nil {
		return 0, err
	}
	d, n, m, err := regs3(rd, false, rn, false, rm)
	if err != nil {
		return 0, err
	}
	amt, err := e.unsignedField("shift amount", amount, 5+uint(b2u(sf)))
	if err != nil {
		return 0, err
	}
	return 0x0a000000 | b2u(sf)<<31 | (opcN>>1)<<29 | uint32(shift)<<22 | (opcN&1)<<21 |
		m<<16 | amt<<10 | n<<5 | d, nil
}

// LogicalImm encodes AND/ORR/EOR/ANDS with a bitmask immediate.
func (e Encoder) LogicalImm(op Opcode, rd, rn Register, value uint64) (uint32, error) {
	var opc uint32
	switch op {
	case AND:
		opc = 0b00
	case ORR:
		opc = 0b01
	case EOR:
		opc = 0b10
	case ANDS:
		opc = 0b11
	default:
		return 0, fmt.Errorf("%w: %s immediate", ErrUnsupported, op)
	}
	sf, err := sameWidth(rd, rn)
	if err != nil {
		return 0, err
	}
	d, err := regNum(rd, op != ANDS)
	if err != nil {
		return 0, err
	}
	nn, err := regNum(rn, false)
	if err != nil {
		return 0, err
	}
	if !sf && value>>32 != 0 {
		return 0, fmt.Errorf("%w: %#x in 32-bit form", ErrOutOfRange, value)
	}
	n, immr, imms, ok := encodeBitMask(value, sf)
	if !ok {
		return 0, fmt.Errorf("%w: %#x is not a bitmask immediate", ErrOutOfRange, value)
	}
	return 0x12000000 | b2u(sf)<<31 | opc<<29 | n<<22 | immr<<16 | imms<<10 | nn<<5 | d, nil
}

func (e Encoder) moveWide(opc uint32, rd Register, imm16 int64, shift int64) (uint32, error) {
	sf, err := sameWidth(rd)
	if err != nil {
		return 0, err
	}
	d, err := regNum(rd, false)
	if err != nil {
		return 0, err
	}
	maxShift := int64(16)
	if sf {
		maxShift = 48
	}
	if shift%16 != 0 || shift < 0 || shift > maxShift {
		return 0, &RangeError{Field: "move shift", Value: shift, Min: 0, Max: maxShift}
	}
	imm, err := e.unsignedField("move immediate", imm16, 16)
	if err != nil {
		return 0, err
	}
	return 0x12800000 | b2u(sf)<<31 | opc<<29 | uint32(shift/16)<<21 | imm<<5 | d, nil
}

// MOVZ encodes rd = imm16 << shift.
func (e Encoder) MOVZ(rd Register, imm16, shift int64) (uint32, error) {
	return e.moveWide(0b10, rd, imm16, shift)
}

// MOVN encodes rd = ^(imm16 << shift).
func (e Encoder) MOVN(rd Register, imm16, shift int64) (uint32, error) {
	return e.moveWide(0b00, rd, imm16, shift)
}

// MOVK inserts imm16 at shift keeping the other bits of rd.
func (e Encoder) MOVK(rd Register, imm16, shift int64) (uint32, error) {
	return e.moveWide(0b11, rd, imm16, shift)
}

func (e Encoder) bitfield(opc uint32, rd, rn Register, immr, imms int64) (uint32, error) {
	sf, err := sameWidth(rd, rn)
	if err != nil {
		return 0, err
	}
	d, err := regNum(rd, false)
	if err != nil {
		return 0, err
	}
	n, err := regNum(rn, false)
	if err != nil {
		return 0, err
	}
	bits := uint(5 + b2u(sf))
	r, err := e.unsignedField("immr", immr, bits)
	if err != nil {
		return 0, err
	}
	s, err := e.unsignedField("imms", imms, bits)
	if err != nil {
		return 0, err
	}
	return 0x13000000 | b2u(sf)<<31 | opc<<29 | b2u(sf)<<22 | r<<16 | s<<10 | n<<5 | d, nil
}

// ShiftImm encodes LSL, LSR or ASR by a constant. LSL #0 is a plain move
// and is rejected.
func (e Encoder) ShiftImm(op Opcode, rd, rn Register, amount int64) (uint32, error) {
	size := int64(32)
	if rd.Is64() {
		size = 64
	}
	lo := int64(0)
	if op == LSL {
		lo = 1
	}
	if amount < lo || amount >= size {
		if !e.Truncate {
			return 0, &RangeError{Field: "shift amount", Value: amount, Min: lo, Max: size - 1}
		}
		amount &= size - 1
	}
	switch op {
	case LSR:
		return e.bitfield(0b10, rd, rn, amount, size-1)
	case ASR:
		return e.bitfield(0b00, rd, rn, amount, size-1)
	case LSL:
		return e.bitfield(0b10, rd, rn, (size-amount)%size, size-1-amount)
	}
	return 0, fmt.Errorf("%w: %s by immediate", ErrUnsupported, op)
}

// Extend encodes SXTB/SXTH/SXTW/UXTB/UXTH. rn is always a W register.
func (e Encoder) Extend(op Opcode, rd, rn Register) (uint32, error) {
	if rn.Width != Word {
		return 0, fmt.Errorf("%w: %s source must be 32-bit", ErrBadOperand, op)
	}
	src := rn.As(rd.Width)
	switch op {
	case SXTB:
		return e.bitfield(0b00, rd, src, 0, 7)
	case SXTH:
		return e.bitfield(0b00, rd, src, 0, 15)
	case SXTW:
		if !rd.Is64() {
			return 0, fmt.Errorf("%w: sxtw needs a 64-bit destination", ErrBadOperand)
		}
		return e.bitfield(0b00, rd, src, 0, 31)
	case UXTB, UXTH:
		if rd.Is64() {
			return 0, fmt.Errorf("%w: %s needs a 32-bit destination", ErrBadOperand, op)
		}
		if op == UXTB {
			return e.bitfield(0b10, rd, src, 0, 7)
		}
		return e.bitfield(0b10, rd, src, 0, 15)
	}
	return 0, fmt.Errorf("%w: %s", ErrUnsupported, op)
}

func (e Encoder) condSelect(op uint32, o2 uint32, rd, rn, rm Register, c Condition) (uint32, error) {
	sf, err := sameWidth(rd, rn, rm)
	if err != nil {
		return 0, err
	}
	d, n, m, err := regs3(rd, false, rn, false, rm)
	if err != nil {
		return 0, err
	}
	return 0x1a800000 | b2u(sf)<<31 | op<<30 | m<<16 | c.Encoding()<<12 | o2<<10 | n<<5 | d, nil
}

// CSel encodes CSEL rd, rn, rm, c.
func (e Encoder) CSel(rd, rn, rm Register, c Condition) (uint32, error) {
	return e.condSelect(0, 0, rd, rn, rm, c)
}

// CSet encodes CSET rd, c (CSINC rd, zr, zr, !c).
func (e Encoder) CSet(rd Register, c Condition) (uint32, error) {
	if c == AL || c == NV {
		return 0, fmt.Errorf("%w: cset %s", ErrBadOperand, c)
	}
	zr := XZR.As(rd.Width)
	return e.condSelect(0, 1, rd, zr, zr, c.Invert())
}

func (e Encoder) dp3(op31, o0 uint32, rd, rn, rm, ra Register) (uint32, error) {
	sf, err := sameWidth(rd, rn, rm, ra)
	if err != nil {
		return 0, err
	}
	d, n, m, err := regs3(rd, false, rn, false, rm)
	if err != nil {
		return 0, err
	}
	a, err := regNum(ra, false)
	if err != nil {
		return 0, err
	}
	return 0x1b000000 | b2u(sf)<<31 | op31<<21 | m<<16 | o0<<15 | a<<10 | n<<5 | d, nil
}

// Mul encodes MUL rd, rn, rm.
func (e Encoder) Mul(rd, rn, rm Register) (uint32, error) {
	return e.dp3(0, 0, rd, rn, rm, XZR.As(rd.Width))
}

// Madd encodes MADD rd, rn, rm, ra.
func (e Encoder) Madd(rd, rn, rm, ra Register) (uint32, error) {
	return e.dp3(0, 0, rd, rn, rm, ra)
}

func (e Encoder) dp2(opcode uint32, rd, rn, rm Register) (uint32, error) {
	sf, err := sameWidth(rd, rn, rm)
	if err != nil {
		return 0, err
	}
	d, n, m, err := regs3(rd, false, rn, false, rm)
	if err != nil {
		return 0, err
	}
	return 0x1ac00000 | b2u(sf)<<31 | m<<16 | opcode<<10 | n<<5 | d, nil
}

// --- exceptions and system ---

func (e Encoder) exception(opc, ll uint32, imm int64) (uint32, error) {
	v, err := e.unsignedField("exception immediate", imm, 16)
	if err != nil {
		return 0, err
	}
	return 0xd4000000 | opc<<21 | v<<5 | ll, nil
}

func (e Encoder) BRK(imm int64) (uint32, error) { return e.exception(0b001, 0b00, imm) }
func (e Encoder) SVC(imm int64) (uint32, error) { return e.exception(0b000, 0b01, imm) }
func (e Encoder) HLT(imm int64) (uint32, error) { return e.exception(0b010, 0b00, imm) }

// NOP is the canonical no-op word.
const NOPWord uint32 = 0xd503201f

func (e Encoder) NOP() uint32 { return NOPWord }

func (e Encoder) hint(imm int64) (uint32, error) {
	v, err := e.unsignedField("hint", imm, 7)
	if err != nil {
		return 0, err
	}
	return NOPWord | v<<5, nil
}

func (e Encoder) barrier(op2 uint32, crm int64) (uint32, error) {
	v, err := e.unsignedField("barrier option", crm, 4)
	if err != nil {
		return 0, err
	}
	return 0xd503301f | v<<8 | op2<<5, nil
}

// Package-level shorthands using the default rejecting encoder.

func EncodeB(from, to memory.Address) (uint32, error)  { return Encoder{}.B(from, to) }
func EncodeBL(from, to memory.Address) (uint32, error) { return Encoder{}.BL(from, to) }
