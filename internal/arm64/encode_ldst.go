package arm64

import "fmt"

// ldstShape is the size/opc/V triple of a single-register load or store.
type ldstShape struct {
	size, opc uint32
	vector    bool
	unscaled  bool
}

func (s ldstShape) scale() uint {
	if s.vector && s.opc&0b10 != 0 {
		return 4
	}
	return uint(s.size)
}

// shapeFor finds the encoding triple for op transferring rt.
func shapeFor(op Opcode, rt Register) (ldstShape, error) {
	if rt.Bank == FloatingPoint {
		var s ldstShape
		switch op {
		case LDR, LDUR:
			s.opc = 1
		case STR, STUR:
		default:
			return s, fmt.Errorf("%w: %s with %s", ErrBadOperand, op, rt)
		}
		s.vector = true
		s.unscaled = op == LDUR || op == STUR
		if rt.Width == Quad {
			s.opc |= 0b10
		} else {
			s.size = uint32(rt.Width)
		}
		return s, nil
	}
	for size := range gprLoadStore {
		for opc, e := range gprLoadStore[size] {
			if e.op == Undefined || (op != e.op && op != e.unscaled) {
				continue
			}
			if op != PRFM && e.sf != rt.Is64() {
				continue
			}
			return ldstShape{
				size:     uint32(size),
				opc:      uint32(opc),
				unscaled: op == e.unscaled && op != e.op,
			}, nil
		}
	}
	return ldstShape{}, fmt.Errorf("%w: %s with %s", ErrBadOperand, op, rt)
}

func rtNum(rt Register) (uint32, error) {
	if rt.Bank == FloatingPoint {
		return fpNum(rt)
	}
	return regNum(rt, false)
}

// LoadStore encodes a single-register load or store. The addressing form
// follows the operand: pre/post index, register offset, unscaled for the
// LDUR family, unsigned scaled offset otherwise.
func (e Encoder) LoadStore(op Opcode, rt Register, m Mem) (uint32, error) {
	s, err := shapeFor(op, rt)
	if err != nil {
		return 0, err
	}
	return e.loadStore(s, rt, m)
}

func (e Encoder) prefetch(prfop int64, m Mem) (uint32, error) {
	t, err := e.unsignedField("prefetch op", prfop, 5)
	if err != nil {
		return 0, err
	}
	s := ldstShape{size: 3, opc: 0b10}
	return e.loadStoreRaw(s, t, m)
}

func (e Encoder) loadStore(s ldstShape, rt Register, m Mem) (uint32, error) {
	t, err := rtNum(rt)
	if err != nil {
		return 0, err
	}
	return e.loadStoreRaw(s, t, m)
}

func (e Encoder) loadStoreRaw(s ldstShape, t uint32, m Mem) (uint32, error) {
	n, err := regNum(m.Base, true)
	if err != nil {
		return 0, err
	}
	if !m.Base.Is64() {
		return 0, fmt.Errorf("%w: base %s must be 64-bit", ErrBadOperand, m.Base)
	}
	head := s.size<<30 | b2u(s.vector)<<26 | s.opc<<22 | n<<5 | t
	scale := s.scale()

	switch {
	case m.PreIndex && m.PostIndex:
		return 0, fmt.Errorf("%w: both pre- and post-index", ErrBadOperand)
	case m.HasIndex:
		if s.unscaled || m.PreIndex || m.PostIndex {
			return 0, fmt.Errorf("%w: register offset form", ErrBadOperand)
		}
		if m.Extend&0b010 == 0 || m.Index.Is64() != (m.Extend&1 == 1) {
			return 0, fmt.Errorf("%w: index %s with %s", ErrBadOperand, m.Index, m.Extend)
		}
		if m.Amount != 0 && uint(m.Amount) != scale {
			return 0, &RangeError{Field: "index shift", Value: int64(m.Amount), Min: 0, Max: int64(scale)}
		}
		rm, err := regNum(m.Index, false)
		if err != nil {
			return 0, err
		}
		return 0x38200800 | head | rm<<16 | uint32(m.Extend)<<13 | b2u(m.Amount != 0)<<12, nil
	case m.PreIndex || m.PostIndex || s.unscaled:
		if s.unscaled && (m.PreIndex || m.PostIndex) {
			return 0, fmt.Errorf("%w: unscaled form cannot write back", ErrBadOperand)
		}
		imm, err := e.signedField("unscaled offset", m.Offset, 9)
		if err != nil {
			return 0, err
		}
		mode := uint32(0b00)
		switch {
		case m.PostIndex:
			mode = 0b01
		case m.PreIndex:
			mode = 0b11
		}
		return 0x38000000 | head | imm<<12 | mode<<10, nil
	}
	if m.Offset%(1<<scale) != 0 {
		return 0, fmt.Errorf("%w: offset %d for %d-byte access", ErrMisaligned, m.Offset, 1<<scale)
	}
	imm, err := e.unsignedField("scaled offset", m.Offset>>scale, 12)
	if err != nil {
		return 0, err
	}
	return 0x39000000 | head | imm<<10, nil
}

// LoadLiteral encodes LDR/LDRSW rt, <pc+off>.
func (e Encoder) LoadLiteral(op Opcode, rt Register, off int64) (uint32, error) {
	var opc uint32
	vector := rt.Bank == FloatingPoint
	switch {
	case op == LDR && vector:
		switch rt.Width {
		case Word:
			opc = 0b00
		case Double:
			opc = 0b01
		case Quad:
			opc = 0b10
		default:
			return 0, fmt.Errorf("%w: literal load into %s", ErrBadOperand, rt)
		}
	case op == LDR:
		opc = b2u(rt.Is64())
	case op == LDRSW && rt.Is64() && !vector:
		opc = 0b10
	default:
		return 0, fmt.Errorf("%w: %s literal", ErrUnsupported, op)
	}
	t, err := rtNum(rt)
	if err != nil {
		return 0, err
	}
	imm, err := e.scaledSigned("literal offset", off, 4, 19)
	if err != nil {
		return 0, err
	}
	return 0x18000000 | opc<<30 | b2u(vector)<<26 | imm<<5 | t, nil
}

// Pair encodes STP/LDP/LDPSW/STNP/LDNP. The mode follows the memory
// operand: pre-index, post-index or signed offset.
func (e Encoder) Pair(op Opcode, rt, rt2 Register, m Mem) (uint32, error) {
	if rt.Bank != rt2.Bank || rt.Width != rt2.Width {
		return 0, fmt.Errorf("%w: pair registers %s, %s", ErrBadOperand, rt, rt2)
	}
	vector := rt.Bank == FloatingPoint
	var (
		opc   uint32
		scale int64
	)
	switch {
	case vector && rt.Width == Word:
		opc, scale = 0b00, 4
	case vector && rt.Width == Double:
		opc, scale = 0b01, 8
	case vector && rt.Width == Quad:
		opc, scale = 0b10, 16
	case vector:
		return 0, fmt.Errorf("%w: pair of %s", ErrBadOperand, rt)
	case op == LDPSW && rt.Is64():
		opc, scale = 0b01, 4
	case op == LDPSW:
		return 0, fmt.Errorf("%w: ldpsw needs 64-bit registers", ErrBadOperand)
	case rt.Is64():
		opc, scale = 0b10, 8
	case rt.Width == Word:
		opc, scale = 0b00, 4
	default:
		return 0, fmt.Errorf("%w: pair of %s", ErrBadOperand, rt)
	}

	var load bool
	var mode uint32
	switch op {
	case STP, LDP, LDPSW:
		load = op != STP
		switch {
		case m.PreIndex && m.PostIndex:
			return 0, fmt.Errorf("%w: both pre- and post-index", ErrBadOperand)
		case m.PreIndex:
			mode = 0b11
		case m.PostIndex:
			mode = 0b01
		default:
			mode = 0b10
		}
	case STNP, LDNP:
		if m.PreIndex || m.PostIndex {
			return 0, fmt.Errorf("%w: non-temporal pair cannot write back", ErrBadOperand)
		}
		load = op == LDNP
	default:
		return 0, fmt.Errorf("%w: %s as pair", ErrUnsupported, op)
	}
	if m.HasIndex {
		return 0, fmt.Errorf("%w: pair with register offset", ErrBadOperand)
	}

	t, err := rtNum(rt)
	if err != nil {
		return 0, err
	}
	t2, err := rtNum(rt2)
	if err != nil {
		return 0, err
	}
	n, err := regNum(m.Base, true)
	if err != nil {
		return 0, err
	}
	imm, err := e.scaledSigned("pair offset", m.Offset, scale, 7)
	if err != nil {
		return 0, err
	}
	return 0x28000000 | opc<<30 | b2u(vector)<<26 | mode<<23 | b2u(load)<<22 |
		imm<<15 | t2<<10 | n<<5 | t, nil
}
