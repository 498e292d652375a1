package arm64

// decodeLoadStore handles op0 = x1x0.
func decodeLoadStore(w uint32, inst *Instruction) bool {
	switch {
	case w&0x3f000000 == 0x08000000:
		return decodeExclusive(w, inst)
	case w&0x3b000000 == 0x18000000:
		return decodeLoadLiteral(w, inst)
	case w&0x38000000 == 0x28000000:
		return decodePair(w, inst)
	case w&0x38000000 == 0x38000000:
		return decodeLoadStoreReg(w, inst)
	case bit(w, 26):
		return inst.set(SIMD, ImmOperand(int64(w)))
	}
	return false
}

// exclusiveOps maps o2:L:o0 of the single-register forms to the byte,
// halfword and word/doubleword mnemonics. o2 set with o0 clear is the
// LORegion pair, left unallocated.
var exclusiveOps = [8][3]Opcode{
	0b000: {STXRB, STXRH, STXR},
	0b001: {STLXRB, STLXRH, STLXR},
	0b010: {LDXRB, LDXRH, LDXR},
	0b011: {LDAXRB, LDAXRH, LDAXR},
	0b101: {STLRB, STLRH, STLR},
	0b111: {LDARB, LDARH, LDAR},
}

// size 001000 o2 L o1 Rs o0 Rt2 Rn Rt.
func decodeExclusive(w uint32, inst *Instruction) bool {
	size := field(w, 31, 30)
	o2, l, o1, o0 := bit(w, 23), bit(w, 22), bit(w, 21), bit(w, 15)
	sf := size == 3
	rt := reg(gp(field(w, 4, 0), sf))
	mem := MemOperand(BaseOffset(gpSP(field(w, 9, 5), true), 0))
	rs := reg(W(uint8(field(w, 20, 16))))

	if o1 {
		// o2 or a sub-word size is CAS/CASP.
		if o2 || size < 2 {
			return false
		}
		rt2 := reg(gp(field(w, 14, 10), sf))
		switch {
		case l && !o0:
			return inst.set(LDXP, rt, rt2, mem)
		case l:
			return inst.set(LDAXP, rt, rt2, mem)
		case !o0:
			return inst.set(STXP, rs, rt, rt2, mem)
		default:
			return inst.set(STLXP, rs, rt, rt2, mem)
		}
	}

	op := exclusiveOps[b2u(o2)<<2|b2u(l)<<1|b2u(o0)][min(size, 2)]
	switch {
	case op == Undefined:
		return false
	case !o2 && !l:
		return inst.set(op, rs, rt, mem)
	}
	return inst.set(op, rt, mem)
}

// opc 011 V 00 imm19 Rt.
func decodeLoadLiteral(w uint32, inst *Instruction) bool {
	off := PCRelOperand(signExtend(field(w, 23, 5), 19) * 4)
	rt := uint8(field(w, 4, 0))
	opc := field(w, 31, 30)
	if bit(w, 26) {
		switch opc {
		case 0b00:
			return inst.set(LDR, reg(SReg(rt)), off)
		case 0b01:
			return inst.set(LDR, reg(DReg(rt)), off)
		case 0b10:
			return inst.set(LDR, reg(QReg(rt)), off)
		}
		return false
	}
	switch opc {
	case 0b00:
		return inst.set(LDR, reg(W(rt)), off)
	case 0b01:
		return inst.set(LDR, reg(X(rt)), off)
	case 0b10:
		return inst.set(LDRSW, reg(X(rt)), off)
	}
	return inst.set(PRFM, ImmOperand(int64(rt)), off)
}

// opc 101 V mode(2) L imm7 Rt2 Rn Rt; mode 00 no-allocate, 01 post,
// 10 offset, 11 pre.
func decodePair(w uint32, inst *Instruction) bool {
	opc, v, l := field(w, 31, 30), bit(w, 26), bit(w, 22)
	mode := field(w, 24, 23)
	rtN, rt2N := uint8(field(w, 4, 0)), uint8(field(w, 14, 10))

	var (
		op    Opcode
		width Width
		scale int64
	)
	if v {
		switch opc {
		case 0b00:
			width, scale = Word, 4
		case 0b01:
			width, scale = Double, 8
		case 0b10:
			width, scale = Quad, 16
		default:
			return false
		}
	} else {
		switch opc {
		case 0b00:
			width, scale = Word, 4
		case 0b01:
			if !l || mode == 0 {
				return false
			}
			width, scale = Double, 4
		case 0b10:
			width, scale = Double, 8
		default:
			return false
		}
	}

	switch {
	case mode == 0 && l:
		op = LDNP
	case mode == 0:
		op = STNP
	case !v && opc == 0b01:
		op = LDPSW
	case l:
		op = LDP
	default:
		op = STP
	}

	var rt, rt2 Register
	if v {
		rt, rt2 = V(rtN, width), V(rt2N, width)
	} else {
		rt, rt2 = gp(uint32(rtN), width == Double), gp(uint32(rt2N), width == Double)
	}
	m := Mem{
		Base:      gpSP(field(w, 9, 5), true),
		Offset:    signExtend(field(w, 21, 15), 7) * scale,
		PreIndex:  mode == 0b11,
		PostIndex: mode == 0b01,
	}
	return inst.set(op, reg(rt), reg(rt2), MemOperand(m))
}

type ldstForm uint8

const (
	formUnsigned ldstForm = iota
	formUnscaled
	formPost
	formPre
	formRegister
	formUnprivileged
)

// gprLoadStore maps (size, opc) of the integer register forms to the
// scaled, unscaled and unprivileged mnemonics and the transfer register
// width. Zero opcode marks an unallocated slot.
var gprLoadStore = [4][4]struct {
	op, unscaled, unprivileged Opcode
	sf                         bool
}{
	{{STRB, STURB, STTRB, false}, {LDRB, LDURB, LDTRB, false}, {LDRSB, LDURSB, LDTRSB, true}, {LDRSB, LDURSB, LDTRSB, false}},
	{{STRH, STURH, STTRH, false}, {LDRH, LDURH, LDTRH, false}, {LDRSH, LDURSH, LDTRSH, true}, {LDRSH, LDURSH, LDTRSH, false}},
	{{STR, STUR, STTR, false}, {LDR, LDUR, LDTR, false}, {LDRSW, LDURSW, LDTRSW, true}, {}},
	{{STR, STUR, STTR, true}, {LDR, LDUR, LDTR, true}, {PRFM, PRFM, Undefined, true}, {}},
}

// size 111 V 0x opc ... Rn Rt.
func decodeLoadStoreReg(w uint32, inst *Instruction) bool {
	size, opc, v := field(w, 31, 30), field(w, 23, 22), bit(w, 26)

	var form ldstForm
	switch {
	case bit(w, 24):
		form = formUnsigned
	case !bit(w, 21):
		switch field(w, 11, 10) {
		case 0b00:
			form = formUnscaled
		case 0b01:
			form = formPost
		case 0b10:
			form = formUnprivileged
		default:
			form = formPre
		}
	case field(w, 11, 10) == 0b10:
		form = formRegister
	default:
		return false
	}

	var (
		op    Opcode
		rt    Register
		scale uint
	)
	rtN := uint8(field(w, 4, 0))
	if v {
		if form == formUnprivileged {
			return false
		}
		switch {
		case opc&0b10 == 0:
			scale = uint(size)
		case size == 0:
			scale = 4
		default:
			return false
		}
		rt = V(rtN, Width(scale))
		load := opc&1 == 1
		switch {
		case form == formUnscaled && load:
			op = LDUR
		case form == formUnscaled:
			op = STUR
		case load:
			op = LDR
		default:
			op = STR
		}
	} else {
		e := gprLoadStore[size][opc]
		if e.op == Undefined {
			return false
		}
		switch form {
		case formUnscaled:
			op = e.unscaled
		case formUnprivileged:
			op = e.unprivileged
		default:
			op = e.op
		}
		if op == Undefined {
			return false
		}
		if op == PRFM && (form == formPre || form == formPost) {
			return false
		}
		scale = uint(size)
		rt = gp(uint32(rtN), e.sf)
	}

	base := gpSP(field(w, 9, 5), true)
	var m Mem
	switch form {
	case formUnsigned:
		m = BaseOffset(base, int64(field(w, 21, 10))<<scale)
	case formUnscaled, formUnprivileged:
		m = BaseOffset(base, signExtend(field(w, 20, 12), 9))
	case formPost:
		m = PostIndexed(base, signExtend(field(w, 20, 12), 9))
	case formPre:
		m = PreIndexed(base, signExtend(field(w, 20, 12), 9))
	case formRegister:
		option := field(w, 15, 13)
		if option&0b010 == 0 {
			return false
		}
		var amount uint8
		if bit(w, 12) {
			amount = uint8(scale)
		}
		m = RegOffset(base, gp(field(w, 20, 16), option&1 == 1), ExtendKind(option), amount)
	}

	first := reg(rt)
	if op == PRFM {
		first = ImmOperand(int64(rtN))
	}
	return inst.set(op, first, MemOperand(m))
}
