package arm64

// decodeDataReg handles op0 = x101. op1 = bit 28, op2 = bits [24:21].
func decodeDataReg(w uint32, inst *Instruction) bool {
	if !bit(w, 28) {
		switch {
		case !bit(w, 24):
			return decodeLogicalShifted(w, inst)
		case !bit(w, 21):
			return decodeAddSubShifted(w, inst)
		default:
			return decodeAddSubExtended(w, inst)
		}
	}
	op2 := field(w, 24, 21)
	switch {
	case op2 == 0b0000:
		if field(w, 15, 10) != 0 {
			return false
		}
		return decodeAddSubCarry(w, inst)
	case op2 == 0b0010:
		return decodeCondCompare(w, inst)
	case op2 == 0b0100:
		return decodeCondSelect(w, inst)
	case op2 == 0b0110:
		if bit(w, 30) {
			return decodeDP1(w, inst)
		}
		return decodeDP2(w, inst)
	case op2&0b1000 != 0:
		return decodeDP3(w, inst)
	}
	return false
}

var logicalOps = [8]Opcode{AND, BIC, ORR, ORN, EOR, EON, ANDS, BICS}

// sf opc 01010 shift N Rm imm6 Rn Rd.
func decodeLogicalShifted(w uint32, inst *Instruction) bool {
	sf := bit(w, 31)
	imm6 := field(w, 15, 10)
	if !sf && imm6 >= 32 {
		return false
	}
	rdN, rnN, rmN := field(w, 4, 0), field(w, 9, 5), field(w, 20, 16)
	shift := ShiftKind(field(w, 23, 22))
	rm := ShiftedOperand(gp(rmN, sf), shift, uint8(imm6))
	op := logicalOps[field(w, 30, 29)<<1|field(w, 21, 21)]
	rd, rn := reg(gp(rdN, sf)), reg(gp(rnN, sf))

	switch {
	case op == ORR && rnN == 31 && shift == LSLShift && imm6 == 0:
		return inst.set(MOV, rd, reg(gp(rmN, sf)))
	case op == ORN && rnN == 31:
		return inst.set(MVN, rd, rm)
	case op == ANDS && rdN == 31:
		return inst.set(TST, rn, rm)
	}
	return inst.set(op, rd, rn, rm)
}

// sf op S 01011 shift 0 Rm imm6 Rn Rd.
func decodeAddSubShifted(w uint32, inst *Instruction) bool {
	sf, sub, setFlags := bit(w, 31), bit(w, 30), bit(w, 29)
	shift := ShiftKind(field(w, 23, 22))
	imm6 := field(w, 15, 10)
	if shift == RORShift || (!sf && imm6 >= 32) {
		return false
	}
	rdN, rnN := field(w, 4, 0), field(w, 9, 5)
	rm := ShiftedOperand(gp(field(w, 20, 16), sf), shift, uint8(imm6))
	rd, rn := reg(gp(rdN, sf)), reg(gp(rnN, sf))

	switch {
	case setFlags && rdN == 31 && sub:
		return inst.set(CMP, rn, rm)
	case setFlags && rdN == 31:
		return inst.set(CMN, rn, rm)
	case sub && rnN == 31 && setFlags:
		return inst.set(NEGS, rd, rm)
	case sub && rnN == 31:
		return inst.set(NEG, rd, rm)
	}
	return inst.set(addSubOp(sub, setFlags), rd, rn, rm)
}

func addSubOp(sub, setFlags bool) Opcode {
	switch {
	case sub && setFlags:
		return SUBS
	case sub:
		return SUB
	case setFlags:
		return ADDS
	}
	return ADD
}

// sf op S 01011 opt 1 Rm option imm3 Rn Rd.
func decodeAddSubExtended(w uint32, inst *Instruction) bool {
	sf, sub, setFlags := bit(w, 31), bit(w, 30), bit(w, 29)
	imm3 := field(w, 12, 10)
	if field(w, 23, 22) != 0 || imm3 > 4 {
		return false
	}
	option := field(w, 15, 13)
	rdN := field(w, 4, 0)
	rm := ExtendedOperand(gp(field(w, 20, 16), option&0b011 == 0b011), ExtendKind(option), uint8(imm3))
	rn := reg(gpSP(field(w, 9, 5), sf))
	if setFlags && rdN == 31 {
		if sub {
			return inst.set(CMP, rn, rm)
		}
		return inst.set(CMN, rn, rm)
	}
	rd := reg(gpSP(rdN, sf))
	if setFlags {
		rd = reg(gp(rdN, sf))
	}
	return inst.set(addSubOp(sub, setFlags), rd, rn, rm)
}

// sf op S 11010000 Rm 000000 Rn Rd.
func decodeAddSubCarry(w uint32, inst *Instruction) bool {
	sf := bit(w, 31)
	ops := [4]Opcode{ADC, ADCS, SBC, SBCS}
	rd, rn, rm := gp(field(w, 4, 0), sf), gp(field(w, 9, 5), sf), gp(field(w, 20, 16), sf)
	return inst.set(ops[field(w, 30, 29)], reg(rd), reg(rn), reg(rm))
}

// sf op 1 11010010 Rm|imm5 cond i o2 Rn o3 nzcv.
func decodeCondCompare(w uint32, inst *Instruction) bool {
	if !bit(w, 29) || bit(w, 10) || bit(w, 4) {
		return false
	}
	sf := bit(w, 31)
	op := CCMN
	if bit(w, 30) {
		op = CCMP
	}
	rn := reg(gp(field(w, 9, 5), sf))
	second := reg(gp(field(w, 20, 16), sf))
	if bit(w, 11) {
		second = ImmOperand(int64(field(w, 20, 16)))
	}
	nzcv := ImmOperand(int64(field(w, 3, 0)))
	return inst.setCond(op, Condition(field(w, 15, 12)), rn, second, nzcv)
}

// sf op 0 11010100 Rm cond op2 Rn Rd.
func decodeCondSelect(w uint32, inst *Instruction) bool {
	op2 := field(w, 11, 10)
	if bit(w, 29) || op2 > 1 {
		return false
	}
	sf := bit(w, 31)
	rdN, rnN, rmN := field(w, 4, 0), field(w, 9, 5), field(w, 20, 16)
	cond := Condition(field(w, 15, 12))
	rd, rn, rm := reg(gp(rdN, sf)), reg(gp(rnN, sf)), reg(gp(rmN, sf))
	invertible := cond != AL && cond != NV

	switch field(w, 30, 30)<<1 | op2 {
	case 0b00:
		return inst.setCond(CSEL, cond, rd, rn, rm)
	case 0b01:
		switch {
		case invertible && rnN == 31 && rmN == 31:
			return inst.setCond(CSET, cond.Invert(), rd)
		case invertible && rnN == rmN:
			return inst.setCond(CINC, cond.Invert(), rd, rn)
		}
		return inst.setCond(CSINC, cond, rd, rn, rm)
	case 0b10:
		if invertible && rnN == 31 && rmN == 31 {
			return inst.setCond(CSETM, cond.Invert(), rd)
		}
		return inst.setCond(CSINV, cond, rd, rn, rm)
	default:
		return inst.setCond(CSNEG, cond, rd, rn, rm)
	}
}

var dp2Ops = map[uint32]Opcode{
	0b000010: UDIV,
	0b000011: SDIV,
	0b001000: LSLV,
	0b001001: LSRV,
	0b001010: ASRV,
	0b001011: RORV,
	0b010000: CRC32B,
	0b010001: CRC32H,
	0b010010: CRC32W,
	0b010011: CRC32X,
	0b010100: CRC32CB,
	0b010101: CRC32CH,
	0b010110: CRC32CW,
	0b010111: CRC32CX,
}

// sf 0 S 11010110 Rm opcode Rn Rd.
func decodeDP2(w uint32, inst *Instruction) bool {
	if bit(w, 29) {
		return false
	}
	op, ok := dp2Ops[field(w, 15, 10)]
	if !ok {
		return false
	}
	sf := bit(w, 31)
	rd, rn, rm := gp(field(w, 4, 0), sf), gp(field(w, 9, 5), sf), gp(field(w, 20, 16), sf)
	if crc, isX := crcWidth(op); crc {
		// CRC32 accumulates in W registers; only the X forms take a 64-bit
		// source and they require sf.
		if sf != isX {
			return false
		}
		rd, rn, rm = rd.As(Word), rn.As(Word), rm.As(pickWidth(isX))
	}
	return inst.set(op, reg(rd), reg(rn), reg(rm))
}

// crcWidth reports a CRC32 opcode and whether it reads a 64-bit source.
func crcWidth(op Opcode) (crc, isX bool) {
	switch op {
	case CRC32B, CRC32H, CRC32W, CRC32CB, CRC32CH, CRC32CW:
		return true, false
	case CRC32X, CRC32CX:
		return true, true
	}
	return false, false
}

func pickWidth(x bool) Width {
	if x {
		return Double
	}
	return Word
}

// sf 1 S 11010110 opcode2 opcode Rn Rd.
func decodeDP1(w uint32, inst *Instruction) bool {
	if bit(w, 29) || field(w, 20, 16) != 0 {
		return false
	}
	sf := bit(w, 31)
	var op Opcode
	switch field(w, 15, 10) {
	case 0b000000:
		op = RBIT
	case 0b000001:
		op = REV16
	case 0b000010:
		op = REV
		if sf {
			op = REV32
		}
	case 0b000011:
		if !sf {
			return false
		}
		op = REV
	case 0b000100:
		op = CLZ
	case 0b000101:
		op = CLS
	default:
		return false
	}
	return inst.set(op, reg(gp(field(w, 4, 0), sf)), reg(gp(field(w, 9, 5), sf)))
}

// sf op54 11011 op31 Rm o0 Ra Rn Rd.
func decodeDP3(w uint32, inst *Instruction) bool {
	if field(w, 30, 29) != 0 {
		return false
	}
	sf := bit(w, 31)
	o0 := bit(w, 15)
	rdN, rnN, rmN, raN := field(w, 4, 0), field(w, 9, 5), field(w, 20, 16), field(w, 14, 10)

	switch op31 := field(w, 23, 21); op31 {
	case 0b000:
		rd, rn, rm := reg(gp(rdN, sf)), reg(gp(rnN, sf)), reg(gp(rmN, sf))
		switch {
		case !o0 && raN == 31:
			return inst.set(MUL, rd, rn, rm)
		case !o0:
			return inst.set(MADD, rd, rn, rm, reg(gp(raN, sf)))
		case raN == 31:
			return inst.set(MNEG, rd, rn, rm)
		default:
			return inst.set(MSUB, rd, rn, rm, reg(gp(raN, sf)))
		}
	case 0b001, 0b101:
		if !sf {
			return false
		}
		signed := op31 == 0b001
		rd, rn, rm := reg(X(uint8(rdN))), reg(W(uint8(rnN))), reg(W(uint8(rmN)))
		switch {
		case !o0 && raN == 31:
			return inst.set(pick(signed, SMULL, UMULL), rd, rn, rm)
		case !o0:
			return inst.set(pick(signed, SMADDL, UMADDL), rd, rn, rm, reg(X(uint8(raN))))
		default:
			return inst.set(pick(signed, SMSUBL, UMSUBL), rd, rn, rm, reg(X(uint8(raN))))
		}
	case 0b010, 0b110:
		// Ra is should-be-one and ignored.
		if !sf || o0 {
			return false
		}
		rd, rn, rm := reg(X(uint8(rdN))), reg(X(uint8(rnN))), reg(X(uint8(rmN)))
		return inst.set(pick(op31 == 0b010, SMULH, UMULH), rd, rn, rm)
	}
	return false
}

func pick(cond bool, a, b Opcode) Opcode {
	if cond {
		return a
	}
	return b
}
