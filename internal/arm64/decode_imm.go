package arm64

// decodeDataImm handles op0 = 100x. bits [25:23] pick the family.
func decodeDataImm(w uint32, inst *Instruction) bool {
	switch field(w, 25, 23) {
	case 0b000, 0b001:
		return decodePCRel(w, inst)
	case 0b010:
		return decodeAddSubImm(w, inst)
	case 0b100:
		return decodeLogicalImm(w, inst)
	case 0b101:
		return decodeMoveWide(w, inst)
	case 0b110:
		return decodeBitfield(w, inst)
	case 0b111:
		return decodeExtract(w, inst)
	}
	return false
}

// ADR / ADRP: op immlo(2) 10000 immhi(19) Rd.
func decodePCRel(w uint32, inst *Instruction) bool {
	imm := signExtend(field(w, 23, 5)<<2|field(w, 30, 29), 21)
	rd := reg(X(uint8(field(w, 4, 0))))
	if bit(w, 31) {
		return inst.set(ADRP, rd, PCRelOperand(imm<<12))
	}
	return inst.set(ADR, rd, PCRelOperand(imm))
}

// sf op S 100010 sh imm12 Rn Rd.
func decodeAddSubImm(w uint32, inst *Instruction) bool {
	sf, sub, setFlags := bit(w, 31), bit(w, 30), bit(w, 29)
	imm := ShiftedImmOperand(int64(field(w, 21, 10)), uint8(field(w, 22, 22)*12))
	rdN, rnN := field(w, 4, 0), field(w, 9, 5)
	rn := reg(gpSP(rnN, sf))

	if setFlags {
		if rdN == 31 {
			if sub {
				return inst.set(CMP, rn, imm)
			}
			return inst.set(CMN, rn, imm)
		}
		rd := reg(gp(rdN, sf))
		if sub {
			return inst.set(SUBS, rd, rn, imm)
		}
		return inst.set(ADDS, rd, rn, imm)
	}
	rd := reg(gpSP(rdN, sf))
	if !sub && imm.Imm == 0 && imm.Amount == 0 && (rdN == 31 || rnN == 31) {
		return inst.set(MOV, rd, rn)
	}
	if sub {
		return inst.set(SUB, rd, rn, imm)
	}
	return inst.set(ADD, rd, rn, imm)
}

// sf opc 100100 N immr imms Rn Rd.
func decodeLogicalImm(w uint32, inst *Instruction) bool {
	sf := bit(w, 31)
	mask, ok := decodeBitMask(field(w, 22, 22), field(w, 21, 16), field(w, 15, 10), sf)
	if !ok {
		return false
	}
	imm := ImmOperand(int64(mask))
	rdN, rnN := field(w, 4, 0), field(w, 9, 5)
	rn := reg(gp(rnN, sf))
	switch field(w, 30, 29) {
	case 0b00:
		return inst.set(AND, reg(gpSP(rdN, sf)), rn, imm)
	case 0b01:
		if rnN == 31 {
			return inst.set(MOV, reg(gpSP(rdN, sf)), imm)
		}
		return inst.set(ORR, reg(gpSP(rdN, sf)), rn, imm)
	case 0b10:
		return inst.set(EOR, reg(gpSP(rdN, sf)), rn, imm)
	default:
		if rdN == 31 {
			return inst.set(TST, rn, imm)
		}
		return inst.set(ANDS, reg(gp(rdN, sf)), rn, imm)
	}
}

// sf opc 100101 hw imm16 Rd.
func decodeMoveWide(w uint32, inst *Instruction) bool {
	sf := bit(w, 31)
	hw := field(w, 22, 21)
	if !sf && hw >= 2 {
		return false
	}
	rd := reg(gp(field(w, 4, 0), sf))
	imm := ShiftedImmOperand(int64(field(w, 20, 5)), uint8(hw*16))
	switch field(w, 30, 29) {
	case 0b00:
		return inst.set(MOVN, rd, imm)
	case 0b10:
		return inst.set(MOVZ, rd, imm)
	case 0b11:
		return inst.set(MOVK, rd, imm)
	}
	return false
}

// sf opc 100110 N immr imms Rn Rd.
func decodeBitfield(w uint32, inst *Instruction) bool {
	sf := bit(w, 31)
	n := bit(w, 22)
	immr, imms := field(w, 21, 16), field(w, 15, 10)
	if sf != n {
		return false
	}
	regSize := uint32(32)
	if sf {
		regSize = 64
	}
	if immr >= regSize || imms >= regSize {
		return false
	}
	rd, rn := reg(gp(field(w, 4, 0), sf)), reg(gp(field(w, 9, 5), sf))
	rnW := reg(gp(field(w, 9, 5), false))
	full := func(op Opcode) bool {
		return inst.set(op, rd, rn, ImmOperand(int64(immr)), ImmOperand(int64(imms)))
	}

	switch field(w, 30, 29) {
	case 0b00: // SBFM
		switch {
		case imms == regSize-1:
			return inst.set(ASR, rd, rn, ImmOperand(int64(immr)))
		case immr == 0 && imms == 7:
			return inst.set(SXTB, rd, rnW)
		case immr == 0 && imms == 15:
			return inst.set(SXTH, rd, rnW)
		case immr == 0 && imms == 31 && sf:
			return inst.set(SXTW, rd, rnW)
		}
		return full(SBFM)
	case 0b01:
		return full(BFM)
	case 0b10: // UBFM
		switch {
		case imms == regSize-1:
			return inst.set(LSR, rd, rn, ImmOperand(int64(immr)))
		case imms+1 == immr:
			return inst.set(LSL, rd, rn, ImmOperand(int64(regSize-1-imms)))
		case immr == 0 && imms == 7 && !sf:
			return inst.set(UXTB, rd, rnW)
		case immr == 0 && imms == 15 && !sf:
			return inst.set(UXTH, rd, rnW)
		}
		return full(UBFM)
	}
	return false
}

// sf op21 100111 N o0 Rm imms Rn Rd.
func decodeExtract(w uint32, inst *Instruction) bool {
	sf := bit(w, 31)
	if field(w, 30, 29) != 0 || bit(w, 21) || bit(w, 22) != sf {
		return false
	}
	imms := field(w, 15, 10)
	if !sf && imms >= 32 {
		return false
	}
	rdN, rnN, rmN := field(w, 4, 0), field(w, 9, 5), field(w, 20, 16)
	rd, rn := reg(gp(rdN, sf)), reg(gp(rnN, sf))
	if rnN == rmN {
		return inst.set(ROR, rd, rn, ImmOperand(int64(imms)))
	}
	return inst.set(EXTR, rd, rn, reg(gp(rmN, sf)), ImmOperand(int64(imms)))
}
