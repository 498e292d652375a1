package arm64

// decodeSIMD handles op0 = x111. Only scalar floating point is modelled;
// every other vector encoding becomes the opaque SIMD opcode.
func decodeSIMD(w uint32, inst *Instruction) bool {
	if w&0x7f20fc00 == 0x1e200000 {
		if decodeFPConvert(w, inst) {
			return true
		}
	} else if w&0xff200000 == 0x1e200000 {
		if width, ok := fpWidth(field(w, 23, 22)); ok && decodeFPScalar(w, width, inst) {
			return true
		}
	}
	return inst.set(SIMD, ImmOperand(int64(w)))
}

func fpWidth(ftype uint32) (Width, bool) {
	switch ftype {
	case 0b00:
		return Word, true
	case 0b01:
		return Double, true
	case 0b11:
		return Half, true
	}
	return 0, false
}

var fp2Ops = [4]Opcode{FMUL, FDIV, FADD, FSUB}

func decodeFPScalar(w uint32, width Width, inst *Instruction) bool {
	rd, rn, rm := V(uint8(field(w, 4, 0)), width), V(uint8(field(w, 9, 5)), width), V(uint8(field(w, 20, 16)), width)
	switch {
	case w&0x0c00 == 0x0800:
		opcode := field(w, 15, 12)
		if opcode > 3 {
			return false
		}
		return inst.set(fp2Ops[opcode], reg(rd), reg(rn), reg(rm))
	case w&0x7c00 == 0x4000:
		opcode := field(w, 20, 15)
		switch opcode {
		case 0b000000:
			return inst.set(FMOV, reg(rd), reg(rn))
		case 0b000001:
			return inst.set(FABS, reg(rd), reg(rn))
		case 0b000010:
			return inst.set(FNEG, reg(rd), reg(rn))
		case 0b000011:
			return inst.set(FSQRT, reg(rd), reg(rn))
		}
		if opcode>>2 == 0b0001 {
			to, ok := fpWidth(opcode & 0b11)
			if !ok || to == width {
				return false
			}
			return inst.set(FCVT, reg(rd.As(to)), reg(rn))
		}
		return false
	case w&0xfc00 == 0x2000:
		op := FCMP
		if bit(w, 4) {
			op = FCMPE
		}
		switch field(w, 4, 0) &^ 0b10000 {
		case 0b00000:
			return inst.set(op, reg(rn), reg(rm))
		case 0b01000:
			return inst.set(op, reg(rn), ImmOperand(0))
		}
		return false
	case w&0x1fe0 == 0x1000:
		return inst.set(FMOV, reg(rd), ImmOperand(int64(field(w, 20, 13))))
	}
	return false
}

// sf 0 0 11110 ftype 1 rmode opcode 000000 Rn Rd.
func decodeFPConvert(w uint32, inst *Instruction) bool {
	sf := bit(w, 31)
	width, ok := fpWidth(field(w, 23, 22))
	if !ok {
		return false
	}
	rdN, rnN := field(w, 4, 0), field(w, 9, 5)
	switch field(w, 20, 19)<<3 | field(w, 18, 16) {
	case 0b00_010:
		return inst.set(SCVTF, reg(V(uint8(rdN), width)), reg(gp(rnN, sf)))
	case 0b00_011:
		return inst.set(UCVTF, reg(V(uint8(rdN), width)), reg(gp(rnN, sf)))
	case 0b11_000:
		return inst.set(FCVTZS, reg(gp(rdN, sf)), reg(V(uint8(rnN), width)))
	case 0b11_001:
		return inst.set(FCVTZU, reg(gp(rdN, sf)), reg(V(uint8(rnN), width)))
	case 0b00_110, 0b00_111:
		if (sf && width != Double) || (!sf && width != Word) {
			return false
		}
		if bit(w, 16) {
			return inst.set(FMOV, reg(V(uint8(rdN), width)), reg(gp(rnN, sf)))
		}
		return inst.set(FMOV, reg(gp(rdN, sf)), reg(V(uint8(rnN), width)))
	}
	return false
}
