package arm64

// decodeBranch handles op0 = 101x: branches, exception generation and
// system instructions.
func decodeBranch(w uint32, inst *Instruction) bool {
	switch {
	case w&0xfe000000 == 0x54000000:
		return decodeCondBranch(w, inst)
	case w&0xff000000 == 0xd4000000:
		return decodeException(w, inst)
	case w&0xffc00000 == 0xd5000000:
		return decodeSystem(w, inst)
	case w&0xfe000000 == 0xd6000000:
		return decodeBranchReg(w, inst)
	case w&0x7c000000 == 0x14000000:
		off := signExtend(field(w, 25, 0), 26) * 4
		if bit(w, 31) {
			return inst.set(BL, PCRelOperand(off))
		}
		return inst.set(B, PCRelOperand(off))
	case w&0x7e000000 == 0x34000000:
		sf := bit(w, 31)
		rt := reg(gp(field(w, 4, 0), sf))
		off := PCRelOperand(signExtend(field(w, 23, 5), 19) * 4)
		if bit(w, 24) {
			return inst.set(CBNZ, rt, off)
		}
		return inst.set(CBZ, rt, off)
	case w&0x7e000000 == 0x36000000:
		b5 := field(w, 31, 31)
		rt := reg(gp(field(w, 4, 0), b5 == 1))
		pos := ImmOperand(int64(b5<<5 | field(w, 23, 19)))
		off := PCRelOperand(signExtend(field(w, 18, 5), 14) * 4)
		if bit(w, 24) {
			return inst.set(TBNZ, rt, pos, off)
		}
		return inst.set(TBZ, rt, pos, off)
	}
	return false
}

// 0101010 o1 imm19 o0 cond.
func decodeCondBranch(w uint32, inst *Instruction) bool {
	if bit(w, 24) || bit(w, 4) {
		return false
	}
	off := signExtend(field(w, 23, 5), 19) * 4
	c := Condition(field(w, 3, 0))
	return inst.setCond(BCond, c, CondOperand(c), PCRelOperand(off))
}

// 11010100 opc imm16 op2 LL.
func decodeException(w uint32, inst *Instruction) bool {
	if field(w, 4, 2) != 0 {
		return false
	}
	imm := ImmOperand(int64(field(w, 20, 5)))
	switch field(w, 23, 21)<<2 | field(w, 1, 0) {
	case 0b000_01:
		return inst.set(SVC, imm)
	case 0b000_10:
		return inst.set(HVC, imm)
	case 0b000_11:
		return inst.set(SMC, imm)
	case 0b001_00:
		return inst.set(BRK, imm)
	case 0b010_00:
		return inst.set(HLT, imm)
	}
	return false
}

var hintOps = map[uint32]Opcode{
	0b0000_000: NOP,
	0b0000_001: YIELD,
	0b0000_010: WFE,
	0b0000_011: WFI,
	0b0000_100: SEV,
	0b0000_101: SEVL,
	0b0011_001: PACIASP,
	0b0011_011: PACIBSP,
	0b0011_101: AUTIASP,
	0b0011_111: AUTIBSP,
}

// 1101010100 L op0 op1 CRn CRm op2 Rt.
func decodeSystem(w uint32, inst *Instruction) bool {
	l := bit(w, 21)
	op0, op1 := field(w, 20, 19), field(w, 18, 16)
	crn, crm, op2 := field(w, 15, 12), field(w, 11, 8), field(w, 7, 5)
	rt := field(w, 4, 0)

	switch {
	case !l && op0 == 0 && op1 == 0b011 && crn == 0b0010 && rt == 31:
		hint := crm<<3 | op2
		if op, ok := hintOps[hint]; ok {
			return inst.set(op)
		}
		if crm == 0b0100 && op2&1 == 0 {
			return inst.set(BTI, ImmOperand(int64(op2>>1)))
		}
		return inst.set(HINT, ImmOperand(int64(hint)))
	case !l && op0 == 0 && op1 == 0b011 && crn == 0b0011 && rt == 31:
		switch op2 {
		case 0b010:
			return inst.set(CLREX, ImmOperand(int64(crm)))
		case 0b100:
			return inst.set(DSB, ImmOperand(int64(crm)))
		case 0b101:
			return inst.set(DMB, ImmOperand(int64(crm)))
		case 0b110:
			return inst.set(ISB, ImmOperand(int64(crm)))
		}
		return false
	case !l && op0 == 0 && crn == 0b0100 && rt == 31:
		return inst.set(MSR, ImmOperand(int64(op1<<3|op2)), ImmOperand(int64(crm)))
	case op0 == 0b01 && !l:
		enc := op1<<11 | crn<<7 | crm<<3 | op2
		return inst.set(SYS, ImmOperand(int64(enc)), reg(X(uint8(rt))))
	case op0 >= 0b10:
		sysreg := ImmOperand(int64(op0<<14 | op1<<11 | crn<<7 | crm<<3 | op2))
		if l {
			return inst.set(MRS, reg(X(uint8(rt))), sysreg)
		}
		return inst.set(MSR, sysreg, reg(X(uint8(rt))))
	}
	return false
}

// 1101011 opc op2 op3 Rn op4.
func decodeBranchReg(w uint32, inst *Instruction) bool {
	if field(w, 20, 16) != 0b11111 {
		return false
	}
	opc, op3, rn, op4 := field(w, 24, 21), field(w, 15, 10), field(w, 9, 5), field(w, 4, 0)
	if op3 == 0 && op4 == 0 {
		r := reg(X(uint8(rn)))
		switch opc {
		case 0b0000:
			return inst.set(BR, r)
		case 0b0001:
			return inst.set(BLR, r)
		case 0b0010:
			return inst.set(RET, r)
		case 0b0100:
			if rn == 31 {
				return inst.set(ERET)
			}
		}
		return false
	}
	if opc == 0b0010 && rn == 31 && op4 == 31 {
		switch op3 {
		case 0b000010:
			return inst.set(RETAA)
		case 0b000011:
			return inst.set(RETAB)
		}
	}
	return false
}
