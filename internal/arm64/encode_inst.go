package arm64

import "fmt"

// Encode encodes inst with the default rejecting Encoder.
func Encode(inst Instruction) (uint32, error) { return Encoder{}.Encode(inst) }

// Encode re-encodes a decoded (or hand-built) instruction. PC-relative
// operands are taken as offsets, so inst.Address does not matter.
// Shapes outside the supported set return ErrUnsupported.
func (e Encoder) Encode(inst Instruction) (uint32, error) {
	a := inst.Args
	shape := func(kinds ...OperandKind) bool {
		if len(a) != len(kinds) {
			return false
		}
		for i, k := range kinds {
			if a[i].Kind != k {
				return false
			}
		}
		return true
	}
	const (
		R  = KindRegister
		I  = KindImmediate
		P  = KindPCRel
		M  = KindMemory
		SR = KindShifted
		ER = KindExtended
		C  = KindCondition
	)

	switch op := inst.Op; {
	case op == B && shape(P):
		return e.branchImm(false, a[0].Imm)
	case op == BL && shape(P):
		return e.branchImm(true, a[0].Imm)
	case op == BCond && shape(C, P):
		return e.bcond(a[0].Cond, a[1].Imm)
	case op == BCond && shape(P) && inst.HasCond:
		return e.bcond(inst.Cond, a[0].Imm)
	case (op == CBZ || op == CBNZ) && shape(R, P):
		return e.compareBranch(op == CBNZ, a[0].Reg, a[1].Imm)
	case (op == TBZ || op == TBNZ) && shape(R, I, P):
		return e.testBranch(op == TBNZ, a[0].Reg, a[1].Imm, a[2].Imm)
	case op == BR && shape(R):
		return e.BR(a[0].Reg)
	case op == BLR && shape(R):
		return e.BLR(a[0].Reg)
	case op == RET && shape(R):
		return e.RET(a[0].Reg)
	case op == RET && shape():
		return e.RET(LR)
	case op == RETAA && shape():
		return 0xd65f0bff, nil
	case op == RETAB && shape():
		return 0xd65f0fff, nil
	case op == ADR && shape(R, P):
		return e.pcRel(false, a[0].Reg, a[1].Imm)
	case op == ADRP && shape(R, P):
		return e.pcRel(true, a[0].Reg, a[1].Imm)

	case (op == ADD || op == ADDS || op == SUB || op == SUBS) && shape(R, R, I):
		return e.addSubImmOperand(op == SUB || op == SUBS, op == ADDS || op == SUBS, a[0].Reg, a[1].Reg, a[2])
	case (op == CMP || op == CMN) && shape(R, I):
		return e.addSubImmOperand(op == CMP, true, XZR.As(a[0].Reg.Width), a[0].Reg, a[1])
	case (op == ADD || op == ADDS || op == SUB || op == SUBS) && shape(R, R, SR):
		return e.addSubShifted(op == SUB || op == SUBS, op == ADDS || op == SUBS, a[0].Reg, a[1].Reg, a[2].Reg, a[2].Shift, int64(a[2].Amount))
	case (op == CMP || op == CMN) && shape(R, SR):
		return e.addSubShifted(op == CMP, true, XZR.As(a[0].Reg.Width), a[0].Reg, a[1].Reg, a[1].Shift, int64(a[1].Amount))
	case (op == NEG || op == NEGS) && shape(R, SR):
		return e.addSubShifted(true, op == NEGS, a[0].Reg, XZR.As(a[0].Reg.Width), a[1].Reg, a[1].Shift, int64(a[1].Amount))
	case (op == ADD || op == ADDS || op == SUB || op == SUBS) && shape(R, R, ER):
		return e.addSubExtended(op == SUB || op == SUBS, op == ADDS || op == SUBS, a[0].Reg, a[1].Reg, a[2].Reg, a[2].Extend, int64(a[2].Amount))
	case (op == CMP || op == CMN) && shape(R, ER):
		return e.addSubExtended(op == CMP, true, XZR.As(a[0].Reg.Width), a[0].Reg, a[1].Reg, a[1].Extend, int64(a[1].Amount))

	case op == MOV && shape(R, R):
		return e.Mov(a[0].Reg, a[1].Reg)
	case op == MOV && shape(R, I):
		return e.LogicalImm(ORR, a[0].Reg, XZR.As(a[0].Reg.Width), uint64(a[1].Imm))
	case op == MVN && shape(R, SR):
		return e.Logical(ORN, a[0].Reg, XZR.As(a[0].Reg.Width), a[1].Reg, a[1].Shift, int64(a[1].Amount))
	case op == TST && shape(R, SR):
		return e.Logical(ANDS, XZR.As(a[0].Reg.Width), a[0].Reg, a[1].Reg, a[1].Shift, int64(a[1].Amount))
	case op == TST && shape(R, I):
		return e.LogicalImm(ANDS, XZR.As(a[0].Reg.Width), a[0].Reg, uint64(a[1].Imm))
	case isShiftedLogical(op) && shape(R, R, SR):
		return e.Logical(op, a[0].Reg, a[1].Reg, a[2].Reg, a[2].Shift, int64(a[2].Amount))
	case (op == AND || op == ORR || op == EOR || op == ANDS) && shape(R, R, I):
		return e.LogicalImm(op, a[0].Reg, a[1].Reg, uint64(a[2].Imm))

	case (op == MOVZ || op == MOVN || op == MOVK) && shape(R, I):
		opc := map[Opcode]uint32{MOVN: 0b00, MOVZ: 0b10, MOVK: 0b11}[op]
		return e.moveWide(opc, a[0].Reg, a[1].Imm, int64(a[1].Amount))
	case (op == LSL || op == LSR || op == ASR) && shape(R, R, I):
		return e.ShiftImm(op, a[0].Reg, a[1].Reg, a[2].Imm)
	case (op == SXTB || op == SXTH || op == SXTW || op == UXTB || op == UXTH) && shape(R, R):
		return e.Extend(op, a[0].Reg, a[1].Reg)
	case (op == SBFM || op == BFM || op == UBFM) && shape(R, R, I, I):
		opc := map[Opcode]uint32{SBFM: 0b00, BFM: 0b01, UBFM: 0b10}[op]
		return e.bitfield(opc, a[0].Reg, a[1].Reg, a[2].Imm, a[3].Imm)

	case op == CSEL && shape(R, R, R) && inst.HasCond:
		return e.condSelect(0, 0, a[0].Reg, a[1].Reg, a[2].Reg, inst.Cond)
	case op == CSINC && shape(R, R, R) && inst.HasCond:
		return e.condSelect(0, 1, a[0].Reg, a[1].Reg, a[2].Reg, inst.Cond)
	case op == CSINV && shape(R, R, R) && inst.HasCond:
		return e.condSelect(1, 0, a[0].Reg, a[1].Reg, a[2].Reg, inst.Cond)
	case op == CSNEG && shape(R, R, R) && inst.HasCond:
		return e.condSelect(1, 1, a[0].Reg, a[1].Reg, a[2].Reg, inst.Cond)
	case op == CSET && shape(R) && inst.HasCond:
		return e.CSet(a[0].Reg, inst.Cond)
	case op == CSETM && shape(R) && inst.HasCond:
		zr := XZR.As(a[0].Reg.Width)
		return e.condSelect(1, 0, a[0].Reg, zr, zr, inst.Cond.Invert())
	case op == CINC && shape(R, R) && inst.HasCond:
		return e.condSelect(0, 1, a[0].Reg, a[1].Reg, a[1].Reg, inst.Cond.Invert())
	case op == MUL && shape(R, R, R):
		return e.Mul(a[0].Reg, a[1].Reg, a[2].Reg)
	case op == MNEG && shape(R, R, R):
		return e.dp3(0, 1, a[0].Reg, a[1].Reg, a[2].Reg, XZR.As(a[0].Reg.Width))
	case op == MADD && shape(R, R, R, R):
		return e.Madd(a[0].Reg, a[1].Reg, a[2].Reg, a[3].Reg)
	case op == MSUB && shape(R, R, R, R):
		return e.dp3(0, 1, a[0].Reg, a[1].Reg, a[2].Reg, a[3].Reg)
	case dp2Fields[op] != 0 && shape(R, R, R):
		return e.dp2(dp2Fields[op], a[0].Reg, a[1].Reg, a[2].Reg)

	case (op == LDR || op == LDRSW) && shape(R, P):
		return e.LoadLiteral(op, a[0].Reg, a[1].Imm)
	case op == PRFM && shape(I, M):
		return e.prefetch(a[0].Imm, a[1].Mem)
	case op.IsLoadStore() && !op.IsPair() && shape(R, M):
		return e.LoadStore(op, a[0].Reg, a[1].Mem)
	case op.IsPair() && shape(R, R, M):
		return e.Pair(op, a[0].Reg, a[1].Reg, a[2].Mem)

	case op == NOP && shape():
		return NOPWord, nil
	case hintFields[op] != 0 && shape():
		return e.hint(int64(hintFields[op]))
	case op == HINT && shape(I):
		return e.hint(a[0].Imm)
	case op == BTI && shape(I):
		return e.hint(0b0100_000 | a[0].Imm<<1)
	case op == DSB && shape(I):
		return e.barrier(0b100, a[0].Imm)
	case op == DMB && shape(I):
		return e.barrier(0b101, a[0].Imm)
	case op == ISB && shape(I):
		return e.barrier(0b110, a[0].Imm)
	case op == CLREX && shape(I):
		return e.barrier(0b010, a[0].Imm)
	case op == BRK && shape(I):
		return e.BRK(a[0].Imm)
	case op == SVC && shape(I):
		return e.SVC(a[0].Imm)
	case op == HVC && shape(I):
		return e.exception(0b000, 0b10, a[0].Imm)
	case op == SMC && shape(I):
		return e.exception(0b000, 0b11, a[0].Imm)
	case op == HLT && shape(I):
		return e.HLT(a[0].Imm)
	}
	return 0, fmt.Errorf("%w: %s", ErrUnsupported, inst)
}

func (e Encoder) addSubImmOperand(sub, setFlags bool, rd, rn Register, imm Operand) (uint32, error) {
	switch imm.Amount {
	case 0:
		return e.addSubImm(sub, setFlags, rd, rn, imm.Imm, false)
	case 12:
		return e.addSubImm(sub, setFlags, rd, rn, imm.Imm, true)
	}
	return 0, &RangeError{Field: "add/sub shift", Value: int64(imm.Amount), Min: 0, Max: 12}
}

func isShiftedLogical(op Opcode) bool {
	_, ok := logicalFields[op]
	return ok
}

var dp2Fields = map[Opcode]uint32{
	UDIV: 0b000010, SDIV: 0b000011,
	LSLV: 0b001000, LSRV: 0b001001, ASRV: 0b001010, RORV: 0b001011,
}

// hintFields is the CRm:op2 value of each named hint, NOP excluded.
var hintFields = func() map[Opcode]uint32 {
	m := make(map[Opcode]uint32, len(hintOps))
	for v, op := range hintOps {
		if op != NOP {
			m[op] = v
		}
	}
	return m
}()
