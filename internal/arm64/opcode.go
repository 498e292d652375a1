package arm64

// Opcode identifies a decoded operation. Aliases the assembler prefers
// (MOV, CMP, LSL, CSET, ...) are distinct opcodes so listings read like
// objdump output; classification is per opcode either way.
type Opcode uint16

const (
	Undefined Opcode = iota

	// data processing, immediate
	ADR
	ADRP
	ADD
	ADDS
	SUB
	SUBS
	CMP
	CMN
	MOV
	AND
	ANDS
	ORR
	EOR
	TST
	MOVN
	MOVZ
	MOVK
	SBFM
	BFM
	UBFM
	ASR
	LSL
	LSR
	ROR
	SXTB
	SXTH
	SXTW
	UXTB
	UXTH
	EXTR

	// data processing, register
	NEG
	NEGS
	MVN
	BIC
	BICS
	ORN
	EON
	ADC
	ADCS
	SBC
	SBCS
	CCMN
	CCMP
	CSEL
	CSINC
	CSINV
	CSNEG
	CSET
	CSETM
	CINC
	MADD
	MSUB
	MUL
	MNEG
	SMADDL
	SMSUBL
	SMULL
	UMADDL
	UMSUBL
	UMULL
	SMULH
	UMULH
	UDIV
	SDIV
	LSLV
	LSRV
	ASRV
	RORV
	RBIT
	REV16
	REV32
	REV
	CLZ
	CLS
	CRC32B
	CRC32H
	CRC32W
	CRC32X
	CRC32CB
	CRC32CH
	CRC32CW
	CRC32CX

	// branches, exceptions, system
	B
	BL
	BCond
	BR
	BLR
	RET
	RETAA
	RETAB
	ERET
	CBZ
	CBNZ
	TBZ
	TBNZ
	SVC
	HVC
	SMC
	BRK
	HLT
	NOP
	YIELD
	WFE
	WFI
	SEV
	SEVL
	PACIASP
	PACIBSP
	AUTIASP
	AUTIBSP
	BTI
	HINT
	CLREX
	DSB
	DMB
	ISB
	MSR
	MRS
	SYS

	// loads and stores
	LDR
	LDRB
	LDRH
	LDRSB
	LDRSH
	LDRSW
	STR
	STRB
	STRH
	LDUR
	LDURB
	LDURH
	LDURSB
	LDURSH
	LDURSW
	STUR
	STURB
	STURH
	LDTR
	LDTRB
	LDTRH
	LDTRSB
	LDTRSH
	LDTRSW
	STTR
	STTRB
	STTRH
	LDP
	STP
	LDPSW
	LDNP
	STNP
	LDXR
	LDXRB
	LDXRH
	STXR
	STXRB
	STXRH
	LDAXR
	LDAXRB
	LDAXRH
	STLXR
	STLXRB
	STLXRH
	LDAR
	LDARB
	LDARH
	STLR
	STLRB
	STLRH
	LDXP
	LDAXP
	STXP
	STLXP
	PRFM

	// floating point
	FMOV
	FADD
	FSUB
	FMUL
	FDIV
	FABS
	FNEG
	FSQRT
	FCVT
	FCMP
	FCMPE
	SCVTF
	UCVTF
	FCVTZS
	FCVTZU

	// SIMD covers every vector instruction that is not modelled individually.
	SIMD

	numOpcodes
)

type attr uint32

const (
	attrBranch attr = 1 << iota
	attrCall
	attrReturn
	attrCondBranch
	attrLoad
	attrStore
	attrArith
	attrLogical
	attrCompare
	attrMove
	attrSystem
	attrTrap
	attrFloat
	attrSetsFlags
	attrReadsFlags
	attrPair
	attrIndirect
	attrConditional
)

type opInfo struct {
	name string
	attr attr
}

var opTable = [numOpcodes]opInfo{
	Undefined: {"undefined", 0},

	ADR:  {"adr", attrArith},
	ADRP: {"adrp", attrArith},
	ADD:  {"add", attrArith},
	ADDS: {"adds", attrArith | attrSetsFlags},
	SUB:  {"sub", attrArith},
	SUBS: {"subs", attrArith | attrSetsFlags},
	CMP:  {"cmp", attrArith | attrCompare | attrSetsFlags},
	CMN:  {"cmn", attrArith | attrCompare | attrSetsFlags},
	MOV:  {"mov", attrMove},
	AND:  {"and", attrLogical},
	ANDS: {"ands", attrLogical | attrSetsFlags},
	ORR:  {"orr", attrLogical},
	EOR:  {"eor", attrLogical},
	TST:  {"tst", attrLogical | attrCompare | attrSetsFlags},
	MOVN: {"movn", attrMove},
	MOVZ: {"movz", attrMove},
	MOVK: {"movk", attrMove},
	SBFM: {"sbfm", attrLogical},
	BFM:  {"bfm", attrLogical},
	UBFM: {"ubfm", attrLogical},
	ASR:  {"asr", attrLogical},
	LSL:  {"lsl", attrLogical},
	LSR:  {"lsr", attrLogical},
	ROR:  {"ror", attrLogical},
	SXTB: {"sxtb", attrMove},
	SXTH: {"sxth", attrMove},
	SXTW: {"sxtw", attrMove},
	UXTB: {"uxtb", attrMove},
	UXTH: {"uxth", attrMove},
	EXTR: {"extr", attrLogical},

	NEG:    {"neg", attrArith},
	NEGS:   {"negs", attrArith | attrSetsFlags},
	MVN:    {"mvn", attrMove | attrLogical},
	BIC:    {"bic", attrLogical},
	BICS:   {"bics", attrLogical | attrSetsFlags},
	ORN:    {"orn", attrLogical},
	EON:    {"eon", attrLogical},
	ADC:    {"adc", attrArith | attrReadsFlags},
	ADCS:   {"adcs", attrArith | attrReadsFlags | attrSetsFlags},
	SBC:    {"sbc", attrArith | attrReadsFlags},
	SBCS:   {"sbcs", attrArith | attrReadsFlags | attrSetsFlags},
	CCMN:   {"ccmn", attrCompare | attrReadsFlags | attrSetsFlags | attrConditional},
	CCMP:   {"ccmp", attrCompare | attrReadsFlags | attrSetsFlags | attrConditional},
	CSEL:   {"csel", attrMove | attrReadsFlags | attrConditional},
	CSINC:  {"csinc", attrArith | attrReadsFlags | attrConditional},
	CSINV:  {"csinv", attrLogical | attrReadsFlags | attrConditional},
	CSNEG:  {"csneg", attrArith | attrReadsFlags | attrConditional},
	CSET:   {"cset", attrMove | attrReadsFlags | attrConditional},
	CSETM:  {"csetm", attrMove | attrReadsFlags | attrConditional},
	CINC:   {"cinc", attrArith | attrReadsFlags | attrConditional},
	MADD:   {"madd", attrArith},
	MSUB:   {"msub", attrArith},
	MUL:    {"mul", attrArith},
	MNEG:   {"mneg", attrArith},
	SMADDL: {"smaddl", attrArith},
	SMSUBL: {"smsubl", attrArith},
	SMULL:  {"smull", attrArith},
	UMADDL: {"umaddl", attrArith},
	UMSUBL: {"umsubl", attrArith},
	UMULL:  {"umull", attrArith},
	SMULH:  {"smulh", attrArith},
	UMULH:  {"umulh", attrArith},
	UDIV:   {"udiv", attrArith},
	SDIV:   {"sdiv", attrArith},
	LSLV:   {"lslv", attrLogical},
	LSRV:   {"lsrv", attrLogical},
	ASRV:   {"asrv", attrLogical},
	RORV:   {"rorv", attrLogical},
	RBIT:   {"rbit", attrLogical},
	REV16:  {"rev16", attrLogical},
	REV32:  {"rev32", attrLogical},
	REV:    {"rev", attrLogical},
	CLZ:    {"clz", attrArith},
	CLS:    {"cls", attrArith},

	CRC32B:  {"crc32b", attrArith},
	CRC32H:  {"crc32h", attrArith},
	CRC32W:  {"crc32w", attrArith},
	CRC32X:  {"crc32x", attrArith},
	CRC32CB: {"crc32cb", attrArith},
	CRC32CH: {"crc32ch", attrArith},
	CRC32CW: {"crc32cw", attrArith},
	CRC32CX: {"crc32cx", attrArith},

	B:       {"b", attrBranch},
	BL:      {"bl", attrBranch | attrCall},
	BCond:   {"b.", attrBranch | attrCondBranch | attrReadsFlags},
	BR:      {"br", attrBranch | attrIndirect},
	BLR:     {"blr", attrBranch | attrCall | attrIndirect},
	RET:     {"ret", attrBranch | attrReturn | attrIndirect},
	RETAA:   {"retaa", attrBranch | attrReturn | attrIndirect},
	RETAB:   {"retab", attrBranch | attrReturn | attrIndirect},
	ERET:    {"eret", attrBranch | attrReturn | attrSystem},
	CBZ:     {"cbz", attrBranch | attrCondBranch | attrCompare},
	CBNZ:    {"cbnz", attrBranch | attrCondBranch | attrCompare},
	TBZ:     {"tbz", attrBranch | attrCondBranch | attrCompare},
	TBNZ:    {"tbnz", attrBranch | attrCondBranch | attrCompare},
	SVC:     {"svc", attrSystem | attrTrap},
	HVC:     {"hvc", attrSystem | attrTrap},
	SMC:     {"smc", attrSystem | attrTrap},
	BRK:     {"brk", attrTrap},
	HLT:     {"hlt", attrTrap},
	NOP:     {"nop", attrSystem},
	YIELD:   {"yield", attrSystem},
	WFE:     {"wfe", attrSystem},
	WFI:     {"wfi", attrSystem},
	SEV:     {"sev", attrSystem},
	SEVL:    {"sevl", attrSystem},
	PACIASP: {"paciasp", attrSystem},
	PACIBSP: {"pacibsp", attrSystem},
	AUTIASP: {"autiasp", attrSystem},
	AUTIBSP: {"autibsp", attrSystem},
	BTI:     {"bti", attrSystem},
	HINT:    {"hint", attrSystem},
	CLREX:   {"clrex", attrSystem},
	DSB:     {"dsb", attrSystem},
	DMB:     {"dmb", attrSystem},
	ISB:     {"isb", attrSystem},
	MSR:     {"msr", attrSystem | attrSetsFlags},
	MRS:     {"mrs", attrSystem | attrReadsFlags},
	SYS:     {"sys", attrSystem},

	LDR:    {"ldr", attrLoad},
	LDRB:   {"ldrb", attrLoad},
	LDRH:   {"ldrh", attrLoad},
	LDRSB:  {"ldrsb", attrLoad},
	LDRSH:  {"ldrsh", attrLoad},
	LDRSW:  {"ldrsw", attrLoad},
	STR:    {"str", attrStore},
	STRB:   {"strb", attrStore},
	STRH:   {"strh", attrStore},
	LDUR:   {"ldur", attrLoad},
	LDURB:  {"ldurb", attrLoad},
	LDURH:  {"ldurh", attrLoad},
	LDURSB: {"ldursb", attrLoad},
	LDURSH: {"ldursh", attrLoad},
	LDURSW: {"ldursw", attrLoad},
	STUR:   {"stur", attrStore},
	STURB:  {"sturb", attrStore},
	STURH:  {"sturh", attrStore},
	LDTR:   {"ldtr", attrLoad},
	LDTRB:  {"ldtrb", attrLoad},
	LDTRH:  {"ldtrh", attrLoad},
	LDTRSB: {"ldtrsb", attrLoad},
	LDTRSH: {"ldtrsh", attrLoad},
	LDTRSW: {"ldtrsw", attrLoad},
	STTR:   {"sttr", attrStore},
	STTRB:  {"sttrb", attrStore},
	STTRH:  {"sttrh", attrStore},
	LDP:    {"ldp", attrLoad | attrPair},
	STP:    {"stp", attrStore | attrPair},
	LDPSW:  {"ldpsw", attrLoad | attrPair},
	LDNP:   {"ldnp", attrLoad | attrPair},
	STNP:   {"stnp", attrStore | attrPair},
	LDXR:   {"ldxr", attrLoad},
	LDXRB:  {"ldxrb", attrLoad},
	LDXRH:  {"ldxrh", attrLoad},
	STXR:   {"stxr", attrStore},
	STXRB:  {"stxrb", attrStore},
	STXRH:  {"stxrh", attrStore},
	LDAXR:  {"ldaxr", attrLoad},
	LDAXRB: {"ldaxrb", attrLoad},
	LDAXRH: {"ldaxrh", attrLoad},
	STLXR:  {"stlxr", attrStore},
	STLXRB: {"stlxrb", attrStore},
	STLXRH: {"stlxrh", attrStore},
	LDAR:   {"ldar", attrLoad},
	LDARB:  {"ldarb", attrLoad},
	LDARH:  {"ldarh", attrLoad},
	STLR:   {"stlr", attrStore},
	STLRB:  {"stlrb", attrStore},
	STLRH:  {"stlrh", attrStore},
	LDXP:   {"ldxp", attrLoad | attrPair},
	LDAXP:  {"ldaxp", attrLoad | attrPair},
	STXP:   {"stxp", attrStore | attrPair},
	STLXP:  {"stlxp", attrStore | attrPair},
	PRFM:   {"prfm", attrLoad},

	FMOV:   {"fmov", attrFloat | attrMove},
	FADD:   {"fadd", attrFloat | attrArith},
	FSUB:   {"fsub", attrFloat | attrArith},
	FMUL:   {"fmul", attrFloat | attrArith},
	FDIV:   {"fdiv", attrFloat | attrArith},
	FABS:   {"fabs", attrFloat | attrArith},
	FNEG:   {"fneg", attrFloat | attrArith},
	FSQRT:  {"fsqrt", attrFloat | attrArith},
	FCVT:   {"fcvt", attrFloat},
	FCMP:   {"fcmp", attrFloat | attrCompare | attrSetsFlags},
	FCMPE:  {"fcmpe", attrFloat | attrCompare | attrSetsFlags},
	SCVTF:  {"scvtf", attrFloat},
	UCVTF:  {"ucvtf", attrFloat},
	FCVTZS: {"fcvtzs", attrFloat},
	FCVTZU: {"fcvtzu", attrFloat},

	SIMD: {"simd", attrFloat},
}

func (op Opcode) info() opInfo {
	if op >= numOpcodes {
		return opTable[Undefined]
	}
	return opTable[op]
}

func (op Opcode) has(a attr) bool { return op.info().attr&a != 0 }

// Mnemonic returns the assembler mnemonic. BCond returns "b." and is
// completed with the condition by Instruction.String.
func (op Opcode) Mnemonic() string { return op.info().name }

func (op Opcode) String() string { return op.Mnemonic() }

func (op Opcode) IsBranch() bool            { return op.has(attrBranch) }
func (op Opcode) IsCall() bool              { return op.has(attrCall) }
func (op Opcode) IsReturn() bool            { return op.has(attrReturn) }
func (op Opcode) IsConditionalBranch() bool { return op.has(attrCondBranch) }
func (op Opcode) IsIndirect() bool          { return op.has(attrIndirect) }
func (op Opcode) IsLoad() bool              { return op.has(attrLoad) }
func (op Opcode) IsStore() bool             { return op.has(attrStore) }
func (op Opcode) IsLoadStore() bool         { return op.has(attrLoad | attrStore) }
func (op Opcode) IsPair() bool              { return op.has(attrPair) }
func (op Opcode) IsArithmetic() bool        { return op.has(attrArith) }
func (op Opcode) IsLogical() bool           { return op.has(attrLogical) }
func (op Opcode) IsCompare() bool           { return op.has(attrCompare) }
func (op Opcode) IsMove() bool              { return op.has(attrMove) }
func (op Opcode) IsSystem() bool            { return op.has(attrSystem) }
func (op Opcode) IsTrap() bool              { return op.has(attrTrap) }
func (op Opcode) IsFloat() bool             { return op.has(attrFloat) }
func (op Opcode) SetsFlags() bool           { return op.has(attrSetsFlags) }
func (op Opcode) ReadsFlags() bool          { return op.has(attrReadsFlags) }

// writesStatus reports the store-exclusive forms, whose first operand is
// the status register they write.
func (op Opcode) writesStatus() bool {
	switch op {
	case STXR, STXRB, STXRH, STLXR, STLXRB, STLXRH, STXP, STLXP:
		return true
	}
	return false
}

// IsConditional reports opcodes whose effect depends on a condition code
// or a register test.
func (op Opcode) IsConditional() bool { return op.has(attrCondBranch | attrConditional) }

// IsUnconditionalBranch reports B, BR and the returns.
func (op Opcode) IsUnconditionalBranch() bool {
	return op.IsBranch() && !op.IsCall() && !op.IsConditionalBranch()
}
