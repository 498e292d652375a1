package arm64

import "strings"

// Condition is a 4-bit condition code.
type Condition uint8

const (
	EQ Condition = iota
	NE
	CS
	CC
	MI
	PL
	VS
	VC
	HI
	LS
	GE
	LT
	GT
	LE
	AL
	NV
)

// HS and LO are the unsigned-compare spellings of CS and CC.
const (
	HS = CS
	LO = CC
)

var condNames = [16]string{
	"eq", "ne", "cs", "cc", "mi", "pl", "vs", "vc",
	"hi", "ls", "ge", "lt", "gt", "le", "al", "nv",
}

// Encoding returns the 4-bit field value.
func (c Condition) Encoding() uint32 { return uint32(c) & 0xf }

// Invert returns the logical inverse (EQ<->NE, ..., AL<->NV).
// Paired codes differ only in bit 0.
func (c Condition) Invert() Condition { return c ^ 1 }

func (c Condition) String() string { return condNames[c&0xf] }

// ParseCondition accepts the 16 canonical names plus hs/lo.
func ParseCondition(s string) (Condition, bool) {
	s = strings.ToLower(s)
	switch s {
	case "hs":
		return HS, true
	case "lo":
		return LO, true
	}
	for i, n := range condNames {
		if n == s {
			return Condition(i), true
		}
	}
	return 0, false
}

// ShiftKind is the shift applied to a shifted-register or shifted-immediate operand.
type ShiftKind uint8

const (
	LSLShift ShiftKind = iota
	LSRShift
	ASRShift
	RORShift
	MSLShift
)

func (s ShiftKind) String() string {
	return [...]string{"lsl", "lsr", "asr", "ror", "msl"}[s]
}

// ExtendKind is the extension applied to an extended-register operand.
// Values match the 3-bit option field.
type ExtendKind uint8

const (
	ExtendUXTB ExtendKind = iota
	ExtendUXTH
	ExtendUXTW
	ExtendUXTX
	ExtendSXTB
	ExtendSXTH
	ExtendSXTW
	ExtendSXTX
)

func (e ExtendKind) String() string {
	return [...]string{"uxtb", "uxth", "uxtw", "uxtx", "sxtb", "sxth", "sxtw", "sxtx"}[e&7]
}
