package analysis

import (
	"context"
	"fmt"

	"armrecover/internal/arm64"
	"armrecover/internal/memory"
)

// PrologueKind names a recognized function entry sequence.
type PrologueKind string

const (
	PrologueNone         PrologueKind = ""
	PrologueSTPFramePair PrologueKind = "stp-frame-pair"
	PrologueSTPOnly      PrologueKind = "stp-only"
	PrologueSTRLR        PrologueKind = "str-lr-preindex"
	PrologueSubSP        PrologueKind = "sub-sp"
)

// isEntryHint reports the hints compilers place ahead of a prologue.
func isEntryHint(op arm64.Opcode) bool {
	switch op {
	case arm64.PACIASP, arm64.PACIBSP, arm64.BTI:
		return true
	}
	return false
}

// isStackPush reports stp <r1>, <r2>, [sp, #-N]!.
func isStackPush(inst arm64.Instruction) bool {
	if inst.Op != arm64.STP {
		return false
	}
	m, ok := inst.Memory()
	return ok && m.Base == arm64.SP && m.PreIndex && m.Offset < 0
}

// isFrameSetup reports mov x29, sp and add x29, sp, #imm.
func isFrameSetup(inst arm64.Instruction) bool {
	rd, ok := inst.Arg(0).Register()
	if !ok || rd != arm64.FP {
		return false
	}
	rn, _ := inst.Arg(1).Register()
	switch inst.Op {
	case arm64.MOV:
		return rn == arm64.SP
	case arm64.ADD:
		return rn == arm64.SP && inst.Arg(2).Kind == arm64.KindImmediate
	}
	return false
}

// isStackAlloc reports sub sp, sp, #imm with a non-zero immediate.
func isStackAlloc(inst arm64.Instruction) bool {
	if inst.Op != arm64.SUB || inst.Arg(2).Kind != arm64.KindImmediate {
		return false
	}
	rd, _ := inst.Arg(0).Register()
	rn, _ := inst.Arg(1).Register()
	return rd == arm64.SP && rn == arm64.SP && inst.Arg(2).Value() > 0
}

// isLRPush reports str x30, [sp, #-N]!.
func isLRPush(inst arm64.Instruction) bool {
	if inst.Op != arm64.STR {
		return false
	}
	rt, _ := inst.Arg(0).Register()
	m, ok := inst.Memory()
	return ok && rt == arm64.LR && m.Base == arm64.SP && m.PreIndex && m.Offset < 0
}

// ClassifyPrologue inspects a window of one or two instructions. A single
// leading PACIASP/PACIBSP/BTI hint is skipped first.
func ClassifyPrologue(insts []arm64.Instruction) (PrologueKind, bool) {
	if len(insts) > 1 && isEntryHint(insts[0].Op) {
		insts = insts[1:]
	}
	if len(insts) == 0 {
		return PrologueNone, false
	}
	first := insts[0]
	switch {
	case isStackPush(first):
		if len(insts) > 1 && isFrameSetup(insts[1]) {
			return PrologueSTPFramePair, true
		}
		return PrologueSTPOnly, true
	case isStackAlloc(first):
		return PrologueSubSP, true
	case isLRPush(first):
		return PrologueSTRLR, true
	}
	return PrologueNone, false
}

// IsFunctionPrologue reports whether the window starts a function frame.
func IsFunctionPrologue(insts []arm64.Instruction) bool {
	_, ok := ClassifyPrologue(insts)
	return ok
}

// IsFunctionEpilogue reports a window ending in a return, or in an
// unconditional branch right after a pair load (a tail call).
func IsFunctionEpilogue(insts []arm64.Instruction) bool {
	n := len(insts)
	if n == 0 {
		return false
	}
	last := insts[n-1]
	if last.IsReturn() {
		return true
	}
	return last.Op == arm64.B && n > 1 && insts[n-2].Op == arm64.LDP
}

// decodeWindow decodes up to n instructions from addr, stopping early at
// the first unreadable word. An unreadable first word is an error.
func decodeWindow(src memory.Source, addr memory.Address, n int) ([]arm64.Instruction, error) {
	out := make([]arm64.Instruction, 0, n)
	for i := range n {
		inst, err := arm64.DecodeAt(src, addr.Add(uint64(i*arm64.InstructionSize)))
		if err != nil {
			if i == 0 {
				return nil, err
			}
			break
		}
		out = append(out, inst)
	}
	return out, nil
}

// FindFunctionStart walks backwards from addr, at most maxBack
// instructions, until it meets a prologue or the return that ends the
// previous function. It returns false when neither is found or a read
// fails.
func FindFunctionStart(src memory.Source, addr memory.Address, maxBack int) (memory.Address, bool) {
	cur := addr.AlignDown(arm64.InstructionSize)
	for range maxBack {
		window, err := decodeWindow(src, cur, prologueWindow)
		if err != nil {
			return 0, false
		}
		if IsFunctionPrologue(window) {
			return cur, true
		}
		if cur != addr.AlignDown(arm64.InstructionSize) && window[0].IsReturn() {
			return window[0].Next(), true
		}
		if cur < arm64.InstructionSize {
			break
		}
		cur = cur.Sub(arm64.InstructionSize)
	}
	return 0, false
}

// ScanPrologues reports every prologue in region as a heuristic Finding.
// A stack allocation only counts when the previous instruction ends a
// function or is unreadable.
func ScanPrologues(ctx context.Context, src memory.Source, region memory.Region, opts ScanOptions) ([]Finding, error) {
	start := region.Start.AlignUp(arm64.InstructionSize)
	return scanWindows(ctx, start, region.End, opts, func(ctx context.Context, ws, we memory.Address) ([]Finding, error) {
		return prologuesIn(src, region, ws, we)
	})
}

func prologuesIn(src memory.Source, region memory.Region, ws, we memory.Address) ([]Finding, error) {
	// one word of lookbehind, two of lookahead
	lo := ws
	if ws >= region.Start.Add(arm64.InstructionSize) {
		lo = ws.Sub(arm64.InstructionSize)
	}
	hi := min(we.Add(2*arm64.InstructionSize), region.End)
	data, err := src.ReadBytes(lo, int(hi-lo))
	if err != nil {
		return nil, fmt.Errorf("read prologue window: %w", err)
	}
	insts := arm64.DecodeStream(data, lo)

	var out []Finding
	for i, inst := range insts {
		if inst.Address < ws || inst.Address >= we {
			continue
		}
		kind, ok := ClassifyPrologue(insts[i:min(i+prologueWindow, len(insts))])
		if !ok {
			continue
		}
		if kind == PrologueSubSP && i > 0 && !endsFunction(insts[i-1]) {
			continue
		}
		if i > 0 && isEntryHint(insts[i-1].Op) {
			// reported at the hint
			continue
		}
		f := NewFinding(FunctionName(inst.Address), inst.Address, MethodHeuristic, CategoryFunction)
		f.Signature = string(kind)
		out = append(out, f)
	}
	return out, nil
}

// endsFunction reports instructions after which a new function may begin.
func endsFunction(inst arm64.Instruction) bool {
	return inst.IsReturn() || inst.Op == arm64.B || inst.Op == arm64.BR ||
		inst.IsTrap() || inst.Op == arm64.NOP || !inst.IsValid()
}
