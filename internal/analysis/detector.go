package analysis

import (
	"context"
	"fmt"

	"armrecover/internal/arm64"
	"armrecover/internal/memory"
	"armrecover/internal/signature"
	"armrecover/internal/xref"
)

// Detector adds findings of one kind. It receives the findings gathered so
// far and returns them with its own appended; existing entries are never
// modified.
type Detector interface {
	Name() string
	Detect(ctx context.Context, s *Session, findings []Finding) ([]Finding, error)
}

// DetectorChain runs multiple detectors in sequence
type DetectorChain struct {
	detectors []Detector
}

// NewDetectorChain creates a new detector chain
func NewDetectorChain(detectors ...Detector) *DetectorChain {
	return &DetectorChain{
		detectors: detectors,
	}
}

// DefaultChain runs every built-in detector.
func DefaultChain() *DetectorChain {
	return NewDetectorChain(
		PrologueDetector{},
		&SignatureFinder{},
		CallTargetDetector{},
		VTableDetector{},
	)
}

// Detect runs all detectors in sequence. A failing detector is logged and
// skipped; cancellation stops the chain.
func (dc *DetectorChain) Detect(ctx context.Context, s *Session, findings []Finding) ([]Finding, error) {
	result := findings
	for _, d := range dc.detectors {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		out, err := d.Detect(ctx, s, result)
		if err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			s.Logger().Warn("detector failed", "detector", d.Name(), "err", err)
			continue
		}
		s.Logger().Debug("detector done", "detector", d.Name(), "added", len(out)-len(result))
		result = out
	}
	return result, nil
}

// PrologueDetector reports structural prologues in executable regions.
type PrologueDetector struct{}

func (PrologueDetector) Name() string { return "prologue" }

func (PrologueDetector) Detect(ctx context.Context, s *Session, findings []Finding) ([]Finding, error) {
	for _, r := range memory.ExecutableRegions(s.Source()) {
		found, err := ScanPrologues(ctx, s.Source(), r, s.ScanOptions())
		if err != nil {
			return findings, err
		}
		findings = append(findings, found...)
	}
	return findings, nil
}

// SignatureFinder reports matches of named byte patterns whose start is a
// prologue. With no patterns set it uses the built-in prologue idioms plus
// the configured signatures.
type SignatureFinder struct {
	Patterns *signature.Set
}

func (*SignatureFinder) Name() string { return "signature" }

func (f *SignatureFinder) patterns(s *Session) (*signature.Set, error) {
	if f.Patterns != nil {
		return f.Patterns, nil
	}
	set, err := s.Config().Patterns()
	if err != nil {
		return nil, err
	}
	for _, p := range []signature.Pattern{
		signature.Prologue, signature.PrologueSaveRegs,
		signature.PACPrologue, signature.BTIPrologue,
	} {
		set.Add(p)
	}
	return set, nil
}

func (f *SignatureFinder) Detect(ctx context.Context, s *Session, findings []Finding) ([]Finding, error) {
	set, err := f.patterns(s)
	if err != nil {
		return findings, err
	}
	opts := signature.ScanOptions{
		Window:     s.Config().Scan.Window,
		Workers:    s.Config().Scan.Workers,
		MaxMatches: s.Config().Scan.MaxCandidates,
		Logger:     s.Logger(),
	}
	seen := make(map[memory.Address]bool)
	for _, r := range memory.ExecutableRegions(s.Source()) {
		for _, p := range set.Patterns() {
			addrs, stats, err := signature.ScanSource(ctx, s.Source(), r.Start, r.End, p, opts)
			if err != nil {
				return findings, fmt.Errorf("pattern %s: %w", p.Name, err)
			}
			if stats.Skipped > 0 {
				s.Logger().Debug("pattern windows skipped", "pattern", p.Name, "skipped", stats.Skipped)
			}
			for _, addr := range addrs {
				if seen[addr] || !addr.IsAligned(arm64.InstructionSize) {
					continue
				}
				window, err := s.Window(addr, prologueWindow)
				if err != nil || !IsFunctionPrologue(window) || s.afterEntryHint(addr) {
					continue
				}
				seen[addr] = true
				fd := NewFinding(FunctionName(addr), addr, MethodPattern, CategoryFunction)
				fd.Signature = p.String()
				findings = append(findings, fd)
			}
		}
	}
	return findings, nil
}

// CallTargetDetector reports BL targets that begin with a prologue. A call
// site and a frame setup agreeing on one address is cross-referenced
// evidence, so these carry the table tier.
type CallTargetDetector struct{}

func (CallTargetDetector) Name() string { return "call-target" }

func (CallTargetDetector) Detect(ctx context.Context, s *Session, findings []Finding) ([]Finding, error) {
	src := s.Source()
	for _, r := range memory.ExecutableRegions(src) {
		start := r.Start.AlignUp(arm64.InstructionSize)
		found, err := scanWindows(ctx, start, r.End, s.ScanOptions(), func(ctx context.Context, ws, we memory.Address) ([]Finding, error) {
			data, err := src.ReadBytes(ws, int(we-ws))
			if err != nil {
				return nil, err
			}
			var out []Finding
			seen := make(map[memory.Address]bool)
			for _, inst := range arm64.DecodeStream(data, ws) {
				if inst.Op != arm64.BL {
					continue
				}
				t, ok := xref.Resolve([]arm64.Instruction{inst})
				if !ok || seen[t.Address] || !memory.IsExecutable(src, t.Address) {
					continue
				}
				seen[t.Address] = true
				window, err := s.Window(t.Address, prologueWindow)
				if err != nil || !IsFunctionPrologue(window) {
					continue
				}
				out = append(out, NewFinding(FunctionName(t.Address), t.Address, MethodTable, CategoryFunction))
			}
			return out, nil
		})
		if err != nil {
			return findings, err
		}
		findings = append(findings, found...)
	}
	return findings, nil
}

// VTableDetector scans non-executable data regions for virtual tables.
type VTableDetector struct{}

func (VTableDetector) Name() string { return "vtable" }

func (VTableDetector) Detect(ctx context.Context, s *Session, findings []Finding) ([]Finding, error) {
	for _, r := range s.Source().Regions() {
		if !r.IsData() {
			continue
		}
		found, err := s.VTables().Scan(ctx, r.Start, r.End, s.ScanOptions())
		if err != nil {
			return findings, err
		}
		findings = append(findings, found...)
	}
	return findings, nil
}

// afterEntryHint reports a prologue whose function starts at the hint
// just before it.
func (s *Session) afterEntryHint(addr memory.Address) bool {
	if addr < arm64.InstructionSize {
		return false
	}
	prev, err := s.Instruction(addr.Sub(arm64.InstructionSize))
	return err == nil && isEntryHint(prev.Op)
}
