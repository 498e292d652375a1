package analysis

import (
	"fmt"
	"slices"

	"armrecover/internal/memory"
)

// Method is the discovery path that produced a Finding.
type Method string

const (
	MethodPattern   Method = "pattern"
	MethodTable     Method = "table"
	MethodHeuristic Method = "heuristic"
)

// Base confidence per method. Detection paths never raise these.
const (
	PatternConfidence   = 0.88
	TableConfidence     = 0.80
	HeuristicConfidence = 0.68
)

// Confidence tier thresholds.
const (
	HighConfidence   = 0.85
	MediumConfidence = 0.70
)

// Finding categories.
const (
	CategoryFunction = "function"
	CategoryVTable   = "vtable"
	CategoryRTTI     = "rtti"
)

// BaseConfidence returns the fixed confidence of m, 0 for unknown methods.
func (m Method) BaseConfidence() float64 {
	switch m {
	case MethodPattern:
		return PatternConfidence
	case MethodTable:
		return TableConfidence
	case MethodHeuristic:
		return HeuristicConfidence
	}
	return 0
}

// priority orders methods for tie-breaking: pattern > table > heuristic.
func (m Method) priority() int {
	switch m {
	case MethodPattern:
		return 3
	case MethodTable:
		return 2
	case MethodHeuristic:
		return 1
	}
	return 0
}

// Finding is one recovered fact. Values are never modified after creation;
// a stronger finding for the same name is added alongside instead.
type Finding struct {
	Name       string         `json:"name"`
	Address    memory.Address `json:"address"`
	Confidence float64        `json:"confidence"`
	Method     Method         `json:"method"`
	Category   string         `json:"category"`
	Signature  string         `json:"signature,omitempty"`
}

// NewFinding builds a finding carrying m's base confidence.
func NewFinding(name string, addr memory.Address, m Method, category string) Finding {
	return Finding{Name: name, Address: addr, Confidence: m.BaseConfidence(), Method: m, Category: category}
}

// FunctionName is the synthetic name of an unnamed function at addr.
func FunctionName(addr memory.Address) string { return fmt.Sprintf("sub_%x", uint64(addr)) }

func (f Finding) IsHigh() bool   { return f.Confidence >= HighConfidence }
func (f Finding) IsMedium() bool { return f.Confidence >= MediumConfidence && f.Confidence < HighConfidence }
func (f Finding) IsLow() bool    { return f.Confidence < MediumConfidence }

// better reports whether f should replace g when both carry the same name.
func (f Finding) better(g Finding) bool {
	if f.Confidence != g.Confidence {
		return f.Confidence > g.Confidence
	}
	return f.Method.priority() > g.Method.priority()
}

// Fuse keeps one finding per name: the highest confidence, ties broken by
// method priority. The result is sorted.
func Fuse(findings []Finding) []Finding {
	best := make(map[string]int, len(findings))
	var out []Finding
	for _, f := range findings {
		i, ok := best[f.Name]
		if !ok {
			best[f.Name] = len(out)
			out = append(out, f)
			continue
		}
		if f.better(out[i]) {
			out[i] = f
		}
	}
	Sort(out)
	return out
}

// Sort orders findings by address, then by descending confidence, then by
// name so the order is total.
func Sort(findings []Finding) {
	slices.SortStableFunc(findings, func(a, b Finding) int {
		switch {
		case a.Address != b.Address:
			if a.Address < b.Address {
				return -1
			}
			return 1
		case a.Confidence != b.Confidence:
			if a.Confidence > b.Confidence {
				return -1
			}
			return 1
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		}
		return 0
	})
}
