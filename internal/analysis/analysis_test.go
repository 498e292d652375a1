package analysis

import (
	"context"
	"errors"
	"testing"

	"armrecover/internal/arm64"
	"armrecover/internal/config"
	"armrecover/internal/memory"
)

func TestIsFunctionPrologueBytes(t *testing.T) {
	tests := []struct {
		name string
		code []byte
		want bool
	}{
		{"stp pre-index", []byte{0xfd, 0x7b, 0xbf, 0xa9}, true},
		{"stp positive offset", []byte{0xfd, 0x7b, 0x81, 0xa9}, false},
		{"nop", []byte{0x1f, 0x20, 0x03, 0xd5}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			insts := arm64.DecodeStream(tt.code, 0x1000)
			if got := IsFunctionPrologue(insts); got != tt.want {
				t.Errorf("IsFunctionPrologue() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClassifyPrologue(t *testing.T) {
	e := arm64.Encoder{}
	w := func(word uint32, err error) uint32 {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
		return word
	}
	push := w(e.Pair(arm64.STP, arm64.FP, arm64.LR, arm64.PreIndexed(arm64.SP, -32)))
	frame := w(e.Mov(arm64.FP, arm64.SP))
	tests := []struct {
		name  string
		words []uint32
		want  PrologueKind
	}{
		{"frame pair", []uint32{push, frame}, PrologueSTPFramePair},
		{"stp only", []uint32{push, arm64.NOPWord}, PrologueSTPOnly},
		{"add frame", []uint32{push, w(e.AddImm(arm64.FP, arm64.SP, 16))}, PrologueSTPFramePair},
		{"sub sp", []uint32{w(e.SubImm(arm64.SP, arm64.SP, 64))}, PrologueSubSP},
		{"str lr", []uint32{w(e.LoadStore(arm64.STR, arm64.LR, arm64.PreIndexed(arm64.SP, -16)))}, PrologueSTRLR},
		{"paciasp then pair", []uint32{paciasp, push, frame}, PrologueSTPFramePair},
		{"lone hint", []uint32{paciasp}, PrologueNone},
		{"sub zero", []uint32{w(e.SubImm(arm64.SP, arm64.SP, 0))}, PrologueNone},
		{"str lr no writeback", []uint32{w(e.LoadStore(arm64.STR, arm64.LR, arm64.BaseOffset(arm64.SP, 8)))}, PrologueNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			insts := make([]arm64.Instruction, len(tt.words))
			for i, word := range tt.words {
				insts[i] = arm64.Decode(word, memory.Address(0x4000+4*i))
			}
			got, ok := ClassifyPrologue(insts)
			if got != tt.want || ok != (tt.want != PrologueNone) {
				t.Errorf("ClassifyPrologue() = %q, %v; want %q", got, ok, tt.want)
			}
		})
	}
}

func TestIsFunctionEpilogue(t *testing.T) {
	e := arm64.Encoder{}
	ret, _ := e.RET(arm64.LR)
	pop, _ := e.Pair(arm64.LDP, arm64.FP, arm64.LR, arm64.PostIndexed(arm64.SP, 16))
	tail, _ := e.B(0x1008, 0x2000)
	decode := func(words ...uint32) []arm64.Instruction {
		out := make([]arm64.Instruction, len(words))
		for i, word := range words {
			out[i] = arm64.Decode(word, memory.Address(0x1000+4*i))
		}
		return out
	}
	if !IsFunctionEpilogue(decode(pop, ret)) {
		t.Error("ldp; ret not an epilogue")
	}
	if !IsFunctionEpilogue(decode(arm64.NOPWord, pop, tail)) {
		t.Error("ldp; b not a tail call epilogue")
	}
	if IsFunctionEpilogue(decode(arm64.NOPWord, tail)) {
		t.Error("nop; b treated as epilogue")
	}
	if IsFunctionEpilogue(nil) {
		t.Error("empty window treated as epilogue")
	}
}

func TestFindFunctionStart(t *testing.T) {
	src := newImage(t).source()
	tests := []struct {
		name string
		from memory.Address
		want memory.Address
		ok   bool
	}{
		{"inside frame function", fnFrame + 16, fnFrame, true},
		{"at prologue", fnAlloc, fnAlloc, true},
		{"leaf after return", fnLeaf + 4, fnLeaf, true},
		{"unaligned", fnAlloc + 6, fnAlloc, true},
		{"unmapped", 0x50000, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := FindFunctionStart(src, tt.from, DefaultMaxBack)
			if ok != tt.ok || got != tt.want {
				t.Errorf("FindFunctionStart(%s) = %s, %v; want %s, %v", tt.from, got, ok, tt.want, tt.ok)
			}
		})
	}

	if _, ok := FindFunctionStart(src, fnFrame+16, 2); ok {
		t.Error("search exceeded its limit")
	}
}

func TestScanPrologues(t *testing.T) {
	src := newImage(t).source()
	region := src.Regions()[0]

	for _, window := range []int{4096, 64, 12} {
		found, err := ScanPrologues(context.Background(), src, region, ScanOptions{Window: window, Workers: 3})
		if err != nil {
			t.Fatalf("window %d: %v", window, err)
		}
		want := map[memory.Address]PrologueKind{
			fnFrame: PrologueSTPFramePair,
			fnAlloc: PrologueSubSP,
			fnPAC:   PrologueSTPFramePair,
		}
		if len(found) != len(want) {
			t.Fatalf("window %d: found %v", window, found)
		}
		for _, f := range found {
			if want[f.Address] != PrologueKind(f.Signature) {
				t.Errorf("window %d: %s kind %q", window, f.Address, f.Signature)
			}
			if f.Method != MethodHeuristic || f.Confidence != HeuristicConfidence {
				t.Errorf("window %d: %+v", window, f)
			}
		}
	}
}

func TestScanProloguesCancelled(t *testing.T) {
	src := newImage(t).source()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ScanPrologues(ctx, src, src.Regions()[0], ScanOptions{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestFuse(t *testing.T) {
	findings := []Finding{
		NewFinding("sub_100", 0x100, MethodHeuristic, CategoryFunction),
		NewFinding("sub_100", 0x100, MethodPattern, CategoryFunction),
		NewFinding("sub_200", 0x200, MethodTable, CategoryFunction),
		NewFinding("sub_200", 0x200, MethodHeuristic, CategoryFunction),
		NewFinding("vtable_80", 0x80, MethodTable, CategoryVTable),
	}
	got := Fuse(findings)
	if len(got) != 3 {
		t.Fatalf("Fuse() returned %d findings: %v", len(got), got)
	}
	want := []struct {
		name   string
		method Method
	}{
		{"vtable_80", MethodTable},
		{"sub_100", MethodPattern},
		{"sub_200", MethodTable},
	}
	for i, w := range want {
		if got[i].Name != w.name || got[i].Method != w.method {
			t.Errorf("got[%d] = %s/%s, want %s/%s", i, got[i].Name, got[i].Method, w.name, w.method)
		}
	}

	tie := Finding{Name: "x", Address: 1, Confidence: 0.8, Method: MethodHeuristic}
	stronger := Finding{Name: "x", Address: 1, Confidence: 0.8, Method: MethodPattern}
	if out := Fuse([]Finding{tie, stronger}); out[0].Method != MethodPattern {
		t.Errorf("tie resolved to %s, want pattern", out[0].Method)
	}
}

func TestSort(t *testing.T) {
	findings := []Finding{
		{Name: "b", Address: 0x20, Confidence: 0.68},
		{Name: "z", Address: 0x10, Confidence: 0.68},
		{Name: "a", Address: 0x10, Confidence: 0.68},
		{Name: "y", Address: 0x10, Confidence: 0.88},
	}
	Sort(findings)
	want := []string{"y", "a", "z", "b"}
	for i, name := range want {
		if findings[i].Name != name {
			t.Fatalf("order = %v, want %v", findings, want)
		}
	}
}

func TestConfidenceTiers(t *testing.T) {
	tests := []struct {
		method              Method
		high, medium, lower bool
	}{
		{MethodPattern, true, false, false},
		{MethodTable, false, true, false},
		{MethodHeuristic, false, false, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.method), func(t *testing.T) {
			f := NewFinding("f", 0, tt.method, CategoryFunction)
			if f.IsHigh() != tt.high || f.IsMedium() != tt.medium || f.IsLow() != tt.lower {
				t.Errorf("tiers of %.2f = %v/%v/%v", f.Confidence, f.IsHigh(), f.IsMedium(), f.IsLow())
			}
		})
	}
	if Method("other").BaseConfidence() != 0 {
		t.Error("unknown method has non-zero confidence")
	}
}

func TestDecodeTypeName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"_ZTSN7cocos2d8LuaStackE", "cocos2d::LuaStack"},
		{"N7cocos2d4NodeE", "cocos2d::Node"},
		{"_ZTS6Sprite", "Sprite"},
		{"3foo3bar", "foo::bar"},
		{"_ZTSSt9exception", "St9exception"},
		{"9short", "9short"},
		{"4abcd99x", "abcd"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := DecodeTypeName(tt.in); got != tt.want {
				t.Errorf("DecodeTypeName(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestDemangleTypeName(t *testing.T) {
	if got := demangleTypeName(className); got != "cocos2d::LuaStack" {
		t.Errorf("demangleTypeName() = %q", got)
	}
	if got := demangleTypeName("!!"); got != "" {
		t.Errorf("demangleTypeName(garbage) = %q, want empty", got)
	}
}

func TestSessionRun(t *testing.T) {
	src := newImage(t).source()
	names := StaticNames{FunctionName(fnAlloc): {Category: "allocator"}}
	s := NewSession(src, config.Default(), SessionNames(names))

	found, err := s.Run(context.Background(), DefaultChain())
	if err != nil {
		t.Fatal(err)
	}

	want := map[string]struct {
		addr     memory.Address
		method   Method
		category string
	}{
		FunctionName(fnFrame):            {fnFrame, MethodPattern, CategoryFunction},
		FunctionName(fnAlloc):            {fnAlloc, MethodTable, "allocator"},
		FunctionName(fnPAC):              {fnPAC, MethodPattern, CategoryFunction},
		"vtable for cocos2d::LuaStack":   {vtableAt, MethodTable, CategoryVTable},
		"typeinfo for cocos2d::LuaStack": {typeDesc, MethodTable, CategoryRTTI},
	}
	if len(found) != len(want) {
		t.Fatalf("Run() = %v", found)
	}
	for _, f := range found {
		w, ok := want[f.Name]
		if !ok {
			t.Errorf("unexpected finding %+v", f)
			continue
		}
		if f.Address != w.addr || f.Method != w.method || f.Category != w.category {
			t.Errorf("%s = %+v, want %+v", f.Name, f, w)
		}
		if f.Confidence != f.Method.BaseConfidence() {
			t.Errorf("%s confidence %.2f", f.Name, f.Confidence)
		}
	}
	if s.CacheLen() == 0 {
		t.Error("instruction cache unused")
	}
	s.ClearCache()
	if s.CacheLen() != 0 || s.VTables().Len() != 0 {
		t.Error("ClearCache left entries")
	}
}

type failingDetector struct{}

func (failingDetector) Name() string { return "failing" }

func (failingDetector) Detect(_ context.Context, _ *Session, f []Finding) ([]Finding, error) {
	return f, errors.New("boom")
}

func TestDetectorChainSkipsFailures(t *testing.T) {
	src := newImage(t).source()
	s := NewSession(src, config.Default())
	chain := NewDetectorChain(failingDetector{}, PrologueDetector{})
	found, err := s.Run(context.Background(), chain)
	if err != nil {
		t.Fatal(err)
	}
	if len(found) != 3 {
		t.Errorf("found %d findings after failing detector, want 3", len(found))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Run(ctx, chain); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled run err = %v", err)
	}
}
