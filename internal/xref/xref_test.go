package xref

import (
	"testing"

	"armrecover/internal/arm64"
	"armrecover/internal/memory"
)

// assemble decodes words laid out from base.
func assemble(t *testing.T, base memory.Address, words ...uint32) []arm64.Instruction {
	t.Helper()
	out := make([]arm64.Instruction, len(words))
	for i, w := range words {
		out[i] = arm64.Decode(w, base.Add(uint64(i*4)))
	}
	return out
}

func must(t *testing.T) func(uint32, error) uint32 {
	return func(w uint32, err error) uint32 {
		t.Helper()
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		return w
	}
}

func TestResolveDirect(t *testing.T) {
	enc := arm64.Encoder{}
	m := must(t)
	const pc = memory.Address(0x40000)

	tests := []struct {
		name string
		word uint32
		want Target
	}{
		{"b forward", m(enc.B(pc, 0x40100)), Target{0x40100, Branch, pc}},
		{"b backward", m(enc.B(pc, 0x3ff00)), Target{0x3ff00, Branch, pc}},
		{"bl", m(enc.BL(pc, 0x50000)), Target{0x50000, Call, pc}},
		{"b.ne", m(enc.BCond(arm64.NE, pc, 0x40020)), Target{0x40020, ConditionalBranch, pc}},
		{"cbz", m(enc.CBZ(arm64.X(3), pc, 0x3fffc)), Target{0x3fffc, CompareBranch, pc}},
		{"tbnz", m(enc.TBNZ(arm64.W(2), 5, pc, 0x40040)), Target{0x40040, TestBranch, pc}},
		{"adr", m(enc.ADR(arm64.X(1), pc, 0x40123)), Target{0x40123, PCRelative, pc}},
		{"ldr literal", m(enc.LoadLiteral(arm64.LDR, arm64.X(0), 0x80)), Target{0x40080, PCRelative, pc}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Resolve(assemble(t, pc, tt.word))
			if !ok {
				t.Fatalf("no target for %s", arm64.Decode(tt.word, pc))
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestResolvePage(t *testing.T) {
	enc := arm64.Encoder{}
	m := must(t)
	const pc = memory.Address(0x100ff8)
	adrp := m(enc.ADRP(arm64.X(0), pc, 0x2a3000))

	tests := []struct {
		name  string
		words []uint32
		want  Target
		ok    bool
	}{
		{
			name:  "adrp add",
			words: []uint32{adrp, m(enc.AddImm(arm64.X(0), arm64.X(0), 0x458))},
			want:  Target{0x2a3458, PageAdd, pc},
			ok:    true,
		},
		{
			name:  "adrp add into other register",
			words: []uint32{adrp, m(enc.AddImm(arm64.X(1), arm64.X(0), 0x10))},
			want:  Target{0x2a3010, PageAdd, pc},
			ok:    true,
		},
		{
			name:  "adrp ldr scaled",
			words: []uint32{adrp, m(enc.LoadStore(arm64.LDR, arm64.X(2), arm64.BaseOffset(arm64.X(0), 0x18)))},
			want:  Target{0x2a3018, PageLoad, pc},
			ok:    true,
		},
		{
			name:  "adrp ldrb",
			words: []uint32{adrp, m(enc.LoadStore(arm64.LDRB, arm64.W(2), arm64.BaseOffset(arm64.X(0), 7)))},
			want:  Target{0x2a3007, PageLoad, pc},
			ok:    true,
		},
		{
			name:  "register mismatch",
			words: []uint32{adrp, m(enc.AddImm(arm64.X(0), arm64.X(1), 0x458))},
		},
		{
			name:  "load base mismatch",
			words: []uint32{adrp, m(enc.LoadStore(arm64.LDR, arm64.X(0), arm64.BaseOffset(arm64.X(5), 8)))},
		},
		{
			name:  "unscaled load",
			words: []uint32{adrp, m(enc.LoadStore(arm64.LDUR, arm64.X(0), arm64.BaseOffset(arm64.X(0), -8)))},
		},
		{
			name:  "writeback load",
			words: []uint32{adrp, m(enc.LoadStore(arm64.LDR, arm64.X(1), arm64.PreIndexed(arm64.X(0), 8)))},
		},
		{
			name:  "unrelated follower",
			words: []uint32{adrp, arm64.NOPWord},
		},
		{
			name:  "missing second instruction",
			words: []uint32{adrp},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Resolve(assemble(t, pc, tt.words...))
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v (got %+v)", ok, tt.ok, got)
			}
			if ok && got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestResolvePageNotAdjacent(t *testing.T) {
	enc := arm64.Encoder{}
	m := must(t)
	const pc = memory.Address(0x8000)
	adrp := arm64.Decode(m(enc.ADRP(arm64.X(0), pc, 0x9000)), pc)
	add := arm64.Decode(m(enc.AddImm(arm64.X(0), arm64.X(0), 0x20)), pc+8)

	if got, ok := Resolve([]arm64.Instruction{adrp, add}); ok {
		t.Errorf("resolved non-adjacent pair to %+v", got)
	}
}

func TestResolveIsIdempotent(t *testing.T) {
	enc := arm64.Encoder{}
	m := must(t)
	const pc = memory.Address(0x7000)
	insts := assemble(t, pc,
		m(enc.ADRP(arm64.X(8), pc, 0x123000)),
		m(enc.AddImm(arm64.X(8), arm64.X(8), 0x9a0)),
	)
	first, ok1 := Resolve(insts)
	second, ok2 := Resolve(insts)
	if ok1 != ok2 || first != second {
		t.Errorf("Resolve not stable: %+v/%v vs %+v/%v", first, ok1, second, ok2)
	}
}

func TestResolveNoTarget(t *testing.T) {
	enc := arm64.Encoder{}
	m := must(t)
	tests := []struct {
		name string
		word uint32
	}{
		{"ret", m(enc.RET(arm64.LR))},
		{"br", m(enc.BR(arm64.X(16)))},
		{"nop", arm64.NOPWord},
		{"ldr register base", m(enc.LoadStore(arm64.LDR, arm64.X(0), arm64.BaseOffset(arm64.X(1), 8)))},
		{"undefined", 0x00000000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got, ok := Resolve(assemble(t, 0x1000, tt.word)); ok {
				t.Errorf("unexpected target %+v", got)
			}
		})
	}
	if _, ok := Resolve(nil); ok {
		t.Error("empty window resolved")
	}
}

func TestScanAndRefsTo(t *testing.T) {
	enc := arm64.Encoder{}
	m := must(t)
	const base = memory.Address(0x20000)
	insts := assemble(t, base,
		m(enc.ADRP(arm64.X(0), base, 0x31000)),
		m(enc.AddImm(arm64.X(0), arm64.X(0), 0x40)),
		m(enc.BL(base+8, 0x30000)),
		m(enc.ADRP(arm64.X(1), base+12, 0x31000)),
		m(enc.LoadStore(arm64.LDR, arm64.X(1), arm64.BaseOffset(arm64.X(1), 0x40))),
		m(enc.B(base+20, 0x30000)),
	)

	all := Scan(insts)
	if len(all) != 4 {
		t.Fatalf("Scan found %d targets, want 4: %+v", len(all), all)
	}

	refs := RefsTo(insts, 0x31040)
	if len(refs) != 2 || refs[0].Kind != PageAdd || refs[1].Kind != PageLoad {
		t.Errorf("RefsTo(0x31040) = %+v", refs)
	}
	calls := RefsTo(insts, 0x30000)
	if len(calls) != 2 || calls[0].Kind != Call || calls[1].Kind != Branch {
		t.Errorf("RefsTo(0x30000) = %+v", calls)
	}

	pages := PageRefs(insts, 0x31abc)
	if len(pages) != 2 || pages[0] != base || pages[1] != base+12 {
		t.Errorf("PageRefs = %v", pages)
	}
}

func TestPointerRefs(t *testing.T) {
	data := []byte{
		0x00, 0x10, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0xff,
		0x00, 0x10, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	}
	got := PointerRefs(data, 0x5000, 0x1000)
	want := []memory.Address{0x5000, 0x5009}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("ref %d = %s, want %s", i, got[i], want[i])
		}
	}
	if refs := PointerRefs(data[:7], 0, 0x1000); len(refs) != 0 {
		t.Errorf("short buffer matched: %v", refs)
	}
}

func TestKindString(t *testing.T) {
	if PageAdd.String() != "adrp+add" || !Call.IsCode() || PageLoad.IsCode() {
		t.Error("kind helpers")
	}
}
