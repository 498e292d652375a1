package analysis

import (
	"context"
	"testing"

	"armrecover/internal/config"
	"armrecover/internal/memory"
)

func TestVTableAnalyze(t *testing.T) {
	a := NewVTableAnalyzer(newImage(t).source())

	v, err := a.Analyze(vtableAt)
	if err != nil {
		t.Fatal(err)
	}
	if v == nil {
		t.Fatal("table rejected")
	}
	if v.EntryCount() != 3 {
		t.Errorf("EntryCount() = %d, want 3", v.EntryCount())
	}
	if got := v.FunctionAddresses(); got[0] != fnFrame || got[1] != fnAlloc || got[2] != fnPure {
		t.Errorf("FunctionAddresses() = %v", got)
	}
	if v.PureVirtualCount() != 1 || !v.Entries[2].PureVirtual {
		t.Errorf("pure virtual slots = %d", v.PureVirtualCount())
	}
	if v.End() != vtableAt+24 {
		t.Errorf("End() = %s", v.End())
	}
	if v.ClassName != "cocos2d::LuaStack" || v.TypeInfo != typeDesc {
		t.Errorf("class %q at %s", v.ClassName, v.TypeInfo)
	}
	if v.RTTI == nil || v.RTTI.Mangled != className || v.RTTI.Demangled != "cocos2d::LuaStack" {
		t.Errorf("RTTI = %+v", v.RTTI)
	}

	again, _ := a.Analyze(vtableAt)
	if again != v {
		t.Error("second Analyze did not hit the cache")
	}
	if target, ok := a.VirtualFunction(vtableAt, 1); !ok || target != fnAlloc {
		t.Errorf("VirtualFunction(1) = %s, %v", target, ok)
	}
	if _, ok := a.VirtualFunction(vtableAt, 3); ok {
		t.Error("VirtualFunction past the end succeeded")
	}
	if got := a.ForClass("LuaStack"); len(got) != 1 {
		t.Errorf("ForClass() = %v", got)
	}
	a.AddXref(vtableAt, 0x10040)
	a.AddXref(vtableAt, 0x10040)
	if len(v.Xrefs) != 1 {
		t.Errorf("Xrefs = %v", v.Xrefs)
	}
}

func TestVTableMinEntries(t *testing.T) {
	tests := []struct {
		name    string
		entries []memory.Address
		min     int
		want    int
	}{
		{"below minimum", []memory.Address{fnFrame}, 2, 0},
		{"exactly minimum", []memory.Address{fnFrame, fnAlloc}, 2, 2},
		{"null truncates", []memory.Address{fnFrame, fnAlloc, 0, fnPAC}, 2, 2},
		{"data pointer truncates", []memory.Address{fnFrame, typeDesc, fnAlloc}, 2, 0},
		{"unallocated word truncates", []memory.Address{fnFrame, fnAlloc, 0x10800}, 2, 2},
		{"minimum of one", []memory.Address{fnPure}, 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			im := newImage(t)
			const at = memory.Address(0x11400)
			for i, e := range tt.entries {
				im.put64(at+memory.Address(8*i), uint64(e))
			}
			a := NewVTableAnalyzer(im.source(), WithMinEntries(tt.min))
			v, err := a.Analyze(at)
			if err != nil {
				t.Fatal(err)
			}
			got := 0
			if v != nil {
				got = v.EntryCount()
			}
			if got != tt.want {
				t.Errorf("entries = %d, want %d", got, tt.want)
			}
			if v != nil && v.RTTI != nil {
				t.Errorf("unexpected RTTI %+v", v.RTTI)
			}
		})
	}
}

func TestVTableMaxEntries(t *testing.T) {
	im := newImage(t)
	const at = memory.Address(0x11400)
	for i := range 10 {
		im.put64(at+memory.Address(8*i), uint64(fnFrame))
	}
	a := NewVTableAnalyzer(im.source(), WithMaxEntries(4))
	v, err := a.Analyze(at)
	if err != nil || v == nil {
		t.Fatalf("Analyze() = %v, %v", v, err)
	}
	if v.EntryCount() != 4 {
		t.Errorf("EntryCount() = %d, want 4", v.EntryCount())
	}
}

func TestVTableAnalyzeUnmapped(t *testing.T) {
	a := NewVTableAnalyzer(newImage(t).source())
	if _, err := a.Analyze(0x90000); err == nil {
		t.Error("unmapped table start did not fail")
	}
}

func TestVTableScan(t *testing.T) {
	src := newImage(t).source()
	a := NewVTableAnalyzer(src)

	for _, window := range []int{4096, 16} {
		a.Clear()
		found, err := a.Scan(context.Background(), codeEnd, rodataEnd, ScanOptions{Window: window})
		if err != nil {
			t.Fatal(err)
		}
		if len(found) != 2 {
			t.Fatalf("window %d: Scan() = %v", window, found)
		}
		vt, ti := found[0], found[1]
		if vt.Name != "vtable for cocos2d::LuaStack" || vt.Address != vtableAt || vt.Category != CategoryVTable {
			t.Errorf("window %d: vtable finding %+v", window, vt)
		}
		if ti.Name != "typeinfo for cocos2d::LuaStack" || ti.Address != typeDesc || ti.Signature != className {
			t.Errorf("window %d: typeinfo finding %+v", window, ti)
		}
	}
	if len(a.All()) < 1 {
		t.Error("Scan did not populate the cache")
	}
}

func TestVTableScanKeepsOnlyTableStarts(t *testing.T) {
	im := newImage(t)
	const second = memory.Address(0x11400)
	for i, fn := range []memory.Address{fnFrame, fnAlloc, fnPAC, fnLeaf} {
		im.put64(second+memory.Address(8*i), uint64(fn))
	}
	src := im.source()

	tests := []struct {
		name   string
		window int
		limit  int
	}{
		{"one window", 4096, 0},
		{"window inside table", 8, 0},
		{"narrow windows", 16, 0},
		{"capped at two tables", 4096, 2},
		{"capped with split windows", 8, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewVTableAnalyzer(src)
			found, err := a.Scan(context.Background(), codeEnd, rodataEnd, ScanOptions{Window: tt.window, MaxCandidates: tt.limit})
			if err != nil {
				t.Fatal(err)
			}
			var starts []memory.Address
			for _, f := range found {
				if f.Category == CategoryVTable {
					starts = append(starts, f.Address)
				}
			}
			if len(starts) != 2 || starts[0] != vtableAt || starts[1] != second {
				t.Errorf("vtable findings at %v, want [%s %s]", starts, vtableAt, second)
			}
			if a.Len() != 2 {
				t.Errorf("Len() = %d, want 2", a.Len())
			}
			for _, v := range a.All() {
				if v.Address != vtableAt && v.Address != second {
					t.Errorf("cached interior table at %s", v.Address)
				}
			}
			if got := a.ForClass("LuaStack"); len(got) != 1 {
				t.Errorf("ForClass() = %d tables, want 1", len(got))
			}
		})
	}
}

func TestVTableScanLimit(t *testing.T) {
	im := newImage(t)
	const second = memory.Address(0x11400)
	im.put64(second, uint64(fnFrame))
	im.put64(second+8, uint64(fnAlloc))
	a := NewVTableAnalyzer(im.source())

	found, err := a.Scan(context.Background(), codeEnd, rodataEnd, ScanOptions{MaxCandidates: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(found) != 2 || found[0].Address != vtableAt || found[1].Category != CategoryRTTI {
		t.Errorf("Scan() = %v, want the first table and its typeinfo", found)
	}
	if a.Len() != 1 {
		t.Errorf("Len() = %d, want 1", a.Len())
	}
}

func TestVTableNameCache(t *testing.T) {
	src := newImage(t).source()
	a := NewVTableAnalyzer(src)
	if _, err := a.Analyze(vtableAt); err != nil {
		t.Fatal(err)
	}
	if got := a.names[className]; got != "cocos2d::LuaStack" {
		t.Errorf("cached demangled name = %q", got)
	}

	b := NewVTableAnalyzer(src)
	if len(b.names) != 0 {
		t.Errorf("new analyzer starts with %d names", len(b.names))
	}

	a.Clear()
	if len(a.names) != 0 || a.Len() != 0 {
		t.Errorf("Clear() left %d names, %d tables", len(a.names), a.Len())
	}

	s := NewSession(src, config.Default())
	if _, err := s.VTables().Analyze(vtableAt); err != nil {
		t.Fatal(err)
	}
	s.ClearCache()
	if n := len(s.VTables().names); n != 0 {
		t.Errorf("ClearCache() left %d names", n)
	}
}
