package analysis

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/charmbracelet/log"

	"armrecover/internal/arm64"
	"armrecover/internal/logging"
	"armrecover/internal/memory"
)

const (
	DefaultMinEntries = 2
	DefaultMaxEntries = 256
	pointerSize       = 8
	// maxTypeName bounds the RTTI name read.
	maxTypeName = 256
)

// VTableEntry is one slot of a virtual table.
type VTableEntry struct {
	Index       int
	Address     memory.Address
	Target      memory.Address
	PureVirtual bool
}

// RTTIInfo is the type descriptor referenced just before a table.
type RTTIInfo struct {
	Descriptor memory.Address
	Mangled    string
	TypeName   string
	Demangled  string
}

// VTableInfo is a recovered table.
type VTableInfo struct {
	Address   memory.Address
	Entries   []VTableEntry
	ClassName string
	TypeInfo  memory.Address
	RTTI      *RTTIInfo
	Xrefs     []memory.Address
}

// EntryCount returns the number of slots.
func (v *VTableInfo) EntryCount() int { return len(v.Entries) }

// Entry returns slot i.
func (v *VTableInfo) Entry(i int) (VTableEntry, bool) {
	if i < 0 || i >= len(v.Entries) {
		return VTableEntry{}, false
	}
	return v.Entries[i], true
}

// End returns the address just past the last slot.
func (v *VTableInfo) End() memory.Address {
	return v.Address.Add(uint64(len(v.Entries) * pointerSize))
}

func (v *VTableInfo) HasPureVirtual() bool { return v.PureVirtualCount() > 0 }

func (v *VTableInfo) PureVirtualCount() int {
	n := 0
	for _, e := range v.Entries {
		if e.PureVirtual {
			n++
		}
	}
	return n
}

// FunctionAddresses returns the slot targets in order.
func (v *VTableInfo) FunctionAddresses() []memory.Address {
	out := make([]memory.Address, len(v.Entries))
	for i, e := range v.Entries {
		out[i] = e.Target
	}
	return out
}

// VTableOption configures a VTableAnalyzer.
type VTableOption func(*VTableAnalyzer)

func WithMinEntries(n int) VTableOption { return func(a *VTableAnalyzer) { a.minEntries = n } }

func WithMaxEntries(n int) VTableOption { return func(a *VTableAnalyzer) { a.maxEntries = n } }

func WithLogger(lg *log.Logger) VTableOption { return func(a *VTableAnalyzer) { a.log = lg } }

// VTableAnalyzer recovers virtual tables and their RTTI names from a
// source. Tables are cached by address and demangled names by mangled
// string; both caches are safe for concurrent use and are only cleared as
// a whole.
type VTableAnalyzer struct {
	src        memory.Source
	minEntries int
	maxEntries int
	log        *log.Logger

	mu     sync.RWMutex
	tables map[memory.Address]*VTableInfo
	names  map[string]string
}

// NewVTableAnalyzer returns an analyzer with a minimum of 2 and a maximum
// of 256 entries unless overridden.
func NewVTableAnalyzer(src memory.Source, opts ...VTableOption) *VTableAnalyzer {
	a := &VTableAnalyzer{
		src:        src,
		minEntries: DefaultMinEntries,
		maxEntries: DefaultMaxEntries,
		log:        logging.Discard(),
		tables:     make(map[memory.Address]*VTableInfo),
		names:      make(map[string]string),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.minEntries < 1 {
		a.minEntries = 1
	}
	if a.maxEntries < a.minEntries {
		a.maxEntries = a.minEntries
	}
	return a
}

// isCodePointer reports whether ptr lies in an executable region and
// points at a word of an allocated encoding class.
func (a *VTableAnalyzer) isCodePointer(ptr memory.Address) bool {
	if ptr.IsNull() || !memory.IsExecutable(a.src, ptr) {
		return false
	}
	w, err := memory.ReadU32(a.src, ptr)
	if err != nil {
		return false
	}
	return arm64.ClassOf(w) != arm64.ClassUnallocated && arm64.Decode(w, ptr).IsValid()
}

func (a *VTableAnalyzer) isPureVirtual(target memory.Address) bool {
	inst, err := arm64.DecodeAt(a.src, target)
	return err == nil && inst.Op == arm64.BRK
}

// Analyze validates a table at addr. It returns nil, nil when the table is
// rejected; an error only when the first slot cannot be read.
func (a *VTableAnalyzer) Analyze(addr memory.Address) (*VTableInfo, error) {
	if v, ok := a.Lookup(addr); ok {
		return v, nil
	}
	info, err := a.analyze(addr)
	if err != nil || info == nil {
		return nil, err
	}
	return a.store(info), nil
}

// analyze validates a table at addr without touching the table cache.
func (a *VTableAnalyzer) analyze(addr memory.Address) (*VTableInfo, error) {
	entries, err := a.entries(addr)
	if err != nil {
		return nil, err
	}
	if len(entries) < a.minEntries {
		a.log.Debug("vtable rejected", "addr", addr, "entries", len(entries), "min", a.minEntries)
		return nil, nil
	}

	info := &VTableInfo{Address: addr, Entries: entries}
	if rtti, desc, ok := a.rtti(addr); ok {
		info.TypeInfo = desc
		info.RTTI = rtti
		info.ClassName = rtti.TypeName
	}
	return info, nil
}

// store caches info unless a table at the same address is already cached,
// and returns the cached one.
func (a *VTableAnalyzer) store(info *VTableInfo) *VTableInfo {
	a.mu.Lock()
	defer a.mu.Unlock()
	if prev, ok := a.tables[info.Address]; ok {
		return prev
	}
	a.tables[info.Address] = info
	return info
}

// demangle memoizes demangleTypeName.
func (a *VTableAnalyzer) demangle(mangled string) string {
	a.mu.RLock()
	out, ok := a.names[mangled]
	a.mu.RUnlock()
	if ok {
		return out
	}
	out = demangleTypeName(mangled)
	a.mu.Lock()
	a.names[mangled] = out
	a.mu.Unlock()
	return out
}

func (a *VTableAnalyzer) entries(addr memory.Address) ([]VTableEntry, error) {
	var out []VTableEntry
	for i := range a.maxEntries {
		slot := addr.Add(uint64(i * pointerSize))
		target, err := memory.ReadPtr(a.src, slot)
		if err != nil {
			if i == 0 {
				return nil, fmt.Errorf("vtable at %s: %w", addr, err)
			}
			break
		}
		if !a.isCodePointer(target) {
			break
		}
		out = append(out, VTableEntry{
			Index:       i,
			Address:     slot,
			Target:      target,
			PureVirtual: a.isPureVirtual(target),
		})
	}
	return out, nil
}

// rtti follows the descriptor pointer at addr-8 and the name pointer at
// descriptor+8. Any unreadable or unmapped step means no RTTI.
func (a *VTableAnalyzer) rtti(addr memory.Address) (*RTTIInfo, memory.Address, bool) {
	if addr < pointerSize {
		return nil, 0, false
	}
	desc, err := memory.ReadPtr(a.src, addr.Sub(pointerSize))
	if err != nil || desc.IsNull() {
		return nil, 0, false
	}
	if _, ok := memory.FindRegion(a.src, desc); !ok {
		return nil, 0, false
	}
	namePtr, err := memory.ReadPtr(a.src, desc.Add(pointerSize))
	if err != nil || namePtr.IsNull() {
		return nil, desc, false
	}
	mangled, err := memory.ReadCString(a.src, namePtr, maxTypeName)
	if err != nil || mangled == "" || !printable(mangled) {
		return nil, desc, false
	}
	return &RTTIInfo{
		Descriptor: desc,
		Mangled:    mangled,
		TypeName:   DecodeTypeName(mangled),
		Demangled:  a.demangle(mangled),
	}, desc, true
}

func printable(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 0x20 || s[i] > 0x7e {
			return false
		}
	}
	return true
}

// isLikelyStart requires two of the first three slots to be code pointers.
func (a *VTableAnalyzer) isLikelyStart(addr memory.Address) bool {
	valid := 0
	for i := range 3 {
		ptr, err := memory.ReadPtr(a.src, addr.Add(uint64(i*pointerSize)))
		if err == nil && a.isCodePointer(ptr) {
			valid++
		}
	}
	return valid >= 2
}

// Scan walks 8-byte aligned candidates in [start, end) and returns one
// finding per accepted table, plus an RTTI finding when the table names
// its class. Candidates that start inside an accepted table are neither
// reported nor cached. opts.MaxCandidates bounds the number of tables.
func (a *VTableAnalyzer) Scan(ctx context.Context, start, end memory.Address, opts ScanOptions) ([]Finding, error) {
	if opts.Logger == nil {
		opts.Logger = a.log
	}
	limit := opts.MaxCandidates
	opts.MaxCandidates = 0

	var (
		pmu     sync.Mutex
		pending = make(map[memory.Address]*VTableInfo)
	)
	start = start.AlignUp(pointerSize)
	found, err := scanWindows(ctx, start, end, opts, func(ctx context.Context, ws, we memory.Address) ([]Finding, error) {
		var out []Finding
		for addr := ws.AlignUp(pointerSize); addr < we; {
			if ctx.Err() != nil {
				return out, nil
			}
			next := addr.Add(pointerSize)
			v, err := a.candidate(addr)
			switch {
			case err != nil:
				a.log.Debug("vtable candidate aborted", "addr", addr, "err", err)
			case v != nil:
				pmu.Lock()
				pending[addr] = v
				pmu.Unlock()
				out = append(out, NewFinding(vtableName(v), v.Address, MethodTable, CategoryVTable))
				next = max(next, v.End())
			}
			addr = next
		}
		return out, nil
	})

	// Windows run independently, so a window starting inside a table
	// reports its tail; found is sorted by address.
	var (
		kept   []Finding
		cover  memory.Address
		tables int
	)
	for _, f := range found {
		if f.Address < cover {
			continue
		}
		if limit > 0 && tables >= limit {
			break
		}
		v := a.store(pending[f.Address])
		cover = v.End()
		tables++
		kept = append(kept, f)
		if v.RTTI != nil {
			rf := NewFinding("typeinfo for "+v.ClassName, v.TypeInfo, MethodTable, CategoryRTTI)
			rf.Signature = v.RTTI.Mangled
			kept = append(kept, rf)
		}
	}
	Sort(kept)
	return kept, err
}

// candidate returns the cached table at addr, or analyzes a likely start
// without caching it.
func (a *VTableAnalyzer) candidate(addr memory.Address) (*VTableInfo, error) {
	if v, ok := a.Lookup(addr); ok {
		return v, nil
	}
	if !a.isLikelyStart(addr) {
		return nil, nil
	}
	return a.analyze(addr)
}

func vtableName(v *VTableInfo) string {
	if v.ClassName != "" {
		return "vtable for " + v.ClassName
	}
	return fmt.Sprintf("vtable_%x", uint64(v.Address))
}

// Lookup returns a cached table.
func (a *VTableAnalyzer) Lookup(addr memory.Address) (*VTableInfo, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	v, ok := a.tables[addr]
	return v, ok
}

// All returns the cached tables ordered by address.
func (a *VTableAnalyzer) All() []*VTableInfo {
	a.mu.RLock()
	out := make([]*VTableInfo, 0, len(a.tables))
	for _, v := range a.tables {
		out = append(out, v)
	}
	a.mu.RUnlock()
	slices.SortFunc(out, func(x, y *VTableInfo) int {
		switch {
		case x.Address < y.Address:
			return -1
		case x.Address > y.Address:
			return 1
		}
		return 0
	})
	return out
}

// ForClass returns cached tables whose class name contains name.
func (a *VTableAnalyzer) ForClass(name string) []*VTableInfo {
	var out []*VTableInfo
	for _, v := range a.All() {
		if v.ClassName != "" && strings.Contains(v.ClassName, name) {
			out = append(out, v)
		}
	}
	return out
}

// VirtualFunction returns slot index of the cached table at addr.
func (a *VTableAnalyzer) VirtualFunction(addr memory.Address, index int) (memory.Address, bool) {
	v, ok := a.Lookup(addr)
	if !ok {
		return 0, false
	}
	e, ok := v.Entry(index)
	return e.Target, ok
}

// AddXref records a code reference to the cached table at addr.
func (a *VTableAnalyzer) AddXref(addr, from memory.Address) {
	a.mu.Lock()
	defer a.mu.Unlock()
	v, ok := a.tables[addr]
	if !ok || slices.Contains(v.Xrefs, from) {
		return
	}
	v.Xrefs = append(v.Xrefs, from)
}

// Len returns the number of cached tables.
func (a *VTableAnalyzer) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.tables)
}

// Clear drops every cached table and demangled name.
func (a *VTableAnalyzer) Clear() {
	a.mu.Lock()
	a.tables = make(map[memory.Address]*VTableInfo)
	a.names = make(map[string]string)
	a.mu.Unlock()
}
