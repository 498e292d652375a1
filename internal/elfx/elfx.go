// Package elfx opens AArch64 ELF binaries and exposes their loaded
// segments as a memory.Source, together with section names, symbols and
// PLT stubs.
package elfx

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"syscall"

	"armrecover/internal/arm64"
	"armrecover/internal/memory"
	"armrecover/internal/xref"
)

// ErrNotARM64 is returned for ELF files of another machine or class.
var ErrNotARM64 = errors.New("not a 64-bit little-endian AArch64 ELF")

// pltStubSize is the size of every AArch64 PLT entry, PLT[0] included.
const pltStubSize = 16

// Image is a parsed ELF file. Reads are served from the file bytes of
// PT_LOAD segments; the zero-filled tail of a segment is not readable.
type Image struct {
	Path string
	File *elf.File

	all      []byte
	f        *os.File
	mapped   bool
	segs     []segment
	regions  []memory.Region
	sections []Section
	symbols  []Symbol
	byAddr   map[memory.Address]string
	plt      []PLTStub
}

type segment struct {
	vaddr, off, filesz uint64
	prot               memory.Protection
}

// Section is an allocated section with file contents.
type Section struct {
	Name string
	Addr memory.Address
	Size uint64
	Prot memory.Protection
}

func (s Section) End() memory.Address { return s.Addr.Add(s.Size) }

// Symbol is a defined function or object symbol.
type Symbol struct {
	Name    string
	Addr    memory.Address
	Dynamic bool
}

// PLTStub is one lazy-binding stub and the GOT slot it jumps through.
type PLTStub struct {
	Addr memory.Address
	GOT  memory.Address
	Name string
}

// Open maps the file at path read-only and parses it.
func Open(path string) (*Image, error) {
	of, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	fi, err := of.Stat()
	if err != nil {
		of.Close()
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if fi.Size() == 0 {
		of.Close()
		return nil, fmt.Errorf("open elf %s: empty file", path)
	}
	all, err := syscall.Mmap(int(of.Fd()), 0, int(fi.Size()), syscall.PROT_READ, syscall.MAP_SHARED)
	if err != nil {
		of.Close()
		return nil, fmt.Errorf("mmap file: %w", err)
	}

	im, err := Load(all)
	if err != nil {
		syscall.Munmap(all)
		of.Close()
		return nil, fmt.Errorf("open elf %s: %w", path, err)
	}
	im.Path = path
	im.f = of
	im.mapped = true
	return im, nil
}

// Load parses an ELF image held in memory. data must stay unchanged for
// the life of the Image.
func Load(data []byte) (*Image, error) {
	f, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse elf: %w", err)
	}
	if f.Machine != elf.EM_AARCH64 || f.Class != elf.ELFCLASS64 || f.ByteOrder != binary.LittleEndian {
		f.Close()
		return nil, fmt.Errorf("%w: %s %s", ErrNotARM64, f.Class, f.Machine)
	}

	im := &Image{File: f, all: data, byAddr: make(map[memory.Address]string)}
	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD || p.Filesz == 0 {
			continue
		}
		if p.Off+p.Filesz > uint64(len(data)) {
			f.Close()
			return nil, fmt.Errorf("segment at 0x%x runs past end of file", p.Vaddr)
		}
		im.segs = append(im.segs, segment{vaddr: p.Vaddr, off: p.Off, filesz: p.Filesz, prot: progProt(p.Flags)})
	}
	if len(im.segs) == 0 {
		f.Close()
		return nil, errors.New("no loadable segments")
	}

	im.loadSections()
	im.loadRegions()
	im.loadSymbols()
	im.parsePLT()
	return im, nil
}

func progProt(fl elf.ProgFlag) memory.Protection {
	var p memory.Protection
	if fl&elf.PF_R != 0 {
		p |= memory.ProtRead
	}
	if fl&elf.PF_W != 0 {
		p |= memory.ProtWrite
	}
	if fl&elf.PF_X != 0 {
		p |= memory.ProtExec
	}
	return p
}

func sectionProt(fl elf.SectionFlag) memory.Protection {
	p := memory.ProtRead
	if fl&elf.SHF_WRITE != 0 {
		p |= memory.ProtWrite
	}
	if fl&elf.SHF_EXECINSTR != 0 {
		p |= memory.ProtExec
	}
	return p
}

// Close unmaps the memory and closes the underlying files.
func (im *Image) Close() error {
	var errs []error
	if im.mapped && im.all != nil {
		errs = append(errs, syscall.Munmap(im.all))
	}
	im.all = nil
	if im.f != nil {
		errs = append(errs, im.f.Close())
		im.f = nil
	}
	if im.File != nil {
		errs = append(errs, im.File.Close())
		im.File = nil
	}
	return errors.Join(errs...)
}

func (im *Image) loadSections() {
	for _, s := range im.File.Sections {
		if s.Flags&elf.SHF_ALLOC == 0 || s.Type == elf.SHT_NOBITS || s.Size == 0 || s.Addr == 0 {
			continue
		}
		im.sections = append(im.sections, Section{
			Name: s.Name,
			Addr: memory.Address(s.Addr),
			Size: s.Size,
			Prot: sectionProt(s.Flags),
		})
	}
	slices.SortFunc(im.sections, func(a, b Section) int {
		return compareAddr(a.Addr, b.Addr)
	})
}

// loadRegions uses the section table when present so data and read-only
// data stay apart; stripped section headers fall back to segments.
func (im *Image) loadRegions() {
	for _, s := range im.sections {
		if _, ok := im.segmentFor(uint64(s.Addr)); !ok {
			continue
		}
		im.regions = append(im.regions, memory.Region{Start: s.Addr, End: s.End(), Prot: s.Prot, Name: s.Name})
	}
	if len(im.regions) > 0 {
		return
	}
	for _, sg := range im.segs {
		name := "LOAD(ro)"
		switch {
		case sg.prot&memory.ProtExec != 0:
			name = "LOAD(exec)"
		case sg.prot&memory.ProtWrite != 0:
			name = "LOAD(rw)"
		}
		start := memory.Address(sg.vaddr)
		im.regions = append(im.regions, memory.Region{Start: start, End: start.Add(sg.filesz), Prot: sg.prot, Name: name})
	}
}

func (im *Image) loadSymbols() {
	add := func(syms []elf.Symbol, dynamic bool) {
		for _, sym := range syms {
			typ := elf.ST_TYPE(sym.Info)
			if sym.Value == 0 || sym.Name == "" || sym.Section == elf.SHN_UNDEF ||
				(typ != elf.STT_FUNC && typ != elf.STT_OBJECT) {
				continue
			}
			addr := memory.Address(sym.Value)
			im.symbols = append(im.symbols, Symbol{Name: sym.Name, Addr: addr, Dynamic: dynamic})
			if _, ok := im.byAddr[addr]; !ok {
				im.byAddr[addr] = sym.Name
			}
		}
	}
	if syms, err := im.File.DynamicSymbols(); err == nil {
		add(syms, true)
	}
	if syms, err := im.File.Symbols(); err == nil {
		add(syms, false)
	}
	slices.SortStableFunc(im.symbols, func(a, b Symbol) int {
		return compareAddr(a.Addr, b.Addr)
	})
}

// parsePLT decodes every stub after the resolver as adrp x16 + ldr x17
// and names it from the .rela.plt entry for its GOT slot.
func (im *Image) parsePLT() {
	plt, ok := im.Section(".plt")
	if !ok {
		return
	}
	names := im.pltRelocations()
	for addr := plt.Addr.Add(pltStubSize); addr.Add(pltStubSize) <= plt.End(); addr = addr.Add(pltStubSize) {
		got, ok := im.stubGOT(addr)
		if !ok {
			continue
		}
		stub := PLTStub{Addr: addr, GOT: got, Name: names[got]}
		im.plt = append(im.plt, stub)
		if stub.Name != "" {
			if _, ok := im.byAddr[addr]; !ok {
				im.byAddr[addr] = stub.Name + "@plt"
			}
		}
	}
}

func (im *Image) stubGOT(addr memory.Address) (memory.Address, bool) {
	data, err := im.ReadBytes(addr, 2*arm64.InstructionSize)
	if err != nil {
		return 0, false
	}
	t, ok := xref.Resolve(arm64.DecodeStream(data, addr))
	if !ok || t.Kind != xref.PageLoad {
		return 0, false
	}
	return t.Address, true
}

// pltRelocations maps GOT slots to imported symbol names.
func (im *Image) pltRelocations() map[memory.Address]string {
	out := make(map[memory.Address]string)
	sec := im.File.Section(".rela.plt")
	if sec == nil {
		return out
	}
	data, err := sec.Data()
	if err != nil {
		return out
	}
	dynsyms, err := im.File.DynamicSymbols()
	if err != nil {
		return out
	}
	var rela elf.Rela64
	r := bytes.NewReader(data)
	for binary.Read(r, binary.LittleEndian, &rela) == nil {
		idx := elf.R_SYM64(rela.Info)
		// DynamicSymbols drops the null entry at index 0.
		if idx == 0 || int(idx) > len(dynsyms) {
			continue
		}
		out[memory.Address(rela.Off)] = dynsyms[idx-1].Name
	}
	return out
}

func (im *Image) segmentFor(va uint64) (segment, bool) {
	for _, sg := range im.segs {
		if va >= sg.vaddr && va-sg.vaddr < sg.filesz {
			return sg, true
		}
	}
	return segment{}, false
}

// ReadBytes implements memory.Source over PT_LOAD file contents.
func (im *Image) ReadBytes(addr memory.Address, n int) ([]byte, error) {
	if n < 0 {
		return nil, &memory.ReadError{Addr: addr, Len: n, Err: memory.ErrShortRead}
	}
	sg, ok := im.segmentFor(uint64(addr))
	if !ok {
		return nil, &memory.ReadError{Addr: addr, Len: n, Err: memory.ErrUnmapped}
	}
	rel := uint64(addr) - sg.vaddr
	if uint64(n) > sg.filesz-rel {
		return nil, &memory.ReadError{Addr: addr, Len: n, Err: memory.ErrShortRead}
	}
	off := sg.off + rel
	return im.all[off : off+uint64(n)], nil
}

// Regions implements memory.Source.
func (im *Image) Regions() []memory.Region { return im.regions }

// Entry returns the ELF entry point.
func (im *Image) Entry() memory.Address { return memory.Address(im.File.Entry) }

// Sections returns the allocated sections ordered by address.
func (im *Image) Sections() []Section { return im.sections }

// Section returns the section with the given name.
func (im *Image) Section(name string) (Section, bool) {
	for _, s := range im.sections {
		if s.Name == name {
			return s, true
		}
	}
	return Section{}, false
}

// Text returns .text, or the first executable region of a stripped file.
func (im *Image) Text() (memory.Region, bool) {
	if s, ok := im.Section(".text"); ok {
		return memory.Region{Start: s.Addr, End: s.End(), Prot: s.Prot, Name: s.Name}, true
	}
	for _, r := range im.regions {
		if r.IsExecutable() {
			return r, true
		}
	}
	return memory.Region{}, false
}

// Symbols returns every defined symbol ordered by address.
func (im *Image) Symbols() []Symbol { return im.symbols }

// SymbolAt names the symbol or PLT stub starting at addr.
func (im *Image) SymbolAt(addr memory.Address) (string, bool) {
	name, ok := im.byAddr[addr]
	return name, ok
}

// Lookup finds a defined symbol by name; a trailing "@plt" selects the
// stub instead.
func (im *Image) Lookup(name string) (memory.Address, bool) {
	if base, ok := strings.CutSuffix(name, "@plt"); ok {
		for _, s := range im.plt {
			if s.Name == base {
				return s.Addr, true
			}
		}
		return 0, false
	}
	for _, s := range im.symbols {
		if s.Name == name {
			return s.Addr, true
		}
	}
	return 0, false
}

// PLT returns the parsed stubs.
func (im *Image) PLT() []PLTStub { return im.plt }

func compareAddr(a, b memory.Address) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
