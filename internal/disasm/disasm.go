// Package disasm renders AArch64 code from a memory.Source as a listing
// annotated with resolved references.
package disasm

import (
	"encoding/binary"
	"fmt"
	"strings"

	"golang.org/x/arch/arm64/arm64asm"

	"armrecover/internal/arm64"
	"armrecover/internal/memory"
	"armrecover/internal/xref"
)

// Line is one decoded word.
type Line struct {
	Inst arm64.Instruction
	Word uint32
	// Reference is the x/arch GNU rendering, filled when Options.Reference
	// is set; empty when x/arch rejects the word.
	Reference string
	// Target is the resolved reference this instruction starts, if any.
	Target *xref.Target
}

// Text is the instruction in this package's own syntax.
func (l Line) Text() string {
	if !l.Inst.IsValid() {
		return fmt.Sprintf(".word 0x%08x", l.Word)
	}
	return l.Inst.String()
}

// SymbolLookup names an address. Returns ("", false) if unknown.
type SymbolLookup func(addr memory.Address) (string, bool)

// Annotator returns an extra comment for a line, "" for none.
type Annotator func(Line) string

// Options controls disassembly.
type Options struct {
	Symbols   SymbolLookup
	Reference bool
}

// Listing is a run of consecutive lines.
type Listing struct {
	Lines []Line
	opts  Options
}

// Disassemble decodes count words from start. A read failure before the
// first word is an error; a later one ends the listing early.
func Disassemble(src memory.Source, start memory.Address, count int, opts Options) (*Listing, error) {
	start = start.AlignDown(arm64.InstructionSize)
	data, err := readUpTo(src, start, count*arm64.InstructionSize)
	if err != nil {
		return nil, err
	}
	insts := arm64.DecodeStream(data, start)

	l := &Listing{Lines: make([]Line, len(insts)), opts: opts}
	for i, inst := range insts {
		word := binary.LittleEndian.Uint32(data[i*arm64.InstructionSize:])
		l.Lines[i] = Line{Inst: inst, Word: word}
		if opts.Reference {
			l.Lines[i].Reference = Reference(word)
		}
		if t, ok := xref.Resolve(insts[i:min(i+2, len(insts))]); ok {
			l.Lines[i].Target = &t
		}
	}
	return l, nil
}

// readUpTo reads n bytes or as many whole words as the region holds.
func readUpTo(src memory.Source, addr memory.Address, n int) ([]byte, error) {
	if r, ok := memory.FindRegion(src, addr); ok {
		n = min(n, int(r.End-addr)/arm64.InstructionSize*arm64.InstructionSize)
	}
	return src.ReadBytes(addr, n)
}

// Reference decodes word with golang.org/x/arch in GNU syntax.
func Reference(word uint32) string {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], word)
	inst, err := arm64asm.Decode(b[:])
	if err != nil {
		return ""
	}
	return strings.TrimSpace(arm64asm.GNUSyntax(inst))
}

// Comment describes the reference of a line, naming its target when the
// lookup knows it.
func (l *Listing) Comment(line Line) string {
	if line.Target == nil {
		return ""
	}
	t := line.Target
	c := fmt.Sprintf("%s 0x%x", t.Kind, uint64(t.Address))
	if l.opts.Symbols != nil {
		if name, ok := l.opts.Symbols(t.Address); ok {
			c += " <" + name + ">"
		}
	}
	return c
}

// Format renders the listing. Each line is
// <addr>  <hex bytes>  <disasm>  ; <comments>
func (l *Listing) Format(annotators ...Annotator) string {
	var b strings.Builder
	for _, line := range l.Lines {
		if l.opts.Symbols != nil {
			if name, ok := l.opts.Symbols(line.Inst.Address); ok {
				fmt.Fprintf(&b, "\n%s:\n", name)
			}
		}
		w := line.Word
		text := fmt.Sprintf("%x  %02x %02x %02x %02x  %-40s", uint64(line.Inst.Address),
			byte(w), byte(w>>8), byte(w>>16), byte(w>>24), line.Text())

		var notes []string
		if c := l.Comment(line); c != "" {
			notes = append(notes, c)
		}
		for _, ann := range annotators {
			if s := ann(line); s != "" {
				notes = append(notes, s)
			}
		}
		if l.opts.Reference && line.Reference != "" {
			notes = append(notes, "gnu: "+line.Reference)
		}
		if len(notes) > 0 {
			text += "  ; " + strings.Join(notes, "; ")
		}
		b.WriteString(strings.TrimRight(text, " ") + "\n")
	}
	return strings.TrimLeft(b.String(), "\n")
}
