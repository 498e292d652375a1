package elfx

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"errors"
	"testing"

	"armrecover/internal/arm64"
	"armrecover/internal/memory"
)

const (
	textVA = 0x400000
	dataVA = 0x410100
	codeAt = 0xc0
)

// buildELF writes a section-less executable with an r-x segment covering
// the whole file and an rw- segment whose last 48 bytes are zero-filled.
func buildELF(t *testing.T, machine elf.Machine) []byte {
	t.Helper()
	const (
		ehsize    = 64
		phentsize = 56
		dataOff   = 0x100
	)
	file := make([]byte, dataOff+16)
	binary.LittleEndian.PutUint32(file[codeAt:], 0xa9bf7bfd)   // stp x29, x30, [sp, #-16]!
	binary.LittleEndian.PutUint32(file[codeAt+4:], 0x910003fd) // mov x29, sp
	binary.LittleEndian.PutUint32(file[codeAt+8:], 0xd65f03c0) // ret
	binary.LittleEndian.PutUint64(file[dataOff:], textVA+codeAt)

	var hdr bytes.Buffer
	h := elf.Header64{
		Type:      uint16(elf.ET_EXEC),
		Machine:   uint16(machine),
		Version:   uint32(elf.EV_CURRENT),
		Entry:     textVA + codeAt,
		Phoff:     ehsize,
		Ehsize:    ehsize,
		Phentsize: phentsize,
		Phnum:     2,
	}
	copy(h.Ident[:], elf.ELFMAG)
	h.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	h.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	h.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	progs := []elf.Prog64{
		{Type: uint32(elf.PT_LOAD), Flags: uint32(elf.PF_R | elf.PF_X), Off: 0, Vaddr: textVA, Paddr: textVA, Filesz: dataOff, Memsz: dataOff, Align: 0x1000},
		{Type: uint32(elf.PT_LOAD), Flags: uint32(elf.PF_R | elf.PF_W), Off: dataOff, Vaddr: dataVA, Paddr: dataVA, Filesz: 16, Memsz: 64, Align: 0x1000},
	}
	if err := binary.Write(&hdr, binary.LittleEndian, h); err != nil {
		t.Fatal(err)
	}
	for _, p := range progs {
		if err := binary.Write(&hdr, binary.LittleEndian, p); err != nil {
			t.Fatal(err)
		}
	}
	if hdr.Len() > codeAt {
		t.Fatalf("headers end at %#x, past code at %#x", hdr.Len(), codeAt)
	}
	copy(file, hdr.Bytes())
	return file
}

func TestLoad(t *testing.T) {
	im, err := Load(buildELF(t, elf.EM_AARCH64))
	if err != nil {
		t.Fatal(err)
	}
	defer im.Close()

	regions := im.Regions()
	if len(regions) != 2 {
		t.Fatalf("Regions() = %v", regions)
	}
	if regions[0].Name != "LOAD(exec)" || !regions[0].IsExecutable() {
		t.Errorf("region 0 = %+v", regions[0])
	}
	if regions[1].Name != "LOAD(rw)" || !regions[1].IsData() || regions[1].Size() != 16 {
		t.Errorf("region 1 = %+v", regions[1])
	}
	if im.Entry() != textVA+codeAt {
		t.Errorf("Entry() = %s", im.Entry())
	}
	text, ok := im.Text()
	if !ok || text.Start != textVA {
		t.Errorf("Text() = %+v, %v", text, ok)
	}

	inst, err := arm64.DecodeAt(im, textVA+codeAt)
	if err != nil || inst.Op != arm64.STP {
		t.Errorf("DecodeAt() = %v, %v", inst, err)
	}
	ptr, err := memory.ReadPtr(im, dataVA)
	if err != nil || ptr != textVA+codeAt {
		t.Errorf("ReadPtr() = %s, %v", ptr, err)
	}
}

func TestReadBytesBounds(t *testing.T) {
	im, err := Load(buildELF(t, elf.EM_AARCH64))
	if err != nil {
		t.Fatal(err)
	}
	defer im.Close()

	tests := []struct {
		name string
		addr memory.Address
		n    int
		err  error
	}{
		{"inside", dataVA, 16, nil},
		{"crosses file size", dataVA + 8, 16, memory.ErrShortRead},
		{"zero-filled tail", dataVA + 16, 8, memory.ErrUnmapped},
		{"below image", 0x1000, 4, memory.ErrUnmapped},
		{"negative", textVA, -1, memory.ErrShortRead},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := im.ReadBytes(tt.addr, tt.n)
			if tt.err == nil {
				if err != nil || len(b) != tt.n {
					t.Errorf("ReadBytes() = %d bytes, %v", len(b), err)
				}
				return
			}
			if !errors.Is(err, tt.err) {
				t.Errorf("err = %v, want %v", err, tt.err)
			}
		})
	}
}

func TestLoadRejectsOtherMachines(t *testing.T) {
	if _, err := Load(buildELF(t, elf.EM_X86_64)); !errors.Is(err, ErrNotARM64) {
		t.Errorf("err = %v, want ErrNotARM64", err)
	}
	if _, err := Load([]byte("not an elf")); err == nil {
		t.Error("garbage accepted")
	}
}
