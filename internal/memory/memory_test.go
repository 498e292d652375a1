package memory

import (
	"errors"
	"math"
	"testing"
)

func TestAddressArithmetic(t *testing.T) {
	a := Address(0x1000)
	if got := a.Add(0x10); got != 0x1010 {
		t.Errorf("Add = %s", got)
	}
	if got := a.Offset(-0x20); got != 0xfe0 {
		t.Errorf("Offset = %s", got)
	}
	if got := a.Distance(0x1100); got != -0x100 {
		t.Errorf("Distance = %d", got)
	}
	if got := Address(math.MaxUint64 - 1).SaturatingAdd(10); got != math.MaxUint64 {
		t.Errorf("SaturatingAdd = %s", got)
	}
	if got := Address(4).SaturatingSub(10); got != 0 {
		t.Errorf("SaturatingSub = %s", got)
	}
	if got := Address(0).Sub(1); got != math.MaxUint64 {
		t.Errorf("Sub should wrap, got %s", got)
	}
}

func TestAddressAlignment(t *testing.T) {
	tests := []struct {
		addr     Address
		align    uint64
		aligned  bool
		down, up Address
	}{
		{0x1000, 0x1000, true, 0x1000, 0x1000},
		{0x1234, 0x1000, false, 0x1000, 0x2000},
		{0x1234, 8, false, 0x1230, 0x1238},
		{0x1238, 8, true, 0x1238, 0x1238},
	}
	for _, tt := range tests {
		if got := tt.addr.IsAligned(tt.align); got != tt.aligned {
			t.Errorf("%s.IsAligned(%d) = %v", tt.addr, tt.align, got)
		}
		if got := tt.addr.AlignDown(tt.align); got != tt.down {
			t.Errorf("%s.AlignDown(%d) = %s", tt.addr, tt.align, got)
		}
		if got := tt.addr.AlignUp(tt.align); got != tt.up {
			t.Errorf("%s.AlignUp(%d) = %s", tt.addr, tt.align, got)
		}
	}
}

func TestAlignmentNotPowerOfTwoPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for alignment 3")
		}
	}()
	Address(8).IsAligned(3)
}

func TestBufferReads(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 'h', 'i', 0, 'x'}
	buf := NewBuffer(0x4000, data)

	v32, err := ReadU32(buf, 0x4000)
	if err != nil || v32 != 0x04030201 {
		t.Fatalf("ReadU32 = %#x, %v", v32, err)
	}
	v64, err := ReadU64(buf, 0x4000)
	if err != nil || v64 != 0x0807060504030201 {
		t.Fatalf("ReadU64 = %#x, %v", v64, err)
	}
	s, err := ReadCString(buf, 0x4008, 64)
	if err != nil || s != "hi" {
		t.Fatalf("ReadCString = %q, %v", s, err)
	}

	_, err = buf.ReadBytes(0x400a, 8)
	if !errors.Is(err, ErrShortRead) {
		t.Errorf("expected ErrShortRead, got %v", err)
	}
	_, err = buf.ReadBytes(0x3000, 1)
	if !errors.Is(err, ErrUnmapped) {
		t.Errorf("expected ErrUnmapped, got %v", err)
	}
	var re *ReadError
	if !errors.As(err, &re) || re.Addr != 0x3000 {
		t.Errorf("expected *ReadError at 0x3000, got %v", err)
	}
}

func TestReadUTF16LE(t *testing.T) {
	data := []byte{'A', 0, 'B', 0, 0, 0, 'C', 0}
	buf := NewBuffer(0x10, data)
	s, err := ReadUTF16LE(buf, 0x10, 4)
	if err != nil {
		t.Fatal(err)
	}
	if s != "AB" {
		t.Errorf("ReadUTF16LE = %q, want AB", s)
	}
}

func TestRegions(t *testing.T) {
	buf := NewBuffer(0x1000, make([]byte, 0x2000),
		Region{Start: 0x1000, End: 0x2000, Prot: ProtRead | ProtExec, Name: ".text"},
		Region{Start: 0x2000, End: 0x3000, Prot: ProtRead | ProtWrite, Name: ".data"},
	)
	if !IsExecutable(buf, 0x1ffc) {
		t.Error("0x1ffc should be executable")
	}
	if IsExecutable(buf, 0x2000) {
		t.Error("0x2000 should not be executable")
	}
	r, ok := FindRegion(buf, 0x2800)
	if !ok || r.Name != ".data" || !r.IsData() {
		t.Errorf("FindRegion = %+v, %v", r, ok)
	}
	if got := r.Prot.String(); got != "rw-" {
		t.Errorf("Prot.String = %q", got)
	}
	if n := len(ExecutableRegions(buf)); n != 1 {
		t.Errorf("ExecutableRegions = %d", n)
	}
}
