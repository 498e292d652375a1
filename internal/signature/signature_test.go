package signature

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/charmbracelet/log"

	"armrecover/internal/memory"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		want      string
		wildcards int
		wantErr   error
	}{
		{name: "plain", text: "fd 7b bf a9", want: "FD 7B BF A9"},
		{name: "double wildcard", text: "FD 7B ?? A9", want: "FD 7B ?? A9", wildcards: 1},
		{name: "single wildcard normalizes", text: "FD ? ? A9", want: "FD ?? ?? A9", wildcards: 2},
		{name: "extra whitespace", text: "  C0\t03\n5F  D6 ", want: "C0 03 5F D6"},
		{name: "all wildcards", text: "?? ??", want: "?? ??", wildcards: 2},
		{name: "empty", text: "", wantErr: ErrEmpty},
		{name: "blank", text: "   ", wantErr: ErrEmpty},
		{name: "three digits", text: "FD 7B0", wantErr: ErrToken},
		{name: "not hex", text: "FD ZZ", wantErr: ErrToken},
		{name: "triple wildcard", text: "???", wantErr: ErrToken},
		{name: "sign prefix", text: "+1", wantErr: ErrToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Parse(tt.text)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Parse(%q) err = %v, want %v", tt.text, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%q): %v", tt.text, err)
			}
			if got := p.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
			if p.Wildcards() != tt.wildcards {
				t.Errorf("Wildcards() = %d, want %d", p.Wildcards(), tt.wildcards)
			}
			if p.SignificantBytes()+p.Wildcards() != p.Len() {
				t.Errorf("significant + wildcards != len")
			}
		})
	}
}

func TestParseErrorPosition(t *testing.T) {
	_, err := Parse("AA BB XYZ")
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want *ParseError", err)
	}
	if pe.Pos != 2 || pe.Token != "XYZ" {
		t.Errorf("ParseError = %+v", pe)
	}
}

func TestTextRoundTrip(t *testing.T) {
	for _, text := range []string{"FD 7B ?? A9 FD ?? ?? 91", "00", "?? 01 ?? 02"} {
		p := MustParse(text)
		q, err := New(p.Bytes(), p.Mask())
		if err != nil {
			t.Fatal(err)
		}
		if q.String() != text {
			t.Errorf("%q -> bytes/mask -> %q", text, q.String())
		}
	}
}

func TestNew(t *testing.T) {
	if _, err := New(nil, nil); !errors.Is(err, ErrEmpty) {
		t.Errorf("empty: %v", err)
	}
	if _, err := New([]byte{1, 2}, []byte{1}); !errors.Is(err, ErrMaskLength) {
		t.Errorf("mismatch: %v", err)
	}
	p, err := New([]byte{0xaa, 0xbb}, []byte{0x01, 0x00})
	if err != nil {
		t.Fatal(err)
	}
	if p.String() != "AA ??" {
		t.Errorf("non-0xff mask byte must be must-match: %q", p)
	}
}

func TestFindInWithInjectedWildcards(t *testing.T) {
	p := MustParse("FD 7B ?? A9 FD ?? ?? 91")
	data := bytes.Repeat([]byte{0x11}, 64)
	const at = 20
	copy(data[at:], []byte{0xfd, 0x7b, 0x42, 0xa9, 0xfd, 0x99, 0x98, 0x91})

	off, ok := p.FindIn(data)
	if !ok || off != at {
		t.Fatalf("FindIn = %d, %v; want %d", off, ok, at)
	}

	data[at+3] = 0xa8
	if off, ok := p.FindIn(data); ok {
		t.Errorf("corrupted significant byte still matched at %d", off)
	}
}

func TestFindAllOverlapping(t *testing.T) {
	p := MustParse("AA ?? AA")
	data := []byte{0xaa, 0x00, 0xaa, 0x00, 0xaa, 0xaa}
	got := p.FindAllIn(data)
	want := []int{0, 2}
	if len(got) != len(want) {
		t.Fatalf("FindAllIn = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("FindAllIn = %v, want %v", got, want)
		}
	}

	run := bytes.Repeat([]byte{0xaa}, 5)
	if got := MustParse("AA AA").FindAllIn(run); len(got) != 4 {
		t.Errorf("overlapping run = %v, want 4 matches", got)
	}
}

func TestNeverReadsPastEnd(t *testing.T) {
	p := MustParse("01 02 03 04")
	if _, ok := p.FindIn([]byte{0x01, 0x02, 0x03}); ok {
		t.Error("matched a truncated buffer")
	}
	if got := p.FindAllIn(nil); got != nil {
		t.Errorf("nil buffer: %v", got)
	}
	if got := MustParse("?? ??").FindAllIn([]byte{1, 2, 3}); len(got) != 2 {
		t.Errorf("wildcard-only pattern: %v", got)
	}
}

func TestFromInstructions(t *testing.T) {
	// bl <imm26>; ret
	p, err := FromInstructions([]uint32{0x94000123, 0xd65f03c0}, []uint32{0xfc000000, 0xffffffff})
	if err != nil {
		t.Fatal(err)
	}
	if got, want := p.String(), "?? ?? ?? ?? C0 03 5F D6"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
	full, err := FromInstructions([]uint32{0xd503201f}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if full.String() != "1F 20 03 D5" {
		t.Errorf("nop pattern = %q", full)
	}
	if _, err := FromInstructions([]uint32{1, 2}, []uint32{1}); !errors.Is(err, ErrMaskLength) {
		t.Errorf("mask count mismatch: %v", err)
	}
}

func TestSet(t *testing.T) {
	data := []byte{
		0xfd, 0x7b, 0xbf, 0xa9, 0xfd, 0x03, 0x00, 0x91, // stp x29, x30, [sp, #-16]!; mov x29, sp
		0x1f, 0x20, 0x03, 0xd5, // nop
		0xfd, 0x7b, 0xc1, 0xa8, 0xc0, 0x03, 0x5f, 0xd6, // ldp x29, x30, [sp], #16; ret
	}
	got := ARM64().FindAll(data)
	want := []Match{{"prologue", 0}, {"ldp-ret", 12}, {"ret", 16}}
	if len(got) != len(want) {
		t.Fatalf("FindAll = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("match %d = %+v, want %+v", i, got[i], want[i])
		}
	}
	if _, ok := ARM64().Lookup("ret"); !ok {
		t.Error("Lookup(ret) failed")
	}
}

func TestScanSourceWindowEdges(t *testing.T) {
	const base = memory.Address(0x400000)
	data := make([]byte, 3*DefaultWindow)
	sig := []byte{0xde, 0xad, 0xbe, 0xef}
	// straddles the first window edge, sits at the start of the third
	offsets := []int{DefaultWindow - 2, 2 * DefaultWindow, 2*DefaultWindow + 100}
	for _, off := range offsets {
		copy(data[off:], sig)
	}
	src := memory.NewBuffer(base, data)
	p, _ := FromBytes(sig)

	for _, workers := range []int{1, 4} {
		got, stats, err := ScanSource(context.Background(), src, base, base.Add(uint64(len(data))), p, ScanOptions{Workers: workers})
		if err != nil {
			t.Fatal(err)
		}
		if stats.Windows != 3 || stats.Skipped != 0 {
			t.Errorf("stats = %+v", stats)
		}
		if len(got) != len(offsets) {
			t.Fatalf("workers=%d: got %v", workers, got)
		}
		for i, off := range offsets {
			if got[i] != base.Add(uint64(off)) {
				t.Errorf("match %d = %s, want %s", i, got[i], base.Add(uint64(off)))
			}
		}
	}
}

func TestScanSourceSkipsUnmapped(t *testing.T) {
	const base = memory.Address(0x10000)
	data := make([]byte, 2*DefaultWindow)
	copy(data[DefaultWindow+8:], []byte{1, 2, 3, 4})
	src := memory.NewBuffer(base, data, memory.Region{
		Start: base + DefaultWindow,
		End:   base + 2*DefaultWindow,
		Prot:  memory.ProtRead | memory.ProtExec,
	})
	got, stats, err := ScanSource(context.Background(), src, base, base+2*DefaultWindow, MustParse("01 02 03 04"), ScanOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if stats.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", stats.Skipped)
	}
	if len(got) != 1 || got[0] != base+DefaultWindow+8 {
		t.Errorf("got %v", got)
	}
}

func TestScanSourceCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	src := memory.NewBuffer(0, make([]byte, 64))
	_, _, err := ScanSource(ctx, src, 0, 64, MustParse("00"), ScanOptions{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestScanSourceLogger(t *testing.T) {
	const base = memory.Address(0x10000)
	src := memory.NewBuffer(base, make([]byte, 2*DefaultWindow), memory.Region{
		Start: base + DefaultWindow,
		End:   base + 2*DefaultWindow,
		Prot:  memory.ProtRead,
	})
	var buf bytes.Buffer
	tests := []struct {
		name   string
		logger *log.Logger
		logged bool
	}{
		{"default", nil, false},
		{"supplied", log.NewWithOptions(&buf, log.Options{Level: log.DebugLevel}), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf.Reset()
			if got := (ScanOptions{Logger: tt.logger}).withDefaults().Logger; got == nil {
				t.Fatal("withDefaults left Logger nil")
			} else if tt.logger != nil && got != tt.logger {
				t.Error("withDefaults replaced the supplied logger")
			}
			_, stats, err := ScanSource(context.Background(), src, base, base+2*DefaultWindow, MustParse("01 02"), ScanOptions{Logger: tt.logger})
			if err != nil {
				t.Fatal(err)
			}
			if stats.Skipped != 1 {
				t.Errorf("Skipped = %d, want 1", stats.Skipped)
			}
			if got := strings.Contains(buf.String(), "window skipped"); got != tt.logged {
				t.Errorf("logged = %v, want %v: %q", got, tt.logged, buf.String())
			}
		})
	}
}
