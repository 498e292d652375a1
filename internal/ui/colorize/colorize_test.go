package colorize

import (
	"bytes"
	"testing"
)

func TestLinePreservesText(t *testing.T) {
	tests := []string{
		"1000  fd 7b bf a9  stp x29, x30, [sp, #-16]!",
		"1004  00 00 00 94  bl #0x1004  ; call 0x1004 <entry>",
		"entry:",
		"",
		"not a listing line",
	}
	for _, in := range tests {
		t.Run(in, func(t *testing.T) {
			if got := StripANSI(Line(in)); got != in {
				t.Errorf("StripANSI(Line(%q)) = %q", in, got)
			}
		})
	}
}

func TestEnabled(t *testing.T) {
	if Enabled(&bytes.Buffer{}) {
		t.Error("buffer treated as a terminal")
	}
	t.Setenv("ARMRECOVER_NO_COLOR", "1")
	if Enabled(nil) {
		t.Error("colors enabled despite ARMRECOVER_NO_COLOR")
	}
}

func TestStripANSI(t *testing.T) {
	if got := StripANSI("\x1b[38;5;240mabc\x1b[0m d"); got != "abc d" {
		t.Errorf("StripANSI() = %q", got)
	}
}
