// Package colorize highlights disassembly listings for terminals.
package colorize

import (
	"io"
	"os"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/charmbracelet/lipgloss/v2"
	"github.com/charmbracelet/x/term"
)

var (
	addrStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	bytesStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("236"))
	commentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
	labelStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))
)

// Enabled reports whether w is a terminal and colors are not disabled
// through ARMRECOVER_NO_COLOR or NO_COLOR.
func Enabled(w io.Writer) bool {
	if os.Getenv("ARMRECOVER_NO_COLOR") != "" || os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(f.Fd())
}

// lexer returns an assembly lexer, ARM first.
func lexer() chroma.Lexer {
	for _, name := range []string{"armasm", "gas", "nasm"} {
		if l := lexers.Get(name); l != nil {
			return chroma.Coalesce(l)
		}
	}
	return nil
}

func style() *chroma.Style {
	for _, name := range []string{Dark.Name, "dracula", "monokai"} {
		if s := styles.Get(name); s != nil {
			return s
		}
	}
	return styles.Fallback
}

func formatter() chroma.Formatter {
	for _, name := range []string{"terminal16m", "terminal256"} {
		if f := formatters.Get(name); f != nil {
			return f
		}
	}
	return formatters.Fallback
}

// Code highlights assembly text. On any lexer failure the input is
// returned unchanged.
func Code(code string) string {
	l := lexer()
	if l == nil {
		return code
	}
	it, err := l.Tokenise(nil, code)
	if err != nil {
		return code
	}
	var b strings.Builder
	if err := formatter().Format(&b, style(), it); err != nil {
		return code
	}
	out := b.String()
	// lexers append a newline, possibly inside an escape sequence
	if i := strings.LastIndexByte(out, '\n'); i >= 0 && !strings.HasSuffix(code, "\n") {
		out = out[:i] + out[i+1:]
	}
	return out
}

// Line highlights one listing line of the form
//
//	<addr>  <b0 b1 b2 b3>  <mnemonic operands>  ; <comment>
//
// Labels ("name:") and lines of another shape get a single style.
func Line(line string) string {
	if line == "" {
		return line
	}
	if strings.HasSuffix(line, ":") && !strings.Contains(line, " ") {
		return labelStyle.Render(line)
	}
	addr, rest, ok := strings.Cut(line, "  ")
	if !ok || !isHex(addr) || len(rest) < 11 {
		return Code(line)
	}
	raw, rest := rest[:11], strings.TrimPrefix(rest[11:], "  ")
	text, comment, hasComment := strings.Cut(rest, "  ; ")

	var b strings.Builder
	b.WriteString(addrStyle.Render(addr))
	b.WriteString("  ")
	b.WriteString(bytesStyle.Render(raw))
	b.WriteString("  ")
	b.WriteString(Code(text))
	if hasComment {
		b.WriteString("  ")
		b.WriteString(commentStyle.Render("; " + comment))
	}
	return b.String()
}

// Listing highlights every line of a formatted listing.
func Listing(text string) string {
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = Line(l)
	}
	return strings.Join(lines, "\n")
}

func isHex(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F') {
			return false
		}
	}
	return true
}

// StripANSI removes SGR escape sequences.
func StripANSI(s string) string {
	var b strings.Builder
	esc := false
	for _, r := range s {
		switch {
		case r == '\x1b':
			esc = true
		case esc:
			if r == 'm' {
				esc = false
			}
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
