package cmd

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss/v2"
	"github.com/ianlancetaylor/demangle"
	"github.com/spf13/cobra"

	"armrecover/internal/analysis"
	"armrecover/internal/disasm"
	"armrecover/internal/elfx"
	"armrecover/internal/memory"
	"armrecover/internal/ui/colorize"
)

// openImage opens an ELF file and prepares an analysis session whose name
// service knows the file's symbols.
func (a *app) openImage(path string) (*elfx.Image, *analysis.Session, error) {
	im, err := elfx.Open(path)
	if err != nil {
		return nil, nil, err
	}
	a.logger().Debug("image opened", "path", path, "regions", len(im.Regions()), "symbols", len(im.Symbols()), "plt", len(im.PLT()))
	s := analysis.NewSession(im, a.cfg,
		analysis.SessionLogger(a.logger()),
		analysis.SessionNames(symbolNames(im)),
	)
	return im, s, nil
}

// symbolNames keys the image's symbols by the synthetic function name a
// finding at the same address carries.
func symbolNames(im *elfx.Image) analysis.StaticNames {
	names := make(analysis.StaticNames)
	for _, sym := range im.Symbols() {
		key := analysis.FunctionName(sym.Addr)
		if _, ok := names[key]; ok {
			continue
		}
		desc := "symtab"
		if sym.Dynamic {
			desc = "dynsym"
		}
		names[key] = analysis.NameInfo{Name: displayName(sym.Name), Description: desc}
	}
	return names
}

// displayName demangles C++ symbols, leaving other names untouched.
func displayName(name string) string {
	base, plt := strings.CutSuffix(name, "@plt")
	out := demangle.Filter(base, demangle.NoParams, demangle.NoClones)
	if plt {
		out += "@plt"
	}
	return out
}

// symbolLookup names addresses for listings.
func symbolLookup(im *elfx.Image) disasm.SymbolLookup {
	return func(addr memory.Address) (string, bool) {
		name, ok := im.SymbolAt(addr)
		if !ok {
			return "", false
		}
		return displayName(name), true
	}
}

func (a *app) printListing(cmd *cobra.Command, l *disasm.Listing) error {
	text := l.Format()
	if a.color(cmd.OutOrStdout()) {
		text = colorize.Listing(text)
	}
	_, err := fmt.Fprint(cmd.OutOrStdout(), text)
	return err
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("252"))
	addrStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	highStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	mediumStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	lowStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	nameStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("81"))
)

// printFindings renders a findings table, or JSON with --json.
func (a *app) printFindings(cmd *cobra.Command, s *analysis.Session, findings []analysis.Finding) error {
	type row struct {
		analysis.Finding
		Symbol string `json:"symbol,omitempty"`
	}
	rows := make([]row, len(findings))
	for i, f := range findings {
		rows[i].Finding = f
		if s.Names() != nil {
			if info, ok := s.Names().Lookup(f.Name); ok {
				rows[i].Symbol = info.Name
			}
		}
	}
	if a.json {
		return a.writeJSON(cmd, rows)
	}

	out := cmd.OutOrStdout()
	color := a.color(out)
	render := func(st lipgloss.Style, width int, v string) string {
		cell := fmt.Sprintf("%-*s", width, v)
		if color {
			return st.Render(cell)
		}
		return cell
	}
	fmt.Fprintln(out, strings.TrimRight(render(headerStyle, 18, "ADDRESS")+"  "+render(headerStyle, 10, "CONF")+"  "+
		render(headerStyle, 10, "METHOD")+"  "+render(headerStyle, 9, "CATEGORY")+"  "+render(headerStyle, 0, "NAME"), " "))
	for _, r := range rows {
		conf := lowStyle
		switch {
		case r.IsHigh():
			conf = highStyle
		case r.IsMedium():
			conf = mediumStyle
		}
		name := r.Name
		if r.Symbol != "" {
			name += " (" + r.Symbol + ")"
		}
		line := render(addrStyle, 18, fmt.Sprintf("0x%x", uint64(r.Address))) + "  " +
			render(conf, 10, fmt.Sprintf("%.2f", r.Confidence)) + "  " +
			render(lipgloss.NewStyle(), 10, string(r.Method)) + "  " +
			render(lipgloss.NewStyle(), 9, r.Category) + "  " +
			render(nameStyle, 0, name)
		fmt.Fprintln(out, line)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "%d findings\n", len(rows))
	return nil
}
