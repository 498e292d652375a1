package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"armrecover/internal/analysis"
	"armrecover/internal/config"
	"armrecover/internal/disasm"
	"armrecover/internal/memory"
	"armrecover/internal/signature"
)

func newDisasmCmd(a *app) *cobra.Command {
	var (
		addr     string
		symbol   string
		count    int
		function bool
	)
	cmd := &cobra.Command{
		Use:   "disasm <elf>",
		Short: "Disassemble code from an ELF image",
		Long: `Disassemble count instructions from --addr or --symbol. Without either the
listing starts at the entry point.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			im, s, err := a.openImage(args[0])
			if err != nil {
				return err
			}
			defer im.Close()

			start := im.Entry()
			switch {
			case symbol != "":
				var ok bool
				if start, ok = im.Lookup(symbol); !ok {
					return fmt.Errorf("symbol %q not found", symbol)
				}
			case addr != "":
				if start, err = parseAddr(addr); err != nil {
					return err
				}
			}
			if function {
				fn, ok := s.FindFunctionStart(start)
				if !ok {
					return fmt.Errorf("no function start found before 0x%x", uint64(start))
				}
				start = fn
			}
			l, err := disasm.Disassemble(im, start, count, disasm.Options{
				Symbols:   symbolLookup(im),
				Reference: a.verbose,
			})
			if err != nil {
				return err
			}
			return a.printListing(cmd, l)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&addr, "addr", "a", "", "Start address")
	f.StringVarP(&symbol, "symbol", "s", "", "Start at a symbol; name@plt selects a PLT stub")
	f.IntVarP(&count, "count", "n", 32, "Instructions to decode")
	f.BoolVarP(&function, "function", "f", false, "Back up to the start of the enclosing function")
	return cmd
}

func newScanCmd(a *app) *cobra.Command {
	var patterns []string
	cmd := &cobra.Command{
		Use:   "scan <elf>",
		Short: "Recover functions, vtables and RTTI names",
		Long: `Run every detector over the image and print the fused findings. With
--pattern only the given byte patterns are searched, each reported at its
match addresses.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			im, s, err := a.openImage(args[0])
			if err != nil {
				return err
			}
			defer im.Close()

			if len(patterns) > 0 {
				return a.scanPatterns(cmd, s, patterns)
			}
			findings, err := s.Run(cmd.Context(), analysis.DefaultChain())
			if err != nil {
				return err
			}
			return a.printFindings(cmd, s, findings)
		},
	}
	cmd.Flags().StringArrayVarP(&patterns, "pattern", "p", nil, `Byte pattern such as "FD 7B ?? A9"; repeatable`)
	return cmd
}

type patternMatch struct {
	Pattern string         `json:"pattern"`
	Address memory.Address `json:"address"`
	Region  string         `json:"region"`
}

// scanPatterns reports raw matches over executable regions, without
// prologue validation.
func (a *app) scanPatterns(cmd *cobra.Command, s *analysis.Session, texts []string) error {
	var all []patternMatch
	for _, text := range texts {
		p, err := signature.Parse(text)
		if err != nil {
			return err
		}
		for _, r := range memory.ExecutableRegions(s.Source()) {
			addrs, _, err := signature.ScanSource(cmd.Context(), s.Source(), r.Start, r.End, p, signature.ScanOptions{
				Window:     s.Config().Scan.Window,
				Workers:    s.Config().Scan.Workers,
				MaxMatches: s.Config().Scan.MaxCandidates,
				Logger:     s.Logger(),
			})
			if err != nil {
				return err
			}
			for _, addr := range addrs {
				all = append(all, patternMatch{Pattern: p.String(), Address: addr, Region: r.Name})
			}
		}
	}
	if a.json {
		return a.writeJSON(cmd, all)
	}
	for _, m := range all {
		fmt.Fprintf(cmd.OutOrStdout(), "0x%x  %-10s  %s\n", uint64(m.Address), m.Region, m.Pattern)
	}
	return nil
}

func newVTablesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vtables <elf>",
		Short: "List virtual tables with their slots",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			im, s, err := a.openImage(args[0])
			if err != nil {
				return err
			}
			defer im.Close()

			if _, err := s.Run(cmd.Context(), analysis.NewDetectorChain(analysis.VTableDetector{})); err != nil {
				return err
			}
			tables := s.VTables().All()
			if a.json {
				return a.writeJSON(cmd, tables)
			}
			lookup := symbolLookup(im)
			out := cmd.OutOrStdout()
			for _, v := range tables {
				class := v.ClassName
				if v.RTTI != nil && v.RTTI.Demangled != "" {
					class = v.RTTI.Demangled
				}
				if class == "" {
					class = "?"
				}
				fmt.Fprintf(out, "0x%x  %s  (%d entries, %d pure)\n", uint64(v.Address), class, v.EntryCount(), v.PureVirtualCount())
				for _, e := range v.Entries {
					name, _ := lookup(e.Target)
					if e.PureVirtual {
						name = "pure virtual"
					}
					fmt.Fprintf(out, "  [%3d] 0x%x  %s\n", e.Index, uint64(e.Target), name)
				}
			}
			return nil
		},
	}
	return cmd
}

func newProloguesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "prologues <elf>",
		Short: "List structural function prologues",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			im, s, err := a.openImage(args[0])
			if err != nil {
				return err
			}
			defer im.Close()

			findings, err := s.Run(cmd.Context(), analysis.NewDetectorChain(analysis.PrologueDetector{}))
			if err != nil {
				return err
			}
			return a.printFindings(cmd, s, findings)
		},
	}
}

func newSchemaCmd(_ *app) *cobra.Command {
	return &cobra.Command{
		Use:    "schema",
		Short:  "Generate JSON schema for configuration",
		Long:   "Generate JSON schema for the armrecover configuration file",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			bts, err := config.Schema()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(bts))
			return nil
		},
	}
}
