package cmd

import (
	"encoding/binary"
	"fmt"

	"github.com/spf13/cobra"

	"armrecover/internal/arm64"
	"armrecover/internal/disasm"
	"armrecover/internal/memory"
)

type decodedWord struct {
	Address   memory.Address `json:"address"`
	Word      string         `json:"word"`
	Text      string         `json:"text"`
	Class     string         `json:"class"`
	Valid     bool           `json:"valid"`
	Target    string         `json:"target,omitempty"`
	Reference string         `json:"reference,omitempty"`
}

func newDecodeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "decode <word...>",
		Short: "Decode instruction words",
		Long: `Decode instruction words given as eight hex digits in memory order
(fd7bbfa9) or as numeric values with a 0x prefix (0xa9bf7bfd).`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := parseAddr(addr)
			if err != nil {
				return err
			}
			data := make([]byte, 0, 4*len(args))
			for _, s := range args {
				w, err := parseWord(s)
				if err != nil {
					return err
				}
				data = binary.LittleEndian.AppendUint32(data, w)
			}
			src := memory.NewBuffer(base, data)
			l, err := disasm.Disassemble(src, base, len(args), disasm.Options{Reference: a.verbose || a.json})
			if err != nil {
				return err
			}
			if a.json {
				out := make([]decodedWord, len(l.Lines))
				for i, line := range l.Lines {
					out[i] = decodedWord{
						Address:   line.Inst.Address,
						Word:      fmt.Sprintf("0x%08x", line.Word),
						Text:      line.Text(),
						Class:     arm64.ClassOf(line.Word).String(),
						Valid:     line.Inst.IsValid(),
						Reference: line.Reference,
					}
					if line.Target != nil {
						out[i].Target = fmt.Sprintf("0x%x", uint64(line.Target.Address))
					}
				}
				return a.writeJSON(cmd, out)
			}
			return a.printListing(cmd, l)
		},
	}
	cmd.Flags().StringVarP(&addr, "addr", "a", "0", "Address of the first word")
	return cmd
}

func newEncodeBranchCmd(a *app) *cobra.Command {
	var (
		from, to string
		link     bool
		truncate bool
	)
	cmd := &cobra.Command{
		Use:   "encode-branch --from <addr> --to <addr>",
		Short: "Encode a B or BL between two addresses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := parseAddr(from)
			if err != nil {
				return err
			}
			dst, err := parseAddr(to)
			if err != nil {
				return err
			}
			e := arm64.Encoder{Truncate: truncate || a.cfg.Encoder.Truncate}
			encode := e.B
			if link {
				encode = e.BL
			}
			w, err := encode(src, dst)
			if err != nil {
				return err
			}
			inst := arm64.Decode(w, src)
			if a.json {
				return a.writeJSON(cmd, decodedWord{
					Address: src,
					Word:    fmt.Sprintf("0x%08x", w),
					Text:    inst.String(),
					Class:   arm64.ClassOf(w).String(),
					Valid:   inst.IsValid(),
				})
			}
			var b [4]byte
			binary.LittleEndian.PutUint32(b[:], w)
			fmt.Fprintf(cmd.OutOrStdout(), "0x%08x  % x  %s\n", w, b[:], inst)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&from, "from", "", "Address of the branch")
	f.StringVar(&to, "to", "", "Branch destination")
	f.BoolVar(&link, "link", false, "Encode BL instead of B")
	f.BoolVar(&truncate, "truncate", false, "Mask an out-of-range offset instead of failing")
	cmd.MarkFlagRequired("from")
	cmd.MarkFlagRequired("to")
	return cmd
}
