// Package cmd is the armrecover command line.
package cmd

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"os/signal"

	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/log"
	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"

	"armrecover/internal/config"
	"armrecover/internal/logging"
	"armrecover/internal/ui/colorize"
)

// app carries what every subcommand shares once flags are parsed.
type app struct {
	cfg     config.Config
	log     *logging.LoggerCloser
	json    bool
	verbose bool

	configPath string
	logLevel   string
	workers    int
}

func (a *app) logger() *log.Logger {
	if a.log == nil {
		return logging.Discard()
	}
	return a.log.Logger
}

// setup loads the configuration and builds the logger.
func (a *app) setup(cmd *cobra.Command) error {
	a.cfg = config.Default()
	if a.configPath != "" {
		cfg, err := config.Load(a.configPath)
		if err != nil {
			return err
		}
		a.cfg = cfg
	}
	if cmd.Flags().Changed("workers") {
		a.cfg.Scan.Workers = a.workers
	}
	env := logging.FromEnv()
	switch {
	case a.logLevel != "":
		env.Level = a.logLevel
	case env.Level == "":
		env.Level = a.cfg.Log.Level
	}
	env.ToFile = env.ToFile || a.cfg.Log.File
	lc, err := logging.Open(env, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	a.log = lc
	return nil
}

func (a *app) close() {
	if a.log != nil {
		a.log.Close()
	}
}

// writeJSON emits v indented on the command output.
func (a *app) writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// color reports whether listings on w get highlighted.
func (a *app) color(w io.Writer) bool {
	return !a.json && colorize.Enabled(w)
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "armrecover",
		Short: "Recover structure from stripped AArch64 binaries",
		Long: `armrecover decodes and encodes AArch64 instructions and recovers function
starts, virtual tables and RTTI names from stripped ELF images.`,
		Example: `
# Decode raw instruction words
armrecover decode fd7bbfa9 910003fd

# List recovered functions and vtables as JSON
armrecover scan --json libgame.so

# Search for a byte pattern
armrecover scan -p "FD 7B ?? A9" libgame.so
  `,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.close()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&a.configPath, "config", "c", "", "JSON configuration file")
	pf.StringVarP(&a.logLevel, "log-level", "l", "", "Log level: debug, info, warn, error")
	pf.BoolVarP(&a.json, "json", "j", false, "Output results as JSON")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "Show the x/arch reference rendering in listings")
	pf.IntVarP(&a.workers, "workers", "w", 0, "Parallel scan windows; 0 means GOMAXPROCS")

	root.AddCommand(
		newDecodeCmd(a),
		newEncodeBranchCmd(a),
		newDisasmCmd(a),
		newScanCmd(a),
		newVTablesCmd(a),
		newProloguesCmd(a),
		newSchemaCmd(a),
	)
	return root
}

// Execute runs the command line and returns the process exit code. fang
// renders help and errors when stdout is a terminal; piped output uses
// cobra directly.
func Execute() int {
	root := NewRootCmd()
	if !term.IsTerminal(os.Stdout.Fd()) {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		if err := root.ExecuteContext(ctx); err != nil {
			return 1
		}
		return 0
	}
	if err := fang.Execute(
		context.Background(),
		root,
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		return 1
	}
	return 0
}
