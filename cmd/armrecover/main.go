package main

import (
	"log/slog"
	"net/http"
	_ "net/http/pprof"
	"os"

	"armrecover/internal/armrecover/cmd"
	armlog "armrecover/internal/armrecover/log"
	"armrecover/internal/logging"
)

// ARMRECOVER_PROFILE=1 serves pprof on localhost:6060; any other non-empty
// value is taken as the listen address.
func profileAddr() string {
	switch v := os.Getenv("ARMRECOVER_PROFILE"); v {
	case "":
		return ""
	case "1":
		return "localhost:6060"
	default:
		return v
	}
}

func main() {
	armlog.Install(logging.New(os.Stderr, logging.FromEnv()))
	defer armlog.RecoverPanic("main", func() { os.Exit(2) })

	if addr := profileAddr(); addr != "" {
		go func() {
			slog.Info("serving pprof", "addr", addr)
			if err := http.ListenAndServe(addr, nil); err != nil {
				slog.Error("pprof listener stopped", "err", err)
			}
		}()
	}

	os.Exit(cmd.Execute())
}
