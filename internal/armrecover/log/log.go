// Package log routes the slog default logger through the charmbracelet
// logger and reports panics at the binary entry point.
package log

import (
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"sync/atomic"

	charmlog "github.com/charmbracelet/log"
)

var installed atomic.Bool

// Install makes lg the handler behind slog.Default.
func Install(lg *charmlog.Logger) {
	slog.SetDefault(slog.New(lg))
	installed.Store(true)
}

func Installed() bool { return installed.Load() }

// RecoverPanic reports a panic raised in name with its stack, then runs
// cleanup. It must be deferred directly.
func RecoverPanic(name string, cleanup func()) {
	r := recover()
	if r == nil {
		return
	}
	stack := string(debug.Stack())
	if Installed() {
		slog.Error("panic", "in", name, "value", r, "stack", stack)
	} else {
		fmt.Fprintf(os.Stderr, "panic in %s: %v\n%s", name, r, stack)
	}
	if cleanup != nil {
		cleanup()
	}
}
