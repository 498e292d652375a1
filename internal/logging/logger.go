// Package logging builds charmbracelet loggers configured from the
// environment, with optional output to a timestamped file.
package logging

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"
)

const defaultPrefix = "armrecover "

// Env is the logger configuration taken from the environment:
//
//	ARMRECOVER_LOG_LEVEL    debug, info, warn, error (default info)
//	ARMRECOVER_LOG_PREFIX   message prefix (default "armrecover ")
//	ARMRECOVER_LOG_TO_FILE  "1" writes to armrecover-<time>.log
type Env struct {
	Level  string
	Prefix string
	ToFile bool
}

// FromEnv reads Env from the process environment.
func FromEnv() Env {
	return Env{
		Level:  os.Getenv("ARMRECOVER_LOG_LEVEL"),
		Prefix: os.Getenv("ARMRECOVER_LOG_PREFIX"),
		ToFile: os.Getenv("ARMRECOVER_LOG_TO_FILE") == "1",
	}
}

// LoggerCloser is a logger that owns its output.
type LoggerCloser struct {
	*log.Logger
	closer io.Closer
}

func (lc *LoggerCloser) Close() error {
	if lc.closer == nil {
		return nil
	}
	err := lc.closer.Close()
	lc.closer = nil
	return err
}

// ParseLevel maps a level name to a log level. Unknown names are info.
func ParseLevel(level string) log.Level {
	lv, err := log.ParseLevel(level)
	if err != nil || lv == log.FatalLevel {
		return log.InfoLevel
	}
	return lv
}

// New builds a logger on w. The caller keeps ownership of w.
func New(w io.Writer, e Env) *log.Logger {
	prefix := e.Prefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	return log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.Kitchen,
		Level:           ParseLevel(e.Level),
		Prefix:          prefix,
	})
}

// Open builds the logger described by e. With ToFile set the output is a
// new file in the working directory that Close releases; otherwise it is
// fallback.
func Open(e Env, fallback io.Writer) (*LoggerCloser, error) {
	if !e.ToFile {
		return &LoggerCloser{Logger: New(fallback, e)}, nil
	}
	name := fmt.Sprintf("armrecover-%s.log", time.Now().Format("20060102-150405"))
	f, err := os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return &LoggerCloser{Logger: New(f, e), closer: f}, nil
}

// Discard returns a logger that drops everything. Library packages use it
// when the caller supplies none.
func Discard() *log.Logger {
	return log.New(io.Discard)
}

func IsDebug() bool {
	return ParseLevel(FromEnv().Level) == log.DebugLevel
}
