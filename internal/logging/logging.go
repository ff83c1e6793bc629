// Package logging bootstraps the process-wide zerolog logger the same way
// cmd/cryptorun's main.go does: RFC3339 timestamps, output to stderr
// (console writer on a terminal, JSON lines otherwise).
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"
)

// New returns a logger writing to stderr, with the given component name
// attached to every record. Output is colorized console text when stderr is
// an interactive terminal (same check cmd/cryptorun's main.go uses to decide
// whether to offer its interactive menu), and plain JSON lines otherwise —
// so a process running under a supervisor or piped into a log collector
// gets machine-parseable output instead of ANSI escapes.
func New(component string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	var base zerolog.Logger
	if term.IsTerminal(int(os.Stderr.Fd())) {
		base = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		base = zerolog.New(os.Stderr)
	}
	return base.With().
		Timestamp().
		Str("component", component).
		Logger()
}
