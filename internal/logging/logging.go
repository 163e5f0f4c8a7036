// Package logging builds the single structured logger every component in
// this repository is handed at construction time. Nothing here keeps a
// package-level global: callers own the *log.Logger they get back and
// thread it through, the way the rest of this codebase passes its
// collaborators in rather than reaching for ambient state.
package logging

import (
	"io"
	"os"

	"github.com/charmbracelet/log"
)

// Options controls the logger New builds.
type Options struct {
	// Writer defaults to os.Stderr.
	Writer io.Writer
	// Level defaults to log.InfoLevel.
	Level log.Level
	// Prefix is attached as the "component" field, e.g. "tuner" or "hfp".
	Prefix string
	// ReportTimestamp mirrors the charmbracelet/log option of the same name.
	ReportTimestamp bool
}

// New returns a logger configured for one component. Two calls with
// different Prefix values are independent loggers, not children of a
// shared global, so tests can swap in a buffer without touching process
// state.
func New(opts Options) *log.Logger {
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}
	l := log.NewWithOptions(w, log.Options{
		ReportTimestamp: opts.ReportTimestamp,
		Level:           opts.Level,
	})
	if opts.Prefix != "" {
		l = l.With("component", opts.Prefix)
	}
	return l
}

// Discard returns a logger that throws everything away, for tests that
// don't care about log output but still need to satisfy a constructor.
func Discard() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{})
}
