// Package diag provides the diagnostics sink used across bld: a single
// structured logger plus the error-kind taxonomy from the design (parse,
// semantic, deferred, I/O, process, protocol).
package diag

import (
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Kind classifies a diagnostic per the error handling design.
type Kind int

const (
	Parse Kind = iota
	Semantic
	Deferred
	IO
	Process
	Protocol
)

func (k Kind) String() string {
	switch k {
	case Parse:
		return "parse error"
	case Semantic:
		return "semantic error"
	case Deferred:
		return "deferred failure"
	case IO:
		return "I/O error"
	case Process:
		return "process error"
	case Protocol:
		return "protocol error"
	default:
		return "error"
	}
}

// Error is a located, kinded diagnostic. It wraps an underlying cause with
// github.com/pkg/errors so Cause()/Unwrap() chains stay intact.
type Error struct {
	Kind Kind
	File string
	Line int
	Col  int
	Err  error
}

func (e *Error) Error() string {
	loc := ""
	if e.File != "" {
		if e.Line > 0 {
			loc = fmt.Sprintf("%s:%d:%d: ", e.File, e.Line, e.Col)
		} else {
			loc = e.File + ": "
		}
	}
	return fmt.Sprintf("%s%s: %v", loc, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a located diagnostic, wrapping err with pkg/errors so stack
// context is preserved for higher layers that call errors.Cause.
func New(kind Kind, file string, line, col int, err error) *Error {
	return &Error{Kind: kind, File: file, Line: line, Col: col, Err: errors.WithStack(err)}
}

// Newf is the fmt.Errorf-shaped convenience form of New.
func Newf(kind Kind, file string, line, col int, format string, args ...any) *Error {
	return New(kind, file, line, col, fmt.Errorf(format, args...))
}

// DeferredError marks a semantic error to be re-raised from the compile step
// after the compiler has had a chance to print its own diagnostic first.
type DeferredError struct {
	Underlying error
}

func (d *DeferredError) Error() string { return d.Underlying.Error() }
func (d *DeferredError) Unwrap() error { return d.Underlying }

// Logger is the process-wide diagnostics sink. It is safe for concurrent use
// (logrus.Logger already serializes writes).
type Logger struct {
	*logrus.Logger
}

// New default logger: text formatter to stderr, info level and above, or
// debug level and above when verbose.
func NewLogger(verbose bool) *Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	if verbose {
		l.SetLevel(logrus.DebugLevel)
	} else {
		l.SetLevel(logrus.InfoLevel)
	}
	return &Logger{l}
}

// Discard returns a logger that drops everything, for tests.
func Discard() *Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return &Logger{l}
}

// Rule returns a field-tagged entry the way moby-moby daemon packages tag
// log lines with subsystem context.
func (l *Logger) Rule(target, rule string) *logrus.Entry {
	return l.WithFields(logrus.Fields{"target": target, "rule": rule})
}

// Phase returns a field-tagged entry for scheduler phase transitions.
func (l *Logger) Phase(phase string) *logrus.Entry {
	return l.WithField("phase", phase)
}

// Session returns a field-tagged entry carrying a per-invocation build
// session ID, the way moby-moby's daemon tags log lines spanning a single
// operation across concurrent goroutines.
func (l *Logger) Session(id string) *logrus.Entry {
	return l.WithField("session", id)
}
