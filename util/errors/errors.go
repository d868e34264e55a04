// Package errors wraps stdlib errors with a call-stack trace, matching the
// Trace/Stack idiom used throughout the daemon packages.
package errors

import (
	"fmt"
	"runtime"
	"strings"
)

// Error carries an underlying cause plus an accumulated stack of Trace
// annotations, so a deeply nested failure can be reported with the full
// call path instead of just the innermost message.
type Error struct {
	cause   error
	traces  []string
	callers []uintptr
}

// Trace wraps err with a formatted annotation and records the caller's
// program counter the first time it is called on a given error.
func Trace(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	msg := fmt.Sprintf(format, args...)
	if e, ok := err.(*Error); ok {
		e.traces = append(e.traces, msg)
		return e
	}
	pcs := make([]uintptr, 32)
	n := runtime.Callers(2, pcs)
	return &Error{
		cause:   err,
		traces:  []string{msg},
		callers: pcs[:n],
	}
}

// New creates a new traced error, analogous to errors.New.
func New(format string, args ...interface{}) error {
	return Trace(fmt.Errorf(format, args...), "")
}

func (e *Error) Error() string {
	if len(e.traces) == 1 && e.traces[0] == "" {
		return e.cause.Error()
	}
	return fmt.Sprintf("%s: %s", strings.Join(e.traces, " <- "), e.cause.Error())
}

// Unwrap allows errors.Is/errors.As to see through the trace wrapper.
func (e *Error) Unwrap() error {
	return e.cause
}

// Stack renders the recorded call stack for err, or "" if err carries none.
func Stack(err error) string {
	e, ok := err.(*Error)
	if !ok || e == nil {
		return ""
	}
	frames := runtime.CallersFrames(e.callers)
	var b strings.Builder
	for {
		f, more := frames.Next()
		fmt.Fprintf(&b, "%s\n\t%s:%d\n", f.Function, f.File, f.Line)
		if !more {
			break
		}
	}
	return b.String()
}

// Cause returns the innermost error wrapped by err, unwrapping any number
// of Trace layers.
func Cause(err error) error {
	for {
		e, ok := err.(*Error)
		if !ok {
			return err
		}
		err = e.cause
	}
}
