// Copyright The Gumgo Authors
// SPDX-License-Identifier: Apache-2.0

// Package gumex provides stackful wrapped errors for gumgo's internal
// plumbing (config decode, backend/allocator initialization). It is
// deliberately not used by internal/interceptor's public attach/detach/
// replace/revert operations: spec.md §7 requires those to return the closed
// taxonomy of sentinel errors in internal/interceptor/errors.go, compared
// with errors.Is, not arbitrary wrapped errors.
package gumex

import (
	"errors"
	"fmt"
	"os"
	"runtime"
)

const maxFrames = 32

// stackfulError wraps an error with a captured call stack, in the style of
// "[N] file.go:line func" entries, most-recent call first.
type stackfulError struct {
	msg   string
	cause error
	frame []string
}

func captureFrames(skip int) []string {
	pcs := make([]uintptr, maxFrames)
	n := runtime.Callers(skip+2, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	out := make([]string, 0, n)
	i := 0
	for {
		f, more := frames.Next()
		out = append(out, fmt.Sprintf("[%d] %s:%d %s", i, f.File, f.Line, f.Function))
		i++
		if !more {
			break
		}
	}
	return out
}

func (e *stackfulError) Error() string {
	if e.cause != nil {
		return e.msg + ": " + e.cause.Error()
	}
	return e.msg
}

func (e *stackfulError) Unwrap() error {
	return e.cause
}

// New returns a new stackful error with the given message.
func New(msg string) error {
	return &stackfulError{msg: msg, frame: captureFrames(1)}
}

// Newf returns a new stackful error with a formatted message.
func Newf(format string, args ...any) error {
	return &stackfulError{msg: fmt.Sprintf(format, args...), frame: captureFrames(1)}
}

// Wrap wraps cause with a captured stack frame, preserving errors.Is/As
// traversal through cause.
func Wrap(cause error) error {
	return &stackfulError{cause: cause, frame: captureFrames(1)}
}

// Wrapf wraps cause with a formatted message and a captured stack frame.
func Wrapf(cause error, format string, args ...any) error {
	return &stackfulError{msg: fmt.Sprintf(format, args...), cause: cause, frame: captureFrames(1)}
}

func (e *stackfulError) Is(target error) bool {
	return e.cause != nil && errors.Is(e.cause, target)
}

// Fatal prints err (with its stack, if stackful) and exits the process with
// status 1. Passing a nil or non-stackful error is itself a programming
// error and panics instead of exiting, since it means a caller reached a
// "fatal" path without actually capturing a diagnosable error.
func Fatal(err error) {
	var se *stackfulError
	if err == nil || !errors.As(err, &se) {
		panic(fmt.Sprintf("gumex.Fatal called with non-stackful error: %v", err))
	}
	fmt.Fprintln(os.Stderr, err.Error())
	fmt.Fprintln(os.Stderr, "Stack:")
	for _, f := range se.frame {
		fmt.Fprintln(os.Stderr, f)
	}
	os.Exit(1)
}

// Fatalf formats a message, wraps it as a stackful error, and calls Fatal.
func Fatalf(format string, args ...any) {
	Fatal(Newf(format, args...))
}
