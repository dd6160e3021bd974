// Copyright The Gumgo Authors
// SPDX-License-Identifier: Apache-2.0

// Package gumutil carries the small set of panic-on-bug helpers and the
// context-scoped logger used throughout gumgo. Violations asserted here are
// programming errors, per spec.md §7 ("internal invariant violations...
// abort"); none of them are recoverable conditions a caller should catch.
package gumutil

import "fmt"

// Assert panics with msg if cond is false. Use for invariants that must hold
// regardless of caller input — a failing Assert means gumgo itself is wrong,
// not that the caller passed bad data.
func Assert(cond bool, msg string, args ...any) {
	if !cond {
		panic(fmt.Sprintf("Assertion failed: "+msg, args...))
	}
}

// AssertType asserts that v is of type T and returns it, panicking with a
// descriptive message otherwise.
func AssertType[T any](v any) T {
	t, ok := v.(T)
	if !ok {
		var zero T
		panic(fmt.Sprintf("Type assertion failed: expected %T, got %T", zero, v))
	}
	return t
}

// ShouldNotReachHere panics unconditionally; use in switch default branches
// over closed enumerations where every case is already handled.
func ShouldNotReachHere(args ...any) {
	if len(args) == 0 {
		panic("Should not reach here")
	}
	panic(fmt.Sprintf("Should not reach here: %v", fmt.Sprint(args...)))
}

// Unimplemented panics marking a code path intentionally not yet built.
func Unimplemented(what string) {
	panic("Unimplemented: " + what)
}
