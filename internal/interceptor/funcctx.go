// Copyright The Gumgo Authors
// SPDX-License-Identifier: Apache-2.0

package interceptor

import (
	"sync/atomic"

	"github.com/gumgo/gumgo/internal/backend"
)

// funcKind distinguishes spec.md §3's two function-context kinds.
type funcKind int

const (
	// kindDefault contexts carry a listener list and optionally a
	// replacement; they install an on-leave trampoline whenever listeners
	// or a replacement need it.
	kindDefault funcKind = iota
	// kindFast contexts are replacement-only: no shadow-stack frame, no
	// listener dispatch (spec.md glossary "Fast kind").
	kindFast
)

// funcContext is spec.md §3's "Function context": the per-target-address
// state the interceptor's address map holds one of per intercepted
// function.
type funcContext struct {
	target uintptr
	kind   funcKind

	trampoline *backend.Trampoline

	// invokeOriginalAddr is the address that resumes the original,
	// unmodified prologue bytes.
	invokeOriginalAddr uintptr
	// onLeaveAddr is the address installed as a caller's return address
	// when the engine needs to regain control on return; zero if this
	// context never traps on leave.
	onLeaveAddr uintptr
	// overwrittenPrologueLen is the number of prologue bytes the backend
	// overwrote with the redirect jump.
	overwrittenPrologueLen int

	listeners listenerList

	replacementAddr uintptr
	replacementData any

	activated bool
	destroyed bool

	// usageCounter tracks how many threads are presently executing through
	// this context's trampoline; spec.md §3 invariant: trampoline memory
	// may be freed only once this reaches zero.
	usageCounter atomic.Int64
}

func newFuncContext(target uintptr, kind funcKind) *funcContext {
	return &funcContext{target: target, kind: kind}
}

// hasOnLeaveListener reports whether any currently-attached listener wants
// the leave callback; recomputed from the current snapshot, never cached
// independently of it.
func (c *funcContext) hasOnLeaveListener() bool {
	return c.listeners.hasOnLeave()
}

// isEmpty reports spec.md §4.2's removal condition: no replacement and no
// live listener entries.
func (c *funcContext) isEmpty() bool {
	return c.replacementAddr == 0 && c.listeners.isEmpty()
}

func (c *funcContext) incUsage() { c.usageCounter.Add(1) }
func (c *funcContext) decUsage() { c.usageCounter.Add(-1) }
func (c *funcContext) usage() int64 { return c.usageCounter.Load() }
