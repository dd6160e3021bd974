// Copyright The Gumgo Authors
// SPDX-License-Identifier: Apache-2.0

// Package backend declares the architecture-specific code generator
// interface spec.md §6 calls the "backend": the one external collaborator
// the core is explicitly forbidden from reimplementing itself ("The core
// does not disassemble or relocate arbitrary instruction streams itself; it
// delegates redirect synthesis to the backend", spec.md §1). gumgo ships one
// implementation, internal/backend/amd64, so the core is exercisable
// end-to-end; internal/interceptor only ever depends on this interface.
package backend

import (
	"errors"
	"unsafe"
)

// ErrWrongSignature is returned by CreateTrampoline and PrologueLength when
// a target's prologue cannot be hooked: too short to hold a redirect,
// containing a branch that lands inside the overwrite window, or containing
// an operand (e.g. RIP-relative on amd64) that cannot survive relocation.
// internal/interceptor/errors.go aliases this as its own ErrWrongSignature
// so callers never need to import this package to compare with errors.Is.
var ErrWrongSignature = errors.New("backend: prologue cannot be hooked")

// TrampolineKind selects how much machinery a context's trampoline needs.
type TrampolineKind int

const (
	// KindDefault trampolines dispatch through the listener/replacement
	// engine and may install an on-leave trampoline.
	KindDefault TrampolineKind = iota
	// KindFast trampolines exist purely to redirect to a replacement, with
	// no shadow-stack frame and no on-leave trampoline.
	KindFast
)

// Trampoline is the backend-owned generated code and bookkeeping for one
// function context. internal/interceptor treats its fields as opaque except
// where documented.
type Trampoline struct {
	// Kind is the trampoline kind this trampoline was generated for.
	Kind TrampolineKind
	// OnInvokeAddr is the address the patched prologue jumps to.
	OnInvokeAddr uintptr
	// OnLeaveAddr is the address installed as a caller's return address
	// when the engine needs to regain control on return. Zero for
	// KindFast trampolines, which never trap on leave.
	OnLeaveAddr uintptr
	// InvokeOriginalAddr is the address that resumes the original,
	// unmodified prologue instructions (the "invoke original"
	// continuation spec.md's data model calls out).
	InvokeOriginalAddr uintptr
	// OverwrittenPrologueLen is the length of the whole instructions at the
	// start of the target's prologue that the redirect jump covers; also the
	// number of bytes DeactivateTrampoline restores.
	OverwrittenPrologueLen int
	// code is the backend's private code-allocator handle; opaque to
	// internal/interceptor.
	code unsafe.Pointer
	// Grafted is true if this trampoline was adopted from a pre-existing
	// compiler-inserted stub (ClaimGraftedTrampoline) rather than
	// generated fresh.
	Grafted bool
}

// SetCode stashes the backend's private allocator handle; only backends call
// this, never internal/interceptor.
func (t *Trampoline) SetCode(p unsafe.Pointer) { t.code = p }

// Code retrieves the backend's private allocator handle.
func (t *Trampoline) Code() unsafe.Pointer { return t.code }

// Backend is the architecture-specific code generator capability set from
// spec.md §6.
type Backend interface {
	// CreateTrampoline synthesizes the on-invoke (and, for KindDefault,
	// on-leave) stubs for target, returning the generated Trampoline. It
	// does not activate anything — the prologue is untouched until
	// ActivateTrampoline runs.
	//
	// Returns ErrWrongSignature-wrapping errors (see
	// internal/interceptor/errors.go) when the prologue is too short,
	// contains an unrelocatable instruction, or a branch lands inside the
	// overwrite window before a full redirect fits.
	CreateTrampoline(target uintptr, kind TrampolineKind) (*Trampoline, error)

	// DestroyTrampoline releases a trampoline's generated code. Called
	// only after the trampoline has been deactivated and its usage
	// counter has drained to zero.
	DestroyTrampoline(t *Trampoline)

	// ActivateTrampoline writes the redirect jump into prologueAddr
	// (which may be a staged copy of the live page under the
	// W^X-with-code-segment strategy, rather than the live function
	// address itself).
	ActivateTrampoline(t *Trampoline, prologueAddr uintptr) error

	// DeactivateTrampoline restores the original prologue bytes at
	// prologueAddr.
	DeactivateTrampoline(t *Trampoline, prologueAddr uintptr) error

	// ClaimGraftedTrampoline attempts to adopt a pre-existing
	// compiler-inserted stub at target instead of patching it, for hosts
	// under a signed-code-required policy. Returns false if target has no
	// such stub.
	ClaimGraftedTrampoline(target uintptr) (*Trampoline, bool)

	// ResolveRedirect reports the address an existing jump/trampoline at
	// addr points to, or (0, false) if addr is not itself a redirect.
	ResolveRedirect(addr uintptr) (uintptr, bool)

	// GetFunctionAddress returns the actual address ActivateTrampoline
	// should write the prologue jump at for t; usually target itself, but
	// may differ on architectures using function descriptors.
	GetFunctionAddress(t *Trampoline, target uintptr) uintptr

	// PrologueLength reports how many bytes CreateTrampoline would need to
	// overwrite at target for the given kind, without generating
	// anything — used by the batcher to compute page-straddling before a
	// trampoline actually exists.
	PrologueLength(target uintptr, kind TrampolineKind) (int, error)
}
