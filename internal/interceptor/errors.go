// Copyright The Gumgo Authors
// SPDX-License-Identifier: Apache-2.0

package interceptor

import (
	"errors"

	"github.com/gumgo/gumgo/internal/backend"
)

// Sentinel error values for spec.md §7's closed taxonomy. Callers compare
// with errors.Is, never by string or type assertion.
var (
	// ErrAlreadyAttached is returned by Attach when the listener is already
	// attached to the resolved address.
	ErrAlreadyAttached = errors.New("interceptor: listener already attached")
	// ErrAlreadyReplaced is returned by Replace/ReplaceFast when the
	// resolved address already has a replacement installed.
	ErrAlreadyReplaced = errors.New("interceptor: address already replaced")
	// ErrWrongSignature is returned when the backend cannot generate a
	// trampoline for the target: prologue too short, an in-window branch,
	// or an unrelocatable operand. Defined in internal/backend, where the
	// only code able to detect the condition lives; aliased here so callers
	// never need to import internal/backend directly (see DESIGN.md).
	ErrWrongSignature = backend.ErrWrongSignature
	// ErrPolicyViolation is returned when the host requires signed code and
	// no pre-grafted trampoline is available at the target.
	ErrPolicyViolation = errors.New("interceptor: host code-signing policy forbids writing and no grafted trampoline is available")
	// ErrWrongType is returned when an address already bound as one
	// interception kind (listener vs. fast-replacement) is requested as
	// the other.
	ErrWrongType = errors.New("interceptor: address is bound as the other interception kind")
)
