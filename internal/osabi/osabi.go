// Copyright The Gumgo Authors
// SPDX-License-Identifier: Apache-2.0

// Package osabi is the OS-abstraction external collaborator from spec.md
// §6: page-protection, instruction-cache flush, thread enumerate/suspend/
// resume, current-thread id, code-signing policy, thread-error read/write,
// and pseudo-TLS. spec.md §1 lists these as genuinely out of the core's
// scope ("specified only by the interface the core needs from them"); this
// package is the one concrete implementation SPEC_FULL.md commits to
// shipping so internal/interceptor is exercisable without a host
// integration supplying its own.
//
// Grounded on other_examples/8663555b_Dk2014-hinako__hinako.go.go's
// unlockMemoryProtect/changeMemoryProtectLevel/flushInstructionCache for the
// "probe capability, protect, run, restore" shape, reimplemented against
// golang.org/x/sys/unix for a POSIX target.
package osabi

import "golang.org/x/sys/unix"

// Protection mirrors the page-protection combinations spec.md §4.3's
// strategies switch between.
type Protection int

const (
	ProtRW Protection = unix.PROT_READ | unix.PROT_WRITE
	ProtRX Protection = unix.PROT_READ | unix.PROT_EXEC
	ProtRWX Protection = unix.PROT_READ | unix.PROT_WRITE | unix.PROT_EXEC
)

// Strategy selects one of spec.md §4.3's four page-update strategies based
// on what the host's memory-protection model allows.
type Strategy int

const (
	// StrategySignedCodeRequired: no page protection changes permitted at
	// all; updates must land in pre-grafted trampoline slots.
	StrategySignedCodeRequired Strategy = iota
	// StrategyRWXAllowed: pages may be simultaneously writable and
	// executable.
	StrategyRWXAllowed
	// StrategyWXCodeSegment: W^X is enforced, but the host supports
	// preparing a writable staging segment and atomically remapping it
	// executable over the target (e.g. macOS MAP_JIT).
	StrategyWXCodeSegment
	// StrategyWXSuspendAll: W^X is enforced and there is no code-segment
	// remap facility; updates require suspending every other thread.
	StrategyWXSuspendAll
)

func (s Strategy) String() string {
	switch s {
	case StrategySignedCodeRequired:
		return "signed-code-required"
	case StrategyRWXAllowed:
		return "rwx-allowed"
	case StrategyWXCodeSegment:
		return "wx-code-segment"
	case StrategyWXSuspendAll:
		return "wx-suspend-all"
	default:
		return "unknown"
	}
}

// PageSize returns the host's page size in bytes.
func PageSize() int {
	return unix.Getpagesize()
}

// PageOf rounds addr down to the start of its containing page.
func PageOf(addrVal uintptr) uintptr {
	ps := uintptr(PageSize())
	return addrVal &^ (ps - 1)
}

// ErrnoReadBeforeGuard reports whether thread-error must be captured before
// the re-entrancy guard TLS value is set, per spec.md §4.5 step 5 and §9(a):
// true on Windows (where the last-error read path can itself be an
// intercepted candidate function), false elsewhere.
func ErrnoReadBeforeGuard() bool {
	return errnoReadBeforeGuard
}
