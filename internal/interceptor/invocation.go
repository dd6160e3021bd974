// Copyright The Gumgo Authors
// SPDX-License-Identifier: Apache-2.0

package interceptor

import (
	"unsafe"

	"github.com/gumgo/gumgo/internal/addr"
	"github.com/gumgo/gumgo/internal/gumutil"
	"github.com/gumgo/gumgo/internal/osabi"
	"github.com/gumgo/gumgo/pkg/hook"
)

// entryResult is what dispatchEntry hands back to the trampoline glue: where
// to transfer control next, and what return address the trampoline should
// leave on the stack for the intercepted function's eventual ret.
type entryResult struct {
	nextHop      uintptr
	retAddr      uintptr
	trappedLeave bool
}

// dispatchEntry implements spec.md §4.5, the on-invoke trampoline's entry
// handler. cpu is the CPU context captured at the patched prologue;
// callerRetAddr is the return address the trampoline found on the stack
// (or in the link register) before any rewriting.
func (ic *Interceptor) dispatchEntry(fctx *funcContext, cpu hook.CPUContext, callerRetAddr uintptr) entryResult {
	fctx.incUsage()

	tc := currentThreadContext()

	// Step 2: re-entrancy guard already armed for this interceptor.
	if osabi.TLSGet(ic.guardKey) == ic.guardToken() {
		fctx.decUsage()
		return entryResult{nextHop: fctx.invokeOriginalAddr, retAddr: callerRetAddr}
	}

	// Step 5 / §9(a): on platforms where reading thread-error can itself
	// re-enter instrumented code (Windows' GetLastError), it must be
	// captured before the guard is armed; everywhere else it is captured
	// after, same as the reference source.
	var systemError uintptr
	readBeforeGuard := osabi.ErrnoReadBeforeGuard()
	if readBeforeGuard {
		systemError = osabi.GetThreadError()
	}

	osabi.TLSSet(ic.guardKey, ic.guardToken())

	// Step 4: a replacement calling through to the original must not
	// itself re-trigger listeners on re-entry into the same function.
	if top := tc.top(); top != nil && top.callingReplacement && top.ctx == fctx {
		osabi.TLSSet(ic.guardKey, nil)
		fctx.decUsage()
		return entryResult{nextHop: fctx.invokeOriginalAddr, retAddr: callerRetAddr}
	}

	if !readBeforeGuard {
		systemError = osabi.GetThreadError()
	}

	selected := ic.selectedThreadID.Load()
	invokeListeners := (selected == 0 || int64(osabi.CurrentThreadID()) == selected) && tc.ignoreLevel <= 0
	willTrapOnLeave := fctx.replacementAddr != 0 || (invokeListeners && fctx.hasOnLeaveListener())

	var frame *invocationFrame
	needFrame := invokeListeners || willTrapOnLeave
	if needFrame {
		frame = &invocationFrame{ctx: fctx, cpu: cpu, systemError: systemError}
		if willTrapOnLeave {
			frame.callerRetAddr = callerRetAddr
			frame.willTrapOnLeave = true
		} else {
			frame.callerRetAddr = fctx.target
		}
		tc.push(frame)
	}

	if frame != nil {
		frame.cpu.PC = addr.Canonicalize(fctx.target)
	}

	if invokeListeners {
		tc.enterLeaveView = invocationView{frame: frame, pointCut: hook.PointCutEnter}
		for _, entry := range fctx.listeners.load() {
			if entry == nil {
				continue
			}
			tc.enterLeaveView.owner = entry
			entry.onEnter(&tc.enterLeaveView)
		}
	}

	if frame != nil {
		osabi.SetThreadError(frame.systemError)
	} else {
		osabi.SetThreadError(systemError)
	}
	osabi.TLSSet(ic.guardKey, nil)

	result := entryResult{retAddr: callerRetAddr}
	if willTrapOnLeave {
		result.retAddr = fctx.onLeaveAddr
		result.trappedLeave = true
	}

	if fctx.replacementAddr != 0 {
		frame.callingReplacement = true
		result.nextHop = fctx.replacementAddr
	} else {
		result.nextHop = fctx.invokeOriginalAddr
	}

	if !result.trappedLeave {
		fctx.decUsage()
	}
	return result
}

// dispatchLeave implements spec.md §4.6, the on-leave trampoline's handler.
// cpu carries the CPU context captured at the leave point (return value
// register populated); it is mutated in place if a listener or the
// replacement calls SetCPUContext. Returns the original caller return
// address the trampoline should finally jump to.
func (ic *Interceptor) dispatchLeave(cpu *hook.CPUContext) uintptr {
	osabi.TLSSet(ic.guardKey, ic.guardToken())

	tc := currentThreadContext()
	frame := tc.top()
	gumutil.Assert(frame != nil, "interceptor: leave dispatch with empty shadow stack")

	origCaller := addr.Canonicalize(frame.callerRetAddr)

	frame.cpu.ReturnValue = cpu.ReturnValue
	frame.cpu.Regs = cpu.Regs

	// spec.md §4.6: a replacement return adopts whatever system-error the
	// replacement itself set through the invocation view while it ran
	// (frame.systemError, possibly mutated by SetSystemError); any other
	// return exposes the value freshly captured from the OS at this leave
	// point.
	if !frame.callingReplacement {
		frame.systemError = osabi.GetThreadError()
	}

	frame.cpu.PC = addr.Canonicalize(frame.ctx.target)

	selected := ic.selectedThreadID.Load()
	invokeListeners := (selected == 0 || int64(osabi.CurrentThreadID()) == selected) && tc.ignoreLevel <= 0
	if invokeListeners {
		tc.enterLeaveView = invocationView{frame: frame, pointCut: hook.PointCutLeave}
		for _, entry := range frame.ctx.listeners.load() {
			if entry == nil || !entry.hasLeave {
				continue
			}
			tc.enterLeaveView.owner = entry
			entry.onLeave(&tc.enterLeaveView)
		}
	}

	osabi.SetThreadError(frame.systemError)
	*cpu = frame.cpu

	tc.pop()
	osabi.TLSSet(ic.guardKey, nil)
	frame.ctx.decUsage()

	return origCaller
}

// guardToken returns the sentinel value dispatchEntry/dispatchLeave store in
// the guard TLS slot to mark "currently inside this interceptor's engine" —
// the interceptor's own address is a convenient process-unique token since
// Interceptor is always heap-allocated and never moved.
func (ic *Interceptor) guardToken() unsafe.Pointer {
	return unsafe.Pointer(ic)
}
