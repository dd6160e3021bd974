// Copyright The Gumgo Authors
// SPDX-License-Identifier: Apache-2.0

package interceptor

import (
	"runtime"
	"sync/atomic"

	"github.com/gumgo/gumgo/internal/gumutil"
	"github.com/gumgo/gumgo/internal/osabi"
	"github.com/gumgo/gumgo/pkg/hook"
)

// maxCallDepth is spec.md §3's "compile-time constant" bounding the shadow
// stack; exceeding it is a fatal programming error (spec.md §7).
const maxCallDepth = 256

// maxListenerDataSlots bounds spec.md §3's per-thread listener-data slot
// array, sized to "a per-function maximum" — the most listeners gumgo
// expects attached to one function concurrently on one thread.
const maxListenerDataSlots = 64

// invocationFrame is spec.md §3's "Invocation stack entry": the state for
// one in-flight intercepted call, on one thread.
type invocationFrame struct {
	ctx       *funcContext
	threadCtx *threadContext
	depth     int

	// callerRetAddr is the original caller return address when this frame
	// traps on leave, or the target function address otherwise (spec.md
	// §4.5 step 8) — what Function()/the on-leave trampoline translation
	// logic needs.
	callerRetAddr   uintptr
	willTrapOnLeave bool

	cpu         hook.CPUContext
	data        any
	systemError uintptr

	callingReplacement bool
	replacementData    any
}

type listenerDataSlot struct {
	owner *listenerEntry
	data  [hook.ListenerDataSize]byte
}

// threadContext is spec.md §3's "Thread context": per-OS-thread state the
// invocation engine consults with no locking, created lazily on first entry
// from a given thread.
type threadContext struct {
	tid   int
	stack []*invocationFrame

	ignoreLevel int

	slots [maxListenerDataSlots]listenerDataSlot

	enterLeaveView  invocationView
	replacementView invocationView
}

func newThreadContext(tid int) *threadContext {
	tc := &threadContext{tid: tid}
	tc.replacementView.replacement = true
	return tc
}

// listenerData implements spec.md §4.7's scan-then-allocate lookup: a slot
// already owned by owner is reused; otherwise the first unowned slot is
// claimed and zeroed.
func (tc *threadContext) listenerData(owner *listenerEntry) *[hook.ListenerDataSize]byte {
	for i := range tc.slots {
		if tc.slots[i].owner == owner {
			return &tc.slots[i].data
		}
	}
	for i := range tc.slots {
		if tc.slots[i].owner == nil {
			tc.slots[i].owner = owner
			tc.slots[i].data = [hook.ListenerDataSize]byte{}
			return &tc.slots[i].data
		}
	}
	gumutil.Unimplemented("threadctx: listener data slots exhausted (raise maxListenerDataSlots)")
	return nil
}

// purgeListener nulls every slot this thread context granted owner, so a
// later attach of the same listener observes fresh scratch, per spec.md
// §4.7's detach contract.
func (tc *threadContext) purgeListener(owner *listenerEntry) {
	for i := range tc.slots {
		if tc.slots[i].owner == owner {
			tc.slots[i] = listenerDataSlot{}
		}
	}
}

func (tc *threadContext) push(f *invocationFrame) {
	gumutil.Assert(len(tc.stack) < maxCallDepth, "threadctx: shadow stack depth exceeded")
	f.depth = len(tc.stack)
	f.threadCtx = tc
	tc.stack = append(tc.stack, f)
}

func (tc *threadContext) pop() *invocationFrame {
	gumutil.Assert(len(tc.stack) > 0, "threadctx: pop of empty shadow stack")
	n := len(tc.stack) - 1
	f := tc.stack[n]
	tc.stack[n] = nil
	tc.stack = tc.stack[:n]
	return f
}

func (tc *threadContext) top() *invocationFrame {
	if len(tc.stack) == 0 {
		return nil
	}
	return tc.stack[len(tc.stack)-1]
}

// findByOnLeaveAddr implements spec.md §4.8's whole-stack shadow-stack
// translation helper: the frame whose context's on-leave trampoline equals
// addr, searched from the top since the common case is the innermost call.
func (tc *threadContext) findByOnLeaveAddr(addr uintptr) *invocationFrame {
	for i := len(tc.stack) - 1; i >= 0; i-- {
		if tc.stack[i].ctx.onLeaveAddr == addr {
			return tc.stack[i]
		}
	}
	return nil
}

// spinlock is a small CAS-based lock for the thread-context registry,
// grounded on spec.md §5's "global thread-context registry is a set
// protected by a spinlock used only on thread creation/destruction and
// during detach" — a plain sync.Mutex would also satisfy every correctness
// requirement here, but the spec specifically calls out a spinlock as
// distinct from the interceptor's own (heavier, condition-variable-based)
// recursive lock, so the registry gets the lighter primitive the spec
// describes.
type spinlock struct {
	held atomic.Bool
}

func (s *spinlock) lock() {
	for !s.held.CompareAndSwap(false, true) {
		runtime.Gosched()
	}
}

func (s *spinlock) unlock() {
	s.held.Store(false)
}

var (
	registryLock spinlock
	registry     = map[int]*threadContext{}
)

// currentThreadContext returns the calling OS thread's context, allocating
// and registering one on first entry. The caller must be locked to its OS
// thread (runtime.LockOSThread) for the returned pointer to remain valid
// for the duration it is used.
func currentThreadContext() *threadContext {
	tid := osabi.CurrentThreadID()
	registryLock.lock()
	tc, ok := registry[tid]
	if !ok {
		tc = newThreadContext(tid)
		registry[tid] = tc
	}
	registryLock.unlock()
	return tc
}

// releaseThreadContext unregisters tid's context. Go exposes no OS-thread
// exit notification, so nothing calls this when a thread exits; a thread
// context stays registered until this is called for its tid.
func releaseThreadContext(tid int) {
	registryLock.lock()
	delete(registry, tid)
	registryLock.unlock()
	osabi.TLSClearThread(tid)
}

func forEachThreadContext(fn func(*threadContext)) {
	registryLock.lock()
	defer registryLock.unlock()
	for _, tc := range registry {
		fn(tc)
	}
}

// purgeListenerEverywhere implements spec.md §4.7's detach-time sweep: null
// every slot owned by owner across every live thread context.
func purgeListenerEverywhere(owner *listenerEntry) {
	forEachThreadContext(func(tc *threadContext) {
		tc.purgeListener(owner)
	})
}
