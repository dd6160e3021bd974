// Copyright The Gumgo Authors
// SPDX-License-Identifier: Apache-2.0

// Package interceptor is gumgo's core: the instrumentation manager,
// per-thread invocation engine, trampoline lifecycle, and executable-memory
// update protocol spec.md §1 describes. Of the external collaborators it
// depends only on internal/backend and internal/osabi; the concrete backend
// and code allocator live in their
// own packages so this one stays exercisable against a fake backend in
// tests.
package interceptor

import (
	"context"
	"errors"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"weak"

	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/singleflight"

	"github.com/gumgo/gumgo/internal/addr"
	"github.com/gumgo/gumgo/internal/backend"
	"github.com/gumgo/gumgo/internal/gumutil"
	"github.com/gumgo/gumgo/internal/osabi"
	"github.com/gumgo/gumgo/pkg/hook"
)

// Interceptor is the process-wide instrumentation manager, spec.md §4.1's
// "Interceptor (top-level)". Obtain an instance with Obtain; release it with
// Release when done. All exported methods are safe for concurrent use from
// multiple OS threads (see recursive_mutex.go); a goroutine calling into
// this package must have called runtime.LockOSThread for the duration, the
// same requirement the rest of the OS-thread-oriented concurrency model
// places on its callers.
type Interceptor struct {
	mu      *recursiveMutex
	addrMap map[uintptr]*funcContext
	tx      *transaction
	txDepth int

	be      backend.Backend
	batcher *batcher

	signedCodeRequired bool

	guardKey osabi.TLSKey

	// selectedThreadID implements spec.md §4.1's ignore_other_threads: 0
	// means no selection, otherwise the one osabi thread id whose calls
	// fire listeners.
	selectedThreadID atomic.Int64

	refs atomic.Int64
}

var (
	singletonMu    sync.Mutex
	singletonWeak  weak.Pointer[Interceptor]
	singletonGroup singleflight.Group
)

// Obtain returns the process-wide Interceptor singleton, constructing it on
// first call and incrementing its reference count on every call thereafter.
// Concurrent first calls collapse into one construction via
// golang.org/x/sync/singleflight, per SPEC_FULL.md §5. be, strategy and
// meter are only consulted the first time a given process constructs the
// singleton; later calls ignore them and return the existing instance.
//
// The singleton itself is held by a weak.Pointer (Go 1.24's weak package):
// nothing in this package keeps it artificially alive past its last caller
// releasing it, the Go-idiomatic equivalent of spec.md §9's "weak
// back-pointer so its storage is freed when the last reference drops" —
// where the source manually frees, Go's garbage collector reclaims it, and
// runtime.AddCleanup's registered cleanup then releases the instance's
// guard TLS key.
func Obtain(be backend.Backend, strategy osabi.Strategy, meter metric.Meter) *Interceptor {
	singletonMu.Lock()
	if ic := singletonWeak.Value(); ic != nil {
		ic.refs.Add(1)
		singletonMu.Unlock()
		return ic
	}
	singletonMu.Unlock()

	v, _, _ := singletonGroup.Do("interceptor", func() (any, error) {
		singletonMu.Lock()
		defer singletonMu.Unlock()
		if ic := singletonWeak.Value(); ic != nil {
			ic.refs.Add(1)
			return ic, nil
		}
		ic := newInterceptor(be, strategy, meter)
		ic.refs.Store(1)
		singletonWeak = weak.Make(ic)
		return ic, nil
	})
	return v.(*Interceptor)
}

func newInterceptor(be backend.Backend, strategy osabi.Strategy, meter metric.Meter) *Interceptor {
	ic := &Interceptor{
		mu:       newRecursiveMutex(),
		addrMap:  map[uintptr]*funcContext{},
		tx:       newTransaction(),
		be:       be,
		guardKey: osabi.TLSKeyCreate(),

		signedCodeRequired: strategy == osabi.StrategySignedCodeRequired,
	}
	ic.batcher = newBatcher(be, strategy, meter)

	guardKey := ic.guardKey
	runtime.AddCleanup(ic, func(k osabi.TLSKey) {
		osabi.TLSKeyFree(k)
	}, guardKey)

	return ic
}

// Release decrements the reference count obtained from Obtain. It does not
// force reclamation — whether the singleton is actually freed depends on
// whether any other strong reference still keeps it reachable (the weak
// slot does not) — consistent with spec.md §9's
// note that teardown only "races with deliberate shutdown", never with an
// in-flight caller.
func (ic *Interceptor) Release() {
	ic.refs.Add(-1)
}

// resolveAddress implements spec.md §4.1's address resolution: strip
// pointer-authentication/Thumb bits, then follow the backend's redirect
// chain unless the host requires signed code (where following a redirect
// risks landing on a pre-grafted stub instead of the real target).
func (ic *Interceptor) resolveAddress(target uintptr) uintptr {
	target = addr.Canonicalize(target)
	if ic.signedCodeRequired {
		return target
	}
	for {
		next, ok := ic.be.ResolveRedirect(target)
		if !ok {
			return target
		}
		target = addr.Canonicalize(next)
	}
}

func (ic *Interceptor) beginTransactionLocked() {
	ic.txDepth++
}

func (ic *Interceptor) endTransactionLocked(ctx context.Context) error {
	gumutil.Assert(ic.txDepth > 0, "interceptor: endTransaction without matching begin")
	ic.txDepth--
	if ic.txDepth > 0 || !ic.tx.isDirty {
		return nil
	}
	return ic.commitLocked(ctx)
}

// commitLocked implements spec.md §4.3 steps 1, 3-5 (step 2's page sort
// lives in transaction.go, consulted by the batcher). Must be called while
// ic.mu is held by the calling thread.
func (ic *Interceptor) commitLocked(ctx context.Context) error {
	tc := currentThreadContext()
	tc.ignoreLevel++
	defer func() { tc.ignoreLevel-- }()

	oldTx := ic.tx
	ic.tx = newTransaction()

	err := ic.batcher.commit(ctx, oldTx)
	ic.drainDestroyQueueLocked(ctx, oldTx.destroyQueue)
	return err
}

// drainDestroyQueueLocked implements spec.md §4.3 step 4: tasks whose
// context has drained to zero usage run now, with the interceptor lock
// released around the user-supplied release callback; tasks that are not
// yet ready are rescheduled onto the (possibly already-advanced) current
// transaction.
func (ic *Interceptor) drainDestroyQueueLocked(ctx context.Context, tasks []destroyTask) {
	logger := gumutil.LoggerFromContext(ctx)
	for _, task := range tasks {
		if !task.ready() {
			ic.tx.destroyQueue = append(ic.tx.destroyQueue, task)
			ic.tx.isDirty = true
			continue
		}
		depth := ic.mu.unlockForCallback()
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("destroy task release panicked", "panic", r)
				}
			}()
			task.release()
		}()
		ic.mu.relockForCallback(depth)
	}
}

// Flush implements spec.md §4.1's flush: at depth zero, open and close a
// no-op transaction purely to give previously-rescheduled destroy tasks
// another chance to drain now that their usage counters may have reached
// zero.
func (ic *Interceptor) Flush(ctx context.Context) error {
	ic.mu.lock()
	defer ic.mu.unlock()
	ic.tx.isDirty = true
	ic.beginTransactionLocked()
	return ic.endTransactionLocked(ctx)
}

// BeginTransaction implements spec.md §4.1's explicit begin_transaction.
func (ic *Interceptor) BeginTransaction() {
	ic.mu.lock()
	ic.beginTransactionLocked()
	ic.mu.unlock()
}

// EndTransaction implements spec.md §4.1's explicit end_transaction.
func (ic *Interceptor) EndTransaction(ctx context.Context) error {
	ic.mu.lock()
	defer ic.mu.unlock()
	return ic.endTransactionLocked(ctx)
}

// instrument creates a funcContext backing target, asking the backend to
// either claim a pre-grafted trampoline (signed-code-required hosts) or
// generate one fresh.
func (ic *Interceptor) instrument(target uintptr, kind funcKind) (*funcContext, error) {
	backendKind := backend.KindDefault
	if kind == kindFast {
		backendKind = backend.KindFast
	}

	fctx := newFuncContext(target, kind)

	if ic.signedCodeRequired {
		t, ok := ic.be.ClaimGraftedTrampoline(target)
		if !ok {
			return nil, ErrPolicyViolation
		}
		fctx.trampoline = t
	} else {
		t, err := ic.be.CreateTrampoline(target, backendKind)
		if err != nil {
			return nil, err
		}
		fctx.trampoline = t
	}

	fctx.invokeOriginalAddr = fctx.trampoline.InvokeOriginalAddr
	fctx.onLeaveAddr = fctx.trampoline.OnLeaveAddr
	fctx.overwrittenPrologueLen = fctx.trampoline.OverwrittenPrologueLen
	return fctx, nil
}

// scheduleActivate files the activation write for fctx onto the current
// transaction, at the address the backend says the prologue jump actually
// belongs.
func (ic *Interceptor) scheduleActivate(fctx *funcContext) {
	writeAddr := ic.be.GetFunctionAddress(fctx.trampoline, fctx.target)
	ic.tx.scheduleUpdate(fctx, true, writeAddr, fctx.overwrittenPrologueLen)
}

func (ic *Interceptor) scheduleDeactivate(fctx *funcContext) {
	writeAddr := ic.be.GetFunctionAddress(fctx.trampoline, fctx.target)
	ic.tx.scheduleUpdate(fctx, false, writeAddr, fctx.overwrittenPrologueLen)
}

// destroyContext schedules spec.md §4.4's two-phase teardown: deactivate
// now (if activated), then a destroy task — gated on the usage counter —
// that reclaims the backend's trampoline storage.
func (ic *Interceptor) destroyContext(fctx *funcContext) {
	fctx.destroyed = true
	if fctx.activated {
		ic.scheduleDeactivate(fctx)
	}
	be := ic.be
	ic.tx.scheduleDestroy(fctx, func() {
		be.DestroyTrampoline(fctx.trampoline)
	})
}

// removeIfEmpty drops fctx from the address map and schedules its
// destruction if it has no listeners and no replacement left, per spec.md
// §4.2.
func (ic *Interceptor) removeIfEmpty(fctx *funcContext) {
	if !fctx.isEmpty() {
		return
	}
	delete(ic.addrMap, fctx.target)
	ic.destroyContext(fctx)
}

// Attach implements spec.md §4.1's attach.
func (ic *Interceptor) Attach(ctx context.Context, target uintptr, listener any, userData any) error {
	ic.mu.lock()
	defer ic.mu.unlock()

	tc := currentThreadContext()
	tc.ignoreLevel++
	defer func() { tc.ignoreLevel-- }()

	ic.beginTransactionLocked()
	defer func() {
		if cerr := ic.endTransactionLocked(ctx); cerr != nil {
			gumutil.LoggerFromContext(ctx).Error("attach: commit failed", "error", cerr)
		}
	}()

	resolved := ic.resolveAddress(target)

	fctx, existed := ic.addrMap[resolved]
	if existed {
		if fctx.kind != kindDefault {
			return ErrWrongType
		}
		for _, e := range fctx.listeners.load() {
			if e != nil && e.listener == listener {
				return ErrAlreadyAttached
			}
		}
	} else {
		var err error
		fctx, err = ic.instrument(resolved, kindDefault)
		if err != nil {
			return err
		}
		ic.addrMap[resolved] = fctx
	}

	fctx.listeners.append(newListenerEntry(listener, userData))

	if !fctx.activated {
		ic.scheduleActivate(fctx)
	}
	return nil
}

// Detach implements spec.md §4.1's detach: scans every context for entries
// referring to listener, removing them, purging per-thread scratch, and
// dropping contexts that become empty.
func (ic *Interceptor) Detach(ctx context.Context, listener any) error {
	ic.mu.lock()
	defer ic.mu.unlock()

	ic.beginTransactionLocked()
	defer func() {
		if cerr := ic.endTransactionLocked(ctx); cerr != nil {
			gumutil.LoggerFromContext(ctx).Error("detach: commit failed", "error", cerr)
		}
	}()

	for _, fctx := range ic.addrMap {
		entry, _, ok := fctx.listeners.removeListener(listener)
		if !ok {
			continue
		}
		purgeListenerEverywhere(entry)
		ic.removeIfEmpty(fctx)
	}
	return nil
}

// Replace implements spec.md §4.1's replace (kindDefault: listeners may
// still be attached alongside the replacement).
func (ic *Interceptor) Replace(ctx context.Context, target uintptr, replacement hook.Replacement) (originalAddr uintptr, err error) {
	return ic.replace(ctx, target, replacement, kindDefault)
}

// ReplaceFast implements spec.md §4.1's replace_fast (kindFast: no listener
// surface, minimal trampoline).
func (ic *Interceptor) ReplaceFast(ctx context.Context, target uintptr, replacement hook.Replacement) (originalAddr uintptr, err error) {
	return ic.replace(ctx, target, replacement, kindFast)
}

func (ic *Interceptor) replace(ctx context.Context, target uintptr, replacement hook.Replacement, kind funcKind) (uintptr, error) {
	ic.mu.lock()
	defer ic.mu.unlock()

	tc := currentThreadContext()
	tc.ignoreLevel++
	defer func() { tc.ignoreLevel-- }()

	ic.beginTransactionLocked()
	defer func() {
		if cerr := ic.endTransactionLocked(ctx); cerr != nil {
			gumutil.LoggerFromContext(ctx).Error("replace: commit failed", "error", cerr)
		}
	}()

	resolved := ic.resolveAddress(target)

	fctx, existed := ic.addrMap[resolved]
	if existed {
		if fctx.kind != kind {
			return 0, ErrWrongType
		}
		if fctx.replacementAddr != 0 {
			return 0, ErrAlreadyReplaced
		}
	} else {
		var err error
		fctx, err = ic.instrument(resolved, kind)
		if err != nil {
			return 0, err
		}
		ic.addrMap[resolved] = fctx
	}

	fctx.replacementAddr = replacement.Addr
	fctx.replacementData = replacement.Data

	if !fctx.activated {
		ic.scheduleActivate(fctx)
	}
	return fctx.invokeOriginalAddr, nil
}

// Revert implements spec.md §4.1's revert: clears replacement fields and
// drops the context if it becomes empty.
func (ic *Interceptor) Revert(ctx context.Context, target uintptr) error {
	ic.mu.lock()
	defer ic.mu.unlock()

	ic.beginTransactionLocked()
	defer func() {
		if cerr := ic.endTransactionLocked(ctx); cerr != nil {
			gumutil.LoggerFromContext(ctx).Error("revert: commit failed", "error", cerr)
		}
	}()

	resolved := ic.resolveAddress(target)
	fctx, ok := ic.addrMap[resolved]
	if !ok || fctx.replacementAddr == 0 {
		return nil
	}
	fctx.replacementAddr = 0
	fctx.replacementData = nil
	ic.removeIfEmpty(fctx)
	return nil
}

// IgnoreCurrentThread implements spec.md §4.1's ignore_current_thread: a
// counted, nestable per-thread suppression of listener dispatch (replacement
// dispatch is unaffected — spec.md §9(c)).
func (ic *Interceptor) IgnoreCurrentThread() {
	currentThreadContext().ignoreLevel++
}

// UnignoreCurrentThread implements the matching decrement.
func (ic *Interceptor) UnignoreCurrentThread() {
	tc := currentThreadContext()
	gumutil.Assert(tc.ignoreLevel > 0, "interceptor: unignore_current_thread without matching ignore")
	tc.ignoreLevel--
}

// MaybeUnignoreCurrentThread decrements the ignore level only if it is
// currently positive, reporting whether it did.
func (ic *Interceptor) MaybeUnignoreCurrentThread() bool {
	tc := currentThreadContext()
	if tc.ignoreLevel <= 0 {
		return false
	}
	tc.ignoreLevel--
	return true
}

// IgnoreOtherThreads implements spec.md §4.1's ignore_other_threads: only
// the calling thread's calls fire listeners until UnignoreOtherThreads.
func (ic *Interceptor) IgnoreOtherThreads() {
	ic.selectedThreadID.Store(int64(osabi.CurrentThreadID()))
}

// UnignoreOtherThreads clears the selection. spec.md §4.1 requires the
// clearing thread to own the selection; violating that is a programming
// error.
func (ic *Interceptor) UnignoreOtherThreads() {
	tid := int64(osabi.CurrentThreadID())
	gumutil.Assert(ic.selectedThreadID.Load() == tid, "interceptor: unignore_other_threads by non-owning thread")
	ic.selectedThreadID.Store(0)
}

// GetCurrentInvocation implements spec.md §4.1's get_current_invocation: the
// top invocation context for the calling thread, or ok=false if none.
func (ic *Interceptor) GetCurrentInvocation() (inv hook.Invocation, ok bool) {
	tc := currentThreadContext()
	f := tc.top()
	if f == nil {
		return nil, false
	}
	if f.callingReplacement {
		tc.replacementView.frame = f
		return &tc.replacementView, true
	}
	tc.enterLeaveView.frame = f
	return &tc.enterLeaveView, true
}

// GetCurrentStack implements spec.md §4.1's get_current_stack: every
// in-flight invocation on the calling thread, outermost first.
func (ic *Interceptor) GetCurrentStack() []hook.Invocation {
	tc := currentThreadContext()
	stack := make([]hook.Invocation, len(tc.stack))
	for i, f := range tc.stack {
		stack[i] = &invocationView{frame: f, replacement: f.callingReplacement}
	}
	return stack
}

// ContextInfo is a read-only snapshot of one funcContext, for debug
// tooling (cmd/gumgoctl's inspect subcommand) that has no business touching
// the live *funcContext itself.
type ContextInfo struct {
	Target     uintptr
	Kind       string
	Listeners  int
	HasReplace bool
	Activated  bool
	UsageCount int64
}

func (k funcKind) String() string {
	if k == kindFast {
		return "fast"
	}
	return "default"
}

// Snapshot returns a ContextInfo for every address currently instrumented,
// address-ascending.
func (ic *Interceptor) Snapshot() []ContextInfo {
	ic.mu.lock()
	defer ic.mu.unlock()

	out := make([]ContextInfo, 0, len(ic.addrMap))
	for _, fctx := range ic.addrMap {
		listeners := 0
		for _, e := range fctx.listeners.load() {
			if e != nil {
				listeners++
			}
		}
		out = append(out, ContextInfo{
			Target:     fctx.target,
			Kind:       fctx.kind.String(),
			Listeners:  listeners,
			HasReplace: fctx.replacementAddr != 0,
			Activated:  fctx.activated,
			UsageCount: fctx.usage(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Target < out[j].Target })
	return out
}

var errNotFound = errors.New("interceptor: no shadow-stack frame for address")

// TranslateOnLeaveAddress implements spec.md §4.8's whole-stack helper.
func (ic *Interceptor) TranslateOnLeaveAddress(onLeaveAddr uintptr) (uintptr, error) {
	f := currentThreadContext().findByOnLeaveAddr(onLeaveAddr)
	if f == nil {
		return 0, errNotFound
	}
	return f.callerRetAddr, nil
}
