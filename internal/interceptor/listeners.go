// Copyright The Gumgo Authors
// SPDX-License-Identifier: Apache-2.0

package interceptor

import (
	"sync/atomic"

	"github.com/gumgo/gumgo/pkg/hook"
)

// listenerEntry is spec.md §3's "listener entry": a listener handle, its
// interface-capability set, and its per-function opaque user data. Entries
// are immutable once published into a snapshot.
type listenerEntry struct {
	listener any // the value passed to Attach; asserted against hook.EnterListener/LeaveListener per call
	hasEnter bool
	hasLeave bool
	userData any

	// funcData is the SPEC_FULL.md §6 supplemented feature: per-(listener,
	// function) data visible from every thread, distinct from the
	// thread-local ListenerData scratch slots in threadctx.go.
	funcData atomic.Pointer[any]
}

func newListenerEntry(listener any, userData any) *listenerEntry {
	_, enter := listener.(hook.EnterListener)
	_, leave := listener.(hook.LeaveListener)
	return &listenerEntry{listener: listener, hasEnter: enter, hasLeave: leave, userData: userData}
}

func (e *listenerEntry) onEnter(inv hook.Invocation) {
	if l, ok := e.listener.(hook.EnterListener); ok {
		l.OnEnter(inv)
	}
}

func (e *listenerEntry) onLeave(inv hook.Invocation) {
	if l, ok := e.listener.(hook.LeaveListener); ok {
		l.OnLeave(inv)
	}
}

func (e *listenerEntry) getFuncData() any {
	if p := e.funcData.Load(); p != nil {
		return *p
	}
	return nil
}

func (e *listenerEntry) setFuncData(v any) {
	e.funcData.Store(&v)
}

// listenerList is the copy-on-write snapshot spec.md §3/§9 require: the fast
// path reads it through a single atomic pointer load with no locking, and
// every mutation publishes an entirely new slice.
type listenerList struct {
	snapshot atomic.Pointer[[]*listenerEntry]
}

func (l *listenerList) load() []*listenerEntry {
	if p := l.snapshot.Load(); p != nil {
		return *p
	}
	return nil
}

// append publishes a new snapshot with entry appended, preserving slot
// indices of existing entries (null slots left by removeListener are copied
// too). It returns the previous snapshot slice.
func (l *listenerList) append(entry *listenerEntry) (prev []*listenerEntry) {
	old := l.load()
	prev = old
	next := make([]*listenerEntry, len(old)+1)
	copy(next, old)
	next[len(old)] = entry
	l.snapshot.Store(&next)
	return prev
}

// removeListener nulls the slot (not deletes — spec.md §4.2: "keeping slot
// indices stable during the epoch") belonging to listener, returning the
// removed entry and whether one was found.
func (l *listenerList) removeListener(listener any) (removed *listenerEntry, prev []*listenerEntry, ok bool) {
	old := l.load()
	for i, e := range old {
		if e != nil && e.listener == listener {
			next := make([]*listenerEntry, len(old))
			copy(next, old)
			next[i] = nil
			l.snapshot.Store(&next)
			return e, old, true
		}
	}
	return nil, old, false
}

// hasOnLeave reports whether any live entry wants the on-leave callback,
// recomputed on every add/remove per spec.md §4.2.
func (l *listenerList) hasOnLeave() bool {
	for _, e := range l.load() {
		if e != nil && e.hasLeave {
			return true
		}
	}
	return false
}

// isEmpty reports whether no slot holds a live entry.
func (l *listenerList) isEmpty() bool {
	for _, e := range l.load() {
		if e != nil {
			return false
		}
	}
	return true
}
