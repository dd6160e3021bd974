// Copyright The Gumgo Authors
// SPDX-License-Identifier: Apache-2.0

package interceptor

import (
	"sync"

	"github.com/gumgo/gumgo/internal/gumutil"
	"github.com/gumgo/gumgo/internal/osabi"
)

// recursiveMutex is spec.md §4.1/§5's "recursive lock": the interceptor's
// public mutations are serialized by it, and a listener callback running
// under a held lock may call back into the interceptor (spec.md §9(b))
// without deadlocking, provided it runs on the same OS thread that holds
// the lock.
//
// Ownership is keyed by OS thread id, not goroutine, because the engine's
// own re-entrancy guard (invocation.go) and the rest of this package's
// concurrency model are specified in terms of OS threads — a caller of any
// Interceptor method must have called runtime.LockOSThread for the
// duration it holds the lock, the same requirement osabi's TLS emulation
// already places on its callers.
type recursiveMutex struct {
	mu    sync.Mutex
	cond  sync.Cond
	owner int // osabi thread id; 0 means unheld (Gettid never returns 0 for a real thread)
	count int
}

func newRecursiveMutex() *recursiveMutex {
	m := &recursiveMutex{}
	m.cond.L = &m.mu
	return m
}

// lock acquires the mutex, re-entering without blocking if the calling
// thread already holds it.
func (m *recursiveMutex) lock() {
	tid := osabi.CurrentThreadID()
	m.mu.Lock()
	defer m.mu.Unlock()
	for m.count > 0 && m.owner != tid {
		m.cond.Wait()
	}
	m.owner = tid
	m.count++
}

// unlock releases one level of recursion; the mutex becomes available to
// other threads once count returns to zero.
func (m *recursiveMutex) unlock() {
	tid := osabi.CurrentThreadID()
	m.mu.Lock()
	defer m.mu.Unlock()
	gumutil.Assert(m.count > 0 && m.owner == tid, "recursiveMutex: unlock by non-owner")
	m.count--
	if m.count == 0 {
		m.owner = 0
		m.cond.Broadcast()
	}
}

// heldByCurrentThread reports whether the calling thread currently holds
// the lock at any recursion depth.
func (m *recursiveMutex) heldByCurrentThread() bool {
	tid := osabi.CurrentThreadID()
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count > 0 && m.owner == tid
}

// unlockForCallback releases every level of recursion the calling thread
// holds and returns the depth, so a destroy-task drain can run a user
// callback with the lock fully released (spec.md §4.3 step 4: "release the
// interceptor lock, invoke the task's release callback, and reacquire") and
// restore the same depth afterward with relockForCallback.
func (m *recursiveMutex) unlockForCallback() int {
	tid := osabi.CurrentThreadID()
	m.mu.Lock()
	defer m.mu.Unlock()
	gumutil.Assert(m.count > 0 && m.owner == tid, "recursiveMutex: unlockForCallback by non-owner")
	depth := m.count
	m.count = 0
	m.owner = 0
	m.cond.Broadcast()
	return depth
}

func (m *recursiveMutex) relockForCallback(depth int) {
	tid := osabi.CurrentThreadID()
	m.mu.Lock()
	for m.count > 0 && m.owner != tid {
		m.cond.Wait()
	}
	m.owner = tid
	m.count = depth
	m.mu.Unlock()
}
