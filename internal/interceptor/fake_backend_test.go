// Copyright The Gumgo Authors
// SPDX-License-Identifier: Apache-2.0

package interceptor

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gumgo/gumgo/internal/backend"
)

// fakeBackend is a from-scratch backend.Backend double: it never touches
// real executable memory, it just tracks which (target) addresses have been
// given a trampoline and whether each is presently "activated", so
// internal/interceptor's own logic (address map, listener snapshots,
// transaction scheduling, dispatch) can be exercised without the amd64
// disassembler or mmap.
type fakeBackend struct {
	mu         sync.Mutex
	nextStub   uintptr
	redirects  map[uintptr]uintptr
	grafted    map[uintptr]*backend.Trampoline
	wrongSig   map[uintptr]bool
	activated  map[uintptr]bool
	destroyed  map[*backend.Trampoline]bool
	createCall atomic.Int64

	// callLog records ActivateTrampoline/DeactivateTrampoline calls in
	// invocation order, for tests asserting the batcher visits pages in a
	// specific golden sequence rather than just checking the end state.
	callLog []string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		nextStub:  0x10000,
		redirects: map[uintptr]uintptr{},
		grafted:   map[uintptr]*backend.Trampoline{},
		wrongSig:  map[uintptr]bool{},
		activated: map[uintptr]bool{},
		destroyed: map[*backend.Trampoline]bool{},
	}
}

func (b *fakeBackend) CreateTrampoline(target uintptr, kind backend.TrampolineKind) (*backend.Trampoline, error) {
	b.createCall.Add(1)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.wrongSig[target] {
		return nil, backend.ErrWrongSignature
	}
	stub := b.nextStub
	b.nextStub += 0x100
	t := &backend.Trampoline{
		Kind:                   kind,
		OnInvokeAddr:           stub,
		InvokeOriginalAddr:     stub + 0x10,
		OverwrittenPrologueLen: 5,
	}
	if kind == backend.KindDefault {
		t.OnLeaveAddr = stub + 0x20
	}
	return t, nil
}

func (b *fakeBackend) DestroyTrampoline(t *backend.Trampoline) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.destroyed[t] = true
}

func (b *fakeBackend) ActivateTrampoline(t *backend.Trampoline, prologueAddr uintptr) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.activated[prologueAddr] = true
	b.callLog = append(b.callLog, fmt.Sprintf("activate:%#x", prologueAddr))
	return nil
}

func (b *fakeBackend) DeactivateTrampoline(t *backend.Trampoline, prologueAddr uintptr) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.activated[prologueAddr] = false
	b.callLog = append(b.callLog, fmt.Sprintf("deactivate:%#x", prologueAddr))
	return nil
}

func (b *fakeBackend) ClaimGraftedTrampoline(target uintptr) (*backend.Trampoline, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.grafted[target]
	return t, ok
}

func (b *fakeBackend) ResolveRedirect(addr uintptr) (uintptr, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	next, ok := b.redirects[addr]
	return next, ok
}

func (b *fakeBackend) GetFunctionAddress(t *backend.Trampoline, target uintptr) uintptr {
	return target
}

func (b *fakeBackend) PrologueLength(target uintptr, kind backend.TrampolineKind) (int, error) {
	if b.wrongSig[target] {
		return 0, backend.ErrWrongSignature
	}
	return 5, nil
}

func (b *fakeBackend) isActivated(addr uintptr) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.activated[addr]
}

func (b *fakeBackend) calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.callLog))
	copy(out, b.callLog)
	return out
}
