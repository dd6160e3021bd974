// Copyright The Gumgo Authors
// SPDX-License-Identifier: Apache-2.0

package interceptor

import (
	"context"
	"fmt"
	"testing"

	"gotest.tools/v3/assert"

	"github.com/gumgo/gumgo/internal/osabi"
)

func addrHex(addr uintptr) string {
	return fmt.Sprintf("%#x", addr)
}

func TestBatcher_CommitRWX_ActivatesAndWritesPages(t *testing.T) {
	be := newFakeBackend()
	b := newBatcher(be, osabi.StrategyRWXAllowed, nil)

	tx := newTransaction()
	fctx := newFuncContext(0x1000, kindDefault)
	fctx.trampoline, _ = be.CreateTrampoline(0x1000, 0)
	tx.scheduleUpdate(fctx, true, 0x1000, 5)

	if err := b.commit(context.Background(), tx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if !fctx.activated {
		t.Fatal("expected funcContext.activated to flip true after a successful commit")
	}
	if !be.isActivated(0x1000) {
		t.Fatal("expected the backend to record activation at the target address")
	}
}

func TestBatcher_CommitSuspendAll_RunsWithoutSuspendingSelf(t *testing.T) {
	be := newFakeBackend()
	b := newBatcher(be, osabi.StrategyWXSuspendAll, nil)

	tx := newTransaction()
	fctx := newFuncContext(0x2000, kindDefault)
	fctx.trampoline, _ = be.CreateTrampoline(0x2000, 0)
	tx.scheduleUpdate(fctx, true, 0x2000, 5)

	if err := b.commit(context.Background(), tx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if !fctx.activated {
		t.Fatal("expected activation to succeed under the suspend-all strategy")
	}
}

// TestBatcher_CommitRWX_VisitsPagesInAscendingOrder pins down the golden
// call sequence commitRWX must produce across multiple pages: activations
// happen in ascending page order (spec.md §4.3's "pagesSorted"), one
// ActivateTrampoline call per page touched.
func TestBatcher_CommitRWX_VisitsPagesInAscendingOrder(t *testing.T) {
	be := newFakeBackend()
	b := newBatcher(be, osabi.StrategyRWXAllowed, nil)
	pageSize := uintptr(osabi.PageSize())

	tx := newTransaction()
	addrs := []uintptr{3 * pageSize, 1 * pageSize, 2 * pageSize}
	for _, addr := range addrs {
		fctx := newFuncContext(addr, kindDefault)
		fctx.trampoline, _ = be.CreateTrampoline(addr, 0)
		tx.scheduleUpdate(fctx, true, addr, 5)
	}

	err := b.commit(context.Background(), tx)
	assert.NilError(t, err)
	assert.DeepEqual(t, []string{
		"activate:" + addrHex(1*pageSize),
		"activate:" + addrHex(2*pageSize),
		"activate:" + addrHex(3*pageSize),
	}, be.calls())
}

func TestBatcher_CommitNoPagesIsNoop(t *testing.T) {
	be := newFakeBackend()
	b := newBatcher(be, osabi.StrategyRWXAllowed, nil)
	if err := b.commit(context.Background(), newTransaction()); err != nil {
		t.Fatalf("expected nil error for an empty transaction, got %v", err)
	}
}

func TestBatcher_CommitGraftedRecordsActivationWithoutProtectionCalls(t *testing.T) {
	be := newFakeBackend()
	b := newBatcher(be, osabi.StrategySignedCodeRequired, nil)

	tx := newTransaction()
	fctx := newFuncContext(0x3000, kindDefault)
	trampoline, _ := be.CreateTrampoline(0x3000, 0)
	fctx.trampoline = trampoline
	tx.scheduleUpdate(fctx, true, 0x3000, 5)

	if err := b.commit(context.Background(), tx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if !fctx.activated {
		t.Fatal("expected activation under the grafted strategy")
	}
}
