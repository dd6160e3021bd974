// Copyright The Gumgo Authors
// SPDX-License-Identifier: Apache-2.0

package interceptor

import (
	"sort"

	"github.com/gumgo/gumgo/internal/osabi"
)

// destroyTask is spec.md §3's deferred-destroy entry. ctx nil means the task
// carries no usage-counter gate and always runs on the first drain.
// Obsolete listener snapshots are not queued here; Go's GC reclaims them
// once unreachable.
type destroyTask struct {
	ctx     *funcContext
	release func()
}

func (t *destroyTask) ready() bool {
	return t.ctx == nil || t.ctx.usage() == 0
}

// updateTask is spec.md §3's page-update task: a context and which
// trampoline transition to perform at addr when the batcher gets around to
// writing this page.
type updateTask struct {
	ctx      *funcContext
	activate bool
	addr     uintptr
}

// transaction is spec.md §3's "Transaction": the reference-counted scope
// collecting destroy and update tasks between begin and the matching end.
// The interceptor always owns exactly one current transaction; begin/end
// nesting depth is tracked on the Interceptor itself since the txn is
// swapped out wholesale at commit (spec.md §4.3 step 1).
type transaction struct {
	isDirty bool

	destroyQueue []destroyTask

	// updates maps a page address to the ordered list of tasks that run
	// on it. A page reached only because an overwrite straddled onto it
	// (spec.md §4.3 "Update-task scheduling is page-indexed") has a nil or
	// empty slice here but is still present as a map key, so it is
	// included in the protection dance.
	updates map[uintptr][]*updateTask
}

func newTransaction() *transaction {
	return &transaction{updates: map[uintptr][]*updateTask{}}
}

// scheduleUpdate records a trampoline activate/deactivate write at addr,
// covering length bytes, filing it under its start page and also touching
// its end page if the write straddles a page boundary.
func (tx *transaction) scheduleUpdate(ctx *funcContext, activate bool, addr uintptr, length int) {
	startPage := osabi.PageOf(addr)
	endPage := osabi.PageOf(addr + uintptr(length) - 1)

	tx.touchPage(startPage)
	tx.updates[startPage] = append(tx.updates[startPage], &updateTask{ctx: ctx, activate: activate, addr: addr})
	if endPage != startPage {
		tx.touchPage(endPage)
	}
	tx.isDirty = true
}

func (tx *transaction) touchPage(p uintptr) {
	if _, ok := tx.updates[p]; !ok {
		tx.updates[p] = nil
	}
}

// scheduleDestroy appends a destroy task, marking the transaction dirty so
// it is not mistaken for a no-op flush.
func (tx *transaction) scheduleDestroy(ctx *funcContext, release func()) {
	tx.destroyQueue = append(tx.destroyQueue, destroyTask{ctx: ctx, release: release})
	tx.isDirty = true
}

// pagesSorted returns the transaction's touched pages in ascending address
// order, per spec.md §4.3 step 2's deterministic ordering requirement.
func (tx *transaction) pagesSorted() []uintptr {
	pages := make([]uintptr, 0, len(tx.updates))
	for p := range tx.updates {
		pages = append(pages, p)
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i] < pages[j] })
	return pages
}
