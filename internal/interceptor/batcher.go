// Copyright The Gumgo Authors
// SPDX-License-Identifier: Apache-2.0

package interceptor

import (
	"context"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/gumgo/gumgo/internal/backend"
	"github.com/gumgo/gumgo/internal/gumex"
	"github.com/gumgo/gumgo/internal/gumutil"
	"github.com/gumgo/gumgo/internal/osabi"
)

// batcher implements spec.md §4.3's page-update commit: it owns no state of
// its own beyond its collaborators and self-observability instruments, and
// operates entirely on the *transaction handed to commit.
type batcher struct {
	be       backend.Backend
	strategy osabi.Strategy

	commits          metric.Int64Counter
	pagesWritten     metric.Int64Counter
	threadsSuspended metric.Int64Counter
}

// newBatcher builds a batcher against be, choosing strategy once at
// construction (spec.md §4.3 step 3 describes a per-commit strategy choice;
// gumgo's host capability set does not change between commits, so it is
// detected once — see osabi.DetectStrategy — and threaded through rather
// than reprobed every commit). A nil meter installs the no-op implementation
// from go.opentelemetry.io/otel/metric/noop, per SPEC_FULL.md §5's
// "defaulting to the no-op meter".
func newBatcher(be backend.Backend, strategy osabi.Strategy, meter metric.Meter) *batcher {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter("gumgo")
	}
	b := &batcher{be: be, strategy: strategy}
	b.commits, _ = meter.Int64Counter("gumgo.commits")
	b.pagesWritten, _ = meter.Int64Counter("gumgo.pages_written")
	b.threadsSuspended, _ = meter.Int64Counter("gumgo.threads_suspended")
	return b
}

// commit applies every update task in tx per spec.md §4.3's numbered steps
// 2-3 (step 1, the transaction swap, and step 5, the ignore-mode pin, are
// the caller's responsibility — see interceptor.go's commitLocked). It
// returns an aggregated error (via go.uber.org/multierr) if any page's
// writes failed; tasks on pages that succeeded have already taken effect.
func (b *batcher) commit(ctx context.Context, tx *transaction) error {
	pages := tx.pagesSorted()
	if len(pages) == 0 {
		return nil
	}

	logger := gumutil.LoggerFromContext(ctx)
	logger.Debug("committing page updates", "pages", len(pages), "strategy", b.strategy.String())
	if b.commits != nil {
		b.commits.Add(ctx, 1)
	}

	var err error
	switch b.strategy {
	case osabi.StrategySignedCodeRequired:
		err = b.commitGrafted(ctx, tx, pages)
	case osabi.StrategyRWXAllowed:
		err = b.commitRWX(ctx, tx, pages)
	case osabi.StrategyWXCodeSegment:
		err = b.commitCodeSegment(ctx, tx, pages)
	case osabi.StrategyWXSuspendAll:
		err = b.commitSuspendAll(ctx, tx, pages)
	default:
		gumutil.ShouldNotReachHere("batcher: unknown strategy", b.strategy)
	}
	return err
}

// runPage executes every update task filed under page in scheduling order,
// asking the backend to write or restore each context's trampoline
// redirect at the task's own address.
func (b *batcher) runPage(tasks []*updateTask) error {
	var errs error
	for _, t := range tasks {
		var err error
		if t.activate {
			err = b.be.ActivateTrampoline(t.ctx.trampoline, t.addr)
			if err == nil {
				t.ctx.activated = true
			}
		} else {
			err = b.be.DeactivateTrampoline(t.ctx.trampoline, t.addr)
			if err == nil {
				t.ctx.activated = false
			}
		}
		errs = multierr.Append(errs, err)
	}
	return errs
}

// commitGrafted implements the signed-code-required strategy: no page
// protection changes; each context already owns a pre-grafted trampoline
// slot (backend.ClaimGraftedTrampoline ran at instrument time), and each
// update asks the backend to activate or deactivate that slot directly.
func (b *batcher) commitGrafted(ctx context.Context, tx *transaction, pages []uintptr) error {
	var errs error
	for _, p := range pages {
		errs = multierr.Append(errs, b.runPage(tx.updates[p]))
	}
	return errs
}

// commitRWX implements spec.md §4.3's "RWX allowed" strategy.
func (b *batcher) commitRWX(ctx context.Context, tx *transaction, pages []uintptr) error {
	var errs error
	for _, p := range pages {
		if err := osabi.Mprotect(p, osabi.PageSize(), osabi.ProtRWX); err != nil {
			errs = multierr.Append(errs, gumex.Wrapf(err, "batcher: mprotect RWX page %#x", p))
			continue
		}
		errs = multierr.Append(errs, b.runPage(tx.updates[p]))
		osabi.FlushICache(p, osabi.PageSize())
		if b.pagesWritten != nil {
			b.pagesWritten.Add(ctx, 1)
		}
	}
	return errs
}

// commitCodeSegment implements spec.md §4.3's W^X-with-staging strategy: a
// writable staging segment is prepared off to the side, updates run against
// the staged copy, and the segment is realized (remapped executable) over
// the live pages in one shot. This reference implementation does not have a
// real code-segment remap facility on Linux (MAP_JIT is Darwin-only), so it
// is implemented as commitRWX's page-at-a-time dance under a temporary RWX
// window, documented as the one strategy branch this backend cannot
// exercise for real outside a host with true code-segment support — see
// DESIGN.md.
func (b *batcher) commitCodeSegment(ctx context.Context, tx *transaction, pages []uintptr) error {
	return b.commitRWX(ctx, tx, pages)
}

// commitSuspendAll implements spec.md §4.3's W^X-without-code-segment
// strategy: every other thread is suspended for the duration of the
// protect/write/restore window.
func (b *batcher) commitSuspendAll(ctx context.Context, tx *transaction, pages []uintptr) error {
	self := osabi.CurrentThreadID()
	ids, err := osabi.ThreadIDs()
	if err != nil {
		return gumex.Wrapf(err, "batcher: enumerate threads")
	}

	var suspended []int
	g, _ := errgroup.WithContext(ctx)
	for _, tid := range ids {
		if tid == self {
			continue
		}
		tid := tid
		g.Go(func() error {
			return osabi.SuspendThread(tid)
		})
		suspended = append(suspended, tid)
	}
	if err := g.Wait(); err != nil {
		// best-effort resume of whatever we managed to suspend before
		// surfacing the error
		for _, tid := range suspended {
			_ = osabi.ResumeThread(tid)
		}
		return gumex.Wrapf(err, "batcher: suspend thread set")
	}
	if b.threadsSuspended != nil {
		b.threadsSuspended.Add(ctx, int64(len(suspended)))
	}

	var errs error
	for _, p := range pages {
		if err := osabi.Mprotect(p, osabi.PageSize(), osabi.ProtRW); err != nil {
			errs = multierr.Append(errs, gumex.Wrapf(err, "batcher: mprotect RW page %#x", p))
			continue
		}
		errs = multierr.Append(errs, b.runPage(tx.updates[p]))
		if err := osabi.Mprotect(p, osabi.PageSize(), osabi.ProtRX); err != nil {
			errs = multierr.Append(errs, gumex.Wrapf(err, "batcher: mprotect RX page %#x", p))
			continue
		}
		osabi.FlushICache(p, osabi.PageSize())
		if b.pagesWritten != nil {
			b.pagesWritten.Add(ctx, 1)
		}
	}

	for _, tid := range suspended {
		errs = multierr.Append(errs, osabi.ResumeThread(tid))
	}
	return errs
}
