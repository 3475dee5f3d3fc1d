// Package reaper contains the scheduled safety nets for the escrow flow: the
// dead man's switch that releases holds nobody finalized, and the
// reconciliation pass that converges local hold state with the processor's
// record. Both are batch jobs that tolerate partial failure: one bad hold
// never aborts the sweep.
package reaper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sid-stack/aris-registry/internal/domain"
	"github.com/sid-stack/aris-registry/internal/escrow"
)

// batchLimit caps the holds examined per invocation; the next scheduled run
// picks up the remainder.
const batchLimit = 100

// Canceller is the slice of the escrow flow the reaper drives.
type Canceller interface {
	Cancel(ctx context.Context, holdID string, to domain.HoldStatus, reason string) (domain.HoldStatus, error)
	MarkPaid(ctx context.Context, holdID string) error
}

// HoldLister scans hold records.
type HoldLister interface {
	ListStale(ctx context.Context, cutoff time.Time, limit int) ([]domain.EscrowHold, error)
	ListOpen(ctx context.Context, limit int) ([]domain.EscrowHold, error)
}

// IntentChecker reads processor-side intent state for reconciliation.
type IntentChecker interface {
	IntentState(ctx context.Context, intentID string) (escrow.IntentState, error)
}

type Reaper struct {
	holds     HoldLister
	flow      Canceller
	processor IntentChecker
	log       *slog.Logger
	now       func() time.Time
}

func New(holds HoldLister, flow Canceller, processor IntentChecker, log *slog.Logger) *Reaper {
	return &Reaper{holds: holds, flow: flow, processor: processor, log: log, now: time.Now}
}

// Sweep cancels every hold still AUTHORIZED or FUNDS_HELD that was created
// more than ttl ago. Individual cancel failures are collected, not fatal.
func (r *Reaper) Sweep(ctx context.Context, ttl time.Duration) (released int, errs []string) {
	cutoff := r.now().Add(-ttl)

	stale, err := r.holds.ListStale(ctx, cutoff, batchLimit)
	if err != nil {
		return 0, []string{fmt.Sprintf("listing stale holds: %v", err)}
	}

	for _, hold := range stale {
		if _, err := r.flow.Cancel(ctx, hold.ID, domain.HoldCancelledTimeout, "hold ttl exceeded"); err != nil {
			msg := fmt.Sprintf("failed to release hold %s: %v", hold.ID, err)
			r.log.Error("stale hold release failed", "hold_id", hold.ID, "error", err)
			errs = append(errs, msg)
			continue
		}
		released++
		r.log.Info("released stale hold", "hold_id", hold.ID, "age", r.now().Sub(hold.CreatedAt))
	}
	return released, errs
}

// Reconcile converges holds the processor already settled but whose local
// status write was lost (for example a crash between capture and the
// DELIVERED update). Captured intents are marked PAID locally; other
// mismatches are only logged, the sweep handles them once stale.
func (r *Reaper) Reconcile(ctx context.Context) (reconciled int, errs []string) {
	open, err := r.holds.ListOpen(ctx, batchLimit)
	if err != nil {
		return 0, []string{fmt.Sprintf("listing open holds: %v", err)}
	}

	for _, hold := range open {
		state, err := r.processor.IntentState(ctx, hold.ID)
		if err != nil {
			errs = append(errs, fmt.Sprintf("checking intent %s: %v", hold.ID, err))
			continue
		}
		if state != escrow.IntentSucceeded {
			continue
		}
		if err := r.flow.MarkPaid(ctx, hold.ID); err != nil {
			errs = append(errs, fmt.Sprintf("marking hold %s paid: %v", hold.ID, err))
			continue
		}
		reconciled++
		r.log.Warn("reconciled captured hold", "hold_id", hold.ID, "previous_status", hold.Status)
	}
	return reconciled, errs
}
