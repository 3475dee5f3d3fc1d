package reaper

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/sid-stack/aris-registry/internal/domain"
	"github.com/sid-stack/aris-registry/internal/escrow"
)

type fakeHolds struct {
	holds []domain.EscrowHold
}

func (f *fakeHolds) ListStale(_ context.Context, cutoff time.Time, limit int) ([]domain.EscrowHold, error) {
	var out []domain.EscrowHold
	for _, h := range f.holds {
		if !h.Status.Terminal() && h.CreatedAt.Before(cutoff) && len(out) < limit {
			out = append(out, h)
		}
	}
	return out, nil
}

func (f *fakeHolds) ListOpen(_ context.Context, limit int) ([]domain.EscrowHold, error) {
	var out []domain.EscrowHold
	for _, h := range f.holds {
		if !h.Status.Terminal() && len(out) < limit {
			out = append(out, h)
		}
	}
	return out, nil
}

type fakeFlow struct {
	cancelled  []string
	paid       []string
	cancelErrs map[string]error
	statuses   map[string]domain.HoldStatus
}

func (f *fakeFlow) Cancel(_ context.Context, holdID string, to domain.HoldStatus, _ string) (domain.HoldStatus, error) {
	if err := f.cancelErrs[holdID]; err != nil {
		return "", err
	}
	f.cancelled = append(f.cancelled, holdID)
	if f.statuses == nil {
		f.statuses = map[string]domain.HoldStatus{}
	}
	f.statuses[holdID] = to
	return to, nil
}

func (f *fakeFlow) MarkPaid(_ context.Context, holdID string) error {
	f.paid = append(f.paid, holdID)
	return nil
}

type fakeChecker struct {
	states map[string]escrow.IntentState
}

func (f *fakeChecker) IntentState(_ context.Context, id string) (escrow.IntentState, error) {
	st, ok := f.states[id]
	if !ok {
		return "", errors.New("unknown intent")
	}
	return st, nil
}

func newTestReaper(h *fakeHolds, fl *fakeFlow, c *fakeChecker, now time.Time) *Reaper {
	log := slog.New(slog.NewTextHandler(&strings.Builder{}, nil))
	r := New(h, fl, c, log)
	r.now = func() time.Time { return now }
	return r
}

func hold(id string, status domain.HoldStatus, age time.Duration, now time.Time) domain.EscrowHold {
	return domain.EscrowHold{ID: id, Status: status, Amount: 100, CreatedAt: now.Add(-age)}
}

func TestSweepReleasesOnlyStaleOpenHolds(t *testing.T) {
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	holds := &fakeHolds{holds: []domain.EscrowHold{
		hold("pi_stale_73h", domain.HoldAuthorized, 73*time.Hour, now),
		hold("pi_fresh_1h", domain.HoldAuthorized, time.Hour, now),
		hold("pi_done", domain.HoldDelivered, 100*time.Hour, now),
		hold("pi_held_80h", domain.HoldFundsHeld, 80*time.Hour, now),
	}}
	flow := &fakeFlow{}
	r := newTestReaper(holds, flow, &fakeChecker{}, now)

	released, errs := r.Sweep(context.Background(), 72*time.Hour)
	if len(errs) != 0 {
		t.Fatalf("errs = %v", errs)
	}
	if released != 2 {
		t.Fatalf("released = %d, want 2", released)
	}
	for _, id := range []string{"pi_stale_73h", "pi_held_80h"} {
		if flow.statuses[id] != domain.HoldCancelledTimeout {
			t.Errorf("%s status = %s, want CANCELLED_TIMEOUT", id, flow.statuses[id])
		}
	}
	for _, id := range flow.cancelled {
		if id == "pi_fresh_1h" || id == "pi_done" {
			t.Errorf("%s should be untouched", id)
		}
	}
}

func TestSweepContinuesPastFailures(t *testing.T) {
	now := time.Now()
	holds := &fakeHolds{holds: []domain.EscrowHold{
		hold("pi_bad", domain.HoldAuthorized, 80*time.Hour, now),
		hold("pi_ok", domain.HoldAuthorized, 90*time.Hour, now),
	}}
	flow := &fakeFlow{cancelErrs: map[string]error{"pi_bad": errors.New("processor down")}}
	r := newTestReaper(holds, flow, &fakeChecker{}, now)

	released, errs := r.Sweep(context.Background(), 72*time.Hour)
	if released != 1 {
		t.Errorf("released = %d, want 1", released)
	}
	if len(errs) != 1 || !strings.Contains(errs[0], "pi_bad") {
		t.Errorf("errs = %v", errs)
	}
}

func TestReconcileMarksCapturedHolds(t *testing.T) {
	now := time.Now()
	holds := &fakeHolds{holds: []domain.EscrowHold{
		hold("pi_lost_write", domain.HoldFundsHeld, 2*time.Hour, now),
		hold("pi_waiting", domain.HoldAuthorized, time.Hour, now),
	}}
	flow := &fakeFlow{}
	checker := &fakeChecker{states: map[string]escrow.IntentState{
		"pi_lost_write": escrow.IntentSucceeded,
		"pi_waiting":    escrow.IntentRequiresCapture,
	}}
	r := newTestReaper(holds, flow, checker, now)

	reconciled, errs := r.Reconcile(context.Background())
	if len(errs) != 0 {
		t.Fatalf("errs = %v", errs)
	}
	if reconciled != 1 {
		t.Fatalf("reconciled = %d, want 1", reconciled)
	}
	if len(flow.paid) != 1 || flow.paid[0] != "pi_lost_write" {
		t.Errorf("paid = %v", flow.paid)
	}
}

func TestReconcileCollectsCheckerErrors(t *testing.T) {
	now := time.Now()
	holds := &fakeHolds{holds: []domain.EscrowHold{
		hold("pi_unknown", domain.HoldAuthorized, time.Hour, now),
	}}
	r := newTestReaper(holds, &fakeFlow{}, &fakeChecker{}, now)

	reconciled, errs := r.Reconcile(context.Background())
	if reconciled != 0 || len(errs) != 1 {
		t.Fatalf("reconciled=%d errs=%v", reconciled, errs)
	}
}
