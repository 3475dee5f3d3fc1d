// Package escrow implements the fund-hold / artifact-delivery / capture state
// machine. Funds are reserved with a manual-capture hold at the processor,
// captured only after the deliverable is durably stored, and released by a
// compensating cancel on any pipeline failure. Processor and storage calls
// are never retried inside a single Finalize: re-submission by the caller is
// the recovery path, because a silent retry of a capture call risks charging
// twice.
package escrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sid-stack/aris-registry/internal/domain"
)

// HoldIntent is the processor's view of a freshly created hold.
type HoldIntent struct {
	ID            string
	ClientSecret  string
	ManualCapture bool
}

// IntentState mirrors the processor-side lifecycle of a hold.
type IntentState string

const (
	IntentRequiresCapture IntentState = "requires_capture"
	IntentSucceeded       IntentState = "succeeded"
	IntentCanceled        IntentState = "canceled"
	IntentPending         IntentState = "pending"
)

// Processor is the external payment processor contract.
type Processor interface {
	CreateHold(ctx context.Context, amount int64, ownerAccountID int64) (*HoldIntent, error)
	Capture(ctx context.Context, intentID string) error
	Cancel(ctx context.Context, intentID string) error
	IntentState(ctx context.Context, intentID string) (IntentState, error)
}

// ArtifactStore uploads a deliverable and returns a time-limited retrievable
// reference.
type ArtifactStore interface {
	Upload(ctx context.Context, data []byte, path string) (string, error)
}

// Renderer turns the finalize payload into deliverable bytes. Content
// generation itself lives outside this engine.
type Renderer interface {
	Render(ctx context.Context, payload string) ([]byte, error)
}

// Store persists escrow holds. Status transitions are conditional updates at
// the storage layer; a transition from a state the row is no longer in
// affects zero rows.
type Store interface {
	Insert(ctx context.Context, hold *domain.EscrowHold) error
	Get(ctx context.Context, id string) (*domain.EscrowHold, error)
	Transition(ctx context.Context, id string, from []domain.HoldStatus, to domain.HoldStatus, artifactRef string) error
	ListStale(ctx context.Context, cutoff time.Time, limit int) ([]domain.EscrowHold, error)
	ListOpen(ctx context.Context, limit int) ([]domain.EscrowHold, error)
}

var openStates = []domain.HoldStatus{domain.HoldAuthorized, domain.HoldFundsHeld}

type Flow struct {
	processor Processor
	artifacts ArtifactStore
	renderer  Renderer
	store     Store
	log       *slog.Logger
}

func NewFlow(p Processor, a ArtifactStore, r Renderer, s Store, log *slog.Logger) *Flow {
	return &Flow{processor: p, artifacts: a, renderer: r, store: s, log: log}
}

// Authorize places a manual-capture hold for amount and persists it in
// AUTHORIZED. If the processor does not confirm manual capture the intent is
// released immediately and the call fails closed.
func (f *Flow) Authorize(ctx context.Context, ownerAccountID int64, amount int64) (*domain.EscrowHold, string, error) {
	if amount <= 0 {
		return nil, "", fmt.Errorf("hold amount must be positive, got %d", amount)
	}

	intent, err := f.processor.CreateHold(ctx, amount, ownerAccountID)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", domain.ErrProcessor, err)
	}
	if !intent.ManualCapture {
		// Auto-capture would charge before delivery. Release and refuse.
		if cerr := f.processor.Cancel(ctx, intent.ID); cerr != nil {
			f.log.Error("failed to release non-manual intent", "hold_id", intent.ID, "error", cerr)
		}
		return nil, "", domain.ErrManualCaptureRequired
	}

	now := time.Now().UTC()
	hold := &domain.EscrowHold{
		ID:             intent.ID,
		OwnerAccountID: ownerAccountID,
		Amount:         amount,
		Status:         domain.HoldAuthorized,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := f.store.Insert(ctx, hold); err != nil {
		return nil, "", fmt.Errorf("hold insert failed: %w", err)
	}

	f.log.Info("hold authorized", "hold_id", hold.ID, "account_id", ownerAccountID, "amount", amount)
	return hold, intent.ClientSecret, nil
}

// MarkFundsHeld records the processor's confirmation that funds are actually
// reserved. Only AUTHORIZED holds move; anything else is a stale or replayed
// notification and is absorbed.
func (f *Flow) MarkFundsHeld(ctx context.Context, holdID string) error {
	err := f.store.Transition(ctx, holdID, []domain.HoldStatus{domain.HoldAuthorized}, domain.HoldFundsHeld, "")
	if errors.Is(err, domain.ErrHoldTerminal) {
		return nil
	}
	return err
}

// Finalize runs the delivery sequence: render, store, capture, persist.
// Capture strictly follows durable storage, so a processor failure can never
// leave a captured-but-undelivered hold. A stored artifact without capture is
// accepted as a rare reconcilable loss rather than charging for a failed
// payment.
func (f *Flow) Finalize(ctx context.Context, holdID, payload string) (string, error) {
	hold, err := f.store.Get(ctx, holdID)
	if err != nil {
		return "", err
	}
	if hold.Status.Terminal() {
		return "", domain.ErrHoldTerminal
	}

	data, err := f.renderer.Render(ctx, payload)
	if err != nil {
		f.rollback(ctx, holdID, "render failed")
		return "", fmt.Errorf("%w: render: %v", domain.ErrArtifactStorage, err)
	}

	path := fmt.Sprintf("deliverables/%d/%s.pdf", hold.OwnerAccountID, holdID)
	artifactRef, err := f.artifacts.Upload(ctx, data, path)
	if err != nil {
		f.rollback(ctx, holdID, "artifact upload failed")
		return "", fmt.Errorf("%w: %v", domain.ErrArtifactStorage, err)
	}

	if err := f.processor.Capture(ctx, holdID); err != nil {
		f.rollback(ctx, holdID, "capture failed")
		return "", fmt.Errorf("%w: capture: %v", domain.ErrProcessor, err)
	}

	if err := f.store.Transition(ctx, holdID, openStates, domain.HoldDelivered, artifactRef); err != nil {
		// Money is captured; the reconciliation pass will converge the local
		// status from the processor's record.
		f.log.Error("status write failed after capture", "hold_id", holdID, "error", err)
		return "", err
	}

	f.log.Info("hold delivered", "hold_id", holdID, "artifact_ref", artifactRef)
	return artifactRef, nil
}

// rollback releases the processor hold and marks the local record
// CANCELLED_ERROR. Called only from Finalize failure paths.
func (f *Flow) rollback(ctx context.Context, holdID, reason string) {
	if _, err := f.Cancel(ctx, holdID, domain.HoldCancelledError, reason); err != nil {
		f.log.Error("rollback cancel failed", "hold_id", holdID, "reason", reason, "error", err)
	}
}

// Cancel releases the hold at the processor and moves it to the given
// terminal CANCELLED_* state. Cancelling a hold that is already terminal is a
// no-op returning the current status.
func (f *Flow) Cancel(ctx context.Context, holdID string, to domain.HoldStatus, reason string) (domain.HoldStatus, error) {
	if to != domain.HoldCancelledTimeout && to != domain.HoldCancelledError {
		return "", fmt.Errorf("invalid cancel target %s", to)
	}

	hold, err := f.store.Get(ctx, holdID)
	if err != nil {
		return "", err
	}
	if hold.Status.Terminal() {
		return hold.Status, nil
	}

	if err := f.processor.Cancel(ctx, holdID); err != nil {
		return hold.Status, fmt.Errorf("%w: cancel: %v", domain.ErrProcessor, err)
	}

	if err := f.store.Transition(ctx, holdID, openStates, to, ""); err != nil {
		if errors.Is(err, domain.ErrHoldTerminal) {
			// Lost the race against another canceller; both wanted the hold dead.
			current, gerr := f.store.Get(ctx, holdID)
			if gerr != nil {
				return "", gerr
			}
			return current.Status, nil
		}
		return "", err
	}

	f.log.Info("hold cancelled", "hold_id", holdID, "status", to, "reason", reason)
	return to, nil
}

// MarkPaid converges a hold the processor reports captured but whose local
// status write was lost. Used by the reconciliation pass.
func (f *Flow) MarkPaid(ctx context.Context, holdID string) error {
	err := f.store.Transition(ctx, holdID, openStates, domain.HoldPaid, "")
	if errors.Is(err, domain.ErrHoldTerminal) {
		return nil
	}
	return err
}

// Get exposes hold lookups to the HTTP layer and the reaper.
func (f *Flow) Get(ctx context.Context, holdID string) (*domain.EscrowHold, error) {
	return f.store.Get(ctx, holdID)
}
