// Package webhook applies external payment-processor events to the ledger
// and the escrow state machine. Delivery is at-least-once, so every handler
// here is idempotent: replays are absorbed silently, never errored.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/stripe/stripe-go/v76"
	stripewebhook "github.com/stripe/stripe-go/v76/webhook"
)

var (
	ErrInvalidSignature = errors.New("webhook signature invalid")
	ErrMalformedEvent   = errors.New("webhook payload malformed")
)

// CreditLedger is the slice of the ledger the ingestor needs.
type CreditLedger interface {
	Credit(ctx context.Context, accountID int64, amount int64, externalEventID, description string) (applied bool, newBalance int64, err error)
	ResolveAccountRef(ctx context.Context, ref string) (int64, error)
}

// EscrowMarker receives processor-driven hold transitions.
type EscrowMarker interface {
	MarkFundsHeld(ctx context.Context, holdID string) error
	MarkPaid(ctx context.Context, holdID string) error
}

type Ingestor struct {
	ledger CreditLedger
	escrow EscrowMarker
	secret string
	log    *slog.Logger
}

func NewIngestor(ledger CreditLedger, escrow EscrowMarker, signingSecret string, log *slog.Logger) *Ingestor {
	return &Ingestor{ledger: ledger, escrow: escrow, secret: signingSecret, log: log}
}

// Result reports what an event did. Applied is false for idempotent skips
// and for event types this engine does not consume.
type Result struct {
	EventType string `json:"event_type"`
	Applied   bool   `json:"applied"`
}

// checkoutSession is the subset of the processor's checkout object we read.
type checkoutSession struct {
	ID              string            `json:"id"`
	AmountTotal     int64             `json:"amount_total"`
	Metadata        map[string]string `json:"metadata"`
	CustomerDetails struct {
		Email string `json:"email"`
	} `json:"customer_details"`
}

type paymentIntent struct {
	ID string `json:"id"`
}

// HandleEvent verifies the signature over the raw payload and dispatches the
// event. Signature or shape failures are the only errors that should map to
// a non-200 response.
func (i *Ingestor) HandleEvent(ctx context.Context, payload []byte, sigHeader string) (*Result, error) {
	event, err := stripewebhook.ConstructEvent(payload, sigHeader, i.secret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	switch event.Type {
	case "checkout.session.completed":
		var session checkoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		ref := session.Metadata["account_id"]
		if ref == "" {
			ref = session.CustomerDetails.Email
		}
		if ref == "" {
			return nil, fmt.Errorf("%w: no account reference", ErrMalformedEvent)
		}
		applied, err := i.Apply(ctx, event.ID, ref, session.AmountTotal)
		if err != nil {
			return nil, err
		}
		return &Result{EventType: string(event.Type), Applied: applied}, nil

	case "payment_intent.amount_capturable_updated":
		intent, err := decodeIntent(event)
		if err != nil {
			return nil, err
		}
		if err := i.escrow.MarkFundsHeld(ctx, intent.ID); err != nil {
			return nil, err
		}
		i.log.Info("funds held", "hold_id", intent.ID)
		return &Result{EventType: string(event.Type), Applied: true}, nil

	case "payment_intent.succeeded":
		intent, err := decodeIntent(event)
		if err != nil {
			return nil, err
		}
		// Normally the finalize path already marked the hold DELIVERED and
		// this is a no-op; it converges holds whose status write was lost.
		if err := i.escrow.MarkPaid(ctx, intent.ID); err != nil {
			return nil, err
		}
		return &Result{EventType: string(event.Type), Applied: true}, nil

	default:
		return &Result{EventType: string(event.Type), Applied: false}, nil
	}
}

// Apply credits a top-up exactly once. Returns applied=false on replay of a
// previously processed event id.
func (i *Ingestor) Apply(ctx context.Context, eventID, accountRef string, amount int64) (bool, error) {
	if amount <= 0 {
		return false, fmt.Errorf("%w: non-positive amount %d", ErrMalformedEvent, amount)
	}

	accountID, err := i.ledger.ResolveAccountRef(ctx, accountRef)
	if err != nil {
		return false, err
	}

	applied, balance, err := i.ledger.Credit(ctx, accountID, amount, eventID, "top-up via payment processor")
	if err != nil {
		return false, err
	}
	if applied {
		i.log.Info("top-up applied", "event_id", eventID, "account_id", accountID, "amount", amount, "balance", balance)
	} else {
		i.log.Info("top-up replay skipped", "event_id", eventID, "account_id", accountID)
	}
	return applied, nil
}

func decodeIntent(event stripe.Event) (*paymentIntent, error) {
	var intent paymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if intent.ID == "" {
		return nil, fmt.Errorf("%w: missing intent id", ErrMalformedEvent)
	}
	return &intent, nil
}
