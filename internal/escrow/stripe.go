package escrow

import (
	"context"
	"fmt"
	"strconv"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

// StripeProcessor adapts the Stripe PaymentIntents API to the Processor
// contract. Holds are PaymentIntents created with manual capture.
type StripeProcessor struct {
	api *client.API
}

func NewStripeProcessor(secretKey string) *StripeProcessor {
	api := &client.API{}
	api.Init(secretKey, nil)
	return &StripeProcessor{api: api}
}

func (p *StripeProcessor) CreateHold(ctx context.Context, amount int64, ownerAccountID int64) (*HoldIntent, error) {
	params := &stripe.PaymentIntentParams{
		Params:             stripe.Params{Context: ctx},
		Amount:             stripe.Int64(amount),
		Currency:           stripe.String(string(stripe.CurrencyUSD)),
		CaptureMethod:      stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
	}
	params.AddMetadata("account_id", strconv.FormatInt(ownerAccountID, 10))

	intent, err := p.api.PaymentIntents.New(params)
	if err != nil {
		return nil, fmt.Errorf("payment intent create: %w", err)
	}
	return &HoldIntent{
		ID:            intent.ID,
		ClientSecret:  intent.ClientSecret,
		ManualCapture: intent.CaptureMethod == stripe.PaymentIntentCaptureMethodManual,
	}, nil
}

func (p *StripeProcessor) Capture(ctx context.Context, intentID string) error {
	params := &stripe.PaymentIntentCaptureParams{Params: stripe.Params{Context: ctx}}
	if _, err := p.api.PaymentIntents.Capture(intentID, params); err != nil {
		return fmt.Errorf("payment intent capture: %w", err)
	}
	return nil
}

func (p *StripeProcessor) Cancel(ctx context.Context, intentID string) error {
	params := &stripe.PaymentIntentCancelParams{Params: stripe.Params{Context: ctx}}
	if _, err := p.api.PaymentIntents.Cancel(intentID, params); err != nil {
		return fmt.Errorf("payment intent cancel: %w", err)
	}
	return nil
}

func (p *StripeProcessor) IntentState(ctx context.Context, intentID string) (IntentState, error) {
	params := &stripe.PaymentIntentParams{Params: stripe.Params{Context: ctx}}
	intent, err := p.api.PaymentIntents.Get(intentID, params)
	if err != nil {
		return "", fmt.Errorf("payment intent get: %w", err)
	}
	switch intent.Status {
	case stripe.PaymentIntentStatusRequiresCapture:
		return IntentRequiresCapture, nil
	case stripe.PaymentIntentStatusSucceeded:
		return IntentSucceeded, nil
	case stripe.PaymentIntentStatusCanceled:
		return IntentCanceled, nil
	default:
		return IntentPending, nil
	}
}
