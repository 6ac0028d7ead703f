package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"

	"motelbooking/internal/common/money"
)

// Stripe authorizes with manual-capture PaymentIntents. The payment token is
// a Stripe PaymentMethod id; the reference is the PaymentIntent id.
type Stripe struct {
	api    *client.API
	logger *slog.Logger
}

// NewStripe creates a Stripe gateway for secretKey
func NewStripe(secretKey string, logger *slog.Logger) (*Stripe, error) {
	if secretKey == "" {
		return nil, errors.New("stripe secret key is required")
	}
	return &Stripe{api: client.New(secretKey, nil), logger: logger}, nil
}

func (s *Stripe) Name() string { return "stripe" }

func (s *Stripe) Authorize(ctx context.Context, req AuthorizeRequest) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(req.Amount.AmountMinor),
		Currency:           stripe.String(strings.ToLower(string(req.Amount.Currency))),
		PaymentMethod:      stripe.String(req.Token),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		CaptureMethod:      stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
		Confirm:            stripe.Bool(true),
	}
	params.Context = ctx
	params.SetIdempotencyKey("authorize-" + req.PaymentID)
	params.AddMetadata("payment_id", req.PaymentID)
	params.AddMetadata("invoice_id", req.InvoiceID)

	pi, err := s.api.PaymentIntents.New(params)
	if err != nil {
		return "", s.classify("authorize", err)
	}
	if pi.Status != stripe.PaymentIntentStatusRequiresCapture {
		s.logger.Warn("stripe authorization not capturable",
			"payment_id", req.PaymentID,
			"intent_id", pi.ID,
			"status", pi.Status,
		)
		return "", declined("payment intent %s is %s", pi.ID, pi.Status)
	}
	return pi.ID, nil
}

func (s *Stripe) Capture(ctx context.Context, ref string, amount money.Money) error {
	params := &stripe.PaymentIntentCaptureParams{
		AmountToCapture: stripe.Int64(amount.AmountMinor),
	}
	params.Context = ctx
	params.SetIdempotencyKey("capture-" + ref)
	if _, err := s.api.PaymentIntents.Capture(ref, params); err != nil {
		return s.classify("capture", err)
	}
	return nil
}

func (s *Stripe) Refund(ctx context.Context, req RefundRequest) error {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.Ref),
		Amount:        stripe.Int64(req.Amount.AmountMinor),
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey())
	params.AddMetadata("payment_id", req.PaymentID)
	if _, err := s.api.Refunds.New(params); err != nil {
		return s.classify("refund", err)
	}
	return nil
}

func (s *Stripe) Void(ctx context.Context, ref string) error {
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx
	params.SetIdempotencyKey("void-" + ref)
	if _, err := s.api.PaymentIntents.Cancel(ref, params); err != nil {
		return s.classify("void", err)
	}
	return nil
}

// classify turns card errors into declines and leaves the rest as failures
func (s *Stripe) classify(op string, err error) error {
	var serr *stripe.Error
	if errors.As(err, &serr) && serr.Type == stripe.ErrorTypeCard {
		return declined("%s: %s (%s)", op, serr.Msg, serr.Code)
	}
	return fmt.Errorf("stripe %s: %w", op, err)
}
