// Package gateway talks to the payment processor that holds and moves the
// guest's money. A decline is reported as an error wrapping
// domain.ErrGatewayDeclined.
package gateway

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"motelbooking/internal/billing/domain"
	"motelbooking/internal/common/money"
)

// AuthorizeRequest asks the processor to hold funds
type AuthorizeRequest struct {
	PaymentID string
	InvoiceID string
	Method    domain.Method
	Amount    money.Money
	Token     string
}

// RefundRequest asks the processor to return part of a captured payment.
// RefundedTotal includes Amount.
type RefundRequest struct {
	PaymentID     string
	Ref           string
	Amount        money.Money
	RefundedTotal money.Money
}

// IdempotencyKey names this refund. Successive partial refunds of a payment
// get different keys; a resent request gets the same one.
func (r RefundRequest) IdempotencyKey() string {
	return fmt.Sprintf("refund-%s-%d", r.PaymentID, r.RefundedTotal.AmountMinor)
}

// Gateway is a payment processor
type Gateway interface {
	Name() string
	// Authorize holds funds and returns the processor's reference
	Authorize(ctx context.Context, req AuthorizeRequest) (ref string, err error)
	Capture(ctx context.Context, ref string, amount money.Money) error
	Refund(ctx context.Context, req RefundRequest) error
	Void(ctx context.Context, ref string) error
}

// Config selects and configures the gateway
type Config struct {
	Provider        string `envconfig:"GATEWAY_PROVIDER" default:"simulated"`
	StripeSecretKey string `envconfig:"STRIPE_SECRET_KEY"`
	AcquiringPrefix string `envconfig:"ACQUIRING_SUBJECT_PREFIX" default:"acquiring"`
	MerchantID      string `envconfig:"ACQUIRING_MERCHANT_ID"`
}

func declined(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", domain.ErrGatewayDeclined, fmt.Sprintf(format, args...))
}

func reference(prefix string) string {
	return prefix + "-" + strings.ToUpper(uuid.NewString()[:8])
}
