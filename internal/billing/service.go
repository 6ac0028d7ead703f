// Package billing issues invoices and moves payments through authorize,
// capture, refund and void while keeping each invoice's balance in step.
package billing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/oklog/ulid/v2"

	"motelbooking/internal/billing/domain"
	"motelbooking/internal/billing/gateway"
	"motelbooking/internal/billing/store"
	"motelbooking/internal/common/events"
	"motelbooking/internal/common/middleware"
	"motelbooking/internal/common/money"
)

var validate = validator.New()

// systemActor is recorded as the initiator when no actor is known
const systemActor = "system"

// Service provides invoice and payment operations
type Service struct {
	store     store.Store
	gateway   gateway.Gateway
	publisher events.EventPublisher
	now       func() time.Time
	logger    *slog.Logger
}

// Option configures a Service
type Option func(*Service)

// WithClock overrides the wall clock used for timestamps
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a new billing service
func NewService(st store.Store, gw gateway.Gateway, publisher events.EventPublisher, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:     st,
		gateway:   gw,
		publisher: publisher,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LineItemRequest is one charge to put on an invoice
type LineItemRequest struct {
	Description string      `json:"description" validate:"required,max=255"`
	Quantity    int64       `json:"quantity" validate:"gt=0"`
	UnitAmount  money.Money `json:"unit_amount"`
}

// IssueInvoiceRequest is the request to bill a booking
type IssueInvoiceRequest struct {
	BookingID         string            `json:"booking_id" validate:"required"`
	PropertyID        string            `json:"property_id" validate:"required"`
	LineItems         []LineItemRequest `json:"line_items" validate:"required,min=1,dive"`
	TaxRateBasisPoint int64             `json:"tax_rate_basis_points" validate:"gte=0,lte=10000"`
}

// AuthorizeRequest is the request to hold funds against an invoice
type AuthorizeRequest struct {
	InvoiceID    string        `json:"invoice_id" validate:"required"`
	Method       domain.Method `json:"method" validate:"required"`
	Amount       money.Money   `json:"amount"`
	PaymentToken string        `json:"payment_token"`
	InitiatedBy  string        `json:"initiated_by"`
}

// Reconciliation compares an invoice's stored balance with the one implied
// by its payments
type Reconciliation struct {
	InvoiceID       string      `json:"invoice_id"`
	StoredBalance   money.Money `json:"stored_balance"`
	ExpectedBalance money.Money `json:"expected_balance"`
	StoredHold      money.Money `json:"stored_hold"`
	ExpectedHold    money.Money `json:"expected_hold"`
	PaymentCount    int         `json:"payment_count"`
	Consistent      bool        `json:"consistent"`
}

func validateRequest(req interface{}) error {
	if err := validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	return nil
}

// IssueInvoice creates the invoice for a booking. A booking has at most one.
func (s *Service) IssueInvoice(ctx context.Context, req IssueInvoiceRequest) (*domain.Invoice, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	items := make([]domain.LineItem, len(req.LineItems))
	for i, li := range req.LineItems {
		items[i] = domain.LineItem{Description: li.Description, Quantity: li.Quantity, UnitAmount: li.UnitAmount}
	}
	inv, err := domain.NewInvoice(ulid.Make().String(), req.BookingID, req.PropertyID, items, req.TaxRateBasisPoint, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateInvoice(ctx, inv); err != nil {
		return nil, err
	}

	s.logger.Info("invoice issued",
		"invoice_id", inv.ID,
		"booking_id", inv.BookingID,
		"amount", inv.GrandTotal.StringFixed(),
		"currency", inv.Currency,
	)
	s.publishInvoice(ctx, events.EventInvoiceIssued, inv)
	return inv, nil
}

// GetInvoice returns an invoice by id
func (s *Service) GetInvoice(ctx context.Context, id string) (*domain.Invoice, error) {
	return s.store.GetInvoice(ctx, id)
}

// GetInvoiceByBooking returns the invoice of a booking
func (s *Service) GetInvoiceByBooking(ctx context.Context, bookingID string) (*domain.Invoice, error) {
	return s.store.GetInvoiceByBooking(ctx, bookingID)
}

// ListPayments returns an invoice's payments, oldest first
func (s *Service) ListPayments(ctx context.Context, invoiceID string) ([]*domain.Payment, error) {
	return s.store.ListPayments(ctx, invoiceID)
}

// GetPayment returns a payment by id
func (s *Service) GetPayment(ctx context.Context, id string) (*domain.Payment, error) {
	return s.store.GetPayment(ctx, id)
}

// AuthorizePayment holds funds with the gateway and against the invoice
// balance. A decline or a rejected amount leaves no payment behind.
func (s *Service) AuthorizePayment(ctx context.Context, req AuthorizeRequest) (*domain.Payment, *domain.Invoice, error) {
	if err := validateRequest(req); err != nil {
		return nil, nil, err
	}
	if req.InitiatedBy == "" {
		req.InitiatedBy = middleware.GetActorID(ctx)
	}
	if req.InitiatedBy == "" {
		req.InitiatedBy = systemActor
	}
	payment, err := domain.NewPayment(ulid.Make().String(), req.InvoiceID, req.Method, req.Amount, req.InitiatedBy, s.now())
	if err != nil {
		return nil, nil, err
	}
	payment.Processor = s.gateway.Name()

	var (
		ref     string
		invoice *domain.Invoice
	)
	err = s.store.WithInvoiceLock(ctx, req.InvoiceID, func(tx store.InvoiceTx) error {
		inv, err := tx.Invoice(ctx)
		if err != nil {
			return err
		}
		p := payment.Clone()
		if err := domain.ApplyAuthorization(inv, p, s.now()); err != nil {
			return err
		}
		// A replayed transaction reuses the hold already placed.
		if ref == "" {
			if ref, err = s.gateway.Authorize(ctx, gateway.AuthorizeRequest{
				PaymentID: p.ID,
				InvoiceID: inv.ID,
				Method:    p.Method,
				Amount:    p.Amount,
				Token:     req.PaymentToken,
			}); err != nil {
				return err
			}
		}
		p.ProcessorRef = ref
		if err := tx.InsertPayment(ctx, p); err != nil {
			return err
		}
		if err := tx.UpdateInvoice(ctx, inv); err != nil {
			return err
		}
		payment, invoice = p, inv
		return nil
	})
	if err != nil {
		if ref != "" {
			s.releaseHold(ctx, ref, req.InvoiceID)
		}
		s.logger.Info("payment authorization rejected",
			"invoice_id", req.InvoiceID,
			"amount", req.Amount.StringFixed(),
			"reason", err.Error(),
		)
		return nil, nil, err
	}

	s.logger.Info("payment authorized",
		"payment_id", payment.ID,
		"invoice_id", invoice.ID,
		"amount", payment.Amount.StringFixed(),
		"balance_due", invoice.BalanceDue.StringFixed(),
	)
	s.publishPayment(ctx, events.EventPaymentAuthorized, payment, invoice)
	return payment, invoice, nil
}

// transition is one payment state change: the ledger step and the gateway
// call that goes with it
type transition struct {
	event   string
	apply   func(inv *domain.Invoice, p *domain.Payment, now time.Time) error
	gateway func(ctx context.Context, p *domain.Payment) error
}

// CapturePayment settles an AUTHORIZED payment
func (s *Service) CapturePayment(ctx context.Context, paymentID string) (*domain.Payment, *domain.Invoice, error) {
	return s.transition(ctx, paymentID, transition{
		event: events.EventPaymentCaptured,
		apply: domain.ApplyCapture,
		gateway: func(ctx context.Context, p *domain.Payment) error {
			return s.gateway.Capture(ctx, p.ProcessorRef, p.Amount)
		},
	})
}

// RefundPayment returns amount of a CAPTURED payment to the guest. A zero
// amount refunds whatever has not been refunded yet.
func (s *Service) RefundPayment(ctx context.Context, paymentID string, amount money.Money) (*domain.Payment, *domain.Invoice, error) {
	return s.transition(ctx, paymentID, transition{
		event: events.EventPaymentRefunded,
		apply: func(inv *domain.Invoice, p *domain.Payment, now time.Time) error {
			if amount.IsZero() {
				amount = p.Refundable()
			}
			return domain.ApplyRefund(inv, p, amount, now)
		},
		gateway: func(ctx context.Context, p *domain.Payment) error {
			return s.gateway.Refund(ctx, gateway.RefundRequest{
				PaymentID:     p.ID,
				Ref:           p.ProcessorRef,
				Amount:        amount,
				RefundedTotal: p.RefundedAmount,
			})
		},
	})
}

// VoidPayment releases an AUTHORIZED payment's hold
func (s *Service) VoidPayment(ctx context.Context, paymentID string) (*domain.Payment, *domain.Invoice, error) {
	return s.transition(ctx, paymentID, transition{
		event: events.EventPaymentVoided,
		apply: domain.ApplyVoid,
		gateway: func(ctx context.Context, p *domain.Payment) error {
			return s.gateway.Void(ctx, p.ProcessorRef)
		},
	})
}

func (s *Service) transition(ctx context.Context, paymentID string, t transition) (*domain.Payment, *domain.Invoice, error) {
	current, err := s.store.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, nil, err
	}

	var (
		payment *domain.Payment
		invoice *domain.Invoice
		called  bool
	)
	err = s.store.WithInvoiceLock(ctx, current.InvoiceID, func(tx store.InvoiceTx) error {
		inv, err := tx.Invoice(ctx)
		if err != nil {
			return err
		}
		p, err := tx.Payment(ctx, paymentID)
		if err != nil {
			return err
		}
		if err := t.apply(inv, p, s.now()); err != nil {
			return err
		}
		if !called {
			if err := t.gateway(ctx, p); err != nil {
				return err
			}
			called = true
		}
		if err := tx.UpdatePayment(ctx, p); err != nil {
			return err
		}
		if err := tx.UpdateInvoice(ctx, inv); err != nil {
			return err
		}
		payment, invoice = p, inv
		return nil
	})
	if err != nil {
		if called {
			s.logger.Error("processor moved funds but the ledger was not updated",
				"payment_id", paymentID,
				"event", t.event,
				"error", err,
			)
		}
		s.logger.Info("payment transition rejected",
			"payment_id", paymentID,
			"event", t.event,
			"reason", err.Error(),
		)
		return nil, nil, err
	}

	s.logger.Info("payment updated",
		"payment_id", payment.ID,
		"invoice_id", invoice.ID,
		"status", payment.Status,
		"balance_due", invoice.BalanceDue.StringFixed(),
		"invoice_status", invoice.Status,
	)
	s.publishPayment(ctx, t.event, payment, invoice)
	return payment, invoice, nil
}

// releaseHold voids a processor hold whose payment could not be recorded
func (s *Service) releaseHold(ctx context.Context, ref, invoiceID string) {
	if err := s.gateway.Void(ctx, ref); err != nil {
		s.logger.Error("failed to release orphaned authorization",
			"invoice_id", invoiceID,
			"processor_ref", ref,
			"error", err,
		)
	}
}

// VoidInvoice closes an invoice that holds no authorized or captured funds.
// Voiding a VOID invoice returns it unchanged.
func (s *Service) VoidInvoice(ctx context.Context, invoiceID string) (*domain.Invoice, error) {
	var (
		invoice *domain.Invoice
		voided  bool
	)
	err := s.store.WithInvoiceLock(ctx, invoiceID, func(tx store.InvoiceTx) error {
		inv, err := tx.Invoice(ctx)
		if err != nil {
			return err
		}
		if voided, err = inv.Void(s.now()); err != nil {
			return err
		}
		invoice = inv
		if !voided {
			return nil
		}
		return tx.UpdateInvoice(ctx, inv)
	})
	if err != nil {
		return nil, err
	}
	if voided {
		s.logger.Info("invoice voided", "invoice_id", invoice.ID, "booking_id", invoice.BookingID)
		s.publishInvoice(ctx, events.EventInvoiceVoided, invoice)
	}
	return invoice, nil
}

// ReconcileInvoice recomputes the balance from the payments' current states
// and compares it with the stored one
func (s *Service) ReconcileInvoice(ctx context.Context, invoiceID string) (*Reconciliation, error) {
	var rec *Reconciliation
	err := s.store.WithInvoiceLock(ctx, invoiceID, func(tx store.InvoiceTx) error {
		inv, err := tx.Invoice(ctx)
		if err != nil {
			return err
		}
		payments, err := tx.Payments(ctx)
		if err != nil {
			return err
		}
		balance, hold, err := domain.ExpectedBalance(inv, payments)
		if err != nil {
			return err
		}
		rec = &Reconciliation{
			InvoiceID:       inv.ID,
			StoredBalance:   inv.BalanceDue,
			ExpectedBalance: balance,
			StoredHold:      inv.AuthorizedHold,
			ExpectedHold:    hold,
			PaymentCount:    len(payments),
			Consistent:      balance.Equal(inv.BalanceDue) && hold.Equal(inv.AuthorizedHold),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !rec.Consistent {
		s.logger.Error("invoice ledger drift",
			"invoice_id", rec.InvoiceID,
			"stored_balance", rec.StoredBalance.StringFixed(),
			"expected_balance", rec.ExpectedBalance.StringFixed(),
		)
	}
	return rec, nil
}

func (s *Service) publishInvoice(ctx context.Context, eventType string, inv *domain.Invoice) {
	s.publish(ctx, eventType, inv.PropertyID, events.AggregateInvoice, inv.ID, events.InvoiceData{
		InvoiceID:       inv.ID,
		BookingID:       inv.BookingID,
		GrandTotalMinor: inv.GrandTotal.AmountMinor,
		BalanceDueMinor: inv.BalanceDue.AmountMinor,
		Currency:        string(inv.Currency),
		Status:          string(inv.Status),
	})
}

func (s *Service) publishPayment(ctx context.Context, eventType string, p *domain.Payment, inv *domain.Invoice) {
	s.publish(ctx, eventType, inv.PropertyID, events.AggregatePayment, p.ID, events.PaymentData{
		PaymentID:       p.ID,
		InvoiceID:       p.InvoiceID,
		Method:          string(p.Method),
		AmountMinor:     p.Amount.AmountMinor,
		RefundedMinor:   p.RefundedAmount.AmountMinor,
		Currency:        string(p.Amount.Currency),
		Status:          string(p.Status),
		BalanceDueMinor: inv.BalanceDue.AmountMinor,
		InvoiceStatus:   string(inv.Status),
	})
}

func (s *Service) publish(ctx context.Context, eventType, propertyID, aggregate, aggregateID string, data interface{}) {
	event, err := events.NewEvent(eventType, propertyID, aggregate, aggregateID, data)
	if err != nil {
		s.logger.Error("failed to build event", "error", err, "type", eventType)
		return
	}
	event.WithCorrelation(middleware.GetCorrelationID(ctx), "")

	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("failed to publish event",
			"error", err,
			"type", eventType,
			"aggregate_id", aggregateID,
		)
	}
}
