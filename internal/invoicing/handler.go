// Package invoicing keeps invoices in step with bookings: a confirmed booking
// is billed, a cancelled one has its unpaid invoice voided, and a modified
// one is re-billed under the replacement booking.
package invoicing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"motelbooking/internal/billing"
	"motelbooking/internal/billing/domain"
	"motelbooking/internal/common/database"
	"motelbooking/internal/common/events"
	"motelbooking/internal/common/money"
)

// Billing is the part of the billing service the handler drives
type Billing interface {
	IssueInvoice(ctx context.Context, req billing.IssueInvoiceRequest) (*domain.Invoice, error)
	GetInvoiceByBooking(ctx context.Context, bookingID string) (*domain.Invoice, error)
	VoidInvoice(ctx context.Context, invoiceID string) (*domain.Invoice, error)
}

// Handler turns booking events into invoice operations
type Handler struct {
	billing Billing
	taxBps  int64
	logger  *slog.Logger
}

// NewHandler creates a handler that taxes room charges at taxBps basis points
func NewHandler(b Billing, taxBps int64, logger *slog.Logger) *Handler {
	return &Handler{billing: b, taxBps: taxBps, logger: logger}
}

// EventTypes implements events.EventHandler
func (h *Handler) EventTypes() []string {
	return []string{
		events.EventBookingConfirmed,
		events.EventBookingCancelled,
		events.EventBookingModified,
	}
}

// Handle implements events.EventHandler. Redelivered events are harmless.
func (h *Handler) Handle(ctx context.Context, event *events.Event) error {
	var data events.BookingData
	if err := event.DecodeData(&data); err != nil {
		return fmt.Errorf("decoding %s: %w", event.Type, err)
	}

	switch event.Type {
	case events.EventBookingConfirmed:
		return h.issue(ctx, data)
	case events.EventBookingCancelled:
		return h.void(ctx, data.BookingID)
	case events.EventBookingModified:
		if data.ReplacesID != "" {
			if err := h.void(ctx, data.ReplacesID); err != nil {
				return err
			}
		}
		return h.issue(ctx, data)
	}
	return nil
}

func (h *Handler) issue(ctx context.Context, data events.BookingData) error {
	currency, err := money.ParseCurrency(data.Currency)
	if err != nil {
		return err
	}

	inv, err := h.billing.IssueInvoice(ctx, billing.IssueInvoiceRequest{
		BookingID:         data.BookingID,
		PropertyID:        data.PropertyID,
		LineItems:         []billing.LineItemRequest{roomCharge(data, currency)},
		TaxRateBasisPoint: h.taxBps,
	})
	if errors.Is(err, database.ErrAlreadyExists) {
		h.logger.Debug("booking already invoiced", "booking_id", data.BookingID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("invoicing booking %s: %w", data.BookingID, err)
	}

	h.logger.Info("booking invoiced",
		"booking_id", data.BookingID,
		"invoice_id", inv.ID,
		"confirmation_code", data.ConfirmationCode,
	)
	return nil
}

// void closes the booking's invoice. An invoice still holding guest funds
// stays open for the front desk to refund.
func (h *Handler) void(ctx context.Context, bookingID string) error {
	inv, err := h.billing.GetInvoiceByBooking(ctx, bookingID)
	if errors.Is(err, database.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if _, err := h.billing.VoidInvoice(ctx, inv.ID); err != nil {
		if errors.Is(err, domain.ErrInvoiceHasFunds) {
			h.logger.Warn("invoice left open, guest funds must be refunded first",
				"booking_id", bookingID,
				"invoice_id", inv.ID,
				"balance_due", inv.BalanceDue.StringFixed(),
			)
			return nil
		}
		return fmt.Errorf("voiding invoice %s: %w", inv.ID, err)
	}
	return nil
}

// roomCharge bills the stay per night when the total splits evenly, and as a
// single line otherwise
func roomCharge(data events.BookingData, currency money.Currency) billing.LineItemRequest {
	description := fmt.Sprintf("Room %s, %s to %s", data.RoomID, data.CheckIn, data.CheckOut)
	if data.Nights > 0 && data.TotalMinor%int64(data.Nights) == 0 {
		return billing.LineItemRequest{
			Description: description,
			Quantity:    int64(data.Nights),
			UnitAmount:  money.New(data.TotalMinor/int64(data.Nights), currency),
		}
	}
	return billing.LineItemRequest{
		Description: description,
		Quantity:    1,
		UnitAmount:  money.New(data.TotalMinor, currency),
	}
}
