// Package domain holds invoices, payments, and the ledger rules tying a
// payment's state to its invoice's balance.
package domain

import (
	"errors"
	"fmt"
	"time"

	"motelbooking/internal/common/money"
)

var (
	ErrValidation          = errors.New("validation error")
	ErrInsufficientFunds   = errors.New("insufficient invoice balance")
	ErrInvalidPaymentState = errors.New("invalid payment state")
	ErrInvoiceNotOpen      = errors.New("invoice is not open")
	ErrInvoiceHasFunds     = errors.New("invoice has authorized or captured funds")
	ErrGatewayDeclined     = errors.New("payment declined")
)

// InvoiceStatus is derived from the balance; it is never set directly
// except for VOID.
type InvoiceStatus string

const (
	InvoiceIssued        InvoiceStatus = "ISSUED"
	InvoicePartiallyPaid InvoiceStatus = "PARTIALLY_PAID"
	InvoicePaid          InvoiceStatus = "PAID"
	InvoiceVoid          InvoiceStatus = "VOID"
)

// LineItem is one charge on an invoice
type LineItem struct {
	Description string      `json:"description"`
	Quantity    int64       `json:"quantity"`
	UnitAmount  money.Money `json:"unit_amount"`
}

// Total is quantity × unit amount
func (li LineItem) Total() money.Money {
	return li.UnitAmount.Multiply(li.Quantity)
}

// Invoice is the bill for one booking.
//
// BalanceDue is what is still owed after authorizations and captures.
// AuthorizedHold is the part of GrandTotal - BalanceDue that is authorized
// but not yet captured.
type Invoice struct {
	ID             string         `json:"id"`
	BookingID      string         `json:"booking_id"`
	PropertyID     string         `json:"property_id"`
	Currency       money.Currency `json:"currency"`
	LineItems      []LineItem     `json:"line_items"`
	SubTotal       money.Money    `json:"sub_total"`
	TaxTotal       money.Money    `json:"tax_total"`
	GrandTotal     money.Money    `json:"grand_total"`
	BalanceDue     money.Money    `json:"balance_due"`
	AuthorizedHold money.Money    `json:"authorized_hold"`
	Status         InvoiceStatus  `json:"status"`
	IssuedAt       time.Time      `json:"issued_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// NewInvoice totals the line items and applies taxBasisPoints to the subtotal
func NewInvoice(id, bookingID, propertyID string, items []LineItem, taxBasisPoints int64, now time.Time) (*Invoice, error) {
	if id == "" || bookingID == "" || propertyID == "" {
		return nil, fmt.Errorf("%w: invoice identifiers are required", ErrValidation)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: an invoice needs at least one line item", ErrValidation)
	}
	if taxBasisPoints < 0 {
		return nil, fmt.Errorf("%w: tax rate cannot be negative", ErrValidation)
	}

	currency := items[0].UnitAmount.Currency
	subTotal := money.Zero(currency)
	for i, li := range items {
		if li.Description == "" {
			return nil, fmt.Errorf("%w: line item %d needs a description", ErrValidation, i)
		}
		if li.Quantity <= 0 {
			return nil, fmt.Errorf("%w: line item %d quantity must be positive", ErrValidation, i)
		}
		if li.UnitAmount.IsNegative() {
			return nil, fmt.Errorf("%w: line item %d amount cannot be negative", ErrValidation, i)
		}
		var err error
		if subTotal, err = subTotal.Add(li.Total()); err != nil {
			return nil, fmt.Errorf("%w: line item %d: %v", ErrValidation, i, err)
		}
	}

	tax := subTotal.Percentage(taxBasisPoints)
	grand := subTotal.MustAdd(tax)
	return &Invoice{
		ID:             id,
		BookingID:      bookingID,
		PropertyID:     propertyID,
		Currency:       currency,
		LineItems:      append([]LineItem(nil), items...),
		SubTotal:       subTotal,
		TaxTotal:       tax,
		GrandTotal:     grand,
		BalanceDue:     grand,
		AuthorizedHold: money.Zero(currency),
		Status:         InvoiceIssued,
		IssuedAt:       now,
		UpdatedAt:      now,
	}, nil
}

// Clone returns a deep copy
func (inv *Invoice) Clone() *Invoice {
	cp := *inv
	cp.LineItems = append([]LineItem(nil), inv.LineItems...)
	return &cp
}

// NetCaptured is the captured amount still kept after refunds
func (inv *Invoice) NetCaptured() money.Money {
	return inv.GrandTotal.MustSub(inv.BalanceDue).MustSub(inv.AuthorizedHold)
}

// IsOpen reports whether the invoice accepts new payments
func (inv *Invoice) IsOpen() bool {
	return inv.Status != InvoiceVoid
}

// Void closes an invoice that holds no money. Voiding a VOID invoice is a
// no-op and reports false.
func (inv *Invoice) Void(now time.Time) (bool, error) {
	if inv.Status == InvoiceVoid {
		return false, nil
	}
	if !inv.AuthorizedHold.IsZero() || !inv.NetCaptured().IsZero() {
		return false, fmt.Errorf("%w: %s authorized, %s captured",
			ErrInvoiceHasFunds, inv.AuthorizedHold.StringFixed(), inv.NetCaptured().StringFixed())
	}
	inv.Status = InvoiceVoid
	inv.UpdatedAt = now
	return true, nil
}

// recompute derives Status from the balances and checks the ledger bounds
func (inv *Invoice) recompute(now time.Time) error {
	if inv.BalanceDue.IsNegative() || inv.BalanceDue.GreaterThan(inv.GrandTotal) {
		return fmt.Errorf("ledger out of bounds: balance %s of %s", inv.BalanceDue, inv.GrandTotal)
	}
	if inv.AuthorizedHold.IsNegative() || inv.NetCaptured().IsNegative() {
		return fmt.Errorf("ledger out of bounds: hold %s, captured %s", inv.AuthorizedHold, inv.NetCaptured())
	}
	inv.UpdatedAt = now
	if inv.Status == InvoiceVoid {
		return nil
	}

	captured := inv.NetCaptured()
	switch {
	case inv.BalanceDue.IsZero() && inv.AuthorizedHold.IsZero() && captured.IsPositive():
		inv.Status = InvoicePaid
	case captured.IsPositive():
		inv.Status = InvoicePartiallyPaid
	default:
		inv.Status = InvoiceIssued
	}
	return nil
}
