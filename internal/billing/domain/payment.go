package domain

import (
	"fmt"
	"time"

	"motelbooking/internal/common/money"
)

// PaymentStatus is the lifecycle state of a payment
type PaymentStatus string

const (
	PaymentAuthorized PaymentStatus = "AUTHORIZED"
	PaymentCaptured   PaymentStatus = "CAPTURED"
	PaymentRefunded   PaymentStatus = "REFUNDED"
	PaymentVoided     PaymentStatus = "VOIDED"
)

// Method is how the guest pays
type Method string

const (
	MethodCreditCard   Method = "CREDIT_CARD"
	MethodDebitCard    Method = "DEBIT_CARD"
	MethodCash         Method = "CASH"
	MethodBankTransfer Method = "BANK_TRANSFER"
)

// Valid reports whether m is a known method
func (m Method) Valid() bool {
	switch m {
	case MethodCreditCard, MethodDebitCard, MethodCash, MethodBankTransfer:
		return true
	}
	return false
}

// Payment is one authorization against an invoice and what became of it.
// RefundedAmount accumulates partial refunds of a captured payment.
type Payment struct {
	ID             string        `json:"id"`
	InvoiceID      string        `json:"invoice_id"`
	Method         Method        `json:"method"`
	Amount         money.Money   `json:"amount"`
	RefundedAmount money.Money   `json:"refunded_amount"`
	Status         PaymentStatus `json:"status"`
	InitiatedBy    string        `json:"initiated_by"`
	Processor      string        `json:"processor"`
	ProcessorRef   string        `json:"processor_ref,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// NewPayment creates an AUTHORIZED payment. It does not touch any invoice;
// ApplyAuthorization does.
func NewPayment(id, invoiceID string, method Method, amount money.Money, initiatedBy string, now time.Time) (*Payment, error) {
	if id == "" || invoiceID == "" {
		return nil, fmt.Errorf("%w: payment identifiers are required", ErrValidation)
	}
	if !method.Valid() {
		return nil, fmt.Errorf("%w: unknown payment method %q", ErrValidation, method)
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	if initiatedBy == "" {
		return nil, fmt.Errorf("%w: initiated by is required", ErrValidation)
	}
	return &Payment{
		ID:             id,
		InvoiceID:      invoiceID,
		Method:         method,
		Amount:         amount,
		RefundedAmount: money.Zero(amount.Currency),
		Status:         PaymentAuthorized,
		InitiatedBy:    initiatedBy,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// Clone returns a copy
func (p *Payment) Clone() *Payment {
	cp := *p
	return &cp
}

// Refundable is the captured amount not yet refunded
func (p *Payment) Refundable() money.Money {
	if p.Status != PaymentCaptured {
		return money.Zero(p.Amount.Currency)
	}
	return p.Amount.MustSub(p.RefundedAmount)
}

// Contribution is how much this payment currently takes off the balance due.
// It depends only on the current state.
func (p *Payment) Contribution() money.Money {
	switch p.Status {
	case PaymentAuthorized:
		return p.Amount
	case PaymentCaptured, PaymentRefunded:
		return p.Amount.MustSub(p.RefundedAmount)
	}
	return money.Zero(p.Amount.Currency)
}

// Hold is the part of Contribution not yet captured
func (p *Payment) Hold() money.Money {
	if p.Status == PaymentAuthorized {
		return p.Amount
	}
	return money.Zero(p.Amount.Currency)
}
