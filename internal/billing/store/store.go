// Package store persists invoices and payments and serializes every payment
// transition on an invoice.
package store

import (
	"context"

	"motelbooking/internal/billing/domain"
)

// InvoiceTx is a view of one locked invoice. Writes become visible only if
// the enclosing WithInvoiceLock callback returns nil.
type InvoiceTx interface {
	Invoice(ctx context.Context) (*domain.Invoice, error)
	Payments(ctx context.Context) ([]*domain.Payment, error)
	Payment(ctx context.Context, id string) (*domain.Payment, error)
	UpdateInvoice(ctx context.Context, inv *domain.Invoice) error
	InsertPayment(ctx context.Context, p *domain.Payment) error
	UpdatePayment(ctx context.Context, p *domain.Payment) error
}

// Store persists invoices and payments
type Store interface {
	// CreateInvoice fails with database.ErrAlreadyExists when the booking
	// already has an invoice.
	CreateInvoice(ctx context.Context, inv *domain.Invoice) error
	GetInvoice(ctx context.Context, id string) (*domain.Invoice, error)
	GetInvoiceByBooking(ctx context.Context, bookingID string) (*domain.Invoice, error)
	GetPayment(ctx context.Context, id string) (*domain.Payment, error)
	ListPayments(ctx context.Context, invoiceID string) ([]*domain.Payment, error)

	// WithInvoiceLock runs fn with exclusive access to the invoice. Calls for
	// different invoices do not block each other.
	WithInvoiceLock(ctx context.Context, invoiceID string, fn func(tx InvoiceTx) error) error
}
