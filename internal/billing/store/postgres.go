package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"motelbooking/internal/billing/domain"
	"motelbooking/internal/common/database"
	"motelbooking/internal/common/money"
)

// Postgres stores invoices and payments. The invoice row is locked with
// SELECT ... FOR UPDATE for the duration of each payment transition.
type Postgres struct {
	db          *database.DB
	maxAttempts int
	logger      *slog.Logger
}

// NewPostgres creates a Postgres billing store
func NewPostgres(db *database.DB, maxAttempts int, logger *slog.Logger) *Postgres {
	return &Postgres{db: db, maxAttempts: maxAttempts, logger: logger}
}

const invoiceColumns = `
	id, booking_id, property_id, currency, sub_total_minor, tax_total_minor,
	grand_total_minor, balance_due_minor, authorized_hold_minor, status, issued_at, updated_at`

const paymentColumns = `
	id, invoice_id, method, amount_minor, refunded_minor, currency, status,
	initiated_by, processor, processor_ref, created_at, updated_at`

// CreateInvoice implements Store
func (s *Postgres) CreateInvoice(ctx context.Context, inv *domain.Invoice) error {
	err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO invoices (`+invoiceColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		`,
			inv.ID, inv.BookingID, inv.PropertyID, inv.Currency,
			inv.SubTotal.AmountMinor, inv.TaxTotal.AmountMinor, inv.GrandTotal.AmountMinor,
			inv.BalanceDue.AmountMinor, inv.AuthorizedHold.AmountMinor,
			inv.Status, inv.IssuedAt, inv.UpdatedAt,
		)
		if err != nil {
			return err
		}

		batch := &pgx.Batch{}
		for i, li := range inv.LineItems {
			batch.Queue(`
				INSERT INTO invoice_line_items (invoice_id, position, description, quantity, unit_amount_minor)
				VALUES ($1, $2, $3, $4, $5)
			`, inv.ID, i, li.Description, li.Quantity, li.UnitAmount.AmountMinor)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if database.IsUniqueViolation(err) {
		return fmt.Errorf("invoice for booking %s: %w", inv.BookingID, database.ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("creating invoice: %w", err)
	}
	return nil
}

// GetInvoice implements Store
func (s *Postgres) GetInvoice(ctx context.Context, id string) (*domain.Invoice, error) {
	return loadInvoice(ctx, s.db, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id)
}

// GetInvoiceByBooking implements Store
func (s *Postgres) GetInvoiceByBooking(ctx context.Context, bookingID string) (*domain.Invoice, error) {
	return loadInvoice(ctx, s.db, `SELECT `+invoiceColumns+` FROM invoices WHERE booking_id = $1`, bookingID)
}

// GetPayment implements Store
func (s *Postgres) GetPayment(ctx context.Context, id string) (*domain.Payment, error) {
	return scanPayment(s.db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id))
}

// ListPayments implements Store, oldest first
func (s *Postgres) ListPayments(ctx context.Context, invoiceID string) ([]*domain.Payment, error) {
	if _, err := s.GetInvoice(ctx, invoiceID); err != nil {
		return nil, err
	}
	return listPayments(ctx, s.db, invoiceID)
}

// WithInvoiceLock implements Store. Deadlocks and serialization failures
// are replayed; once attempts run out the caller sees ErrInsufficientFunds.
func (s *Postgres) WithInvoiceLock(ctx context.Context, invoiceID string, fn func(tx InvoiceTx) error) error {
	err := database.Retry(ctx, s.maxAttempts, func() error {
		return s.db.WithTxOptions(ctx, database.DefaultTxOptions(), func(tx pgx.Tx) error {
			inv, err := loadInvoice(ctx, tx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1 FOR UPDATE`, invoiceID)
			if err != nil {
				return err
			}
			return fn(&postgresInvoiceTx{tx: tx, invoice: inv})
		})
	})
	if errors.Is(err, database.ErrConflict) {
		s.logger.Warn("invoice lock retries exhausted", "invoice_id", invoiceID, "error", err)
		return fmt.Errorf("%w: %v", domain.ErrInsufficientFunds, err)
	}
	return err
}

type postgresInvoiceTx struct {
	tx      pgx.Tx
	invoice *domain.Invoice
}

func (t *postgresInvoiceTx) Invoice(_ context.Context) (*domain.Invoice, error) {
	return t.invoice.Clone(), nil
}

func (t *postgresInvoiceTx) Payments(ctx context.Context) ([]*domain.Payment, error) {
	return listPayments(ctx, t.tx, t.invoice.ID)
}

func (t *postgresInvoiceTx) Payment(ctx context.Context, id string) (*domain.Payment, error) {
	return scanPayment(t.tx.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = $1 AND invoice_id = $2`, id, t.invoice.ID))
}

func (t *postgresInvoiceTx) UpdateInvoice(ctx context.Context, inv *domain.Invoice) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE invoices
		SET balance_due_minor = $2, authorized_hold_minor = $3, status = $4, updated_at = $5
		WHERE id = $1
	`, inv.ID, inv.BalanceDue.AmountMinor, inv.AuthorizedHold.AmountMinor, inv.Status, inv.UpdatedAt)
	if err != nil {
		return fmt.Errorf("updating invoice %s: %w", inv.ID, err)
	}
	t.invoice = inv.Clone()
	return nil
}

func (t *postgresInvoiceTx) InsertPayment(ctx context.Context, p *domain.Payment) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO payments (`+paymentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		p.ID, p.InvoiceID, p.Method, p.Amount.AmountMinor, p.RefundedAmount.AmountMinor,
		p.Amount.Currency, p.Status, p.InitiatedBy, p.Processor, nullable(p.ProcessorRef),
		p.CreatedAt, p.UpdatedAt,
	)
	if database.IsUniqueViolation(err) {
		return fmt.Errorf("payment %s: %w", p.ID, database.ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("inserting payment %s: %w", p.ID, err)
	}
	return nil
}

func (t *postgresInvoiceTx) UpdatePayment(ctx context.Context, p *domain.Payment) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE payments
		SET status = $2, refunded_minor = $3, processor_ref = $4, updated_at = $5
		WHERE id = $1 AND invoice_id = $6
	`, p.ID, p.Status, p.RefundedAmount.AmountMinor, nullable(p.ProcessorRef), p.UpdatedAt, t.invoice.ID)
	if err != nil {
		return fmt.Errorf("updating payment %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("payment %s: %w", p.ID, database.ErrNotFound)
	}
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func loadInvoice(ctx context.Context, q database.Querier, query string, arg string) (*domain.Invoice, error) {
	var (
		inv                            domain.Invoice
		sub, tax, grand, balance, hold int64
	)
	err := q.QueryRow(ctx, query, arg).Scan(
		&inv.ID, &inv.BookingID, &inv.PropertyID, &inv.Currency,
		&sub, &tax, &grand, &balance, &hold,
		&inv.Status, &inv.IssuedAt, &inv.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("invoice %s: %w", arg, database.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scanning invoice: %w", err)
	}
	inv.SubTotal = money.New(sub, inv.Currency)
	inv.TaxTotal = money.New(tax, inv.Currency)
	inv.GrandTotal = money.New(grand, inv.Currency)
	inv.BalanceDue = money.New(balance, inv.Currency)
	inv.AuthorizedHold = money.New(hold, inv.Currency)

	rows, err := q.Query(ctx, `
		SELECT description, quantity, unit_amount_minor
		FROM invoice_line_items
		WHERE invoice_id = $1
		ORDER BY position
	`, inv.ID)
	if err != nil {
		return nil, fmt.Errorf("listing line items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			li   domain.LineItem
			unit int64
		)
		if err := rows.Scan(&li.Description, &li.Quantity, &unit); err != nil {
			return nil, fmt.Errorf("scanning line item: %w", err)
		}
		li.UnitAmount = money.New(unit, inv.Currency)
		inv.LineItems = append(inv.LineItems, li)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &inv, nil
}

func listPayments(ctx context.Context, q database.Querier, invoiceID string) ([]*domain.Payment, error) {
	rows, err := q.Query(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE invoice_id = $1
		ORDER BY created_at, id
	`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("listing payments: %w", err)
	}
	defer rows.Close()
	var out []*domain.Payment
	for rows.Next() {
		p, err := scanPaymentRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPayment(row pgx.Row) (*domain.Payment, error) {
	p, err := scanPaymentRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("payment: %w", database.ErrNotFound)
	}
	return p, err
}

func scanPaymentRow(row pgx.Row) (*domain.Payment, error) {
	var (
		p                domain.Payment
		amount, refunded int64
		currency         money.Currency
		ref              *string
	)
	err := row.Scan(
		&p.ID, &p.InvoiceID, &p.Method, &amount, &refunded, &currency, &p.Status,
		&p.InitiatedBy, &p.Processor, &ref, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning payment: %w", err)
	}
	p.Amount = money.New(amount, currency)
	p.RefundedAmount = money.New(refunded, currency)
	if ref != nil {
		p.ProcessorRef = *ref
	}
	return &p, nil
}
