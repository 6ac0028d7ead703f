package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"motelbooking/internal/billing/domain"
	"motelbooking/internal/common/database"
	"motelbooking/internal/common/keylock"
)

// Memory keeps invoices and payments in process. Invoice locks come from a
// keylock.Locker; writes inside an InvoiceTx are staged and applied on success.
type Memory struct {
	locks *keylock.Locker

	mu        sync.RWMutex
	invoices  map[string]*domain.Invoice
	byBooking map[string]string
	payments  map[string]*domain.Payment
	byInvoice map[string][]string
}

// NewMemory creates an empty store
func NewMemory() *Memory {
	return &Memory{
		locks:     keylock.New(),
		invoices:  make(map[string]*domain.Invoice),
		byBooking: make(map[string]string),
		payments:  make(map[string]*domain.Payment),
		byInvoice: make(map[string][]string),
	}
}

// CreateInvoice implements Store
func (m *Memory) CreateInvoice(_ context.Context, inv *domain.Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.invoices[inv.ID]; ok {
		return fmt.Errorf("invoice %s: %w", inv.ID, database.ErrAlreadyExists)
	}
	if existing, ok := m.byBooking[inv.BookingID]; ok {
		return fmt.Errorf("booking %s already has invoice %s: %w", inv.BookingID, existing, database.ErrAlreadyExists)
	}
	m.invoices[inv.ID] = inv.Clone()
	m.byBooking[inv.BookingID] = inv.ID
	return nil
}

// GetInvoice implements Store
func (m *Memory) GetInvoice(_ context.Context, id string) (*domain.Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inv, ok := m.invoices[id]
	if !ok {
		return nil, fmt.Errorf("invoice %s: %w", id, database.ErrNotFound)
	}
	return inv.Clone(), nil
}

// GetInvoiceByBooking implements Store
func (m *Memory) GetInvoiceByBooking(ctx context.Context, bookingID string) (*domain.Invoice, error) {
	m.mu.RLock()
	id, ok := m.byBooking[bookingID]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("invoice for booking %s: %w", bookingID, database.ErrNotFound)
	}
	return m.GetInvoice(ctx, id)
}

// GetPayment implements Store
func (m *Memory) GetPayment(_ context.Context, id string) (*domain.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.payments[id]
	if !ok {
		return nil, fmt.Errorf("payment %s: %w", id, database.ErrNotFound)
	}
	return p.Clone(), nil
}

// ListPayments implements Store, oldest first
func (m *Memory) ListPayments(_ context.Context, invoiceID string) ([]*domain.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.invoices[invoiceID]; !ok {
		return nil, fmt.Errorf("invoice %s: %w", invoiceID, database.ErrNotFound)
	}
	out := make([]*domain.Payment, 0, len(m.byInvoice[invoiceID]))
	for _, id := range m.byInvoice[invoiceID] {
		out = append(out, m.payments[id].Clone())
	}
	return out, nil
}

// WithInvoiceLock implements Store
func (m *Memory) WithInvoiceLock(ctx context.Context, invoiceID string, fn func(tx InvoiceTx) error) error {
	return m.locks.WithLock(ctx, "invoice:"+invoiceID, func() error {
		tx := &memoryInvoiceTx{store: m, invoiceID: invoiceID, staged: make(map[string]*domain.Payment)}
		if err := fn(tx); err != nil {
			return err
		}
		m.commit(tx)
		return nil
	})
}

func (m *Memory) commit(tx *memoryInvoiceTx) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tx.invoice != nil {
		m.invoices[tx.invoiceID] = tx.invoice
	}
	for _, id := range tx.order {
		if _, exists := m.payments[id]; !exists {
			m.byInvoice[tx.invoiceID] = append(m.byInvoice[tx.invoiceID], id)
		}
		m.payments[id] = tx.staged[id]
	}
}

type memoryInvoiceTx struct {
	store     *Memory
	invoiceID string
	invoice   *domain.Invoice
	staged    map[string]*domain.Payment
	order     []string
}

func (tx *memoryInvoiceTx) Invoice(ctx context.Context) (*domain.Invoice, error) {
	if tx.invoice != nil {
		return tx.invoice.Clone(), nil
	}
	return tx.store.GetInvoice(ctx, tx.invoiceID)
}

func (tx *memoryInvoiceTx) Payments(ctx context.Context) ([]*domain.Payment, error) {
	committed, err := tx.store.ListPayments(ctx, tx.invoiceID)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(committed))
	out := make([]*domain.Payment, 0, len(committed)+len(tx.staged))
	for _, p := range committed {
		seen[p.ID] = true
		if staged, ok := tx.staged[p.ID]; ok {
			p = staged.Clone()
		}
		out = append(out, p)
	}
	for _, id := range tx.order {
		if !seen[id] {
			out = append(out, tx.staged[id].Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (tx *memoryInvoiceTx) Payment(ctx context.Context, id string) (*domain.Payment, error) {
	if p, ok := tx.staged[id]; ok {
		return p.Clone(), nil
	}
	p, err := tx.store.GetPayment(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.InvoiceID != tx.invoiceID {
		return nil, fmt.Errorf("payment %s on invoice %s: %w", id, tx.invoiceID, database.ErrNotFound)
	}
	return p, nil
}

func (tx *memoryInvoiceTx) UpdateInvoice(_ context.Context, inv *domain.Invoice) error {
	if inv.ID != tx.invoiceID {
		return fmt.Errorf("invoice %s is not locked, lock held on %s", inv.ID, tx.invoiceID)
	}
	tx.invoice = inv.Clone()
	return nil
}

func (tx *memoryInvoiceTx) stage(p *domain.Payment) {
	if _, ok := tx.staged[p.ID]; !ok {
		tx.order = append(tx.order, p.ID)
	}
	tx.staged[p.ID] = p.Clone()
}

func (tx *memoryInvoiceTx) InsertPayment(ctx context.Context, p *domain.Payment) error {
	if p.InvoiceID != tx.invoiceID {
		return fmt.Errorf("payment %s is for invoice %s, lock held on %s", p.ID, p.InvoiceID, tx.invoiceID)
	}
	if _, err := tx.store.GetPayment(ctx, p.ID); err == nil {
		return fmt.Errorf("payment %s: %w", p.ID, database.ErrAlreadyExists)
	}
	if _, ok := tx.staged[p.ID]; ok {
		return fmt.Errorf("payment %s: %w", p.ID, database.ErrAlreadyExists)
	}
	tx.stage(p)
	return nil
}

func (tx *memoryInvoiceTx) UpdatePayment(ctx context.Context, p *domain.Payment) error {
	if _, err := tx.Payment(ctx, p.ID); err != nil {
		return err
	}
	tx.stage(p)
	return nil
}
