package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"motelbooking/internal/common/database"
	"motelbooking/internal/common/keylock"
	"motelbooking/internal/reservation/domain"
)

// Memory keeps bookings in process. Room locks come from a keylock.Locker;
// writes inside a RoomTx are staged and applied on success.
type Memory struct {
	locks *keylock.Locker

	mu       sync.RWMutex
	bookings map[string]*domain.Booking
	byRoom   map[string]map[string]struct{}
}

// NewMemory creates an empty store
func NewMemory() *Memory {
	return &Memory{
		locks:    keylock.New(),
		bookings: make(map[string]*domain.Booking),
		byRoom:   make(map[string]map[string]struct{}),
	}
}

func clone(b *domain.Booking) *domain.Booking {
	cp := *b
	if b.CancelledAt != nil {
		t := *b.CancelledAt
		cp.CancelledAt = &t
	}
	return &cp
}

// WithRoomLock implements Store
func (m *Memory) WithRoomLock(ctx context.Context, roomID string, fn func(tx RoomTx) error) error {
	return m.locks.WithLock(ctx, "room:"+roomID, func() error {
		tx := &memoryRoomTx{store: m, roomID: roomID, staged: make(map[string]*domain.Booking)}
		if err := fn(tx); err != nil {
			return err
		}
		m.commit(tx)
		return nil
	})
}

func (m *Memory) commit(tx *memoryRoomTx) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range tx.order {
		b := tx.staged[id]
		m.bookings[id] = b
		ids, ok := m.byRoom[b.RoomID]
		if !ok {
			ids = make(map[string]struct{})
			m.byRoom[b.RoomID] = ids
		}
		ids[id] = struct{}{}
	}
}

// Get implements Store
func (m *Memory) Get(_ context.Context, id string) (*domain.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, fmt.Errorf("booking %s: %w", id, database.ErrNotFound)
	}
	return clone(b), nil
}

// GetByConfirmationCode implements Store
func (m *Memory) GetByConfirmationCode(_ context.Context, code string) (*domain.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var found *domain.Booking
	for _, b := range m.bookings {
		if b.ConfirmationCode != code || b.Status == domain.StatusModified {
			continue
		}
		if found == nil || b.CreatedAt.After(found.CreatedAt) {
			found = b
		}
	}
	if found == nil {
		return nil, fmt.Errorf("booking %s: %w", code, database.ErrNotFound)
	}
	return clone(found), nil
}

// ListBlockingOverlap implements Store
func (m *Memory) ListBlockingOverlap(_ context.Context, roomIDs []string, checkIn, checkOut domain.Date) ([]*domain.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Booking
	for _, roomID := range roomIDs {
		for id := range m.byRoom[roomID] {
			b := m.bookings[id]
			if b.Blocks() && b.OverlapsRange(checkIn, checkOut) {
				out = append(out, clone(b))
			}
		}
	}
	sortBookings(out)
	return out, nil
}

func sortBookings(bs []*domain.Booking) {
	sort.Slice(bs, func(i, j int) bool {
		if !bs[i].CheckIn.Equal(bs[j].CheckIn) {
			return bs[i].CheckIn.Before(bs[j].CheckIn)
		}
		return bs[i].ID < bs[j].ID
	})
}

type memoryRoomTx struct {
	store  *Memory
	roomID string
	staged map[string]*domain.Booking
	order  []string
}

func (tx *memoryRoomTx) stage(b *domain.Booking) {
	if _, ok := tx.staged[b.ID]; !ok {
		tx.order = append(tx.order, b.ID)
	}
	tx.staged[b.ID] = clone(b)
}

func (tx *memoryRoomTx) Get(ctx context.Context, id string) (*domain.Booking, error) {
	if b, ok := tx.staged[id]; ok {
		return clone(b), nil
	}
	return tx.store.Get(ctx, id)
}

func (tx *memoryRoomTx) ListBlocking(_ context.Context) ([]*domain.Booking, error) {
	tx.store.mu.RLock()
	merged := make(map[string]*domain.Booking)
	for id := range tx.store.byRoom[tx.roomID] {
		merged[id] = tx.store.bookings[id]
	}
	tx.store.mu.RUnlock()
	for id, b := range tx.staged {
		if b.RoomID == tx.roomID {
			merged[id] = b
		}
	}

	var out []*domain.Booking
	for _, b := range merged {
		if b.Blocks() {
			out = append(out, clone(b))
		}
	}
	sortBookings(out)
	return out, nil
}

func (tx *memoryRoomTx) Insert(ctx context.Context, b *domain.Booking) error {
	if b.RoomID != tx.roomID {
		return fmt.Errorf("booking %s is for room %s, lock held on %s", b.ID, b.RoomID, tx.roomID)
	}
	if _, err := tx.Get(ctx, b.ID); err == nil {
		return fmt.Errorf("booking %s: %w", b.ID, database.ErrAlreadyExists)
	}
	tx.stage(b)
	return nil
}

func (tx *memoryRoomTx) Update(ctx context.Context, b *domain.Booking) error {
	if b.RoomID != tx.roomID {
		return fmt.Errorf("booking %s is for room %s, lock held on %s", b.ID, b.RoomID, tx.roomID)
	}
	if _, err := tx.Get(ctx, b.ID); err != nil {
		return err
	}
	tx.stage(b)
	return nil
}
