// Package store persists bookings and provides the per-room critical section
// that booking admission runs in.
package store

import (
	"context"

	"motelbooking/internal/reservation/domain"
)

// RoomTx is the view of the bookings table while one room is locked.
// Writes made through it become visible together when the callback
// returns nil and are discarded otherwise.
type RoomTx interface {
	// Get returns a booking by id
	Get(ctx context.Context, id string) (*domain.Booking, error)
	// ListBlocking returns the CONFIRMED bookings of the locked room
	ListBlocking(ctx context.Context) ([]*domain.Booking, error)
	Insert(ctx context.Context, b *domain.Booking) error
	Update(ctx context.Context, b *domain.Booking) error
}

// Store is the booking repository
type Store interface {
	// WithRoomLock runs fn with exclusive access to roomID's bookings.
	// Calls for different rooms do not wait on each other.
	WithRoomLock(ctx context.Context, roomID string, fn func(tx RoomTx) error) error

	Get(ctx context.Context, id string) (*domain.Booking, error)
	// GetByConfirmationCode returns the current booking carrying code
	GetByConfirmationCode(ctx context.Context, code string) (*domain.Booking, error)
	// ListBlockingOverlap returns CONFIRMED bookings on any of roomIDs that
	// share a night with [checkIn, checkOut). It takes no locks.
	ListBlockingOverlap(ctx context.Context, roomIDs []string, checkIn, checkOut domain.Date) ([]*domain.Booking, error)
}
