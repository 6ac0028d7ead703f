// Package availability decides whether a room is free for a range of nights
// and registers or releases that range atomically with the answer.
package availability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"motelbooking/internal/reservation/domain"
	"motelbooking/internal/reservation/store"
)

// Index performs admission against a booking store
type Index struct {
	store  store.Store
	now    func() time.Time
	logger *slog.Logger
}

// New creates an Index. now may be nil.
func New(s store.Store, now func() time.Time, logger *slog.Logger) *Index {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Index{store: s, now: now, logger: logger}
}

// conflict returns the first blocking booking other than excludeID that
// shares a night with [checkIn, checkOut)
func conflict(existing []*domain.Booking, checkIn, checkOut domain.Date, excludeID string) *domain.Booking {
	for _, b := range existing {
		if b.ID == excludeID || !b.Blocks() {
			continue
		}
		if b.OverlapsRange(checkIn, checkOut) {
			return b
		}
	}
	return nil
}

// CheckAndReserve confirms and stores a PENDING booking if its room is free
// for the booking's nights. On conflict nothing is written. The caller's
// booking is left PENDING; the confirmed copy is returned.
func (ix *Index) CheckAndReserve(ctx context.Context, pending *domain.Booking) (*domain.Booking, error) {
	var b *domain.Booking
	// fn may run more than once when the store retries the transaction.
	err := ix.store.WithRoomLock(ctx, pending.RoomID, func(tx store.RoomTx) error {
		existing, err := tx.ListBlocking(ctx)
		if err != nil {
			return err
		}
		if c := conflict(existing, pending.CheckIn, pending.CheckOut, ""); c != nil {
			return fmt.Errorf("%w: room %s is held by %s from %s to %s",
				domain.ErrRoomNotAvailable, pending.RoomID, c.ConfirmationCode, c.CheckIn, c.CheckOut)
		}
		nb := *pending
		if err := nb.Confirm(ix.now()); err != nil {
			return err
		}
		if err := tx.Insert(ctx, &nb); err != nil {
			return err
		}
		b = &nb
		return nil
	})
	if err != nil {
		return nil, err
	}
	ix.logger.Info("room reserved",
		"booking_id", b.ID,
		"room_id", b.RoomID,
		"check_in", b.CheckIn.String(),
		"check_out", b.CheckOut.String(),
	)
	return b, nil
}

// Release cancels a booking and frees its nights. Releasing a booking that
// is already CANCELLED returns it unchanged with released=false.
func (ix *Index) Release(ctx context.Context, bookingID string) (b *domain.Booking, released bool, err error) {
	current, err := ix.store.Get(ctx, bookingID)
	if err != nil {
		return nil, false, err
	}

	err = ix.store.WithRoomLock(ctx, current.RoomID, func(tx store.RoomTx) error {
		b, err = tx.Get(ctx, bookingID)
		if err != nil {
			return err
		}
		released, err = b.Cancel(ix.now())
		if err != nil || !released {
			return err
		}
		return tx.Update(ctx, b)
	})
	if err != nil {
		return nil, false, err
	}
	if released {
		ix.logger.Info("room released", "booking_id", b.ID, "room_id", b.RoomID)
	}
	return b, released, nil
}

// ReplaceFunc builds the replacement for a CONFIRMED booking. It runs under
// the room lock and must not block.
type ReplaceFunc func(original *domain.Booking) (*domain.Booking, error)

// Replace swaps a CONFIRMED booking for a new one on the same room in one
// step. The original's nights do not count against the replacement. If the
// replacement conflicts with any other booking the original is left as it was.
func (ix *Index) Replace(ctx context.Context, originalID string, build ReplaceFunc) (original, replacement *domain.Booking, err error) {
	current, err := ix.store.Get(ctx, originalID)
	if err != nil {
		return nil, nil, err
	}

	err = ix.store.WithRoomLock(ctx, current.RoomID, func(tx store.RoomTx) error {
		original, err = tx.Get(ctx, originalID)
		if err != nil {
			return err
		}
		if original.Status != domain.StatusConfirmed {
			return fmt.Errorf("%w: cannot modify %s booking", domain.ErrInvalidState, original.Status)
		}

		replacement, err = build(original)
		if err != nil {
			return err
		}
		if replacement.RoomID != original.RoomID {
			return fmt.Errorf("%w: replacement must stay on room %s", domain.ErrValidation, original.RoomID)
		}

		existing, err := tx.ListBlocking(ctx)
		if err != nil {
			return err
		}
		if c := conflict(existing, replacement.CheckIn, replacement.CheckOut, original.ID); c != nil {
			return fmt.Errorf("%w: room %s is held by %s from %s to %s",
				domain.ErrRoomNotAvailable, replacement.RoomID, c.ConfirmationCode, c.CheckIn, c.CheckOut)
		}

		now := ix.now()
		if err := original.SupersedeWith(replacement.ID, now); err != nil {
			return err
		}
		replacement.ReplacesBookingID = original.ID
		if err := replacement.Confirm(now); err != nil {
			return err
		}
		// The original stops blocking before the replacement is written.
		if err := tx.Update(ctx, original); err != nil {
			return err
		}
		return tx.Insert(ctx, replacement)
	})
	if err != nil {
		return nil, nil, err
	}

	ix.logger.Info("booking replaced",
		"booking_id", original.ID,
		"replacement_id", replacement.ID,
		"room_id", replacement.RoomID,
	)
	return original, replacement, nil
}

// IsFree reports whether roomID has no CONFIRMED booking sharing a night
// with [checkIn, checkOut). The answer is a snapshot and reserves nothing.
func (ix *Index) IsFree(ctx context.Context, roomID string, checkIn, checkOut domain.Date) (bool, error) {
	blocked, err := ix.BlockedRooms(ctx, []string{roomID}, checkIn, checkOut)
	if err != nil {
		return false, err
	}
	return !blocked[roomID], nil
}

// BlockedRooms returns the subset of roomIDs that are taken for any night in range
func (ix *Index) BlockedRooms(ctx context.Context, roomIDs []string, checkIn, checkOut domain.Date) (map[string]bool, error) {
	bookings, err := ix.store.ListBlockingOverlap(ctx, roomIDs, checkIn, checkOut)
	if err != nil {
		return nil, err
	}
	blocked := make(map[string]bool, len(bookings))
	for _, b := range bookings {
		blocked[b.RoomID] = true
	}
	return blocked, nil
}
