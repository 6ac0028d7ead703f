// Package domain holds bookings and the rules for moving them between states.
package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"motelbooking/internal/common/money"
)

var (
	ErrValidation        = errors.New("validation error")
	ErrInvalidDateRange  = errors.New("invalid date range")
	ErrOccupancyExceeded = errors.New("occupancy exceeded")
	ErrRoomNotAvailable  = errors.New("room not available")
	ErrInvalidState      = errors.New("invalid booking state")
)

// Status is the lifecycle state of a booking
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusCancelled Status = "CANCELLED"
	StatusModified  Status = "MODIFIED"
)

// Booking reserves one room for a half-open range of nights [CheckIn, CheckOut)
type Booking struct {
	ID                  string      `json:"id"`
	PropertyID          string      `json:"property_id"`
	GuestID             string      `json:"guest_id"`
	RoomID              string      `json:"room_id"`
	RatePlanID          string      `json:"rate_plan_id"`
	CheckIn             Date        `json:"check_in"`
	CheckOut            Date        `json:"check_out"`
	NumberOfGuests      int         `json:"number_of_guests"`
	Status              Status      `json:"status"`
	TotalAmount         money.Money `json:"total_amount"`
	ConfirmationCode    string      `json:"confirmation_code"`
	ReplacesBookingID   string      `json:"replaces_booking_id,omitempty"`
	ReplacedByBookingID string      `json:"replaced_by_booking_id,omitempty"`
	CreatedAt           time.Time   `json:"created_at"`
	UpdatedAt           time.Time   `json:"updated_at"`
	CancelledAt         *time.Time  `json:"cancelled_at,omitempty"`
}

// NewBooking creates a PENDING booking; admission confirms it
func NewBooking(id, propertyID, guestID, roomID, ratePlanID string, checkIn, checkOut Date, guests int, total money.Money, code string, now time.Time) (*Booking, error) {
	if id == "" || propertyID == "" || guestID == "" || roomID == "" || ratePlanID == "" {
		return nil, fmt.Errorf("%w: booking identifiers are required", ErrValidation)
	}
	if !checkOut.After(checkIn) {
		return nil, fmt.Errorf("%w: check-out %s must be after check-in %s", ErrInvalidDateRange, checkOut, checkIn)
	}
	if guests <= 0 {
		return nil, fmt.Errorf("%w: number of guests must be positive", ErrValidation)
	}
	if total.IsNegative() {
		return nil, fmt.Errorf("%w: total amount must not be negative", ErrValidation)
	}
	return &Booking{
		ID:               id,
		PropertyID:       propertyID,
		GuestID:          guestID,
		RoomID:           roomID,
		RatePlanID:       ratePlanID,
		CheckIn:          checkIn,
		CheckOut:         checkOut,
		NumberOfGuests:   guests,
		Status:           StatusPending,
		TotalAmount:      total,
		ConfirmationCode: code,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

// Nights is the number of blocked nights
func (b *Booking) Nights() int {
	return b.CheckIn.DaysUntil(b.CheckOut)
}

// Blocks reports whether the booking holds its interval against admission
func (b *Booking) Blocks() bool {
	return b.Status == StatusConfirmed
}

// OverlapsRange reports whether [checkIn, checkOut) shares a night with the booking
func (b *Booking) OverlapsRange(checkIn, checkOut Date) bool {
	return Overlaps(b.CheckIn, b.CheckOut, checkIn, checkOut)
}

// Overlaps is half-open interval intersection; a check-out day equal to
// another stay's check-in day is not shared.
func Overlaps(aIn, aOut, bIn, bOut Date) bool {
	return aIn.Before(bOut) && aOut.After(bIn)
}

// Confirm moves a PENDING booking to CONFIRMED
func (b *Booking) Confirm(now time.Time) error {
	if b.Status != StatusPending {
		return fmt.Errorf("%w: cannot confirm %s booking", ErrInvalidState, b.Status)
	}
	b.Status = StatusConfirmed
	b.UpdatedAt = now
	return nil
}

// Cancel moves a CONFIRMED booking to CANCELLED. It reports whether anything
// changed; cancelling a CANCELLED booking is a no-op.
func (b *Booking) Cancel(now time.Time) (bool, error) {
	switch b.Status {
	case StatusCancelled:
		return false, nil
	case StatusConfirmed:
		b.Status = StatusCancelled
		b.CancelledAt = &now
		b.UpdatedAt = now
		return true, nil
	default:
		return false, fmt.Errorf("%w: cannot cancel %s booking", ErrInvalidState, b.Status)
	}
}

// SupersedeWith marks a CONFIRMED booking as replaced by another
func (b *Booking) SupersedeWith(replacementID string, now time.Time) error {
	if b.Status != StatusConfirmed {
		return fmt.Errorf("%w: cannot modify %s booking", ErrInvalidState, b.Status)
	}
	b.Status = StatusModified
	b.ReplacedByBookingID = replacementID
	b.UpdatedAt = now
	return nil
}

// ValidateStay checks the date range and that it does not start in the past
func ValidateStay(checkIn, checkOut, today Date) error {
	if checkIn.IsZero() || checkOut.IsZero() {
		return fmt.Errorf("%w: check-in and check-out are required", ErrInvalidDateRange)
	}
	if !checkOut.After(checkIn) {
		return fmt.Errorf("%w: check-out %s must be after check-in %s", ErrInvalidDateRange, checkOut, checkIn)
	}
	if checkIn.Before(today) {
		return fmt.Errorf("%w: check-in %s is in the past", ErrInvalidDateRange, checkIn)
	}
	return nil
}

// ValidateOccupancy checks 0 < guests <= maxOccupancy
func ValidateOccupancy(guests, maxOccupancy int) error {
	if guests <= 0 {
		return fmt.Errorf("%w: number of guests must be positive", ErrValidation)
	}
	if guests > maxOccupancy {
		return fmt.Errorf("%w: %d guests exceeds room capacity of %d", ErrOccupancyExceeded, guests, maxOccupancy)
	}
	return nil
}

// NewConfirmationCode returns PROPERTYCODE-XXXXXXXX
func NewConfirmationCode(propertyCode string) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return strings.ToUpper(propertyCode) + "-" + suffix
}
