// Package reservation admits, cancels, and modifies bookings.
package reservation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/oklog/ulid/v2"

	"motelbooking/internal/catalog"
	"motelbooking/internal/common/database"
	"motelbooking/internal/common/events"
	"motelbooking/internal/common/middleware"
	"motelbooking/internal/common/money"
	"motelbooking/internal/reservation/availability"
	"motelbooking/internal/reservation/domain"
	"motelbooking/internal/reservation/store"
)

var validate = validator.New()

// Service provides booking operations
type Service struct {
	store     store.Store
	index     *availability.Index
	catalog   catalog.Catalog
	guests    catalog.GuestDirectory
	publisher events.EventPublisher
	now       func() time.Time
	taxBps    int64
	logger    *slog.Logger
}

// Option configures a Service
type Option func(*Service)

// WithClock overrides the wall clock used for "today" and timestamps
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithTaxRate sets the tax applied to quotes, in basis points
func WithTaxRate(basisPoints int64) Option {
	return func(s *Service) { s.taxBps = basisPoints }
}

// NewService creates a new reservation service
func NewService(st store.Store, cat catalog.Catalog, guests catalog.GuestDirectory, publisher events.EventPublisher, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:     st,
		catalog:   cat,
		guests:    guests,
		publisher: publisher,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.index = availability.New(st, s.now, logger)
	return s
}

// CreateBookingRequest is the request to create a booking
type CreateBookingRequest struct {
	PropertyID     string      `json:"property_id" validate:"required"`
	GuestID        string      `json:"guest_id" validate:"required"`
	RoomID         string      `json:"room_id" validate:"required"`
	RatePlanID     string      `json:"rate_plan_id" validate:"required"`
	CheckIn        domain.Date `json:"check_in"`
	CheckOut       domain.Date `json:"check_out"`
	NumberOfGuests int         `json:"number_of_guests" validate:"gt=0"`
}

// ModifyBookingRequest changes the dates or party size of a booking
type ModifyBookingRequest struct {
	CheckIn        domain.Date `json:"check_in"`
	CheckOut       domain.Date `json:"check_out"`
	NumberOfGuests int         `json:"number_of_guests" validate:"gt=0"`
}

// Quote is the price of a stay
type Quote struct {
	PropertyID  string      `json:"property_id"`
	RoomID      string      `json:"room_id"`
	RatePlanID  string      `json:"rate_plan_id"`
	CheckIn     domain.Date `json:"check_in"`
	CheckOut    domain.Date `json:"check_out"`
	Nights      int         `json:"nights"`
	NightlyRate money.Money `json:"nightly_rate"`
	SubTotal    money.Money `json:"sub_total"`
	TaxTotal    money.Money `json:"tax_total"`
	GrandTotal  money.Money `json:"grand_total"`
	Available   bool        `json:"available"`
}

// RoomTypeAvailability lists the free rooms of one room type
type RoomTypeAvailability struct {
	RoomTypeID     string       `json:"room_type_id"`
	Name           string       `json:"name"`
	MaxOccupancy   int          `json:"max_occupancy"`
	NightlyRate    *money.Money `json:"nightly_rate,omitempty"`
	AvailableRooms []string     `json:"available_room_ids"`
	AvailableCount int          `json:"available_count"`
}

type pricedStay struct {
	property *catalog.Property
	nightly  money.Money
	nights   int
	subTotal money.Money
}

func (s *Service) today() domain.Date {
	return domain.DateOf(s.now())
}

func validateRequest(req interface{}) error {
	if err := validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	return nil
}

// price resolves the catalog entries for a stay and checks they fit together
func (s *Service) price(ctx context.Context, propertyID, roomID, ratePlanID string, checkIn, checkOut domain.Date, guests int) (*pricedStay, error) {
	property, err := s.catalog.Property(ctx, propertyID)
	if err != nil {
		return nil, err
	}
	room, err := s.catalog.Room(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if room.PropertyID != propertyID {
		return nil, fmt.Errorf("%w: room %s does not belong to property %s", domain.ErrValidation, roomID, propertyID)
	}
	if room.Status != catalog.RoomAvailable {
		return nil, fmt.Errorf("%w: room %s is %s", domain.ErrRoomNotAvailable, roomID, room.Status)
	}
	roomType, err := s.catalog.RoomType(ctx, room.RoomTypeID)
	if err != nil {
		return nil, err
	}
	if err := domain.ValidateOccupancy(guests, roomType.MaxOccupancy); err != nil {
		return nil, err
	}
	plan, err := s.catalog.RatePlan(ctx, ratePlanID)
	if err != nil {
		return nil, err
	}
	if plan.PropertyID != propertyID {
		return nil, fmt.Errorf("%w: rate plan %s does not belong to property %s", domain.ErrValidation, ratePlanID, propertyID)
	}

	nightly := catalog.NightlyRate(roomType, plan)
	nights := checkIn.DaysUntil(checkOut)
	return &pricedStay{
		property: property,
		nightly:  nightly,
		nights:   nights,
		subTotal: nightly.Multiply(int64(nights)),
	}, nil
}

// CreateBooking admits a new booking
func (s *Service) CreateBooking(ctx context.Context, req CreateBookingRequest) (*domain.Booking, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if err := domain.ValidateStay(req.CheckIn, req.CheckOut, s.today()); err != nil {
		return nil, err
	}

	exists, err := s.guests.GuestExists(ctx, req.GuestID)
	if err != nil {
		return nil, fmt.Errorf("checking guest: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("guest %s: %w", req.GuestID, database.ErrNotFound)
	}

	stay, err := s.price(ctx, req.PropertyID, req.RoomID, req.RatePlanID, req.CheckIn, req.CheckOut, req.NumberOfGuests)
	if err != nil {
		return nil, err
	}

	booking, err := domain.NewBooking(
		ulid.Make().String(),
		req.PropertyID, req.GuestID, req.RoomID, req.RatePlanID,
		req.CheckIn, req.CheckOut, req.NumberOfGuests,
		stay.subTotal,
		domain.NewConfirmationCode(stay.property.Code),
		s.now(),
	)
	if err != nil {
		return nil, err
	}

	booking, err = s.index.CheckAndReserve(ctx, booking)
	if err != nil {
		if errors.Is(err, domain.ErrRoomNotAvailable) {
			s.logger.Info("booking rejected",
				"room_id", req.RoomID,
				"check_in", req.CheckIn.String(),
				"check_out", req.CheckOut.String(),
				"reason", err.Error(),
			)
		}
		return nil, err
	}

	s.logger.Info("booking confirmed",
		"booking_id", booking.ID,
		"confirmation_code", booking.ConfirmationCode,
		"amount", booking.TotalAmount.StringFixed(),
		"currency", booking.TotalAmount.Currency,
	)
	s.publish(ctx, events.EventBookingConfirmed, booking)
	return booking, nil
}

// CancelBooking cancels a CONFIRMED booking and frees its nights.
// Cancelling an already cancelled booking returns it unchanged.
func (s *Service) CancelBooking(ctx context.Context, id string) (*domain.Booking, error) {
	booking, released, err := s.index.Release(ctx, id)
	if err != nil {
		return nil, err
	}
	if released {
		s.logger.Info("booking cancelled", "booking_id", booking.ID, "room_id", booking.RoomID)
		s.publish(ctx, events.EventBookingCancelled, booking)
	}
	return booking, nil
}

// ModifyBooking replaces a booking with one for new dates or party size on
// the same room. The original is marked MODIFIED; on any failure it is left as it was.
func (s *Service) ModifyBooking(ctx context.Context, id string, req ModifyBookingRequest) (*domain.Booking, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if err := domain.ValidateStay(req.CheckIn, req.CheckOut, s.today()); err != nil {
		return nil, err
	}

	current, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status != domain.StatusConfirmed {
		return nil, fmt.Errorf("%w: cannot modify %s booking", domain.ErrInvalidState, current.Status)
	}

	stay, err := s.price(ctx, current.PropertyID, current.RoomID, current.RatePlanID, req.CheckIn, req.CheckOut, req.NumberOfGuests)
	if err != nil {
		return nil, err
	}

	_, replacement, err := s.index.Replace(ctx, id, func(orig *domain.Booking) (*domain.Booking, error) {
		return domain.NewBooking(
			ulid.Make().String(),
			orig.PropertyID, orig.GuestID, orig.RoomID, orig.RatePlanID,
			req.CheckIn, req.CheckOut, req.NumberOfGuests,
			stay.subTotal,
			orig.ConfirmationCode,
			s.now(),
		)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("booking modified",
		"booking_id", id,
		"replacement_id", replacement.ID,
		"check_in", replacement.CheckIn.String(),
		"check_out", replacement.CheckOut.String(),
	)
	s.publish(ctx, events.EventBookingModified, replacement)
	return replacement, nil
}

// GetBooking returns a booking by id
func (s *Service) GetBooking(ctx context.Context, id string) (*domain.Booking, error) {
	return s.store.Get(ctx, id)
}

// GetBookingByConfirmationCode returns the current booking carrying code
func (s *Service) GetBookingByConfirmationCode(ctx context.Context, code string) (*domain.Booking, error) {
	return s.store.GetByConfirmationCode(ctx, code)
}

// QuoteRequest asks for the price of a stay without booking it
type QuoteRequest struct {
	PropertyID     string      `json:"property_id" validate:"required"`
	RoomID         string      `json:"room_id" validate:"required"`
	RatePlanID     string      `json:"rate_plan_id" validate:"required"`
	CheckIn        domain.Date `json:"check_in"`
	CheckOut       domain.Date `json:"check_out"`
	NumberOfGuests int         `json:"number_of_guests" validate:"gt=0"`
}

// QuoteBooking prices a stay with the same checks as CreateBooking
func (s *Service) QuoteBooking(ctx context.Context, req QuoteRequest) (*Quote, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if err := domain.ValidateStay(req.CheckIn, req.CheckOut, s.today()); err != nil {
		return nil, err
	}
	stay, err := s.price(ctx, req.PropertyID, req.RoomID, req.RatePlanID, req.CheckIn, req.CheckOut, req.NumberOfGuests)
	if err != nil {
		return nil, err
	}
	free, err := s.index.IsFree(ctx, req.RoomID, req.CheckIn, req.CheckOut)
	if err != nil {
		return nil, err
	}

	tax := stay.subTotal.Percentage(s.taxBps)
	return &Quote{
		PropertyID:  req.PropertyID,
		RoomID:      req.RoomID,
		RatePlanID:  req.RatePlanID,
		CheckIn:     req.CheckIn,
		CheckOut:    req.CheckOut,
		Nights:      stay.nights,
		NightlyRate: stay.nightly,
		SubTotal:    stay.subTotal,
		TaxTotal:    tax,
		GrandTotal:  stay.subTotal.MustAdd(tax),
		Available:   free,
	}, nil
}

// SearchAvailability groups a property's free rooms by room type. Rooms not
// in AVAILABLE housekeeping state are left out. ratePlanID is optional.
func (s *Service) SearchAvailability(ctx context.Context, propertyID string, checkIn, checkOut domain.Date, ratePlanID string) ([]RoomTypeAvailability, error) {
	if err := domain.ValidateStay(checkIn, checkOut, s.today()); err != nil {
		return nil, err
	}
	if _, err := s.catalog.Property(ctx, propertyID); err != nil {
		return nil, err
	}

	var plan *catalog.RatePlan
	if ratePlanID != "" {
		p, err := s.catalog.RatePlan(ctx, ratePlanID)
		if err != nil {
			return nil, err
		}
		if p.PropertyID != propertyID {
			return nil, fmt.Errorf("%w: rate plan %s does not belong to property %s", domain.ErrValidation, ratePlanID, propertyID)
		}
		plan = p
	}

	rooms, err := s.catalog.RoomsByProperty(ctx, propertyID)
	if err != nil {
		return nil, err
	}
	roomIDs := make([]string, 0, len(rooms))
	for _, r := range rooms {
		roomIDs = append(roomIDs, r.ID)
	}
	blocked, err := s.index.BlockedRooms(ctx, roomIDs, checkIn, checkOut)
	if err != nil {
		return nil, err
	}

	byType := make(map[string]*RoomTypeAvailability)
	for _, r := range rooms {
		entry, ok := byType[r.RoomTypeID]
		if !ok {
			rt, err := s.catalog.RoomType(ctx, r.RoomTypeID)
			if err != nil {
				return nil, err
			}
			entry = &RoomTypeAvailability{
				RoomTypeID:     rt.ID,
				Name:           rt.Name,
				MaxOccupancy:   rt.MaxOccupancy,
				AvailableRooms: []string{},
			}
			if plan != nil {
				rate := catalog.NightlyRate(rt, plan)
				entry.NightlyRate = &rate
			} else if rt.BaseRate != nil {
				rate := *rt.BaseRate
				entry.NightlyRate = &rate
			}
			byType[r.RoomTypeID] = entry
		}
		if r.Status == catalog.RoomAvailable && !blocked[r.ID] {
			entry.AvailableRooms = append(entry.AvailableRooms, r.ID)
			entry.AvailableCount++
		}
	}

	out := make([]RoomTypeAvailability, 0, len(byType))
	for _, entry := range byType {
		out = append(out, *entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoomTypeID < out[j].RoomTypeID })
	return out, nil
}

func (s *Service) publish(ctx context.Context, eventType string, b *domain.Booking) {
	event, err := events.NewEvent(eventType, b.PropertyID, events.AggregateBooking, b.ID, events.BookingData{
		BookingID:        b.ID,
		PropertyID:       b.PropertyID,
		GuestID:          b.GuestID,
		RoomID:           b.RoomID,
		RatePlanID:       b.RatePlanID,
		CheckIn:          b.CheckIn.String(),
		CheckOut:         b.CheckOut.String(),
		Nights:           b.Nights(),
		NumberOfGuests:   b.NumberOfGuests,
		TotalMinor:       b.TotalAmount.AmountMinor,
		Currency:         string(b.TotalAmount.Currency),
		ConfirmationCode: b.ConfirmationCode,
		ReplacesID:       b.ReplacesBookingID,
		OccurredAt:       b.UpdatedAt,
	})
	if err != nil {
		s.logger.Error("failed to build event", "error", err, "type", eventType)
		return
	}
	event.WithCorrelation(middleware.GetCorrelationID(ctx), "")

	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("failed to publish event",
			"error", err,
			"type", eventType,
			"booking_id", b.ID,
		)
	}
}
