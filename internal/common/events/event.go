package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
)

// Event represents a domain event envelope
type Event struct {
	ID            string          `json:"event_id"`
	Type          string          `json:"type"`
	Version       int             `json:"version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	CorrelationID string          `json:"correlation_id"`
	CausationID   string          `json:"causation_id,omitempty"`
	PropertyID    string          `json:"property_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event
func NewEvent(eventType string, propertyID, aggregateType, aggregateID string, data interface{}) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            ulid.Make().String(),
		Type:          eventType,
		Version:       1,
		OccurredAt:    time.Now().UTC(),
		PropertyID:    propertyID,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Data:          dataBytes,
	}, nil
}

// WithCorrelation adds correlation and causation IDs
func (e *Event) WithCorrelation(correlationID, causationID string) *Event {
	e.CorrelationID = correlationID
	e.CausationID = causationID
	return e
}

// DecodeData decodes the event data into a struct
func (e *Event) DecodeData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// EventPublisher publishes events to a message broker
type EventPublisher interface {
	Publish(ctx context.Context, event *Event) error
}

// EventHandler handles incoming events
type EventHandler interface {
	Handle(ctx context.Context, event *Event) error
	EventTypes() []string
}

// Aggregate types
const (
	AggregateBooking = "booking"
	AggregateInvoice = "invoice"
	AggregatePayment = "payment"
)

// Event types
const (
	EventBookingConfirmed = "booking.confirmed"
	EventBookingCancelled = "booking.cancelled"
	EventBookingModified  = "booking.modified"

	EventInvoiceIssued = "invoice.issued"
	EventInvoiceVoided = "invoice.voided"

	EventPaymentAuthorized = "payment.authorized"
	EventPaymentCaptured   = "payment.captured"
	EventPaymentRefunded   = "payment.refunded"
	EventPaymentVoided     = "payment.voided"
)

// Event data structures

// BookingData is the data for booking.* events
type BookingData struct {
	BookingID        string    `json:"booking_id"`
	PropertyID       string    `json:"property_id"`
	GuestID          string    `json:"guest_id"`
	RoomID           string    `json:"room_id"`
	RatePlanID       string    `json:"rate_plan_id"`
	CheckIn          string    `json:"check_in"`
	CheckOut         string    `json:"check_out"`
	Nights           int       `json:"nights"`
	NumberOfGuests   int       `json:"number_of_guests"`
	TotalMinor       int64     `json:"total_minor"`
	Currency         string    `json:"currency"`
	ConfirmationCode string    `json:"confirmation_code"`
	ReplacesID       string    `json:"replaces_booking_id,omitempty"`
	OccurredAt       time.Time `json:"occurred_at"`
}

// InvoiceData is the data for invoice.* events
type InvoiceData struct {
	InvoiceID       string `json:"invoice_id"`
	BookingID       string `json:"booking_id"`
	GrandTotalMinor int64  `json:"grand_total_minor"`
	BalanceDueMinor int64  `json:"balance_due_minor"`
	Currency        string `json:"currency"`
	Status          string `json:"status"`
}

// PaymentData is the data for payment.* events
type PaymentData struct {
	PaymentID       string `json:"payment_id"`
	InvoiceID       string `json:"invoice_id"`
	Method          string `json:"method"`
	AmountMinor     int64  `json:"amount_minor"`
	RefundedMinor   int64  `json:"refunded_minor"`
	Currency        string `json:"currency"`
	Status          string `json:"status"`
	BalanceDueMinor int64  `json:"balance_due_minor"`
	InvoiceStatus   string `json:"invoice_status"`
}
