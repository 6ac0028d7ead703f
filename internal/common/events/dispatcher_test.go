package events

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
)

type stubHandler struct {
	types []string
	err   error
	seen  []string
}

func (h *stubHandler) Handle(_ context.Context, e *Event) error {
	h.seen = append(h.seen, e.Type)
	return h.err
}

func (h *stubHandler) EventTypes() []string { return h.types }

func TestDispatcherRoutesByType(t *testing.T) {
	d := NewDispatcher(slog.New(slog.NewTextHandler(io.Discard, nil)))
	bookings := &stubHandler{types: []string{EventBookingConfirmed, EventBookingCancelled}}
	payments := &stubHandler{types: []string{EventPaymentCaptured}}
	d.Register(bookings)
	d.Register(payments)

	for _, typ := range []string{EventBookingConfirmed, EventPaymentCaptured, EventInvoiceIssued} {
		e, err := NewEvent(typ, "prop-1", AggregateBooking, "b-1", map[string]string{"k": "v"})
		if err != nil {
			t.Fatalf("new event: %v", err)
		}
		if err := d.Publish(context.Background(), e); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	if len(bookings.seen) != 1 || bookings.seen[0] != EventBookingConfirmed {
		t.Fatalf("unexpected booking deliveries %v", bookings.seen)
	}
	if len(payments.seen) != 1 || payments.seen[0] != EventPaymentCaptured {
		t.Fatalf("unexpected payment deliveries %v", payments.seen)
	}
}

func TestDispatcherContinuesAfterHandlerError(t *testing.T) {
	d := NewDispatcher(slog.New(slog.NewTextHandler(io.Discard, nil)))
	boom := errors.New("boom")
	failing := &stubHandler{types: []string{EventBookingConfirmed}, err: boom}
	next := &stubHandler{types: []string{EventBookingConfirmed}}
	d.Register(failing)
	d.Register(next)

	e, _ := NewEvent(EventBookingConfirmed, "prop-1", AggregateBooking, "b-1", nil)
	if err := d.Publish(context.Background(), e); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if len(next.seen) != 1 {
		t.Fatal("second handler should still receive the event")
	}
}

func TestEventDecodeData(t *testing.T) {
	e, err := NewEvent(EventPaymentAuthorized, "prop-1", AggregatePayment, "p-1", PaymentData{PaymentID: "p-1", AmountMinor: 15000})
	if err != nil {
		t.Fatalf("new event: %v", err)
	}
	var got PaymentData
	if err := e.DecodeData(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.PaymentID != "p-1" || got.AmountMinor != 15000 {
		t.Fatalf("unexpected payload %+v", got)
	}
}
