package nats

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"motelbooking/internal/common/events"
)

type countingHandler struct {
	handled int
	err     error
}

func (h *countingHandler) Handle(context.Context, *events.Event) error {
	h.handled++
	return h.err
}

func (h *countingHandler) EventTypes() []string {
	return []string{events.EventBookingConfirmed}
}

// fakeMsg records how a delivery was settled
type fakeMsg struct {
	data      []byte
	delivered uint64
	settled   string
	delay     time.Duration
}

func (m *fakeMsg) Data() []byte { return m.data }

func (m *fakeMsg) Metadata() (*jetstream.MsgMetadata, error) {
	return &jetstream.MsgMetadata{NumDelivered: m.delivered}, nil
}

func (m *fakeMsg) Ack() error {
	m.settled = "ack"
	return nil
}

func (m *fakeMsg) NakWithDelay(d time.Duration) error {
	m.settled, m.delay = "nak", d
	return nil
}

func (m *fakeMsg) Term() error {
	m.settled = "term"
	return nil
}

func encode(t *testing.T, eventType string) []byte {
	t.Helper()
	e, err := events.NewEvent(eventType, "prop-1", events.AggregateBooking, "b-1", events.BookingData{BookingID: "b-1"})
	if err != nil {
		t.Fatalf("new event: %v", err)
	}
	data, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func TestHandlerForFiltersByType(t *testing.T) {
	h := &countingHandler{}
	handle := HandlerFor(h)

	for _, typ := range []string{events.EventBookingConfirmed, events.EventPaymentCaptured} {
		e, err := events.NewEvent(typ, "prop-1", events.AggregateBooking, "b-1", nil)
		if err != nil {
			t.Fatalf("new event: %v", err)
		}
		if err := handle(context.Background(), e); err != nil {
			t.Fatalf("handle: %v", err)
		}
	}

	if h.handled != 1 {
		t.Fatalf("expected 1 handled event, got %d", h.handled)
	}
}

func TestSubscriberSettlesDeliveries(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	failing := errors.New("billing unavailable")

	cases := []struct {
		name      string
		data      []byte
		delivered uint64
		err       error
		settled   string
		handled   int
	}{
		{"handled", encode(t, events.EventBookingConfirmed), 1, nil, "ack", 1},
		{"other type", encode(t, events.EventPaymentCaptured), 1, nil, "ack", 0},
		{"undecodable", []byte("{not json"), 1, nil, "term", 0},
		{"handler failed", encode(t, events.EventBookingConfirmed), 2, failing, "nak", 1},
		{"last delivery failed", encode(t, events.EventBookingConfirmed), 5, failing, "term", 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := &countingHandler{err: tc.err}
			s := newSubscriber(ConsumerInvoicing, nil, HandlerFor(h), 5, logger)
			msg := &fakeMsg{data: tc.data, delivered: tc.delivered}

			s.process(context.Background(), msg)

			if msg.settled != tc.settled || h.handled != tc.handled {
				t.Fatalf("settled %q after %d handled, want %q after %d", msg.settled, h.handled, tc.settled, tc.handled)
			}
		})
	}
}

func TestRedeliveryDelay(t *testing.T) {
	if got := redeliveryDelay(1); got != 2*time.Second {
		t.Fatalf("first retry delay = %s", got)
	}
	if got := redeliveryDelay(100); got != 30*time.Second {
		t.Fatalf("delay should cap at 30s, got %s", got)
	}
}

func TestStreamAndConsumerConfig(t *testing.T) {
	if got := Subject(events.EventBookingCancelled); got != "events.booking.cancelled" {
		t.Fatalf("unexpected subject %q", got)
	}
	sc := streamConfig(time.Hour)
	if sc.Name != StreamReservations || len(sc.Subjects) != 3 || sc.Duplicates == 0 {
		t.Fatalf("stream config = %+v", sc)
	}
	cc := consumerConfig(ConsumerInvoicing, []string{Subject(events.EventBookingConfirmed)}, 5, time.Second)
	if cc.Durable != ConsumerInvoicing || cc.AckPolicy != jetstream.AckExplicitPolicy || cc.MaxDeliver != 5 {
		t.Fatalf("consumer config = %+v", cc)
	}
}
