package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"motelbooking/internal/common/events"
)

// HandlerFunc processes one event. A returned error asks for redelivery.
type HandlerFunc func(ctx context.Context, event *events.Event) error

// HandlerFor adapts an EventHandler; events of other types are acknowledged untouched
func HandlerFor(h events.EventHandler) HandlerFunc {
	wanted := make(map[string]bool)
	for _, t := range h.EventTypes() {
		wanted[t] = true
	}
	return func(ctx context.Context, event *events.Event) error {
		if !wanted[event.Type] {
			return nil
		}
		return h.Handle(ctx, event)
	}
}

// delivery is the part of a jetstream.Msg the subscriber settles
type delivery interface {
	Data() []byte
	Metadata() (*jetstream.MsgMetadata, error)
	Ack() error
	NakWithDelay(delay time.Duration) error
	Term() error
}

// Subscriber feeds a durable consumer's messages to a handler
type Subscriber struct {
	name       string
	consumer   jetstream.Consumer
	handle     HandlerFunc
	maxDeliver int
	logger     *slog.Logger
}

func newSubscriber(name string, consumer jetstream.Consumer, h HandlerFunc, maxDeliver int, logger *slog.Logger) *Subscriber {
	return &Subscriber{
		name:       name,
		consumer:   consumer,
		handle:     h,
		maxDeliver: maxDeliver,
		logger:     logger.With("consumer", name),
	}
}

// Run consumes until ctx is cancelled
func (s *Subscriber) Run(ctx context.Context) error {
	iter, err := s.consumer.Messages()
	if err != nil {
		return fmt.Errorf("getting message iterator: %w", err)
	}
	go func() {
		<-ctx.Done()
		iter.Stop()
	}()

	for {
		msg, err := iter.Next()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Error("error getting next message", "error", err)
			continue
		}
		s.process(ctx, msg)
	}
}

// redeliveryDelay backs off linearly with the delivery count, capped at 30s
func redeliveryDelay(numDelivered uint64) time.Duration {
	d := time.Duration(numDelivered) * 2 * time.Second
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	return d
}

// process settles one message. Undecodable messages are terminated since no
// redelivery can fix them; handler failures are retried with backoff until
// the last allowed delivery.
func (s *Subscriber) process(ctx context.Context, msg delivery) {
	var event events.Event
	if err := json.Unmarshal(msg.Data(), &event); err != nil {
		s.logger.Error("dropping undecodable message", "error", err)
		_ = msg.Term()
		return
	}

	if err := s.handle(ctx, &event); err != nil {
		var delivered uint64 = 1
		if meta, merr := msg.Metadata(); merr == nil {
			delivered = meta.NumDelivered
		}
		if s.maxDeliver > 0 && delivered >= uint64(s.maxDeliver) {
			s.logger.Error("giving up on event",
				"error", err,
				"event_id", event.ID,
				"type", event.Type,
				"deliveries", delivered,
			)
			_ = msg.Term()
			return
		}
		s.logger.Warn("event handling failed, will retry",
			"error", err,
			"event_id", event.ID,
			"type", event.Type,
			"deliveries", delivered,
		)
		_ = msg.NakWithDelay(redeliveryDelay(delivered))
		return
	}

	if err := msg.Ack(); err != nil {
		s.logger.Error("error acknowledging message", "error", err, "event_id", event.ID)
	}
}
