// Package nats carries reservation, invoice and payment events over NATS
// JetStream: one stream holds them all and durable consumers such as
// invoicing work through it at their own pace.
package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Stream and consumer names for reservation events
const (
	StreamReservations = "RESERVATIONS"
	ConsumerInvoicing  = "invoicing"
	SubjectPrefix      = "events."
)

// ReservationSubjects are the subjects carried by the reservations stream
var ReservationSubjects = []string{
	SubjectPrefix + "booking.>",
	SubjectPrefix + "invoice.>",
	SubjectPrefix + "payment.>",
}

// Config holds NATS configuration
type Config struct {
	Enabled       bool          `envconfig:"NATS_ENABLED" default:"false"`
	URL           string        `envconfig:"NATS_URL" default:"nats://localhost:4222"`
	Name          string        `envconfig:"NATS_CLIENT_NAME" default:"motelbooking"`
	MaxReconnects int           `envconfig:"NATS_MAX_RECONNECTS" default:"10"`
	ReconnectWait time.Duration `envconfig:"NATS_RECONNECT_WAIT" default:"2s"`
	// StreamMaxAge bounds how long events are kept for late consumers
	StreamMaxAge time.Duration `envconfig:"NATS_STREAM_MAX_AGE" default:"168h"`
	MaxDeliver   int           `envconfig:"NATS_MAX_DELIVER" default:"5"`
	AckWait      time.Duration `envconfig:"NATS_ACK_WAIT" default:"30s"`
}

// Client is a NATS connection with its JetStream context
type Client struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	cfg    Config
	logger *slog.Logger
}

// New connects to NATS
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	conn, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected", "url", c.ConnectedUrl())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, s *nats.Subscription, err error) {
			subject := ""
			if s != nil {
				subject = s.Subject
			}
			logger.Error("NATS error", "error", err, "subject", subject)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("creating JetStream context: %w", err)
	}

	logger.Info("NATS connection established", "url", conn.ConnectedUrl())
	return &Client{conn: conn, js: js, cfg: cfg, logger: logger}, nil
}

// Close drains nothing; in-flight acks are lost and redelivered
func (c *Client) Close() {
	c.conn.Close()
}

// Conn returns the core connection, used for request-reply
func (c *Client) Conn() *nats.Conn {
	return c.conn
}

// HealthCheck fails while the connection is down
func (c *Client) HealthCheck() error {
	if !c.conn.IsConnected() {
		return errors.New("NATS not connected")
	}
	return nil
}

// streamConfig describes the reservations stream. Duplicate publishes of
// the same event id inside the window are dropped by the server.
func streamConfig(maxAge time.Duration) jetstream.StreamConfig {
	return jetstream.StreamConfig{
		Name:       StreamReservations,
		Subjects:   ReservationSubjects,
		MaxAge:     maxAge,
		Retention:  jetstream.LimitsPolicy,
		Storage:    jetstream.FileStorage,
		Duplicates: 2 * time.Minute,
	}
}

// EnsureReservationStream creates or updates the reservations stream
func (c *Client) EnsureReservationStream(ctx context.Context) error {
	if _, err := c.js.CreateOrUpdateStream(ctx, streamConfig(c.cfg.StreamMaxAge)); err != nil {
		return fmt.Errorf("creating/updating stream %s: %w", StreamReservations, err)
	}
	c.logger.Info("stream ensured", "name", StreamReservations, "subjects", ReservationSubjects)
	return nil
}

// consumerConfig describes a durable consumer of the reservations stream
func consumerConfig(name string, filters []string, maxDeliver int, ackWait time.Duration) jetstream.ConsumerConfig {
	return jetstream.ConsumerConfig{
		Durable:        name,
		FilterSubjects: filters,
		MaxDeliver:     maxDeliver,
		AckWait:        ackWait,
		AckPolicy:      jetstream.AckExplicitPolicy,
		DeliverPolicy:  jetstream.DeliverAllPolicy,
	}
}

// Subscribe ensures a durable consumer receiving h's event types and
// returns a Subscriber feeding them to h
func (c *Client) Subscribe(ctx context.Context, name string, h HandlerFunc, eventTypes ...string) (*Subscriber, error) {
	filters := make([]string, len(eventTypes))
	for i, t := range eventTypes {
		filters[i] = Subject(t)
	}
	cfg := consumerConfig(name, filters, c.cfg.MaxDeliver, c.cfg.AckWait)
	consumer, err := c.js.CreateOrUpdateConsumer(ctx, StreamReservations, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating/updating consumer %s: %w", name, err)
	}
	c.logger.Info("consumer ensured", "name", name, "filters", filters)
	return newSubscriber(name, consumer, h, cfg.MaxDeliver, c.logger), nil
}
