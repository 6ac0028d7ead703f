package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"motelbooking/internal/common/database"
	"motelbooking/internal/common/money"
	"motelbooking/internal/reservation/domain"
)

// Postgres stores bookings in the bookings table. The per-room critical
// section is a transaction-scoped advisory lock; the table's exclusion
// constraint backs it up.
type Postgres struct {
	db          *database.DB
	maxAttempts int
	logger      *slog.Logger
}

// NewPostgres creates a Postgres booking store
func NewPostgres(db *database.DB, maxAttempts int, logger *slog.Logger) *Postgres {
	return &Postgres{db: db, maxAttempts: maxAttempts, logger: logger}
}

const bookingColumns = `
	id, property_id, guest_id, room_id, rate_plan_id, check_in, check_out,
	number_of_guests, status, total_minor, currency, confirmation_code,
	replaces_booking_id, replaced_by_booking_id, created_at, updated_at, cancelled_at`

// WithRoomLock implements Store. Serialization failures and deadlocks are
// replayed; once attempts run out the caller sees ErrRoomNotAvailable.
func (s *Postgres) WithRoomLock(ctx context.Context, roomID string, fn func(tx RoomTx) error) error {
	err := database.Retry(ctx, s.maxAttempts, func() error {
		return s.db.WithTxOptions(ctx, database.DefaultTxOptions(), func(tx pgx.Tx) error {
			if err := database.AdvisoryXactLock(ctx, tx, "room", roomID); err != nil {
				return err
			}
			return fn(&postgresRoomTx{tx: tx, roomID: roomID})
		})
	})
	if errors.Is(err, database.ErrConflict) {
		s.logger.Warn("room admission retries exhausted", "room_id", roomID, "error", err)
		return fmt.Errorf("%w: %v", domain.ErrRoomNotAvailable, err)
	}
	return err
}

// Get implements Store
func (s *Postgres) Get(ctx context.Context, id string) (*domain.Booking, error) {
	row := s.db.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id)
	return scanBooking(row)
}

// GetByConfirmationCode implements Store
func (s *Postgres) GetByConfirmationCode(ctx context.Context, code string) (*domain.Booking, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE confirmation_code = $1 AND status <> 'MODIFIED'
		ORDER BY created_at DESC
		LIMIT 1
	`, code)
	return scanBooking(row)
}

// ListBlockingOverlap implements Store
func (s *Postgres) ListBlockingOverlap(ctx context.Context, roomIDs []string, checkIn, checkOut domain.Date) ([]*domain.Booking, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE room_id = ANY($1)
		  AND status = 'CONFIRMED'
		  AND check_in < $3
		  AND check_out > $2
		ORDER BY check_in, id
	`, roomIDs, checkIn.Time(), checkOut.Time())
	if err != nil {
		return nil, fmt.Errorf("listing overlapping bookings: %w", err)
	}
	return collectBookings(rows)
}

type postgresRoomTx struct {
	tx     pgx.Tx
	roomID string
}

func (t *postgresRoomTx) Get(ctx context.Context, id string) (*domain.Booking, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id)
	return scanBooking(row)
}

func (t *postgresRoomTx) ListBlocking(ctx context.Context) ([]*domain.Booking, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE room_id = $1 AND status = 'CONFIRMED'
		ORDER BY check_in, id
	`, t.roomID)
	if err != nil {
		return nil, fmt.Errorf("listing room bookings: %w", err)
	}
	return collectBookings(rows)
}

func (t *postgresRoomTx) Insert(ctx context.Context, b *domain.Booking) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO bookings (`+bookingColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`,
		b.ID, b.PropertyID, b.GuestID, b.RoomID, b.RatePlanID,
		b.CheckIn.Time(), b.CheckOut.Time(), b.NumberOfGuests, b.Status,
		b.TotalAmount.AmountMinor, b.TotalAmount.Currency, b.ConfirmationCode,
		nullable(b.ReplacesBookingID), nullable(b.ReplacedByBookingID),
		b.CreatedAt, b.UpdatedAt, b.CancelledAt,
	)
	return classifyWrite(b, err)
}

func (t *postgresRoomTx) Update(ctx context.Context, b *domain.Booking) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE bookings
		SET status = $2, replaced_by_booking_id = $3, updated_at = $4, cancelled_at = $5
		WHERE id = $1
	`, b.ID, b.Status, nullable(b.ReplacedByBookingID), b.UpdatedAt, b.CancelledAt)
	if err != nil {
		return classifyWrite(b, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("booking %s: %w", b.ID, database.ErrNotFound)
	}
	return nil
}

func classifyWrite(b *domain.Booking, err error) error {
	switch {
	case err == nil:
		return nil
	case database.IsExclusionViolation(err):
		return fmt.Errorf("%w: room %s is booked between %s and %s", domain.ErrRoomNotAvailable, b.RoomID, b.CheckIn, b.CheckOut)
	case database.IsUniqueViolation(err):
		return fmt.Errorf("booking %s: %w", b.ID, database.ErrAlreadyExists)
	}
	return fmt.Errorf("writing booking %s: %w", b.ID, err)
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func scanBooking(row pgx.Row) (*domain.Booking, error) {
	b, err := scanInto(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("booking: %w", database.ErrNotFound)
	}
	return b, err
}

func collectBookings(rows pgx.Rows) ([]*domain.Booking, error) {
	defer rows.Close()
	var out []*domain.Booking
	for rows.Next() {
		b, err := scanInto(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func scanInto(row pgx.Row) (*domain.Booking, error) {
	var (
		b                    domain.Booking
		checkIn, checkOut    time.Time
		totalMinor           int64
		currency             money.Currency
		replaces, replacedBy *string
	)
	err := row.Scan(
		&b.ID, &b.PropertyID, &b.GuestID, &b.RoomID, &b.RatePlanID,
		&checkIn, &checkOut, &b.NumberOfGuests, &b.Status,
		&totalMinor, &currency, &b.ConfirmationCode,
		&replaces, &replacedBy, &b.CreatedAt, &b.UpdatedAt, &b.CancelledAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning booking: %w", err)
	}
	b.CheckIn = domain.DateOf(checkIn)
	b.CheckOut = domain.DateOf(checkOut)
	b.TotalAmount = money.New(totalMinor, currency)
	if replaces != nil {
		b.ReplacesBookingID = *replaces
	}
	if replacedBy != nil {
		b.ReplacedByBookingID = *replacedBy
	}
	return &b, nil
}
