package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"motelbooking/internal/common/database"
	"motelbooking/internal/common/money"
)

// Postgres reads the catalog tables
type Postgres struct {
	db *database.DB
}

// NewPostgres creates a Postgres-backed catalog
func NewPostgres(db *database.DB) *Postgres {
	return &Postgres{db: db}
}

func notFound(kind, id string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", kind, id, database.ErrNotFound)
	}
	return fmt.Errorf("getting %s %s: %w", kind, id, err)
}

// Property implements Catalog
func (s *Postgres) Property(ctx context.Context, id string) (*Property, error) {
	var p Property
	err := s.db.QueryRow(ctx, `
		SELECT id, code, name, default_currency
		FROM properties
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Code, &p.Name, &p.DefaultCurrency)
	if err != nil {
		return nil, notFound("property", id, err)
	}
	return &p, nil
}

// Room implements Catalog
func (s *Postgres) Room(ctx context.Context, id string) (*Room, error) {
	var r Room
	err := s.db.QueryRow(ctx, `
		SELECT id, property_id, room_type_id, number, status
		FROM rooms
		WHERE id = $1
	`, id).Scan(&r.ID, &r.PropertyID, &r.RoomTypeID, &r.Number, &r.Status)
	if err != nil {
		return nil, notFound("room", id, err)
	}
	return &r, nil
}

// RoomType implements Catalog
func (s *Postgres) RoomType(ctx context.Context, id string) (*RoomType, error) {
	var (
		rt       RoomType
		baseRate *int64
		currency money.Currency
	)
	err := s.db.QueryRow(ctx, `
		SELECT id, property_id, name, max_occupancy, base_rate_minor, currency
		FROM room_types
		WHERE id = $1
	`, id).Scan(&rt.ID, &rt.PropertyID, &rt.Name, &rt.MaxOccupancy, &baseRate, &currency)
	if err != nil {
		return nil, notFound("room type", id, err)
	}
	if baseRate != nil {
		rate := money.New(*baseRate, currency)
		rt.BaseRate = &rate
	}
	return &rt, nil
}

// RatePlan implements Catalog
func (s *Postgres) RatePlan(ctx context.Context, id string) (*RatePlan, error) {
	var (
		rp       RatePlan
		rate     int64
		currency money.Currency
	)
	err := s.db.QueryRow(ctx, `
		SELECT id, property_id, name, nightly_rate_minor, currency
		FROM rate_plans
		WHERE id = $1
	`, id).Scan(&rp.ID, &rp.PropertyID, &rp.Name, &rate, &currency)
	if err != nil {
		return nil, notFound("rate plan", id, err)
	}
	rp.NightlyRate = money.New(rate, currency)
	return &rp, nil
}

// RoomsByProperty implements Catalog
func (s *Postgres) RoomsByProperty(ctx context.Context, propertyID string) ([]*Room, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, property_id, room_type_id, number, status
		FROM rooms
		WHERE property_id = $1
		ORDER BY number
	`, propertyID)
	if err != nil {
		return nil, fmt.Errorf("listing rooms: %w", err)
	}
	defer rows.Close()

	var rooms []*Room
	for rows.Next() {
		var r Room
		if err := rows.Scan(&r.ID, &r.PropertyID, &r.RoomTypeID, &r.Number, &r.Status); err != nil {
			return nil, fmt.Errorf("scanning room: %w", err)
		}
		rooms = append(rooms, &r)
	}
	return rooms, rows.Err()
}

// GuestExists implements GuestDirectory
func (s *Postgres) GuestExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM guests WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking guest %s: %w", id, err)
	}
	return exists, nil
}
