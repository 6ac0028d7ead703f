// Package catalog exposes the room inventory, rate plans, and guest directory
// that booking admission reads from. Nothing here is mutated by admission.
package catalog

import (
	"context"

	"motelbooking/internal/common/money"
)

// RoomStatus is the housekeeping state of a room
type RoomStatus string

const (
	RoomAvailable    RoomStatus = "AVAILABLE"
	RoomMaintenance  RoomStatus = "MAINTENANCE"
	RoomOutOfService RoomStatus = "OUT_OF_SERVICE"
)

// Property is a motel or hotel
type Property struct {
	ID              string         `json:"id"`
	Code            string         `json:"code"`
	Name            string         `json:"name"`
	DefaultCurrency money.Currency `json:"default_currency"`
}

// RoomType groups rooms sharing capacity and base pricing
type RoomType struct {
	ID           string       `json:"id"`
	PropertyID   string       `json:"property_id"`
	Name         string       `json:"name"`
	MaxOccupancy int          `json:"max_occupancy"`
	BaseRate     *money.Money `json:"base_rate,omitempty"`
}

// Room is a bookable unit
type Room struct {
	ID         string     `json:"id"`
	PropertyID string     `json:"property_id"`
	RoomTypeID string     `json:"room_type_id"`
	Number     string     `json:"number"`
	Status     RoomStatus `json:"status"`
}

// RatePlan carries the nightly price offered at a property
type RatePlan struct {
	ID          string      `json:"id"`
	PropertyID  string      `json:"property_id"`
	Name        string      `json:"name"`
	NightlyRate money.Money `json:"nightly_rate"`
}

// Guest is an entry in the guest directory
type Guest struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// Catalog answers inventory and pricing lookups. Missing ids return an
// error wrapping database.ErrNotFound.
type Catalog interface {
	Property(ctx context.Context, id string) (*Property, error)
	Room(ctx context.Context, id string) (*Room, error)
	RoomType(ctx context.Context, id string) (*RoomType, error)
	RatePlan(ctx context.Context, id string) (*RatePlan, error)
	RoomsByProperty(ctx context.Context, propertyID string) ([]*Room, error)
}

// GuestDirectory answers whether a guest id is known
type GuestDirectory interface {
	GuestExists(ctx context.Context, id string) (bool, error)
}

// NightlyRate is the room type's base rate when set, otherwise the plan's rate
func NightlyRate(rt *RoomType, plan *RatePlan) money.Money {
	if rt != nil && rt.BaseRate != nil && rt.BaseRate.Currency == plan.NightlyRate.Currency {
		return *rt.BaseRate
	}
	return plan.NightlyRate
}
