package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	"motelbooking/internal/common/database"
)

// Seed is the on-disk shape of a memory catalog
type Seed struct {
	Properties []Property `json:"properties"`
	RoomTypes  []RoomType `json:"room_types"`
	Rooms      []Room     `json:"rooms"`
	RatePlans  []RatePlan `json:"rate_plans"`
	Guests     []Guest    `json:"guests"`
}

// LoadSeedFile reads a JSON seed file
func LoadSeedFile(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog seed: %w", err)
	}
	var seed Seed
	if err := json.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parsing catalog seed: %w", err)
	}
	return &seed, nil
}

// Memory is an in-process Catalog and GuestDirectory
type Memory struct {
	mu         sync.RWMutex
	properties map[string]*Property
	roomTypes  map[string]*RoomType
	rooms      map[string]*Room
	ratePlans  map[string]*RatePlan
	guests     map[string]*Guest
}

// NewMemory creates a catalog populated from seed, which may be nil
func NewMemory(seed *Seed) *Memory {
	m := &Memory{
		properties: make(map[string]*Property),
		roomTypes:  make(map[string]*RoomType),
		rooms:      make(map[string]*Room),
		ratePlans:  make(map[string]*RatePlan),
		guests:     make(map[string]*Guest),
	}
	if seed == nil {
		return m
	}
	for i := range seed.Properties {
		m.PutProperty(seed.Properties[i])
	}
	for i := range seed.RoomTypes {
		m.PutRoomType(seed.RoomTypes[i])
	}
	for i := range seed.Rooms {
		m.PutRoom(seed.Rooms[i])
	}
	for i := range seed.RatePlans {
		m.PutRatePlan(seed.RatePlans[i])
	}
	for i := range seed.Guests {
		m.PutGuest(seed.Guests[i])
	}
	return m
}

func (m *Memory) PutProperty(p Property) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.properties[p.ID] = &p
}

func (m *Memory) PutRoomType(rt RoomType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roomTypes[rt.ID] = &rt
}

func (m *Memory) PutRoom(r Room) {
	if r.Status == "" {
		r.Status = RoomAvailable
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rooms[r.ID] = &r
}

func (m *Memory) PutRatePlan(rp RatePlan) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ratePlans[rp.ID] = &rp
}

func (m *Memory) PutGuest(g Guest) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.guests[g.ID] = &g
}

// Property implements Catalog
func (m *Memory) Property(_ context.Context, id string) (*Property, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.properties[id]
	if !ok {
		return nil, fmt.Errorf("property %s: %w", id, database.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

// Room implements Catalog
func (m *Memory) Room(_ context.Context, id string) (*Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[id]
	if !ok {
		return nil, fmt.Errorf("room %s: %w", id, database.ErrNotFound)
	}
	cp := *r
	return &cp, nil
}

// RoomType implements Catalog
func (m *Memory) RoomType(_ context.Context, id string) (*RoomType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rt, ok := m.roomTypes[id]
	if !ok {
		return nil, fmt.Errorf("room type %s: %w", id, database.ErrNotFound)
	}
	cp := *rt
	return &cp, nil
}

// RatePlan implements Catalog
func (m *Memory) RatePlan(_ context.Context, id string) (*RatePlan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rp, ok := m.ratePlans[id]
	if !ok {
		return nil, fmt.Errorf("rate plan %s: %w", id, database.ErrNotFound)
	}
	cp := *rp
	return &cp, nil
}

// RoomsByProperty implements Catalog, ordered by room number
func (m *Memory) RoomsByProperty(_ context.Context, propertyID string) ([]*Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Room
	for _, r := range m.rooms {
		if r.PropertyID == propertyID {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

// GuestExists implements GuestDirectory
func (m *Memory) GuestExists(_ context.Context, id string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.guests[id]
	return ok, nil
}
