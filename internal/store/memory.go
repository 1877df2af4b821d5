package store

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/atmx/transit-fare/internal/fare"
	"github.com/atmx/transit-fare/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu       sync.RWMutex
	stations map[string]model.Station
	fares    []model.FareRule
	discount *fare.Discount
	tickets  map[string]*model.Ticket

	// saves counts SaveStations calls so tests can assert nothing was written.
	saves int
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		stations: make(map[string]model.Station),
		tickets:  make(map[string]*model.Ticket),
	}
}

func (s *MemoryStore) LoadStations(_ context.Context) ([]model.Station, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stations := make([]model.Station, 0, len(s.stations))
	for _, st := range s.stations {
		stations = append(stations, st)
	}
	return stations, nil
}

func (s *MemoryStore) SaveStations(_ context.Context, stations []model.Station) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	table := make(map[string]model.Station, len(stations))
	for _, st := range stations {
		table[st.Name] = st
	}
	s.stations = table
	s.saves++
	return nil
}

// Saves returns how many times the station table has been written.
func (s *MemoryStore) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}

func (s *MemoryStore) LoadFares(_ context.Context) ([]model.FareRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.fares), nil
}

func (s *MemoryStore) SaveFares(_ context.Context, rules []model.FareRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fares = slices.Clone(rules)
	return nil
}

func (s *MemoryStore) LoadDiscount(_ context.Context) (*fare.Discount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.discount == nil {
		return nil, nil
	}
	d := *s.discount
	return &d, nil
}

func (s *MemoryStore) SaveDiscount(_ context.Context, d *fare.Discount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d == nil {
		s.discount = nil
		return nil
	}
	cp := *d
	s.discount = &cp
	return nil
}

func (s *MemoryStore) CreateTicket(_ context.Context, t *model.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tickets[t.ID]; ok {
		return fmt.Errorf("%w: %s", ErrTicketExists, t.ID)
	}

	// Store a copy to avoid external mutation.
	copy := *t
	s.tickets[t.ID] = &copy
	return nil
}

func (s *MemoryStore) GetTicket(_ context.Context, id string) (*model.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tickets[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTicketNotFound, id)
	}
	copy := *t
	return &copy, nil
}

func (s *MemoryStore) ListTicketsByRider(_ context.Context, riderID string) ([]model.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Ticket
	for _, t := range s.tickets {
		if t.RiderID == riderID {
			result = append(result, *t)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].IssuedAt.Before(result[j].IssuedAt)
	})
	return result, nil
}

func (s *MemoryStore) UpdateTicketStatus(_ context.Context, id string, from, to model.TicketStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tickets[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTicketNotFound, id)
	}
	if t.Status != from {
		return fmt.Errorf("%w: %s is %s, expected %s", ErrStatusConflict, id, t.Status, from)
	}
	t.Status = to
	return nil
}

func (s *MemoryStore) DeleteTicket(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tickets[id]; !ok {
		return fmt.Errorf("%w: %s", ErrTicketNotFound, id)
	}
	delete(s.tickets, id)
	return nil
}
