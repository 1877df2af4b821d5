package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atmx/transit-fare/internal/fare"
	"github.com/atmx/transit-fare/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for tickets. Writes go to the primary store and invalidate the
// cache; reads check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) SaveStations(ctx context.Context, stations []model.Station) error {
	return s.primary.SaveStations(ctx, stations)
}

func (s *CachedStore) CreateTicket(ctx context.Context, t *model.Ticket) error {
	if err := s.primary.CreateTicket(ctx, t); err != nil {
		return err
	}
	s.cacheTicket(ctx, t)
	return nil
}

func (s *CachedStore) UpdateTicketStatus(ctx context.Context, id string, from, to model.TicketStatus) error {
	err := s.primary.UpdateTicketStatus(ctx, id, from, to)
	// Invalidate even on conflict: the cached copy is stale either way.
	s.invalidate(ctx, ticketKey(id))
	return err
}

func (s *CachedStore) DeleteTicket(ctx context.Context, id string) error {
	err := s.primary.DeleteTicket(ctx, id)
	s.invalidate(ctx, ticketKey(id))
	return err
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetTicket(ctx context.Context, id string) (*model.Ticket, error) {
	data, err := s.rdb.Get(ctx, ticketKey(id)).Bytes()
	if err == nil {
		var t model.Ticket
		if json.Unmarshal(data, &t) == nil {
			return &t, nil
		}
	}

	t, err := s.primary.GetTicket(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cacheTicket(ctx, t)
	return t, nil
}

// --- Passthrough (not cached) ---

// ListTicketsByRider is not cached: status changes would need the rider ID
// to invalidate it.
func (s *CachedStore) ListTicketsByRider(ctx context.Context, riderID string) ([]model.Ticket, error) {
	return s.primary.ListTicketsByRider(ctx, riderID)
}

// LoadStations always reads the primary. The registry keeps the table in
// memory and only loads it on start and reload, which must see durable state.
func (s *CachedStore) LoadStations(ctx context.Context) ([]model.Station, error) {
	return s.primary.LoadStations(ctx)
}

// LoadFares and LoadDiscount are read once at start and on reload, so they
// pass through like LoadStations.
func (s *CachedStore) LoadFares(ctx context.Context) ([]model.FareRule, error) {
	return s.primary.LoadFares(ctx)
}

func (s *CachedStore) SaveFares(ctx context.Context, rules []model.FareRule) error {
	return s.primary.SaveFares(ctx, rules)
}

func (s *CachedStore) LoadDiscount(ctx context.Context) (*fare.Discount, error) {
	return s.primary.LoadDiscount(ctx)
}

func (s *CachedStore) SaveDiscount(ctx context.Context, d *fare.Discount) error {
	return s.primary.SaveDiscount(ctx, d)
}

// --- Cache helpers ---

func (s *CachedStore) cacheTicket(ctx context.Context, t *model.Ticket) {
	if data, err := json.Marshal(t); err == nil {
		s.rdb.Set(ctx, ticketKey(t.ID), data, s.ttl)
	}
}

func (s *CachedStore) invalidate(ctx context.Context, key string) {
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		slog.Warn("cache invalidation failed", "key", key, "err", err)
	}
}

func ticketKey(id string) string { return fmt.Sprintf("ticket:%s", id) }
