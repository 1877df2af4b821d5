// Package store defines persistence for the station table, the fare table,
// the active discount and issued tickets. Implementations include JSON files
// (everything but tickets), PostgreSQL, in-memory (for testing), and a Redis
// read-through cache.
package store

import (
	"context"
	"errors"

	"github.com/atmx/transit-fare/internal/fare"
	"github.com/atmx/transit-fare/internal/model"
)

var (
	// ErrTicketNotFound is returned when no ticket has the requested ID.
	ErrTicketNotFound = errors.New("store: ticket not found")

	// ErrTicketExists is returned when inserting a duplicate ticket ID.
	ErrTicketExists = errors.New("store: ticket already exists")

	// ErrStatusConflict is returned when a compare-and-set status update
	// finds the ticket in a different status than expected.
	ErrStatusConflict = errors.New("store: ticket status changed concurrently")
)

// StationTable is the durable name → coordinate table. It is always read
// and written whole; writers replace the previous table in one step.
type StationTable interface {
	// LoadStations returns every stored station. Order is unspecified.
	LoadStations(ctx context.Context) ([]model.Station, error)

	// SaveStations replaces the stored table with stations.
	SaveStations(ctx context.Context, stations []model.Station) error
}

// FareTable is the durable set of fixed fares. Like the station table it is
// read and written whole.
type FareTable interface {
	LoadFares(ctx context.Context) ([]model.FareRule, error)
	SaveFares(ctx context.Context, rules []model.FareRule) error
}

// DiscountStore persists the active promotion. A nil discount means none.
type DiscountStore interface {
	LoadDiscount(ctx context.Context) (*fare.Discount, error)
	SaveDiscount(ctx context.Context, d *fare.Discount) error
}

// TicketStore persists fare records.
type TicketStore interface {
	// CreateTicket persists a newly issued ticket.
	CreateTicket(ctx context.Context, t *model.Ticket) error

	// GetTicket retrieves a ticket by ID.
	GetTicket(ctx context.Context, id string) (*model.Ticket, error)

	// ListTicketsByRider returns every ticket held by a rider, oldest first.
	ListTicketsByRider(ctx context.Context, riderID string) ([]model.Ticket, error)

	// UpdateTicketStatus moves a ticket from one status to another,
	// failing with ErrStatusConflict if it is no longer in from.
	UpdateTicketStatus(ctx context.Context, id string, from, to model.TicketStatus) error

	// DeleteTicket removes a consumed ticket.
	DeleteTicket(ctx context.Context, id string) error
}

// Store is implemented by backends that hold everything.
type Store interface {
	StationTable
	FareTable
	DiscountStore
	TicketStore
}
