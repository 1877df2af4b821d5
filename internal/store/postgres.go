package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/atmx/transit-fare/internal/fare"
	"github.com/atmx/transit-fare/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Ticket status is stored as its wire name (UNUSED, IN_USE, COMPLETED).
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// LoadStations reads the whole station table.
func (s *PostgresStore) LoadStations(ctx context.Context) ([]model.Station, error) {
	rows, err := s.pool.Query(ctx, `SELECT name, x, y, z FROM stations`)
	if err != nil {
		return nil, fmt.Errorf("load stations: %w", err)
	}
	defer rows.Close()

	var stations []model.Station
	for rows.Next() {
		var st model.Station
		if err := rows.Scan(&st.Name, &st.X, &st.Y, &st.Z); err != nil {
			return nil, fmt.Errorf("scan station: %w", err)
		}
		stations = append(stations, st)
	}
	return stations, rows.Err()
}

// SaveStations replaces the table inside one transaction, so readers see
// either the old table or the new one.
func (s *PostgresStore) SaveStations(ctx context.Context, stations []model.Station) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin save stations: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if _, err := tx.Exec(ctx, `DELETE FROM stations`); err != nil {
		return fmt.Errorf("clear stations: %w", err)
	}

	if len(stations) > 0 {
		rows := make([][]any, 0, len(stations))
		for _, st := range stations {
			rows = append(rows, []any{st.Name, st.X, st.Y, st.Z})
		}
		if _, err := tx.CopyFrom(ctx,
			pgx.Identifier{"stations"},
			[]string{"name", "x", "y", "z"},
			pgx.CopyFromRows(rows),
		); err != nil {
			return fmt.Errorf("insert stations: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// LoadFares reads every fare rule.
func (s *PostgresStore) LoadFares(ctx context.Context) ([]model.FareRule, error) {
	rows, err := s.pool.Query(ctx, `SELECT from_station, to_station, price FROM fares`)
	if err != nil {
		return nil, fmt.Errorf("load fares: %w", err)
	}
	defer rows.Close()

	var rules []model.FareRule
	for rows.Next() {
		var r model.FareRule
		if err := rows.Scan(&r.From, &r.To, &r.Price); err != nil {
			return nil, fmt.Errorf("scan fare: %w", err)
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// SaveFares replaces the fare table inside one transaction.
func (s *PostgresStore) SaveFares(ctx context.Context, rules []model.FareRule) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin save fares: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if _, err := tx.Exec(ctx, `DELETE FROM fares`); err != nil {
		return fmt.Errorf("clear fares: %w", err)
	}

	if len(rules) > 0 {
		rows := make([][]any, 0, len(rules))
		for _, r := range rules {
			rows = append(rows, []any{r.From, r.To, r.Price})
		}
		if _, err := tx.CopyFrom(ctx,
			pgx.Identifier{"fares"},
			[]string{"from_station", "to_station", "price"},
			pgx.CopyFromRows(rows),
		); err != nil {
			return fmt.Errorf("insert fares: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// LoadDiscount reads the single discount row, or nil if there is none.
func (s *PostgresStore) LoadDiscount(ctx context.Context) (*fare.Discount, error) {
	var (
		d                fare.Discount
		factor           string
		startsAt, endsAt *time.Time
	)
	err := s.pool.QueryRow(ctx,
		`SELECT name, factor, enabled, starts_at, ends_at FROM discount WHERE id = 1`,
	).Scan(&d.Name, &factor, &d.Enabled, &startsAt, &endsAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load discount: %w", err)
	}

	if d.Factor, err = decimal.NewFromString(factor); err != nil {
		return nil, fmt.Errorf("parse discount factor %q: %w", factor, err)
	}
	if startsAt != nil {
		d.StartsAt = startsAt.UTC()
	}
	if endsAt != nil {
		d.EndsAt = endsAt.UTC()
	}
	return &d, nil
}

// SaveDiscount upserts the discount row, or deletes it when d is nil.
func (s *PostgresStore) SaveDiscount(ctx context.Context, d *fare.Discount) error {
	if d == nil {
		if _, err := s.pool.Exec(ctx, `DELETE FROM discount`); err != nil {
			return fmt.Errorf("clear discount: %w", err)
		}
		return nil
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO discount (id, name, factor, enabled, starts_at, ends_at)
		 VALUES (1, $1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE SET
		   name = EXCLUDED.name, factor = EXCLUDED.factor, enabled = EXCLUDED.enabled,
		   starts_at = EXCLUDED.starts_at, ends_at = EXCLUDED.ends_at`,
		d.Name, d.Factor.String(), d.Enabled, nullTime(d.StartsAt), nullTime(d.EndsAt),
	)
	if err != nil {
		return fmt.Errorf("save discount: %w", err)
	}
	return nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func (s *PostgresStore) CreateTicket(ctx context.Context, t *model.Ticket) error {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO tickets (id, rider_id, start_station, destination, base_price, price_paid, issued_at, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO NOTHING`,
		t.ID, t.RiderID, t.Start, t.Destination,
		t.BasePrice, t.PricePaid, t.IssuedAt, t.Status.String(),
	)
	if err != nil {
		return fmt.Errorf("create ticket %s: %w", t.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrTicketExists, t.ID)
	}
	return nil
}

func (s *PostgresStore) GetTicket(ctx context.Context, id string) (*model.Ticket, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, rider_id, start_station, destination, base_price, price_paid, issued_at, status
		 FROM tickets WHERE id = $1`, id)

	t, err := scanTicket(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrTicketNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get ticket %s: %w", id, err)
	}
	return t, nil
}

func (s *PostgresStore) ListTicketsByRider(ctx context.Context, riderID string) ([]model.Ticket, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, rider_id, start_station, destination, base_price, price_paid, issued_at, status
		 FROM tickets WHERE rider_id = $1 ORDER BY issued_at`, riderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tickets []model.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, *t)
	}
	return tickets, rows.Err()
}

func (s *PostgresStore) UpdateTicketStatus(ctx context.Context, id string, from, to model.TicketStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tickets SET status = $3 WHERE id = $1 AND status = $2`,
		id, from.String(), to.String(),
	)
	if err != nil {
		return fmt.Errorf("update ticket %s: %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	// Nothing matched: either the ticket is gone or its status moved.
	if _, err := s.GetTicket(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("%w: %s expected %s", ErrStatusConflict, id, from)
}

func (s *PostgresStore) DeleteTicket(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM tickets WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete ticket %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrTicketNotFound, id)
	}
	return nil
}

// scanTicket reads one ticket row from either pgx.Row or pgx.Rows.
func scanTicket(row pgx.Row) (*model.Ticket, error) {
	var t model.Ticket
	var status string

	if err := row.Scan(&t.ID, &t.RiderID, &t.Start, &t.Destination,
		&t.BasePrice, &t.PricePaid, &t.IssuedAt, &status); err != nil {
		return nil, err
	}

	parsed, err := model.ParseTicketStatus(status)
	if err != nil {
		return nil, err
	}
	t.Status = parsed
	return &t, nil
}
