// Package purchase ties the fare engine together: it resolves stations,
// prices the trip, settles payment against the rider's coins, mints the
// ticket and drives it through its lifecycle. The HTTP handlers in this
// package are the surface terminals, gates and admin tools call.
package purchase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/atmx/transit-fare/internal/currency"
	"github.com/atmx/transit-fare/internal/fare"
	"github.com/atmx/transit-fare/internal/metrics"
	"github.com/atmx/transit-fare/internal/model"
	"github.com/atmx/transit-fare/internal/registry"
	"github.com/atmx/transit-fare/internal/settlement"
	"github.com/atmx/transit-fare/internal/store"
	"github.com/atmx/transit-fare/internal/ticket"
)

var (
	// ErrInvalidRequest is returned for malformed purchase input.
	ErrInvalidRequest = errors.New("purchase: invalid request")

	// ErrStorage wraps failures to read or write fares and discounts.
	ErrStorage = errors.New("purchase: storage failed")
)

// Service handles purchases and ticket transitions. A mutex serializes
// them (single instance), mirroring the single-threaded world tick the
// fare engine was designed around.
type Service struct {
	registry *registry.Registry
	calc     *fare.Calculator
	engine   *settlement.Engine
	refunds   ticket.RefundSchedule
	tickets   store.TicketStore
	fares     store.FareTable
	discounts store.DiscountStore
	wsHub     *WSHub // optional WebSocket hub for event broadcasts

	mu  sync.Mutex
	now func() time.Time
}

// Stores is the persistence the service writes through.
type Stores struct {
	Tickets   store.TicketStore
	Fares     store.FareTable
	Discounts store.DiscountStore
}

// NewService creates a new purchase service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(
	reg *registry.Registry,
	calc *fare.Calculator,
	engine *settlement.Engine,
	refunds ticket.RefundSchedule,
	stores Stores,
	hub *WSHub,
) *Service {
	metrics.Stations.Set(float64(reg.Len()))
	metrics.FareRules.Set(float64(calc.Fares().Len()))
	return &Service{
		registry:  reg,
		calc:      calc,
		engine:    engine,
		refunds:   refunds,
		tickets:   stores.Tickets,
		fares:     stores.Fares,
		discounts: stores.Discounts,
		wsHub:     hub,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source. Used by tests.
func (s *Service) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// --- Request/Response types ---

// PurchaseRequest is the input of a fare purchase.
type PurchaseRequest struct {
	RiderID string           `json:"rider_id"`
	From    string           `json:"from"`
	To      string           `json:"to"`
	Holding currency.Holding `json:"holding"`
}

// Receipt is the outcome of a successful purchase. The caller debits Spent
// and credits Change; Remaining is the holding after doing so.
type Receipt struct {
	Ticket    model.Ticket     `json:"ticket"`
	Quote     model.Quote      `json:"quote"`
	Spent     currency.Holding `json:"spent"`
	Change    currency.Holding `json:"change"`
	Remaining currency.Holding `json:"remaining"`
}

// RefundReceipt is the outcome of refunding an unused ticket.
type RefundReceipt struct {
	TicketID string           `json:"ticket_id"`
	Amount   int64            `json:"amount"`
	Coins    currency.Holding `json:"coins"`
}

// --- Core operations ---

// Quote prices the trip between two registered stations.
func (s *Service) Quote(from, to string) (model.Quote, error) {
	start, err := s.registry.Resolve(from)
	if err != nil {
		return model.Quote{}, err
	}
	dest, err := s.registry.Resolve(to)
	if err != nil {
		return model.Quote{}, err
	}
	return s.calc.Quote(start, dest, s.clock()), nil
}

// Purchase prices the trip, settles it against the rider's holding and,
// only when settlement succeeds, issues a ticket. Nothing is recorded on
// failure.
func (s *Service) Purchase(ctx context.Context, req PurchaseRequest) (*Receipt, error) {
	start := time.Now()
	defer func() { metrics.PurchaseLatency.Observe(time.Since(start).Seconds()) }()

	if req.RiderID == "" {
		metrics.PurchasesTotal.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("%w: rider_id is required", ErrInvalidRequest)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	quote, err := s.quoteAt(req.From, req.To, now)
	if err != nil {
		metrics.PurchasesTotal.WithLabelValues(outcomeFor(err)).Inc()
		return nil, err
	}

	res, err := s.engine.Settle(quote.Price, req.Holding)
	if err != nil {
		metrics.PurchasesTotal.WithLabelValues(outcomeFor(err)).Inc()
		slog.Info("purchase declined",
			"rider", req.RiderID,
			"from", req.From,
			"to", req.To,
			"price", quote.Price,
			"err", err,
		)
		return nil, err
	}

	t := model.Ticket{
		ID:          uuid.New().String(),
		RiderID:     req.RiderID,
		Start:       quote.From,
		Destination: quote.To,
		BasePrice:   quote.BasePrice,
		PricePaid:   quote.Price,
		IssuedAt:    now,
		Status:      model.StatusUnused,
	}
	if err := s.tickets.CreateTicket(ctx, &t); err != nil {
		metrics.PurchasesTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("record ticket: %w", err)
	}

	ladder := s.engine.Ladder()
	changeValue, _ := ladder.Total(res.Change)
	metrics.PurchasesTotal.WithLabelValues("ok").Inc()
	metrics.FareRevenue.Add(float64(quote.Price))
	metrics.ChangeReturned.Add(float64(changeValue))

	slog.Info("ticket issued",
		"ticket_id", t.ID,
		"rider", t.RiderID,
		"from", t.Start,
		"to", t.Destination,
		"distance", quote.Distance,
		"source", quote.Source,
		"base_price", t.BasePrice,
		"price_paid", t.PricePaid,
		"spent", ladder.Describe(res.Spent),
		"change", ladder.Describe(res.Change),
	)

	s.broadcast(WSMessage{
		Type:     "ticket_issued",
		TicketID: t.ID,
		RiderID:  t.RiderID,
		From:     t.Start,
		To:       t.Destination,
		Status:   t.Status.String(),
		Price:    t.PricePaid,
	})

	return &Receipt{
		Ticket:    t,
		Quote:     quote,
		Spent:     res.Spent,
		Change:    res.Change,
		Remaining: res.Apply(req.Holding),
	}, nil
}

// Enter moves a ticket from UNUSED to IN_USE (rider passes the entry gate).
func (s *Service) Enter(ctx context.Context, id string) (*model.Ticket, error) {
	return s.transition(ctx, id, model.StatusInUse)
}

// Complete moves a ticket from IN_USE to COMPLETED (rider exits).
func (s *Service) Complete(ctx context.Context, id string) (*model.Ticket, error) {
	return s.transition(ctx, id, model.StatusCompleted)
}

func (s *Service) transition(ctx context.Context, id string, to model.TicketStatus) (*model.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.tickets.GetTicket(ctx, id)
	if err != nil {
		return nil, err
	}

	from := t.Status
	if err := ticket.Advance(t, to); err != nil {
		metrics.TicketTransitions.WithLabelValues(to.String(), "illegal").Inc()
		return nil, err
	}
	if err := s.tickets.UpdateTicketStatus(ctx, id, from, to); err != nil {
		metrics.TicketTransitions.WithLabelValues(to.String(), "error").Inc()
		return nil, err
	}
	metrics.TicketTransitions.WithLabelValues(to.String(), "ok").Inc()

	slog.Info("ticket status changed", "ticket_id", id, "from", from.String(), "to", to.String())
	s.broadcast(WSMessage{
		Type:     "ticket_status",
		TicketID: id,
		RiderID:  t.RiderID,
		Status:   to.String(),
	})
	return t, nil
}

// Refund returns part of the price of an unused ticket, according to how
// long ago it was issued, and consumes the ticket.
func (s *Service) Refund(ctx context.Context, id string) (*RefundReceipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.tickets.GetTicket(ctx, id)
	if err != nil {
		return nil, err
	}

	amount, err := s.refunds.Refund(t, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.tickets.DeleteTicket(ctx, id); err != nil {
		return nil, err
	}

	coins := s.engine.Ladder().Decompose(amount)
	metrics.RefundsTotal.Add(float64(amount))
	slog.Info("ticket refunded", "ticket_id", id, "rider", t.RiderID, "paid", t.PricePaid, "refund", amount)
	s.broadcast(WSMessage{
		Type:     "ticket_refunded",
		TicketID: id,
		RiderID:  t.RiderID,
		Price:    amount,
	})

	return &RefundReceipt{TicketID: id, Amount: amount, Coins: coins}, nil
}

// GetTicket returns a ticket by ID.
func (s *Service) GetTicket(ctx context.Context, id string) (*model.Ticket, error) {
	return s.tickets.GetTicket(ctx, id)
}

// RiderTickets returns every ticket a rider holds.
func (s *Service) RiderTickets(ctx context.Context, riderID string) ([]model.Ticket, error) {
	return s.tickets.ListTicketsByRider(ctx, riderID)
}

// --- Station administration ---

// AddStation registers or overwrites a station.
func (s *Service) AddStation(ctx context.Context, st model.Station) error {
	if err := s.registry.Add(ctx, st.Name, st.X, st.Y, st.Z); err != nil {
		return err
	}
	metrics.Stations.Set(float64(s.registry.Len()))
	s.broadcast(WSMessage{Type: "station_saved", Station: st.Name})
	return nil
}

// RemoveStation deletes a station; it reports false if there was none.
func (s *Service) RemoveStation(ctx context.Context, name string) (bool, error) {
	removed, err := s.registry.Remove(ctx, name)
	if err != nil || !removed {
		return removed, err
	}
	metrics.Stations.Set(float64(s.registry.Len()))
	s.broadcast(WSMessage{Type: "station_removed", Station: name})
	return true, nil
}

// ReloadStations re-reads the station table from storage.
func (s *Service) ReloadStations(ctx context.Context) error {
	err := s.registry.Reload(ctx)
	s.stationsReloaded(err)
	return err
}

// WatchStations reloads the station table whenever the file at path
// changes, with the same bookkeeping as ReloadStations.
func (s *Service) WatchStations(ctx context.Context, path string) error {
	return s.registry.Watch(ctx, path, s.stationsReloaded)
}

func (s *Service) stationsReloaded(err error) {
	metrics.Stations.Set(float64(s.registry.Len()))
	if err != nil {
		metrics.RegistryReloads.WithLabelValues("error").Inc()
		return
	}
	metrics.RegistryReloads.WithLabelValues("ok").Inc()
	s.broadcast(WSMessage{Type: "stations_reloaded"})
}

// --- Fare table administration ---

// FareRequest sets a fixed fare between two registered stations.
type FareRequest struct {
	From          string `json:"from"`
	To            string `json:"to"`
	Price         int64  `json:"price"`
	Bidirectional bool   `json:"bidirectional"`
}

// Fares returns every fixed fare.
func (s *Service) Fares() []model.FareRule {
	return s.calc.Fares().Rules()
}

// SetFare stores a fixed fare and writes the table back. Both stations must
// be registered. A failed write restores the previous table.
func (s *Service) SetFare(ctx context.Context, req FareRequest) error {
	rule := model.FareRule{From: req.From, To: req.To, Price: req.Price}
	if err := fare.ValidateRule(rule); err != nil {
		return err
	}
	if _, err := s.registry.Resolve(req.From); err != nil {
		return err
	}
	if _, err := s.registry.Resolve(req.To); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.mutateFares(ctx, func(t *fare.Table) error {
		return t.Set(rule, req.Bidirectional)
	})
	if err != nil {
		return err
	}

	slog.Info("fare saved", "from", req.From, "to", req.To, "price", req.Price, "bidirectional", req.Bidirectional)
	s.broadcast(WSMessage{Type: "fare_saved", From: req.From, To: req.To, Price: req.Price})
	return nil
}

// RemoveFare deletes the fixed fare from → to (and the reverse when
// bidirectional). It reports false, and writes nothing, when there was none.
func (s *Service) RemoveFare(ctx context.Context, from, to string, bidirectional bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := false
	err := s.mutateFares(ctx, func(t *fare.Table) error {
		removed = t.Remove(from, to, bidirectional)
		if !removed {
			return errNothingChanged
		}
		return nil
	})
	if errors.Is(err, errNothingChanged) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	slog.Info("fare removed", "from", from, "to", to, "bidirectional", bidirectional)
	s.broadcast(WSMessage{Type: "fare_removed", From: from, To: to})
	return true, nil
}

// LoadFares replaces the fare table with the stored one. On failure the
// table is left empty, so every trip is priced by distance.
func (s *Service) LoadFares(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	table := s.calc.Fares()
	rules, err := s.fares.LoadFares(ctx)
	if err == nil {
		err = table.Replace(rules)
	}
	if err != nil {
		table.Replace(nil)
		metrics.FareRules.Set(0)
		slog.Error("fare table load failed, pricing by distance only", "err", err)
		return fmt.Errorf("%w: load fares: %v", ErrStorage, err)
	}

	metrics.FareRules.Set(float64(table.Len()))
	slog.Info("fare table loaded", "rules", table.Len())
	s.broadcast(WSMessage{Type: "fares_reloaded"})
	return nil
}

var errNothingChanged = errors.New("nothing changed")

// mutateFares applies fn to the fare table and saves the result, restoring
// the previous rules if fn or the save fails. Callers hold s.mu.
func (s *Service) mutateFares(ctx context.Context, fn func(*fare.Table) error) error {
	table := s.calc.Fares()
	before := table.Rules()

	if err := fn(table); err != nil {
		return err
	}
	if err := s.fares.SaveFares(ctx, table.Rules()); err != nil {
		table.Replace(before)
		slog.Error("fare table save failed", "err", err)
		return fmt.Errorf("%w: save fares: %v", ErrStorage, err)
	}
	metrics.FareRules.Set(float64(table.Len()))
	return nil
}

// --- Discount administration ---

// SetDiscount validates, saves and installs d. The running discount only
// changes once the save succeeds.
func (s *Service) SetDiscount(ctx context.Context, d fare.Discount) error {
	if d.Name == "" {
		return fmt.Errorf("%w: discount name is required", ErrInvalidRequest)
	}
	if err := d.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.discounts.SaveDiscount(ctx, &d); err != nil {
		slog.Error("discount save failed", "err", err)
		return fmt.Errorf("%w: save discount: %v", ErrStorage, err)
	}
	s.calc.SetDiscount(&d)

	slog.Info("discount set", "name", d.Name, "factor", d.Factor.String(), "enabled", d.Enabled)
	s.broadcast(WSMessage{Type: "discount_changed"})
	return nil
}

// ClearDiscount removes the discount from storage and from pricing.
func (s *Service) ClearDiscount(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.discounts.SaveDiscount(ctx, nil); err != nil {
		slog.Error("discount clear failed", "err", err)
		return fmt.Errorf("%w: clear discount: %v", ErrStorage, err)
	}
	s.calc.SetDiscount(nil)

	slog.Info("discount cleared")
	s.broadcast(WSMessage{Type: "discount_changed"})
	return nil
}

// LoadDiscount installs the stored discount, if any. With nothing stored
// the calculator keeps whatever discount it was built with.
func (s *Service) LoadDiscount(ctx context.Context) error {
	d, err := s.discounts.LoadDiscount(ctx)
	if err != nil {
		return fmt.Errorf("%w: load discount: %v", ErrStorage, err)
	}
	if d == nil {
		return nil
	}
	if err := d.Validate(); err != nil {
		return fmt.Errorf("%w: stored discount: %v", ErrStorage, err)
	}
	s.calc.SetDiscount(d)
	slog.Info("discount restored", "name", d.Name, "factor", d.Factor.String(), "enabled", d.Enabled)
	return nil
}

// --- helpers ---

func (s *Service) quoteAt(from, to string, now time.Time) (model.Quote, error) {
	start, err := s.registry.Resolve(from)
	if err != nil {
		return model.Quote{}, err
	}
	dest, err := s.registry.Resolve(to)
	if err != nil {
		return model.Quote{}, err
	}
	return s.calc.Quote(start, dest, now), nil
}

func (s *Service) clock() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now()
}

func (s *Service) broadcast(msg WSMessage) {
	if s.wsHub != nil {
		s.wsHub.Broadcast(msg)
	}
}

func outcomeFor(err error) string {
	switch {
	case errors.Is(err, settlement.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, registry.ErrUnknownStation):
		return "unknown_station"
	case errors.Is(err, currency.ErrOverflow),
		errors.Is(err, currency.ErrNegativeCount),
		errors.Is(err, settlement.ErrNegativeAmount):
		return "invalid"
	}
	return "error"
}
