package purchase

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/atmx/transit-fare/internal/currency"
	"github.com/atmx/transit-fare/internal/fare"
	"github.com/atmx/transit-fare/internal/geo"
	"github.com/atmx/transit-fare/internal/model"
	"github.com/atmx/transit-fare/internal/registry"
	"github.com/atmx/transit-fare/internal/settlement"
	"github.com/atmx/transit-fare/internal/store"
	"github.com/atmx/transit-fare/internal/ticket"
)

// CurrencyResponse is the JSON body returned from GET /currency.
type CurrencyResponse struct {
	Tiers []TierInfo `json:"tiers"`
}

// TierInfo describes one rung of the ladder.
type TierInfo struct {
	Tier  currency.Tier `json:"tier"`
	Rate  int64         `json:"rate"`  // lower-tier coins per coin; 1 for copper
	Value int64         `json:"value"` // base units per coin
}

// insufficientFundsResponse is the 402 body of a declined purchase.
type insufficientFundsResponse struct {
	Error       string           `json:"error"`
	Required    int64            `json:"required"`
	Available   int64            `json:"available"`
	Deficit     currency.Holding `json:"deficit"`
	DeficitText string           `json:"deficit_text"`
}

// --- Stations ---

// ListStations handles GET /api/v1/stations
func (s *Service) ListStations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.Stations())
}

// CreateStation handles POST /api/v1/stations
func (s *Service) CreateStation(w http.ResponseWriter, r *http.Request) {
	var st model.Station
	if err := json.NewDecoder(r.Body).Decode(&st); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.AddStation(r.Context(), st); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, st)
}

// GetStation handles GET /api/v1/stations/{name}
func (s *Service) GetStation(w http.ResponseWriter, r *http.Request) {
	st, err := s.registry.Resolve(chi.URLParam(r, "name"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// DeleteStation handles DELETE /api/v1/stations/{name}
func (s *Service) DeleteStation(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	removed, err := s.RemoveStation(r.Context(), name)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if !removed {
		writeError(w, "station not found: "+name, http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ReloadStationTable handles POST /api/v1/stations/reload
func (s *Service) ReloadStationTable(w http.ResponseWriter, r *http.Request) {
	if err := s.ReloadStations(r.Context()); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"stations": s.registry.Len()})
}

// --- Fares ---

// GetFare handles GET /api/v1/fare?from=A&to=B
func (s *Service) GetFare(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, to := q.Get("from"), q.Get("to")
	if from == "" || to == "" {
		writeError(w, "from and to are required", http.StatusBadRequest)
		return
	}
	quote, err := s.Quote(from, to)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

// BuyTicket handles POST /api/v1/purchase
func (s *Service) BuyTicket(w http.ResponseWriter, r *http.Request) {
	var req PurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	receipt, err := s.Purchase(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

// --- Tickets ---

// GetTicketByID handles GET /api/v1/tickets/{ticketID}
func (s *Service) GetTicketByID(w http.ResponseWriter, r *http.Request) {
	t, err := s.GetTicket(r.Context(), chi.URLParam(r, "ticketID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// ListRiderTickets handles GET /api/v1/riders/{riderID}/tickets
func (s *Service) ListRiderTickets(w http.ResponseWriter, r *http.Request) {
	tickets, err := s.RiderTickets(r.Context(), chi.URLParam(r, "riderID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if tickets == nil {
		tickets = []model.Ticket{}
	}
	writeJSON(w, http.StatusOK, tickets)
}

// EnterTicket handles POST /api/v1/tickets/{ticketID}/enter
func (s *Service) EnterTicket(w http.ResponseWriter, r *http.Request) {
	t, err := s.Enter(r.Context(), chi.URLParam(r, "ticketID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// CompleteTicket handles POST /api/v1/tickets/{ticketID}/complete
func (s *Service) CompleteTicket(w http.ResponseWriter, r *http.Request) {
	t, err := s.Complete(r.Context(), chi.URLParam(r, "ticketID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// RefundTicket handles POST /api/v1/tickets/{ticketID}/refund
func (s *Service) RefundTicket(w http.ResponseWriter, r *http.Request) {
	receipt, err := s.Refund(r.Context(), chi.URLParam(r, "ticketID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// --- Currency & discount ---

// GetCurrency handles GET /api/v1/currency
func (s *Service) GetCurrency(w http.ResponseWriter, r *http.Request) {
	ladder := s.engine.Ladder()
	resp := CurrencyResponse{Tiers: make([]TierInfo, 0, currency.NumTiers)}
	for _, t := range currency.Tiers {
		resp.Tiers = append(resp.Tiers, TierInfo{Tier: t, Rate: ladder.Rate(t), Value: ladder.Value(t)})
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetDiscount handles GET /api/v1/discount
func (s *Service) GetDiscount(w http.ResponseWriter, r *http.Request) {
	d := s.calc.Discount()
	if d == nil {
		writeError(w, "no discount configured", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// PutDiscount handles PUT /api/v1/discount
func (s *Service) PutDiscount(w http.ResponseWriter, r *http.Request) {
	var d fare.Discount
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.SetDiscount(r.Context(), d); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// DeleteDiscount handles DELETE /api/v1/discount
func (s *Service) DeleteDiscount(w http.ResponseWriter, r *http.Request) {
	if err := s.ClearDiscount(r.Context()); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Fare table ---

// ListFares handles GET /api/v1/fares
func (s *Service) ListFares(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Fares())
}

// PutFare handles PUT /api/v1/fares
func (s *Service) PutFare(w http.ResponseWriter, r *http.Request) {
	var req FareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.SetFare(r.Context(), req); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// DeleteFare handles DELETE /api/v1/fares?from=A&to=B&bidirectional=true
func (s *Service) DeleteFare(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, to := q.Get("from"), q.Get("to")
	if from == "" || to == "" {
		writeError(w, "from and to are required", http.StatusBadRequest)
		return
	}
	bidirectional, _ := strconv.ParseBool(q.Get("bidirectional"))

	removed, err := s.RemoveFare(r.Context(), from, to, bidirectional)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if !removed {
		writeError(w, "fare not found: "+from+" → "+to, http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ReloadFareTable handles POST /api/v1/fares/reload
func (s *Service) ReloadFareTable(w http.ResponseWriter, r *http.Request) {
	if err := s.LoadFares(r.Context()); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"fares": s.calc.Fares().Len()})
}

// --- helpers ---

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, registry.ErrUnknownStation),
		errors.Is(err, store.ErrTicketNotFound):
		return http.StatusNotFound
	case errors.Is(err, settlement.ErrInsufficientFunds):
		return http.StatusPaymentRequired
	case errors.Is(err, ticket.ErrIllegalTransition),
		errors.Is(err, ticket.ErrNotRefundable),
		errors.Is(err, store.ErrStatusConflict),
		errors.Is(err, store.ErrTicketExists):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, registry.ErrInvalidName),
		errors.Is(err, geo.ErrCoordinateOutOfRange),
		errors.Is(err, currency.ErrOverflow),
		errors.Is(err, currency.ErrNegativeCount),
		errors.Is(err, currency.ErrUnknownTier),
		errors.Is(err, settlement.ErrNegativeAmount),
		errors.Is(err, fare.ErrInvalidFare),
		errors.Is(err, fare.ErrInvalidDiscount):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeServiceError(w http.ResponseWriter, err error) {
	var funds *settlement.InsufficientFundsError
	if errors.As(err, &funds) {
		writeJSON(w, http.StatusPaymentRequired, insufficientFundsResponse{
			Error:       err.Error(),
			Required:    funds.Required,
			Available:   funds.Available,
			Deficit:     funds.Deficit,
			DeficitText: funds.Describe,
		})
		return
	}

	status := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "err", err)
	}
	writeError(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
