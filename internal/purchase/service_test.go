package purchase_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/atmx/transit-fare/internal/currency"
	"github.com/atmx/transit-fare/internal/fare"
	"github.com/atmx/transit-fare/internal/model"
	"github.com/atmx/transit-fare/internal/purchase"
	"github.com/atmx/transit-fare/internal/registry"
	"github.com/atmx/transit-fare/internal/settlement"
	"github.com/atmx/transit-fare/internal/store"
	"github.com/atmx/transit-fare/internal/ticket"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type testEnv struct {
	svc    *purchase.Service
	ms     *store.MemoryStore
	reg    *registry.Registry
	calc   *fare.Calculator
	router chi.Router
	now    time.Time
}

// newTestEnv creates a Service over in-memory stores, a 1-per-block fare,
// the default ladder, and a chi router with every route mounted.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ms := store.NewMemoryStore()
	return newTestEnvWith(t, ms, purchase.Stores{Tickets: ms, Fares: ms, Discounts: ms}, nil)
}

func newTestEnvWith(t *testing.T, ms *store.MemoryStore, stores purchase.Stores, hub *purchase.WSHub) *testEnv {
	t.Helper()
	ctx := context.Background()

	reg, err := registry.Open(ctx, ms)
	if err != nil {
		t.Fatalf("registry.Open: %v", err)
	}
	ladder, err := currency.NewLadder(currency.DefaultRates)
	if err != nil {
		t.Fatalf("NewLadder: %v", err)
	}
	calc := fare.NewCalculator(d("1"))
	svc := purchase.NewService(reg, calc, settlement.NewEngine(ladder), ticket.DefaultRefundSchedule(), stores, hub)

	env := &testEnv{
		svc:  svc,
		ms:   ms,
		reg:  reg,
		calc: calc,
		now:  time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	svc.SetClock(func() time.Time { return env.now })

	r := chi.NewRouter()
	r.Get("/api/v1/stations", svc.ListStations)
	r.Post("/api/v1/stations", svc.CreateStation)
	r.Post("/api/v1/stations/reload", svc.ReloadStationTable)
	r.Get("/api/v1/stations/{name}", svc.GetStation)
	r.Delete("/api/v1/stations/{name}", svc.DeleteStation)
	r.Get("/api/v1/fare", svc.GetFare)
	r.Post("/api/v1/purchase", svc.BuyTicket)
	r.Get("/api/v1/tickets/{ticketID}", svc.GetTicketByID)
	r.Post("/api/v1/tickets/{ticketID}/enter", svc.EnterTicket)
	r.Post("/api/v1/tickets/{ticketID}/complete", svc.CompleteTicket)
	r.Post("/api/v1/tickets/{ticketID}/refund", svc.RefundTicket)
	r.Get("/api/v1/riders/{riderID}/tickets", svc.ListRiderTickets)
	r.Get("/api/v1/currency", svc.GetCurrency)
	r.Get("/api/v1/discount", svc.GetDiscount)
	r.Put("/api/v1/discount", svc.PutDiscount)
	r.Delete("/api/v1/discount", svc.DeleteDiscount)
	r.Get("/api/v1/fares", svc.ListFares)
	r.Put("/api/v1/fares", svc.PutFare)
	r.Delete("/api/v1/fares", svc.DeleteFare)
	r.Post("/api/v1/fares/reload", svc.ReloadFareTable)
	env.router = r

	return env
}

// seedLine registers A(0,0,0) and B(30,40,0), 50 blocks apart.
func seedLine(t *testing.T, env *testEnv) {
	t.Helper()
	ctx := context.Background()
	if err := env.reg.Add(ctx, "A", 0, 0, 0); err != nil {
		t.Fatalf("seed A: %v", err)
	}
	if err := env.reg.Add(ctx, "B", 30, 40, 0); err != nil {
		t.Fatalf("seed B: %v", err)
	}
}

func doJSON(t *testing.T, router chi.Router, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func holding(counts map[currency.Tier]int64) currency.Holding {
	return currency.HoldingOf(counts)
}

func buy(t *testing.T, env *testEnv, h currency.Holding) *purchase.Receipt {
	t.Helper()
	w := doJSON(t, env.router, "POST", "/api/v1/purchase", purchase.PurchaseRequest{
		RiderID: "steve", From: "A", To: "B", Holding: h,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var receipt purchase.Receipt
	if err := json.Unmarshal(w.Body.Bytes(), &receipt); err != nil {
		t.Fatalf("decode receipt: %v", err)
	}
	return &receipt
}

// --- Purchase ---

func TestPurchase_OneGoldForFifty(t *testing.T) {
	env := newTestEnv(t)
	seedLine(t, env)

	receipt := buy(t, env, holding(map[currency.Tier]int64{currency.Gold: 1}))

	if receipt.Ticket.ID == "" {
		t.Error("expected non-empty ticket id")
	}
	if receipt.Ticket.PricePaid != 50 || receipt.Ticket.BasePrice != 50 {
		t.Errorf("price = %d/%d, want 50/50", receipt.Ticket.BasePrice, receipt.Ticket.PricePaid)
	}
	if receipt.Ticket.Status != model.StatusUnused {
		t.Errorf("status = %s, want UNUSED", receipt.Ticket.Status)
	}
	if receipt.Spent != holding(map[currency.Tier]int64{currency.Gold: 1}) {
		t.Errorf("spent = %v, want 1 gold", receipt.Spent)
	}
	if receipt.Change != holding(map[currency.Tier]int64{currency.Iron: 5}) {
		t.Errorf("change = %v, want 5 iron", receipt.Change)
	}
	if receipt.Remaining != holding(map[currency.Tier]int64{currency.Iron: 5}) {
		t.Errorf("remaining = %v, want 5 iron", receipt.Remaining)
	}

	stored, err := env.ms.GetTicket(context.Background(), receipt.Ticket.ID)
	if err != nil {
		t.Fatalf("ticket not stored: %v", err)
	}
	if stored.RiderID != "steve" || stored.Start != "A" || stored.Destination != "B" {
		t.Errorf("stored ticket = %+v", stored)
	}
}

func TestPurchase_InsufficientFunds(t *testing.T) {
	env := newTestEnv(t)
	seedLine(t, env)

	w := doJSON(t, env.router, "POST", "/api/v1/purchase", purchase.PurchaseRequest{
		RiderID: "steve", From: "A", To: "B",
		Holding: holding(map[currency.Tier]int64{currency.Iron: 1}),
	})
	if w.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Required    int64            `json:"required"`
		Available   int64            `json:"available"`
		Deficit     currency.Holding `json:"deficit"`
		DeficitText string           `json:"deficit_text"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Required != 50 || resp.Available != 10 {
		t.Errorf("required/available = %d/%d", resp.Required, resp.Available)
	}
	if resp.Deficit != holding(map[currency.Tier]int64{currency.Iron: 4}) || resp.DeficitText != "4 iron" {
		t.Errorf("deficit = %v %q, want 4 iron", resp.Deficit, resp.DeficitText)
	}

	tickets, _ := env.ms.ListTicketsByRider(context.Background(), "steve")
	if len(tickets) != 0 {
		t.Errorf("failed purchase must not issue a ticket, got %d", len(tickets))
	}
}

func TestPurchase_UnknownStation(t *testing.T) {
	env := newTestEnv(t)
	seedLine(t, env)

	w := doJSON(t, env.router, "POST", "/api/v1/purchase", purchase.PurchaseRequest{
		RiderID: "steve", From: "A", To: "Nowhere",
		Holding: holding(map[currency.Tier]int64{currency.Gold: 1}),
	})
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d: %s", w.Code, w.Body.String())
	}
}

func TestPurchase_Validation(t *testing.T) {
	env := newTestEnv(t)
	seedLine(t, env)

	tests := []struct {
		name string
		body string
	}{
		{"missing rider", `{"from":"A","to":"B","holding":{"gold":1}}`},
		{"unknown tier", `{"rider_id":"steve","from":"A","to":"B","holding":{"bronze":1}}`},
		{"negative count", `{"rider_id":"steve","from":"A","to":"B","holding":{"gold":-1}}`},
		{"malformed json", `{"rider_id":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/api/v1/purchase", bytes.NewBufferString(tt.body))
			w := httptest.NewRecorder()
			env.router.ServeHTTP(w, req)
			if w.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d: %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestPurchase_SameStationIsFree(t *testing.T) {
	env := newTestEnv(t)
	seedLine(t, env)

	receipt, err := env.svc.Purchase(context.Background(), purchase.PurchaseRequest{
		RiderID: "steve", From: "A", To: "A",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if receipt.Ticket.PricePaid != 0 || !receipt.Spent.IsZero() || !receipt.Change.IsZero() {
		t.Errorf("receipt = %+v, want free trip", receipt)
	}
}

func TestPurchase_WithDiscount(t *testing.T) {
	env := newTestEnv(t)
	seedLine(t, env)

	w := doJSON(t, env.router, "PUT", "/api/v1/discount", fare.Discount{
		Name: "summer", Factor: d("0.5"), Enabled: true, StartsAt: env.now.Add(-time.Hour),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("set discount: %d %s", w.Code, w.Body.String())
	}

	receipt := buy(t, env, holding(map[currency.Tier]int64{currency.Iron: 5}))
	if receipt.Ticket.BasePrice != 50 || receipt.Ticket.PricePaid != 25 {
		t.Errorf("base/paid = %d/%d, want 50/25", receipt.Ticket.BasePrice, receipt.Ticket.PricePaid)
	}
	if receipt.Spent != holding(map[currency.Tier]int64{currency.Iron: 3}) {
		t.Errorf("spent = %v, want 3 iron", receipt.Spent)
	}
	if receipt.Change != holding(map[currency.Tier]int64{currency.Copper: 5}) {
		t.Errorf("change = %v, want 5 copper", receipt.Change)
	}

	w = doJSON(t, env.router, "DELETE", "/api/v1/discount", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("clear discount: %d", w.Code)
	}
	if w := doJSON(t, env.router, "GET", "/api/v1/discount", nil); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 after clearing, got %d", w.Code)
	}
}

func TestPutDiscount_Invalid(t *testing.T) {
	env := newTestEnv(t)
	w := doJSON(t, env.router, "PUT", "/api/v1/discount", fare.Discount{Name: "bad", Factor: d("2")})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
	if env.calc.Discount() != nil {
		t.Error("invalid discount must not be installed")
	}
}

// --- Ticket lifecycle ---

func TestTicketLifecycle(t *testing.T) {
	env := newTestEnv(t)
	seedLine(t, env)
	receipt := buy(t, env, holding(map[currency.Tier]int64{currency.Gold: 1}))
	id := receipt.Ticket.ID

	// Cannot complete before entering.
	if w := doJSON(t, env.router, "POST", "/api/v1/tickets/"+id+"/complete", nil); w.Code != http.StatusConflict {
		t.Errorf("complete before enter: expected 409, got %d", w.Code)
	}

	w := doJSON(t, env.router, "POST", "/api/v1/tickets/"+id+"/enter", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("enter: %d %s", w.Code, w.Body.String())
	}
	var tk model.Ticket
	json.Unmarshal(w.Body.Bytes(), &tk)
	if tk.Status != model.StatusInUse {
		t.Errorf("status = %s, want IN_USE", tk.Status)
	}

	// Entering twice is illegal.
	if w := doJSON(t, env.router, "POST", "/api/v1/tickets/"+id+"/enter", nil); w.Code != http.StatusConflict {
		t.Errorf("second enter: expected 409, got %d", w.Code)
	}

	if w := doJSON(t, env.router, "POST", "/api/v1/tickets/"+id+"/complete", nil); w.Code != http.StatusOK {
		t.Fatalf("complete: %d %s", w.Code, w.Body.String())
	}

	w = doJSON(t, env.router, "GET", "/api/v1/tickets/"+id, nil)
	json.Unmarshal(w.Body.Bytes(), &tk)
	if tk.Status != model.StatusCompleted {
		t.Errorf("status = %s, want COMPLETED", tk.Status)
	}
	if tk.BasePrice != 50 {
		t.Errorf("base price changed to %d", tk.BasePrice)
	}

	// Completed tickets cannot be refunded.
	if w := doJSON(t, env.router, "POST", "/api/v1/tickets/"+id+"/refund", nil); w.Code != http.StatusConflict {
		t.Errorf("refund completed: expected 409, got %d", w.Code)
	}
}

func TestTicket_NotFound(t *testing.T) {
	env := newTestEnv(t)
	for _, path := range []string{"/api/v1/tickets/missing/enter", "/api/v1/tickets/missing/refund"} {
		if w := doJSON(t, env.router, "POST", path, nil); w.Code != http.StatusNotFound {
			t.Errorf("%s: expected 404, got %d", path, w.Code)
		}
	}
	if w := doJSON(t, env.router, "GET", "/api/v1/tickets/missing", nil); w.Code != http.StatusNotFound {
		t.Errorf("get: expected 404, got %d", w.Code)
	}
}

func TestRefund_ScheduleAndConsumption(t *testing.T) {
	env := newTestEnv(t)
	seedLine(t, env)
	receipt := buy(t, env, holding(map[currency.Tier]int64{currency.Gold: 1}))
	id := receipt.Ticket.ID

	env.now = env.now.Add(45 * time.Minute)

	w := doJSON(t, env.router, "POST", "/api/v1/tickets/"+id+"/refund", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("refund: %d %s", w.Code, w.Body.String())
	}
	var refund purchase.RefundReceipt
	json.Unmarshal(w.Body.Bytes(), &refund)

	// 50 * 0.75 = 37.5 → 37
	if refund.Amount != 37 {
		t.Errorf("refund = %d, want 37", refund.Amount)
	}
	if refund.Coins != holding(map[currency.Tier]int64{currency.Iron: 3, currency.Copper: 7}) {
		t.Errorf("coins = %v, want 3 iron + 7 copper", refund.Coins)
	}

	if _, err := env.ms.GetTicket(context.Background(), id); !errors.Is(err, store.ErrTicketNotFound) {
		t.Errorf("refunded ticket should be consumed, got %v", err)
	}
}

func TestListRiderTickets(t *testing.T) {
	env := newTestEnv(t)
	seedLine(t, env)

	w := doJSON(t, env.router, "GET", "/api/v1/riders/steve/tickets", nil)
	if w.Code != http.StatusOK || w.Body.String() != "[]\n" {
		t.Errorf("empty list = %d %q", w.Code, w.Body.String())
	}

	buy(t, env, holding(map[currency.Tier]int64{currency.Gold: 1}))
	env.now = env.now.Add(time.Minute)
	buy(t, env, holding(map[currency.Tier]int64{currency.Iron: 5}))

	w = doJSON(t, env.router, "GET", "/api/v1/riders/steve/tickets", nil)
	var tickets []model.Ticket
	json.Unmarshal(w.Body.Bytes(), &tickets)
	if len(tickets) != 2 {
		t.Fatalf("tickets = %d, want 2", len(tickets))
	}
	if !tickets[0].IssuedAt.Before(tickets[1].IssuedAt) {
		t.Error("tickets should be oldest first")
	}
}

// --- Stations ---

func TestStations_CRUD(t *testing.T) {
	env := newTestEnv(t)

	w := doJSON(t, env.router, "POST", "/api/v1/stations", model.Station{Name: "Central", Y: 64})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", w.Code, w.Body.String())
	}

	w = doJSON(t, env.router, "GET", "/api/v1/stations/Central", nil)
	var st model.Station
	json.Unmarshal(w.Body.Bytes(), &st)
	if w.Code != http.StatusOK || st.Y != 64 {
		t.Errorf("get = %d %+v", w.Code, st)
	}

	w = doJSON(t, env.router, "GET", "/api/v1/stations", nil)
	var all []model.Station
	json.Unmarshal(w.Body.Bytes(), &all)
	if len(all) != 1 {
		t.Errorf("list = %+v", all)
	}

	if w := doJSON(t, env.router, "DELETE", "/api/v1/stations/Central", nil); w.Code != http.StatusNoContent {
		t.Errorf("delete: expected 204, got %d", w.Code)
	}
	saves := env.ms.Saves()
	if w := doJSON(t, env.router, "DELETE", "/api/v1/stations/Central", nil); w.Code != http.StatusNotFound {
		t.Errorf("second delete: expected 404, got %d", w.Code)
	}
	if env.ms.Saves() != saves {
		t.Error("deleting a missing station must not write the table")
	}
	if w := doJSON(t, env.router, "GET", "/api/v1/stations/Central", nil); w.Code != http.StatusNotFound {
		t.Errorf("get after delete: expected 404, got %d", w.Code)
	}
}

func TestStations_RejectsInvalid(t *testing.T) {
	env := newTestEnv(t)
	tests := []model.Station{
		{Name: "", X: 0},
		{Name: "Sky", Y: 5000},
		{Name: "Far", X: 40_000_000},
	}
	for _, st := range tests {
		if w := doJSON(t, env.router, "POST", "/api/v1/stations", st); w.Code != http.StatusBadRequest {
			t.Errorf("%+v: expected 400, got %d", st, w.Code)
		}
	}
	if env.reg.Len() != 0 {
		t.Errorf("registry should be empty, has %d", env.reg.Len())
	}
}

func TestStations_Reload(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.ms.SaveStations(ctx, []model.Station{{Name: "X"}, {Name: "Y", X: 3, Z: 4}})

	w := doJSON(t, env.router, "POST", "/api/v1/stations/reload", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("reload: %d %s", w.Code, w.Body.String())
	}
	if env.reg.Len() != 2 {
		t.Errorf("Len = %d, want 2", env.reg.Len())
	}

	w = doJSON(t, env.router, "GET", "/api/v1/fare?from=X&to=Y", nil)
	var q model.Quote
	json.Unmarshal(w.Body.Bytes(), &q)
	if q.Distance != 5 || q.Price != 5 {
		t.Errorf("quote = %+v, want 5", q)
	}
}

// --- Fare & currency ---

func TestGetFare(t *testing.T) {
	env := newTestEnv(t)
	seedLine(t, env)

	w := doJSON(t, env.router, "GET", "/api/v1/fare?from=A&to=B", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("fare: %d %s", w.Code, w.Body.String())
	}
	var q model.Quote
	json.Unmarshal(w.Body.Bytes(), &q)
	if q.Distance != 50 || q.BasePrice != 50 || q.Price != 50 {
		t.Errorf("quote = %+v", q)
	}

	if w := doJSON(t, env.router, "GET", "/api/v1/fare?from=A", nil); w.Code != http.StatusBadRequest {
		t.Errorf("missing to: expected 400, got %d", w.Code)
	}
	if w := doJSON(t, env.router, "GET", "/api/v1/fare?from=A&to=Z", nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown station: expected 404, got %d", w.Code)
	}
}

func TestGetCurrency(t *testing.T) {
	env := newTestEnv(t)
	w := doJSON(t, env.router, "GET", "/api/v1/currency", nil)

	var resp purchase.CurrencyResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Tiers) != currency.NumTiers {
		t.Fatalf("tiers = %d, want %d", len(resp.Tiers), currency.NumTiers)
	}
	last := resp.Tiers[currency.NumTiers-1]
	if last.Tier != currency.Netherite || last.Value != 100_000 || last.Rate != 10 {
		t.Errorf("netherite = %+v", last)
	}
}

// --- Rate limiting ---

func TestRateLimit(t *testing.T) {
	limiter := rate.NewLimiter(rate.Every(time.Hour), 2)
	h := purchase.RateLimit(limiter)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest("POST", "/api/v1/purchase", nil))
		codes = append(codes, w.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Errorf("codes = %v, want [200 200 429]", codes)
	}
}
