package fare

import (
	"errors"
	"math"
	"slices"
	"testing"
	"time"

	"github.com/atmx/transit-fare/internal/model"
)

func TestValidateRule(t *testing.T) {
	tests := []struct {
		name string
		rule model.FareRule
		ok   bool
	}{
		{"valid", model.FareRule{From: "A", To: "B", Price: 3}, true},
		{"missing from", model.FareRule{To: "B", Price: 3}, false},
		{"missing to", model.FareRule{From: "A", Price: 3}, false},
		{"same station", model.FareRule{From: "A", To: "A", Price: 3}, false},
		{"zero price", model.FareRule{From: "A", To: "B"}, false},
		{"negative price", model.FareRule{From: "A", To: "B", Price: -1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRule(tt.rule)
			if tt.ok && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalidFare) {
				t.Errorf("err = %v, want ErrInvalidFare", err)
			}
		})
	}
}

func TestTable_SetLookupRemove(t *testing.T) {
	tbl := NewTable()

	if err := tbl.Set(model.FareRule{From: "A", To: "B", Price: 7}, true); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := tbl.Set(model.FareRule{From: "B", To: "C", Price: 4}, false); err != nil {
		t.Fatalf("Set: %v", err)
	}

	if p, ok := tbl.Lookup("B", "A"); !ok || p != 7 {
		t.Errorf("Lookup(B, A) = %d, %v; want 7, true", p, ok)
	}
	if _, ok := tbl.Lookup("C", "B"); ok {
		t.Error("one-way rule must not create the reverse")
	}
	if tbl.Len() != 3 {
		t.Errorf("Len = %d, want 3", tbl.Len())
	}

	if !tbl.Remove("A", "B", false) {
		t.Error("Remove(A, B) should report a deletion")
	}
	if _, ok := tbl.Lookup("B", "A"); !ok {
		t.Error("one-way remove must keep the reverse rule")
	}
	if !tbl.Remove("B", "A", true) {
		t.Error("bidirectional remove should delete B → A")
	}
	if tbl.Remove("A", "B", true) {
		t.Error("removing an absent pair should report false")
	}
	if tbl.Len() != 1 {
		t.Errorf("Len = %d, want 1", tbl.Len())
	}
}

func TestTable_SetRejectsInvalid(t *testing.T) {
	tbl := NewTable()
	if err := tbl.Set(model.FareRule{From: "A", To: "B"}, true); !errors.Is(err, ErrInvalidFare) {
		t.Errorf("err = %v, want ErrInvalidFare", err)
	}
	if tbl.Len() != 0 {
		t.Error("invalid rule must not be stored")
	}
}

func TestTable_ReplaceIsAllOrNothing(t *testing.T) {
	tbl := NewTable()
	tbl.Set(model.FareRule{From: "A", To: "B", Price: 1}, false)

	err := tbl.Replace([]model.FareRule{
		{From: "X", To: "Y", Price: 2},
		{From: "Y", To: "Y", Price: 2},
	})
	if !errors.Is(err, ErrInvalidFare) {
		t.Fatalf("err = %v, want ErrInvalidFare", err)
	}
	if p, ok := tbl.Lookup("A", "B"); !ok || p != 1 {
		t.Error("failed Replace must leave the previous table")
	}

	if err := tbl.Replace([]model.FareRule{{From: "X", To: "Y", Price: 2}}); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if _, ok := tbl.Lookup("A", "B"); ok {
		t.Error("Replace should drop rules not in the new set")
	}
}

func TestTable_RulesSorted(t *testing.T) {
	tbl := NewTable()
	tbl.Set(model.FareRule{From: "B", To: "A", Price: 1}, false)
	tbl.Set(model.FareRule{From: "A", To: "C", Price: 2}, false)
	tbl.Set(model.FareRule{From: "A", To: "B", Price: 3}, false)

	got := tbl.Rules()
	want := []model.FareRule{
		{From: "A", To: "B", Price: 3},
		{From: "A", To: "C", Price: 2},
		{From: "B", To: "A", Price: 1},
	}
	if !slices.Equal(got, want) {
		t.Errorf("Rules = %v, want %v", got, want)
	}
}

func TestTable_CheapestRoute(t *testing.T) {
	tbl := NewTable()
	tbl.Set(model.FareRule{From: "A", To: "B", Price: 5}, true)
	tbl.Set(model.FareRule{From: "B", To: "C", Price: 5}, true)
	tbl.Set(model.FareRule{From: "A", To: "D", Price: 2}, true)
	tbl.Set(model.FareRule{From: "D", To: "C", Price: 3}, true)
	tbl.Set(model.FareRule{From: "C", To: "E", Price: 1}, false)

	tests := []struct {
		from, to string
		path     []string
		price    int64
		ok       bool
	}{
		{"A", "C", []string{"A", "D", "C"}, 5, true},
		{"A", "E", []string{"A", "D", "C", "E"}, 6, true},
		{"B", "D", []string{"B", "A", "D"}, 7, true},
		{"E", "A", nil, 0, false},
		{"A", "Z", nil, 0, false},
		{"A", "A", nil, 0, false},
	}
	for _, tt := range tests {
		path, price, ok := tbl.CheapestRoute(tt.from, tt.to)
		if ok != tt.ok || price != tt.price || !slices.Equal(path, tt.path) {
			t.Errorf("CheapestRoute(%s, %s) = %v, %d, %v; want %v, %d, %v",
				tt.from, tt.to, path, price, ok, tt.path, tt.price, tt.ok)
		}
	}
}

func TestTable_CheapestRouteSaturates(t *testing.T) {
	tbl := NewTable()
	tbl.Set(model.FareRule{From: "A", To: "B", Price: math.MaxInt64 - 1}, false)
	tbl.Set(model.FareRule{From: "B", To: "C", Price: 10}, false)

	_, price, ok := tbl.CheapestRoute("A", "C")
	if !ok || price != math.MaxInt64 {
		t.Errorf("price = %d, %v; want MaxInt64, true", price, ok)
	}
}

func TestCalculator_QuotePrefersFareTable(t *testing.T) {
	calc := NewCalculator(d("1"))
	a := model.Station{Name: "A"}
	b := model.Station{Name: "B", X: 30, Y: 40}
	c := model.Station{Name: "C", X: 60, Y: 80}
	now := time.Now()

	if q := calc.Quote(a, b, now); q.Source != SourceDistance || q.Price != 50 {
		t.Errorf("no rules: quote = %+v, want distance fare 50", q)
	}

	calc.Fares().Set(model.FareRule{From: "A", To: "B", Price: 12}, true)
	calc.Fares().Set(model.FareRule{From: "B", To: "C", Price: 8}, false)

	q := calc.Quote(b, a, now)
	if q.Source != SourceTable || q.BasePrice != 12 || q.Distance != 50 {
		t.Errorf("table quote = %+v, want fare_table 12 at distance 50", q)
	}

	q = calc.Quote(a, c, now)
	if q.Source != SourceRoute || q.BasePrice != 20 || !slices.Equal(q.Route, []string{"A", "B", "C"}) {
		t.Errorf("route quote = %+v, want route A-B-C at 20", q)
	}

	// No rule from C back, so the distance fare applies.
	if q := calc.Quote(c, a, now); q.Source != SourceDistance || q.BasePrice != 100 {
		t.Errorf("reverse quote = %+v, want distance fare 100", q)
	}
}

func TestCalculator_DiscountAppliesToTableFare(t *testing.T) {
	calc := NewCalculator(d("1"))
	now := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	calc.SetDiscount(&Discount{Name: "half", Factor: d("0.5"), Enabled: true})
	calc.Fares().Set(model.FareRule{From: "A", To: "B", Price: 9}, false)

	q := calc.Quote(model.Station{Name: "A"}, model.Station{Name: "B", X: 100}, now)
	if q.BasePrice != 9 || q.Price != 4 || q.Discount != "half" {
		t.Errorf("quote = %+v, want base 9, price 4", q)
	}
}
