// Package fare prices a trip between two stations: from a fixed fare table
// when the pair (or a chain of pairs) has rules, otherwise by distance.
//
// Distances are float64 from the geo model; the per-unit rate, discount
// factor and intermediate products are shopspring/decimal so that the
// ceiling is taken on the exact product, not a float approximation.
package fare

import (
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/transit-fare/internal/geo"
	"github.com/atmx/transit-fare/internal/model"
)

var maxFare = decimal.NewFromInt(math.MaxInt64)

// ComputeFare returns ceil(distance * ratePerUnit) clamped to
// [0, math.MaxInt64]. Ceiling guarantees partial units are never
// under-collected.
func ComputeFare(distance float64, ratePerUnit decimal.Decimal) int64 {
	if math.IsNaN(distance) || distance <= 0 || !ratePerUnit.IsPositive() {
		return 0
	}
	if math.IsInf(distance, 1) {
		return math.MaxInt64
	}

	price := decimal.NewFromFloat(distance).Mul(ratePerUnit).Ceil()
	if price.GreaterThanOrEqual(maxFare) {
		return math.MaxInt64
	}
	return price.IntPart()
}

// Calculator quotes fares at a fixed per-unit rate with an optional
// discount and fare table. The rate is read-only after construction; the
// discount can be swapped at runtime by an administrator.
type Calculator struct {
	rate  decimal.Decimal
	fares *Table

	mu       sync.RWMutex
	discount *Discount
}

// NewCalculator creates a calculator charging rate base units per block,
// with an empty fare table.
func NewCalculator(rate decimal.Decimal) *Calculator {
	return &Calculator{rate: rate, fares: NewTable()}
}

// Fares returns the calculator's fare table.
func (c *Calculator) Fares() *Table {
	return c.fares
}

// Rate returns the per-unit rate.
func (c *Calculator) Rate() decimal.Decimal {
	return c.rate
}

// SetDiscount installs d, replacing any previous discount. nil clears it.
func (c *Calculator) SetDiscount(d *Discount) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d == nil {
		c.discount = nil
		return
	}
	cp := *d
	c.discount = &cp
}

// Discount returns a copy of the configured discount, or nil.
func (c *Calculator) Discount() *Discount {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.discount == nil {
		return nil
	}
	cp := *c.discount
	return &cp
}

// Quote prices the trip from one station to another at time now. A direct
// table rule wins over a chained route, which wins over the distance fare.
func (c *Calculator) Quote(from, to model.Station, now time.Time) model.Quote {
	q := model.Quote{From: from.Name, To: to.Name, Source: SourceDistance}
	if from.Name == to.Name {
		return q
	}

	q.Distance = geo.Distance(from, to)
	if p, ok := c.fares.Lookup(from.Name, to.Name); ok {
		q.BasePrice, q.Source = p, SourceTable
	} else if path, p, ok := c.fares.CheapestRoute(from.Name, to.Name); ok {
		q.BasePrice, q.Source, q.Route = p, SourceRoute, path
	} else {
		q.BasePrice = ComputeFare(q.Distance, c.rate)
	}
	q.Price = q.BasePrice

	if d := c.Discount(); d != nil && d.Active(now) {
		q.Price = d.Apply(q.BasePrice)
		q.Discount = d.Name
	}
	return q
}
