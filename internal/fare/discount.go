package fare

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ErrInvalidDiscount is returned for factors outside [0, 1] or an end
// before the start.
var ErrInvalidDiscount = errors.New("fare: invalid discount")

// Discount is a global promotion multiplying every fare by Factor while it
// is enabled and inside its window. A zero EndsAt means no end.
type Discount struct {
	Name     string          `json:"name"`
	Factor   decimal.Decimal `json:"factor"`
	Enabled  bool            `json:"enabled"`
	StartsAt time.Time       `json:"starts_at"`
	EndsAt   time.Time       `json:"ends_at"`
}

// Validate checks the factor range and window ordering.
func (d *Discount) Validate() error {
	if d.Factor.IsNegative() || d.Factor.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("%w: factor %s must be between 0 and 1", ErrInvalidDiscount, d.Factor)
	}
	if !d.EndsAt.IsZero() && d.EndsAt.Before(d.StartsAt) {
		return fmt.Errorf("%w: ends_at is before starts_at", ErrInvalidDiscount)
	}
	return nil
}

// Active reports whether the discount applies at t.
func (d *Discount) Active(t time.Time) bool {
	if !d.Enabled {
		return false
	}
	if t.Before(d.StartsAt) {
		return false
	}
	return d.EndsAt.IsZero() || !t.After(d.EndsAt)
}

// Apply returns floor(price * Factor). A factor of 1 or more leaves the
// price unchanged.
func (d *Discount) Apply(price int64) int64 {
	if d.Factor.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return price
	}
	if !d.Factor.IsPositive() {
		return 0
	}
	return decimal.NewFromInt(price).Mul(d.Factor).Floor().IntPart()
}
