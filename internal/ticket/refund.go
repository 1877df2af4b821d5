package ticket

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/transit-fare/internal/model"
)

// ErrInvalidSchedule is returned when refund steps are out of order or
// their rates fall outside [0, 1].
var ErrInvalidSchedule = errors.New("ticket: invalid refund schedule")

// RefundStep refunds Rate of the paid price when the ticket is returned
// within Within of issuance.
type RefundStep struct {
	Within time.Duration
	Rate   decimal.Decimal
}

// RefundSchedule is a list of steps ordered by increasing Within. A ticket
// older than the last step earns nothing back.
type RefundSchedule []RefundStep

// DefaultRefundSchedule is the shipped refund ladder.
func DefaultRefundSchedule() RefundSchedule {
	return RefundSchedule{
		{Within: 30 * time.Minute, Rate: decimal.NewFromInt(1)},
		{Within: time.Hour, Rate: decimal.RequireFromString("0.75")},
		{Within: 2 * time.Hour, Rate: decimal.RequireFromString("0.5")},
		{Within: 6 * time.Hour, Rate: decimal.RequireFromString("0.25")},
		{Within: 24 * time.Hour, Rate: decimal.RequireFromString("0.1")},
	}
}

// Validate checks ordering and rate bounds.
func (s RefundSchedule) Validate() error {
	one := decimal.NewFromInt(1)
	var prev time.Duration
	for i, step := range s {
		if step.Within <= prev {
			return fmt.Errorf("%w: step %d window %s not after %s", ErrInvalidSchedule, i, step.Within, prev)
		}
		if step.Rate.IsNegative() || step.Rate.GreaterThan(one) {
			return fmt.Errorf("%w: step %d rate %s", ErrInvalidSchedule, i, step.Rate)
		}
		prev = step.Within
	}
	return nil
}

// RateAt returns the refund rate for a ticket of the given age.
func (s RefundSchedule) RateAt(age time.Duration) decimal.Decimal {
	if age < 0 {
		age = 0
	}
	for _, step := range s {
		if age <= step.Within {
			return step.Rate
		}
	}
	return decimal.Zero
}

// Refund returns the base units to give back for t at time now:
// floor(PricePaid * rate). Only unused tickets are refundable.
func (s RefundSchedule) Refund(t *model.Ticket, now time.Time) (int64, error) {
	if t.Status != model.StatusUnused {
		return 0, fmt.Errorf("%w: ticket %s is %s", ErrNotRefundable, t.ID, t.Status)
	}
	rate := s.RateAt(now.Sub(t.IssuedAt))
	return decimal.NewFromInt(t.PricePaid).Mul(rate).Floor().IntPart(), nil
}
