// Package settlement turns a fare in base units into a concrete coin payment
// against a rider's holding, returning the coins spent and the change owed.
//
// Settlement is all-or-nothing and never mutates the holding it is given.
// Committing the result (debit spent, credit change) is the caller's job.
package settlement

import (
	"errors"
	"fmt"

	"github.com/atmx/transit-fare/internal/currency"
)

var (
	// ErrInsufficientFunds is matched by *InsufficientFundsError.
	ErrInsufficientFunds = errors.New("settlement: insufficient funds")

	// ErrNegativeAmount is returned when the required amount is below zero.
	ErrNegativeAmount = errors.New("settlement: required amount is negative")
)

// InsufficientFundsError reports how far a holding falls short.
type InsufficientFundsError struct {
	Required  int64
	Available int64
	Deficit   currency.Holding // canonical form of Required-Available
	Describe  string           // e.g. "2 iron + 3 copper"
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("settlement: insufficient funds: need %d, have %d (short %s)",
		e.Required, e.Available, e.Describe)
}

func (e *InsufficientFundsError) Is(target error) bool {
	return target == ErrInsufficientFunds
}

// Result is a settled payment. Spent and Change never share a tier.
type Result struct {
	Spent  currency.Holding `json:"spent"`
	Change currency.Holding `json:"change"`
}

// Apply returns the holding after debiting Spent and crediting Change.
func (r Result) Apply(h currency.Holding) currency.Holding {
	return h.Sub(r.Spent).Add(r.Change)
}

// Engine settles payments on one ladder.
type Engine struct {
	ladder *currency.Ladder
}

// NewEngine creates a settlement engine for the given ladder.
func NewEngine(ladder *currency.Ladder) *Engine {
	return &Engine{ladder: ladder}
}

// Ladder returns the engine's rate table.
func (e *Engine) Ladder() *currency.Ladder {
	return e.ladder
}

// Settle pays required base units out of h.
//
// Tiers are walked highest first. Each tier contributes as many whole coins
// as fit in the amount still owed. When the remainder can no longer be
// covered by the coins held in lower tiers, one extra coin of the current
// tier is spent and the overshoot comes back as canonical change. So lower
// tiers pay exactly whenever they can, and change is only ever made in
// tiers below the one that overshot.
func (e *Engine) Settle(required int64, h currency.Holding) (Result, error) {
	if required < 0 {
		return Result{}, fmt.Errorf("%w: %d", ErrNegativeAmount, required)
	}
	if err := h.Validate(); err != nil {
		return Result{}, err
	}
	if required == 0 {
		return Result{}, nil
	}

	// below[i] is the base-unit value of every coin in tiers strictly
	// below i. below[NumTiers] is the whole holding.
	var below [currency.NumTiers + 1]int64
	for i, t := range currency.Tiers {
		v, err := e.ladder.ToBaseUnits(t, h[t])
		if err != nil {
			return Result{}, err
		}
		below[i+1] = below[i] + v
		if below[i+1] < below[i] {
			return Result{}, fmt.Errorf("%w: holding total", currency.ErrOverflow)
		}
	}

	available := below[currency.NumTiers]
	if available < required {
		deficit := e.ladder.Decompose(required - available)
		return Result{}, &InsufficientFundsError{
			Required:  required,
			Available: available,
			Deficit:   deficit,
			Describe:  e.ladder.Describe(deficit),
		}
	}

	var res Result
	owed := required
	for i := currency.NumTiers - 1; i >= 0 && owed > 0; i-- {
		t := currency.Tier(i)
		value := e.ladder.Value(t)

		n := owed / value
		if n > h[t] {
			n = h[t]
		}
		res.Spent[t] = n
		owed -= n * value

		if owed == 0 || below[i] >= owed {
			continue
		}

		// Lower tiers cannot cover the rest, so this tier still has a coin
		// to spare: had every coin been taken, the remainder would fit in
		// below[i] because the holding covers the fare.
		res.Spent[t]++
		res.Change = e.ladder.Decompose(value - owed)
		owed = 0
	}

	return res, nil
}
