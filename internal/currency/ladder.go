// Package currency implements the six-tier coin ladder: exchange rates,
// conversion to and from base units (copper), and rider holdings.
//
// All arithmetic is int64 and checked. Overflow is ErrOverflow, never a
// wrapped value.
package currency

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

const (
	// MinRate and MaxRate bound every adjacent exchange rate.
	MinRate int64 = 1
	MaxRate int64 = 1000
)

var (
	// ErrOverflow is returned when a conversion would exceed math.MaxInt64.
	ErrOverflow = errors.New("currency: amount overflows int64")

	// ErrNegativeCount is returned for negative coin counts or amounts.
	ErrNegativeCount = errors.New("currency: negative count")

	// ErrInvalidRate is returned when an exchange rate is outside [MinRate, MaxRate].
	ErrInvalidRate = errors.New("currency: exchange rate out of range")
)

// DefaultRates is ten of each tier per unit of the next, as shipped.
var DefaultRates = [NumTiers - 1]int64{10, 10, 10, 10, 10}

// Ladder is the immutable rate table. rates[i] is the number of tier i-1
// coins in one tier i coin; values[i] is the base-unit value of tier i.
type Ladder struct {
	rates  [NumTiers]int64
	values [NumTiers]int64
}

// NewLadder builds a ladder from the five adjacent rates, lowest pair first
// (copper→iron, iron→gold, gold→emerald, emerald→diamond, diamond→netherite).
func NewLadder(rates [NumTiers - 1]int64) (*Ladder, error) {
	l := &Ladder{}
	l.rates[Copper] = 1
	l.values[Copper] = 1

	for i, r := range rates {
		tier := Tier(i + 1)
		if r < MinRate || r > MaxRate {
			return nil, fmt.Errorf("%w: %s rate %d (allowed %d..%d)",
				ErrInvalidRate, tier, r, MinRate, MaxRate)
		}
		v, ok := mulChecked(l.values[tier-1], r)
		if !ok {
			return nil, fmt.Errorf("%w: cumulative value of %s", ErrOverflow, tier)
		}
		l.rates[tier] = r
		l.values[tier] = v
	}
	return l, nil
}

// Rate returns how many tier-1 coins one coin of t is worth (1 for copper).
func (l *Ladder) Rate(t Tier) int64 {
	return l.rates[t]
}

// Value returns the base-unit value of one coin of t.
func (l *Ladder) Value(t Tier) int64 {
	return l.values[t]
}

// ToBaseUnits converts count coins of tier t into base units.
func (l *Ladder) ToBaseUnits(t Tier, count int64) (int64, error) {
	if !t.Valid() {
		return 0, fmt.Errorf("%w: %d", ErrUnknownTier, int(t))
	}
	if count < 0 {
		return 0, fmt.Errorf("%w: %d %s", ErrNegativeCount, count, t)
	}
	v, ok := mulChecked(count, l.values[t])
	if !ok {
		return 0, fmt.Errorf("%w: %d %s", ErrOverflow, count, t)
	}
	return v, nil
}

// FromBaseUnits splits amount into whole coins of tier t and the leftover
// base units.
func (l *Ladder) FromBaseUnits(t Tier, amount int64) (whole, remainder int64) {
	v := l.values[t]
	return amount / v, amount % v
}

// Total returns the base-unit value of a holding.
func (l *Ladder) Total(h Holding) (int64, error) {
	var total int64
	for _, t := range Tiers {
		v, err := l.ToBaseUnits(t, h[t])
		if err != nil {
			return 0, err
		}
		sum, ok := addChecked(total, v)
		if !ok {
			return 0, fmt.Errorf("%w: holding total", ErrOverflow)
		}
		total = sum
	}
	return total, nil
}

// Decompose expresses amount in the fewest coins, highest tier first.
// No tier count in the result can be traded up for a coin of the next tier.
func (l *Ladder) Decompose(amount int64) Holding {
	var h Holding
	if amount <= 0 {
		return h
	}
	remaining := amount
	for i := NumTiers - 1; i >= 0; i-- {
		t := Tier(i)
		h[t], remaining = l.FromBaseUnits(t, remaining)
	}
	return h
}

// Describe renders a holding highest tier first, e.g. "1 gold + 5 iron".
// An empty holding renders as "0".
func (l *Ladder) Describe(h Holding) string {
	var parts []string
	for i := NumTiers - 1; i >= 0; i-- {
		t := Tier(i)
		if h[t] > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", h[t], t))
		}
	}
	if len(parts) == 0 {
		return "0"
	}
	return strings.Join(parts, " + ")
}

// mulChecked returns a*b for non-negative operands, reporting overflow.
func mulChecked(a, b int64) (int64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	if a > math.MaxInt64/b {
		return 0, false
	}
	return a * b, true
}

// addChecked returns a+b for non-negative operands, reporting overflow.
func addChecked(a, b int64) (int64, bool) {
	if a > math.MaxInt64-b {
		return 0, false
	}
	return a + b, true
}
