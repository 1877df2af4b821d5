package currency

import (
	"encoding/json"
	"fmt"
)

// Holding is a coin count per tier, indexed by Tier.
// On the wire it is an object keyed by tier name; zero tiers are omitted.
type Holding [NumTiers]int64

// HoldingOf builds a holding from tier/count pairs.
func HoldingOf(counts map[Tier]int64) Holding {
	var h Holding
	for t, n := range counts {
		if t.Valid() {
			h[t] = n
		}
	}
	return h
}

// IsZero reports whether every tier is empty.
func (h Holding) IsZero() bool {
	return h == Holding{}
}

// Validate rejects negative counts.
func (h Holding) Validate() error {
	for _, t := range Tiers {
		if h[t] < 0 {
			return fmt.Errorf("%w: %d %s", ErrNegativeCount, h[t], t)
		}
	}
	return nil
}

// Add returns h + other per tier.
func (h Holding) Add(other Holding) Holding {
	for _, t := range Tiers {
		h[t] += other[t]
	}
	return h
}

// Sub returns h - other per tier. Callers check availability first.
func (h Holding) Sub(other Holding) Holding {
	for _, t := range Tiers {
		h[t] -= other[t]
	}
	return h
}

// Covers reports whether h has at least other's count in every tier.
func (h Holding) Covers(other Holding) bool {
	for _, t := range Tiers {
		if h[t] < other[t] {
			return false
		}
	}
	return true
}

func (h Holding) MarshalJSON() ([]byte, error) {
	out := make(map[string]int64, NumTiers)
	for _, t := range Tiers {
		if h[t] != 0 {
			out[t.String()] = h[t]
		}
	}
	return json.Marshal(out)
}

func (h *Holding) UnmarshalJSON(data []byte) error {
	var raw map[string]int64
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("currency: decode holding: %w", err)
	}
	var parsed Holding
	for name, n := range raw {
		t, err := ParseTier(name)
		if err != nil {
			return err
		}
		parsed[t] = n
	}
	if err := parsed.Validate(); err != nil {
		return err
	}
	*h = parsed
	return nil
}
