package currency

import (
	"errors"
	"fmt"
)

// Tier is one rank of the currency ladder, lowest value first.
type Tier int

const (
	Copper Tier = iota
	Iron
	Gold
	Emerald
	Diamond
	Netherite
)

// NumTiers is the number of denominations on the ladder.
const NumTiers = 6

// Tiers lists every tier from lowest to highest.
var Tiers = [NumTiers]Tier{Copper, Iron, Gold, Emerald, Diamond, Netherite}

// ErrUnknownTier is returned when a tier name or index is not on the ladder.
var ErrUnknownTier = errors.New("currency: unknown tier")

// String returns the lower-case tier name used on the wire.
func (t Tier) String() string {
	switch t {
	case Copper:
		return "copper"
	case Iron:
		return "iron"
	case Gold:
		return "gold"
	case Emerald:
		return "emerald"
	case Diamond:
		return "diamond"
	case Netherite:
		return "netherite"
	}
	return fmt.Sprintf("Tier(%d)", int(t))
}

// Valid reports whether t is one of the six tiers.
func (t Tier) Valid() bool {
	return t >= Copper && t <= Netherite
}

// ParseTier maps a tier name back to its Tier.
func ParseTier(name string) (Tier, error) {
	switch name {
	case "copper":
		return Copper, nil
	case "iron":
		return Iron, nil
	case "gold":
		return Gold, nil
	case "emerald":
		return Emerald, nil
	case "diamond":
		return Diamond, nil
	case "netherite":
		return Netherite, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownTier, name)
}

func (t Tier) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownTier, int(t))
	}
	return []byte(t.String()), nil
}

func (t *Tier) UnmarshalText(text []byte) error {
	parsed, err := ParseTier(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
