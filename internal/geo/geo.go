// Package geo holds the world envelope and the distance model between
// stations.
package geo

import (
	"errors"
	"fmt"
	"math"

	"github.com/atmx/transit-fare/internal/model"
)

const (
	// MaxHorizontal bounds |x| and |z|.
	MaxHorizontal int64 = 30_000_000

	// MaxVertical bounds |y|.
	MaxVertical int64 = 2_048

	// MaxDistance caps Distance so downstream fare math stays bounded.
	MaxDistance = 1_000_000.0
)

// ErrCoordinateOutOfRange is returned for coordinates outside the world.
var ErrCoordinateOutOfRange = errors.New("geo: coordinate outside world envelope")

// ValidateCoordinates rejects any axis outside the legal envelope.
func ValidateCoordinates(x, y, z int64) error {
	if x < -MaxHorizontal || x > MaxHorizontal {
		return fmt.Errorf("%w: x=%d (limit ±%d)", ErrCoordinateOutOfRange, x, MaxHorizontal)
	}
	if y < -MaxVertical || y > MaxVertical {
		return fmt.Errorf("%w: y=%d (limit ±%d)", ErrCoordinateOutOfRange, y, MaxVertical)
	}
	if z < -MaxHorizontal || z > MaxHorizontal {
		return fmt.Errorf("%w: z=%d (limit ±%d)", ErrCoordinateOutOfRange, z, MaxHorizontal)
	}
	return nil
}

// Distance returns the Euclidean distance between two stations, capped at
// MaxDistance. The same station, or two stations at the same point, is
// exactly 0.
//
// Deltas are taken in int64 (safe inside the envelope) and widened to
// float64 before squaring, so squares never wrap.
func Distance(a, b model.Station) float64 {
	if a.Name == b.Name {
		return 0
	}

	dx := float64(a.X - b.X)
	dy := float64(a.Y - b.Y)
	dz := float64(a.Z - b.Z)

	sq := dx*dx + dy*dy + dz*dz
	if sq == 0 {
		return 0
	}

	return math.Min(math.Sqrt(sq), MaxDistance)
}
