package generic

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// COUNTER RANGE - The core concept for cost allocation
// =============================================================================

// CounterRange is a closed burner-hour interval [Start, End] on one meter.
// Fuel cost is ALWAYS computed for a range, never for a single reading.
type CounterRange struct {
	Start Reading
	End   Reading
}

// Len returns the burner-hours covered by the range.
func (r CounterRange) Len() Reading { return r.End - r.Start }

func (r CounterRange) Hours() decimal.Decimal { return r.Len().Decimal() }

// Valid reports End >= Start.
func (r CounterRange) Valid() bool { return r.End >= r.Start }

// Contains returns true if v is within [Start, End].
func (r CounterRange) Contains(v Reading) bool {
	return v >= r.Start && v <= r.End
}

// ContainsStrict returns true if v is within (Start, End).
func (r CounterRange) ContainsStrict(v Reading) bool {
	return v > r.Start && v < r.End
}

// Overlaps is the symmetric interval-overlap predicate:
// a.End > b.Start && a.Start < b.End. Touching ranges do not overlap.
func (r CounterRange) Overlaps(other CounterRange) bool {
	return r.End > other.Start && r.Start < other.End
}

func (r CounterRange) String() string {
	return fmt.Sprintf("[%d, %d]", r.Start, r.End)
}
