package generic

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ANNUAL CLOSING - Frozen yearly totals
// =============================================================================

// AnnualClosing captures a year's totals at the moment an administrator
// closed it. Once saved it is never recomputed, even if fills or stays of
// that year change afterwards.
type AnnualClosing struct {
	Year            int
	CounterDelta    Reading
	FuelCost        decimal.Decimal
	LodgingCost     decimal.Decimal
	TotalCost       decimal.Decimal
	StayCount       int
	ConsumptionRate decimal.Decimal
	ClosedAt        time.Time
}
