// internal/event/liquidation.go
package event

import (
	"PerpClearing/internal/fixed"

	"github.com/google/uuid"
)

// PositionLiquidated is emitted once per liquidation. BadDebt is the part
// of the owed amount the margin could not cover; InsuranceCovered is the
// part of it drawn from the insurance fund, the rest is socialised.
type PositionLiquidated struct {
	Market           uuid.UUID   `json:"market"`
	Trader           uuid.UUID   `json:"trader"`
	Liquidator       uuid.UUID   `json:"liquidator"`
	Size             fixed.Quote `json:"size"`
	Margin           fixed.Quote `json:"margin"`
	IsLong           bool        `json:"is_long"`
	Price            fixed.Price `json:"price"`
	PnL              fixed.Quote `json:"pnl"`
	Fee              fixed.Quote `json:"fee"`
	FundingCharge    fixed.Quote `json:"funding_charge"`
	Seized           fixed.Quote `json:"seized"`
	BadDebt          fixed.Quote `json:"bad_debt"`
	InsuranceCovered fixed.Quote `json:"insurance_covered"`
	LiquidatorFee    fixed.Quote `json:"liquidator_fee"`
	Returned         fixed.Quote `json:"returned"`
}

func (e *PositionLiquidated) EventType() EventType { return EventTypePositionLiquidated }
