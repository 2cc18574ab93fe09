// internal/event/trade.go
package event

import (
	"PerpClearing/internal/fixed"

	"github.com/google/uuid"
)

type PositionOpened struct {
	Market     uuid.UUID   `json:"market"`
	Trader     uuid.UUID   `json:"trader"`
	Size       fixed.Quote `json:"size"`
	Margin     fixed.Quote `json:"margin"`
	IsLong     bool        `json:"is_long"`
	EntryPrice fixed.Price `json:"entry_price"`
	Fee        fixed.Quote `json:"fee"`
}

func (e *PositionOpened) EventType() EventType { return EventTypePositionOpened }

// PositionClosed carries the signed net settlement: pnl − fee − funding.
type PositionClosed struct {
	Market        uuid.UUID   `json:"market"`
	Trader        uuid.UUID   `json:"trader"`
	Size          fixed.Quote `json:"size"`
	Margin        fixed.Quote `json:"margin"`
	IsLong        bool        `json:"is_long"`
	ExitPrice     fixed.Price `json:"exit_price"`
	PnL           fixed.Quote `json:"pnl"`
	Fee           fixed.Quote `json:"fee"`
	FundingCharge fixed.Quote `json:"funding_charge"`
	NetDelta      fixed.Quote `json:"net_delta"`
}

func (e *PositionClosed) EventType() EventType { return EventTypePositionClosed }

type MarketPaused struct {
	Market uuid.UUID `json:"market"`
	By     uuid.UUID `json:"by"`
}

func (e *MarketPaused) EventType() EventType { return EventTypeMarketPaused }

type MarketResumed struct {
	Market uuid.UUID `json:"market"`
	By     uuid.UUID `json:"by"`
}

func (e *MarketResumed) EventType() EventType { return EventTypeMarketResumed }
