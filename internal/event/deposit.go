// internal/event/deposit.go
package event

import (
	"PerpClearing/internal/fixed"

	"github.com/google/uuid"
)

type CollateralDeposited struct {
	User   uuid.UUID   `json:"user"`
	Amount fixed.Quote `json:"amount"`
}

func (e *CollateralDeposited) EventType() EventType { return EventTypeCollateralDeposited }

type CollateralWithdrawn struct {
	User   uuid.UUID   `json:"user"`
	Amount fixed.Quote `json:"amount"`
}

func (e *CollateralWithdrawn) EventType() EventType { return EventTypeCollateralWithdrawn }

type CollateralLocked struct {
	Market uuid.UUID   `json:"market"`
	User   uuid.UUID   `json:"user"`
	Amount fixed.Quote `json:"amount"`
}

func (e *CollateralLocked) EventType() EventType { return EventTypeCollateralLocked }

type CollateralReleased struct {
	Market uuid.UUID   `json:"market"`
	User   uuid.UUID   `json:"user"`
	Amount fixed.Quote `json:"amount"`
}

func (e *CollateralReleased) EventType() EventType { return EventTypeCollateralReleased }

// CollateralSeized records tokens leaving ledger custody on a market's
// instruction. FromFree is set for the open-position trading fee.
type CollateralSeized struct {
	Market    uuid.UUID   `json:"market"`
	User      uuid.UUID   `json:"user"`
	Amount    fixed.Quote `json:"amount"`
	Recipient uuid.UUID   `json:"recipient"`
	FromFree  bool        `json:"from_free,omitempty"`
}

func (e *CollateralSeized) EventType() EventType { return EventTypeCollateralSeized }

type CollateralCredited struct {
	Market uuid.UUID   `json:"market"`
	User   uuid.UUID   `json:"user"`
	Amount fixed.Quote `json:"amount"`
}

func (e *CollateralCredited) EventType() EventType { return EventTypeCollateralCredited }

type CollateralTransferred struct {
	Market uuid.UUID   `json:"market"`
	From   uuid.UUID   `json:"from"`
	To     uuid.UUID   `json:"to"`
	Amount fixed.Quote `json:"amount"`
}

func (e *CollateralTransferred) EventType() EventType { return EventTypeCollateralTransferred }

// MarketAuthorized is emitted by both the collateral ledger and the pool;
// Registry names which one.
type MarketAuthorized struct {
	Registry string    `json:"registry"`
	Market   uuid.UUID `json:"market"`
}

func (e *MarketAuthorized) EventType() EventType { return EventTypeMarketAuthorized }

type MarketDeauthorized struct {
	Registry string    `json:"registry"`
	Market   uuid.UUID `json:"market"`
}

func (e *MarketDeauthorized) EventType() EventType { return EventTypeMarketDeauthorized }
