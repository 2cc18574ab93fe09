package event

import (
	"PerpClearing/internal/fixed"

	"github.com/google/uuid"
)

type LiquidityAdded struct {
	Provider uuid.UUID   `json:"provider"`
	Amount   fixed.Quote `json:"amount"`
	SharePct fixed.Price `json:"share_pct"`
}

func (e *LiquidityAdded) EventType() EventType { return EventTypeLiquidityAdded }

type LiquidityRemoved struct {
	Provider uuid.UUID   `json:"provider"`
	Amount   fixed.Quote `json:"amount"`
	SharePct fixed.Price `json:"share_pct"`
}

func (e *LiquidityRemoved) EventType() EventType { return EventTypeLiquidityRemoved }

// FeesCollected splits a gross fee between the insurance fund and providers.
type FeesCollected struct {
	Market         uuid.UUID   `json:"market"`
	Gross          fixed.Quote `json:"gross"`
	InsuranceShare fixed.Quote `json:"insurance_share"`
	LPShare        fixed.Quote `json:"lp_share"`
}

func (e *FeesCollected) EventType() EventType { return EventTypeFeesCollected }

type TraderLossSettled struct {
	Market uuid.UUID   `json:"market"`
	Amount fixed.Quote `json:"amount"`
}

func (e *TraderLossSettled) EventType() EventType { return EventTypeTraderLossSettled }

type TraderProfitSettled struct {
	Market    uuid.UUID   `json:"market"`
	Amount    fixed.Quote `json:"amount"`
	Recipient uuid.UUID   `json:"recipient"`
}

func (e *TraderProfitSettled) EventType() EventType { return EventTypeTraderProfitSettled }

// InsuranceFundUsed reports a bad-debt draw. Covered may be less than
// Requested when the fund runs dry.
type InsuranceFundUsed struct {
	Market    uuid.UUID   `json:"market"`
	Requested fixed.Quote `json:"requested"`
	Covered   fixed.Quote `json:"covered"`
}

func (e *InsuranceFundUsed) EventType() EventType { return EventTypeInsuranceFundUsed }

type RewardPaid struct {
	Provider uuid.UUID   `json:"provider"`
	Amount   fixed.Quote `json:"amount"`
}

func (e *RewardPaid) EventType() EventType { return EventTypeRewardPaid }
