package projection

import (
	"PerpClearing/internal/event"
	"PerpClearing/internal/fixed"
	"context"
	"sync"

	"github.com/google/uuid"
)

// FundingRecord is one funding rate recomputation.
type FundingRecord struct {
	Sequence          int64       `json:"sequence"`
	Market            uuid.UUID   `json:"market"`
	Rate              fixed.Rate  `json:"rate"`
	CumulativeFunding fixed.Rate  `json:"cumulative_funding"`
	OpenInterestLong  fixed.Quote `json:"open_interest_long"`
	OpenInterestShort fixed.Quote `json:"open_interest_short"`
	Timestamp         int64       `json:"timestamp"`
}

// LiquidationRecord is one liquidation with its settlement breakdown.
type LiquidationRecord struct {
	Sequence         int64       `json:"sequence"`
	Market           uuid.UUID   `json:"market"`
	Trader           uuid.UUID   `json:"trader"`
	Liquidator       uuid.UUID   `json:"liquidator"`
	Price            fixed.Price `json:"price"`
	Seized           fixed.Quote `json:"seized"`
	BadDebt          fixed.Quote `json:"bad_debt"`
	InsuranceCovered fixed.Quote `json:"insurance_covered"`
	LiquidatorFee    fixed.Quote `json:"liquidator_fee"`
	Returned         fixed.Quote `json:"returned"`
	Timestamp        int64       `json:"timestamp"`
}

// HistoryReader serves funding and liquidation history, newest first.
// A zero trader returns liquidations of every trader.
type HistoryReader interface {
	FundingHistory(ctx context.Context, limit int) ([]FundingRecord, error)
	LiquidationHistory(ctx context.Context, trader uuid.UUID, limit int) ([]LiquidationRecord, error)
}

// History keeps the most recent funding and liquidation records in memory.
type History struct {
	mu           sync.RWMutex
	capacity     int
	funding      []FundingRecord
	liquidations []LiquidationRecord
	lastSeq      int64
}

// NewHistory keeps at most capacity records of each kind.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = 10_000
	}
	return &History{capacity: capacity}
}

// Apply records the history events of env. Envelopes at or below the last
// applied sequence are ignored.
func (h *History) Apply(env *event.Envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if env.Sequence <= h.lastSeq {
		return
	}
	h.lastSeq = env.Sequence

	for _, ev := range env.Events {
		switch e := ev.(type) {
		case *event.FundingRateUpdated:
			h.funding = appendBounded(h.funding, fundingRecord(env.Sequence, e), h.capacity)
		case *event.PositionLiquidated:
			h.liquidations = appendBounded(h.liquidations, liquidationRecord(env, e), h.capacity)
		}
	}
}

func (h *History) LastSequence() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastSeq
}

func (h *History) FundingHistory(_ context.Context, limit int) ([]FundingRecord, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]FundingRecord, 0, min(limit, len(h.funding)))
	for i := len(h.funding) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, h.funding[i])
	}
	return out, nil
}

func (h *History) LiquidationHistory(_ context.Context, trader uuid.UUID, limit int) ([]LiquidationRecord, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]LiquidationRecord, 0)
	for i := len(h.liquidations) - 1; i >= 0 && len(out) < limit; i-- {
		if trader == uuid.Nil || h.liquidations[i].Trader == trader {
			out = append(out, h.liquidations[i])
		}
	}
	return out, nil
}

func appendBounded[T any](s []T, v T, capacity int) []T {
	s = append(s, v)
	if len(s) > capacity {
		s = append(s[:0:0], s[len(s)-capacity:]...)
	}
	return s
}

func fundingRecord(seq int64, e *event.FundingRateUpdated) FundingRecord {
	return FundingRecord{
		Sequence:          seq,
		Market:            e.Market,
		Rate:              e.Rate,
		CumulativeFunding: e.CumulativeFunding,
		OpenInterestLong:  e.OpenInterestLong,
		OpenInterestShort: e.OpenInterestShort,
		Timestamp:         e.Timestamp,
	}
}

func liquidationRecord(env *event.Envelope, e *event.PositionLiquidated) LiquidationRecord {
	return LiquidationRecord{
		Sequence:         env.Sequence,
		Market:           e.Market,
		Trader:           e.Trader,
		Liquidator:       e.Liquidator,
		Price:            e.Price,
		Seized:           e.Seized,
		BadDebt:          e.BadDebt,
		InsuranceCovered: e.InsuranceCovered,
		LiquidatorFee:    e.LiquidatorFee,
		Returned:         e.Returned,
		Timestamp:        env.Timestamp,
	}
}
