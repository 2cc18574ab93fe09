package query

import (
	"PerpClearing/internal/fixed"

	"github.com/google/uuid"
)

// Every response carries as_of_sequence, the last committed sequence the
// answer reflects.

type PriceResponse struct {
	Symbol       string      `json:"symbol"`
	Price        fixed.Price `json:"price"`
	Human        string      `json:"human"`
	Updater      uuid.UUID   `json:"updater"`
	UpdatedAt    int64       `json:"updated_at"`
	Stale        bool        `json:"stale"`
	AsOfSequence int64       `json:"as_of_sequence"`
}

// PositionResponse is an open position with its values at the current mark
// price. Mark-dependent fields are omitted when no usable price exists.
type PositionResponse struct {
	Trader            uuid.UUID    `json:"trader"`
	Market            uuid.UUID    `json:"market"`
	Side              string       `json:"side"`
	Size              fixed.Quote  `json:"size"`
	Margin            fixed.Quote  `json:"margin"`
	Leverage          int64        `json:"leverage"`
	EntryPrice        fixed.Price  `json:"entry_price"`
	LiquidationPrice  fixed.Price  `json:"liquidation_price"`
	OpenedAt          int64        `json:"opened_at"`
	MarkPrice         *fixed.Price `json:"mark_price,omitempty"`
	UnrealizedPnL     *fixed.Quote `json:"unrealized_pnl,omitempty"`
	PendingFunding    *fixed.Quote `json:"pending_funding,omitempty"`
	IsLiquidatable    bool         `json:"is_liquidatable"`
	LastFundingCursor fixed.Rate   `json:"last_funding_cursor"`
	AsOfSequence      int64        `json:"as_of_sequence"`
}

type PoolResponse struct {
	Address           uuid.UUID   `json:"address"`
	TotalLiquidity    fixed.Quote `json:"total_liquidity"`
	InsuranceFund     fixed.Quote `json:"insurance_fund"`
	FeeRate           fixed.Price `json:"fee_rate"`
	InsuranceFundRate fixed.Price `json:"insurance_fund_rate"`
	Utilisation       fixed.Price `json:"utilisation"`
	RewardIndex       fixed.Price `json:"reward_index"`
	Providers         int         `json:"providers"`
	AsOfSequence      int64       `json:"as_of_sequence"`
}

type ProviderResponse struct {
	Provider       uuid.UUID   `json:"provider"`
	Amount         fixed.Quote `json:"amount"`
	SharePct       fixed.Price `json:"share_pct"`
	RewardsAccrued fixed.Quote `json:"rewards_accrued"`
	AsOfSequence   int64       `json:"as_of_sequence"`
}

type MarketResponse struct {
	Address            uuid.UUID    `json:"address"`
	Symbol             string       `json:"symbol"`
	TradingEnabled     bool         `json:"trading_enabled"`
	MarkPrice          *fixed.Price `json:"mark_price,omitempty"`
	FeeRate            fixed.Price  `json:"fee_rate"`
	MaxLeverage        int64        `json:"max_leverage"`
	LiquidationFeeRate fixed.Price  `json:"liquidation_fee_rate"`
	FundingRate        fixed.Rate   `json:"funding_rate"`
	CumulativeFunding  fixed.Rate   `json:"cumulative_funding"`
	FundingInterval    int64        `json:"funding_interval"`
	LastFundingTime    int64        `json:"last_funding_time"`
	NextFundingTime    int64        `json:"next_funding_time"`
	OpenInterestLong   fixed.Quote  `json:"open_interest_long"`
	OpenInterestShort  fixed.Quote  `json:"open_interest_short"`
	OpenPositions      int          `json:"open_positions"`
	Clock              int64        `json:"clock"`
	AsOfSequence       int64        `json:"as_of_sequence"`
}

// JournalEntry is one token movement from clearing.journal.
type JournalEntry struct {
	Sequence      int64       `json:"sequence"`
	Index         int         `json:"index"`
	DebitAccount  string      `json:"debit_account"`
	CreditAccount string      `json:"credit_account"`
	Amount        fixed.Quote `json:"amount"`
	JournalType   string      `json:"journal_type"`
	Timestamp     int64       `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy       bool    `json:"is_healthy"`
	CheckedUpTo     int64   `json:"checked_up_to"`
	HashChainBreaks []int64 `json:"hash_chain_breaks,omitempty"`
	// Sum of all projected balances; the mint account holds minus the
	// supply, so anything but zero is an imbalance.
	BalanceImbalance int64 `json:"balance_imbalance"`
	EngineHashMatch  bool  `json:"engine_hash_match"`
}
