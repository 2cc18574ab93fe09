package market

import (
	"PerpClearing/internal/fixed"
	"fmt"
)

const (
	MinLeverage int64 = 1
	MaxLeverage int64 = 20

	// LiquidationThresholdPct is the share of margin a loss must reach
	// before the position can be liquidated.
	LiquidationThresholdPct uint64 = 80
)

// Params are the fixed risk parameters of a market.
type Params struct {
	Symbol             string      `json:"symbol"`
	FeeRate            fixed.Price `json:"fee_rate"`
	FundingInterval    int64       `json:"funding_interval"` // seconds
	FundingRateFactor  fixed.Price `json:"funding_rate_factor"`
	LiquidationFeeRate fixed.Price `json:"liquidation_fee_rate"`
	MaxLeverage        int64       `json:"max_leverage"`
}

// DefaultParams mirror the ETH-USD deployment.
func DefaultParams() Params {
	return Params{
		Symbol:             "ETH-USD",
		FeeRate:            fixed.MustParsePrice("0.001"),
		FundingInterval:    3600,
		FundingRateFactor:  fixed.MustParsePrice("0.01"),
		LiquidationFeeRate: fixed.MustParsePrice("0.1"),
		MaxLeverage:        MaxLeverage,
	}
}

// ValidateParams checks that parameters are within usable ranges.
func ValidateParams(p Params) error {
	if p.Symbol == "" {
		return fmt.Errorf("symbol must not be empty")
	}
	if p.FundingInterval <= 0 {
		return fmt.Errorf("funding_interval must be > 0, got %d", p.FundingInterval)
	}
	if !p.FeeRate.Lt(fixed.Precision()) {
		return fmt.Errorf("fee_rate must be < 1, got %s", p.FeeRate.Human())
	}
	if p.LiquidationFeeRate.Gt(fixed.Precision()) {
		return fmt.Errorf("liquidation_fee_rate must be <= 1, got %s", p.LiquidationFeeRate.Human())
	}
	if p.MaxLeverage < MinLeverage || p.MaxLeverage > MaxLeverage {
		return fmt.Errorf("max_leverage must be in [%d, %d], got %d", MinLeverage, MaxLeverage, p.MaxLeverage)
	}
	return nil
}
