package core

import (
	"PerpClearing/internal/fixed"
	"PerpClearing/internal/market"
	"PerpClearing/internal/pool"
	"PerpClearing/internal/types"
	"fmt"

	"github.com/google/uuid"
)

// Component names used to derive custody addresses.
const (
	LedgerName = "collateral"
	PoolName   = "pool"
)

// Params configure one engine deployment. Two engines built from equal
// params agree on every component address and produce the same hash chain
// for the same command stream.
type Params struct {
	Owner               uuid.UUID     `json:"owner"`
	TokenSymbol         string        `json:"token_symbol"`
	Market              market.Params `json:"market"`
	Pool                pool.Params   `json:"pool"`
	PriceMaxAge         int64         `json:"price_max_age"` // seconds, 0 disables
	Genesis             int64         `json:"genesis"`       // unix seconds
	IdempotencyCapacity int           `json:"idempotency_capacity"`
}

// DefaultParams returns the ETH-USD/USDC deployment owned by owner.
func DefaultParams(owner uuid.UUID) Params {
	return Params{
		Owner:               owner,
		TokenSymbol:         "USDC",
		Market:              market.DefaultParams(),
		Pool:                pool.DefaultParams(),
		IdempotencyCapacity: DefaultIdempotencyCapacity,
	}
}

// Validate checks params before any component is built.
func (p Params) Validate() error {
	if err := types.RequireAddress(p.Owner, "owner"); err != nil {
		return err
	}
	if p.TokenSymbol == "" {
		return fmt.Errorf("token_symbol must not be empty")
	}
	if err := market.ValidateParams(p.Market); err != nil {
		return err
	}
	if p.Pool.FeeRate.Gt(pool.MaxFeeRate) {
		return fmt.Errorf("pool fee_rate %s above %s", p.Pool.FeeRate.Human(), pool.MaxFeeRate.Human())
	}
	if p.Pool.InsuranceFundRate.Gt(pool.MaxInsuranceFundRate) {
		return fmt.Errorf("pool insurance_fund_rate %s above %s",
			p.Pool.InsuranceFundRate.Human(), pool.MaxInsuranceFundRate.Human())
	}
	if p.Pool.Utilisation.Gt(fixed.Precision()) {
		return fmt.Errorf("pool utilisation %s above 1", p.Pool.Utilisation.Human())
	}
	if p.PriceMaxAge < 0 {
		return fmt.Errorf("price_max_age must be >= 0, got %d", p.PriceMaxAge)
	}
	if p.Genesis < 0 {
		return fmt.Errorf("genesis must be >= 0, got %d", p.Genesis)
	}
	return nil
}

// LedgerAddress is the collateral ledger's custody account.
func LedgerAddress() uuid.UUID { return types.DeriveAddress(LedgerName) }

// PoolAddress is the liquidity pool's custody account.
func PoolAddress() uuid.UUID { return types.DeriveAddress(PoolName) }

// MarketAddress is the address of the market trading symbol.
func MarketAddress(symbol string) uuid.UUID { return types.DeriveAddress("market/" + symbol) }
