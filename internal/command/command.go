// Package command defines the typed inputs the clearing engine accepts.
package command

import (
	"PerpClearing/internal/fixed"

	"github.com/google/uuid"
)

type Type int32

const (
	TypeUnknown Type = iota
	TypeUpdatePrice
	TypeAuthorizeFeeder
	TypeDeauthorizeFeeder
	TypeDepositCollateral
	TypeWithdrawCollateral
	TypeAuthorizeMarket
	TypeDeauthorizeMarket
	TypeAddLiquidity
	TypeRemoveLiquidity
	TypeClaimRewards
	TypeUpdateUtilisation
	TypeUpdateFeeRate
	TypeUpdateInsuranceFundRate
	TypeOpenPosition
	TypeClosePosition
	TypeLiquidatePosition
	TypeSettleFunding
	TypePauseTrading
	TypeResumeTrading
	TypeMint
	TypeApprove
)

var typeNames = map[Type]string{
	TypeUpdatePrice:             "UpdatePrice",
	TypeAuthorizeFeeder:         "AuthorizeFeeder",
	TypeDeauthorizeFeeder:       "DeauthorizeFeeder",
	TypeDepositCollateral:       "DepositCollateral",
	TypeWithdrawCollateral:      "WithdrawCollateral",
	TypeAuthorizeMarket:         "AuthorizeMarket",
	TypeDeauthorizeMarket:       "DeauthorizeMarket",
	TypeAddLiquidity:            "AddLiquidity",
	TypeRemoveLiquidity:         "RemoveLiquidity",
	TypeClaimRewards:            "ClaimRewards",
	TypeUpdateUtilisation:       "UpdateUtilisation",
	TypeUpdateFeeRate:           "UpdateFeeRate",
	TypeUpdateInsuranceFundRate: "UpdateInsuranceFundRate",
	TypeOpenPosition:            "OpenPosition",
	TypeClosePosition:           "ClosePosition",
	TypeLiquidatePosition:       "LiquidatePosition",
	TypeSettleFunding:           "SettleFunding",
	TypePauseTrading:            "PauseTrading",
	TypeResumeTrading:           "ResumeTrading",
	TypeMint:                    "Mint",
	TypeApprove:                 "Approve",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return "Unknown"
}

// ParseType maps a wire name back to its Type.
func ParseType(name string) (Type, bool) {
	for t, n := range typeNames {
		if n == name {
			return t, true
		}
	}
	return TypeUnknown, false
}

// Types lists every known command type in declaration order.
func Types() []Type {
	out := make([]Type, 0, len(typeNames))
	for t := TypeUpdatePrice; t <= TypeApprove; t++ {
		out = append(out, t)
	}
	return out
}

// Meta is carried by every command. Timestamp is unix seconds and becomes
// the engine clock for the command.
type Meta struct {
	IdempotencyKey string    `json:"idempotency_key"`
	Caller         uuid.UUID `json:"caller"`
	Timestamp      int64     `json:"timestamp"`
	SourceSequence int64     `json:"source_sequence"`
}

func (m *Meta) Header() *Meta { return m }

// Command is implemented by every engine input.
type Command interface {
	CommandType() Type
	Header() *Meta
}

// --- Price feed ---

type UpdatePrice struct {
	Meta
	Symbol string      `json:"symbol"`
	Price  fixed.Price `json:"price"`
}

func (c *UpdatePrice) CommandType() Type { return TypeUpdatePrice }

type AuthorizeFeeder struct {
	Meta
	Feeder uuid.UUID `json:"feeder"`
}

func (c *AuthorizeFeeder) CommandType() Type { return TypeAuthorizeFeeder }

type DeauthorizeFeeder struct {
	Meta
	Feeder uuid.UUID `json:"feeder"`
}

func (c *DeauthorizeFeeder) CommandType() Type { return TypeDeauthorizeFeeder }

// --- Collateral ledger ---

type DepositCollateral struct {
	Meta
	Amount fixed.Quote `json:"amount"`
}

func (c *DepositCollateral) CommandType() Type { return TypeDepositCollateral }

type WithdrawCollateral struct {
	Meta
	Amount fixed.Quote `json:"amount"`
}

func (c *WithdrawCollateral) CommandType() Type { return TypeWithdrawCollateral }

// AuthorizeMarket targets one registry: "collateral" or "pool".
type AuthorizeMarket struct {
	Meta
	Registry string    `json:"registry"`
	Market   uuid.UUID `json:"market"`
}

func (c *AuthorizeMarket) CommandType() Type { return TypeAuthorizeMarket }

type DeauthorizeMarket struct {
	Meta
	Registry string    `json:"registry"`
	Market   uuid.UUID `json:"market"`
}

func (c *DeauthorizeMarket) CommandType() Type { return TypeDeauthorizeMarket }

// --- Liquidity pool ---

type AddLiquidity struct {
	Meta
	Amount fixed.Quote `json:"amount"`
}

func (c *AddLiquidity) CommandType() Type { return TypeAddLiquidity }

type RemoveLiquidity struct {
	Meta
	Amount fixed.Quote `json:"amount"`
}

func (c *RemoveLiquidity) CommandType() Type { return TypeRemoveLiquidity }

type ClaimRewards struct {
	Meta
}

func (c *ClaimRewards) CommandType() Type { return TypeClaimRewards }

type UpdateUtilisation struct {
	Meta
	Rate fixed.Price `json:"rate"`
}

func (c *UpdateUtilisation) CommandType() Type { return TypeUpdateUtilisation }

type UpdateFeeRate struct {
	Meta
	Rate fixed.Price `json:"rate"`
}

func (c *UpdateFeeRate) CommandType() Type { return TypeUpdateFeeRate }

type UpdateInsuranceFundRate struct {
	Meta
	Rate fixed.Price `json:"rate"`
}

func (c *UpdateInsuranceFundRate) CommandType() Type { return TypeUpdateInsuranceFundRate }

// --- Market ---

type OpenPosition struct {
	Meta
	Margin   fixed.Quote `json:"margin"`
	Leverage int64       `json:"leverage"`
	IsLong   bool        `json:"is_long"`
}

func (c *OpenPosition) CommandType() Type { return TypeOpenPosition }

type ClosePosition struct {
	Meta
}

func (c *ClosePosition) CommandType() Type { return TypeClosePosition }

// LiquidatePosition is submitted by the liquidator (Caller) against Trader.
type LiquidatePosition struct {
	Meta
	Trader uuid.UUID `json:"trader"`
}

func (c *LiquidatePosition) CommandType() Type { return TypeLiquidatePosition }

type SettleFunding struct {
	Meta
}

func (c *SettleFunding) CommandType() Type { return TypeSettleFunding }

type PauseTrading struct {
	Meta
}

func (c *PauseTrading) CommandType() Type { return TypePauseTrading }

type ResumeTrading struct {
	Meta
}

func (c *ResumeTrading) CommandType() Type { return TypeResumeTrading }

// --- Quote token ---

type Mint struct {
	Meta
	To     uuid.UUID   `json:"to"`
	Amount fixed.Quote `json:"amount"`
}

func (c *Mint) CommandType() Type { return TypeMint }

type Approve struct {
	Meta
	Spender uuid.UUID   `json:"spender"`
	Amount  fixed.Quote `json:"amount"`
}

func (c *Approve) CommandType() Type { return TypeApprove }
