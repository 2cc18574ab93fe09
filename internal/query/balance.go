package query

import (
	"PerpClearing/internal/core"
	"PerpClearing/internal/fixed"
	"context"

	"github.com/google/uuid"
)

// AccountResponse is a user's token and collateral state.
type AccountResponse struct {
	User uuid.UUID `json:"user"`

	// Token side
	WalletBalance   fixed.Quote `json:"wallet_balance"`
	LedgerAllowance fixed.Quote `json:"ledger_allowance"`

	// Collateral ledger
	Free      fixed.Quote `json:"free"`
	Locked    fixed.Quote `json:"locked"`
	Total     fixed.Quote `json:"total"`
	Deposited fixed.Quote `json:"deposited"`
	Withdrawn fixed.Quote `json:"withdrawn"`

	// Derived at query time from the open position and the mark price,
	// not ledger balances.
	HasPosition     bool         `json:"has_position"`
	UnrealizedPnL   *fixed.Quote `json:"unrealized_pnl,omitempty"`
	EffectiveEquity *fixed.Quote `json:"effective_equity,omitempty"`

	AsOfSequence int64 `json:"as_of_sequence"`
}

// GetAccount returns user's wallet, collateral and equity.
func (qs *QueryService) GetAccount(ctx context.Context, user uuid.UUID) (resp *AccountResponse, err error) {
	defer qs.observe("account", &err)()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	qs.engine.Read(func(v core.View) {
		acct := v.Ledger.Account(user)
		resp = &AccountResponse{
			User:            user,
			WalletBalance:   v.Token.BalanceOf(user),
			LedgerAllowance: v.Token.Allowance(user, v.Ledger.Address()),
			Free:            acct.Free,
			Locked:          acct.Locked,
			Total:           acct.Total(),
			Deposited:       acct.Deposited,
			Withdrawn:       acct.Withdrawn,
			AsOfSequence:    v.Sequence,
		}
		if _, ok := v.Market.Position(user); !ok {
			return
		}
		resp.HasPosition = true
		pnl, funding, perr := v.Market.UnrealizedPnL(user, v.Clock)
		if perr != nil {
			return
		}
		upnl := pnl - funding
		equity := acct.Total() + upnl
		resp.UnrealizedPnL, resp.EffectiveEquity = &upnl, &equity
	})
	return resp, nil
}
