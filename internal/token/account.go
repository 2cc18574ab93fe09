package token

import (
	"fmt"

	"github.com/google/uuid"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeUser AccountScope = iota
	AccountScopeContract
	AccountScopeExternal
)

// AccountKey is the in-memory key for token balances
type AccountKey struct {
	Scope  AccountScope
	Holder uuid.UUID
}

// NewUserAccountKey creates a key for an externally owned holder
func NewUserAccountKey(holder uuid.UUID) AccountKey {
	return AccountKey{Scope: AccountScopeUser, Holder: holder}
}

// NewContractAccountKey creates a key for an engine custody account
// (collateral ledger, liquidity pool).
func NewContractAccountKey(holder uuid.UUID) AccountKey {
	return AccountKey{Scope: AccountScopeContract, Holder: holder}
}

// MintAccountKey is the external issuance boundary. Its balance is the
// negative of total supply, which keeps the tracker zero-sum.
func MintAccountKey() AccountKey {
	return AccountKey{Scope: AccountScopeExternal}
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath(symbol string) string {
	switch k.Scope {
	case AccountScopeUser:
		return fmt.Sprintf("user:%s:%s", k.Holder.String(), symbol)
	case AccountScopeContract:
		return fmt.Sprintf("contract:%s:%s", k.Holder.String(), symbol)
	case AccountScopeExternal:
		return fmt.Sprintf("external:mint:%s", symbol)
	}
	return "unknown"
}
