package token

import (
	"PerpClearing/internal/fixed"
	"PerpClearing/internal/txn"
	"fmt"
	"sort"
)

// BalanceTracker maintains in-memory account balances
type BalanceTracker struct {
	balances map[AccountKey]fixed.Quote
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]fixed.Quote),
	}
}

// ApplyJournal applies a single journal entry, recording the inverse on tx.
func (bt *BalanceTracker) ApplyJournal(tx *txn.Tx, j Journal) error {
	if err := j.Validate(); err != nil {
		return fmt.Errorf("invalid journal: %w", err)
	}
	txn.Put(tx, bt.balances, j.DebitAccount, bt.balances[j.DebitAccount]+j.Amount)
	txn.Put(tx, bt.balances, j.CreditAccount, bt.balances[j.CreditAccount]-j.Amount)
	return nil
}

// GetBalance returns the current balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) fixed.Quote {
	return bt.balances[key]
}

// ComputeGlobalBalance sums all account balances (0 for a zero-sum ledger)
func (bt *BalanceTracker) ComputeGlobalBalance() fixed.Quote {
	var total fixed.Quote
	for _, balance := range bt.balances {
		total += balance
	}
	return total
}

// ValidateNonNegative checks every non-external account is >= 0
func (bt *BalanceTracker) ValidateNonNegative(symbol string) error {
	for key, balance := range bt.balances {
		if key.Scope != AccountScopeExternal && balance < 0 {
			return fmt.Errorf("account %s has negative balance: %d", key.AccountPath(symbol), balance)
		}
	}
	return nil
}

// Keys returns all tracked accounts in a deterministic order.
func (bt *BalanceTracker) Keys() []AccountKey {
	keys := make([]AccountKey, 0, len(bt.balances))
	for k := range bt.balances {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Scope != keys[j].Scope {
			return keys[i].Scope < keys[j].Scope
		}
		for b := 0; b < 16; b++ {
			if keys[i].Holder[b] != keys[j].Holder[b] {
				return keys[i].Holder[b] < keys[j].Holder[b]
			}
		}
		return false
	})
	return keys
}

// Snapshot returns a copy of all balances
func (bt *BalanceTracker) Snapshot() map[AccountKey]fixed.Quote {
	snapshot := make(map[AccountKey]fixed.Quote, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = v
	}
	return snapshot
}

// SetBalance overwrites a balance. Used only during snapshot restore.
func (bt *BalanceTracker) SetBalance(key AccountKey, balance fixed.Quote) {
	bt.balances[key] = balance
}
