// Package token implements the quote collateral token: an ERC20-shaped
// fungible balance book with allowances, backed by the double-entry
// balance tracker.
package token

import (
	"PerpClearing/internal/event"
	"PerpClearing/internal/fixed"
	"PerpClearing/internal/txn"
	"PerpClearing/internal/types"
	"fmt"
	"math"
	"sort"

	"github.com/google/uuid"
)

// Unlimited is the allowance value that is never decremented.
const Unlimited = fixed.Quote(math.MaxInt64)

type allowanceKey struct {
	Owner   uuid.UUID
	Spender uuid.UUID
}

// Token is the quote token. Not thread-safe: only accessed from the
// serialised engine.
type Token struct {
	symbol     string
	minter     uuid.UUID
	tracker    *BalanceTracker
	allowances map[allowanceKey]fixed.Quote
	contracts  map[uuid.UUID]string
}

func New(symbol string, minter uuid.UUID) *Token {
	return &Token{
		symbol:     symbol,
		minter:     minter,
		tracker:    NewBalanceTracker(),
		allowances: make(map[allowanceKey]fixed.Quote),
		contracts:  make(map[uuid.UUID]string),
	}
}

func (t *Token) Symbol() string   { return t.symbol }
func (t *Token) Decimals() int    { return fixed.QuoteDecimals }
func (t *Token) Minter() uuid.UUID { return t.minter }

// RegisterContract marks addr as an engine custody account so its balance
// is reported under the contract scope.
func (t *Token) RegisterContract(addr uuid.UUID, name string) {
	t.contracts[addr] = name
}

func (t *Token) key(holder uuid.UUID) AccountKey {
	if _, ok := t.contracts[holder]; ok {
		return NewContractAccountKey(holder)
	}
	return NewUserAccountKey(holder)
}

// BalanceOf returns holder's balance.
func (t *Token) BalanceOf(holder uuid.UUID) fixed.Quote {
	return t.tracker.GetBalance(t.key(holder))
}

// TotalSupply is everything minted so far.
func (t *Token) TotalSupply() fixed.Quote {
	return -t.tracker.GetBalance(MintAccountKey())
}

// Allowance returns how much spender may move on behalf of owner.
func (t *Token) Allowance(owner, spender uuid.UUID) fixed.Quote {
	return t.allowances[allowanceKey{Owner: owner, Spender: spender}]
}

// Mint issues new tokens. Only the minter may call it.
func (t *Token) Mint(tx *txn.Tx, caller, to uuid.UUID, amount fixed.Quote) error {
	if caller != t.minter {
		return types.ErrUnauthorised.Wrapf("%s is not the token minter", caller)
	}
	if err := types.RequireAddress(to, "mint recipient"); err != nil {
		return err
	}
	if amount <= 0 {
		return types.ErrZeroAmount.Wrap("mint amount must be positive")
	}
	if t.TotalSupply() > math.MaxInt64-amount {
		return types.ErrArithmeticOverflow.Wrap("total supply")
	}
	if err := t.tracker.ApplyJournal(tx, Journal{
		DebitAccount:  t.key(to),
		CreditAccount: MintAccountKey(),
		Amount:        amount,
		JournalType:   JournalTypeMint,
	}); err != nil {
		return err
	}
	tx.Emit(&event.Transfer{From: uuid.Nil, To: to, Amount: amount})
	return nil
}

// Approve sets the allowance of spender over owner's tokens.
func (t *Token) Approve(tx *txn.Tx, owner, spender uuid.UUID, amount fixed.Quote) error {
	if err := types.RequireAddress(spender, "spender"); err != nil {
		return err
	}
	if amount < 0 {
		return types.ErrZeroAmount.Wrapf("negative allowance %d", amount)
	}
	txn.Put(tx, t.allowances, allowanceKey{Owner: owner, Spender: spender}, amount)
	tx.Emit(&event.Approval{Owner: owner, Spender: spender, Amount: amount})
	return nil
}

// Transfer moves amount from `from` to `to`.
func (t *Token) Transfer(tx *txn.Tx, from, to uuid.UUID, amount fixed.Quote) error {
	return t.move(tx, from, to, amount, JournalTypeTransfer)
}

// TransferFrom moves amount from `from` to `to` using spender's allowance.
func (t *Token) TransferFrom(tx *txn.Tx, spender, from, to uuid.UUID, amount fixed.Quote) error {
	key := allowanceKey{Owner: from, Spender: spender}
	allowed := t.allowances[key]
	if spender != from && allowed < amount {
		return types.ErrInsufficientAllowance.Wrapf("allowance %s, need %s", allowed.Human(), amount.Human())
	}
	if err := t.move(tx, from, to, amount, JournalTypeTransferFrom); err != nil {
		return err
	}
	if spender != from && allowed != Unlimited {
		txn.Put(tx, t.allowances, key, allowed-amount)
	}
	return nil
}

func (t *Token) move(tx *txn.Tx, from, to uuid.UUID, amount fixed.Quote, jt JournalType) error {
	if err := types.RequireAddress(to, "transfer recipient"); err != nil {
		return err
	}
	if amount <= 0 {
		return types.ErrZeroAmount.Wrapf("%s amount must be positive", jt)
	}
	if balance := t.BalanceOf(from); balance < amount {
		return types.ErrInsufficientBalance.Wrapf("%s has %s, need %s", from, balance.Human(), amount.Human())
	}
	if from == to {
		return nil
	}
	if err := t.tracker.ApplyJournal(tx, Journal{
		DebitAccount:  t.key(to),
		CreditAccount: t.key(from),
		Amount:        amount,
		JournalType:   jt,
	}); err != nil {
		return err
	}
	tx.Emit(&event.Transfer{From: from, To: to, Amount: amount})
	return nil
}

// CheckInvariants verifies the token book is zero-sum and no holder is
// negative.
func (t *Token) CheckInvariants() error {
	if total := t.tracker.ComputeGlobalBalance(); total != 0 {
		return fmt.Errorf("token %s global balance is non-zero: %d", t.symbol, total)
	}
	return t.tracker.ValidateNonNegative(t.symbol)
}

// Tracker exposes the balance book for snapshots and state digests.
func (t *Token) Tracker() *BalanceTracker {
	return t.tracker
}

// AllowanceEntry is the snapshot form of one allowance.
type AllowanceEntry struct {
	Owner   uuid.UUID   `json:"owner"`
	Spender uuid.UUID   `json:"spender"`
	Amount  fixed.Quote `json:"amount"`
}

// Allowances returns every non-zero allowance for snapshots.
func (t *Token) Allowances() []AllowanceEntry {
	out := make([]AllowanceEntry, 0, len(t.allowances))
	for k, v := range t.allowances {
		if v != 0 {
			out = append(out, AllowanceEntry{Owner: k.Owner, Spender: k.Spender, Amount: v})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Owner != out[j].Owner {
			return out[i].Owner.String() < out[j].Owner.String()
		}
		return out[i].Spender.String() < out[j].Spender.String()
	})
	return out
}

// RestoreAllowance sets an allowance without an undo record. Snapshot
// restore only.
func (t *Token) RestoreAllowance(owner, spender uuid.UUID, amount fixed.Quote) {
	t.allowances[allowanceKey{Owner: owner, Spender: spender}] = amount
}
