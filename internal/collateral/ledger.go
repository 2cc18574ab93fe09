// Package collateral is the per-user free/locked balance book for the quote
// token. Authorised markets lock, release and seize user funds; users
// deposit and withdraw their free balance.
package collateral

import (
	"PerpClearing/internal/event"
	"PerpClearing/internal/fixed"
	"PerpClearing/internal/txn"
	"PerpClearing/internal/types"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// Registry names this ledger in MarketAuthorized events.
const Registry = "collateral"

// Token is the slice of the quote token the ledger needs.
type Token interface {
	Transfer(tx *txn.Tx, from, to uuid.UUID, amount fixed.Quote) error
	TransferFrom(tx *txn.Tx, spender, from, to uuid.UUID, amount fixed.Quote) error
	BalanceOf(holder uuid.UUID) fixed.Quote
}

// Account is one user's balances. The flow counters back the conservation
// invariant: Deposited − Withdrawn + Credited − Debited == Free + Locked.
type Account struct {
	Free      fixed.Quote `json:"free"`
	Locked    fixed.Quote `json:"locked"`
	Deposited fixed.Quote `json:"deposited"`
	Withdrawn fixed.Quote `json:"withdrawn"`
	Credited  fixed.Quote `json:"credited"`
	Debited   fixed.Quote `json:"debited"`
}

// Total is free plus locked.
func (a Account) Total() fixed.Quote {
	return a.Free + a.Locked
}

// Ledger is the collateral manager. Not thread-safe: only accessed from the
// serialised engine.
type Ledger struct {
	address  uuid.UUID
	owner    uuid.UUID
	token    Token
	accounts map[uuid.UUID]Account
	markets  map[uuid.UUID]struct{}
}

func New(address, owner uuid.UUID, token Token) *Ledger {
	return &Ledger{
		address:  address,
		owner:    owner,
		token:    token,
		accounts: make(map[uuid.UUID]Account),
		markets:  make(map[uuid.UUID]struct{}),
	}
}

// Address is the ledger's token custody account.
func (l *Ledger) Address() uuid.UUID { return l.address }
func (l *Ledger) Owner() uuid.UUID   { return l.owner }

// Deposit credits amount to the caller's free balance and pulls the tokens.
func (l *Ledger) Deposit(tx *txn.Tx, user uuid.UUID, amount fixed.Quote) error {
	if err := types.RequireAddress(user, "user"); err != nil {
		return err
	}
	if amount <= 0 {
		return types.ErrZeroAmount.Wrap("deposit amount must be greater than 0")
	}

	acct := l.accounts[user]
	acct.Free += amount
	acct.Deposited += amount
	txn.Put(tx, l.accounts, user, acct)

	if err := l.token.TransferFrom(tx, l.address, user, l.address, amount); err != nil {
		return fmt.Errorf("pull deposit: %w", err)
	}
	tx.Emit(&event.CollateralDeposited{User: user, Amount: amount})
	return nil
}

// Withdraw debits the caller's free balance and pays the tokens out.
func (l *Ledger) Withdraw(tx *txn.Tx, user uuid.UUID, amount fixed.Quote) error {
	if amount <= 0 {
		return types.ErrZeroAmount.Wrap("withdrawal amount must be greater than 0")
	}
	acct := l.accounts[user]
	if amount > acct.Free {
		return types.ErrInsufficientFree.Wrapf("free %s, requested %s", acct.Free.Human(), amount.Human())
	}

	acct.Free -= amount
	acct.Withdrawn += amount
	txn.Put(tx, l.accounts, user, acct)

	if err := l.token.Transfer(tx, l.address, user, amount); err != nil {
		return fmt.Errorf("pay withdrawal: %w", err)
	}
	tx.Emit(&event.CollateralWithdrawn{User: user, Amount: amount})
	return nil
}

// Lock moves amount from free to locked on a market's behalf.
func (l *Ledger) Lock(tx *txn.Tx, market, user uuid.UUID, amount fixed.Quote) error {
	if err := l.requireMarket(market); err != nil {
		return err
	}
	if amount <= 0 {
		return types.ErrZeroAmount.Wrap("lock amount must be greater than 0")
	}
	acct := l.accounts[user]
	if amount > acct.Free {
		return types.ErrInsufficientFree.Wrapf("free %s, lock %s", acct.Free.Human(), amount.Human())
	}

	acct.Free -= amount
	acct.Locked += amount
	txn.Put(tx, l.accounts, user, acct)
	tx.Emit(&event.CollateralLocked{Market: market, User: user, Amount: amount})
	return nil
}

// Release moves amount from locked back to free.
func (l *Ledger) Release(tx *txn.Tx, market, user uuid.UUID, amount fixed.Quote) error {
	if err := l.requireMarket(market); err != nil {
		return err
	}
	if amount <= 0 {
		return types.ErrZeroAmount.Wrap("release amount must be greater than 0")
	}
	acct := l.accounts[user]
	if amount > acct.Locked {
		return types.ErrInsufficientLocked.Wrapf("locked %s, release %s", acct.Locked.Human(), amount.Human())
	}

	acct.Locked -= amount
	acct.Free += amount
	txn.Put(tx, l.accounts, user, acct)
	tx.Emit(&event.CollateralReleased{Market: market, User: user, Amount: amount})
	return nil
}

// Seize takes amount out of the user's locked balance and sends the tokens
// to recipient.
func (l *Ledger) Seize(tx *txn.Tx, market, user uuid.UUID, amount fixed.Quote, recipient uuid.UUID) error {
	if err := l.requireMarket(market); err != nil {
		return err
	}
	if amount <= 0 {
		return types.ErrZeroAmount.Wrap("seize amount must be greater than 0")
	}
	acct := l.accounts[user]
	if amount > acct.Locked {
		return types.ErrInsufficientLocked.Wrapf("locked %s, seize %s", acct.Locked.Human(), amount.Human())
	}

	acct.Locked -= amount
	acct.Debited += amount
	txn.Put(tx, l.accounts, user, acct)

	if err := l.token.Transfer(tx, l.address, recipient, amount); err != nil {
		return fmt.Errorf("transfer seized collateral: %w", err)
	}
	tx.Emit(&event.CollateralSeized{Market: market, User: user, Amount: amount, Recipient: recipient})
	return nil
}

// SeizeFree takes amount out of the user's free balance. Used for the
// trading fee charged at open.
func (l *Ledger) SeizeFree(tx *txn.Tx, market, user uuid.UUID, amount fixed.Quote, recipient uuid.UUID) error {
	if err := l.requireMarket(market); err != nil {
		return err
	}
	if amount <= 0 {
		return types.ErrZeroAmount.Wrap("seize amount must be greater than 0")
	}
	acct := l.accounts[user]
	if amount > acct.Free {
		return types.ErrInsufficientFreeForFee.Wrapf("free %s, fee %s", acct.Free.Human(), amount.Human())
	}

	acct.Free -= amount
	acct.Debited += amount
	txn.Put(tx, l.accounts, user, acct)

	if err := l.token.Transfer(tx, l.address, recipient, amount); err != nil {
		return fmt.Errorf("transfer fee: %w", err)
	}
	tx.Emit(&event.CollateralSeized{Market: market, User: user, Amount: amount, Recipient: recipient, FromFree: true})
	return nil
}

// CreditLocked books tokens that already arrived in custody (trader profit
// paid by the pool) to the user's locked balance.
func (l *Ledger) CreditLocked(tx *txn.Tx, market, user uuid.UUID, amount fixed.Quote) error {
	if err := l.requireMarket(market); err != nil {
		return err
	}
	if amount <= 0 {
		return types.ErrZeroAmount.Wrap("credit amount must be greater than 0")
	}

	acct := l.accounts[user]
	acct.Locked += amount
	acct.Credited += amount
	txn.Put(tx, l.accounts, user, acct)
	tx.Emit(&event.CollateralCredited{Market: market, User: user, Amount: amount})
	return nil
}

// TransferLocked moves part of from's locked balance into to's free
// balance. Used to pay the liquidator.
func (l *Ledger) TransferLocked(tx *txn.Tx, market, from, to uuid.UUID, amount fixed.Quote) error {
	if err := l.requireMarket(market); err != nil {
		return err
	}
	if err := types.RequireAddress(to, "recipient"); err != nil {
		return err
	}
	if amount <= 0 {
		return types.ErrZeroAmount.Wrap("transfer amount must be greater than 0")
	}
	src := l.accounts[from]
	if amount > src.Locked {
		return types.ErrInsufficientLocked.Wrapf("locked %s, transfer %s", src.Locked.Human(), amount.Human())
	}
	if from == to {
		return l.Release(tx, market, from, amount)
	}

	src.Locked -= amount
	src.Debited += amount
	txn.Put(tx, l.accounts, from, src)

	dst := l.accounts[to]
	dst.Free += amount
	dst.Credited += amount
	txn.Put(tx, l.accounts, to, dst)

	tx.Emit(&event.CollateralTransferred{Market: market, From: from, To: to, Amount: amount})
	return nil
}

// Available is getAvailableCollateral: the user's free balance.
func (l *Ledger) Available(user uuid.UUID) fixed.Quote {
	return l.accounts[user].Free
}

// Locked returns the user's locked balance.
func (l *Ledger) Locked(user uuid.UUID) fixed.Quote {
	return l.accounts[user].Locked
}

// Account returns the full record for user.
func (l *Ledger) Account(user uuid.UUID) Account {
	return l.accounts[user]
}

// AuthorizeMarket adds market to the set allowed to move user funds.
func (l *Ledger) AuthorizeMarket(tx *txn.Tx, caller, market uuid.UUID) error {
	if caller != l.owner {
		return types.ErrUnauthorised.Wrapf("%s is not the ledger owner", caller)
	}
	if err := types.RequireAddress(market, "market"); err != nil {
		return err
	}
	txn.Put(tx, l.markets, market, struct{}{})
	tx.Emit(&event.MarketAuthorized{Registry: Registry, Market: market})
	return nil
}

// DeauthorizeMarket removes market from the authorised set.
func (l *Ledger) DeauthorizeMarket(tx *txn.Tx, caller, market uuid.UUID) error {
	if caller != l.owner {
		return types.ErrUnauthorised.Wrapf("%s is not the ledger owner", caller)
	}
	if err := types.RequireAddress(market, "market"); err != nil {
		return err
	}
	txn.Delete(tx, l.markets, market)
	tx.Emit(&event.MarketDeauthorized{Registry: Registry, Market: market})
	return nil
}

func (l *Ledger) IsAuthorizedMarket(market uuid.UUID) bool {
	_, ok := l.markets[market]
	return ok
}

func (l *Ledger) requireMarket(market uuid.UUID) error {
	if !l.IsAuthorizedMarket(market) {
		return types.ErrNotAuthorizedMarket.Wrapf("%s", market)
	}
	return nil
}

// Users lists every account holder in a deterministic order.
func (l *Ledger) Users() []uuid.UUID {
	out := make([]uuid.UUID, 0, len(l.accounts))
	for u := range l.accounts {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Markets lists authorised markets in a deterministic order.
func (l *Ledger) Markets() []uuid.UUID {
	out := make([]uuid.UUID, 0, len(l.markets))
	for m := range l.markets {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// CheckInvariants verifies per-user conservation and that custody holds
// exactly what the accounts say.
func (l *Ledger) CheckInvariants() error {
	var total fixed.Quote
	for user, a := range l.accounts {
		if a.Free < 0 || a.Locked < 0 {
			return fmt.Errorf("user %s has negative balance: free=%d locked=%d", user, a.Free, a.Locked)
		}
		if net := a.Deposited - a.Withdrawn + a.Credited - a.Debited; net != a.Total() {
			return fmt.Errorf("user %s conservation broken: net flows %d != free+locked %d", user, net, a.Total())
		}
		total += a.Total()
	}
	if custody := l.token.BalanceOf(l.address); custody != total {
		return fmt.Errorf("ledger custody %d != sum of accounts %d", custody, total)
	}
	return nil
}

// Restore loads persisted state. Snapshot restore only.
func (l *Ledger) Restore(accounts map[uuid.UUID]Account, markets []uuid.UUID) {
	for u, a := range accounts {
		l.accounts[u] = a
	}
	for _, m := range markets {
		l.markets[m] = struct{}{}
	}
}

// Accounts returns a copy of all accounts for snapshots.
func (l *Ledger) Accounts() map[uuid.UUID]Account {
	out := make(map[uuid.UUID]Account, len(l.accounts))
	for u, a := range l.accounts {
		out[u] = a
	}
	return out
}
