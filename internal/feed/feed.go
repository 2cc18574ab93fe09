// Package feed holds the authoritative mark price per symbol.
package feed

import (
	"PerpClearing/internal/event"
	"PerpClearing/internal/fixed"
	"PerpClearing/internal/txn"
	"PerpClearing/internal/types"
	"sort"

	"github.com/google/uuid"
)

// Record is the latest price written for a symbol.
type Record struct {
	Price     fixed.Price `json:"price"`
	Updater   uuid.UUID   `json:"updater"`
	UpdatedAt int64       `json:"updated_at"`
}

// Feed is the price store. Writes come from the owner or an authorised
// feeder. Not thread-safe: only accessed from the serialised engine.
type Feed struct {
	owner   uuid.UUID
	maxAge  int64 // seconds, 0 disables the staleness gate
	prices  map[string]Record
	feeders map[uuid.UUID]struct{}
}

func New(owner uuid.UUID, maxAge int64) *Feed {
	return &Feed{
		owner:   owner,
		maxAge:  maxAge,
		prices:  make(map[string]Record),
		feeders: make(map[uuid.UUID]struct{}),
	}
}

func (f *Feed) Owner() uuid.UUID { return f.owner }
func (f *Feed) MaxAge() int64    { return f.maxAge }

// UpdatePrice writes a new mark price for symbol.
func (f *Feed) UpdatePrice(tx *txn.Tx, caller uuid.UUID, symbol string, price fixed.Price) error {
	if caller != f.owner && !f.IsFeeder(caller) {
		return types.ErrUnauthorised.Wrapf("%s may not update prices", caller)
	}
	if symbol == "" {
		return types.ErrInvalidPrice.Wrap("empty symbol")
	}
	if price.IsZero() {
		return types.ErrInvalidPrice.Wrapf("zero price for %s", symbol)
	}

	rec := Record{Price: price, Updater: caller, UpdatedAt: tx.Now}
	txn.Put(tx, f.prices, symbol, rec)
	tx.Emit(&event.PriceUpdated{
		Symbol:    symbol,
		Price:     price,
		Updater:   caller,
		UpdatedAt: tx.Now,
	})
	return nil
}

// GetPrice returns the mark price for symbol as of now.
func (f *Feed) GetPrice(symbol string, now int64) (fixed.Price, error) {
	rec, ok := f.prices[symbol]
	if !ok {
		return fixed.Price{}, types.ErrPriceUnavailable.Wrapf("no price for %s", symbol)
	}
	if f.maxAge > 0 && now-rec.UpdatedAt > f.maxAge {
		return fixed.Price{}, types.ErrPriceUnavailable.Wrapf("price for %s is %ds old, max %ds",
			symbol, now-rec.UpdatedAt, f.maxAge)
	}
	return rec.Price, nil
}

// Record returns the raw record without staleness gating.
func (f *Feed) Record(symbol string) (Record, bool) {
	rec, ok := f.prices[symbol]
	return rec, ok
}

// AuthorizeFeeder whitelists addr. Idempotent.
func (f *Feed) AuthorizeFeeder(tx *txn.Tx, caller, addr uuid.UUID) error {
	if caller != f.owner {
		return types.ErrUnauthorised.Wrapf("%s is not the feed owner", caller)
	}
	if err := types.RequireAddress(addr, "feeder"); err != nil {
		return err
	}
	txn.Put(tx, f.feeders, addr, struct{}{})
	tx.Emit(&event.FeederAuthorized{Feeder: addr})
	return nil
}

// DeauthorizeFeeder removes addr from the whitelist. Idempotent.
func (f *Feed) DeauthorizeFeeder(tx *txn.Tx, caller, addr uuid.UUID) error {
	if caller != f.owner {
		return types.ErrUnauthorised.Wrapf("%s is not the feed owner", caller)
	}
	if err := types.RequireAddress(addr, "feeder"); err != nil {
		return err
	}
	txn.Delete(tx, f.feeders, addr)
	tx.Emit(&event.FeederDeauthorized{Feeder: addr})
	return nil
}

func (f *Feed) IsFeeder(addr uuid.UUID) bool {
	_, ok := f.feeders[addr]
	return ok
}

// Symbols lists every symbol with a price, sorted.
func (f *Feed) Symbols() []string {
	out := make([]string, 0, len(f.prices))
	for s := range f.prices {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Feeders lists authorised feeders in a deterministic order.
func (f *Feed) Feeders() []uuid.UUID {
	out := make([]uuid.UUID, 0, len(f.feeders))
	for a := range f.feeders {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Restore loads persisted state. Snapshot restore only.
func (f *Feed) Restore(prices map[string]Record, feeders []uuid.UUID) {
	for s, r := range prices {
		f.prices[s] = r
	}
	for _, a := range feeders {
		f.feeders[a] = struct{}{}
	}
}

// Prices returns a copy of every price record for snapshots.
func (f *Feed) Prices() map[string]Record {
	out := make(map[string]Record, len(f.prices))
	for s, r := range f.prices {
		out[s] = r
	}
	return out
}
