package keeper

import (
	"PerpClearing/internal/fixed"
	"bytes"
	"sort"

	"github.com/google/btree"
	"github.com/google/uuid"
)

const btreeDegree = 32

// entry is one open position keyed by its liquidation price.
type entry struct {
	liq    fixed.Price
	trader uuid.UUID
	size   fixed.Quote
	isLong bool
}

// less orders by liquidation price, then trader bytes, so two positions
// sharing a price are distinct items.
func less(a, b entry) bool {
	if c := a.liq.Cmp(b.liq); c != 0 {
		return c < 0
	}
	return bytes.Compare(a.trader[:], b.trader[:]) < 0
}

// Index holds open positions by liquidation price, one tree per side.
// A long is liquidatable once the mark falls to its price, a short once the
// mark rises to it. Not thread-safe.
type Index struct {
	longs    *btree.BTreeG[entry]
	shorts   *btree.BTreeG[entry]
	byTrader map[uuid.UUID]entry
}

func NewIndex() *Index {
	return &Index{
		longs:    btree.NewG(btreeDegree, less),
		shorts:   btree.NewG(btreeDegree, less),
		byTrader: make(map[uuid.UUID]entry),
	}
}

func (ix *Index) side(isLong bool) *btree.BTreeG[entry] {
	if isLong {
		return ix.longs
	}
	return ix.shorts
}

// Put indexes a position, replacing any previous one of the same trader.
func (ix *Index) Put(trader uuid.UUID, liq fixed.Price, size fixed.Quote, isLong bool) {
	ix.Remove(trader)
	e := entry{liq: liq, trader: trader, size: size, isLong: isLong}
	ix.side(isLong).ReplaceOrInsert(e)
	ix.byTrader[trader] = e
}

func (ix *Index) Remove(trader uuid.UUID) {
	e, ok := ix.byTrader[trader]
	if !ok {
		return
	}
	ix.side(e.isLong).Delete(e)
	delete(ix.byTrader, trader)
}

func (ix *Index) Len() int { return len(ix.byTrader) }

// Traders lists indexed traders in address order.
func (ix *Index) Traders() []uuid.UUID {
	out := make([]uuid.UUID, 0, len(ix.byTrader))
	for trader := range ix.byTrader {
		out = append(out, trader)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}

// OpenInterest sums indexed position sizes.
func (ix *Index) OpenInterest() fixed.Quote {
	var oi fixed.Quote
	for _, e := range ix.byTrader {
		oi += e.size
	}
	return oi
}

// Crossed returns the traders whose liquidation price the mark has reached,
// longs first, each side from the deepest cross.
func (ix *Index) Crossed(mark fixed.Price) []uuid.UUID {
	var out []uuid.UUID
	ix.longs.Descend(func(e entry) bool {
		if e.liq.Lt(mark) {
			return false
		}
		out = append(out, e.trader)
		return true
	})
	ix.shorts.Ascend(func(e entry) bool {
		if e.liq.Gt(mark) {
			return false
		}
		out = append(out, e.trader)
		return true
	})
	return out
}
