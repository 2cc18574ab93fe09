package core

import (
	"PerpClearing/internal/fixed"
	"bytes"
	"sort"

	"github.com/google/uuid"
)

// stateDigest creates canonical bytes for the state hash. Every collection
// is walked in a fixed order so equal states give equal digests.
func (e *Engine) stateDigest() []byte {
	digest := make([]byte, 0, 4096)
	digest = appendInt64LE(digest, e.clock)

	// Token balances, by scope then holder
	tok := e.c.token
	for _, key := range tok.Tracker().Keys() {
		path := key.AccountPath(tok.Symbol())
		digest = appendString(digest, path)
		digest = appendInt64LE(digest, int64(tok.Tracker().GetBalance(key)))
	}
	for _, a := range tok.Allowances() {
		digest = append(digest, a.Owner[:]...)
		digest = append(digest, a.Spender[:]...)
		digest = appendInt64LE(digest, int64(a.Amount))
	}

	// Price feed
	for _, symbol := range e.c.feed.Symbols() {
		rec, _ := e.c.feed.Record(symbol)
		digest = appendString(digest, symbol)
		digest = appendPrice(digest, rec.Price)
		digest = append(digest, rec.Updater[:]...)
		digest = appendInt64LE(digest, rec.UpdatedAt)
	}
	for _, f := range e.c.feed.Feeders() {
		digest = append(digest, f[:]...)
	}

	// Collateral ledger
	for _, user := range e.c.ledger.Users() {
		a := e.c.ledger.Account(user)
		digest = append(digest, user[:]...)
		for _, v := range []fixed.Quote{a.Free, a.Locked, a.Deposited, a.Withdrawn, a.Credited, a.Debited} {
			digest = appendInt64LE(digest, int64(v))
		}
	}
	for _, m := range e.c.ledger.Markets() {
		digest = append(digest, m[:]...)
	}

	// Liquidity pool
	ps := e.c.pool.Snapshot()
	digest = appendInt64LE(digest, int64(ps.TotalLiquidity))
	digest = appendInt64LE(digest, int64(ps.InsuranceFund))
	digest = appendPrice(digest, ps.Params.FeeRate)
	digest = appendPrice(digest, ps.Params.InsuranceFundRate)
	digest = appendPrice(digest, ps.Params.Utilisation)
	digest = appendPrice(digest, ps.RewardIndex)
	for _, addr := range sortedUUIDs(ps.Providers) {
		rec := ps.Providers[addr]
		digest = append(digest, addr[:]...)
		digest = appendInt64LE(digest, int64(rec.Amount))
		digest = appendPrice(digest, rec.SharePct)
		digest = appendInt64LE(digest, int64(rec.RewardsAccrued))
		digest = appendPrice(digest, rec.LastRewardCursor)
	}
	for _, m := range ps.Markets {
		digest = append(digest, m[:]...)
	}

	// Market
	mkt := e.c.market
	for _, pos := range mkt.Positions() {
		digest = append(digest, pos.CanonicalBytes()...)
	}
	long, short := mkt.OpenInterest()
	digest = appendInt64LE(digest, int64(long))
	digest = appendInt64LE(digest, int64(short))
	rate := mkt.FundingRate().Bytes32()
	digest = append(digest, rate[:]...)
	cumulative := mkt.CumulativeFunding().Bytes32()
	digest = append(digest, cumulative[:]...)
	digest = appendInt64LE(digest, mkt.LastFundingTime())
	if mkt.TradingEnabled() {
		digest = append(digest, 1)
	} else {
		digest = append(digest, 0)
	}

	return digest
}

func sortedUUIDs[V any](m map[uuid.UUID]V) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}

func appendString(buf []byte, s string) []byte {
	buf = append(buf, byte(len(s)))
	return append(buf, s...)
}

func appendPrice(buf []byte, p fixed.Price) []byte {
	b := p.Bytes32()
	return append(buf, b[:]...)
}

func appendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}
