package market

import (
	"PerpClearing/internal/event"
	"PerpClearing/internal/fixed"
	"PerpClearing/internal/txn"
)

// settleFunding rolls the funding index forward when more than one interval
// has passed since the last recomputation. The index accrues at the rate in
// force over the elapsed window; the new rate is then derived from the open
// interest as it stands before the calling operation mutates it.
func (m *Market) settleFunding(tx *txn.Tx) error {
	elapsed := tx.Now - m.lastFundingTime
	if elapsed <= m.params.FundingInterval {
		return nil
	}

	delta, err := fixed.FundingIndexDelta(m.fundingRate, elapsed, m.params.FundingInterval)
	if err != nil {
		return err
	}
	rate, err := fixed.FundingRate(m.oiLong, m.oiShort, m.params.FundingRateFactor)
	if err != nil {
		return err
	}

	txn.Set(tx, &m.cumulativeFunding, m.cumulativeFunding.Add(delta))
	txn.Set(tx, &m.lastFundingTime, tx.Now)
	if rate.Eq(m.fundingRate) {
		return nil
	}
	txn.Set(tx, &m.fundingRate, rate)

	tx.Emit(&event.FundingRateUpdated{
		Market:            m.address,
		Rate:              rate,
		CumulativeFunding: m.cumulativeFunding,
		OpenInterestLong:  m.oiLong,
		OpenInterestShort: m.oiShort,
		Timestamp:         tx.Now,
	})
	return nil
}

// SettleFunding is the public keeper poke: it only advances funding.
func (m *Market) SettleFunding(tx *txn.Tx) error {
	return m.settleFunding(tx)
}

// fundingIndexAt is the cumulative index settleFunding would leave at now.
func (m *Market) fundingIndexAt(now int64) (fixed.Rate, error) {
	elapsed := now - m.lastFundingTime
	if elapsed <= m.params.FundingInterval {
		return m.cumulativeFunding, nil
	}
	delta, err := fixed.FundingIndexDelta(m.fundingRate, elapsed, m.params.FundingInterval)
	if err != nil {
		return fixed.Rate{}, err
	}
	return m.cumulativeFunding.Add(delta), nil
}
