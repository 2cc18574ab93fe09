// Package market is the perpetual market: it opens, closes and liquidates
// isolated-margin positions against the liquidity pool and keeps the
// funding index.
package market

import (
	"PerpClearing/internal/event"
	"PerpClearing/internal/fixed"
	"PerpClearing/internal/txn"
	"PerpClearing/internal/types"
	"bytes"
	"fmt"
	"math"
	"sort"

	"github.com/google/uuid"
)

// PriceSource reads the mark price.
type PriceSource interface {
	GetPrice(symbol string, now int64) (fixed.Price, error)
}

// CollateralLedger is the part of the collateral ledger a market drives.
type CollateralLedger interface {
	Address() uuid.UUID
	Locked(user uuid.UUID) fixed.Quote
	Lock(tx *txn.Tx, market, user uuid.UUID, amount fixed.Quote) error
	Release(tx *txn.Tx, market, user uuid.UUID, amount fixed.Quote) error
	Seize(tx *txn.Tx, market, user uuid.UUID, amount fixed.Quote, recipient uuid.UUID) error
	SeizeFree(tx *txn.Tx, market, user uuid.UUID, amount fixed.Quote, recipient uuid.UUID) error
	CreditLocked(tx *txn.Tx, market, user uuid.UUID, amount fixed.Quote) error
	TransferLocked(tx *txn.Tx, market, from, to uuid.UUID, amount fixed.Quote) error
}

// LiquidityPool is the counterparty side of settlement.
type LiquidityPool interface {
	Address() uuid.UUID
	CollectFees(tx *txn.Tx, market uuid.UUID, gross fixed.Quote) error
	SettleTraderLoss(tx *txn.Tx, market uuid.UUID, amount fixed.Quote) error
	SettleTraderProfit(tx *txn.Tx, market uuid.UUID, amount fixed.Quote, recipient uuid.UUID) error
	UseInsuranceFund(tx *txn.Tx, market uuid.UUID, amount fixed.Quote) (fixed.Quote, bool, error)
}

// Market is one perpetual market. Not thread-safe: only accessed from the
// serialised engine.
type Market struct {
	address uuid.UUID
	owner   uuid.UUID
	params  Params

	feed   PriceSource
	ledger CollateralLedger
	pool   LiquidityPool

	positions map[uuid.UUID]Position
	oiLong    fixed.Quote
	oiShort   fixed.Quote

	fundingRate       fixed.Rate
	cumulativeFunding fixed.Rate
	lastFundingTime   int64

	tradingEnabled bool
}

func New(
	address, owner uuid.UUID,
	params Params,
	feed PriceSource,
	ledger CollateralLedger,
	pool LiquidityPool,
	genesis int64,
) (*Market, error) {
	if err := ValidateParams(params); err != nil {
		return nil, fmt.Errorf("invalid market params: %w", err)
	}
	return &Market{
		address:         address,
		owner:           owner,
		params:          params,
		feed:            feed,
		ledger:          ledger,
		pool:            pool,
		positions:       make(map[uuid.UUID]Position),
		lastFundingTime: genesis,
		tradingEnabled:  true,
	}, nil
}

func (m *Market) Address() uuid.UUID            { return m.address }
func (m *Market) Owner() uuid.UUID              { return m.owner }
func (m *Market) Params() Params                { return m.params }
func (m *Market) Symbol() string                { return m.params.Symbol }
func (m *Market) TradingEnabled() bool          { return m.tradingEnabled }
func (m *Market) FundingRate() fixed.Rate       { return m.fundingRate }
func (m *Market) CumulativeFunding() fixed.Rate { return m.cumulativeFunding }
func (m *Market) LastFundingTime() int64        { return m.lastFundingTime }

// OpenInterest returns the summed size of open longs and shorts.
func (m *Market) OpenInterest() (long, short fixed.Quote) {
	return m.oiLong, m.oiShort
}

// Position returns trader's open position.
func (m *Market) Position(trader uuid.UUID) (Position, bool) {
	pos, ok := m.positions[trader]
	return pos, ok
}

// Positions returns every open position in trader address order.
func (m *Market) Positions() []Position {
	out := make([]Position, 0, len(m.positions))
	for _, pos := range m.positions {
		out = append(out, pos)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].Trader[:], out[j].Trader[:]) < 0 })
	return out
}

// OpenPosition opens a position of size margin × leverage at the current
// mark price. The margin is locked and the trading fee is taken from the
// trader's free collateral.
func (m *Market) OpenPosition(tx *txn.Tx, trader uuid.UUID, margin fixed.Quote, leverage int64, isLong bool) error {
	if !m.tradingEnabled {
		return types.ErrTradingDisabled.Wrapf("market %s is paused", m.params.Symbol)
	}
	if margin <= 0 {
		return types.ErrZeroMargin.Wrap("margin must be greater than 0")
	}
	if leverage < MinLeverage || leverage > m.params.MaxLeverage {
		return types.ErrInvalidLeverage.Wrapf("leverage %d outside [%d, %d]", leverage, MinLeverage, m.params.MaxLeverage)
	}
	if _, ok := m.positions[trader]; ok {
		return types.ErrPositionExists.Wrapf("%s already has a position", trader)
	}
	if err := types.RequireAddress(trader, "trader"); err != nil {
		return err
	}
	if margin > math.MaxInt64/fixed.Quote(leverage) {
		return types.ErrArithmeticOverflow.Wrap("position size")
	}
	size := margin * fixed.Quote(leverage)

	price, err := m.feed.GetPrice(m.params.Symbol, tx.Now)
	if err != nil {
		return err
	}
	fee, err := fixed.MulPrice(size, m.params.FeeRate)
	if err != nil {
		return err
	}
	if err := m.settleFunding(tx); err != nil {
		return err
	}

	pos := Position{
		Trader:            trader,
		Size:              size,
		Margin:            margin,
		EntryPrice:        price,
		IsLong:            isLong,
		Leverage:          leverage,
		LastFundingCursor: m.cumulativeFunding,
		OpenedAt:          tx.Now,
	}
	txn.Put(tx, m.positions, trader, pos)
	m.addOpenInterest(tx, pos, size)

	if err := m.ledger.Lock(tx, m.address, trader, margin); err != nil {
		return err
	}
	if fee > 0 {
		if err := m.ledger.SeizeFree(tx, m.address, trader, fee, m.pool.Address()); err != nil {
			return err
		}
		if err := m.pool.CollectFees(tx, m.address, fee); err != nil {
			return err
		}
	}

	tx.Emit(&event.PositionOpened{
		Market:     m.address,
		Trader:     trader,
		Size:       size,
		Margin:     margin,
		IsLong:     isLong,
		EntryPrice: price,
		Fee:        fee,
	})
	return nil
}

// settlement is the money owed in both directions when a position ends.
type settlement struct {
	price   fixed.Price
	pnl     fixed.Quote // price PnL
	funding fixed.Quote // positive: trader pays
	fee     fixed.Quote
	profit  fixed.Quote // max(pnl − funding, 0), paid by the pool
	loss    fixed.Quote // max(funding − pnl, 0), owed to the pool
}

// owed is what the trader must pay the pool.
func (s settlement) owed() fixed.Quote { return s.loss + s.fee }

// net is the signed change to the trader's collateral.
func (s settlement) net() fixed.Quote { return s.pnl - s.fee - s.funding }

// liquidatable reports whether a third party may close the position: the
// price loss has reached the threshold share of margin, or funding and fee
// already owe more than the margin and profit can pay.
func (s settlement) liquidatable(margin fixed.Quote) bool {
	if s.pnl < 0 && fixed.AtLeastPct(-s.pnl, margin, LiquidationThresholdPct) {
		return true
	}
	return s.owed() > margin+s.profit
}

func (m *Market) settle(pos Position, price fixed.Price) (settlement, error) {
	return m.settleAt(pos, price, m.cumulativeFunding)
}

// settleAt computes the settlement against the funding index index.
func (m *Market) settleAt(pos Position, price fixed.Price, index fixed.Rate) (settlement, error) {
	pnl, err := fixed.PnL(pos.Size, pos.EntryPrice, price, pos.IsLong)
	if err != nil {
		return settlement{}, err
	}
	funding, err := fixed.FundingCharge(pos.Size, pos.LastFundingCursor, index, pos.IsLong)
	if err != nil {
		return settlement{}, err
	}
	fee, err := fixed.MulPrice(pos.Size, m.params.FeeRate)
	if err != nil {
		return settlement{}, err
	}
	s := settlement{price: price, pnl: pnl, funding: funding, fee: fee}
	if trade := pnl - funding; trade > 0 {
		s.profit = trade
	} else {
		s.loss = -trade
	}
	return s, nil
}

// ClosePosition settles the trader's position at the current mark price.
// Profit is paid by the pool; loss and fee are seized from margin and the
// remainder is released.
func (m *Market) ClosePosition(tx *txn.Tx, trader uuid.UUID) error {
	pos, ok := m.positions[trader]
	if !ok {
		return types.ErrNoPosition.Wrapf("%s has no position", trader)
	}
	if err := m.settleFunding(tx); err != nil {
		return err
	}
	price, err := m.feed.GetPrice(m.params.Symbol, tx.Now)
	if err != nil {
		return err
	}
	s, err := m.settle(pos, price)
	if err != nil {
		return err
	}
	available := pos.Margin + s.profit
	if s.owed() > available {
		return types.ErrPositionUnderwater.Wrapf("owes %s against %s", s.owed().Human(), available.Human())
	}

	txn.Delete(tx, m.positions, trader)
	m.addOpenInterest(tx, pos, -pos.Size)

	if err := m.payProfit(tx, trader, s.profit); err != nil {
		return err
	}
	if err := m.collect(tx, trader, s.owed(), s.loss, s.fee); err != nil {
		return err
	}
	if rest := available - s.owed(); rest > 0 {
		if err := m.ledger.Release(tx, m.address, trader, rest); err != nil {
			return err
		}
	}

	tx.Emit(&event.PositionClosed{
		Market:        m.address,
		Trader:        trader,
		Size:          pos.Size,
		Margin:        pos.Margin,
		IsLong:        pos.IsLong,
		ExitPrice:     price,
		PnL:           s.pnl,
		Fee:           s.fee,
		FundingCharge: s.funding,
		NetDelta:      s.net(),
	})
	return nil
}

// LiquidatePosition force-closes an unhealthy position. Margin pays the
// loss first, then the fee. Any shortfall is drawn from the insurance fund
// and socialised beyond that. What is left of the margin pays the
// liquidator's fee and the rest goes back to the trader.
func (m *Market) LiquidatePosition(tx *txn.Tx, liquidator, trader uuid.UUID) error {
	pos, ok := m.positions[trader]
	if !ok {
		return types.ErrNoPosition.Wrapf("%s has no position", trader)
	}
	if err := types.RequireAddress(liquidator, "liquidator"); err != nil {
		return err
	}
	if err := m.settleFunding(tx); err != nil {
		return err
	}
	price, err := m.feed.GetPrice(m.params.Symbol, tx.Now)
	if err != nil {
		return err
	}
	s, err := m.settle(pos, price)
	if err != nil {
		return err
	}
	if !s.liquidatable(pos.Margin) {
		return types.ErrNotLiquidatable.Wrapf("pnl %s, owes %s against margin %s", s.pnl.Human(), s.owed().Human(), pos.Margin.Human())
	}

	available := pos.Margin + s.profit
	seized := min(s.owed(), available)
	lossPaid := min(s.loss, seized)
	feePaid := seized - lossPaid
	badDebt := s.owed() - seized
	residual := available - seized
	liquidatorFee, err := fixed.MulPrice(residual, m.params.LiquidationFeeRate)
	if err != nil {
		return err
	}
	returned := residual - liquidatorFee

	txn.Delete(tx, m.positions, trader)
	m.addOpenInterest(tx, pos, -pos.Size)

	if err := m.payProfit(tx, trader, s.profit); err != nil {
		return err
	}
	if err := m.collect(tx, trader, seized, lossPaid, feePaid); err != nil {
		return err
	}
	var covered fixed.Quote
	if badDebt > 0 {
		if covered, _, err = m.pool.UseInsuranceFund(tx, m.address, badDebt); err != nil {
			return err
		}
	}
	if liquidatorFee > 0 {
		if err := m.ledger.TransferLocked(tx, m.address, trader, liquidator, liquidatorFee); err != nil {
			return err
		}
	}
	if returned > 0 {
		if err := m.ledger.Release(tx, m.address, trader, returned); err != nil {
			return err
		}
	}

	tx.Emit(&event.PositionLiquidated{
		Market:           m.address,
		Trader:           trader,
		Liquidator:       liquidator,
		Size:             pos.Size,
		Margin:           pos.Margin,
		IsLong:           pos.IsLong,
		Price:            price,
		PnL:              s.pnl,
		Fee:              s.fee,
		FundingCharge:    s.funding,
		Seized:           seized,
		BadDebt:          badDebt,
		InsuranceCovered: covered,
		LiquidatorFee:    liquidatorFee,
		Returned:         returned,
	})
	return nil
}

// payProfit moves a trader profit from the pool into custody and books it
// to the trader's locked balance.
func (m *Market) payProfit(tx *txn.Tx, trader uuid.UUID, profit fixed.Quote) error {
	if profit <= 0 {
		return nil
	}
	if err := m.pool.SettleTraderProfit(tx, m.address, profit, m.ledger.Address()); err != nil {
		return err
	}
	return m.ledger.CreditLocked(tx, m.address, trader, profit)
}

// collect seizes amount from the trader's locked balance into the pool and
// books it as loss and fee.
func (m *Market) collect(tx *txn.Tx, trader uuid.UUID, amount, loss, fee fixed.Quote) error {
	if amount <= 0 {
		return nil
	}
	if err := m.ledger.Seize(tx, m.address, trader, amount, m.pool.Address()); err != nil {
		return err
	}
	if loss > 0 {
		if err := m.pool.SettleTraderLoss(tx, m.address, loss); err != nil {
			return err
		}
	}
	if fee > 0 {
		if err := m.pool.CollectFees(tx, m.address, fee); err != nil {
			return err
		}
	}
	return nil
}

func (m *Market) addOpenInterest(tx *txn.Tx, pos Position, delta fixed.Quote) {
	if pos.IsLong {
		txn.Set(tx, &m.oiLong, m.oiLong+delta)
	} else {
		txn.Set(tx, &m.oiShort, m.oiShort+delta)
	}
}

// PauseTrading blocks new positions. Closing and liquidation continue.
func (m *Market) PauseTrading(tx *txn.Tx, caller uuid.UUID) error {
	if caller != m.owner {
		return types.ErrUnauthorised.Wrapf("%s is not the market owner", caller)
	}
	txn.Set(tx, &m.tradingEnabled, false)
	tx.Emit(&event.MarketPaused{Market: m.address, By: caller})
	return nil
}

func (m *Market) ResumeTrading(tx *txn.Tx, caller uuid.UUID) error {
	if caller != m.owner {
		return types.ErrUnauthorised.Wrapf("%s is not the market owner", caller)
	}
	txn.Set(tx, &m.tradingEnabled, true)
	tx.Emit(&event.MarketResumed{Market: m.address, By: caller})
	return nil
}

// preview settles trader's position at now without mutating anything,
// including the funding a close at now would roll forward first.
func (m *Market) preview(trader uuid.UUID, now int64) (Position, settlement, error) {
	pos, ok := m.positions[trader]
	if !ok {
		return Position{}, settlement{}, types.ErrNoPosition.Wrapf("%s has no position", trader)
	}
	price, err := m.feed.GetPrice(m.params.Symbol, now)
	if err != nil {
		return Position{}, settlement{}, err
	}
	index, err := m.fundingIndexAt(now)
	if err != nil {
		return Position{}, settlement{}, err
	}
	s, err := m.settleAt(pos, price, index)
	return pos, s, err
}

// UnrealizedPnL returns the price PnL and the funding trader would be
// charged by a close at now.
func (m *Market) UnrealizedPnL(trader uuid.UUID, now int64) (pnl, funding fixed.Quote, err error) {
	_, s, err := m.preview(trader, now)
	if err != nil {
		return 0, 0, err
	}
	return s.pnl, s.funding, nil
}

// IsLiquidatable evaluates the liquidation condition at now without
// mutating anything.
func (m *Market) IsLiquidatable(trader uuid.UUID, now int64) (bool, error) {
	pos, s, err := m.preview(trader, now)
	if err != nil {
		return false, err
	}
	return s.liquidatable(pos.Margin), nil
}

// LiquidationPrice is the mark price at which pos becomes liquidatable.
func LiquidationPrice(pos Position) (fixed.Price, error) {
	return fixed.LiquidationPrice(pos.EntryPrice, pos.Size, pos.Margin, LiquidationThresholdPct, pos.IsLong)
}

// CheckInvariants verifies open interest matches the position book and
// every position's margin is still locked.
func (m *Market) CheckInvariants() error {
	var long, short fixed.Quote
	locked := make(map[uuid.UUID]fixed.Quote)
	for trader, pos := range m.positions {
		if pos.Trader != trader {
			return fmt.Errorf("position keyed %s belongs to %s", trader, pos.Trader)
		}
		if pos.Size <= 0 || pos.Margin <= 0 || pos.EntryPrice.IsZero() {
			return fmt.Errorf("position %s malformed: size=%d margin=%d entry=%s", trader, pos.Size, pos.Margin, pos.EntryPrice)
		}
		if pos.IsLong {
			long += pos.Size
		} else {
			short += pos.Size
		}
		locked[trader] += pos.Margin
	}
	if long != m.oiLong || short != m.oiShort {
		return fmt.Errorf("open interest %d/%d != positions %d/%d", m.oiLong, m.oiShort, long, short)
	}
	for trader, margin := range locked {
		if got := m.ledger.Locked(trader); got < margin {
			return fmt.Errorf("trader %s locked %d below margin %d", trader, got, margin)
		}
	}
	return nil
}

// Snapshot is the persisted market state.
type Snapshot struct {
	Params            Params      `json:"params"`
	Positions         []Position  `json:"positions"`
	OpenInterestLong  fixed.Quote `json:"open_interest_long"`
	OpenInterestShort fixed.Quote `json:"open_interest_short"`
	FundingRate       fixed.Rate  `json:"funding_rate"`
	CumulativeFunding fixed.Rate  `json:"cumulative_funding"`
	LastFundingTime   int64       `json:"last_funding_time"`
	TradingEnabled    bool        `json:"trading_enabled"`
}

func (m *Market) Snapshot() Snapshot {
	return Snapshot{
		Params:            m.params,
		Positions:         m.Positions(),
		OpenInterestLong:  m.oiLong,
		OpenInterestShort: m.oiShort,
		FundingRate:       m.fundingRate,
		CumulativeFunding: m.cumulativeFunding,
		LastFundingTime:   m.lastFundingTime,
		TradingEnabled:    m.tradingEnabled,
	}
}

// Restore loads persisted state. Snapshot restore only.
func (m *Market) Restore(s Snapshot) {
	m.params = s.Params
	for _, pos := range s.Positions {
		m.positions[pos.Trader] = pos
	}
	m.oiLong = s.OpenInterestLong
	m.oiShort = s.OpenInterestShort
	m.fundingRate = s.FundingRate
	m.cumulativeFunding = s.CumulativeFunding
	m.lastFundingTime = s.LastFundingTime
	m.tradingEnabled = s.TradingEnabled
}
