// Package pool is the shared counterparty: it takes the other side of
// trader PnL, distributes trading fees to liquidity providers by share,
// and keeps the insurance fund of last resort.
package pool

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

// Registry names the pool in MarketAuthorized events.
const Registry = "pool"

var (
	MaxFeeRate           = fixed.MustParsePrice("0.05")
	MaxInsuranceFundRate = fixed.MustParsePrice("0.02")

	DefaultFeeRate           = fixed.MustParsePrice("0.005")
	DefaultInsuranceFundRate = fixed.MustParsePrice("0.01")
)

// Token is the slice of the quote token the pool needs.
type Token interface {
	Transfer(tx *txn.Tx, from, to uuid.UUID, amount fixed.Quote) error
	TransferFrom(tx *txn.Tx, spender, from, to uuid.UUID, amount fixed.Quote) error
	BalanceOf(holder uuid.UUID) fixed.Quote
}

// Provider is one liquidity provider's record. Records persist with zero
// amount after a full withdrawal. LastRewardCursor records the reward index
// at the provider's last credit; fee distribution credits RewardsAccrued
// directly and never reads it.
type Provider struct {
	Amount           fixed.Quote `json:"amount"`
	SharePct         fixed.Price `json:"share_pct"`
	RewardsAccrued   fixed.Quote `json:"rewards_accrued"`
	LastRewardCursor fixed.Price `json:"last_reward_cursor"`
}

// Params are the pool's admin-tunable rates. FeeRate is an admin setting
// reported to readers; the trading fee itself is the market's fee rate and
// the LP share of it is whatever the insurance cut leaves.
type Params struct {
	FeeRate           fixed.Price `json:"fee_rate"`
	InsuranceFundRate fixed.Price `json:"insurance_fund_rate"`
	Utilisation       fixed.Price `json:"utilisation"`
}

// DefaultParams are the production deployment values.
func DefaultParams() Params {
	return Params{
		FeeRate:           DefaultFeeRate,
		InsuranceFundRate: DefaultInsuranceFundRate,
	}
}

// Pool is the liquidity pool. Not thread-safe: only accessed from the
// serialised engine.
type Pool struct {
	address uuid.UUID
	owner   uuid.UUID
	token   Token

	totalLiquidity fixed.Quote
	insuranceFund  fixed.Quote
	params         Params
	rewardIndex    fixed.Price // cumulative LP fees per unit of liquidity; informational, rewards are credited directly

	providers map[uuid.UUID]Provider
	markets   map[uuid.UUID]struct{}
}

func New(address, owner uuid.UUID, token Token, params Params) *Pool {
	return &Pool{
		address:   address,
		owner:     owner,
		token:     token,
		params:    params,
		providers: make(map[uuid.UUID]Provider),
		markets:   make(map[uuid.UUID]struct{}),
	}
}

func (p *Pool) Address() uuid.UUID             { return p.address }
func (p *Pool) Owner() uuid.UUID               { return p.owner }
func (p *Pool) TotalLiquidity() fixed.Quote    { return p.totalLiquidity }
func (p *Pool) InsuranceFund() fixed.Quote     { return p.insuranceFund }
func (p *Pool) Utilisation() fixed.Price       { return p.params.Utilisation }
func (p *Pool) FeeRate() fixed.Price           { return p.params.FeeRate }
func (p *Pool) InsuranceFundRate() fixed.Price { return p.params.InsuranceFundRate }
func (p *Pool) RewardIndex() fixed.Price       { return p.rewardIndex }
func (p *Pool) Params() Params                 { return p.params }

// ProviderInfo returns (amount, sharePct, rewardsAccrued) for provider.
func (p *Pool) ProviderInfo(provider uuid.UUID) (fixed.Quote, fixed.Price, fixed.Quote) {
	rec := p.providers[provider]
	return rec.Amount, rec.SharePct, rec.RewardsAccrued
}

// Provider returns the full record.
func (p *Pool) Provider(provider uuid.UUID) (Provider, bool) {
	rec, ok := p.providers[provider]
	return rec, ok
}

// AddLiquidity deposits amount and renormalises every share to the
// provider's fraction of total principal. While no trader PnL has moved
// liquidity away from principal this is the dilution T / (T + amount).
func (p *Pool) AddLiquidity(tx *txn.Tx, provider uuid.UUID, amount fixed.Quote) error {
	if err := types.RequireAddress(provider, "provider"); err != nil {
		return err
	}
	if amount <= 0 {
		return types.ErrZeroAmount.Wrap("amount must be greater than 0")
	}
	total := p.totalLiquidity
	if total > math.MaxInt64-amount {
		return types.ErrArithmeticOverflow.Wrap("total liquidity")
	}

	rec := p.providers[provider]
	rec.Amount += amount
	rec.LastRewardCursor = p.rewardIndex
	txn.Put(tx, p.providers, provider, rec)
	txn.Set(tx, &p.totalLiquidity, total+amount)
	if err := p.renormalise(tx); err != nil {
		return err
	}

	if err := p.token.TransferFrom(tx, p.address, provider, p.address, amount); err != nil {
		return fmt.Errorf("pull liquidity: %w", err)
	}
	tx.Emit(&event.LiquidityAdded{
		Provider: provider,
		Amount:   amount,
		SharePct: p.providers[provider].SharePct,
	})
	return nil
}

// RemoveLiquidity withdraws amount of the provider's principal. Blocked
// when it exceeds the unutilised part of the pool.
func (p *Pool) RemoveLiquidity(tx *txn.Tx, provider uuid.UUID, amount fixed.Quote) error {
	if amount <= 0 {
		return types.ErrZeroAmount.Wrap("amount must be greater than 0")
	}
	rec, ok := p.providers[provider]
	if !ok || amount > rec.Amount {
		return types.ErrInsufficientLiquidity.Wrapf("provided %s, requested %s", rec.Amount.Human(), amount.Human())
	}
	total := p.totalLiquidity
	committed, err := fixed.MulPrice(total, p.params.Utilisation)
	if err != nil {
		return err
	}
	if available := total - committed; amount > available {
		return types.ErrPoolOverUtilised.Wrapf("available %s, requested %s", available.Human(), amount.Human())
	}

	rec.Amount -= amount
	txn.Put(tx, p.providers, provider, rec)
	txn.Set(tx, &p.totalLiquidity, total-amount)
	if err := p.renormalise(tx); err != nil {
		return err
	}

	if err := p.token.Transfer(tx, p.address, provider, amount); err != nil {
		return fmt.Errorf("pay liquidity: %w", err)
	}
	tx.Emit(&event.LiquidityRemoved{
		Provider: provider,
		Amount:   amount,
		SharePct: p.providers[provider].SharePct,
	})
	return nil
}

// renormalise sets every share to amount / Σ amount, rounded down, then
// hands the truncation residue to the sink. Shares follow principal, not
// the current liquidity, so trader PnL moving totalLiquidity never shifts
// ownership between providers.
func (p *Pool) renormalise(tx *txn.Tx) error {
	var principal fixed.Quote
	for _, rec := range p.providers {
		principal += rec.Amount
	}
	for _, addr := range p.sortedProviders() {
		rec := p.providers[addr]
		pct := fixed.Price{}
		if principal > 0 && rec.Amount > 0 {
			var err error
			if pct, err = fixed.Ratio(rec.Amount, principal); err != nil {
				return err
			}
		}
		if pct.Eq(rec.SharePct) {
			continue
		}
		rec.SharePct = pct
		txn.Put(tx, p.providers, addr, rec)
	}
	p.absorbRounding(tx)
	return nil
}

// absorbRounding credits the residue PRECISION − Σ sharePct to the sink so
// shares sum to exactly 1 while the pool holds liquidity. After
// renormalise the residue is below one unit per provider.
func (p *Pool) absorbRounding(tx *txn.Tx) {
	if p.totalLiquidity <= 0 {
		return
	}
	sink, ok := p.sink()
	if !ok {
		return
	}
	sum := p.shareSum()
	one := fixed.Precision()
	if sum.Eq(one) {
		return
	}
	rec := p.providers[sink]
	if sum.Lt(one) {
		rec.SharePct = rec.SharePct.Add(one.Sub(sum))
	} else {
		rec.SharePct = rec.SharePct.Sub(sum.Sub(one))
	}
	txn.Put(tx, p.providers, sink, rec)
}

// sink is the provider with the largest share; ties go to the lowest
// address bytes.
func (p *Pool) sink() (uuid.UUID, bool) {
	var best uuid.UUID
	var bestPct fixed.Price
	found := false
	for _, addr := range p.sortedProviders() {
		rec := p.providers[addr]
		if rec.SharePct.IsZero() {
			continue
		}
		if !found || rec.SharePct.Gt(bestPct) {
			best, bestPct, found = addr, rec.SharePct, true
		}
	}
	return best, found
}

// Sink exposes the current rounding sink.
func (p *Pool) Sink() (uuid.UUID, bool) {
	return p.sink()
}

func (p *Pool) shareSum() fixed.Price {
	var sum fixed.Price
	for _, rec := range p.providers {
		sum = sum.Add(rec.SharePct)
	}
	return sum
}

// CollectFees books a gross fee whose tokens the pool already holds:
// insurance share to the fund, the rest to providers by share.
func (p *Pool) CollectFees(tx *txn.Tx, market uuid.UUID, gross fixed.Quote) error {
	if err := p.requireMarket(market); err != nil {
		return err
	}
	if gross <= 0 {
		return types.ErrZeroAmount.Wrap("fee must be greater than 0")
	}
	insurance, err := fixed.MulPrice(gross, p.params.InsuranceFundRate)
	if err != nil {
		return err
	}
	lp := gross - insurance

	distributed, err := p.distributeRewards(tx, lp)
	if err != nil {
		return err
	}
	// With no shareholders the LP share has nobody to go to.
	insurance += lp - distributed
	txn.Set(tx, &p.insuranceFund, p.insuranceFund+insurance)

	tx.Emit(&event.FeesCollected{
		Market:         market,
		Gross:          gross,
		InsuranceShare: insurance,
		LPShare:        distributed,
	})
	return nil
}

// distributeRewards credits lp across providers by share, residue to the
// sink. Returns what was credited.
func (p *Pool) distributeRewards(tx *txn.Tx, lp fixed.Quote) (fixed.Quote, error) {
	if lp <= 0 {
		return 0, nil
	}
	sink, ok := p.sink()
	if !ok {
		return 0, nil
	}
	if p.totalLiquidity > 0 {
		step, err := fixed.Ratio(lp, p.totalLiquidity)
		if err != nil {
			return 0, err
		}
		txn.Set(tx, &p.rewardIndex, p.rewardIndex.Add(step))
	}

	var credited fixed.Quote
	for _, addr := range p.sortedProviders() {
		rec := p.providers[addr]
		if rec.SharePct.IsZero() {
			continue
		}
		share, err := fixed.MulPrice(lp, rec.SharePct)
		if err != nil {
			return 0, err
		}
		rec.RewardsAccrued += share
		rec.LastRewardCursor = p.rewardIndex
		txn.Put(tx, p.providers, addr, rec)
		credited += share
	}
	if residue := lp - credited; residue > 0 {
		rec := p.providers[sink]
		rec.RewardsAccrued += residue
		txn.Put(tx, p.providers, sink, rec)
	}
	return lp, nil
}

// SettleTraderLoss books a trader loss whose tokens the pool already holds.
func (p *Pool) SettleTraderLoss(tx *txn.Tx, market uuid.UUID, amount fixed.Quote) error {
	if err := p.requireMarket(market); err != nil {
		return err
	}
	if amount <= 0 {
		return types.ErrZeroAmount.Wrap("loss must be greater than 0")
	}
	txn.Set(tx, &p.totalLiquidity, p.totalLiquidity+amount)
	tx.Emit(&event.TraderLossSettled{Market: market, Amount: amount})
	return nil
}

// SettleTraderProfit pays a trader profit out of pool liquidity to
// recipient. The insurance fund is not part of totalLiquidity and is never
// used for profits.
func (p *Pool) SettleTraderProfit(tx *txn.Tx, market uuid.UUID, amount fixed.Quote, recipient uuid.UUID) error {
	if err := p.requireMarket(market); err != nil {
		return err
	}
	if amount <= 0 {
		return types.ErrZeroAmount.Wrap("profit must be greater than 0")
	}
	if amount > p.totalLiquidity {
		return types.ErrInsufficientPoolLiquidity.Wrapf("liquidity %s, profit %s",
			p.totalLiquidity.Human(), amount.Human())
	}
	txn.Set(tx, &p.totalLiquidity, p.totalLiquidity-amount)
	if err := p.token.Transfer(tx, p.address, recipient, amount); err != nil {
		return fmt.Errorf("pay profit: %w", err)
	}
	tx.Emit(&event.TraderProfitSettled{Market: market, Amount: amount, Recipient: recipient})
	return nil
}

// UseInsuranceFund moves up to amount from the insurance fund into
// liquidity to cover bad debt. Reports false when the fund is empty.
func (p *Pool) UseInsuranceFund(tx *txn.Tx, market uuid.UUID, amount fixed.Quote) (fixed.Quote, bool, error) {
	if err := p.requireMarket(market); err != nil {
		return 0, false, err
	}
	if amount <= 0 {
		return 0, false, types.ErrZeroAmount.Wrap("amount must be greater than 0")
	}
	if p.insuranceFund == 0 {
		return 0, false, nil
	}
	covered, _ := ComputeCoverage(p.insuranceFund, amount)
	txn.Set(tx, &p.insuranceFund, p.insuranceFund-covered)
	txn.Set(tx, &p.totalLiquidity, p.totalLiquidity+covered)
	tx.Emit(&event.InsuranceFundUsed{Market: market, Requested: amount, Covered: covered})
	return covered, true, nil
}

// ClaimRewards pays out and zeros the provider's accrued rewards.
func (p *Pool) ClaimRewards(tx *txn.Tx, provider uuid.UUID) error {
	rec := p.providers[provider]
	if rec.RewardsAccrued <= 0 {
		return types.ErrZeroAmount.Wrap("no rewards to claim")
	}
	amount := rec.RewardsAccrued
	rec.RewardsAccrued = 0
	txn.Put(tx, p.providers, provider, rec)
	if err := p.token.Transfer(tx, p.address, provider, amount); err != nil {
		return fmt.Errorf("pay rewards: %w", err)
	}
	tx.Emit(&event.RewardPaid{Provider: provider, Amount: amount})
	return nil
}

// UpdateUtilisation sets the share of liquidity committed to positions.
func (p *Pool) UpdateUtilisation(tx *txn.Tx, caller uuid.UUID, rate fixed.Price) error {
	if err := p.requireOwner(caller); err != nil {
		return err
	}
	if rate.Gt(fixed.Precision()) {
		return types.ErrRateOutOfRange.Wrapf("utilisation %s exceeds 100%%", rate.Human())
	}
	txn.Set(tx, &p.params.Utilisation, rate)
	tx.Emit(&event.UtilizationRateUpdated{Rate: rate})
	return nil
}

// UpdateFeeRate sets the LP fee rate, bounded by 5%.
func (p *Pool) UpdateFeeRate(tx *txn.Tx, caller uuid.UUID, rate fixed.Price) error {
	if err := p.requireOwner(caller); err != nil {
		return err
	}
	if rate.Gt(MaxFeeRate) {
		return types.ErrRateOutOfRange.Wrapf("fee rate %s exceeds %s", rate.Human(), MaxFeeRate.Human())
	}
	txn.Set(tx, &p.params.FeeRate, rate)
	tx.Emit(&event.FeeRateUpdated{Rate: rate})
	return nil
}

// UpdateInsuranceFundRate sets the insurance share of fees, bounded by 2%.
func (p *Pool) UpdateInsuranceFundRate(tx *txn.Tx, caller uuid.UUID, rate fixed.Price) error {
	if err := p.requireOwner(caller); err != nil {
		return err
	}
	if rate.Gt(MaxInsuranceFundRate) {
		return types.ErrRateOutOfRange.Wrapf("insurance fund rate %s exceeds %s",
			rate.Human(), MaxInsuranceFundRate.Human())
	}
	txn.Set(tx, &p.params.InsuranceFundRate, rate)
	tx.Emit(&event.InsuranceFundRateUpdated{Rate: rate})
	return nil
}

// AuthorizeMarket lets market call the settlement entry points.
func (p *Pool) AuthorizeMarket(tx *txn.Tx, caller, market uuid.UUID) error {
	if err := p.requireOwner(caller); err != nil {
		return err
	}
	if err := types.RequireAddress(market, "market"); err != nil {
		return err
	}
	txn.Put(tx, p.markets, market, struct{}{})
	tx.Emit(&event.MarketAuthorized{Registry: Registry, Market: market})
	return nil
}

func (p *Pool) DeauthorizeMarket(tx *txn.Tx, caller, market uuid.UUID) error {
	if err := p.requireOwner(caller); err != nil {
		return err
	}
	if err := types.RequireAddress(market, "market"); err != nil {
		return err
	}
	txn.Delete(tx, p.markets, market)
	tx.Emit(&event.MarketDeauthorized{Registry: Registry, Market: market})
	return nil
}

func (p *Pool) IsAuthorizedMarket(market uuid.UUID) bool {
	_, ok := p.markets[market]
	return ok
}

func (p *Pool) requireMarket(market uuid.UUID) error {
	if !p.IsAuthorizedMarket(market) {
		return types.ErrNotAuthorizedMarket.Wrapf("%s", market)
	}
	return nil
}

func (p *Pool) requireOwner(caller uuid.UUID) error {
	if caller != p.owner {
		return types.ErrUnauthorised.Wrapf("%s is not the pool owner", caller)
	}
	return nil
}

func (p *Pool) sortedProviders() []uuid.UUID {
	out := make([]uuid.UUID, 0, len(p.providers))
	for addr := range p.providers {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}

// Providers lists every provider ever seen, in address order.
func (p *Pool) Providers() []uuid.UUID {
	return p.sortedProviders()
}

// CheckInvariants verifies share normalisation and that the pool's token
// balance equals liquidity plus insurance plus unclaimed rewards.
func (p *Pool) CheckInvariants() error {
	var rewards, principal fixed.Quote
	withShare := 0
	for addr, rec := range p.providers {
		if rec.Amount < 0 || rec.RewardsAccrued < 0 {
			return fmt.Errorf("provider %s has negative balance: amount=%d rewards=%d", addr, rec.Amount, rec.RewardsAccrued)
		}
		rewards += rec.RewardsAccrued
		principal += rec.Amount
		if !rec.SharePct.IsZero() {
			withShare++
		}
	}
	if p.totalLiquidity < 0 || p.insuranceFund < 0 {
		return fmt.Errorf("pool totals negative: liquidity=%d insurance=%d", p.totalLiquidity, p.insuranceFund)
	}
	if p.totalLiquidity > 0 && withShare > 0 {
		sum := p.shareSum()
		one := fixed.Precision()
		diff := sum.Sub(one).Add(one.Sub(sum))
		if diff.Gt(fixed.NewPrice(uint64(len(p.providers)))) {
			return fmt.Errorf("share sum %s deviates from 1 by %s", sum, diff)
		}
	}
	want := p.totalLiquidity + p.insuranceFund + rewards
	if got := p.token.BalanceOf(p.address); got != want {
		return fmt.Errorf("pool token balance %d != liquidity+insurance+rewards %d", got, want)
	}
	return nil
}

// Snapshot is the persisted pool state.
type Snapshot struct {
	TotalLiquidity fixed.Quote            `json:"total_liquidity"`
	InsuranceFund  fixed.Quote            `json:"insurance_fund"`
	Params         Params                 `json:"params"`
	RewardIndex    fixed.Price            `json:"reward_index"`
	Providers      map[uuid.UUID]Provider `json:"providers"`
	Markets        []uuid.UUID            `json:"markets"`
}

func (p *Pool) Snapshot() Snapshot {
	s := Snapshot{
		TotalLiquidity: p.totalLiquidity,
		InsuranceFund:  p.insuranceFund,
		Params:         p.params,
		RewardIndex:    p.rewardIndex,
		Providers:      make(map[uuid.UUID]Provider, len(p.providers)),
	}
	for a, r := range p.providers {
		s.Providers[a] = r
	}
	for m := range p.markets {
		s.Markets = append(s.Markets, m)
	}
	sort.Slice(s.Markets, func(i, j int) bool { return bytes.Compare(s.Markets[i][:], s.Markets[j][:]) < 0 })
	return s
}

// Restore loads persisted state. Snapshot restore only.
func (p *Pool) Restore(s Snapshot) {
	p.totalLiquidity = s.TotalLiquidity
	p.insuranceFund = s.InsuranceFund
	p.params = s.Params
	p.rewardIndex = s.RewardIndex
	for a, r := range s.Providers {
		p.providers[a] = r
	}
	for _, m := range s.Markets {
		p.markets[m] = struct{}{}
	}
}
