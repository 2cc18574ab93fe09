package core_test

import (
	"PerpClearing/internal/command"
	"PerpClearing/internal/core"
	"PerpClearing/internal/event"
	"PerpClearing/internal/fixed"
	"PerpClearing/internal/market"
	"PerpClearing/internal/observability"
	"PerpClearing/internal/types"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestNewEngine_RejectsInvalidParams(t *testing.T) {
	params := core.DefaultParams(uuid.Nil)
	_, err := core.NewEngine(params)
	require.ErrorIs(t, err, types.ErrInvalidAddress)

	params = core.DefaultParams(owner)
	params.Market.MaxLeverage = 0
	_, err = core.NewEngine(params)
	require.Error(t, err)
}

func TestNewEngine_GenesisAuthorisesMarket(t *testing.T) {
	h := newHarness(t)
	v := h.view()

	mkt := core.MarketAddress(symbol)
	assert.Equal(t, mkt, h.engine.MarketAddress())
	assert.True(t, v.Ledger.IsAuthorizedMarket(mkt))
	assert.True(t, v.Pool.IsAuthorizedMarket(mkt))
	assert.Equal(t, int64(0), v.Sequence)
	assert.Equal(t, core.GenesisHash(), v.StateHash)
	assert.Equal(t, genesis, v.Clock)
	assert.Empty(t, h.sink.Envelopes())
}

func TestLongProfit(t *testing.T) {
	h := newHarness(t)
	h.ready(usd(2000))

	env, err := h.open(trader, usdc(1000), 5, true)
	require.NoError(t, err)
	opened, ok := event.Find[*event.PositionOpened](env.Events)
	require.True(t, ok)
	assert.Equal(t, usdc(5000), opened.Size)
	assert.Equal(t, usdc(5), opened.Fee)
	assert.Equal(t, usdc(1000), h.locked(trader))

	h.price(usd(2200))
	env, err = h.close(trader)
	require.NoError(t, err)

	closed, ok := event.Find[*event.PositionClosed](env.Events)
	require.True(t, ok)
	assert.Equal(t, usdc(500), closed.PnL)
	assert.Equal(t, fixed.Quote(5490_000000), h.free(trader))
	assert.Equal(t, fixed.Quote(0), h.locked(trader))
	assert.Equal(t, usdc(99_500), h.view().Pool.TotalLiquidity())
}

func TestShortProfit(t *testing.T) {
	h := newHarness(t)
	h.ready(usd(2000))

	_, err := h.open(trader, usdc(1000), 3, false)
	require.NoError(t, err)
	h.price(usd(1800))
	_, err = h.close(trader)
	require.NoError(t, err)

	assert.Equal(t, fixed.Quote(5294_000000), h.free(trader))
	assert.Equal(t, usdc(99_700), h.view().Pool.TotalLiquidity())
}

func TestLongLoss(t *testing.T) {
	h := newHarness(t)
	h.ready(usd(2000))

	_, err := h.open(trader, usdc(1000), 5, true)
	require.NoError(t, err)
	h.price(usd(1800))
	_, err = h.close(trader)
	require.NoError(t, err)

	assert.Equal(t, fixed.Quote(4490_000000), h.free(trader))
	assert.Equal(t, usdc(100_500), h.view().Pool.TotalLiquidity())
}

func TestRoundTripAtSamePricePaysTwoFees(t *testing.T) {
	h := newHarness(t)
	h.ready(usd(2000))
	before := h.view().Token.BalanceOf(core.PoolAddress())

	_, err := h.open(trader, usdc(1000), 5, true)
	require.NoError(t, err)
	_, err = h.close(trader)
	require.NoError(t, err)

	assert.Equal(t, usdc(4990), h.free(trader))
	assert.Equal(t, before+usdc(10), h.view().Token.BalanceOf(core.PoolAddress()))
	assert.Equal(t, usdc(100_000), h.view().Pool.TotalLiquidity())
}

func TestLiquidation(t *testing.T) {
	h := newHarness(t)
	h.ready(usd(2000))

	_, err := h.open(trader, usdc(1000), 10, true)
	require.NoError(t, err)

	var liqPrice fixed.Price
	h.engine.Read(func(v core.View) {
		pos, ok := v.Market.Position(trader)
		require.True(t, ok)
		liqPrice, err = market.LiquidationPrice(pos)
	})
	require.NoError(t, err)
	assert.True(t, liqPrice.Eq(usd(1840)), liqPrice.Human())

	h.price(usd(1850))
	_, err = h.do(&command.LiquidatePosition{Meta: as(liquidator), Trader: trader})
	require.ErrorIs(t, err, types.ErrNotLiquidatable)

	h.price(usd(1840))
	env, err := h.do(&command.LiquidatePosition{Meta: as(liquidator), Trader: trader})
	require.NoError(t, err)

	liq, ok := event.Find[*event.PositionLiquidated](env.Events)
	require.True(t, ok)
	assert.Equal(t, fixed.Quote(810_000000), liq.Seized)
	assert.Equal(t, fixed.Quote(19_000000), liq.LiquidatorFee)
	assert.Equal(t, fixed.Quote(171_000000), liq.Returned)
	assert.Equal(t, fixed.Quote(0), liq.BadDebt)

	assert.Equal(t, fixed.Quote(4161_000000), h.free(trader))
	assert.Equal(t, fixed.Quote(0), h.locked(trader))
	assert.Equal(t, fixed.Quote(19_000000), h.free(liquidator))

	long, short := h.view().Market.OpenInterest()
	assert.Equal(t, fixed.Quote(0), long)
	assert.Equal(t, fixed.Quote(0), short)
}

func TestLiquidation_OneWeiAboveThreshold(t *testing.T) {
	h := newHarness(t)
	h.ready(usd(2000))
	_, err := h.open(trader, usdc(1000), 10, true)
	require.NoError(t, err)

	above, err := fixed.PriceFromRaw("1840000000000000000001")
	require.NoError(t, err)
	h.price(above)

	_, err = h.do(&command.LiquidatePosition{Meta: as(liquidator), Trader: trader})
	require.ErrorIs(t, err, types.ErrNotLiquidatable)
}

func TestLiquidation_BadDebtDrawsInsuranceFund(t *testing.T) {
	h := newHarness(t)
	h.ready(usd(2000))

	_, err := h.open(trader, usdc(1000), 20, true)
	require.NoError(t, err)
	// 1% of the 20 USDC open fee
	require.Equal(t, fixed.Quote(200_000), h.view().Pool.InsuranceFund())

	h.price(usd(1880))
	env, err := h.do(&command.LiquidatePosition{Meta: as(liquidator), Trader: trader})
	require.NoError(t, err)

	liq, ok := event.Find[*event.PositionLiquidated](env.Events)
	require.True(t, ok)
	assert.Equal(t, usdc(1000), liq.Seized)
	assert.Equal(t, usdc(220), liq.BadDebt)
	assert.Equal(t, fixed.Quote(200_000), liq.InsuranceCovered)
	assert.Equal(t, fixed.Quote(0), liq.LiquidatorFee)
	assert.Equal(t, fixed.Quote(0), liq.Returned)

	_, ok = event.Find[*event.InsuranceFundUsed](env.Events)
	assert.True(t, ok)

	v := h.view()
	assert.Equal(t, fixed.Quote(0), v.Pool.InsuranceFund())
	assert.Equal(t, fixed.Quote(101_000_200_000), v.Pool.TotalLiquidity())
	assert.Equal(t, usdc(3980), h.free(trader))
	assert.Equal(t, fixed.Quote(0), h.free(liquidator))
}

func TestFundingAccrual(t *testing.T) {
	h := newHarness(t)
	h.ready(usd(2000))
	h.fund(trader2, usdc(5000))

	_, err := h.open(trader, usdc(1000), 3, true)
	require.NoError(t, err)
	_, err = h.open(trader2, usdc(1000), 1, false)
	require.NoError(t, err)

	// An interval has not passed yet: nothing recomputes.
	h.advance(3600)
	env := h.must(&command.SettleFunding{Meta: as(stranger)})
	_, ok := event.Find[*event.FundingRateUpdated](env.Events)
	assert.False(t, ok)

	h.advance(1)
	h.fund(trader3, usdc(5000))
	env, err = h.open(trader3, usdc(1000), 1, true)
	require.NoError(t, err)

	updated, ok := event.Find[*event.FundingRateUpdated](env.Events)
	require.True(t, ok)
	assert.True(t, updated.Rate.Eq(fixed.NewRate(fixed.MustParsePrice("0.005"), false)), updated.Rate.Human())
	assert.True(t, updated.CumulativeFunding.IsZero())
	assert.Equal(t, h.now, h.view().Market.LastFundingTime())

	h.advance(7200)
	env = h.must(&command.SettleFunding{Meta: as(stranger)})
	updated, ok = event.Find[*event.FundingRateUpdated](env.Events)
	require.True(t, ok)
	assert.True(t, updated.Rate.Eq(fixed.NewRate(fixed.MustParsePrice("0.006"), false)), updated.Rate.Human())
	assert.True(t, updated.CumulativeFunding.Eq(fixed.NewRate(fixed.MustParsePrice("0.01"), false)))

	h.engine.Read(func(v core.View) {
		pnl, funding, err := v.Market.UnrealizedPnL(trader, v.Clock)
		require.NoError(t, err)
		assert.Equal(t, fixed.Quote(0), pnl)
		assert.Equal(t, usdc(30), funding)

		_, funding, err = v.Market.UnrealizedPnL(trader2, v.Clock)
		require.NoError(t, err)
		assert.Equal(t, usdc(-10), funding)

		_, funding, err = v.Market.UnrealizedPnL(trader3, v.Clock)
		require.NoError(t, err)
		assert.Equal(t, usdc(10), funding)
	})

	// The long pays funding on close: 5000 − 1000 − 3 + 1000 − 30 − 3.
	_, err = h.close(trader)
	require.NoError(t, err)
	assert.Equal(t, usdc(4964), h.free(trader))
}

func TestSettleFunding_UnchangedRateEmitsNothing(t *testing.T) {
	h := newHarness(t)
	h.ready(usd(2000))

	h.advance(3601)
	env := h.must(&command.SettleFunding{Meta: as(stranger)})
	assert.Empty(t, env.Events)
	assert.Equal(t, h.now, h.view().Market.LastFundingTime())
}

func TestPauseTrading(t *testing.T) {
	h := newHarness(t)
	h.ready(usd(2000))
	h.fund(trader2, usdc(5000))

	_, err := h.open(trader, usdc(1000), 5, true)
	require.NoError(t, err)

	_, err = h.do(&command.PauseTrading{Meta: as(stranger)})
	require.ErrorIs(t, err, types.ErrUnauthorised)
	h.must(&command.PauseTrading{Meta: as(owner)})

	_, err = h.open(trader2, usdc(1000), 5, true)
	require.ErrorIs(t, err, types.ErrTradingDisabled)

	_, err = h.close(trader)
	require.NoError(t, err)

	h.must(&command.ResumeTrading{Meta: as(owner)})
	_, err = h.open(trader2, usdc(1000), 5, true)
	require.NoError(t, err)
}

func TestOpenPosition_LeverageBounds(t *testing.T) {
	cases := []struct {
		leverage int64
		wantErr  error
	}{
		{0, types.ErrInvalidLeverage},
		{1, nil},
		{20, nil},
		{21, types.ErrInvalidLeverage},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("leverage=%d", tc.leverage), func(t *testing.T) {
			h := newHarness(t)
			h.ready(usd(2000))
			_, err := h.open(trader, usdc(100), tc.leverage, true)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestOpenPosition_Rejections(t *testing.T) {
	h := newHarness(t)
	h.provide(provider, usdc(100_000))
	h.fund(trader, usdc(5000))

	_, err := h.open(trader, usdc(1000), 5, true)
	require.ErrorIs(t, err, types.ErrPriceUnavailable)

	h.price(usd(2000))
	_, err = h.open(trader, 0, 5, true)
	require.ErrorIs(t, err, types.ErrZeroMargin)

	_, err = h.open(trader, usdc(1000), 5, true)
	require.NoError(t, err)
	_, err = h.open(trader, usdc(1000), 5, true)
	require.ErrorIs(t, err, types.ErrPositionExists)

	_, err = h.close(trader2)
	require.ErrorIs(t, err, types.ErrNoPosition)
}

func TestWithdraw_FreeBoundary(t *testing.T) {
	h := newHarness(t)
	h.fund(trader, usdc(5000))

	_, err := h.do(&command.WithdrawCollateral{Meta: as(trader), Amount: usdc(5000) + 1})
	require.ErrorIs(t, err, types.ErrInsufficientFree)

	h.must(&command.WithdrawCollateral{Meta: as(trader), Amount: usdc(5000)})
	assert.Equal(t, fixed.Quote(0), h.free(trader))
	assert.Equal(t, usdc(5000), h.view().Token.BalanceOf(trader))
}

func TestFailedCommandRollsBack(t *testing.T) {
	h := newHarness(t)
	h.provide(provider, usdc(100_000))
	h.fund(trader, usdc(1000))
	h.price(usd(2000))
	seq := h.engine.Sequence()
	hash := h.engine.StateHash()
	published := len(h.sink.Envelopes())

	// The margin lock succeeds but the fee cannot be paid from free.
	_, err := h.open(trader, usdc(1000), 5, true)
	require.ErrorIs(t, err, types.ErrInsufficientFreeForFee)

	assert.Equal(t, usdc(1000), h.free(trader))
	assert.Equal(t, fixed.Quote(0), h.locked(trader))
	_, ok := h.view().Market.Position(trader)
	assert.False(t, ok)
	long, _ := h.view().Market.OpenInterest()
	assert.Equal(t, fixed.Quote(0), long)
	assert.Equal(t, seq, h.engine.Sequence())
	assert.Equal(t, hash, h.engine.StateHash())
	assert.Len(t, h.sink.Envelopes(), published)
}

func TestDuplicateCommand(t *testing.T) {
	h := newHarness(t)
	cmd := &command.Mint{Meta: as(owner), To: trader, Amount: usdc(10)}
	first := h.must(cmd)

	_, err := h.engine.Process(cmd)
	require.ErrorIs(t, err, types.ErrDuplicateCommand)
	assert.Contains(t, err.Error(), fmt.Sprintf("sequence %d", first.Sequence))
	assert.Equal(t, usdc(10), h.view().Token.BalanceOf(trader))
	assert.Equal(t, first.Sequence, h.engine.Sequence())

	// Same key under another command name is a different command.
	_, err = h.engine.Process(&command.Approve{
		Meta:    command.Meta{IdempotencyKey: cmd.IdempotencyKey, Caller: trader},
		Spender: core.LedgerAddress(),
		Amount:  usdc(10),
	})
	require.NoError(t, err)
}

func TestMissingIdempotencyKey(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.Process(&command.Mint{Meta: as(owner), To: trader, Amount: usdc(10)})
	require.ErrorIs(t, err, types.ErrUnknownCommand)
}

func TestSourceSequenceOrdering(t *testing.T) {
	h := newHarness(t)
	mint := func(seq int64) error {
		_, err := h.do(&command.Mint{
			Meta:   command.Meta{Caller: owner, SourceSequence: seq},
			To:     trader,
			Amount: usdc(1),
		})
		return err
	}

	require.ErrorIs(t, mint(2), types.ErrSequenceGap)
	require.NoError(t, mint(1))
	require.ErrorIs(t, mint(1), types.ErrStaleCommand)
	require.NoError(t, mint(2))
	require.NoError(t, mint(0))
	assert.Equal(t, int64(3), h.engine.ExpectedSequence(owner))
	assert.Equal(t, int64(1), h.engine.ExpectedSequence(trader))
}

func TestStaleTimestamp(t *testing.T) {
	h := newHarness(t)
	h.advance(10)
	h.must(&command.Mint{Meta: as(owner), To: trader, Amount: usdc(1)})

	_, err := h.do(&command.Mint{
		Meta:   command.Meta{Caller: owner, Timestamp: genesis + 5},
		To:     trader,
		Amount: usdc(1),
	})
	require.ErrorIs(t, err, types.ErrStaleCommand)
	assert.Equal(t, genesis+10, h.engine.Clock())
}

func TestUnauthorisedAdmin(t *testing.T) {
	h := newHarness(t)
	_, err := h.do(&command.UpdatePrice{Meta: as(stranger), Symbol: symbol, Price: usd(1)})
	require.ErrorIs(t, err, types.ErrUnauthorised)

	h.must(&command.AuthorizeFeeder{Meta: as(owner), Feeder: stranger})
	_, err = h.do(&command.UpdatePrice{Meta: as(stranger), Symbol: symbol, Price: usd(1)})
	require.NoError(t, err)

	_, err = h.do(&command.Mint{Meta: as(stranger), To: stranger, Amount: usdc(1)})
	require.ErrorIs(t, err, types.ErrUnauthorised)

	_, err = h.do(&command.UpdateFeeRate{Meta: as(stranger), Rate: fixed.MustParsePrice("0.01")})
	require.ErrorIs(t, err, types.ErrUnauthorised)
}

func TestAuthorizeMarket_UnknownRegistry(t *testing.T) {
	h := newHarness(t)
	_, err := h.do(&command.AuthorizeMarket{Meta: as(owner), Registry: "vault", Market: stranger})
	require.ErrorIs(t, err, types.ErrUnknownCommand)
}

func TestHashChain(t *testing.T) {
	h := newHarness(t)
	h.ready(usd(2000))
	_, err := h.open(trader, usdc(1000), 5, true)
	require.NoError(t, err)

	envs := h.sink.Envelopes()
	require.NotEmpty(t, envs)
	prev := core.GenesisHash()
	for i, env := range envs {
		assert.Equal(t, int64(i+1), env.Sequence)
		assert.Equal(t, prev, env.PrevHash, "seq %d", env.Sequence)
		prev = env.StateHash
	}
	assert.Equal(t, prev, h.engine.StateHash())
}

func TestDeterminism(t *testing.T) {
	run := func() [32]byte {
		h := newHarness(t)
		h.ready(usd(2000))
		_, err := h.open(trader, usdc(1000), 7, false)
		require.NoError(t, err)
		h.price(usd(1950))
		_, err = h.close(trader)
		require.NoError(t, err)
		return h.engine.StateHash()
	}
	assert.Equal(t, run(), run())
}

func TestReplayReproducesState(t *testing.T) {
	h := newHarness(t)
	h.ready(usd(2000))
	h.fund(trader2, usdc(5000))
	_, err := h.open(trader, usdc(1000), 5, true)
	require.NoError(t, err)
	_, err = h.open(trader2, usdc(500), 2, false)
	require.NoError(t, err)
	h.advance(4000)
	h.price(usd(2100))
	_, err = h.close(trader)
	require.NoError(t, err)

	fresh := newHarness(t)
	for _, env := range h.sink.Envelopes() {
		require.NoError(t, fresh.engine.Replay(env))
	}
	assert.Equal(t, h.engine.StateHash(), fresh.engine.StateHash())
	assert.Equal(t, h.engine.Sequence(), fresh.engine.Sequence())
	assert.Empty(t, fresh.sink.Envelopes())

	// A replayed key is still deduplicated afterwards.
	first := h.sink.Envelopes()[0]
	_, err = fresh.engine.Process(&command.Mint{
		Meta:   command.Meta{IdempotencyKey: first.IdempotencyKey, Caller: owner},
		To:     provider,
		Amount: usdc(1),
	})
	require.ErrorIs(t, err, types.ErrDuplicateCommand)
}

func TestReplayDetectsTamperedLog(t *testing.T) {
	h := newHarness(t)
	h.must(&command.Mint{Meta: as(owner), To: trader, Amount: usdc(10)})
	env := *h.sink.Envelopes()[0]
	env.StateHash[0] ^= 0xff

	fresh := newHarness(t)
	err := fresh.engine.Replay(&env)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "state hash mismatch")
}

func TestReplayRejectsOutOfOrderEnvelope(t *testing.T) {
	h := newHarness(t)
	h.must(&command.Mint{Meta: as(owner), To: trader, Amount: usdc(10)})
	h.must(&command.Mint{Meta: as(owner), To: trader, Amount: usdc(10)})

	fresh := newHarness(t)
	err := fresh.engine.Replay(h.sink.Envelopes()[1])
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine expects 1")
}

func TestSnapshotRestore(t *testing.T) {
	h := newHarness(t)
	h.ready(usd(2000))
	h.fund(trader2, usdc(5000))
	_, err := h.open(trader, usdc(1000), 5, true)
	require.NoError(t, err)
	_, err = h.open(trader2, usdc(1000), 2, false)
	require.NoError(t, err)
	h.advance(3700)
	h.must(&command.SettleFunding{Meta: command.Meta{Caller: stranger, SourceSequence: 1}})

	raw, err := json.Marshal(h.engine.CreateSnapshotState())
	require.NoError(t, err)
	var snap core.SnapshotState
	require.NoError(t, json.Unmarshal(raw, &snap))

	restored, err := core.RestoreEngine(&snap)
	require.NoError(t, err)
	assert.Equal(t, h.engine.StateHash(), restored.StateHash())
	assert.Equal(t, h.engine.Sequence(), restored.Sequence())
	assert.Equal(t, h.engine.Clock(), restored.Clock())
	assert.Equal(t, int64(2), restored.ExpectedSequence(stranger))

	// Both engines continue identically.
	h.price(usd(2050))
	_, err = h.close(trader)
	require.NoError(t, err)
	for _, env := range h.sink.Envelopes()[snap.Sequence:] {
		require.NoError(t, restored.Replay(env))
	}
	assert.Equal(t, h.engine.StateHash(), restored.StateHash())

	// The dedup window survives the restart.
	first := h.sink.Envelopes()[0]
	_, err = restored.Process(&command.Mint{
		Meta:   command.Meta{IdempotencyKey: first.IdempotencyKey, Caller: owner},
		To:     provider,
		Amount: usdc(1),
	})
	require.ErrorIs(t, err, types.ErrDuplicateCommand)
}

func TestOutputChannels(t *testing.T) {
	persist := make(chan core.Output, 8)
	projection := make(chan core.Output, 1)
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	h := newHarness(t,
		core.WithPersistChan(persist),
		core.WithProjectionChan(projection),
		core.WithMetrics(metrics),
	)

	for i := 0; i < 3; i++ {
		h.must(&command.Mint{Meta: as(owner), To: trader, Amount: usdc(1)})
	}
	assert.Len(t, persist, 3)
	assert.Len(t, projection, 1)
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.ProjectionDrops.WithLabelValues("engine")))

	out := <-persist
	assert.Equal(t, int64(1), out.Envelope.Sequence)
	assert.Equal(t, out.Envelope.StateHash, core.ChainHash(core.GenesisHash(), 1, out.Digest))
}

func TestMetrics_Rejections(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	h := newHarness(t, core.WithMetrics(metrics))
	h.ready(usd(2000))

	_, err := h.open(trader, usdc(100), 50, true)
	require.Error(t, err)
	assert.Equal(t, float64(1),
		testutil.ToFloat64(metrics.CommandsRejected.WithLabelValues("OpenPosition", "InvalidLeverage")))

	_, err = h.open(trader, usdc(100), 5, true)
	require.NoError(t, err)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.CommandsApplied.WithLabelValues("OpenPosition")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.PositionsOpen))
}

func TestConcurrentProcess(t *testing.T) {
	h := newHarness(t)
	const workers = 16

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := h.engine.Process(&command.Mint{
				Meta:   command.Meta{IdempotencyKey: fmt.Sprintf("mint-%d", i), Caller: owner},
				To:     uuid.New(),
				Amount: usdc(1),
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int64(workers), h.engine.Sequence())
	assert.Equal(t, usdc(workers), h.view().Token.TotalSupply())
}
