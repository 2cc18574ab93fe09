package keeper

import (
	"PerpClearing/internal/command"
	"PerpClearing/internal/core"
	"PerpClearing/internal/event"
	"PerpClearing/internal/fixed"
	"PerpClearing/internal/market"
	"PerpClearing/internal/observability"
	"PerpClearing/internal/types"
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Submitter sends a command to the engine, directly or through NATS.
type Submitter interface {
	Submit(ctx context.Context, cmd command.Command) error
}

// SubmitterFunc adapts a function to Submitter.
type SubmitterFunc func(ctx context.Context, cmd command.Command) error

func (f SubmitterFunc) Submit(ctx context.Context, cmd command.Command) error { return f(ctx, cmd) }

// Reader gives read access to engine state.
type Reader interface {
	Read(func(core.View))
}

// Keeper watches committed events and submits the maintenance commands
// nobody else has an incentive to send on time: liquidations once the mark
// crosses a position's liquidation price or accrued funding outgrows the
// margin, and the funding poke once the interval has elapsed. The index is
// advisory; the engine re-checks every liquidation.
type Keeper struct {
	address         uuid.UUID // caller of submitted commands, receives liquidation fees
	symbol          string
	fundingInterval int64

	index       *Index
	lastFunding int64 // latest known funding recomputation time
	lastSeq     int64

	reader    Reader // set by Seed; nil disables the funding sweep
	inputChan <-chan core.Output
	submitter Submitter
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

func New(address uuid.UUID, params market.Params, inputChan <-chan core.Output, submitter Submitter, metrics *observability.Metrics, logger zerolog.Logger) *Keeper {
	return &Keeper{
		address:         address,
		symbol:          params.Symbol,
		fundingInterval: params.FundingInterval,
		index:           NewIndex(),
		inputChan:       inputChan,
		submitter:       submitter,
		metrics:         metrics,
		logger:          logger,
	}
}

// Seed loads open positions and the funding clock from the engine, so a
// restarted keeper does not wait for positions to be reopened.
func (k *Keeper) Seed(engine Reader) error {
	k.reader = engine
	var err error
	engine.Read(func(v core.View) {
		k.lastFunding = v.Market.LastFundingTime()
		k.lastSeq = v.Sequence
		for _, pos := range v.Market.Positions() {
			liq, lerr := market.LiquidationPrice(pos)
			if lerr != nil {
				err = lerr
				return
			}
			k.index.Put(pos.Trader, liq, pos.Size, pos.IsLong)
		}
	})
	return err
}

func (k *Keeper) Index() *Index { return k.index }

func (k *Keeper) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out, ok := <-k.inputChan:
			if !ok {
				return nil
			}
			k.Handle(ctx, out.Envelope)
		}
	}
}

// Handle updates the index from env and submits whatever it makes due.
func (k *Keeper) Handle(ctx context.Context, env *event.Envelope) {
	if env.Sequence <= k.lastSeq {
		return
	}
	k.lastSeq = env.Sequence

	var mark *fixed.Price
	fundingMoved := false
	for _, ev := range env.Events {
		switch ev.(type) {
		case *event.PositionOpened, *event.PositionClosed, *event.PositionLiquidated, *event.FundingRateUpdated:
			// Position changes settle funding first.
			if k.observeFunding(env.Timestamp) {
				fundingMoved = true
			}
		}
		switch e := ev.(type) {
		case *event.PositionOpened:
			liq, err := fixed.LiquidationPrice(e.EntryPrice, e.Size, e.Margin, market.LiquidationThresholdPct, e.IsLong)
			if err != nil {
				k.logger.Warn().Err(err).Str("trader", e.Trader.String()).Msg("cannot index position")
				continue
			}
			k.index.Put(e.Trader, liq, e.Size, e.IsLong)
		case *event.PositionClosed:
			k.index.Remove(e.Trader)
		case *event.PositionLiquidated:
			k.index.Remove(e.Trader)
		case *event.PriceUpdated:
			if e.Symbol == k.symbol {
				price := e.Price
				mark = &price
			}
		}
	}

	sent := make(map[uuid.UUID]bool)
	if mark != nil {
		for _, trader := range k.index.Crossed(*mark) {
			sent[trader] = true
			k.liquidate(ctx, trader, env.Sequence)
		}
	}
	if k.maybePokeFunding(ctx, env.Timestamp) {
		fundingMoved = true
	}
	if fundingMoved {
		for _, trader := range k.underwater() {
			if !sent[trader] {
				k.liquidate(ctx, trader, env.Sequence)
			}
		}
	}
}

func (k *Keeper) liquidate(ctx context.Context, trader uuid.UUID, seq int64) {
	k.submit(ctx, &command.LiquidatePosition{
		Meta: command.Meta{
			IdempotencyKey: fmt.Sprintf("keeper-liquidate-%s-%d", trader, seq),
			Caller:         k.address,
		},
		Trader: trader,
	})
}

// underwater asks the engine which indexed positions are liquidatable now.
// Funding accrues without moving the mark, so the price index alone misses
// positions whose funding charge has outgrown their margin.
func (k *Keeper) underwater() []uuid.UUID {
	if k.reader == nil {
		return nil
	}
	var out []uuid.UUID
	k.reader.Read(func(v core.View) {
		for _, trader := range k.index.Traders() {
			ok, err := v.Market.IsLiquidatable(trader, v.Clock)
			if err == nil && ok {
				out = append(out, trader)
			}
		}
	})
	return out
}

// observeFunding records a recomputation the engine performed at now and
// reports whether one happened. The engine recomputes only once more than
// an interval has passed.
func (k *Keeper) observeFunding(now int64) bool {
	if now-k.lastFunding > k.fundingInterval {
		k.lastFunding = now
		return true
	}
	return false
}

// maybePokeFunding sends SettleFunding once the interval has elapsed with
// open interest and reports whether it did. Commands carry no timestamp and
// run at the engine clock, which is at least now.
func (k *Keeper) maybePokeFunding(ctx context.Context, now int64) bool {
	if k.fundingInterval <= 0 || k.index.Len() == 0 {
		return false
	}
	if now-k.lastFunding <= k.fundingInterval {
		return false
	}
	k.lastFunding = now
	k.submit(ctx, &command.SettleFunding{Meta: command.Meta{
		IdempotencyKey: fmt.Sprintf("keeper-funding-%d", now),
		Caller:         k.address,
	}})
	return true
}

func (k *Keeper) submit(ctx context.Context, cmd command.Command) {
	name := cmd.CommandType().String()
	err := k.submitter.Submit(ctx, cmd)
	outcome := "submitted"
	switch {
	case err == nil:
	case errors.Is(err, types.ErrDuplicateCommand):
		outcome = "duplicate"
	case errors.Is(err, types.ErrNotLiquidatable), errors.Is(err, types.ErrNoPosition):
		// The index lags the engine; nothing to do.
		outcome = "stale"
	default:
		outcome = "failed"
		k.logger.Warn().Err(err).Str("command", name).Str("idempotency_key", cmd.Header().IdempotencyKey).Msg("keeper submit failed")
	}
	if k.metrics != nil {
		k.metrics.KeeperSubmitted.WithLabelValues(name, outcome).Inc()
	}
}
