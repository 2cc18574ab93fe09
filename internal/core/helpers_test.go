package core_test

import (
	"PerpClearing/internal/command"
	"PerpClearing/internal/core"
	"PerpClearing/internal/event"
	"PerpClearing/internal/fixed"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

const (
	genesis = int64(1_700_000_000)
	symbol  = "ETH-USD"
)

var (
	owner      = uuid.MustParse("00000000-0000-0000-0000-0000000000aa")
	trader     = uuid.MustParse("00000000-0000-0000-0000-000000000001")
	trader2    = uuid.MustParse("00000000-0000-0000-0000-000000000002")
	trader3    = uuid.MustParse("00000000-0000-0000-0000-000000000003")
	provider   = uuid.MustParse("00000000-0000-0000-0000-000000000010")
	liquidator = uuid.MustParse("00000000-0000-0000-0000-000000000020")
	stranger   = uuid.MustParse("00000000-0000-0000-0000-000000000099")
)

func usdc(whole int64) fixed.Quote { return fixed.QuoteFromInt(whole) }

func usd(whole uint64) fixed.Price { return fixed.PriceFromInt(whole) }

// harness drives one engine with auto-filled idempotency keys and a
// test-controlled clock.
type harness struct {
	t      *testing.T
	engine *core.Engine
	sink   *event.MemorySink
	now    int64
	n      int
}

func newHarness(t *testing.T, opts ...core.Option) *harness {
	t.Helper()
	sink := event.NewMemorySink()
	params := core.DefaultParams(owner)
	params.Genesis = genesis
	e, err := core.NewEngine(params, append([]core.Option{core.WithSink(sink)}, opts...)...)
	require.NoError(t, err)
	return &harness{t: t, engine: e, sink: sink, now: genesis}
}

func (h *harness) do(cmd command.Command) (*event.Envelope, error) {
	h.n++
	m := cmd.Header()
	if m.IdempotencyKey == "" {
		m.IdempotencyKey = fmt.Sprintf("cmd-%d", h.n)
	}
	if m.Timestamp == 0 {
		m.Timestamp = h.now
	}
	return h.engine.Process(cmd)
}

func (h *harness) must(cmd command.Command) *event.Envelope {
	h.t.Helper()
	env, err := h.do(cmd)
	require.NoError(h.t, err)
	return env
}

func (h *harness) advance(seconds int64) { h.now += seconds }

func as(caller uuid.UUID) command.Meta { return command.Meta{Caller: caller} }

// fund mints, approves the ledger and deposits amount for user.
func (h *harness) fund(user uuid.UUID, amount fixed.Quote) {
	h.t.Helper()
	h.must(&command.Mint{Meta: as(owner), To: user, Amount: amount})
	h.must(&command.Approve{Meta: as(user), Spender: core.LedgerAddress(), Amount: amount})
	h.must(&command.DepositCollateral{Meta: as(user), Amount: amount})
}

// provide mints, approves the pool and adds amount of liquidity.
func (h *harness) provide(lp uuid.UUID, amount fixed.Quote) {
	h.t.Helper()
	h.must(&command.Mint{Meta: as(owner), To: lp, Amount: amount})
	h.must(&command.Approve{Meta: as(lp), Spender: core.PoolAddress(), Amount: amount})
	h.must(&command.AddLiquidity{Meta: as(lp), Amount: amount})
}

func (h *harness) price(p fixed.Price) *event.Envelope {
	h.t.Helper()
	return h.must(&command.UpdatePrice{Meta: as(owner), Symbol: symbol, Price: p})
}

func (h *harness) open(user uuid.UUID, margin fixed.Quote, leverage int64, isLong bool) (*event.Envelope, error) {
	return h.do(&command.OpenPosition{Meta: as(user), Margin: margin, Leverage: leverage, IsLong: isLong})
}

func (h *harness) close(user uuid.UUID) (*event.Envelope, error) {
	return h.do(&command.ClosePosition{Meta: as(user)})
}

func (h *harness) free(user uuid.UUID) (free fixed.Quote) {
	h.engine.Read(func(v core.View) { free = v.Ledger.Available(user) })
	return free
}

func (h *harness) locked(user uuid.UUID) (locked fixed.Quote) {
	h.engine.Read(func(v core.View) { locked = v.Ledger.Locked(user) })
	return locked
}

func (h *harness) view() (out core.View) {
	h.engine.Read(func(v core.View) { out = v })
	return out
}

// ready funds trader with 5000, the pool with 100000 and sets the price.
func (h *harness) ready(entry fixed.Price) {
	h.t.Helper()
	h.provide(provider, usdc(100_000))
	h.fund(trader, usdc(5000))
	h.price(entry)
}
