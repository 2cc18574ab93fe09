package core

import (
	"PerpClearing/internal/collateral"
	"PerpClearing/internal/command"
	"PerpClearing/internal/event"
	"PerpClearing/internal/feed"
	"PerpClearing/internal/market"
	"PerpClearing/internal/observability"
	"PerpClearing/internal/pool"
	"PerpClearing/internal/token"
	"PerpClearing/internal/txn"
	"PerpClearing/internal/types"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Output is what the engine hands downstream for every committed command.
type Output struct {
	Envelope *event.Envelope
	Digest   []byte

	// Snapshot is set every snapshotEvery sequences and captures state
	// right after Envelope was applied.
	Snapshot *SnapshotState
}

// components is the full clearing state. Rebuilt wholesale on restore.
type components struct {
	token  *token.Token
	feed   *feed.Feed
	ledger *collateral.Ledger
	pool   *pool.Pool
	market *market.Market
}

// Engine serialises commands over one token, feed, ledger, pool and market.
// Process takes the write lock; Read and the query helpers take the read
// lock.
type Engine struct {
	mu     sync.RWMutex
	params Params
	c      components

	sequence int64 // next sequence to assign
	clock    int64 // timestamp of the last committed command

	hasher            *StateHasher
	idempotency       *IdempotencyChecker
	sequenceValidator *SequenceValidator

	durable        DurableIdempotency
	sink           event.Sink
	persistChan    chan<- Output
	projectionChan chan<- Output
	metrics        *observability.Metrics
	logger         zerolog.Logger
	snapshotEvery  int64
}

// Option configures an Engine.
type Option func(*Engine)

// WithSink publishes every committed envelope to s.
func WithSink(s event.Sink) Option {
	return func(e *Engine) { e.sink = s }
}

// WithPersistChan sends every output to ch. The send blocks, so a slow
// persistence worker stalls the engine instead of losing envelopes.
func WithPersistChan(ch chan<- Output) Option {
	return func(e *Engine) { e.persistChan = ch }
}

// WithProjectionChan sends every output to ch, dropping when it is full.
func WithProjectionChan(ch chan<- Output) Option {
	return func(e *Engine) { e.projectionChan = ch }
}

// WithDurableIdempotency adds the cold-path dedup lookup.
func WithDurableIdempotency(d DurableIdempotency) Option {
	return func(e *Engine) { e.durable = d }
}

// WithSnapshotEvery attaches a snapshot to every nth output, so the
// persistence worker can store it in the same batch as its envelope.
func WithSnapshotEvery(n int64) Option {
	return func(e *Engine) { e.snapshotEvery = n }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine builds a fresh deployment: the market is authorised on the
// ledger and the pool, and the clock starts at params.Genesis.
func NewEngine(params Params, opts ...Option) (*Engine, error) {
	e, err := newEngine(params, opts)
	if err != nil {
		return nil, err
	}

	tx := txn.Begin(params.Genesis)
	marketAddr := e.c.market.Address()
	if err := e.c.ledger.AuthorizeMarket(tx, params.Owner, marketAddr); err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("authorise market on ledger: %w", err)
	}
	if err := e.c.pool.AuthorizeMarket(tx, params.Owner, marketAddr); err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("authorise market on pool: %w", err)
	}
	tx.Commit()
	return e, nil
}

func newEngine(params Params, opts []Option) (*Engine, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine params: %w", err)
	}
	e := &Engine{
		params:            params,
		sequence:          1,
		clock:             params.Genesis,
		hasher:            NewStateHasher(),
		sequenceValidator: NewSequenceValidator(),
		logger:            zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}

	idem, err := NewIdempotencyChecker(params.IdempotencyCapacity, e.durable)
	if err != nil {
		return nil, err
	}
	e.idempotency = idem

	c, err := buildComponents(params)
	if err != nil {
		return nil, err
	}
	e.c = c
	return e, nil
}

func buildComponents(params Params) (components, error) {
	tok := token.New(params.TokenSymbol, params.Owner)
	tok.RegisterContract(LedgerAddress(), LedgerName)
	tok.RegisterContract(PoolAddress(), PoolName)

	pf := feed.New(params.Owner, params.PriceMaxAge)
	ledger := collateral.New(LedgerAddress(), params.Owner, tok)
	lp := pool.New(PoolAddress(), params.Owner, tok, params.Pool)
	mkt, err := market.New(MarketAddress(params.Market.Symbol), params.Owner, params.Market, pf, ledger, lp, params.Genesis)
	if err != nil {
		return components{}, err
	}
	tok.RegisterContract(mkt.Address(), "market/"+params.Market.Symbol)

	return components{token: tok, feed: pf, ledger: ledger, pool: lp, market: mkt}, nil
}

// Process applies one command. On success the committed envelope is
// returned and handed to the sink and output channels. On failure nothing
// changes and the taxonomy error is returned.
func (e *Engine) Process(cmd command.Command) (*event.Envelope, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.apply(cmd, false)
}

// Replay re-applies a logged envelope during recovery and verifies that the
// engine lands on the same sequence and state hash. Replayed commands are
// not re-published.
func (e *Engine) Replay(env *event.Envelope) error {
	cmd, err := command.Decode(env.Command, env.Payload)
	if err != nil {
		return fmt.Errorf("replay seq=%d: %w", env.Sequence, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if env.Sequence != e.sequence {
		return fmt.Errorf("replay seq=%d: engine expects %d", env.Sequence, e.sequence)
	}
	got, err := e.apply(cmd, true)
	if err != nil {
		return fmt.Errorf("replay seq=%d %s: %w", env.Sequence, env.Command, err)
	}
	if got.StateHash != env.StateHash {
		return fmt.Errorf("replay seq=%d: state hash mismatch: logged %x, computed %x",
			env.Sequence, env.StateHash, got.StateHash)
	}
	if e.metrics != nil {
		e.metrics.ReplayEventsTotal.Inc()
	}
	return nil
}

func (e *Engine) apply(cmd command.Command, replay bool) (*event.Envelope, error) {
	start := time.Now()
	name := cmd.CommandType().String()
	meta := cmd.Header()

	// Step 1: idempotency
	if meta.IdempotencyKey == "" {
		return nil, e.reject(name, types.ErrUnknownCommand.Wrapf("%s without idempotency key", name))
	}
	if !replay {
		if seq, dup := e.idempotency.Lookup(name, meta.IdempotencyKey); dup {
			if e.metrics != nil {
				e.metrics.IdempotencyDuplicates.WithLabelValues(name).Inc()
			}
			return nil, e.reject(name, types.ErrDuplicateCommand.Wrapf("%s %q applied at sequence %d",
				name, meta.IdempotencyKey, seq))
		}
	}

	// Step 2: ordering
	partition := callerPartition(meta.Caller)
	if err := e.sequenceValidator.Check(partition, meta.SourceSequence); err != nil {
		if e.metrics != nil {
			e.metrics.SequenceRejected.WithLabelValues(types.ErrorName(err)).Inc()
		}
		return nil, e.reject(name, err)
	}
	now := meta.Timestamp
	if now == 0 {
		now = e.clock
	}
	if now < e.clock {
		return nil, e.reject(name, types.ErrStaleCommand.Wrapf("timestamp %d before engine clock %d", now, e.clock))
	}

	payload, err := command.Encode(cmd)
	if err != nil {
		return nil, e.reject(name, fmt.Errorf("encode %s: %w", name, err))
	}

	// Step 3: dispatch
	tx := txn.Begin(now)
	if err := e.dispatch(tx, cmd); err != nil {
		tx.Rollback()
		return nil, e.reject(name, err)
	}

	// Step 4: post-checks
	if err := e.checkInvariants(); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated after %s %q: %v", name, meta.IdempotencyKey, err))
	}

	events := tx.Commit()
	e.clock = now
	e.sequenceValidator.Advance(partition, meta.SourceSequence)

	// Step 5: hash chain
	hashStart := time.Now()
	digest := e.stateDigest()
	prev := e.hasher.GetPrevHash()
	seq := e.sequence
	hash := e.hasher.ComputeHash(seq, digest)
	e.sequence++
	if e.metrics != nil {
		e.metrics.StateHashDur.Observe(time.Since(hashStart).Seconds())
	}

	env := &event.Envelope{
		Sequence:       seq,
		IdempotencyKey: meta.IdempotencyKey,
		Command:        name,
		Caller:         meta.Caller,
		Timestamp:      now,
		SourceSequence: meta.SourceSequence,
		Payload:        payload,
		Events:         events,
		StateHash:      hash,
		PrevHash:       prev,
	}
	e.idempotency.MarkProcessed(name, meta.IdempotencyKey, seq)

	// Step 6: outputs
	if !replay {
		out := Output{Envelope: env, Digest: digest}
		if e.snapshotEvery > 0 && seq%e.snapshotEvery == 0 {
			out.Snapshot = e.snapshotLocked()
		}
		e.emit(out)
	}

	if e.metrics != nil {
		e.metrics.CommandsApplied.WithLabelValues(name).Inc()
		e.metrics.CommandDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		e.metrics.CoreSequence.Set(float64(e.sequence))
		e.metrics.DedupLRUSize.Set(float64(e.idempotency.Size()))
		for _, ev := range events {
			e.metrics.EventsEmitted.WithLabelValues(ev.EventType().String()).Inc()
		}
		e.observeState(events)
	}
	return env, nil
}

func (e *Engine) reject(name string, err error) error {
	if e.metrics != nil {
		e.metrics.CommandsRejected.WithLabelValues(name, types.ErrorName(err)).Inc()
	}
	e.logger.Debug().Str("command", name).Err(err).Msg("command rejected")
	return err
}

// emit hands the output downstream. The persist send blocks; the
// projection send drops when the channel is full, since projections can
// rebuild from the log.
func (e *Engine) emit(out Output) {
	if e.sink != nil {
		e.sink.Publish(out.Envelope)
	}
	if e.persistChan != nil {
		if e.metrics != nil && len(e.persistChan) == cap(e.persistChan) {
			e.metrics.PersistBackpressure.Inc()
		}
		e.persistChan <- out
	}
	if e.projectionChan != nil {
		select {
		case e.projectionChan <- out:
		default:
			if e.metrics != nil {
				e.metrics.ProjectionDrops.WithLabelValues("engine").Inc()
			}
		}
	}
}

func callerPartition(caller uuid.UUID) string {
	return "caller:" + caller.String()
}

func (e *Engine) dispatch(tx *txn.Tx, cmd command.Command) error {
	caller := cmd.Header().Caller
	switch c := cmd.(type) {
	case *command.UpdatePrice:
		return e.c.feed.UpdatePrice(tx, caller, c.Symbol, c.Price)
	case *command.AuthorizeFeeder:
		return e.c.feed.AuthorizeFeeder(tx, caller, c.Feeder)
	case *command.DeauthorizeFeeder:
		return e.c.feed.DeauthorizeFeeder(tx, caller, c.Feeder)

	case *command.DepositCollateral:
		return e.c.ledger.Deposit(tx, caller, c.Amount)
	case *command.WithdrawCollateral:
		return e.c.ledger.Withdraw(tx, caller, c.Amount)
	case *command.AuthorizeMarket:
		switch c.Registry {
		case collateral.Registry:
			return e.c.ledger.AuthorizeMarket(tx, caller, c.Market)
		case pool.Registry:
			return e.c.pool.AuthorizeMarket(tx, caller, c.Market)
		}
		return types.ErrUnknownCommand.Wrapf("registry %q", c.Registry)
	case *command.DeauthorizeMarket:
		switch c.Registry {
		case collateral.Registry:
			return e.c.ledger.DeauthorizeMarket(tx, caller, c.Market)
		case pool.Registry:
			return e.c.pool.DeauthorizeMarket(tx, caller, c.Market)
		}
		return types.ErrUnknownCommand.Wrapf("registry %q", c.Registry)

	case *command.AddLiquidity:
		return e.c.pool.AddLiquidity(tx, caller, c.Amount)
	case *command.RemoveLiquidity:
		return e.c.pool.RemoveLiquidity(tx, caller, c.Amount)
	case *command.ClaimRewards:
		return e.c.pool.ClaimRewards(tx, caller)
	case *command.UpdateUtilisation:
		return e.c.pool.UpdateUtilisation(tx, caller, c.Rate)
	case *command.UpdateFeeRate:
		return e.c.pool.UpdateFeeRate(tx, caller, c.Rate)
	case *command.UpdateInsuranceFundRate:
		return e.c.pool.UpdateInsuranceFundRate(tx, caller, c.Rate)

	case *command.OpenPosition:
		return e.c.market.OpenPosition(tx, caller, c.Margin, c.Leverage, c.IsLong)
	case *command.ClosePosition:
		return e.c.market.ClosePosition(tx, caller)
	case *command.LiquidatePosition:
		return e.c.market.LiquidatePosition(tx, caller, c.Trader)
	case *command.SettleFunding:
		return e.c.market.SettleFunding(tx)
	case *command.PauseTrading:
		return e.c.market.PauseTrading(tx, caller)
	case *command.ResumeTrading:
		return e.c.market.ResumeTrading(tx, caller)

	case *command.Mint:
		return e.c.token.Mint(tx, caller, c.To, c.Amount)
	case *command.Approve:
		return e.c.token.Approve(tx, caller, c.Spender, c.Amount)
	}
	return types.ErrUnknownCommand.Wrapf("%T", cmd)
}

// checkInvariants runs every component's post-condition.
func (e *Engine) checkInvariants() error {
	if err := e.c.token.CheckInvariants(); err != nil {
		return fmt.Errorf("token: %w", err)
	}
	if err := e.c.ledger.CheckInvariants(); err != nil {
		return fmt.Errorf("collateral: %w", err)
	}
	if err := e.c.pool.CheckInvariants(); err != nil {
		return fmt.Errorf("pool: %w", err)
	}
	if err := e.c.market.CheckInvariants(); err != nil {
		return fmt.Errorf("market: %w", err)
	}
	return nil
}

func (e *Engine) observeState(events []event.Event) {
	m := e.metrics
	long, short := e.c.market.OpenInterest()
	m.OpenInterest.WithLabelValues("long").Set(long.Decimal().InexactFloat64())
	m.OpenInterest.WithLabelValues("short").Set(short.Decimal().InexactFloat64())
	m.PositionsOpen.Set(float64(len(e.c.market.Positions())))
	m.PoolLiquidity.Set(e.c.pool.TotalLiquidity().Decimal().InexactFloat64())
	m.InsuranceFundBalance.Set(e.c.pool.InsuranceFund().Decimal().InexactFloat64())

	for _, ev := range events {
		switch ev := ev.(type) {
		case *event.PriceUpdated:
			m.MarkPrice.WithLabelValues(ev.Symbol).Set(ev.Price.Float64())
		case *event.FundingRateUpdated:
			m.FundingRate.Set(ev.Rate.Float64())
		case *event.FeesCollected:
			m.FeesCollected.Add(ev.Gross.Decimal().InexactFloat64())
		case *event.PositionLiquidated:
			m.Liquidations.Inc()
			m.BadDebt.Add(ev.BadDebt.Decimal().InexactFloat64())
		}
	}
}

// --- Read side ---

// View is a read-only handle on engine state. It is valid only inside the
// Read callback; callers must not mutate through it.
type View struct {
	Token     *token.Token
	Feed      *feed.Feed
	Ledger    *collateral.Ledger
	Pool      *pool.Pool
	Market    *market.Market
	Clock     int64
	Sequence  int64 // last committed sequence, 0 before the first command
	StateHash [32]byte
}

// Read runs fn under the read lock.
func (e *Engine) Read(fn func(v View)) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	fn(View{
		Token:     e.c.token,
		Feed:      e.c.feed,
		Ledger:    e.c.ledger,
		Pool:      e.c.pool,
		Market:    e.c.market,
		Clock:     e.clock,
		Sequence:  e.sequence - 1,
		StateHash: e.hasher.GetPrevHash(),
	})
}

func (e *Engine) Params() Params { return e.params }

// Sequence returns the last committed sequence.
func (e *Engine) Sequence() int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.sequence - 1
}

// StateHash returns the hash chain tip.
func (e *Engine) StateHash() [32]byte {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.hasher.GetPrevHash()
}

func (e *Engine) Clock() int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.clock
}

// MarketAddress is the market's address, the one caller authorised on the
// ledger and the pool.
func (e *Engine) MarketAddress() uuid.UUID {
	return e.c.market.Address()
}

// ExpectedSequence is the next source sequence the caller's partition
// accepts.
func (e *Engine) ExpectedSequence(caller uuid.UUID) int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.sequenceValidator.ExpectedSequence(callerPartition(caller))
}
