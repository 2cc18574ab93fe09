package query

import (
	"PerpClearing/internal/core"
	"PerpClearing/internal/fixed"
	"PerpClearing/internal/market"
	"PerpClearing/internal/observability"
	"PerpClearing/internal/persistence"
	"PerpClearing/internal/projection"
	"PerpClearing/internal/types"
	"bytes"
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNoDatabase is returned by queries that need the Postgres store when
// the service runs in memory.
var ErrNoDatabase = errors.New("query requires the postgres store")

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// ViewReader gives consistent read access to engine state. *core.Engine
// implements it.
type ViewReader interface {
	Read(fn func(v core.View))
}

// QueryService serves reads. Live state comes straight from the engine
// under its read lock, so every answer is consistent with one sequence.
// History comes from the projections, and journal and integrity queries
// from Postgres when it is configured.
type QueryService struct {
	engine   ViewReader
	history  projection.HistoryReader
	db       *sql.DB
	accounts *persistence.Accounts
	metrics  *observability.Metrics
}

// NewQueryService builds the service. db may be nil.
func NewQueryService(engine ViewReader, history projection.HistoryReader, db *sql.DB, accounts *persistence.Accounts, metrics *observability.Metrics) *QueryService {
	return &QueryService{engine: engine, history: history, db: db, accounts: accounts, metrics: metrics}
}

// GetPrice returns the latest record for symbol. Stale is set when the
// feed would refuse the price at the engine clock.
func (qs *QueryService) GetPrice(ctx context.Context, symbol string) (resp *PriceResponse, err error) {
	defer qs.observe("price", &err)()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	qs.engine.Read(func(v core.View) {
		rec, ok := v.Feed.Record(symbol)
		if !ok {
			err = types.ErrPriceUnavailable.Wrapf("no price for %s", symbol)
			return
		}
		_, gerr := v.Feed.GetPrice(symbol, v.Clock)
		resp = &PriceResponse{
			Symbol:       symbol,
			Price:        rec.Price,
			Human:        rec.Price.Human(),
			Updater:      rec.Updater,
			UpdatedAt:    rec.UpdatedAt,
			Stale:        gerr != nil,
			AsOfSequence: v.Sequence,
		}
	})
	return resp, err
}

// GetPosition returns trader's open position.
func (qs *QueryService) GetPosition(ctx context.Context, trader uuid.UUID) (resp *PositionResponse, err error) {
	defer qs.observe("position", &err)()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	qs.engine.Read(func(v core.View) {
		pos, ok := v.Market.Position(trader)
		if !ok {
			err = types.ErrNoPosition.Wrapf("%s has no position", trader)
			return
		}
		resp, err = positionResponse(v, pos)
	})
	return resp, err
}

// GetPositions returns every open position ordered by trader.
func (qs *QueryService) GetPositions(ctx context.Context) (resp []PositionResponse, err error) {
	defer qs.observe("positions", &err)()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	qs.engine.Read(func(v core.View) {
		resp = make([]PositionResponse, 0)
		for _, pos := range v.Market.Positions() {
			p, perr := positionResponse(v, pos)
			if perr != nil {
				err = perr
				return
			}
			resp = append(resp, *p)
		}
	})
	return resp, err
}

func positionResponse(v core.View, pos market.Position) (*PositionResponse, error) {
	liq, err := market.LiquidationPrice(pos)
	if err != nil {
		return nil, err
	}
	resp := &PositionResponse{
		Trader:            pos.Trader,
		Market:            v.Market.Address(),
		Side:              pos.Side(),
		Size:              pos.Size,
		Margin:            pos.Margin,
		Leverage:          pos.Leverage,
		EntryPrice:        pos.EntryPrice,
		LiquidationPrice:  liq,
		OpenedAt:          pos.OpenedAt,
		LastFundingCursor: pos.LastFundingCursor,
		AsOfSequence:      v.Sequence,
	}

	mark, err := v.Feed.GetPrice(v.Market.Symbol(), v.Clock)
	if err != nil {
		// No usable mark price: the position is still reported.
		return resp, nil
	}
	pnl, funding, err := v.Market.UnrealizedPnL(pos.Trader, v.Clock)
	if err != nil {
		return nil, err
	}
	liquidatable, err := v.Market.IsLiquidatable(pos.Trader, v.Clock)
	if err != nil {
		return nil, err
	}
	resp.MarkPrice, resp.UnrealizedPnL, resp.PendingFunding = &mark, &pnl, &funding
	resp.IsLiquidatable = liquidatable
	return resp, nil
}

func (qs *QueryService) GetPool(ctx context.Context) (resp *PoolResponse, err error) {
	defer qs.observe("pool", &err)()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	qs.engine.Read(func(v core.View) {
		p := v.Pool
		resp = &PoolResponse{
			Address:           p.Address(),
			TotalLiquidity:    p.TotalLiquidity(),
			InsuranceFund:     p.InsuranceFund(),
			FeeRate:           p.FeeRate(),
			InsuranceFundRate: p.InsuranceFundRate(),
			Utilisation:       p.Utilisation(),
			RewardIndex:       p.RewardIndex(),
			Providers:         len(p.Providers()),
			AsOfSequence:      v.Sequence,
		}
	})
	return resp, nil
}

// GetProvider returns a provider's record. Unknown providers read as zero,
// the way the pool itself reports them.
func (qs *QueryService) GetProvider(ctx context.Context, provider uuid.UUID) (resp *ProviderResponse, err error) {
	defer qs.observe("provider", &err)()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	qs.engine.Read(func(v core.View) {
		amount, share, rewards := v.Pool.ProviderInfo(provider)
		resp = &ProviderResponse{
			Provider:       provider,
			Amount:         amount,
			SharePct:       share,
			RewardsAccrued: rewards,
			AsOfSequence:   v.Sequence,
		}
	})
	return resp, nil
}

func (qs *QueryService) GetMarket(ctx context.Context) (resp *MarketResponse, err error) {
	defer qs.observe("market", &err)()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	qs.engine.Read(func(v core.View) {
		m := v.Market
		params := m.Params()
		long, short := m.OpenInterest()
		resp = &MarketResponse{
			Address:            m.Address(),
			Symbol:             m.Symbol(),
			TradingEnabled:     m.TradingEnabled(),
			FeeRate:            params.FeeRate,
			MaxLeverage:        params.MaxLeverage,
			LiquidationFeeRate: params.LiquidationFeeRate,
			FundingRate:        m.FundingRate(),
			CumulativeFunding:  m.CumulativeFunding(),
			FundingInterval:    params.FundingInterval,
			LastFundingTime:    m.LastFundingTime(),
			NextFundingTime:    m.LastFundingTime() + params.FundingInterval,
			OpenInterestLong:   long,
			OpenInterestShort:  short,
			OpenPositions:      len(m.Positions()),
			Clock:              v.Clock,
			AsOfSequence:       v.Sequence,
		}
		if mark, perr := v.Feed.GetPrice(m.Symbol(), v.Clock); perr == nil {
			resp.MarkPrice = &mark
		}
	})
	return resp, nil
}

// GetFundingHistory returns the latest funding recomputations, newest first.
func (qs *QueryService) GetFundingHistory(ctx context.Context, limit int) (resp []projection.FundingRecord, err error) {
	defer qs.observe("funding_history", &err)()
	return qs.history.FundingHistory(ctx, clampLimit(limit))
}

// GetLiquidationHistory returns liquidations, newest first. A zero trader
// returns every trader's liquidations.
func (qs *QueryService) GetLiquidationHistory(ctx context.Context, trader uuid.UUID, limit int) (resp []projection.LiquidationRecord, err error) {
	defer qs.observe("liquidation_history", &err)()
	return qs.history.LiquidationHistory(ctx, trader, clampLimit(limit))
}

// GetJournalHistory returns the token journal of holder, newest first,
// below the before sequence when it is positive.
func (qs *QueryService) GetJournalHistory(ctx context.Context, holder uuid.UUID, limit int, before int64) (resp []JournalEntry, err error) {
	defer qs.observe("journal", &err)()
	if qs.db == nil {
		return nil, ErrNoDatabase
	}

	query := `
		SELECT j.sequence, j.idx, j.debit_account, j.credit_account, j.amount, j.journal_type, e.ts
		FROM clearing.journal j
		JOIN clearing.event_log e ON e.sequence = j.sequence
		WHERE (j.debit_account = $1 OR j.credit_account = $1)`
	args := []interface{}{qs.accounts.Path(holder), clampLimit(limit)}
	if before > 0 {
		query += ` AND j.sequence < $3`
		args = append(args, before)
	}
	query += ` ORDER BY j.sequence DESC, j.idx DESC LIMIT $2`

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	resp = make([]JournalEntry, 0)
	for rows.Next() {
		var (
			e      JournalEntry
			amount int64
		)
		if err := rows.Scan(&e.Sequence, &e.Index, &e.DebitAccount, &e.CreditAccount,
			&amount, &e.JournalType, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Amount = fixed.Quote(amount)
		resp = append(resp, e)
	}
	return resp, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks the logged hash chain, the projected balances and
// that the newest logged hash matches the engine.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (report *IntegrityReport, err error) {
	defer qs.observe("integrity", &err)()
	if qs.db == nil {
		return nil, ErrNoDatabase
	}
	report = &IntegrityReport{}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT e1.sequence
		FROM clearing.event_log e1
		JOIN clearing.event_log e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.prev_hash != e2.state_hash
		ORDER BY e1.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			rows.Close()
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := qs.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(balance), 0) FROM projections.balances`).Scan(&report.BalanceImbalance); err != nil {
		return nil, err
	}

	var (
		engineSeq  int64
		engineHash [32]byte
	)
	qs.engine.Read(func(v core.View) { engineSeq, engineHash = v.Sequence, v.StateHash })
	report.CheckedUpTo = engineSeq

	var logged []byte
	err = qs.db.QueryRowContext(ctx,
		`SELECT state_hash FROM clearing.event_log WHERE sequence = $1`, engineSeq).Scan(&logged)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// Not persisted yet, or nothing committed.
		report.EngineHashMatch = engineSeq == 0
	case err != nil:
		return nil, err
	default:
		report.EngineHashMatch = bytes.Equal(logged, engineHash[:])
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && report.BalanceImbalance == 0
	return report, nil
}

// --- helpers ---

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	}
	return limit
}

// observe records one query. Call as defer qs.observe(name, &err)().
func (qs *QueryService) observe(endpoint string, errp *error) func() {
	start := time.Now()
	return func() {
		if qs.metrics == nil {
			return
		}
		qs.metrics.QueryRequests.WithLabelValues(endpoint).Inc()
		qs.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		if *errp != nil {
			qs.metrics.QueryErrors.WithLabelValues(endpoint, ErrorCode(*errp)).Inc()
		}
	}
}

// ErrorCode names err for metrics and API responses.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrNoDatabase):
		return "NoDatabase"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "Cancelled"
	}
	return types.ErrorName(err)
}
