package projection

import (
	"PerpClearing/internal/event"
	"PerpClearing/internal/fixed"
	"PerpClearing/internal/persistence"
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const watermarkID = "main"

// Store maintains the projections schema: balances, open positions,
// funding and liquidation history. Every write is guarded by the
// watermark, so an envelope is applied at most once.
type Store struct {
	db       *sql.DB
	accounts *persistence.Accounts
}

func NewStore(db *sql.DB, accounts *persistence.Accounts) *Store {
	return &Store{db: db, accounts: accounts}
}

// Apply projects env in one transaction. It reports false when env was at
// or below the watermark and nothing was written.
func (s *Store) Apply(ctx context.Context, env *event.Envelope) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	last, err := lockWatermark(ctx, tx)
	if err != nil {
		return false, err
	}
	if env.Sequence <= last {
		return false, nil
	}
	if err := s.applyBalances(ctx, tx, env); err != nil {
		return false, fmt.Errorf("balance projection: %w", err)
	}
	if err := applyEvents(ctx, tx, env); err != nil {
		return false, err
	}
	if err := setWatermark(ctx, tx, env.Sequence); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

// Watermark returns the last projected sequence, 0 when nothing is projected.
func (s *Store) Watermark(ctx context.Context) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx,
		`SELECT last_sequence FROM projections.watermark WHERE worker_id = $1`, watermarkID).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return seq, err
}

// Balance returns the projected token balance of holder.
func (s *Store) Balance(ctx context.Context, holder uuid.UUID) (fixed.Quote, error) {
	var balance int64
	err := s.db.QueryRowContext(ctx,
		`SELECT balance FROM projections.balances WHERE account_path = $1`, s.accounts.Path(holder)).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return fixed.Quote(balance), err
}

func (s *Store) FundingHistory(ctx context.Context, limit int) ([]FundingRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sequence, market, rate::TEXT, cumulative_funding::TEXT,
		       open_interest_long, open_interest_short, ts
		FROM projections.funding_history
		ORDER BY sequence DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]FundingRecord, 0)
	for rows.Next() {
		var (
			r          FundingRecord
			market     string
			rate, cumF string
			oiL, oiS   int64
		)
		if err := rows.Scan(&r.Sequence, &market, &rate, &cumF, &oiL, &oiS, &r.Timestamp); err != nil {
			return nil, err
		}
		if r.Market, err = uuid.Parse(market); err != nil {
			return nil, fmt.Errorf("funding seq=%d: %w", r.Sequence, err)
		}
		if r.Rate, err = fixed.RateFromRaw(rate); err != nil {
			return nil, fmt.Errorf("funding seq=%d rate: %w", r.Sequence, err)
		}
		if r.CumulativeFunding, err = fixed.RateFromRaw(cumF); err != nil {
			return nil, fmt.Errorf("funding seq=%d index: %w", r.Sequence, err)
		}
		r.OpenInterestLong, r.OpenInterestShort = fixed.Quote(oiL), fixed.Quote(oiS)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) LiquidationHistory(ctx context.Context, trader uuid.UUID, limit int) ([]LiquidationRecord, error) {
	query := `
		SELECT sequence, market, trader, liquidator, price::TEXT,
		       seized, bad_debt, insurance_covered, liquidator_fee, returned, ts
		FROM projections.liquidation_history`
	args := []interface{}{limit}
	if trader != uuid.Nil {
		query += ` WHERE trader = $2`
		args = append(args, trader.String())
	}
	query += ` ORDER BY sequence DESC LIMIT $1`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]LiquidationRecord, 0)
	for rows.Next() {
		var (
			r                                LiquidationRecord
			market, trd, liquidator, px      string
			seized, debt, covered, fee, back int64
		)
		if err := rows.Scan(&r.Sequence, &market, &trd, &liquidator, &px,
			&seized, &debt, &covered, &fee, &back, &r.Timestamp); err != nil {
			return nil, err
		}
		for _, f := range []struct {
			dst *uuid.UUID
			src string
		}{{&r.Market, market}, {&r.Trader, trd}, {&r.Liquidator, liquidator}} {
			if *f.dst, err = uuid.Parse(f.src); err != nil {
				return nil, fmt.Errorf("liquidation seq=%d: %w", r.Sequence, err)
			}
		}
		if r.Price, err = fixed.PriceFromRaw(px); err != nil {
			return nil, fmt.Errorf("liquidation seq=%d price: %w", r.Sequence, err)
		}
		r.Seized, r.BadDebt, r.InsuranceCovered = fixed.Quote(seized), fixed.Quote(debt), fixed.Quote(covered)
		r.LiquidatorFee, r.Returned = fixed.Quote(fee), fixed.Quote(back)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) applyBalances(ctx context.Context, tx *sql.Tx, env *event.Envelope) error {
	for _, ev := range env.Events {
		t, ok := ev.(*event.Transfer)
		if !ok {
			continue
		}
		if err := addBalance(ctx, tx, s.accounts.Path(t.To), int64(t.Amount), env.Sequence); err != nil {
			return err
		}
		if err := addBalance(ctx, tx, s.accounts.Path(t.From), -int64(t.Amount), env.Sequence); err != nil {
			return err
		}
	}
	return nil
}

func addBalance(ctx context.Context, tx *sql.Tx, path string, delta, seq int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, balance, last_sequence)
		VALUES ($1, $2, $3)
		ON CONFLICT (account_path)
		DO UPDATE SET balance = projections.balances.balance + $2, last_sequence = $3
	`, path, delta, seq)
	return err
}

// applyEvents projects everything except balances, which a rebuild takes
// from the journal instead.
func applyEvents(ctx context.Context, tx *sql.Tx, env *event.Envelope) error {
	for _, ev := range env.Events {
		var err error
		switch e := ev.(type) {
		case *event.PositionOpened:
			_, err = tx.ExecContext(ctx, `
				INSERT INTO projections.positions (trader, market, size, margin, is_long, entry_price, last_sequence)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
				ON CONFLICT (trader) DO UPDATE SET
					market = EXCLUDED.market, size = EXCLUDED.size, margin = EXCLUDED.margin,
					is_long = EXCLUDED.is_long, entry_price = EXCLUDED.entry_price,
					last_sequence = EXCLUDED.last_sequence
			`, e.Trader.String(), e.Market.String(), int64(e.Size), int64(e.Margin), e.IsLong, e.EntryPrice.String(), env.Sequence)
		case *event.PositionClosed:
			_, err = tx.ExecContext(ctx, `DELETE FROM projections.positions WHERE trader = $1`, e.Trader.String())
		case *event.PositionLiquidated:
			if _, err = tx.ExecContext(ctx, `DELETE FROM projections.positions WHERE trader = $1`, e.Trader.String()); err != nil {
				break
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO projections.liquidation_history
					(sequence, market, trader, liquidator, price, seized, bad_debt,
					 insurance_covered, liquidator_fee, returned, ts)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
				ON CONFLICT (sequence) DO NOTHING
			`, env.Sequence, e.Market.String(), e.Trader.String(), e.Liquidator.String(), e.Price.String(),
				int64(e.Seized), int64(e.BadDebt), int64(e.InsuranceCovered), int64(e.LiquidatorFee),
				int64(e.Returned), env.Timestamp)
		case *event.FundingRateUpdated:
			_, err = tx.ExecContext(ctx, `
				INSERT INTO projections.funding_history
					(sequence, market, rate, cumulative_funding, open_interest_long, open_interest_short, ts)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
				ON CONFLICT (sequence) DO NOTHING
			`, env.Sequence, e.Market.String(), e.Rate.String(), e.CumulativeFunding.String(),
				int64(e.OpenInterestLong), int64(e.OpenInterestShort), e.Timestamp)
		}
		if err != nil {
			return fmt.Errorf("project %s seq=%d: %w", ev.EventType(), env.Sequence, err)
		}
	}
	return nil
}

func lockWatermark(ctx context.Context, tx *sql.Tx) (int64, error) {
	var seq int64
	err := tx.QueryRowContext(ctx,
		`SELECT last_sequence FROM projections.watermark WHERE worker_id = $1 FOR UPDATE`, watermarkID).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return seq, err
}

func setWatermark(ctx context.Context, tx *sql.Tx, seq int64) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $2, updated_at = NOW()
	`, watermarkID, seq); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}
	return nil
}
