package projection

import (
	"PerpClearing/internal/event"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
)

const rebuildPage = 1000

// RebuildProjections rebuilds every projection table from the clearing
// schema: balances by aggregating the journal, everything else by
// replaying the logged events. Run it with the projection worker stopped;
// a restarted worker resumes above the returned watermark.
func RebuildProjections(ctx context.Context, db *sql.DB, logger zerolog.Logger) (int64, error) {
	truncate := []string{
		`TRUNCATE projections.balances`,
		`TRUNCATE projections.positions`,
		`TRUNCATE projections.funding_history`,
		`TRUNCATE projections.liquidation_history`,
		`DELETE FROM projections.watermark WHERE worker_id = 'main'`,
	}
	for _, stmt := range truncate {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return 0, fmt.Errorf("truncate failed: %w", err)
		}
	}

	var last int64
	for {
		n, upTo, err := rebuildPageFrom(ctx, db, last)
		if err != nil {
			return 0, err
		}
		if n == 0 {
			break
		}
		last = upTo
	}

	// Balances up to the watermark, debits in and credits out.
	if _, err := db.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, balance, last_sequence)
		SELECT account_path, SUM(delta), MAX(sequence)
		FROM (
			SELECT debit_account AS account_path, amount AS delta, sequence
			FROM clearing.journal WHERE sequence <= $1
			UNION ALL
			SELECT credit_account, -amount, sequence
			FROM clearing.journal WHERE sequence <= $1
		) j
		GROUP BY account_path
	`, last); err != nil {
		return 0, fmt.Errorf("rebuild balances: %w", err)
	}

	logger.Info().Int64("watermark", last).Msg("projection rebuild complete")
	return last, nil
}

func rebuildPageFrom(ctx context.Context, db *sql.DB, after int64) (int, int64, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, err
	}
	defer tx.Rollback()

	envs, err := loggedEvents(ctx, tx, after)
	if err != nil {
		return 0, 0, err
	}
	if len(envs) == 0 {
		return 0, after, nil
	}
	for _, env := range envs {
		if err := applyEvents(ctx, tx, env); err != nil {
			return 0, 0, err
		}
	}
	last := envs[len(envs)-1].Sequence
	if err := setWatermark(ctx, tx, last); err != nil {
		return 0, 0, err
	}
	return len(envs), last, tx.Commit()
}

func loggedEvents(ctx context.Context, tx *sql.Tx, after int64) ([]*event.Envelope, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT sequence, ts, events
		FROM clearing.event_log
		WHERE sequence > $1
		ORDER BY sequence ASC
		LIMIT $2
	`, after, rebuildPage)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*event.Envelope
	for rows.Next() {
		var (
			env  event.Envelope
			data []byte
		)
		if err := rows.Scan(&env.Sequence, &env.Timestamp, &data); err != nil {
			return nil, err
		}
		var records []event.Record
		if err := json.Unmarshal(data, &records); err != nil {
			return nil, fmt.Errorf("seq=%d events: %w", env.Sequence, err)
		}
		if env.Events, err = event.Decode(records); err != nil {
			return nil, fmt.Errorf("seq=%d: %w", env.Sequence, err)
		}
		out = append(out, &env)
	}
	return out, rows.Err()
}
