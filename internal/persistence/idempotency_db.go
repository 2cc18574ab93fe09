package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PostgresIdempotency is the durable dedup tier behind the engine's LRU.
// It answers from clearing.processed_commands, which the persistence
// worker fills in the same transaction as the event log.
type PostgresIdempotency struct {
	db      *sql.DB
	timeout time.Duration
}

func NewPostgresIdempotency(db *sql.DB) *PostgresIdempotency {
	return &PostgresIdempotency{
		db:      db,
		timeout: 500 * time.Millisecond,
	}
}

// LookupProcessed returns the sequence a command key was applied at.
func (p *PostgresIdempotency) LookupProcessed(command, idempotencyKey string) (int64, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	var seq int64
	err := p.db.QueryRowContext(ctx, `
		SELECT sequence
		FROM clearing.processed_commands
		WHERE command = $1 AND idempotency_key = $2
	`, command, idempotencyKey).Scan(&seq)

	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return seq, true, nil
}
