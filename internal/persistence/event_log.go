package persistence

import (
	"PerpClearing/internal/event"
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// EnvelopeSource reads committed envelopes in sequence order, starting at
// from (inclusive). Replay only needs the command payload and hashes, so
// implementations may leave Events empty.
type EnvelopeSource interface {
	LoadEnvelopesFrom(ctx context.Context, from int64, limit int) ([]*event.Envelope, error)
}

// EventLogReader reads clearing.event_log.
type EventLogReader struct {
	db *sql.DB
}

func NewEventLogReader(db *sql.DB) *EventLogReader {
	return &EventLogReader{db: db}
}

func (r *EventLogReader) LoadEnvelopesFrom(ctx context.Context, from int64, limit int) ([]*event.Envelope, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT sequence, command, idempotency_key, caller, ts, source_sequence,
		       payload, state_hash, prev_hash
		FROM clearing.event_log
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, from, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*event.Envelope
	for rows.Next() {
		var (
			env             event.Envelope
			caller          string
			payload         []byte
			stateHash, prev []byte
		)
		if err := rows.Scan(
			&env.Sequence, &env.Command, &env.IdempotencyKey, &caller, &env.Timestamp,
			&env.SourceSequence, &payload, &stateHash, &prev,
		); err != nil {
			return nil, err
		}
		if env.Caller, err = uuid.Parse(caller); err != nil {
			return nil, fmt.Errorf("seq=%d caller: %w", env.Sequence, err)
		}
		if len(stateHash) != 32 || len(prev) != 32 {
			return nil, fmt.Errorf("seq=%d: malformed hash", env.Sequence)
		}
		env.Payload = payload
		copy(env.StateHash[:], stateHash)
		copy(env.PrevHash[:], prev)
		out = append(out, &env)
	}
	return out, rows.Err()
}

// LatestSequence returns the highest logged sequence, 0 when empty.
func (r *EventLogReader) LatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := r.db.QueryRowContext(ctx, `SELECT MAX(sequence) FROM clearing.event_log`).Scan(&seq); err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil
	}
	return seq.Int64, nil
}

// MemoryLog serves envelopes captured by an event.MemorySink.
type MemoryLog struct {
	Sink *event.MemorySink
}

func (m MemoryLog) LoadEnvelopesFrom(_ context.Context, from int64, limit int) ([]*event.Envelope, error) {
	var out []*event.Envelope
	for _, env := range m.Sink.Envelopes() {
		if env.Sequence < from {
			continue
		}
		if len(out) == limit {
			break
		}
		out = append(out, env)
	}
	return out, nil
}
