package persistence

import (
	"PerpClearing/internal/event"
	"PerpClearing/internal/token"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// maxParams keeps one statement under the Postgres bind parameter limit.
const maxParams = 60_000

// EnvelopeRow represents a row in clearing.event_log.
type EnvelopeRow struct {
	Sequence       int64
	Command        string
	IdempotencyKey string
	Caller         uuid.UUID
	Timestamp      int64
	SourceSequence int64
	Payload        []byte // command JSON
	Events         []byte // JSON array of event.Record
	StateHash      []byte
	PrevHash       []byte
}

// JournalRow represents a row in clearing.journal.
type JournalRow struct {
	Sequence      int64
	Index         int
	DebitAccount  string
	CreditAccount string
	Amount        int64
	JournalType   string
}

// Accounts maps token holders to their book paths. Contract addresses are
// the engine custody accounts (ledger, pool, market).
type Accounts struct {
	symbol    string
	contracts map[uuid.UUID]struct{}
}

func NewAccounts(symbol string, contracts ...uuid.UUID) *Accounts {
	a := &Accounts{symbol: symbol, contracts: make(map[uuid.UUID]struct{}, len(contracts))}
	for _, c := range contracts {
		a.contracts[c] = struct{}{}
	}
	return a
}

// Path returns the account path of holder; uuid.Nil is the mint account.
func (a *Accounts) Path(holder uuid.UUID) string {
	return a.key(holder).AccountPath(a.symbol)
}

func (a *Accounts) key(holder uuid.UUID) token.AccountKey {
	if holder == uuid.Nil {
		return token.MintAccountKey()
	}
	if _, ok := a.contracts[holder]; ok {
		return token.NewContractAccountKey(holder)
	}
	return token.NewUserAccountKey(holder)
}

// Rows converts a committed envelope into its log row and the journal rows
// of every Transfer it carries.
func (a *Accounts) Rows(env *event.Envelope) (EnvelopeRow, []JournalRow, error) {
	records, err := event.Encode(env.Events)
	if err != nil {
		return EnvelopeRow{}, nil, err
	}
	events, err := json.Marshal(records)
	if err != nil {
		return EnvelopeRow{}, nil, fmt.Errorf("marshal events seq=%d: %w", env.Sequence, err)
	}

	row := EnvelopeRow{
		Sequence:       env.Sequence,
		Command:        env.Command,
		IdempotencyKey: env.IdempotencyKey,
		Caller:         env.Caller,
		Timestamp:      env.Timestamp,
		SourceSequence: env.SourceSequence,
		Payload:        env.Payload,
		Events:         events,
		StateHash:      env.StateHash[:],
		PrevHash:       env.PrevHash[:],
	}

	var journals []JournalRow
	for _, ev := range env.Events {
		t, ok := ev.(*event.Transfer)
		if !ok {
			continue
		}
		jt := token.JournalTypeTransfer
		if t.From == uuid.Nil {
			jt = token.JournalTypeMint
		}
		journals = append(journals, JournalRow{
			Sequence:      env.Sequence,
			Index:         len(journals),
			DebitAccount:  a.Path(t.To),
			CreditAccount: a.Path(t.From),
			Amount:        int64(t.Amount),
			JournalType:   jt.String(),
		})
	}
	return row, journals, nil
}

// EventLogWriter writes envelopes and journals using multi-row INSERTs
// inside the caller's transaction. Every insert is idempotent on its key so
// a retried batch is harmless.
type EventLogWriter struct {
	db *sql.DB
}

func NewEventLogWriter(db *sql.DB) *EventLogWriter {
	return &EventLogWriter{db: db}
}

// WriteEnvelopeBatch writes envelopes to clearing.event_log and their
// idempotency keys to clearing.processed_commands.
func (w *EventLogWriter) WriteEnvelopeBatch(ctx context.Context, tx *sql.Tx, rows []EnvelopeRow) error {
	const cols = 10
	for _, chunk := range chunks(len(rows), cols) {
		batch := rows[chunk[0]:chunk[1]]
		query := `INSERT INTO clearing.event_log
			(sequence, command, idempotency_key, caller, ts, source_sequence, payload, events, state_hash, prev_hash)
			VALUES ` + placeholders(len(batch), cols) + ` ON CONFLICT (sequence) DO NOTHING`

		args := make([]interface{}, 0, len(batch)*cols)
		for _, r := range batch {
			args = append(args,
				r.Sequence, r.Command, r.IdempotencyKey, r.Caller.String(), r.Timestamp,
				r.SourceSequence, string(r.Payload), string(r.Events), r.StateHash, r.PrevHash,
			)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert event_log: %w", err)
		}
	}

	const keyCols = 3
	for _, chunk := range chunks(len(rows), keyCols) {
		batch := rows[chunk[0]:chunk[1]]
		query := `INSERT INTO clearing.processed_commands (command, idempotency_key, sequence)
			VALUES ` + placeholders(len(batch), keyCols) + ` ON CONFLICT (command, idempotency_key) DO NOTHING`

		args := make([]interface{}, 0, len(batch)*keyCols)
		for _, r := range batch {
			args = append(args, r.Command, r.IdempotencyKey, r.Sequence)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert processed_commands: %w", err)
		}
	}
	return nil
}

// WriteJournalBatch writes journal entries to clearing.journal.
func (w *EventLogWriter) WriteJournalBatch(ctx context.Context, tx *sql.Tx, rows []JournalRow) error {
	const cols = 6
	for _, chunk := range chunks(len(rows), cols) {
		batch := rows[chunk[0]:chunk[1]]
		query := `INSERT INTO clearing.journal
			(sequence, idx, debit_account, credit_account, amount, journal_type)
			VALUES ` + placeholders(len(batch), cols) + ` ON CONFLICT (sequence, idx) DO NOTHING`

		args := make([]interface{}, 0, len(batch)*cols)
		for _, j := range batch {
			args = append(args, j.Sequence, j.Index, j.DebitAccount, j.CreditAccount, j.Amount, j.JournalType)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert journal: %w", err)
		}
	}
	return nil
}

// placeholders renders "($1, $2), ($3, $4)" for n rows of cols columns.
func placeholders(n, cols int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for c := 0; c < cols; c++ {
			if c > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", i*cols+c+1)
		}
		b.WriteByte(')')
	}
	return b.String()
}

// chunks splits n rows into [start, end) ranges that fit maxParams.
func chunks(n, cols int) [][2]int {
	per := maxParams / cols
	var out [][2]int
	for start := 0; start < n; start += per {
		end := start + per
		if end > n {
			end = n
		}
		out = append(out, [2]int{start, end})
	}
	return out
}
