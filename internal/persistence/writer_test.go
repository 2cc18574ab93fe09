package persistence

import (
	"PerpClearing/internal/core"
	"PerpClearing/internal/event"
	"PerpClearing/internal/fixed"
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccounts_Rows(t *testing.T) {
	accounts := NewAccounts("USDC", core.LedgerAddress(), core.PoolAddress())
	env := &event.Envelope{
		Sequence:       7,
		Command:        "DepositCollateral",
		IdempotencyKey: "k",
		Caller:         alice,
		Payload:        []byte(`{"amount":1}`),
		Events: []event.Event{
			&event.Transfer{From: uuid.Nil, To: alice, Amount: fixed.QuoteFromInt(5)},
			&event.Approval{Owner: alice, Spender: core.LedgerAddress(), Amount: 1},
			&event.Transfer{From: alice, To: core.LedgerAddress(), Amount: fixed.QuoteFromInt(2)},
		},
		StateHash: [32]byte{1},
	}

	row, journals, err := accounts.Rows(env)
	require.NoError(t, err)
	assert.Equal(t, int64(7), row.Sequence)
	assert.Len(t, row.StateHash, 32)
	assert.Equal(t, byte(1), row.StateHash[0])

	var records []event.Record
	require.NoError(t, json.Unmarshal(row.Events, &records))
	require.Len(t, records, 3)
	assert.Equal(t, "Transfer", records[0].Type)
	assert.Equal(t, "Approval", records[1].Type)

	require.Len(t, journals, 2)
	assert.Equal(t, JournalRow{
		Sequence:      7,
		Index:         0,
		DebitAccount:  "user:" + alice.String() + ":USDC",
		CreditAccount: "external:mint:USDC",
		Amount:        5_000000,
		JournalType:   "mint",
	}, journals[0])
	assert.Equal(t, 1, journals[1].Index)
	assert.Equal(t, "contract:"+core.LedgerAddress().String()+":USDC", journals[1].DebitAccount)
	assert.Equal(t, "transfer", journals[1].JournalType)
}

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, "($1, $2), ($3, $4)", placeholders(2, 2))
	assert.Equal(t, "($1)", placeholders(1, 1))
	assert.Equal(t, "", placeholders(0, 3))
}

func TestChunks(t *testing.T) {
	assert.Empty(t, chunks(0, 10))
	per := maxParams / 10
	got := chunks(per*2+1, 10)
	require.Len(t, got, 3)
	assert.Equal(t, [2]int{0, per}, got[0])
	assert.Equal(t, [2]int{per * 2, per*2 + 1}, got[2])
}

func TestEmbeddedMigrations(t *testing.T) {
	ups, err := ListMigrations(Migrations(), ".up.sql")
	require.NoError(t, err)
	require.Equal(t, []string{"000001_clearing.up.sql", "000002_projections.up.sql"}, ups)

	downs, err := ListMigrations(Migrations(), ".down.sql")
	require.NoError(t, err)
	for i, up := range ups {
		assert.Equal(t, strings.Replace(up, ".up.sql", ".down.sql", 1), downs[i])
		assert.Equal(t, up[:6], extractVersion(up))
	}
}
