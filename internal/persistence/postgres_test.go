package persistence_test

import (
	"PerpClearing/internal/command"
	"PerpClearing/internal/core"
	"PerpClearing/internal/fixed"
	"PerpClearing/internal/persistence"
	"PerpClearing/internal/testutil"
	"PerpClearing/internal/types"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runToPostgres processes n mints and persists them through the Postgres
// batch writer with a snapshot every 4 sequences.
func runToPostgres(t *testing.T, n int, writer *persistence.PostgresBatchWriter) (*core.Engine, core.Params) {
	t.Helper()
	owner := types.DeriveAddress("pg-owner")
	params := core.DefaultParams(owner)
	params.Genesis = 1_700_000_000

	ch := make(chan core.Output, n)
	e, err := core.NewEngine(params, core.WithPersistChan(ch), core.WithSnapshotEvery(4))
	require.NoError(t, err)
	for i := 1; i <= n; i++ {
		_, err := e.Process(&command.Mint{
			Meta:   command.Meta{IdempotencyKey: fmt.Sprintf("pg-%d", i), Caller: owner, Timestamp: params.Genesis},
			To:     uuid.MustParse("00000000-0000-0000-0000-000000000001"),
			Amount: fixed.QuoteFromInt(10),
		})
		require.NoError(t, err)
	}
	close(ch)

	w := persistence.NewPersistenceWorker(writer, ch, 4, time.Hour, nil, zerolog.Nop())
	require.NoError(t, w.Run(context.Background()))
	return e, params
}

func TestPostgres_PersistAndRecover(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	accounts := persistence.NewAccounts("USDC", core.LedgerAddress(), core.PoolAddress())
	e, params := runToPostgres(t, 10, persistence.NewPostgresBatchWriter(db, accounts, nil))

	reader := persistence.NewEventLogReader(db)
	latest, err := reader.LatestSequence(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(10), latest)

	var journals int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM clearing.journal`).Scan(&journals))
	assert.Equal(t, 10, journals)

	seq, found, err := persistence.NewPostgresIdempotency(db).LookupProcessed("Mint", "pg-7")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(7), seq)

	_, found, err = persistence.NewPostgresIdempotency(db).LookupProcessed("Approve", "pg-7")
	require.NoError(t, err)
	assert.False(t, found)

	store := persistence.NewPostgresSnapshotStore(db)
	restored, stats, err := persistence.Recover(ctx, params, store, reader, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, int64(8), stats.SnapshotSequence)
	assert.Equal(t, 2, stats.Replayed)
	assert.Equal(t, e.StateHash(), restored.StateHash())

	pruned, err := store.Prune(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)
}

func TestPostgres_RedisSnapshotCache(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	rdb := testutil.SetupTestRedis(t)
	ctx := context.Background()

	cache := persistence.NewCachedSnapshotStore(persistence.NewPostgresSnapshotStore(db), rdb, time.Minute, zerolog.Nop())
	accounts := persistence.NewAccounts("USDC", core.LedgerAddress(), core.PoolAddress())
	runToPostgres(t, 8, persistence.NewPostgresBatchWriter(db, accounts, nil).WithCache(cache))

	snap, err := cache.LoadLatestSnapshot(ctx)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, int64(8), snap.Sequence)

	// The cache answers even when the primary has been emptied.
	_, err = db.ExecContext(ctx, `TRUNCATE clearing.snapshots`)
	require.NoError(t, err)
	snap, err = cache.LoadLatestSnapshot(ctx)
	require.NoError(t, err)
	require.NotNil(t, snap)

	require.NoError(t, cache.Invalidate(ctx))
	snap, err = cache.LoadLatestSnapshot(ctx)
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestPostgres_EnvelopeRoundTrip(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	accounts := persistence.NewAccounts("USDC", core.LedgerAddress(), core.PoolAddress())
	e, _ := runToPostgres(t, 2, persistence.NewPostgresBatchWriter(db, accounts, nil))

	envs, err := persistence.NewEventLogReader(db).LoadEnvelopesFrom(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, envs, 2)
	assert.Equal(t, "Mint", envs[0].Command)
	assert.Equal(t, e.StateHash(), envs[1].StateHash)
	assert.Equal(t, envs[0].StateHash, envs[1].PrevHash)

	cmd, err := command.Decode(envs[1].Command, envs[1].Payload)
	require.NoError(t, err)
	assert.Equal(t, "pg-2", cmd.Header().IdempotencyKey)
}
