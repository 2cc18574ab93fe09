package projection_test

import (
	"PerpClearing/internal/command"
	"PerpClearing/internal/core"
	"PerpClearing/internal/fixed"
	"PerpClearing/internal/persistence"
	"PerpClearing/internal/projection"
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

func TestPostgres_ProjectAndRebuild(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	owner := types.DeriveAddress("projection-owner")
	holder := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	params := core.DefaultParams(owner)
	params.Genesis = 1_700_000_000

	persistCh := make(chan core.Output, 8)
	e, err := core.NewEngine(params, core.WithPersistChan(persistCh))
	require.NoError(t, err)

	accounts := persistence.NewAccounts("USDC", core.LedgerAddress(), core.PoolAddress())
	store := projection.NewStore(db, accounts)
	var outputs []core.Output
	for i := 1; i <= 5; i++ {
		_, err := e.Process(&command.Mint{
			Meta:   command.Meta{IdempotencyKey: fmt.Sprintf("p-%d", i), Caller: owner, Timestamp: params.Genesis},
			To:     holder,
			Amount: fixed.QuoteFromInt(20),
		})
		require.NoError(t, err)
		outputs = append(outputs, <-persistCh)
	}
	for _, out := range outputs {
		persistCh <- out
	}
	close(persistCh)
	w := persistence.NewPersistenceWorker(persistence.NewPostgresBatchWriter(db, accounts, nil), persistCh, 10, time.Hour, nil, zerolog.Nop())
	require.NoError(t, w.Run(ctx))

	for _, out := range outputs {
		applied, err := store.Apply(ctx, out.Envelope)
		require.NoError(t, err)
		assert.True(t, applied)
	}
	applied, err := store.Apply(ctx, outputs[2].Envelope)
	require.NoError(t, err)
	assert.False(t, applied, "below the watermark")

	balance, err := store.Balance(ctx, holder)
	require.NoError(t, err)
	assert.Equal(t, fixed.QuoteFromInt(100), balance)

	watermark, err := projection.RebuildProjections(ctx, db, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, int64(5), watermark)

	rebuilt, err := store.Balance(ctx, holder)
	require.NoError(t, err)
	assert.Equal(t, balance, rebuilt)

	got, err := store.Watermark(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), got)

	history, err := store.FundingHistory(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, history)
}
