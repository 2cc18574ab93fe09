package txn_test

import (
	"PerpClearing/internal/event"
	"PerpClearing/internal/txn"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRollbackRestoresInReverseOrder(t *testing.T) {
	x := 1
	m := map[string]int{"a": 1}

	tx := txn.Begin(100)
	txn.Set(tx, &x, 2)
	txn.Set(tx, &x, 3)
	txn.Put(tx, m, "a", 10)
	txn.Put(tx, m, "b", 20)
	txn.Delete(tx, m, "a")
	tx.Emit(&event.MarketPaused{})
	require.Equal(t, 1, tx.Pending())

	tx.Rollback()
	assert.Equal(t, 1, x)
	assert.Equal(t, map[string]int{"a": 1}, m)
	assert.Nil(t, tx.Commit(), "a finished tx yields no events")
}

func TestCommitKeepsChangesAndEvents(t *testing.T) {
	x := 1
	m := map[string]int{}

	tx := txn.Begin(100)
	assert.Equal(t, int64(100), tx.Now)
	txn.Set(tx, &x, 5)
	txn.Put(tx, m, "k", 7)
	tx.Emit(&event.MarketPaused{})
	tx.Emit(&event.MarketResumed{})

	events := tx.Commit()
	require.Len(t, events, 2)
	assert.Equal(t, event.EventTypeMarketPaused, events[0].EventType())

	tx.Rollback()
	assert.Equal(t, 5, x)
	assert.Equal(t, 7, m["k"])
}

func TestDeleteMissingKeyIsNoop(t *testing.T) {
	m := map[string]int{}
	tx := txn.Begin(0)
	txn.Delete(tx, m, "nope")
	tx.Rollback()
	assert.Empty(t, m)
}
