package token_test

import (
	"PerpClearing/internal/fixed"
	"PerpClearing/internal/token"
	"PerpClearing/internal/txn"
	"PerpClearing/internal/types"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	minter  = uuid.MustParse("00000000-0000-0000-0000-0000000000aa")
	alice   = uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")
	bob     = uuid.MustParse("550e8400-e29b-41d4-a716-446655440001")
	custody = uuid.MustParse("550e8400-e29b-41d4-a716-4466554400ff")
)

// ============================================================================
// Test: AccountKey
// ============================================================================

func TestAccountKey_Paths(t *testing.T) {
	assert.Equal(t, "user:550e8400-e29b-41d4-a716-446655440000:USDC",
		token.NewUserAccountKey(alice).AccountPath("USDC"))
	assert.Equal(t, "contract:550e8400-e29b-41d4-a716-4466554400ff:USDC",
		token.NewContractAccountKey(custody).AccountPath("USDC"))
	assert.Equal(t, "external:mint:USDC", token.MintAccountKey().AccountPath("USDC"))
}

// ============================================================================
// Test: Token
// ============================================================================

func newToken(t *testing.T) *token.Token {
	t.Helper()
	tok := token.New("USDC", minter)
	tok.RegisterContract(custody, "collateral")
	tx := txn.Begin(0)
	require.NoError(t, tok.Mint(tx, minter, alice, fixed.QuoteFromInt(100)))
	tx.Commit()
	return tok
}

func TestMint(t *testing.T) {
	tok := newToken(t)
	assert.Equal(t, fixed.QuoteFromInt(100), tok.BalanceOf(alice))
	assert.Equal(t, fixed.QuoteFromInt(100), tok.TotalSupply())
	require.NoError(t, tok.CheckInvariants())

	tx := txn.Begin(0)
	err := tok.Mint(tx, alice, alice, 1)
	require.ErrorIs(t, err, types.ErrUnauthorised)
	err = tok.Mint(tx, minter, alice, 0)
	require.ErrorIs(t, err, types.ErrZeroAmount)
	err = tok.Mint(tx, minter, uuid.Nil, 1)
	require.ErrorIs(t, err, types.ErrInvalidAddress)
	tx.Rollback()
}

func TestTransfer(t *testing.T) {
	tok := newToken(t)
	tx := txn.Begin(0)
	require.NoError(t, tok.Transfer(tx, alice, bob, fixed.QuoteFromInt(40)))
	events := tx.Commit()
	require.Len(t, events, 1)

	assert.Equal(t, fixed.QuoteFromInt(60), tok.BalanceOf(alice))
	assert.Equal(t, fixed.QuoteFromInt(40), tok.BalanceOf(bob))

	tx = txn.Begin(0)
	err := tok.Transfer(tx, bob, alice, fixed.QuoteFromInt(41))
	require.ErrorIs(t, err, types.ErrInsufficientBalance)
	tx.Rollback()
	require.NoError(t, tok.CheckInvariants())
}

func TestTransferFrom_ConsumesAllowance(t *testing.T) {
	tok := newToken(t)
	tx := txn.Begin(0)
	require.NoError(t, tok.Approve(tx, alice, custody, fixed.QuoteFromInt(50)))
	require.NoError(t, tok.TransferFrom(tx, custody, alice, custody, fixed.QuoteFromInt(30)))
	tx.Commit()

	assert.Equal(t, fixed.QuoteFromInt(20), tok.Allowance(alice, custody))
	assert.Equal(t, fixed.QuoteFromInt(30), tok.BalanceOf(custody))
	assert.Equal(t, fixed.QuoteFromInt(30),
		tok.Tracker().GetBalance(token.NewContractAccountKey(custody)))

	tx = txn.Begin(0)
	err := tok.TransferFrom(tx, custody, alice, custody, fixed.QuoteFromInt(21))
	require.ErrorIs(t, err, types.ErrInsufficientAllowance)
	tx.Rollback()
}

func TestTransferFrom_UnlimitedAllowance(t *testing.T) {
	tok := newToken(t)
	tx := txn.Begin(0)
	require.NoError(t, tok.Approve(tx, alice, bob, token.Unlimited))
	require.NoError(t, tok.TransferFrom(tx, bob, alice, bob, fixed.QuoteFromInt(10)))
	tx.Commit()
	assert.Equal(t, token.Unlimited, tok.Allowance(alice, bob))
}

func TestRollbackRestoresBalancesAndAllowances(t *testing.T) {
	tok := newToken(t)
	tx := txn.Begin(0)
	require.NoError(t, tok.Approve(tx, alice, bob, fixed.QuoteFromInt(50)))
	require.NoError(t, tok.TransferFrom(tx, bob, alice, bob, fixed.QuoteFromInt(50)))
	tx.Rollback()

	assert.Equal(t, fixed.QuoteFromInt(100), tok.BalanceOf(alice))
	assert.Equal(t, fixed.Quote(0), tok.BalanceOf(bob))
	assert.Equal(t, fixed.Quote(0), tok.Allowance(alice, bob))
	assert.Empty(t, tok.Allowances())
}

func TestTrackerKeysAreOrdered(t *testing.T) {
	tok := newToken(t)
	tx := txn.Begin(0)
	require.NoError(t, tok.Transfer(tx, alice, custody, 1))
	require.NoError(t, tok.Transfer(tx, alice, bob, 1))
	tx.Commit()

	keys := tok.Tracker().Keys()
	require.Len(t, keys, 4)
	assert.Equal(t, token.NewUserAccountKey(alice), keys[0])
	assert.Equal(t, token.NewUserAccountKey(bob), keys[1])
	assert.Equal(t, token.NewContractAccountKey(custody), keys[2])
	assert.Equal(t, token.MintAccountKey(), keys[3])
}
