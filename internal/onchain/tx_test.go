package onchain

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leafsii/marketplace/internal/marketplace"
)

func TestBankTxRollbackRestoresBalancesAndAllowances(t *testing.T) {
	ctx := context.Background()
	b := NewBank()
	require.NoError(t, b.Mint(ctx, token, alice, 1000))
	require.NoError(t, b.Approve(ctx, token, alice, market, 300))

	tx, err := b.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.TransferFrom(ctx, token, market, alice, market, 300))
	require.NoError(t, tx.TransferFrom(ctx, token, market, market, bob, 200))

	bal, _ := b.BalanceOf(ctx, token, bob)
	assert.Equal(t, uint64(200), bal, "moves are visible before commit")
	assert.Zero(t, b.Allowance(ctx, token, alice, market))

	require.NoError(t, tx.Rollback())
	bal, _ = b.BalanceOf(ctx, token, alice)
	assert.Equal(t, uint64(1000), bal)
	bal, _ = b.BalanceOf(ctx, token, market)
	assert.Zero(t, bal)
	bal, _ = b.BalanceOf(ctx, token, bob)
	assert.Zero(t, bal)
	assert.Equal(t, uint64(300), b.Allowance(ctx, token, alice, market))

	assert.ErrorIs(t, tx.Rollback(), ErrTxDone)
	assert.ErrorIs(t, tx.Commit(), ErrTxDone)
	assert.ErrorIs(t, tx.TransferFrom(ctx, token, alice, alice, bob, 1), ErrTxDone)
}

func TestBankTxCommitKeepsMoves(t *testing.T) {
	ctx := context.Background()
	b := NewBank()
	native := marketplace.NativeCurrency
	require.NoError(t, b.Mint(ctx, native, alice, 50))

	tx, err := b.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.TransferFrom(ctx, native, alice, alice, bob, 20))
	require.NoError(t, tx.Commit())
	assert.ErrorIs(t, tx.Rollback(), ErrTxDone)

	bal, _ := b.BalanceOf(ctx, native, bob)
	assert.Equal(t, uint64(20), bal)
}

func TestRegistryTxRollbackRestoresOwnerAndApproval(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry()
	require.NoError(t, r.Mint(ctx, collection, "1", alice))
	require.NoError(t, r.Approve(ctx, collection, "1", alice, market))

	tx, err := r.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Transfer(ctx, collection, "1", market, alice, bob))
	owner, _ := r.OwnerOf(ctx, collection, "1")
	assert.Equal(t, bob, owner)
	approved, _ := r.GetApproved(ctx, collection, "1")
	assert.Empty(t, approved)

	require.NoError(t, tx.Rollback())
	owner, _ = r.OwnerOf(ctx, collection, "1")
	assert.Equal(t, alice, owner)
	approved, _ = r.GetApproved(ctx, collection, "1")
	assert.Equal(t, market, approved)
}

func TestRegistryTxFailedTransferRollsBackCleanly(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry()
	require.NoError(t, r.Mint(ctx, collection, "1", alice))

	tx, err := r.Begin(ctx)
	require.NoError(t, err)
	assert.ErrorIs(t, tx.Transfer(ctx, collection, "1", market, alice, bob), ErrNotApproved)
	require.NoError(t, tx.Rollback())

	owner, _ := r.OwnerOf(ctx, collection, "1")
	assert.Equal(t, alice, owner)
}
