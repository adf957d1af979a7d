package kv

import (
	"context"
	"fmt"
	"testing"

	"github.com/keep-network/tbtc-relayer/relayer/db"
	"github.com/keep-network/tbtc-relayer/relayer/types"
	"github.com/keep-network/tbtc-relayer/testing/assert"
	"github.com/keep-network/tbtc-relayer/testing/require"
)

func setupDB(t *testing.T) *Store {
	store, err := NewKVStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})
	return store
}

func testDeposit(id string, chain string, status types.DepositStatus, createdAt int64) *types.Deposit {
	return &types.Deposit{
		ID:        id,
		ChainName: chain,
		Status:    status,
		Dates: types.DepositDates{
			CreatedAt:      createdAt,
			LastActivityAt: createdAt,
		},
	}
}

func TestSaveDeposit_Duplicate(t *testing.T) {
	store := setupDB(t)
	ctx := context.Background()

	d := testDeposit("101", "arbitrum", types.StatusQueued, 1000)
	require.NoError(t, store.SaveDeposit(ctx, d))
	err := store.SaveDeposit(ctx, d)
	require.ErrorIs(t, err, db.ErrAlreadyExists)
}

func TestDeposit_NotFound(t *testing.T) {
	store := setupDB(t)
	_, err := store.Deposit(context.Background(), "404")
	require.ErrorIs(t, err, db.ErrNotFound)
}

func TestDepositsByStatus_NewestFirstAndChainFilter(t *testing.T) {
	store := setupDB(t)
	ctx := context.Background()

	for i, chain := range []string{"arbitrum", "arbitrum", "base"} {
		d := testDeposit(fmt.Sprintf("%d", 200+i), chain, types.StatusQueued, int64(1000*(i+1)))
		require.NoError(t, store.SaveDeposit(ctx, d))
	}

	all, err := store.DepositsByStatus(ctx, types.StatusQueued, "")
	require.NoError(t, err)
	require.Equal(t, 3, len(all))
	assert.Equal(t, "202", all[0].ID)
	assert.Equal(t, "201", all[1].ID)
	assert.Equal(t, "200", all[2].ID)

	arb, err := store.DepositsByStatus(ctx, types.StatusQueued, "arbitrum")
	require.NoError(t, err)
	require.Equal(t, 2, len(arb))
	assert.Equal(t, "201", arb[0].ID)

	none, err := store.DepositsByStatus(ctx, types.StatusFinalized, "")
	require.NoError(t, err)
	assert.Equal(t, 0, len(none))
}

func TestUpdateDeposit_RepairsStatusIndex(t *testing.T) {
	store := setupDB(t)
	ctx := context.Background()

	d := testDeposit("300", "arbitrum", types.StatusQueued, 1000)
	require.NoError(t, store.SaveDeposit(ctx, d))

	d.Status = types.StatusInitialized
	require.NoError(t, store.UpdateDeposit(ctx, d))

	queued, err := store.DepositsByStatus(ctx, types.StatusQueued, "")
	require.NoError(t, err)
	assert.Equal(t, 0, len(queued))

	initialized, err := store.DepositsByStatus(ctx, types.StatusInitialized, "")
	require.NoError(t, err)
	require.Equal(t, 1, len(initialized))
	assert.Equal(t, "300", initialized[0].ID)

	// Every update bumps activity.
	stored, err := store.Deposit(ctx, "300")
	require.NoError(t, err)
	if stored.Dates.LastActivityAt <= 1000 {
		t.Fatal("expected lastActivityAt to be bumped on update")
	}
}

func TestUpdateDeposit_Unknown(t *testing.T) {
	store := setupDB(t)
	err := store.UpdateDeposit(context.Background(), testDeposit("404", "arbitrum", types.StatusQueued, 1))
	require.ErrorIs(t, err, db.ErrNotFound)
}

func TestDeleteDeposit(t *testing.T) {
	store := setupDB(t)
	ctx := context.Background()

	d := testDeposit("500", "arbitrum", types.StatusQueued, 1000)
	require.NoError(t, store.SaveDeposit(ctx, d))
	require.NoError(t, store.DeleteDeposit(ctx, "500"))

	_, err := store.Deposit(ctx, "500")
	require.ErrorIs(t, err, db.ErrNotFound)

	// Indexes are cleaned too.
	queued, err := store.DepositsByStatus(ctx, types.StatusQueued, "")
	require.NoError(t, err)
	assert.Equal(t, 0, len(queued))
}

func TestDepositsByChain(t *testing.T) {
	store := setupDB(t)
	ctx := context.Background()

	require.NoError(t, store.SaveDeposit(ctx, testDeposit("600", "base", types.StatusQueued, 2000)))
	require.NoError(t, store.SaveDeposit(ctx, testDeposit("601", "base", types.StatusBridged, 3000)))
	require.NoError(t, store.SaveDeposit(ctx, testDeposit("602", "arbitrum", types.StatusQueued, 1000)))

	records, err := store.DepositsByChain(ctx, "base")
	require.NoError(t, err)
	require.Equal(t, 2, len(records))
	assert.Equal(t, "601", records[0].ID)
	assert.Equal(t, "600", records[1].ID)
}
