package kv

import (
	"context"
	"testing"

	"github.com/keep-network/tbtc-relayer/relayer/db"
	"github.com/keep-network/tbtc-relayer/relayer/types"
	"github.com/keep-network/tbtc-relayer/testing/assert"
	"github.com/keep-network/tbtc-relayer/testing/require"
)

func testRedemption(id, chain string, status types.RedemptionStatus, createdAt int64) *types.Redemption {
	return &types.Redemption{
		ID:        id,
		ChainName: chain,
		Status:    status,
		Dates: types.RedemptionDates{
			CreatedAt:      createdAt,
			LastActivityAt: createdAt,
		},
	}
}

func TestSaveRedemption_Duplicate(t *testing.T) {
	store := setupDB(t)
	ctx := context.Background()

	r := testRedemption("900", "arbitrum", types.RedemptionPending, 1000)
	require.NoError(t, store.SaveRedemption(ctx, r))
	require.ErrorIs(t, store.SaveRedemption(ctx, r), db.ErrAlreadyExists)
}

func TestRedemptionsByStatus_TransitionMovesIndex(t *testing.T) {
	store := setupDB(t)
	ctx := context.Background()

	r := testRedemption("901", "arbitrum", types.RedemptionPending, 1000)
	require.NoError(t, store.SaveRedemption(ctx, r))

	r.Status = types.RedemptionVaaFetched
	r.VaaBytes = []byte{0x01, 0x02}
	require.NoError(t, store.UpdateRedemption(ctx, r))

	pending, err := store.RedemptionsByStatus(ctx, types.RedemptionPending, "")
	require.NoError(t, err)
	assert.Equal(t, 0, len(pending))

	fetched, err := store.RedemptionsByStatus(ctx, types.RedemptionVaaFetched, "arbitrum")
	require.NoError(t, err)
	require.Equal(t, 1, len(fetched))
	assert.DeepEqual(t, []byte{0x01, 0x02}, fetched[0].VaaBytes)
}

func TestDeleteRedemption(t *testing.T) {
	store := setupDB(t)
	ctx := context.Background()

	require.NoError(t, store.SaveRedemption(ctx, testRedemption("902", "base", types.RedemptionCompleted, 1000)))
	require.NoError(t, store.DeleteRedemption(ctx, "902"))
	_, err := store.Redemption(ctx, "902")
	require.ErrorIs(t, err, db.ErrNotFound)
}
