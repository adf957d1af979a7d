package l1

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"

	"github.com/keep-network/tbtc-relayer/testing/assert"
	"github.com/keep-network/tbtc-relayer/testing/require"
)

type fakeNonceReader struct {
	pending uint64
	err     error
	calls   int
}

func (f *fakeNonceReader) PendingNonceAt(_ context.Context, _ common.Address) (uint64, error) {
	f.calls++
	return f.pending, f.err
}

func TestNonceManager_SequentialNonces(t *testing.T) {
	reader := &fakeNonceReader{pending: 7}
	nm := NewNonceManager(reader, common.Address{})
	ctx := context.Background()

	var seen []uint64
	for i := 0; i < 3; i++ {
		_, err := nm.Submit(ctx, func(nonce uint64) (*gethtypes.Transaction, error) {
			seen = append(seen, nonce)
			return gethtypes.NewTx(&gethtypes.LegacyTx{Nonce: nonce}), nil
		})
		require.NoError(t, err)
	}

	assert.DeepEqual(t, []uint64{7, 8, 9}, seen)
	// The pending pool is consulted once; later nonces come from the
	// local counter.
	assert.Equal(t, 1, reader.calls)
}

func TestNonceManager_RePrimesAfterNonceError(t *testing.T) {
	reader := &fakeNonceReader{pending: 3}
	nm := NewNonceManager(reader, common.Address{})
	ctx := context.Background()

	_, err := nm.Submit(ctx, func(nonce uint64) (*gethtypes.Transaction, error) {
		return nil, errors.New("nonce too low")
	})
	require.ErrorContains(t, "nonce too low", err)

	reader.pending = 11
	_, err = nm.Submit(ctx, func(nonce uint64) (*gethtypes.Transaction, error) {
		assert.Equal(t, uint64(11), nonce)
		return gethtypes.NewTx(&gethtypes.LegacyTx{Nonce: nonce}), nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, reader.calls)
}

func TestNonceManager_NonNonceErrorKeepsCounter(t *testing.T) {
	reader := &fakeNonceReader{pending: 5}
	nm := NewNonceManager(reader, common.Address{})
	ctx := context.Background()

	_, err := nm.Submit(ctx, func(nonce uint64) (*gethtypes.Transaction, error) {
		return nil, errors.New("insufficient funds for gas * price + value")
	})
	require.NotNil(t, err)

	// The failed send did not consume the nonce and did not re-prime.
	_, err = nm.Submit(ctx, func(nonce uint64) (*gethtypes.Transaction, error) {
		assert.Equal(t, uint64(5), nonce)
		return gethtypes.NewTx(&gethtypes.LegacyTx{Nonce: nonce}), nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, reader.calls)
}

func TestNonceManager_PendingFetchErrorSurfaces(t *testing.T) {
	reader := &fakeNonceReader{err: errors.New("connection refused")}
	nm := NewNonceManager(reader, common.Address{})

	_, err := nm.Submit(context.Background(), func(nonce uint64) (*gethtypes.Transaction, error) {
		t.Fatal("builder must not run when priming fails")
		return nil, nil
	})
	require.ErrorContains(t, "could not fetch pending nonce", err)
}
