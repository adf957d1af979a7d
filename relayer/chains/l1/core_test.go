package l1

import (
	"context"
	"math/big"
	"testing"
	"time"

	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"

	"github.com/keep-network/tbtc-relayer/relayer/chains"
	"github.com/keep-network/tbtc-relayer/relayer/db/kv"
	"github.com/keep-network/tbtc-relayer/relayer/types"
	"github.com/keep-network/tbtc-relayer/testing/assert"
	"github.com/keep-network/tbtc-relayer/testing/require"
)

type fakeBackend struct {
	initErr       error
	finalizeErr   error
	quote         *big.Int
	state         uint8
	stateErr      error
	sequence      uint64
	sequenceFound bool

	initCalls     int
	finalizeCalls int
	lastFee       *big.Int
}

func (f *fakeBackend) InitializeDeposit(_ context.Context, _ *types.Deposit) (*gethtypes.Transaction, error) {
	f.initCalls++
	if f.initErr != nil {
		return nil, f.initErr
	}
	return gethtypes.NewTx(&gethtypes.LegacyTx{Nonce: 1}), nil
}

func (f *fakeBackend) FinalizeDeposit(_ context.Context, _ string, fee *big.Int) (*gethtypes.Transaction, error) {
	f.finalizeCalls++
	f.lastFee = fee
	if f.finalizeErr != nil {
		return nil, f.finalizeErr
	}
	return gethtypes.NewTx(&gethtypes.LegacyTx{Nonce: 2}), nil
}

func (f *fakeBackend) QuoteFinalizeDeposit(_ context.Context) (*big.Int, error) {
	if f.quote == nil {
		return big.NewInt(0), nil
	}
	return f.quote, nil
}

func (f *fakeBackend) DepositState(_ context.Context, _ string) (uint8, error) {
	return f.state, f.stateErr
}

func (f *fakeBackend) ParseTransferSequence(_ *gethtypes.Receipt, _ string) (uint64, bool, error) {
	return f.sequence, f.sequenceFound, nil
}

type fakeWaiter struct {
	err error
}

func (f *fakeWaiter) WaitMined(_ context.Context, tx *gethtypes.Transaction) (*gethtypes.Receipt, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &gethtypes.Receipt{
		Status:      gethtypes.ReceiptStatusSuccessful,
		TxHash:      tx.Hash(),
		BlockNumber: big.NewInt(100),
	}, nil
}

func newTestCore(t *testing.T, backend *fakeBackend, waiter *fakeWaiter, bridged bool) *Core {
	store, err := kv.NewKVStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})
	return NewCore(CoreConfig{
		ChainName:       "basetest",
		Store:           store,
		Backend:         backend,
		Waiter:          waiter,
		RetryInterval:   time.Millisecond,
		WormholeBridged: bridged,
	})
}

func saveDeposit(t *testing.T, c *Core, id string, status types.DepositStatus) *types.Deposit {
	d := &types.Deposit{
		ID:        id,
		ChainName: "basetest",
		Status:    status,
		Dates:     types.DepositDates{CreatedAt: 1000},
	}
	require.NoError(t, c.Store().SaveDeposit(context.Background(), d))
	return d
}

// A freshly created QUEUED record carries no activity timestamp, so the
// very next initialize sweep picks it up even under a production-scale
// retry interval.
func TestCore_CreateDeposit_SweptImmediately(t *testing.T) {
	store, err := kv.NewKVStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})
	backend := &fakeBackend{}
	c := NewCore(CoreConfig{
		ChainName:     "basetest",
		Store:         store,
		Backend:       backend,
		Waiter:        &fakeWaiter{},
		RetryInterval: 5 * time.Minute,
	})
	ctx := context.Background()

	deposit, existing, err := c.CreateDeposit(ctx, &types.L1OutputEvent{
		FundingTx: types.BitcoinTxInfo{
			Version:      "0x01000000",
			InputVector:  "0x01deadbeef",
			OutputVector: "0x02cafe",
			Locktime:     "0x00000000",
		},
		Reveal: types.Reveal{
			FundingOutputIndex:  0,
			BlindingFactor:      "0xf9f0c90d00039523",
			WalletPublicKeyHash: "0x8db50eb52063ea9d98b3eac91489a90f738986f6",
			RefundPublicKeyHash: "0x28e081f285138ccbe389c1eb8985716230129f89",
			RefundLocktime:      "0x60bcea61",
		},
		L2DepositOwner: "0x000000000000000000000000000000000000dead",
		L2Sender:       "0x000000000000000000000000000000000000beef",
	})
	require.NoError(t, err)
	assert.Equal(t, false, existing)
	assert.Equal(t, int64(0), deposit.Dates.LastActivityAt)

	require.NoError(t, c.ProcessInitializeDeposits(ctx))

	assert.Equal(t, 1, backend.initCalls)
	stored, err := c.Store().Deposit(ctx, deposit.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusInitialized, stored.Status)
}

func TestCore_InitializeDeposit(t *testing.T) {
	backend := &fakeBackend{}
	c := newTestCore(t, backend, &fakeWaiter{}, false)
	ctx := context.Background()
	d := saveDeposit(t, c, "11", types.StatusQueued)

	receipt, err := c.InitializeDeposit(ctx, d)
	require.NoError(t, err)
	require.NotNil(t, receipt)

	stored, err := c.Store().Deposit(ctx, "11")
	require.NoError(t, err)
	assert.Equal(t, types.StatusInitialized, stored.Status)
	assert.NotEqual(t, "", stored.Hashes.Eth.InitializeTxHash)
	if stored.Dates.InitializationAt == 0 {
		t.Fatal("expected initializationAt timestamp")
	}
}

func TestCore_InitializeDeposit_RevertRecorded(t *testing.T) {
	backend := &fakeBackend{initErr: chains.NewRevertError("Deposit already exists")}
	c := newTestCore(t, backend, &fakeWaiter{}, false)
	ctx := context.Background()
	d := saveDeposit(t, c, "12", types.StatusQueued)

	_, err := c.InitializeDeposit(ctx, d)
	require.ErrorContains(t, "Deposit already exists", err)

	stored, err := c.Store().Deposit(ctx, "12")
	require.NoError(t, err)
	assert.Equal(t, types.StatusQueued, stored.Status)
	assert.NotEqual(t, "", stored.Error)

	entries, err := c.Store().AuditEntriesByDeposit(ctx, "12")
	require.NoError(t, err)
	require.Equal(t, 1, len(entries))
	assert.Equal(t, types.AuditErrorRecorded, entries[0].EventType)
	assert.Equal(t, int32(chains.CodeChainRevert), entries[0].ErrorCode)
}

func TestCore_FinalizeDeposit_BridgeWaiting(t *testing.T) {
	backend := &fakeBackend{finalizeErr: chains.NewRevertError("Deposit not finalized by the bridge")}
	c := newTestCore(t, backend, &fakeWaiter{}, false)
	ctx := context.Background()
	d := saveDeposit(t, c, "13", types.StatusInitialized)

	receipt, err := c.FinalizeDeposit(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, (*gethtypes.Receipt)(nil), receipt)

	// Waiting on the bridge is not an error: only activity moves.
	stored, err := c.Store().Deposit(ctx, "13")
	require.NoError(t, err)
	assert.Equal(t, types.StatusInitialized, stored.Status)
	assert.Equal(t, "", stored.Error)
	if stored.Dates.LastActivityAt == 0 {
		t.Fatal("expected lastActivityAt bump")
	}
}

func TestCore_FinalizeDeposit_WormholeBridgedChain(t *testing.T) {
	backend := &fakeBackend{quote: big.NewInt(5), sequence: 7, sequenceFound: true}
	c := newTestCore(t, backend, &fakeWaiter{}, true)
	ctx := context.Background()
	d := saveDeposit(t, c, "14", types.StatusInitialized)

	_, err := c.FinalizeDeposit(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(5).String(), backend.lastFee.String())

	stored, err := c.Store().Deposit(ctx, "14")
	require.NoError(t, err)
	assert.Equal(t, types.StatusAwaitingWormholeVAA, stored.Status)
	assert.Equal(t, "7", stored.Wormhole.TransferSequence)
	if stored.Dates.AwaitingWormholeVAASince == 0 {
		t.Fatal("expected awaiting timestamp")
	}
}

func TestCore_CheckDepositStatus_Unknown(t *testing.T) {
	backend := &fakeBackend{state: 9}
	c := newTestCore(t, backend, &fakeWaiter{}, false)

	_, err := c.CheckDepositStatus(context.Background(), "15")
	require.ErrorIs(t, err, chains.ErrStatusUnavailable)
}

func TestCore_ProcessInitializeDeposits_ReconciliationJump(t *testing.T) {
	backend := &fakeBackend{state: uint8(types.StatusFinalized)}
	c := newTestCore(t, backend, &fakeWaiter{}, false)
	ctx := context.Background()
	saveDeposit(t, c, "16", types.StatusQueued)

	require.NoError(t, c.ProcessInitializeDeposits(ctx))

	// Chain truth wins: the record jumps without an L1 submission.
	assert.Equal(t, 0, backend.initCalls)
	stored, err := c.Store().Deposit(ctx, "16")
	require.NoError(t, err)
	assert.Equal(t, types.StatusFinalized, stored.Status)
	assert.NotEqual(t, "", stored.StatusMessage)

	entries, err := c.Store().AuditEntriesByDeposit(ctx, "16")
	require.NoError(t, err)
	require.Equal(t, 1, len(entries))
	assert.Equal(t, types.AuditReconciliationJump, entries[0].EventType)
}

func TestCore_ProcessInitializeDeposits_StatusUnavailableProceeds(t *testing.T) {
	backend := &fakeBackend{state: 200}
	c := newTestCore(t, backend, &fakeWaiter{}, false)
	ctx := context.Background()
	saveDeposit(t, c, "17", types.StatusQueued)

	require.NoError(t, c.ProcessInitializeDeposits(ctx))

	// An unrecognized on-chain value never advances the record; the
	// normal initialization path runs instead.
	assert.Equal(t, 1, backend.initCalls)
	stored, err := c.Store().Deposit(ctx, "17")
	require.NoError(t, err)
	assert.Equal(t, types.StatusInitialized, stored.Status)
}

func TestCore_ProcessFinalizeDeposits_TransientErrorKeepsRecord(t *testing.T) {
	backend := &fakeBackend{finalizeErr: errors.New("dial tcp: connection refused"), stateErr: errors.New("down")}
	c := newTestCore(t, backend, &fakeWaiter{}, false)
	ctx := context.Background()
	saveDeposit(t, c, "18", types.StatusInitialized)

	require.NoError(t, c.ProcessFinalizeDeposits(ctx))

	stored, err := c.Store().Deposit(ctx, "18")
	require.NoError(t, err)
	assert.Equal(t, types.StatusInitialized, stored.Status)
	assert.NotEqual(t, "", stored.Error)
}

func TestCore_FilterDepositsActivityTime(t *testing.T) {
	c := newTestCore(t, &fakeBackend{}, &fakeWaiter{}, false)

	fresh := &types.Deposit{Dates: types.DepositDates{LastActivityAt: types.NowMs() + int64(time.Hour/time.Millisecond)}}
	stale := &types.Deposit{Dates: types.DepositDates{LastActivityAt: types.NowMs() - int64(time.Hour/time.Millisecond)}}
	unset := &types.Deposit{}

	eligible := c.FilterDepositsActivityTime([]*types.Deposit{fresh, stale, unset})
	assert.Equal(t, 2, len(eligible))
}

func TestCore_OnOptimisticMintingFinalized(t *testing.T) {
	backend := &fakeBackend{quote: big.NewInt(1)}
	c := newTestCore(t, backend, &fakeWaiter{}, false)
	ctx := context.Background()
	saveDeposit(t, c, "19", types.StatusInitialized)

	key, ok := new(big.Int).SetString("19", 10)
	require.Equal(t, true, ok)
	c.OnOptimisticMintingFinalized(ctx, key)

	assert.Equal(t, 1, backend.finalizeCalls)
	stored, err := c.Store().Deposit(ctx, "19")
	require.NoError(t, err)
	assert.Equal(t, types.StatusFinalized, stored.Status)
}
