package starknet

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/keep-network/tbtc-relayer/config/params"
	"github.com/keep-network/tbtc-relayer/relayer/chains"
	"github.com/keep-network/tbtc-relayer/relayer/chains/l1"
	"github.com/keep-network/tbtc-relayer/relayer/db/kv"
	"github.com/keep-network/tbtc-relayer/relayer/types"
	"github.com/keep-network/tbtc-relayer/testing/assert"
	"github.com/keep-network/tbtc-relayer/testing/require"
)

type fakeL1Logs struct {
	head    uint64
	logs    []gethtypes.Log
	queries []ethereum.FilterQuery
}

func (f *fakeL1Logs) BlockNumber(_ context.Context) (uint64, error) { return f.head, nil }

func (f *fakeL1Logs) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]gethtypes.Log, error) {
	f.queries = append(f.queries, q)
	return f.logs, nil
}

func newScanHandler(t *testing.T, client *fakeL1Logs) *Handler {
	t.Helper()
	store, err := kv.NewKVStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})
	h := New(&params.ChainConfig{
		ChainName: "starknetmainnet",
		ChainType: params.ChainTypeStarknet,
	}, store, time.Minute)
	h.l1logs = client
	h.depositorAddr = common.HexToAddress("0x1111111111111111111111111111111111111111")
	h.core = l1.NewCore(l1.CoreConfig{
		ChainName: "starknetmainnet",
		Store:     store,
	})
	return h
}

func bridgedLog(depositID string, txHash common.Hash) gethtypes.Log {
	key, _ := new(big.Int).SetString(depositID, 10)
	return gethtypes.Log{
		Topics: []common.Hash{
			l1.TBTCBridgedToStarkNetTopic(),
			common.BigToHash(key),
		},
		TxHash: txHash,
	}
}

func saveStarknetDeposit(t *testing.T, h *Handler, id string, status types.DepositStatus) {
	t.Helper()
	require.NoError(t, h.store.SaveDeposit(context.Background(), &types.Deposit{
		ID:        id,
		ChainName: "starknetmainnet",
		Status:    status,
		Dates:     types.DepositDates{CreatedAt: types.NowMs()},
	}))
}

func TestSupportsPastDepositCheck(t *testing.T) {
	h := New(&params.ChainConfig{ChainName: "starknetmainnet"}, nil, time.Minute)
	assert.Equal(t, true, h.SupportsPastDepositCheck())
}

// A deposit finalized out of band is advanced to BRIDGED when the scan
// finds its TBTCBridgedToStarkNet event on L1.
func TestCheckForPastDeposits_MarksBridged(t *testing.T) {
	txHash := common.HexToHash("0xabc1")
	client := &fakeL1Logs{head: 100, logs: []gethtypes.Log{bridgedLog("77", txHash)}}
	h := newScanHandler(t, client)
	ctx := context.Background()
	saveStarknetDeposit(t, h, "77", types.StatusFinalized)

	require.NoError(t, h.CheckForPastDeposits(ctx, chains.PastDepositOptions{}))

	require.Equal(t, 1, len(client.queries))
	query := client.queries[0]
	require.Equal(t, 1, len(query.Addresses))
	assert.Equal(t, h.depositorAddr, query.Addresses[0])
	assert.Equal(t, l1.TBTCBridgedToStarkNetTopic(), query.Topics[0][0])

	stored, err := h.store.Deposit(ctx, "77")
	require.NoError(t, err)
	assert.Equal(t, types.StatusBridged, stored.Status)
	assert.Equal(t, txHash.Hex(), stored.Hashes.Starknet.L1BridgeTxHash)
}

func TestCheckForPastDeposits_UnknownDepositSkipped(t *testing.T) {
	client := &fakeL1Logs{head: 100, logs: []gethtypes.Log{bridgedLog("424242", common.HexToHash("0xabc2"))}}
	h := newScanHandler(t, client)

	require.NoError(t, h.CheckForPastDeposits(context.Background(), chains.PastDepositOptions{}))
}

func TestCheckForPastDeposits_BridgedDepositUntouched(t *testing.T) {
	client := &fakeL1Logs{head: 100, logs: []gethtypes.Log{bridgedLog("78", common.HexToHash("0xabc3"))}}
	h := newScanHandler(t, client)
	ctx := context.Background()

	original := &types.Deposit{
		ID:        "78",
		ChainName: "starknetmainnet",
		Status:    types.StatusBridged,
		Dates:     types.DepositDates{CreatedAt: types.NowMs(), BridgedAt: 12345},
	}
	original.Hashes.Starknet.L1BridgeTxHash = "0xoriginal"
	require.NoError(t, h.store.SaveDeposit(ctx, original))

	require.NoError(t, h.CheckForPastDeposits(ctx, chains.PastDepositOptions{}))

	stored, err := h.store.Deposit(ctx, "78")
	require.NoError(t, err)
	assert.Equal(t, "0xoriginal", stored.Hashes.Starknet.L1BridgeTxHash)
	assert.Equal(t, int64(12345), stored.Dates.BridgedAt)
}

func TestCheckForPastDeposits_StartBlockPastHead(t *testing.T) {
	client := &fakeL1Logs{head: 100}
	h := newScanHandler(t, client)
	h.cfg.L2StartBlock = 500

	require.NoError(t, h.CheckForPastDeposits(context.Background(), chains.PastDepositOptions{}))
	assert.Equal(t, 0, len(client.queries))
}
