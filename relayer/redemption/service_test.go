package redemption

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	sdkvaa "github.com/wormhole-foundation/wormhole/sdk/vaa"

	"github.com/keep-network/tbtc-relayer/config/params"
	"github.com/keep-network/tbtc-relayer/relayer/chains/l1"
	"github.com/keep-network/tbtc-relayer/relayer/db/kv"
	"github.com/keep-network/tbtc-relayer/relayer/types"
	"github.com/keep-network/tbtc-relayer/testing/assert"
	"github.com/keep-network/tbtc-relayer/testing/require"
)

type fakeRedeemer struct {
	err        error
	calls      int
	lastAmount *big.Int
	lastVaa    []byte
}

func (f *fakeRedeemer) FinalizeL2Redemption(
	_ context.Context,
	_ [32]byte,
	_ l1.MainUtxoArg,
	amount *big.Int,
	encodedVm []byte,
	_ float64,
) (*gethtypes.Transaction, error) {
	f.calls++
	f.lastAmount = amount
	f.lastVaa = encodedVm
	if f.err != nil {
		return nil, f.err
	}
	return gethtypes.NewTx(&gethtypes.LegacyTx{Nonce: 9}), nil
}

type fakeL2Receipts struct {
	receipt *gethtypes.Receipt
	err     error
}

func (f *fakeL2Receipts) TransactionReceipt(_ context.Context, _ common.Hash) (*gethtypes.Receipt, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.receipt, nil
}

type fakeL1Caller struct {
	ret   []byte
	err   error
	calls int
}

func (f *fakeL1Caller) CallContract(_ context.Context, _ ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.ret, nil
}

type fakeSettleWaiter struct {
	failed bool
}

func (f *fakeSettleWaiter) WaitMined(_ context.Context, tx *gethtypes.Transaction) (*gethtypes.Receipt, error) {
	status := gethtypes.ReceiptStatusSuccessful
	if f.failed {
		status = gethtypes.ReceiptStatusFailed
	}
	return &gethtypes.Receipt{Status: status, TxHash: tx.Hash()}, nil
}

func newTestService(t *testing.T, redeemer *fakeRedeemer, waiter *fakeSettleWaiter) *Service {
	store, err := kv.NewKVStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})
	return &Service{
		cfg: &params.ChainConfig{
			ChainName:         "basemainnet",
			Network:           params.NetworkMainnet,
			L2WormholeChainID: 30,
		},
		store:      store,
		redeemer:   redeemer,
		waiter:     waiter,
		gasFactor:  defaultGasFactor,
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

func testEvent() *types.RedemptionEvent {
	return &types.RedemptionEvent{
		WalletPublicKeyHash: "0x8db50eb52063ea9d98b3eac91489a90f738986f6",
		MainUtxo: types.MainUtxo{
			TxHash:        "0x089bd0671a4481c3584919b4b9b6b5b7d1614c7c6e2191b0e3a19dd9c3a10f43",
			TxOutputIndex: 1,
			TxOutputValue: 930000,
		},
		RedeemerOutputScript: "0x17a91486884e6be1525dab5ae0b451bd2c72cee67dcf4187",
		Amount:               "850000",
		L2TransactionHash:    "0x5f3b2c1d",
	}
}

func signedRedemptionVAA(t *testing.T, emitterChain uint16) []byte {
	t.Helper()
	v := &sdkvaa.VAA{
		Version:          1,
		GuardianSetIndex: 4,
		Timestamp:        time.Unix(1700000000, 0),
		Sequence:         12,
		EmitterChain:     sdkvaa.ChainID(emitterChain),
		Payload:          []byte{0x01},
	}
	raw, err := v.Marshal()
	require.NoError(t, err)
	return raw
}

func redemptionVaaServer(t *testing.T, vaa []byte) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var resp vaaByTxResponse
		if vaa != nil {
			resp.Data = append(resp.Data, struct {
				VAA string `json:"vaa"`
			}{VAA: base64.StdEncoding.EncodeToString(vaa)})
		}
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			t.Errorf("encode response: %v", err)
		}
	}))
}

func TestAcceptRedemption_Idempotent(t *testing.T) {
	s := newTestService(t, &fakeRedeemer{}, &fakeSettleWaiter{})
	ctx := context.Background()

	first, existing, err := s.AcceptRedemption(ctx, testEvent(), 2)
	require.NoError(t, err)
	assert.Equal(t, false, existing)
	assert.Equal(t, types.RedemptionPending, first.Status)
	require.Equal(t, 1, len(first.Logs))

	second, existing, err := s.AcceptRedemption(ctx, testEvent(), 2)
	require.NoError(t, err)
	assert.Equal(t, true, existing)
	assert.Equal(t, first.ID, second.ID)

	entries, err := s.store.AuditEntries(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, len(entries))
	assert.Equal(t, types.AuditRedemptionCreated, entries[0].EventType)
	assert.Equal(t, first.ID, entries[0].RedemptionID)
}

func TestProcessPendingRedemptions_FetchesVAA(t *testing.T) {
	s := newTestService(t, &fakeRedeemer{}, &fakeSettleWaiter{})
	ctx := context.Background()

	vaa := signedRedemptionVAA(t, 30)
	server := redemptionVaaServer(t, vaa)
	defer server.Close()
	s.apiBase = server.URL

	record, _, err := s.AcceptRedemption(ctx, testEvent(), 0)
	require.NoError(t, err)

	require.NoError(t, s.ProcessPendingRedemptions(ctx))

	stored, err := s.store.Redemption(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, types.RedemptionVaaFetched, stored.Status)
	assert.DeepEqual(t, vaa, stored.VaaBytes)
	if stored.Dates.VaaFetchedAt == 0 {
		t.Fatal("expected vaaFetchedAt timestamp")
	}
}

func TestProcessPendingRedemptions_UnsignedParksAsVaaFailed(t *testing.T) {
	s := newTestService(t, &fakeRedeemer{}, &fakeSettleWaiter{})
	ctx := context.Background()

	server := redemptionVaaServer(t, nil)
	defer server.Close()
	s.apiBase = server.URL

	record, _, err := s.AcceptRedemption(ctx, testEvent(), 0)
	require.NoError(t, err)

	require.NoError(t, s.ProcessPendingRedemptions(ctx))

	stored, err := s.store.Redemption(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, types.RedemptionVaaFailed, stored.Status)
	assert.Equal(t, "VAA fetch/verify failed", stored.Error)
}

// VAA_FAILED records stay in the sweep, so a record parked on an
// unsigned VAA completes once the guardians sign it.
func TestProcessPendingRedemptions_VaaFailedIsRetried(t *testing.T) {
	s := newTestService(t, &fakeRedeemer{}, &fakeSettleWaiter{})
	ctx := context.Background()

	empty := redemptionVaaServer(t, nil)
	s.apiBase = empty.URL

	record, _, err := s.AcceptRedemption(ctx, testEvent(), 0)
	require.NoError(t, err)
	require.NoError(t, s.ProcessPendingRedemptions(ctx))
	empty.Close()

	vaa := signedRedemptionVAA(t, 30)
	signed := redemptionVaaServer(t, vaa)
	defer signed.Close()
	s.apiBase = signed.URL

	require.NoError(t, s.ProcessPendingRedemptions(ctx))

	stored, err := s.store.Redemption(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, types.RedemptionVaaFetched, stored.Status)
	assert.Equal(t, "", stored.Error)
}

func TestProcessPendingRedemptions_WrongEmitterChain(t *testing.T) {
	s := newTestService(t, &fakeRedeemer{}, &fakeSettleWaiter{})
	ctx := context.Background()

	server := redemptionVaaServer(t, signedRedemptionVAA(t, 21))
	defer server.Close()
	s.apiBase = server.URL

	record, _, err := s.AcceptRedemption(ctx, testEvent(), 0)
	require.NoError(t, err)

	require.NoError(t, s.ProcessPendingRedemptions(ctx))

	stored, err := s.store.Redemption(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, types.RedemptionVaaFailed, stored.Status)
	assert.Equal(t, "VAA fetch/verify failed", stored.Error)
}

func TestProcessPendingRedemptions_WrongEmitterAddress(t *testing.T) {
	s := newTestService(t, &fakeRedeemer{}, &fakeSettleWaiter{})
	s.cfg.L2WormholeGateway = "0x09959798B95d00a3183d20FaC298E4594E599eab"
	ctx := context.Background()

	// The served VAA carries a zero emitter address, not the gateway.
	server := redemptionVaaServer(t, signedRedemptionVAA(t, 30))
	defer server.Close()
	s.apiBase = server.URL

	record, _, err := s.AcceptRedemption(ctx, testEvent(), 0)
	require.NoError(t, err)

	require.NoError(t, s.ProcessPendingRedemptions(ctx))

	stored, err := s.store.Redemption(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, types.RedemptionVaaFailed, stored.Status)
	assert.Equal(t, "VAA fetch/verify failed", stored.Error)
}

func TestProcessPendingRedemptions_RevertedL2Transaction(t *testing.T) {
	s := newTestService(t, &fakeRedeemer{}, &fakeSettleWaiter{})
	s.SetL2Client(&fakeL2Receipts{receipt: &gethtypes.Receipt{Status: gethtypes.ReceiptStatusFailed}})
	ctx := context.Background()

	server := redemptionVaaServer(t, signedRedemptionVAA(t, 30))
	defer server.Close()
	s.apiBase = server.URL

	record, _, err := s.AcceptRedemption(ctx, testEvent(), 0)
	require.NoError(t, err)

	require.NoError(t, s.ProcessPendingRedemptions(ctx))

	stored, err := s.store.Redemption(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, types.RedemptionVaaFailed, stored.Status)
	assert.Equal(t, "VAA fetch/verify failed", stored.Error)
}

func TestProcessPendingRedemptions_MissingL2Receipt(t *testing.T) {
	s := newTestService(t, &fakeRedeemer{}, &fakeSettleWaiter{})
	s.SetL2Client(&fakeL2Receipts{err: ethereum.NotFound})
	ctx := context.Background()

	server := redemptionVaaServer(t, signedRedemptionVAA(t, 30))
	defer server.Close()
	s.apiBase = server.URL

	record, _, err := s.AcceptRedemption(ctx, testEvent(), 0)
	require.NoError(t, err)

	require.NoError(t, s.ProcessPendingRedemptions(ctx))

	stored, err := s.store.Redemption(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, types.RedemptionVaaFailed, stored.Status)
	assert.Equal(t, "VAA fetch/verify failed", stored.Error)
}

func saveFetchedRedemption(t *testing.T, s *Service, vaa []byte) *types.Redemption {
	record := &types.Redemption{
		ID:        "settle-1",
		ChainName: s.cfg.ChainName,
		Event:     *testEvent(),
		Status:    types.RedemptionVaaFetched,
		VaaBytes:  vaa,
		Dates:     types.RedemptionDates{CreatedAt: types.NowMs()},
	}
	require.NoError(t, s.store.SaveRedemption(context.Background(), record))
	return record
}

func TestProcessVaaFetchedRedemptions_SettlesOnL1(t *testing.T) {
	redeemer := &fakeRedeemer{}
	s := newTestService(t, redeemer, &fakeSettleWaiter{})
	ctx := context.Background()

	vaa := signedRedemptionVAA(t, 30)
	record := saveFetchedRedemption(t, s, vaa)

	require.NoError(t, s.ProcessVaaFetchedRedemptions(ctx))

	assert.Equal(t, 1, redeemer.calls)
	assert.Equal(t, "850000", redeemer.lastAmount.String())
	assert.DeepEqual(t, vaa, redeemer.lastVaa)

	stored, err := s.store.Redemption(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, types.RedemptionCompleted, stored.Status)
	assert.NotEqual(t, "", stored.L1SubmissionTxHash)
	if stored.Dates.CompletedAt == 0 {
		t.Fatal("expected completedAt timestamp")
	}
}

func TestProcessVaaFetchedRedemptions_SubmissionFailureParksRecord(t *testing.T) {
	redeemer := &fakeRedeemer{err: errors.New("execution reverted: invalid VAA")}
	s := newTestService(t, redeemer, &fakeSettleWaiter{})
	ctx := context.Background()

	record := saveFetchedRedemption(t, s, signedRedemptionVAA(t, 30))

	require.NoError(t, s.ProcessVaaFetchedRedemptions(ctx))

	stored, err := s.store.Redemption(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, types.RedemptionFailed, stored.Status)
	assert.Equal(t, "L1 submission failed (see logs for details)", stored.Error)
}

// A VAA the token bridge already consumed was settled by someone else;
// the record completes without a second submission.
func TestProcessVaaFetchedRedemptions_AlreadyCompletedTransfer(t *testing.T) {
	redeemer := &fakeRedeemer{}
	s := newTestService(t, redeemer, &fakeSettleWaiter{})
	caller := &fakeL1Caller{ret: common.LeftPadBytes([]byte{1}, 32)}
	s.l1caller = caller
	s.l1TokenBridge = common.HexToAddress("0x3ee18B2214AFF97000D974cf647E7C347E8fa585")
	ctx := context.Background()

	record := saveFetchedRedemption(t, s, signedRedemptionVAA(t, 30))

	require.NoError(t, s.ProcessVaaFetchedRedemptions(ctx))

	assert.Equal(t, 0, redeemer.calls)
	require.Equal(t, 1, caller.calls)

	stored, err := s.store.Redemption(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, types.RedemptionCompleted, stored.Status)
}

func TestRedemptionPipeline_LogTrail(t *testing.T) {
	s := newTestService(t, &fakeRedeemer{}, &fakeSettleWaiter{})
	ctx := context.Background()

	server := redemptionVaaServer(t, signedRedemptionVAA(t, 30))
	defer server.Close()
	s.apiBase = server.URL

	record, _, err := s.AcceptRedemption(ctx, testEvent(), 0)
	require.NoError(t, err)
	require.NoError(t, s.ProcessPendingRedemptions(ctx))
	require.NoError(t, s.ProcessVaaFetchedRedemptions(ctx))

	stored, err := s.store.Redemption(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, types.RedemptionCompleted, stored.Status)

	wantPrefixes := []string{
		"Redemption created at ",
		"VAA fetched at ",
		"L1 settlement submitted at ",
		"L1 submission succeeded at ",
	}
	require.Equal(t, len(wantPrefixes), len(stored.Logs))
	for i, prefix := range wantPrefixes {
		if !strings.HasPrefix(stored.Logs[i], prefix) {
			t.Fatalf("log %d = %q, want prefix %q", i, stored.Logs[i], prefix)
		}
	}
}

func TestProcessVaaFetchedRedemptions_RevertedSettlement(t *testing.T) {
	s := newTestService(t, &fakeRedeemer{}, &fakeSettleWaiter{failed: true})
	ctx := context.Background()

	record := saveFetchedRedemption(t, s, signedRedemptionVAA(t, 30))

	require.NoError(t, s.ProcessVaaFetchedRedemptions(ctx))

	stored, err := s.store.Redemption(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, types.RedemptionFailed, stored.Status)
}
