package wormhole

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	sdkvaa "github.com/wormhole-foundation/wormhole/sdk/vaa"

	"github.com/keep-network/tbtc-relayer/config/params"
	"github.com/keep-network/tbtc-relayer/testing/assert"
	"github.com/keep-network/tbtc-relayer/testing/require"
)

var (
	testCoreBridge  = common.HexToAddress("0x4a8bc80Ed5a4067f1CCf107057b8270E0cC11A78")
	testTokenBridge = common.HexToAddress("0xDB5492265f6038831E89f495670FF909aDe94bd9")
)

func testConfig() *params.ChainConfig {
	return &params.ChainConfig{
		ChainName:      "suitestnet",
		Network:        params.NetworkTestnet,
		WormholeCoreID: testCoreBridge.Hex(),
		TokenBridgeID:  testTokenBridge.Hex(),
	}
}

type fakeReceiptFetcher struct {
	receipt *gethtypes.Receipt
	err     error
}

func (f *fakeReceiptFetcher) TransactionReceipt(_ context.Context, _ common.Hash) (*gethtypes.Receipt, error) {
	return f.receipt, f.err
}

func publishedLog(emitter common.Address, sender common.Address, sequence uint64) *gethtypes.Log {
	data := make([]byte, 128)
	new(big.Int).SetUint64(sequence).FillBytes(data[:32])
	return &gethtypes.Log{
		Address: emitter,
		Topics: []common.Hash{
			logMessagePublishedTopic,
			common.BytesToHash(sender.Bytes()),
		},
		Data: data,
	}
}

func TestTransferSequence(t *testing.T) {
	receipt := &gethtypes.Receipt{
		Status: gethtypes.ReceiptStatusSuccessful,
		Logs: []*gethtypes.Log{
			// A message from an unrelated sender through the core bridge.
			publishedLog(testCoreBridge, common.HexToAddress("0x01"), 3),
			publishedLog(testCoreBridge, testTokenBridge, 4486),
		},
	}
	s := NewService(&fakeReceiptFetcher{receipt: receipt}, testConfig())

	sequence, found, err := s.TransferSequence(context.Background(), "0xabc")
	require.NoError(t, err)
	require.Equal(t, true, found)
	assert.Equal(t, uint64(4486), sequence)
}

func TestTransferSequence_NoTokenBridgeMessage(t *testing.T) {
	receipt := &gethtypes.Receipt{
		Status: gethtypes.ReceiptStatusSuccessful,
		Logs: []*gethtypes.Log{
			publishedLog(common.HexToAddress("0x99"), testTokenBridge, 7),
		},
	}
	s := NewService(&fakeReceiptFetcher{receipt: receipt}, testConfig())

	_, found, err := s.TransferSequence(context.Background(), "0xabc")
	require.NoError(t, err)
	assert.Equal(t, false, found)
}

func TestTransferSequence_RevertedReceipt(t *testing.T) {
	receipt := &gethtypes.Receipt{Status: gethtypes.ReceiptStatusFailed}
	s := NewService(&fakeReceiptFetcher{receipt: receipt}, testConfig())

	_, _, err := s.TransferSequence(context.Background(), "0xabc")
	require.ErrorContains(t, "reverted", err)
}

func signedTestVAA(t *testing.T, emitterChain uint16, emitter [32]byte, payload []byte) []byte {
	t.Helper()
	v := &sdkvaa.VAA{
		Version:          1,
		GuardianSetIndex: 4,
		Timestamp:        time.Unix(1700000000, 0),
		Nonce:            7,
		Sequence:         4486,
		ConsistencyLevel: 15,
		EmitterChain:     sdkvaa.ChainID(emitterChain),
		EmitterAddress:   sdkvaa.Address(emitter),
		Payload:          payload,
	}
	raw, err := v.Marshal()
	require.NoError(t, err)
	return raw
}

func vaaServer(t *testing.T, raw []byte, hits *int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*hits++
		resp := signedVAAResponse{VAABytes: base64.StdEncoding.EncodeToString(raw)}
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			t.Errorf("encode response: %v", err)
		}
	}))
}

func TestFetchSignedVAA(t *testing.T) {
	s := NewService(nil, testConfig())
	raw := signedTestVAA(t, chainIDSepolia, s.EmitterAddress(), []byte{payloadTransferWithPayload, 0xaa})

	hits := 0
	server := vaaServer(t, raw, &hits)
	defer server.Close()
	s.apiBase = server.URL

	got, err := s.FetchSignedVAA(context.Background(), 4486)
	require.NoError(t, err)
	assert.DeepEqual(t, raw, got)

	// Signed VAAs are immutable; the second fetch comes from the cache.
	_, err = s.FetchSignedVAA(context.Background(), 4486)
	require.NoError(t, err)
	assert.Equal(t, 1, hits)
}

func TestFetchSignedVAA_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer server.Close()

	s := NewService(nil, testConfig())
	s.apiBase = server.URL

	_, err := s.FetchSignedVAA(context.Background(), 1)
	require.ErrorIs(t, err, ErrVAANotFound)
}

func TestFetchSignedVAA_WrongEmitterChain(t *testing.T) {
	s := NewService(nil, testConfig())
	raw := signedTestVAA(t, 23, s.EmitterAddress(), []byte{payloadTransferWithPayload})

	hits := 0
	server := vaaServer(t, raw, &hits)
	defer server.Close()
	s.apiBase = server.URL

	_, err := s.FetchSignedVAA(context.Background(), 1)
	require.ErrorIs(t, err, ErrUnexpectedEmitter)
}

func TestFetchSignedVAA_WrongEmitterAddress(t *testing.T) {
	s := NewService(nil, testConfig())
	var other [32]byte
	other[31] = 0x42
	raw := signedTestVAA(t, chainIDSepolia, other, []byte{payloadTransferWithPayload})

	hits := 0
	server := vaaServer(t, raw, &hits)
	defer server.Close()
	s.apiBase = server.URL

	_, err := s.FetchSignedVAA(context.Background(), 1)
	require.ErrorIs(t, err, ErrUnexpectedEmitter)
}

func TestFetchSignedVAA_UnknownPayloadDiscriminator(t *testing.T) {
	s := NewService(nil, testConfig())
	raw := signedTestVAA(t, chainIDSepolia, s.EmitterAddress(), []byte{0x07})

	hits := 0
	server := vaaServer(t, raw, &hits)
	defer server.Close()
	s.apiBase = server.URL

	_, err := s.FetchSignedVAA(context.Background(), 1)
	require.ErrorContains(t, "payload discriminator", err)
}

func TestEmitterAddress(t *testing.T) {
	s := NewService(nil, testConfig())
	emitter := s.EmitterAddress()
	want := fmt.Sprintf("%064x", emitter)
	assert.Equal(t, "000000000000000000000000db5492265f6038831e89f495670ff909ade94bd9", want)
}
