// Package wormhole fetches and validates the guardian-signed VAAs that
// carry finalized deposits to their destination chains.
package wormhole

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	sdkvaa "github.com/wormhole-foundation/wormhole/sdk/vaa"

	"github.com/keep-network/tbtc-relayer/config/params"
	"github.com/keep-network/tbtc-relayer/encoding/bytesutil"
)

var log = logrus.WithField("prefix", "wormhole")

// Wormholescan API hosts, one per guardian network scope.
const (
	mainnetAPIBase = "https://api.wormholescan.io"
	testnetAPIBase = "https://api.testnet.wormholescan.io"
)

// L1 Wormhole chain ids for the settlement chain.
const (
	chainIDEthereum uint16 = 2
	chainIDSepolia  uint16 = 10002
)

// Token bridge payload discriminators.
const (
	payloadTransfer            = 0x01
	payloadTransferWithPayload = 0x03
)

// ErrVAANotFound marks a sequence the guardians have not signed yet.
// Retryable: the record stays AWAITING_WORMHOLE_VAA.
var ErrVAANotFound = errors.New("signed VAA not observed by guardians yet")

// ErrUnexpectedEmitter marks a VAA whose emitter does not match the
// configured token bridge. Never relayed.
var ErrUnexpectedEmitter = errors.New("VAA emitter does not match token bridge")

// logMessagePublishedTopic is the core bridge's message event signature.
var logMessagePublishedTopic = crypto.Keccak256Hash([]byte(
	"LogMessagePublished(address,uint64,uint32,bytes,uint8)",
))

// receiptFetcher is the slice of the L1 client the service reads.
type receiptFetcher interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error)
}

// Service resolves the signed VAA for a finalized deposit: it locates
// the core bridge message in the finalize receipt, then polls the
// Wormholescan API for the guardian signature set.
type Service struct {
	client      receiptFetcher
	httpClient  *http.Client
	apiBase     string
	coreBridge  common.Address
	tokenBridge common.Address
	l1ChainID   uint16

	// Fetched VAA bytes keyed by sequence. Signed VAAs are immutable, so
	// a retry after a downstream submission failure skips the API.
	vaaCache *cache.Cache
}

// NewService builds a VAA service for one chain's configuration.
func NewService(client receiptFetcher, cfg *params.ChainConfig) *Service {
	apiBase := testnetAPIBase
	l1ChainID := chainIDSepolia
	if cfg.IsMainnet() {
		apiBase = mainnetAPIBase
		l1ChainID = chainIDEthereum
	}
	return &Service{
		client:      client,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		apiBase:     apiBase,
		coreBridge:  common.HexToAddress(cfg.WormholeCoreID),
		tokenBridge: common.HexToAddress(cfg.TokenBridgeID),
		l1ChainID:   l1ChainID,
		vaaCache:    cache.New(30*time.Minute, 10*time.Minute),
	}
}

// EmitterAddress is the token bridge address in Wormhole's universal
// 32-byte form.
func (s *Service) EmitterAddress() [32]byte {
	var emitter [32]byte
	copy(emitter[:], bytesutil.LeftPadTo(s.tokenBridge.Bytes(), 32))
	return emitter
}

// TransferSequence extracts the core bridge message sequence from the
// finalize transaction receipt. Only messages emitted by the token
// bridge count; a receipt with no matching message returns found=false.
func (s *Service) TransferSequence(ctx context.Context, txHash string) (uint64, bool, error) {
	receipt, err := s.client.TransactionReceipt(ctx, common.HexToHash(txHash))
	if err != nil {
		return 0, false, errors.Wrap(err, "could not fetch finalize receipt")
	}
	if receipt.Status != gethtypes.ReceiptStatusSuccessful {
		return 0, false, errors.Errorf("finalize transaction %s reverted", txHash)
	}
	for _, entry := range receipt.Logs {
		if entry.Address != s.coreBridge {
			continue
		}
		if len(entry.Topics) < 2 || entry.Topics[0] != logMessagePublishedTopic {
			continue
		}
		sender := common.BytesToAddress(entry.Topics[1].Bytes())
		if sender != s.tokenBridge {
			continue
		}
		if len(entry.Data) < 32 {
			continue
		}
		// sequence is the first non-indexed field, ABI-padded to 32 bytes.
		sequence := new(big.Int).SetBytes(entry.Data[:32]).Uint64()
		return sequence, true, nil
	}
	return 0, false, nil
}

// FetchSignedVAA retrieves the guardian-signed VAA bytes for a transfer
// sequence, validating the emitter and the token bridge payload
// discriminator. An unsigned sequence returns ErrVAANotFound.
func (s *Service) FetchSignedVAA(ctx context.Context, sequence uint64) ([]byte, error) {
	cacheKey := strconv.FormatUint(sequence, 10)
	if cached, ok := s.vaaCache.Get(cacheKey); ok {
		return cached.([]byte), nil
	}

	raw, err := s.fetchFromAPI(ctx, sequence)
	if err != nil {
		return nil, err
	}

	parsed, err := sdkvaa.Unmarshal(raw)
	if err != nil {
		return nil, errors.Wrap(err, "could not parse signed VAA")
	}
	if parsed.EmitterChain != sdkvaa.ChainID(s.l1ChainID) {
		return nil, errors.Wrapf(ErrUnexpectedEmitter, "emitter chain %d", parsed.EmitterChain)
	}
	if parsed.EmitterAddress != sdkvaa.Address(s.EmitterAddress()) {
		return nil, errors.Wrapf(ErrUnexpectedEmitter, "emitter %s", parsed.EmitterAddress.String())
	}
	if len(parsed.Payload) == 0 {
		return nil, errors.New("signed VAA carries an empty payload")
	}
	// Contract-controlled transfers carry payload 3; some gateway routes
	// fall back to a plain payload 1 transfer.
	if parsed.Payload[0] != payloadTransferWithPayload && parsed.Payload[0] != payloadTransfer {
		return nil, errors.Errorf("unexpected token bridge payload discriminator %d", parsed.Payload[0])
	}

	s.vaaCache.Set(cacheKey, raw, cache.DefaultExpiration)
	log.WithFields(logrus.Fields{
		"sequence": sequence,
		"payload":  parsed.Payload[0],
	}).Debug("Fetched signed VAA")
	return raw, nil
}

// SigningDigest parses VAA bytes and returns the digest destination
// token bridges use for replay protection.
func SigningDigest(vaaBytes []byte) (common.Hash, error) {
	parsed, err := sdkvaa.Unmarshal(vaaBytes)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "could not parse signed VAA")
	}
	return parsed.SigningDigest(), nil
}

type signedVAAResponse struct {
	VAABytes string `json:"vaaBytes"`
}

func (s *Service) fetchFromAPI(ctx context.Context, sequence uint64) ([]byte, error) {
	emitter := s.EmitterAddress()
	url := fmt.Sprintf(
		"%s/v1/signed_vaa/%d/%064x/%d",
		s.apiBase, s.l1ChainID, emitter, sequence,
	)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "could not reach Wormholescan API")
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.WithError(err).Debug("Could not close response body")
		}
	}()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrVAANotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("Wormholescan API returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errors.Wrap(err, "could not read Wormholescan response")
	}
	var payload signedVAAResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, errors.Wrap(err, "could not decode Wormholescan response")
	}
	raw, err := base64.StdEncoding.DecodeString(payload.VAABytes)
	if err != nil {
		return nil, errors.Wrap(err, "could not decode VAA bytes")
	}
	return raw, nil
}
