// Package redemption drives the L2-to-L1 leg: redemption requests
// observed on an L2 gateway are attested by Wormhole guardians and
// settled against the L1 Bitcoin redeemer.
package redemption

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
	sdkvaa "github.com/wormhole-foundation/wormhole/sdk/vaa"

	"github.com/keep-network/tbtc-relayer/config/params"
	"github.com/keep-network/tbtc-relayer/encoding/bytesutil"
	"github.com/keep-network/tbtc-relayer/relayer/chains/l1"
	"github.com/keep-network/tbtc-relayer/relayer/db"
	"github.com/keep-network/tbtc-relayer/relayer/types"
	"github.com/keep-network/tbtc-relayer/relayer/wormhole"
)

var log = logrus.WithField("prefix", "redemption")

var (
	redemptionsCompletedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relayer_redemptions_completed_total",
		Help: "Redemptions settled on L1.",
	}, []string{"chain"})
	redemptionsFailedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relayer_redemptions_failed_total",
		Help: "Redemptions whose VAA fetch or L1 settlement failed.",
	}, []string{"chain"})
)

// defaultGasFactor pads the L1 settlement gas estimate.
const defaultGasFactor = 1.2

// Record error strings surfaced to API consumers. The detailed cause
// goes to the logs and the audit trail.
const (
	vaaFailureMessage          = "VAA fetch/verify failed"
	l1SubmissionFailureMessage = "L1 submission failed (see logs for details)"
)

// redeemSubmitter is the slice of the L1 redeemer contract the service
// drives. *l1.Redeemer satisfies it; tests substitute fakes.
type redeemSubmitter interface {
	FinalizeL2Redemption(
		ctx context.Context,
		walletPubKeyHash [32]byte,
		mainUtxo l1.MainUtxoArg,
		amount *big.Int,
		encodedVm []byte,
		gasFactor float64,
	) (*gethtypes.Transaction, error)
}

// receiptWaiter waits for a submitted L1 transaction to confirm.
type receiptWaiter interface {
	WaitMined(ctx context.Context, tx *gethtypes.Transaction) (*gethtypes.Receipt, error)
}

// l2ReceiptFetcher reads the L2 transaction receipt behind a redemption
// request, gating VAA fetches on a successful L2 execution.
type l2ReceiptFetcher interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error)
}

// l1ContractCaller runs read-only calls against L1 contracts.
type l1ContractCaller interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Service runs one chain's redemption pipeline.
type Service struct {
	cfg       *params.ChainConfig
	store     db.Database
	redeemer  redeemSubmitter
	waiter    receiptWaiter
	retry     time.Duration
	gasFactor float64

	// l2 is attached after the chain handler dials its L2 RPC; nil in
	// endpoint-only mode, which skips the receipt gate.
	l2            l2ReceiptFetcher
	l1caller      l1ContractCaller
	l1TokenBridge common.Address

	httpClient *http.Client
	apiBase    string
}

// NewService builds a redemption service over the chain's L1 context.
func NewService(cfg *params.ChainConfig, store db.Database, l1ctx *l1.Context, retry time.Duration) *Service {
	apiBase := "https://api.testnet.wormholescan.io"
	if cfg.IsMainnet() {
		apiBase = "https://api.wormholescan.io"
	}
	s := &Service{
		cfg:        cfg,
		store:      store,
		redeemer:   l1ctx.Redeemer,
		waiter:     l1ctx,
		retry:      retry,
		gasFactor:  defaultGasFactor,
		l1caller:   l1ctx.Client,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		apiBase:    apiBase,
	}
	if cfg.TokenBridgeID != "" {
		s.l1TokenBridge = common.HexToAddress(cfg.TokenBridgeID)
	}
	return s
}

// SetL2Client attaches the L2 receipt source once the owning handler has
// dialed its RPC.
func (s *Service) SetL2Client(client l2ReceiptFetcher) {
	s.l2 = client
}

// AcceptRedemption creates a PENDING redemption record from an observed
// L2 RedemptionRequested event. Duplicate observations collapse onto the
// existing record.
func (s *Service) AcceptRedemption(ctx context.Context, event *types.RedemptionEvent, logIndex uint32) (*types.Redemption, bool, error) {
	id, err := types.CalculateRedemptionID(event.L2TransactionHash, logIndex)
	if err != nil {
		return nil, false, err
	}
	if existing, err := s.store.Redemption(ctx, id); err == nil {
		return existing, true, nil
	} else if !errors.Is(err, db.ErrNotFound) {
		return nil, false, err
	}

	now := types.NowMs()
	redemption := &types.Redemption{
		ID:        id,
		ChainName: s.cfg.ChainName,
		Event:     *event,
		Status:    types.RedemptionPending,
		// lastActivityAt stays unset: a fresh PENDING record is eligible
		// for the very next sweep.
		Dates: types.RedemptionDates{CreatedAt: now},
	}
	redemption.AppendLog("Redemption created")
	if err := s.store.SaveRedemption(ctx, redemption); err != nil {
		if errors.Is(err, db.ErrAlreadyExists) {
			existing, getErr := s.store.Redemption(ctx, id)
			if getErr != nil {
				return nil, false, getErr
			}
			return existing, true, nil
		}
		return nil, false, err
	}
	s.audit(ctx, types.AuditRedemptionCreated, id, nil)
	log.WithFields(logrus.Fields{"redemptionId": id, "chain": s.cfg.ChainName}).
		Info("Redemption queued")
	return redemption, false, nil
}

// ProcessPendingRedemptions fetches guardian-signed VAAs for PENDING and
// VAA_FAILED records. Any fetch or verification failure, including a VAA
// the guardians have not signed yet, parks the record as VAA_FAILED; the
// sweep re-scans that status, so the state is retryable.
func (s *Service) ProcessPendingRedemptions(ctx context.Context) error {
	for _, status := range []types.RedemptionStatus{types.RedemptionPending, types.RedemptionVaaFailed} {
		records, err := s.store.RedemptionsByStatus(ctx, status, s.cfg.ChainName)
		if err != nil {
			return errors.Wrap(err, "could not list redemptions")
		}
		for _, stale := range records {
			if !activityOlderThan(stale, s.retry) {
				continue
			}
			redemption, err := s.store.Redemption(ctx, stale.ID)
			if err != nil {
				continue
			}
			if redemption.Status != status {
				continue
			}
			if err := s.fetchVAA(ctx, redemption); err != nil {
				log.WithError(err).WithField("redemptionId", redemption.ID).Warn("VAA fetch failed")
			}
		}
	}
	return nil
}

func (s *Service) fetchVAA(ctx context.Context, redemption *types.Redemption) error {
	txHash := redemption.Event.L2TransactionHash
	if s.l2 != nil {
		receipt, err := s.l2.TransactionReceipt(ctx, common.HexToHash(txHash))
		switch {
		case errors.Is(err, ethereum.NotFound):
			return s.failVAA(ctx, redemption, errors.Errorf("L2 transaction %s not found", txHash))
		case err != nil:
			// RPC trouble: bump activity and let the sweep retry.
			redemption.MarkActivity()
			if updateErr := s.store.UpdateRedemption(ctx, redemption); updateErr != nil {
				return updateErr
			}
			return errors.Wrap(err, "could not fetch L2 receipt")
		case receipt.Status != gethtypes.ReceiptStatusSuccessful:
			return s.failVAA(ctx, redemption, errors.Errorf("L2 transaction %s reverted", txHash))
		}
	}

	vaaBytes, found, err := s.lookupVAAByTx(ctx, txHash)
	if err != nil {
		return s.failVAA(ctx, redemption, err)
	}
	if !found {
		return s.failVAA(ctx, redemption, errors.Errorf("no signed VAA for L2 transaction %s yet", txHash))
	}

	parsed, err := sdkvaa.Unmarshal(vaaBytes)
	if err != nil {
		return s.failVAA(ctx, redemption, errors.Wrap(err, "could not parse signed VAA"))
	}
	if parsed.EmitterChain != sdkvaa.ChainID(s.cfg.L2WormholeChainID) {
		return s.failVAA(ctx, redemption, errors.Errorf(
			"VAA emitter chain %d does not match configured %d",
			parsed.EmitterChain, s.cfg.L2WormholeChainID,
		))
	}
	if gateway := s.cfg.L2WormholeGateway; gateway != "" {
		expected, err := universalAddress(gateway)
		if err != nil {
			return s.failVAA(ctx, redemption, err)
		}
		if parsed.EmitterAddress != expected {
			return s.failVAA(ctx, redemption, errors.Errorf(
				"VAA emitter %s does not match gateway %s",
				parsed.EmitterAddress.String(), gateway,
			))
		}
	}

	redemption.VaaBytes = vaaBytes
	redemption.Status = types.RedemptionVaaFetched
	redemption.Error = ""
	redemption.Dates.VaaFetchedAt = types.NowMs()
	redemption.AppendLog("VAA fetched")
	if err := s.store.UpdateRedemption(ctx, redemption); err != nil {
		return err
	}
	s.audit(ctx, types.AuditRedemptionUpdated, redemption.ID, map[string]string{
		"status": redemption.Status.String(),
	})
	return nil
}

// failVAA parks the record as VAA_FAILED. The record's error carries the
// stable message; the cause goes to the audit trail.
func (s *Service) failVAA(ctx context.Context, redemption *types.Redemption, cause error) error {
	redemption.Status = types.RedemptionVaaFailed
	redemption.Error = vaaFailureMessage
	redemption.AppendLog("VAA fetch/verify failed")
	if err := s.store.UpdateRedemption(ctx, redemption); err != nil {
		return err
	}
	s.audit(ctx, types.AuditRedemptionUpdated, redemption.ID, map[string]string{
		"status": redemption.Status.String(),
		"error":  cause.Error(),
	})
	redemptionsFailedCounter.WithLabelValues(s.cfg.ChainName).Inc()
	return cause
}

// universalAddress converts a native hex address to Wormhole's universal
// 32-byte form.
func universalAddress(native string) (sdkvaa.Address, error) {
	var addr sdkvaa.Address
	raw, err := bytesutil.DecodeHex(native)
	if err != nil || len(raw) > 32 {
		return addr, errors.Errorf("invalid emitter address %q", native)
	}
	copy(addr[32-len(raw):], raw)
	return addr, nil
}

// ProcessVaaFetchedRedemptions settles VAA_FETCHED records on L1.
func (s *Service) ProcessVaaFetchedRedemptions(ctx context.Context) error {
	records, err := s.store.RedemptionsByStatus(ctx, types.RedemptionVaaFetched, s.cfg.ChainName)
	if err != nil {
		return errors.Wrap(err, "could not list fetched redemptions")
	}
	for _, stale := range records {
		if !activityOlderThan(stale, s.retry) {
			continue
		}
		redemption, err := s.store.Redemption(ctx, stale.ID)
		if err != nil {
			continue
		}
		if redemption.Status != types.RedemptionVaaFetched {
			continue
		}
		if err := s.settleOnL1(ctx, redemption); err != nil {
			log.WithError(err).WithField("redemptionId", redemption.ID).Warn("L1 settlement failed")
		}
	}
	return nil
}

func (s *Service) settleOnL1(ctx context.Context, redemption *types.Redemption) error {
	if s.redeemer == nil {
		return errors.New("L1 redeemer contract not configured")
	}
	walletHash, err := bytesutil.DecodeHexWithLength(redemption.Event.WalletPublicKeyHash, 20)
	if err != nil {
		return s.fail(ctx, redemption, errors.Wrap(err, "invalid wallet pubkey hash"))
	}
	var wallet32 [32]byte
	copy(wallet32[:], bytesutil.LeftPadTo(walletHash, 32))

	utxoHash, err := bytesutil.DecodeHexWithLength(redemption.Event.MainUtxo.TxHash, 32)
	if err != nil {
		return s.fail(ctx, redemption, errors.Wrap(err, "invalid main UTXO hash"))
	}
	var utxo l1.MainUtxoArg
	copy(utxo.TxHash[:], utxoHash)
	utxo.TxOutputIndex = redemption.Event.MainUtxo.TxOutputIndex
	utxo.TxOutputValue = redemption.Event.MainUtxo.TxOutputValue

	amount, ok := new(big.Int).SetString(redemption.Event.Amount, 10)
	if !ok {
		return s.fail(ctx, redemption, errors.Errorf("invalid amount %q", redemption.Event.Amount))
	}

	// Idempotency gate: a VAA the L1 token bridge already consumed was
	// settled by an earlier submission or another relayer.
	if s.l1caller != nil && s.l1TokenBridge != (common.Address{}) {
		completed, err := wormhole.IsTransferCompleted(ctx, s.l1caller, s.l1TokenBridge, redemption.VaaBytes)
		if err != nil {
			return errors.Wrap(err, "could not check transfer completion")
		}
		if completed {
			return s.complete(ctx, redemption)
		}
	}

	tx, err := s.redeemer.FinalizeL2Redemption(ctx, wallet32, utxo, amount, redemption.VaaBytes, s.gasFactor)
	if err != nil {
		return s.fail(ctx, redemption, errors.Wrap(err, "could not submit finalizeL2Redemption"))
	}

	redemption.L1SubmissionTxHash = tx.Hash().Hex()
	redemption.Dates.L1SubmittedAt = types.NowMs()
	redemption.AppendLog("L1 settlement submitted")
	if err := s.store.UpdateRedemption(ctx, redemption); err != nil {
		return err
	}

	receipt, err := s.waiter.WaitMined(ctx, tx)
	if err != nil {
		return s.fail(ctx, redemption, errors.Wrap(err, "settlement not confirmed"))
	}
	if receipt.Status != gethtypes.ReceiptStatusSuccessful {
		return s.fail(ctx, redemption, errors.Errorf("settlement transaction %s reverted", tx.Hash().Hex()))
	}
	return s.complete(ctx, redemption)
}

func (s *Service) complete(ctx context.Context, redemption *types.Redemption) error {
	redemption.Status = types.RedemptionCompleted
	redemption.Error = ""
	redemption.Dates.CompletedAt = types.NowMs()
	redemption.AppendLog("L1 submission succeeded")
	if err := s.store.UpdateRedemption(ctx, redemption); err != nil {
		return err
	}
	s.audit(ctx, types.AuditRedemptionUpdated, redemption.ID, map[string]string{
		"status": redemption.Status.String(),
		"txHash": redemption.L1SubmissionTxHash,
	})
	redemptionsCompletedCounter.WithLabelValues(s.cfg.ChainName).Inc()
	log.WithField("redemptionId", redemption.ID).Info("Redemption completed")
	return nil
}

// fail parks the record as FAILED. The record's error carries the stable
// message; the cause goes to the audit trail.
func (s *Service) fail(ctx context.Context, redemption *types.Redemption, cause error) error {
	redemption.Status = types.RedemptionFailed
	redemption.Error = l1SubmissionFailureMessage
	redemption.AppendLog("L1 submission failed")
	if err := s.store.UpdateRedemption(ctx, redemption); err != nil {
		return err
	}
	s.audit(ctx, types.AuditRedemptionUpdated, redemption.ID, map[string]string{
		"status": redemption.Status.String(),
		"error":  cause.Error(),
	})
	redemptionsFailedCounter.WithLabelValues(s.cfg.ChainName).Inc()
	return cause
}

func (s *Service) audit(ctx context.Context, eventType types.AuditEventType, redemptionID string, data map[string]string) {
	entry := &types.AuditEntry{
		EventType:    eventType,
		RedemptionID: redemptionID,
		ChainName:    s.cfg.ChainName,
		Data:         data,
	}
	if err := s.store.AppendAuditEntry(ctx, entry); err != nil {
		log.WithError(err).Warn("Could not append audit entry")
	}
}

func activityOlderThan(r *types.Redemption, interval time.Duration) bool {
	if r.Dates.LastActivityAt == 0 {
		return true
	}
	return time.Since(time.UnixMilli(r.Dates.LastActivityAt)) >= interval
}

type vaaByTxResponse struct {
	Data []struct {
		VAA string `json:"vaa"`
	} `json:"data"`
}

// lookupVAAByTx asks the Wormholescan API for the VAA attesting the
// given L2 transaction. found=false means the guardians have not signed
// it yet.
func (s *Service) lookupVAAByTx(ctx context.Context, txHash string) ([]byte, bool, error) {
	url := fmt.Sprintf("%s/api/v1/vaas?txHash=%s", s.apiBase, txHash)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, false, errors.Wrap(err, "could not reach Wormholescan API")
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.WithError(err).Debug("Could not close response body")
		}
	}()
	if resp.StatusCode == http.StatusNotFound {
		return nil, false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, false, errors.Errorf("Wormholescan API returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, false, errors.Wrap(err, "could not read Wormholescan response")
	}
	var payload vaaByTxResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, false, errors.Wrap(err, "could not decode Wormholescan response")
	}
	if len(payload.Data) == 0 || payload.Data[0].VAA == "" {
		return nil, false, nil
	}
	raw, err := base64.StdEncoding.DecodeString(payload.Data[0].VAA)
	if err != nil {
		return nil, false, errors.Wrap(err, "could not decode VAA bytes")
	}
	return raw, true, nil
}
