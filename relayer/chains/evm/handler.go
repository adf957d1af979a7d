// Package evm is the chain adapter for EVM L2s (Arbitrum, Base and
// kin): deposits are observed from the L2 depositor contract or the
// reveal endpoint and settle entirely through the shared L1 core.
package evm

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/keep-network/tbtc-relayer/config/params"
	"github.com/keep-network/tbtc-relayer/encoding/bytesutil"
	"github.com/keep-network/tbtc-relayer/relayer/chains"
	"github.com/keep-network/tbtc-relayer/relayer/chains/l1"
	"github.com/keep-network/tbtc-relayer/relayer/db"
	"github.com/keep-network/tbtc-relayer/relayer/redemption"
	"github.com/keep-network/tbtc-relayer/relayer/types"
)

// l2Client is the slice of an EVM client the L2 side uses. ethclient
// satisfies it; backfill tests substitute fakes.
type l2Client interface {
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*gethtypes.Header, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]gethtypes.Log, error)
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- gethtypes.Log) (ethereum.Subscription, error)
}

// Handler bridges deposits destined for an EVM L2.
type Handler struct {
	cfg   *params.ChainConfig
	store db.Database
	core  *l1.Core
	l1ctx *l1.Context
	log   *logrus.Entry

	l2      l2Client
	l2ws    l2Client
	l2addr  common.Address
	l2bound *bind.BoundContract

	// Header timestamps by block number; backfill's binary search
	// revisits the same headers across passes.
	headerCache *cache.Cache

	retry       time.Duration
	redemptions *redemption.Service
	dialL2      func(ctx context.Context, rawurl string) (l2Client, error)
}

// New builds an EVM handler for one chain configuration.
func New(cfg *params.ChainConfig, store db.Database, retry time.Duration) *Handler {
	return &Handler{
		cfg:         cfg,
		store:       store,
		retry:       retry,
		log:         logrus.WithField("prefix", "evm").WithField("chain", cfg.ChainName),
		headerCache: cache.New(cache.NoExpiration, 0),
		dialL2:      dialEthClient,
	}
}

// ChainName implements chains.Handler.
func (h *Handler) ChainName() string { return h.cfg.ChainName }

// SupportsPastDepositCheck implements chains.Handler.
func (h *Handler) SupportsPastDepositCheck() bool { return h.cfg.SupportsPastDepositCheck() }

// Initialize dials the L1 and L2 RPCs and wires the state machine core.
func (h *Handler) Initialize(ctx context.Context) error {
	l1ctx, err := l1.NewContext(ctx, h.cfg)
	if err != nil {
		return err
	}
	h.l1ctx = l1ctx
	h.core = l1.NewCore(l1.CoreConfig{
		ChainName:     h.cfg.ChainName,
		Store:         h.store,
		Backend:       l1ctx.Depositor,
		Waiter:        l1ctx,
		RetryInterval: h.retry,
	})
	if h.cfg.EnableL2Redemption && l1ctx.Redeemer != nil {
		h.redemptions = redemption.NewService(h.cfg, h.store, l1ctx, h.retry)
	}

	if h.cfg.UseEndpoint {
		return nil
	}
	if h.cfg.L2Rpc != "" {
		if h.l2, err = h.dialL2(ctx, h.cfg.L2Rpc); err != nil {
			return errors.Wrapf(err, "could not dial L2 RPC %s", h.cfg.L2Rpc)
		}
	}
	if h.cfg.L2WsRpc != "" {
		if h.l2ws, err = h.dialL2(ctx, h.cfg.L2WsRpc); err != nil {
			return errors.Wrapf(err, "could not dial L2 websocket RPC %s", h.cfg.L2WsRpc)
		}
	} else {
		h.l2ws = h.l2
	}
	h.l2addr = common.HexToAddress(h.cfg.L2ContractAddress)
	h.l2bound = bind.NewBoundContract(h.l2addr, l1.L2DepositorABI(), nil, nil, nil)
	if h.redemptions != nil && h.l2 != nil {
		h.redemptions.SetL2Client(h.l2)
	}
	return nil
}

// SetupListeners attaches the vault finalization listener and, outside
// endpoint-only mode, the L2 DepositInitialized subscription.
func (h *Handler) SetupListeners(ctx context.Context) error {
	keys := make(chan *big.Int, 16)
	if _, err := h.l1ctx.Vault.WatchOptimisticMintingFinalized(ctx, keys); err != nil {
		return err
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case key := <-keys:
				h.core.OnOptimisticMintingFinalized(ctx, key)
			}
		}
	}()

	if h.cfg.UseEndpoint || h.l2ws == nil {
		return nil
	}
	logsCh := make(chan gethtypes.Log, 16)
	query := ethereum.FilterQuery{
		Addresses: []common.Address{h.l2addr},
		Topics:    [][]common.Hash{{l1.DepositInitializedTopic()}},
	}
	sub, err := h.l2ws.SubscribeFilterLogs(ctx, query, logsCh)
	if err != nil {
		return errors.Wrap(err, "could not subscribe to L2 DepositInitialized")
	}
	go func() {
		defer sub.Unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case err := <-sub.Err():
				h.log.WithError(err).Error("L2 deposit subscription dropped")
				return
			case logEntry := <-logsCh:
				h.onDepositInitialized(ctx, logEntry)
			}
		}
	}()

	if h.redemptions != nil && h.cfg.L2BitcoinRedeemer != "" {
		if err := h.setupRedemptionListener(ctx); err != nil {
			return err
		}
	}
	return nil
}

// RedemptionService exposes the chain's redemption pipeline to the
// reconciler; nil when L2 redemption is disabled.
func (h *Handler) RedemptionService() *redemption.Service { return h.redemptions }

func (h *Handler) setupRedemptionListener(ctx context.Context) error {
	logsCh := make(chan gethtypes.Log, 16)
	query := ethereum.FilterQuery{
		Addresses: []common.Address{common.HexToAddress(h.cfg.L2BitcoinRedeemer)},
		Topics:    [][]common.Hash{{l1.RedemptionRequestedTopic()}},
	}
	sub, err := h.l2ws.SubscribeFilterLogs(ctx, query, logsCh)
	if err != nil {
		return errors.Wrap(err, "could not subscribe to L2 RedemptionRequested")
	}
	go func() {
		defer sub.Unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case err := <-sub.Err():
				h.log.WithError(err).Error("L2 redemption subscription dropped")
				return
			case logEntry := <-logsCh:
				h.onRedemptionRequested(ctx, logEntry)
			}
		}
	}()
	return nil
}

// redemptionRequestedEvent mirrors the L2 redeemer event layout.
type redemptionRequestedEvent struct {
	WalletPubKeyHash     [20]byte
	MainUtxo             l1.MainUtxoArg
	RedeemerOutputScript []byte
	Amount               *big.Int
}

func (h *Handler) onRedemptionRequested(ctx context.Context, logEntry gethtypes.Log) {
	event := &redemptionRequestedEvent{}
	if err := h.l2bound.UnpackLog(event, "RedemptionRequested", logEntry); err != nil {
		h.log.WithError(err).Warn("Could not parse RedemptionRequested log")
		return
	}
	payload := &types.RedemptionEvent{
		WalletPublicKeyHash: bytesutil.EncodeHex(event.WalletPubKeyHash[:]),
		MainUtxo: types.MainUtxo{
			TxHash:        bytesutil.EncodeHex(event.MainUtxo.TxHash[:]),
			TxOutputIndex: event.MainUtxo.TxOutputIndex,
			TxOutputValue: event.MainUtxo.TxOutputValue,
		},
		RedeemerOutputScript: bytesutil.EncodeHex(event.RedeemerOutputScript),
		Amount:               event.Amount.String(),
		L2TransactionHash:    logEntry.TxHash.Hex(),
	}
	if _, _, err := h.redemptions.AcceptRedemption(ctx, payload, uint32(logEntry.Index)); err != nil {
		h.log.WithError(err).Warn("Could not queue observed redemption")
	}
}

func (h *Handler) onDepositInitialized(ctx context.Context, logEntry gethtypes.Log) {
	event, err := h.parseDepositInitialized(logEntry)
	if err != nil {
		h.log.WithError(err).Warn("Could not parse DepositInitialized log")
		return
	}
	deposit, existing, err := h.core.CreateDeposit(ctx, event)
	if err != nil {
		h.log.WithError(err).Warn("Could not queue observed deposit")
		return
	}
	if existing {
		return
	}
	go func() {
		if _, err := h.core.InitializeDeposit(ctx, deposit); err != nil {
			h.log.WithError(err).WithField("depositId", deposit.ID).
				Warn("Inline initialize failed, reconciler will retry")
		}
	}()
}

// depositInitializedEvent mirrors the L2 depositor event layout.
type depositInitializedEvent struct {
	FundingTx      l1.BitcoinTxInfoArg
	Reveal         l1.DepositRevealInfoArg
	L2DepositOwner common.Address
	L2Sender       common.Address
}

func (h *Handler) parseDepositInitialized(logEntry gethtypes.Log) (*types.L1OutputEvent, error) {
	event := &depositInitializedEvent{}
	if err := h.l2bound.UnpackLog(event, "DepositInitialized", logEntry); err != nil {
		return nil, errors.Wrap(err, "could not unpack DepositInitialized")
	}
	return &types.L1OutputEvent{
		FundingTx: types.BitcoinTxInfo{
			Version:      bytesutil.EncodeHex(event.FundingTx.Version[:]),
			InputVector:  bytesutil.EncodeHex(event.FundingTx.InputVector),
			OutputVector: bytesutil.EncodeHex(event.FundingTx.OutputVector),
			Locktime:     bytesutil.EncodeHex(event.FundingTx.Locktime[:]),
		},
		Reveal: types.Reveal{
			FundingOutputIndex:  event.Reveal.FundingOutputIndex,
			BlindingFactor:      bytesutil.EncodeHex(event.Reveal.BlindingFactor[:]),
			WalletPublicKeyHash: bytesutil.EncodeHex(event.Reveal.WalletPubKeyHash[:]),
			RefundPublicKeyHash: bytesutil.EncodeHex(event.Reveal.RefundPubKeyHash[:]),
			RefundLocktime:      bytesutil.EncodeHex(event.Reveal.RefundLocktime[:]),
			Vault:               event.Reveal.Vault.Hex(),
		},
		L2DepositOwner: event.L2DepositOwner.Hex(),
		L2Sender:       event.L2Sender.Hex(),
	}, nil
}

// InitializeDeposit implements chains.Handler.
func (h *Handler) InitializeDeposit(ctx context.Context, deposit *types.Deposit) (*gethtypes.Receipt, error) {
	return h.core.InitializeDeposit(ctx, deposit)
}

// FinalizeDeposit implements chains.Handler.
func (h *Handler) FinalizeDeposit(ctx context.Context, deposit *types.Deposit) (*gethtypes.Receipt, error) {
	return h.core.FinalizeDeposit(ctx, deposit)
}

// CheckDepositStatus implements chains.Handler.
func (h *Handler) CheckDepositStatus(ctx context.Context, depositID string) (types.DepositStatus, error) {
	return h.core.CheckDepositStatus(ctx, depositID)
}

// ProcessInitializeDeposits implements chains.Handler.
func (h *Handler) ProcessInitializeDeposits(ctx context.Context) error {
	return h.core.ProcessInitializeDeposits(ctx)
}

// ProcessFinalizeDeposits implements chains.Handler.
func (h *Handler) ProcessFinalizeDeposits(ctx context.Context) error {
	return h.core.ProcessFinalizeDeposits(ctx)
}

// LatestBlock implements chains.Handler against the L2 head, falling
// back to L1 in endpoint-only mode.
func (h *Handler) LatestBlock(ctx context.Context) (uint64, error) {
	if h.l2 != nil {
		return h.l2.BlockNumber(ctx)
	}
	return h.l1ctx.Client.BlockNumber(ctx)
}

// AcceptReveal implements chains.RevealIntake: validate, create
// idempotently, then attempt initialization inline. An initialization
// failure is recorded on the deposit and does not fail the intake.
func (h *Handler) AcceptReveal(ctx context.Context, req *types.L1OutputEvent) (*chains.RevealResult, error) {
	if err := validateReveal(req); err != nil {
		return nil, chains.NewValidationError(err)
	}
	deposit, existing, err := h.core.CreateDeposit(ctx, req)
	if err != nil {
		return nil, err
	}
	result := &chains.RevealResult{DepositID: deposit.ID, Existing: existing}
	if existing {
		return result, nil
	}
	receipt, err := h.core.InitializeDeposit(ctx, deposit)
	if err != nil {
		h.log.WithError(err).WithField("depositId", deposit.ID).
			Warn("Inline initialize after reveal failed, reconciler will retry")
		return result, nil
	}
	result.Receipt = receipt
	return result, nil
}

func validateReveal(req *types.L1OutputEvent) error {
	checks := []struct {
		name   string
		value  string
		length int
	}{
		{"fundingTx.version", req.FundingTx.Version, 4},
		{"fundingTx.locktime", req.FundingTx.Locktime, 4},
		{"reveal.blindingFactor", req.Reveal.BlindingFactor, 8},
		{"reveal.walletPubKeyHash", req.Reveal.WalletPublicKeyHash, 20},
		{"reveal.refundPubKeyHash", req.Reveal.RefundPublicKeyHash, 20},
		{"reveal.refundLocktime", req.Reveal.RefundLocktime, 4},
	}
	for _, check := range checks {
		if _, err := bytesutil.DecodeHexWithLength(check.value, check.length); err != nil {
			return errors.Wrapf(err, "invalid %s", check.name)
		}
	}
	for _, field := range []struct {
		name  string
		value string
	}{
		{"fundingTx.inputVector", req.FundingTx.InputVector},
		{"fundingTx.outputVector", req.FundingTx.OutputVector},
		{"l2DepositOwner", req.L2DepositOwner},
	} {
		if !bytesutil.IsHex(field.value) {
			return errors.Errorf("invalid %s: not a hex string", field.name)
		}
	}
	return nil
}
