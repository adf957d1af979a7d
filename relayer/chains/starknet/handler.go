// Package starknet is the chain adapter for StarkNet. There is no L2
// depositor contract: deposits arrive through the reveal endpoint, and
// the L1 finalize transaction both mints and pushes the tBTC through
// StarkGate, so bridging completes on L1.
package starknet

import (
	"context"
	"math/big"
	"time"

	starknetrpc "github.com/NethermindEth/starknet.go/rpc"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/keep-network/tbtc-relayer/config/params"
	"github.com/keep-network/tbtc-relayer/relayer/chains"
	"github.com/keep-network/tbtc-relayer/relayer/chains/l1"
	"github.com/keep-network/tbtc-relayer/relayer/db"
	"github.com/keep-network/tbtc-relayer/relayer/types"
)

// scanBatch caps a single eth_getLogs range in the L1 bridging scan.
const scanBatch = 10000

// l1LogClient is the slice of the L1 client the bridging scan uses.
// ethclient satisfies it; tests substitute fakes.
type l1LogClient interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]gethtypes.Log, error)
}

// Handler bridges deposits destined for StarkNet.
type Handler struct {
	cfg   *params.ChainConfig
	store db.Database
	core  *l1.Core
	l1ctx *l1.Context
	log   *logrus.Entry
	retry time.Duration

	provider      *starknetrpc.Provider
	l1logs        l1LogClient
	depositorAddr common.Address
}

// New builds a StarkNet handler for one chain configuration.
func New(cfg *params.ChainConfig, store db.Database, retry time.Duration) *Handler {
	return &Handler{
		cfg:   cfg,
		store: store,
		retry: retry,
		log:   logrus.WithField("prefix", "starknet").WithField("chain", cfg.ChainName),
	}
}

// ChainName implements chains.Handler.
func (h *Handler) ChainName() string { return h.cfg.ChainName }

// SupportsPastDepositCheck implements chains.Handler. StarkNet carries
// no scannable L2 depositor contract, but the L1 depositor's bridging
// events can always be scanned.
func (h *Handler) SupportsPastDepositCheck() bool { return true }

// Initialize dials the L1 RPC and the StarkNet JSON-RPC provider.
func (h *Handler) Initialize(ctx context.Context) error {
	l1ctx, err := l1.NewContext(ctx, h.cfg)
	if err != nil {
		return err
	}
	h.l1ctx = l1ctx
	h.l1logs = l1ctx.Client
	h.depositorAddr = l1ctx.Depositor.Address()
	h.core = l1.NewCore(l1.CoreConfig{
		ChainName:     h.cfg.ChainName,
		Store:         h.store,
		Backend:       l1ctx.Depositor,
		Waiter:        l1ctx,
		RetryInterval: h.retry,
		FeeQuoter:     h.finalizeFee,
	})

	if h.cfg.L2Rpc != "" {
		provider, err := starknetrpc.NewProvider(h.cfg.L2Rpc)
		if err != nil {
			return errors.Wrapf(err, "could not dial StarkNet RPC %s", h.cfg.L2Rpc)
		}
		h.provider = provider
	}
	return nil
}

// finalizeFee prefers the depositor's dynamic quote and falls back to
// the configured static fee when the quote is unavailable or zero.
func (h *Handler) finalizeFee(ctx context.Context) (*big.Int, error) {
	quote, err := h.l1ctx.Depositor.QuoteFinalizeDeposit(ctx)
	if err == nil && quote.Sign() > 0 {
		return quote, nil
	}
	if err != nil {
		h.log.WithError(err).Debug("Fee quote unavailable, using configured fee")
	}
	fee, ok := new(big.Int).SetString(h.cfg.L1FeeAmountWei, 10)
	if !ok {
		return nil, errors.Errorf("invalid l1FeeAmountWei %q", h.cfg.L1FeeAmountWei)
	}
	return fee, nil
}

// SetupListeners attaches the vault finalization listener.
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
	return nil
}

// InitializeDeposit implements chains.Handler.
func (h *Handler) InitializeDeposit(ctx context.Context, deposit *types.Deposit) (*gethtypes.Receipt, error) {
	return h.core.InitializeDeposit(ctx, deposit)
}

// FinalizeDeposit implements chains.Handler. On success the finalize
// receipt is scanned for the StarkGate bridging event; when present the
// deposit completes in the same step.
func (h *Handler) FinalizeDeposit(ctx context.Context, deposit *types.Deposit) (*gethtypes.Receipt, error) {
	receipt, err := h.core.FinalizeDeposit(ctx, deposit)
	if err != nil || receipt == nil {
		return receipt, err
	}
	if h.bridgedInReceipt(receipt, deposit.ID) {
		txHash := deposit.Hashes.Eth.FinalizeTxHash
		if err := h.core.MarkBridged(ctx, deposit, func(hashes *types.TxHashes) {
			hashes.Starknet.L1BridgeTxHash = txHash
		}); err != nil {
			h.log.WithError(err).WithField("depositId", deposit.ID).
				Error("Could not mark StarkNet deposit bridged")
		}
	}
	return receipt, nil
}

// bridgedInReceipt reports whether the receipt carries the
// TBTCBridgedToStarkNet event for the given deposit.
func (h *Handler) bridgedInReceipt(receipt *gethtypes.Receipt, depositID string) bool {
	key, err := types.DepositIDToBytes32(depositID)
	if err != nil {
		return false
	}
	want := new(big.Int).SetBytes(key[:])
	for _, logEntry := range receipt.Logs {
		if logEntry.Address != h.depositorAddr {
			continue
		}
		if len(logEntry.Topics) < 2 || logEntry.Topics[0] != l1.TBTCBridgedToStarkNetTopic() {
			continue
		}
		got := new(big.Int).SetBytes(logEntry.Topics[1].Bytes())
		if got.Cmp(want) == 0 {
			return true
		}
	}
	return false
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

// CheckForPastDeposits implements chains.Handler by scanning the L1
// depositor's TBTCBridgedToStarkNet events from the configured start
// block to the L1 head, advancing records finalized out-of-band to
// BRIDGED.
func (h *Handler) CheckForPastDeposits(ctx context.Context, opts chains.PastDepositOptions) error {
	if h.l1logs == nil {
		return nil
	}
	latest, err := h.l1logs.BlockNumber(ctx)
	if err != nil {
		return errors.Wrap(err, "could not fetch L1 head")
	}
	from := h.cfg.L2StartBlock
	if from > latest {
		return nil
	}
	for start := from; start <= latest; start += scanBatch {
		end := start + scanBatch - 1
		if end > latest {
			end = latest
		}
		logs, err := h.l1logs.FilterLogs(ctx, ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(start),
			ToBlock:   new(big.Int).SetUint64(end),
			Addresses: []common.Address{h.depositorAddr},
			Topics:    [][]common.Hash{{l1.TBTCBridgedToStarkNetTopic()}},
		})
		if err != nil {
			return errors.Wrapf(err, "could not filter bridging events %d..%d", start, end)
		}
		for _, logEntry := range logs {
			h.onBridgedEvent(ctx, logEntry)
		}
	}
	return nil
}

// onBridgedEvent marks the deposit behind a TBTCBridgedToStarkNet event
// as bridged. Unknown ids and already-bridged records are skipped.
func (h *Handler) onBridgedEvent(ctx context.Context, logEntry gethtypes.Log) {
	if len(logEntry.Topics) < 2 {
		return
	}
	id := new(big.Int).SetBytes(logEntry.Topics[1].Bytes()).String()
	deposit, err := h.store.Deposit(ctx, id)
	if err != nil {
		return
	}
	if deposit.Status >= types.StatusBridged {
		return
	}
	txHash := logEntry.TxHash.Hex()
	if err := h.core.MarkBridged(ctx, deposit, func(hashes *types.TxHashes) {
		hashes.Starknet.L1BridgeTxHash = txHash
	}); err != nil {
		h.log.WithError(err).WithField("depositId", id).
			Error("Could not mark StarkNet deposit bridged")
	}
}

// LatestBlock implements chains.Handler against the StarkNet head.
func (h *Handler) LatestBlock(ctx context.Context) (uint64, error) {
	if h.provider == nil {
		return h.l1ctx.Client.BlockNumber(ctx)
	}
	return h.provider.BlockNumber(ctx)
}

// AcceptReveal implements chains.RevealIntake. StarkNet owners are felt
// values up to 32 bytes, validated before queuing.
func (h *Handler) AcceptReveal(ctx context.Context, req *types.L1OutputEvent) (*chains.RevealResult, error) {
	if err := validateStarknetOwner(req.L2DepositOwner); err != nil {
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

func validateStarknetOwner(owner string) error {
	value, ok := new(big.Int).SetString(trimHexPrefix(owner), 16)
	if !ok {
		return errors.New("invalid StarkNet deposit owner: not a hex felt")
	}
	if value.Sign() == 0 {
		return errors.New("invalid StarkNet deposit owner: zero address")
	}
	if value.BitLen() > 252 {
		return errors.New("invalid StarkNet deposit owner: exceeds felt range")
	}
	return nil
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && (s[:2] == "0x" || s[:2] == "0X") {
		return s[2:]
	}
	return s
}
