// Package sei is the chain adapter for Sei. The L2 is EVM-compatible:
// deposits arrive through the reveal endpoint, settle on L1 through the
// shared core, and complete by submitting the Wormhole VAA to the token
// bridge deployed on Sei itself.
package sei

import (
	"context"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/keep-network/tbtc-relayer/config/params"
	"github.com/keep-network/tbtc-relayer/encoding/bytesutil"
	"github.com/keep-network/tbtc-relayer/relayer/chains"
	"github.com/keep-network/tbtc-relayer/relayer/chains/l1"
	"github.com/keep-network/tbtc-relayer/relayer/db"
	"github.com/keep-network/tbtc-relayer/relayer/types"
	"github.com/keep-network/tbtc-relayer/relayer/wormhole"
)

// Handler bridges deposits destined for Sei.
type Handler struct {
	cfg   *params.ChainConfig
	store db.Database
	core  *l1.Core
	l1ctx *l1.Context
	log   *logrus.Entry
	retry time.Duration

	l2         *ethclient.Client
	l2bridge   *bind.BoundContract
	l2bridgeAt common.Address
	transactor *bind.TransactOpts
	vaas       *wormhole.Service
}

// New builds a Sei handler for one chain configuration.
func New(cfg *params.ChainConfig, store db.Database, retry time.Duration) *Handler {
	return &Handler{
		cfg:   cfg,
		store: store,
		retry: retry,
		log:   logrus.WithField("prefix", "sei").WithField("chain", cfg.ChainName),
	}
}

// ChainName implements chains.Handler.
func (h *Handler) ChainName() string { return h.cfg.ChainName }

// SupportsPastDepositCheck implements chains.Handler. Sei deposits come
// through the endpoint; there is no L2 depositor contract to scan.
func (h *Handler) SupportsPastDepositCheck() bool { return false }

// Initialize dials the L1 and Sei EVM RPCs and wires the state machine
// core with the Wormhole leg.
func (h *Handler) Initialize(ctx context.Context) error {
	l1ctx, err := l1.NewContext(ctx, h.cfg)
	if err != nil {
		return err
	}
	h.l1ctx = l1ctx
	h.core = l1.NewCore(l1.CoreConfig{
		ChainName:       h.cfg.ChainName,
		Store:           h.store,
		Backend:         l1ctx.Depositor,
		Waiter:          l1ctx,
		RetryInterval:   h.retry,
		WormholeBridged: true,
	})
	h.vaas = wormhole.NewService(l1ctx.Client, h.cfg)

	if h.cfg.L2Rpc == "" {
		return nil
	}
	if h.l2, err = ethclient.DialContext(ctx, h.cfg.L2Rpc); err != nil {
		return errors.Wrapf(err, "could not dial Sei RPC %s", h.cfg.L2Rpc)
	}
	l2ChainID, err := h.l2.ChainID(ctx)
	if err != nil {
		return errors.Wrap(err, "could not fetch Sei chain id")
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(h.cfg.PrivateKey, "0x"))
	if err != nil {
		return errors.New("invalid Sei private key")
	}
	if h.transactor, err = bind.NewKeyedTransactorWithChainID(key, l2ChainID); err != nil {
		return errors.Wrap(err, "could not build Sei transactor")
	}
	h.l2bridgeAt = common.HexToAddress(h.cfg.L2WormholeGateway)
	h.l2bridge = bind.NewBoundContract(h.l2bridgeAt, wormhole.TokenBridgeABI(), h.l2, h.l2, h.l2)
	return nil
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

// CheckForPastDeposits implements chains.Handler as a no-op.
func (h *Handler) CheckForPastDeposits(ctx context.Context, opts chains.PastDepositOptions) error {
	return nil
}

// LatestBlock implements chains.Handler against the Sei EVM head.
func (h *Handler) LatestBlock(ctx context.Context) (uint64, error) {
	if h.l2 == nil {
		return h.l1ctx.Client.BlockNumber(ctx)
	}
	return h.l2.BlockNumber(ctx)
}

// AcceptReveal implements chains.RevealIntake. Sei owners are EVM
// addresses.
func (h *Handler) AcceptReveal(ctx context.Context, req *types.L1OutputEvent) (*chains.RevealResult, error) {
	if _, err := bytesutil.DecodeHexWithLength(req.L2DepositOwner, 20); err != nil {
		return nil, chains.NewValidationError(errors.Wrap(err, "invalid Sei deposit owner"))
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

// ProcessWormholeBridging implements chains.WormholeBridger: fetch the
// signed VAA for every awaiting deposit and redeem it on the Sei token
// bridge. Already-completed transfers are detected and marked without a
// second submission.
func (h *Handler) ProcessWormholeBridging(ctx context.Context) error {
	deposits, err := h.store.DepositsByStatus(ctx, types.StatusAwaitingWormholeVAA, h.cfg.ChainName)
	if err != nil {
		return errors.Wrap(err, "could not list deposits awaiting VAA")
	}
	for _, stale := range h.core.FilterDepositsActivityTime(deposits) {
		deposit, err := h.store.Deposit(ctx, stale.ID)
		if err != nil {
			continue
		}
		if deposit.Status != types.StatusAwaitingWormholeVAA {
			continue
		}
		if err := h.bridgeDeposit(ctx, deposit); err != nil {
			h.log.WithError(err).WithField("depositId", deposit.ID).Warn("Bridging attempt failed")
		}
	}
	return nil
}

func (h *Handler) bridgeDeposit(ctx context.Context, deposit *types.Deposit) error {
	sequence, err := h.transferSequence(ctx, deposit)
	if err != nil {
		h.core.RecordDepositError(ctx, deposit, err)
		return err
	}
	vaaBytes, err := h.vaas.FetchSignedVAA(ctx, sequence)
	if err != nil {
		if errors.Is(err, wormhole.ErrVAANotFound) {
			return h.store.UpdateDeposit(ctx, deposit)
		}
		h.core.RecordDepositError(ctx, deposit, err)
		return err
	}

	completed, err := wormhole.IsTransferCompleted(ctx, h.l2, h.l2bridgeAt, vaaBytes)
	if err != nil {
		h.core.RecordDepositError(ctx, deposit, err)
		return err
	}
	if completed {
		// Redeemed out of band; the completing transaction hash is not
		// recoverable here.
		return h.core.MarkBridged(ctx, deposit, func(hashes *types.TxHashes) {})
	}

	deposit.Wormhole.BridgingAttempted = true
	if err := h.store.UpdateDeposit(ctx, deposit); err != nil {
		return err
	}

	opts := *h.transactor
	opts.Context = ctx
	tx, err := h.l2bridge.Transact(&opts, "completeTransferWithPayload", vaaBytes)
	if err != nil {
		h.core.RecordDepositError(ctx, deposit, err)
		return errors.Wrap(err, "could not submit completeTransferWithPayload")
	}
	receipt, err := bind.WaitMined(ctx, h.l2, tx)
	if err != nil {
		h.core.RecordDepositError(ctx, deposit, err)
		return errors.Wrap(err, "completion transaction not mined")
	}
	if receipt.Status != gethtypes.ReceiptStatusSuccessful {
		err := errors.Errorf("completion transaction %s reverted", tx.Hash().Hex())
		h.core.RecordDepositError(ctx, deposit, err)
		return err
	}
	return h.core.MarkBridged(ctx, deposit, func(hashes *types.TxHashes) {
		hashes.Sei.L2BridgeTxHash = tx.Hash().Hex()
	})
}

func (h *Handler) transferSequence(ctx context.Context, deposit *types.Deposit) (uint64, error) {
	if deposit.Wormhole.TransferSequence != "" {
		return strconv.ParseUint(deposit.Wormhole.TransferSequence, 10, 64)
	}
	txHash := deposit.Wormhole.TxHash
	if txHash == "" {
		txHash = deposit.Hashes.Eth.FinalizeTxHash
	}
	if txHash == "" {
		return 0, errors.New("deposit carries no finalize transaction hash")
	}
	sequence, found, err := h.vaas.TransferSequence(ctx, txHash)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, errors.New("finalize receipt carries no token bridge message")
	}
	deposit.Wormhole.TransferSequence = strconv.FormatUint(sequence, 10)
	if err := h.store.UpdateDeposit(ctx, deposit); err != nil {
		return 0, err
	}
	return sequence, nil
}
