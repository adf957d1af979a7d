// Package solana is the chain adapter for Solana. The chain runs in
// endpoint-only mode: deposits arrive through the reveal endpoint, the
// L1 finalize transaction hands the tBTC to the Wormhole token bridge,
// and dedicated off-chain infrastructure completes the Solana leg.
package solana

import (
	"context"
	"math/big"
	"time"

	gethtypes "github.com/ethereum/go-ethereum/core/types"
	solanago "github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/keep-network/tbtc-relayer/config/params"
	"github.com/keep-network/tbtc-relayer/encoding/bytesutil"
	"github.com/keep-network/tbtc-relayer/relayer/chains"
	"github.com/keep-network/tbtc-relayer/relayer/chains/l1"
	"github.com/keep-network/tbtc-relayer/relayer/db"
	"github.com/keep-network/tbtc-relayer/relayer/types"
)

// Handler bridges deposits destined for Solana.
type Handler struct {
	cfg   *params.ChainConfig
	store db.Database
	core  *l1.Core
	l1ctx *l1.Context
	log   *logrus.Entry
	retry time.Duration

	rpc        *solanarpc.Client
	commitment solanarpc.CommitmentType
}

// New builds a Solana handler for one chain configuration.
func New(cfg *params.ChainConfig, store db.Database, retry time.Duration) *Handler {
	commitment := solanarpc.CommitmentFinalized
	if cfg.SolanaCommitment != "" {
		commitment = solanarpc.CommitmentType(cfg.SolanaCommitment)
	}
	return &Handler{
		cfg:        cfg,
		store:      store,
		retry:      retry,
		commitment: commitment,
		log:        logrus.WithField("prefix", "solana").WithField("chain", cfg.ChainName),
	}
}

// ChainName implements chains.Handler.
func (h *Handler) ChainName() string { return h.cfg.ChainName }

// SupportsPastDepositCheck implements chains.Handler. Endpoint-only
// chains never scan history.
func (h *Handler) SupportsPastDepositCheck() bool { return false }

// Initialize dials the L1 RPC and the Solana JSON-RPC endpoint.
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
	if h.cfg.L2Rpc != "" {
		h.rpc = solanarpc.New(h.cfg.L2Rpc)
	}
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

// LatestBlock implements chains.Handler against the Solana slot height.
func (h *Handler) LatestBlock(ctx context.Context) (uint64, error) {
	if h.rpc == nil {
		return h.l1ctx.Client.BlockNumber(ctx)
	}
	return h.rpc.GetSlot(ctx, h.commitment)
}

// AcceptReveal implements chains.RevealIntake. Solana owners arrive as
// base58 public keys or 32-byte hex and are canonicalized to hex before
// queuing so the L1 owner argument packs uniformly.
func (h *Handler) AcceptReveal(ctx context.Context, req *types.L1OutputEvent) (*chains.RevealResult, error) {
	owner, err := canonicalOwner(req.L2DepositOwner)
	if err != nil {
		return nil, chains.NewValidationError(err)
	}
	req.L2DepositOwner = owner

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

// canonicalOwner normalizes a Solana deposit owner to 0x-prefixed hex.
func canonicalOwner(owner string) (string, error) {
	if bytesutil.IsHex(owner) {
		raw, err := bytesutil.DecodeHexWithLength(owner, 32)
		if err != nil {
			return "", errors.Wrap(err, "invalid Solana deposit owner")
		}
		return bytesutil.EncodeHex(raw), nil
	}
	key, err := solanago.PublicKeyFromBase58(owner)
	if err != nil {
		return "", errors.Wrap(err, "invalid Solana deposit owner")
	}
	return bytesutil.EncodeHex(key.Bytes()), nil
}
