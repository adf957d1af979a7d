// Package sui is the chain adapter for Sui. Deposits are observed from
// the BitcoinDepositor Move events, settle on L1 through the shared
// core, and complete by redeeming the Wormhole VAA against the Sui
// gateway.
package sui

import (
	"context"
	"math/big"
	"strconv"
	"time"

	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/block-vision/sui-go-sdk/models"
	suisdk "github.com/block-vision/sui-go-sdk/sui"
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

// eventPollInterval paces the Move event poll loop; Sui has no push
// subscriptions over plain JSON-RPC.
const eventPollInterval = 15 * time.Second

// Handler bridges deposits destined for Sui.
type Handler struct {
	cfg   *params.ChainConfig
	store db.Database
	core  *l1.Core
	l1ctx *l1.Context
	log   *logrus.Entry
	retry time.Duration

	client   suisdk.ISuiAPI
	signer   *moveSigner
	vaas     *wormhole.Service
	eventTyp string

	cursor *models.EventId
}

// New builds a Sui handler for one chain configuration.
func New(cfg *params.ChainConfig, store db.Database, retry time.Duration) *Handler {
	return &Handler{
		cfg:      cfg,
		store:    store,
		retry:    retry,
		eventTyp: cfg.L2ContractAddress + "::bitcoin_depositor::DepositInitialized",
		log:      logrus.WithField("prefix", "sui").WithField("chain", cfg.ChainName),
	}
}

// ChainName implements chains.Handler.
func (h *Handler) ChainName() string { return h.cfg.ChainName }

// SupportsPastDepositCheck implements chains.Handler.
func (h *Handler) SupportsPastDepositCheck() bool { return h.cfg.SupportsPastDepositCheck() }

// Initialize dials the L1 RPC and the Sui JSON-RPC endpoint, loads the
// Move signer and wires the state machine core with the Wormhole leg.
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

	if h.cfg.L2Rpc != "" {
		h.client = suisdk.NewSuiClient(h.cfg.L2Rpc)
	}
	if h.cfg.SuiPrivateKey != "" {
		if h.signer, err = newMoveSigner(h.cfg.SuiPrivateKey); err != nil {
			return errors.Wrap(err, "could not load Sui signer")
		}
	}
	return nil
}

// SetupListeners attaches the vault finalization listener and the Move
// event poll loop.
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

	if h.cfg.UseEndpoint || h.client == nil {
		return nil
	}
	if err := h.primeEventCursor(ctx); err != nil {
		h.log.WithError(err).Warn("Could not prime event cursor, polling from genesis")
	}
	go h.pollEvents(ctx)
	return nil
}

// primeEventCursor positions the poll cursor at the newest existing
// event so the live loop only sees deposits from startup onward; history
// belongs to the backfill job.
func (h *Handler) primeEventCursor(ctx context.Context) error {
	resp, err := h.client.SuiXQueryEvents(ctx, models.SuiXQueryEventsRequest{
		SuiEventFilter:  map[string]interface{}{"MoveEventType": h.eventTyp},
		Limit:           1,
		DescendingOrder: true,
	})
	if err != nil {
		return err
	}
	if len(resp.Data) > 0 {
		h.cursor = &resp.Data[0].Id
	}
	return nil
}

func (h *Handler) pollEvents(ctx context.Context) {
	ticker := time.NewTicker(eventPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := h.drainEvents(ctx); err != nil {
				h.log.WithError(err).Warn("Event poll failed")
			}
		}
	}
}

func (h *Handler) drainEvents(ctx context.Context) error {
	for {
		req := models.SuiXQueryEventsRequest{
			SuiEventFilter: map[string]interface{}{"MoveEventType": h.eventTyp},
			Limit:          50,
		}
		if h.cursor != nil {
			req.Cursor = *h.cursor
		}
		resp, err := h.client.SuiXQueryEvents(ctx, req)
		if err != nil {
			return err
		}
		for i := range resp.Data {
			h.onMoveEvent(ctx, &resp.Data[i])
		}
		if len(resp.Data) > 0 {
			h.cursor = &resp.Data[len(resp.Data)-1].Id
		}
		if !resp.HasNextPage {
			return nil
		}
	}
}

func (h *Handler) onMoveEvent(ctx context.Context, event *models.SuiEventResponse) {
	output, err := parseDepositInitialized(event)
	if err != nil {
		h.log.WithError(err).WithField("txDigest", event.Id.TxDigest).
			Warn("Could not parse DepositInitialized event")
		return
	}
	deposit, existing, err := h.core.CreateDeposit(ctx, output)
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

// CheckForPastDeposits implements chains.Handler: a bounded ascending
// walk over recent Move events, filtered by their timestamps.
func (h *Handler) CheckForPastDeposits(ctx context.Context, opts chains.PastDepositOptions) error {
	if !h.SupportsPastDepositCheck() || h.client == nil {
		return nil
	}
	windowStart := time.Now().Add(-time.Duration(opts.PastTimeInMinutes)*time.Minute).UnixMilli()

	var cursor *models.EventId
	created := 0
	for {
		req := models.SuiXQueryEventsRequest{
			SuiEventFilter:  map[string]interface{}{"MoveEventType": h.eventTyp},
			Limit:           50,
			DescendingOrder: true,
		}
		if cursor != nil {
			req.Cursor = *cursor
		}
		resp, err := h.client.SuiXQueryEvents(ctx, req)
		if err != nil {
			return errors.Wrap(err, "could not query past deposit events")
		}
		for i := range resp.Data {
			event := &resp.Data[i]
			ts, err := strconv.ParseInt(event.TimestampMs, 10, 64)
			if err == nil && ts < windowStart {
				// Descending order: everything past here is older than
				// the window.
				if created > 0 {
					h.log.WithField("count", created).Info("Backfilled missed deposits")
				}
				return nil
			}
			output, err := parseDepositInitialized(event)
			if err != nil {
				h.log.WithError(err).Warn("Skipping unparseable past deposit event")
				continue
			}
			_, existing, err := h.core.CreateDeposit(ctx, output)
			if err != nil {
				h.log.WithError(err).Warn("Could not queue past deposit")
				continue
			}
			if !existing {
				created++
			}
		}
		if !resp.HasNextPage || len(resp.Data) == 0 {
			break
		}
		cursor = &resp.Data[len(resp.Data)-1].Id
	}
	if created > 0 {
		h.log.WithField("count", created).Info("Backfilled missed deposits")
	}
	return nil
}

// LatestBlock implements chains.Handler against the latest checkpoint
// sequence number.
func (h *Handler) LatestBlock(ctx context.Context) (uint64, error) {
	if h.client == nil {
		return h.l1ctx.Client.BlockNumber(ctx)
	}
	return h.client.SuiGetLatestCheckpointSequenceNumber(ctx)
}

// AcceptReveal implements chains.RevealIntake for endpoint-configured
// Sui chains. Owners are 32-byte Sui addresses.
func (h *Handler) AcceptReveal(ctx context.Context, req *types.L1OutputEvent) (*chains.RevealResult, error) {
	if _, err := bytesutil.DecodeHexWithLength(req.L2DepositOwner, 32); err != nil {
		return nil, chains.NewValidationError(errors.Wrap(err, "invalid Sui deposit owner"))
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
