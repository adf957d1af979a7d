package l1

import (
	"context"
	"fmt"
	"math/big"
	"time"

	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"

	"github.com/keep-network/tbtc-relayer/relayer/chains"
	"github.com/keep-network/tbtc-relayer/relayer/db"
	"github.com/keep-network/tbtc-relayer/relayer/types"
)

var (
	depositsInitializedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relayer_deposits_initialized_total",
		Help: "Deposits whose L1 initializeDeposit transaction confirmed.",
	}, []string{"chain"})
	depositsFinalizedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relayer_deposits_finalized_total",
		Help: "Deposits whose L1 finalizeDeposit transaction confirmed.",
	}, []string{"chain"})
	depositErrorsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relayer_deposit_errors_total",
		Help: "Errors classified onto deposit records.",
	}, []string{"chain"})
)

// DepositorBackend is the slice of the L1 depositor contract the state
// machine drives. *Depositor satisfies it; tests substitute fakes.
type DepositorBackend interface {
	InitializeDeposit(ctx context.Context, deposit *types.Deposit) (*gethtypes.Transaction, error)
	FinalizeDeposit(ctx context.Context, depositID string, fee *big.Int) (*gethtypes.Transaction, error)
	QuoteFinalizeDeposit(ctx context.Context) (*big.Int, error)
	DepositState(ctx context.Context, depositID string) (uint8, error)
	ParseTransferSequence(receipt *gethtypes.Receipt, depositID string) (uint64, bool, error)
}

// ReceiptWaiter waits for a submitted transaction to confirm.
type ReceiptWaiter interface {
	WaitMined(ctx context.Context, tx *gethtypes.Transaction) (*gethtypes.Receipt, error)
}

// Core is the deposit state machine shared by every chain handler. The
// store is the only source of truth: every operation re-fetches its
// record by id before acting so event-driven updates are never raced.
type Core struct {
	chainName string
	store     db.Database
	backend   DepositorBackend
	waiter    ReceiptWaiter
	retry     time.Duration
	log       *logrus.Entry

	// feeQuoter overrides the finalization fee source. StarkNet prefers
	// the dynamic quote and falls back to the configured static fee.
	feeQuoter func(ctx context.Context) (*big.Int, error)

	// wormholeBridged marks chains whose L2 leg waits for a Wormhole
	// VAA after finalization (Sui, Sei).
	wormholeBridged bool
}

// CoreConfig carries the Core's collaborators.
type CoreConfig struct {
	ChainName       string
	Store           db.Database
	Backend         DepositorBackend
	Waiter          ReceiptWaiter
	RetryInterval   time.Duration
	FeeQuoter       func(ctx context.Context) (*big.Int, error)
	WormholeBridged bool
}

// NewCore builds a state machine core for one chain.
func NewCore(cfg CoreConfig) *Core {
	retry := cfg.RetryInterval
	if retry == 0 {
		retry = 5 * time.Minute
	}
	return &Core{
		chainName:       cfg.ChainName,
		store:           cfg.Store,
		backend:         cfg.Backend,
		waiter:          cfg.Waiter,
		retry:           retry,
		feeQuoter:       cfg.FeeQuoter,
		wormholeBridged: cfg.WormholeBridged,
		log:             logrus.WithField("prefix", "handler").WithField("chain", cfg.ChainName),
	}
}

// ChainName this core serves.
func (c *Core) ChainName() string { return c.chainName }

// Store exposes the operation store to adapters.
func (c *Core) Store() db.Database { return c.store }

// RetryInterval is the process-wide minimum delay between attempts on
// the same record.
func (c *Core) RetryInterval() time.Duration { return c.retry }

// CreateDeposit builds and persists a QUEUED deposit from reveal data or
// an observed L2 event. The second return reports whether the id was
// already present; duplicate observation is not an error.
func (c *Core) CreateDeposit(ctx context.Context, event *types.L1OutputEvent) (*types.Deposit, bool, error) {
	fundingTxHash, err := types.FundingTxHash(event.FundingTx)
	if err != nil {
		return nil, false, err
	}
	id := types.CalculateDepositID(fundingTxHash, event.Reveal.FundingOutputIndex)

	if existing, err := c.store.Deposit(ctx, id); err == nil {
		return existing, true, nil
	} else if !errors.Is(err, db.ErrNotFound) {
		return nil, false, err
	}

	now := types.NowMs()
	deposit := &types.Deposit{
		ID:            id,
		ChainName:     c.chainName,
		FundingTxHash: fmt.Sprintf("%x", fundingTxHash),
		OutputIndex:   event.Reveal.FundingOutputIndex,
		Receipt: types.DepositReceipt{
			Depositor:           event.L2Sender,
			BlindingFactor:      event.Reveal.BlindingFactor,
			WalletPublicKeyHash: event.Reveal.WalletPublicKeyHash,
			RefundPublicKeyHash: event.Reveal.RefundPublicKeyHash,
			RefundLocktime:      event.Reveal.RefundLocktime,
		},
		L1OutputEvent: *event,
		Owner:         event.L2DepositOwner,
		Status:        types.StatusQueued,
		// lastActivityAt stays unset: a fresh QUEUED record is eligible
		// for the very next initialize sweep.
		Dates: types.DepositDates{CreatedAt: now},
	}
	if err := c.store.SaveDeposit(ctx, deposit); err != nil {
		if errors.Is(err, db.ErrAlreadyExists) {
			existing, getErr := c.store.Deposit(ctx, id)
			if getErr != nil {
				return nil, false, getErr
			}
			return existing, true, nil
		}
		return nil, false, err
	}
	c.audit(ctx, types.AuditDepositCreated, deposit.ID, 0, nil)
	c.log.WithField("depositId", deposit.ID).Info("Deposit queued")
	return deposit, false, nil
}

// InitializeDeposit runs the pre-check, submission and confirmation wait
// for the L1 initializeDeposit call, advancing the record to
// INITIALIZED on success.
func (c *Core) InitializeDeposit(ctx context.Context, deposit *types.Deposit) (*gethtypes.Receipt, error) {
	tx, err := c.backend.InitializeDeposit(ctx, deposit)
	if err != nil {
		c.RecordDepositError(ctx, deposit, err)
		return nil, err
	}

	// The hash is persisted before waiting so a crash mid-wait leaves a
	// resumable trail.
	deposit.Hashes.Eth.InitializeTxHash = tx.Hash().Hex()
	if err := c.store.UpdateDeposit(ctx, deposit); err != nil {
		return nil, err
	}

	receipt, err := c.waiter.WaitMined(ctx, tx)
	if err != nil {
		c.RecordDepositError(ctx, deposit, err)
		return nil, err
	}

	deposit.Status = types.StatusInitialized
	deposit.Dates.InitializationAt = types.NowMs()
	deposit.Error = ""
	if err := c.store.UpdateDeposit(ctx, deposit); err != nil {
		return nil, err
	}
	c.audit(ctx, types.AuditStatusChanged, deposit.ID, 0, map[string]string{
		"status": deposit.Status.String(),
		"txHash": deposit.Hashes.Eth.InitializeTxHash,
	})
	depositsInitializedCounter.WithLabelValues(c.chainName).Inc()
	c.log.WithField("depositId", deposit.ID).Info("Deposit initialized")
	return receipt, nil
}

// FinalizeDeposit runs the pre-check, submission and confirmation wait
// for the L1 finalizeDeposit call. A bridge-waiting revert bumps
// activity without marking an error; on success the record advances to
// FINALIZED, or straight to AWAITING_WORMHOLE_VAA on Wormhole-bridged
// chains once the transfer sequence is extracted.
func (c *Core) FinalizeDeposit(ctx context.Context, deposit *types.Deposit) (*gethtypes.Receipt, error) {
	fee, err := c.finalizeFee(ctx)
	if err != nil {
		c.RecordDepositError(ctx, deposit, err)
		return nil, err
	}

	tx, err := c.backend.FinalizeDeposit(ctx, deposit.ID, fee)
	if err != nil {
		if chains.IsBridgeWaiting(err) {
			// Not an error: the tBTC bridge has not finalized yet. The
			// update bumps lastActivityAt, deferring the next attempt.
			c.log.WithField("depositId", deposit.ID).Debug("Bridge has not finalized deposit yet")
			if updateErr := c.store.UpdateDeposit(ctx, deposit); updateErr != nil {
				return nil, updateErr
			}
			return nil, nil
		}
		c.RecordDepositError(ctx, deposit, err)
		return nil, err
	}

	deposit.Hashes.Eth.FinalizeTxHash = tx.Hash().Hex()
	if err := c.store.UpdateDeposit(ctx, deposit); err != nil {
		return nil, err
	}

	receipt, err := c.waiter.WaitMined(ctx, tx)
	if err != nil {
		c.RecordDepositError(ctx, deposit, err)
		return nil, err
	}

	now := types.NowMs()
	deposit.Status = types.StatusFinalized
	deposit.Dates.FinalizationAt = now
	deposit.Error = ""

	if c.wormholeBridged {
		sequence, found, seqErr := c.backend.ParseTransferSequence(receipt, deposit.ID)
		if seqErr != nil {
			c.log.WithError(seqErr).WithField("depositId", deposit.ID).
				Error("Could not extract transfer sequence from finalize receipt")
		} else if found {
			deposit.Status = types.StatusAwaitingWormholeVAA
			deposit.Wormhole.TxHash = deposit.Hashes.Eth.FinalizeTxHash
			deposit.Wormhole.TransferSequence = fmt.Sprintf("%d", sequence)
			deposit.Dates.AwaitingWormholeVAASince = now
		}
	}

	if err := c.store.UpdateDeposit(ctx, deposit); err != nil {
		return nil, err
	}
	c.audit(ctx, types.AuditStatusChanged, deposit.ID, 0, map[string]string{
		"status": deposit.Status.String(),
		"txHash": deposit.Hashes.Eth.FinalizeTxHash,
	})
	depositsFinalizedCounter.WithLabelValues(c.chainName).Inc()
	c.log.WithField("depositId", deposit.ID).Info("Deposit finalized")
	return receipt, nil
}

// CheckDepositStatus queries on-chain truth. Raw values outside the
// known state space surface as ErrStatusUnavailable.
func (c *Core) CheckDepositStatus(ctx context.Context, depositID string) (types.DepositStatus, error) {
	raw, err := c.backend.DepositState(ctx, depositID)
	if err != nil {
		return 0, err
	}
	if !types.KnownDepositStatus(raw) {
		return 0, chains.ErrStatusUnavailable
	}
	return types.DepositStatus(raw), nil
}

// ProcessInitializeDeposits sweeps QUEUED records: reconcile against
// chain truth, then attempt initialization for records past the retry
// interval. Per-record failures are recorded and swallowed so the rest
// of the sweep proceeds.
func (c *Core) ProcessInitializeDeposits(ctx context.Context) error {
	deposits, err := c.store.DepositsByStatus(ctx, types.StatusQueued, c.chainName)
	if err != nil {
		return errors.Wrap(err, "could not list queued deposits")
	}
	for _, stale := range c.FilterDepositsActivityTime(deposits) {
		deposit, err := c.store.Deposit(ctx, stale.ID)
		if err != nil {
			continue
		}
		if deposit.Status != types.StatusQueued {
			continue
		}
		if c.reconcileAgainstChain(ctx, deposit) {
			continue
		}
		if _, err := c.InitializeDeposit(ctx, deposit); err != nil {
			c.log.WithError(err).WithField("depositId", deposit.ID).Warn("Initialize attempt failed")
		}
	}
	return nil
}

// ProcessFinalizeDeposits sweeps INITIALIZED records the same way.
func (c *Core) ProcessFinalizeDeposits(ctx context.Context) error {
	deposits, err := c.store.DepositsByStatus(ctx, types.StatusInitialized, c.chainName)
	if err != nil {
		return errors.Wrap(err, "could not list initialized deposits")
	}
	for _, stale := range c.FilterDepositsActivityTime(deposits) {
		deposit, err := c.store.Deposit(ctx, stale.ID)
		if err != nil {
			continue
		}
		if deposit.Status != types.StatusInitialized {
			continue
		}
		if c.reconcileAgainstChain(ctx, deposit) {
			continue
		}
		if _, err := c.FinalizeDeposit(ctx, deposit); err != nil {
			c.log.WithError(err).WithField("depositId", deposit.ID).Warn("Finalize attempt failed")
		}
	}
	return nil
}

// OnOptimisticMintingFinalized reacts to the L1 vault event: when the
// depositKey matches an INITIALIZED record, finalization is attempted
// immediately instead of waiting for the next sweep.
func (c *Core) OnOptimisticMintingFinalized(ctx context.Context, depositKey *big.Int) {
	id := depositKey.String()
	deposit, err := c.store.Deposit(ctx, id)
	if err != nil {
		return
	}
	if deposit.Status != types.StatusInitialized {
		return
	}
	if _, err := c.FinalizeDeposit(ctx, deposit); err != nil {
		c.log.WithError(err).WithField("depositId", id).Warn("Event-driven finalize failed")
	}
}

// FilterDepositsActivityTime keeps records whose last activity is unset
// or older than the retry interval.
func (c *Core) FilterDepositsActivityTime(deposits []*types.Deposit) []*types.Deposit {
	var eligible []*types.Deposit
	for _, d := range deposits {
		if d.ActivityOlderThan(c.retry) {
			eligible = append(eligible, d)
		}
	}
	return eligible
}

// reconcileAgainstChain advances the local record when the chain reports
// a later state, returning true when a jump happened so the caller skips
// its own submission. The local status never regresses.
func (c *Core) reconcileAgainstChain(ctx context.Context, deposit *types.Deposit) bool {
	chainStatus, err := c.CheckDepositStatus(ctx, deposit.ID)
	if err != nil {
		// Status unavailable or RPC trouble: proceed on local state.
		return false
	}
	if chainStatus <= deposit.Status {
		return false
	}
	previous := deposit.Status
	deposit.Status = chainStatus
	deposit.StatusMessage = fmt.Sprintf(
		"status advanced from %s to %s by on-chain reconciliation", previous, chainStatus,
	)
	switch chainStatus {
	case types.StatusInitialized:
		deposit.Dates.InitializationAt = types.NowMs()
	case types.StatusFinalized:
		deposit.Dates.FinalizationAt = types.NowMs()
	case types.StatusBridged:
		deposit.Dates.BridgedAt = types.NowMs()
	}
	if err := c.store.UpdateDeposit(ctx, deposit); err != nil {
		c.log.WithError(err).WithField("depositId", deposit.ID).Error("Could not persist reconciliation jump")
		return false
	}
	c.audit(ctx, types.AuditReconciliationJump, deposit.ID, chains.CodeReconciliationJump, map[string]string{
		"from": previous.String(),
		"to":   chainStatus.String(),
	})
	c.log.WithFields(logrus.Fields{
		"depositId": deposit.ID,
		"from":      previous.String(),
		"to":        chainStatus.String(),
	}).Info("Reconciled deposit against on-chain state")
	return true
}

// RecordDepositError classifies err onto the record. Bridge-waiting
// conditions only bump activity; everything else lands in the record's
// error field and the audit log.
func (c *Core) RecordDepositError(ctx context.Context, deposit *types.Deposit, err error) {
	code := chains.Classify(err)
	if code == chains.CodeBridgeWaiting {
		if updateErr := c.store.UpdateDeposit(ctx, deposit); updateErr != nil {
			c.log.WithError(updateErr).Error("Could not bump deposit activity")
		}
		return
	}
	deposit.Error = err.Error()
	if updateErr := c.store.UpdateDeposit(ctx, deposit); updateErr != nil {
		c.log.WithError(updateErr).Error("Could not persist deposit error")
	}
	c.audit(ctx, types.AuditErrorRecorded, deposit.ID, code, map[string]string{"error": err.Error()})
	depositErrorsCounter.WithLabelValues(c.chainName).Inc()
}

// MarkBridged moves a deposit to its terminal state once the destination
// chain confirmed receipt. setHash stamps the chain-specific
// confirmation field.
func (c *Core) MarkBridged(ctx context.Context, deposit *types.Deposit, setHash func(*types.TxHashes)) error {
	setHash(&deposit.Hashes)
	deposit.Status = types.StatusBridged
	deposit.Dates.BridgedAt = types.NowMs()
	deposit.Error = ""
	if err := c.store.UpdateDeposit(ctx, deposit); err != nil {
		return err
	}
	c.audit(ctx, types.AuditStatusChanged, deposit.ID, 0, map[string]string{
		"status": types.StatusBridged.String(),
	})
	c.log.WithField("depositId", deposit.ID).Info("Deposit bridged")
	return nil
}

func (c *Core) finalizeFee(ctx context.Context) (*big.Int, error) {
	if c.feeQuoter != nil {
		return c.feeQuoter(ctx)
	}
	return c.backend.QuoteFinalizeDeposit(ctx)
}

func (c *Core) audit(ctx context.Context, eventType types.AuditEventType, depositID string, code chains.ErrorCode, data map[string]string) {
	entry := &types.AuditEntry{
		EventType: eventType,
		DepositID: depositID,
		ChainName: c.chainName,
		ErrorCode: int32(code),
		Data:      data,
	}
	if err := c.store.AppendAuditEntry(ctx, entry); err != nil {
		c.log.WithError(err).Warn("Could not append audit entry")
	}
}
