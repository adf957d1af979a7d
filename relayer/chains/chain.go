// Package chains defines the chain handler abstraction: a common L1
// core drives the deposit state machine while per-L2 adapters supply
// event ingestion and the chain-specific bridging leg.
package chains

import (
	"context"

	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/keep-network/tbtc-relayer/relayer/types"
)

// PastDepositOptions parameterize a backfill pass over missed L2 events.
type PastDepositOptions struct {
	// PastTimeInMinutes is how far back the scan window reaches.
	PastTimeInMinutes uint
	// LatestBlock is the upper bound of the scan, in the chain's own
	// block coordinate (block number, slot or checkpoint sequence).
	LatestBlock uint64
	// BatchSize caps a single filter query; zero means the adapter's
	// default.
	BatchSize int
}

// Handler is the per-chain deposit state machine surface. One handler
// owns every deposit whose chainName matches it.
type Handler interface {
	// ChainName is the configuration key this handler serves.
	ChainName() string

	// Initialize opens RPC clients and instantiates contract handles.
	Initialize(ctx context.Context) error

	// SetupListeners attaches the L1 OptimisticMintingFinalized listener
	// and, outside endpoint-only mode, the chain's L2 event listeners.
	SetupListeners(ctx context.Context) error

	// InitializeDeposit submits the L1 initializeDeposit transaction for
	// a queued deposit. A nil receipt with nil error means the call was
	// skipped (for example after a reconciliation jump).
	InitializeDeposit(ctx context.Context, deposit *types.Deposit) (*gethtypes.Receipt, error)

	// FinalizeDeposit submits the L1 finalizeDeposit transaction for an
	// initialized deposit.
	FinalizeDeposit(ctx context.Context, deposit *types.Deposit) (*gethtypes.Receipt, error)

	// CheckDepositStatus queries on-chain truth for a deposit id.
	// ErrStatusUnavailable is returned for contract variants whose state
	// space this relayer does not recognize.
	CheckDepositStatus(ctx context.Context, depositID string) (types.DepositStatus, error)

	// ProcessInitializeDeposits is the reconciler hook for QUEUED
	// records.
	ProcessInitializeDeposits(ctx context.Context) error

	// ProcessFinalizeDeposits is the reconciler hook for INITIALIZED
	// records.
	ProcessFinalizeDeposits(ctx context.Context) error

	// CheckForPastDeposits backfills L2 events missed while offline.
	CheckForPastDeposits(ctx context.Context, opts PastDepositOptions) error

	// LatestBlock returns the chain's current block coordinate.
	LatestBlock(ctx context.Context) (uint64, error)

	// SupportsPastDepositCheck reports whether L2 scanning is configured.
	SupportsPastDepositCheck() bool
}

// WormholeBridger is the optional capability of chains whose L2 leg is
// driven by Wormhole VAAs (Sui, Sei). It is a separate interface rather
// than a base-class hook; the reconciler dispatches on it via the
// registry.
type WormholeBridger interface {
	// ProcessWormholeBridging advances AWAITING_WORMHOLE_VAA deposits:
	// fetch the VAA for the finalize transaction and submit the L2
	// redeem consuming it.
	ProcessWormholeBridging(ctx context.Context) error
}

// RevealIntake is the optional capability of handlers accepting deposits
// through the reveal endpoint.
type RevealIntake interface {
	// AcceptReveal validates externally submitted reveal data, creates
	// the deposit idempotently and initializes it inline.
	AcceptReveal(ctx context.Context, req *types.L1OutputEvent) (*RevealResult, error)
}

// RevealResult is the reveal endpoint outcome.
type RevealResult struct {
	DepositID string
	Existing  bool
	Receipt   *gethtypes.Receipt
}
