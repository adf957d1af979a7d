// Package db defines the operation store contract. The store is the
// only source of truth for deposit and redemption lifecycle state;
// handlers re-read records through it instead of caching across
// suspension points.
package db

import (
	"context"
	"io"

	"github.com/pkg/errors"

	"github.com/keep-network/tbtc-relayer/relayer/types"
)

// ErrAlreadyExists is returned when creating a record whose id is
// already present.
var ErrAlreadyExists = errors.New("record already exists")

// ErrNotFound is returned when a record id is unknown.
var ErrNotFound = errors.New("record not found")

// DepositStore manages deposit records.
type DepositStore interface {
	SaveDeposit(ctx context.Context, d *types.Deposit) error
	Deposit(ctx context.Context, id string) (*types.Deposit, error)
	DepositsByStatus(ctx context.Context, status types.DepositStatus, chainName string) ([]*types.Deposit, error)
	DepositsByChain(ctx context.Context, chainName string) ([]*types.Deposit, error)
	UpdateDeposit(ctx context.Context, d *types.Deposit) error
	DeleteDeposit(ctx context.Context, id string) error
}

// RedemptionStore manages redemption records.
type RedemptionStore interface {
	SaveRedemption(ctx context.Context, r *types.Redemption) error
	Redemption(ctx context.Context, id string) (*types.Redemption, error)
	RedemptionsByStatus(ctx context.Context, status types.RedemptionStatus, chainName string) ([]*types.Redemption, error)
	UpdateRedemption(ctx context.Context, r *types.Redemption) error
	DeleteRedemption(ctx context.Context, id string) error
}

// AuditStore manages the append-only audit log.
type AuditStore interface {
	AppendAuditEntry(ctx context.Context, entry *types.AuditEntry) error
	AuditEntries(ctx context.Context) ([]*types.AuditEntry, error)
	AuditEntriesByDeposit(ctx context.Context, depositID string) ([]*types.AuditEntry, error)
}

// Database is the full operation store surface.
type Database interface {
	io.Closer
	DepositStore
	RedemptionStore
	AuditStore
	DatabasePath() string
	ClearDB() error
}
