package kv

import (
	"context"
	"time"

	"github.com/keep-network/tbtc-relayer/config/params"
	"github.com/keep-network/tbtc-relayer/relayer/types"
)

// CleanupAgedDeposits removes deposits that sat in a sweep-eligible
// state longer than the configured retention: QUEUED by createdAt,
// FINALIZED by finalizationAt, BRIDGED by bridgedAt. Records with a
// missing governing timestamp are skipped, and a per-record delete
// failure is logged without aborting the sweep. Returns the number of
// records removed.
func (s *Store) CleanupAgedDeposits(ctx context.Context, times params.CleanupTimes) (int, error) {
	sweeps := []struct {
		status    types.DepositStatus
		retention time.Duration
		timestamp func(*types.Deposit) int64
	}{
		{types.StatusQueued, time.Duration(times.Queued) * time.Hour, func(d *types.Deposit) int64 { return d.Dates.CreatedAt }},
		{types.StatusFinalized, time.Duration(times.Finalized) * time.Hour, func(d *types.Deposit) int64 { return d.Dates.FinalizationAt }},
		{types.StatusBridged, time.Duration(times.Bridged) * time.Hour, func(d *types.Deposit) int64 { return d.Dates.BridgedAt }},
	}

	removed := 0
	for _, sweep := range sweeps {
		deposits, err := s.DepositsByStatus(ctx, sweep.status, "")
		if err != nil {
			return removed, err
		}
		cutoff := time.Now().Add(-sweep.retention).UnixMilli()
		for _, d := range deposits {
			ts := sweep.timestamp(d)
			if ts == 0 || ts > cutoff {
				continue
			}
			if err := s.DeleteDeposit(ctx, d.ID); err != nil {
				log.WithError(err).WithField("depositId", d.ID).Error("Could not delete aged deposit")
				continue
			}
			if err := s.AppendAuditEntry(ctx, &types.AuditEntry{
				EventType: types.AuditRecordDeleted,
				DepositID: d.ID,
				ChainName: d.ChainName,
				Data:      map[string]string{"status": d.Status.String()},
			}); err != nil {
				log.WithError(err).Warn("Could not audit cleanup deletion")
			}
			recordsCleanedCounter.Inc()
			removed++
		}
	}
	return removed, nil
}
