// Package reconciler schedules the periodic sweeps that drive stalled
// records forward: initialization, finalization, Wormhole bridging,
// redemption processing, past-deposit backfill and aged-record cleanup.
package reconciler

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"

	"github.com/keep-network/tbtc-relayer/async"
	"github.com/keep-network/tbtc-relayer/config/params"
	"github.com/keep-network/tbtc-relayer/relayer/chains"
	"github.com/keep-network/tbtc-relayer/relayer/db"
	"github.com/keep-network/tbtc-relayer/relayer/db/kv"
	"github.com/keep-network/tbtc-relayer/relayer/redemption"
)

var log = logrus.WithField("prefix", "reconciler")

var (
	jobRunsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relayer_reconciler_job_runs_total",
		Help: "Completed reconciler job runs.",
	}, []string{"job"})
	jobSkipsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relayer_reconciler_job_skips_total",
		Help: "Job ticks skipped because the previous run still held the lock.",
	}, []string{"job"})
	latestBlockGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "relayer_chain_latest_block",
		Help: "Latest observed block coordinate per chain.",
	}, []string{"chain"})
)

// Config carries the reconciler's collaborators.
type Config struct {
	Registry    *chains.Registry
	Store       db.Database
	Redemptions []*redemption.Service
	Global      *params.GlobalConfig
}

// Service runs the periodic jobs. It implements runtime.Service.
type Service struct {
	cfg    *Config
	ctx    context.Context
	cancel context.CancelFunc

	// One mutex per job family; an overlapping tick skips instead of
	// piling up behind a slow chain.
	initLock       sync.Mutex
	finalizeLock   sync.Mutex
	bridgingLock   sync.Mutex
	redemptionLock sync.Mutex
	pastLock       sync.Mutex
	cleanupLock    sync.Mutex
}

// New builds the reconciler service.
func New(ctx context.Context, cfg *Config) *Service {
	ctx, cancel := context.WithCancel(ctx)
	return &Service{cfg: cfg, ctx: ctx, cancel: cancel}
}

// Start schedules every job on its configured interval.
func (s *Service) Start() {
	global := s.cfg.Global
	async.RunEvery(s.ctx, global.ProcessInitializeInterval, s.runInitializeSweep)
	async.RunEvery(s.ctx, global.ProcessFinalizeInterval, s.runFinalizeSweep)
	async.RunEvery(s.ctx, global.ProcessBridgingInterval, s.runBridgingSweep)
	async.RunEvery(s.ctx, global.RedemptionInterval, s.runRedemptionSweep)
	async.RunEvery(s.ctx, global.PastDepositInterval, s.runPastDepositSweep)
	if global.EnableCleanup {
		async.RunEvery(s.ctx, global.CleanupInterval, s.runCleanup)
	}
	log.WithField("chains", s.cfg.Registry.Names()).Info("Reconciler started")
}

// Stop cancels the job contexts.
func (s *Service) Stop() error {
	s.cancel()
	return nil
}

// Status implements runtime.Service.
func (s *Service) Status() error {
	if s.ctx.Err() != nil {
		return errors.New("reconciler stopped")
	}
	return nil
}

// runLocked runs job under lock, skipping the tick when the previous
// run is still in flight.
func (s *Service) runLocked(name string, lock *sync.Mutex, job func()) {
	if !lock.TryLock() {
		jobSkipsCounter.WithLabelValues(name).Inc()
		log.WithField("job", name).Debug("Previous run still in flight, skipping tick")
		return
	}
	defer lock.Unlock()
	job()
	jobRunsCounter.WithLabelValues(name).Inc()
}

func (s *Service) runInitializeSweep() {
	s.runLocked("initialize", &s.initLock, func() {
		for _, handler := range s.cfg.Registry.Handlers() {
			if err := handler.ProcessInitializeDeposits(s.ctx); err != nil {
				log.WithError(err).WithField("chain", handler.ChainName()).
					Error("Initialize sweep failed")
			}
		}
	})
}

func (s *Service) runFinalizeSweep() {
	s.runLocked("finalize", &s.finalizeLock, func() {
		for _, handler := range s.cfg.Registry.Handlers() {
			if err := handler.ProcessFinalizeDeposits(s.ctx); err != nil {
				log.WithError(err).WithField("chain", handler.ChainName()).
					Error("Finalize sweep failed")
			}
		}
	})
}

func (s *Service) runBridgingSweep() {
	s.runLocked("bridging", &s.bridgingLock, func() {
		for _, bridger := range s.cfg.Registry.Bridgers() {
			if err := bridger.ProcessWormholeBridging(s.ctx); err != nil {
				log.WithError(err).Error("Bridging sweep failed")
			}
		}
	})
}

func (s *Service) runRedemptionSweep() {
	s.runLocked("redemption", &s.redemptionLock, func() {
		for _, svc := range s.cfg.Redemptions {
			if err := svc.ProcessPendingRedemptions(s.ctx); err != nil {
				log.WithError(err).Error("Pending redemption sweep failed")
			}
			if err := svc.ProcessVaaFetchedRedemptions(s.ctx); err != nil {
				log.WithError(err).Error("Fetched redemption sweep failed")
			}
		}
	})
}

func (s *Service) runPastDepositSweep() {
	s.runLocked("pastDeposits", &s.pastLock, func() {
		for _, handler := range s.cfg.Registry.PastCheckers() {
			latest, err := handler.LatestBlock(s.ctx)
			if err != nil {
				log.WithError(err).WithField("chain", handler.ChainName()).
					Error("Could not fetch latest block")
				continue
			}
			latestBlockGauge.WithLabelValues(handler.ChainName()).Set(float64(latest))
			err = handler.CheckForPastDeposits(s.ctx, chains.PastDepositOptions{
				PastTimeInMinutes: s.cfg.Global.PastDepositWindow,
				LatestBlock:       latest,
			})
			if err != nil {
				log.WithError(err).WithField("chain", handler.ChainName()).
					Error("Past deposit sweep failed")
			}
		}
	})
}

func (s *Service) runCleanup() {
	s.runLocked("cleanup", &s.cleanupLock, func() {
		store, ok := s.cfg.Store.(*kv.Store)
		if !ok {
			return
		}
		removed, err := store.CleanupAgedDeposits(s.ctx, s.cfg.Global.Cleanup)
		if err != nil {
			log.WithError(err).Error("Cleanup sweep failed")
			return
		}
		if removed > 0 {
			log.WithField("removed", removed).Info("Cleaned up aged records")
		}
	})
}

// RunStartupBackfill performs one immediate past-deposit pass, used at
// boot before the periodic job starts ticking.
func (s *Service) RunStartupBackfill(timeout time.Duration) {
	ctx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()
	for _, handler := range s.cfg.Registry.PastCheckers() {
		latest, err := handler.LatestBlock(ctx)
		if err != nil {
			log.WithError(err).WithField("chain", handler.ChainName()).
				Warn("Skipping startup backfill")
			continue
		}
		err = handler.CheckForPastDeposits(ctx, chains.PastDepositOptions{
			PastTimeInMinutes: s.cfg.Global.PastDepositWindow,
			LatestBlock:       latest,
		})
		if err != nil {
			log.WithError(err).WithField("chain", handler.ChainName()).
				Warn("Startup backfill failed")
		}
	}
}
