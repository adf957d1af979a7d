// Package node assembles the relayer process: configuration, operation
// store, chain handlers, reconciler and the HTTP surfaces, all managed
// through a service registry.
package node

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/keep-network/tbtc-relayer/config/params"
	"github.com/keep-network/tbtc-relayer/monitoring/prometheus"
	"github.com/keep-network/tbtc-relayer/relayer/api"
	"github.com/keep-network/tbtc-relayer/relayer/chains"
	"github.com/keep-network/tbtc-relayer/relayer/chains/evm"
	"github.com/keep-network/tbtc-relayer/relayer/chains/sei"
	"github.com/keep-network/tbtc-relayer/relayer/chains/solana"
	"github.com/keep-network/tbtc-relayer/relayer/chains/starknet"
	"github.com/keep-network/tbtc-relayer/relayer/chains/sui"
	"github.com/keep-network/tbtc-relayer/relayer/db"
	"github.com/keep-network/tbtc-relayer/relayer/db/kv"
	"github.com/keep-network/tbtc-relayer/relayer/reconciler"
	"github.com/keep-network/tbtc-relayer/relayer/redemption"
	"github.com/keep-network/tbtc-relayer/runtime"
)

var log = logrus.WithField("prefix", "node")

// startupBackfillTimeout bounds the one-shot backfill pass at boot.
const startupBackfillTimeout = 10 * time.Minute

// RelayerNode handles the lifecycle of the entire system and registers
// services to a service registry.
type RelayerNode struct {
	cliCtx   *cli.Context
	ctx      context.Context
	cancel   context.CancelFunc
	lock     sync.RWMutex
	services *runtime.ServiceRegistry
	stop     chan struct{} // Channel to wait for termination notifications.
	db       db.Database
	registry *chains.Registry
	global   *params.GlobalConfig
}

// New creates a new node instance, sets up configuration options and
// registers every required service.
func New(cliCtx *cli.Context) (*RelayerNode, error) {
	global := buildGlobalConfig(cliCtx)
	ctx, cancel := context.WithCancel(context.Background())

	node := &RelayerNode{
		cliCtx:   cliCtx,
		ctx:      ctx,
		cancel:   cancel,
		services: runtime.NewServiceRegistry(),
		stop:     make(chan struct{}),
		registry: chains.NewRegistry(),
		global:   global,
	}

	if err := node.startDB(); err != nil {
		cancel()
		return nil, err
	}

	chainConfigs, err := params.LoadChainConfigs(global.ChainConfigDir, global.SupportedChains)
	if err != nil {
		cancel()
		return nil, err
	}

	redemptions, err := node.registerHandlers(chainConfigs)
	if err != nil {
		cancel()
		return nil, err
	}
	node.registry.Freeze()

	if !global.APIOnlyMode {
		rec := reconciler.New(ctx, &reconciler.Config{
			Registry:    node.registry,
			Store:       node.db,
			Redemptions: redemptions,
			Global:      global,
		})
		if err := node.services.RegisterService(rec); err != nil {
			cancel()
			return nil, err
		}
		go rec.RunStartupBackfill(startupBackfillTimeout)
	}

	apiSvc := api.New(ctx, &api.Config{
		Port:     global.APIPort,
		Registry: node.registry,
		Store:    node.db,
		Chains:   chainConfigs,
	})
	if err := node.services.RegisterService(apiSvc); err != nil {
		cancel()
		return nil, err
	}

	monitoring := prometheus.NewService(fmt.Sprintf(":%d", global.MonitoringPort), node.services)
	if err := node.services.RegisterService(monitoring); err != nil {
		cancel()
		return nil, err
	}

	return node, nil
}

func buildGlobalConfig(cliCtx *cli.Context) *params.GlobalConfig {
	global := params.DefaultGlobalConfig()
	global.SupportedChains = cliCtx.StringSlice("supported-chains")
	global.DataDir = cliCtx.String("datadir")
	global.ChainConfigDir = cliCtx.String("chain-config-dir")
	global.APIPort = cliCtx.Int("api-port")
	global.MonitoringPort = cliCtx.Int("monitoring-port")
	global.APIOnlyMode = cliCtx.Bool("api-only")
	global.EnableCleanup = cliCtx.Bool("enable-cleanup")
	global.Cleanup.Queued = cliCtx.Uint("clean-queued-time")
	global.Cleanup.Finalized = cliCtx.Uint("clean-finalized-time")
	global.Cleanup.Bridged = cliCtx.Uint("clean-bridged-time")
	global.RetryInterval = cliCtx.Duration("retry-interval")
	global.PastDepositWindow = cliCtx.Uint("past-deposit-window")
	return global
}

func (n *RelayerNode) startDB() error {
	store, err := kv.NewKVStore(n.global.DataDir)
	if err != nil {
		return errors.Wrap(err, "could not open operation store")
	}
	if n.cliCtx.Bool("clear-db") {
		log.Warn("Clearing operation store")
		if err := store.ClearDB(); err != nil {
			return errors.Wrap(err, "could not clear operation store")
		}
		if store, err = kv.NewKVStore(n.global.DataDir); err != nil {
			return errors.Wrap(err, "could not reopen operation store")
		}
	}
	log.WithField("path", store.DatabasePath()).Info("Operation store ready")
	n.db = store
	return nil
}

// registerHandlers builds, initializes and registers one handler per
// configured chain, returning the redemption services found along the
// way.
func (n *RelayerNode) registerHandlers(configs map[string]*params.ChainConfig) ([]*redemption.Service, error) {
	var redemptions []*redemption.Service
	for name, cfg := range configs {
		handler, err := n.buildHandler(cfg)
		if err != nil {
			return nil, errors.Wrapf(err, "could not build handler for chain %s", name)
		}
		if err := handler.Initialize(n.ctx); err != nil {
			return nil, errors.Wrapf(err, "could not initialize chain %s", name)
		}
		if !n.global.APIOnlyMode {
			if err := handler.SetupListeners(n.ctx); err != nil {
				return nil, errors.Wrapf(err, "could not attach listeners for chain %s", name)
			}
		}
		if err := n.registry.Register(handler); err != nil {
			return nil, err
		}
		if evmHandler, ok := handler.(*evm.Handler); ok {
			if svc := evmHandler.RedemptionService(); svc != nil {
				redemptions = append(redemptions, svc)
			}
		}
		log.WithFields(logrus.Fields{
			"chain": name,
			"type":  cfg.ChainType,
		}).Info("Chain handler registered")
	}
	return redemptions, nil
}

func (n *RelayerNode) buildHandler(cfg *params.ChainConfig) (chains.Handler, error) {
	retry := n.global.RetryInterval
	switch cfg.ChainType {
	case params.ChainTypeEvm:
		return evm.New(cfg, n.db, retry), nil
	case params.ChainTypeStarknet:
		return starknet.New(cfg, n.db, retry), nil
	case params.ChainTypeSolana:
		return solana.New(cfg, n.db, retry), nil
	case params.ChainTypeSui:
		return sui.New(cfg, n.db, retry), nil
	case params.ChainTypeSei:
		return sei.New(cfg, n.db, retry), nil
	default:
		return nil, errors.Errorf("unsupported chain type %q", cfg.ChainType)
	}
}

// Start the relayer and kick off every registered service.
func (n *RelayerNode) Start() {
	n.lock.Lock()
	n.services.StartAll()
	n.lock.Unlock()

	stop := n.stop
	go func() {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigc)
		<-sigc
		log.Info("Got interrupt, shutting down...")
		go n.Close()
		for i := 10; i > 0; i-- {
			<-sigc
			if i > 1 {
				log.WithField("times", i-1).Info("Already shutting down, interrupt more to panic")
			}
		}
		panic("Panic closing the relayer node")
	}()

	// Wait for stop channel to be closed.
	<-stop
}

// Close handles graceful shutdown of the system.
func (n *RelayerNode) Close() {
	n.lock.Lock()
	defer n.lock.Unlock()

	log.Info("Stopping relayer node")
	n.services.StopAll()
	n.cancel()
	if err := n.db.Close(); err != nil {
		log.Errorf("Failed to close database: %v", err)
	}
	close(n.stop)
}
