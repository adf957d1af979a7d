package main

import (
	"time"

	"github.com/urfave/cli/v2"
)

var (
	// DataDirFlag is the directory holding the operation store.
	DataDirFlag = &cli.StringFlag{
		Name:    "datadir",
		Usage:   "Data directory for the operation store",
		Value:   "./data",
		EnvVars: []string{"RELAYER_DATADIR"},
	}
	// ChainConfigDirFlag is the directory holding per-chain YAML files.
	ChainConfigDirFlag = &cli.StringFlag{
		Name:    "chain-config-dir",
		Usage:   "Directory with one <chainName>.yaml configuration per chain",
		Value:   "./config",
		EnvVars: []string{"RELAYER_CHAIN_CONFIG_DIR"},
	}
	// SupportedChainsFlag selects the chains to serve.
	SupportedChainsFlag = &cli.StringSliceFlag{
		Name:    "supported-chains",
		Usage:   "Chain names to load and serve",
		EnvVars: []string{"RELAYER_SUPPORTED_CHAINS", "SUPPORTED_CHAINS"},
	}
	// APIPortFlag is the HTTP API listen port.
	APIPortFlag = &cli.IntFlag{
		Name:    "api-port",
		Usage:   "HTTP API listen port",
		Value:   3000,
		EnvVars: []string{"RELAYER_API_PORT", "APP_PORT"},
	}
	// MonitoringPortFlag is the metrics listen port.
	MonitoringPortFlag = &cli.IntFlag{
		Name:    "monitoring-port",
		Usage:   "Prometheus metrics listen port",
		Value:   8080,
		EnvVars: []string{"RELAYER_MONITORING_PORT"},
	}
	// APIOnlyFlag disables listeners and periodic jobs.
	APIOnlyFlag = &cli.BoolFlag{
		Name:    "api-only",
		Usage:   "Serve the HTTP API without listeners or periodic jobs",
		EnvVars: []string{"RELAYER_API_ONLY", "API_ONLY_MODE"},
	}
	// ClearDBFlag wipes the operation store before starting.
	ClearDBFlag = &cli.BoolFlag{
		Name:  "clear-db",
		Usage: "Clear the operation store before starting",
	}
	// EnableCleanupFlag turns on the aged-record cleanup job.
	EnableCleanupFlag = &cli.BoolFlag{
		Name:    "enable-cleanup",
		Usage:   "Periodically remove aged QUEUED, FINALIZED and BRIDGED records",
		EnvVars: []string{"RELAYER_ENABLE_CLEANUP", "ENABLE_CLEANUP_CRON"},
	}
	// CleanQueuedTimeFlag is the retention window for QUEUED records.
	CleanQueuedTimeFlag = &cli.UintFlag{
		Name:    "clean-queued-time",
		Usage:   "Hours a QUEUED record may age before cleanup removes it",
		Value:   48,
		EnvVars: []string{"RELAYER_CLEAN_QUEUED_TIME", "CLEAN_QUEUED_TIME"},
	}
	// CleanFinalizedTimeFlag is the retention window for FINALIZED records.
	CleanFinalizedTimeFlag = &cli.UintFlag{
		Name:    "clean-finalized-time",
		Usage:   "Hours a FINALIZED record may age before cleanup removes it",
		Value:   12,
		EnvVars: []string{"RELAYER_CLEAN_FINALIZED_TIME", "CLEAN_FINALIZED_TIME"},
	}
	// CleanBridgedTimeFlag is the retention window for BRIDGED records.
	CleanBridgedTimeFlag = &cli.UintFlag{
		Name:    "clean-bridged-time",
		Usage:   "Hours a BRIDGED record may age before cleanup removes it",
		Value:   12,
		EnvVars: []string{"RELAYER_CLEAN_BRIDGED_TIME", "CLEAN_BRIDGED_TIME"},
	}
	// RetryIntervalFlag is the minimum delay between attempts on the same
	// record.
	RetryIntervalFlag = &cli.DurationFlag{
		Name:    "retry-interval",
		Usage:   "Minimum delay between successive attempts on the same record",
		Value:   5 * time.Minute,
		EnvVars: []string{"RELAYER_RETRY_INTERVAL"},
	}
	// PastDepositWindowFlag is the backfill lookback, in minutes.
	PastDepositWindowFlag = &cli.UintFlag{
		Name:    "past-deposit-window",
		Usage:   "How many minutes back the past-deposit scan looks",
		Value:   120,
		EnvVars: []string{"RELAYER_PAST_DEPOSIT_WINDOW"},
	}
	// VerbosityFlag sets the logging level.
	VerbosityFlag = &cli.StringFlag{
		Name:    "verbosity",
		Usage:   "Logging verbosity (trace, debug, info, warn, error, fatal, panic)",
		Value:   "info",
		EnvVars: []string{"RELAYER_VERBOSITY"},
	}
	// LogFormatFlag selects text, fluentd or json output.
	LogFormatFlag = &cli.StringFlag{
		Name:  "log-format",
		Usage: "Specify log formatting (text, json)",
		Value: "text",
	}
)

var appFlags = []cli.Flag{
	DataDirFlag,
	ChainConfigDirFlag,
	SupportedChainsFlag,
	APIPortFlag,
	MonitoringPortFlag,
	APIOnlyFlag,
	ClearDBFlag,
	EnableCleanupFlag,
	CleanQueuedTimeFlag,
	CleanFinalizedTimeFlag,
	CleanBridgedTimeFlag,
	RetryIntervalFlag,
	PastDepositWindowFlag,
	VerbosityFlag,
	LogFormatFlag,
}
