// Package params defines the relayer's global and per-chain
// configuration surface. Global options arrive through CLI flags and
// environment variables; chain options live in YAML files, one per
// chain, loaded at startup.
package params

import (
	"time"
)

// ChainType discriminates the L2 adapter wired for a chain.
type ChainType string

// Supported chain types.
const (
	ChainTypeEvm      ChainType = "Evm"
	ChainTypeStarknet ChainType = "Starknet"
	ChainTypeSolana   ChainType = "Solana"
	ChainTypeSui      ChainType = "Sui"
	ChainTypeSei      ChainType = "Sei"
)

// Network is the deployment environment a chain runs against.
type Network string

// Supported networks. Devnet chains use the testnet Wormhole scope.
const (
	NetworkMainnet Network = "Mainnet"
	NetworkTestnet Network = "Testnet"
	NetworkDevnet  Network = "Devnet"
)

// ChainConfig is the per-chain configuration file payload.
type ChainConfig struct {
	ChainName              string    `yaml:"chainName"`
	ChainType              ChainType `yaml:"chainType"`
	Network                Network   `yaml:"network"`
	L1Rpc                  string    `yaml:"l1Rpc"`
	L2Rpc                  string    `yaml:"l2Rpc"`
	L2WsRpc                string    `yaml:"l2WsRpc"`
	L1ContractAddress      string    `yaml:"l1ContractAddress"`
	L2ContractAddress      string    `yaml:"l2ContractAddress"`
	VaultAddress           string    `yaml:"vaultAddress"`
	L1BitcoinRedeemer      string    `yaml:"l1BitcoinRedeemerAddress"`
	L2BitcoinRedeemer      string    `yaml:"l2BitcoinRedeemerAddress"`
	L2WormholeGateway      string    `yaml:"l2WormholeGatewayAddress"`
	L2WormholeChainID      uint16    `yaml:"l2WormholeChainId"`
	L2StartBlock           uint64    `yaml:"l2StartBlock"`
	L1Confirmations        uint64    `yaml:"l1Confirmations"`
	PrivateKey             string    `yaml:"privateKey"`
	SolanaPrivateKey       string    `yaml:"solanaPrivateKey"`
	SolanaCommitment       string    `yaml:"solanaCommitment"`
	SuiPrivateKey          string    `yaml:"suiPrivateKey"`
	SuiGasObjectID         string    `yaml:"suiGasObjectId"`
	WormholeCoreID         string    `yaml:"wormholeCoreId"`
	TokenBridgeID          string    `yaml:"tokenBridgeId"`
	StarknetDepositObject  string    `yaml:"starknetDepositObjectId"`
	L1FeeAmountWei         string    `yaml:"l1FeeAmountWei"`
	UseEndpoint            bool      `yaml:"useEndpoint"`
	EnableL2Redemption     bool      `yaml:"enableL2Redemption"`
	SupportsRevealDeposit  bool      `yaml:"supportsRevealDepositAPI"`
}

// IsMainnet reports whether this chain runs against mainnet deployments.
func (c *ChainConfig) IsMainnet() bool {
	return c.Network == NetworkMainnet
}

// SupportsPastDepositCheck reports whether this chain carries enough L2
// configuration for the backfill worker. Endpoint-only chains never
// scan L2 history.
func (c *ChainConfig) SupportsPastDepositCheck() bool {
	return !c.UseEndpoint && c.L2Rpc != "" && c.L2ContractAddress != ""
}

// CleanupTimes are the aged-record retention windows, in hours.
type CleanupTimes struct {
	Queued    uint
	Finalized uint
	Bridged   uint
}

// GlobalConfig is the process-wide configuration assembled from flags
// and environment variables.
type GlobalConfig struct {
	SupportedChains []string
	DataDir         string
	ChainConfigDir  string
	APIPort         int
	APIOnlyMode     bool
	EnableCleanup   bool
	Cleanup         CleanupTimes
	MonitoringPort  int
	// RetryInterval is the process-wide minimum delay between successive
	// attempts to progress the same record.
	RetryInterval time.Duration
	// JobIntervals control the reconciler's periodic sweeps.
	ProcessInitializeInterval time.Duration
	ProcessFinalizeInterval   time.Duration
	ProcessBridgingInterval   time.Duration
	PastDepositInterval       time.Duration
	RedemptionInterval        time.Duration
	CleanupInterval           time.Duration
	// PastDepositWindow is how far back, in minutes, the backfill looks.
	PastDepositWindow uint
}

// DefaultGlobalConfig returns the documented defaults: minute-scale job
// intervals, a 5 minute retry interval and 48/12/12 hour retention.
func DefaultGlobalConfig() *GlobalConfig {
	return &GlobalConfig{
		APIPort:                   3000,
		MonitoringPort:            8080,
		RetryInterval:             5 * time.Minute,
		ProcessInitializeInterval: 5 * time.Minute,
		ProcessFinalizeInterval:   5 * time.Minute,
		ProcessBridgingInterval:   5 * time.Minute,
		PastDepositInterval:       10 * time.Minute,
		RedemptionInterval:        2 * time.Minute,
		CleanupInterval:           60 * time.Minute,
		PastDepositWindow:         120,
		Cleanup: CleanupTimes{
			Queued:    48,
			Finalized: 12,
			Bridged:   12,
		},
	}
}
