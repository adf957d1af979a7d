package params

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/keep-network/tbtc-relayer/testing/assert"
	"github.com/keep-network/tbtc-relayer/testing/require"
)

const validEvmConfig = `chainName: arbitrum
chainType: Evm
network: Mainnet
l1Rpc: https://eth.example
l2Rpc: https://arb.example
l2WsRpc: wss://arb.example
l1ContractAddress: "0x1111111111111111111111111111111111111111"
l2ContractAddress: "0x2222222222222222222222222222222222222222"
vaultAddress: "0x3333333333333333333333333333333333333333"
privateKey: "0xabc123"
l2StartBlock: 1000
`

func writeConfig(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".yaml"), []byte(content), 0600))
}

func TestLoadChainConfigs(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "arbitrum", validEvmConfig)

	configs, err := LoadChainConfigs(dir, []string{"arbitrum", " ", ""})
	require.NoError(t, err)
	require.Equal(t, 1, len(configs))

	cfg := configs["arbitrum"]
	require.NotNil(t, cfg)
	assert.Equal(t, ChainTypeEvm, cfg.ChainType)
	assert.Equal(t, uint64(1000), cfg.L2StartBlock)
	assert.Equal(t, true, cfg.IsMainnet())
	assert.Equal(t, true, cfg.SupportsPastDepositCheck())
}

func TestLoadChainConfigs_NameMismatch(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "base", validEvmConfig)

	_, err := LoadChainConfigs(dir, []string{"base"})
	require.ErrorContains(t, "declares chainName", err)
}

func TestLoadChainConfigs_MissingFile(t *testing.T) {
	_, err := LoadChainConfigs(t.TempDir(), []string{"arbitrum"})
	require.ErrorContains(t, "could not read chain config", err)
}

func TestLoadChainConfigs_NoneConfigured(t *testing.T) {
	_, err := LoadChainConfigs(t.TempDir(), []string{"", "  "})
	require.ErrorContains(t, "no chains configured", err)
}

func TestLoadChainConfigFile_UnknownField(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "arbitrum", validEvmConfig+"unknownOption: true\n")

	_, err := LoadChainConfigFile(filepath.Join(dir, "arbitrum.yaml"))
	require.ErrorContains(t, "could not parse chain config", err)
}

func TestChainConfigValidate(t *testing.T) {
	base := func() *ChainConfig {
		return &ChainConfig{
			ChainName:         "arbitrum",
			ChainType:         ChainTypeEvm,
			Network:           NetworkMainnet,
			L1Rpc:             "https://eth.example",
			L2Rpc:             "https://arb.example",
			L1ContractAddress: "0x11",
			VaultAddress:      "0x33",
			PrivateKey:        "0xabc",
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *ChainConfig)
		wantErr string
	}{
		{"valid", func(c *ChainConfig) {}, ""},
		{"missing name", func(c *ChainConfig) { c.ChainName = "" }, "chainName is required"},
		{"bad type", func(c *ChainConfig) { c.ChainType = "Cosmos" }, "unsupported chainType"},
		{"bad network", func(c *ChainConfig) { c.Network = "Localnet" }, "unsupported network"},
		{"missing l1 rpc", func(c *ChainConfig) { c.L1Rpc = "" }, "l1Rpc is required"},
		{"missing vault", func(c *ChainConfig) { c.VaultAddress = "" }, "vaultAddress is required"},
		{"missing key", func(c *ChainConfig) { c.PrivateKey = "" }, "privateKey is required"},
		{
			"missing l2 rpc without endpoint mode",
			func(c *ChainConfig) { c.L2Rpc = "" },
			"l2Rpc is required",
		},
		{
			"endpoint mode skips l2 rpc",
			func(c *ChainConfig) {
				c.L2Rpc = ""
				c.UseEndpoint = true
			},
			"",
		},
		{
			"starknet requires fee fallback",
			func(c *ChainConfig) { c.ChainType = ChainTypeStarknet },
			"l1FeeAmountWei fallback is required",
		},
		{
			"sui requires wormhole objects",
			func(c *ChainConfig) { c.ChainType = ChainTypeSui },
			"wormholeCoreId and tokenBridgeId are required",
		},
		{
			"sei requires wormhole objects",
			func(c *ChainConfig) { c.ChainType = ChainTypeSei },
			"wormholeCoreId and tokenBridgeId are required",
		},
		{
			"sei with wormhole objects passes",
			func(c *ChainConfig) {
				c.ChainType = ChainTypeSei
				c.WormholeCoreID = "0x44"
				c.TokenBridgeID = "0x55"
			},
			"",
		},
		{
			"redemption requires redeemer address",
			func(c *ChainConfig) { c.EnableL2Redemption = true },
			"l1BitcoinRedeemerAddress is required",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, tt.wantErr, err)
		})
	}
}
