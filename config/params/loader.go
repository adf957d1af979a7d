package params

import (
	"io/ioutil"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// LoadChainConfigFile reads and validates one chain configuration file.
func LoadChainConfigFile(path string) (*ChainConfig, error) {
	raw, err := ioutil.ReadFile(path) // #nosec G304 -- operator supplied path
	if err != nil {
		return nil, errors.Wrapf(err, "could not read chain config %s", path)
	}
	cfg := &ChainConfig{}
	if err := yaml.UnmarshalStrict(raw, cfg); err != nil {
		return nil, errors.Wrapf(err, "could not parse chain config %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid chain config %s", path)
	}
	return cfg, nil
}

// LoadChainConfigs loads the configuration files for the named chains
// from dir, expecting one <chainName>.yaml per chain.
func LoadChainConfigs(dir string, chainNames []string) (map[string]*ChainConfig, error) {
	configs := make(map[string]*ChainConfig, len(chainNames))
	for _, name := range chainNames {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		cfg, err := LoadChainConfigFile(filepath.Join(dir, name+".yaml"))
		if err != nil {
			return nil, err
		}
		if cfg.ChainName != name {
			return nil, errors.Errorf("chain config %s declares chainName %q", name, cfg.ChainName)
		}
		configs[name] = cfg
	}
	if len(configs) == 0 {
		return nil, errors.New("no chains configured")
	}
	return configs, nil
}

// Validate checks the fields every chain requires plus the chain-type
// specific ones. Failures here are fatal at startup.
func (c *ChainConfig) Validate() error {
	if c.ChainName == "" {
		return errors.New("chainName is required")
	}
	switch c.ChainType {
	case ChainTypeEvm, ChainTypeStarknet, ChainTypeSolana, ChainTypeSui, ChainTypeSei:
	default:
		return errors.Errorf("unsupported chainType %q", c.ChainType)
	}
	switch c.Network {
	case NetworkMainnet, NetworkTestnet, NetworkDevnet:
	default:
		return errors.Errorf("unsupported network %q", c.Network)
	}
	if c.L1Rpc == "" {
		return errors.New("l1Rpc is required")
	}
	if c.L1ContractAddress == "" {
		return errors.New("l1ContractAddress is required")
	}
	if c.VaultAddress == "" {
		return errors.New("vaultAddress is required")
	}
	if c.PrivateKey == "" {
		return errors.New("privateKey is required")
	}
	if !c.UseEndpoint && c.L2Rpc == "" {
		return errors.New("l2Rpc is required unless useEndpoint is set")
	}
	switch c.ChainType {
	case ChainTypeStarknet:
		// Dynamic quoting is preferred; the static fee is the documented
		// fallback and must be present so a quote outage cannot stall
		// finalization.
		if c.L1FeeAmountWei == "" {
			return errors.New("l1FeeAmountWei fallback is required for Starknet chains")
		}
	case ChainTypeSui, ChainTypeSei:
		// Both chain types resolve VAAs through the Wormhole service and
		// need the core and token bridge contracts configured.
		if c.WormholeCoreID == "" || c.TokenBridgeID == "" {
			return errors.Errorf("wormholeCoreId and tokenBridgeId are required for %s chains", c.ChainType)
		}
	}
	if c.EnableL2Redemption && c.L1BitcoinRedeemer == "" {
		return errors.New("l1BitcoinRedeemerAddress is required when enableL2Redemption is set")
	}
	return nil
}
