// Package config loads the per-network ledger configuration shared by the
// service daemon and the operator CLI.
package config

import (
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"

	"sigforge/validate"
)

// Network describes one supported ledger network.
type Network struct {
	ChainID        uint64 `toml:"ChainID"`
	RPCURL         string `toml:"RPCURL"`
	RPCAuthToken   string `toml:"RPCAuthToken"`
	LedgerContract string `toml:"LedgerContract"`
}

// Config is the parsed networks file.
type Config struct {
	Networks map[string]Network `toml:"networks"`
}

// Load parses and validates a TOML networks file.
func Load(path string) (Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that every configured network is a supported key with a
// usable chain id and RPC endpoint.
func (c Config) Validate() error {
	if len(c.Networks) == 0 {
		return fmt.Errorf("no networks configured")
	}
	keys := make([]string, 0, len(c.Networks))
	for key := range c.Networks {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		network := c.Networks[key]
		if _, err := validate.Network(key); err != nil {
			return fmt.Errorf("network %q: %w", key, err)
		}
		if network.ChainID == 0 {
			return fmt.Errorf("network %q: ChainID is required", key)
		}
		if strings.TrimSpace(network.RPCURL) == "" {
			return fmt.Errorf("network %q: RPCURL is required", key)
		}
		if contract := strings.TrimSpace(network.LedgerContract); contract != "" {
			if _, err := validate.Address(contract); err != nil {
				return fmt.Errorf("network %q: LedgerContract: %w", key, err)
			}
		}
	}
	return nil
}

// ChainIDs returns the network-to-chain-id mapping the signer domain uses.
func (c Config) ChainIDs() map[string]*big.Int {
	ids := make(map[string]*big.Int, len(c.Networks))
	for key, network := range c.Networks {
		ids[key] = new(big.Int).SetUint64(network.ChainID)
	}
	return ids
}
