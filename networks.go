package x402

import (
	"math/big"
	"sort"
)

// AssetInfo describes the payment asset on a network, including the EIP-712
// domain parameters its permit function verifies against.
type AssetInfo struct {
	Address  string
	Name     string
	Version  string
	Decimals int
}

// NetworkConfig holds the payment parameters of one supported chain.
type NetworkConfig struct {
	NetworkID Network
	ChainID   *big.Int
	Asset     AssetInfo
}

// Registry is a static directory of supported chains. Network ids and
// numeric chain ids are unique across entries.
type Registry struct {
	configs map[string]NetworkConfig
}

// Default asset selection follows each chain's endorsed stablecoin.
var defaultConfigs = map[string]NetworkConfig{
	"base": {
		NetworkID: "eip155:8453",
		ChainID:   big.NewInt(8453),
		Asset: AssetInfo{
			Address:  "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", // USDC on Base
			Name:     "USD Coin",
			Version:  "2",
			Decimals: 6,
		},
	},
	"base-sepolia": {
		NetworkID: "eip155:84532",
		ChainID:   big.NewInt(84532),
		Asset: AssetInfo{
			Address:  "0x036CbD53842c5426634e7929541eC2318f3dCF7e", // USDC on Base Sepolia
			Name:     "USDC",
			Version:  "2",
			Decimals: 6,
		},
	},
	"ethereum": {
		NetworkID: "eip155:1",
		ChainID:   big.NewInt(1),
		Asset: AssetInfo{
			Address:  "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", // USDC on Ethereum
			Name:     "USD Coin",
			Version:  "2",
			Decimals: 6,
		},
	},
	"polygon": {
		NetworkID: "eip155:137",
		ChainID:   big.NewInt(137),
		Asset: AssetInfo{
			Address:  "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359", // native USDC on Polygon
			Name:     "USD Coin",
			Version:  "2",
			Decimals: 6,
		},
	},
}

// DefaultRegistry creates a registry populated with the built-in networks.
func DefaultRegistry() *Registry {
	return NewRegistry(defaultConfigs)
}

// NewRegistry creates a registry from an explicit key → config map.
func NewRegistry(configs map[string]NetworkConfig) *Registry {
	copied := make(map[string]NetworkConfig, len(configs))
	for k, v := range configs {
		copied[k] = v
	}
	return &Registry{configs: copied}
}

// Resolve returns the configuration for a registry key. Unknown keys fail
// with an UnknownNetworkError listing all supported keys.
func (r *Registry) Resolve(key string) (NetworkConfig, error) {
	cfg, ok := r.configs[key]
	if !ok {
		return NetworkConfig{}, &UnknownNetworkError{Key: key, Supported: r.Keys()}
	}
	return cfg, nil
}

// ReverseLookup returns the registry key for a CAIP-2 network id, or false
// when no entry carries it.
func (r *Registry) ReverseLookup(networkID Network) (string, bool) {
	for key, cfg := range r.configs {
		if cfg.NetworkID == networkID {
			return key, true
		}
	}
	return "", false
}

// Keys returns the supported registry keys, sorted.
func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.configs))
	for k := range r.configs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Configs returns a copy of the full key → config map.
func (r *Registry) Configs() map[string]NetworkConfig {
	copied := make(map[string]NetworkConfig, len(r.configs))
	for k, v := range r.configs {
		copied[k] = v
	}
	return copied
}
