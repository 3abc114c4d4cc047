// Package treasuryconfig resolves the daemon runtime configuration from
// yaml files and KEI_* environment overrides. File values override
// defaults, environment values override both.
package treasuryconfig

import (
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"github.com/KEI-finance/treasury-contracts/internal/chain"
	"github.com/KEI-finance/treasury-contracts/internal/treasury"
	"github.com/KEI-finance/treasury-contracts/pkg/models"
)

// Config is the resolved runtime configuration consumed by the daemon
// composition layer. Zero values defer to component defaults: an empty
// RPCAddr uses the transport default, a zero GasLimit uses the chain
// backend default.
type Config struct {
	RPCAddr string
	DataDir string

	ChainBackend string
	ChainRPCURL  string
	GasLimit     uint64
	WaitTimeout  time.Duration

	Assets []models.AssetInfo
	// InitialBalances seeds the memory backend, keyed by asset hex
	// address with base-10 amounts. Ignored by the eth backend.
	InitialBalances map[string]string

	AutoSyncInterval time.Duration

	// IssuerKeys holds "keyID:base64" public key pairs accepted for
	// caller credentials; empty disables credential verification.
	IssuerKeys      string
	RevocationsFile string

	// SeedGrants are applied once, on first boot against an empty
	// access registry.
	SeedGrants []SeedGrant
}

type SeedGrant struct {
	Role    string
	Account string
}

func DefaultConfig() Config {
	return Config{
		ChainBackend: chain.BackendMemory,
	}
}

// DaemonConfig is the yaml file shape. Duration fields are strings so
// unset and invalid values can be told apart from zero.
type DaemonConfig struct {
	RPC         DaemonRPCConfig         `yaml:"rpc"`
	Storage     DaemonStorageConfig     `yaml:"storage"`
	Chain       DaemonChainConfig       `yaml:"chain"`
	Treasury    DaemonTreasuryConfig    `yaml:"treasury"`
	Credentials DaemonCredentialsConfig `yaml:"credentials"`
}

type DaemonRPCConfig struct {
	Addr string `yaml:"addr"`
}

type DaemonStorageConfig struct {
	DataDir string `yaml:"dataDir"`
}

type DaemonChainConfig struct {
	Backend     string `yaml:"backend"`
	RPCURL      string `yaml:"rpcUrl"`
	GasLimit    uint64 `yaml:"gasLimit"`
	WaitTimeout string `yaml:"waitTimeout"`
}

type DaemonAssetConfig struct {
	Address        string `yaml:"address"`
	Symbol         string `yaml:"symbol"`
	Decimals       int32  `yaml:"decimals"`
	InitialBalance string `yaml:"initialBalance"`
}

type DaemonTreasuryConfig struct {
	Assets           []DaemonAssetConfig `yaml:"assets"`
	AutoSyncInterval string              `yaml:"autoSyncInterval"`
	SeedGrants       []DaemonSeedGrant   `yaml:"seedGrants"`
}

type DaemonSeedGrant struct {
	Role    string `yaml:"role"`
	Account string `yaml:"account"`
}

type DaemonCredentialsConfig struct {
	IssuerKeys      string `yaml:"issuerKeys"`
	RevocationsFile string `yaml:"revocationsFile"`
}

// LoadFromPath reads the first parseable candidate config file, merges
// it over the defaults and applies environment overrides on top. A
// missing or malformed file falls back to defaults plus environment.
func LoadFromPath(configPath string) Config {
	cfg := DefaultConfig()

	candidates := make([]string, 0, 2)
	if configPath != "" {
		candidates = append(candidates, configPath)
	} else {
		candidates = append(candidates,
			"configs/treasuryd.yaml",
			"treasuryd.yaml",
		)
	}

	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}

		var parsed DaemonConfig
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			continue
		}

		merged := cfg
		Merge(&merged, parsed)
		ApplyEnvOverrides(&merged)
		return merged
	}

	ApplyEnvOverrides(&cfg)
	return cfg
}

// Merge applies set fields from a parsed file onto dst. Empty strings
// and zero numbers mean "unset" and leave dst alone; invalid duration
// strings are ignored rather than zeroing a default.
func Merge(dst *Config, src DaemonConfig) {
	if src.RPC.Addr != "" {
		dst.RPCAddr = src.RPC.Addr
	}
	if src.Storage.DataDir != "" {
		dst.DataDir = src.Storage.DataDir
	}
	if src.Chain.Backend != "" {
		dst.ChainBackend = src.Chain.Backend
	}
	if src.Chain.RPCURL != "" {
		dst.ChainRPCURL = src.Chain.RPCURL
	}
	if src.Chain.GasLimit != 0 {
		dst.GasLimit = src.Chain.GasLimit
	}
	if d, err := time.ParseDuration(src.Chain.WaitTimeout); err == nil && d > 0 {
		dst.WaitTimeout = d
	}
	if len(src.Treasury.Assets) > 0 {
		dst.Assets = dst.Assets[:0]
		for _, asset := range src.Treasury.Assets {
			dst.Assets = append(dst.Assets, models.AssetInfo{
				Address:  asset.Address,
				Symbol:   asset.Symbol,
				Decimals: asset.Decimals,
			})
			if asset.InitialBalance != "" {
				if dst.InitialBalances == nil {
					dst.InitialBalances = make(map[string]string)
				}
				dst.InitialBalances[asset.Address] = asset.InitialBalance
			}
		}
	}
	if d, err := time.ParseDuration(src.Treasury.AutoSyncInterval); err == nil && d > 0 {
		dst.AutoSyncInterval = d
	}
	if len(src.Treasury.SeedGrants) > 0 {
		dst.SeedGrants = dst.SeedGrants[:0]
		for _, grant := range src.Treasury.SeedGrants {
			dst.SeedGrants = append(dst.SeedGrants, SeedGrant{
				Role:    grant.Role,
				Account: grant.Account,
			})
		}
	}
	if src.Credentials.IssuerKeys != "" {
		dst.IssuerKeys = src.Credentials.IssuerKeys
	}
	if src.Credentials.RevocationsFile != "" {
		dst.RevocationsFile = src.Credentials.RevocationsFile
	}
}

// ApplyEnvOverrides lets operators override file values without
// editing the file. Unparseable numeric and duration values are
// ignored.
func ApplyEnvOverrides(cfg *Config) {
	if addr := strings.TrimSpace(os.Getenv("KEI_RPC_ADDR")); addr != "" {
		cfg.RPCAddr = addr
	}
	if dir := strings.TrimSpace(os.Getenv("KEI_DATA_DIR")); dir != "" {
		cfg.DataDir = dir
	}
	if backend := strings.TrimSpace(os.Getenv("KEI_CHAIN_BACKEND")); backend != "" {
		cfg.ChainBackend = backend
	}
	if url := strings.TrimSpace(os.Getenv("KEI_CHAIN_RPC_URL")); url != "" {
		cfg.ChainRPCURL = url
	}
	if raw := strings.TrimSpace(os.Getenv("KEI_CHAIN_GAS_LIMIT")); raw != "" {
		if v, err := strconv.ParseUint(raw, 10, 64); err == nil && v > 0 {
			cfg.GasLimit = v
		}
	}
	if raw := strings.TrimSpace(os.Getenv("KEI_CHAIN_WAIT_TIMEOUT")); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			cfg.WaitTimeout = d
		}
	}
	if raw := strings.TrimSpace(os.Getenv("KEI_AUTOSYNC_INTERVAL")); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d >= 0 {
			cfg.AutoSyncInterval = d
		}
	}
	if keys := strings.TrimSpace(os.Getenv("KEI_CREDENTIAL_ISSUER_KEYS")); keys != "" {
		cfg.IssuerKeys = keys
	}
	if path := strings.TrimSpace(os.Getenv("KEI_CREDENTIAL_REVOCATIONS_FILE")); path != "" {
		cfg.RevocationsFile = path
	}
	if raw := strings.TrimSpace(os.Getenv("KEI_SEED_ADMIN")); raw != "" {
		for _, account := range strings.Split(raw, ",") {
			account = strings.TrimSpace(account)
			if account == "" {
				continue
			}
			cfg.SeedGrants = append(cfg.SeedGrants, SeedGrant{
				Role:    "admin",
				Account: account,
			})
		}
	}
}

// ChainConfig translates the flat runtime fields into the chain
// backend configuration, validating asset addresses and memory
// balance amounts.
func (c Config) ChainConfig() (chain.Config, error) {
	out := chain.Config{
		Backend:     c.ChainBackend,
		RPCURL:      c.ChainRPCURL,
		GasLimit:    c.GasLimit,
		WaitTimeout: c.WaitTimeout,
	}
	for _, info := range c.Assets {
		if !common.IsHexAddress(info.Address) {
			return chain.Config{}, fmt.Errorf("asset address %q is not a hex address", info.Address)
		}
		out.Assets = append(out.Assets, common.HexToAddress(info.Address))
	}
	for addr, amount := range c.InitialBalances {
		if !common.IsHexAddress(addr) {
			return chain.Config{}, fmt.Errorf("initial balance address %q is not a hex address", addr)
		}
		value, ok := new(big.Int).SetString(strings.TrimSpace(amount), 10)
		if !ok || value.Sign() < 0 {
			return chain.Config{}, fmt.Errorf("initial balance for %s must be a non-negative base-10 amount, got %q", addr, amount)
		}
		if out.InitialBalances == nil {
			out.InitialBalances = make(map[common.Address]*big.Int)
		}
		out.InitialBalances[common.HexToAddress(addr)] = value
	}
	return out, nil
}

// SeedGrantMap parses the configured seed grants into the shape the
// access registry seeds from.
func (c Config) SeedGrantMap() (map[treasury.Role][]common.Address, error) {
	if len(c.SeedGrants) == 0 {
		return nil, nil
	}
	out := make(map[treasury.Role][]common.Address, len(c.SeedGrants))
	for _, grant := range c.SeedGrants {
		role, err := treasury.ParseRole(grant.Role)
		if err != nil {
			return nil, fmt.Errorf("seed grant role %q: %w", grant.Role, err)
		}
		if !common.IsHexAddress(grant.Account) {
			return nil, fmt.Errorf("seed grant account %q is not a hex address", grant.Account)
		}
		out[role] = append(out[role], common.HexToAddress(grant.Account))
	}
	return out, nil
}
