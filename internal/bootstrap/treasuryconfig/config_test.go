package treasuryconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/KEI-finance/treasury-contracts/internal/chain"
	"github.com/KEI-finance/treasury-contracts/internal/treasury"
	"github.com/KEI-finance/treasury-contracts/pkg/models"
)

func TestMergeAppliesSetFields(t *testing.T) {
	dst := DefaultConfig()
	src := DaemonConfig{
		RPC:     DaemonRPCConfig{Addr: "127.0.0.1:9000"},
		Storage: DaemonStorageConfig{DataDir: "/var/lib/treasuryd"},
		Chain: DaemonChainConfig{
			Backend:     chain.BackendEth,
			RPCURL:      "http://localhost:8545",
			GasLimit:    250000,
			WaitTimeout: "45s",
		},
		Treasury: DaemonTreasuryConfig{
			Assets: []DaemonAssetConfig{
				{Address: "0x4000000000000000000000000000000000000004", Symbol: "USDK", Decimals: 6, InitialBalance: "1000000"},
			},
			AutoSyncInterval: "2m",
			SeedGrants: []DaemonSeedGrant{
				{Role: "admin", Account: "0x00000000000000000000000000000000000000a1"},
			},
		},
		Credentials: DaemonCredentialsConfig{
			IssuerKeys:      "keik1abc:AAAA",
			RevocationsFile: "/var/lib/treasuryd/revoked.json",
		},
	}

	Merge(&dst, src)

	if dst.RPCAddr != "127.0.0.1:9000" {
		t.Fatalf("expected rpc addr override, got %q", dst.RPCAddr)
	}
	if dst.DataDir != "/var/lib/treasuryd" {
		t.Fatalf("expected data dir override, got %q", dst.DataDir)
	}
	if dst.ChainBackend != chain.BackendEth {
		t.Fatalf("expected eth backend, got %q", dst.ChainBackend)
	}
	if dst.GasLimit != 250000 {
		t.Fatalf("expected gasLimit=250000, got %d", dst.GasLimit)
	}
	if dst.WaitTimeout != 45*time.Second {
		t.Fatalf("expected waitTimeout=45s, got %s", dst.WaitTimeout)
	}
	if len(dst.Assets) != 1 || dst.Assets[0].Symbol != "USDK" || dst.Assets[0].Decimals != 6 {
		t.Fatalf("unexpected assets after merge: %+v", dst.Assets)
	}
	if dst.InitialBalances["0x4000000000000000000000000000000000000004"] != "1000000" {
		t.Fatalf("expected initial balance to merge, got %+v", dst.InitialBalances)
	}
	if dst.AutoSyncInterval != 2*time.Minute {
		t.Fatalf("expected autoSyncInterval=2m, got %s", dst.AutoSyncInterval)
	}
	if len(dst.SeedGrants) != 1 || dst.SeedGrants[0].Role != "admin" {
		t.Fatalf("unexpected seed grants: %+v", dst.SeedGrants)
	}
	if dst.IssuerKeys != "keik1abc:AAAA" {
		t.Fatalf("expected issuer keys override, got %q", dst.IssuerKeys)
	}
	if dst.RevocationsFile != "/var/lib/treasuryd/revoked.json" {
		t.Fatalf("expected revocations file override, got %q", dst.RevocationsFile)
	}
}

func TestMergeLeavesDefaultsWhenUnset(t *testing.T) {
	dst := DefaultConfig()
	dst.RPCAddr = "127.0.0.1:8720"
	dst.WaitTimeout = 90 * time.Second

	Merge(&dst, DaemonConfig{})

	if dst.RPCAddr != "127.0.0.1:8720" {
		t.Fatalf("unset file fields must not clear rpc addr, got %q", dst.RPCAddr)
	}
	if dst.ChainBackend != chain.BackendMemory {
		t.Fatalf("expected default memory backend, got %q", dst.ChainBackend)
	}
	if dst.WaitTimeout != 90*time.Second {
		t.Fatalf("unset wait timeout must not clear default, got %s", dst.WaitTimeout)
	}
}

func TestMergeIgnoresInvalidDurations(t *testing.T) {
	dst := DefaultConfig()
	dst.WaitTimeout = 90 * time.Second

	Merge(&dst, DaemonConfig{
		Chain:    DaemonChainConfig{WaitTimeout: "ninety seconds"},
		Treasury: DaemonTreasuryConfig{AutoSyncInterval: "-5s"},
	})

	if dst.WaitTimeout != 90*time.Second {
		t.Fatalf("invalid waitTimeout must not change default, got %s", dst.WaitTimeout)
	}
	if dst.AutoSyncInterval != 0 {
		t.Fatalf("negative autoSyncInterval must be ignored, got %s", dst.AutoSyncInterval)
	}
}

func TestLoadFromPathReadsYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "treasuryd.yaml")
	body := `
rpc:
  addr: "127.0.0.1:9100"
chain:
  backend: memory
  waitTimeout: 30s
treasury:
  assets:
    - address: "0x4000000000000000000000000000000000000004"
      symbol: USDK
      decimals: 6
  autoSyncInterval: 90s
credentials:
  issuerKeys: "keik1abc:AAAA"
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config failed: %v", err)
	}

	cfg := LoadFromPath(path)

	if cfg.RPCAddr != "127.0.0.1:9100" {
		t.Fatalf("expected addr from file, got %q", cfg.RPCAddr)
	}
	if cfg.WaitTimeout != 30*time.Second {
		t.Fatalf("expected waitTimeout=30s, got %s", cfg.WaitTimeout)
	}
	if cfg.AutoSyncInterval != 90*time.Second {
		t.Fatalf("expected autoSyncInterval=90s, got %s", cfg.AutoSyncInterval)
	}
	if len(cfg.Assets) != 1 || cfg.Assets[0].Symbol != "USDK" {
		t.Fatalf("unexpected assets: %+v", cfg.Assets)
	}
	if cfg.IssuerKeys != "keik1abc:AAAA" {
		t.Fatalf("expected issuer keys from file, got %q", cfg.IssuerKeys)
	}
}

func TestLoadFromPathFallsBackToDefaultsOnMissingFile(t *testing.T) {
	cfg := LoadFromPath(filepath.Join(t.TempDir(), "missing.yaml"))
	if cfg.ChainBackend != chain.BackendMemory {
		t.Fatalf("expected default backend, got %q", cfg.ChainBackend)
	}
}

func TestApplyEnvOverridesWinOverFileValues(t *testing.T) {
	t.Setenv("KEI_RPC_ADDR", "127.0.0.1:9201")
	t.Setenv("KEI_CHAIN_BACKEND", chain.BackendEth)
	t.Setenv("KEI_CHAIN_RPC_URL", "http://localhost:8545")
	t.Setenv("KEI_AUTOSYNC_INTERVAL", "15s")
	t.Setenv("KEI_CREDENTIAL_ISSUER_KEYS", "keik1env:BBBB")

	cfg := DefaultConfig()
	cfg.RPCAddr = "127.0.0.1:9100"
	ApplyEnvOverrides(&cfg)

	if cfg.RPCAddr != "127.0.0.1:9201" {
		t.Fatalf("expected env addr to win, got %q", cfg.RPCAddr)
	}
	if cfg.ChainBackend != chain.BackendEth {
		t.Fatalf("expected env backend to win, got %q", cfg.ChainBackend)
	}
	if cfg.ChainRPCURL != "http://localhost:8545" {
		t.Fatalf("expected env rpc url, got %q", cfg.ChainRPCURL)
	}
	if cfg.AutoSyncInterval != 15*time.Second {
		t.Fatalf("expected env autosync interval, got %s", cfg.AutoSyncInterval)
	}
	if cfg.IssuerKeys != "keik1env:BBBB" {
		t.Fatalf("expected env issuer keys, got %q", cfg.IssuerKeys)
	}
}

func TestApplyEnvOverridesIgnoresInvalidValues(t *testing.T) {
	t.Setenv("KEI_CHAIN_GAS_LIMIT", "not-a-number")
	t.Setenv("KEI_AUTOSYNC_INTERVAL", "soon")

	cfg := DefaultConfig()
	cfg.GasLimit = 120000
	ApplyEnvOverrides(&cfg)

	if cfg.GasLimit != 120000 {
		t.Fatalf("invalid gas limit env must be ignored, got %d", cfg.GasLimit)
	}
	if cfg.AutoSyncInterval != 0 {
		t.Fatalf("invalid autosync env must be ignored, got %s", cfg.AutoSyncInterval)
	}
}

func TestApplyEnvOverridesSeedsAdminGrants(t *testing.T) {
	t.Setenv("KEI_SEED_ADMIN", "0x00000000000000000000000000000000000000a1, 0x00000000000000000000000000000000000000a2")

	cfg := DefaultConfig()
	ApplyEnvOverrides(&cfg)

	if len(cfg.SeedGrants) != 2 {
		t.Fatalf("expected two admin seed grants, got %+v", cfg.SeedGrants)
	}
	for _, grant := range cfg.SeedGrants {
		if grant.Role != "admin" {
			t.Fatalf("expected admin role, got %q", grant.Role)
		}
	}
}

func TestChainConfigParsesAssetsAndBalances(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Assets = append(cfg.Assets, models.AssetInfo{
		Address: "0x4000000000000000000000000000000000000004", Symbol: "USDK", Decimals: 6,
	})
	cfg.InitialBalances = map[string]string{
		"0x4000000000000000000000000000000000000004": "5000000",
	}

	chainCfg, err := cfg.ChainConfig()
	if err != nil {
		t.Fatalf("chain config failed: %v", err)
	}
	if len(chainCfg.Assets) != 1 {
		t.Fatalf("expected one asset, got %d", len(chainCfg.Assets))
	}
	asset := common.HexToAddress("0x4000000000000000000000000000000000000004")
	if chainCfg.Assets[0] != asset {
		t.Fatalf("unexpected asset address: %s", chainCfg.Assets[0].Hex())
	}
	if got := chainCfg.InitialBalances[asset]; got == nil || got.String() != "5000000" {
		t.Fatalf("unexpected initial balance: %v", got)
	}
}

func TestChainConfigRejectsBadAddressAndBalance(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Assets = append(cfg.Assets, models.AssetInfo{Address: "not-an-address", Symbol: "BAD"})
	if _, err := cfg.ChainConfig(); err == nil {
		t.Fatal("expected error for non-hex asset address")
	}

	cfg = DefaultConfig()
	cfg.Assets = append(cfg.Assets, models.AssetInfo{
		Address: "0x4000000000000000000000000000000000000004", Symbol: "USDK", Decimals: 6,
	})
	cfg.InitialBalances = map[string]string{
		"0x4000000000000000000000000000000000000004": "-10",
	}
	if _, err := cfg.ChainConfig(); err == nil {
		t.Fatal("expected error for negative initial balance")
	}
}

func TestSeedGrantMapParsesRoles(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SeedGrants = []SeedGrant{
		{Role: "admin", Account: "0x00000000000000000000000000000000000000a1"},
		{Role: "asset:0x4000000000000000000000000000000000000004", Account: "0x00000000000000000000000000000000000000b2"},
	}

	grants, err := cfg.SeedGrantMap()
	if err != nil {
		t.Fatalf("seed grant map failed: %v", err)
	}
	admins := grants[treasury.AdminRole()]
	if len(admins) != 1 || admins[0] != common.HexToAddress("0x00000000000000000000000000000000000000a1") {
		t.Fatalf("unexpected admin grants: %+v", admins)
	}
	assetRole := treasury.RoleOf(common.HexToAddress("0x4000000000000000000000000000000000000004"))
	if members := grants[assetRole]; len(members) != 1 {
		t.Fatalf("expected one asset role member, got %+v", members)
	}
}

func TestSeedGrantMapRejectsUnknownRole(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SeedGrants = []SeedGrant{{Role: "owner", Account: "0x00000000000000000000000000000000000000a1"}}
	if _, err := cfg.SeedGrantMap(); err == nil {
		t.Fatal("expected error for unknown role name")
	}
}
