package daemonservice

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/KEI-finance/treasury-contracts/internal/bootstrap/treasuryconfig"
	"github.com/KEI-finance/treasury-contracts/internal/chain"
	"github.com/KEI-finance/treasury-contracts/internal/keystore"
	"github.com/KEI-finance/treasury-contracts/pkg/models"
)

var (
	buildAsset    = common.HexToAddress("0x4000000000000000000000000000000000000004")
	buildOperator = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	buildAdmin    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
)

func memoryRuntimeConfig() treasuryconfig.Config {
	cfg := treasuryconfig.DefaultConfig()
	cfg.Assets = []models.AssetInfo{
		{Address: buildAsset.Hex(), Symbol: "USDK", Decimals: 6},
	}
	cfg.InitialBalances = map[string]string{buildAsset.Hex(): "1000000"}
	cfg.SeedGrants = []treasuryconfig.SeedGrant{
		{Role: "admin", Account: buildAdmin.Hex()},
		{Role: "asset:" + buildAsset.Hex(), Account: buildOperator.Hex()},
	}
	return cfg
}

func clearSecretEnv(t *testing.T) {
	t.Helper()
	t.Setenv("KEI_ENV", "test")
	t.Setenv("KEI_STORAGE_PASSPHRASE", "")
	t.Setenv("KEI_STORAGE_RECOVERY_PASSPHRASE", "")
	t.Setenv("KEI_CUSTODY_PASSPHRASE", "")
}

func TestNewRuntimeForDaemonComposesMemoryBackend(t *testing.T) {
	clearSecretEnv(t)

	rt, err := NewRuntimeForDaemonWithDataDir(memoryRuntimeConfig(), t.TempDir(), "1.2.3-test")
	if err != nil {
		t.Fatalf("compose runtime failed: %v", err)
	}
	defer rt.Close()

	receipt, err := rt.Service.Sync(context.Background(), buildOperator, buildAsset, nil)
	if err != nil {
		t.Fatalf("sync through composed service failed: %v", err)
	}
	if receipt.Received != "1000000" {
		t.Fatalf("expected seeded balance to be absorbed, got %s", receipt.Received)
	}

	status := rt.Service.GetStatus(context.Background())
	if status.Version != "1.2.3-test" {
		t.Fatalf("expected version to flow into status, got %q", status.Version)
	}
	if len(status.Assets) != 1 || status.Assets[0].Symbol != "USDK" {
		t.Fatalf("unexpected status assets: %+v", status.Assets)
	}
	if rt.Verifier != nil {
		t.Fatal("no issuer keys configured, verifier must be nil")
	}
	if rt.Revocations == nil {
		t.Fatal("revocation list must always be wired")
	}
}

func TestNewRuntimeReopensPersistedState(t *testing.T) {
	clearSecretEnv(t)
	dataDir := t.TempDir()
	cfg := memoryRuntimeConfig()

	rt, err := NewRuntimeForDaemonWithDataDir(cfg, dataDir, "dev")
	if err != nil {
		t.Fatalf("first compose failed: %v", err)
	}
	if _, err := rt.Service.Sync(context.Background(), buildOperator, buildAsset, nil); err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	rt.Close()

	reopened, err := NewRuntimeForDaemonWithDataDir(cfg, dataDir, "dev")
	if err != nil {
		t.Fatalf("second compose failed: %v", err)
	}
	defer reopened.Close()

	if got := reopened.Service.Reserves(buildAsset); got != "1000000" {
		t.Fatalf("expected persisted reserve 1000000, got %s", got)
	}
	if events := reopened.Service.Events(0, 10); len(events) == 0 {
		t.Fatal("expected journaled events to survive a restart")
	}
}

func TestNewRuntimeSeedsAccessOnlyOnce(t *testing.T) {
	clearSecretEnv(t)
	dataDir := t.TempDir()

	rt, err := NewRuntimeForDaemonWithDataDir(memoryRuntimeConfig(), dataDir, "dev")
	if err != nil {
		t.Fatalf("first compose failed: %v", err)
	}
	if _, err := rt.Service.Pause(buildAdmin); err != nil {
		t.Fatalf("seeded admin must be able to pause: %v", err)
	}
	rt.Close()

	cfg := memoryRuntimeConfig()
	cfg.SeedGrants = []treasuryconfig.SeedGrant{
		{Role: "admin", Account: "0x00000000000000000000000000000000000000ff"},
	}
	reopened, err := NewRuntimeForDaemonWithDataDir(cfg, dataDir, "dev")
	if err != nil {
		t.Fatalf("second compose failed: %v", err)
	}
	defer reopened.Close()

	intruder := common.HexToAddress("0x00000000000000000000000000000000000000ff")
	if _, err := reopened.Service.Unpause(intruder); err == nil {
		t.Fatal("later seed grants must not apply to a populated registry")
	}
	if _, err := reopened.Service.Unpause(buildAdmin); err != nil {
		t.Fatalf("original admin must survive restart: %v", err)
	}
}

func TestNewRuntimeUnlocksExistingCustodyKeystore(t *testing.T) {
	clearSecretEnv(t)
	// A provisioned custody key counts as existing state, so the
	// storage secret must be explicit.
	t.Setenv("KEI_STORAGE_PASSPHRASE", "storage-pass")
	t.Setenv("KEI_CUSTODY_PASSPHRASE", "custody-pass")
	dataDir := t.TempDir()

	ks := keystore.New(filepath.Join(dataDir, "custody.key"))
	_, created, err := ks.Create("custody-pass")
	if err != nil {
		t.Fatalf("create keystore failed: %v", err)
	}

	rt, err := NewRuntimeForDaemonWithDataDir(memoryRuntimeConfig(), dataDir, "dev")
	if err != nil {
		t.Fatalf("compose with custody keystore failed: %v", err)
	}
	defer rt.Close()

	if rt.Custody.Address() != created {
		t.Fatalf("expected custody address %s, got %s", created.Hex(), rt.Custody.Address().Hex())
	}
}

func TestNewRuntimeRequiresCustodyKeyForEthBackend(t *testing.T) {
	clearSecretEnv(t)

	cfg := memoryRuntimeConfig()
	cfg.ChainBackend = chain.BackendEth
	cfg.ChainRPCURL = "http://127.0.0.1:1"
	cfg.WaitTimeout = time.Second

	_, err := NewRuntimeForDaemonWithDataDir(cfg, t.TempDir(), "dev")
	if err == nil || !strings.Contains(err.Error(), "custody keystore not found") {
		t.Fatalf("expected custody keystore error, got: %v", err)
	}
}

func TestNewRuntimeRejectsMalformedIssuerKeys(t *testing.T) {
	clearSecretEnv(t)

	cfg := memoryRuntimeConfig()
	cfg.IssuerKeys = "not a key list"

	_, err := NewRuntimeForDaemonWithDataDir(cfg, t.TempDir(), "dev")
	if err == nil || !strings.Contains(err.Error(), "issuer keys") {
		t.Fatalf("expected issuer key parse error, got: %v", err)
	}
}
