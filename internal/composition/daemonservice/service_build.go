package daemonservice

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/KEI-finance/treasury-contracts/internal/api"
	"github.com/KEI-finance/treasury-contracts/internal/app"
	"github.com/KEI-finance/treasury-contracts/internal/authgate/callercred"
	"github.com/KEI-finance/treasury-contracts/internal/bootstrap/treasuryconfig"
	"github.com/KEI-finance/treasury-contracts/internal/chain"
	daemoncomposition "github.com/KEI-finance/treasury-contracts/internal/composition/daemon"
	"github.com/KEI-finance/treasury-contracts/internal/keystore"
	"github.com/KEI-finance/treasury-contracts/internal/platform/auditlog"
)

const custodyPassphraseEnv = "KEI_CUSTODY_PASSPHRASE"

// Runtime is the composed daemon: the treasury service plus the
// dependencies the transport needs alongside it.
type Runtime struct {
	Service     *api.Service
	Custody     *keystore.Keystore
	Chain       chain.Client
	Verifier    *callercred.Verifier
	Revocations callercred.RevocationList
	Logger      *slog.Logger
	RPCAddr     string
	DataDir     string
}

// Close releases the chain backend connection. Storage needs no
// teardown; stores persist on every commit.
func (r *Runtime) Close() {
	if r.Chain != nil {
		r.Chain.Close()
	}
}

func newRuntimeWithBundle(cfg treasuryconfig.Config, bundle daemoncomposition.StorageBundle, secret, dataDir, version string) (*Runtime, error) {
	logger := ensureRuntimeLogger(nil)

	chainCfg, err := cfg.ChainConfig()
	if err != nil {
		return nil, err
	}

	custody := keystore.New(bundle.CustodyKeyPath)
	if custody.Exists() {
		if _, err := custody.Unlock(custodyPassphrase(secret)); err != nil {
			return nil, fmt.Errorf("unlock custody keystore: %w", err)
		}
	} else if strings.EqualFold(strings.TrimSpace(cfg.ChainBackend), chain.BackendEth) {
		return nil, fmt.Errorf("custody keystore not found at %s; initialize one with treasury-keytool init", bundle.CustodyKeyPath)
	}

	client, err := chain.New(chainCfg, custody.Signer())
	if err != nil {
		return nil, err
	}

	grants, err := cfg.SeedGrantMap()
	if err != nil {
		client.Close()
		return nil, err
	}
	if len(grants) > 0 {
		seeded, err := bundle.Access.SeedIfEmpty(grants)
		if err != nil {
			client.Close()
			return nil, err
		}
		if seeded {
			logger.Info("access registry seeded", "component", "daemon", "grants", len(cfg.SeedGrants))
		}
	}

	svc, err := api.NewService(app.ServiceOptions{
		Ledger:           bundle.Ledger,
		Journal:          bundle.Journal,
		Access:           bundle.Access,
		Chain:            client,
		Assets:           cfg.Assets,
		AutoSyncInterval: cfg.AutoSyncInterval,
		Version:          version,
		Logger:           logger,
	})
	if err != nil {
		client.Close()
		return nil, err
	}

	verifier, err := buildVerifier(cfg)
	if err != nil {
		client.Close()
		return nil, err
	}
	revocations, err := buildRevocations(cfg, bundle)
	if err != nil {
		client.Close()
		return nil, err
	}

	return &Runtime{
		Service:     svc,
		Custody:     custody,
		Chain:       client,
		Verifier:    verifier,
		Revocations: revocations,
		Logger:      logger,
		RPCAddr:     cfg.RPCAddr,
		DataDir:     dataDir,
	}, nil
}

func ensureRuntimeLogger(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = app.DefaultLogger()
	}
	return slog.New(auditlog.WrapHandler(logger.Handler()))
}

// custodyPassphrase prefers the dedicated env secret and falls back to
// the storage secret for single-secret deployments.
func custodyPassphrase(storageSecret string) string {
	if pass := strings.TrimSpace(os.Getenv(custodyPassphraseEnv)); pass != "" {
		return pass
	}
	return storageSecret
}

// buildVerifier parses the configured issuer keys. No keys means
// credential verification stays off and callers are anonymous.
func buildVerifier(cfg treasuryconfig.Config) (*callercred.Verifier, error) {
	raw := strings.TrimSpace(cfg.IssuerKeys)
	if raw == "" {
		return nil, nil
	}
	keys, err := callercred.ParseIssuerKeys(raw)
	if err != nil {
		return nil, fmt.Errorf("parse credential issuer keys: %w", err)
	}
	return &callercred.Verifier{PublicKeys: keys}, nil
}

func buildRevocations(cfg treasuryconfig.Config, bundle daemoncomposition.StorageBundle) (callercred.RevocationList, error) {
	path := strings.TrimSpace(cfg.RevocationsFile)
	if path == "" {
		path = bundle.RevocationsPath
	}
	revocations := callercred.NewFileRevocations(path)
	if err := revocations.Bootstrap(); err != nil {
		return nil, fmt.Errorf("load credential revocations: %w", err)
	}
	return revocations, nil
}
