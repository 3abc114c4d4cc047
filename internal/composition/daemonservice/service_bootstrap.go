package daemonservice

import (
	"strings"

	"github.com/KEI-finance/treasury-contracts/internal/bootstrap/treasuryconfig"
	daemoncomposition "github.com/KEI-finance/treasury-contracts/internal/composition/daemon"
)

func NewRuntimeForDaemon(cfg treasuryconfig.Config, version string) (*Runtime, error) {
	return NewRuntimeForDaemonWithDataDir(cfg, cfg.DataDir, version)
}

// NewRuntimeForDaemonWithDataDir resolves encrypted storage under the
// data dir and composes the service on top of it. An explicit dataDir
// wins over the configured one.
func NewRuntimeForDaemonWithDataDir(cfg treasuryconfig.Config, dataDir, version string) (*Runtime, error) {
	if strings.TrimSpace(dataDir) == "" {
		dataDir = cfg.DataDir
	}
	resolvedDir, secret, bundle, err := daemoncomposition.ResolveStorage(dataDir)
	if err != nil {
		return nil, err
	}
	return newRuntimeWithBundle(cfg, bundle, secret, resolvedDir, version)
}
