package servicefactory

import (
	"github.com/KEI-finance/treasury-contracts/internal/bootstrap/treasuryconfig"
	"github.com/KEI-finance/treasury-contracts/internal/composition/daemonservice"
)

// BuildDaemonRuntime composes a daemon-ready runtime from config path
// and data dir.
func BuildDaemonRuntime(configPath, dataDir, version string) (*daemonservice.Runtime, error) {
	return daemonservice.NewRuntimeForDaemonWithDataDir(treasuryconfig.LoadFromPath(configPath), dataDir, version)
}
