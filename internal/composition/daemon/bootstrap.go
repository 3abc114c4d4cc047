package daemon

import (
	"errors"
	"fmt"
	"strings"

	"github.com/KEI-finance/treasury-contracts/internal/securestore"
)

const DefaultDataDir = "data"

// ResolveStorage resolves the data directory and storage secret, then
// opens the encrypted stores. When the resolved secret cannot open
// existing state it retries once with the operator-supplied recovery
// secret and re-persists storage.key with it, so a botched rotation can
// be unwound without hand-editing files.
func ResolveStorage(dataDir string) (resolvedDir, secret string, bundle StorageBundle, err error) {
	resolvedDir = strings.TrimSpace(dataDir)
	if resolvedDir == "" {
		resolvedDir = DefaultDataDir
	}

	secret, err = StoragePassphrase(resolvedDir)
	if err != nil {
		if !errors.Is(err, ErrStorageSecretRequired) {
			return "", "", StorageBundle{}, err
		}
		secret = RecoverySecret()
		if secret == "" {
			return "", "", StorageBundle{}, err
		}
		if werr := WriteStorageKey(resolvedDir, secret); werr != nil {
			return "", "", StorageBundle{}, werr
		}
	}

	bundle, err = BuildStorageBundle(resolvedDir, secret)
	if err == nil {
		return resolvedDir, secret, bundle, nil
	}
	if !errors.Is(err, securestore.ErrAuthFailed) {
		return "", "", StorageBundle{}, err
	}
	recovery := RecoverySecret()
	if recovery == "" || recovery == secret {
		return "", "", StorageBundle{}, fmt.Errorf(
			"storage authentication failed: set %s to the correct secret or %s for explicit recovery: %w",
			storagePassphraseEnv,
			recoverySecretEnv,
			err,
		)
	}
	if werr := WriteStorageKey(resolvedDir, recovery); werr != nil {
		return "", "", StorageBundle{}, werr
	}
	bundle, err = BuildStorageBundle(resolvedDir, recovery)
	if err != nil {
		return "", "", StorageBundle{}, err
	}
	return resolvedDir, recovery, bundle, nil
}
