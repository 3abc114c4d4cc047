package daemon

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const (
	storagePassphraseEnv = "KEI_STORAGE_PASSPHRASE"
	recoverySecretEnv    = "KEI_STORAGE_RECOVERY_PASSPHRASE"
	storageKeyWrappedEnv = "KEI_STORAGE_KEY_WRAPPED"
)

var ErrStorageSecretRequired = errors.New("existing treasury state requires an explicit storage secret")
var ErrInsecureStorageKeyMode = errors.New("insecure storage key mode is forbidden in production")

// StoragePassphrase resolves the secret protecting the encrypted state
// files: environment first, then the storage.key file, then a fresh
// generated secret when the data dir holds no prior state. Generating a
// new secret over existing encrypted files would lock them out, so that
// case demands an explicit secret instead.
func StoragePassphrase(dataDir string) (string, error) {
	if secret := strings.TrimSpace(os.Getenv(storagePassphraseEnv)); secret != "" {
		return secret, nil
	}
	keyPath := filepath.Join(dataDir, "storage.key")
	existing, err := os.ReadFile(keyPath)
	if err == nil {
		if secret := strings.TrimSpace(string(existing)); secret != "" {
			if policyErr := enforceStorageKeyPolicy("file"); policyErr != nil {
				return "", policyErr
			}
			return secret, nil
		}
	}
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", err
	}
	if policyErr := enforceStorageKeyPolicy("auto-generate"); policyErr != nil {
		return "", policyErr
	}
	if hasPersistentTreasuryData(dataDir) {
		return "", fmt.Errorf(
			"%w: set %s to the current secret or %s for explicit recovery",
			ErrStorageSecretRequired,
			storagePassphraseEnv,
			recoverySecretEnv,
		)
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	secret := base64.RawStdEncoding.EncodeToString(buf)
	if err := WriteStorageKey(dataDir, secret); err != nil {
		return "", err
	}
	return secret, nil
}

func WriteStorageKey(dataDir, secret string) error {
	if policyErr := enforceStorageKeyPolicy("write-file"); policyErr != nil {
		return policyErr
	}
	keyPath := filepath.Join(dataDir, "storage.key")
	if err := os.MkdirAll(filepath.Dir(keyPath), 0o700); err != nil {
		return err
	}
	return os.WriteFile(keyPath, []byte(secret), 0o600)
}

// RecoverySecret returns the operator-supplied previous secret used to
// reopen state after a passphrase rotation went wrong.
func RecoverySecret() string {
	return strings.TrimSpace(os.Getenv(recoverySecretEnv))
}

func hasPersistentTreasuryData(dataDir string) bool {
	paths := []string{
		filepath.Join(dataDir, "reserves.json"),
		filepath.Join(dataDir, "journal.json"),
		filepath.Join(dataDir, "access.json"),
		filepath.Join(dataDir, "custody.key"),
	}
	for _, p := range paths {
		info, err := os.Stat(p)
		if err == nil && !info.IsDir() && info.Size() > 0 {
			return true
		}
	}
	return false
}

func enforceStorageKeyPolicy(source string) error {
	if !isProductionEnv() {
		return nil
	}
	if source == "auto-generate" {
		return fmt.Errorf(
			"%w: production requires %s or an OS-keystore-wrapped key flow; raw storage.key generation is disabled",
			ErrInsecureStorageKeyMode,
			storagePassphraseEnv,
		)
	}
	wrapped, _ := parseBoolEnv(storageKeyWrappedEnv)
	if wrapped {
		return nil
	}
	return fmt.Errorf(
		"%w: raw storage.key is forbidden in production; set %s or enable the wrapped key flow (%s=true)",
		ErrInsecureStorageKeyMode,
		storagePassphraseEnv,
		storageKeyWrappedEnv,
	)
}

func isProductionEnv() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("KEI_ENV"))) {
	case "prod", "production":
		return true
	default:
		return false
	}
}

func parseBoolEnv(name string) (bool, bool) {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(name)))
	switch v {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	default:
		return false, false
	}
}
