package daemon

import (
	"path/filepath"

	"github.com/KEI-finance/treasury-contracts/internal/authgate"
	"github.com/KEI-finance/treasury-contracts/internal/storage"
)

// StorageBundle carries the encrypted persistent stores plus the paths
// of state files opened lazily by their owners: the custody keystore
// and the credential revocation list.
type StorageBundle struct {
	Ledger  *storage.ReserveStore
	Journal *storage.EventJournal
	Access  *authgate.Registry

	CustodyKeyPath  string
	RevocationsPath string
}

func BuildStorageBundle(dataDir, secret string) (StorageBundle, error) {
	ledger, err := storage.NewEncryptedPersistentReserveStore(filepath.Join(dataDir, "reserves.json"), secret)
	if err != nil {
		return StorageBundle{}, err
	}
	journal, err := storage.NewEncryptedPersistentEventJournal(filepath.Join(dataDir, "journal.json"), secret)
	if err != nil {
		return StorageBundle{}, err
	}
	access, err := authgate.NewEncryptedPersistentRegistry(filepath.Join(dataDir, "access.json"), secret)
	if err != nil {
		return StorageBundle{}, err
	}

	return StorageBundle{
		Ledger:          ledger,
		Journal:         journal,
		Access:          access,
		CustodyKeyPath:  filepath.Join(dataDir, "custody.key"),
		RevocationsPath: filepath.Join(dataDir, "revoked.json"),
	}, nil
}
