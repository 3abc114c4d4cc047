// Package keystore manages the custody signing key. The key is derived
// deterministically from a bip39 mnemonic, so the custody account is
// recoverable from the phrase alone; at rest the mnemonic lives in a
// passphrase-sealed securestore file.
package keystore

import (
	"crypto/ecdsa"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip39"

	"github.com/KEI-finance/treasury-contracts/internal/securestore"
)

var (
	ErrInvalidMnemonic  = errors.New("invalid mnemonic")
	ErrInvalidPassword  = errors.New("invalid password")
	ErrKeyNotAvailable  = errors.New("custody key is not available")
	ErrPasswordRequired = errors.New("password is required")
	ErrMnemonicRequired = errors.New("mnemonic is required")
	ErrKeystoreExists   = errors.New("keystore file already exists")
	ErrPasswordLocked   = errors.New("password attempts are temporarily locked")
)

type Keystore struct {
	mu             sync.RWMutex
	path           string
	custody        *ecdsa.PrivateKey
	failedAttempts int
	lockedUntil    time.Time
	now            func() time.Time
}

func New(path string) *Keystore {
	return &Keystore{path: path, now: time.Now}
}

func newWithClock(path string, now func() time.Time) *Keystore {
	return &Keystore{path: path, now: now}
}

// Exists reports whether a sealed keystore file is present.
func (k *Keystore) Exists() bool {
	if strings.TrimSpace(k.path) == "" {
		return false
	}
	_, err := os.Stat(k.path)
	return err == nil
}

// Create generates a fresh mnemonic, seals it under the password and
// unlocks the derived custody key. It refuses to overwrite an existing
// keystore; a custody key is not something to clobber.
func (k *Keystore) Create(password string) (string, common.Address, error) {
	if strings.TrimSpace(password) == "" {
		return "", common.Address{}, ErrPasswordRequired
	}
	if k.Exists() {
		return "", common.Address{}, ErrKeystoreExists
	}
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", common.Address{}, err
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", common.Address{}, err
	}
	addr, err := k.Import(mnemonic, password)
	if err != nil {
		return "", common.Address{}, err
	}
	return mnemonic, addr, nil
}

// Import seals the provided mnemonic under the password and unlocks the
// derived custody key.
func (k *Keystore) Import(mnemonic, password string) (common.Address, error) {
	mnemonic = strings.TrimSpace(mnemonic)
	if mnemonic == "" {
		return common.Address{}, ErrMnemonicRequired
	}
	if strings.TrimSpace(password) == "" {
		return common.Address{}, ErrPasswordRequired
	}
	if !bip39.IsMnemonicValid(mnemonic) {
		return common.Address{}, ErrInvalidMnemonic
	}

	seed := bip39.NewSeed(mnemonic, "")
	key, err := deriveCustodyKey(seed)
	zeroBytes(seed)
	if err != nil {
		return common.Address{}, err
	}
	if err := k.persist(mnemonic, password); err != nil {
		return common.Address{}, err
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	k.custody = key
	k.resetPasswordAttemptState()
	return ethcrypto.PubkeyToAddress(key.PublicKey), nil
}

// Unlock opens the sealed keystore and derives the custody key into
// memory. Failed passwords back off exponentially.
func (k *Keystore) Unlock(password string) (common.Address, error) {
	if strings.TrimSpace(password) == "" {
		return common.Address{}, ErrPasswordRequired
	}
	mnemonic, err := k.open(password)
	if err != nil {
		return common.Address{}, err
	}
	seed := bip39.NewSeed(mnemonic, "")
	key, err := deriveCustodyKey(seed)
	zeroBytes(seed)
	if err != nil {
		return common.Address{}, err
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	k.custody = key
	return ethcrypto.PubkeyToAddress(key.PublicKey), nil
}

// Export reveals the mnemonic for backup, guarded by the password.
func (k *Keystore) Export(password string) (string, error) {
	if strings.TrimSpace(password) == "" {
		return "", ErrPasswordRequired
	}
	return k.open(password)
}

// ChangePassword reseals the mnemonic under a new password.
func (k *Keystore) ChangePassword(oldPassword, newPassword string) error {
	oldPassword = strings.TrimSpace(oldPassword)
	newPassword = strings.TrimSpace(newPassword)
	if oldPassword == "" || newPassword == "" {
		return ErrPasswordRequired
	}
	mnemonic, err := k.open(oldPassword)
	if err != nil {
		return err
	}
	return k.persist(mnemonic, newPassword)
}

// Signer returns the unlocked custody key, nil while locked.
func (k *Keystore) Signer() *ecdsa.PrivateKey {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.custody
}

// Address returns the custody account, zero while locked.
func (k *Keystore) Address() common.Address {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.custody == nil {
		return common.Address{}
	}
	return ethcrypto.PubkeyToAddress(k.custody.PublicKey)
}

func (k *Keystore) open(password string) (string, error) {
	k.mu.Lock()
	if err := k.ensureUnlockedLocked(); err != nil {
		k.mu.Unlock()
		return "", err
	}
	k.mu.Unlock()

	if !k.Exists() {
		return "", ErrKeyNotAvailable
	}
	plaintext, err := securestore.ReadDecryptedFile(k.path, password)
	if err != nil {
		k.mu.Lock()
		defer k.mu.Unlock()
		k.onFailedPasswordAttemptLocked()
		return "", ErrInvalidPassword
	}

	k.mu.Lock()
	k.resetPasswordAttemptState()
	k.mu.Unlock()

	mnemonic := strings.TrimSpace(string(plaintext))
	if !bip39.IsMnemonicValid(mnemonic) {
		return "", ErrInvalidMnemonic
	}
	return mnemonic, nil
}

func (k *Keystore) persist(mnemonic, password string) error {
	if strings.TrimSpace(k.path) == "" {
		return errors.New("keystore path is required")
	}
	sealed, err := securestore.Encrypt(password, []byte(mnemonic))
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(k.path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(k.path, sealed, 0o600)
}

func (k *Keystore) ensureUnlockedLocked() error {
	if k.lockedUntil.IsZero() {
		return nil
	}
	if k.now().Before(k.lockedUntil) {
		return ErrPasswordLocked
	}
	return nil
}

func (k *Keystore) onFailedPasswordAttemptLocked() {
	k.failedAttempts++
	k.lockedUntil = k.now().Add(failedAttemptBackoff(k.failedAttempts))
}

func (k *Keystore) resetPasswordAttemptState() {
	k.failedAttempts = 0
	k.lockedUntil = time.Time{}
}

func failedAttemptBackoff(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	// 1s, 2s, 4s... up to 32s max.
	shift := attempt - 1
	if shift > 5 {
		shift = 5
	}
	return time.Second * time.Duration(1<<shift)
}
