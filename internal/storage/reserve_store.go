// Package storage persists treasury state as JSON snapshots, optionally
// sealed with securestore. Stores follow a clone-persist-commit
// discipline: a mutation builds the next state, persists it, and only
// then makes it observable. A failed persist leaves the prior state.
package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/KEI-finance/treasury-contracts/internal/securestore"
)

var ErrNegativeReserve = errors.New("reserve must not be negative")

// ReserveStore tracks the committed reserve per asset. Amounts are held
// as big integers in the asset's smallest unit; snapshots serialize them
// as decimal strings keyed by checksummed asset address.
type ReserveStore struct {
	mu       sync.RWMutex
	reserves map[common.Address]*big.Int
	path     string
	secret   string
}

func NewReserveStore() *ReserveStore {
	return &ReserveStore{reserves: make(map[common.Address]*big.Int)}
}

func NewPersistentReserveStore(path string) (*ReserveStore, error) {
	return NewEncryptedPersistentReserveStore(path, "")
}

func NewEncryptedPersistentReserveStore(path, passphrase string) (*ReserveStore, error) {
	s := &ReserveStore{
		reserves: make(map[common.Address]*big.Int),
		path:     path,
		secret:   passphrase,
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reserve returns the tracked reserve for the asset, zero if never set.
func (s *ReserveStore) Reserve(asset common.Address) *big.Int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r, ok := s.reserves[asset]; ok {
		return new(big.Int).Set(r)
	}
	return new(big.Int)
}

// SetReserve commits a new reserve value. Zero is a valid reserve and
// keeps the asset listed; negative values are rejected.
func (s *ReserveStore) SetReserve(asset common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrNegativeReserve
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	next := cloneReserves(s.reserves)
	next[asset] = new(big.Int).Set(amount)
	if err := s.persistSnapshotLocked(next); err != nil {
		return err
	}
	s.reserves = next
	return nil
}

// Assets lists every asset the store has a reserve entry for, in a
// stable address order.
func (s *ReserveStore) Assets() []common.Address {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]common.Address, 0, len(s.reserves))
	for asset := range s.reserves {
		out = append(out, asset)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i][:], out[j][:]) < 0
	})
	return out
}

// Snapshot returns a copy of all tracked reserves.
func (s *ReserveStore) Snapshot() map[common.Address]*big.Int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneReserves(s.reserves)
}

func (s *ReserveStore) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.path == "" {
		return nil
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if len(data) == 0 {
		return nil
	}
	decoded := data
	if s.secret != "" {
		decoded, err = securestore.Decrypt(s.secret, data)
		if err != nil {
			if errors.Is(err, securestore.ErrLegacyData) {
				decoded = data
			} else {
				return err
			}
		}
	}

	var snapshot struct {
		Reserves map[string]string `json:"reserves"`
	}
	if err := json.Unmarshal(decoded, &snapshot); err != nil {
		return err
	}
	for rawAddr, rawAmount := range snapshot.Reserves {
		if !common.IsHexAddress(rawAddr) {
			return fmt.Errorf("reserve snapshot: invalid asset address %q", rawAddr)
		}
		amount, ok := new(big.Int).SetString(rawAmount, 10)
		if !ok || amount.Sign() < 0 {
			return fmt.Errorf("reserve snapshot: invalid amount %q for asset %s", rawAmount, rawAddr)
		}
		s.reserves[common.HexToAddress(rawAddr)] = amount
	}
	return nil
}

func (s *ReserveStore) persistSnapshotLocked(reserves map[common.Address]*big.Int) error {
	if s.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	snapshot := struct {
		Reserves map[string]string `json:"reserves"`
	}{Reserves: make(map[string]string, len(reserves))}
	for asset, amount := range reserves {
		snapshot.Reserves[asset.Hex()] = amount.String()
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	if s.secret != "" {
		data, err = securestore.Encrypt(s.secret, data)
		if err != nil {
			return err
		}
	}
	return os.WriteFile(s.path, data, 0o600)
}

func cloneReserves(in map[common.Address]*big.Int) map[common.Address]*big.Int {
	out := make(map[common.Address]*big.Int, len(in))
	for k, v := range in {
		out[k] = new(big.Int).Set(v)
	}
	return out
}
