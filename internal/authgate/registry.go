// Package authgate owns role membership and the process-wide pause
// flag. The registry is the single authority the engine consults; role
// lifecycle (grant, revoke, pause) goes through it and persists before
// becoming observable.
package authgate

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/KEI-finance/treasury-contracts/internal/securestore"
	"github.com/KEI-finance/treasury-contracts/internal/treasury"
)

var ErrZeroAccount = errors.New("account is the zero address")

// Registry is a persistent role membership table plus the pause flag.
type Registry struct {
	mu     sync.RWMutex
	grants map[treasury.Role]map[common.Address]bool
	paused bool
	path   string
	secret string
}

func NewRegistry() *Registry {
	return &Registry{grants: make(map[treasury.Role]map[common.Address]bool)}
}

func NewPersistentRegistry(path string) (*Registry, error) {
	return NewEncryptedPersistentRegistry(path, "")
}

func NewEncryptedPersistentRegistry(path, passphrase string) (*Registry, error) {
	r := &Registry{
		grants: make(map[treasury.Role]map[common.Address]bool),
		path:   path,
		secret: passphrase,
	}
	if err := r.load(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) HasRole(role treasury.Role, account common.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.grants[role][account]
}

func (r *Registry) IsPaused() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.paused
}

// Grant adds the account to the role. It reports whether membership
// changed; granting an existing member changes nothing.
func (r *Registry) Grant(role treasury.Role, account common.Address) (bool, error) {
	if account == (common.Address{}) {
		return false, ErrZeroAccount
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.grants[role][account] {
		return false, nil
	}
	next := cloneGrants(r.grants)
	if next[role] == nil {
		next[role] = make(map[common.Address]bool)
	}
	next[role][account] = true
	if err := r.persistSnapshotLocked(next, r.paused); err != nil {
		return false, err
	}
	r.grants = next
	return true, nil
}

// Revoke removes the account from the role. It reports whether
// membership changed.
func (r *Registry) Revoke(role treasury.Role, account common.Address) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.grants[role][account] {
		return false, nil
	}
	next := cloneGrants(r.grants)
	delete(next[role], account)
	if len(next[role]) == 0 {
		delete(next, role)
	}
	if err := r.persistSnapshotLocked(next, r.paused); err != nil {
		return false, err
	}
	r.grants = next
	return true, nil
}

// SetPaused flips the pause flag. It reports whether the flag changed.
func (r *Registry) SetPaused(paused bool) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.paused == paused {
		return false, nil
	}
	if err := r.persistSnapshotLocked(r.grants, paused); err != nil {
		return false, err
	}
	r.paused = paused
	return true, nil
}

// SeedIfEmpty applies bootstrap grants on first start. A registry that
// already holds any grant is left untouched, so revocations survive
// restarts.
func (r *Registry) SeedIfEmpty(grants map[treasury.Role][]common.Address) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.grants) > 0 {
		return false, nil
	}
	next := make(map[treasury.Role]map[common.Address]bool, len(grants))
	for role, accounts := range grants {
		for _, account := range accounts {
			if account == (common.Address{}) {
				return false, ErrZeroAccount
			}
			if next[role] == nil {
				next[role] = make(map[common.Address]bool)
			}
			next[role][account] = true
		}
	}
	if len(next) == 0 {
		return false, nil
	}
	if err := r.persistSnapshotLocked(next, r.paused); err != nil {
		return false, err
	}
	r.grants = next
	return true, nil
}

// Members lists the accounts holding the role in a stable order.
func (r *Registry) Members(role treasury.Role) []common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]common.Address, 0, len(r.grants[role]))
	for account := range r.grants[role] {
		out = append(out, account)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i][:], out[j][:]) < 0
	})
	return out
}

// Snapshot returns all grants, for the status endpoint.
func (r *Registry) Snapshot() map[treasury.Role][]common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[treasury.Role][]common.Address, len(r.grants))
	for role, accounts := range r.grants {
		members := make([]common.Address, 0, len(accounts))
		for account := range accounts {
			members = append(members, account)
		}
		sort.Slice(members, func(i, j int) bool {
			return bytes.Compare(members[i][:], members[j][:]) < 0
		})
		out[role] = members
	}
	return out
}

func (r *Registry) load() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.path == "" {
		return nil
	}
	data, err := os.ReadFile(r.path)
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
	if r.secret != "" {
		decoded, err = securestore.Decrypt(r.secret, data)
		if err != nil {
			if errors.Is(err, securestore.ErrLegacyData) {
				decoded = data
			} else {
				return err
			}
		}
	}

	var snapshot struct {
		Paused bool                `json:"paused"`
		Roles  map[string][]string `json:"roles"`
	}
	if err := json.Unmarshal(decoded, &snapshot); err != nil {
		return err
	}
	r.paused = snapshot.Paused
	for rawRole, rawAccounts := range snapshot.Roles {
		role, err := treasury.ParseRole(rawRole)
		if err != nil {
			return fmt.Errorf("role snapshot: %w", err)
		}
		for _, rawAccount := range rawAccounts {
			if !common.IsHexAddress(rawAccount) {
				return fmt.Errorf("role snapshot: invalid account %q", rawAccount)
			}
			if r.grants[role] == nil {
				r.grants[role] = make(map[common.Address]bool)
			}
			r.grants[role][common.HexToAddress(rawAccount)] = true
		}
	}
	return nil
}

func (r *Registry) persistSnapshotLocked(grants map[treasury.Role]map[common.Address]bool, paused bool) error {
	if r.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0o700); err != nil {
		return err
	}
	snapshot := struct {
		Paused bool                `json:"paused"`
		Roles  map[string][]string `json:"roles"`
	}{Paused: paused, Roles: make(map[string][]string, len(grants))}
	for role, accounts := range grants {
		members := make([]string, 0, len(accounts))
		for account := range accounts {
			members = append(members, account.Hex())
		}
		sort.Strings(members)
		snapshot.Roles[role.String()] = members
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	if r.secret != "" {
		data, err = securestore.Encrypt(r.secret, data)
		if err != nil {
			return err
		}
	}
	return os.WriteFile(r.path, data, 0o600)
}

func cloneGrants(in map[treasury.Role]map[common.Address]bool) map[treasury.Role]map[common.Address]bool {
	out := make(map[treasury.Role]map[common.Address]bool, len(in))
	for role, accounts := range in {
		members := make(map[common.Address]bool, len(accounts))
		for account, ok := range accounts {
			members[account] = ok
		}
		out[role] = members
	}
	return out
}
