package callercred

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// InMemoryRevocations is a revocation list that lives and dies with the
// process. Useful for tests and throwaway environments.
type InMemoryRevocations struct {
	mu      sync.Mutex
	revoked map[string]time.Time
}

func NewInMemoryRevocations() *InMemoryRevocations {
	return &InMemoryRevocations{revoked: map[string]time.Time{}}
}

func (s *InMemoryRevocations) Revoke(credentialID string, at time.Time) (bool, error) {
	if credentialID == "" {
		return false, errors.New("credential id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.revoked[credentialID]; exists {
		return false, nil
	}
	s.revoked[credentialID] = at.UTC()
	return true, nil
}

func (s *InMemoryRevocations) IsRevoked(credentialID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, exists := s.revoked[credentialID]
	return exists
}

// FileRevocations persists revoked credential ids so a revocation holds
// across daemon restarts.
type FileRevocations struct {
	mu      sync.Mutex
	path    string
	revoked map[string]time.Time
}

type revocationsPayload struct {
	Revoked map[string]time.Time `json:"revoked"`
}

func NewFileRevocations(path string) *FileRevocations {
	return &FileRevocations{
		path:    path,
		revoked: map[string]time.Time{},
	}
}

func (s *FileRevocations) Bootstrap() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if strings.TrimSpace(s.path) == "" {
		return errors.New("revocation store path is required")
	}
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.revoked = map[string]time.Time{}
			return nil
		}
		return err
	}
	var payload revocationsPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return err
	}
	if payload.Revoked == nil {
		payload.Revoked = map[string]time.Time{}
	}
	s.revoked = payload.Revoked
	return nil
}

func (s *FileRevocations) Revoke(credentialID string, at time.Time) (bool, error) {
	if credentialID == "" {
		return false, errors.New("credential id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.revoked[credentialID]; exists {
		return false, nil
	}
	s.revoked[credentialID] = at.UTC()
	return true, s.persistLocked()
}

func (s *FileRevocations) IsRevoked(credentialID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, exists := s.revoked[credentialID]
	return exists
}

func (s *FileRevocations) persistLocked() error {
	if strings.TrimSpace(s.path) == "" {
		return errors.New("revocation store path is required")
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	raw, err := json.Marshal(revocationsPayload{Revoked: s.revoked})
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, raw, 0o600)
}
