package possync

import (
	"strings"
	"sync"

	"bitbucket.org/mmdatafocus/pos_sync_backend/utils"
)

// CredentialStore holds the edge's current bearer credential.
type CredentialStore struct {
	mu              sync.RWMutex
	token           string
	establishmentId string
}

func NewCredentialStore() *CredentialStore {
	return &CredentialStore{}
}

// Set stores token and returns the establishment it is bound to.
func (s *CredentialStore) Set(token string) (string, error) {
	token = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), "Bearer "))
	if token == "" {
		return "", ErrCredentialMissing
	}
	claims, err := utils.ParseUnverifiedClaims(token)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.token = token
	s.establishmentId = claims.EstablishmentId
	s.mu.Unlock()
	return claims.EstablishmentId, nil
}

func (s *CredentialStore) Clear() {
	s.mu.Lock()
	s.token = ""
	s.establishmentId = ""
	s.mu.Unlock()
}

// Token returns ErrCredentialMissing until a session has started.
func (s *CredentialStore) Token() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == "" {
		return "", ErrCredentialMissing
	}
	return s.token, nil
}

func (s *CredentialStore) EstablishmentId() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.establishmentId
}
