package directory

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Directory for demo/test use.
type MemoryStore struct {
	mu    sync.RWMutex
	tiers map[string]string // accountID → raw customer type ("" when the customer has none)
}

// NewMemoryStore creates an empty in-memory directory.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tiers: make(map[string]string)}
}

// SetAccount registers an account with the raw customer type of its owner.
func (s *MemoryStore) SetAccount(accountID, customerType string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tiers[accountID] = customerType
}

func (s *MemoryStore) TierOf(_ context.Context, accountID string) (Tier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	raw, ok := s.tiers[accountID]
	if !ok {
		return "", ErrAccountNotFound
	}
	return ParseTier(raw), nil
}
