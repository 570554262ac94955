package ledger

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory Reader for demo/test use. Post is the only
// write path and exists so tests and demo mode can seed transactions.
type MemoryStore struct {
	mu   sync.RWMutex
	txs  map[string]*Transaction
	byAc map[string][]*Transaction // accountID → transactions sorted by PostedAt
}

// NewMemoryStore creates an empty in-memory ledger.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		txs:  make(map[string]*Transaction),
		byAc: make(map[string][]*Transaction),
	}
}

// Post records a transaction. Re-posting an existing ID replaces nothing.
func (s *MemoryStore) Post(tx *Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.txs[tx.ID]; exists {
		return
	}
	cp := *tx
	s.txs[cp.ID] = &cp

	list := append(s.byAc[cp.AccountID], &cp)
	sort.SliceStable(list, func(i, j int) bool { return list[i].PostedAt.Before(list[j].PostedAt) })
	s.byAc[cp.AccountID] = list
}

func (s *MemoryStore) ListTransactions(_ context.Context, w Window) ([]*Transaction, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*Transaction
	for _, tx := range s.txs {
		if w.Contains(tx.PostedAt) {
			cp := *tx
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].PostedAt.Equal(result[j].PostedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].PostedAt.Before(result[j].PostedAt)
	})
	return result, nil
}

func (s *MemoryStore) ListAccountTransactions(_ context.Context, accountID string, w Window) ([]*Transaction, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*Transaction
	for _, tx := range s.byAc[accountID] {
		if w.Contains(tx.PostedAt) {
			cp := *tx
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (s *MemoryStore) GetTransaction(_ context.Context, id string) (*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.txs[id]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	cp := *tx
	return &cp, nil
}
