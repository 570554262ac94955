package alerts

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/mbd888/bankguard/internal/pagination"
)

// MemoryStore is an in-memory Store for demo/test use.
type MemoryStore struct {
	mu     sync.RWMutex
	alerts map[string]*Alert // id → alert
	byTx   map[string]string // transactionID → id
}

// NewMemoryStore creates an empty in-memory alert store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		alerts: make(map[string]*Alert),
		byTx:   make(map[string]string),
	}
}

func (s *MemoryStore) CreateIfAbsent(_ context.Context, a *Alert) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byTx[a.TransactionID]; exists {
		return false, nil
	}
	s.alerts[a.ID] = copyAlert(a)
	s.byTx[a.TransactionID] = a.ID
	return true, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.alerts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyAlert(a), nil
}

func (s *MemoryStore) GetByTransaction(_ context.Context, transactionID string) (*Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byTx[transactionID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyAlert(s.alerts[id]), nil
}

func (s *MemoryStore) List(_ context.Context, f Filter, p pagination.Page) ([]*Alert, int, error) {
	s.mu.RLock()
	keyword := strings.ToLower(f.Keyword)
	var matched []*Alert
	for _, a := range s.alerts {
		if f.Type != "" && a.Type != f.Type {
			continue
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		if keyword != "" && !strings.Contains(strings.ToLower(a.Description), keyword) {
			continue
		}
		matched = append(matched, copyAlert(a))
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return less(matched[i], matched[j]) })
	return pagination.Slice(matched, p), len(matched), nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, id string, change StatusChange) (*Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.alerts[id]
	if !ok {
		return nil, ErrNotFound
	}
	at := change.At
	a.Status = change.Status
	a.ProcessedAt = &at
	a.ProcessedBy = change.Actor
	a.ResolutionNotes = change.Notes
	return copyAlert(a), nil
}

func (s *MemoryStore) ExistsForTransactions(_ context.Context, transactionIDs []string) (map[string]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]bool)
	for _, id := range transactionIDs {
		if _, ok := s.byTx[id]; ok {
			out[id] = true
		}
	}
	return out, nil
}

func copyAlert(a *Alert) *Alert {
	cp := *a
	if a.ProcessedAt != nil {
		t := *a.ProcessedAt
		cp.ProcessedAt = &t
	}
	return &cp
}
