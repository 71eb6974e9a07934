package procurement

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory store for development and testing.
type MemoryStore struct {
	mu      sync.RWMutex
	nextID  int64
	txs     map[int64]*Transaction
	results map[int64]*Result
}

// NewMemoryStore creates an in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		txs:     make(map[int64]*Transaction),
		results: make(map[int64]*Result),
	}
}

func (m *MemoryStore) InsertTransactions(_ context.Context, txs []*Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	for _, tx := range txs {
		m.nextID++
		tx.ID = m.nextID
		tx.CreatedAt = now
		cp := *tx
		m.txs[tx.ID] = &cp
	}
	return nil
}

func (m *MemoryStore) ListTransactions(_ context.Context) ([]*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Transaction, 0, len(m.txs))
	for _, tx := range m.txs {
		cp := *tx
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) ReplaceResults(_ context.Context, results []*Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := make(map[int64]*Result, len(results))
	for _, r := range results {
		if _, ok := m.txs[r.TransactionID]; !ok {
			return fmt.Errorf("result for transaction %d: %w", r.TransactionID, ErrNotFound)
		}
		cp := *r
		cp.Reasons = append([]string(nil), r.Reasons...)
		next[r.TransactionID] = &cp
	}
	m.results = next
	return nil
}

func (m *MemoryStore) ListResults(_ context.Context) ([]*Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Result, 0, len(m.results))
	for _, r := range m.results {
		cp := *r
		cp.Reasons = append([]string(nil), r.Reasons...)
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TransactionID < out[j].TransactionID })
	return out, nil
}

func (m *MemoryStore) Ping(_ context.Context) error {
	return nil
}
