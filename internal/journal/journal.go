// Package journal records every submitted operation and how it settled.
package journal

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Status of a journaled operation.
type Status string

const (
	StatusSubmitted Status = "submitted"
	StatusSettled   Status = "settled"
	StatusFailed    Status = "failed"
)

// Record is one operation, keyed by its reference: the transaction hash
// or the intent id.
type Record struct {
	Reference string    `json:"reference"`
	Backend   string    `json:"backend"`
	Operation string    `json:"operation"`
	LoanID    string    `json:"loanId,omitempty"`
	Status    Status    `json:"status"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store persists records. Get returns nil for unknown references.
type Store interface {
	Put(ctx context.Context, rec Record) error
	Get(ctx context.Context, reference string) (*Record, error)
	ByLoan(ctx context.Context, loanID string) ([]Record, error)
}

// MemoryStore keeps records in process.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]Record)}
}

// Put inserts or updates rec, keeping the original creation time.
func (m *MemoryStore) Put(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.data[rec.Reference]; ok && !prev.CreatedAt.IsZero() {
		rec.CreatedAt = prev.CreatedAt
	}
	m.data[rec.Reference] = rec
	return nil
}

func (m *MemoryStore) Get(_ context.Context, reference string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.data[reference]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *MemoryStore) ByLoan(_ context.Context, loanID string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Record
	for _, rec := range m.data {
		if rec.LoanID == loanID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
