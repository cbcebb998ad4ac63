package store

import (
	"context"
	"fmt"
	"sync"

	"taxdesk/internal/taxpayer/models"
)

// Memory keeps records in process, in insertion order.
type Memory struct {
	mu      sync.RWMutex
	records []models.TaxpayerRecord
	index   map[string]struct{}
	policy  MatchPolicy
}

// NewMemory builds an in-memory backend. Seed records are inserted in order;
// invalid or duplicate seeds are an error.
func NewMemory(policy MatchPolicy, seed ...models.TaxpayerRecord) (*Memory, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	m := &Memory{index: make(map[string]struct{}), policy: policy}
	for _, r := range seed {
		if err := m.Create(context.Background(), r); err != nil {
			return nil, fmt.Errorf("seed %q: %w", r.Identifier, err)
		}
	}
	return m, nil
}

func (m *Memory) List(_ context.Context) ([]models.TaxpayerRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.TaxpayerRecord, len(m.records))
	copy(out, m.records)
	return out, nil
}

func (m *Memory) Search(_ context.Context, term string) ([]models.TaxpayerRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.TaxpayerRecord, 0)
	for _, r := range m.records {
		if m.policy.Matches(r.Identifier, term) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *Memory) Create(_ context.Context, record models.TaxpayerRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.index[record.Identifier]; exists {
		return fmt.Errorf("taxpayer %q: %w", record.Identifier, ErrConflict)
	}
	m.index[record.Identifier] = struct{}{}
	m.records = append(m.records, record)
	return nil
}
