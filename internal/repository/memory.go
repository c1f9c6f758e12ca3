package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/joseph-ayodele/docflow/internal/common"
	"github.com/joseph-ayodele/docflow/internal/entity"
)

// MemoryStore keeps records in process. Callers always get copies.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[entity.RecordKey]*entity.JobRecord
	puts    int
}

var _ RecordStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: map[entity.RecordKey]*entity.JobRecord{}}
}

func (m *MemoryStore) Get(_ context.Context, key entity.RecordKey) (*entity.JobRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[key]
	if !ok {
		return nil, common.ErrRecordNotFound
	}
	return rec.Clone(), nil
}

func (m *MemoryStore) Put(_ context.Context, rec *entity.JobRecord) error {
	if rec == nil || rec.DocumentID == "" || rec.Model == "" {
		return fmt.Errorf("put record: %w", common.ErrInvalidInput)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.Key()] = rec.Clone()
	m.puts++
	return nil
}

func (m *MemoryStore) List(_ context.Context) ([]*entity.JobRecord, error) {
	return m.list(func(*entity.JobRecord) bool { return true }), nil
}

func (m *MemoryStore) ListUnsettled(_ context.Context) ([]*entity.JobRecord, error) {
	return m.list(func(r *entity.JobRecord) bool { return !r.Settled() }), nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

// Puts counts writes, for tests that assert nothing was rewritten.
func (m *MemoryStore) Puts() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.puts
}

func (m *MemoryStore) list(keep func(*entity.JobRecord) bool) []*entity.JobRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*entity.JobRecord, 0, len(m.records))
	for _, r := range m.records {
		if keep(r) {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.Before(out[j].UpdatedAt)
		}
		if out[i].DocumentID != out[j].DocumentID {
			return out[i].DocumentID < out[j].DocumentID
		}
		return out[i].Model < out[j].Model
	})
	return out
}
