package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hyperjump/quickref/internal/models"
)

// MemoryStore is an in-process RecordStore. It is not durable and is used for
// tests and throwaway sessions.
type MemoryStore struct {
	mu      sync.RWMutex
	records []*models.IssueRecord
	byID    map[string]int
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]int)}
}

func cloneRecord(r *models.IssueRecord) *models.IssueRecord {
	c := *r
	c.TextFields = append([]models.TextField(nil), r.TextFields...)
	if r.Embedding != nil {
		c.Embedding = append([]float32(nil), r.Embedding...)
	}
	return &c
}

func (m *MemoryStore) Append(ctx context.Context, rec *models.IssueRecord) (string, error) {
	if err := prepareAppend(rec); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[rec.ID]; ok {
		return "", fmt.Errorf("%w: %s", ErrDuplicateRecord, rec.ID)
	}
	m.byID[rec.ID] = len(m.records)
	m.records = append(m.records, cloneRecord(rec))
	return rec.ID, nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*models.IssueRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i, ok := m.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}
	return cloneRecord(m.records[i]), nil
}

func (m *MemoryStore) GetMany(_ context.Context, ids []string) (map[string]*models.IssueRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]*models.IssueRecord, len(ids))
	for _, id := range ids {
		if i, ok := m.byID[id]; ok {
			out[id] = cloneRecord(m.records[i])
		}
	}
	return out, nil
}

func (m *MemoryStore) All(ctx context.Context) ([]*models.IssueRecord, error) {
	return m.List(ctx, 0, -1)
}

// List returns a page of records; a negative limit means no limit.
func (m *MemoryStore) List(_ context.Context, offset, limit int) ([]*models.IssueRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if offset < 0 {
		offset = 0
	}
	if offset >= len(m.records) {
		return nil, nil
	}
	end := len(m.records)
	if limit >= 0 && offset+limit < end {
		end = offset + limit
	}
	out := make([]*models.IssueRecord, 0, end-offset)
	for _, r := range m.records[offset:end] {
		out = append(out, cloneRecord(r))
	}
	return out, nil
}

func (m *MemoryStore) Count(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.records)), nil
}

func (m *MemoryStore) SetEmbedding(_ context.Context, id, model string, embedding []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}
	m.records[i].Embedding = append([]float32(nil), embedding...)
	m.records[i].EmbeddingModel = model
	return nil
}

func (m *MemoryStore) AssigneeCounts(_ context.Context) ([]models.AssigneeCount, error) {
	m.mu.RLock()
	counts := make(map[string]int)
	for _, r := range m.records {
		name := r.Assignee
		if name == "" {
			name = models.UnassignedName
		}
		counts[name]++
	}
	m.mu.RUnlock()

	out := make([]models.AssigneeCount, 0, len(counts))
	for name, n := range counts {
		out = append(out, models.AssigneeCount{Name: name, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }
