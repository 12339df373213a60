package ledger

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps records in memory. Data is lost when the process exits.
type MemoryStore struct {
	mu      sync.RWMutex
	batches map[string]map[string]Record // batchID -> taskID -> record
	updated map[string]time.Time
	closed  bool
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		batches: make(map[string]map[string]Record),
		updated: make(map[string]time.Time),
	}
}

// Save implements Store.
func (m *MemoryStore) Save(_ context.Context, rec Record) error {
	if err := validate(rec); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	batch := m.batches[rec.BatchID]
	if batch == nil {
		batch = make(map[string]Record)
		m.batches[rec.BatchID] = batch
	}

	seq := 1
	for _, r := range batch {
		if r.Sequence >= seq {
			seq = r.Sequence + 1
		}
	}
	rec.Sequence = seq
	batch[rec.TaskID] = rec
	m.updated[rec.BatchID] = time.Now().UTC()
	return nil
}

// Load implements Store.
func (m *MemoryStore) Load(_ context.Context, batchID, taskID string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return Record{}, ErrStoreClosed
	}
	rec, ok := m.batches[batchID][taskID]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

// List implements Store.
func (m *MemoryStore) List(_ context.Context, batchID string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	batch := m.batches[batchID]
	out := make([]Record, 0, len(batch))
	for _, r := range batch {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

// Batches implements Store.
func (m *MemoryStore) Batches(_ context.Context) ([]BatchInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	infos := make([]BatchInfo, 0, len(m.batches))
	for id, batch := range m.batches {
		info := BatchInfo{BatchID: id, Tasks: len(batch), UpdatedAt: m.updated[id]}
		for _, r := range batch {
			if r.Outcome == OutcomeFailed {
				info.Failed++
			}
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool {
		if !infos[i].UpdatedAt.Equal(infos[j].UpdatedAt) {
			return infos[i].UpdatedAt.After(infos[j].UpdatedAt)
		}
		return infos[i].BatchID < infos[j].BatchID
	})
	return infos, nil
}

// DeleteBatch implements Store.
func (m *MemoryStore) DeleteBatch(_ context.Context, batchID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	delete(m.batches, batchID)
	delete(m.updated, batchID)
	return nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.batches = nil
	m.updated = nil
	return nil
}

// Len returns the number of records across all batches.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, batch := range m.batches {
		n += len(batch)
	}
	return n
}
