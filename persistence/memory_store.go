package persistence

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory implementation of Store. Suitable for
// development and testing; records do not survive a restart.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
	closed  bool
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*Record),
	}
}

// Close closes the store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Ping checks if the store is healthy.
func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// SaveInteraction persists one terminal interaction record.
func (s *MemoryStore) SaveInteraction(ctx context.Context, rec *Record) error {
	if rec == nil || rec.ID == "" {
		return ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	clone := *rec
	clone.Metadata = maps.Clone(rec.Metadata)
	s.records[rec.ID] = &clone
	return nil
}

// GetInteractionHistory returns the most recent records for a session.
func (s *MemoryStore) GetInteractionHistory(ctx context.Context, sessionID string, limit int) ([]*Record, error) {
	return s.ExportInteractionData(ctx, Filter{SessionID: sessionID, Limit: limit})
}

// ExportInteractionData returns records matching the filter, newest first.
func (s *MemoryStore) ExportInteractionData(ctx context.Context, filter Filter) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	var out []*Record
	for _, rec := range s.records {
		if filter.Matches(rec) {
			clone := *rec
			out = append(out, &clone)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].ResolvedAt.After(out[j].ResolvedAt)
	})

	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Cleanup removes records resolved earlier than olderThan ago.
func (s *MemoryStore) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrStoreClosed
	}

	cutoff := time.Now().Add(-olderThan)
	count := 0
	for id, rec := range s.records {
		if rec.ResolvedAt.Before(cutoff) {
			delete(s.records, id)
			count++
		}
	}
	return count, nil
}

// Stats returns statistics about the stored records.
func (s *MemoryStore) Stats(ctx context.Context) (*StoreStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	stats := &StoreStats{
		Total:    len(s.records),
		ByStatus: make(map[string]int),
	}
	for _, rec := range s.records {
		stats.ByStatus[rec.Status]++
	}
	return stats, nil
}
