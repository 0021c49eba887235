package store

import (
	"context"
	"sync"
)

// MemoryStore is a thread-safe in-memory Store.
type MemoryStore struct {
	mu        sync.RWMutex
	raw       map[string]RawRecord
	processed map[string]ProcessedRecord
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		raw:       make(map[string]RawRecord),
		processed: make(map[string]ProcessedRecord),
	}
}

func (s *MemoryStore) Raw(_ context.Context, id string) (RawRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.raw[id]
	return rec, ok, nil
}

func (s *MemoryStore) PutRaw(_ context.Context, rec RawRecord) error {
	s.mu.Lock()
	s.raw[rec.ID] = rec
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Processed(_ context.Context, id string) (ProcessedRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.processed[id]
	return rec, ok, nil
}

func (s *MemoryStore) ProcessedMany(_ context.Context, ids []string) (map[string]ProcessedRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]ProcessedRecord, len(ids))
	for _, id := range ids {
		if rec, ok := s.processed[id]; ok {
			out[id] = rec
		}
	}
	return out, nil
}

func (s *MemoryStore) UpsertDescription(_ context.Context, id, cleanMessage, description string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.processed[id]
	rec.ID = id
	rec.CleanMessage = cleanMessage
	rec.Description = description
	rec.UpdatedAt = now()
	s.processed[id] = rec
	return nil
}

func (s *MemoryStore) SetClassification(_ context.Context, id, emotion, category string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.processed[id]
	if !ok {
		return ErrNotFound
	}
	rec.Emotion = emotion
	rec.Category = category
	rec.UpdatedAt = now()
	s.processed[id] = rec
	return nil
}

func (s *MemoryStore) Close() error { return nil }
