package storage

import (
	"context"
	"strings"
	"sync"
)

type memoryStore struct {
	mu sync.RWMutex
	m  map[string]Record
}

func NewMemory() Store {
	return &memoryStore{m: map[string]Record{}}
}

func (s *memoryStore) Put(_ context.Context, r Record) error {
	if strings.TrimSpace(r.ID) == "" {
		return errEmptyID
	}
	r.Data = append([]byte(nil), r.Data...)
	s.mu.Lock()
	s.m[r.ID] = r
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) Get(_ context.Context, id string) (Record, error) {
	s.mu.RLock()
	r, ok := s.m[id]
	s.mu.RUnlock()
	if !ok {
		return Record{}, ErrNotFound
	}
	return r, nil
}

func (s *memoryStore) List(_ context.Context) ([]Record, error) {
	s.mu.RLock()
	out := make([]Record, 0, len(s.m))
	for _, r := range s.m {
		out = append(out, r)
	}
	s.mu.RUnlock()
	sortRecords(out)
	return out, nil
}

func (s *memoryStore) Delete(_ context.Context, ids ...string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, id := range ids {
		if _, ok := s.m[id]; ok {
			delete(s.m, id)
			n++
		}
	}
	return n, nil
}

func (s *memoryStore) Close() error { return nil }
