package statestore

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for tests and single-node runs.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*Record
	clock   func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*Record),
		clock:   time.Now,
	}
}

// WithClock overrides time for tests.
func (s *MemoryStore) WithClock(clock func() time.Time) *MemoryStore {
	s.clock = clock
	return s
}

func (s *MemoryStore) Get(_ context.Context, key string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		return nil, notFound(key)
	}
	return cloneRecord(rec), nil
}

func (s *MemoryStore) WriteIfVersion(_ context.Context, key string, expectedVersion int64, data json.RawMessage) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.records[key]
	switch {
	case !ok && expectedVersion != 0:
		return nil, conflict(key, expectedVersion, 0)
	case ok && current.Version != expectedVersion:
		return nil, conflict(key, expectedVersion, current.Version)
	}

	rec := &Record{
		Key:       key,
		Version:   expectedVersion + 1,
		Data:      append(json.RawMessage(nil), data...),
		UpdatedAt: s.clock().UTC(),
	}
	s.records[key] = rec
	return cloneRecord(rec), nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[key]; !ok {
		return notFound(key)
	}
	delete(s.records, key)
	return nil
}

func (s *MemoryStore) Keys(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var keys []string
	for k := range s.records {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (s *MemoryStore) Close() error { return nil }

func cloneRecord(rec *Record) *Record {
	out := *rec
	out.Data = append(json.RawMessage(nil), rec.Data...)
	return &out
}
