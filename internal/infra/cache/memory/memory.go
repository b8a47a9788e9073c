// Package memory implements cache.Store in-process, for tests and dev runs.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/tickerhub/tickerd/internal/infra/cache"
)

type Store struct {
	mu      sync.RWMutex
	records map[string]*cache.Record
	now     func() time.Time
}

func NewStore() *Store {
	return &Store{
		records: make(map[string]*cache.Record),
		now:     time.Now,
	}
}

func recordKey(namespace, key string) string {
	return namespace + "\x00" + key
}

func (s *Store) Put(ctx context.Context, namespace, key string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	storedAt := s.now().UTC()
	k := recordKey(namespace, key)
	// stored_at never moves backward; a slow writer loses to a newer record.
	if prev, ok := s.records[k]; ok && prev.StoredAt.After(storedAt) {
		return nil
	}
	buf := make([]byte, len(payload))
	copy(buf, payload)
	s.records[k] = &cache.Record{
		Namespace: namespace,
		Key:       key,
		Payload:   buf,
		StoredAt:  storedAt,
	}
	return nil
}

func (s *Store) GetFresh(ctx context.Context, namespace, key string, ttl time.Duration) (*cache.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[recordKey(namespace, key)]
	if !ok || rec.Age(s.now()) >= ttl {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (s *Store) GetStale(ctx context.Context, namespace, key string) (*cache.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[recordKey(namespace, key)]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (s *Store) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-maxAge)
	deleted := 0
	for k, rec := range s.records {
		if rec.StoredAt.Before(cutoff) {
			delete(s.records, k)
			deleted++
		}
	}
	return deleted, nil
}

func (s *Store) Close() error { return nil }

// SetStoredAt backdates a record. Test helper.
func (s *Store) SetStoredAt(namespace, key string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[recordKey(namespace, key)]; ok {
		rec.StoredAt = at
	}
}
