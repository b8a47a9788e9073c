// Package file implements cache.Store as one JSON document per record, so an
// operator can inspect or delete entries with nothing but ls and cat.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tickerhub/tickerd/internal/infra/cache"
)

// Config holds file store settings.
type Config struct {
	Dir string `yaml:"dir"`
}

// Store keeps each record in <dir>/<namespace>_<key>.json.
type Store struct {
	dir string
	log *slog.Logger
	now func() time.Time
}

// NewStore creates the cache directory if needed.
func NewStore(cfg Config, log *slog.Logger) (*Store, error) {
	if cfg.Dir == "" {
		return nil, errors.New("file cache: dir is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache dir: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Store{dir: cfg.Dir, log: log, now: time.Now}, nil
}

func (s *Store) path(namespace, key string) string {
	name := sanitize(namespace) + "_" + sanitize(key) + ".json"
	return filepath.Join(s.dir, name)
}

// sanitize keeps file names flat even if a key carries path characters.
func sanitize(part string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', 0:
			return '-'
		}
		return r
	}, part)
}

// Put writes the record atomically: temp file in the same directory, then
// rename. A reader never observes a half-written record.
func (s *Store) Put(ctx context.Context, namespace, key string, payload []byte) error {
	rec := cache.Record{
		Namespace: namespace,
		Key:       key,
		Payload:   payload,
		StoredAt:  s.now().UTC(),
	}
	// stored_at never moves backward; a slow writer loses to a newer record.
	if prev := s.read(namespace, key); prev != nil && prev.StoredAt.After(rec.StoredAt) {
		return nil
	}
	data, err := json.Marshal(&rec)
	if err != nil {
		return fmt.Errorf("failed to encode cache record: %w", err)
	}

	dst := s.path(namespace, key)
	tmp, err := os.CreateTemp(s.dir, ".put-*")
	if err != nil {
		return fmt.Errorf("failed to create temp cache file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close cache file: %w", err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to publish cache file: %w", err)
	}
	return nil
}

// GetFresh returns the record only while it is younger than ttl. A missing or
// corrupt file is a miss, not an error.
func (s *Store) GetFresh(ctx context.Context, namespace, key string, ttl time.Duration) (*cache.Record, error) {
	rec := s.read(namespace, key)
	if rec == nil {
		return nil, nil
	}
	if rec.Age(s.now()) >= ttl {
		return nil, nil
	}
	return rec, nil
}

// GetStale returns the record regardless of age.
func (s *Store) GetStale(ctx context.Context, namespace, key string) (*cache.Record, error) {
	return s.read(namespace, key), nil
}

func (s *Store) read(namespace, key string) *cache.Record {
	data, err := os.ReadFile(s.path(namespace, key))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.log.Warn("cache file unreadable", "namespace", namespace, "key", key, "error", err)
		}
		return nil
	}
	var rec cache.Record
	if err := json.Unmarshal(data, &rec); err != nil || rec.StoredAt.IsZero() {
		s.log.Warn("cache file corrupted", "namespace", namespace, "key", key, "error", err)
		return nil
	}
	return &rec
}

// Cleanup deletes every record older than maxAge. Files it cannot parse are
// deleted too; they can never be served again anyway.
func (s *Store) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to list cache dir: %w", err)
	}

	cutoff := s.now().Add(-maxAge)
	deleted := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())

		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var rec cache.Record
		if err := json.Unmarshal(data, &rec); err != nil || rec.StoredAt.IsZero() {
			if os.Remove(path) == nil {
				deleted++
			}
			continue
		}
		if rec.StoredAt.Before(cutoff) {
			if os.Remove(path) == nil {
				deleted++
			}
		}
	}
	return deleted, nil
}

func (s *Store) Close() error { return nil }
