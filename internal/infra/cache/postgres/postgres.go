// Package postgres implements cache.Store on a cache_records table, for
// deployments where several serving processes share one cache.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx via database/sql
	"github.com/jmoiron/sqlx"

	"github.com/tickerhub/tickerd/internal/infra/cache"
)

// Config holds PostgreSQL connection configuration.
type Config struct {
	URL      string `yaml:"url"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// DB wraps the PostgreSQL connection pool.
type DB struct {
	*sqlx.DB
}

// NewDB opens and pings a connection pool.
func NewDB(ctx context.Context, cfg Config) (*DB, error) {
	db, err := sqlx.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	} else {
		db.SetMaxOpenConns(10)
	}
	if cfg.MinConns > 0 {
		db.SetMaxIdleConns(cfg.MinConns)
	} else {
		db.SetMaxIdleConns(2)
	}
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &DB{DB: db}, nil
}

// Store implements cache.Store using the cache_records table.
type Store struct {
	db *DB
}

func NewStore(db *DB) *Store {
	return &Store{db: db}
}

type recordRow struct {
	Namespace string    `db:"namespace"`
	Key       string    `db:"key"`
	Payload   []byte    `db:"payload"`
	StoredAt  time.Time `db:"stored_at"`
}

func (r recordRow) toRecord() *cache.Record {
	return &cache.Record{
		Namespace: r.Namespace,
		Key:       r.Key,
		Payload:   r.Payload,
		StoredAt:  r.StoredAt,
	}
}

// Put upserts the record. The stored_at guard keeps a slow writer from
// moving the record backwards in time.
func (s *Store) Put(ctx context.Context, namespace, key string, payload []byte) error {
	const query = `
		INSERT INTO cache_records (namespace, key, payload, stored_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (namespace, key) DO UPDATE
		SET payload = EXCLUDED.payload, stored_at = EXCLUDED.stored_at
		WHERE cache_records.stored_at <= EXCLUDED.stored_at`
	if _, err := s.db.ExecContext(ctx, query, namespace, key, payload, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to write cache record: %w", err)
	}
	return nil
}

func (s *Store) GetFresh(ctx context.Context, namespace, key string, ttl time.Duration) (*cache.Record, error) {
	const query = `
		SELECT namespace, key, payload, stored_at FROM cache_records
		WHERE namespace = $1 AND key = $2 AND stored_at > $3`
	var row recordRow
	err := s.db.GetContext(ctx, &row, query, namespace, key, time.Now().UTC().Add(-ttl))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache record: %w", err)
	}
	return row.toRecord(), nil
}

func (s *Store) GetStale(ctx context.Context, namespace, key string) (*cache.Record, error) {
	const query = `
		SELECT namespace, key, payload, stored_at FROM cache_records
		WHERE namespace = $1 AND key = $2`
	var row recordRow
	err := s.db.GetContext(ctx, &row, query, namespace, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache record: %w", err)
	}
	return row.toRecord(), nil
}

func (s *Store) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	const query = `DELETE FROM cache_records WHERE stored_at < $1`
	res, err := s.db.ExecContext(ctx, query, time.Now().UTC().Add(-maxAge))
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired cache records: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted cache records: %w", err)
	}
	return int(n), nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
