// Package cache defines the durable key-value store behind the fetch
// orchestrator. Records are addressed by (namespace, key) and carry an opaque
// payload plus the time they were stored. A store never interprets payloads.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Record is one cached entry. Payload is opaque to the store; the caller
// decides its shape.
type Record struct {
	Namespace string          `json:"namespace"`
	Key       string          `json:"key"`
	Payload   json.RawMessage `json:"payload"`
	StoredAt  time.Time       `json:"stored_at"`
}

// Age returns how long ago the record was stored.
func (r *Record) Age(now time.Time) time.Duration {
	return now.Sub(r.StoredAt)
}

// Store is the persistence boundary. All implementations return (nil, nil)
// from the read methods when no record exists: absence is a normal outcome,
// not an error. Errors indicate the store itself is unavailable; callers
// treat those as absence on the read path.
type Store interface {
	// Put writes or overwrites the record for (namespace, key) with
	// StoredAt = now. Concurrent writers race last-writer-wins.
	Put(ctx context.Context, namespace, key string, payload []byte) error

	// GetFresh returns the record only if its age is below ttl.
	GetFresh(ctx context.Context, namespace, key string, ttl time.Duration) (*Record, error)

	// GetStale returns the record regardless of age.
	GetStale(ctx context.Context, namespace, key string) (*Record, error)

	// Cleanup deletes every record older than maxAge and reports how many
	// were removed. Meant for a periodic sweeper, not the hot path.
	Cleanup(ctx context.Context, maxAge time.Duration) (int, error)

	Close() error
}

// FormatAge renders a duration the way an operator reads it: "42s ago",
// "5m ago", "2h ago", "3d ago".
func FormatAge(age time.Duration) string {
	secs := int64(age.Seconds())
	switch {
	case secs < 60:
		return fmt.Sprintf("%ds ago", secs)
	case secs < 3600:
		return fmt.Sprintf("%dm ago", secs/60)
	case secs < 86400:
		return fmt.Sprintf("%dh ago", secs/3600)
	default:
		return fmt.Sprintf("%dd ago", secs/86400)
	}
}
