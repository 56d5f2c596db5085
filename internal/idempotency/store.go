// Package idempotency guards against processing the same gateway message
// twice. Membership testing and marking are atomic Redis operations, not
// a read-then-write cache.
package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	seenTTL      = 24 * time.Hour
	processedTTL = 24 * time.Hour
)

type Store struct {
	rdb *redis.Client
}

func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

func seenKey(id string) string      { return "idempotency:seen:" + id }
func processedKey(id string) string { return "idempotency:processed:" + id }

// Seen reports whether id has already been marked seen.
func (s *Store) Seen(ctx context.Context, id string) (bool, error) {
	n, err := s.rdb.Exists(ctx, seenKey(id)).Result()
	if err != nil {
		return false, fmt.Errorf("check seen: %w", err)
	}
	return n > 0, nil
}

// MarkSeen atomically records id as seen with the given TTL (or the
// default 24h floor if ttl is zero), returning true if this call is the
// one that first claimed it.
func (s *Store) MarkSeen(ctx context.Context, id string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = seenTTL
	}
	ok, err := s.rdb.SetNX(ctx, seenKey(id), time.Now().UTC().Format(time.RFC3339Nano), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("mark seen: %w", err)
	}
	return ok, nil
}

// MarkProcessed records that id's processing completed, independent of
// the seen marker, so duplicate-reply guards in the worker can check it.
func (s *Store) MarkProcessed(ctx context.Context, id string) error {
	if err := s.rdb.Set(ctx, processedKey(id), "1", processedTTL).Err(); err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	return nil
}

// Processed reports whether id has already completed processing.
func (s *Store) Processed(ctx context.Context, id string) (bool, error) {
	n, err := s.rdb.Exists(ctx, processedKey(id)).Result()
	if err != nil {
		return false, fmt.Errorf("check processed: %w", err)
	}
	return n > 0, nil
}
