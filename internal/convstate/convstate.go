// Package convstate tracks per-conversation ordering and locking so two
// events for the same WhatsApp conversation are never processed
// concurrently or out of timestamp order.
package convstate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"famagpt-fabric/internal/event"
)

const defaultTTL = time.Hour

// Store is a Redis-backed conversation state tracker.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

func New(rdb *redis.Client) *Store {
	return &Store{rdb: rdb, ttl: defaultTTL}
}

func lastTSKey(conversationKey string) string { return "conv:" + conversationKey + ":last_ts" }
func lockKey(conversationKey string) string   { return "conv:" + conversationKey + ":lock" }

// GetLastTimestamp returns the last processed message time for the
// conversation, or the zero time if none is recorded.
func (s *Store) GetLastTimestamp(ctx context.Context, conversationKey string) (time.Time, error) {
	val, err := s.rdb.Get(ctx, lastTSKey(conversationKey)).Result()
	if err == redis.Nil {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("get last timestamp: %w", err)
	}
	ts, err := time.Parse(time.RFC3339Nano, val)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse last timestamp: %w", err)
	}
	return ts, nil
}

// SetLastTimestamp records ts as the conversation's latest processed
// message time, with a 1-hour TTL.
func (s *Store) SetLastTimestamp(ctx context.Context, conversationKey string, ts time.Time) error {
	if err := s.rdb.Set(ctx, lastTSKey(conversationKey), ts.UTC().Format(time.RFC3339Nano), s.ttl).Err(); err != nil {
		return fmt.Errorf("set last timestamp: %w", err)
	}
	return nil
}

// IsOutOfOrder reports whether ts is older than the conversation's last
// recorded processed timestamp.
func (s *Store) IsOutOfOrder(ctx context.Context, conversationKey string, ts time.Time) (bool, error) {
	last, err := s.GetLastTimestamp(ctx, conversationKey)
	if err != nil {
		return false, err
	}
	return !last.IsZero() && ts.Before(last), nil
}

// TryAcquireLock attempts to take the conversation lock for ttl, returning
// false if another event is already holding it.
func (s *Store) TryAcquireLock(ctx context.Context, conversationKey string, ttl time.Duration) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, lockKey(conversationKey), "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock: %w", err)
	}
	return ok, nil
}

// ReleaseLock releases the conversation lock.
func (s *Store) ReleaseLock(ctx context.Context, conversationKey string) error {
	if err := s.rdb.Del(ctx, lockKey(conversationKey)).Err(); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

// LockTTL returns the kind-dependent lock hold duration: media kinds that
// need external processing get a longer window than plain text.
func LockTTL(kind event.Kind) time.Duration {
	switch strings.ToLower(string(kind)) {
	case "audio", "voice":
		return 30 * time.Second
	case "video":
		return 25 * time.Second
	case "image", "document":
		return 20 * time.Second
	case "text":
		return 10 * time.Second
	default:
		return 10 * time.Second
	}
}
