// Package stream implements the durable event stream (C2) on top of Redis
// Streams: publish, consumer-group consumption, acknowledgement, pending
// inspection, stale-claim recovery and a dead letter sidecar stream.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Entry is one message pulled off the stream.
type Entry struct {
	ID         string
	Payload    []byte
	Timestamp  time.Time
	RetryCount int
	Priority   int
	Source     string
}

// PendingEntry describes an unacknowledged delivery.
type PendingEntry struct {
	ID         string
	Consumer   string
	Idle       time.Duration
	RetryCount int64
}

// DLQEntry is a message that exhausted its retries.
type DLQEntry struct {
	ID        string
	Payload   []byte
	FailedAt  time.Time
	Reason    string
	OrigTopic string
}

// RedisStream wraps a Redis client to expose the C2 contract. One
// RedisStream instance per logical topic (e.g. "messages:stream").
type RedisStream struct {
	rdb     *redis.Client
	topic   string
	group   string
	maxLen  int64
}

func New(rdb *redis.Client, topic, group string, maxLen int64) *RedisStream {
	return &RedisStream{rdb: rdb, topic: topic, group: group, maxLen: maxLen}
}

// EnsureGroup creates the consumer group, tolerating BUSYGROUP if it
// already exists. A newly created group starts from the beginning of the
// stream, so entries published before it existed are still delivered.
func (s *RedisStream) EnsureGroup(ctx context.Context) error {
	err := s.rdb.XGroupCreateMkStream(ctx, s.topic, s.group, "0").Err()
	if err != nil && !isBusyGroup(err) {
		return fmt.Errorf("ensure consumer group: %w", err)
	}
	return nil
}

func isBusyGroup(err error) bool {
	return err != nil && (err.Error() == "BUSYGROUP Consumer Group name already exists" ||
		len(err.Error()) >= 9 && err.Error()[:9] == "BUSYGROUP")
}

func (s *RedisStream) dlqTopic() string { return s.topic + ":dlq" }
func (s *RedisStream) dlqIndex() string { return s.topic + ":dlq:index" }

// Publish appends payload to the stream, using idHint as the explicit
// entry ID when non-empty so per-conversation ordering can be expressed
// through Redis's own ID ordering.
func (s *RedisStream) Publish(ctx context.Context, payload []byte, priority int, source, idHint string) (string, error) {
	id := "*"
	if idHint != "" {
		id = idHint
	}
	values := map[string]any{
		"data":        payload,
		"timestamp":   time.Now().UTC().Format(time.RFC3339Nano),
		"retry_count": 0,
		"priority":    priority,
		"source":      source,
	}
	res, err := s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: s.topic,
		ID:     id,
		MaxLen: s.maxLen,
		Approx: true,
		Values: values,
	}).Result()
	if err != nil {
		return "", fmt.Errorf("publish to %s: %w", s.topic, err)
	}
	return res, nil
}

// Consume reads up to count entries for consumer, blocking up to block.
func (s *RedisStream) Consume(ctx context.Context, consumer string, count int64, block time.Duration) ([]Entry, error) {
	res, err := s.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    s.group,
		Consumer: consumer,
		Streams:  []string{s.topic, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("consume from %s: %w", s.topic, err)
	}
	if len(res) == 0 {
		return nil, nil
	}
	return toEntries(res[0].Messages), nil
}

func toEntries(msgs []redis.XMessage) []Entry {
	entries := make([]Entry, 0, len(msgs))
	for _, m := range msgs {
		e := Entry{ID: m.ID}
		if data, ok := m.Values["data"].(string); ok {
			e.Payload = []byte(data)
		}
		if ts, ok := m.Values["timestamp"].(string); ok {
			if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
				e.Timestamp = parsed
			}
		}
		if rc, ok := m.Values["retry_count"].(string); ok {
			if n, err := strconv.Atoi(rc); err == nil {
				e.RetryCount = n
			}
		}
		if p, ok := m.Values["priority"].(string); ok {
			if n, err := strconv.Atoi(p); err == nil {
				e.Priority = n
			}
		}
		if src, ok := m.Values["source"].(string); ok {
			e.Source = src
		}
		entries = append(entries, e)
	}
	return entries
}

// Ack acknowledges id as successfully processed.
func (s *RedisStream) Ack(ctx context.Context, id string) error {
	if err := s.rdb.XAck(ctx, s.topic, s.group, id).Err(); err != nil {
		return fmt.Errorf("ack %s: %w", id, err)
	}
	return nil
}

// Pending returns the oldest count unacknowledged entries.
func (s *RedisStream) Pending(ctx context.Context, count int64) ([]PendingEntry, error) {
	res, err := s.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: s.topic,
		Group:  s.group,
		Start:  "-",
		End:    "+",
		Count:  count,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("pending: %w", err)
	}
	out := make([]PendingEntry, 0, len(res))
	for _, p := range res {
		out = append(out, PendingEntry{
			ID:         p.ID,
			Consumer:   p.Consumer,
			Idle:       p.Idle,
			RetryCount: p.RetryCount,
		})
	}
	return out, nil
}

// AutoClaim reassigns entries idle longer than minIdle to consumer and
// returns them ready for reprocessing.
func (s *RedisStream) AutoClaim(ctx context.Context, consumer string, minIdle time.Duration, count int64) ([]Entry, error) {
	msgs, _, err := s.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   s.topic,
		Group:    s.group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Start:    "0-0",
		Count:    count,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("autoclaim: %w", err)
	}
	return toEntries(msgs), nil
}

// messageKind recovers the inbound event's Kind field from its raw JSON
// payload, falling back to "unknown" for undecodable or kind-less
// payloads, matching the original DLQ manager's `message.get("message_type")`.
func messageKind(payload []byte) string {
	var v struct {
		Kind string
	}
	if err := json.Unmarshal(payload, &v); err != nil || v.Kind == "" {
		return "unknown"
	}
	return v.Kind
}

// DeadLetter moves a message that exhausted retries to the DLQ sidecar
// stream and indexes it by failure time for range queries. metadata is
// optional caller-supplied context (correlation IDs, retry history); nil
// is stored as an empty object.
func (s *RedisStream) DeadLetter(ctx context.Context, e Entry, reason string, metadata map[string]any) error {
	failedAt := time.Now().UTC()
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		metaJSON = []byte("{}")
	}
	id, err := s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: s.dlqTopic(),
		Values: map[string]any{
			"data":         e.Payload,
			"failed_at":    failedAt.Format(time.RFC3339Nano),
			"reason":       reason,
			"orig_topic":   s.topic,
			"retry_count":  e.RetryCount,
			"source":       e.Source,
			"message_kind": messageKind(e.Payload),
			"metadata":     metaJSON,
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("dead letter publish: %w", err)
	}
	if err := s.rdb.ZAdd(ctx, s.dlqIndex(), redis.Z{
		Score:  float64(failedAt.UnixMilli()),
		Member: id,
	}).Err(); err != nil {
		return fmt.Errorf("dead letter index: %w", err)
	}
	return nil
}

// Length returns the current stream length.
func (s *RedisStream) Length(ctx context.Context) (int64, error) {
	n, err := s.rdb.XLen(ctx, s.topic).Result()
	if err != nil {
		return 0, fmt.Errorf("length: %w", err)
	}
	return n, nil
}

// DLQLength returns the current dead letter stream length.
func (s *RedisStream) DLQLength(ctx context.Context) (int64, error) {
	n, err := s.rdb.XLen(ctx, s.dlqTopic()).Result()
	if err != nil {
		return 0, fmt.Errorf("dlq length: %w", err)
	}
	return n, nil
}

// PendingCount returns the total unacknowledged entry count.
func (s *RedisStream) PendingCount(ctx context.Context) (int64, error) {
	res, err := s.rdb.XPending(ctx, s.topic, s.group).Result()
	if err != nil {
		return 0, fmt.Errorf("pending count: %w", err)
	}
	return res.Count, nil
}

// Trim caps the stream to the configured maximum length.
func (s *RedisStream) Trim(ctx context.Context) error {
	if err := s.rdb.XTrimMaxLenApprox(ctx, s.topic, s.maxLen, 0).Err(); err != nil {
		return fmt.Errorf("trim: %w", err)
	}
	return nil
}

// Topic returns the underlying stream key.
func (s *RedisStream) Topic() string { return s.topic }

// DLQTopic returns the dead letter stream key.
func (s *RedisStream) DLQTopic() string { return s.dlqTopic() }

// DLQIndexKey returns the sorted-set time index key for the dead letter stream.
func (s *RedisStream) DLQIndexKey() string { return s.dlqIndex() }

// Client exposes the underlying redis client for components (DLQ admin,
// admission backpressure) that need raw command access beyond this
// contract.
func (s *RedisStream) Client() *redis.Client { return s.rdb }
