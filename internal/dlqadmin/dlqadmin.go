// Package dlqadmin implements the C10 dead letter queue administration
// operations: read/filter, reprocess, bulk reprocess, purge and analyze,
// grounded on the same Redis stream + sorted-set index layout C2 writes.
package dlqadmin

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Entry is a parsed dead-letter record.
type Entry struct {
	ID            string         `json:"id"`
	Payload       json.RawMessage `json:"payload"`
	FailedAt      time.Time      `json:"failed_at"`
	Reason        string         `json:"reason"`
	OrigTopic     string         `json:"orig_topic"`
	RetryCount    int            `json:"retry_count"`
	Source        string         `json:"source"`
	ErrorCategory string         `json:"error_category"`
	MessageKind   string         `json:"message_kind"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// Filter narrows a DLQ read.
type Filter struct {
	Start         time.Time
	End           time.Time
	ErrorCategory string
	MessageKind   string
	Limit         int64
}

// Manager operates on one topic's DLQ sidecar stream.
type Manager struct {
	rdb   *redis.Client
	topic string
}

func New(rdb *redis.Client, topic string) *Manager {
	return &Manager{rdb: rdb, topic: topic}
}

func (m *Manager) dlqTopic() string { return m.topic + ":dlq" }
func (m *Manager) dlqIndex() string { return m.topic + ":dlq:index" }

func categorize(reason string) string {
	r := strings.ToLower(reason)
	switch {
	case strings.Contains(r, "timeout"):
		return "timeout"
	case strings.Contains(r, "connection"):
		return "connection"
	case strings.Contains(r, "rate") || strings.Contains(r, "limit"):
		return "rate_limit"
	case strings.Contains(r, "auth") || strings.Contains(r, "permission"):
		return "auth"
	case strings.Contains(r, "validation") || strings.Contains(r, "invalid"):
		return "validation"
	default:
		return "other"
	}
}

// List reads DLQ entries matching filter, newest first if no time range
// is given, oldest-in-range first otherwise.
func (m *Manager) List(ctx context.Context, f Filter) ([]Entry, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}

	var ids []string
	var msgs []redis.XMessage
	var err error

	if !f.Start.IsZero() || !f.End.IsZero() {
		start := "-inf"
		end := "+inf"
		if !f.Start.IsZero() {
			start = fmt.Sprintf("%d", f.Start.UnixMilli())
		}
		if !f.End.IsZero() {
			end = fmt.Sprintf("%d", f.End.UnixMilli())
		}
		ids, err = m.rdb.ZRangeByScore(ctx, m.dlqIndex(), &redis.ZRangeBy{
			Min:   start,
			Max:   end,
			Count: limit,
		}).Result()
		if err != nil {
			return nil, fmt.Errorf("range dlq index: %w", err)
		}
		for _, id := range ids {
			res, err := m.rdb.XRange(ctx, m.dlqTopic(), id, id).Result()
			if err != nil {
				continue
			}
			msgs = append(msgs, res...)
		}
	} else {
		msgs, err = m.rdb.XRevRangeN(ctx, m.dlqTopic(), "+", "-", limit).Result()
		if err != nil {
			return nil, fmt.Errorf("revrange dlq: %w", err)
		}
	}

	entries := make([]Entry, 0, len(msgs))
	for _, msg := range msgs {
		e := parseEntry(msg)
		if f.ErrorCategory != "" && e.ErrorCategory != f.ErrorCategory {
			continue
		}
		if f.MessageKind != "" && e.MessageKind != f.MessageKind {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func parseEntry(msg redis.XMessage) Entry {
	e := Entry{ID: msg.ID}
	if data, ok := msg.Values["data"].(string); ok {
		e.Payload = json.RawMessage(data)
	}
	if failedAt, ok := msg.Values["failed_at"].(string); ok {
		if ts, err := time.Parse(time.RFC3339Nano, failedAt); err == nil {
			e.FailedAt = ts
		}
	}
	if reason, ok := msg.Values["reason"].(string); ok {
		e.Reason = reason
		e.ErrorCategory = categorize(reason)
	}
	if topic, ok := msg.Values["orig_topic"].(string); ok {
		e.OrigTopic = topic
	}
	if src, ok := msg.Values["source"].(string); ok {
		e.Source = src
	}
	if kind, ok := msg.Values["message_kind"].(string); ok {
		e.MessageKind = kind
	}
	if meta, ok := msg.Values["metadata"].(string); ok && meta != "" {
		var m map[string]any
		if err := json.Unmarshal([]byte(meta), &m); err == nil {
			e.Metadata = m
		}
	}
	return e
}

// Reprocess moves one DLQ entry back onto the original stream with its
// retry count reset, tagging it as reprocessed.
func (m *Manager) Reprocess(ctx context.Context, id string) error {
	res, err := m.rdb.XRange(ctx, m.dlqTopic(), id, id).Result()
	if err != nil {
		return fmt.Errorf("lookup dlq entry: %w", err)
	}
	if len(res) == 0 {
		return fmt.Errorf("dlq entry %s not found", id)
	}

	entry := parseEntry(res[0])
	target := entry.OrigTopic
	if target == "" {
		target = m.topic
	}

	if _, err := m.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: target,
		Values: map[string]any{
			"data":                 []byte(entry.Payload),
			"timestamp":            time.Now().UTC().Format(time.RFC3339Nano),
			"retry_count":          0,
			"priority":             1,
			"source":               "dlq_reprocess",
			"reprocessed_from_dlq": true,
		},
	}).Result(); err != nil {
		return fmt.Errorf("republish reprocessed entry: %w", err)
	}

	if err := m.rdb.XDel(ctx, m.dlqTopic(), id).Err(); err != nil {
		return fmt.Errorf("remove from dlq: %w", err)
	}
	if err := m.rdb.ZRem(ctx, m.dlqIndex(), id).Err(); err != nil {
		return fmt.Errorf("remove from dlq index: %w", err)
	}
	return nil
}

// BulkReprocess reprocesses every id, returning a per-id outcome map.
func (m *Manager) BulkReprocess(ctx context.Context, ids []string) map[string]bool {
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		out[id] = m.Reprocess(ctx, id) == nil
	}
	return out
}

// Purge deletes DLQ entries older than olderThan, returning the count
// removed.
func (m *Manager) Purge(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	ids, err := m.rdb.ZRangeByScore(ctx, m.dlqIndex(), &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", cutoff.UnixMilli()),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("range for purge: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	if err := m.rdb.XDel(ctx, m.dlqTopic(), ids...).Err(); err != nil {
		return 0, fmt.Errorf("purge xdel: %w", err)
	}
	if err := m.rdb.ZRem(ctx, m.dlqIndex(), toAnySlice(ids)...).Err(); err != nil {
		return 0, fmt.Errorf("purge zrem: %w", err)
	}
	return len(ids), nil
}

func toAnySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// Analysis summarizes failure patterns over a lookback window.
type Analysis struct {
	TotalFailed     int            `json:"total_failed"`
	ByErrorCategory map[string]int `json:"by_error_category"`
	BySource        map[string]int `json:"by_source"`
	ByHour          map[string]int `json:"by_hour"`
	ByMessageKind   map[string]int `json:"by_message_kind"`
	TopErrors       []string       `json:"top_errors"`
}

// Analyze computes histograms over entries failed within the last
// hoursBack hours.
func (m *Manager) Analyze(ctx context.Context, hoursBack int) (Analysis, error) {
	entries, err := m.List(ctx, Filter{Start: time.Now().Add(-time.Duration(hoursBack) * time.Hour), Limit: 10000})
	if err != nil {
		return Analysis{}, err
	}

	a := Analysis{
		ByErrorCategory: map[string]int{},
		BySource:        map[string]int{},
		ByHour:          map[string]int{},
		ByMessageKind:   map[string]int{},
	}
	reasonCounts := map[string]int{}

	for _, e := range entries {
		a.TotalFailed++
		a.ByErrorCategory[e.ErrorCategory]++
		a.BySource[e.Source]++
		a.ByHour[e.FailedAt.Format("2006-01-02T15:00")]++
		a.ByMessageKind[e.MessageKind]++
		reasonCounts[e.Reason]++
	}

	a.TopErrors = topN(reasonCounts, 5)
	return a, nil
}

func topN(counts map[string]int, n int) []string {
	type kv struct {
		k string
		v int
	}
	list := make([]kv, 0, len(counts))
	for k, v := range counts {
		list = append(list, kv{k, v})
	}
	for i := 0; i < len(list); i++ {
		for j := i + 1; j < len(list); j++ {
			if list[j].v > list[i].v {
				list[i], list[j] = list[j], list[i]
			}
		}
	}
	out := make([]string, 0, n)
	for i := 0; i < len(list) && i < n; i++ {
		out = append(out, list[i].k)
	}
	return out
}
