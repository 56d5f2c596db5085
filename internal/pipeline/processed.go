package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ProcessedSet guards the "worker killed between workflow completion and
// stream ack" window: a reply is only sent once per stream entry, even if
// the same entry gets redelivered and reprocessed after a crash.
type ProcessedSet struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewProcessedSet(rdb *redis.Client) *ProcessedSet {
	return &ProcessedSet{rdb: rdb, ttl: time.Hour}
}

func processedKey(streamID string) string { return "pipeline:replied:" + streamID }

// ClaimReply returns true if this call is the first to claim the right to
// reply for streamID.
func (p *ProcessedSet) ClaimReply(ctx context.Context, streamID string) (bool, error) {
	ok, err := p.rdb.SetNX(ctx, processedKey(streamID), "1", p.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim reply: %w", err)
	}
	return ok, nil
}
