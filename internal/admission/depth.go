package admission

import (
	"context"
	"time"
)

// StreamDepth adapts a stream.RedisStream (via the narrow interface below,
// to avoid importing the stream package into admission's public surface)
// into a DepthSource with a bounded lookup timeout.
type StreamDepth struct {
	Stream interface {
		Length(ctx context.Context) (int64, error)
		PendingCount(ctx context.Context) (int64, error)
		DLQLength(ctx context.Context) (int64, error)
	}
	Timeout time.Duration
}

func (d StreamDepth) ctx() (context.Context, context.CancelFunc) {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return context.WithTimeout(context.Background(), timeout)
}

func (d StreamDepth) StreamLength() (int64, error) {
	ctx, cancel := d.ctx()
	defer cancel()
	return d.Stream.Length(ctx)
}

func (d StreamDepth) PendingCount() (int64, error) {
	ctx, cancel := d.ctx()
	defer cancel()
	return d.Stream.PendingCount(ctx)
}

func (d StreamDepth) DLQLength() (int64, error) {
	ctx, cancel := d.ctx()
	defer cancel()
	return d.Stream.DLQLength(ctx)
}
