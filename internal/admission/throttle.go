package admission

import (
	"time"

	"github.com/gofiber/fiber/v2"
)

// AdaptiveThrottle adds an advisory sleep proportional to queue depth
// before letting a request proceed, spreading load without outright
// rejecting it.
type AdaptiveThrottle struct {
	source    DepthSource
	baseDelay time.Duration
	maxDelay  time.Duration
}

func NewAdaptiveThrottle(source DepthSource, baseDelay, maxDelay time.Duration) *AdaptiveThrottle {
	return &AdaptiveThrottle{source: source, baseDelay: baseDelay, maxDelay: maxDelay}
}

func (t *AdaptiveThrottle) delay() time.Duration {
	depth, err := t.source.StreamLength()
	if err != nil {
		return t.baseDelay
	}
	extra := 0.0
	if ratio := float64(depth)/100 - 1; ratio > 0 {
		extra = ratio * 100
	}
	d := t.baseDelay + time.Duration(extra)*time.Millisecond
	if d > t.maxDelay {
		return t.maxDelay
	}
	return d
}

// Middleware sleeps the computed delay then calls Next.
func (t *AdaptiveThrottle) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if d := t.delay(); d > 0 {
			select {
			case <-time.After(d):
			case <-c.UserContext().Done():
			}
		}
		return c.Next()
	}
}
