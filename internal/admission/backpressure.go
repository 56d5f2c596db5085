// Package admission implements the C5 middleware chain: backpressure,
// sliding-window rate limiting and adaptive throttling.
package admission

import (
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"

	"famagpt-fabric/internal/observability"
)

// Level is the current system load bucket.
type Level int

const (
	LevelLow Level = iota
	LevelMedium
	LevelHigh
	LevelCritical
)

func (l Level) String() string {
	switch l {
	case LevelMedium:
		return "medium"
	case LevelHigh:
		return "high"
	case LevelCritical:
		return "critical"
	default:
		return "low"
	}
}

// DepthSource reports the three quantities backpressure scores.
type DepthSource interface {
	StreamLength() (int64, error)
	PendingCount() (int64, error)
	DLQLength() (int64, error)
}

// Backpressure samples queue depth on an interval, computes an adjusted
// load score, and rejects requests outright once the system is critical.
type Backpressure struct {
	source    DepthSource
	threshold int64
	interval  time.Duration
	metrics   *observability.Metrics
	whitelist map[string]bool

	mu         sync.Mutex
	lastSample time.Time
	level      Level
	adjusted   int64
}

func NewBackpressure(source DepthSource, threshold int64, interval time.Duration, metrics *observability.Metrics) *Backpressure {
	return &Backpressure{
		source:    source,
		threshold: threshold,
		interval:  interval,
		metrics:   metrics,
		whitelist: map[string]bool{
			"/health":      true,
			"/health/live": true,
			"/metrics":     true,
		},
	}
}

// levelFor buckets the adjusted load as a fraction of the configured
// queue threshold: medium at 0.5T, high at 0.8T, critical at 1.0T.
func levelFor(adjusted, threshold int64) Level {
	if threshold <= 0 {
		return LevelLow
	}
	t := float64(threshold)
	a := float64(adjusted)
	switch {
	case a >= t:
		return LevelCritical
	case a >= 0.8*t:
		return LevelHigh
	case a >= 0.5*t:
		return LevelMedium
	default:
		return LevelLow
	}
}

func timeoutFor(level Level) time.Duration {
	switch level {
	case LevelCritical:
		return 2 * time.Second
	case LevelHigh:
		return 5 * time.Second
	case LevelMedium:
		return 15 * time.Second
	default:
		return 30 * time.Second
	}
}

func clamp(min, max, v float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// sample refreshes the cached level at most once per interval.
func (b *Backpressure) sample() (Level, int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if time.Since(b.lastSample) < b.interval {
		return b.level, b.adjusted, nil
	}

	streamLen, err := b.source.StreamLength()
	if err != nil {
		return b.level, b.adjusted, err
	}
	pending, err := b.source.PendingCount()
	if err != nil {
		return b.level, b.adjusted, err
	}
	dlq, err := b.source.DLQLength()
	if err != nil {
		return b.level, b.adjusted, err
	}

	adjusted := streamLen + pending + 2*dlq
	level := levelFor(adjusted, b.threshold)

	b.lastSample = time.Now()
	b.level = level
	b.adjusted = adjusted

	if b.metrics != nil {
		b.metrics.QueueDepth.Set(float64(streamLen))
		b.metrics.PendingDepth.Set(float64(pending))
		b.metrics.DLQDepth.Set(float64(dlq))
		for _, l := range []Level{LevelLow, LevelMedium, LevelHigh, LevelCritical} {
			v := 0.0
			if l == level {
				v = 1.0
			}
			b.metrics.SystemLoadLevel.WithLabelValues(l.String()).Set(v)
		}
	}

	return level, adjusted, nil
}

// Middleware returns the Fiber handler. It sets X-System-Load on every
// response whose depth sample succeeded (a failed sample lets the request
// through without the header) and rejects with 503 + Retry-After when the
// level is critical, except for whitelisted health/metrics paths.
func (b *Backpressure) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		level, adjusted, err := b.sample()
		if err != nil {
			return c.Next()
		}

		c.Set("X-System-Load", level.String())

		if b.whitelist[c.Path()] {
			return c.Next()
		}

		if level == LevelCritical {
			retryAfter := clamp(10, 60, float64(adjusted)/50)
			c.Set("Retry-After", strconv.Itoa(int(retryAfter)))
			if b.metrics != nil {
				b.metrics.AdmissionRejects.WithLabelValues("backpressure_critical").Inc()
			}
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error": "system overloaded",
				"level": level.String(),
			})
		}

		ctx, cancel := timeoutContext(c, timeoutFor(level))
		defer cancel()
		c.SetUserContext(ctx)

		return c.Next()
	}
}
