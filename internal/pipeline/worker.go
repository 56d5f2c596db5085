package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"famagpt-fabric/internal/correlation"
	"famagpt-fabric/internal/event"
	"famagpt-fabric/internal/gateway"
	"famagpt-fabric/internal/idempotency"
	"famagpt-fabric/internal/observability"
	"famagpt-fabric/internal/resultkind"
	"famagpt-fabric/internal/stream"
	"famagpt-fabric/internal/workflow"
)

// Worker pulls entries off the durable stream, classifies and executes
// the matching workflow, replies through the gateway, and acks or
// dead-letters depending on the outcome. Sized like the teacher's SMS
// delivery worker: a fixed goroutine pool draining a buffered channel,
// graceful shutdown via context + WaitGroup.
type Worker struct {
	stream     *stream.RedisStream
	engine     *workflow.Engine
	gateway    *gateway.Client
	idem       *idempotency.Store
	processed  *ProcessedSet
	poolSize   int
	maxRetries int
	autoClaim  time.Duration
	consumerID string
	logger     *zap.Logger
	metrics    *observability.Metrics

	jobs chan stream.Entry
	wg   sync.WaitGroup
}

type Config struct {
	PoolSize   int
	MaxRetries int
	AutoClaim  time.Duration
	ConsumerID string
}

func NewWorker(st *stream.RedisStream, engine *workflow.Engine, gw *gateway.Client, idem *idempotency.Store, processed *ProcessedSet, cfg Config, logger *zap.Logger, metrics *observability.Metrics) *Worker {
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = runtime.NumCPU() * 2
		if poolSize > 10 {
			poolSize = 10
		}
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 5
	}
	autoClaim := cfg.AutoClaim
	if autoClaim <= 0 {
		autoClaim = 5 * time.Minute
	}
	consumerID := cfg.ConsumerID
	if consumerID == "" {
		consumerID = "worker-" + uuid.NewString()
	}

	return &Worker{
		stream:     st,
		engine:     engine,
		gateway:    gw,
		idem:       idem,
		processed:  processed,
		poolSize:   poolSize,
		maxRetries: maxRetries,
		autoClaim:  autoClaim,
		consumerID: consumerID,
		logger:     logger,
		metrics:    metrics,
		jobs:       make(chan stream.Entry, poolSize*4),
	}
}

// Run starts the consume loop and worker pool, blocking until ctx is
// cancelled, then drains in-flight jobs before returning.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.stream.EnsureGroup(ctx); err != nil {
		return err
	}

	for i := 0; i < w.poolSize; i++ {
		w.wg.Add(1)
		go w.processLoop(ctx)
	}

	w.wg.Add(1)
	go w.claimLoop(ctx)

	w.consumeLoop(ctx)

	close(w.jobs)
	w.wg.Wait()
	return nil
}

func (w *Worker) consumeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		entries, err := w.stream.Consume(ctx, w.consumerID, int64(w.poolSize), 2*time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Warn("consume failed", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}
		for _, e := range entries {
			select {
			case w.jobs <- e:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (w *Worker) claimLoop(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.autoClaim / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			entries, err := w.stream.AutoClaim(ctx, w.consumerID, w.autoClaim, int64(w.poolSize))
			if err != nil {
				w.logger.Warn("autoclaim failed", zap.Error(err))
				continue
			}
			for _, e := range entries {
				select {
				case w.jobs <- e:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

func (w *Worker) processLoop(ctx context.Context) {
	defer w.wg.Done()
	for entry := range w.jobs {
		w.processEntry(ctx, entry)
	}
}

func (w *Worker) processEntry(ctx context.Context, entry stream.Entry) {
	var evt event.Inbound
	if err := json.Unmarshal(entry.Payload, &evt); err != nil {
		w.logger.Error("undecodable stream entry, dead lettering", zap.String("id", entry.ID), zap.Error(err))
		_ = w.stream.DeadLetter(ctx, entry, "undecodable payload", nil)
		_ = w.stream.Ack(ctx, entry.ID)
		return
	}

	corr := correlation.New(evt.ConversationKey(), evt.GatewayMessageID)
	ctx = correlation.Into(ctx, corr)
	log := w.logger.With(correlation.Fields(ctx)...)

	workflowName := SelectWorkflow(&evt)
	state := workflow.NewState(evt.ConversationKey(), map[string]any{
		"message_content": evt.Content,
		"user_id":         evt.Phone,
		"audio_url":       mediaURL(&evt),
		"content_type":    mediaType(&evt),
	})

	result, err := w.engine.Execute(ctx, uuid.NewString(), workflowName, state)
	if err != nil {
		w.handleFailure(ctx, entry, log, err)
		return
	}
	if result.Error != "" {
		w.handleFailure(ctx, entry, log, fmt.Errorf("workflow error: %s", result.Error))
		return
	}

	if next, ok := result.Results["next_workflow"].(string); ok && next != "" {
		w.requeue(ctx, entry, log, &evt, result, workflowName, next)
		return
	}

	reply, _ := result.Results["formatted_response"].(string)
	if reply == "" {
		reply = "Tudo certo por aqui. Como posso ajudar você com imóveis hoje?"
	}

	claimed, err := w.processed.ClaimReply(ctx, entry.ID)
	if err != nil {
		log.Warn("reply claim check failed", zap.Error(err))
	}
	if claimed {
		if err := w.gateway.SendMessage(ctx, evt.InstanceID, evt.Phone, reply); err != nil {
			log.Warn("failed to send reply", zap.Error(err))
		}
	}

	if err := w.idem.MarkProcessed(ctx, evt.GatewayMessageID); err != nil {
		log.Warn("failed to mark processed", zap.Error(err))
	}
	if w.metrics != nil {
		w.metrics.MessagesProcessedTotal.WithLabelValues(workflowName, "success").Inc()
	}

	if err := w.stream.Ack(ctx, entry.ID); err != nil {
		log.Warn("ack failed", zap.Error(err))
	}
}

// requeue hands a processed event off to the workflow named next, carried
// by a fresh stream entry so it enters the pool through the normal
// consume loop rather than recursing inline. No reply is sent for the
// current entry, matching audio_processing's contract of handing off to
// property_search without itself producing a reply.
func (w *Worker) requeue(ctx context.Context, entry stream.Entry, log *zap.Logger, evt *event.Inbound, result *workflow.State, workflowName, next string) {
	content, _ := result.Results["processed_content"].(string)
	if content == "" {
		content = evt.Content
	}

	requeued := *evt
	requeued.Content = content
	requeued.Kind = event.KindText
	requeued.Media = nil
	requeued.ForcedWorkflow = next

	payload, err := json.Marshal(requeued)
	if err != nil {
		log.Error("marshal requeued event failed", zap.Error(err))
		_ = w.stream.DeadLetter(ctx, entry, "requeue marshal failed", map[string]any{"next_workflow": next})
		_ = w.stream.Ack(ctx, entry.ID)
		return
	}

	if _, err := w.stream.Publish(ctx, payload, requeued.Priority(), "worker_requeue", ""); err != nil {
		log.Error("re-enqueue failed", zap.Error(err))
	}
	if w.metrics != nil {
		w.metrics.MessagesProcessedTotal.WithLabelValues(workflowName, "requeued").Inc()
	}
	if err := w.stream.Ack(ctx, entry.ID); err != nil {
		log.Warn("ack failed", zap.Error(err))
	}
}

func (w *Worker) handleFailure(ctx context.Context, entry stream.Entry, log *zap.Logger, procErr error) {
	log.Warn("workflow execution failed", zap.Error(procErr))

	if w.metrics != nil {
		w.metrics.MessagesProcessedTotal.WithLabelValues("unknown", "failure").Inc()
	}

	retryable := resultkind.Retryable(procErr) || resultkind.KindOf(procErr) == resultkind.Unknown
	if !retryable || entry.RetryCount >= w.maxRetries {
		if err := w.stream.DeadLetter(ctx, entry, procErr.Error(), map[string]any{"retry_count": entry.RetryCount}); err != nil {
			log.Error("dead letter failed", zap.Error(err))
		}
		_ = w.stream.Ack(ctx, entry.ID)
		return
	}

	entry.RetryCount++
	// Publish always writes retry_count 0, so the retry copy is appended
	// directly with the incremented count.
	if err := w.stream.Client().XAdd(ctx, &redis.XAddArgs{
		Stream: w.stream.Topic(),
		Values: map[string]any{
			"data":        entry.Payload,
			"timestamp":   time.Now().UTC().Format(time.RFC3339Nano),
			"retry_count": entry.RetryCount,
			"priority":    entry.Priority,
			"source":      entry.Source,
		},
	}).Err(); err != nil {
		log.Error("republish for retry failed", zap.Error(err))
	}
	_ = w.stream.Ack(ctx, entry.ID)

	backoff := time.Duration(math.Min(60, math.Pow(2, float64(entry.RetryCount)))) * time.Second
	select {
	case <-time.After(backoff):
	case <-ctx.Done():
	}
}

func mediaURL(e *event.Inbound) string {
	if e.Media == nil {
		return ""
	}
	return e.Media.URL
}

func mediaType(e *event.Inbound) string {
	if e.Media == nil {
		return ""
	}
	return e.Media.MimeType
}
