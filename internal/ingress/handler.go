package ingress

import (
	"context"
	"encoding/json"
	"regexp"

	"github.com/gofiber/fiber/v2"
	"github.com/kat-co/vala"
	"go.uber.org/zap"

	"famagpt-fabric/internal/convstate"
	"famagpt-fabric/internal/correlation"
	"famagpt-fabric/internal/event"
	"famagpt-fabric/internal/idempotency"
	"famagpt-fabric/internal/observability"
	"famagpt-fabric/internal/stream"
)

var phonePattern = regexp.MustCompile(`^[0-9]{10,}$`)

// Handler implements the full webhook ingress pipeline: signature check,
// parse, dedupe, lock, ordering check, publish, bookkeeping.
type Handler struct {
	parser  *Parser
	idem    *idempotency.Store
	conv    *convstate.Store
	stream  *stream.RedisStream
	secret  string
	logger  *zap.Logger
	metrics *observability.Metrics
}

func NewHandler(parser *Parser, idem *idempotency.Store, conv *convstate.Store, st *stream.RedisStream, secret string, logger *zap.Logger, metrics *observability.Metrics) *Handler {
	return &Handler{
		parser:  parser,
		idem:    idem,
		conv:    conv,
		stream:  st,
		secret:  secret,
		logger:  logger,
		metrics: metrics,
	}
}

func validateInbound(e *event.Inbound) error {
	return vala.BeginValidation().Validate(
		vala.StringNotEmpty(e.GatewayMessageID, "gateway_message_id"),
		vala.StringNotEmpty(e.InstanceID, "instance_id"),
		vala.Equals(phonePattern.MatchString(e.Phone), true, "phone"),
	).Check()
}

// HandleWebhook implements the C6 seven-step algorithm: signature check,
// parse, C4 dedupe, C3 lock (kind TTL), out-of-order check, C2 publish,
// bookkeeping, then 202.
func (h *Handler) HandleWebhook(c *fiber.Ctx) error {
	ctx := c.UserContext()
	body := c.Body()

	if h.secret != "" {
		sig := c.Get("X-Hub-Signature-256")
		if sig == "" {
			sig = c.Get("X-Webhook-Signature")
		}
		if !VerifySignature(body, sig, h.secret) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid signature"})
		}
	}

	evt, err := h.parser.Parse(body)
	if err == ErrNotMessageEvent {
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "skipped", "reason": "not_a_message_event"})
	}
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "failed to parse webhook"})
	}

	if verr := validateInbound(evt); verr != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": verr.Error()})
	}

	corr := correlation.New(evt.ConversationKey(), evt.GatewayMessageID)
	ctx = correlation.Into(ctx, corr)
	log := h.logger.With(correlation.Fields(ctx)...)

	seen, err := h.idem.Seen(ctx, evt.GatewayMessageID)
	if err != nil {
		log.Error("idempotency check failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}
	if seen {
		log.Info("duplicate message skipped")
		if h.metrics != nil {
			h.metrics.MessagesDuplicateTotal.Inc()
		}
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "skipped", "reason": "duplicate"})
	}

	conversationKey := evt.ConversationKey()
	lockTTL := convstate.LockTTL(evt.Kind)
	acquired, err := h.conv.TryAcquireLock(ctx, conversationKey, lockTTL)
	if err != nil {
		log.Error("lock acquire failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}
	if !acquired {
		log.Warn("conversation locked, requesting retry")
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "retry", "reason": "conversation_locked"})
	}
	defer func() {
		if err := h.conv.ReleaseLock(context.Background(), conversationKey); err != nil {
			log.Warn("failed to release conversation lock", zap.Error(err))
		}
	}()

	outOfOrder, err := h.conv.IsOutOfOrder(ctx, conversationKey, evt.Timestamp)
	if err != nil {
		log.Error("ordering check failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}
	if outOfOrder {
		log.Warn("out of order message skipped")
		if h.metrics != nil {
			h.metrics.MessagesOutOfOrder.Inc()
		}
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "skipped", "reason": "out_of_order"})
	}

	payload, err := encodeEvent(evt)
	if err != nil {
		log.Error("encode event failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}

	if _, err := h.stream.Publish(ctx, payload, evt.Priority(), "webhook", evt.GatewayMessageID); err != nil {
		log.Error("publish failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}

	if err := h.conv.SetLastTimestamp(ctx, conversationKey, evt.Timestamp); err != nil {
		log.Warn("failed to update conversation timestamp", zap.Error(err))
	}
	if _, err := h.idem.MarkSeen(ctx, evt.GatewayMessageID, 0); err != nil {
		log.Warn("failed to mark message seen", zap.Error(err))
	}

	log.Info("inbound event accepted")
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "accepted"})
}

func encodeEvent(e *event.Inbound) ([]byte, error) {
	return json.Marshal(e)
}
