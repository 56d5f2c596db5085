// Package correlation threads per-request identity through a
// context.Context, replacing the async context-vars pattern the original
// Python services relied on.
package correlation

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type ctxKey struct{}

// Context carries the identifiers every log line and outbound call should
// attach once a webhook event enters the fabric.
type Context struct {
	CorrelationID    string
	ConversationKey  string
	GatewayMessageID string
}

// New builds a Context with a freshly generated correlation ID.
func New(conversationKey, gatewayMessageID string) Context {
	return Context{
		CorrelationID:    uuid.NewString(),
		ConversationKey:  conversationKey,
		GatewayMessageID: gatewayMessageID,
	}
}

// Into attaches c to ctx.
func Into(ctx context.Context, c Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, c)
}

// From extracts the Context previously attached with Into, returning the
// zero value if none is present.
func From(ctx context.Context) Context {
	c, _ := ctx.Value(ctxKey{}).(Context)
	return c
}

// Fields renders the correlation context as zap fields for logging.
func Fields(ctx context.Context) []zap.Field {
	c := From(ctx)
	fields := make([]zap.Field, 0, 3)
	if c.CorrelationID != "" {
		fields = append(fields, zap.String("correlation_id", c.CorrelationID))
	}
	if c.ConversationKey != "" {
		fields = append(fields, zap.String("conversation_key", c.ConversationKey))
	}
	if c.GatewayMessageID != "" {
		fields = append(fields, zap.String("gateway_message_id", c.GatewayMessageID))
	}
	return fields
}
