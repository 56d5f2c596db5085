package correlation_test

import (
	"context"
	"testing"

	"famagpt-fabric/internal/correlation"
)

func TestNewGeneratesCorrelationID(t *testing.T) {
	c := correlation.New("inst-1:5511999999999", "MSG123")
	if c.CorrelationID == "" {
		t.Error("expected a non-empty correlation id")
	}
	if c.ConversationKey != "inst-1:5511999999999" {
		t.Errorf("ConversationKey = %q", c.ConversationKey)
	}
	if c.GatewayMessageID != "MSG123" {
		t.Errorf("GatewayMessageID = %q", c.GatewayMessageID)
	}
}

func TestIntoFromRoundTrip(t *testing.T) {
	c := correlation.New("inst-1:5511999999999", "MSG123")
	ctx := correlation.Into(context.Background(), c)

	got := correlation.From(ctx)
	if got != c {
		t.Errorf("From() = %+v, want %+v", got, c)
	}
}

func TestFromReturnsZeroValueWithoutContext(t *testing.T) {
	got := correlation.From(context.Background())
	if got.CorrelationID != "" || got.ConversationKey != "" || got.GatewayMessageID != "" {
		t.Errorf("expected zero value, got %+v", got)
	}
}

func TestFieldsOmitsEmptyValues(t *testing.T) {
	fields := correlation.Fields(context.Background())
	if len(fields) != 0 {
		t.Errorf("expected no fields for an empty context, got %d", len(fields))
	}

	ctx := correlation.Into(context.Background(), correlation.New("inst-1:5511999999999", "MSG123"))
	fields = correlation.Fields(ctx)
	if len(fields) != 3 {
		t.Errorf("expected 3 fields, got %d", len(fields))
	}
}
