package llm_test

import (
	"context"
	"strings"
	"testing"

	"famagpt-fabric/internal/llm"
)

func TestEchoClientEchoesLastMessage(t *testing.T) {
	client := llm.EchoClient{}
	resp, err := client.Chat(context.Background(), []llm.Message{
		{Role: "system", Content: "you are a helpful assistant"},
		{Role: "user", Content: "quais imóveis você tem?"},
	})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if !strings.HasPrefix(resp.Content, "[dev] ") {
		t.Errorf("Content = %q, want it prefixed with [dev] ", resp.Content)
	}
	if !strings.Contains(resp.Content, "quais imóveis você tem?") {
		t.Errorf("Content = %q, want it to echo the last message", resp.Content)
	}
}

func TestEchoClientTruncatesLongMessages(t *testing.T) {
	client := llm.EchoClient{}
	long := strings.Repeat("a", 1000)
	resp, err := client.Chat(context.Background(), []llm.Message{{Role: "user", Content: long}})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if len(resp.Content) > len("[dev] ")+400 {
		t.Errorf("expected echoed content to be truncated to 400 chars, got length %d", len(resp.Content))
	}
}

func TestNewSelectsEchoClientInDevelopment(t *testing.T) {
	client := llm.New("development", "", "", "")
	if _, ok := client.(llm.EchoClient); !ok {
		t.Errorf("New() in development = %T, want llm.EchoClient", client)
	}
}

func TestNewSelectsEchoClientWithoutAPIKey(t *testing.T) {
	client := llm.New("production", "https://api.example.com", "", "gpt-4o-mini")
	if _, ok := client.(llm.EchoClient); !ok {
		t.Errorf("New() without an API key = %T, want llm.EchoClient", client)
	}
}

func TestNewSelectsHTTPClientInProduction(t *testing.T) {
	client := llm.New("production", "https://api.example.com", "sk-test", "gpt-4o-mini")
	if _, ok := client.(*llm.HTTPClient); !ok {
		t.Errorf("New() in production with an API key = %T, want *llm.HTTPClient", client)
	}
}
