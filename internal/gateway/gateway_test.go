package gateway_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"famagpt-fabric/internal/gateway"
)

func TestSendMessage(t *testing.T) {
	var gotPath, gotAPIKey string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAPIKey = r.Header.Get("apikey")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := gateway.New(srv.URL, "test-key")
	if err := client.SendMessage(context.Background(), "inst-1", "5511999999999", "hello"); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}

	if gotPath != "/message/sendText/inst-1" {
		t.Errorf("path = %q, want /message/sendText/inst-1", gotPath)
	}
	if gotAPIKey != "test-key" {
		t.Errorf("apikey header = %q, want test-key", gotAPIKey)
	}
	if gotBody["number"] != "5511999999999" || gotBody["text"] != "hello" {
		t.Errorf("body = %+v", gotBody)
	}
}

func TestSendMessageErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := gateway.New(srv.URL, "test-key")
	if err := client.SendMessage(context.Background(), "inst-1", "5511999999999", "hello"); err == nil {
		t.Fatal("expected an error for a 500 response")
	}
}

func TestSendTypingPresence(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := gateway.New(srv.URL, "test-key")
	if err := client.SendTyping(context.Background(), "inst-1", "5511999999999", true); err != nil {
		t.Fatalf("SendTyping() error = %v", err)
	}
	if gotBody["presence"] != "composing" {
		t.Errorf("presence = %v, want composing", gotBody["presence"])
	}

	if err := client.SendTyping(context.Background(), "inst-1", "5511999999999", false); err != nil {
		t.Fatalf("SendTyping() error = %v", err)
	}
	if gotBody["presence"] != "paused" {
		t.Errorf("presence = %v, want paused", gotBody["presence"])
	}
}
