package agents_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"famagpt-fabric/internal/agents"
)

func newTestDispatcher(t *testing.T, handler http.HandlerFunc) (*agents.Dispatcher, func()) {
	t.Helper()
	srv := httptest.NewServer(handler)
	d := agents.NewDispatcher(agents.Config{
		TranscriptionURL: srv.URL,
		RAGURL:           srv.URL,
		MemoryURL:        srv.URL,
		WebSearchURL:     srv.URL,
		GenericURL:       srv.URL,
	}, zap.NewNop(), nil)
	return d, srv.Close
}

func TestTranscribeURLSuccess(t *testing.T) {
	d, closeSrv := newTestDispatcher(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/transcription/transcribe_url" {
			t.Errorf("path = %q, want /transcription/transcribe_url", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{"text": "hello there"})
	})
	defer closeSrv()

	result := d.TranscribeURL(context.Background(), "https://gw/audio.ogg", "audio/ogg", "pt")
	if !result.Success {
		t.Fatalf("expected success, got error %q", result.Error)
	}
	if result.Data["text"] != "hello there" {
		t.Errorf("Data = %+v", result.Data)
	}
}

func TestTranscribeURLMissingAudioURL(t *testing.T) {
	d, closeSrv := newTestDispatcher(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("expected no HTTP call for an empty audio_url")
	})
	defer closeSrv()

	result := d.TranscribeURL(context.Background(), "", "", "")
	if result.Success {
		t.Fatal("expected failure for a missing audio_url")
	}
}

func TestAgentCallDegradesOnClientError(t *testing.T) {
	d, closeSrv := newTestDispatcher(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})
	defer closeSrv()

	result := d.Query(context.Background(), "quais os preços?", "")
	if result.Success {
		t.Fatal("expected failure for a 400 response")
	}
	if result.Error == "" {
		t.Error("expected a non-empty Error message")
	}
}

func TestSearchProperties(t *testing.T) {
	d, closeSrv := newTestDispatcher(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["search_type"] != "property_search" {
			t.Errorf("search_type = %v, want property_search", body["search_type"])
		}
		json.NewEncoder(w).Encode(map[string]any{"results": []any{}})
	})
	defer closeSrv()

	result := d.SearchProperties(context.Background(), map[string]any{"city": "São Paulo"})
	if !result.Success {
		t.Fatalf("expected success, got error %q", result.Error)
	}
}
