//go:build integration

package pipeline_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go/modules/redis"
	"go.uber.org/zap"

	"famagpt-fabric/internal/event"
	"famagpt-fabric/internal/gateway"
	"famagpt-fabric/internal/idempotency"
	"famagpt-fabric/internal/pipeline"
	"famagpt-fabric/internal/stream"
	"famagpt-fabric/internal/workflow"
)

var sharedRDB *goredis.Client

func TestMain(m *testing.M) {
	ctx := context.Background()

	container, err := redis.Run(ctx, "redis:7-alpine")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start redis container: %v\n", err)
		os.Exit(1)
	}

	addr, err := container.ConnectionString(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to get redis connection string: %v\n", err)
		os.Exit(1)
	}

	opts, err := goredis.ParseURL(addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to parse redis url: %v\n", err)
		os.Exit(1)
	}
	sharedRDB = goredis.NewClient(opts)

	code := m.Run()

	sharedRDB.Close()
	_ = container.Terminate(ctx)
	os.Exit(code)
}

type replyStore struct {
	n atomic.Int32
}

func TestWorkerProcessesEntryAndSendsReply(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var replies replyStore
	gwSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		replies.n.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer gwSrv.Close()

	topic := "test:pipeline:worker"
	st := stream.New(sharedRDB, topic, "worker-group", 1000)

	engine := workflow.NewEngine(zap.NewNop(), nil, &noopWorkflowStore{})
	engine.Register(&workflow.Definition{
		Name:      "greeting",
		EntryNode: "respond",
		Nodes: map[string]workflow.Node{
			"respond": func(_ context.Context, s *workflow.State) error {
				s.SetResult("formatted_response", "Olá! Como posso ajudar?")
				return nil
			},
		},
		Edges: map[string][]string{},
	})

	gw := gateway.New(gwSrv.URL, "test-key")
	idem := idempotency.NewStore(sharedRDB)
	processed := pipeline.NewProcessedSet(sharedRDB)

	worker := pipeline.NewWorker(st, engine, gw, idem, processed, pipeline.Config{
		PoolSize:   1,
		MaxRetries: 3,
		AutoClaim:  time.Minute,
		ConsumerID: "test-consumer",
	}, zap.NewNop(), nil)

	evt := event.Inbound{
		GatewayMessageID: "msg-1",
		InstanceID:       "inst-1",
		Phone:            "5511999999999",
		Kind:             event.KindText,
		Content:          "oi",
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	if _, err := st.Publish(ctx, payload, 1, "webhook", ""); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()

	deadline := time.After(5 * time.Second)
	for replies.n.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for the worker to send a reply")
		case <-time.After(50 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not shut down after context cancellation")
	}

	seen, err := idem.Processed(context.Background(), "msg-1")
	if err != nil {
		t.Fatalf("Processed() error = %v", err)
	}
	if !seen {
		t.Error("expected the message to be marked processed")
	}
}

func TestWorkerRequeuesAudioProcessingAsPropertySearch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var replies replyStore
	gwSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		replies.n.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer gwSrv.Close()

	topic := "test:pipeline:worker-requeue"
	st := stream.New(sharedRDB, topic, "worker-group", 1000)

	engine := workflow.NewEngine(zap.NewNop(), nil, &noopWorkflowStore{})
	engine.Register(&workflow.Definition{
		Name:      "audio_processing",
		EntryNode: "transcribe",
		Nodes: map[string]workflow.Node{
			"transcribe": func(_ context.Context, s *workflow.State) error {
				s.SetResult("next_workflow", "property_search")
				s.SetResult("processed_content", "procuro apartamento em Uberlândia")
				return nil
			},
		},
		Edges: map[string][]string{},
	})
	engine.Register(&workflow.Definition{
		Name:      "property_search",
		EntryNode: "respond",
		Nodes: map[string]workflow.Node{
			"respond": func(_ context.Context, s *workflow.State) error {
				s.SetResult("formatted_response", "Encontrei alguns imóveis para você.")
				return nil
			},
		},
		Edges: map[string][]string{},
	})

	gw := gateway.New(gwSrv.URL, "test-key")
	idem := idempotency.NewStore(sharedRDB)
	processed := pipeline.NewProcessedSet(sharedRDB)

	worker := pipeline.NewWorker(st, engine, gw, idem, processed, pipeline.Config{
		PoolSize:   1,
		MaxRetries: 3,
		AutoClaim:  time.Minute,
		ConsumerID: "test-consumer",
	}, zap.NewNop(), nil)

	evt := event.Inbound{
		GatewayMessageID: "msg-audio-1",
		InstanceID:       "inst-1",
		Phone:            "5511999999999",
		Kind:             event.KindVoice,
		Media:            &event.Media{URL: "https://gw/audio.ogg", MimeType: "audio/ogg"},
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	if _, err := st.Publish(ctx, payload, 2, "webhook", ""); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()

	deadline := time.After(5 * time.Second)
	for replies.n.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for the requeued property_search reply")
		case <-time.After(50 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not shut down after context cancellation")
	}

	pending, err := st.PendingCount(context.Background())
	if err != nil {
		t.Fatalf("PendingCount() error = %v", err)
	}
	if pending != 0 {
		t.Errorf("pending count = %d, want 0 (both original and requeued entries acked)", pending)
	}
}

type noopWorkflowStore struct{}

func (noopWorkflowStore) SaveCheckpoint(ctx context.Context, executionID, node string, state *workflow.State) error {
	return nil
}

func (noopWorkflowStore) SaveTerminal(ctx context.Context, executionID, wf, status string, state *workflow.State) error {
	return nil
}
