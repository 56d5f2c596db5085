//go:build integration

package dlqadmin_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go/modules/redis"

	"famagpt-fabric/internal/dlqadmin"
	"famagpt-fabric/internal/stream"
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

func TestReprocessMovesEntryBackToOriginalStream(t *testing.T) {
	ctx := context.Background()
	topic := "test:dlqadmin:reprocess"
	st := stream.New(sharedRDB, topic, "test-group", 1000)
	if err := st.EnsureGroup(ctx); err != nil {
		t.Fatalf("EnsureGroup() error = %v", err)
	}

	if err := st.DeadLetter(ctx, stream.Entry{ID: "1-1", Payload: []byte(`{"Kind":"text","a":1}`)}, "timeout calling rag agent", nil); err != nil {
		t.Fatalf("DeadLetter() error = %v", err)
	}

	manager := dlqadmin.New(sharedRDB, topic)
	entries, err := manager.List(ctx, dlqadmin.Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("len(entries) = %d, want 1", len(entries))
	}
	if entries[0].ErrorCategory != "timeout" {
		t.Errorf("ErrorCategory = %q, want timeout", entries[0].ErrorCategory)
	}
	if entries[0].MessageKind != "text" {
		t.Errorf("MessageKind = %q, want text", entries[0].MessageKind)
	}

	if err := manager.Reprocess(ctx, entries[0].ID); err != nil {
		t.Fatalf("Reprocess() error = %v", err)
	}

	length, err := st.Length(ctx)
	if err != nil {
		t.Fatalf("Length() error = %v", err)
	}
	if length != 1 {
		t.Errorf("original stream length = %d, want 1 after reprocess", length)
	}

	after, err := manager.List(ctx, dlqadmin.Filter{})
	if err != nil {
		t.Fatalf("List() after reprocess error = %v", err)
	}
	if len(after) != 0 {
		t.Errorf("len(after) = %d, want 0 — reprocessed entry should leave the DLQ", len(after))
	}
}

func TestPurgeRemovesOldEntries(t *testing.T) {
	ctx := context.Background()
	topic := "test:dlqadmin:purge"
	st := stream.New(sharedRDB, topic, "test-group", 1000)
	if err := st.EnsureGroup(ctx); err != nil {
		t.Fatalf("EnsureGroup() error = %v", err)
	}
	if err := st.DeadLetter(ctx, stream.Entry{ID: "2-1", Payload: []byte(`{"Kind":"audio","b":2}`)}, "connection refused", nil); err != nil {
		t.Fatalf("DeadLetter() error = %v", err)
	}

	manager := dlqadmin.New(sharedRDB, topic)
	purged, err := manager.Purge(ctx, -time.Hour)
	if err != nil {
		t.Fatalf("Purge() error = %v", err)
	}
	if purged != 1 {
		t.Errorf("purged = %d, want 1", purged)
	}

	remaining, err := manager.List(ctx, dlqadmin.Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(remaining) != 0 {
		t.Errorf("len(remaining) = %d, want 0 after purge", len(remaining))
	}
}

func TestAnalyzeCategorizesFailures(t *testing.T) {
	ctx := context.Background()
	topic := "test:dlqadmin:analyze"
	st := stream.New(sharedRDB, topic, "test-group", 1000)
	if err := st.EnsureGroup(ctx); err != nil {
		t.Fatalf("EnsureGroup() error = %v", err)
	}
	if err := st.DeadLetter(ctx, stream.Entry{ID: "3-1", Payload: []byte(`{"Kind":"text"}`)}, "request timeout", nil); err != nil {
		t.Fatalf("DeadLetter() error = %v", err)
	}
	if err := st.DeadLetter(ctx, stream.Entry{ID: "3-2", Payload: []byte(`{"Kind":"voice"}`)}, "invalid input", nil); err != nil {
		t.Fatalf("DeadLetter() error = %v", err)
	}

	manager := dlqadmin.New(sharedRDB, topic)
	analysis, err := manager.Analyze(ctx, 24)
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if analysis.TotalFailed != 2 {
		t.Errorf("TotalFailed = %d, want 2", analysis.TotalFailed)
	}
	if analysis.ByErrorCategory["timeout"] != 1 || analysis.ByErrorCategory["validation"] != 1 {
		t.Errorf("ByErrorCategory = %+v", analysis.ByErrorCategory)
	}
	if analysis.ByMessageKind["text"] != 1 || analysis.ByMessageKind["voice"] != 1 {
		t.Errorf("ByMessageKind = %+v", analysis.ByMessageKind)
	}
}

func TestListFiltersByMessageKind(t *testing.T) {
	ctx := context.Background()
	topic := "test:dlqadmin:kind-filter"
	st := stream.New(sharedRDB, topic, "test-group", 1000)
	if err := st.EnsureGroup(ctx); err != nil {
		t.Fatalf("EnsureGroup() error = %v", err)
	}
	if err := st.DeadLetter(ctx, stream.Entry{ID: "4-1", Payload: []byte(`{"Kind":"text"}`)}, "timeout", nil); err != nil {
		t.Fatalf("DeadLetter() error = %v", err)
	}
	if err := st.DeadLetter(ctx, stream.Entry{ID: "4-2", Payload: []byte(`{"Kind":"audio"}`)}, "timeout", nil); err != nil {
		t.Fatalf("DeadLetter() error = %v", err)
	}

	manager := dlqadmin.New(sharedRDB, topic)
	entries, err := manager.List(ctx, dlqadmin.Filter{MessageKind: "audio"})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(entries) != 1 || entries[0].MessageKind != "audio" {
		t.Errorf("entries = %+v, want exactly one audio entry", entries)
	}
}
