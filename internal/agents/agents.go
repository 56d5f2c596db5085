// Package agents implements the C9 agent dispatcher: typed clients per
// backend agent, each wrapped in a circuit breaker, retrier, and a local
// rate limiter, degrading to a structured failure value rather than a
// panic when an agent is unreachable.
package agents

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"famagpt-fabric/internal/observability"
	"famagpt-fabric/internal/resilience"
	"famagpt-fabric/internal/resultkind"
)

// Result is the structured outcome of an agent call: callers never see a
// raw transport error, only this value, so workflow nodes can always
// produce a user-visible fallback.
type Result struct {
	Success bool
	Agent   string
	Data    map[string]any
	Error   string
}

type agentClient struct {
	name    string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	breaker *resilience.CircuitBreaker
	retrier *resilience.Retrier
	logger  *zap.Logger
	metrics *observability.Metrics
}

func newAgentClient(name, baseURL string, timeout time.Duration, logger *zap.Logger, metrics *observability.Metrics) *agentClient {
	return &agentClient{
		name:    name,
		baseURL: baseURL,
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxConnsPerHost:     8,
				MaxIdleConnsPerHost: 4,
			},
		},
		limiter: rate.NewLimiter(rate.Limit(10), 20),
		breaker: resilience.NewCircuitBreaker("pipeline", name, 5, 30*time.Second, metrics),
		retrier: resilience.NewRetrier(name, 3, time.Second, 10*time.Second, 2.0, metrics),
		logger:  logger,
		metrics: metrics,
	}
}

func (a *agentClient) call(ctx context.Context, path string, payload map[string]any) Result {
	if !a.breaker.Allow() {
		return Result{Success: false, Agent: a.name, Error: "circuit open"}
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return Result{Success: false, Agent: a.name, Error: "rate limited: " + err.Error()}
	}

	start := time.Now()
	var data map[string]any
	err := a.retrier.Do(ctx, func(ctx context.Context) error {
		resp, callErr := a.post(ctx, path, payload)
		if callErr != nil {
			return callErr
		}
		data = resp
		return nil
	})

	outcome := "success"
	if err != nil {
		a.breaker.RecordFailure()
		outcome = "failure"
	} else {
		a.breaker.RecordSuccess()
	}
	if a.metrics != nil {
		a.metrics.AgentCallsTotal.WithLabelValues(a.name, outcome).Inc()
		a.metrics.AgentCallDuration.WithLabelValues(a.name).Observe(time.Since(start).Seconds())
	}

	if err != nil {
		a.logger.Warn("agent call failed", zap.String("agent", a.name), zap.Error(err))
		return Result{Success: false, Agent: a.name, Error: err.Error()}
	}
	return Result{Success: true, Agent: a.name, Data: data}
}

func (a *agentClient) post(ctx context.Context, path string, payload map[string]any) (map[string]any, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal agent payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build agent request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, resultkind.New(resultkind.ConnectionError, "agents."+a.name, fmt.Errorf("agent %s unreachable: %w", a.name, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, resultkind.New(resultkind.ExternalServiceError, "agents."+a.name, fmt.Errorf("agent %s returned status %d", a.name, resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return nil, resultkind.New(resultkind.ValidationError, "agents."+a.name, fmt.Errorf("agent %s rejected request with status %d", a.name, resp.StatusCode))
	}

	var parsed map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode agent response: %w", err)
	}
	return parsed, nil
}

// Dispatcher holds one client per known agent type plus a generic
// fallback client for task types with no dedicated endpoint.
type Dispatcher struct {
	transcription *agentClient
	rag           *agentClient
	memory        *agentClient
	webSearch     *agentClient
	generic       *agentClient
}

type Config struct {
	TranscriptionURL string
	RAGURL           string
	MemoryURL        string
	WebSearchURL     string
	GenericURL       string
}

func NewDispatcher(cfg Config, logger *zap.Logger, metrics *observability.Metrics) *Dispatcher {
	return &Dispatcher{
		transcription: newAgentClient("transcription", cfg.TranscriptionURL, 60*time.Second, logger, metrics),
		rag:           newAgentClient("rag", cfg.RAGURL, 30*time.Second, logger, metrics),
		memory:        newAgentClient("memory", cfg.MemoryURL, 30*time.Second, logger, metrics),
		webSearch:     newAgentClient("web_search", cfg.WebSearchURL, 45*time.Second, logger, metrics),
		generic:       newAgentClient("generic", cfg.GenericURL, 30*time.Second, logger, metrics),
	}
}

// TranscribeURL asks the transcription agent to transcribe a media URL.
func (d *Dispatcher) TranscribeURL(ctx context.Context, audioURL, contentType, language string) Result {
	if audioURL == "" {
		return Result{Success: false, Agent: "transcription", Error: "missing audio_url"}
	}
	return d.transcription.call(ctx, "/transcription/transcribe_url", map[string]any{
		"audio_url":    audioURL,
		"content_type": contentType,
		"language":     language,
		"use_cache":    true,
	})
}

// Query asks the RAG agent a domain question.
func (d *Dispatcher) Query(ctx context.Context, query, contextType string) Result {
	filters := map[string]any{}
	if contextType != "" {
		filters["document_type"] = contextType
	}
	return d.rag.call(ctx, "/api/v1/rag/query", map[string]any{
		"query":          query,
		"top_k":          5,
		"min_similarity": 0.5,
		"filters":        filters,
		"use_cache":      true,
	})
}

// GetUserContext fetches recent/important memory for personalization.
func (d *Dispatcher) GetUserContext(ctx context.Context, userID string) Result {
	return d.memory.call(ctx, "/memory/context", map[string]any{"user_id": userID})
}

// StoreMemory persists a conversation turn into long-term memory.
func (d *Dispatcher) StoreMemory(ctx context.Context, userID, conversationID, content, sender, messageType string, metadata map[string]any) Result {
	return d.memory.call(ctx, "/memory/store", map[string]any{
		"user_id":         userID,
		"conversation_id": conversationID,
		"content":         content,
		"sender":          sender,
		"message_type":    messageType,
		"metadata":        metadata,
	})
}

// SearchMemory searches past conversation turns for relevant context.
func (d *Dispatcher) SearchMemory(ctx context.Context, userID, query string, limit int) Result {
	return d.memory.call(ctx, "/memory/search", map[string]any{
		"user_id":             userID,
		"query":               query,
		"memory_types":        []string{"short_term", "long_term"},
		"limit":               limit,
		"similarity_threshold": 0.6,
	})
}

// SearchProperties asks the web search agent to look up listings matching
// criteria.
func (d *Dispatcher) SearchProperties(ctx context.Context, criteria map[string]any) Result {
	return d.webSearch.call(ctx, "/search", map[string]any{
		"search_type": "property_search",
		"criteria":    criteria,
	})
}

// Execute is the generic fallback for task types with no dedicated
// endpoint above.
func (d *Dispatcher) Execute(ctx context.Context, taskType string, data map[string]any) Result {
	payload := map[string]any{"task_type": taskType}
	for k, v := range data {
		payload[k] = v
	}
	return d.generic.call(ctx, "/execute", payload)
}
