package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"famagpt-fabric/internal/observability"
)

// Store persists terminal (and optionally intermediate) execution records.
type Store interface {
	SaveCheckpoint(ctx context.Context, executionID, node string, state *State) error
	SaveTerminal(ctx context.Context, executionID, workflow, status string, state *State) error
}

// Engine runs registered Definitions against a State, fanning concurrent
// siblings out as goroutines that report their errors over a channel.
type Engine struct {
	definitions map[string]*Definition
	store       Store
	logger      *zap.Logger
	metrics     *observability.Metrics
}

func NewEngine(logger *zap.Logger, metrics *observability.Metrics, store Store) *Engine {
	return &Engine{
		definitions: map[string]*Definition{},
		store:       store,
		logger:      logger,
		metrics:     metrics,
	}
}

func (e *Engine) Register(def *Definition) {
	e.definitions = cloneAndSet(e.definitions, def.Name, def)
}

func cloneAndSet(m map[string]*Definition, k string, v *Definition) map[string]*Definition {
	m[k] = v
	return m
}

// Execute runs the named workflow to completion, returning the final
// State. executionID is used for checkpointing and logging.
func (e *Engine) Execute(ctx context.Context, executionID, name string, state *State) (*State, error) {
	def, ok := e.definitions[name]
	if !ok {
		return state, fmt.Errorf("unknown workflow %q", name)
	}

	start := time.Now()
	status := "completed"

	rank := []string{def.EntryNode}
	visited := map[string]bool{}

	for len(rank) > 0 {
		select {
		case <-ctx.Done():
			status = "cancelled"
			e.finish(ctx, executionID, name, status, state, start)
			return state, ctx.Err()
		default:
		}

		next := map[string]bool{}
		errs := make(chan error, len(rank))

		for _, nodeName := range rank {
			if visited[nodeName] {
				continue
			}
			visited[nodeName] = true

			node, ok := def.Nodes[nodeName]
			if !ok {
				continue
			}

			go func(name string, fn Node) {
				state.CurrentStep = name
				if err := fn(ctx, state); err != nil {
					errs <- fmt.Errorf("node %s: %w", name, err)
					return
				}
				errs <- nil
			}(nodeName, node)
		}

		for range rank {
			if err := <-errs; err != nil {
				state.Error = err.Error()
				status = "failed"
				e.logger.Error("workflow node failed", zap.String("workflow", name), zap.Error(err))
			}
		}

		if e.store != nil {
			if err := e.store.SaveCheckpoint(ctx, executionID, strings.Join(rank, ","), state); err != nil {
				e.logger.Warn("checkpoint failed", zap.Error(err))
			}
		}

		if state.Error != "" {
			break
		}

		for _, nodeName := range rank {
			for _, succ := range def.Edges[nodeName] {
				if !visited[succ] {
					next[succ] = true
				}
			}
		}

		rank = rank[:0]
		for n := range next {
			rank = append(rank, n)
		}
	}

	e.finish(ctx, executionID, name, status, state, start)
	return state, nil
}

func (e *Engine) finish(ctx context.Context, executionID, name, status string, state *State, start time.Time) {
	if e.metrics != nil {
		e.metrics.WorkflowExecutionsTotal.WithLabelValues(name, status).Inc()
		e.metrics.WorkflowExecutionDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}
	if e.store != nil {
		if err := e.store.SaveTerminal(ctx, executionID, name, status, state); err != nil {
			e.logger.Warn("save terminal record failed", zap.Error(err))
		}
	}
}
