// Package workflow implements the C8 workflow engine: a static DAG of
// typed nodes operating over one shared State whose Results are guarded
// by a mutex.
package workflow

import (
	"context"
	"sync"
)

// State is threaded through every node in a workflow execution. Nodes at
// the same rank run concurrently and must only write to their own key
// under Results; Messages/Context are not guarded by the mutex, so only a
// node that runs alone at its rank may write to them.
type State struct {
	Messages        []map[string]any
	CurrentStep     string
	ConversationKey string
	Context         map[string]any
	Results         map[string]any
	Error           string

	mu sync.Mutex
}

func NewState(conversationKey string, seedContext map[string]any) *State {
	return &State{
		ConversationKey: conversationKey,
		Context:         seedContext,
		Results:         map[string]any{},
	}
}

// SetResult safely writes a key under Results, used by concurrent sibling
// nodes so no two goroutines touch the same map entry unsynchronized.
func (s *State) SetResult(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Results[key] = value
}

func (s *State) GetResult(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.Results[key]
	return v, ok
}

// Node is one unit of workflow execution.
type Node func(ctx context.Context, state *State) error

// Definition is a static graph descriptor: nodes keyed by name, edges
// describing successors, and a fixed entry node. Built once at
// registration time, never mutated at runtime.
type Definition struct {
	Name      string
	EntryNode string
	Nodes     map[string]Node
	Edges     map[string][]string
}
