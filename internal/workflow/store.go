package workflow

import (
	"context"
	"encoding/json"
	"fmt"

	"famagpt-fabric/internal/db"
)

// PostgresStore persists workflow checkpoints and terminal records,
// satisfying the Store interface the Engine checkpoints against.
type PostgresStore struct {
	db *db.PostgresDB
}

func NewPostgresStore(pg *db.PostgresDB) *PostgresStore {
	return &PostgresStore{db: pg}
}

func (s *PostgresStore) SaveCheckpoint(ctx context.Context, executionID, node string, state *State) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal checkpoint state: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workflow_checkpoints (execution_id, node, state) VALUES ($1, $2, $3)`,
		executionID, node, payload)
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveTerminal(ctx context.Context, executionID, workflowName, status string, state *State) error {
	results, err := json.Marshal(state.Results)
	if err != nil {
		return fmt.Errorf("marshal terminal results: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workflow_executions (execution_id, workflow_name, conversation_key, status, current_step, results, error, finished_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		 ON CONFLICT (execution_id) DO UPDATE SET
		   status = EXCLUDED.status,
		   current_step = EXCLUDED.current_step,
		   results = EXCLUDED.results,
		   error = EXCLUDED.error,
		   finished_at = now()`,
		executionID, workflowName, state.ConversationKey, status, state.CurrentStep, results, state.Error)
	if err != nil {
		return fmt.Errorf("save terminal record: %w", err)
	}
	return nil
}
