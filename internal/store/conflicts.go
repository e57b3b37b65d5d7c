package store

import (
	"context"
	"encoding/json"
	"fmt"
)

// Conflict is a materialized pending-conflict entry: a merge that a build
// loop could not complete automatically, queued for the conflict phase to
// drain one at a time.
type Conflict struct {
	ID      string   `json:"-"`
	LoopID  string   `json:"loop_id"`
	TaskIDs []string `json:"task_ids"`
	Files   []string `json:"files"`
}

// AddConflict queues a pending conflict for the conflict phase to resolve.
// Conflicts are recorded in the context log rather than a dedicated table,
// consistent with the run store's "context log as single source of truth"
// design: the conflict phase reads them back the same way it reads any
// other structured artifact.
func (s *Store) AddConflict(ctx context.Context, runID string, c Conflict) error {
	content, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("store: add conflict: encode: %w", err)
	}
	return s.AddContext(ctx, &ContextEntry{RunID: runID, Type: ContextConflict, Content: string(content), LoopID: c.LoopID})
}

// PendingConflicts returns every queued conflict for a run, oldest first,
// so the conflict phase drains them in the order they arose.
func (s *Store) PendingConflicts(ctx context.Context, runID string) ([]Conflict, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, content FROM context
		WHERE run_id=? AND type=?
		ORDER BY created_at ASC`, runID, string(ContextConflict))
	if err != nil {
		return nil, fmt.Errorf("store: pending conflicts: %w", err)
	}
	defer rows.Close()

	var out []Conflict
	for rows.Next() {
		var id, content string
		if err := rows.Scan(&id, &content); err != nil {
			return nil, fmt.Errorf("store: pending conflicts: scan: %w", err)
		}
		var c Conflict
		if err := json.Unmarshal([]byte(content), &c); err != nil {
			return nil, fmt.Errorf("store: pending conflicts: decode: %w", err)
		}
		c.ID = id
		out = append(out, c)
	}
	return out, rows.Err()
}

// ResolveConflict removes a queued conflict once the conflict phase has
// handled it, successfully or not.
func (s *Store) ResolveConflict(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM context WHERE id=?`, id); err != nil {
		return fmt.Errorf("store: resolve conflict %s: %w", id, err)
	}
	return nil
}
