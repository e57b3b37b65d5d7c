package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/AbdelazizMoustafa10m/sq/internal/task"
)

// UpsertTask writes a task's current state, replacing any existing row for
// (runID, task.ID).
func (s *Store) UpsertTask(ctx context.Context, runID string, t *task.Task) error {
	ts := now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (run_id, id, title, description, status, estimated_iterations, assigned_loop, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, id) DO UPDATE SET
			title=excluded.title,
			description=excluded.description,
			status=excluded.status,
			estimated_iterations=excluded.estimated_iterations,
			assigned_loop=excluded.assigned_loop,
			updated_at=excluded.updated_at`,
		runID, t.ID, t.Title, t.Description, string(t.Status), t.EstimatedIterations, t.AssignedLoop, ts, ts)
	if err != nil {
		return fmt.Errorf("store: upsert task %s: %w", t.ID, err)
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM task_deps WHERE run_id=? AND task_id=?`, runID, t.ID); err != nil {
		return fmt.Errorf("store: upsert task %s: clear deps: %w", t.ID, err)
	}
	for _, dep := range t.Dependencies {
		if _, err := s.db.ExecContext(ctx, `
			INSERT OR IGNORE INTO task_deps (run_id, task_id, depends_on_task_id) VALUES (?, ?, ?)`,
			runID, t.ID, dep); err != nil {
			return fmt.Errorf("store: upsert task %s: insert dep %s: %w", t.ID, dep, err)
		}
	}
	return nil
}

// LoadTaskGraph reconstructs the full task graph (tasks, dependencies, and
// plan groups) for a run, as needed to resume the build phase after a
// restart.
func (s *Store) LoadTaskGraph(ctx context.Context, runID string) (*task.Graph, error) {
	g := task.NewGraph()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, description, status, estimated_iterations, assigned_loop
		FROM tasks WHERE run_id=?`, runID)
	if err != nil {
		return nil, fmt.Errorf("store: load task graph: %w", err)
	}
	for rows.Next() {
		var t task.Task
		var status string
		if err := rows.Scan(&t.ID, &t.Title, &t.Description, &status, &t.EstimatedIterations, &t.AssignedLoop); err != nil {
			rows.Close()
			return nil, fmt.Errorf("store: load task graph: scan: %w", err)
		}
		t.Status = task.TaskStatus(status)
		g.Add(&t)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("store: load task graph: %w", err)
	}
	rows.Close()

	depRows, err := s.db.QueryContext(ctx, `SELECT task_id, depends_on_task_id FROM task_deps WHERE run_id=?`, runID)
	if err != nil {
		return nil, fmt.Errorf("store: load task graph: deps: %w", err)
	}
	for depRows.Next() {
		var taskID, depID string
		if err := depRows.Scan(&taskID, &depID); err != nil {
			depRows.Close()
			return nil, fmt.Errorf("store: load task graph: scan dep: %w", err)
		}
		if t, ok := g.Tasks[taskID]; ok {
			t.Dependencies = append(t.Dependencies, depID)
		}
	}
	if err := depRows.Err(); err != nil {
		depRows.Close()
		return nil, fmt.Errorf("store: load task graph: deps: %w", err)
	}
	depRows.Close()

	groups, err := s.LoadPlanGroups(ctx, runID)
	if err != nil {
		return nil, err
	}
	g.PlanGroups = groups
	return g, nil
}

// SavePlanGroups replaces a run's plan groups with a fresh ordering,
// produced once by the plan phase.
func (s *Store) SavePlanGroups(ctx context.Context, runID string, groups [][]string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: save plan groups: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM plan_groups WHERE run_id=?`, runID); err != nil {
		return fmt.Errorf("store: save plan groups: clear: %w", err)
	}
	for idx, group := range groups {
		for _, taskID := range group {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO plan_groups (run_id, group_index, task_id) VALUES (?, ?, ?)`,
				runID, idx, taskID); err != nil {
				return fmt.Errorf("store: save plan groups: insert: %w", err)
			}
		}
	}

	content, err := json.Marshal(groups)
	if err == nil {
		_ = s.AddContext(ctx, &ContextEntry{RunID: runID, Type: ContextPlanGroup, Content: string(content)})
	}

	return tx.Commit()
}

// LoadPlanGroups reconstructs the ordered plan groups for a run.
func (s *Store) LoadPlanGroups(ctx context.Context, runID string) ([][]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT group_index, task_id FROM plan_groups WHERE run_id=? ORDER BY group_index`, runID)
	if err != nil {
		return nil, fmt.Errorf("store: load plan groups: %w", err)
	}
	defer rows.Close()

	byIndex := make(map[int][]string)
	var maxIndex = -1
	for rows.Next() {
		var idx int
		var taskID string
		if err := rows.Scan(&idx, &taskID); err != nil {
			return nil, fmt.Errorf("store: load plan groups: scan: %w", err)
		}
		byIndex[idx] = append(byIndex[idx], taskID)
		if idx > maxIndex {
			maxIndex = idx
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: load plan groups: %w", err)
	}

	groups := make([][]string, maxIndex+1)
	for idx := range groups {
		groups[idx] = byIndex[idx]
	}
	return groups, nil
}
