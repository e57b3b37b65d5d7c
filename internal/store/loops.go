package store

import (
	"context"
	"encoding/json"
	"fmt"
)

// LoopStatus mirrors the lifecycle named in the loop scheduler's design:
// pending loops are queued behind a dependency, running loops have an
// active agent invocation in flight, stuck loops have tripped a detector,
// completed/failed/interrupted are terminal.
type LoopStatus string

const (
	LoopPending     LoopStatus = "pending"
	LoopRunning     LoopStatus = "running"
	LoopStuck       LoopStatus = "stuck"
	LoopCompleted   LoopStatus = "completed"
	LoopFailed      LoopStatus = "failed"
	LoopInterrupted LoopStatus = "interrupted"
)

// StuckReason records why a loop tripped into LoopStuck, for display and
// for the checkpoint-review prompt handed back to the agent runtime.
//
// Code is one of the named stuck reasons (RepeatedError, MaxIterations,
// NoProgress, AgentReported) and is empty when the loop is not stuck.
type StuckReason struct {
	Code            string `json:"code,omitempty"`
	SameErrorCount  int    `json:"same_error_count,omitempty"`
	NoProgressCount int    `json:"no_progress_count,omitempty"`
	IdleFor         string `json:"idle_for,omitempty"`
	LastError       string `json:"last_error,omitempty"`
}

// Named stuck reasons. A loop's StuckReason.Code is set to one of these
// when detectStuck trips, and left empty otherwise.
const (
	ReasonRepeatedError = "REPEATED_ERROR"
	ReasonMaxIterations = "MAX_ITERATIONS"
	ReasonNoProgress    = "NO_PROGRESS"
	ReasonAgentReported = "AGENT_REPORTED"
)

// LoopRecord is the persisted row for a single build-phase loop.
type LoopRecord struct {
	ID                     string
	RunID                  string
	TaskIDs                []string
	Iteration              int
	MaxIterations          int
	ReviewInterval         int
	LastCheckpointReviewAt int
	Status                 LoopStatus
	Stuck                  *StuckReason
	WorktreePath           string
	OriginatingPhase       string
	ReviewStatus           string
	LastReviewID           string
	RevisionAttempts       int
	CreatedAt              string
	UpdatedAt              string
}

// CreateLoop inserts a new loop row for a run.
func (s *Store) CreateLoop(ctx context.Context, l *LoopRecord) error {
	if l.ID == "" {
		l.ID = NewID()
	}
	ts := now()
	l.CreatedAt, l.UpdatedAt = ts, ts
	taskIDs, err := json.Marshal(l.TaskIDs)
	if err != nil {
		return fmt.Errorf("store: create loop: encode task ids: %w", err)
	}
	stuck, err := encodeStuck(l.Stuck)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO loops (run_id, id, task_ids_json, iteration, max_iterations, review_interval,
			last_checkpoint_review_at, status, stuck_json, worktree_path, originating_phase,
			review_status, last_review_id, revision_attempts, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.RunID, l.ID, string(taskIDs), l.Iteration, l.MaxIterations, l.ReviewInterval,
		l.LastCheckpointReviewAt, string(l.Status), stuck, l.WorktreePath, l.OriginatingPhase,
		l.ReviewStatus, l.LastReviewID, l.RevisionAttempts, l.CreatedAt, l.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: create loop %s: %w", l.ID, err)
	}
	return nil
}

// SaveLoop persists a loop's mutable fields -- this is the per-iteration
// checkpoint write that makes a crashed build phase resumable mid-loop.
func (s *Store) SaveLoop(ctx context.Context, l *LoopRecord) error {
	l.UpdatedAt = now()
	taskIDs, err := json.Marshal(l.TaskIDs)
	if err != nil {
		return fmt.Errorf("store: save loop: encode task ids: %w", err)
	}
	stuck, err := encodeStuck(l.Stuck)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE loops SET task_ids_json=?, iteration=?, max_iterations=?, review_interval=?,
			last_checkpoint_review_at=?, status=?, stuck_json=?, worktree_path=?, originating_phase=?,
			review_status=?, last_review_id=?, revision_attempts=?, updated_at=?
		WHERE run_id=? AND id=?`,
		string(taskIDs), l.Iteration, l.MaxIterations, l.ReviewInterval,
		l.LastCheckpointReviewAt, string(l.Status), stuck, l.WorktreePath, l.OriginatingPhase,
		l.ReviewStatus, l.LastReviewID, l.RevisionAttempts, l.UpdatedAt, l.RunID, l.ID)
	if err != nil {
		return fmt.Errorf("store: save loop %s: %w", l.ID, err)
	}
	return nil
}

// LoadLoops returns every loop recorded for a run, used to restore
// in-flight build state on resume.
func (s *Store) LoadLoops(ctx context.Context, runID string) ([]*LoopRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_ids_json, iteration, max_iterations, review_interval,
			last_checkpoint_review_at, status, stuck_json, worktree_path, originating_phase,
			review_status, last_review_id, revision_attempts, created_at, updated_at
		FROM loops WHERE run_id=?`, runID)
	if err != nil {
		return nil, fmt.Errorf("store: load loops: %w", err)
	}
	defer rows.Close()

	var out []*LoopRecord
	for rows.Next() {
		l := &LoopRecord{RunID: runID}
		var taskIDs, status, stuckJSON string
		if err := rows.Scan(&l.ID, &taskIDs, &l.Iteration, &l.MaxIterations, &l.ReviewInterval,
			&l.LastCheckpointReviewAt, &status, &stuckJSON, &l.WorktreePath, &l.OriginatingPhase,
			&l.ReviewStatus, &l.LastReviewID, &l.RevisionAttempts, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, fmt.Errorf("store: load loops: scan: %w", err)
		}
		l.Status = LoopStatus(status)
		if err := json.Unmarshal([]byte(taskIDs), &l.TaskIDs); err != nil {
			return nil, fmt.Errorf("store: load loops: decode task ids: %w", err)
		}
		if stuckJSON != "{}" && stuckJSON != "" {
			var reason StuckReason
			if err := json.Unmarshal([]byte(stuckJSON), &reason); err == nil {
				l.Stuck = &reason
			}
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// RequeueInterruptedLoops flips every LoopInterrupted loop for a run back to
// LoopPending, so the scheduler picks them up again as runnable on the next
// Iterate call. Called once when a run resumes after a SIGINT/SIGTERM stop.
func (s *Store) RequeueInterruptedLoops(ctx context.Context, runID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE loops SET status=?, updated_at=? WHERE run_id=? AND status=?`,
		string(LoopPending), now(), runID, string(LoopInterrupted))
	if err != nil {
		return fmt.Errorf("store: requeue interrupted loops: %w", err)
	}
	return nil
}

func encodeStuck(reason *StuckReason) (string, error) {
	if reason == nil {
		return "{}", nil
	}
	b, err := json.Marshal(reason)
	if err != nil {
		return "", fmt.Errorf("store: encode stuck reason: %w", err)
	}
	return string(b), nil
}
