// Package store implements the run store: the durable, relational home for
// everything a run needs to survive a restart -- tasks, plan groups, loops,
// the append-only context log, review issues, phase history, and costs.
//
// It is backed by modernc.org/sqlite (a CGo-free driver, matching the rest
// of this module's pure-Go build) with WAL journaling and foreign keys
// enabled, and a context_fts FTS5 virtual table kept in sync via triggers
// so context entries are full-text searchable without a second round trip.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

// ContextType identifies the kind of entry recorded in the context log.
type ContextType string

const (
	ContextTask             ContextType = "task"
	ContextPlanGroup        ContextType = "plan_group"
	ContextReviewIssue      ContextType = "review_issue"
	ContextScratchpad       ContextType = "scratchpad"
	ContextDiscovery        ContextType = "discovery"
	ContextError            ContextType = "error"
	ContextDecision         ContextType = "decision"
	ContextCodebaseAnalysis ContextType = "codebase_analysis"
	ContextConflict         ContextType = "conflict"
)

// neverPruned holds context types that Prune must never remove regardless
// of age or count, per the run store's stated prune policy.
var neverPruned = map[ContextType]bool{
	ContextCodebaseAnalysis: true,
}

// Store is a single run store backed by one SQLite database file.
type Store struct {
	db *sql.DB
}

// Open creates or opens the run store at path, applies the schema, and
// configures WAL journaling and foreign-key enforcement. path may be
// ":memory:" for ephemeral stores used in tests.
func Open(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn = fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", path)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// A single writer, many readers: cap concurrent connections so SQLite's
	// own locking is never the bottleneck and WAL readers never starve the
	// one writer goroutine.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: applying schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// NewID returns a fresh UUIDv4, used for run, loop, and context-entry IDs
// so restarts never collide the way a time.Now().UnixNano() scheme would.
func NewID() string {
	return uuid.NewString()
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// RunRecord is the persisted row for a single orchestration run.
type RunRecord struct {
	ID              string
	SpecPath        string
	Effort          string
	Phase           string
	ConfigJSON      string
	AnalysisJSON    string
	WasEmptyProject bool
	PendingReview   bool
	ReviewType      string
	RevisionCount   int
	CostTotal       float64
	CostLimitsJSON  string
	CreatedAt       string
	UpdatedAt       string
}

// CreateRun inserts a new run row. It is the entry point called once at the
// start of `sq run` when no prior state exists for the given state dir.
func (s *Store) CreateRun(ctx context.Context, r *RunRecord) error {
	if r.ID == "" {
		r.ID = NewID()
	}
	ts := now()
	r.CreatedAt, r.UpdatedAt = ts, ts
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, spec_path, effort, phase, config_json, analysis_json,
			was_empty_project, pending_review, review_type, revision_count,
			cost_total, cost_limits_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.SpecPath, r.Effort, r.Phase, r.ConfigJSON, r.AnalysisJSON,
		boolToInt(r.WasEmptyProject), boolToInt(r.PendingReview), r.ReviewType, r.RevisionCount,
		r.CostTotal, r.CostLimitsJSON, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: create run: %w", err)
	}
	return nil
}

// SaveRun persists the full run record, overwriting the existing row. It is
// the checkpoint primitive called after every phase transition so a crash
// mid-phase resumes from the last completed step rather than from scratch.
func (s *Store) SaveRun(ctx context.Context, r *RunRecord) error {
	r.UpdatedAt = now()
	_, err := s.db.ExecContext(ctx, `
		UPDATE runs SET spec_path=?, effort=?, phase=?, config_json=?, analysis_json=?,
			was_empty_project=?, pending_review=?, review_type=?, revision_count=?,
			cost_total=?, cost_limits_json=?, updated_at=?
		WHERE id=?`,
		r.SpecPath, r.Effort, r.Phase, r.ConfigJSON, r.AnalysisJSON,
		boolToInt(r.WasEmptyProject), boolToInt(r.PendingReview), r.ReviewType, r.RevisionCount,
		r.CostTotal, r.CostLimitsJSON, r.UpdatedAt, r.ID)
	if err != nil {
		return fmt.Errorf("store: save run %s: %w", r.ID, err)
	}
	return nil
}

// LoadRun reads a run by ID. It returns sql.ErrNoRows wrapped if absent.
func (s *Store) LoadRun(ctx context.Context, id string) (*RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, spec_path, effort, phase, config_json, analysis_json,
			was_empty_project, pending_review, review_type, revision_count,
			cost_total, cost_limits_json, created_at, updated_at
		FROM runs WHERE id=?`, id)

	var r RunRecord
	var wasEmpty, pending int
	if err := row.Scan(&r.ID, &r.SpecPath, &r.Effort, &r.Phase, &r.ConfigJSON, &r.AnalysisJSON,
		&wasEmpty, &pending, &r.ReviewType, &r.RevisionCount,
		&r.CostTotal, &r.CostLimitsJSON, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, fmt.Errorf("store: load run %s: %w", id, err)
	}
	r.WasEmptyProject = wasEmpty != 0
	r.PendingReview = pending != 0
	return &r, nil
}

// LatestRun returns the most recently updated run, or sql.ErrNoRows wrapped
// if the store has never held one. Used by `sq run --resume` and `sq
// status` when no run ID is given explicitly.
func (s *Store) LatestRun(ctx context.Context) (*RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id FROM runs ORDER BY updated_at DESC LIMIT 1`)
	var id string
	if err := row.Scan(&id); err != nil {
		return nil, fmt.Errorf("store: latest run: %w", err)
	}
	return s.LoadRun(ctx, id)
}

// ListRuns returns every run row, most recently updated first. Used by `sq
// resume --list` and `sq status --all`.
func (s *Store) ListRuns(ctx context.Context) ([]*RunRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM runs ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("store: list runs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: list runs: scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list runs: %w", err)
	}

	runs := make([]*RunRecord, 0, len(ids))
	for _, id := range ids {
		r, err := s.LoadRun(ctx, id)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, nil
}

// DeleteRun removes a run and every row keyed by its ID across all tables,
// for `sq resume --clean`/`--clean-all`. Table order satisfies the runs(id)
// foreign keys declared in schema.go.
func (s *Store) DeleteRun(ctx context.Context, runID string) error {
	tables := []string{"costs", "context", "loops", "plan_groups", "task_deps", "tasks", "phase_history"}
	for _, t := range tables {
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE run_id=?`, t), runID); err != nil {
			return fmt.Errorf("store: delete run %s: %s: %w", runID, t, err)
		}
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id=?`, runID); err != nil {
		return fmt.Errorf("store: delete run %s: %w", runID, err)
	}
	return nil
}

// RecordPhaseTransition appends one row to phase_history. seq must be
// monotonically increasing per run; the caller (the phase engine) tracks
// this as part of WorkflowState-equivalent bookkeeping.
func (s *Store) RecordPhaseTransition(ctx context.Context, runID string, seq int, phaseName string, success bool, summary string, cost float64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO phase_history (run_id, seq, phase, success, summary, cost, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runID, seq, phaseName, boolToInt(success), summary, cost, now())
	if err != nil {
		return fmt.Errorf("store: record phase transition: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// ContextEntry is one row of the append-only context log.
type ContextEntry struct {
	ID         string
	RunID      string
	Type       ContextType
	Content    string
	TaskID     string
	LoopID     string
	FilePath   string
	LineNumber int
	CreatedAt  string
}

// dedupeKey computes the idempotency key for an entry: an xxhash digest of
// (run, type, task, loop, content), so a retried write of the same logical
// entry after a crash is a no-op rather than a duplicate row.
func dedupeKey(e *ContextEntry) string {
	h := xxhash.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%s\x00%s", e.RunID, e.Type, e.TaskID, e.LoopID, e.Content)
	return fmt.Sprintf("%016x", h.Sum64())
}

// AddContext writes an entry idempotently: a duplicate write (same run,
// type, task, loop, and content) is silently ignored rather than inserted
// twice, satisfying the retry-safety requirement on the write path.
func (s *Store) AddContext(ctx context.Context, e *ContextEntry) error {
	if e.ID == "" {
		e.ID = NewID()
	}
	e.CreatedAt = now()
	key := dedupeKey(e)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO context (id, run_id, type, content, task_id, loop_id, file_path, line_number, dedupe_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, dedupe_key) DO NOTHING`,
		e.ID, e.RunID, string(e.Type), e.Content, e.TaskID, e.LoopID, e.FilePath, e.LineNumber, key, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: add context: %w", err)
	}
	return nil
}

// ContextByType returns the most recent entries of a given type for a run,
// newest first, capped at limit (0 means unlimited).
func (s *Store) ContextByType(ctx context.Context, runID string, t ContextType, limit int) ([]*ContextEntry, error) {
	q := `SELECT id, run_id, type, content, task_id, loop_id, file_path, line_number, created_at
		FROM context WHERE run_id=? AND type=? ORDER BY created_at DESC`
	args := []any{runID, string(t)}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: context by type: %w", err)
	}
	defer rows.Close()
	return scanContextRows(rows)
}

// SearchContext runs a full-text search over context content for a run,
// returning matches ranked by FTS5's default bm25 relevance.
func (s *Store) SearchContext(ctx context.Context, runID, query string, limit int) ([]*ContextEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.run_id, c.type, c.content, c.task_id, c.loop_id, c.file_path, c.line_number, c.created_at
		FROM context_fts
		JOIN context c ON c.rowid = context_fts.rowid
		WHERE context_fts MATCH ? AND c.run_id = ?
		ORDER BY rank
		LIMIT ?`, query, runID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: search context: %w", err)
	}
	defer rows.Close()
	return scanContextRows(rows)
}

func scanContextRows(rows *sql.Rows) ([]*ContextEntry, error) {
	var out []*ContextEntry
	for rows.Next() {
		var e ContextEntry
		var typ string
		if err := rows.Scan(&e.ID, &e.RunID, &typ, &e.Content, &e.TaskID, &e.LoopID, &e.FilePath, &e.LineNumber, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan context row: %w", err)
		}
		e.Type = ContextType(typ)
		out = append(out, &e)
	}
	return out, rows.Err()
}

// Prune trims the context log for a run, keeping only the most recent
// keepPerType entries for each prunable type. codebase_analysis entries are
// never pruned, matching the run store's stated retention policy.
func (s *Store) Prune(ctx context.Context, runID string, keepPerType int) error {
	types := []ContextType{
		ContextTask, ContextPlanGroup, ContextReviewIssue,
		ContextScratchpad, ContextDiscovery, ContextError, ContextDecision,
		ContextConflict,
	}
	for _, t := range types {
		if neverPruned[t] {
			continue
		}
		_, err := s.db.ExecContext(ctx, `
			DELETE FROM context WHERE rowid IN (
				SELECT rowid FROM context
				WHERE run_id=? AND type=?
				ORDER BY created_at DESC
				LIMIT -1 OFFSET ?
			)`, runID, string(t), keepPerType)
		if err != nil {
			return fmt.Errorf("store: prune %s: %w", t, err)
		}
	}
	return nil
}

// ReviewIssue is the materialized shape of a review_issue context entry:
// review issues are not a dedicated table, they are decoded JSON read back
// out of the context log, grouped by task.
type ReviewIssue struct {
	TaskID      string `json:"task_id"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
	FilePath    string `json:"file_path,omitempty"`
	LineNumber  int    `json:"line_number,omitempty"`
}

// ReviewIssuesForTask decodes the current review_issue context entries for
// a task. Per the review phase's replace-not-accumulate semantics, callers
// should have pruned prior entries for the task before writing new ones, so
// this always reflects only the latest review pass.
func (s *Store) ReviewIssuesForTask(ctx context.Context, runID, taskID string) ([]ReviewIssue, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT content FROM context
		WHERE run_id=? AND type=? AND task_id=?
		ORDER BY created_at ASC`, runID, string(ContextReviewIssue), taskID)
	if err != nil {
		return nil, fmt.Errorf("store: review issues for task %s: %w", taskID, err)
	}
	defer rows.Close()

	var out []ReviewIssue
	for rows.Next() {
		var content string
		if err := rows.Scan(&content); err != nil {
			return nil, fmt.Errorf("store: scan review issue: %w", err)
		}
		var issue ReviewIssue
		if err := json.Unmarshal([]byte(content), &issue); err != nil {
			return nil, fmt.Errorf("store: decode review issue: %w", err)
		}
		out = append(out, issue)
	}
	return out, rows.Err()
}

// ReplaceReviewIssues deletes every existing review_issue entry for a task
// and writes the new set, implementing the phase engine's replace (not
// accumulate) semantics for review results.
func (s *Store) ReplaceReviewIssues(ctx context.Context, runID, taskID string, issues []ReviewIssue) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: replace review issues: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM context WHERE run_id=? AND type=? AND task_id=?`,
		runID, string(ContextReviewIssue), taskID); err != nil {
		return fmt.Errorf("store: replace review issues: clear: %w", err)
	}
	for _, issue := range issues {
		content, err := json.Marshal(issue)
		if err != nil {
			return fmt.Errorf("store: replace review issues: encode: %w", err)
		}
		entry := &ContextEntry{RunID: runID, Type: ContextReviewIssue, Content: string(content), TaskID: taskID, FilePath: issue.FilePath, LineNumber: issue.LineNumber}
		entry.ID = NewID()
		entry.CreatedAt = now()
		key := dedupeKey(entry)
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO context (id, run_id, type, content, task_id, loop_id, file_path, line_number, dedupe_key, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			entry.ID, entry.RunID, string(entry.Type), entry.Content, entry.TaskID, entry.LoopID, entry.FilePath, entry.LineNumber, key, entry.CreatedAt); err != nil {
			return fmt.Errorf("store: replace review issues: insert: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: replace review issues: commit: %w", err)
	}
	return nil
}

// RecordCost appends a cost row scoped to a run, optionally to a phase
// and/or loop, and rolls the total into runs.cost_total.
func (s *Store) RecordCost(ctx context.Context, runID, phaseName, loopID string, amountUSD float64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: record cost: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO costs (run_id, phase, loop_id, amount_usd, created_at) VALUES (?, ?, ?, ?, ?)`,
		runID, phaseName, loopID, amountUSD, now()); err != nil {
		return fmt.Errorf("store: record cost: insert: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE runs SET cost_total = cost_total + ?, updated_at=? WHERE id=?`,
		amountUSD, now(), runID); err != nil {
		return fmt.Errorf("store: record cost: update total: %w", err)
	}
	return tx.Commit()
}

// CostByPhase sums recorded costs for a run scoped to a single phase.
func (s *Store) CostByPhase(ctx context.Context, runID, phaseName string) (float64, error) {
	row := s.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(amount_usd), 0) FROM costs WHERE run_id=? AND phase=?`, runID, phaseName)
	var total float64
	if err := row.Scan(&total); err != nil {
		return 0, fmt.Errorf("store: cost by phase: %w", err)
	}
	return total, nil
}

// CostByLoop sums recorded costs for a run scoped to a single loop.
func (s *Store) CostByLoop(ctx context.Context, runID, loopID string) (float64, error) {
	row := s.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(amount_usd), 0) FROM costs WHERE run_id=? AND loop_id=?`, runID, loopID)
	var total float64
	if err := row.Scan(&total); err != nil {
		return 0, fmt.Errorf("store: cost by loop: %w", err)
	}
	return total, nil
}
