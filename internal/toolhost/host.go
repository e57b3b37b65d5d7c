// Package toolhost implements the in-process tool host: the set of
// structured-write tools an agent invokes (via its runtime's tool-call
// mechanism) to persist tasks, plan groups, review issues, costs, and other
// artifacts into the run store. Each tool's payload is validated against a
// JSON Schema before the write, so a malformed agent call fails loudly
// rather than corrupting run state.
package toolhost

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/AbdelazizMoustafa10m/sq/internal/store"
	"github.com/AbdelazizMoustafa10m/sq/internal/task"
)

// Names lists every tool-host tool visible to the agent runtime, in the
// order the external-interfaces section names them.
var Names = []string{
	"write_task", "complete_task", "fail_task", "add_plan_group",
	"update_loop_status", "record_cost", "add_context", "set_review_result",
	"set_loop_review_result", "create_loop", "persist_loop_state",
	"record_phase_cost", "set_codebase_analysis",
}

// Host is the tool host for a single run: every tool call it accepts
// writes through to store, scoped to runID.
type Host struct {
	store    *store.Store
	runID    string
	compiled map[string]*jsonschema.Schema
}

// New builds a Host backed by s, scoped to runID. It compiles every tool's
// schema eagerly so a schema error surfaces at startup, not mid-run.
func New(s *store.Store, runID string) (*Host, error) {
	h := &Host{store: s, runID: runID, compiled: make(map[string]*jsonschema.Schema, len(schemas))}
	for name, raw := range schemas {
		var doc any
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return nil, fmt.Errorf("toolhost: parse schema %q: %w", name, err)
		}
		c := jsonschema.NewCompiler()
		url := name + ".json"
		if err := c.AddResource(url, doc); err != nil {
			return nil, fmt.Errorf("toolhost: add schema %q: %w", name, err)
		}
		schema, err := c.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("toolhost: compile schema %q: %w", name, err)
		}
		h.compiled[name] = schema
	}
	return h, nil
}

// Invoke validates payload against name's schema, then dispatches to the
// concrete handler. It returns the structured write's result as a JSON
// value, or an error if the payload is malformed or the write fails.
//
// A schema/decode failure writes nothing and is returned as an error; the
// HTTP Server turns it into a 400 response to the calling agent rather than
// stopping the run.
func (h *Host) Invoke(ctx context.Context, name string, payload json.RawMessage) (json.RawMessage, error) {
	schema, ok := h.compiled[name]
	if !ok {
		return nil, fmt.Errorf("toolhost: unknown tool %q", name)
	}
	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("toolhost: %s: invalid JSON payload: %w", name, err)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("toolhost: %s: payload failed validation: %w", name, err)
	}

	handler, ok := dispatch[name]
	if !ok {
		return nil, fmt.Errorf("toolhost: %s: no handler registered", name)
	}
	return handler(ctx, h, payload)
}

type handlerFunc func(ctx context.Context, h *Host, payload json.RawMessage) (json.RawMessage, error)

var dispatch = map[string]handlerFunc{
	"write_task":             handleWriteTask,
	"complete_task":          handleCompleteTask,
	"fail_task":              handleFailTask,
	"add_plan_group":         handleAddPlanGroup,
	"update_loop_status":     handleUpdateLoopStatus,
	"record_cost":            handleRecordCost,
	"add_context":            handleAddContext,
	"set_review_result":      handleSetReviewResult,
	"set_loop_review_result": handleSetLoopReviewResult,
	"create_loop":            handleCreateLoop,
	"persist_loop_state":     handlePersistLoopState,
	"record_phase_cost":      handleRecordPhaseCost,
	"set_codebase_analysis":  handleSetCodebaseAnalysis,
}

func ok() json.RawMessage { return json.RawMessage(`{"ok":true}`) }

type writeTaskPayload struct {
	ID                  string   `json:"id"`
	Title               string   `json:"title"`
	Description         string   `json:"description"`
	Status              string   `json:"status"`
	Dependencies        []string `json:"dependencies"`
	EstimatedIterations int      `json:"estimated_iterations"`
}

func handleWriteTask(ctx context.Context, h *Host, payload json.RawMessage) (json.RawMessage, error) {
	var p writeTaskPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, err
	}
	t := &task.Task{
		ID:                  p.ID,
		Title:               p.Title,
		Description:         p.Description,
		Status:              task.TaskStatus(p.Status),
		Dependencies:        p.Dependencies,
		EstimatedIterations: p.EstimatedIterations,
	}
	if !t.Status.IsValid() {
		t.Status = task.StatusNotStarted
	}
	if err := h.store.UpsertTask(ctx, h.runID, t); err != nil {
		return nil, err
	}
	content, _ := json.Marshal(t)
	if err := h.store.AddContext(ctx, &store.ContextEntry{RunID: h.runID, Type: store.ContextTask, Content: string(content), TaskID: t.ID}); err != nil {
		return nil, err
	}
	return ok(), nil
}

func handleCompleteTask(ctx context.Context, h *Host, payload json.RawMessage) (json.RawMessage, error) {
	var p struct {
		TaskID string `json:"task_id"`
	}
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, err
	}
	g, err := h.store.LoadTaskGraph(ctx, h.runID)
	if err != nil {
		return nil, err
	}
	t, found := g.Tasks[p.TaskID]
	if !found {
		return nil, fmt.Errorf("toolhost: complete_task: unknown task %q", p.TaskID)
	}
	t.Status = task.StatusCompleted
	if err := h.store.UpsertTask(ctx, h.runID, t); err != nil {
		return nil, err
	}
	return ok(), nil
}

func handleFailTask(ctx context.Context, h *Host, payload json.RawMessage) (json.RawMessage, error) {
	var p struct {
		TaskID string `json:"task_id"`
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, err
	}
	g, err := h.store.LoadTaskGraph(ctx, h.runID)
	if err != nil {
		return nil, err
	}
	t, found := g.Tasks[p.TaskID]
	if !found {
		return nil, fmt.Errorf("toolhost: fail_task: unknown task %q", p.TaskID)
	}
	t.Status = task.StatusFailed
	if err := h.store.UpsertTask(ctx, h.runID, t); err != nil {
		return nil, err
	}
	if err := h.store.AddContext(ctx, &store.ContextEntry{RunID: h.runID, Type: store.ContextError, Content: p.Reason, TaskID: p.TaskID}); err != nil {
		return nil, err
	}
	return ok(), nil
}

func handleAddPlanGroup(ctx context.Context, h *Host, payload json.RawMessage) (json.RawMessage, error) {
	var p struct {
		GroupIndex int      `json:"group_index"`
		TaskIDs    []string `json:"task_ids"`
	}
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, err
	}
	groups, err := h.store.LoadPlanGroups(ctx, h.runID)
	if err != nil {
		return nil, err
	}
	for len(groups) <= p.GroupIndex {
		groups = append(groups, nil)
	}
	groups[p.GroupIndex] = p.TaskIDs
	if err := h.store.SavePlanGroups(ctx, h.runID, groups); err != nil {
		return nil, err
	}
	return ok(), nil
}

func handleUpdateLoopStatus(ctx context.Context, h *Host, payload json.RawMessage) (json.RawMessage, error) {
	var p struct {
		LoopID string `json:"loop_id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, err
	}
	loops, err := h.store.LoadLoops(ctx, h.runID)
	if err != nil {
		return nil, err
	}
	for _, l := range loops {
		if l.ID == p.LoopID {
			l.Status = store.LoopStatus(p.Status)
			return ok(), h.store.SaveLoop(ctx, l)
		}
	}
	return nil, fmt.Errorf("toolhost: update_loop_status: unknown loop %q", p.LoopID)
}

func handleRecordCost(ctx context.Context, h *Host, payload json.RawMessage) (json.RawMessage, error) {
	var p struct {
		AmountUSD float64 `json:"amount_usd"`
		Phase     string  `json:"phase"`
		LoopID    string  `json:"loop_id"`
	}
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, err
	}
	if err := h.store.RecordCost(ctx, h.runID, p.Phase, p.LoopID, p.AmountUSD); err != nil {
		return nil, err
	}
	return ok(), nil
}

func handleAddContext(ctx context.Context, h *Host, payload json.RawMessage) (json.RawMessage, error) {
	var p struct {
		Type       string `json:"type"`
		Content    string `json:"content"`
		TaskID     string `json:"task_id"`
		LoopID     string `json:"loop_id"`
		FilePath   string `json:"file_path"`
		LineNumber int    `json:"line_number"`
	}
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, err
	}
	entry := &store.ContextEntry{
		RunID:      h.runID,
		Type:       store.ContextType(p.Type),
		Content:    p.Content,
		TaskID:     p.TaskID,
		LoopID:     p.LoopID,
		FilePath:   p.FilePath,
		LineNumber: p.LineNumber,
	}
	if err := h.store.AddContext(ctx, entry); err != nil {
		return nil, err
	}
	return ok(), nil
}

// handleSetReviewResult records a review pass. Per the review phase's
// replace-not-accumulate contract, every task's issue set for this run is
// replaced in full -- including tasks with no issues this time, whose
// stale entries from a previous failed review must be cleared, and a
// cross-task bucket (task_id omitted) for issues not tied to one task.
func handleSetReviewResult(ctx context.Context, h *Host, payload json.RawMessage) (json.RawMessage, error) {
	var p struct {
		Passed bool                `json:"passed"`
		Issues []store.ReviewIssue `json:"issues"`
	}
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, err
	}
	byTask := make(map[string][]store.ReviewIssue)
	for _, issue := range p.Issues {
		byTask[issue.TaskID] = append(byTask[issue.TaskID], issue)
	}

	graph, err := h.store.LoadTaskGraph(ctx, h.runID)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{"": true}
	if err := h.store.ReplaceReviewIssues(ctx, h.runID, "", byTask[""]); err != nil {
		return nil, err
	}
	for taskID := range graph.Tasks {
		seen[taskID] = true
		if err := h.store.ReplaceReviewIssues(ctx, h.runID, taskID, byTask[taskID]); err != nil {
			return nil, err
		}
	}
	for taskID, issues := range byTask {
		if seen[taskID] {
			continue
		}
		if err := h.store.ReplaceReviewIssues(ctx, h.runID, taskID, issues); err != nil {
			return nil, err
		}
	}
	return ok(), nil
}

func handleSetLoopReviewResult(ctx context.Context, h *Host, payload json.RawMessage) (json.RawMessage, error) {
	var p struct {
		LoopID string `json:"loop_id"`
		Passed bool   `json:"passed"`
	}
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, err
	}
	loops, err := h.store.LoadLoops(ctx, h.runID)
	if err != nil {
		return nil, err
	}
	for _, l := range loops {
		if l.ID == p.LoopID {
			if p.Passed {
				l.ReviewStatus = "passed"
			} else {
				l.ReviewStatus = "failed"
			}
			return ok(), h.store.SaveLoop(ctx, l)
		}
	}
	return nil, fmt.Errorf("toolhost: set_loop_review_result: unknown loop %q", p.LoopID)
}

func handleCreateLoop(ctx context.Context, h *Host, payload json.RawMessage) (json.RawMessage, error) {
	var p struct {
		LoopID  string   `json:"loop_id"`
		TaskIDs []string `json:"task_ids"`
	}
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, err
	}
	rec := &store.LoopRecord{ID: p.LoopID, RunID: h.runID, TaskIDs: p.TaskIDs, Status: store.LoopPending}
	if err := h.store.CreateLoop(ctx, rec); err != nil {
		return nil, err
	}
	return ok(), nil
}

func handlePersistLoopState(ctx context.Context, h *Host, payload json.RawMessage) (json.RawMessage, error) {
	var p struct {
		LoopID     string `json:"loop_id"`
		Scratchpad *struct {
			Done       bool   `json:"done"`
			TestStatus string `json:"test_status"`
			NextStep   string `json:"next_step"`
			Blockers   string `json:"blockers"`
		} `json:"scratchpad"`
	}
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, err
	}
	if p.Scratchpad != nil {
		content, _ := json.Marshal(p.Scratchpad)
		if err := h.store.AddContext(ctx, &store.ContextEntry{RunID: h.runID, Type: store.ContextScratchpad, Content: string(content), LoopID: p.LoopID}); err != nil {
			return nil, err
		}
	}
	return ok(), nil
}

func handleRecordPhaseCost(ctx context.Context, h *Host, payload json.RawMessage) (json.RawMessage, error) {
	var p struct {
		Phase     string  `json:"phase"`
		AmountUSD float64 `json:"amount_usd"`
	}
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, err
	}
	if err := h.store.RecordCost(ctx, h.runID, p.Phase, "", p.AmountUSD); err != nil {
		return nil, err
	}
	return ok(), nil
}

func handleSetCodebaseAnalysis(ctx context.Context, h *Host, payload json.RawMessage) (json.RawMessage, error) {
	run, err := h.store.LoadRun(ctx, h.runID)
	if err != nil {
		return nil, err
	}
	run.AnalysisJSON = string(payload)
	if err := h.store.SaveRun(ctx, run); err != nil {
		return nil, err
	}
	if err := h.store.AddContext(ctx, &store.ContextEntry{RunID: h.runID, Type: store.ContextCodebaseAnalysis, Content: string(payload)}); err != nil {
		return nil, err
	}
	return ok(), nil
}
