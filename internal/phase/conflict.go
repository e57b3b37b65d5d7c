package phase

import (
	"context"
	"fmt"
	"strings"

	"github.com/AbdelazizMoustafa10m/sq/internal/git"
	"github.com/AbdelazizMoustafa10m/sq/internal/store"
	"github.com/AbdelazizMoustafa10m/sq/internal/task"
	"github.com/AbdelazizMoustafa10m/sq/internal/workflow"
)

// ConflictHandler implements the conflict phase: drain one pending merge
// conflict at a time. A merge conflict lives in the target repository's
// working tree (the merge destination), not the losing loop's own
// worktree, so resolution runs directly against TargetDir.
type ConflictHandler struct {
	deps *Deps
}

func NewConflictHandler(d *Deps) *ConflictHandler { return &ConflictHandler{deps: d} }

func (h *ConflictHandler) Name() string { return "conflict" }

func (h *ConflictHandler) DryRun(state *workflow.WorkflowState) string {
	return "would resolve the next pending merge conflict"
}

func (h *ConflictHandler) Execute(ctx context.Context, state *workflow.WorkflowState) (string, error) {
	d := h.deps

	pending, err := d.Store.PendingConflicts(ctx, d.RunID)
	if err != nil {
		return "", fmt.Errorf("phase: conflict: load pending: %w", err)
	}
	if len(pending) == 0 {
		return "resolved", nil
	}
	c := pending[0]

	var b strings.Builder
	b.WriteString(conflictPromptPrefix)
	b.WriteString("\nConflicting files:\n")
	for _, f := range c.Files {
		b.WriteString("- ")
		b.WriteString(f)
		b.WriteString("\n")
	}

	res, err := runSingletonAgent(ctx, d, "conflict", d.TargetDir, b.String(), []string{"CONFLICT_RESOLVED", "CONFLICT_FAILED"})
	if err != nil {
		return "", fmt.Errorf("phase: conflict: %w", err)
	}

	switch {
	case containsMarker(res.Text, "CONFLICT_RESOLVED"):
		if err := h.finish(ctx, c, true); err != nil {
			return "", err
		}
		return "resolved", nil
	case containsMarker(res.Text, "CONFLICT_FAILED"):
		if err := h.abort(ctx); err != nil {
			return "", err
		}
		if err := h.finish(ctx, c, false); err != nil {
			return "", err
		}
		return "unresolved", nil
	default:
		return "incomplete", nil
	}
}

// abort gives up on the in-progress merge in the target repository.
func (h *ConflictHandler) abort(ctx context.Context) error {
	client, err := git.NewGitClient(h.deps.TargetDir)
	if err != nil {
		return nil // not a git repo, nothing to abort
	}
	return client.AbortMerge(ctx)
}

// finish records the outcome of draining one conflict: the loop and its
// task are marked completed or failed, and the conflict entry is removed
// from the pending queue either way.
func (h *ConflictHandler) finish(ctx context.Context, c store.Conflict, resolved bool) error {
	d := h.deps

	loops, err := d.Store.LoadLoops(ctx, d.RunID)
	if err != nil {
		return fmt.Errorf("phase: conflict: load loops: %w", err)
	}
	for _, l := range loops {
		if l.ID != c.LoopID {
			continue
		}
		if resolved {
			l.Status = store.LoopCompleted
		} else {
			l.Status = store.LoopFailed
		}
		if err := d.Store.SaveLoop(ctx, l); err != nil {
			return fmt.Errorf("phase: conflict: save loop: %w", err)
		}
	}

	graph, err := d.Store.LoadTaskGraph(ctx, d.RunID)
	if err != nil {
		return fmt.Errorf("phase: conflict: load task graph: %w", err)
	}
	for _, taskID := range c.TaskIDs {
		t, ok := graph.Tasks[taskID]
		if !ok {
			continue
		}
		if resolved {
			t.Status = task.StatusCompleted
		} else {
			t.Status = task.StatusFailed
		}
		if err := d.Store.UpsertTask(ctx, d.RunID, t); err != nil {
			return fmt.Errorf("phase: conflict: save task: %w", err)
		}
	}

	if !resolved {
		reason := fmt.Sprintf("merge conflict for loop %s could not be resolved", c.LoopID)
		if err := d.Store.AddContext(ctx, &store.ContextEntry{RunID: d.RunID, Type: store.ContextError, Content: reason, LoopID: c.LoopID}); err != nil {
			return fmt.Errorf("phase: conflict: record failure: %w", err)
		}
	}

	return d.Store.ResolveConflict(ctx, c.ID)
}
