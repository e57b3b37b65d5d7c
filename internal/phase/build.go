package phase

import (
	"context"
	"fmt"

	"github.com/AbdelazizMoustafa10m/sq/internal/workflow"
)

// BuildHandler implements the build phase. Unlike every other phase it is
// not a single agent call: it delegates to the loop scheduler, which runs
// one iteration across every active loop, and translates the scheduler's
// Result into the phase transition table's build-phase events.
type BuildHandler struct {
	deps *Deps
}

func NewBuildHandler(d *Deps) *BuildHandler { return &BuildHandler{deps: d} }

func (h *BuildHandler) Name() string { return "build" }

func (h *BuildHandler) DryRun(state *workflow.WorkflowState) string {
	return "would run one loop-scheduler iteration across active build loops"
}

func (h *BuildHandler) Execute(ctx context.Context, state *workflow.WorkflowState) (string, error) {
	d := h.deps

	result, err := d.Scheduler.Iterate(ctx, d.RunID)
	if err != nil {
		return "", fmt.Errorf("phase: build: %w", err)
	}

	switch {
	case len(result.PendingConflicts) > 0:
		return "to_conflict", nil
	case len(result.StuckLoopIDs) > 0:
		return "to_revise", nil
	case result.AllTasksDone:
		return setReviewTypeAndGo(ctx, d, "build")
	case len(result.CheckpointDue) > 0:
		return setReviewTypeAndGo(ctx, d, "checkpoint")
	default:
		return "continue", nil
	}
}
