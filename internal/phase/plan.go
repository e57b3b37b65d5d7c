package phase

import (
	"context"
	"fmt"

	"github.com/AbdelazizMoustafa10m/sq/internal/workflow"
)

// PlanHandler implements the plan phase: group enumerated tasks into
// ordered parallel execution groups.
type PlanHandler struct {
	deps *Deps
}

func NewPlanHandler(d *Deps) *PlanHandler { return &PlanHandler{deps: d} }

func (h *PlanHandler) Name() string { return "plan" }

func (h *PlanHandler) DryRun(state *workflow.WorkflowState) string {
	return "would group enumerated tasks into parallel execution groups"
}

func (h *PlanHandler) Execute(ctx context.Context, state *workflow.WorkflowState) (string, error) {
	d := h.deps

	res, err := runSingletonAgent(ctx, d, "plan", d.TargetDir, planPromptPrefix, []string{"PLAN_COMPLETE"})
	if err != nil {
		return "", fmt.Errorf("phase: plan: %w", err)
	}
	if !containsMarker(res.Text, "PLAN_COMPLETE") {
		return "incomplete", nil
	}

	groups, err := d.Store.LoadPlanGroups(ctx, d.RunID)
	if err != nil {
		return "", fmt.Errorf("phase: plan: load plan groups: %w", err)
	}
	if len(groups) == 0 {
		return "incomplete", nil
	}

	if d.Effort.ReviewAfterPlan {
		return setReviewTypeAndGo(ctx, d, "plan")
	}
	return "build", nil
}
