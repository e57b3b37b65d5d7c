package phase

import (
	"context"
	"fmt"

	"github.com/AbdelazizMoustafa10m/sq/internal/workflow"
)

// ReviewHandler implements the review phase. Its prompt depth comes from
// the run's effort profile; its outgoing event is qualified by the
// originating phase (run.ReviewType) so a single static step can route
// back to four different callers.
type ReviewHandler struct {
	deps *Deps
}

func NewReviewHandler(d *Deps) *ReviewHandler { return &ReviewHandler{deps: d} }

func (h *ReviewHandler) Name() string { return "review" }

func (h *ReviewHandler) DryRun(state *workflow.WorkflowState) string {
	return "would review the current work product and record pass/fail"
}

func (h *ReviewHandler) Execute(ctx context.Context, state *workflow.WorkflowState) (string, error) {
	d := h.deps

	run, err := d.Store.LoadRun(ctx, d.RunID)
	if err != nil {
		return "", fmt.Errorf("phase: review: load run: %w", err)
	}
	reviewType := run.ReviewType
	if reviewType == "" {
		reviewType = "build"
	}

	prompt := fmt.Sprintf(reviewPromptPrefixTmpl, d.Effort.ReviewDepth)
	res, err := runSingletonAgent(ctx, d, "review", d.TargetDir, prompt, []string{"REVIEW_COMPLETE"})
	if err != nil {
		return "", fmt.Errorf("phase: review: %w", err)
	}
	if !containsMarker(res.Text, "REVIEW_COMPLETE") {
		return "incomplete", nil
	}

	hasIssues, err := d.Store.AnyReviewIssues(ctx, d.RunID)
	if err != nil {
		return "", fmt.Errorf("phase: review: check issues: %w", err)
	}

	if hasIssues {
		return "failed", nil
	}

	switch reviewType {
	case "enumerate":
		return "passed_enumerate", nil
	case "plan":
		return "passed_plan", nil
	case "checkpoint":
		return "passed_checkpoint", nil
	default: // "build"
		graph, err := d.Store.LoadTaskGraph(ctx, d.RunID)
		if err != nil {
			return "", fmt.Errorf("phase: review: load task graph: %w", err)
		}
		if graph.AllTerminal() {
			return "passed_build_done", nil
		}
		return "passed_build_continue", nil
	}
}
