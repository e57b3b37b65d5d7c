package phase

import (
	"context"
	"fmt"
	"strings"

	"github.com/AbdelazizMoustafa10m/sq/internal/store"
	"github.com/AbdelazizMoustafa10m/sq/internal/workflow"
)

// ReviseHandler implements the revise phase: produce a fix plan from the
// most recent review issues (or from a stuck loop's last error) and clear
// stuck loops so the build phase picks them back up. It enforces the
// run's revision cap.
type ReviseHandler struct {
	deps *Deps
}

func NewReviseHandler(d *Deps) *ReviseHandler { return &ReviseHandler{deps: d} }

func (h *ReviseHandler) Name() string { return "revise" }

func (h *ReviseHandler) DryRun(state *workflow.WorkflowState) string {
	return "would produce a fix plan from review issues and unstick failed loops"
}

func (h *ReviseHandler) Execute(ctx context.Context, state *workflow.WorkflowState) (string, error) {
	d := h.deps

	run, err := d.Store.LoadRun(ctx, d.RunID)
	if err != nil {
		return "", fmt.Errorf("phase: revise: load run: %w", err)
	}
	if run.RevisionCount >= d.Effort.MaxRevisions {
		run.Phase = "complete"
		if err := d.Store.SaveRun(ctx, run); err != nil {
			return "", fmt.Errorf("phase: revise: save run: %w", err)
		}
		if err := d.Store.RecordPhaseTransition(ctx, d.RunID, run.RevisionCount, "revise", false, "revision cap exceeded", 0); err != nil {
			return "", fmt.Errorf("phase: revise: record cap exceeded: %w", err)
		}
		return "cap_exceeded", nil
	}

	issues, err := d.Store.ContextByType(ctx, d.RunID, store.ContextReviewIssue, 50)
	if err != nil {
		return "", fmt.Errorf("phase: revise: load review issues: %w", err)
	}
	var b strings.Builder
	b.WriteString(revisePromptPrefix)
	if len(issues) > 0 {
		b.WriteString("\nOutstanding review issues:\n")
		for _, e := range issues {
			b.WriteString("- ")
			b.WriteString(e.Content)
			b.WriteString("\n")
		}
	}

	res, err := runSingletonAgent(ctx, d, "revise", d.TargetDir, b.String(), []string{"ITERATION_DONE"})
	if err != nil {
		return "", fmt.Errorf("phase: revise: %w", err)
	}
	if !containsMarker(res.Text, "ITERATION_DONE") {
		return "incomplete", nil
	}

	run.RevisionCount++
	if err := d.Store.SaveRun(ctx, run); err != nil {
		return "", fmt.Errorf("phase: revise: save run: %w", err)
	}

	if err := h.unstickLoops(ctx); err != nil {
		return "", fmt.Errorf("phase: revise: unstick loops: %w", err)
	}

	return "continue", nil
}

// unstickLoops resets every stuck loop back to running so the build
// phase's scheduler includes it in its next iteration.
func (h *ReviseHandler) unstickLoops(ctx context.Context) error {
	d := h.deps
	loops, err := d.Store.LoadLoops(ctx, d.RunID)
	if err != nil {
		return err
	}
	for _, l := range loops {
		if l.Status != store.LoopStuck {
			continue
		}
		l.Status = store.LoopRunning
		l.Stuck = nil
		if err := d.Store.SaveLoop(ctx, l); err != nil {
			return err
		}
	}
	return nil
}
