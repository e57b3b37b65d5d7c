package phase

import (
	"context"
	"fmt"

	"github.com/AbdelazizMoustafa10m/sq/internal/store"
	"github.com/AbdelazizMoustafa10m/sq/internal/task"
	"github.com/AbdelazizMoustafa10m/sq/internal/workflow"
)

// granularity thresholds for the enumerate phase's non-fatal warnings.
const (
	maxReasonableIterations = 30
	minReasonableIterations = 2
	minDescriptionLength    = 10
)

// EnumerateHandler implements the enumerate phase: break the target
// specification into a dependency-ordered task set.
type EnumerateHandler struct {
	deps *Deps
}

func NewEnumerateHandler(d *Deps) *EnumerateHandler { return &EnumerateHandler{deps: d} }

func (h *EnumerateHandler) Name() string { return "enumerate" }

func (h *EnumerateHandler) DryRun(state *workflow.WorkflowState) string {
	return "would enumerate implementation tasks from the target specification"
}

func (h *EnumerateHandler) Execute(ctx context.Context, state *workflow.WorkflowState) (string, error) {
	d := h.deps

	res, err := runSingletonAgent(ctx, d, "enumerate", d.TargetDir, enumeratePromptPrefix, []string{"ENUMERATE_COMPLETE"})
	if err != nil {
		return "", fmt.Errorf("phase: enumerate: %w", err)
	}
	if !containsMarker(res.Text, "ENUMERATE_COMPLETE") {
		return "incomplete", nil
	}

	graph, err := d.Store.LoadTaskGraph(ctx, d.RunID)
	if err != nil {
		return "", fmt.Errorf("phase: enumerate: load task graph: %w", err)
	}
	if len(graph.Tasks) == 0 {
		return "incomplete", nil
	}

	h.warnGranularity(ctx, graph)

	if d.Effort.ReviewAfterEnumerate {
		return setReviewTypeAndGo(ctx, d, "enumerate")
	}
	return "plan", nil
}

// warnGranularity records non-fatal discovery notes for tasks whose
// estimate or description suggests they were enumerated at the wrong
// granularity. These never block the transition; they are read back by the
// review phase as extra context.
func (h *EnumerateHandler) warnGranularity(ctx context.Context, graph *task.Graph) {
	d := h.deps
	for _, t := range graph.Tasks {
		var note string
		switch {
		case t.EstimatedIterations > maxReasonableIterations:
			note = fmt.Sprintf("task %s estimated at %d iterations, likely too large -- consider splitting", t.ID, t.EstimatedIterations)
		case t.EstimatedIterations > 0 && t.EstimatedIterations < minReasonableIterations:
			note = fmt.Sprintf("task %s estimated at %d iterations, likely too small -- consider merging with a neighbor", t.ID, t.EstimatedIterations)
		case len(t.Description) < minDescriptionLength:
			note = fmt.Sprintf("task %s has an underspecified description", t.ID)
		default:
			continue
		}
		_ = d.Store.AddContext(ctx, &store.ContextEntry{
			RunID:   d.RunID,
			Type:    store.ContextDiscovery,
			Content: note,
			TaskID:  t.ID,
		})
	}
}
