package phase

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/AbdelazizMoustafa10m/sq/internal/analysis"
	"github.com/AbdelazizMoustafa10m/sq/internal/workflow"
)

// AnalyzeHandler implements the analyze phase: either synthesize a
// greenfield analysis directly (empty target) or invoke the agent runtime
// to produce one via the set_codebase_analysis tool.
type AnalyzeHandler struct {
	deps *Deps
}

func NewAnalyzeHandler(d *Deps) *AnalyzeHandler { return &AnalyzeHandler{deps: d} }

func (h *AnalyzeHandler) Name() string { return "analyze" }

func (h *AnalyzeHandler) DryRun(state *workflow.WorkflowState) string {
	return "would analyze the target directory and record a codebase analysis"
}

func (h *AnalyzeHandler) Execute(ctx context.Context, state *workflow.WorkflowState) (string, error) {
	d := h.deps
	run, err := d.Store.LoadRun(ctx, d.RunID)
	if err != nil {
		return "", fmt.Errorf("phase: analyze: load run: %w", err)
	}

	if analysis.IsEmptyProject(d.TargetDir) {
		snap := analysis.Synthesize()
		content, err := json.Marshal(snap)
		if err != nil {
			return "", fmt.Errorf("phase: analyze: encode synthesized analysis: %w", err)
		}
		run.AnalysisJSON = string(content)
		run.WasEmptyProject = true
		if err := d.Store.SaveRun(ctx, run); err != nil {
			return "", fmt.Errorf("phase: analyze: save synthesized analysis: %w", err)
		}
		return "success", nil
	}

	res, err := runSingletonAgent(ctx, d, "analyze", d.TargetDir, analyzePromptPrefix, []string{"ANALYZE_COMPLETE"})
	if err != nil {
		return "", fmt.Errorf("phase: analyze: %w", err)
	}

	run, err = d.Store.LoadRun(ctx, d.RunID)
	if err != nil {
		return "", fmt.Errorf("phase: analyze: reload run: %w", err)
	}
	if !containsMarker(res.Text, "ANALYZE_COMPLETE") || run.AnalysisJSON == "" {
		return "incomplete", nil
	}
	return "success", nil
}
