// Package phase implements the phase engine: one workflow.StepHandler per
// phase in { analyze, enumerate, plan, build, review, revise, conflict },
// wired together into a workflow.WorkflowDefinition whose transitions
// encode the phase transition table. The Orchestrator Driver advances the
// run by repeatedly calling workflow.Engine.RunStep against this
// definition, one phase at a time.
package phase

import (
	"context"
	"fmt"

	"github.com/AbdelazizMoustafa10m/sq/internal/agentrt"
	"github.com/AbdelazizMoustafa10m/sq/internal/effort"
	"github.com/AbdelazizMoustafa10m/sq/internal/scheduler"
	"github.com/AbdelazizMoustafa10m/sq/internal/store"
	"github.com/AbdelazizMoustafa10m/sq/internal/worktree"
)

// OutputFunc streams singleton-phase agent text to the UI, mirroring the
// loop scheduler's onLoopOutput callback for the build phase's per-loop
// iterations.
type OutputFunc func(phaseName, text string)

// Deps bundles everything a phase handler needs. It is constructed once
// per run and threaded explicitly into every handler -- there is no
// process-global runtime or store handle.
type Deps struct {
	Store     *store.Store
	Runtime   *agentrt.Runtime
	Scheduler *scheduler.Scheduler
	Worktrees *worktree.Manager
	Effort    effort.Profile
	RunID     string
	TargetDir string
	MaxTurns  int
	Output    OutputFunc

	// ToolHostAddr is the "host:port" a singleton-phase agent subprocess
	// reaches back into for Read/Edit/Write/Grep tool calls, set once at
	// run startup from toolhost.Server.Addr(). Empty when no tool host is
	// running (e.g. a dry run).
	ToolHostAddr string
}

func (d *Deps) emit(phaseName, text string) {
	if d.Output != nil {
		d.Output(phaseName, text)
	}
}

func (d *Deps) maxTurns() int {
	if d.MaxTurns > 0 {
		return d.MaxTurns
	}
	return 30
}

// setReviewTypeAndGo persists reviewType on the run record and returns the
// "review" transition event, so the review handler knows which originating
// phase it is reviewing on behalf of.
func setReviewTypeAndGo(ctx context.Context, d *Deps, reviewType string) (string, error) {
	run, err := d.Store.LoadRun(ctx, d.RunID)
	if err != nil {
		return "", fmt.Errorf("phase: set review type: load run: %w", err)
	}
	run.ReviewType = reviewType
	if err := d.Store.SaveRun(ctx, run); err != nil {
		return "", fmt.Errorf("phase: set review type: save run: %w", err)
	}
	return "review", nil
}
