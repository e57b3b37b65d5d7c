package phase

import (
	"github.com/AbdelazizMoustafa10m/sq/internal/workflow"
)

// BuildDefinition constructs the phase engine's workflow definition and
// registry for a single run. The transitions are static: enumerate and plan
// list both their review and skip targets, and their handlers pick one at
// runtime from the run's effort profile.
func BuildDefinition(deps *Deps) (*workflow.WorkflowDefinition, *workflow.Registry) {
	reg := workflow.NewRegistry()

	analyzeH := NewAnalyzeHandler(deps)
	enumerateH := NewEnumerateHandler(deps)
	planH := NewPlanHandler(deps)
	buildH := NewBuildHandler(deps)
	reviewH := NewReviewHandler(deps)
	reviseH := NewReviseHandler(deps)
	conflictH := NewConflictHandler(deps)

	reg.Register(analyzeH)
	reg.Register(enumerateH)
	reg.Register(planH)
	reg.Register(buildH)
	reg.Register(reviewH)
	reg.Register(reviseH)
	reg.Register(conflictH)

	def := &workflow.WorkflowDefinition{
		Name:        "sq-run",
		Description: "analyze, enumerate, plan, build, review, revise, conflict",
		InitialStep: "analyze",
		Steps: []workflow.StepDefinition{
			{
				Name: "analyze",
				Transitions: map[string]string{
					"success":    "enumerate",
					"incomplete": "analyze",
				},
			},
			{
				Name: "enumerate",
				Transitions: map[string]string{
					"review":     "review",
					"plan":       "plan",
					"incomplete": "enumerate",
				},
			},
			{
				Name: "plan",
				Transitions: map[string]string{
					"review":     "review",
					"build":      "build",
					"incomplete": "plan",
				},
			},
			{
				Name: "build",
				Transitions: map[string]string{
					"to_conflict": "conflict",
					"to_revise":   "revise",
					"review":      "review",
					"continue":    "build",
				},
			},
			{
				Name: "review",
				Transitions: map[string]string{
					"passed_enumerate":      "plan",
					"passed_plan":           "build",
					"passed_build_done":     workflow.StepDone,
					"passed_build_continue": "build",
					"passed_checkpoint":     "build",
					"failed":                "revise",
					"incomplete":            "review",
				},
			},
			{
				Name: "revise",
				Transitions: map[string]string{
					"continue":     "build",
					"cap_exceeded": workflow.StepDone,
					"incomplete":   "revise",
				},
			},
			{
				Name: "conflict",
				Transitions: map[string]string{
					"resolved":   "build",
					"unresolved": "build",
					"incomplete": "conflict",
				},
			},
		},
	}

	return def, reg
}
