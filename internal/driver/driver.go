// Package driver implements the Orchestrator Driver: the outer loop that
// repeatedly runs one phase at a time through the phase engine, enforces
// the run/phase/loop cost limits between phases, persists the run record
// after every step, and maps the terminal outcome onto a process exit
// code. It is the thin layer above internal/phase and internal/scheduler
// that `sq run`/`sq resume` actually call.
package driver

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/AbdelazizMoustafa10m/sq/internal/costs"
	"github.com/AbdelazizMoustafa10m/sq/internal/effort"
	"github.com/AbdelazizMoustafa10m/sq/internal/phase"
	"github.com/AbdelazizMoustafa10m/sq/internal/store"
	"github.com/AbdelazizMoustafa10m/sq/internal/workflow"
)

// Exit codes, per the run command's documented contract: 0 is a clean
// completion with every task done, 1 is a controlled early stop (a cost
// limit or the revision cap was hit), 2 is anything else -- a phase
// handler error the engine could not route, or the workflow engine
// itself failing.
const (
	ExitSuccess = 0
	ExitPartial = 1
	ExitFatal   = 2
)

// ErrCostLimitExceeded is returned by Driver.Run when a cost guard stops
// the run before the phase engine reports completion.
var ErrCostLimitExceeded = errors.New("driver: cost limit exceeded")

// Callbacks observes phase-level lifecycle events. Loop-level callbacks
// (created/output/state-change) are wired separately into the scheduler
// that phase.Deps already holds.
type Callbacks interface {
	PhaseStarted(phase string)
	PhaseCompleted(phase, event string, err error)
}

// NoopCallbacks discards every callback.
type NoopCallbacks struct{}

func (NoopCallbacks) PhaseStarted(string)             {}
func (NoopCallbacks) PhaseCompleted(string, string, error) {}

// Driver owns one run's lifecycle from its current phase through to
// StepDone, StepFailed, or a cost-limit stop.
type Driver struct {
	Store   *store.Store
	Engine  *workflow.Engine
	Def     *workflow.WorkflowDefinition
	Effort  effort.Profile
	RunID   string
	Logger  *log.Logger
	Cb      Callbacks
}

// New constructs a Driver from a run's phase.Deps. It builds the
// definition/registry pair and a workflow.Engine wired to an event
// channel sized for casual draining (the TUI, if any, is expected to
// range over it; a nil consumer is fine since emit is non-blocking).
// events may be nil when nothing is subscribed (e.g. --no-tui runs).
func New(st *store.Store, deps *phase.Deps, eff effort.Profile, runID string, logger *log.Logger, cb Callbacks, events chan<- workflow.WorkflowEvent) *Driver {
	def, reg := phase.BuildDefinition(deps)
	if cb == nil {
		cb = NoopCallbacks{}
	}
	engine := workflow.NewEngine(reg, workflow.WithLogger(logger), workflow.WithEventChannel(events))
	return &Driver{
		Store:  st,
		Engine: engine,
		Def:    def,
		Effort: eff,
		RunID:  runID,
		Logger: logger,
		Cb:     cb,
	}
}

// Run advances the run one phase at a time until it reaches StepDone,
// hits a cost limit, or a phase handler returns an unroutable error. It
// returns the process exit code to use and any error worth surfacing to
// the caller.
func (d *Driver) Run(ctx context.Context) (int, error) {
	run, err := d.Store.LoadRun(ctx, d.RunID)
	if err != nil {
		return ExitFatal, fmt.Errorf("driver: load run: %w", err)
	}

	state := workflow.NewWorkflowState(d.RunID, d.Def.Name, run.Phase)

	for state.CurrentStep != workflow.StepDone && state.CurrentStep != workflow.StepFailed {
		if err := ctx.Err(); err != nil {
			if ierr := d.markLoopsInterrupted(context.Background()); ierr != nil && d.Logger != nil {
				d.Logger.Error("driver: mark loops interrupted", "error", ierr)
			}
			return ExitPartial, fmt.Errorf("driver: %w", err)
		}

		phaseName := state.CurrentStep

		if verdict, cerr := d.checkCosts(ctx, phaseName); cerr != nil {
			return ExitFatal, fmt.Errorf("driver: cost check: %w", cerr)
		} else if verdict.Exceeded {
			if d.Logger != nil {
				d.Logger.Warn("driver: stopping on cost limit", "message", verdict.Message())
			}
			run.Phase = phaseName
			_ = d.Store.SaveRun(ctx, run)
			return ExitPartial, fmt.Errorf("%w: %s", ErrCostLimitExceeded, verdict.Message())
		}

		d.Cb.PhaseStarted(phaseName)
		newState, err := d.Engine.RunStep(ctx, d.Def, phaseName, state)
		if err != nil {
			d.Cb.PhaseCompleted(phaseName, "", err)
			return ExitFatal, fmt.Errorf("driver: phase %q: %w", phaseName, err)
		}
		state = newState
		event := ""
		if last := state.LastStep(); last != nil {
			event = last.Event
		}
		d.Cb.PhaseCompleted(phaseName, event, nil)

		run, err = d.Store.LoadRun(ctx, d.RunID)
		if err != nil {
			return ExitFatal, fmt.Errorf("driver: reload run: %w", err)
		}
		run.Phase = runPhaseName(state.CurrentStep)
		seq := len(state.StepHistory)
		if err := d.Store.RecordPhaseTransition(ctx, d.RunID, seq, phaseName, true, event, 0); err != nil {
			return ExitFatal, fmt.Errorf("driver: record phase transition: %w", err)
		}
		if err := d.Store.SaveRun(ctx, run); err != nil {
			return ExitFatal, fmt.Errorf("driver: save run: %w", err)
		}
	}

	if state.CurrentStep == workflow.StepFailed {
		return ExitFatal, fmt.Errorf("driver: run %s reached a terminal failure", d.RunID)
	}
	if last := state.LastStep(); last != nil && last.Event == "cap_exceeded" {
		return ExitPartial, fmt.Errorf("driver: run %s stopped at the revision cap", d.RunID)
	}
	return ExitSuccess, nil
}

// runPhaseName maps the engine's terminal pseudo-step onto the run
// record's "complete" phase name; every other step name is the phase
// itself.
func runPhaseName(step string) string {
	if step == workflow.StepDone {
		return "complete"
	}
	return step
}

// checkCosts evaluates the run's cost guard against every currently
// running or stuck loop plus the phase about to execute, using the spend
// queries in internal/store and the limits from the run's effort profile.
func (d *Driver) checkCosts(ctx context.Context, phaseName string) (costs.Verdict, error) {
	run, err := d.Store.LoadRun(ctx, d.RunID)
	if err != nil {
		return costs.Verdict{}, fmt.Errorf("load run: %w", err)
	}

	phaseSpend, err := d.Store.CostByPhase(ctx, d.RunID, phaseName)
	if err != nil {
		return costs.Verdict{}, fmt.Errorf("cost by phase: %w", err)
	}

	loops, err := d.Store.LoadLoops(ctx, d.RunID)
	if err != nil {
		return costs.Verdict{}, fmt.Errorf("load loops: %w", err)
	}
	var loopSpends []costs.LoopSpend
	for _, l := range loops {
		if l.Status != store.LoopRunning && l.Status != store.LoopStuck {
			continue
		}
		spend, err := d.Store.CostByLoop(ctx, d.RunID, l.ID)
		if err != nil {
			return costs.Verdict{}, fmt.Errorf("cost by loop %s: %w", l.ID, err)
		}
		loopSpends = append(loopSpends, costs.LoopSpend{LoopID: l.ID, Current: spend})
	}

	return costs.Check(d.Effort.CostLimits, run.CostTotal, phaseName, phaseSpend, loopSpends), nil
}

// markLoopsInterrupted flips every pending, running or stuck loop to LoopInterrupted
// when the run context is cancelled (SIGINT/SIGTERM), so a later `sq
// resume` sees them as resumable rather than silently abandoned.
func (d *Driver) markLoopsInterrupted(ctx context.Context) error {
	loops, err := d.Store.LoadLoops(ctx, d.RunID)
	if err != nil {
		return fmt.Errorf("load loops: %w", err)
	}
	for _, l := range loops {
		if l.Status != store.LoopRunning && l.Status != store.LoopStuck && l.Status != store.LoopPending {
			continue
		}
		l.Status = store.LoopInterrupted
		if err := d.Store.SaveLoop(ctx, l); err != nil {
			return fmt.Errorf("save loop %s: %w", l.ID, err)
		}
	}
	return nil
}
