// Package scheduler implements the build phase's loop scheduler: it owns
// the set of active worker loops, assigns tasks from the current parallel
// group, runs one agent iteration per active loop per call, detects stuck
// loops, merges completed work back through the worktree manager, and
// queues merge conflicts for the conflict phase to drain.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/AbdelazizMoustafa10m/sq/internal/agentrt"
	"github.com/AbdelazizMoustafa10m/sq/internal/git"
	"github.com/AbdelazizMoustafa10m/sq/internal/store"
	"github.com/AbdelazizMoustafa10m/sq/internal/task"
	"github.com/AbdelazizMoustafa10m/sq/internal/toolhost"
	"github.com/AbdelazizMoustafa10m/sq/internal/worktree"
)

// Stuck-detection defaults, per the loop scheduler's stated constants.
const (
	DefaultSameErrorThreshold  = 3
	DefaultNoProgressThreshold = 3
	DefaultIdleTimeout         = 5 * time.Minute
	ringBufferCapacity         = 200
)

// Config bundles the scheduler's tunable knobs, typically derived from CLI
// flags and the run's effort profile.
type Config struct {
	MaxLoops            int
	MaxIterations        int
	ReviewInterval       int
	IdleTimeout          time.Duration
	SameErrorThreshold   int
	NoProgressThreshold  int
	AllowedTools         []string
	MaxTurns             int
	Model                agentrt.ModelTier
}

func (c Config) withDefaults() Config {
	if c.MaxLoops <= 0 {
		c.MaxLoops = 4
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = 50
	}
	if c.SameErrorThreshold <= 0 {
		c.SameErrorThreshold = DefaultSameErrorThreshold
	}
	if c.NoProgressThreshold <= 0 {
		c.NoProgressThreshold = DefaultNoProgressThreshold
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.MaxTurns <= 0 {
		c.MaxTurns = 40
	}
	if len(c.AllowedTools) == 0 {
		c.AllowedTools = append([]string{"Read", "Edit", "Write", "Bash", "Glob", "Grep"}, toolhost.Names...)
	}
	return c
}

// Callbacks is the narrow observer interface the scheduler drives while
// iterating: loop lifecycle and streamed output, consumed by the TUI/CLI.
type Callbacks interface {
	LoopCreated(loopID string, taskIDs []string)
	LoopStateChange(loopID string, status store.LoopStatus)
	LoopOutput(loopID string, chunk string)
}

// NoopCallbacks discards every callback; useful in tests and headless runs.
type NoopCallbacks struct{}

func (NoopCallbacks) LoopCreated(string, []string)            {}
func (NoopCallbacks) LoopStateChange(string, store.LoopStatus) {}
func (NoopCallbacks) LoopOutput(string, string)                {}

// Result reports what one Iterate call observed across every active loop.
type Result struct {
	AllTasksDone     bool
	StuckLoopIDs     []string
	PendingConflicts []store.Conflict
	CheckpointDue    []string // loop ids whose iteration count hit the review-interval cadence
	CompletedLoopIDs []string
}

// Scheduler advances the build phase one iteration at a time.
type Scheduler struct {
	store     *store.Store
	worktrees *worktree.Manager
	runtime   *agentrt.Runtime
	targetDir string
	cfg       Config
	cb        Callbacks

	outputs    map[string]*RingBuffer
	lastErrors map[string]string

	watchMu  sync.Mutex
	watchers map[string]*loopWatcher
}

// New constructs a Scheduler. cb may be nil, in which case NoopCallbacks is
// used.
func New(s *store.Store, wt *worktree.Manager, rt *agentrt.Runtime, targetDir string, cfg Config, cb Callbacks) *Scheduler {
	if cb == nil {
		cb = NoopCallbacks{}
	}
	return &Scheduler{
		store:      s,
		worktrees:  wt,
		runtime:    rt,
		targetDir:  targetDir,
		cfg:        cfg.withDefaults(),
		cb:         cb,
		outputs:    make(map[string]*RingBuffer),
		lastErrors: make(map[string]string),
	}
}

// Iterate advances the build phase by exactly one scheduler iteration,
// implementing the loop scheduler's documented five-step algorithm.
func (sc *Scheduler) Iterate(ctx context.Context, runID string) (*Result, error) {
	graph, err := sc.store.LoadTaskGraph(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("scheduler: load task graph: %w", err)
	}
	if graph.AllTerminal() {
		return &Result{AllTasksDone: true}, nil
	}

	activeGroup := activeGroupOf(graph)
	if activeGroup == nil {
		return &Result{AllTasksDone: true}, nil
	}

	loops, err := sc.store.LoadLoops(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("scheduler: load loops: %w", err)
	}
	activeCount := countActive(loops)

	if err := sc.ensureLoops(ctx, runID, graph, activeGroup, &activeCount); err != nil {
		return nil, err
	}

	loops, err = sc.store.LoadLoops(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("scheduler: reload loops: %w", err)
	}

	var runnable []*store.LoopRecord
	for _, l := range loops {
		if l.Status == store.LoopPending || l.Status == store.LoopRunning {
			runnable = append(runnable, l)
		}
	}
	sort.Slice(runnable, func(i, j int) bool { return runnable[i].ID < runnable[j].ID })

	result := &Result{}
	if len(runnable) == 0 {
		return result, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(int64(max(sc.cfg.MaxLoops, 1)))
	outcomes := make([]*loopOutcome, len(runnable))
	for i, l := range runnable {
		i, l := i, l
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)
			oc, err := sc.runIteration(gctx, runID, graph, l)
			if err != nil {
				return err
			}
			outcomes[i] = oc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("scheduler: iteration: %w", err)
	}

	// Commit loop-by-loop in deterministic (sorted) order so persisted
	// snapshots are reproducible regardless of goroutine completion order.
	for _, oc := range outcomes {
		if oc == nil {
			continue
		}
		if err := sc.commitOutcome(ctx, runID, oc, result); err != nil {
			return nil, err
		}
	}

	return result, nil
}

// activeGroupOf returns the first parallel group containing a task that
// has not reached a terminal status, or nil once every group is done.
func activeGroupOf(g *task.Graph) []string {
	for _, group := range g.PlanGroups {
		for _, id := range group {
			t, ok := g.Tasks[id]
			if ok && !t.Status.IsTerminal() {
				return group
			}
		}
	}
	return nil
}

func countActive(loops []*store.LoopRecord) int {
	n := 0
	for _, l := range loops {
		if l.Status == store.LoopPending || l.Status == store.LoopRunning {
			n++
		}
	}
	return n
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// ensureLoops creates a loop for each ready, unassigned task in the active
// group, subject to the configured loop concurrency cap.
func (sc *Scheduler) ensureLoops(ctx context.Context, runID string, graph *task.Graph, group []string, activeCount *int) error {
	completed := graph.CompletedSet()
	for _, id := range group {
		if *activeCount >= sc.cfg.MaxLoops {
			return nil
		}
		t, ok := graph.Tasks[id]
		if !ok || t.Status != task.StatusNotStarted || t.AssignedLoop != "" {
			continue
		}
		if !t.IsReady(completed) {
			continue
		}

		loopID := store.NewID()
		handle, err := sc.worktrees.Create(ctx, loopID, sc.targetDir)
		if err != nil {
			return fmt.Errorf("scheduler: create worktree for loop %s: %w", loopID, err)
		}

		rec := &store.LoopRecord{
			ID:               loopID,
			RunID:            runID,
			TaskIDs:          []string{t.ID},
			MaxIterations:    sc.cfg.MaxIterations,
			ReviewInterval:   sc.cfg.ReviewInterval,
			Status:           store.LoopRunning,
			WorktreePath:     handle.Path,
			OriginatingPhase: "build",
		}
		if err := sc.store.CreateLoop(ctx, rec); err != nil {
			return fmt.Errorf("scheduler: persist loop %s: %w", loopID, err)
		}

		t.AssignedLoop = loopID
		t.Status = task.StatusInProgress
		if err := sc.store.UpsertTask(ctx, runID, t); err != nil {
			return fmt.Errorf("scheduler: assign loop to task %s: %w", t.ID, err)
		}

		*activeCount++
		sc.cb.LoopCreated(loopID, rec.TaskIDs)
	}
	return nil
}

// loopOutcome is the result of running one iteration in one loop, staged
// for deterministic, sorted-order commit back to the store.
type loopOutcome struct {
	loop        *store.LoopRecord
	task        *task.Task
	marker      string
	costUSD     float64
	success     bool
	idleTimeout bool
	errText     string
	noProgress  bool
	mergeResult *worktree.MergeResult
	mergeErr    error
}

func (sc *Scheduler) runIteration(ctx context.Context, runID string, graph *task.Graph, l *store.LoopRecord) (*loopOutcome, error) {
	primaryID := l.TaskIDs[0]
	t, ok := graph.Tasks[primaryID]
	if !ok {
		return nil, fmt.Errorf("scheduler: loop %s: unknown task %s", l.ID, primaryID)
	}

	handle := &worktree.Handle{LoopID: l.ID, Branch: sc.worktrees.BranchName(l.ID), Path: l.WorktreePath}

	scratchpad, err := sc.latestScratchpad(ctx, runID, l.ID)
	if err != nil {
		return nil, err
	}
	issues, err := sc.store.ReviewIssuesForTask(ctx, runID, primaryID)
	if err != nil {
		return nil, err
	}

	prompt := buildPromptWithFeedback(t, issues, scratchpad, l.Iteration+1, l.MaxIterations)

	ring := sc.ringFor(l.ID)
	events, err := sc.runtime.Call(ctx, agentrt.CallOpts{
		Prompt:            prompt,
		WorkDir:           handle.Path,
		AllowedTools:      sc.cfg.AllowedTools,
		MaxTurns:          sc.cfg.MaxTurns,
		Model:             sc.cfg.Model,
		IdleTimeout:       sc.cfg.IdleTimeout,
		CompletionMarkers: []string{"TASK_COMPLETE", "TASK_STUCK", "ITERATION_DONE"},
	})
	if err != nil {
		return nil, fmt.Errorf("scheduler: loop %s: invoke runtime: %w", l.ID, err)
	}

	oc := &loopOutcome{loop: l, task: t}
	sawFinal := false
	for ev := range events {
		switch ev.Kind {
		case agentrt.EventTextDelta, agentrt.EventThinkingDelta:
			ring.Push(ev.Text)
			sc.cb.LoopOutput(l.ID, ev.Text)
			if ev.MarkerMatched != "" {
				oc.marker = ev.MarkerMatched
			}
		case agentrt.EventFinal:
			sawFinal = true
			oc.costUSD = ev.CostUSD
			oc.success = ev.Success
		}
	}
	if !sawFinal {
		oc.idleTimeout = true
		oc.errText = "idle timeout"
	} else if !oc.success && oc.marker == "" {
		oc.errText = "agent call did not succeed"
	}
	if oc.marker == "TASK_STUCK" && oc.errText == "" {
		oc.errText = "agent reported stuck"
	}

	oc.noProgress = sc.detectNoProgress(ctx, l.ID, handle.Path)
	return oc, nil
}

// detectNoProgress reports whether the loop's worktree has no uncommitted
// changes since the last check. An fsnotify watch on the worktree is
// consulted first as a fast path: a write event since the last iteration
// is conclusive progress without a `git status` shell-out. Absent an event
// (or a watcher that failed to start), git status --porcelain remains the
// authoritative check. Errors there (e.g. worktrees disabled and the
// target is not a git repo) are treated as "unknown" -- progress is assumed
// rather than risking a false stuck trip from an environment the detector
// cannot introspect.
func (sc *Scheduler) detectNoProgress(ctx context.Context, loopID, dir string) bool {
	if !sc.worktrees.Enabled() {
		return false
	}
	if lw := sc.watcherFor(loopID, dir); lw != nil {
		if lw.consumeSeen() {
			return false
		}
	}
	client, err := git.NewGitClient(dir)
	if err != nil {
		return false
	}
	changed, err := client.HasUncommittedChanges(ctx)
	if err != nil {
		return false
	}
	return !changed
}

func (sc *Scheduler) ringFor(loopID string) *RingBuffer {
	r, ok := sc.outputs[loopID]
	if !ok {
		r = NewRingBuffer(ringBufferCapacity)
		sc.outputs[loopID] = r
	}
	return r
}

func (sc *Scheduler) latestScratchpad(ctx context.Context, runID, loopID string) (string, error) {
	entries, err := sc.store.ContextByType(ctx, runID, store.ContextScratchpad, 20)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if e.LoopID == loopID {
			return e.Content, nil
		}
	}
	return "", nil
}

// detectStuck decides whether a loop has tripped into the stuck state and,
// if so, which named reason applies. Checks run in priority order: an
// agent-reported TASK_STUCK marker wins outright, then the same-error
// streak, then exceeding the iteration budget, then lack of progress.
// The zero value ("", false) means the loop is healthy.
func detectStuck(reason *store.StuckReason, iteration, maxIterations, sameErrorThreshold, noProgressThreshold int, marker string) (string, bool) {
	switch {
	case marker == "TASK_STUCK":
		return store.ReasonAgentReported, true
	case reason.SameErrorCount >= sameErrorThreshold:
		return store.ReasonRepeatedError, true
	case iteration > maxIterations:
		return store.ReasonMaxIterations, true
	case reason.NoProgressCount >= noProgressThreshold:
		return store.ReasonNoProgress, true
	default:
		return "", false
	}
}

// commitOutcome persists one loop's iteration result: updated stuck
// indicators, status transitions, merge attempts, and cost records.
func (sc *Scheduler) commitOutcome(ctx context.Context, runID string, oc *loopOutcome, result *Result) error {
	l := oc.loop

	if oc.costUSD > 0 {
		if err := sc.store.RecordCost(ctx, runID, "build", l.ID, oc.costUSD); err != nil {
			return err
		}
	}

	l.Iteration++
	reason := l.Stuck
	if reason == nil {
		reason = &store.StuckReason{}
	}
	if oc.errText != "" && oc.errText == sc.lastErrors[l.ID] {
		reason.SameErrorCount++
	} else if oc.errText != "" {
		reason.SameErrorCount = 1
	} else {
		reason.SameErrorCount = 0
	}
	sc.lastErrors[l.ID] = oc.errText
	reason.LastError = oc.errText
	if oc.noProgress {
		reason.NoProgressCount++
	} else {
		reason.NoProgressCount = 0
	}

	stuckCode, stuckNow := detectStuck(reason, l.Iteration, l.MaxIterations, sc.cfg.SameErrorThreshold, sc.cfg.NoProgressThreshold, oc.marker)
	reason.Code = stuckCode
	l.Stuck = reason

	switch {
	case oc.marker == "TASK_COMPLETE":
		handle := &worktree.Handle{LoopID: l.ID, Branch: sc.worktrees.BranchName(l.ID), Path: l.WorktreePath}
		mr, err := sc.worktrees.Merge(ctx, handle)
		if err != nil {
			return fmt.Errorf("scheduler: merge loop %s: %w", l.ID, err)
		}
		switch mr.Status {
		case worktree.MergeSuccess:
			oc.task.Status = task.StatusCompleted
			if err := sc.store.UpsertTask(ctx, runID, oc.task); err != nil {
				return err
			}
			if err := sc.store.ReplaceReviewIssues(ctx, runID, oc.task.ID, nil); err != nil {
				return err
			}
			l.Status = store.LoopCompleted
			result.CompletedLoopIDs = append(result.CompletedLoopIDs, l.ID)
			sc.cb.LoopStateChange(l.ID, store.LoopCompleted)
			sc.closeWatcher(l.ID)
		case worktree.MergeConflict:
			conflict := store.Conflict{LoopID: l.ID, TaskIDs: l.TaskIDs, Files: mr.ConflictFiles}
			if err := sc.store.AddConflict(ctx, runID, conflict); err != nil {
				return err
			}
			result.PendingConflicts = append(result.PendingConflicts, conflict)
		}
	case stuckNow:
		l.Status = store.LoopStuck
		result.StuckLoopIDs = append(result.StuckLoopIDs, l.ID)
		sc.cb.LoopStateChange(l.ID, store.LoopStuck)
	default:
		l.Status = store.LoopRunning
	}

	if l.ReviewInterval > 0 && l.Iteration > 0 && l.Iteration%l.ReviewInterval == 0 && l.Iteration != l.LastCheckpointReviewAt {
		l.LastCheckpointReviewAt = l.Iteration
		result.CheckpointDue = append(result.CheckpointDue, l.ID)
	}

	return sc.store.SaveLoop(ctx, l)
}
