package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/AbdelazizMoustafa10m/sq/internal/agentrt"
	"github.com/AbdelazizMoustafa10m/sq/internal/analysis"
	"github.com/AbdelazizMoustafa10m/sq/internal/buildinfo"
	"github.com/AbdelazizMoustafa10m/sq/internal/config"
	"github.com/AbdelazizMoustafa10m/sq/internal/driver"
	"github.com/AbdelazizMoustafa10m/sq/internal/effort"
	"github.com/AbdelazizMoustafa10m/sq/internal/git"
	"github.com/AbdelazizMoustafa10m/sq/internal/logging"
	"github.com/AbdelazizMoustafa10m/sq/internal/loop"
	"github.com/AbdelazizMoustafa10m/sq/internal/phase"
	"github.com/AbdelazizMoustafa10m/sq/internal/scheduler"
	"github.com/AbdelazizMoustafa10m/sq/internal/store"
	"github.com/AbdelazizMoustafa10m/sq/internal/toolhost"
	"github.com/AbdelazizMoustafa10m/sq/internal/tui"
	"github.com/AbdelazizMoustafa10m/sq/internal/worktree"
	"github.com/AbdelazizMoustafa10m/sq/internal/workflow"
)

func init() {
	rootCmd.AddCommand(newRunCmd())
}

// runFlags holds all parsed flag values for the run command.
type runFlags struct {
	SpecPath      string
	Effort        string
	MaxLoops      int
	MaxIterations int
	StateDir      string
	Resume        bool
	Reset         bool
	DryRun        bool
	NoTUI         bool
	NoWorktrees   bool
	Debug         bool
	ImplAgent     string
}

// newRunCmd creates the "sq run" command: the entry point for a full
// orchestration run against the current directory's target repository.
func newRunCmd() *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the full analyze-enumerate-plan-build-review orchestration",
		Long: `Run drives a fleet of concurrent worker loops through a target
repository: analyzing its current state, enumerating tasks from a
specification, planning parallel execution groups, dispatching isolated
git-worktree loops, reviewing and revising their output, and resolving
merge conflicts -- persisting durable state throughout so the run can be
resumed after any interruption.

Exit codes:
  0 - every task completed
  1 - stopped early on a cost limit or the revision cap
  2 - a fatal error`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, flags)
		},
	}

	cmd.Flags().StringVar(&flags.SpecPath, "spec", "spec.md", "Path to the specification driving this run")
	cmd.Flags().StringVar(&flags.Effort, "effort", "medium", "Effort level: low, medium, high, or max")
	cmd.Flags().IntVar(&flags.MaxLoops, "max-loops", 0, "Cap on concurrent worker loops (0 = scheduler default)")
	cmd.Flags().IntVar(&flags.MaxIterations, "max-iterations", 0, "Cap on iterations per loop (0 = scheduler default)")
	cmd.Flags().StringVar(&flags.StateDir, "state-dir", ".sq", "Directory holding the run's durable state")
	cmd.Flags().BoolVar(&flags.Resume, "resume", false, "Resume the most recent run found in --state-dir")
	cmd.Flags().BoolVar(&flags.Reset, "reset", false, "Discard any existing state in --state-dir and start fresh")
	cmd.Flags().BoolVar(&flags.NoTUI, "no-tui", false, "Stream plain log output instead of the interactive TUI")
	cmd.Flags().BoolVar(&flags.NoWorktrees, "no-worktrees", false, "Run all loops directly in the target directory, without git worktrees")
	cmd.Flags().BoolVar(&flags.Debug, "debug", false, "Enable verbose agent and scheduler logging")
	cmd.Flags().StringVar(&flags.ImplAgent, "agent", "", "Agent to use for every phase call (default: from config)")

	return cmd
}

func runRun(cmd *cobra.Command, flags runFlags) error {
	logger := logging.New("run")
	if flags.Debug {
		logger.SetLevel(logging.LevelDebug)
	}

	if flags.Resume && flags.Reset {
		return fmt.Errorf("--resume and --reset are mutually exclusive")
	}

	targetDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("resolving target directory: %w", err)
	}

	resolved, _, err := loadAndResolveConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	cfg := resolved.Config

	effLevel, err := effort.ParseLevel(flags.Effort)
	if err != nil {
		return err
	}
	effProfile, err := effort.Lookup(effLevel)
	if err != nil {
		return err
	}

	if flags.Reset {
		dbPath := filepath.Join(flags.StateDir, "sq.db")
		if rmErr := os.Remove(dbPath); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			return fmt.Errorf("resetting state dir: %w", rmErr)
		}
	}

	if mkErr := os.MkdirAll(flags.StateDir, 0o755); mkErr != nil {
		return fmt.Errorf("creating state dir %q: %w", flags.StateDir, mkErr)
	}

	st, err := store.Open(filepath.Join(flags.StateDir, "sq.db"))
	if err != nil {
		return fmt.Errorf("opening run store: %w", err)
	}
	defer st.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	run, err := loadOrCreateRun(ctx, st, flags, effLevel)
	if err != nil {
		return err
	}

	implAgentName := flags.ImplAgent
	if implAgentName == "" {
		implAgentName = firstConfiguredAgentName(cfg.Agents)
	}
	if implAgentName == "" {
		implAgentName = "claude"
	}

	var loopEvents chan loop.LoopEvent
	var agentOutput chan tui.AgentOutputMsg
	if !flags.NoTUI {
		loopEvents = make(chan loop.LoopEvent, 64)
		agentOutput = make(chan tui.AgentOutputMsg, 256)
	}

	schedCfg := scheduler.Config{Model: effProfile.ModelTier}
	if flags.MaxLoops > 0 {
		schedCfg.MaxLoops = flags.MaxLoops
	}
	if flags.MaxIterations > 0 {
		schedCfg.MaxIterations = flags.MaxIterations
	}

	deps, closeDeps, err := buildPhaseDeps(ctx, st, cfg, run, effProfile, targetDir, flags.StateDir,
		implAgentName, flags.NoWorktrees, schedCfg, logger, loopEvents, agentOutput)
	if err != nil {
		return err
	}
	defer closeDeps()

	if flags.DryRun || flagDryRun {
		return runDryRun(deps, run)
	}

	if flags.NoTUI {
		d := driver.New(st, deps, effProfile, run.ID, logging.New("driver"), &driverCallbacks{logger: logger}, nil)
		exitCode, runErr := d.Run(ctx)
		finishRun(exitCode, runErr)
		return nil
	}

	workflowEvents := make(chan workflow.WorkflowEvent, 64)
	done := make(chan struct{})
	var exitCode int
	var runErr error

	d := driver.New(st, deps, effProfile, run.ID, logging.New("driver"), &driverCallbacks{logger: logger}, workflowEvents)
	go func() {
		exitCode, runErr = d.Run(ctx)
		close(done)
	}()

	tuiErr := tui.RunTUI(tui.AppConfig{
		Version:        buildinfo.GetInfo().Version,
		ProjectName:    cfg.Project.Name,
		Ctx:            ctx,
		Cancel:         cancel,
		WorkflowEvents: workflowEvents,
		LoopEvents:     loopEvents,
		AgentOutput:    agentOutput,
		Done:           done,
	})
	<-done
	if tuiErr != nil {
		logger.Warn("tui exited with error", "error", tuiErr)
	}
	finishRun(exitCode, runErr)
	return nil
}

// finishRun prints the driver's outcome and terminates the process with
// its mapped exit code.
func finishRun(exitCode int, runErr error) {
	if runErr != nil {
		if errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded) {
			fmt.Fprintln(os.Stderr, "\nRun interrupted; state saved for --resume.")
			os.Exit(exitCode)
		}
		fmt.Fprintln(os.Stderr, runErr)
		os.Exit(exitCode)
	}
	os.Exit(exitCode)
}

// loadOrCreateRun resolves the run record this invocation operates on: the
// latest run in the store when --resume is set, or a fresh run (with its
// codebase analysis deferred to the analyze phase) otherwise.
func loadOrCreateRun(ctx context.Context, st *store.Store, flags runFlags, level effort.Level) (*store.RunRecord, error) {
	if flags.Resume {
		run, err := st.LatestRun(ctx)
		if err != nil {
			return nil, fmt.Errorf("resuming: no prior run found in %q: %w", flags.StateDir, err)
		}
		if err := st.RequeueInterruptedLoops(ctx, run.ID); err != nil {
			return nil, fmt.Errorf("resuming: %w", err)
		}
		return run, nil
	}

	run := &store.RunRecord{
		ID:       store.NewID(),
		SpecPath: flags.SpecPath,
		Effort:   string(level),
		Phase:    "analyze",
	}
	if err := st.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("creating run: %w", err)
	}
	return run, nil
}

// buildPhaseDeps assembles the agent runtime, tool host, worktree manager,
// and scheduler a run's phases execute against, wired into a phase.Deps.
// Shared by `sq run` and `sq resume` so the two commands' executing paths
// cannot drift apart. The returned close func must be deferred by the
// caller to release the tool host's listener.
func buildPhaseDeps(
	ctx context.Context,
	st *store.Store,
	cfg *config.Config,
	run *store.RunRecord,
	effProfile effort.Profile,
	targetDir, stateDir, implAgentName string,
	noWorktrees bool,
	schedCfg scheduler.Config,
	logger *log.Logger,
	loopEvents chan loop.LoopEvent,
	agentOutput chan tui.AgentOutputMsg,
) (*phase.Deps, func() error, error) {
	agentRegistry, err := buildAgentRegistry(cfg.Agents, agentRegistryOpts{Agent: implAgentName})
	if err != nil {
		return nil, nil, fmt.Errorf("building agent registry: %w", err)
	}
	implAgent, err := agentRegistry.Get(implAgentName)
	if err != nil {
		return nil, nil, fmt.Errorf("resolving agent %q: %w", implAgentName, err)
	}
	runtime := agentrt.New(agentrt.FromAgent(implAgent))

	host, err := toolhost.New(st, run.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("building tool host: %w", err)
	}
	toolServer, err := toolhost.Listen(host)
	if err != nil {
		return nil, nil, fmt.Errorf("starting tool host server: %w", err)
	}

	if _, gitErr := git.NewGitClient(targetDir); gitErr != nil {
		logger.Warn("target directory is not a git repository; running without worktree isolation", "error", gitErr)
		noWorktrees = true
	}

	wt, err := worktree.New(ctx, targetDir, stateDir, run.ID, "", !noWorktrees)
	if err != nil {
		toolServer.Close()
		return nil, nil, fmt.Errorf("initializing worktree manager: %w", err)
	}

	if schedCfg.ReviewInterval <= 0 {
		schedCfg.ReviewInterval = effProfile.ReviewInterval
	}
	schedCb := &runCallbacks{logger: logging.New("scheduler"), loopEvents: loopEvents}
	sched := scheduler.New(st, wt, runtime, targetDir, schedCfg, schedCb)

	deps := &phase.Deps{
		Store:        st,
		Runtime:      runtime,
		Scheduler:    sched,
		Worktrees:    wt,
		Effort:       effProfile,
		RunID:        run.ID,
		TargetDir:    targetDir,
		ToolHostAddr: toolServer.Addr(),
		Output: func(phaseName, text string) {
			logger.Debug("phase output", "phase", phaseName, "text", text)
			if agentOutput != nil {
				select {
				case agentOutput <- tui.AgentOutputMsg{Agent: phaseName, Line: text, Stream: "stdout", Timestamp: time.Now()}:
				default:
				}
			}
		},
	}
	return deps, toolServer.Close, nil
}

// runDryRun reports the run's starting phase and resolved effort profile
// without invoking any agent or mutating the target repository.
func runDryRun(deps *phase.Deps, run *store.RunRecord) error {
	fmt.Printf("run %s would start at phase %q (effort=%s)\n", run.ID, run.Phase, deps.Effort.Level)
	fmt.Printf("  review depth: %s, max revisions: %d\n", deps.Effort.ReviewDepth, deps.Effort.MaxRevisions)
	fmt.Printf("  cost limits: run=$%.2f phase=$%.2f loop=$%.2f\n",
		deps.Effort.CostLimits.PerRunMaxUsd, deps.Effort.CostLimits.PerPhaseMaxUsd, deps.Effort.CostLimits.PerLoopMaxUsd)
	if run.WasEmptyProject {
		fmt.Println("  target directory is empty; analyze would synthesize a greenfield analysis")
	} else if analysis.IsEmptyProject(deps.TargetDir) {
		fmt.Println("  target directory is empty; analyze would synthesize a greenfield analysis")
	}
	return nil
}

// driverCallbacks adapts driver.Callbacks to structured logging; the TUI
// (when enabled) subscribes to the same phase/loop events separately.
type driverCallbacks struct {
	logger *log.Logger
}

func (c *driverCallbacks) PhaseStarted(phaseName string) {
	c.logger.Info("phase started", "phase", phaseName)
}

func (c *driverCallbacks) PhaseCompleted(phaseName, event string, err error) {
	if err != nil {
		c.logger.Error("phase failed", "phase", phaseName, "error", err)
		return
	}
	c.logger.Info("phase completed", "phase", phaseName, "event", event)
}

// runCallbacks adapts scheduler.Callbacks to structured logging and, when
// the TUI is active, to the loop.LoopEvent stream its sidebar renders.
type runCallbacks struct {
	logger     *log.Logger
	loopEvents chan<- loop.LoopEvent
}

func (c *runCallbacks) LoopCreated(loopID string, taskIDs []string) {
	c.logger.Info("loop created", "loop", loopID, "tasks", taskIDs)
	c.send(loopID, store.LoopPending, fmt.Sprintf("tasks: %v", taskIDs))
}

func (c *runCallbacks) LoopStateChange(loopID string, status store.LoopStatus) {
	c.logger.Info("loop state change", "loop", loopID, "status", status)
	c.send(loopID, status, string(status))
}

func (c *runCallbacks) LoopOutput(loopID, text string) {
	c.logger.Debug("loop output", "loop", loopID, "text", text)
}

func (c *runCallbacks) send(loopID string, status store.LoopStatus, detail string) {
	if c.loopEvents == nil {
		return
	}
	select {
	case c.loopEvents <- tui.LoopStateEvent(loopID, status, detail):
	default:
	}
}
