package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/AbdelazizMoustafa10m/sq/internal/buildinfo"
	"github.com/AbdelazizMoustafa10m/sq/internal/driver"
	"github.com/AbdelazizMoustafa10m/sq/internal/effort"
	"github.com/AbdelazizMoustafa10m/sq/internal/logging"
	"github.com/AbdelazizMoustafa10m/sq/internal/loop"
	"github.com/AbdelazizMoustafa10m/sq/internal/scheduler"
	"github.com/AbdelazizMoustafa10m/sq/internal/store"
	"github.com/AbdelazizMoustafa10m/sq/internal/tui"
	"github.com/AbdelazizMoustafa10m/sq/internal/workflow"
)

// runIDPattern validates that a --run or --clean value is a safe ID (not a
// file path). Only alphanumeric characters, hyphens, and underscores are
// permitted -- the same shape store.NewID produces.
var runIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// resumeFlags holds parsed flag values for the resume command.
type resumeFlags struct {
	RunID    string
	List     bool
	DryRun   bool
	Clean    string
	CleanAll bool
	Force    bool
	StateDir string
	NoTUI    bool
	Debug    bool
}

// newResumeCmd creates the "sq resume" command.
func newResumeCmd() *cobra.Command {
	var flags resumeFlags

	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Resume an interrupted run",
		Long: `List resumable runs or resume a specific interrupted run from its
last persisted checkpoint.

When invoked with no flags, the most recently updated run found in
--state-dir is resumed automatically. State is the same durable SQLite
database (sq.db) every phase writes to as it runs, so a resumed run
continues from its exact last loop iteration instead of restarting the
phase from scratch.`,
		Example: `  # List all resumable runs
  sq resume --list

  # Resume the most recently updated run
  sq resume

  # Resume a specific run by ID
  sq resume --run run_abc123

  # Show what would be resumed without executing
  sq resume --run run_abc123 --dry-run

  # Delete a specific run's state
  sq resume --clean run_abc123

  # Delete all run state (prompts for confirmation)
  sq resume --clean-all`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResume(cmd, flags)
		},
	}

	cmd.Flags().StringVar(&flags.RunID, "run", "", "Resume a specific run by ID")
	cmd.Flags().BoolVar(&flags.List, "list", false, "List all resumable runs")
	cmd.Flags().BoolVar(&flags.DryRun, "dry-run", false, "Show what would be resumed without executing")
	cmd.Flags().StringVar(&flags.Clean, "clean", "", "Delete a specific run's state by ID")
	cmd.Flags().BoolVar(&flags.CleanAll, "clean-all", false, "Delete all run state")
	cmd.Flags().BoolVar(&flags.Force, "force", false, "Skip confirmation prompt for --clean-all")
	cmd.Flags().StringVar(&flags.StateDir, "state-dir", ".sq", "Directory holding the run's durable state")
	cmd.Flags().BoolVar(&flags.NoTUI, "no-tui", false, "Stream plain log output instead of the interactive TUI")
	cmd.Flags().BoolVar(&flags.Debug, "debug", false, "Enable verbose agent and scheduler logging")

	return cmd
}

func init() {
	rootCmd.AddCommand(newResumeCmd())
}

// runResume is the resume command's RunE function.
func runResume(cmd *cobra.Command, flags resumeFlags) error {
	if flags.RunID != "" && !runIDPattern.MatchString(flags.RunID) {
		return fmt.Errorf("resume: invalid run ID %q: only alphanumeric characters, hyphens, and underscores are allowed", flags.RunID)
	}
	if flags.Clean != "" && !runIDPattern.MatchString(flags.Clean) {
		return fmt.Errorf("resume: invalid run ID %q for --clean: only alphanumeric characters, hyphens, and underscores are allowed", flags.Clean)
	}

	dbPath := filepath.Join(flags.StateDir, "sq.db")
	if _, err := os.Stat(dbPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(cmd.ErrOrStderr(), "No run state found in %q.\n", flags.StateDir)
			return nil
		}
		return fmt.Errorf("resume: %w", err)
	}

	st, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("resume: opening run store at %q: %w", dbPath, err)
	}
	defer st.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if flags.List {
		return runResumeList(cmd, ctx, st)
	}
	if flags.CleanAll {
		return runResumeCleanAll(cmd, ctx, st, flags.Force, os.Stdin)
	}
	if flags.Clean != "" {
		return runResumeClean(ctx, st, flags.Clean)
	}

	return runResumeExecute(cmd, ctx, cancel, st, flags)
}

// runResumeList prints every resumable run as a tabwriter-aligned table.
func runResumeList(cmd *cobra.Command, ctx context.Context, st *store.Store) error {
	runs, err := st.ListRuns(ctx)
	if err != nil {
		return fmt.Errorf("resume: listing runs: %w", err)
	}
	if len(runs) == 0 {
		fmt.Fprintln(cmd.ErrOrStderr(), "No resumable runs found.")
		return nil
	}
	formatRunTable(runs, cmd.OutOrStdout())
	return nil
}

// formatRunTable writes a tabwriter-aligned table of run records to w. It
// uses text/tabwriter rather than lipgloss so --list output stays plain and
// scriptable.
func formatRunTable(runs []*store.RunRecord, w io.Writer) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintln(tw, "RUN ID\tPHASE\tEFFORT\tREVISIONS\tCOST\tUPDATED")
	fmt.Fprintln(tw, "------\t-----\t------\t---------\t----\t-------")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t$%.2f\t%s\n",
			r.ID, r.Phase, r.Effort, r.RevisionCount, r.CostTotal, r.UpdatedAt)
	}
}

// runResumeClean deletes a single run's state by ID.
func runResumeClean(ctx context.Context, st *store.Store, runID string) error {
	if err := st.DeleteRun(ctx, runID); err != nil {
		return fmt.Errorf("resume: deleting run %q: %w", runID, err)
	}
	logging.New("resume").Info("run state deleted", "run_id", runID)
	return nil
}

// runResumeCleanAll deletes every run's state. When the process is running
// in a terminal it prompts for confirmation unless --force is set. In
// non-interactive mode (e.g. CI) --force is required; without it the
// command returns an error rather than silently destroying state.
func runResumeCleanAll(cmd *cobra.Command, ctx context.Context, st *store.Store, force bool, stdin *os.File) error {
	runs, err := st.ListRuns(ctx)
	if err != nil {
		return fmt.Errorf("resume: listing runs for clean-all: %w", err)
	}
	if len(runs) == 0 {
		fmt.Fprintln(cmd.ErrOrStderr(), "No run state found.")
		return nil
	}

	if !force {
		if isTerminal(stdin) {
			fmt.Fprint(cmd.ErrOrStderr(), "This will delete all run state. Continue? [y/N] ")
			scanner := bufio.NewScanner(stdin)
			if !scanner.Scan() || !strings.EqualFold(strings.TrimSpace(scanner.Text()), "y") {
				fmt.Fprintln(cmd.ErrOrStderr(), "Aborted.")
				return nil
			}
		} else {
			return fmt.Errorf("resume: --clean-all in non-interactive mode requires --force to confirm deletion of all run state")
		}
	}

	logger := logging.New("resume")
	var deleteErr error
	deleted := 0
	for _, r := range runs {
		if err := st.DeleteRun(ctx, r.ID); err != nil {
			logger.Error("failed to delete run", "run_id", r.ID, "error", err)
			deleteErr = err
			continue
		}
		deleted++
		logger.Info("run state deleted", "run_id", r.ID)
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "Deleted %d run(s).\n", deleted)
	return deleteErr
}

// runResumeExecute resolves the run to resume (--run, or the most recently
// updated one), requeues any loop the previous process left interrupted,
// and drives it to completion through the same driver/scheduler wiring
// `sq run` uses.
func runResumeExecute(cmd *cobra.Command, ctx context.Context, cancel context.CancelFunc, st *store.Store, flags resumeFlags) error {
	logger := logging.New("resume")
	if flags.Debug {
		logger.SetLevel(logging.LevelDebug)
	}

	var run *store.RunRecord
	var err error
	if flags.RunID != "" {
		run, err = st.LoadRun(ctx, flags.RunID)
		if err != nil {
			return fmt.Errorf("resume: loading run %q: %w", flags.RunID, err)
		}
	} else {
		run, err = st.LatestRun(ctx)
		if err != nil {
			return fmt.Errorf("resume: no resumable runs found in %q: %w", flags.StateDir, err)
		}
	}

	if flags.DryRun {
		fmt.Fprintf(cmd.ErrOrStderr(), "Dry-run: would resume run %q at phase %q\n", run.ID, run.Phase)
		fmt.Fprintf(cmd.ErrOrStderr(), "  revisions so far: %d, cost so far: $%.2f\n", run.RevisionCount, run.CostTotal)
		return nil
	}

	if err := st.RequeueInterruptedLoops(ctx, run.ID); err != nil {
		return fmt.Errorf("resume: %w", err)
	}

	effLevel, err := effort.ParseLevel(run.Effort)
	if err != nil {
		return fmt.Errorf("resume: run %q has invalid effort %q: %w", run.ID, run.Effort, err)
	}
	effProfile, err := effort.Lookup(effLevel)
	if err != nil {
		return err
	}

	resolved, _, err := loadAndResolveConfig()
	if err != nil {
		return fmt.Errorf("resume: loading config: %w", err)
	}
	cfg := resolved.Config

	targetDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("resume: resolving target directory: %w", err)
	}

	implAgentName := firstConfiguredAgentName(cfg.Agents)
	if implAgentName == "" {
		implAgentName = "claude"
	}

	var loopEvents chan loop.LoopEvent
	var agentOutput chan tui.AgentOutputMsg
	if !flags.NoTUI {
		loopEvents = make(chan loop.LoopEvent, 64)
		agentOutput = make(chan tui.AgentOutputMsg, 256)
	}

	deps, closeDeps, err := buildPhaseDeps(ctx, st, cfg, run, effProfile, targetDir, flags.StateDir,
		implAgentName, false, scheduler.Config{Model: effProfile.ModelTier}, logger, loopEvents, agentOutput)
	if err != nil {
		return err
	}
	defer closeDeps()

	logger.Info("resuming run", "run_id", run.ID, "phase", run.Phase)

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

// isTerminal reports whether f is connected to a terminal (TTY).
func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}
