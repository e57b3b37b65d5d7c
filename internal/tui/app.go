package tui

import (
	"context"
	"fmt"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/AbdelazizMoustafa10m/sq/internal/logging"
	"github.com/AbdelazizMoustafa10m/sq/internal/loop"
	"github.com/AbdelazizMoustafa10m/sq/internal/workflow"
)

// FocusPanel identifies which panel currently has keyboard focus.
type FocusPanel int

const (
	// FocusStatus indicates the status panel (task list, progress, rate limits) has focus.
	FocusStatus FocusPanel = iota
	// FocusTranscript indicates the agent/event transcript panel has focus.
	FocusTranscript
)

// AppConfig holds configuration for the TUI application.
type AppConfig struct {
	// Version is the Sq semantic version string (e.g. "2.0.0").
	Version string
	// ProjectName is the name of the current project being managed.
	ProjectName string

	// Ctx is the cancellation context for backend operations. When nil,
	// a background context is used.
	Ctx context.Context
	// Cancel cancels the Ctx context. Called on graceful shutdown.
	Cancel context.CancelFunc

	// WorkflowEvents is the channel on which the phase engine broadcasts
	// WorkflowEvent values. May be nil when no run is active.
	WorkflowEvents <-chan workflow.WorkflowEvent
	// LoopEvents is the channel on which task worker loops broadcast
	// LoopEvent values. May be nil when no loop is active.
	LoopEvents <-chan loop.LoopEvent
	// AgentOutput is the channel on which agent output lines are sent.
	// May be nil when no agents are running.
	AgentOutput <-chan AgentOutputMsg
	// TaskProgress is the channel on which task progress updates are sent.
	// May be nil when no task tracking is active.
	TaskProgress <-chan TaskProgressMsg

	// Engine is the workflow engine reference. May be nil in idle mode.
	Engine *workflow.Engine

	// Done, when non-nil, signals RunTUI to quit the program once closed
	// or sent to -- used by `sq run` to end the TUI when the driver's run
	// reaches a terminal state instead of waiting on user input.
	Done <-chan struct{}
}

// App is the top-level Bubble Tea model for the Sq Command Center.
// It implements tea.Model (Init, Update, View) and composes the status
// panel, transcript panel, status line, and help overlay.
type App struct {
	config   AppConfig
	width    int
	height   int
	focus    FocusPanel
	ready    bool // true after first WindowSizeMsg
	quitting bool

	keyMap      KeyMap
	helpOverlay HelpOverlay

	layout Layout

	statusPanel StatusPanelModel
	transcript  TranscriptModel
	statusLine  StatusLineModel
	theme       Theme

	bridge         EventBridge
	ctx            context.Context
	cancel         context.CancelFunc
	workflowEvents <-chan workflow.WorkflowEvent
	loopEvents     <-chan loop.LoopEvent
	agentOutput    <-chan AgentOutputMsg
	taskProgress   <-chan TaskProgressMsg
}

// NewApp constructs an App with sensible defaults: focus on the status
// panel, ready and quitting false. If cfg carries event channels, the App
// wires them through an EventBridge so backend events arrive as TUI messages.
func NewApp(cfg AppConfig) App {
	km := DefaultKeyMap()
	theme := DefaultTheme()

	statusPanel := NewStatusPanelModel(theme)
	statusPanel.SetFocused(true)

	ctx := cfg.Ctx
	if ctx == nil {
		ctx = context.Background()
	}

	return App{
		config:         cfg,
		focus:          FocusStatus,
		ready:          false,
		quitting:       false,
		keyMap:         km,
		helpOverlay:    NewHelpOverlay(theme, km),
		layout:         NewLayout(),
		statusPanel:    statusPanel,
		transcript:     NewTranscriptModel(theme),
		statusLine:     NewStatusLineModel(theme),
		theme:          theme,
		bridge:         NewEventBridge(),
		ctx:            ctx,
		cancel:         cfg.Cancel,
		workflowEvents: cfg.WorkflowEvents,
		loopEvents:     cfg.LoopEvents,
		agentOutput:    cfg.AgentOutput,
		taskProgress:   cfg.TaskProgress,
	}
}

// Init returns a batch of commands that start draining backend event
// channels via the EventBridge. Each bridge command reads a single event
// from its channel and converts it into a TUI message; the Update handler
// re-invokes the bridge command to keep draining.
func (a App) Init() tea.Cmd {
	var cmds []tea.Cmd
	if a.workflowEvents != nil {
		cmds = append(cmds, a.bridge.WorkflowEventCmd(a.ctx, a.workflowEvents))
	}
	if a.loopEvents != nil {
		cmds = append(cmds, a.bridge.LoopEventCmd(a.ctx, a.loopEvents))
	}
	if a.agentOutput != nil {
		cmds = append(cmds, a.bridge.AgentOutputCmd(a.ctx, a.agentOutput))
	}
	if a.taskProgress != nil {
		cmds = append(cmds, a.bridge.TaskProgressCmd(a.ctx, a.taskProgress))
	}
	if len(cmds) == 0 {
		return nil
	}
	return tea.Batch(cmds...)
}

// Update dispatches incoming messages and returns the updated model plus any
// follow-up command. It handles window resizing, the help overlay, keyboard
// bindings, and all sub-model message routing.
func (a App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch m := msg.(type) {
	case tea.WindowSizeMsg:
		return a.handleWindowSize(m)

	case tea.KeyMsg:
		return a.handleKey(m)

	case FocusChangedMsg:
		a.focus = m.Panel
		var spCmd, trCmd tea.Cmd
		a.statusPanel, spCmd = a.statusPanel.Update(m)
		a.transcript, trCmd = a.transcript.Update(m)
		return a, tea.Batch(spCmd, trCmd)

	case AgentOutputMsg:
		var cmd tea.Cmd
		a.transcript, cmd = a.transcript.Update(m)
		var cmds []tea.Cmd
		cmds = append(cmds, cmd)
		if a.agentOutput != nil {
			cmds = append(cmds, a.bridge.AgentOutputCmd(a.ctx, a.agentOutput))
		}
		return a, tea.Batch(cmds...)

	case AgentStatusMsg:
		var cmd tea.Cmd
		a.transcript, cmd = a.transcript.Update(m)
		return a, cmd

	case WorkflowEventMsg:
		var trCmd tea.Cmd
		a.transcript, trCmd = a.transcript.Update(m)
		a.statusLine = a.statusLine.Update(m)
		var cmds []tea.Cmd
		cmds = append(cmds, trCmd)
		if a.workflowEvents != nil {
			cmds = append(cmds, a.bridge.WorkflowEventCmd(a.ctx, a.workflowEvents))
		}
		return a, tea.Batch(cmds...)

	case LoopEventMsg:
		var spCmd, trCmd tea.Cmd
		a.statusPanel, spCmd = a.statusPanel.Update(m)
		a.transcript, trCmd = a.transcript.Update(m)
		a.statusLine = a.statusLine.Update(m)
		var cmds []tea.Cmd
		cmds = append(cmds, spCmd, trCmd)
		if a.loopEvents != nil {
			cmds = append(cmds, a.bridge.LoopEventCmd(a.ctx, a.loopEvents))
		}
		return a, tea.Batch(cmds...)

	case RateLimitMsg:
		var spCmd, trCmd tea.Cmd
		a.statusPanel, spCmd = a.statusPanel.Update(m)
		a.transcript, trCmd = a.transcript.Update(m)
		// RateLimitMsg originates from the loop events bridge (convertLoopEvent).
		var cmds []tea.Cmd
		cmds = append(cmds, spCmd, trCmd)
		if a.loopEvents != nil {
			cmds = append(cmds, a.bridge.LoopEventCmd(a.ctx, a.loopEvents))
		}
		return a, tea.Batch(cmds...)

	case TaskProgressMsg:
		var spCmd tea.Cmd
		a.statusPanel, spCmd = a.statusPanel.Update(m)
		var cmds []tea.Cmd
		cmds = append(cmds, spCmd)
		if a.taskProgress != nil {
			cmds = append(cmds, a.bridge.TaskProgressCmd(a.ctx, a.taskProgress))
		}
		return a, tea.Batch(cmds...)

	case ErrorMsg:
		var cmd tea.Cmd
		a.transcript, cmd = a.transcript.Update(m)
		return a, cmd

	case TickMsg:
		var spCmd tea.Cmd
		a.statusPanel, spCmd = a.statusPanel.Update(m)
		a.statusLine = a.statusLine.Update(m)
		return a, spCmd
	}

	return a, nil
}

// handleWindowSize processes tea.WindowSizeMsg, resizes the layout and all
// sub-models, and sets the ready flag.
func (a App) handleWindowSize(m tea.WindowSizeMsg) (tea.Model, tea.Cmd) {
	a.width = m.Width
	a.height = m.Height
	a.ready = true

	a.helpOverlay.SetDimensions(m.Width, m.Height)
	a.layout.Resize(m.Width, m.Height)

	a.statusPanel.SetDimensions(a.layout.StatusPanel.Width, a.layout.StatusPanel.Height)
	a.transcript.SetDimensions(a.layout.Transcript.Width, a.layout.Transcript.Height)
	a.statusLine.SetWidth(m.Width)

	return a, nil
}

// handleKey processes tea.KeyMsg, dispatching to the help overlay, global
// key bindings, and finally the focused sub-model's key handler.
func (a App) handleKey(m tea.KeyMsg) (tea.Model, tea.Cmd) {
	if a.helpOverlay.IsVisible() {
		var cmd tea.Cmd
		a.helpOverlay, cmd = a.helpOverlay.Update(m)
		return a, cmd
	}

	switch {
	case key.Matches(m, a.keyMap.Help):
		a.helpOverlay.Toggle()
		return a, nil

	case key.Matches(m, a.keyMap.Quit):
		a.quitting = true
		// Cancel the backend context so bridge goroutines and any running
		// agents/workflows receive a cancellation signal before the TUI exits.
		if a.cancel != nil {
			a.cancel()
		}
		return a, tea.Quit

	case key.Matches(m, a.keyMap.FocusNext):
		a.focus = NextFocus(a.focus)
		a.statusPanel.SetFocused(a.focus == FocusStatus)
		a.transcript.SetFocused(a.focus == FocusTranscript)
		return a, func() tea.Msg { return FocusChangedMsg{Panel: a.focus} }

	case key.Matches(m, a.keyMap.FocusPrev):
		a.focus = PrevFocus(a.focus)
		a.statusPanel.SetFocused(a.focus == FocusStatus)
		a.transcript.SetFocused(a.focus == FocusTranscript)
		return a, func() tea.Msg { return FocusChangedMsg{Panel: a.focus} }

	// Forward scrolling / navigation / tab-switching keys to the focused panel.
	case key.Matches(m, a.keyMap.Up),
		key.Matches(m, a.keyMap.Down),
		key.Matches(m, a.keyMap.PageUp),
		key.Matches(m, a.keyMap.PageDown),
		key.Matches(m, a.keyMap.Home),
		key.Matches(m, a.keyMap.End),
		m.Type == tea.KeyTab,
		m.Type == tea.KeyShiftTab:
		return a.forwardKeyToFocused(m)
	}

	return a, nil
}

// forwardKeyToFocused routes a keyboard event to whichever panel currently
// holds focus.
func (a App) forwardKeyToFocused(m tea.KeyMsg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch a.focus {
	case FocusStatus:
		a.statusPanel, cmd = a.statusPanel.Update(m)
	case FocusTranscript:
		a.transcript, cmd = a.transcript.Update(m)
	}
	return a, cmd
}

// View renders the complete UI as a string.
func (a App) View() string {
	if a.quitting {
		return ""
	}

	if !a.ready {
		return "Initializing Sq..."
	}

	if a.width < MinTerminalWidth || a.height < MinTerminalHeight {
		return a.layout.RenderTooSmall(a.theme)
	}

	if a.helpOverlay.IsVisible() {
		return a.helpOverlay.View()
	}

	return a.fullView()
}

// fullView renders the complete TUI layout using the layout manager and all
// integrated sub-model views.
func (a App) fullView() string {
	titleBar := a.renderTitleBar()
	statusPanel := a.statusPanel.View()
	transcript := a.transcript.View()
	statusLine := a.statusLine.View()

	return a.layout.Render(a.theme, titleBar, statusPanel, transcript, statusLine)
}

// renderTitleBar builds a full-width title bar showing the Sq version and
// the project name (when available).
func (a App) renderTitleBar() string {
	title := fmt.Sprintf("Sq v%s — Command Center", a.config.Version)
	if a.config.ProjectName != "" {
		title = fmt.Sprintf("%s  |  %s", title, a.config.ProjectName)
	}

	return lipgloss.NewStyle().
		Width(a.width).
		Bold(true).
		Background(lipgloss.Color("62")). // purple
		Foreground(lipgloss.Color("15")). // white
		Padding(0, 1).
		Render(title)
}

// RunTUI creates a tea.Program configured for full-screen rendering with
// cell-motion mouse support, runs it, and returns any error encountered.
//
// Use tea.WithMouseCellMotion (not WithMouseAllMotion) so that the user can
// still select and copy text from the terminal.
func RunTUI(cfg AppConfig) error {
	logger := logging.New("tui")
	logger.Info("starting TUI", "version", cfg.Version, "project", cfg.ProjectName)

	p := tea.NewProgram(
		NewApp(cfg),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
	)

	if cfg.Done != nil {
		go func() {
			<-cfg.Done
			p.Quit()
		}()
	}

	_, err := p.Run()
	if err != nil {
		return fmt.Errorf("running TUI: %w", err)
	}

	return nil
}
