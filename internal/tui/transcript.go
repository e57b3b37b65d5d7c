package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
)

// MaxOutputLines is the maximum number of lines retained per transcript tab.
// Once the buffer is full, the oldest lines are overwritten.
const MaxOutputLines = 1000

// systemTab is the reserved tab name for non-agent events: loop transitions,
// workflow step changes, rate-limit notices, and errors.
const systemTab = "system"

// ---------------------------------------------------------------------------
// OutputBuffer
// ---------------------------------------------------------------------------

// OutputBuffer is a fixed-capacity ring buffer of formatted lines shared by
// every transcript tab, whether it holds raw agent output or classified
// system events. When the buffer is full the oldest line is overwritten by
// the newest. The zero value is not usable; always construct via
// NewOutputBuffer.
type OutputBuffer struct {
	lines []string
	start int
	count int
	cap   int
}

// NewOutputBuffer creates an OutputBuffer with the given capacity.
// If capacity is <= 0, it defaults to MaxOutputLines.
func NewOutputBuffer(capacity int) OutputBuffer {
	if capacity <= 0 {
		capacity = MaxOutputLines
	}
	return OutputBuffer{
		lines: make([]string, capacity),
		cap:   capacity,
	}
}

// Append adds a line to the buffer, evicting the oldest line once full.
func (b *OutputBuffer) Append(line string) {
	if b.count < b.cap {
		b.lines[(b.start+b.count)%b.cap] = line
		b.count++
	} else {
		b.lines[b.start%b.cap] = line
		b.start = (b.start + 1) % b.cap
	}
}

// Lines returns a newly allocated copy of the buffered lines, oldest first.
func (b OutputBuffer) Lines() []string {
	if b.count == 0 {
		return nil
	}
	out := make([]string, b.count)
	for i := 0; i < b.count; i++ {
		out[i] = b.lines[(b.start+i)%b.cap]
	}
	return out
}

// Len returns the number of lines currently stored in the buffer.
func (b OutputBuffer) Len() int {
	return b.count
}

// ---------------------------------------------------------------------------
// transcriptTab
// ---------------------------------------------------------------------------

// transcriptTab holds the display state for one tab in the transcript panel:
// either a running agent's raw output, or the "system" feed of classified
// loop/workflow/error events.
type transcriptTab struct {
	name       string
	status     AgentStatus
	task       string
	viewport   viewport.Model
	buffer     OutputBuffer
	autoScroll bool
}

func newTranscriptTab(name string) *transcriptTab {
	return &transcriptTab{
		name:       name,
		status:     AgentIdle,
		buffer:     NewOutputBuffer(MaxOutputLines),
		viewport:   viewport.New(0, 0),
		autoScroll: true,
	}
}

func (t *transcriptTab) rebuildContent() {
	lines := t.buffer.Lines()
	for i, l := range lines {
		lines[i] = strings.ReplaceAll(l, "\t", "    ")
	}
	t.viewport.SetContent(strings.Join(lines, "\n"))
	if t.autoScroll {
		t.viewport.GotoBottom()
	}
}

// ---------------------------------------------------------------------------
// TranscriptModel
// ---------------------------------------------------------------------------

// TranscriptModel is the combined agent-output / event-log panel. It tracks
// one tab per active agent plus a permanent "system" tab for loop, workflow,
// rate-limit, and error events, all rendered through the same tabbed
// viewport machinery.
//
// TranscriptModel follows Bubble Tea's Elm architecture: Update returns a
// new value, and View is a pure function of the model state.
type TranscriptModel struct {
	theme     Theme
	width     int
	height    int
	focused   bool
	tabs      map[string]*transcriptTab
	tabOrder  []string // "system" first, then agents in first-seen order
	activeTab int
}

// NewTranscriptModel creates a TranscriptModel with a permanent "system" tab
// already registered as the first and initially active tab.
func NewTranscriptModel(theme Theme) TranscriptModel {
	tm := TranscriptModel{
		theme: theme,
		tabs:  make(map[string]*transcriptTab),
	}
	tm.tabs[systemTab] = newTranscriptTab(systemTab)
	tm.tabOrder = []string{systemTab}
	return tm
}

// SetDimensions updates the panel width and height and resizes every tab's
// viewport, rebuilding the content of the currently active tab.
func (tm *TranscriptModel) SetDimensions(width, height int) {
	tm.width = width
	tm.height = height

	vpHeight := tm.viewportHeight()
	for _, t := range tm.tabs {
		t.viewport.Width = width
		t.viewport.Height = vpHeight
		if t.autoScroll {
			t.viewport.GotoBottom()
		}
	}

	if active := tm.activeTabView(); active != nil {
		active.rebuildContent()
	}
}

// SetFocused sets whether the transcript panel currently holds keyboard focus.
func (tm *TranscriptModel) SetFocused(focused bool) {
	tm.focused = focused
}

// ActiveTab returns the name of the currently displayed tab.
func (tm TranscriptModel) ActiveTab() string {
	if len(tm.tabOrder) == 0 {
		return ""
	}
	if tm.activeTab < 0 || tm.activeTab >= len(tm.tabOrder) {
		return tm.tabOrder[0]
	}
	return tm.tabOrder[tm.activeTab]
}

func (tm TranscriptModel) activeTabView() *transcriptTab {
	name := tm.ActiveTab()
	if name == "" {
		return nil
	}
	return tm.tabs[name]
}

// viewportHeight returns the rows available for the viewport: header row
// always reserved, tab bar row reserved once there is more than one tab.
func (tm TranscriptModel) viewportHeight() int {
	overhead := 1
	if len(tm.tabOrder) >= 2 {
		overhead++
	}
	h := tm.height - overhead
	if h < 0 {
		h = 0
	}
	return h
}

func (tm *TranscriptModel) getOrCreateAgentTab(name string) *transcriptTab {
	if t, ok := tm.tabs[name]; ok {
		return t
	}
	t := newTranscriptTab(name)
	t.viewport.Width = tm.width
	t.viewport.Height = tm.viewportHeight()
	tm.tabs[name] = t
	tm.tabOrder = append(tm.tabOrder, name)
	return t
}

func (tm *TranscriptModel) logSystem(text string) {
	sys := tm.tabs[systemTab]
	ts := time.Now().Format("15:04:05")
	sys.buffer.Append(ts + "  " + text)
	if tm.ActiveTab() == systemTab {
		sys.rebuildContent()
	}
}

// ---------------------------------------------------------------------------
// Update
// ---------------------------------------------------------------------------

// Update processes incoming tea.Msg values and returns the updated model and
// any follow-up command.
//
// Handled messages:
//   - AgentOutputMsg   — appends a raw output line to the agent's own tab
//   - AgentStatusMsg   — updates agent status/task, logs a system line
//   - WorkflowEventMsg — logs a classified system line
//   - LoopEventMsg     — logs a classified system line
//   - RateLimitMsg     — logs a system warning line
//   - ErrorMsg         — logs a system error line
//   - FocusChangedMsg  — updates the focused flag
//   - tea.KeyMsg       — tab switching and scrolling when focused
func (tm TranscriptModel) Update(msg tea.Msg) (TranscriptModel, tea.Cmd) {
	switch m := msg.(type) {
	case AgentOutputMsg:
		av := tm.getOrCreateAgentTab(m.Agent)
		av.buffer.Append(m.Line)
		if tm.ActiveTab() == m.Agent {
			av.rebuildContent()
		}

	case AgentStatusMsg:
		av := tm.getOrCreateAgentTab(m.Agent)
		av.status = m.Status
		av.task = m.Task
		tm.logSystem(classifyAgentStatus(m))

	case WorkflowEventMsg:
		tm.logSystem(classifyWorkflowEvent(m))

	case LoopEventMsg:
		tm.logSystem(classifyLoopEvent(m))

	case RateLimitMsg:
		provider := m.Provider
		if provider == "" {
			provider = m.Agent
		}
		tm.logSystem(fmt.Sprintf("rate limit: %s, waiting %s", provider, formatCountdown(m.ResetAfter)))

	case ErrorMsg:
		text := m.Detail
		if text == "" {
			text = m.Source
		}
		tm.logSystem("error: " + text)

	case FocusChangedMsg:
		tm.focused = m.Panel == FocusTranscript

	case tea.KeyMsg:
		if tm.focused {
			return tm.handleKey(m)
		}
	}

	return tm, nil
}

// handleKey processes keyboard input when the panel is focused.
func (tm TranscriptModel) handleKey(msg tea.KeyMsg) (TranscriptModel, tea.Cmd) {
	if tm.activeTab >= len(tm.tabOrder) {
		tm.activeTab = 0
	}
	n := len(tm.tabOrder)

	switch msg.Type {
	case tea.KeyTab:
		if n >= 2 {
			tm.activeTab = (tm.activeTab + 1) % n
			tm.switchToActiveTab()
		}
		return tm, nil

	case tea.KeyShiftTab:
		if n >= 2 {
			tm.activeTab = (tm.activeTab - 1 + n) % n
			tm.switchToActiveTab()
		}
		return tm, nil

	case tea.KeyDown, tea.KeyPgDown, tea.KeySpace:
		tm.scroll(func(v *viewport.Model) {
			if msg.Type == tea.KeyPgDown || msg.Type == tea.KeySpace {
				v.PageDown()
			} else {
				v.ScrollDown(1)
			}
		})
		return tm, nil

	case tea.KeyUp, tea.KeyPgUp:
		tm.scroll(func(v *viewport.Model) {
			if msg.Type == tea.KeyPgUp {
				v.PageUp()
			} else {
				v.ScrollUp(1)
			}
		})
		return tm, nil

	case tea.KeyHome:
		tm.scroll(func(v *viewport.Model) { v.GotoTop() })
		return tm, nil

	case tea.KeyEnd:
		tm.scroll(func(v *viewport.Model) { v.GotoBottom() })
		return tm, nil

	case tea.KeyRunes:
		switch string(msg.Runes) {
		case "j":
			tm.scroll(func(v *viewport.Model) { v.ScrollDown(1) })
		case "k":
			tm.scroll(func(v *viewport.Model) { v.ScrollUp(1) })
		case "g":
			tm.scroll(func(v *viewport.Model) { v.GotoTop() })
		case "G":
			tm.scroll(func(v *viewport.Model) { v.GotoBottom() })
		case "b":
			tm.scroll(func(v *viewport.Model) { v.PageUp() })
		}
		return tm, nil

	default:
		return tm, nil
	}
}

// scroll applies fn to the active tab's viewport and updates autoScroll based
// on whether the viewport ended at the bottom.
func (tm TranscriptModel) scroll(fn func(v *viewport.Model)) {
	av := tm.activeTabView()
	if av == nil {
		return
	}
	fn(&av.viewport)
	av.autoScroll = av.viewport.AtBottom()
}

// switchToActiveTab rebuilds the active tab's viewport after ap.activeTab changes.
func (tm *TranscriptModel) switchToActiveTab() {
	vpHeight := tm.viewportHeight()
	if active := tm.activeTabView(); active != nil {
		active.viewport.Width = tm.width
		active.viewport.Height = vpHeight
		active.rebuildContent()
	}
}

// ---------------------------------------------------------------------------
// View
// ---------------------------------------------------------------------------

// View renders the transcript panel: an optional tab bar (2+ tabs), a header
// line for the active tab, and the scrollable viewport output.
func (tm TranscriptModel) View() string {
	if tm.width <= 0 || tm.height <= 0 {
		return ""
	}
	if tm.activeTab >= len(tm.tabOrder) {
		tm.activeTab = 0
	}

	var sb strings.Builder

	if len(tm.tabOrder) >= 2 {
		for i, name := range tm.tabOrder {
			if i == tm.activeTab {
				sb.WriteString(tm.theme.AgentTabActive.Render(name))
			} else {
				sb.WriteString(tm.theme.AgentTab.Render(name))
			}
		}
		sb.WriteString("\n")
	}

	sb.WriteString(tm.headerView())
	sb.WriteString("\n")

	if av := tm.activeTabView(); av != nil {
		sb.WriteString(av.viewport.View())
	}

	return tm.theme.AgentContainer.Render(sb.String())
}

// headerView renders the single-line header for the active tab.
func (tm TranscriptModel) headerView() string {
	av := tm.activeTabView()
	if av == nil {
		return tm.theme.AgentHeader.Render("No activity")
	}
	if av.name == systemTab {
		return tm.theme.AgentHeader.Render("Events")
	}

	indicator := tm.theme.StatusIndicator(av.status)
	label := av.name
	if av.task != "" {
		label = av.name + "  " + av.task
	}
	return indicator + " " + tm.theme.AgentHeader.Render(label)
}

// ---------------------------------------------------------------------------
// Classify helpers — map backend messages to a single system-feed line.
// ---------------------------------------------------------------------------

func classifyWorkflowEvent(msg WorkflowEventMsg) string {
	name := msg.WorkflowName
	if name == "" {
		name = msg.WorkflowID
	}
	switch {
	case msg.PrevStep != "" && msg.Step != "":
		return fmt.Sprintf("workflow %s: %s -> %s", name, msg.PrevStep, msg.Step)
	case msg.Step != "":
		return fmt.Sprintf("workflow %s: %s", name, msg.Step)
	default:
		return fmt.Sprintf("workflow %s: %s", name, msg.Event)
	}
}

func classifyLoopEvent(msg LoopEventMsg) string {
	switch msg.Type {
	case LoopIterationStarted:
		return fmt.Sprintf("iteration %d started", msg.Iteration)
	case LoopIterationCompleted:
		return fmt.Sprintf("iteration %d completed", msg.Iteration)
	case LoopTaskSelected:
		return fmt.Sprintf("task %s selected for iteration %d", msg.TaskID, msg.Iteration)
	case LoopTaskCompleted:
		return fmt.Sprintf("task %s completed", msg.TaskID)
	case LoopTaskBlocked:
		return fmt.Sprintf("task %s blocked", msg.TaskID)
	case LoopWaitingForRateLimit:
		return "waiting for rate limit..."
	case LoopResumedAfterWait:
		return "resumed after rate-limit wait"
	case LoopPhaseComplete:
		return "loop completed"
	case LoopError:
		if msg.Detail != "" {
			return "loop error: " + msg.Detail
		}
		return "loop error"
	default:
		return fmt.Sprintf("loop event %d", int(msg.Type))
	}
}

func classifyAgentStatus(msg AgentStatusMsg) string {
	switch msg.Status {
	case AgentRunning:
		if msg.Task != "" {
			return fmt.Sprintf("agent %s started %s", msg.Agent, msg.Task)
		}
		return fmt.Sprintf("agent %s started", msg.Agent)
	case AgentCompleted:
		if msg.Task != "" {
			return fmt.Sprintf("agent %s completed %s", msg.Agent, msg.Task)
		}
		return fmt.Sprintf("agent %s completed", msg.Agent)
	case AgentFailed:
		if msg.Detail != "" {
			return fmt.Sprintf("agent %s failed: %s", msg.Agent, msg.Detail)
		}
		return fmt.Sprintf("agent %s failed", msg.Agent)
	case AgentRateLimited:
		return fmt.Sprintf("agent %s rate limited", msg.Agent)
	case AgentWaiting:
		return fmt.Sprintf("agent %s waiting", msg.Agent)
	default:
		return fmt.Sprintf("agent %s idle", msg.Agent)
	}
}

// formatCountdown formats a duration as "M:SS" (under one hour) or "H:MM:SS".
// Negative durations return "0:00".
func formatCountdown(d time.Duration) string {
	if d <= 0 {
		return "0:00"
	}
	totalSec := int(d.Seconds())
	h := totalSec / 3600
	m := (totalSec % 3600) / 60
	s := totalSec % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}
