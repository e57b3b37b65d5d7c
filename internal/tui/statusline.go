package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// ---------------------------------------------------------------------------
// taskStatus
// ---------------------------------------------------------------------------

// taskStatus is the lifecycle state of a task's worker loop, for display in
// the task panel. It is derived from LoopEventMsg rather than a generic
// workflow event, since a loop is the unit that actually runs per task.
type taskStatus int

const (
	taskPending taskStatus = iota
	taskRunning
	taskBlocked
	taskCompleted
	taskFailed
)

func taskStatusFromLoopEvent(t LoopEventType) taskStatus {
	switch t {
	case LoopTaskSelected, LoopIterationStarted, LoopIterationCompleted:
		return taskRunning
	case LoopTaskBlocked:
		return taskBlocked
	case LoopTaskCompleted:
		return taskCompleted
	case LoopError:
		return taskFailed
	default:
		return taskRunning
	}
}

func (s taskStatus) indicator(theme Theme) string {
	switch s {
	case taskRunning:
		return theme.StatusRunning.Render("●")
	case taskBlocked:
		return theme.StatusWaiting.Render("◌")
	case taskCompleted:
		return theme.StatusCompleted.Render("✓")
	case taskFailed:
		return theme.StatusFailed.Render("✗")
	default:
		return theme.StatusBlocked.Render("○")
	}
}

// taskEntry holds the display data for a single task row in the task panel.
type taskEntry struct {
	id        string
	status    taskStatus
	iteration int
	maxIter   int
	startedAt time.Time
}

// ---------------------------------------------------------------------------
// RateLimitSection
// ---------------------------------------------------------------------------

// ProviderRateLimit tracks the rate-limit state for a single provider.
type ProviderRateLimit struct {
	Provider  string
	Agent     string
	ResetAt   time.Time
	Remaining time.Duration
	Active    bool
}

// RateLimitSection renders the rate-limit countdown display. It is a value
// type consistent with Bubble Tea's Elm architecture.
type RateLimitSection struct {
	theme     Theme
	providers map[string]*ProviderRateLimit
	order     []string
}

// NewRateLimitSection creates an empty RateLimitSection.
func NewRateLimitSection(theme Theme) RateLimitSection {
	return RateLimitSection{theme: theme, providers: make(map[string]*ProviderRateLimit)}
}

// Update handles RateLimitMsg and TickMsg, returning the updated section and
// a follow-up command that keeps the countdown ticking while any provider is
// still active.
func (rl RateLimitSection) Update(msg tea.Msg) (RateLimitSection, tea.Cmd) {
	switch m := msg.(type) {
	case RateLimitMsg:
		rl = rl.apply(m)
		return rl, TickCmd(time.Second)
	case TickMsg:
		rl = rl.tick()
		if rl.HasActiveLimit() {
			return rl, TickCmd(time.Second)
		}
		return rl, nil
	}
	return rl, nil
}

func (rl RateLimitSection) apply(msg RateLimitMsg) RateLimitSection {
	key := msg.Provider
	if key == "" {
		key = msg.Agent
	}

	resetAt := msg.ResetAt
	if resetAt.IsZero() {
		ts := msg.Timestamp
		if ts.IsZero() {
			ts = time.Now()
		}
		resetAt = ts.Add(msg.ResetAfter)
	}
	remaining := time.Until(resetAt)
	if remaining < 0 {
		remaining = 0
	}

	newProviders := make(map[string]*ProviderRateLimit, len(rl.providers))
	for k, v := range rl.providers {
		cp := *v
		newProviders[k] = &cp
	}
	newOrder := rl.order
	if _, exists := newProviders[key]; !exists {
		newOrder = append(append([]string{}, rl.order...), key)
	}
	newProviders[key] = &ProviderRateLimit{Provider: msg.Provider, Agent: msg.Agent, ResetAt: resetAt, Remaining: remaining, Active: true}

	rl.providers = newProviders
	rl.order = newOrder
	return rl
}

func (rl RateLimitSection) tick() RateLimitSection {
	if len(rl.providers) == 0 {
		return rl
	}
	newProviders := make(map[string]*ProviderRateLimit, len(rl.providers))
	for k, v := range rl.providers {
		cp := *v
		if cp.Active {
			cp.Remaining = time.Until(cp.ResetAt)
			if cp.Remaining <= 0 {
				cp.Remaining = 0
				cp.Active = false
			}
		}
		newProviders[k] = &cp
	}
	rl.providers = newProviders
	return rl
}

// HasActiveLimit reports whether any provider currently has an active countdown.
func (rl RateLimitSection) HasActiveLimit() bool {
	for _, p := range rl.providers {
		if p.Active {
			return true
		}
	}
	return false
}

// View renders one "name: OK" / "name: WAIT m:ss" line per known provider.
func (rl RateLimitSection) View(width int) string {
	var sb strings.Builder
	sb.WriteString(rl.theme.SidebarTitle.Render("Rate Limits"))
	sb.WriteString("\n")

	if len(rl.order) == 0 {
		sb.WriteString(rl.theme.SidebarItem.Render("no active limits"))
		sb.WriteString("\n")
		return sb.String()
	}

	for _, key := range rl.order {
		p, ok := rl.providers[key]
		if !ok {
			continue
		}
		name := p.Provider
		if name == "" {
			name = p.Agent
		}
		if name == "" {
			name = key
		}

		var suffix string
		if p.Active {
			suffix = ": " + rl.theme.StatusWaiting.Render("WAIT "+formatCountdown(p.Remaining))
		} else {
			suffix = ": " + rl.theme.StatusCompleted.Render("OK")
		}
		nameAllowed := width - lipgloss.Width(suffix)
		if nameAllowed < 1 {
			nameAllowed = 1
		}
		sb.WriteString(rl.theme.SidebarItem.Render(truncateName(name, nameAllowed) + suffix))
		sb.WriteString("\n")
	}
	return sb.String()
}

// truncateName truncates name to maxWidth visible columns, appending an
// ellipsis when shortened.
func truncateName(name string, maxWidth int) string {
	if maxWidth <= 0 {
		return ""
	}
	if lipgloss.Width(name) <= maxWidth {
		return name
	}
	target := maxWidth - 1
	var sb strings.Builder
	col := 0
	for _, r := range name {
		rw := lipgloss.Width(string(r))
		if col+rw > target {
			break
		}
		sb.WriteRune(r)
		col += rw
	}
	sb.WriteString("…")
	return sb.String()
}

// ---------------------------------------------------------------------------
// StatusPanelModel
// ---------------------------------------------------------------------------

// StatusPanelModel is the left-hand panel of the Sq TUI: the list of active
// task loops, the overall task/phase progress bars, and per-provider rate
// limit countdowns.
type StatusPanelModel struct {
	theme  Theme
	width  int
	height int

	focused bool

	tasks      []taskEntry
	taskIndex  map[string]int
	selected   int
	scrollFrom int

	totalTasks, completedTasks int
	currentPhase, totalPhases  int
	phaseTasks, phaseCompleted int

	rateLimits RateLimitSection
}

// NewStatusPanelModel creates an empty StatusPanelModel.
func NewStatusPanelModel(theme Theme) StatusPanelModel {
	return StatusPanelModel{
		theme:      theme,
		taskIndex:  make(map[string]int),
		rateLimits: NewRateLimitSection(theme),
	}
}

// SetTotals initialises the overall task and phase counts.
func (m *StatusPanelModel) SetTotals(totalTasks, totalPhases int) {
	m.totalTasks = max0(totalTasks)
	m.totalPhases = max0(totalPhases)
}

// SetPhase updates the current phase number and its task counts.
func (m *StatusPanelModel) SetPhase(phase, phaseTasks, phaseCompleted int) {
	m.currentPhase = max0(phase)
	m.phaseTasks = max0(phaseTasks)
	m.phaseCompleted = max0(phaseCompleted)
}

func max0(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

// SetDimensions updates the panel's width and height.
func (m *StatusPanelModel) SetDimensions(width, height int) {
	m.width = width
	m.height = height
}

// SetFocused sets whether the panel currently holds keyboard focus.
func (m *StatusPanelModel) SetFocused(focused bool) {
	m.focused = focused
}

// Update processes incoming tea.Msg values and returns the updated model and
// any follow-up command.
func (m StatusPanelModel) Update(msg tea.Msg) (StatusPanelModel, tea.Cmd) {
	switch msg := msg.(type) {
	case LoopEventMsg:
		m = m.applyLoopEvent(msg)

	case TaskProgressMsg:
		completed, total := msg.Completed, msg.Total
		if completed < 0 {
			completed = 0
		}
		if total < 0 {
			total = 0
		}
		if completed > total {
			completed = total
		}
		m.completedTasks = completed
		m.totalTasks = total

	case RateLimitMsg:
		var cmd tea.Cmd
		m.rateLimits, cmd = m.rateLimits.Update(msg)
		return m, cmd

	case TickMsg:
		var cmd tea.Cmd
		m.rateLimits, cmd = m.rateLimits.Update(msg)
		return m, cmd

	case FocusChangedMsg:
		m.focused = msg.Panel == FocusStatus

	case tea.KeyMsg:
		if m.focused {
			m = m.handleKey(msg)
		}
	}

	return m, nil
}

func (m StatusPanelModel) applyLoopEvent(msg LoopEventMsg) StatusPanelModel {
	if msg.TaskID != "" {
		status := taskStatusFromLoopEvent(msg.Type)
		if idx, ok := m.taskIndex[msg.TaskID]; ok {
			updated := make([]taskEntry, len(m.tasks))
			copy(updated, m.tasks)
			updated[idx].status = status
			if msg.Iteration > 0 {
				updated[idx].iteration = msg.Iteration
			}
			if msg.MaxIter > 0 {
				updated[idx].maxIter = msg.MaxIter
			}
			m.tasks = updated
		} else {
			newIndex := make(map[string]int, len(m.taskIndex)+1)
			for k, v := range m.taskIndex {
				newIndex[k] = v
			}
			newIndex[msg.TaskID] = len(m.tasks)
			m.taskIndex = newIndex
			m.tasks = append(m.tasks, taskEntry{
				id:        msg.TaskID,
				status:    status,
				iteration: msg.Iteration,
				maxIter:   msg.MaxIter,
				startedAt: msg.Timestamp,
			})
		}
	}

	switch msg.Type {
	case LoopPhaseComplete:
		m.currentPhase++
		m.phaseCompleted = 0
	case LoopTaskCompleted:
		m.phaseCompleted++
		if m.completedTasks < m.totalTasks {
			m.completedTasks++
		}
	}

	return m
}

func (m StatusPanelModel) handleKey(msg tea.KeyMsg) StatusPanelModel {
	n := len(m.tasks)
	if n == 0 {
		return m
	}

	switch msg.Type {
	case tea.KeyDown:
		m.selected = clampIdx(m.selected+1, n)
	case tea.KeyUp:
		m.selected = clampIdx(m.selected-1, n)
	case tea.KeyRunes:
		switch string(msg.Runes) {
		case "j":
			m.selected = clampIdx(m.selected+1, n)
		case "k":
			m.selected = clampIdx(m.selected-1, n)
		}
	}

	m.scrollFrom = adjustScroll(m.scrollFrom, m.selected, m.listHeight())
	return m
}

func clampIdx(idx, n int) int {
	if idx < 0 {
		return 0
	}
	if idx >= n {
		return n - 1
	}
	return idx
}

func adjustScroll(offset, selected, visible int) int {
	if visible <= 0 {
		return 0
	}
	if selected < offset {
		return selected
	}
	if selected >= offset+visible {
		return selected - visible + 1
	}
	return offset
}

func (m StatusPanelModel) listHeight() int {
	const headerRows = 2
	h := m.height/2 - headerRows
	if h < 1 {
		return 1
	}
	return h
}

// View renders the full status panel: task list, progress bars, rate limits.
func (m StatusPanelModel) View() string {
	if m.width == 0 && m.height == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(m.taskListView())
	sb.WriteString("\n")
	sb.WriteString(m.progressView())
	sb.WriteString("\n")
	sb.WriteString(m.rateLimits.View(m.width))

	content := strings.TrimRight(sb.String(), "\n")
	rendered := strings.Count(content, "\n") + 1
	if remaining := m.height - rendered; remaining > 0 {
		content += strings.Repeat("\n", remaining)
	}

	innerWidth := m.width - 1
	if innerWidth < 0 {
		innerWidth = 0
	}
	return m.theme.SidebarContainer.Width(innerWidth).Render(content)
}

func (m StatusPanelModel) taskListView() string {
	var sb strings.Builder
	sb.WriteString(m.theme.SidebarTitle.Render("TASKS"))
	sb.WriteString("\n")

	if len(m.tasks) == 0 {
		sb.WriteString(m.theme.SidebarItem.Render("no active tasks"))
		sb.WriteString("\n")
		return sb.String()
	}

	visible := m.listHeight()
	start := m.scrollFrom
	end := start + visible
	if end > len(m.tasks) {
		end = len(m.tasks)
	}

	nameWidth := m.width - 2
	if nameWidth < 1 {
		nameWidth = 1
	}

	for i := start; i < end; i++ {
		t := m.tasks[i]
		label := t.id
		if t.maxIter > 0 {
			label = fmt.Sprintf("%s (%d/%d)", t.id, t.iteration, t.maxIter)
		}
		line := t.status.indicator(m.theme) + " " + truncateName(label, nameWidth)

		switch {
		case i == m.selected && m.focused:
			sb.WriteString(m.theme.SidebarActive.Render(line))
		case i == m.selected:
			sb.WriteString(m.theme.SidebarInactive.Render(line))
		default:
			sb.WriteString(m.theme.SidebarItem.Render(line))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func (m StatusPanelModel) progressView() string {
	var sb strings.Builder
	sb.WriteString(m.theme.SidebarTitle.Render("Progress"))
	sb.WriteString("\n")

	barWidth := m.width - 2
	if barWidth < 1 {
		barWidth = 1
	}

	if m.totalTasks == 0 {
		sb.WriteString(m.theme.SidebarItem.Render("no tasks"))
		sb.WriteString("\n")
	} else {
		completed := m.completedTasks
		if completed > m.totalTasks {
			completed = m.totalTasks
		}
		fraction := float64(completed) / float64(m.totalTasks)
		sb.WriteString(m.theme.ProgressBar(fraction, barWidth))
		sb.WriteString("\n")
		sb.WriteString(m.theme.ProgressLabel.Render(fmt.Sprintf("%d/%d tasks, phase %d/%d", completed, m.totalTasks, m.currentPhase, m.totalPhases)))
		sb.WriteString("\n")
	}
	return sb.String()
}

// ---------------------------------------------------------------------------
// StatusLineModel
// ---------------------------------------------------------------------------

// StatusLineModel is the single-line bar at the bottom of the Sq TUI. It
// tracks phase, task, iteration, elapsed run time, cost, and paused state.
type StatusLineModel struct {
	theme Theme
	width int

	phase        string
	task         string
	iteration    int
	maxIteration int
	startTime    time.Time
	elapsed      time.Duration
	paused       bool
	mode         string
	costUSD      float64
}

// NewStatusLineModel creates a StatusLineModel defaulting to mode "idle".
func NewStatusLineModel(theme Theme) StatusLineModel {
	return StatusLineModel{theme: theme, mode: "idle"}
}

// SetWidth updates the bar's rendered width.
func (sl *StatusLineModel) SetWidth(width int) {
	sl.width = width
}

// SetCost records the running cost total, shown in the status line's cost
// segment.
func (sl *StatusLineModel) SetCost(usd float64) {
	sl.costUSD = usd
}

// Update processes LoopEventMsg, WorkflowEventMsg, and TickMsg.
func (sl StatusLineModel) Update(msg tea.Msg) StatusLineModel {
	switch m := msg.(type) {
	case LoopEventMsg:
		sl = sl.applyLoopEvent(m)
	case WorkflowEventMsg:
		sl = sl.applyWorkflowEvent(m)
	case TickMsg:
		if !sl.paused && !sl.startTime.IsZero() {
			elapsed := m.Time.Sub(sl.startTime)
			if elapsed < 0 {
				elapsed = 0
			}
			sl.elapsed = elapsed
		}
	}
	return sl
}

func (sl StatusLineModel) applyLoopEvent(msg LoopEventMsg) StatusLineModel {
	switch msg.Type {
	case LoopIterationStarted:
		if sl.startTime.IsZero() {
			if !msg.Timestamp.IsZero() {
				sl.startTime = msg.Timestamp
			} else {
				sl.startTime = time.Now()
			}
		}
		sl.mode = "running"
		fallthrough
	case LoopIterationCompleted, LoopTaskSelected:
		if msg.Iteration > 0 {
			sl.iteration = msg.Iteration
		}
		if msg.MaxIter > 0 {
			sl.maxIteration = msg.MaxIter
		}
		if msg.TaskID != "" {
			sl.task = msg.TaskID
		}
	case LoopTaskCompleted, LoopTaskBlocked:
		if msg.TaskID != "" {
			sl.task = msg.TaskID
		}
	case LoopWaitingForRateLimit:
		sl.paused = true
	case LoopResumedAfterWait:
		sl.paused = false
	case LoopPhaseComplete:
		sl.mode = "idle"
	}
	return sl
}

func (sl StatusLineModel) applyWorkflowEvent(msg WorkflowEventMsg) StatusLineModel {
	if msg.Step != "" {
		sl.phase = msg.Step
	}
	switch strings.ToLower(msg.Event) {
	case "idle", "stopped", "not_started":
		sl.mode = "idle"
	case "completed", "done", "success":
		sl.mode = "done"
	case "failed", "error":
		sl.mode = "error"
	case "paused", "waiting", "rate_limited":
		sl.paused = true
	default:
		if sl.mode == "idle" {
			sl.mode = "running"
		}
	}
	return sl
}

// View renders the status line, dropping optional segments first when the
// terminal is too narrow to show everything.
func (sl StatusLineModel) View() string {
	if sl.width <= 0 {
		return ""
	}

	sep := sl.theme.StatusSeparator.Render(" | ")
	helpStr := sl.theme.HelpKey.Render("?") + " " + sl.theme.HelpDesc.Render("help")

	type segment struct {
		text     string
		optional bool
	}
	segments := []segment{
		{text: sl.modeSegment(), optional: false},
		{text: sep + sl.phaseSegment(), optional: true},
		{text: sep + sl.taskSegment(), optional: false},
		{text: sep + sl.iterSegment(), optional: true},
		{text: sep + sl.costSegment(), optional: true},
		{text: sep + sl.timerSegment(), optional: true},
	}

	const barPadding = 2
	innerWidth := sl.width - barPadding
	if innerWidth < 0 {
		innerWidth = 0
	}
	helpSepStr := sep + helpStr
	helpSegWidth := lipgloss.Width(helpSepStr)

	mandatoryWidth := 0
	for _, seg := range segments {
		if !seg.optional {
			mandatoryWidth += lipgloss.Width(seg.text)
		}
	}
	optionalBudget := innerWidth - mandatoryWidth - helpSegWidth
	if optionalBudget < 0 {
		optionalBudget = 0
	}

	var leftParts []string
	optionalUsed := 0
	for _, seg := range segments {
		w := lipgloss.Width(seg.text)
		if !seg.optional {
			leftParts = append(leftParts, seg.text)
		} else if optionalUsed+w <= optionalBudget {
			leftParts = append(leftParts, seg.text)
			optionalUsed += w
		}
	}

	leftContent := strings.Join(leftParts, "")
	gap := innerWidth - lipgloss.Width(leftContent) - helpSegWidth
	if gap < 0 {
		gap = 0
	}

	barContent := leftContent + strings.Repeat(" ", gap) + helpSepStr

	return sl.theme.StatusBar.Width(sl.width).MaxHeight(1).Render(barContent)
}

func (sl StatusLineModel) modeSegment() string {
	if sl.paused {
		return lipgloss.NewStyle().Bold(true).Background(ColorWarning).Foreground(lipgloss.Color("#000000")).Padding(0, 1).Render("PAUSED")
	}
	label := sl.mode
	if label == "" {
		label = "idle"
	}
	return sl.theme.StatusKey.Render("[" + label + "]")
}

func (sl StatusLineModel) phaseSegment() string {
	phase := sl.phase
	if phase == "" {
		phase = "--"
	}
	return sl.theme.StatusKey.Render("Phase") + " " + sl.theme.StatusValue.Render(phase)
}

func (sl StatusLineModel) taskSegment() string {
	task := sl.task
	if task == "" {
		task = "--"
	}
	return sl.theme.StatusKey.Render("Task") + " " + sl.theme.StatusValue.Render(task)
}

func (sl StatusLineModel) iterSegment() string {
	return sl.theme.StatusKey.Render("Iter") + " " + sl.theme.StatusValue.Render(fmt.Sprintf("%d/%d", sl.iteration, sl.maxIteration))
}

func (sl StatusLineModel) costSegment() string {
	return sl.theme.StatusKey.Render("Cost") + " " + sl.theme.StatusValue.Render(fmt.Sprintf("$%.2f", sl.costUSD))
}

func (sl StatusLineModel) timerSegment() string {
	return sl.theme.StatusKey.Render("Time") + " " + sl.theme.StatusValue.Render(formatElapsed(sl.elapsed))
}

// formatElapsed converts a duration to "HH:MM:SS" format.
func formatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	hours := int(d.Hours())
	mins := int(d.Minutes()) % 60
	secs := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", hours, mins, secs)
}
