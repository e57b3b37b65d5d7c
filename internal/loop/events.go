package loop

import "time"

// LoopEventType identifies the kind of a LoopEvent. The vocabulary predates
// the worktree-scheduler rewrite of the loop machinery itself, but the TUI's
// sidebar and event log still render against it: internal/cli wraps every
// scheduler loop-status change in a LoopEvent via tui.LoopStateEvent instead
// of teaching the renderer a second event shape.
type LoopEventType string

const (
	EventLoopStarted     LoopEventType = "loop_started"
	EventTaskSelected    LoopEventType = "task_selected"
	EventPromptGenerated LoopEventType = "prompt_generated"
	EventAgentStarted    LoopEventType = "agent_started"
	EventAgentCompleted  LoopEventType = "agent_completed"
	EventAgentError      LoopEventType = "agent_error"
	EventRateLimitWait   LoopEventType = "rate_limit_wait"
	EventRateLimitResume LoopEventType = "rate_limit_resume"
	EventTaskCompleted   LoopEventType = "task_completed"
	EventTaskBlocked     LoopEventType = "task_blocked"
	EventPhaseComplete   LoopEventType = "phase_complete"
	EventLoopError       LoopEventType = "loop_error"
	EventLoopAborted     LoopEventType = "loop_aborted"
	EventMaxIterations   LoopEventType = "max_iterations"
	EventSleeping        LoopEventType = "sleeping"
	EventDryRun          LoopEventType = "dry_run"

	EventToolStarted   LoopEventType = "tool_started"
	EventToolCompleted LoopEventType = "tool_completed"
	EventAgentThinking LoopEventType = "agent_thinking"
	EventSessionStats  LoopEventType = "session_stats"
)

// LoopEvent is a structured event describing something that happened to one
// worker loop, for consumption by the TUI.
type LoopEvent struct {
	Type      LoopEventType
	Iteration int
	TaskID    string
	AgentName string
	Message   string
	Timestamp time.Time
	Duration  time.Duration
	WaitTime  time.Duration

	ToolName  string
	CostUSD   float64
	TokensIn  int
	TokensOut int
}
