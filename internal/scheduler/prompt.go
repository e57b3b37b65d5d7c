package scheduler

import (
	"fmt"
	"strings"

	"github.com/AbdelazizMoustafa10m/sq/internal/store"
	"github.com/AbdelazizMoustafa10m/sq/internal/task"
)

// buildPromptPrefix is the static prefix every build-iteration prompt
// begins with, byte-identical across every call. Keeping it first (and
// every variable part -- feedback, scratchpad, iteration counters -- after
// it) lets an upstream LLM provider cache the shared prefix across
// iterations and loops.
const buildPromptPrefix = `You are an autonomous coding agent assigned to complete one task inside an isolated git worktree.

Work directly in the current directory. Make focused, correct changes. When you believe the task is complete, run any available verification (build, tests, lint) before declaring done.

Signal your outcome by including exactly one of these markers in your final message: ITERATION_DONE (more work remains but this turn is finished), TASK_COMPLETE (the task is fully done and verified), or TASK_STUCK (you cannot make further progress without help).
`

// buildPromptWithFeedback assembles the full iteration prompt: the static
// prefix, then scratchpad carry-over, then review feedback filtered to t's
// id, then the task's own metadata, then the iteration counter. issues not
// belonging to t.ID are omitted entirely -- review feedback for other
// tasks must never leak into this task's prompt.
func buildPromptWithFeedback(t *task.Task, issues []store.ReviewIssue, scratchpad string, iteration, total int) string {
	var b strings.Builder
	b.WriteString(buildPromptPrefix)

	if strings.TrimSpace(scratchpad) != "" {
		b.WriteString("\n## Previous iteration notes\n")
		b.WriteString(scratchpad)
		b.WriteString("\n")
	}

	var own []store.ReviewIssue
	for _, issue := range issues {
		if issue.TaskID == t.ID {
			own = append(own, issue)
		}
	}
	if len(own) > 0 {
		b.WriteString("\n## Review feedback to address\n")
		for _, issue := range own {
			if issue.FilePath != "" {
				b.WriteString(fmt.Sprintf("- %s:%d: %s\n", issue.FilePath, issue.LineNumber, issue.Description))
			} else {
				b.WriteString(fmt.Sprintf("- %s\n", issue.Description))
			}
		}
	}

	b.WriteString(fmt.Sprintf("\n## Task %s: %s\n", t.ID, t.Title))
	if t.Description != "" {
		b.WriteString(t.Description)
		b.WriteString("\n")
	}

	b.WriteString(fmt.Sprintf("\nIteration %d/%d.\n", iteration, total))
	return b.String()
}
