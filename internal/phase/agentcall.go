package phase

import (
	"context"
	"strings"
	"time"

	"github.com/AbdelazizMoustafa10m/sq/internal/agentrt"
	"github.com/AbdelazizMoustafa10m/sq/internal/toolhost"
)

// idleTimeout is the spec's "no activity for 5 minutes" stuck signal,
// reused here as the per-call idle abort for singleton phase agents.
const idleTimeout = 5 * time.Minute

// agentCallResult is what a singleton (non-build) phase call produced.
type agentCallResult struct {
	Text    string
	CostUSD float64
	Success bool
	Marker  string
}

// runSingletonAgent invokes the agent runtime once, with the given prompt
// and completion markers, and accumulates its text output -- the same
// shape every singleton phase (analyze, enumerate, plan, review, revise,
// conflict) needs.
func runSingletonAgent(ctx context.Context, d *Deps, phaseName, workDir, prompt string, markers []string) (*agentCallResult, error) {
	var toolHost *agentrt.ToolHostEndpoint
	if d.ToolHostAddr != "" {
		toolHost = &agentrt.ToolHostEndpoint{Addr: d.ToolHostAddr}
	}
	events, err := d.Runtime.Call(ctx, agentrt.CallOpts{
		Prompt:            prompt,
		WorkDir:           workDir,
		AllowedTools:      append([]string{"Read", "Edit", "Write", "Bash", "Glob", "Grep"}, toolhost.Names...),
		MaxTurns:          d.maxTurns(),
		Model:             d.Effort.ModelTier,
		IdleTimeout:       idleTimeout,
		CompletionMarkers: markers,
		ToolHost:          toolHost,
	})
	if err != nil {
		return nil, err
	}

	res := &agentCallResult{}
	var text strings.Builder
	for ev := range events {
		switch ev.Kind {
		case agentrt.EventTextDelta:
			text.WriteString(ev.Text)
			d.emit(phaseName, ev.Text)
			if ev.MarkerMatched != "" {
				res.Marker = ev.MarkerMatched
			}
		case agentrt.EventFinal:
			res.CostUSD = ev.CostUSD
			res.Success = ev.Success
		}
	}
	res.Text = text.String()

	if res.CostUSD > 0 {
		if err := d.Store.RecordCost(ctx, d.RunID, phaseName, "", res.CostUSD); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// containsMarker reports whether s contains marker as a substring,
// matching the spec's "presence is substring-sufficient" completion rule.
func containsMarker(s, marker string) bool {
	return strings.Contains(s, marker)
}
