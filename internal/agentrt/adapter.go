package agentrt

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/AbdelazizMoustafa10m/sq/internal/agent"
)

// agentAdapter wraps a concrete internal/agent.Agent so it satisfies
// Underlying, translating the teacher's Claude-Code-shaped StreamEvent into
// the line-oriented events translateLine understands.
type agentAdapter struct {
	delegate agent.Agent
}

// FromAgent builds an Underlying backed by a teacher-style agent adapter
// (Claude, Codex, Gemini, or a mock).
func FromAgent(a agent.Agent) Underlying {
	return &agentAdapter{delegate: a}
}

func (a *agentAdapter) Start(ctx context.Context, opts CallOpts) (io.Reader, func() (float64, bool, error), error) {
	pr, pw := io.Pipe()
	streamCh := make(chan agent.StreamEvent, 32)

	runOpts := agent.RunOpts{
		Prompt:       opts.Prompt,
		Model:        string(opts.Model),
		WorkDir:      opts.WorkDir,
		OutputFormat: agent.OutputFormatStreamJSON,
		StreamEvents: streamCh,
	}

	resultCh := make(chan struct {
		res *agent.RunResult
		err error
	}, 1)

	go func() {
		defer close(streamCh)
		res, err := a.delegate.Run(ctx, runOpts)
		resultCh <- struct {
			res *agent.RunResult
			err error
		}{res, err}
	}()

	var lastCostUSD float64
	go func() {
		defer pw.Close()
		for ev := range streamCh {
			if ev.Type == agent.StreamEventResult {
				lastCostUSD = ev.CostUSD
			}
			for _, line := range translateStreamEvent(ev) {
				_, _ = pw.Write(append(line, '\n'))
			}
		}
	}()

	wait := func() (float64, bool, error) {
		r := <-resultCh
		if r.err != nil {
			return lastCostUSD, false, r.err
		}
		return lastCostUSD, r.res.Success(), nil
	}
	return pr, wait, nil
}

// translateStreamEvent converts one teacher StreamEvent into zero or more
// agentrt JSONL lines.
func translateStreamEvent(ev agent.StreamEvent) [][]byte {
	var lines [][]byte
	if ev.Message != nil {
		for _, block := range ev.Message.Content {
			switch {
			case block.IsText():
				lines = append(lines, marshalOrNil(map[string]string{"type": "text_delta", "text": block.Text}))
			case block.IsToolUse():
				lines = append(lines, marshalOrNil(map[string]string{"type": "tool_call_start", "name": block.Name, "id": block.ID}))
			case block.IsToolResult():
				lines = append(lines, marshalOrNil(map[string]string{"type": "tool_call_result", "id": block.ToolUseID}))
			}
		}
	}
	return lines
}

func marshalOrNil(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte(fmt.Sprintf(`{"type":%q}`, "text_delta"))
	}
	return b
}
