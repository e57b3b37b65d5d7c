// Package agentrt adapts the teacher's per-vendor agent.Agent interface
// into the orchestrator's single abstract runtime contract: a prompt goes
// in, a lazy event stream comes out, and the adapter tracks activity and
// completion markers independent of which underlying agent CLI is wired
// up.
package agentrt

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"time"
)

// ModelTier is the requested capability/cost tier for a single call.
type ModelTier string

const (
	TierHaiku  ModelTier = "haiku"
	TierSonnet ModelTier = "sonnet"
	TierOpus   ModelTier = "opus"
)

// ToolHostEndpoint describes how the agent subprocess reaches back into the
// in-process tool host, if at all.
type ToolHostEndpoint struct {
	Addr string
}

// CallOpts is the input contract for a single runtime invocation.
type CallOpts struct {
	Prompt       string
	WorkDir      string
	AllowedTools []string
	MaxTurns     int
	Model        ModelTier
	ToolHost     *ToolHostEndpoint

	// IdleTimeout aborts the call if no event arrives for this long. Zero
	// disables the check.
	IdleTimeout time.Duration

	// CompletionMarkers are substrings that, once seen anywhere in the
	// accumulated assistant text, mark the call as logically complete --
	// the underlying process may still be winding down.
	CompletionMarkers []string
}

// EventKind discriminates the elements of the runtime's output stream.
type EventKind string

const (
	EventTextDelta     EventKind = "text_delta"
	EventThinkingDelta EventKind = "thinking_delta"
	EventToolCallStart EventKind = "tool_call_start"
	EventToolProgress  EventKind = "tool_call_progress"
	EventToolResult    EventKind = "tool_call_result"
	EventFinal         EventKind = "final"
)

// Event is one element of the lazy stream a Call returns.
type Event struct {
	Kind EventKind

	// Text deltas / thinking deltas.
	Text string

	// Tool call fields.
	ToolName      string
	ToolCallID    string
	ElapsedSec    float64
	ToolResultRaw json.RawMessage

	// Final result fields.
	CostUSD       float64
	Success       bool
	MarkerMatched string
}

// Underlying is the minimal shape agentrt needs from a concrete agent
// adapter (internal/agent.Agent satisfies this via a thin wrapper, see
// FromAgent).
type Underlying interface {
	// Start launches the call and returns a reader of newline-delimited
	// JSON events plus a function to await the process's final cost and
	// success once the reader is exhausted.
	Start(ctx context.Context, opts CallOpts) (events io.Reader, wait func() (costUSD float64, success bool, err error), err error)
}

// Runtime wraps an Underlying implementation with idle-timeout enforcement,
// partial-line buffering, last-activity tracking, and completion-marker
// detection, producing the abstract Event stream.
type Runtime struct {
	impl Underlying

	mu           sync.Mutex
	lastActivity time.Time
}

// New wraps impl in a Runtime.
func New(impl Underlying) *Runtime {
	return &Runtime{impl: impl}
}

// LastActivity returns the timestamp of the most recently observed event,
// zero if the runtime has not produced any event yet.
func (r *Runtime) LastActivity() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastActivity
}

func (r *Runtime) touch() {
	r.mu.Lock()
	r.lastActivity = time.Now()
	r.mu.Unlock()
}

// Call executes opts against the underlying adapter and returns a channel
// of Events. The channel is closed when the stream ends, the idle timeout
// trips, or ctx is cancelled. A final Event (EventFinal) is always the last
// value sent on success; an idle timeout sends no final event and the
// channel's closing is the caller's only signal to stop waiting.
func (r *Runtime) Call(ctx context.Context, opts CallOpts) (<-chan Event, error) {
	reader, wait, err := r.impl.Start(ctx, opts)
	if err != nil {
		return nil, err
	}

	out := make(chan Event, 16)
	go r.pump(ctx, reader, wait, opts, out)
	return out, nil
}

func (r *Runtime) pump(ctx context.Context, reader io.Reader, wait func() (float64, bool, error), opts CallOpts, out chan<- Event) {
	defer close(out)

	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var textAccum strings.Builder
	lineCh := make(chan string)
	scanDone := make(chan struct{})
	go func() {
		defer close(scanDone)
		for scanner.Scan() {
			select {
			case lineCh <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	idle := opts.IdleTimeout
	var idleTimer *time.Timer
	var idleCh <-chan time.Time
	if idle > 0 {
		idleTimer = time.NewTimer(idle)
		defer idleTimer.Stop()
		idleCh = idleTimer.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-idleCh:
			return
		case line, ok := <-lineCh:
			if !ok {
				continue
			}
			r.touch()
			if idleTimer != nil {
				if !idleTimer.Stop() {
					select {
					case <-idleTimer.C:
					default:
					}
				}
				idleTimer.Reset(idle)
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			ev, ok := translateLine(line)
			if !ok {
				continue
			}
			if ev.Kind == EventTextDelta {
				textAccum.WriteString(ev.Text)
				for _, marker := range opts.CompletionMarkers {
					if strings.Contains(textAccum.String(), marker) {
						ev.MarkerMatched = marker
					}
				}
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		case <-scanDone:
			cost, success, err := wait()
			if err != nil {
				select {
				case out <- Event{Kind: EventFinal, Success: false, CostUSD: cost}:
				case <-ctx.Done():
				}
				return
			}
			select {
			case out <- Event{Kind: EventFinal, Success: success, CostUSD: cost}:
			case <-ctx.Done():
			}
			return
		}
	}
}

// translateLine decodes one JSONL line into an Event. Lines that are not
// recognized events are dropped (ok=false) rather than erroring the whole
// stream, matching the teacher's "skip malformed lines" decoder behavior.
func translateLine(line string) (Event, bool) {
	var raw struct {
		Type    string `json:"type"`
		Text    string `json:"text"`
		Name    string `json:"name"`
		ID      string `json:"id"`
		Elapsed float64 `json:"elapsed_seconds"`
	}
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return Event{}, false
	}
	switch raw.Type {
	case "text_delta":
		return Event{Kind: EventTextDelta, Text: raw.Text}, true
	case "thinking_delta":
		return Event{Kind: EventThinkingDelta, Text: raw.Text}, true
	case "tool_call_start":
		return Event{Kind: EventToolCallStart, ToolName: raw.Name, ToolCallID: raw.ID}, true
	case "tool_call_progress":
		return Event{Kind: EventToolProgress, ToolName: raw.Name, ToolCallID: raw.ID, ElapsedSec: raw.Elapsed}, true
	case "tool_call_result":
		return Event{Kind: EventToolResult, ToolCallID: raw.ID, ToolResultRaw: json.RawMessage(line)}, true
	default:
		return Event{}, false
	}
}
