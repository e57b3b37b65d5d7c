package tui

import (
	"time"

	"github.com/AbdelazizMoustafa10m/sq/internal/loop"
	"github.com/AbdelazizMoustafa10m/sq/internal/store"
)

// LoopStateEvent converts a scheduler loop-status change into the generic
// loop.LoopEvent wire format the TUI's sidebar and event log already render.
// The loop package's event type is reused as the schema here even though
// the event originates from internal/scheduler rather than the old
// implementation-loop runner: both describe "something happened to loop N",
// and the sidebar only cares about TaskID/Message/Timestamp.
func LoopStateEvent(loopID string, status store.LoopStatus, detail string) loop.LoopEvent {
	return loop.LoopEvent{
		Type:      mapLoopStatus(status),
		TaskID:    loopID,
		Message:   detail,
		Timestamp: time.Now(),
	}
}

func mapLoopStatus(status store.LoopStatus) loop.LoopEventType {
	switch status {
	case store.LoopPending:
		return loop.EventLoopStarted
	case store.LoopRunning:
		return loop.EventAgentStarted
	case store.LoopStuck:
		return loop.EventLoopError
	case store.LoopCompleted:
		return loop.EventTaskCompleted
	case store.LoopFailed:
		return loop.EventLoopAborted
	case store.LoopInterrupted:
		return loop.EventLoopAborted
	default:
		return loop.EventAgentCompleted
	}
}
