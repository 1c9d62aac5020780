package app

import (
	"fmt"
	"strings"

	"bgsync/internal/eventbus"
	"bgsync/internal/handoff"
	"bgsync/internal/task/engine"
	"bgsync/internal/task/scheduler"
)

// statusLine renders a bus event as a systemd STATUS= line. Events that
// should not change the status return "".
func statusLine(e eventbus.Event) string {
	switch e.Type {
	case handoff.EventStarted:
		if ev, ok := e.Data.(handoff.RunEvent); ok {
			return fmt.Sprintf("syncing (session %d)", ev.SessionID)
		}
		return "syncing"
	case handoff.EventFinished:
		ev, _ := e.Data.(handoff.RunEvent)
		if ev.Error != "" {
			return "idle, last run failed: " + ev.Error
		}
		return "idle, last run " + ev.Outcome
	case handoff.EventSkipped:
		ev, _ := e.Data.(handoff.RunEvent)
		return "idle, last run " + ev.Outcome
	case scheduler.EventTriggerSkipped:
		if ev, ok := e.Data.(scheduler.SkipEvent); ok {
			return "idle, waiting for " + strings.Join(ev.Unmet, ",")
		}
	case engine.EventDropped:
		if ev, ok := e.Data.(engine.TaskEvent); ok {
			return "idle, dropped " + ev.Name
		}
	}
	return ""
}
