package notifier

import (
	"fmt"
	"time"

	"bgsync/internal/eventbus"
	"bgsync/internal/handoff"
)

// render maps a run event to alert text. "" means no alert.
func render(cfg Config, e eventbus.Event) string {
	ev, ok := e.Data.(handoff.RunEvent)
	if !ok {
		return ""
	}
	switch e.Type {
	case handoff.EventFinished:
		if ev.Error != "" || ev.Outcome == handoff.OutcomeFailed.String() {
			msg := fmt.Sprintf("❌ Background sync failed (session %d)", ev.SessionID)
			if ev.Error != "" {
				msg += ": " + ev.Error
			}
			return msg
		}
		if cfg.OnSuccess {
			return fmt.Sprintf("✅ Background sync finished (session %d) in %s", ev.SessionID, ev.Duration.Round(time.Millisecond))
		}
	case handoff.EventSkipped:
		if cfg.OnSkip {
			return "⏭ Background sync skipped: " + ev.Outcome
		}
	}
	return ""
}
