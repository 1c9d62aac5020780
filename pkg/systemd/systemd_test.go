package systemd

import (
	"context"
	"testing"
	"time"
)

func TestNotifierWithoutSocketIsNoop(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	t.Setenv("WATCHDOG_USEC", "")
	n := NewNotifier()
	if n.Ready() || n.Status("idle") || n.Stopping() {
		t.Fatal("notifications should not be delivered without a socket")
	}
	if n.Enabled() {
		t.Fatal("notifier should report disabled")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := n.Watchdog(ctx); err != nil {
		t.Fatalf("watchdog: %v", err)
	}
}

func TestUnitName(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]string{
		"app":           "app.service",
		" app ":         "app.service",
		"app.service":   "app.service",
		"session.scope": "session.scope",
		"":              "",
	} {
		if got := unitName(in); got != want {
			t.Fatalf("unitName(%q) = %q, want %q", in, got, want)
		}
	}
}
