// Package systemd integrates the daemon with its service manager: readiness
// and status notifications, watchdog pings, and unit state queries.
package systemd

import (
	"context"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// Notifier sends sd_notify messages. When the process is not started by
// systemd (no NOTIFY_SOCKET) every call is a cheap no-op.
type Notifier struct {
	mu      sync.Mutex
	enabled bool
	probed  bool
}

func NewNotifier() *Notifier { return &Notifier{} }

func (n *Notifier) send(state string) bool {
	ok, err := daemon.SdNotify(false, state)
	n.mu.Lock()
	if !n.probed {
		n.probed = true
		n.enabled = ok && err == nil
	}
	n.mu.Unlock()
	return ok && err == nil
}

// Enabled reports whether a notification socket answered the first message.
func (n *Notifier) Enabled() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.enabled
}

func (n *Notifier) Ready() bool    { return n.send(daemon.SdNotifyReady) }
func (n *Notifier) Stopping() bool { return n.send(daemon.SdNotifyStopping) }
func (n *Notifier) Reloading() bool {
	return n.send(daemon.SdNotifyReloading)
}

// Status sets the free-form status line shown by systemctl status.
func (n *Notifier) Status(s string) bool {
	s = strings.ReplaceAll(s, "\n", " ")
	return n.send("STATUS=" + s)
}

// Watchdog pings the watchdog at half the configured interval until ctx is
// done. It returns immediately when the unit has no watchdog.
func (n *Notifier) Watchdog(ctx context.Context) error {
	every, err := daemon.SdWatchdogEnabled(false)
	if err != nil || every <= 0 {
		return err
	}
	t := time.NewTicker(every / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			n.send(daemon.SdNotifyWatchdog)
		}
	}
}

// IsActiveCLI asks systemctl whether unit is active. It is the fallback used
// when the D-Bus connection is unavailable.
func IsActiveCLI(ctx context.Context, unit string) (bool, error) {
	out, err := exec.CommandContext(ctx, "systemctl", "is-active", unit).CombinedOutput()
	if err != nil {
		// is-active exits non-zero when the unit is inactive.
		if _, ok := err.(*exec.ExitError); ok {
			return strings.TrimSpace(string(out)) == "active", nil
		}
		return false, err
	}
	return strings.TrimSpace(string(out)) == "active", nil
}

func unitName(unit string) string {
	unit = strings.TrimSpace(unit)
	if unit == "" || strings.Contains(unit, ".") {
		return unit
	}
	return unit + ".service"
}
