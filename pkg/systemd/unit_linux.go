//go:build linux

package systemd

import (
	"context"
	"fmt"
	"sync"

	"github.com/coreos/go-systemd/v22/dbus"
)

// Units queries unit state over the systemd D-Bus API. The connection is
// opened lazily and reopened after errors.
type Units struct {
	user bool

	mu   sync.Mutex
	conn *dbus.Conn
}

// NewUnits targets the system manager, or the per-user manager when user is true.
func NewUnits(user bool) *Units { return &Units{user: user} }

func (u *Units) connect(ctx context.Context) (*dbus.Conn, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.conn != nil && u.conn.Connected() {
		return u.conn, nil
	}
	var (
		conn *dbus.Conn
		err  error
	)
	if u.user {
		conn, err = dbus.NewUserConnectionContext(ctx)
	} else {
		conn, err = dbus.NewSystemConnectionContext(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to systemd: %w", err)
	}
	u.conn = conn
	return conn, nil
}

// ActiveState returns the unit's ActiveState ("active", "inactive", ...).
func (u *Units) ActiveState(ctx context.Context, unit string) (string, error) {
	conn, err := u.connect(ctx)
	if err != nil {
		return "", err
	}
	props, err := conn.GetUnitPropertiesContext(ctx, unitName(unit))
	if err != nil {
		u.reset()
		return "", fmt.Errorf("failed to get status for %s: %w", unit, err)
	}
	if ls, _ := props["LoadState"].(string); ls == "not-found" {
		return "unknown", nil
	}
	st, _ := props["ActiveState"].(string)
	return st, nil
}

// IsActive reports whether the unit is active, falling back to systemctl when
// D-Bus is unreachable.
func (u *Units) IsActive(ctx context.Context, unit string) (bool, error) {
	st, err := u.ActiveState(ctx, unit)
	if err != nil {
		return IsActiveCLI(ctx, unitName(unit))
	}
	return st == "active" || st == "reloading", nil
}

func (u *Units) reset() {
	u.mu.Lock()
	if u.conn != nil {
		u.conn.Close()
		u.conn = nil
	}
	u.mu.Unlock()
}

func (u *Units) Close() { u.reset() }
