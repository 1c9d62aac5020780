// Package constraints holds the persisted scheduling preferences (network,
// battery, charging, idle, interval) and checks them against host conditions.
package constraints

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"bgsync/internal/storage"
)

// NetworkType is the network requirement for a periodic run.
type NetworkType string

const (
	NetworkNotRequired NetworkType = "not_required"
	NetworkConnected   NetworkType = "connected"
	NetworkUnmetered   NetworkType = "unmetered"
	NetworkNotRoaming  NetworkType = "not_roaming"
	NetworkMetered     NetworkType = "metered"
)

const (
	DefaultNetworkType = NetworkConnected
	DefaultInterval    = 15 * time.Minute
)

var ErrInvalidNetworkType = errors.New("constraints: invalid network type")

// ParseNetworkType accepts the canonical names and their upper-case forms
// ("UNMETERED", "NOT_ROAMING", ...).
func ParseNetworkType(s string) (NetworkType, error) {
	v := NetworkType(strings.ToLower(strings.TrimSpace(s)))
	switch v {
	case NetworkNotRequired, NetworkConnected, NetworkUnmetered, NetworkNotRoaming, NetworkMetered:
		return v, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidNetworkType, s)
	}
}

// Constraints gate a periodic run.
type Constraints struct {
	NetworkType      NetworkType `json:"network_type"`
	BatteryNotLow    bool        `json:"battery_not_low"`
	RequiresCharging bool        `json:"requires_charging"`
	DeviceIdle       bool        `json:"device_idle"`
}

func Default() Constraints { return Constraints{NetworkType: DefaultNetworkType} }

// Conditions is what the host reports. Nil fields are unknown and never
// block a run.
type Conditions struct {
	Connected  *bool
	Metered    *bool
	Roaming    *bool
	BatteryLow *bool
	Charging   *bool
	Idle       *bool
}

// Check returns the names of unmet constraints; empty means the run may go.
func Check(c Constraints, h Conditions) []string {
	var unmet []string
	is := func(p *bool, want bool) bool { return p == nil || *p == want }

	switch c.NetworkType {
	case NetworkConnected:
		if !is(h.Connected, true) {
			unmet = append(unmet, "network")
		}
	case NetworkUnmetered:
		if !is(h.Connected, true) || !is(h.Metered, false) {
			unmet = append(unmet, "network_unmetered")
		}
	case NetworkMetered:
		if !is(h.Connected, true) || !is(h.Metered, true) {
			unmet = append(unmet, "network_metered")
		}
	case NetworkNotRoaming:
		if !is(h.Connected, true) || !is(h.Roaming, false) {
			unmet = append(unmet, "network_not_roaming")
		}
	}
	if c.BatteryNotLow && !is(h.BatteryLow, false) {
		unmet = append(unmet, "battery_not_low")
	}
	if c.RequiresCharging && !is(h.Charging, true) {
		unmet = append(unmet, "requires_charging")
	}
	if c.DeviceIdle && !is(h.Idle, true) {
		unmet = append(unmet, "device_idle")
	}
	return unmet
}

// Pref keys.
const (
	KeyNetworkType      = "network_type"
	KeyBatteryNotLow    = "battery_not_low"
	KeyRequiresCharging = "requires_charging"
	KeyDeviceIdle       = "device_idle"
	KeyInterval         = "interval_minutes"
	KeyScheduled        = "scheduled"
)

// Store persists constraints and the schedule state in storage prefs.
// A nil backing store keeps everything in memory.
type Store struct {
	st storage.Store
}

func NewStore(st storage.Store) *Store {
	if st == nil {
		st = storage.NewMemory()
	}
	return &Store{st: st}
}

func (s *Store) Load(ctx context.Context) (Constraints, error) {
	c := Default()
	if v, ok, err := s.st.GetPref(ctx, KeyNetworkType); err != nil {
		return c, err
	} else if ok {
		if nt, err := ParseNetworkType(v); err == nil {
			c.NetworkType = nt
		}
	}
	var err error
	if c.BatteryNotLow, err = s.getBool(ctx, KeyBatteryNotLow); err != nil {
		return c, err
	}
	if c.RequiresCharging, err = s.getBool(ctx, KeyRequiresCharging); err != nil {
		return c, err
	}
	if c.DeviceIdle, err = s.getBool(ctx, KeyDeviceIdle); err != nil {
		return c, err
	}
	return c, nil
}

func (s *Store) NetworkType(ctx context.Context) (NetworkType, error) {
	c, err := s.Load(ctx)
	return c.NetworkType, err
}

func (s *Store) SetNetworkType(ctx context.Context, nt NetworkType) error {
	if _, err := ParseNetworkType(string(nt)); err != nil {
		return err
	}
	return s.st.PutPref(ctx, KeyNetworkType, string(nt))
}

func (s *Store) BatteryNotLow(ctx context.Context) (bool, error) {
	return s.getBool(ctx, KeyBatteryNotLow)
}
func (s *Store) SetBatteryNotLow(ctx context.Context, v bool) error {
	return s.putBool(ctx, KeyBatteryNotLow, v)
}
func (s *Store) RequiresCharging(ctx context.Context) (bool, error) {
	return s.getBool(ctx, KeyRequiresCharging)
}
func (s *Store) SetRequiresCharging(ctx context.Context, v bool) error {
	return s.putBool(ctx, KeyRequiresCharging, v)
}
func (s *Store) DeviceIdle(ctx context.Context) (bool, error) {
	return s.getBool(ctx, KeyDeviceIdle)
}
func (s *Store) SetDeviceIdle(ctx context.Context, v bool) error {
	return s.putBool(ctx, KeyDeviceIdle, v)
}

// Interval returns the stored interval, or DefaultInterval.
func (s *Store) Interval(ctx context.Context) (time.Duration, error) {
	v, ok, err := s.st.GetPref(ctx, KeyInterval)
	if err != nil || !ok {
		return DefaultInterval, err
	}
	n, perr := strconv.Atoi(v)
	if perr != nil || n <= 0 {
		return DefaultInterval, nil
	}
	return time.Duration(n) * time.Minute, nil
}

func (s *Store) SetInterval(ctx context.Context, d time.Duration) error {
	m := int(d / time.Minute)
	if m <= 0 {
		return fmt.Errorf("constraints: interval must be at least one minute, got %s", d)
	}
	return s.st.PutPref(ctx, KeyInterval, strconv.Itoa(m))
}

// Scheduled reports whether periodic work was started and not stopped.
func (s *Store) Scheduled(ctx context.Context) (bool, error) {
	return s.getBool(ctx, KeyScheduled)
}

func (s *Store) SetScheduled(ctx context.Context, v bool) error {
	if !v {
		return s.st.DeletePref(ctx, KeyScheduled)
	}
	return s.putBool(ctx, KeyScheduled, true)
}

func (s *Store) getBool(ctx context.Context, key string) (bool, error) {
	v, ok, err := s.st.GetPref(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	b, perr := strconv.ParseBool(v)
	if perr != nil {
		return false, nil
	}
	return b, nil
}

func (s *Store) putBool(ctx context.Context, key string, v bool) error {
	return s.st.PutPref(ctx, key, strconv.FormatBool(v))
}
