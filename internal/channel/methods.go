package channel

import (
	"context"
	"fmt"
	"math"
	"time"

	"bgsync/internal/constraints"
	"bgsync/internal/task/scheduler"
	logx "bgsync/pkg/logx"
)

const defaultIntervalMinutes = 15

// maxIntervalMinutes is the largest interval that fits a time.Duration.
const maxIntervalMinutes = math.MaxInt64 / int64(time.Minute)

func (c *Channel) callStart(ctx context.Context, args Args) (any, error) {
	minutes, err := args.Int("intervalMinutes", defaultIntervalMinutes)
	if err != nil {
		return nil, err
	}
	return c.Start(ctx, minutes)
}

// Start registers the periodic sync every minutes, replacing any existing
// registration, and persists it so a restarted daemon picks it up again.
// Intervals below scheduler.MinInterval are stored as requested but fire at
// the minimum; the reply says so.
func (c *Channel) Start(ctx context.Context, minutes int) (string, error) {
	if minutes <= 0 {
		return "", invalidArg("intervalMinutes must be positive, got %d", minutes)
	}
	if int64(minutes) > maxIntervalMinutes {
		return "", invalidArg("intervalMinutes must be at most %d, got %d", maxIntervalMinutes, minutes)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	every := time.Duration(minutes) * time.Minute
	if err := c.d.Prefs.SetInterval(ctx, every); err != nil {
		return "", syncError("Failed to schedule background sync", err)
	}
	if err := c.registerLocked(ctx, every); err != nil {
		return "", syncError("Failed to schedule background sync", err)
	}
	if err := c.d.Prefs.SetScheduled(ctx, true); err != nil {
		return "", syncError("Failed to schedule background sync", err)
	}
	c.log.Info("background sync scheduled", logx.String("work", c.d.WorkName), logx.Int("minutes", minutes))
	msg := fmt.Sprintf("Background sync scheduled every %d minutes.", minutes)
	if every < scheduler.MinInterval {
		msg += fmt.Sprintf(" Runs fire at most every %d minutes.", int(scheduler.MinInterval/time.Minute))
	}
	return msg, nil
}

// Stop cancels the periodic sync. Stopping when nothing is scheduled
// succeeds.
func (c *Channel) Stop(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.d.Scheduler == nil {
		return "", syncError("Failed to stop background sync", errNoScheduler)
	}
	removed := c.d.Scheduler.Remove(c.d.WorkName)
	if err := c.d.Prefs.SetScheduled(ctx, false); err != nil {
		return "", syncError("Failed to stop background sync", err)
	}
	c.log.Info("background sync stopped", logx.String("work", c.d.WorkName), logx.Bool("was_scheduled", removed))
	return "Background sync stopped successfully.", nil
}

// Status reports whether the periodic sync is registered.
func (c *Channel) Status(context.Context) (bool, error) {
	if c.d.Scheduler == nil {
		return false, syncError("Failed to get background sync status", errNoScheduler)
	}
	return c.d.Scheduler.Scheduled(c.d.WorkName), nil
}

// Interval returns the persisted interval in minutes.
func (c *Channel) Interval(ctx context.Context) (int, error) {
	d, err := c.d.Prefs.Interval(ctx)
	if err != nil {
		return 0, syncError("Failed to get background sync interval", err)
	}
	return int(d / time.Minute), nil
}

// Logs returns the event log export as a JSON document.
func (c *Channel) Logs() (string, error) {
	if c.d.Log == nil {
		return "", syncError("Failed to export logs", errNoLog)
	}
	b, err := c.d.Log.ExportJSON()
	if err != nil {
		return "", syncError("Failed to export logs", err)
	}
	return string(b), nil
}

func (c *Channel) ClearLogs() error {
	if c.d.Log == nil {
		return syncError("Failed to clear logs", errNoLog)
	}
	c.d.Log.Clear()
	return nil
}

func (c *Channel) NetworkType(ctx context.Context) (string, error) {
	nt, err := c.d.Prefs.NetworkType(ctx)
	if err != nil {
		return "", syncError("Failed to read constraints", err)
	}
	return string(nt), nil
}

func (c *Channel) callSetNetworkType(ctx context.Context, args Args) (any, error) {
	raw, err := args.String("value")
	if err != nil {
		return nil, err
	}
	return nil, c.SetNetworkType(ctx, raw)
}

func (c *Channel) SetNetworkType(ctx context.Context, raw string) error {
	nt, err := constraints.ParseNetworkType(raw)
	if err != nil {
		return invalidArg("%v", err)
	}
	return c.updateConstraint(ctx, func() error { return c.d.Prefs.SetNetworkType(ctx, nt) })
}

// Bool returns one of the boolean constraints by key.
func (c *Channel) Bool(ctx context.Context, key string) (bool, error) {
	var (
		v   bool
		err error
	)
	switch key {
	case constraints.KeyBatteryNotLow:
		v, err = c.d.Prefs.BatteryNotLow(ctx)
	case constraints.KeyRequiresCharging:
		v, err = c.d.Prefs.RequiresCharging(ctx)
	case constraints.KeyDeviceIdle:
		v, err = c.d.Prefs.DeviceIdle(ctx)
	default:
		return false, invalidArg("unknown constraint %q", key)
	}
	if err != nil {
		return false, syncError("Failed to read constraints", err)
	}
	return v, nil
}

// SetBool stores one of the boolean constraints by key.
func (c *Channel) SetBool(ctx context.Context, key string, v bool) error {
	var set func(context.Context, bool) error
	switch key {
	case constraints.KeyBatteryNotLow:
		set = c.d.Prefs.SetBatteryNotLow
	case constraints.KeyRequiresCharging:
		set = c.d.Prefs.SetRequiresCharging
	case constraints.KeyDeviceIdle:
		set = c.d.Prefs.SetDeviceIdle
	default:
		return invalidArg("unknown constraint %q", key)
	}
	return c.updateConstraint(ctx, func() error { return set(ctx, v) })
}

func (c *Channel) boolGetter(key string) Handler {
	return func(ctx context.Context, _ Args) (any, error) { return c.Bool(ctx, key) }
}

func (c *Channel) boolSetter(key string) Handler {
	return func(ctx context.Context, args Args) (any, error) {
		v, err := args.Bool("value")
		if err != nil {
			return nil, err
		}
		return nil, c.SetBool(ctx, key, v)
	}
}

// updateConstraint persists a constraint and re-registers the periodic work
// when it is scheduled, so the new value applies from the next trigger.
func (c *Channel) updateConstraint(ctx context.Context, persist func() error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := persist(); err != nil {
		return syncError("Failed to update constraints", err)
	}
	if c.d.Scheduler == nil || !c.d.Scheduler.Scheduled(c.d.WorkName) {
		return nil
	}
	every, err := c.d.Prefs.Interval(ctx)
	if err != nil {
		return syncError("Failed to update constraints", err)
	}
	if err := c.registerLocked(ctx, every); err != nil {
		return syncError("Failed to schedule background sync", err)
	}
	return nil
}

// Restore re-registers the periodic sync when a previous start was never
// stopped. It reports whether anything was registered.
func (c *Channel) Restore(ctx context.Context) (bool, error) {
	scheduled, err := c.d.Prefs.Scheduled(ctx)
	if err != nil || !scheduled {
		return false, err
	}
	every, err := c.d.Prefs.Interval(ctx)
	if err != nil {
		return false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.registerLocked(ctx, every); err != nil {
		return false, err
	}
	c.log.Info("background sync restored", logx.String("work", c.d.WorkName), logx.Duration("every", every))
	return true, nil
}

func (c *Channel) registerLocked(ctx context.Context, every time.Duration) error {
	if c.d.Scheduler == nil {
		return errNoScheduler
	}
	if c.d.Job == nil {
		return errNoJob
	}
	cons, err := c.d.Prefs.Load(ctx)
	if err != nil {
		return err
	}
	var timeout time.Duration
	if c.d.Timeout != nil {
		timeout = c.d.Timeout()
	}
	return c.d.Scheduler.AddPeriodic(scheduler.Request{
		Name:        c.d.WorkName,
		Every:       every,
		Constraints: cons,
		Timeout:     timeout,
	}, c.d.Job)
}
