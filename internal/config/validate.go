package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var drivers = map[string]bool{"": true, "none": true, "file": true, "sqlite": true, "pebble": true, "memory": true}

// Validate checks field syntax and ranges. It does not touch the host.
func Validate(c *Config) error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	dur := func(path, raw string) {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}

	dur("telegram.poll_timeout", c.Telegram.PollTimeout)
	if strings.TrimSpace(c.Telegram.Token) != "" && len(c.Telegram.OwnerUserIDs) == 0 {
		errs = append(errs, errors.New("telegram.owner_user_ids: required when a token is set"))
	}

	if d := strings.ToLower(strings.TrimSpace(c.Storage.Driver)); !drivers[d] {
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	} else if d != "" && d != "none" && d != "memory" && strings.TrimSpace(c.Storage.Path) == "" {
		errs = append(errs, fmt.Errorf("storage.path: required for driver %q", d))
	}
	dur("storage.busy_timeout", c.Storage.BusyTimeout)

	if c.EventLog.Capacity < 0 {
		errs = append(errs, errors.New("event_log.capacity: must be >= 0"))
	}
	if c.EventLog.MaxSessions < 0 {
		errs = append(errs, errors.New("event_log.max_sessions: must be >= 0"))
	}
	if tz := strings.TrimSpace(c.EventLog.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("event_log.timezone: %w", err))
		}
	}

	dur("scheduler.timeout", c.Scheduler.Timeout)
	dur("engine.max_queue_delay", c.Engine.MaxQueueDelay)
	if c.Engine.Workers < 0 || c.Engine.QueueSize < 0 || c.Engine.HistorySize < 0 {
		errs = append(errs, errors.New("engine: sizes must be >= 0"))
	}

	dur("handoff.bootstrap_timeout", c.Handoff.BootstrapTimeout)
	dur("handoff.completion_timeout", c.Handoff.CompletionTimeout)
	dur("handoff.promote_grace", c.Handoff.PromoteGrace)
	if c.Handoff.OwnerQueue < 0 {
		errs = append(errs, errors.New("handoff.owner_queue: must be >= 0"))
	}

	dur("delegate.kill_grace", c.Delegate.KillGrace)

	if c.Host.Nice < -20 || c.Host.Nice > 19 {
		errs = append(errs, fmt.Errorf("host.nice: %d out of range [-20, 19]", c.Host.Nice))
	}
	if c.Host.LowBattery < 0 || c.Host.LowBattery > 100 {
		errs = append(errs, fmt.Errorf("host.low_battery: %d out of range [0, 100]", c.Host.LowBattery))
	}

	dur("alerts.dedup_window", c.Alerts.DedupWindow)
	if c.Alerts.RatePerSec < 0 || c.Alerts.RetryMax < 0 {
		errs = append(errs, errors.New("alerts: rate_per_sec and retry_max must be >= 0"))
	}
	return errors.Join(errs...)
}

// SchedulerEnabled defaults to true.
func (s SchedulerConfig) SchedulerEnabled() bool { return s.Enabled == nil || *s.Enabled }

func (s SchedulerConfig) RunTimeout() time.Duration { return mustDuration(s.Timeout, 0) }

func (e EngineConfig) QueueDelay() time.Duration { return mustDuration(e.MaxQueueDelay, 0) }

func (h HandoffConfig) Bootstrap() time.Duration  { return mustDuration(h.BootstrapTimeout, 0) }
func (h HandoffConfig) Completion() time.Duration { return mustDuration(h.CompletionTimeout, 0) }
func (h HandoffConfig) Grace() time.Duration      { return mustDuration(h.PromoteGrace, 0) }

func (d DelegateConfig) Grace() time.Duration { return mustDuration(d.KillGrace, 0) }

func (s StorageConfig) Busy() time.Duration { return mustDuration(s.BusyTimeout, 0) }

func (t TelegramConfig) Poll() time.Duration { return mustDuration(t.PollTimeout, 10*time.Second) }

func (a AlertsConfig) Dedup() time.Duration { return mustDuration(a.DedupWindow, 30*time.Minute) }
