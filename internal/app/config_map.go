package app

import (
	"os"
	"strconv"
	"strings"
	"time"

	"bgsync/internal/config"
	"bgsync/internal/delegate"
	"bgsync/internal/handoff"
	"bgsync/internal/host"
	"bgsync/internal/notifier"
	"bgsync/internal/storage"
	"bgsync/internal/task/engine"
	"bgsync/internal/task/scheduler"
	kit "bgsync/internal/transport"
	logx "bgsync/pkg/logx"
	"bgsync/pkg/systemd"
)

// runSlack is added on top of the handoff timeouts when no explicit run
// timeout is configured.
const runSlack = time.Minute

func mapStorageConfig(cfg *config.Config) storage.Config {
	return storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)),
		Path:        strings.TrimSpace(cfg.Storage.Path),
		BusyTimeout: cfg.Storage.Busy(),
		Sync:        cfg.Storage.Sync,
	}
}

func mapLogConfig(cfg *config.Config) logx.Config {
	var chatID int64
	if g := strings.TrimSpace(cfg.Telegram.GroupLog); g != "" {
		chatID, _ = strconv.ParseInt(g, 10, 64)
	}
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled && strings.TrimSpace(cfg.Telegram.Token) != "",
			ChatID:     chatID,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func mapHandoffConfig(cfg *config.Config) handoff.Config {
	return handoff.Config{
		BootstrapTimeout:  cfg.Handoff.Bootstrap(),
		CompletionTimeout: cfg.Handoff.Completion(),
		PromoteGrace:      cfg.Handoff.Grace(),
		SessionName:       cfg.Handoff.SessionName,
	}
}

// runTimeout is the worker budget of one scheduled run. Unless configured it
// covers promotion and both handoff phases.
func runTimeout(cfg *config.Config) time.Duration {
	if d := cfg.Scheduler.RunTimeout(); d > 0 {
		return d
	}
	h := mapHandoffConfig(cfg)
	b, c, g := h.BootstrapTimeout, h.CompletionTimeout, h.PromoteGrace
	if b <= 0 {
		b = handoff.DefaultBootstrapTimeout
	}
	if c <= 0 {
		c = handoff.DefaultCompletionTimeout
	}
	if g <= 0 {
		g = handoff.DefaultPromoteGrace
	}
	return b + c + g + runSlack
}

func mapEngineConfig(cfg *config.Config) engine.Config {
	return engine.Config{
		Enabled:        true,
		Workers:        cfg.Engine.Workers,
		QueueSize:      cfg.Engine.QueueSize,
		DefaultTimeout: runTimeout(cfg),
		MaxQueueDelay:  cfg.Engine.QueueDelay(),
		HistorySize:    cfg.Engine.HistorySize,
	}
}

func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{
		Enabled:  cfg.Scheduler.SchedulerEnabled(),
		Timezone: cfg.Scheduler.Timezone,
	}
}

func mapDelegateConfig(cfg *config.Config) delegate.Config {
	return delegate.Config{
		Command:    cfg.Delegate.Command,
		Args:       cfg.Delegate.Args,
		Entrypoint: cfg.Delegate.Entrypoint,
		Dir:        cfg.Delegate.Dir,
		Env:        cfg.Delegate.Env,
		KillGrace:  cfg.Delegate.Grace(),
	}
}

func mapConditionProbe(cfg *config.Config) host.SysfsProbe {
	return host.SysfsProbe{
		Root:              cfg.Host.PowerSupplyRoot,
		LowBattery:        cfg.Host.LowBattery,
		MeteredInterfaces: cfg.Host.MeteredInterfaces,
	}
}

// mapForegroundProbe combines the configured probes. units may be nil when
// no unit is configured.
func mapForegroundProbe(cfg *config.Config, units *systemd.Units) handoff.ForegroundProbe {
	var probes host.AnyForeground
	if p := strings.TrimSpace(cfg.Host.ForegroundPidfile); p != "" {
		probes = append(probes, host.PidfileProbe{Path: p})
	}
	if u := strings.TrimSpace(cfg.Host.ForegroundUnit); u != "" && units != nil {
		probes = append(probes, host.UnitProbe{Units: units, Unit: u})
	}
	if len(probes) == 0 {
		return host.NeverForeground{}
	}
	return probes
}

func mapPromoter(cfg *config.Config, notify *systemd.Notifier, log logx.Logger) handoff.Promoter {
	chain := host.Chain{host.StatusPromoter{Notifier: notify, Idle: "idle"}}
	if cfg.Host.Nice != 0 {
		chain = append(chain, &host.NicePromoter{Nice: cfg.Host.Nice, Log: log})
	}
	return chain
}

func mapAlertsConfig(cfg *config.Config) notifier.Config {
	ids := cfg.Alerts.ChatIDs
	if len(ids) == 0 {
		ids = cfg.Telegram.OwnerUserIDs
	}
	targets := make([]kit.ChatTarget, 0, len(ids))
	for _, id := range ids {
		targets = append(targets, kit.ChatTarget{ChatID: id})
	}
	return notifier.Config{
		Enabled:     cfg.Alerts.Enabled && strings.TrimSpace(cfg.Telegram.Token) != "",
		Targets:     targets,
		OnSuccess:   cfg.Alerts.OnSuccess,
		OnSkip:      cfg.Alerts.OnSkip,
		RatePerSec:  cfg.Alerts.RatePerSec,
		RetryMax:    cfg.Alerts.RetryMax,
		DedupWindow: cfg.Alerts.Dedup(),
	}
}

// userBus reports whether unit lookups go to the user service manager.
func userBus() bool { return os.Geteuid() != 0 }
