package app

import (
	"testing"
	"time"

	"bgsync/internal/config"
	"bgsync/internal/eventbus"
	"bgsync/internal/handoff"
	"bgsync/internal/host"
	"bgsync/internal/task/scheduler"
)

func TestRunTimeout(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		cfg  config.Config
		want time.Duration
	}{
		{
			name: "explicit",
			cfg:  config.Config{Scheduler: config.SchedulerConfig{Timeout: "7m"}},
			want: 7 * time.Minute,
		},
		{
			name: "defaults",
			want: handoff.DefaultBootstrapTimeout + handoff.DefaultCompletionTimeout + handoff.DefaultPromoteGrace + runSlack,
		},
		{
			name: "handoff",
			cfg: config.Config{Handoff: config.HandoffConfig{
				BootstrapTimeout:  "1m",
				CompletionTimeout: "10m",
				PromoteGrace:      "5s",
			}},
			want: 11*time.Minute + 5*time.Second + runSlack,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := runTimeout(&tt.cfg); got != tt.want {
				t.Fatalf("runTimeout = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMapForegroundProbe(t *testing.T) {
	t.Parallel()
	if _, ok := mapForegroundProbe(&config.Config{}, nil).(host.NeverForeground); !ok {
		t.Fatal("empty host config should never report foreground")
	}
	cfg := &config.Config{Host: config.HostConfig{ForegroundPidfile: "/run/app.pid", ForegroundUnit: "app.service"}}
	got, ok := mapForegroundProbe(cfg, nil).(host.AnyForeground)
	if !ok || len(got) != 1 {
		t.Fatalf("probe = %#v", got)
	}
}

func TestMapLogConfig(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{}
	cfg.Logging.Telegram.Enabled = true
	cfg.Telegram.GroupLog = "-100123"
	if mapLogConfig(cfg).Telegram.Enabled {
		t.Fatal("telegram sink enabled without a token")
	}
	cfg.Telegram.Token = "t"
	lc := mapLogConfig(cfg)
	if !lc.Telegram.Enabled || lc.Telegram.ChatID != -100123 {
		t.Fatalf("telegram sink = %+v", lc.Telegram)
	}
}

func TestStatusLine(t *testing.T) {
	t.Parallel()
	tests := []struct {
		ev   eventbus.Event
		want string
	}{
		{eventbus.Event{Type: handoff.EventStarted, Data: handoff.RunEvent{SessionID: 4}}, "syncing (session 4)"},
		{eventbus.Event{Type: handoff.EventFinished, Data: handoff.RunEvent{Outcome: "succeeded"}}, "idle, last run succeeded"},
		{eventbus.Event{Type: handoff.EventFinished, Data: handoff.RunEvent{Outcome: "failed", Error: "boom"}}, "idle, last run failed: boom"},
		{eventbus.Event{Type: scheduler.EventTriggerSkipped, Data: scheduler.SkipEvent{Unmet: []string{"charging"}}}, "idle, waiting for charging"},
		{eventbus.Event{Type: "other"}, ""},
	}
	for _, tt := range tests {
		if got := statusLine(tt.ev); got != tt.want {
			t.Fatalf("statusLine(%s) = %q, want %q", tt.ev.Type, got, tt.want)
		}
	}
}

func TestMapAlertsConfig(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{}
	cfg.Alerts.Enabled = true
	cfg.Telegram.OwnerUserIDs = []int64{7, 8}
	if mapAlertsConfig(cfg).Enabled {
		t.Fatal("alerts enabled without a token")
	}
	cfg.Telegram.Token = "t"
	ac := mapAlertsConfig(cfg)
	if !ac.Enabled || len(ac.Targets) != 2 || ac.Targets[1].ChatID != 8 {
		t.Fatalf("owner targets = %+v", ac)
	}
	if ac.DedupWindow != 30*time.Minute {
		t.Fatalf("dedup default = %v", ac.DedupWindow)
	}
	cfg.Alerts.ChatIDs = []int64{-100}
	if ac := mapAlertsConfig(cfg); len(ac.Targets) != 1 || ac.Targets[0].ChatID != -100 {
		t.Fatalf("explicit targets = %+v", ac.Targets)
	}
}
