package config

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"
)

const sampleJSON = `{
  "logging": {"level": "info", "console": true, "file": {"enabled": false, "path": ""}, "telegram": {"enabled": false, "thread_id": 0, "min_level": "", "rate_per_sec": 0}},
  "storage": {"driver": "sqlite", "path": "./bgsync.db", "busy_timeout": "3s"},
  "handoff": {"bootstrap_timeout": "20s", "completion_timeout": "5m"},
  "delegate": {"command": "/usr/bin/app", "args": ["--quiet"]}
}`

const sampleYAML = `
delegate:
  args: ["--quiet"]
  command: /usr/bin/app
handoff:
  completion_timeout: 5m
  bootstrap_timeout: 20s
storage:
  busy_timeout: 3s
  path: ./bgsync.db
  driver: sqlite
logging:
  level: info
  console: true
  file: {enabled: false, path: ""}
  telegram: {enabled: false, thread_id: 0, min_level: "", rate_per_sec: 0}
`

func TestDecodeJSONAndYAMLAgree(t *testing.T) {
	t.Parallel()
	j, err := Decode("cfg.json", []byte(sampleJSON))
	if err != nil {
		t.Fatalf("json: %v", err)
	}
	y, err := Decode("cfg.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatalf("yaml: %v", err)
	}
	if Hash(j) == "" || Hash(j) != Hash(y) {
		t.Fatalf("hash mismatch: %s vs %s", Hash(j), Hash(y))
	}
	if j.Handoff.Bootstrap() != 20*time.Second || j.Handoff.Completion() != 5*time.Minute || j.Handoff.Grace() != 0 {
		t.Fatalf("handoff durations: %+v", j.Handoff)
	}
	if !j.Scheduler.SchedulerEnabled() {
		t.Fatal("scheduler should default to enabled")
	}
	if j.Storage.Busy() != 3*time.Second || j.Telegram.Poll() != 10*time.Second {
		t.Fatal("duration helpers")
	}
}

func TestDecodeRejects(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name, file, body, want string
	}{
		{"unknown field", "c.json", `{"storage": {"driver": "file", "path": "x", "bogus": 1}}`, "bogus"},
		{"trailing data", "c.json", `{} {}`, "trailing"},
		{"bad duration", "c.json", `{"handoff": {"bootstrap_timeout": "soon"}}`, "handoff.bootstrap_timeout"},
		{"negative duration", "c.json", `{"delegate": {"command": "x", "kill_grace": "-1s"}}`, "delegate.kill_grace"},
		{"unknown driver", "c.json", `{"storage": {"driver": "mysql"}}`, "storage.driver"},
		{"missing path", "c.json", `{"storage": {"driver": "pebble"}}`, "storage.path"},
		{"owners required", "c.json", `{"telegram": {"token": "t"}}`, "owner_user_ids"},
		{"nice range", "c.yml", "host:\n  nice: -40\n", "host.nice"},
		{"bad timezone", "c.yml", "event_log:\n  timezone: Nowhere/Land\n", "event_log.timezone"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.file, []byte(tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestChangesAndRestartRequired(t *testing.T) {
	t.Parallel()
	a, _ := Decode("a.json", []byte(sampleJSON))
	b, _ := Decode("a.json", []byte(sampleJSON))
	if c := Changes(a, b); len(c) != 0 {
		t.Fatalf("identical configs differ: %v", c)
	}
	b.Logging.Level = "debug"
	b.Storage.Path = "./other.db"
	b.Handoff.PromoteGrace = "1s"
	got := Changes(a, b)
	if !slices.Equal(got, []string{"logging", "storage", "handoff"}) {
		t.Fatalf("changes = %v", got)
	}
	if r := RestartRequired(got); !slices.Equal(r, []string{"storage"}) {
		t.Fatalf("restart required = %v", r)
	}
}

func TestWatchPublishesChanges(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "bgsync.json")
	if err := os.WriteFile(path, []byte(sampleJSON), 0o600); err != nil {
		t.Fatal(err)
	}
	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatal(err)
	}
	updates := m.Subscribe(1)
	defer m.Unsubscribe(updates)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()
	time.Sleep(100 * time.Millisecond)

	// Whitespace-only edits hash the same and are not republished.
	spaced := strings.ReplaceAll(sampleJSON, "\n", "\n\n")
	if err := os.WriteFile(path, []byte(spaced), 0o600); err != nil {
		t.Fatal(err)
	}
	select {
	case cfg := <-updates:
		t.Fatalf("unchanged content republished: %+v", cfg)
	case <-time.After(600 * time.Millisecond):
	}

	changed := strings.Replace(sampleJSON, `"20s"`, `"40s"`, 1)
	if err := os.WriteFile(path, []byte(changed), 0o600); err != nil {
		t.Fatal(err)
	}
	select {
	case cfg := <-updates:
		if cfg.Handoff.Bootstrap() != 40*time.Second {
			t.Fatalf("reloaded bootstrap = %v", cfg.Handoff.Bootstrap())
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload published")
	}
	if m.Get().Handoff.Bootstrap() != 40*time.Second {
		t.Fatal("reload not committed")
	}
}

func TestWatchSkipsInvalidAndRejected(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "bgsync.json")
	if err := os.WriteFile(path, []byte(sampleJSON), 0o600); err != nil {
		t.Fatal(err)
	}
	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatal(err)
	}
	m.SetValidator(func(_ context.Context, cfg *Config) error {
		if cfg.Delegate.Command == "" {
			return os.ErrInvalid
		}
		return nil
	})

	ctx := context.Background()
	if err := os.WriteFile(path, []byte(`{"storage": `), 0o600); err != nil {
		t.Fatal(err)
	}
	if m.reload(ctx) {
		t.Fatal("invalid file published")
	}
	if err := os.WriteFile(path, []byte(`{"delegate": {"command": ""}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if m.reload(ctx) {
		t.Fatal("rejected config published")
	}
	if m.Get().Delegate.Command != "/usr/bin/app" {
		t.Fatal("committed config replaced by a rejected one")
	}
}
