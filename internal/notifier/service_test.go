package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"bgsync/internal/eventbus"
	"bgsync/internal/handoff"
	kit "bgsync/internal/transport"
	logx "bgsync/pkg/logx"
)

type fakeSender struct {
	mu    sync.Mutex
	fails int
	sent  []string
	calls int
}

func (f *fakeSender) SendText(_ context.Context, _ kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.fails {
		return kit.MessageRef{}, errors.New("telegram down")
	}
	f.sent = append(f.sent, text)
	return kit.MessageRef{}, nil
}

func (f *fakeSender) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRender(t *testing.T) {
	t.Parallel()
	failed := eventbus.Event{Type: handoff.EventFinished, Data: handoff.RunEvent{SessionID: 3, Outcome: "failed", Error: "exit status 1"}}
	ok := eventbus.Event{Type: handoff.EventFinished, Data: handoff.RunEvent{SessionID: 4, Outcome: "succeeded", Duration: 1500 * time.Millisecond}}
	skip := eventbus.Event{Type: handoff.EventSkipped, Data: handoff.RunEvent{Outcome: "skipped_overlap"}}

	tests := []struct {
		name string
		cfg  Config
		ev   eventbus.Event
		want string
	}{
		{"failure", Config{}, failed, "❌ Background sync failed (session 3): exit status 1"},
		{"success muted", Config{}, ok, ""},
		{"success", Config{OnSuccess: true}, ok, "✅ Background sync finished (session 4) in 1.5s"},
		{"skip muted", Config{}, skip, ""},
		{"skip", Config{OnSkip: true}, skip, "⏭ Background sync skipped: skipped_overlap"},
		{"foreign payload", Config{OnSuccess: true}, eventbus.Event{Type: handoff.EventFinished, Data: "x"}, ""},
	}
	for _, tt := range tests {
		if got := render(tt.cfg, tt.ev); got != tt.want {
			t.Fatalf("%s: render = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestAlertsFromBus(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	snd := &fakeSender{fails: 1}
	s := New(Config{
		Enabled:     true,
		Targets:     []kit.ChatTarget{{ChatID: 42}},
		RetryMax:    2,
		RetryBase:   time.Millisecond,
		RatePerSec:  100,
		DedupWindow: time.Hour,
	}, snd, logx.Nop(), bus)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop(context.Background())

	fail := eventbus.Event{Type: handoff.EventFinished, Data: handoff.RunEvent{SessionID: 1, Outcome: "failed", Error: "boom"}}
	// Subscription is registered synchronously in Start.
	bus.Publish(fail)
	waitFor(t, func() bool { return len(snd.texts()) == 1 })

	bus.Publish(fail)
	bus.Publish(eventbus.Event{Type: handoff.EventFinished, Data: handoff.RunEvent{SessionID: 2, Outcome: "failed", Error: "boom"}})
	waitFor(t, func() bool { return len(snd.texts()) == 2 })
	time.Sleep(20 * time.Millisecond)
	if got := snd.texts(); len(got) != 2 || got[1] != "❌ Background sync failed (session 2): boom" {
		t.Fatalf("sent = %q", got)
	}
	if len(s.Snapshot()) != 2 {
		t.Fatalf("history = %d", len(s.Snapshot()))
	}
}

func TestNotifyDisabledAndStopped(t *testing.T) {
	t.Parallel()
	s := New(Config{}, &fakeSender{}, logx.Nop(), nil)
	if err := s.Notify(context.Background(), kit.ChatTarget{ChatID: 1}, "x"); !errors.Is(err, ErrDisabled) {
		t.Fatalf("disabled err = %v", err)
	}
	s.Apply(Config{Enabled: true})
	if err := s.Notify(context.Background(), kit.ChatTarget{ChatID: 1}, "x"); !errors.Is(err, ErrStopped) {
		t.Fatalf("stopped err = %v", err)
	}
}

func TestDedupCap(t *testing.T) {
	t.Parallel()
	s := New(Config{}, nil, logx.Nop(), nil)
	now := time.Now()
	for i, k := range []string{"a", "b", "c"} {
		if !s.dedupAllow(k, time.Duration(i+1)*time.Minute, 2, now) {
			t.Fatalf("first %s suppressed", k)
		}
	}
	if len(s.dedup) != 2 {
		t.Fatalf("dedup size = %d", len(s.dedup))
	}
	if _, ok := s.dedup["a"]; ok {
		t.Fatal("earliest expiry not evicted")
	}
	if s.dedupAllow("c", time.Minute, 2, now.Add(time.Minute)) {
		t.Fatal("c within window allowed")
	}
	if !s.dedupAllow("c", time.Minute, 2, now.Add(4*time.Minute)) {
		t.Fatal("c after window suppressed")
	}
}

func TestRetryDelayBounds(t *testing.T) {
	t.Parallel()
	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}
	for attempt := 1; attempt < 8; attempt++ {
		if d := retryDelay(cfg, attempt); d <= 0 || d > time.Second {
			t.Fatalf("attempt %d delay %v", attempt, d)
		}
	}
}
