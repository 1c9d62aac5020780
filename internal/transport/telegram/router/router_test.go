package router

import (
	"context"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	kit "bgsync/internal/transport"
	logx "bgsync/pkg/logx"
)

type fakeAdapter struct {
	mu   sync.Mutex
	sent []string
	menu []kit.BotCommand
}

func (f *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                     { return nil }

func (f *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.sent)}, nil
}

func (f *fakeAdapter) UpdateMenuCommands(_ context.Context, cmds []kit.BotCommand) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.menu = cmds
	return nil
}

func (f *fakeAdapter) waitFor(t *testing.T, n int) []string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		if len(f.sent) >= n {
			out := slices.Clone(f.sent)
			f.mu.Unlock()
			return out
		}
		f.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d messages", n)
	return nil
}

func msg(from int64, text string) kit.Update {
	return kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: 1, FromID: from, Text: text}}
}

func TestDispatchAccessAndAliases(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	m := NewCommandManager(logx.Nop(), ad, []int64{42})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var gotArgs []string
	m.SetRegistry(ctx, []Command{{
		Name:    "sync_start",
		Aliases: []string{"ss"},
		Access:  AccessOwnerOnly,
		Handle: func(ctx context.Context, req *Request) error {
			mu.Lock()
			gotArgs = req.Args
			mu.Unlock()
			return req.Reply(ctx, "started")
		},
	}})

	updates := make(chan kit.Update, 8)
	go func() { _ = m.DispatchLoop(ctx, updates) }()

	updates <- msg(7, "/sync_start 30")
	if got := ad.waitFor(t, 1); got[0] != "unauthorized" {
		t.Fatalf("non-owner reply = %q", got[0])
	}
	updates <- msg(42, "/ss@bgsync_bot \"30\"")
	if got := ad.waitFor(t, 2); got[1] != "started" {
		t.Fatalf("owner reply = %q", got[1])
	}
	mu.Lock()
	if !slices.Equal(gotArgs, []string{"30"}) {
		t.Fatalf("args = %q", gotArgs)
	}
	mu.Unlock()

	updates <- msg(42, "/nope")
	if got := ad.waitFor(t, 3); !strings.HasPrefix(got[2], "unknown command") {
		t.Fatalf("unknown reply = %q", got[2])
	}
	updates <- msg(7, "/help")
	if got := ad.waitFor(t, 4); !strings.Contains(got[3], "/sync_start") || !strings.Contains(got[3], "/help") {
		t.Fatalf("help = %q", got[3])
	}
	updates <- msg(7, "just chatting")
	updates <- msg(7, "/help sync_start")
	if got := ad.waitFor(t, 5); !strings.Contains(got[4], "Owner only") {
		t.Fatalf("command help = %q", got[4])
	}
}

func TestPanicInHandlerIsRecovered(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	m := NewCommandManager(logx.Nop(), ad, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.SetRegistry(ctx, []Command{
		{Name: "boom", Handle: func(context.Context, *Request) error { panic("x") }},
		{Name: "ping", Handle: func(ctx context.Context, req *Request) error { return req.Reply(ctx, "pong") }},
	})
	updates := make(chan kit.Update, 4)
	go func() { _ = m.DispatchLoop(ctx, updates) }()

	updates <- msg(1, "/boom")
	updates <- msg(1, "/ping")
	if got := ad.waitFor(t, 1); got[0] != "pong" {
		t.Fatalf("got %q", got)
	}
}

func TestSanitizeTelegramCommand(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"sync_start":   "sync_start",
		"Sync-Stop":    "sync_stop",
		"  a  b ":      "a_b",
		"9lives":       "cmd_9lives",
		"!!!":          "",
		"sync__status": "sync_status",
	}
	for in, want := range tests {
		if got := sanitizeTelegramCommand(in); got != want {
			t.Errorf("sanitize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestTokenizeCommandLine(t *testing.T) {
	t.Parallel()
	got := tokenizeCommandLine(`/sync_constraints network_type "not roaming" it\'s`)
	want := []string{"/sync_constraints", "network_type", "not roaming", "it's"}
	if !slices.Equal(got, want) {
		t.Fatalf("tokens = %q, want %q", got, want)
	}
}
