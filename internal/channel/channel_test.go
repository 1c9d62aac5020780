package channel

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"bgsync/internal/constraints"
	"bgsync/internal/eventlog"
	"bgsync/internal/storage"
	"bgsync/internal/task/scheduler"
)

type fakeScheduler struct {
	mu   sync.Mutex
	reqs map[string]scheduler.Request
	adds int
	err  error
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{reqs: map[string]scheduler.Request{}}
}

func (f *fakeScheduler) AddPeriodic(req scheduler.Request, _ scheduler.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.adds++
	f.reqs[req.Name] = req
	return nil
}

func (f *fakeScheduler) Remove(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.reqs[name]
	delete(f.reqs, name)
	return ok
}

func (f *fakeScheduler) Scheduled(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.reqs[name]
	return ok
}

func (f *fakeScheduler) request(name string) scheduler.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reqs[name]
}

func noop(context.Context) error { return nil }

func newChannel(t *testing.T) (*Channel, *fakeScheduler, storage.Store) {
	t.Helper()
	st := storage.NewMemory()
	sch := newFakeScheduler()
	c := New(Deps{
		Scheduler: sch,
		Prefs:     constraints.NewStore(st),
		Log:       eventlog.New(eventlog.Options{}),
		Job:       noop,
		Timeout:   func() time.Duration { return 10 * time.Minute },
	})
	return c, sch, st
}

func code(err error) string {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}

func TestStartStopStatus(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c, sch, _ := newChannel(t)

	res, err := c.Invoke(ctx, "startBackgroundSync", Args{"intervalMinutes": float64(30)})
	if err != nil {
		t.Fatal(err)
	}
	if res != "Background sync scheduled every 30 minutes." {
		t.Fatalf("start result = %q", res)
	}
	req := sch.request(DefaultWorkName)
	if req.Every != 30*time.Minute || req.Timeout != 10*time.Minute || req.Constraints.NetworkType != constraints.NetworkConnected {
		t.Fatalf("registered request = %+v", req)
	}
	if ok, _ := c.Invoke(ctx, "getBackgroundSyncStatus", nil); ok != true {
		t.Fatal("status should be true after start")
	}
	if m, _ := c.Invoke(ctx, "getBackgroundSyncInterval", nil); m != 30 {
		t.Fatalf("interval = %v", m)
	}

	res, err = c.Invoke(ctx, "stopBackgroundSync", nil)
	if err != nil || res != "Background sync stopped successfully." {
		t.Fatalf("stop = %v, %v", res, err)
	}
	if ok, _ := c.Invoke(ctx, "getBackgroundSyncStatus", nil); ok != false {
		t.Fatal("status should be false after stop")
	}
	// A second stop is not an error.
	if _, err := c.Invoke(ctx, "stopBackgroundSync", nil); err != nil {
		t.Fatal(err)
	}
}

func TestStartDefaultsAndRejects(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c, sch, _ := newChannel(t)

	res, err := c.Invoke(ctx, "startBackgroundSync", Args{})
	if err != nil || res != "Background sync scheduled every 15 minutes." {
		t.Fatalf("default start = %v, %v", res, err)
	}
	res, err = c.Invoke(ctx, "startBackgroundSync", Args{"intervalMinutes": float64(1)})
	if err != nil || res != "Background sync scheduled every 1 minutes. Runs fire at most every 15 minutes." {
		t.Fatalf("short start = %v, %v", res, err)
	}

	before, _ := c.Invoke(ctx, "getBackgroundSyncInterval", nil)
	huge := strconv.FormatInt(maxIntervalMinutes+1, 10)
	for _, bad := range []any{float64(0), float64(-3), 1.5, "soon", true, float64(2e8), huge, "9223372036854775807"} {
		if _, err := c.Invoke(ctx, "startBackgroundSync", Args{"intervalMinutes": bad}); code(err) != CodeInvalidArgument {
			t.Fatalf("intervalMinutes=%v: err = %v", bad, err)
		}
	}
	if after, _ := c.Invoke(ctx, "getBackgroundSyncInterval", nil); after != before {
		t.Fatalf("rejected start changed interval: %v -> %v", before, after)
	}

	sch.err = errors.New("boom")
	_, err = c.Invoke(ctx, "startBackgroundSync", Args{"intervalMinutes": "20"})
	var ce *CallError
	if !errors.As(err, &ce) || ce.Code != CodeBackgroundSync || ce.Message != "Failed to schedule background sync" || ce.Details != "boom" {
		t.Fatalf("err = %#v", err)
	}
}

func TestUnknownMethod(t *testing.T) {
	t.Parallel()
	c, _, _ := newChannel(t)
	if _, err := c.Invoke(context.Background(), "reboot", nil); code(err) != CodeNotImplemented {
		t.Fatalf("err = %v", err)
	}
	if v, err := c.Invoke(context.Background(), "getPlatformVersion", nil); err != nil || v == "" {
		t.Fatalf("platform = %v, %v", v, err)
	}
}

func TestConstraintSettersReregister(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c, sch, _ := newChannel(t)

	// Not scheduled: settings persist without registering anything.
	if _, err := c.Invoke(ctx, "setNetworkType", Args{"value": "unmetered"}); err != nil {
		t.Fatal(err)
	}
	if sch.adds != 0 {
		t.Fatal("setter registered work while stopped")
	}
	if v, _ := c.Invoke(ctx, "getNetworkType", nil); v != "unmetered" {
		t.Fatalf("network type = %v", v)
	}

	if _, err := c.Start(ctx, 60); err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		method string
		check  func(constraints.Constraints) bool
	}{
		{"setBatteryNotLow", func(c constraints.Constraints) bool { return c.BatteryNotLow }},
		{"setRequiresCharging", func(c constraints.Constraints) bool { return c.RequiresCharging }},
		{"setDeviceIdle", func(c constraints.Constraints) bool { return c.DeviceIdle }},
	}
	for _, tt := range tests {
		if _, err := c.Invoke(ctx, tt.method, Args{"value": true}); err != nil {
			t.Fatalf("%s: %v", tt.method, err)
		}
		req := sch.request(DefaultWorkName)
		if !tt.check(req.Constraints) || req.Every != time.Hour {
			t.Fatalf("%s: re-registered request = %+v", tt.method, req)
		}
		get := "get" + strings.TrimPrefix(tt.method, "set")
		if v, _ := c.Invoke(ctx, get, nil); v != true {
			t.Fatalf("%s = %v", get, v)
		}
	}
	if sch.request(DefaultWorkName).Constraints.NetworkType != constraints.NetworkUnmetered {
		t.Fatal("network type lost on re-registration")
	}

	if _, err := c.Invoke(ctx, "setNetworkType", Args{"value": "satellite"}); code(err) != CodeInvalidArgument {
		t.Fatalf("err = %v", err)
	}
	if _, err := c.Invoke(ctx, "setDeviceIdle", Args{}); code(err) != CodeInvalidArgument {
		t.Fatalf("err = %v", err)
	}
}

func TestRestore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c, _, st := newChannel(t)
	if ok, err := c.Restore(ctx); ok || err != nil {
		t.Fatalf("restore with nothing scheduled = %v, %v", ok, err)
	}
	if _, err := c.Start(ctx, 45); err != nil {
		t.Fatal(err)
	}

	// A fresh daemon over the same store picks the registration back up.
	sch := newFakeScheduler()
	again := New(Deps{Scheduler: sch, Prefs: constraints.NewStore(st), Job: noop})
	if ok, err := again.Restore(ctx); !ok || err != nil {
		t.Fatalf("restore = %v, %v", ok, err)
	}
	if sch.request(DefaultWorkName).Every != 45*time.Minute {
		t.Fatalf("restored request = %+v", sch.request(DefaultWorkName))
	}

	if _, err := again.Stop(ctx); err != nil {
		t.Fatal(err)
	}
	third := New(Deps{Scheduler: newFakeScheduler(), Prefs: constraints.NewStore(st), Job: noop})
	if ok, _ := third.Restore(ctx); ok {
		t.Fatal("stopped work restored")
	}
}

func TestLogsExportAndClear(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c, _, _ := newChannel(t)
	c.d.Log.Append(eventlog.LevelInfo, "hello", 0)

	raw, err := c.Invoke(ctx, "getLogs", nil)
	if err != nil {
		t.Fatal(err)
	}
	var exp eventlog.Export
	if err := json.Unmarshal([]byte(raw.(string)), &exp); err != nil {
		t.Fatal(err)
	}
	if len(exp.Logs) != 1 || exp.Logs[0].Message != "hello" {
		t.Fatalf("export = %+v", exp)
	}

	if _, err := c.Invoke(ctx, "clearLogs", nil); err != nil {
		t.Fatal(err)
	}
	if c.d.Log.Len() != 0 {
		t.Fatal("log not cleared")
	}
}
