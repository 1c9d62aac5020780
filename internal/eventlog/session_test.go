package eventlog

import (
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"sync"
	"testing"

	"bgsync/internal/storage"
	logx "bgsync/pkg/logx"
)

func nopLogger() logx.Logger { return logx.Nop() }

// subsequence returns the global entries tagged with id, in order.
func subsequence(entries []Entry, id int64) []Entry {
	var out []Entry
	for _, e := range entries {
		if e.SessionID == id {
			out = append(out, e)
		}
	}
	return out
}

func sameEntries(a, b []Entry) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestSessionIDsStrictlyIncrease(t *testing.T) {
	t.Parallel()
	tr := NewTracker(New(Options{}), 0)

	const workers, perWorker = 16, 25
	var (
		mu  sync.Mutex
		all []int64
		wg  sync.WaitGroup
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var prev int64
			local := make([]int64, 0, perWorker)
			for i := 0; i < perWorker; i++ {
				id := tr.StartSession("run")
				if id <= prev {
					t.Errorf("id %d not greater than %d", id, prev)
				}
				prev = id
				local = append(local, id)
			}
			mu.Lock()
			all = append(all, local...)
			mu.Unlock()
		}()
	}
	wg.Wait()

	sort.Slice(all, func(i, j int) bool { return all[i] < all[j] })
	for i := 1; i < len(all); i++ {
		if all[i] == all[i-1] {
			t.Fatalf("id %d reused", all[i])
		}
	}
}

func TestEndedSessionExport(t *testing.T) {
	t.Parallel()
	l := New(Options{Store: storage.NewMemory()})
	tr := NewTracker(l, 0)

	other := tr.StartSession("other")
	s := tr.StartSession("sync")
	tr.Info(s, "bootstrapping")
	l.Append(LevelInfo, "untagged", 0)
	tr.Error(s, "completion failed", errors.New("exit status 1"))
	tr.Info(other, "noise")
	tr.EndSession(s, true)

	exp := l.Export()
	var got *ExportSession
	for i := range exp.Sessions {
		if exp.Sessions[i].ID == s {
			got = &exp.Sessions[i]
		}
	}
	if got == nil {
		t.Fatalf("session %d missing from export", s)
	}
	if got.EndTime == nil || got.DurationMs == nil {
		t.Fatalf("ended session lacks end/duration: %+v", got)
	}
	if *got.EndTime < got.StartTime || *got.DurationMs != *got.EndTime-got.StartTime {
		t.Fatalf("bad timing: start=%d end=%d dur=%d", got.StartTime, *got.EndTime, *got.DurationMs)
	}
	if got.Name != "sync" || got.StartDateTime == "" || got.EndDateTime == "" {
		t.Fatalf("bad session header: %+v", got)
	}

	want := subsequence(l.Entries(), s)
	snap, _ := tr.Session(s)
	if !sameEntries(snap.Entries, want) {
		t.Fatalf("session entries %+v, want %+v", snap.Entries, want)
	}
	if len(got.Entries) != len(want) {
		t.Fatalf("exported %d session entries, want %d", len(got.Entries), len(want))
	}
	if want[len(want)-1].Message != "Session ended with success: sync" {
		t.Fatalf("last entry = %q", want[len(want)-1].Message)
	}
	if want[2].Message != "completion failed: exit status 1" || want[2].Level != LevelError {
		t.Fatalf("error entry = %+v", want[2])
	}

	// The open session has no end fields.
	for _, es := range exp.Sessions {
		if es.ID == other && (es.EndTime != nil || es.DurationMs != nil) {
			t.Fatalf("open session exported with end: %+v", es)
		}
	}
}

func TestExportJSONShape(t *testing.T) {
	t.Parallel()
	l := New(Options{})
	tr := NewTracker(l, 0)
	id := tr.StartSession("sync")
	tr.EndSession(id, false)

	b, err := l.ExportJSON()
	if err != nil {
		t.Fatal(err)
	}
	var m struct {
		Logs     []map[string]any `json:"logs"`
		Sessions []map[string]any `json:"sessions"`
	}
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatal(err)
	}
	if len(m.Logs) != 2 || len(m.Sessions) != 1 {
		t.Fatalf("shape: %s", b)
	}
	for _, k := range []string{"timestamp", "datetime", "sessionId", "level", "message"} {
		if _, ok := m.Logs[0][k]; !ok {
			t.Fatalf("log entry missing %q: %s", k, b)
		}
	}
	for _, k := range []string{"id", "name", "startTime", "startDateTime", "endTime", "endDateTime", "durationMs"} {
		if _, ok := m.Sessions[0][k]; !ok {
			t.Fatalf("session missing %q: %s", k, b)
		}
	}
	if dt, _ := m.Logs[0]["datetime"].(string); len(dt) != len(DateTimeLayout) {
		t.Fatalf("datetime %q", dt)
	}
	if msg := m.Logs[1]["message"]; msg != "Session ended with failure: sync" {
		t.Fatalf("end message = %v", msg)
	}
}

func TestEndUnknownSessionIsNoop(t *testing.T) {
	t.Parallel()
	l := New(Options{})
	tr := NewTracker(l, 0)
	id := tr.StartSession("sync")
	before := l.Len()

	tr.EndSession(id+100, true)

	if l.Len() != before {
		t.Fatalf("log changed: %d -> %d", before, l.Len())
	}
	if s, _ := tr.Session(id); !s.Open() {
		t.Fatal("unrelated session was ended")
	}
	if len(tr.Sessions()) != 1 {
		t.Fatalf("sessions = %+v", tr.Sessions())
	}
}

func TestEndSessionTwiceIsNoop(t *testing.T) {
	t.Parallel()
	l := New(Options{})
	tr := NewTracker(l, 0)
	id := tr.StartSession("sync")
	tr.EndSession(id, true)
	first, _ := tr.Session(id)
	n := l.Len()
	tr.EndSession(id, false)
	second, _ := tr.Session(id)
	if l.Len() != n || first.EndTime != second.EndTime {
		t.Fatal("second EndSession changed state")
	}
}

func TestSessionEntriesFollowEviction(t *testing.T) {
	t.Parallel()
	l := New(Options{Capacity: 5})
	tr := NewTracker(l, 0)
	s := tr.StartSession("sync")
	for i := 0; i < 12; i++ {
		tag := int64(0)
		if i%2 == 0 {
			tag = s
		}
		l.Append(LevelInfo, strconv.Itoa(i), tag)
	}
	snap, _ := tr.Session(s)
	if want := subsequence(l.Entries(), s); !sameEntries(snap.Entries, want) {
		t.Fatalf("after eviction: session %+v, log %+v", snap.Entries, want)
	}

	l.Clear()
	snap, _ = tr.Session(s)
	if len(snap.Entries) != 0 {
		t.Fatalf("entries survived Clear: %+v", snap.Entries)
	}
	tr.Info(s, "after clear")
	snap, _ = tr.Session(s)
	if len(snap.Entries) != 1 {
		t.Fatalf("entries after clear = %+v", snap.Entries)
	}
}

func TestSessionIDsContinueAfterReload(t *testing.T) {
	t.Parallel()
	st := storage.NewMemory()
	tr := NewTracker(New(Options{Store: st}), 0)
	var last int64
	for i := 0; i < 3; i++ {
		last = tr.StartSession("sync")
	}

	tr2 := NewTracker(New(Options{Store: st}), 0)
	if id := tr2.StartSession("sync"); id <= last {
		t.Fatalf("id %d reused after reload (last %d)", id, last)
	}
}

func TestEndedSessionsAreBounded(t *testing.T) {
	t.Parallel()
	tr := NewTracker(New(Options{}), 2)
	open := tr.StartSession("long")
	var ids []int64
	for i := 0; i < 4; i++ {
		id := tr.StartSession("short")
		tr.EndSession(id, true)
		ids = append(ids, id)
	}
	got := tr.Sessions()
	if len(got) != 3 {
		t.Fatalf("sessions = %+v", got)
	}
	if got[0].ID != open || got[1].ID != ids[2] || got[2].ID != ids[3] {
		t.Fatalf("retained %d %d %d", got[0].ID, got[1].ID, got[2].ID)
	}
}
