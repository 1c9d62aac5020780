package eventlog

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"bgsync/internal/storage"
)

func openFileStore(t *testing.T) (storage.Store, storage.Config) {
	t.Helper()
	cfg := storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "bgsync.json")}
	st, err := storage.Open(cfg, nopLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st, cfg
}

func TestAppendRoundTripsThroughStore(t *testing.T) {
	t.Parallel()
	st, _ := openFileStore(t)

	l := New(Options{Store: st})
	for i := 1; i <= 100; i++ {
		l.Append(LevelInfo, strconv.Itoa(i), 0)
	}

	reloaded := New(Options{Store: st})
	got := reloaded.Entries()
	if len(got) != 100 {
		t.Fatalf("reloaded %d entries, want 100", len(got))
	}
	for i, e := range got {
		if e.Message != strconv.Itoa(i+1) || e.Level != LevelInfo {
			t.Fatalf("entry %d = %+v", i, e)
		}
	}
}

func TestCapacityEvictsOldestFirst(t *testing.T) {
	t.Parallel()
	l := New(Options{})
	const total = DefaultCapacity + 50
	for i := 1; i <= total; i++ {
		l.Append(LevelDebug, strconv.Itoa(i), 0)
	}
	got := l.Entries()
	if len(got) != DefaultCapacity {
		t.Fatalf("len = %d, want %d", len(got), DefaultCapacity)
	}
	if got[0].Message != "51" || got[len(got)-1].Message != strconv.Itoa(total) {
		t.Fatalf("window = %s..%s", got[0].Message, got[len(got)-1].Message)
	}
}

func TestEvictionIsPersisted(t *testing.T) {
	t.Parallel()
	st, _ := openFileStore(t)
	l := New(Options{Store: st, Capacity: 3})
	for i := 1; i <= 5; i++ {
		l.Append(LevelInfo, strconv.Itoa(i), 0)
	}
	got := New(Options{Store: st, Capacity: 3}).Entries()
	if len(got) != 3 || got[0].Message != "3" || got[2].Message != "5" {
		t.Fatalf("persisted window = %+v", got)
	}
}

func TestConcurrentAppendsAreNotLost(t *testing.T) {
	t.Parallel()
	const producers, perProducer = 8, 200
	st := storage.NewMemory()
	l := New(Options{Store: st})

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				l.Append(LevelInfo, fmt.Sprintf("%d-%d", p, i), 0)
			}
		}(p)
	}
	wg.Wait()

	check := func(entries []Entry) {
		t.Helper()
		if len(entries) != producers*perProducer {
			t.Fatalf("len = %d, want %d", len(entries), producers*perProducer)
		}
		seen := make(map[string]bool, len(entries))
		next := make([]int, producers)
		for _, e := range entries {
			if seen[e.Message] {
				t.Fatalf("duplicate entry %q", e.Message)
			}
			seen[e.Message] = true
			var p, i int
			if _, err := fmt.Sscanf(e.Message, "%d-%d", &p, &i); err != nil {
				t.Fatalf("bad message %q", e.Message)
			}
			if i != next[p] {
				t.Fatalf("producer %d out of order: got %d want %d", p, i, next[p])
			}
			next[p]++
		}
	}
	check(l.Entries())
	check(New(Options{Store: st}).Entries())
}

func TestLoadSkipsMalformedEntries(t *testing.T) {
	t.Parallel()
	st := storage.NewMemory()
	doc := `[
		{"timestamp": 1000, "level": "INFO", "message": "ok"},
		{"timestamp": "nope", "level": "INFO", "message": "bad ts"},
		{"level": "INFO", "message": "no ts"},
		{"timestamp": 1001, "level": "LOUD", "message": "bad level"},
		{"message": "first", "level": "ERROR", "timestamp": 1002, "sessionId": 4, "extra": true},
		42
	]`
	if err := st.WriteDocument(context.Background(), storage.DocEventLog, []byte(doc)); err != nil {
		t.Fatal(err)
	}
	got := New(Options{Store: st}).Entries()
	if len(got) != 2 {
		t.Fatalf("loaded %d entries: %+v", len(got), got)
	}
	if got[1].SessionID != 4 || got[1].Level != LevelError || got[1].Message != "first" {
		t.Fatalf("keyed decode failed: %+v", got[1])
	}
}

func TestLoadCorruptDocumentStartsEmpty(t *testing.T) {
	t.Parallel()
	st := storage.NewMemory()
	_ = st.WriteDocument(context.Background(), storage.DocEventLog, []byte(`{not json`))
	l := New(Options{Store: st})
	if l.Len() != 0 {
		t.Fatalf("len = %d", l.Len())
	}
	l.Append(LevelInfo, "after", 0)
	if got := New(Options{Store: st}).Entries(); len(got) != 1 {
		t.Fatalf("rewritten log = %+v", got)
	}
}

func TestLoadTrimsToCapacity(t *testing.T) {
	t.Parallel()
	st := storage.NewMemory()
	big := New(Options{Store: st})
	for i := 1; i <= 10; i++ {
		big.Append(LevelInfo, strconv.Itoa(i), 0)
	}
	small := New(Options{Store: st, Capacity: 4})
	got := small.Entries()
	if len(got) != 4 || got[0].Message != "7" {
		t.Fatalf("trimmed = %+v", got)
	}
}

func TestPersistFailureDoesNotFailAppend(t *testing.T) {
	t.Parallel()
	st := storage.NewMemory()
	l := New(Options{Store: st})
	st.SetFailWrites(errors.New("read-only filesystem"))
	for i := 0; i < 20; i++ {
		l.Append(LevelWarning, "still here", 0)
	}
	if l.Len() != 20 {
		t.Fatalf("len = %d", l.Len())
	}
	st.SetFailWrites(nil)
	l.Append(LevelInfo, "recovered", 0)
	if got := New(Options{Store: st}).Entries(); len(got) != 21 {
		t.Fatalf("persisted %d entries after recovery", len(got))
	}
}

func TestTimestampsNeverDecrease(t *testing.T) {
	t.Parallel()
	base := time.UnixMilli(1_700_000_000_000)
	clock := []time.Time{base, base.Add(-time.Hour), base.Add(time.Second)}
	i := 0
	l := New(Options{Now: func() time.Time {
		now := clock[min(i, len(clock)-1)]
		i++
		return now
	}})
	l.Append(LevelInfo, "a", 0)
	l.Append(LevelInfo, "b", 0)
	l.Append(LevelInfo, "c", 0)
	got := l.Entries()
	if got[1].Timestamp != got[0].Timestamp {
		t.Fatalf("backwards step not clamped: %d after %d", got[1].Timestamp, got[0].Timestamp)
	}
	if got[2].Timestamp <= got[1].Timestamp {
		t.Fatalf("clock advance lost: %d", got[2].Timestamp)
	}
}

func TestClearPersistsEmptyLog(t *testing.T) {
	t.Parallel()
	st := storage.NewMemory()
	l := New(Options{Store: st})
	l.Append(LevelInfo, "x", 0)
	l.Clear()
	b, err := st.ReadDocument(context.Background(), storage.DocEventLog)
	if err != nil || string(b) != "[]" {
		t.Fatalf("document = %q, %v", b, err)
	}
}

func TestUnknownLevelFallsBackToInfo(t *testing.T) {
	t.Parallel()
	l := New(Options{})
	if e := l.Append(Level("TRACE"), "x", 0); e.Level != LevelInfo {
		t.Fatalf("level = %q", e.Level)
	}
}
