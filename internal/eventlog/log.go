package eventlog

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"bgsync/internal/storage"
	logx "bgsync/pkg/logx"

	"golang.org/x/time/rate"
)

const (
	DefaultCapacity = 100_000

	persistTimeout = 10 * time.Second
)

// Options configures a Log.
type Options struct {
	// Capacity bounds the number of retained entries (default 100,000).
	Capacity int
	// Store persists the log as a single document. Nil keeps it in memory only.
	Store storage.Store
	// Logger is the diagnostic channel: entries are mirrored to it and
	// persistence faults are reported on it.
	Logger logx.Logger
	// Now overrides the wall clock (tests).
	Now func() time.Time
	// Location is used for the human-readable export timestamps (default time.Local).
	Location *time.Location
}

// observer receives entry lifecycle notifications while the log lock is held.
// Implementations may take their own locks but must never call back into Log.
type observer interface {
	appended(e Entry)
	evicted(throughSeq uint64)
	cleared()
}

// Log is the bounded, write-through persisted event log.
//
// Every mutation rewrites the whole document. That keeps the durable format a
// plain JSON array at the price of O(n) work per append.
type Log struct {
	mu       sync.Mutex
	entries  []Entry
	capacity int
	seq      uint64
	lastTS   int64
	maxSID   int64 // highest session id seen while hydrating
	obs      observer
	tracker  *Tracker

	store storage.Store
	log   logx.Logger
	now   func() time.Time
	loc   *time.Location

	faultLim    *rate.Limiter
	faultMuted  int
	faultActive bool
}

// New creates the log and hydrates it from the store. Load problems never fail
// construction: the log starts from whatever could be recovered.
func New(opts Options) *Log {
	l := &Log{
		capacity: opts.Capacity,
		store:    opts.Store,
		log:      opts.Logger,
		now:      opts.Now,
		loc:      opts.Location,
		faultLim: rate.NewLimiter(rate.Every(time.Minute), 3),
	}
	if l.capacity <= 0 {
		l.capacity = DefaultCapacity
	}
	if l.log.IsZero() {
		l.log = logx.Nop()
	}
	if l.now == nil {
		l.now = time.Now
	}
	if l.loc == nil {
		l.loc = time.Local
	}
	l.load()
	return l
}

// Capacity returns the configured bound.
func (l *Log) Capacity() int { return l.capacity }

func (l *Log) load() {
	if l.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	b, err := l.store.ReadDocument(ctx, storage.DocEventLog)
	if errors.Is(err, storage.ErrNotFound) {
		return
	}
	if err != nil {
		l.log.Error("event log unreadable; starting empty", logx.Err(err))
		return
	}

	var raws []json.RawMessage
	if err := json.Unmarshal(b, &raws); err != nil {
		l.log.Error("event log corrupt; starting empty", logx.Err(err))
		return
	}

	skipped := 0
	entries := make([]Entry, 0, min(len(raws), l.capacity))
	for _, raw := range raws {
		e, err := decodeEntry(raw)
		if err != nil {
			skipped++
			continue
		}
		entries = append(entries, e)
	}
	if over := len(entries) - l.capacity; over > 0 {
		entries = entries[over:]
	}
	for i := range entries {
		l.seq++
		entries[i].seq = l.seq
		if entries[i].Timestamp > l.lastTS {
			l.lastTS = entries[i].Timestamp
		}
		if entries[i].SessionID > l.maxSID {
			l.maxSID = entries[i].SessionID
		}
	}
	l.entries = entries
	if skipped > 0 {
		l.log.Warn("skipped malformed event log entries", logx.Int("skipped", skipped), logx.Int("loaded", len(entries)))
	} else {
		l.log.Debug("event log loaded", logx.Int("entries", len(entries)))
	}
}

// Append records an entry (sessionID 0 = none), evicts the oldest entries
// beyond capacity and persists the whole log. It never fails: persistence
// faults are reported on the diagnostic logger only.
func (l *Log) Append(level Level, message string, sessionID int64) Entry {
	if _, ok := ParseLevel(string(level)); !ok {
		level = LevelInfo
	}

	l.mu.Lock()
	ts := l.now().UnixMilli()
	if ts < l.lastTS {
		ts = l.lastTS
	}
	l.lastTS = ts
	l.seq++
	e := Entry{Timestamp: ts, SessionID: sessionID, Level: level, Message: message, seq: l.seq}

	l.entries = append(l.entries, e)
	if sessionID != 0 && l.obs != nil {
		l.obs.appended(e)
	}
	if over := len(l.entries) - l.capacity; over > 0 {
		through := l.entries[over-1].seq
		clear(l.entries[:over])
		l.entries = l.entries[over:]
		if l.obs != nil {
			l.obs.evicted(through)
		}
	}
	l.persistLocked()
	l.mu.Unlock()

	l.mirror(e)
	return e
}

// Clear empties the log and persists the empty state. Sessions survive but
// lose their entries.
func (l *Log) Clear() {
	l.mu.Lock()
	l.entries = nil
	if l.obs != nil {
		l.obs.cleared()
	}
	l.persistLocked()
	l.mu.Unlock()
	l.log.Info("event log cleared")
}

// Entries returns a copy of the current entries in insertion order.
func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Entry(nil), l.entries...)
}

// Len returns the number of retained entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Flush persists the current state. Used on shutdown.
func (l *Log) Flush() {
	l.mu.Lock()
	l.persistLocked()
	l.mu.Unlock()
}

func (l *Log) setObserver(o observer, t *Tracker) {
	l.mu.Lock()
	l.obs = o
	l.tracker = t
	l.mu.Unlock()
}

func (l *Log) highestSessionID() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.maxSID
}

func (l *Log) persistLocked() {
	if l.store == nil {
		return
	}
	body, err := json.Marshal(l.entries)
	if err == nil {
		if l.entries == nil {
			body = []byte("[]")
		}
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		err = l.store.WriteDocument(ctx, storage.DocEventLog, body)
		cancel()
	}
	if err != nil {
		l.reportFault(err)
		return
	}
	if l.faultActive {
		l.faultActive = false
		l.log.Info("event log persistence recovered", logx.Int("suppressed", l.faultMuted))
		l.faultMuted = 0
	}
}

// reportFault logs persistence failures without letting a broken disk flood
// the diagnostic channel. Called with l.mu held.
func (l *Log) reportFault(err error) {
	l.faultActive = true
	if !l.faultLim.Allow() {
		l.faultMuted++
		return
	}
	l.log.Error("event log persist failed; keeping entries in memory",
		logx.Err(err),
		logx.Int("entries", len(l.entries)),
		logx.Int("suppressed", l.faultMuted),
	)
	l.faultMuted = 0
}

func (l *Log) mirror(e Entry) {
	if !l.log.Enabled(e.Level.logx()) {
		return
	}
	if e.SessionID != 0 {
		l.log.Log(e.Level.logx(), e.Message, logx.Int64("session", e.SessionID))
		return
	}
	l.log.Log(e.Level.logx(), e.Message)
}
