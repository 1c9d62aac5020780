package eventlog

import (
	"sort"
	"sync"
	"sync/atomic"
)

const DefaultMaxSessions = 1000

// Session is a named, time-bounded group of entries. EndTime 0 means open.
type Session struct {
	ID        int64
	Name      string
	StartTime int64
	EndTime   int64
	Entries   []Entry
}

// Open reports whether the session has not been ended yet.
func (s Session) Open() bool { return s.EndTime == 0 }

type session struct {
	id      int64
	name    string
	start   int64
	end     int64
	entries []Entry
}

func (s *session) snapshot() Session {
	return Session{
		ID:        s.id,
		Name:      s.name,
		StartTime: s.start,
		EndTime:   s.end,
		Entries:   append([]Entry(nil), s.entries...),
	}
}

// Tracker allocates session ids and keeps, for every known session, the
// in-order sub-sequence of the log tagged with its id.
//
// Lock order: Log.mu before Tracker.mu. The tracker never calls into the log
// while holding its own lock.
type Tracker struct {
	log  *Log
	next atomic.Int64

	mu       sync.Mutex
	sessions map[int64]*session
	ended    []int64 // end order, oldest first
	maxEnded int
}

// NewTracker attaches a tracker to l. Ids continue after the highest session
// id found in the hydrated log, so they are never reused across restarts.
func NewTracker(l *Log, maxSessions int) *Tracker {
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	t := &Tracker{
		log:      l,
		sessions: make(map[int64]*session),
		maxEnded: maxSessions,
	}
	t.next.Store(l.highestSessionID())
	l.setObserver(t, t)
	return t
}

// StartSession opens a new session and logs its start under the new id.
func (t *Tracker) StartSession(name string) int64 {
	id := t.next.Add(1)
	start := t.log.now().UnixMilli()

	t.mu.Lock()
	t.sessions[id] = &session{id: id, name: name, start: start}
	t.mu.Unlock()

	t.log.Append(LevelInfo, "Session started: "+name, id)
	return id
}

// EndSession closes an open session. Unknown or already-ended ids are ignored.
func (t *Tracker) EndSession(id int64, success bool) {
	end := t.log.now().UnixMilli()

	t.mu.Lock()
	s, ok := t.sessions[id]
	if !ok || s.end != 0 {
		t.mu.Unlock()
		return
	}
	s.end = max(end, s.start)
	name := s.name
	t.ended = append(t.ended, id)
	t.pruneLocked()
	t.mu.Unlock()

	outcome := "failure"
	if success {
		outcome = "success"
	}
	t.log.Append(LevelInfo, "Session ended with "+outcome+": "+name, id)
}

// Log appends an entry tagged with sessionID (0 = untagged).
func (t *Tracker) Log(level Level, message string, sessionID int64) {
	t.log.Append(level, message, sessionID)
}

func (t *Tracker) Info(sessionID int64, message string)    { t.Log(LevelInfo, message, sessionID) }
func (t *Tracker) Warning(sessionID int64, message string) { t.Log(LevelWarning, message, sessionID) }
func (t *Tracker) Debug(sessionID int64, message string)   { t.Log(LevelDebug, message, sessionID) }

// Error logs message, suffixed with ": <err>" when err is non-nil.
func (t *Tracker) Error(sessionID int64, message string, err error) {
	if err != nil {
		message += ": " + err.Error()
	}
	t.Log(LevelError, message, sessionID)
}

// Session returns a snapshot of one session.
func (t *Tracker) Session(id int64) (Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[id]
	if !ok {
		return Session{}, false
	}
	return s.snapshot(), true
}

// Sessions returns snapshots of all known sessions ordered by id.
func (t *Tracker) Sessions() []Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionsLocked()
}

func (t *Tracker) sessionsLocked() []Session {
	out := make([]Session, 0, len(t.sessions))
	for _, s := range t.sessions {
		out = append(out, s.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// pruneLocked drops the oldest ended sessions beyond the retention bound.
// Open sessions are never dropped.
func (t *Tracker) pruneLocked() {
	for len(t.ended) > t.maxEnded {
		delete(t.sessions, t.ended[0])
		t.ended[0] = 0
		t.ended = t.ended[1:]
	}
}

// observer hooks, called with Log.mu held.

func (t *Tracker) appended(e Entry) {
	t.mu.Lock()
	if s, ok := t.sessions[e.SessionID]; ok {
		s.entries = append(s.entries, e)
	}
	t.mu.Unlock()
}

func (t *Tracker) evicted(throughSeq uint64) {
	t.mu.Lock()
	for _, s := range t.sessions {
		n := 0
		for n < len(s.entries) && s.entries[n].seq <= throughSeq {
			n++
		}
		if n > 0 {
			clear(s.entries[:n])
			s.entries = s.entries[n:]
		}
	}
	t.mu.Unlock()
}

func (t *Tracker) cleared() {
	t.mu.Lock()
	for _, s := range t.sessions {
		s.entries = nil
	}
	t.mu.Unlock()
}
