package eventlog

import (
	"encoding/json"
	"time"
)

// DateTimeLayout renders export timestamps as "yyyy-MM-dd HH:mm:ss.SSS".
const DateTimeLayout = "2006-01-02 15:04:05.000"

// Export is the diagnostic snapshot returned to operators.
type Export struct {
	Logs     []ExportEntry   `json:"logs"`
	Sessions []ExportSession `json:"sessions"`
}

type ExportEntry struct {
	Timestamp int64  `json:"timestamp"`
	DateTime  string `json:"datetime"`
	SessionID int64  `json:"sessionId,omitempty"`
	Level     Level  `json:"level"`
	Message   string `json:"message"`
}

type ExportSession struct {
	ID            int64         `json:"id"`
	Name          string        `json:"name"`
	StartTime     int64         `json:"startTime"`
	StartDateTime string        `json:"startDateTime"`
	EndTime       *int64        `json:"endTime,omitempty"`
	EndDateTime   string        `json:"endDateTime,omitempty"`
	DurationMs    *int64        `json:"durationMs,omitempty"`
	Entries       []ExportEntry `json:"entries"`
}

// Export snapshots entries and, when a tracker is attached, sessions. Both
// are read under the log lock so they describe the same instant.
func (l *Log) Export() Export {
	l.mu.Lock()
	entries := append([]Entry(nil), l.entries...)
	var sessions []Session
	if l.tracker != nil {
		l.tracker.mu.Lock()
		sessions = l.tracker.sessionsLocked()
		l.tracker.mu.Unlock()
	}
	l.mu.Unlock()

	out := Export{
		Logs:     make([]ExportEntry, 0, len(entries)),
		Sessions: make([]ExportSession, 0, len(sessions)),
	}
	for _, e := range entries {
		out.Logs = append(out.Logs, l.exportEntry(e))
	}
	for _, s := range sessions {
		es := ExportSession{
			ID:            s.ID,
			Name:          s.Name,
			StartTime:     s.StartTime,
			StartDateTime: l.format(s.StartTime),
			Entries:       make([]ExportEntry, 0, len(s.Entries)),
		}
		if !s.Open() {
			end := s.EndTime
			dur := end - s.StartTime
			es.EndTime = &end
			es.EndDateTime = l.format(end)
			es.DurationMs = &dur
		}
		for _, e := range s.Entries {
			es.Entries = append(es.Entries, l.exportEntry(e))
		}
		out.Sessions = append(out.Sessions, es)
	}
	return out
}

// ExportJSON is Export encoded as JSON.
func (l *Log) ExportJSON() ([]byte, error) {
	return json.Marshal(l.Export())
}

func (l *Log) exportEntry(e Entry) ExportEntry {
	return ExportEntry{
		Timestamp: e.Timestamp,
		DateTime:  l.format(e.Timestamp),
		SessionID: e.SessionID,
		Level:     e.Level,
		Message:   e.Message,
	}
}

func (l *Log) format(ms int64) string {
	return time.UnixMilli(ms).In(l.loc).Format(DateTimeLayout)
}
