package eventlog

import (
	"encoding/json"
	"errors"
	"math"
	"strings"
	"time"

	logx "bgsync/pkg/logx"
)

// Level is the severity of an entry as it appears in the durable log.
type Level string

const (
	LevelInfo    Level = "INFO"
	LevelError   Level = "ERROR"
	LevelWarning Level = "WARNING"
	LevelDebug   Level = "DEBUG"
)

// ParseLevel accepts the durable names case-insensitively ("warn" is an alias).
func ParseLevel(s string) (Level, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "INFO":
		return LevelInfo, true
	case "ERROR":
		return LevelError, true
	case "WARNING", "WARN":
		return LevelWarning, true
	case "DEBUG":
		return LevelDebug, true
	default:
		return "", false
	}
}

func (l Level) logx() logx.Level {
	switch l {
	case LevelError:
		return logx.LevelError
	case LevelWarning:
		return logx.LevelWarn
	case LevelDebug:
		return logx.LevelDebug
	default:
		return logx.LevelInfo
	}
}

// Entry is one immutable log record. SessionID 0 means "no session".
type Entry struct {
	Timestamp int64  `json:"timestamp"`
	SessionID int64  `json:"sessionId,omitempty"`
	Level     Level  `json:"level"`
	Message   string `json:"message"`

	// seq orders entries within this process. Not persisted.
	seq uint64
}

// Time returns the entry timestamp as a time.Time.
func (e Entry) Time() time.Time { return time.UnixMilli(e.Timestamp) }

var errBadEntry = errors.New("eventlog: malformed entry")

// decodeEntry reads one durable entry using keyed lookup so that unknown
// fields are ignored and field order does not matter.
func decodeEntry(raw json.RawMessage) (Entry, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return Entry{}, err
	}

	ts, ok := m["timestamp"]
	if !ok {
		return Entry{}, errBadEntry
	}
	stamp, err := decodeInt(ts)
	if err != nil {
		return Entry{}, err
	}

	var lvlRaw, msg string
	if err := json.Unmarshal(m["level"], &lvlRaw); err != nil {
		return Entry{}, errBadEntry
	}
	lvl, ok := ParseLevel(lvlRaw)
	if !ok {
		return Entry{}, errBadEntry
	}
	mraw, ok := m["message"]
	if !ok {
		return Entry{}, errBadEntry
	}
	if err := json.Unmarshal(mraw, &msg); err != nil {
		return Entry{}, err
	}

	e := Entry{Timestamp: stamp, Level: lvl, Message: msg}
	if sraw, ok := m["sessionId"]; ok && string(sraw) != "null" {
		id, err := decodeInt(sraw)
		if err != nil {
			return Entry{}, err
		}
		e.SessionID = id
	}
	return e, nil
}

func decodeInt(raw json.RawMessage) (int64, error) {
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, err
	}
	if v, err := n.Int64(); err == nil {
		return v, nil
	}
	f, err := n.Float64()
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, errBadEntry
	}
	return int64(f), nil
}
