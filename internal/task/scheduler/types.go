package scheduler

import (
	"context"
	"sync"
	"time"

	"bgsync/internal/constraints"
	"bgsync/internal/eventbus"
	"bgsync/internal/task/engine"
	logx "bgsync/pkg/logx"

	"github.com/robfig/cron/v3"
)

// MinInterval is the shortest accepted period. Shorter requests are raised.
const MinInterval = 15 * time.Minute

// Bus event types.
const (
	EventTriggerSkipped = "schedule.skipped"
)

type Config struct {
	Enabled  bool
	Timezone string // IANA name, e.g. "Europe/Berlin"
}

// Request describes one periodic registration. Name is unique: adding a
// request with a registered name replaces the old one.
type Request struct {
	Name        string
	Every       time.Duration
	Constraints constraints.Constraints
	Timeout     time.Duration
}

type Job func(ctx context.Context) error

// Enqueuer is the part of the task engine the scheduler needs.
type Enqueuer interface {
	Enqueue(t engine.Task) (string, error)
}

// ConditionProbe reports the current host conditions.
type ConditionProbe interface {
	Conditions(ctx context.Context) (constraints.Conditions, error)
}

type periodic struct {
	req     Request
	job     Job
	entryID cron.EntryID
	spread  time.Duration
	added   time.Time

	lastTrigger time.Time
	lastSkip    string
}

type Service struct {
	mu  sync.Mutex
	log logx.Logger
	cfg Config
	loc *time.Location
	bus eventbus.Bus

	engine Enqueuer
	probe  ConditionProbe

	c    *cron.Cron
	defs map[string]*periodic

	enqMu       sync.Mutex
	lastEnqWarn map[string]time.Time
}

type ScheduleInfo struct {
	Name        string                  `json:"name"`
	Every       time.Duration           `json:"every"`
	Timeout     time.Duration           `json:"timeout"`
	Constraints constraints.Constraints `json:"constraints"`
	Spread      time.Duration           `json:"startup_spread"`
	Next        time.Time               `json:"next"`
	Prev        time.Time               `json:"prev"`
	LastSkip    string                  `json:"last_skip,omitempty"`
}

type Snapshot struct {
	Enabled   bool           `json:"enabled"`
	Running   bool           `json:"running"`
	Timezone  string         `json:"timezone"`
	Schedules []ScheduleInfo `json:"schedules"`
}

// SkipEvent is the payload of EventTriggerSkipped.
type SkipEvent struct {
	Name  string   `json:"name"`
	Unmet []string `json:"unmet"`
}
