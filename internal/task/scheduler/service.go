package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"bgsync/internal/constraints"
	"bgsync/internal/eventbus"
	"bgsync/internal/task/engine"
	logx "bgsync/pkg/logx"

	"github.com/robfig/cron/v3"
)

const (
	enqueueWarnThrottle = 5 * time.Second
	probeTimeout        = 5 * time.Second
)

var ErrUnknown = errors.New("scheduler: no such schedule")

// New builds a scheduler that hands triggered jobs to eng. probe may be nil,
// in which case constraints are never checked.
func New(cfg Config, eng Enqueuer, probe ConditionProbe, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:         cfg,
		log:         log,
		bus:         bus,
		engine:      eng,
		probe:       probe,
		defs:        map[string]*periodic{},
		lastEnqWarn: map[string]time.Time{},
	}
}

// Apply swaps the config; a timezone change re-registers every schedule.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tzChanged := strings.TrimSpace(s.cfg.Timezone) != strings.TrimSpace(cfg.Timezone)
	s.cfg = cfg
	if s.c != nil && tzChanged {
		s.restartLocked()
	}
}

// Start begins triggering. Requests added before Start are registered now.
func (s *Service) Start(context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil || !s.cfg.Enabled {
		return
	}
	s.startLocked()
	s.log.Info("scheduler started", logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.defs)))
}

// Stop halts triggering and waits for in-progress trigger callbacks until
// ctx expires. Definitions are kept for the next Start.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	for _, d := range s.defs {
		d.entryID = 0
	}
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("scheduler stopped")
}

// AddPeriodic registers job under req.Name, replacing any existing
// registration of that name. Intervals below MinInterval are raised.
func (s *Service) AddPeriodic(req Request, job Job) error {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return errors.New("scheduler: name required")
	}
	if job == nil {
		return errors.New("scheduler: job required")
	}
	if req.Every < MinInterval {
		s.log.Warn("interval below minimum; raised", logx.String("name", req.Name), logx.Duration("requested", req.Every), logx.Duration("min", MinInterval))
		req.Every = MinInterval
	}
	if req.Constraints.NetworkType == "" {
		req.Constraints.NetworkType = constraints.NetworkNotRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(req.Name)
	d := &periodic{req: req, job: job, added: time.Now()}
	s.defs[req.Name] = d
	if s.c != nil {
		s.registerLocked(d)
	}
	s.log.Info("periodic work registered",
		logx.String("name", req.Name),
		logx.Duration("every", req.Every),
		logx.String("network", string(req.Constraints.NetworkType)),
		logx.Duration("startup_spread", d.spread),
	)
	return nil
}

// Remove unregisters name and reports whether it existed.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ok := s.removeLocked(strings.TrimSpace(name))
	if ok {
		s.log.Info("periodic work removed", logx.String("name", name))
	}
	return ok
}

// Scheduled reports whether name is registered.
func (s *Service) Scheduled(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.defs[strings.TrimSpace(name)]
	return ok
}

// Request returns the registration of name.
func (s *Service) Request(name string) (Request, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.defs[strings.TrimSpace(name)]
	if !ok {
		return Request{}, false
	}
	return d.req, true
}

// Trigger runs one trigger of name right away, including the constraint
// check.
func (s *Service) Trigger(name string) error {
	s.mu.Lock()
	d, ok := s.defs[strings.TrimSpace(name)]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknown, name)
	}
	return s.fire(d)
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{Enabled: s.cfg.Enabled, Running: s.c != nil, Timezone: s.cfg.Timezone}
	if s.loc != nil {
		snap.Timezone = s.loc.String()
	}
	for _, d := range s.defs {
		info := ScheduleInfo{
			Name:        d.req.Name,
			Every:       d.req.Every,
			Timeout:     d.req.Timeout,
			Constraints: d.req.Constraints,
			Spread:      d.spread,
			Prev:        d.lastTrigger,
			LastSkip:    d.lastSkip,
		}
		if s.c != nil && d.entryID != 0 {
			e := s.c.Entry(d.entryID)
			info.Next = e.Next
		}
		snap.Schedules = append(snap.Schedules, info)
	}
	sort.Slice(snap.Schedules, func(i, j int) bool { return snap.Schedules[i].Name < snap.Schedules[j].Name })
	return snap
}

func (s *Service) fire(d *periodic) error {
	s.mu.Lock()
	req, job := d.req, d.job
	d.lastTrigger = time.Now()
	s.mu.Unlock()

	if unmet := s.unmet(req); len(unmet) > 0 {
		reason := strings.Join(unmet, ",")
		s.mu.Lock()
		d.lastSkip = reason
		s.mu.Unlock()
		s.log.Info("trigger skipped: constraints unmet", logx.String("name", req.Name), logx.String("unmet", reason))
		if s.bus != nil {
			s.bus.Publish(eventbus.Event{Type: EventTriggerSkipped, Data: SkipEvent{Name: req.Name, Unmet: unmet}})
		}
		return nil
	}
	s.mu.Lock()
	d.lastSkip = ""
	s.mu.Unlock()

	if s.engine == nil {
		return engine.ErrStopped
	}
	_, err := s.engine.Enqueue(engine.Task{Name: req.Name, Timeout: req.Timeout, Run: job})
	if err != nil {
		s.reportEnqueueError(req.Name, err)
	}
	return err
}

func (s *Service) unmet(req Request) []string {
	if s.probe == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()
	cond, err := s.probe.Conditions(ctx)
	if err != nil {
		// Unknown conditions never block a run.
		s.log.Warn("host condition probe failed", logx.String("name", req.Name), logx.Err(err))
		return nil
	}
	return constraints.Check(req.Constraints, cond)
}

func (s *Service) reportEnqueueError(name string, err error) {
	now := time.Now()
	s.enqMu.Lock()
	last := s.lastEnqWarn[name]
	if !last.IsZero() && now.Sub(last) < enqueueWarnThrottle {
		s.enqMu.Unlock()
		return
	}
	s.lastEnqWarn[name] = now
	s.enqMu.Unlock()
	s.log.Warn("schedule failed to enqueue task", logx.String("schedule", name), logx.Err(err))
}

func (s *Service) startLocked() {
	s.loc = s.loadLocationLocked()
	s.c = cron.New(cron.WithLocation(s.loc))
	for _, d := range s.defs {
		s.registerLocked(d)
	}
	s.c.Start()
}

func (s *Service) restartLocked() {
	<-s.c.Stop().Done()
	s.startLocked()
	s.log.Info("scheduler restarted", logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.defs)))
}

func (s *Service) registerLocked(d *periodic) {
	sched, spread := newSpreadSchedule(d.req.Every, time.Now().In(s.loc), d.req.Name)
	d.spread = spread
	d.entryID = s.c.Schedule(sched, cron.FuncJob(func() { _ = s.fire(d) }))
}

func (s *Service) removeLocked(name string) bool {
	d, ok := s.defs[name]
	if !ok {
		return false
	}
	if s.c != nil && d.entryID != 0 {
		s.c.Remove(d.entryID)
	}
	delete(s.defs, name)
	return true
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
