package handoff

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"bgsync/internal/eventbus"
	"bgsync/internal/eventlog"
	"bgsync/internal/syncguard"
	logx "bgsync/pkg/logx"

	"github.com/google/uuid"
)

const (
	DefaultBootstrapTimeout  = 30 * time.Second
	DefaultCompletionTimeout = 10 * time.Minute
	DefaultPromoteGrace      = 5 * time.Second
	DefaultSessionName       = "BackgroundSync"
)

// Bus event types published for every run.
const (
	EventStarted  = "sync.started"
	EventSkipped  = "sync.skipped"
	EventFinished = "sync.finished"
)

// State is the coordinator state machine position.
type State int32

const (
	StateIdle State = iota
	StateAcquired
	StateBootstrapPending
	StateBootstrapDone
	StateBootstrapFailed
	StateBootstrapTimedOut
	StateAwaitingCompletion
	StateCompleted
	StateCompletionTimedOut
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAcquired:
		return "acquired"
	case StateBootstrapPending:
		return "bootstrap_pending"
	case StateBootstrapDone:
		return "bootstrap_done"
	case StateBootstrapFailed:
		return "bootstrap_failed"
	case StateBootstrapTimedOut:
		return "bootstrap_timed_out"
	case StateAwaitingCompletion:
		return "awaiting_completion"
	case StateCompleted:
		return "completed"
	case StateCompletionTimedOut:
		return "completion_timed_out"
	default:
		return "unknown"
	}
}

// Outcome classifies a finished run.
type Outcome int

const (
	OutcomeSucceeded Outcome = iota
	OutcomeFailed
	OutcomeSkippedOverlap
	OutcomeSkippedForeground
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeFailed:
		return "failed"
	case OutcomeSkippedOverlap:
		return "skipped_overlap"
	case OutcomeSkippedForeground:
		return "skipped_foreground"
	default:
		return "unknown"
	}
}

// Result is what a run reports to its scheduler. Skipped runs count as
// success but stay distinguishable.
type Result struct {
	RunID     string
	Outcome   Outcome
	SessionID int64
	Err       error
	Started   time.Time
	Duration  time.Duration
}

func (r Result) OK() bool      { return r.Outcome != OutcomeFailed }
func (r Result) Skipped() bool { return r.Outcome == OutcomeSkippedOverlap || r.Outcome == OutcomeSkippedForeground }

// RunEvent is the payload of the bus events.
type RunEvent struct {
	RunID     string        `json:"run_id"`
	SessionID int64         `json:"session_id,omitempty"`
	Outcome   string        `json:"outcome,omitempty"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration,omitempty"`
}

// Config holds the hot-reloadable timing knobs.
type Config struct {
	BootstrapTimeout  time.Duration
	CompletionTimeout time.Duration
	PromoteGrace      time.Duration
	SessionName       string
}

func (c Config) normalize() Config {
	if c.BootstrapTimeout <= 0 {
		c.BootstrapTimeout = DefaultBootstrapTimeout
	}
	if c.CompletionTimeout <= 0 {
		c.CompletionTimeout = DefaultCompletionTimeout
	}
	if c.PromoteGrace <= 0 {
		c.PromoteGrace = DefaultPromoteGrace
	}
	if c.SessionName == "" {
		c.SessionName = DefaultSessionName
	}
	return c
}

// Deps are the collaborators of a Coordinator. Promoter, Probe and Bus are optional.
type Deps struct {
	Guard    *syncguard.Guard
	Journal  Journal
	Owner    *Owner
	Delegate Delegate
	Promoter Promoter
	Probe    ForegroundProbe
	Bus      eventbus.Bus
	Logger   logx.Logger
}

// Coordinator runs the two-phase handoff. It is safe to call Run from several
// goroutines; the guard lets only one of them do work.
type Coordinator struct {
	d   Deps
	log logx.Logger
	cfg atomic.Pointer[Config]

	state atomic.Int32

	lastMu sync.Mutex
	last   Result
	hasRun bool
}

func New(cfg Config, d Deps) *Coordinator {
	if d.Guard == nil {
		d.Guard = syncguard.New()
	}
	if d.Logger.IsZero() {
		d.Logger = logx.Nop()
	}
	c := &Coordinator{d: d, log: d.Logger}
	c.Apply(cfg)
	return c
}

// Apply swaps the timing configuration. Runs already in flight keep the
// values they started with.
func (c *Coordinator) Apply(cfg Config) {
	n := cfg.normalize()
	c.cfg.Store(&n)
}

func (c *Coordinator) Config() Config { return *c.cfg.Load() }

func (c *Coordinator) State() State { return State(c.state.Load()) }

// Last returns the most recent result, if any run has finished.
func (c *Coordinator) Last() (Result, bool) {
	c.lastMu.Lock()
	defer c.lastMu.Unlock()
	return c.last, c.hasRun
}

func (c *Coordinator) setState(s State) { c.state.Store(int32(s)) }

// Run executes one background sync. ctx is only consulted by the foreground
// probe; once work has been handed to the owner loop, only the phase signals
// or their timers end the waits.
func (c *Coordinator) Run(ctx context.Context) Result {
	cfg := c.Config()
	res := Result{RunID: uuid.NewString(), Started: time.Now()}
	log := c.log.With(logx.String("run_id", res.RunID))

	if c.d.Probe != nil {
		fg, err := c.d.Probe.Foreground(ctx)
		if err != nil {
			log.Warn("foreground probe failed; assuming background", logx.Err(err))
		} else if fg {
			log.Info("skipping background sync as app is in foreground")
			return c.finishSkipped(res, OutcomeSkippedForeground)
		}
	}

	release, ok := c.d.Guard.Acquire()
	if !ok {
		log.Info("skipping background sync as another one is in progress")
		return c.finishSkipped(res, OutcomeSkippedOverlap)
	}
	defer release()
	defer c.setState(StateIdle)
	c.setState(StateAcquired)

	sid := c.d.Journal.StartSession(cfg.SessionName)
	res.SessionID = sid
	log = log.With(logx.Int64("session", sid))
	c.publish(EventStarted, RunEvent{RunID: res.RunID, SessionID: sid})

	err := c.drive(cfg, sid, log)

	res.Duration = time.Since(res.Started)
	if err != nil {
		res.Outcome = OutcomeFailed
		res.Err = err
		c.d.Journal.Log(eventlog.LevelError, "Background sync failed: "+err.Error(), sid)
	} else {
		res.Outcome = OutcomeSucceeded
		c.d.Journal.Log(eventlog.LevelInfo, "Background sync completed", sid)
	}
	c.d.Journal.EndSession(sid, err == nil)
	log.Info("background sync finished", logx.String("outcome", res.Outcome.String()), logx.Duration("took", res.Duration), logx.Err(err))

	c.record(res)
	c.publish(EventFinished, RunEvent{
		RunID:     res.RunID,
		SessionID: sid,
		Outcome:   res.Outcome.String(),
		Error:     errString(err),
		Duration:  res.Duration,
	})
	return res
}

// drive performs promotion and both phases. The guard is held by the caller.
func (c *Coordinator) drive(cfg Config, sid int64, log logx.Logger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("background sync panicked", logx.Any("panic", r))
			err = fmt.Errorf("handoff: panic: %v", r)
		}
	}()

	unpromote, err := c.promote(cfg.PromoteGrace)
	if err != nil {
		return err
	}
	defer unpromote()

	c.setState(StateBootstrapPending)
	c.d.Journal.Log(eventlog.LevelInfo, "Bootstrapping background task", sid)
	inst, err := c.bootstrap(cfg.BootstrapTimeout, log)
	if err != nil {
		if errors.Is(err, ErrBootstrapTimeout) {
			c.setState(StateBootstrapTimedOut)
		} else {
			c.setState(StateBootstrapFailed)
		}
		return err
	}
	c.setState(StateBootstrapDone)
	c.d.Journal.Log(eventlog.LevelInfo, "Background task started; awaiting completion", sid)

	c.setState(StateAwaitingCompletion)
	err = c.complete(inst, cfg.CompletionTimeout, log)
	if errors.Is(err, ErrCompletionTimeout) {
		c.setState(StateCompletionTimedOut)
	} else {
		c.setState(StateCompleted)
	}
	return err
}

func (c *Coordinator) promote(grace time.Duration) (func(), error) {
	noop := func() {}
	if c.d.Promoter == nil {
		return noop, nil
	}

	type promoted struct {
		release func()
		err     error
	}
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	var (
		mu       sync.Mutex
		gaveUp   bool
		resultCh = make(chan promoted, 1)
	)
	go func() {
		rel, err := c.d.Promoter.Promote(ctx)
		mu.Lock()
		defer mu.Unlock()
		if gaveUp {
			// Too late: undo a promotion nobody will release.
			if err == nil && rel != nil {
				rel()
			}
			return
		}
		resultCh <- promoted{release: rel, err: err}
	}()

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case p := <-resultCh:
		if p.err != nil {
			return noop, fmt.Errorf("%w: %v", ErrPromotion, p.err)
		}
		if p.release == nil {
			return noop, nil
		}
		var once sync.Once
		return func() { once.Do(p.release) }, nil
	case <-timer.C:
		mu.Lock()
		gaveUp = true
		mu.Unlock()
		select {
		case p := <-resultCh:
			if p.err == nil && p.release != nil {
				p.release()
			}
		default:
		}
		return noop, fmt.Errorf("%w: not promoted within %s", ErrPromotion, grace)
	}
}

type bootResult struct {
	inst Instance
	err  error
}

// bootstrap is phase 1: post the delegate's Bootstrap to the owner loop and
// wait for it, bounded by timeout.
func (c *Coordinator) bootstrap(timeout time.Duration, log logx.Logger) (Instance, error) {
	taskCtx, abandon := context.WithCancel(context.Background())

	var (
		mu       sync.Mutex
		gaveUp   bool
		resultCh = make(chan bootResult, 1)
	)
	err := c.d.Owner.Post(taskCtx, "bootstrap", func() {
		inst, err := safeBootstrap(taskCtx, c.d.Delegate)
		mu.Lock()
		defer mu.Unlock()
		if gaveUp {
			if inst != nil {
				log.Warn("late bootstrap discarded")
				abandonInstance(inst)
			}
			return
		}
		resultCh <- bootResult{inst: inst, err: err}
	})
	if err != nil {
		abandon()
		return nil, fmt.Errorf("%w: %w", ErrBootstrapFailed, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case r := <-resultCh:
		abandon()
		if r.err != nil {
			return nil, fmt.Errorf("%w: %w", ErrBootstrapFailed, r.err)
		}
		if r.inst == nil {
			return nil, fmt.Errorf("%w: delegate returned no instance", ErrBootstrapFailed)
		}
		return r.inst, nil
	case <-timer.C:
		mu.Lock()
		gaveUp = true
		mu.Unlock()
		// Tell the owner to drop the task if it has not started yet.
		abandon()
		select {
		case r := <-resultCh:
			// Delivered right at the deadline: the run is still a timeout.
			if r.inst != nil {
				c.postAbandon(r.inst, log)
			}
		default:
		}
		return nil, fmt.Errorf("%w after %s", ErrBootstrapTimeout, timeout)
	}
}

// complete is phase 2: register the completion callback on the owner loop and
// wait for it, bounded by timeout. A callback after the deadline is ignored.
func (c *Coordinator) complete(inst Instance, timeout time.Duration, log logx.Logger) error {
	var (
		mu     sync.Mutex
		gaveUp bool
		fired  bool
		doneCh = make(chan error, 1)
	)
	callback := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		if fired {
			return
		}
		fired = true
		if gaveUp {
			log.Warn("late completion ignored", logx.Err(err))
			return
		}
		doneCh <- err
	}

	taskCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := c.d.Owner.Post(taskCtx, "register_completion", func() { inst.OnComplete(callback) }); err != nil {
		abandonInstance(inst)
		return fmt.Errorf("%w: %w", ErrCompletionFailed, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case err := <-doneCh:
		if err != nil {
			return fmt.Errorf("%w: %w", ErrCompletionFailed, err)
		}
		return nil
	case <-timer.C:
		mu.Lock()
		gaveUp = true
		mu.Unlock()
		cancel()
		c.postAbandon(inst, log)
		return fmt.Errorf("%w after %s", ErrCompletionTimeout, timeout)
	}
}

func (c *Coordinator) postAbandon(inst Instance, log logx.Logger) {
	if _, ok := inst.(Abandoner); !ok {
		return
	}
	if err := c.d.Owner.Post(context.Background(), "abandon", func() { abandonInstance(inst) }); err != nil {
		// The owner is gone or saturated; discard from here instead.
		log.Warn("abandon not posted; discarding inline", logx.Err(err))
		abandonInstance(inst)
	}
}

func (c *Coordinator) finishSkipped(res Result, outcome Outcome) Result {
	res.Outcome = outcome
	res.Duration = time.Since(res.Started)
	c.record(res)
	c.publish(EventSkipped, RunEvent{RunID: res.RunID, Outcome: outcome.String()})
	return res
}

func (c *Coordinator) record(res Result) {
	c.lastMu.Lock()
	c.last = res
	c.hasRun = true
	c.lastMu.Unlock()
}

func (c *Coordinator) publish(typ string, ev RunEvent) {
	if c.d.Bus == nil {
		return
	}
	c.d.Bus.Publish(eventbus.Event{Type: typ, Data: ev})
}

func safeBootstrap(ctx context.Context, d Delegate) (inst Instance, err error) {
	defer func() {
		if r := recover(); r != nil {
			inst, err = nil, fmt.Errorf("bootstrap panic: %v", r)
		}
	}()
	return d.Bootstrap(ctx)
}

func abandonInstance(inst Instance) {
	if a, ok := inst.(Abandoner); ok {
		defer func() { _ = recover() }()
		a.Abandon()
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
