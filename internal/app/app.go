package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"bgsync/internal/channel"
	"bgsync/internal/config"
	"bgsync/internal/constraints"
	"bgsync/internal/delegate"
	"bgsync/internal/eventbus"
	"bgsync/internal/eventlog"
	"bgsync/internal/handoff"
	"bgsync/internal/notifier"
	"bgsync/internal/runtime/supervisor"
	"bgsync/internal/storage"
	"bgsync/internal/syncguard"
	"bgsync/internal/task/engine"
	"bgsync/internal/task/scheduler"
	"bgsync/internal/transport/telegram"
	logx "bgsync/pkg/logx"
	"bgsync/pkg/systemd"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   *eventbus.MemBus
	store storage.Store

	events   *eventlog.Log
	sessions *eventlog.Tracker

	owner  *handoff.Owner
	coord  *handoff.Coordinator
	engine *engine.Service
	sched  *scheduler.Service
	ch     *channel.Channel
	tg     *telegram.Service
	alerts *notifier.Service

	notify *systemd.Notifier
	units  *systemd.Units
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	appLog := log.Component("app")

	store, err := storage.Open(mapStorageConfig(cfg), log.Component("storage"))
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	if store != nil {
		appLog.Info("storage enabled", logx.String("driver", cfg.Storage.Driver))
	} else {
		appLog.Warn("storage disabled; the event log and preferences are not persisted")
	}

	loc := time.Local
	if tz := strings.TrimSpace(cfg.EventLog.Timezone); tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
		}
	}
	events := eventlog.New(eventlog.Options{
		Capacity: cfg.EventLog.Capacity,
		Store:    store,
		Logger:   log.Component("eventlog"),
		Location: loc,
	})
	sessions := eventlog.NewTracker(events, cfg.EventLog.MaxSessions)

	bus := eventbus.New()
	notify := systemd.NewNotifier()
	var units *systemd.Units
	if strings.TrimSpace(cfg.Host.ForegroundUnit) != "" {
		units = systemd.NewUnits(userBus())
	}

	owner := handoff.NewOwner(cfg.Handoff.OwnerQueue, log.Component("handoff.owner"))
	coord := handoff.New(mapHandoffConfig(cfg), handoff.Deps{
		Guard:    syncguard.New(),
		Journal:  sessions,
		Owner:    owner,
		Delegate: delegate.NewExec(mapDelegateConfig(cfg), log.Component("delegate")),
		Promoter: mapPromoter(cfg, notify, log.Component("promoter")),
		Probe:    mapForegroundProbe(cfg, units),
		Bus:      bus,
		Logger:   log.Component("handoff"),
	})

	eng := engine.New(mapEngineConfig(cfg), log.Component("engine"), bus)
	sched := scheduler.New(mapSchedulerConfig(cfg), eng, mapConditionProbe(cfg), log.Component("scheduler"), bus)

	a := &App{
		cfgm:     cfgm,
		log:      appLog,
		logs:     logSvc,
		bus:      bus,
		store:    store,
		events:   events,
		sessions: sessions,
		owner:    owner,
		coord:    coord,
		engine:   eng,
		sched:    sched,
		notify:   notify,
		units:    units,
	}

	a.ch = channel.New(channel.Deps{
		Scheduler: sched,
		Prefs:     constraints.NewStore(store),
		Log:       events,
		Job:       a.runSync,
		Timeout:   func() time.Duration { return runTimeout(a.cfgm.Get()) },
		Logger:    log.Component("channel"),
	})

	if strings.TrimSpace(cfg.Telegram.Token) != "" {
		tg, err := telegram.New(telegram.Config{
			Token:       cfg.Telegram.Token,
			PollTimeout: cfg.Telegram.Poll(),
			Owners:      cfg.Telegram.OwnerUserIDs,
		}, telegram.Deps{
			Channel:   a.ch,
			Log:       events,
			Runs:      coord,
			Schedules: sched,
		}, log)
		if err != nil {
			a.closeEarly()
			return nil, fmt.Errorf("telegram: %w", err)
		}
		a.tg = tg
		logSvc.SetSender(tg.Sender())
		a.alerts = notifier.New(mapAlertsConfig(cfg), tg.Sender(), log.Component("alerts"), bus)
	}
	return a, nil
}

func (a *App) closeEarly() {
	if a.store != nil {
		_ = a.store.Close()
	}
	if a.units != nil {
		a.units.Close()
	}
	_ = a.logs.Close()
}

// Channel is the command surface of the running daemon.
func (a *App) Channel() *channel.Channel { return a.ch }

// runSync is the periodic job: one coordinated handoff. Skips count as
// success.
func (a *App) runSync(ctx context.Context) error {
	res := a.coord.Run(ctx)
	if !res.OK() {
		return res.Err
	}
	return nil
}

// Done is closed when the app supervisor context is cancelled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.Component("config"))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if a.tg == nil && strings.TrimSpace(cfg.Telegram.Token) != "" {
			a.log.Warn("telegram token added; restart required to enable the command surface")
		}
		return nil
	})

	// Every run fails with ErrOwnerStopped once the owner loop is gone, so
	// an early exit is fatal.
	a.sup.Go("handoff.owner", func(c context.Context) error {
		if err := a.owner.Run(c); err != nil {
			return err
		}
		if c.Err() == nil {
			return errors.New("owner loop exited")
		}
		return nil
	})

	a.engine.Start(a.sup.Context())
	a.sched.Start(a.sup.Context())

	if ok, err := a.ch.Restore(a.sup.Context()); err != nil {
		a.log.Error("restoring background sync failed", logx.Err(err))
	} else if !ok {
		a.log.Info("background sync not scheduled")
	}

	if a.tg != nil {
		if err := a.tg.Start(a.sup.Context()); err != nil {
			return err
		}
		a.alerts.Start(a.sup.Context())
	}

	a.sup.Go0("systemd.status", a.statusLoop)
	a.sup.Go("systemd.watchdog", a.notify.Watchdog)
	a.sup.Go0("config.reload", a.reloadLoop)
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.notify.Ready()
	a.notify.Status("idle")
	a.log.Info("app started")
	return nil
}

// statusLoop mirrors run lifecycle events onto the systemd status line and
// the debug log.
func (a *App) statusLoop(ctx context.Context) {
	events, unsub := a.bus.Subscribe(64,
		handoff.EventStarted, handoff.EventSkipped, handoff.EventFinished,
		scheduler.EventTriggerSkipped, engine.EventDropped,
	)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			if s := statusLine(e); s != "" {
				a.notify.Status(s)
			}
		}
	}
}

func (a *App) reloadLoop(ctx context.Context) {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			a.applyConfig(ctx, last, next)
			last = next
		}
	}
}

func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	changes := config.Changes(prev, next)
	if len(changes) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	a.notify.Reloading()
	defer a.notify.Ready()

	a.logs.Apply(mapLogConfig(next))
	a.coord.Apply(mapHandoffConfig(next))
	a.engine.Apply(ctx, mapEngineConfig(next))
	a.sched.Apply(mapSchedulerConfig(next))
	if a.tg != nil {
		a.tg.SetOwners(next.Telegram.OwnerUserIDs)
		a.alerts.Apply(mapAlertsConfig(next))
	}
	// The run budget is baked into the registration; refresh it.
	if slices.Contains(changes, "scheduler") || slices.Contains(changes, "handoff") {
		if _, err := a.ch.Restore(ctx); err != nil {
			a.log.Warn("re-registering background sync failed", logx.Err(err))
		}
	}

	if r := config.RestartRequired(changes); len(r) > 0 {
		a.log.Warn("config sections changed that need a restart", logx.String("sections", strings.Join(r, ",")))
	}
	a.log.Info("config reloaded", logx.String("changed", strings.Join(changes, ",")))
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.notify.Stopping()

	// Cancel the run context so background loops start unwinding immediately.
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		if dl, ok := ctx.Deadline(); ok {
			max = min(max, time.Until(dl))
		}
		if max <= 0 {
			a.log.Warn("stop step skipped (deadline reached)", logx.String("name", name))
			return
		}
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("engine", 2*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	if a.tg != nil {
		step("alerts", time.Second, a.alerts.Stop)
		step("telegram", 3*time.Second, a.tg.Stop)
	}
	step("supervisor", 2*time.Second, a.sup.Wait)
	step("eventlog", time.Second, func(context.Context) error { a.events.Flush(); return nil })
	step("storage", time.Second, func(context.Context) error {
		if a.units != nil {
			a.units.Close()
		}
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	return a.logs.Close()
}
