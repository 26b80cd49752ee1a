package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"triptimer/internal/action"
	"triptimer/internal/adminapi"
	"triptimer/internal/clock"
	"triptimer/internal/config"
	"triptimer/internal/eventbus"
	"triptimer/internal/jobs"
	"triptimer/internal/metadata"
	"triptimer/internal/metrics"
	"triptimer/internal/runtime/supervisor"
	"triptimer/internal/storage"
	"triptimer/internal/task/engine"
	"triptimer/internal/task/scheduler"
	"triptimer/internal/trips"
	logx "triptimer/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus
	db   *storage.DB

	jobs  *jobs.SQLiteStore
	trips *trips.Store

	engine   *engine.Service
	exec     *action.Executor
	sched    *scheduler.Scheduler
	recovery *scheduler.Recovery
	metrics  *metrics.Metrics
	admin    *adminapi.Server
}

// NewApp loads the config and builds every component. Nothing runs until
// Start; one-shot commands may use the app and Close it instead.
func NewApp(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}

	// components tag their own comp field
	logSvc, root := logx.New(mapLogConfig(cfg))
	log := root.With(logx.String("comp", "app"))
	bus := eventbus.New()
	clk := clock.Real()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	db, err := storage.Open(ctx, sc, root.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	// close the db if anything below fails
	ok := false
	defer func() {
		if !ok {
			_ = db.Close()
			_ = logSvc.Close()
		}
	}()

	jobStore := jobs.NewSQLiteStore(db.SQL(), clk, root)
	tripStore := trips.NewStore(db.SQL(), clk)

	engCfg, err := mapTaskEngineConfig(cfg)
	if err != nil {
		return nil, err
	}
	eng := engine.New(engCfg, root, bus)

	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return nil, err
	}
	router, err := buildRouter(cfg, root)
	if err != nil {
		return nil, err
	}

	deps := action.Deps{
		Store:    jobStore,
		Subjects: tripStore,
		Targets:  tripStore,
		Sender:   router,
	}
	if cfg.Metadata.Enabled {
		mc, err := mapMetadataConfig(cfg, schedCfg.Location)
		if err != nil {
			return nil, err
		}
		deps.Metadata = metadata.New(mc, root)
	}
	exec := action.New(deps, root,
		action.WithClock(clk), action.WithLocation(schedCfg.Location), action.WithBus(bus))

	sched := scheduler.New(schedCfg, scheduler.Deps{
		Store:      jobStore,
		Executor:   exec,
		Dispatcher: eng,
		Subjects:   tripStore,
		Targets:    tripStore,
	}, root, scheduler.WithClock(clk), scheduler.WithBus(bus))

	met := metrics.New(metrics.Gauges{
		ArmedTimers: sched.Armed,
		QueueLen:    func() int { return eng.Snapshot().QueueLen },
		InFlight:    func() int { return eng.Snapshot().InFlight },
	})

	a := &App{
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		bus:      bus,
		db:       db,
		jobs:     jobStore,
		trips:    tripStore,
		engine:   eng,
		exec:     exec,
		sched:    sched,
		recovery: scheduler.NewRecovery(sched),
		metrics:  met,
	}
	if cfg.Admin.Enabled {
		a.admin = adminapi.New(mapAdminConfig(cfg), adminapi.Deps{
			Ops:     sched,
			Jobs:    jobStore,
			Audit:   db,
			Metrics: met.Handler(),
			Health:  a.health,
		}, root)
	}
	ok = true
	return a, nil
}

func (a *App) Scheduler() *scheduler.Scheduler { return a.sched }

func (a *App) Trips() *trips.Store { return a.trips }

func (a *App) Jobs() *jobs.SQLiteStore { return a.jobs }

func (a *App) Bus() eventbus.Bus { return a.bus }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
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

// Start brings the scheduler up: engine first, then pending jobs from the
// store, then refresh jobs for every upcoming subject. A failed reconcile
// aborts startup.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return validate(cfg) })

	runCtx := a.sup.Context()

	// metrics first so startup events are counted
	a.sup.Go("metrics", func(c context.Context) error { return a.metrics.Run(c, a.bus) })

	a.engine.Start(runCtx)
	a.sched.Start(runCtx)

	n, err := a.recovery.Reconcile(runCtx)
	if err != nil {
		a.sup.Cancel()
		return fmt.Errorf("recover pending jobs: %w", err)
	}
	a.log.Info("pending jobs recovered", logx.Int("jobs", n))

	if n, err := a.sched.InitializeAll(runCtx); err != nil {
		a.log.Warn("initialize finished with errors", logx.Int("jobs", n), logx.Err(err))
	} else {
		a.log.Info("refresh jobs initialized", logx.Int("jobs", n))
	}

	if err := a.sched.StartResync(a.cfgm.Get().Scheduler.Resync); err != nil {
		a.sup.Cancel()
		return err
	}

	if a.admin != nil {
		a.sup.Go("adminapi", a.admin.Serve)
	}

	a.sup.Go0("eventbus.log", func(c context.Context) {
		events, unsub := a.bus.Subscribe(128)
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// keep only the latest of a burst
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(c, last, newCfg)
				last = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started", logx.Duration("lead", a.sched.Lead()), logx.Int("armed", a.sched.Armed()))
	return nil
}

// applyConfig hot-applies what can change at runtime. Everything else is
// logged as needing a restart.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections := config.SummarizeChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	a.logs.Apply(mapLogConfig(newCfg))

	for _, s := range sections {
		switch s {
		case "logging":
		case "scheduler":
			if oldCfg.Scheduler.Resync != newCfg.Scheduler.Resync {
				if err := a.sched.RestartResync(ctx, newCfg.Scheduler.Resync); err != nil {
					a.log.Warn("resync not restarted", logx.Err(err))
				}
			}
			if oldCfg.Scheduler.Lead != newCfg.Scheduler.Lead || oldCfg.Scheduler.Timezone != newCfg.Scheduler.Timezone {
				a.log.Warn("scheduler lead/timezone changed; restart required")
			}
		default:
			a.log.Warn("config section changed; restart required", logx.String("section", s))
		}
	}
	a.log.Info("config reloaded", logx.String("changed", strings.Join(sections, ",")))
}

func (a *App) health(ctx context.Context) (map[string]any, error) {
	snap := a.engine.Snapshot()
	out := map[string]any{
		"armed":     a.sched.Armed(),
		"queue_len": snap.QueueLen,
		"in_flight": snap.InFlight,
		"workers":   snap.Workers,
	}
	if a.sup != nil {
		out["goroutines"] = a.sup.Snapshot()
	}
	if err := a.db.Ping(ctx); err != nil {
		return out, fmt.Errorf("storage: %w", err)
	}
	return out, nil
}

// Close releases the storage and log sinks of an app that was never
// started.
func (a *App) Close() error {
	err := a.db.Close()
	if a.logs != nil {
		err = errors.Join(err, a.logs.Close())
	}
	return err
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.Close()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// cancel first so background loops start unwinding
	a.sup.Cancel()

	// step runs one shutdown stage with an upper bound so a stuck component
	// can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if max > 0 {
			// never extend the caller's deadline
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem < max {
					max = rem
				}
			}
			if max <= 0 {
				a.log.Warn("stop step skipped; deadline exceeded", logx.String("name", name))
				return
			}
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

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
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
			go func() {
				if err := <-done; err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err))
				}
			}()
		}
	}

	// timers first so nothing new reaches the engine
	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("taskengine", 5*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	step("supervisor", 3*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", 1*time.Second, func(context.Context) error { return a.db.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
