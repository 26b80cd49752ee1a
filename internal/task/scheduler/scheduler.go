package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"triptimer/internal/action"
	"triptimer/internal/clock"
	"triptimer/internal/eventbus"
	"triptimer/internal/jobs"
	"triptimer/internal/runtime/keylock"
	"triptimer/internal/task/engine"
	"triptimer/internal/trips"
	logx "triptimer/pkg/logx"
)

const (
	DefaultLead = time.Hour

	dispatchWarnThrottle = 5 * time.Second
)

// Executor runs the action of a due job. Run records the terminal status;
// Perform does not.
type Executor interface {
	Run(ctx context.Context, j jobs.Job) action.Result
	Perform(ctx context.Context, j jobs.Job) action.Result
}

// Dispatcher queues fired jobs for execution. Submit blocks while the queue
// is full.
type Dispatcher interface {
	Submit(ctx context.Context, t engine.Task) error
}

// SubjectSource lists the subjects that anchor jobs.
type SubjectSource interface {
	GetSubject(ctx context.Context, id string) (trips.Subject, error)
	ListUpcoming(ctx context.Context, after time.Time) ([]trips.Subject, error)
}

// TargetSource resolves the delivery targets of a subject's owner.
type TargetSource interface {
	ListTargetsFor(ctx context.Context, ownerID string) ([]trips.Target, error)
}

type Config struct {
	// Lead is subtracted from the departure to get the due time.
	Lead time.Duration
	// TaskTimeout bounds one fired execution; 0 uses the engine default.
	TaskTimeout time.Duration
	// Location is used for the resync cron.
	Location *time.Location
}

type Deps struct {
	Store      jobs.Store
	Executor   Executor
	Dispatcher Dispatcher
	Subjects   SubjectSource
	Targets    TargetSource
}

// Request identifies one job and when it should run.
type Request struct {
	SubjectID string
	TargetID  string
	Variant   jobs.Variant
	DueTime   time.Time
}

type Scheduler struct {
	cfg   Config
	deps  Deps
	clock clock.Clock
	log   logx.Logger
	bus   eventbus.Bus

	reg   *Registry
	locks *keylock.Striped

	mu      sync.Mutex
	baseCtx context.Context
	cron    *cron.Cron

	enqMu       sync.Mutex
	lastEnqWarn map[string]time.Time
}

type Option func(*Scheduler)

func WithClock(c clock.Clock) Option { return func(s *Scheduler) { s.clock = c } }

func WithBus(b eventbus.Bus) Option { return func(s *Scheduler) { s.bus = b } }

func New(cfg Config, deps Deps, log logx.Logger, opts ...Option) *Scheduler {
	if cfg.Lead <= 0 {
		cfg.Lead = DefaultLead
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	s := &Scheduler{
		cfg:         cfg,
		deps:        deps,
		clock:       clock.Real(),
		log:         log.With(logx.String("comp", "scheduler")),
		bus:         eventbus.Nop(),
		locks:       keylock.New(0),
		baseCtx:     context.Background(),
		lastEnqWarn: map[string]time.Time{},
	}
	for _, o := range opts {
		o(s)
	}
	s.reg = NewRegistry(s.clock)
	return s
}

// Start sets the context fired jobs are submitted and executed under.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()
}

// Stop disarms every timer and the resync cron. Pending rows stay in the
// store for the next Reconcile.
func (s *Scheduler) Stop(ctx context.Context) {
	s.stopResync(ctx)
	armed := s.reg.Len()
	s.reg.Stop()
	s.log.Info("scheduler stopped", logx.Int("disarmed", armed))
}

// Lead is the configured offset before departure.
func (s *Scheduler) Lead() time.Duration { return s.cfg.Lead }

// Armed is the number of live timers.
func (s *Scheduler) Armed() int { return s.reg.Len() }

// Registry exposes the timer registry for inspection.
func (s *Scheduler) Registry() *Registry { return s.reg }

// Schedule stores the job and arms it. A job that is already due runs before
// Schedule returns and the returned job carries its terminal status.
//
// Registering a job whose row is terminal with the same due time is a no-op.
func (s *Scheduler) Schedule(ctx context.Context, req Request) (jobs.Job, error) {
	j := jobs.New(req.SubjectID, req.TargetID, req.Variant, req.DueTime)
	unlock := s.locks.Lock(j.Key)
	defer unlock()

	prev, err := s.deps.Store.Get(ctx, j.Key)
	switch {
	case errors.Is(err, jobs.ErrNotFound):
	case err != nil:
		return jobs.Job{}, err
	case prev.Status.Terminal() && prev.DueTime.Equal(j.DueTime):
		s.reg.Cancel(j.Key)
		return prev, nil
	}

	stored, err := s.deps.Store.Create(ctx, j)
	if err != nil {
		return jobs.Job{}, err
	}
	return s.arm(ctx, stored), nil
}

// Reschedule is Schedule for an existing key; the old timer is replaced.
func (s *Scheduler) Reschedule(ctx context.Context, req Request) (jobs.Job, error) {
	return s.Schedule(ctx, req)
}

// Cancel disarms the timer for key without touching the stored row.
func (s *Scheduler) Cancel(key string) bool {
	unlock := s.locks.Lock(key)
	defer unlock()
	if !s.reg.Cancel(key) {
		return false
	}
	s.bus.Publish(eventbus.Event{Type: eventbus.JobCanceled, Data: eventbus.JobEvent{Key: key}})
	s.log.Debug("job timer canceled", logx.String("job_key", key))
	return true
}

// arm must be called with the key lock held.
func (s *Scheduler) arm(ctx context.Context, j jobs.Job) jobs.Job {
	if !j.DueTime.After(s.clock.Now()) {
		s.reg.Cancel(j.Key)
		res := s.deps.Executor.Run(ctx, j)
		if res.Status != "" {
			j.Status = res.Status
		}
		return j
	}

	job := j
	if !s.reg.Set(j.Key, j.DueTime, func() { s.dispatch(job) }) {
		s.log.Warn("scheduler stopped; job left pending", logx.String("job_key", j.Key))
		return j
	}
	s.bus.Publish(eventbus.Event{Type: eventbus.JobScheduled, Data: eventbus.JobEvent{
		Key:     j.Key,
		Variant: string(j.Variant),
		Status:  string(j.Status),
		DueTime: j.DueTime,
	}})
	s.log.Debug("job armed", logx.String("job_key", j.Key), logx.Time("due", j.DueTime))
	return j
}

// dispatch runs on the timer goroutine and hands the job to the engine.
func (s *Scheduler) dispatch(j jobs.Job) {
	s.mu.Lock()
	ctx := s.baseCtx
	s.mu.Unlock()

	err := s.deps.Dispatcher.Submit(ctx, engine.Task{
		Name:    "job:" + j.Key,
		Timeout: s.cfg.TaskTimeout,
		Run: func(runCtx context.Context) error {
			res := s.deps.Executor.Run(runCtx, j)
			if res.Error != "" && !res.Outcome.Skipped() {
				return fmt.Errorf("%s: %s", res.Outcome, res.Error)
			}
			return nil
		},
	})
	s.reportDispatchError(j.Key, err)
}

// reportDispatchError warns at most once per key per throttle window. The job
// stays pending and is picked up by the next Reconcile.
func (s *Scheduler) reportDispatchError(key string, err error) {
	if err == nil {
		return
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, engine.ErrStopping) || errors.Is(err, engine.ErrStopped) {
		s.log.Debug("fired job not dispatched during shutdown", logx.String("job_key", key), logx.Err(err))
		return
	}

	now := s.clock.Now()
	s.enqMu.Lock()
	last := s.lastEnqWarn[key]
	if !last.IsZero() && now.Sub(last) < dispatchWarnThrottle {
		s.enqMu.Unlock()
		return
	}
	s.lastEnqWarn[key] = now
	s.enqMu.Unlock()

	s.log.Warn("fired job could not be dispatched", logx.String("job_key", key), logx.Err(err))
}
