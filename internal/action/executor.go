// Package action performs the side effect of a due job and records its
// terminal status. Failures never escape Run: every path ends in a status
// update or in a logged skip.
package action

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"triptimer/internal/clock"
	"triptimer/internal/delivery"
	"triptimer/internal/eventbus"
	"triptimer/internal/jobs"
	"triptimer/internal/runtime/keylock"
	"triptimer/internal/trips"
	logx "triptimer/pkg/logx"
)

const finalizeTimeout = 5 * time.Second

type Executor struct {
	deps  Deps
	clock clock.Clock
	loc   *time.Location
	log   logx.Logger
	bus   eventbus.Bus
	locks *keylock.Striped
}

type Option func(*Executor)

func WithClock(c clock.Clock) Option { return func(e *Executor) { e.clock = c } }

// WithLocation sets the zone departure times are rendered in.
func WithLocation(loc *time.Location) Option { return func(e *Executor) { e.loc = loc } }

func WithBus(b eventbus.Bus) Option { return func(e *Executor) { e.bus = b } }

func New(deps Deps, log logx.Logger, opts ...Option) *Executor {
	e := &Executor{
		deps:  deps,
		clock: clock.Real(),
		loc:   time.Local,
		log:   log.With(logx.String("comp", "executor")),
		bus:   eventbus.Nop(),
		locks: keylock.New(0),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Run executes j if it is still pending with the same due time, then moves it
// to its terminal status. Runs of one key are serialized; the later one
// observes the terminal row and skips.
func (e *Executor) Run(ctx context.Context, j jobs.Job) (res Result) {
	start := e.clock.Now()
	res = Result{Key: j.Key, Variant: j.Variant}
	due := j.DueTime

	unlock := e.locks.Lock(j.Key)
	defer unlock()
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("job execution panicked",
				logx.String("job_key", j.Key),
				logx.Any("panic", r),
				logx.Stack(string(debug.Stack())),
			)
			res.Outcome = OutcomeTransient
			res.Error = fmt.Sprint("panic: ", r)
			e.finalize(ctx, j.Key, due, &res)
		}
		res.Took = e.clock.Now().Sub(start)
		e.publish(res, due)
	}()

	cur, err := e.deps.Store.Get(ctx, j.Key)
	if err != nil {
		// Without the row there is nothing to finalize. The job stays pending
		// until the next resync or Reconcile arms it again.
		res.Error = err.Error()
		if interrupted(ctx) {
			res.Outcome = OutcomeInterrupted
			e.log.Info("job run interrupted before lookup", logx.String("job_key", j.Key))
			return res
		}
		e.log.Error("job lookup failed; run abandoned", logx.String("job_key", j.Key), logx.Err(err))
		res.Outcome = OutcomeTransient
		return res
	}
	if cur.Status != jobs.StatusPending {
		e.log.Warn("duplicate execution attempt ignored",
			logx.String("job_key", j.Key),
			logx.String("status", string(cur.Status)),
		)
		res.Outcome = OutcomeDuplicate
		res.Status = cur.Status
		return res
	}
	if !due.IsZero() && !cur.DueTime.Equal(due) {
		e.log.Info("job rescheduled since it was armed; run skipped",
			logx.String("job_key", j.Key),
			logx.Time("armed_due", due),
			logx.Time("due", cur.DueTime),
		)
		res.Outcome = OutcomeStale
		return res
	}
	due = cur.DueTime

	out := e.Perform(ctx, cur)
	res.Outcome, res.Error = out.Outcome, out.Error
	res.OldValue, res.NewValue, res.Changed = out.OldValue, out.NewValue, out.Changed
	if res.Outcome == OutcomeTransient && interrupted(ctx) {
		res.Outcome = OutcomeInterrupted
		e.log.Info("job run interrupted; left pending",
			logx.String("job_key", j.Key),
			logx.String("error", res.Error),
		)
		return res
	}
	e.finalize(ctx, j.Key, due, &res)
	return res
}

// interrupted reports a cancellation from outside. A per-task deadline is a
// timeout and stays a transient failure.
func interrupted(ctx context.Context) bool {
	return errors.Is(ctx.Err(), context.Canceled)
}

// finalize records the terminal status even when ctx already expired.
func (e *Executor) finalize(ctx context.Context, key string, due time.Time, res *Result) {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	status := res.Outcome.Status()
	ok, err := e.deps.Store.UpdateStatusIfDue(fctx, key, due, status)
	switch {
	case err != nil:
		e.log.Error("job status update failed", logx.String("job_key", key), logx.String("status", string(status)), logx.Err(err))
	case !ok:
		res.Outcome = OutcomeDuplicate
		return
	default:
		res.Status = status
	}

	fields := []logx.Field{
		logx.String("job_key", key),
		logx.String("outcome", string(res.Outcome)),
	}
	if res.Error != "" {
		fields = append(fields, logx.String("error", res.Error))
	}
	if res.Outcome == OutcomeCompleted {
		e.log.Info("job completed", fields...)
	} else {
		e.log.Warn("job failed", fields...)
	}
}

// Perform runs the action of j without reading or writing job status.
func (e *Executor) Perform(ctx context.Context, j jobs.Job) Result {
	res := Result{Key: j.Key, Variant: j.Variant}
	switch j.Variant {
	case jobs.NotifyDeparture:
		e.notify(ctx, j, &res)
	case jobs.RefreshMetadata:
		e.refresh(ctx, j, &res)
	default:
		res.Outcome = OutcomeLookupFailed
		res.Error = "unknown variant " + string(j.Variant)
	}
	return res
}

func (e *Executor) notify(ctx context.Context, j jobs.Job, res *Result) {
	sub, ok := e.subject(ctx, j.SubjectID, res)
	if !ok {
		return
	}
	target, err := e.deps.Targets.GetTarget(ctx, j.TargetID)
	if err != nil {
		res.Outcome = lookupOutcome(err, trips.ErrTargetNotFound)
		res.Error = err.Error()
		return
	}
	if e.deps.Sender == nil {
		res.Outcome = OutcomeTransient
		res.Error = delivery.ErrChannelDisabled.Error()
		return
	}

	payload := BuildPayload(sub, j.Key, e.clock.Now(), e.loc)
	err = e.deps.Sender.Send(ctx, target, payload)
	switch {
	case err == nil:
		res.Outcome = OutcomeCompleted
	case delivery.IsPermanent(err):
		res.Outcome = OutcomeDeliveryRejected
		res.Error = err.Error()
		e.removeTarget(ctx, target, err)
	default:
		res.Outcome = OutcomeTransient
		res.Error = err.Error()
	}
}

func (e *Executor) removeTarget(ctx context.Context, t trips.Target, cause error) {
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()
	if err := e.deps.Targets.DeleteTarget(dctx, t.ID); err != nil {
		e.log.Error("delete rejected target failed", logx.String("target_id", t.ID), logx.Err(err))
		return
	}
	e.log.Info("delivery target removed",
		logx.String("target_id", t.ID),
		logx.String("owner_id", t.OwnerID),
		logx.String("channel", string(t.Channel)),
		logx.String("reason", cause.Error()),
	)
	e.bus.Publish(eventbus.Event{Type: eventbus.TargetRemoved, Data: t.ID})
}

func (e *Executor) refresh(ctx context.Context, j jobs.Job, res *Result) {
	sub, ok := e.subject(ctx, j.SubjectID, res)
	if !ok {
		return
	}
	res.OldValue = sub.TrainType
	if !sub.HasMetadata() || e.deps.Metadata == nil {
		res.NewValue = sub.TrainType
		res.Outcome = OutcomeCompleted
		return
	}

	v, err := e.deps.Metadata.Fetch(ctx, sub)
	if err != nil {
		res.Outcome = OutcomeTransient
		res.Error = err.Error()
		return
	}
	if v == "" || v == sub.TrainType {
		res.NewValue = sub.TrainType
		res.Outcome = OutcomeCompleted
		return
	}
	if err := e.deps.Subjects.UpdateMetadata(ctx, sub.ID, v); err != nil {
		res.Outcome = lookupOutcome(err, trips.ErrSubjectNotFound)
		res.Error = err.Error()
		return
	}
	res.NewValue = v
	res.Changed = true
	res.Outcome = OutcomeCompleted
	e.log.Info("subject metadata updated",
		logx.String("subject_id", sub.ID),
		logx.String("old", res.OldValue),
		logx.String("new", v),
	)
}

func (e *Executor) subject(ctx context.Context, id string, res *Result) (trips.Subject, bool) {
	sub, err := e.deps.Subjects.GetSubject(ctx, id)
	if err != nil {
		res.Outcome = lookupOutcome(err, trips.ErrSubjectNotFound)
		res.Error = err.Error()
		return trips.Subject{}, false
	}
	return sub, true
}

func lookupOutcome(err, notFound error) Outcome {
	if errors.Is(err, notFound) {
		return OutcomeLookupFailed
	}
	return OutcomeTransient
}

func (e *Executor) publish(res Result, due time.Time) {
	typ := eventbus.JobFinished
	if res.Outcome.Skipped() {
		typ = eventbus.JobDuplicate
	}
	e.bus.Publish(eventbus.Event{Type: typ, Data: eventbus.JobEvent{
		Key:     res.Key,
		Variant: string(res.Variant),
		Status:  string(res.Status),
		Outcome: string(res.Outcome),
		DueTime: due,
	}})
}
