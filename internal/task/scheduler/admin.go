package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"triptimer/internal/action"
	"triptimer/internal/jobs"
	"triptimer/internal/trips"
	logx "triptimer/pkg/logx"
)

// InitializeAll registers jobs for every subject departing in the future. It
// keeps going past per-subject failures and returns them joined.
func (s *Scheduler) InitializeAll(ctx context.Context) (int, error) {
	subs, err := s.deps.Subjects.ListUpcoming(ctx, s.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("list upcoming subjects: %w", err)
	}

	var (
		n    int
		errs []error
	)
	for _, sub := range subs {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		js, err := s.scheduleSubject(ctx, sub)
		n += len(js)
		if err != nil {
			errs = append(errs, fmt.Errorf("subject %s: %w", sub.ID, err))
		}
	}
	s.log.Info("jobs initialized", logx.Int("subjects", len(subs)), logx.Int("jobs", n), logx.Int("errors", len(errs)))
	return n, errors.Join(errs...)
}

// ScheduleFor registers or refreshes the jobs of one subject: a departure
// notification per delivery target of its owner and, for trains, a metadata
// refresh. A subject that already departed gets nothing.
func (s *Scheduler) ScheduleFor(ctx context.Context, subjectID string) ([]jobs.Job, error) {
	sub, err := s.deps.Subjects.GetSubject(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	return s.scheduleSubject(ctx, sub)
}

func (s *Scheduler) scheduleSubject(ctx context.Context, sub trips.Subject) ([]jobs.Job, error) {
	if !sub.DepartureAt.After(s.clock.Now()) {
		s.log.Debug("subject already departed; nothing to schedule", logx.String("subject_id", sub.ID))
		return nil, nil
	}
	due := sub.DepartureAt.Add(-s.cfg.Lead)

	targets, err := s.deps.Targets.ListTargetsFor(ctx, sub.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}

	var (
		out  []jobs.Job
		errs []error
	)
	for _, t := range dedupeTargets(targets) {
		j, err := s.Schedule(ctx, Request{SubjectID: sub.ID, TargetID: t.ID, Variant: jobs.NotifyDeparture, DueTime: due})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, j)
	}
	if sub.HasMetadata() {
		j, err := s.Schedule(ctx, Request{SubjectID: sub.ID, Variant: jobs.RefreshMetadata, DueTime: due})
		if err != nil {
			errs = append(errs, err)
		} else {
			out = append(out, j)
		}
	}
	return out, errors.Join(errs...)
}

// RunNow performs the action right away, bypassing timers and job status. An
// empty targetID refreshes metadata; otherwise the target is notified.
func (s *Scheduler) RunNow(ctx context.Context, subjectID, targetID string) (action.Result, error) {
	sub, err := s.deps.Subjects.GetSubject(ctx, subjectID)
	if err != nil {
		return action.Result{}, err
	}
	v := jobs.NotifyDeparture
	if strings.TrimSpace(targetID) == "" {
		v = jobs.RefreshMetadata
	}
	j := jobs.New(sub.ID, targetID, v, sub.DepartureAt.Add(-s.cfg.Lead))
	start := s.clock.Now()
	res := s.deps.Executor.Perform(ctx, j)
	res.Took = s.clock.Now().Sub(start)
	s.log.Info("manual run finished",
		logx.String("job_key", j.Key),
		logx.String("outcome", string(res.Outcome)),
		logx.String("old", res.OldValue),
		logx.String("new", res.NewValue),
	)
	return res, nil
}

func (s *Scheduler) ListPendingJobs(ctx context.Context) ([]jobs.Job, error) {
	return s.deps.Store.ListPending(ctx)
}

// dedupeTargets keeps the first target per channel endpoint. Targets come
// oldest first, so a user who subscribed the same device twice is notified
// once through the original subscription.
func dedupeTargets(ts []trips.Target) []trips.Target {
	seen := make(map[string]struct{}, len(ts))
	out := make([]trips.Target, 0, len(ts))
	for _, t := range ts {
		k := string(t.Channel) + "|" + strings.TrimSpace(t.Endpoint)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, t)
	}
	return out
}
