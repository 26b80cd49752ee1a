package scheduler

import (
	"context"
	"fmt"

	"triptimer/internal/eventbus"
	logx "triptimer/pkg/logx"
)

// Recovery brings live timers back in line with the store after a restart.
type Recovery struct {
	s *Scheduler
}

func NewRecovery(s *Scheduler) *Recovery { return &Recovery{s: s} }

// Reconcile runs every overdue pending job and arms a timer for the rest. It
// returns how many jobs it touched. A failure to list pending jobs is
// returned as is; the caller must not start scheduling without that list.
func (r *Recovery) Reconcile(ctx context.Context) (int, error) {
	s := r.s
	start := s.clock.Now()
	pending, err := s.deps.Store.ListPending(ctx)
	if err != nil {
		return 0, fmt.Errorf("reconcile: %w", err)
	}

	var overdue, armed int
	for _, j := range pending {
		if ctx.Err() != nil {
			return overdue + armed, ctx.Err()
		}
		unlock := s.locks.Lock(j.Key)
		if j.DueTime.After(s.clock.Now()) {
			armed++
		} else {
			overdue++
		}
		s.arm(ctx, j)
		unlock()
	}

	n := overdue + armed
	s.bus.Publish(eventbus.Event{Type: eventbus.RecoveryDone, Data: n})
	s.log.Info("recovery done",
		logx.Int("pending", len(pending)),
		logx.Int("ran", overdue),
		logx.Int("armed", armed),
		logx.Duration("took", s.clock.Now().Sub(start)),
	)
	return n, nil
}
