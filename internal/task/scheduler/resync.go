package scheduler

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	logx "triptimer/pkg/logx"
)

var (
	resyncParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	reHHMM       = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)
)

// ParseResync accepts a cron expression ("0 */6 * * *", "@daily"), a Go
// duration ("6h") or an HH:MM interval ("06:00" is every six hours). A
// "cron:" or "every:" prefix forces the kind.
func ParseResync(raw string) (cron.Schedule, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, fmt.Errorf("resync schedule required")
	}
	low := strings.ToLower(s)
	switch {
	case strings.HasPrefix(low, "cron:"):
		return parseCron(strings.TrimSpace(s[len("cron:"):]))
	case strings.HasPrefix(low, "every:"):
		return parseEvery(strings.TrimSpace(s[len("every:"):]))
	case strings.ContainsAny(s, " \t") || strings.HasPrefix(s, "@"):
		return parseCron(s)
	}
	sched, err := parseEvery(s)
	if err != nil {
		return nil, fmt.Errorf("invalid resync schedule %q (use cron like '0 */6 * * *', HH:MM like '06:00', or duration like '6h')", raw)
	}
	return sched, nil
}

func parseCron(expr string) (cron.Schedule, error) {
	if expr == "" {
		return nil, fmt.Errorf("cron expression required")
	}
	return resyncParser.Parse(expr)
}

func parseEvery(v string) (cron.Schedule, error) {
	var d time.Duration
	if m := reHHMM.FindStringSubmatch(v); m != nil {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return nil, fmt.Errorf("invalid minutes in %q", v)
		}
		d = time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
	} else {
		var err error
		if d, err = time.ParseDuration(v); err != nil {
			return nil, fmt.Errorf("invalid interval %q", v)
		}
	}
	if d < time.Minute {
		return nil, fmt.Errorf("resync interval must be at least 1m, got %s", d)
	}
	return cron.Every(d), nil
}

// StartResync periodically re-runs InitializeAll so subjects changed behind
// the host's back still get their jobs. An empty spec disables it.
func (s *Scheduler) StartResync(spec string) error {
	if strings.TrimSpace(spec) == "" {
		return nil
	}
	sched, err := ParseResync(spec)
	if err != nil {
		return err
	}

	c := cron.New(
		cron.WithLocation(s.cfg.Location),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	c.Schedule(sched, cron.FuncJob(s.resyncOnce))

	s.mu.Lock()
	if s.cron != nil {
		s.mu.Unlock()
		return fmt.Errorf("resync already started")
	}
	s.cron = c
	s.mu.Unlock()

	c.Start()
	next := sched.Next(s.clock.Now().In(s.cfg.Location))
	s.log.Info("resync scheduled", logx.String("spec", spec), logx.Time("next", next))
	return nil
}

func (s *Scheduler) resyncOnce() {
	s.mu.Lock()
	ctx := s.baseCtx
	s.mu.Unlock()
	if ctx.Err() != nil {
		return
	}
	n, err := s.InitializeAll(ctx)
	if err != nil {
		s.log.Warn("resync finished with errors", logx.Int("jobs", n), logx.Err(err))
		return
	}
	s.log.Debug("resync finished", logx.Int("jobs", n))
}

func (s *Scheduler) stopResync(ctx context.Context) {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}

// RestartResync swaps the resync schedule, e.g. after a config reload.
func (s *Scheduler) RestartResync(ctx context.Context, spec string) error {
	s.stopResync(ctx)
	return s.StartResync(spec)
}
