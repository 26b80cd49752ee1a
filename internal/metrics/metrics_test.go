package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"triptimer/internal/eventbus"
	"triptimer/internal/task/engine"
)

func TestObserve(t *testing.T) {
	t.Parallel()
	m := New(Gauges{ArmedTimers: func() int { return 3 }})

	m.Observe(eventbus.Event{Type: eventbus.JobScheduled})
	m.Observe(eventbus.Event{Type: eventbus.JobScheduled})
	m.Observe(eventbus.Event{Type: eventbus.JobFinished, Data: eventbus.JobEvent{Variant: "notify_departure", Outcome: "completed"}})
	m.Observe(eventbus.Event{Type: eventbus.JobDuplicate})
	m.Observe(eventbus.Event{Type: eventbus.TargetRemoved, Data: "x"})
	m.Observe(eventbus.Event{Type: eventbus.RecoveryDone, Data: 4})
	m.Observe(eventbus.Event{Type: engine.EventTaskFailed, Data: engine.TaskEvent{Duration: time.Second}})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.scheduled))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.executions.WithLabelValues("notify_departure", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.duplicates))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.targetsRemoved))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.recovered))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tasks.WithLabelValues("failed")))
}

func TestRunAndHandler(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	m := New(Gauges{ArmedTimers: func() int { return 7 }})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = m.Run(ctx, bus)
		close(done)
	}()

	require.Eventually(t, func() bool {
		bus.Publish(eventbus.Event{Type: eventbus.JobCanceled})
		return testutil.ToFloat64(m.canceled) > 0
	}, time.Second, 10*time.Millisecond)
	cancel()
	<-done

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), "triptimer_armed_timers 7")
	assert.Contains(t, string(body), "triptimer_jobs_canceled_total")
}
