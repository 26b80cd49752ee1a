// Package metrics exposes scheduler activity as Prometheus collectors. It
// learns everything from the event bus and never calls into the core.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"triptimer/internal/eventbus"
	"triptimer/internal/task/engine"
)

const namespace = "triptimer"

// Gauges are sampled on scrape.
type Gauges struct {
	ArmedTimers func() int
	QueueLen    func() int
	InFlight    func() int
}

type Metrics struct {
	reg *prometheus.Registry

	scheduled      prometheus.Counter
	canceled       prometheus.Counter
	executions     *prometheus.CounterVec
	duplicates     prometheus.Counter
	targetsRemoved prometheus.Counter
	recovered      prometheus.Counter
	tasks          *prometheus.CounterVec
	taskDuration   prometheus.Histogram
}

func New(g Gauges) *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		scheduled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "jobs_scheduled_total",
			Help: "Timers armed for pending jobs.",
		}),
		canceled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "jobs_canceled_total",
			Help: "Timers canceled before firing.",
		}),
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "job_executions_total",
			Help: "Finished job executions by variant and outcome.",
		}, []string{"variant", "outcome"}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "job_duplicate_attempts_total",
			Help: "Executions skipped because the job had already finished or was rescheduled.",
		}),
		targetsRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "delivery_targets_removed_total",
			Help: "Delivery targets deleted after a permanent rejection.",
		}),
		recovered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "recovery_jobs_total",
			Help: "Pending jobs touched by startup recovery.",
		}),
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "engine", Name: "tasks_total",
			Help: "Task engine results.",
		}, []string{"result"}),
		taskDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "engine", Name: "task_duration_seconds",
			Help:    "Execution time of fired jobs.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
	}
	m.reg.MustRegister(
		m.scheduled, m.canceled, m.executions, m.duplicates,
		m.targetsRemoved, m.recovered, m.tasks, m.taskDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m.gauge("armed_timers", "Live timers in the registry.", g.ArmedTimers)
	m.gauge("engine_queue_length", "Fired jobs waiting for a worker.", g.QueueLen)
	m.gauge("engine_in_flight", "Fired jobs being executed.", g.InFlight)
	return m
}

func (m *Metrics) gauge(name, help string, f func() int) {
	if f == nil {
		return
	}
	m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace, Name: name, Help: help,
	}, func() float64 { return float64(f()) }))
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Run consumes bus events until ctx is done.
func (m *Metrics) Run(ctx context.Context, bus eventbus.Bus) error {
	ch, unsub := bus.Subscribe(256)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			m.Observe(e)
		}
	}
}

func (m *Metrics) Observe(e eventbus.Event) {
	switch e.Type {
	case eventbus.JobScheduled:
		m.scheduled.Inc()
	case eventbus.JobCanceled:
		m.canceled.Inc()
	case eventbus.JobFinished:
		if je, ok := e.Data.(eventbus.JobEvent); ok {
			m.executions.WithLabelValues(je.Variant, je.Outcome).Inc()
		}
	case eventbus.JobDuplicate:
		m.duplicates.Inc()
	case eventbus.TargetRemoved:
		m.targetsRemoved.Inc()
	case eventbus.RecoveryDone:
		if n, ok := e.Data.(int); ok {
			m.recovered.Add(float64(n))
		}
	case engine.EventTaskFinished, engine.EventTaskFailed, engine.EventTaskDropped:
		m.tasks.WithLabelValues(e.Type[len("task."):]).Inc()
		if te, ok := e.Data.(engine.TaskEvent); ok && e.Type != engine.EventTaskDropped {
			m.taskDuration.Observe(te.Duration.Seconds())
		}
	}
}
