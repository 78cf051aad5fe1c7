package queue

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector exposes queue daemon metrics in Prometheus format. Each
// daemon carries its own registry so tests can build collectors freely.
type Collector struct {
	registry *prometheus.Registry

	tasksSubmitted prometheus.Counter
	tasksConfirmed prometheus.Counter
	tasksCompleted prometheus.Counter
	tasksFailed    prometheus.Counter
	tasksExpired   prometheus.Counter
	tasksRequeued  prometheus.Counter
	emailsQueued   prometheus.Counter

	tasksPending      prometheus.Gauge
	tasksInFlight     prometheus.Gauge
	confirmationsOpen prometheus.Gauge
}

func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		tasksSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "numerus_tasks_submitted_total",
			Help: "Total number of run requests submitted",
		}),
		tasksConfirmed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "numerus_tasks_confirmed_total",
			Help: "Total number of run requests confirmed onto the queue",
		}),
		tasksCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "numerus_tasks_completed_total",
			Help: "Total number of tasks completed by workers",
		}),
		tasksFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "numerus_tasks_failed_total",
			Help: "Total number of tasks that exhausted their retry budget",
		}),
		tasksExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "numerus_tasks_expired_total",
			Help: "Total number of in-flight tasks reclaimed after missed heartbeats",
		}),
		tasksRequeued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "numerus_tasks_requeued_total",
			Help: "Total number of failed tasks returned to the queue for retry",
		}),
		emailsQueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "numerus_emails_queued_total",
			Help: "Total number of emails handed to the dispatcher",
		}),
		tasksPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "numerus_tasks_pending",
			Help: "Current number of tasks awaiting a worker",
		}),
		tasksInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "numerus_tasks_in_flight",
			Help: "Current number of tasks leased to workers",
		}),
		confirmationsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "numerus_confirmations_open",
			Help: "Current number of unconfirmed run requests",
		}),
	}

	c.registry.MustRegister(
		c.tasksSubmitted, c.tasksConfirmed, c.tasksCompleted,
		c.tasksFailed, c.tasksExpired, c.tasksRequeued, c.emailsQueued,
		c.tasksPending, c.tasksInFlight, c.confirmationsOpen,
	)
	return c
}

// Handler returns the HTTP handler serving the metrics endpoint.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) RecordSubmitted() { c.tasksSubmitted.Inc() }
func (c *Collector) RecordConfirmed() { c.tasksConfirmed.Inc() }
func (c *Collector) RecordCompleted() { c.tasksCompleted.Inc() }
func (c *Collector) RecordFailed()    { c.tasksFailed.Inc() }
func (c *Collector) RecordExpired()   { c.tasksExpired.Inc() }
func (c *Collector) RecordRequeued()  { c.tasksRequeued.Inc() }
func (c *Collector) RecordEmail()     { c.emailsQueued.Inc() }

// SetQueueDepths refreshes the stage gauges.
func (c *Collector) SetQueueDepths(pending, inflight, confirmations int) {
	c.tasksPending.Set(float64(pending))
	c.tasksInFlight.Set(float64(inflight))
	c.confirmationsOpen.Set(float64(confirmations))
}
