// Package metrics exposes the worker's Prometheus collectors on a private
// registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"maxxit/apps/worker/internal/jobqueue"
)

type Collector struct {
	registry *prometheus.Registry

	claimed        *prometheus.CounterVec
	reclaimed      *prometheus.CounterVec
	claimConflicts *prometheus.CounterVec
	outcomes       *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	routing        *prometheus.CounterVec
	queueDepth     *prometheus.GaugeVec
}

func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		claimed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_jobs_claimed_total",
			Help: "Jobs claimed by this worker",
		}, []string{"kind"}),
		reclaimed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_jobs_reclaimed_total",
			Help: "Stale in-progress jobs returned to idle",
		}, []string{"kind"}),
		claimConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_claim_conflicts_total",
			Help: "Claims lost to another worker",
		}, []string{"kind"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_job_outcomes_total",
			Help: "Classified job outcomes",
		}, []string{"kind", "action"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "worker_job_duration_seconds",
			Help:    "Time spent executing one job",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"kind"}),
		routing: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_routing_decisions_total",
			Help: "Venue routing decisions by selected venue",
		}, []string{"venue"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "worker_queue_depth",
			Help: "Jobs per status at the last poll",
		}, []string{"kind", "status"}),
	}

	c.registry.MustRegister(
		c.claimed,
		c.reclaimed,
		c.claimConflicts,
		c.outcomes,
		c.duration,
		c.routing,
		c.queueDepth,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) Claimed(kind string, n int) {
	c.claimed.WithLabelValues(kind).Add(float64(n))
}

func (c *Collector) Reclaimed(kind string, n int) {
	c.reclaimed.WithLabelValues(kind).Add(float64(n))
}

func (c *Collector) ClaimConflict(kind string) {
	c.claimConflicts.WithLabelValues(kind).Inc()
}

func (c *Collector) Outcome(kind, action string, elapsed time.Duration) {
	c.outcomes.WithLabelValues(kind, action).Inc()
	c.duration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

// Routed counts a routing decision; an empty venue is recorded as "none".
func (c *Collector) Routed(venue string) {
	if venue == "" {
		venue = "none"
	}
	c.routing.WithLabelValues(venue).Inc()
}

// QueueDepth sets the gauge for every status, so a status missing from counts
// drops to zero.
func (c *Collector) QueueDepth(kind string, counts map[string]int) {
	for _, status := range jobqueue.Statuses {
		c.queueDepth.WithLabelValues(kind, string(status)).Set(float64(counts[string(status)]))
	}
}
