// ============================================================================
// nunc-stans Metrics - Prometheus Monitoring
// ============================================================================
//
// Package: internal/metrics
// File: metrics.go
// Purpose: Collect and expose dispatcher metrics for Prometheus monitoring
//
// Metric Categories:
//
//   1. Job Counters - Cumulative, monotonically increasing:
//      - nunc_jobs_armed_total: Jobs successfully registered with the adapter
//      - nunc_jobs_fired_total: Jobs dispatched after their trigger fired
//      - nunc_jobs_requeued_total: Jobs re-armed after PERSIST or Rearm
//      - nunc_jobs_deleted_total: Jobs torn down
//
//   2. Status Metrics (Gauge) - Instantaneous values:
//      - nunc_jobs_running: Jobs currently executing a callback
//      - nunc_event_queue_depth: Pending items in the event queue
//      - nunc_work_queue_depth: Pending items in the work queue
//
//   3. Performance Metrics (Histogram):
//      - nunc_adapter_loop_duration_seconds: Time spent in one adapter Loop call
//
//   4. Error Counters:
//      - nunc_adapter_errors_total: Adapter registration or loop failures
//
// HTTP Endpoint:
//   Exposed via /metrics, scraped by Prometheus (see internal/cli and
//   cmd/nuncd for how the handler is wired into the demo host).
// ============================================================================

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector collects Prometheus metrics for one Pool. Each Collector owns
// its own registry rather than the global default, so tests that build
// several pools don't collide registering the same metric names twice.
type Collector struct {
	registry *prometheus.Registry

	jobsArmed    prometheus.Counter
	jobsFired    prometheus.Counter
	jobsRequeued prometheus.Counter
	jobsDeleted  prometheus.Counter

	jobsRunning     prometheus.Gauge
	eventQueueDepth prometheus.Gauge
	workQueueDepth  prometheus.Gauge

	adapterLoopDuration prometheus.Histogram
	adapterErrors       prometheus.Counter
}

// New creates a Collector with its own Prometheus registry.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		jobsArmed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nunc_jobs_armed_total",
			Help: "Total number of jobs registered with the event adapter",
		}),
		jobsFired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nunc_jobs_fired_total",
			Help: "Total number of jobs dispatched after their trigger fired",
		}),
		jobsRequeued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nunc_jobs_requeued_total",
			Help: "Total number of jobs re-armed after PERSIST or an explicit rearm",
		}),
		jobsDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nunc_jobs_deleted_total",
			Help: "Total number of jobs torn down",
		}),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nunc_jobs_running",
			Help: "Current number of jobs executing a callback",
		}),
		eventQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nunc_event_queue_depth",
			Help: "Current number of items pending in the event queue",
		}),
		workQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nunc_work_queue_depth",
			Help: "Current number of items pending in the work queue",
		}),
		adapterLoopDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "nunc_adapter_loop_duration_seconds",
			Help:    "Duration of one adapter Loop call",
			Buckets: prometheus.DefBuckets,
		}),
		adapterErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nunc_adapter_errors_total",
			Help: "Total number of adapter registration or loop failures",
		}),
	}

	c.registry.MustRegister(
		c.jobsArmed,
		c.jobsFired,
		c.jobsRequeued,
		c.jobsDeleted,
		c.jobsRunning,
		c.eventQueueDepth,
		c.workQueueDepth,
		c.adapterLoopDuration,
		c.adapterErrors,
	)
	return c
}

// Registry returns the Collector's Prometheus registry, for wiring into
// an HTTP handler (see internal/cli).
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

func (c *Collector) IncArmed()    { c.jobsArmed.Inc() }
func (c *Collector) IncFired()    { c.jobsFired.Inc() }
func (c *Collector) IncRequeued() { c.jobsRequeued.Inc() }
func (c *Collector) IncDeleted()  { c.jobsDeleted.Inc() }

func (c *Collector) IncRunning() { c.jobsRunning.Inc() }
func (c *Collector) DecRunning() { c.jobsRunning.Dec() }

func (c *Collector) SetEventQueueDepth(n int) { c.eventQueueDepth.Set(float64(n)) }
func (c *Collector) SetWorkQueueDepth(n int)  { c.workQueueDepth.Set(float64(n)) }

func (c *Collector) ObserveAdapterLoopDuration(d time.Duration) {
	c.adapterLoopDuration.Observe(d.Seconds())
}

func (c *Collector) IncAdapterErrors() { c.adapterErrors.Inc() }
