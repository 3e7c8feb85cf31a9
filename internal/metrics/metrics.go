package metrics

import (
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns the tracker's Prometheus registry.
type Collector struct {
	reg *prometheus.Registry

	LiveVehicles prometheus.Gauge

	ReportsAccepted prometheus.Counter
	ReportsRejected *prometheus.CounterVec // field label

	PositionsEvicted prometheus.Counter
	SweepsRun        prometheus.Counter
	SweepsFailed     prometheus.Counter

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge

	SweepDuration  prometheus.Histogram
	IngestDuration prometheus.Histogram

	StaleTimeoutMinutes prometheus.Gauge
	EvictInterval       prometheus.Gauge // seconds
	HorizonSeconds      prometheus.Gauge
}

// NewCollector registers all tracker metrics on a private registry and
// echoes the effective configuration as gauges.
func NewCollector(staleTimeout, evictInterval, horizon time.Duration) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		LiveVehicles: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_live_vehicles",
			Help: "Number of vehicles with a live position record.",
		}),
		ReportsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_reports_accepted_total",
			Help: "Total GPS reports accepted and persisted.",
		}),
		ReportsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_reports_rejected_total",
			Help: "Total GPS reports rejected, by offending field.",
		}, []string{"field"}),
		PositionsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_positions_evicted_total",
			Help: "Total stale position records removed by sweeps.",
		}),
		SweepsRun: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_sweeps_total",
			Help: "Total eviction sweeps completed.",
		}),
		SweepsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_sweeps_failed_total",
			Help: "Total eviction sweeps that failed.",
		}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		SweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tracker_sweep_duration_seconds",
			Help:    "Duration of eviction sweeps.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		}),
		IngestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tracker_ingest_duration_seconds",
			Help:    "Duration to validate and persist one report.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		StaleTimeoutMinutes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_stale_timeout_minutes",
			Help: "Configured stale position timeout in minutes.",
		}),
		EvictInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_evict_interval_seconds",
			Help: "Configured eviction sweep interval in seconds.",
		}),
		HorizonSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_extrapolation_horizon_seconds",
			Help: "Configured extrapolation horizon in seconds.",
		}),
	}

	reg.MustRegister(
		c.LiveVehicles,
		c.ReportsAccepted, c.ReportsRejected,
		c.PositionsEvicted, c.SweepsRun, c.SweepsFailed,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected,
		c.SweepDuration, c.IngestDuration,
		c.StaleTimeoutMinutes, c.EvictInterval, c.HorizonSeconds,
	)

	c.StaleTimeoutMinutes.Set(staleTimeout.Minutes())
	c.EvictInterval.Set(evictInterval.Seconds())
	c.HorizonSeconds.Set(horizon.Seconds())

	return c
}

// ReportAccepted satisfies ingest.Metrics.
func (c *Collector) ReportAccepted() { c.ReportsAccepted.Inc() }

// ReportRejected satisfies ingest.Metrics.
func (c *Collector) ReportRejected(field string) { c.ReportsRejected.WithLabelValues(field).Inc() }

// IngestObserve satisfies ingest.Metrics.
func (c *Collector) IngestObserve(d time.Duration) { c.IngestDuration.Observe(d.Seconds()) }

// SweepRan satisfies scheduler.Metrics.
func (c *Collector) SweepRan(removed int, d time.Duration) {
	c.SweepsRun.Inc()
	c.PositionsEvicted.Add(float64(removed))
	c.SweepDuration.Observe(d.Seconds())
}

// SweepFailed satisfies scheduler.Metrics.
func (c *Collector) SweepFailed() { c.SweepsFailed.Inc() }

// NATSPublishedInc satisfies publisher.PublisherMetrics.
func (c *Collector) NATSPublishedInc() { c.NATSPublished.Inc() }

// NATSPublishErrInc satisfies publisher.PublisherMetrics.
func (c *Collector) NATSPublishErrInc() { c.NATSPublishErrs.Inc() }

// PublishObserve satisfies publisher.PublisherMetrics. Publish latency
// lands in the ingest histogram; publishing happens on the ingest path.
func (c *Collector) PublishObserve(d time.Duration) { c.IngestDuration.Observe(d.Seconds()) }

// NATSSetConnected satisfies publisher.PublisherMetrics.
func (c *Collector) NATSSetConnected(b bool) {
	if b {
		c.NATSConnected.Set(1)
	} else {
		c.NATSConnected.Set(0)
	}
}

// Handler returns the /metrics handler for the private registry.
func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()
	log.Printf("metrics listening on %s", addr)
	return srv
}
