package metrics

import (
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gtfs-reconciler/internal/gtfs"
)

type Collector struct {
	reg *prometheus.Registry

	Polls          *prometheus.CounterVec // outcome label: records|empty|fault
	StreamFaults   *prometheus.CounterVec // kind label: expired|fetch|decode
	RecordsFetched prometheus.Counter
	Reconciled     *prometheus.CounterVec // status label: ON_TIME|LATE|EARLY|UNKNOWN|none

	SnapshotVehicles  prometheus.Gauge
	SnapshotGenerated prometheus.Gauge // unix seconds
	LastPolled        prometheus.Gauge // unix seconds
	WSClients         prometheus.Gauge

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge

	StepDuration      prometheus.Histogram
	ReconcileDuration prometheus.Histogram
	PublishDuration   prometheus.Histogram

	PollInterval prometheus.Gauge // seconds
	FaultBackoff prometheus.Gauge // seconds

	Ingests *prometheus.CounterVec // outcome label: appended|unchanged|error
}

func NewCollector(pollInterval, faultBackoff time.Duration) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		Polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reconciler_polls_total",
			Help: "Consumer loop iterations by outcome.",
		}, []string{"outcome"}),
		StreamFaults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reconciler_stream_faults_total",
			Help: "Stream faults that reset the cursor.",
		}, []string{"kind"}),
		RecordsFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reconciler_records_fetched_total",
			Help: "Log records fetched, including superseded ones.",
		}),
		Reconciled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reconciler_vehicles_reconciled_total",
			Help: "Vehicle records produced by on-time status.",
		}, []string{"status"}),
		SnapshotVehicles: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "reconciler_snapshot_vehicles",
			Help: "Vehicles in the current snapshot.",
		}),
		SnapshotGenerated: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "reconciler_snapshot_generated_timestamp_seconds",
			Help: "Unix time the current snapshot was generated.",
		}),
		LastPolled: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "reconciler_last_polled_timestamp_seconds",
			Help: "Unix time of the last consumer iteration.",
		}),
		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "reconciler_websocket_clients",
			Help: "Connected websocket clients.",
		}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reconciler_nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reconciler_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "reconciler_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		StepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "reconciler_step_duration_seconds",
			Help:    "Duration of one consumer iteration, excluding the pause.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		}),
		ReconcileDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "reconciler_reconcile_duration_seconds",
			Help:    "Duration to reconcile one decoded feed.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 15),
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "reconciler_publish_duration_seconds",
			Help:    "Duration to marshal and publish a NATS message.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		PollInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "reconciler_poll_interval_seconds",
			Help: "Pause after a successful fetch in seconds.",
		}),
		FaultBackoff: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "reconciler_fault_backoff_seconds",
			Help: "Pause after a stream fault in seconds.",
		}),
		Ingests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reconciler_ingest_polls_total",
			Help: "Upstream feed polls by outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		c.Polls, c.StreamFaults, c.RecordsFetched, c.Reconciled,
		c.SnapshotVehicles, c.SnapshotGenerated, c.LastPolled, c.WSClients,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected,
		c.StepDuration, c.ReconcileDuration, c.PublishDuration,
		c.PollInterval, c.FaultBackoff, c.Ingests,
	)

	c.PollInterval.Set(pollInterval.Seconds())
	c.FaultBackoff.Set(faultBackoff.Seconds())

	return c
}

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

// The methods below let the collector stand in for the small metrics
// interfaces of the consumer, publisher and api packages.

func (c *Collector) PollOutcome(outcome string) { c.Polls.WithLabelValues(outcome).Inc() }
func (c *Collector) StreamFault(kind string)    { c.StreamFaults.WithLabelValues(kind).Inc() }
func (c *Collector) RecordsAdd(n int)           { c.RecordsFetched.Add(float64(n)) }
func (c *Collector) StepObserve(d time.Duration) {
	c.StepDuration.Observe(d.Seconds())
}
func (c *Collector) ReconcileObserve(d time.Duration) {
	c.ReconcileDuration.Observe(d.Seconds())
}
func (c *Collector) Polled(at time.Time) { c.LastPolled.Set(float64(at.UnixNano()) / 1e9) }

// SnapshotReplaced records the size, age and status mix of a new snapshot.
func (c *Collector) SnapshotReplaced(generatedAt time.Time, vehicles []gtfs.VehicleRecord) {
	c.SnapshotVehicles.Set(float64(len(vehicles)))
	c.SnapshotGenerated.Set(float64(generatedAt.UnixNano()) / 1e9)
	for _, v := range vehicles {
		status := string(v.OnTimeStatus)
		if status == "" {
			status = "none"
		}
		c.Reconciled.WithLabelValues(status).Inc()
	}
}

func (c *Collector) NATSPublishedInc()              { c.NATSPublished.Inc() }
func (c *Collector) NATSPublishErrInc()             { c.NATSPublishErrs.Inc() }
func (c *Collector) PublishObserve(d time.Duration) { c.PublishDuration.Observe(d.Seconds()) }
func (c *Collector) NATSSetConnected(b bool) {
	if b {
		c.NATSConnected.Set(1)
	} else {
		c.NATSConnected.Set(0)
	}
}

func (c *Collector) WSClientsSet(n int) { c.WSClients.Set(float64(n)) }

func (c *Collector) IngestOutcome(outcome string) { c.Ingests.WithLabelValues(outcome).Inc() }
