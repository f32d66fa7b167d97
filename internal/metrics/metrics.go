// Package metrics holds the prometheus collectors shared by the upload path,
// the processing pipeline, the CDN cache, the event broadcaster and the outbox relay.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	QueueDepth      prometheus.Gauge
	ActiveJobs      prometheus.Gauge
	StepDuration    *prometheus.HistogramVec
	VideosProcessed *prometheus.CounterVec

	CacheHits      *prometheus.CounterVec
	CacheMisses    *prometheus.CounterVec
	CacheEvictions prometheus.Counter
	CacheEntries   prometheus.Gauge

	EventsPublished prometheus.Counter
	EventsDropped   prometheus.Counter

	ChunksReceived prometheus.Counter
	UploadsDone    prometheus.Counter

	OutboxPublished prometheus.Counter
	OutboxFailed    prometheus.Counter
	OutboxPending   prometheus.Gauge

	gatherer prometheus.Gatherer
}

// New registers every collector on reg. Passing nil uses a private registry,
// which is what tests want.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pipeline_queue_depth",
			Help: "Videos waiting for the processing worker",
		}),
		ActiveJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pipeline_active_jobs",
			Help: "Videos currently being processed (0 or 1)",
		}),
		StepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pipeline_step_duration_seconds",
			Help:    "Time taken by a pipeline step",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"step", "outcome"}),
		VideosProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_videos_processed_total",
			Help: "Pipeline runs by terminal video status",
		}, []string{"status"}),
		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cdn_cache_hits_total",
			Help: "CDN cache hits by asset class",
		}, []string{"class"}),
		CacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cdn_cache_misses_total",
			Help: "CDN cache misses by asset class",
		}, []string{"class"}),
		CacheEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cdn_cache_evictions_total",
			Help: "Entries evicted for capacity or expiry",
		}),
		CacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cdn_cache_entries",
			Help: "Entries currently cached",
		}),
		EventsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "events_published_total",
			Help: "Processing events delivered to subscribers",
		}),
		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "events_dropped_total",
			Help: "Processing events dropped because a subscriber was slow",
		}),
		ChunksReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "upload_chunks_received_total",
			Help: "Upload chunks persisted",
		}),
		UploadsDone: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "upload_assembled_total",
			Help: "Uploads assembled into an original file",
		}),
		OutboxPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "outbox_published_total",
			Help: "Outbox entries delivered to kafka",
		}),
		OutboxFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "outbox_failed_total",
			Help: "Outbox entries that failed to publish and stay pending",
		}),
		OutboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "outbox_pending",
			Help: "Entries in the last polled outbox batch",
		}),
	}

	reg.MustRegister(
		m.QueueDepth, m.ActiveJobs, m.StepDuration, m.VideosProcessed,
		m.CacheHits, m.CacheMisses, m.CacheEvictions, m.CacheEntries,
		m.EventsPublished, m.EventsDropped,
		m.ChunksReceived, m.UploadsDone,
		m.OutboxPublished, m.OutboxFailed, m.OutboxPending,
	)

	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	} else {
		m.gatherer = prometheus.DefaultGatherer
	}
	return m
}

// Handler serves the registry the metrics were registered on.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
