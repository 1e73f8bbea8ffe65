// Package metrics holds the Prometheus collectors for the ingestion pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	EventsAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "learnertrace_events_accepted_total",
		Help: "Events that passed validation and entered the buffer.",
	})

	EventsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "learnertrace_events_rejected_total",
		Help: "Events rejected by validation.",
	})

	EventsFlushed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "learnertrace_events_flushed_total",
		Help: "Events durably written by a flush.",
	})

	EventsPoisoned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "learnertrace_events_poisoned_total",
		Help: "Events the store rejected on content and that were dropped.",
	})

	EventsRequeued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "learnertrace_events_requeued_total",
		Help: "Events put back in the buffer after a failed flush.",
	})

	EventsLost = promauto.NewCounter(prometheus.CounterOpts{
		Name: "learnertrace_events_lost_total",
		Help: "Events still buffered when shutdown gave up.",
	})

	FlushesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "learnertrace_flushes_total",
		Help: "Flush attempts that reached the store, labelled by outcome.",
	}, []string{"outcome"})

	FlushDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "learnertrace_flush_duration_seconds",
		Help:    "Time spent in the store write of a flush.",
		Buckets: prometheus.DefBuckets,
	})

	BufferSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "learnertrace_buffer_events",
		Help: "Events currently waiting in the buffer.",
	})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "learnertrace_active_sessions",
		Help: "Learner sessions seen recently that have not ended.",
	})

	ArchiveRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "learnertrace_archive_runs_total",
		Help: "Archive export runs, labelled by outcome.",
	}, []string{"outcome"})

	EventsArchived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "learnertrace_events_archived_total",
		Help: "Events written to an archive destination.",
	})

	EventsPurged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "learnertrace_events_purged_total",
		Help: "Events deleted by the retention policy.",
	})
)

// Flush outcome labels.
const (
	OutcomeWritten = "written"
	OutcomePartial = "partial"
	OutcomeFailed  = "failed"
)

// NewServer returns an HTTP server exposing /metrics on addr.
func NewServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
