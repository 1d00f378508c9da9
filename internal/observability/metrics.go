package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ExtractionRequestsTotal counts outbound extraction calls by outcome
	// ("ok" or the error kind).
	ExtractionRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "phyntra",
			Subsystem: "extraction",
			Name:      "requests_total",
			Help:      "Total invoice extraction requests",
		},
		[]string{"outcome"},
	)

	ExtractionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "phyntra",
			Subsystem: "extraction",
			Name:      "request_duration_seconds",
			Help:      "Invoice extraction request duration in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"outcome"},
	)

	UploadBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "phyntra",
			Subsystem: "extraction",
			Name:      "upload_bytes_total",
			Help:      "Total bytes sent to the extraction service",
		},
		[]string{"content_type"},
	)

	MessagesAppendedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "phyntra",
			Subsystem: "conversation",
			Name:      "messages_appended_total",
			Help:      "Timeline messages appended",
		},
		[]string{"type"},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "phyntra",
			Subsystem: "session",
			Name:      "active",
			Help:      "Live conversation sessions",
		},
	)

	UploadJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "phyntra",
			Subsystem: "upload",
			Name:      "jobs_total",
			Help:      "Upload batch jobs by final status",
		},
		[]string{"status"},
	)
)
