// Package metrics provides Prometheus metrics for the downloader.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// Transfer metrics.
	TransfersTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "downloader",
		Subsystem: "transfers",
		Name:      "total",
		Help:      "Total number of media transfers by outcome.",
	}, []string{"outcome"}) // "skipped", "succeeded" or "failed"
	TransfersInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "downloader",
		Subsystem: "transfers",
		Name:      "in_flight",
		Help:      "Number of transfers currently streaming.",
	})
	TransferBytesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "downloader",
		Subsystem: "transfers",
		Name:      "bytes_total",
		Help:      "Total bytes written by successful transfers.",
	})
	TransferDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "downloader",
		Subsystem: "transfers",
		Name:      "duration_seconds",
		Help:      "Wall time of finished transfers.",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
	})

	// Chat surface metrics.
	EventsRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "downloader",
		Subsystem: "events",
		Name:      "rejected_total",
		Help:      "Inbound events dropped by the access gate.",
	}, []string{"reason"}) // "chat" or "sender"
	CommandsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "downloader",
		Subsystem: "commands",
		Name:      "total",
		Help:      "Chat commands answered.",
	}, []string{"command"})
	NotificationErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "downloader",
		Subsystem: "notifications",
		Name:      "errors_total",
		Help:      "Failed status message sends or edits.",
	}, []string{"op"})
	APIRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "downloader",
		Subsystem: "telegram",
		Name:      "requests_total",
		Help:      "Bot API calls by method and result.",
	}, []string{"method", "result"}) // result: "ok" or "error"

	// Persistence metrics.
	PersistenceErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "downloader",
		Subsystem: "stats",
		Name:      "flush_errors_total",
		Help:      "Failed writes of the counters file.",
	})
)

func init() {
	prometheus.MustRegister(
		TransfersTotal,
		TransfersInFlight,
		TransferBytesTotal,
		TransferDuration,

		EventsRejected,
		CommandsTotal,
		NotificationErrors,
		APIRequests,

		PersistenceErrors,
	)
}
