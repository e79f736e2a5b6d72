package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsRaisedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "libranexus_events_raised_total",
		Help: "Total number of committed domain events by aggregate and event type.",
	},
		[]string{"aggregate_type", "event_type"},
	)

	CommitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "libranexus_commits_total",
		Help: "Total number of unit of work commits by outcome.",
	},
		[]string{"outcome"},
	)

	AggregateWritesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "libranexus_aggregate_writes_total",
		Help: "Total number of aggregate versions written by successful commits.",
	})

	ReactionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "libranexus_reactions_total",
		Help: "Total number of cross-aggregate reactions by triggering event and outcome.",
	},
		[]string{"event_type", "outcome"},
	)

	RelayPublishedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "libranexus_relay_published_total",
		Help: "Total number of journal entries published by the relay.",
	})

	RelayErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "libranexus_relay_errors_total",
		Help: "Total number of relay failures by stage.",
	},
		[]string{"stage"},
	)

	RelayCheckpoint = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "libranexus_relay_checkpoint",
		Help: "Last journal entry id published by each relay.",
	},
		[]string{"relay"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "libranexus_http_requests_total",
		Help: "Total number of HTTP requests by method, route and status code.",
	},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "libranexus_http_request_duration_seconds",
		Help:    "HTTP request latency by method and route.",
		Buckets: prometheus.DefBuckets,
	},
		[]string{"method", "route"},
	)

	RateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "libranexus_http_rate_limited_total",
		Help: "Total number of HTTP requests rejected by the rate limiter.",
	})
)
