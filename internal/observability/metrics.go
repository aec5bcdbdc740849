package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsCreated      = promauto.NewCounter(prometheus.CounterOpts{Namespace: "unirides", Name: "ride_requests_created_total", Help: "Ride requests created"})
	RequestsAccepted     = promauto.NewCounter(prometheus.CounterOpts{Namespace: "unirides", Name: "ride_requests_accepted_total", Help: "Ride requests accepted"})
	RequestsRejected     = promauto.NewCounter(prometheus.CounterOpts{Namespace: "unirides", Name: "ride_requests_rejected_total", Help: "Ride requests rejected, including auto-rejections"})
	RequestsAutoRejected = promauto.NewCounter(prometheus.CounterOpts{Namespace: "unirides", Name: "ride_requests_auto_rejected_total", Help: "Accept decisions overridden to rejected (stale ride or seat race lost)"})
	RidesCancelled       = promauto.NewCounter(prometheus.CounterOpts{Namespace: "unirides", Name: "rides_cancelled_total", Help: "Rides cancelled by their driver"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "unirides", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "unirides",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
