package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ride_dispatch"

var (
	RidesCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "rides_created_total", Help: "Rides created, by vehicle class"},
		[]string{"vehicle_type"},
	)
	RideTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "ride_transitions_total", Help: "Ride status changes, by target status and outcome"},
		[]string{"status", "outcome"},
	)
	OffersSent   = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "offers_sent_total", Help: "new-ride offers delivered to drivers"})
	OfferFanout  = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "offer_fanout_drivers", Help: "Nearby drivers found per ride request", Buckets: []float64{0, 1, 2, 5, 10, 20, 50, 100}})
	MatchLatency = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "match_latency_seconds", Help: "Ride request latency seconds"})

	MessagesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "ws_messages_dropped_total", Help: "Outbound websocket messages not delivered"},
		[]string{"reason"},
	)
	ConnectionsOpen = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "ws_connections_open", Help: "Open websocket connections"})
	LocationUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "location_updates_total", Help: "Driver location updates, by outcome"},
		[]string{"outcome"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
