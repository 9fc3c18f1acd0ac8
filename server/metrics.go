package server

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/seabase/kiwi-relay/observability"
)

const (
	metricsNamespace = "relay"
	metricsSubsystem = "http"
)

var (
	requestsTotal = observability.RelayFactory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "requests_total",
			Help:      "Requests served on the public listener by route and status code",
		},
		[]string{"route", "code"},
	)

	requestDurationSeconds = observability.RelayFactory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "request_duration_seconds",
			Help:      "Time from request arrival to handler return, streaming included",
			Buckets:   observability.GenerationDurationBuckets,
		},
		[]string{"route"},
	)

	rateLimitedTotal = observability.RelayFactory.NewCounter(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "rate_limit",
			Name:      "rejected_total",
			Help:      "Requests rejected by the per-client rate limiter",
		},
	)

	rateLimitClients = observability.RelayFactory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "rate_limit",
			Name:      "tracked_clients",
			Help:      "Client addresses with a live rate limiter",
		},
	)
)
