// Package metrics defines the Prometheus collectors exposed on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SettlementsTotal counts settlement attempts by kind and outcome
	SettlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlements_total",
		Help: "Settlement attempts by kind (withdrawal, payout) and outcome",
	}, []string{"kind", "outcome"})

	// TransferDuration observes chain transfer submission latency per route
	TransferDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chain_transfer_duration_seconds",
		Help:    "On-chain transfer submission latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"blockchain", "currency"})

	// ReserveCheckFailures counts reserve checks that refused a transfer
	ReserveCheckFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reserve_check_failures_total",
		Help: "Reserve checks that refused a transfer, per route",
	}, []string{"blockchain", "currency"})

	// RateCacheHits counts price feed cache hits and misses
	RateCacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rate_cache_requests_total",
		Help: "Price feed cache lookups by result (hit, miss)",
	}, []string{"result"})

	// IntentsUnresolved gauges transfer intents awaiting reconciliation
	IntentsUnresolved = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "transfer_intents_unresolved",
		Help: "Transfer intents submitted without a confirmed outcome",
	})

	// DatabaseConnectionsGauge tracks connection pool state
	DatabaseConnectionsGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "database_connections",
		Help: "Database connection pool state",
	}, []string{"state"})
)
