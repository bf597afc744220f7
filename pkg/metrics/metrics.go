// Package metrics holds the node's prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	MatchLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "hybridx",
		Name:      "match_latency_seconds",
		Help:      "Time to match, persist and settle one request.",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 16),
	}, []string{"pair"})

	Requests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hybridx",
		Name:      "requests_total",
		Help:      "Submitted requests by side and outcome.",
	}, []string{"pair", "side", "outcome"})

	Fills = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hybridx",
		Name:      "fills_total",
		Help:      "Resting order fills.",
	}, []string{"pair"})

	OrdersCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hybridx",
		Name:      "orders_created_total",
		Help:      "Leftovers posted as resting orders.",
	}, []string{"pair", "side"})

	PoolPrice = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "hybridx",
		Name:      "pool_price",
		Help:      "Pool price after the last accepted request, as a float.",
	}, []string{"pair"})

	EventPublishErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hybridx",
		Name:      "event_publish_errors_total",
		Help:      "Events that at least one sink failed to take.",
	}, []string{"pair"})
)

// Register adds every collector to reg.
func Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		MatchLatency,
		Requests,
		Fills,
		OrdersCreated,
		PoolPrice,
		EventPublishErrors,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
