// Package metrics bundles the Prometheus collectors shared by the adapters,
// the aggregator and the quota tracker.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors on a dedicated registry.
type Metrics struct {
	Registry            *prometheus.Registry
	AdapterRequests     *prometheus.CounterVec
	AdapterDuration     *prometheus.HistogramVec
	ListingsTotal       *prometheus.CounterVec
	QuotaReservations   *prometheus.CounterVec
	AggregationsTotal   prometheus.Counter
	AggregationListings prometheus.Histogram
	CacheHitsTotal      prometheus.Counter
}

// New constructs and registers all metrics.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	adapterRequests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finder_adapter_requests_total",
			Help: "Adapter invocations by source and outcome.",
		},
		[]string{"source", "outcome"},
	)
	adapterDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "finder_adapter_duration_seconds",
			Help:    "Adapter call latency.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)
	listings := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finder_listings_total",
			Help: "Listings returned by each adapter.",
		},
		[]string{"source"},
	)
	reservations := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finder_quota_reservations_total",
			Help: "Paid search quota reservations by result.",
		},
		[]string{"result"},
	)
	aggregations := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "finder_aggregations_total",
			Help: "Total number of aggregated searches.",
		},
	)
	aggregationListings := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "finder_aggregation_listings",
			Help:    "Listings returned per aggregated search after de-duplication.",
			Buckets: []float64{0, 1, 2, 5, 10, 15, 20, 30},
		},
	)
	cacheHits := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "finder_cache_hits_total",
			Help: "Aggregated searches served from the result cache.",
		},
	)

	registry.MustRegister(adapterRequests, adapterDuration, listings, reservations, aggregations, aggregationListings, cacheHits)

	return &Metrics{
		Registry:            registry,
		AdapterRequests:     adapterRequests,
		AdapterDuration:     adapterDuration,
		ListingsTotal:       listings,
		QuotaReservations:   reservations,
		AggregationsTotal:   aggregations,
		AggregationListings: aggregationListings,
		CacheHitsTotal:      cacheHits,
	}
}

// ObserveAdapter records one adapter call.
func (m *Metrics) ObserveAdapter(source, outcome string, d time.Duration, listings int) {
	if m == nil {
		return
	}
	m.AdapterRequests.WithLabelValues(source, outcome).Inc()
	m.AdapterDuration.WithLabelValues(source).Observe(d.Seconds())
	if listings > 0 {
		m.ListingsTotal.WithLabelValues(source).Add(float64(listings))
	}
}

// IncReservation counts a quota reservation attempt.
func (m *Metrics) IncReservation(result string) {
	if m == nil {
		return
	}
	m.QuotaReservations.WithLabelValues(result).Inc()
}

// ObserveAggregation records one completed aggregated search.
func (m *Metrics) ObserveAggregation(listings int) {
	if m == nil {
		return
	}
	m.AggregationsTotal.Inc()
	m.AggregationListings.Observe(float64(listings))
}

func (m *Metrics) IncCacheHit() {
	if m == nil {
		return
	}
	m.CacheHitsTotal.Inc()
}
