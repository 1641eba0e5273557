package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	// SettingsWrites counts versioned settings writes by record kind
	// (global|override) and result (ok|conflict|invalid|not_found).
	SettingsWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wallet_settings_writes_total",
			Help: "Versioned wallet settings writes by kind and result.",
		},
		[]string{"kind", "result"},
	)

	// RerouteOutcomes counts reroute attempts by result code
	// (committed, replayed, key_reuse, in_flight, concurrent, ineligible, ...).
	RerouteOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prescription_reroutes_total",
			Help: "Prescription reroute attempts by outcome.",
		},
		[]string{"outcome"},
	)

	// LedgerDecisions counts idempotency ledger Begin results.
	LedgerDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idempotency_ledger_decisions_total",
			Help: "Idempotency ledger begin decisions by kind.",
		},
		[]string{"kind"},
	)

	// GeoQueryDuration observes candidate query latency in seconds.
	GeoQueryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "geo_candidate_query_duration_seconds",
			Help:    "Latency of reroute candidate queries against the geo index.",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1},
		},
	)

	// GeoIndexSize gauges the number of pharmacies in the geo index.
	GeoIndexSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "geo_index_pharmacies",
			Help: "Number of pharmacies currently held in the geo index.",
		},
	)
)

func init() {
	prometheus.MustRegister(SettingsWrites, RerouteOutcomes, LedgerDecisions, GeoQueryDuration, GeoIndexSize)
}
