package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	FixesReceivedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "plotwatch_fixes_received_total",
		Help: "Total position fixes delivered by the active subscription",
	})
	FixesProcessedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "plotwatch_fixes_processed_total",
		Help: "Total fixes matched and rendered",
	})
	FixesCoalescedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "plotwatch_fixes_coalesced_total",
		Help: "Total fixes replaced by a newer fix before processing",
	})
	MatchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "plotwatch_matches_total",
		Help: "Match outcomes by kind (strict, fallback, none)",
	}, []string{"kind"})
	ProviderErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "plotwatch_provider_errors_total",
		Help: "Position provider errors by code",
	}, []string{"code"})
	LocateDurationMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "plotwatch_locate_duration_ms",
		Help:    "Locate duration in milliseconds",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 50, 100},
	})
	DatasetParcels = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "plotwatch_dataset_parcels",
		Help: "Parcels in the loaded dataset",
	})
	DatasetSkipped = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "plotwatch_dataset_skipped_features",
		Help: "Features skipped while loading the dataset",
	})
	SinkFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "plotwatch_sink_failures_total",
		Help: "Display sink delivery failures by sink",
	}, []string{"sink"})
)

func init() {
	prometheus.MustRegister(FixesReceivedTotal)
	prometheus.MustRegister(FixesProcessedTotal)
	prometheus.MustRegister(FixesCoalescedTotal)
	prometheus.MustRegister(MatchesTotal)
	prometheus.MustRegister(ProviderErrorsTotal)
	prometheus.MustRegister(LocateDurationMs)
	prometheus.MustRegister(DatasetParcels)
	prometheus.MustRegister(DatasetSkipped)
	prometheus.MustRegister(SinkFailuresTotal)
}

func Handler() http.Handler {
	return promhttp.Handler()
}
