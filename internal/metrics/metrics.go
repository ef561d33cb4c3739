package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ExplorerMetrics holds the Prometheus metrics for the event explorer.
type ExplorerMetrics struct {
	EventsDecoded     *prometheus.CounterVec
	DecodeFailures    *prometheus.CounterVec
	EventsMerged      *prometheus.CounterVec
	DuplicatesSkipped prometheus.Counter
	BackfillFailures  *prometheus.CounterVec
	SubscriptionDrops prometheus.Counter
	StoreReady        prometheus.Gauge
}

// NewExplorerMetrics initializes and registers the explorer metrics.
func NewExplorerMetrics() *ExplorerMetrics {
	return &ExplorerMetrics{
		EventsDecoded: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rentalscope",
			Subsystem: "explorer",
			Name:      "events_decoded_total",
			Help:      "Total number of successfully decoded events by kind.",
		}, []string{"kind"}),
		DecodeFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rentalscope",
			Subsystem: "explorer",
			Name:      "decode_failures_total",
			Help:      "Total number of skipped logs by failure reason.",
		}, []string{"reason"}), // reason: unknown_kind, malformed, block_lookup
		EventsMerged: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rentalscope",
			Subsystem: "explorer",
			Name:      "events_merged_total",
			Help:      "Total number of events merged into the view store by kind.",
		}, []string{"kind"}),
		DuplicatesSkipped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "rentalscope",
			Subsystem: "explorer",
			Name:      "duplicates_skipped_total",
			Help:      "Total number of redelivered events dropped by dedup.",
		}),
		BackfillFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rentalscope",
			Subsystem: "explorer",
			Name:      "backfill_failures_total",
			Help:      "Total number of failed per-kind backfill queries.",
		}, []string{"kind"}),
		SubscriptionDrops: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "rentalscope",
			Subsystem: "explorer",
			Name:      "subscription_drops_total",
			Help:      "Total number of live subscription failures.",
		}),
		StoreReady: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "rentalscope",
			Subsystem: "explorer",
			Name:      "store_ready",
			Help:      "Whether the view store holds a complete snapshot (1) or not (0).",
		}),
	}
}
