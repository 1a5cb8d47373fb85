package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the venue.
type Metrics struct {
	// --- Core Processing ---
	CoreOpsApplied  *prometheus.CounterVec
	CoreOpsRejected *prometheus.CounterVec
	CoreOpDuration  *prometheus.HistogramVec
	CoreJournals    *prometheus.CounterVec
	CoreSequence    prometheus.Gauge

	// --- Fees ---
	FeesRouted    *prometheus.CounterVec
	DiscountUnits *prometheus.CounterVec
	FeeClamps     *prometheus.CounterVec

	// --- Markets ---
	OpenInterest *prometheus.GaugeVec
	Volume       *prometheus.GaugeVec

	// --- Liquidation ---
	Liquidations         *prometheus.CounterVec
	LiquidationShortfall *prometheus.CounterVec

	// --- Settlement ---
	MarketsSettled   *prometheus.CounterVec
	PositionsSettled *prometheus.CounterVec
	QueueDepth       prometheus.Gauge
	PointsCredited   *prometheus.CounterVec

	// --- Channel & Backpressure ---
	ChannelSize         *prometheus.GaugeVec
	ChannelCapacity     *prometheus.GaugeVec
	ChannelUtilization  *prometheus.GaugeVec
	PublishDrops        prometheus.Counter
	PersistBackpressure prometheus.Counter

	// --- Idempotency ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge

	// --- Ingestion ---
	IngestMessages *prometheus.CounterVec

	// --- Persistence ---
	PersistRecordsWritten prometheus.Counter
	PersistBatchSize      prometheus.Histogram
	PersistBatchDur       prometheus.Histogram
	PersistErrors         *prometheus.CounterVec
	PersistLastSequence   prometheus.Gauge

	// --- API ---
	APIRequests *prometheus.CounterVec
	APIDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		// Core Processing
		CoreOpsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "unxv_core_ops_applied_total",
			Help: "Operations successfully applied by core",
		}, []string{"op"}),

		CoreOpsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "unxv_core_ops_rejected_total",
			Help: "Operations rejected (policy, integrity, funds, duplicate)",
		}, []string{"op", "reason"}),

		CoreOpDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "unxv_core_op_duration_seconds",
			Help:    "Time to apply a single operation in core",
			Buckets: latencyBuckets,
		}, []string{"op"}),

		CoreJournals: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "unxv_core_journals_generated_total",
			Help: "Journal entries generated",
		}, []string{"journal_type"}),

		CoreSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "unxv_core_sequence",
			Help: "Current global record sequence",
		}),

		// Fees
		FeesRouted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "unxv_fees_routed_total",
			Help: "Fee amounts routed per sink (collateral units)",
		}, []string{"market_id", "sink"}),

		DiscountUnits: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "unxv_fee_discount_units_total",
			Help: "Discount-token units deposited into epoch reserves",
		}, []string{"market_id"}),

		FeeClamps: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "unxv_fee_clamped_total",
			Help: "Fills whose fee saturated at the native max",
		}, []string{"market_id"}),

		// Markets
		OpenInterest: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "unxv_market_open_interest",
			Help: "Open interest per market and side",
		}, []string{"market_id", "side"}),

		Volume: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "unxv_market_volume",
			Help: "Cumulative notional volume per market",
		}, []string{"market_id"}),

		// Liquidation
		Liquidations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "unxv_liquidations_total",
			Help: "Liquidations executed",
		}, []string{"market_id", "outcome"}),

		LiquidationShortfall: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "unxv_liquidation_shortfall_total",
			Help: "Losses not covered by margin (bad debt)",
		}, []string{"market_id"}),

		// Settlement
		MarketsSettled: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "unxv_markets_settled_total",
			Help: "Markets moved to settled",
		}, []string{"market_id"}),

		PositionsSettled: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "unxv_positions_settled_total",
			Help: "Positions closed at the settlement price",
		}, []string{"market_id"}),

		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "unxv_settlement_queue_depth",
			Help: "Pending settlement requests",
		}),

		PointsCredited: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "unxv_points_credited_total",
			Help: "Keeper points credited",
		}, []string{"role"}),

		// Channel & Backpressure
		ChannelSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "unxv_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "unxv_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "unxv_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "unxv_publish_drops_total",
			Help: "Records dropped due to full publish channel",
		}),

		PersistBackpressure: promauto.NewCounter(prometheus.CounterOpts{
			Name: "unxv_persist_backpressure_total",
			Help: "Times core blocked on persist channel",
		}),

		// Idempotency
		IdempotencyDuplicates: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "unxv_idempotency_duplicates_total",
			Help: "Duplicates caught (lru/postgres)",
		}, []string{"op", "tier"}),

		DedupLRUSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "unxv_dedup_lru_size",
			Help: "Current LRU occupancy",
		}),

		// Ingestion
		IngestMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "unxv_ingest_messages_total",
			Help: "NATS messages handled",
		}, []string{"subject", "status"}),

		// Persistence
		PersistRecordsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "unxv_persist_records_written_total",
			Help: "Records written to Postgres",
		}),

		PersistBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "unxv_persist_batch_size",
			Help:    "Records per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "unxv_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "unxv_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistLastSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "unxv_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		// API
		APIRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "unxv_api_requests_total",
			Help: "HTTP API requests",
		}, []string{"endpoint", "status"}),

		APIDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "unxv_api_duration_seconds",
			Help:    "HTTP API latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),
	}
}

// SetChannelMetrics updates channel utilization metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}
