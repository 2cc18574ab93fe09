package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for PerpClearing.
type Metrics struct {
	// --- Core processing ---
	CommandsApplied  *prometheus.CounterVec
	CommandsRejected *prometheus.CounterVec
	CommandDuration  *prometheus.HistogramVec
	EventsEmitted    *prometheus.CounterVec
	StateHashDur     prometheus.Histogram
	CoreSequence     prometheus.Gauge

	// --- Channels & backpressure ---
	ChannelSize         *prometheus.GaugeVec
	ChannelCapacity     *prometheus.GaugeVec
	ChannelUtilization  *prometheus.GaugeVec
	ProjectionDrops     *prometheus.CounterVec
	PersistBackpressure prometheus.Counter

	// --- Idempotency & ordering ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge
	SequenceRejected      *prometheus.CounterVec

	// --- Market ---
	OpenInterest  *prometheus.GaugeVec
	FundingRate   prometheus.Gauge
	MarkPrice     *prometheus.GaugeVec
	Liquidations  prometheus.Counter
	BadDebt       prometheus.Counter
	PositionsOpen prometheus.Gauge

	// --- Pool ---
	PoolLiquidity        prometheus.Gauge
	InsuranceFundBalance prometheus.Gauge
	FeesCollected        prometheus.Counter

	// --- Persistence ---
	PersistEnvelopesWritten prometheus.Counter
	PersistBatchSize        prometheus.Histogram
	PersistBatchDur         prometheus.Histogram
	PersistErrors           *prometheus.CounterVec
	PersistRetry            prometheus.Counter
	PersistLastSequence     prometheus.Gauge

	// --- Snapshot ---
	SnapshotTaken     prometheus.Counter
	SnapshotDuration  prometheus.Histogram
	SnapshotSizeBytes prometheus.Gauge
	SnapshotLastSeq   prometheus.Gauge
	ReplayEventsTotal prometheus.Counter

	// --- Transports ---
	NATSMessages    *prometheus.CounterVec
	PublishDrops    prometheus.Counter
	StreamClients   prometheus.Gauge
	StreamDrops     prometheus.Counter
	QueryRequests   *prometheus.CounterVec
	QueryDuration   *prometheus.HistogramVec
	QueryErrors     *prometheus.CounterVec
	KeeperSubmitted *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg. A nil reg
// uses the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		CommandsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_clearing_commands_applied_total",
			Help: "Commands committed by the engine",
		}, []string{"command"}),

		CommandsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_clearing_commands_rejected_total",
			Help: "Commands rejected (dedup, ordering, validation)",
		}, []string{"command", "reason"}),

		CommandDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "perp_clearing_command_apply_duration_seconds",
			Help:    "Time to apply a single command",
			Buckets: latencyBuckets,
		}, []string{"command"}),

		EventsEmitted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_clearing_events_emitted_total",
			Help: "Events emitted by committed commands",
		}, []string{"event_type"}),

		StateHashDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "perp_clearing_state_hash_duration_seconds",
			Help:    "Time to compute the state digest and hash",
			Buckets: latencyBuckets,
		}),

		CoreSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "perp_clearing_core_sequence",
			Help: "Next engine sequence to assign",
		}),

		ChannelSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perp_clearing_channel_size",
			Help: "Current channel depth",
		}, []string{"channel"}),

		ChannelCapacity: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perp_clearing_channel_capacity",
			Help: "Channel buffer capacity",
		}, []string{"channel"}),

		ChannelUtilization: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perp_clearing_channel_utilization",
			Help: "Channel depth / capacity",
		}, []string{"channel"}),

		ProjectionDrops: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_clearing_projection_drops_total",
			Help: "Outputs dropped because a projection channel was full",
		}, []string{"projection"}),

		PersistBackpressure: f.NewCounter(prometheus.CounterOpts{
			Name: "perp_clearing_persist_backpressure_total",
			Help: "Times the engine blocked on the persist channel",
		}),

		IdempotencyDuplicates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_clearing_idempotency_duplicates_total",
			Help: "Duplicate commands detected",
		}, []string{"command"}),

		DedupLRUSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "perp_clearing_dedup_lru_size",
			Help: "Entries in the idempotency LRU",
		}),

		SequenceRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_clearing_sequence_rejected_total",
			Help: "Commands rejected by source sequence validation",
		}, []string{"reason"}),

		OpenInterest: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perp_clearing_open_interest",
			Help: "Open interest in quote units",
		}, []string{"side"}),

		FundingRate: f.NewGauge(prometheus.GaugeOpts{
			Name: "perp_clearing_funding_rate",
			Help: "Current signed funding rate",
		}),

		MarkPrice: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perp_clearing_mark_price",
			Help: "Latest mark price per symbol",
		}, []string{"symbol"}),

		Liquidations: f.NewCounter(prometheus.CounterOpts{
			Name: "perp_clearing_liquidations_total",
			Help: "Positions liquidated",
		}),

		BadDebt: f.NewCounter(prometheus.CounterOpts{
			Name: "perp_clearing_bad_debt_quote_total",
			Help: "Bad debt from liquidations, in quote units",
		}),

		PositionsOpen: f.NewGauge(prometheus.GaugeOpts{
			Name: "perp_clearing_positions_open",
			Help: "Open positions",
		}),

		PoolLiquidity: f.NewGauge(prometheus.GaugeOpts{
			Name: "perp_clearing_pool_liquidity",
			Help: "Pool total liquidity in quote units",
		}),

		InsuranceFundBalance: f.NewGauge(prometheus.GaugeOpts{
			Name: "perp_clearing_insurance_fund_balance",
			Help: "Insurance fund balance in quote units",
		}),

		FeesCollected: f.NewCounter(prometheus.CounterOpts{
			Name: "perp_clearing_fees_collected_quote_total",
			Help: "Gross trading fees collected, in quote units",
		}),

		PersistEnvelopesWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "perp_clearing_persist_envelopes_written_total",
			Help: "Envelopes written to the event log",
		}),

		PersistBatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "perp_clearing_persist_batch_size",
			Help:    "Envelopes per persisted batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistBatchDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "perp_clearing_persist_batch_duration_seconds",
			Help:    "Time to write one batch",
			Buckets: prometheus.DefBuckets,
		}),

		PersistErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_clearing_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"kind"}),

		PersistRetry: f.NewCounter(prometheus.CounterOpts{
			Name: "perp_clearing_persist_retries_total",
			Help: "Persistence retries",
		}),

		PersistLastSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "perp_clearing_persist_last_sequence",
			Help: "Last sequence written to the event log",
		}),

		SnapshotTaken: f.NewCounter(prometheus.CounterOpts{
			Name: "perp_clearing_snapshots_taken_total",
			Help: "Snapshots saved",
		}),

		SnapshotDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "perp_clearing_snapshot_duration_seconds",
			Help:    "Time to save a snapshot",
			Buckets: prometheus.DefBuckets,
		}),

		SnapshotSizeBytes: f.NewGauge(prometheus.GaugeOpts{
			Name: "perp_clearing_snapshot_size_bytes",
			Help: "Size of the last snapshot",
		}),

		SnapshotLastSeq: f.NewGauge(prometheus.GaugeOpts{
			Name: "perp_clearing_snapshot_last_sequence",
			Help: "Sequence of the last snapshot",
		}),

		ReplayEventsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "perp_clearing_replay_commands_total",
			Help: "Commands replayed during recovery",
		}),

		NATSMessages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_clearing_nats_messages_total",
			Help: "NATS messages by direction and outcome",
		}, []string{"direction", "outcome"}),

		PublishDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "perp_clearing_publish_drops_total",
			Help: "Outbound events dropped by the publisher",
		}),

		StreamClients: f.NewGauge(prometheus.GaugeOpts{
			Name: "perp_clearing_stream_clients",
			Help: "Connected websocket stream clients",
		}),

		StreamDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "perp_clearing_stream_drops_total",
			Help: "Envelopes dropped for slow websocket clients",
		}),

		QueryRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_clearing_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint"}),

		QueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "perp_clearing_query_duration_seconds",
			Help:    "Query latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),

		QueryErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_clearing_query_errors_total",
			Help: "Query errors",
		}, []string{"endpoint", "code"}),

		KeeperSubmitted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_clearing_keeper_submitted_total",
			Help: "Commands submitted by the keeper",
		}, []string{"command", "outcome"}),
	}
}

// SetChannelMetrics updates channel depth gauges.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}
