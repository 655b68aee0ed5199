package node

import (
	"sync"

	"github.com/madMAx43v3r/mmx-node-sub001/util"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	prometheusNodeBlocksReceived prometheus.Counter
	prometheusNodeBlocksRejected prometheus.Counter
	prometheusNodeBlocksOrphaned prometheus.Counter
	prometheusNodeForksPruned    prometheus.Counter
	prometheusNodeReorgDepth     prometheus.Histogram
	prometheusNodeVerifyProof    prometheus.Histogram
	prometheusNodeValidateBlock  prometheus.Histogram
	prometheusNodeApplyBlock     prometheus.Histogram
	prometheusNodeHeight         prometheus.Gauge
	prometheusNodeTxPoolSize     prometheus.Gauge
	prometheusNodeTxFailed       prometheus.Counter
	prometheusNodeProofsOfTime   prometheus.Counter
)

var (
	prometheusMetricsInitOnce sync.Once
)

func initPrometheusMetrics() {
	prometheusMetricsInitOnce.Do(_initPrometheusMetrics)
}

func _initPrometheusMetrics() {
	prometheusNodeBlocksReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mmx",
			Subsystem: "node",
			Name:      "blocks_received",
			Help:      "Number of blocks handed to the node",
		},
	)

	prometheusNodeBlocksRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mmx",
			Subsystem: "node",
			Name:      "blocks_rejected",
			Help:      "Number of blocks rejected as invalid",
		},
	)

	prometheusNodeBlocksOrphaned = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mmx",
			Subsystem: "node",
			Name:      "blocks_orphaned",
			Help:      "Number of blocks buffered because their parent was unknown",
		},
	)

	prometheusNodeForksPruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mmx",
			Subsystem: "node",
			Name:      "forks_pruned",
			Help:      "Number of blocks removed from the fork tree",
		},
	)

	prometheusNodeReorgDepth = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mmx",
			Subsystem: "node",
			Name:      "reorg_depth",
			Help:      "Number of blocks reverted per fork switch",
			Buckets:   []float64{1, 2, 3, 4, 6, 8, 12, 16, 24, 32},
		},
	)

	prometheusNodeVerifyProof = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mmx",
			Subsystem: "node",
			Name:      "verify_proof",
			Help:      "Duration of block proof verification",
			Buckets:   util.MetricsBucketsMicroSeconds,
		},
	)

	prometheusNodeValidateBlock = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mmx",
			Subsystem: "node",
			Name:      "validate_block",
			Help:      "Duration of full block validation including execution",
			Buckets:   util.MetricsBucketsMilliSeconds,
		},
	)

	prometheusNodeApplyBlock = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mmx",
			Subsystem: "node",
			Name:      "apply_block",
			Help:      "Duration of committing a validated block to the state",
			Buckets:   util.MetricsBucketsMilliSeconds,
		},
	)

	prometheusNodeHeight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mmx",
			Subsystem: "node",
			Name:      "height",
			Help:      "Height of the current peak",
		},
	)

	prometheusNodeTxPoolSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mmx",
			Subsystem: "node",
			Name:      "tx_pool_size",
			Help:      "Number of transactions in the pool",
		},
	)

	prometheusNodeTxFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mmx",
			Subsystem: "node",
			Name:      "tx_failed",
			Help:      "Number of applied transactions that failed execution",
		},
	)

	prometheusNodeProofsOfTime = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mmx",
			Subsystem: "node",
			Name:      "proofs_of_time",
			Help:      "Number of verified proofs of time",
		},
	)
}
