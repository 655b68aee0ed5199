package lsm

import (
	"sync"

	"github.com/madMAx43v3r/mmx-node-sub001/util"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	prometheusLSMFlush        prometheus.Histogram
	prometheusLSMFlushEntries prometheus.Counter
	prometheusLSMRewrite      prometheus.Histogram
	prometheusLSMRevert       prometheus.Counter
)

var (
	prometheusMetricsInitOnce sync.Once
)

func initPrometheusMetrics() {
	prometheusMetricsInitOnce.Do(_initPrometheusMetrics)
}

func _initPrometheusMetrics() {
	prometheusLSMFlush = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "lsm",
			Name:      "flush",
			Help:      "Histogram of memtable flushes to level 0",
			Buckets:   util.MetricsBucketsMilliSeconds,
		},
	)

	prometheusLSMFlushEntries = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "lsm",
			Name:      "flush_entries",
			Help:      "Number of entries written by memtable flushes",
		},
	)

	prometheusLSMRewrite = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "lsm",
			Name:      "rewrite",
			Help:      "Histogram of level merges",
			Buckets:   util.MetricsBucketsMilliLongSeconds,
		},
	)

	prometheusLSMRevert = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "lsm",
			Name:      "revert",
			Help:      "Number of table reverts",
		},
	)
}
