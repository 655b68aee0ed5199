package util

// Histogram buckets in seconds, shared by the node and the stores.
var (
	// MetricsBucketsMicroSeconds spans 128µs to 262ms, for per-item work like a single transaction.
	MetricsBucketsMicroSeconds = []float64{
		128e-6, 256e-6, 512e-6, 1024e-6, 2048e-6, 4096e-6, 8192e-6, 16384e-6, 32768e-6, 65536e-6, 131072e-6, 262144e-6,
	}

	// MetricsBucketsMilliSeconds spans 1ms to 4s, for block validation and table commits.
	MetricsBucketsMilliSeconds = []float64{
		1e-3, 2e-3, 4e-3, 16e-3, 32e-3, 64e-3, 128e-3, 256e-3, 512e-3, 1024e-3, 2048e-3, 4096e-3,
	}

	// MetricsBucketsMilliLongSeconds spans 64ms to 131s, for level merges.
	MetricsBucketsMilliLongSeconds = []float64{
		64e-3, 128e-3, 256e-3, 512e-3, 1024e-3, 2048e-3, 4096e-3, 8192e-3, 16384e-3, 32768e-3, 65536e-3, 131072e-3,
	}
)
