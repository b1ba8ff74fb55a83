package swcache

// Metric names used with stats.Tracker, labeled with "name" of a cache or queue.
const (
	MetricHit           = "cache_hit"
	MetricMiss          = "cache_miss"
	MetricExpired       = "cache_expired"
	MetricWrite         = "cache_write"
	MetricWriteFailed   = "cache_write_failed"
	MetricEvict         = "cache_evict"
	MetricFallback      = "cache_fallback"
	MetricRevalidate    = "cache_revalidate"
	MetricBypass        = "cache_bypass"
	MetricNetwork       = "network_fetch"
	MetricNetworkFailed = "network_failed"
	MetricBroadcast     = "broadcast_update"
	MetricSyncEnqueued  = "sync_enqueued"
	MetricSyncReplayed  = "sync_replayed"
	MetricSyncFailed    = "sync_failed"
	MetricSyncExpired   = "sync_expired"
	MetricSyncDropped   = "sync_dropped"
)
