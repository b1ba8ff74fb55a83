// Package swcache implements offline-first HTTP response caching policies.
// Focused on graceful degradation when the network is slow or absent.
//
// Features:
//
//  - Ordered policy table, first matching URL pattern wins.
//  - NetworkFirst, CacheFirst and StaleWhileRevalidate strategies.
//  - Per cache expiration by entry count (oldest insertion first) and entry age (lazy, on lookup).
//  - Storage quota failures degrade to uncached pass-through responses.
//  - Background revalidation runs on a detached context and never blocks the response.
//  - Background sync queue replays failed mutating requests in enqueue order and reports expired ones.
//  - Broadcast of updates when a refreshed response differs from the cached one.
//  - Precache manifest with content revisions and offline navigation fallback.
//  - Allows logging, stats collection and tracing.
package swcache
