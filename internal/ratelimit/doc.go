// Package ratelimit throttles clients per endpoint class with a fixed-window
// counter.
//
// Each Limiter owns one Store and one Config. A window opens on the first
// request from an identifier and lasts Config.Window; the request that would
// take the count to Config.MaxRequests trips the entry into the blocked state
// and is itself rejected. A blocked entry stays blocked until the window
// expires, at which point the next request opens a fresh window.
//
// Identifiers are normalized by keeping the part before the first ':' and
// lower-casing it, so "1.2.3.4:9999" and "1.2.3.4" share a counter. IPv6
// literals are truncated by the same rule; callers that need per-address IPv6
// limits must render addresses without colons before calling Allow.
//
// # Failure policy
//
// Allow fails open. A Store error or panic is logged and the request is
// allowed. Concurrent requests for one key are never a Store error: both
// backends decide them one at a time.
//
// # Backends
//
//   - MemoryStore keeps entries in a process-local map. Limits are therefore
//     per process; replicas do not share counters.
//   - RedisStore keeps one hash per identifier and counts each request with
//     a server-side script, so concurrent requests from any replica are
//     serialized by Redis and the limit is global. Keys expire at the window
//     reset time on their own.
//
// # Housekeeping
//
// Expired entries are harmless for correctness (Allow treats them as fresh)
// but occupy memory. RunCleanup sweeps them on a fixed interval, five minutes
// by default.
package ratelimit
