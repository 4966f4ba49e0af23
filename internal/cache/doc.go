// Package cache implements the process-wide read-through cache used by every
// read path of the API.
//
// LRU is a bounded, concurrency-safe map from string keys to values of one
// type. Recency is an explicit doubly-linked list (front = most recently used)
// indexed by a map, and every entry carries its own expiration instant. Capacity
// eviction and TTL expiry are independent: an entry disappears as soon as either
// applies.
//
// Layer puts an optional shared Remote tier (Redis) behind an LRU and provides
// Fetch, which collapses concurrent misses for a key into one source load. The
// cache is never authoritative: every failure inside it is reported as a miss.
package cache
