// Package respcache provides an in-memory TTL cache for GET responses.
//
// The gateway wraps the agent read routes with Cache.Middleware when
// cache.enabled is set. Entries are keyed by request URI, expire after the
// configured TTL and are dropped wholesale whenever a write succeeds, so a
// client never reads an agent list older than its own last change.
package respcache
