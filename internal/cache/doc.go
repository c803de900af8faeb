// Package cache defines the key/value store that keeps serialized origin
// responses for a fixed TTL. The Store contract (get/set/clear/close) hides
// the backend; Redis is the default and SQLite is available for single-node
// deployments without a Redis server. Entries are Envelopes encoded with
// EncodeEnvelope, so every backend shares one wire format, and expiry is
// always enforced by the backend rather than by the proxy handlers.
package cache
