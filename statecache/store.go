// Package statecache provides the TTL-bound key/value store used to cache
// network state. Entries are whole-value replacements: callers marshal a
// complete snapshot and Set it, readers always see a consistent entry or a
// not-found error, never a partial write.
//
// Two backends are provided: an in-process TTL map and a NATS JetStream KV
// bucket for deployments where the cache must survive restarts.
package statecache

import (
	"context"
	"time"
)

// Well-known key prefixes. Entities are cached one whole value per key.
const (
	KeyPrefixNode    = "node:"
	KeyPrefixProject = "project:"
	KeyNetworkState  = "network_state"
)

// NodeKey returns the cache key for a node entry.
func NodeKey(nodeID string) string { return KeyPrefixNode + nodeID }

// ProjectKey returns the cache key for a project entry.
func ProjectKey(projectID string) string { return KeyPrefixProject + projectID }

// Store is the cache contract. Get returns errors.ErrKeyNotFound for absent
// or expired keys; backend outages surface as errors.ErrCacheUnavailable so
// callers can degrade instead of failing.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
