package statecache

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/Iram04hack/network-management-system-sub002/errors"
)

// kvEnvelope carries the per-key expiry alongside the value. JetStream KV
// buckets only support a bucket-wide TTL, so per-entry TTLs are enforced on
// read and lazily deleted.
type kvEnvelope struct {
	Value     []byte    `json:"value"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

func (e kvEnvelope) expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// KV is a Store backed by a NATS JetStream key/value bucket. State survives
// process restarts and is shared across replicas.
type KV struct {
	bucket  jetstream.KeyValue
	timeout time.Duration
	logger  *slog.Logger
}

// KVOption configures the JetStream-backed store.
type KVOption func(*KV)

// WithOperationTimeout bounds each bucket call.
func WithOperationTimeout(d time.Duration) KVOption {
	return func(kv *KV) { kv.timeout = d }
}

// NewKV wraps a JetStream KV bucket as a Store.
func NewKV(bucket jetstream.KeyValue, logger *slog.Logger, opts ...KVOption) *KV {
	kv := &KV{
		bucket:  bucket,
		timeout: 5 * time.Second,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(kv)
	}
	return kv
}

func (kv *KV) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if kv.timeout > 0 {
		return context.WithTimeout(ctx, kv.timeout)
	}
	return ctx, func() {}
}

// Get reads and unwraps the entry. Expired entries are deleted best-effort
// and reported as not found.
func (kv *KV) Get(ctx context.Context, key string) ([]byte, error) {
	opCtx, cancel := kv.withTimeout(ctx)
	defer cancel()

	entry, err := kv.bucket.Get(opCtx, key)
	if err != nil {
		if stderrors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, errors.ErrKeyNotFound
		}
		return nil, errors.WrapTransient(errors.ErrCacheUnavailable, "KV", "Get", err.Error())
	}

	var env kvEnvelope
	if err := json.Unmarshal(entry.Value(), &env); err != nil {
		return nil, errors.WrapInvalid(err, "KV", "Get", "decode envelope")
	}

	if env.expired(time.Now()) {
		if delErr := kv.bucket.Delete(opCtx, key); delErr != nil {
			kv.logger.Debug("failed to reap expired cache key", "key", key, "error", delErr)
		}
		return nil, errors.ErrKeyNotFound
	}

	return env.Value, nil
}

// Set stores value under key, last writer wins. A non-positive ttl means no
// expiry.
func (kv *KV) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return errors.WrapInvalid(errors.ErrValidation, "KV", "Set", "key cannot be empty")
	}

	env := kvEnvelope{Value: value}
	if ttl > 0 {
		env.ExpiresAt = time.Now().Add(ttl)
	}

	data, err := json.Marshal(env)
	if err != nil {
		return errors.WrapInvalid(err, "KV", "Set", "encode envelope")
	}

	opCtx, cancel := kv.withTimeout(ctx)
	defer cancel()

	if _, err := kv.bucket.Put(opCtx, key, data); err != nil {
		return errors.WrapTransient(errors.ErrCacheUnavailable, "KV", "Set", err.Error())
	}
	return nil
}

// Delete removes key. Deleting an absent key is a no-op.
func (kv *KV) Delete(ctx context.Context, key string) error {
	opCtx, cancel := kv.withTimeout(ctx)
	defer cancel()

	if err := kv.bucket.Delete(opCtx, key); err != nil {
		if stderrors.Is(err, jetstream.ErrKeyNotFound) {
			return nil
		}
		return errors.WrapTransient(errors.ErrCacheUnavailable, "KV", "Delete", err.Error())
	}
	return nil
}
