package shared

import (
	"context"
	"errors"
	"time"

	"github.com/cloudevents/sdk-go/v2/event"
)

// --- Cache Interfaces ---

// ErrCacheMiss is returned by TokenCache.Get when the key is absent or expired.
var ErrCacheMiss = errors.New("cache miss")

// ErrLeaseHeld is returned by TokenCache.Lease while another holder owns the key.
var ErrLeaseHeld = errors.New("lease held")

// Release gives a lease back. Releasing a lease that already expired or was
// taken over is a no-op.
type Release func(ctx context.Context) error

// CacheEntry is a single key written through TokenCache.Set.
type CacheEntry struct {
	Key   string
	Value []byte
	TTL   time.Duration
}

// TokenCache is a shared key-value store with per-entry expiry.
// Set must apply every entry in one atomic write so a value and its TTL never diverge.
// Lease takes an exclusive lease on key for ttl, visible to every process that
// shares the cache, or fails with ErrLeaseHeld.
type TokenCache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, entries ...CacheEntry) error
	Delete(ctx context.Context, keys ...string) error
	Lease(ctx context.Context, key string, ttl time.Duration) (Release, error)
}

// --- Messaging Interfaces ---

type Publisher interface {
	PublishCloudEvent(ctx context.Context, topic string, e event.Event) (string, error)
}
