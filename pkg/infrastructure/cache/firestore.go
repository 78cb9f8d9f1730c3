package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	shared "github.com/fitglue/coach-sync/pkg"
)

// FirestoreCache is a TokenCache on a Firestore collection, shared by every
// instance of the service. Expiry is checked on read; a Firestore TTL policy
// on expires_at only garbage-collects old documents.
type FirestoreCache struct {
	client *firestore.Client
	col    *firestore.CollectionRef
	now    func() time.Time
}

func NewFirestoreCache(client *firestore.Client, collection string) *FirestoreCache {
	return &FirestoreCache{
		client: client,
		col:    client.Collection(collection),
		now:    time.Now,
	}
}

// docID maps a cache key to a document ID; Firestore IDs cannot contain "/".
func docID(key string) string {
	return strings.ReplaceAll(key, "/", "_")
}

func (c *FirestoreCache) Get(ctx context.Context, key string) ([]byte, error) {
	snap, err := c.col.Doc(docID(key)).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, shared.ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}

	data := snap.Data()
	if expires, ok := data["expires_at"].(time.Time); ok && !c.now().Before(expires) {
		return nil, shared.ErrCacheMiss
	}
	value, ok := data["value"].([]byte)
	if !ok {
		return nil, shared.ErrCacheMiss
	}
	return value, nil
}

// Set writes all entries in one transaction.
func (c *FirestoreCache) Set(ctx context.Context, entries ...shared.CacheEntry) error {
	now := c.now()
	return c.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		for _, e := range entries {
			doc := map[string]interface{}{
				"value":      e.Value,
				"updated_at": now,
			}
			if e.TTL > 0 {
				doc["expires_at"] = now.Add(e.TTL)
			}
			if err := tx.Set(c.col.Doc(docID(e.Key)), doc); err != nil {
				return fmt.Errorf("set %s: %w", e.Key, err)
			}
		}
		return nil
	})
}

func (c *FirestoreCache) Delete(ctx context.Context, keys ...string) error {
	err := c.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		for _, key := range keys {
			if err := tx.Delete(c.col.Doc(docID(key))); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	return nil
}

// Lease claims the "{key}:lock" document in a transaction. An existing lock
// whose expires_at has passed is taken over.
func (c *FirestoreCache) Lease(ctx context.Context, key string, ttl time.Duration) (shared.Release, error) {
	ref := c.col.Doc(docID(key + ":lock"))
	holder := uuid.NewString()

	err := c.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}
		if err == nil && snap.Exists() {
			if expires, ok := snap.Data()["expires_at"].(time.Time); ok && c.now().Before(expires) {
				return shared.ErrLeaseHeld
			}
		}
		return tx.Set(ref, map[string]interface{}{
			"holder":     holder,
			"expires_at": c.now().Add(ttl),
		})
	})
	if errors.Is(err, shared.ErrLeaseHeld) {
		return nil, shared.ErrLeaseHeld
	}
	if err != nil {
		return nil, fmt.Errorf("lease %s: %w", key, err)
	}

	return func(ctx context.Context) error {
		return c.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
			snap, err := tx.Get(ref)
			if status.Code(err) == codes.NotFound {
				return nil
			}
			if err != nil {
				return err
			}
			if h, _ := snap.Data()["holder"].(string); h != holder {
				return nil
			}
			return tx.Delete(ref)
		})
	}, nil
}
