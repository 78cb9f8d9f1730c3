// Package cache holds the TokenCache backends.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	shared "github.com/fitglue/coach-sync/pkg"
)

// BadgerCache is a TokenCache on an embedded BadgerDB. Badger enforces
// entry TTLs itself, so an expired key reads as a miss.
type BadgerCache struct {
	db *badger.DB
}

// OpenBadger opens a BadgerDB at dir, or an in-memory one when dir is empty.
func OpenBadger(dir string) (*BadgerCache, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerCache{db: db}, nil
}

func NewBadgerCache(db *badger.DB) *BadgerCache {
	return &BadgerCache{db: db}
}

func (c *BadgerCache) Get(_ context.Context, key string) ([]byte, error) {
	var out []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return shared.ErrCacheMiss
		}
		if err != nil {
			return fmt.Errorf("get %s: %w", key, err)
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Set writes all entries in one transaction.
func (c *BadgerCache) Set(_ context.Context, entries ...shared.CacheEntry) error {
	return c.db.Update(func(txn *badger.Txn) error {
		for _, e := range entries {
			entry := badger.NewEntry([]byte(e.Key), e.Value)
			if e.TTL > 0 {
				entry = entry.WithTTL(e.TTL)
			}
			if err := txn.SetEntry(entry); err != nil {
				return fmt.Errorf("set %s: %w", e.Key, err)
			}
		}
		return nil
	})
}

func (c *BadgerCache) Delete(_ context.Context, keys ...string) error {
	return c.db.Update(func(txn *badger.Txn) error {
		for _, key := range keys {
			if err := txn.Delete([]byte(key)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("delete %s: %w", key, err)
			}
		}
		return nil
	})
}

// Lease stores a holder ID under "{key}:lock" with the lease TTL. Badger's
// optimistic transactions turn a concurrent claim into ErrConflict, which
// reads as a held lease.
func (c *BadgerCache) Lease(_ context.Context, key string, ttl time.Duration) (shared.Release, error) {
	lockKey := []byte(key + ":lock")
	holder := []byte(uuid.NewString())

	err := c.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(lockKey)
		if err == nil {
			return shared.ErrLeaseHeld
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.SetEntry(badger.NewEntry(lockKey, holder).WithTTL(ttl))
	})
	switch {
	case errors.Is(err, shared.ErrLeaseHeld), errors.Is(err, badger.ErrConflict):
		return nil, shared.ErrLeaseHeld
	case err != nil:
		return nil, fmt.Errorf("lease %s: %w", key, err)
	}

	return func(context.Context) error {
		return c.db.Update(func(txn *badger.Txn) error {
			item, err := txn.Get(lockKey)
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			current, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if string(current) != string(holder) {
				return nil
			}
			return txn.Delete(lockKey)
		})
	}, nil
}

func (c *BadgerCache) Close() error {
	return c.db.Close()
}
