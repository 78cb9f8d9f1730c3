package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/cloudevents/sdk-go/v2/event"

	shared "github.com/fitglue/coach-sync/pkg"
	"github.com/fitglue/coach-sync/pkg/domain/metrics"
	"github.com/fitglue/coach-sync/pkg/storage"
)

// --- Mock Token Cache ---

// MockTokenCache is a map-backed TokenCache that ignores TTLs.
type MockTokenCache struct {
	mu      sync.Mutex
	Entries map[string][]byte
	leases  map[string]bool

	GetFunc    func(ctx context.Context, key string) ([]byte, error)
	SetFunc    func(ctx context.Context, entries ...shared.CacheEntry) error
	DeleteFunc func(ctx context.Context, keys ...string) error
	LeaseFunc  func(ctx context.Context, key string, ttl time.Duration) (shared.Release, error)
}

func (m *MockTokenCache) Get(ctx context.Context, key string) ([]byte, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, key)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.Entries[key]
	if !ok {
		return nil, shared.ErrCacheMiss
	}
	return v, nil
}

func (m *MockTokenCache) Set(ctx context.Context, entries ...shared.CacheEntry) error {
	if m.SetFunc != nil {
		return m.SetFunc(ctx, entries...)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Entries == nil {
		m.Entries = make(map[string][]byte)
	}
	for _, e := range entries {
		m.Entries[e.Key] = e.Value
	}
	return nil
}

func (m *MockTokenCache) Delete(ctx context.Context, keys ...string) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, keys...)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.Entries, k)
	}
	return nil
}

func (m *MockTokenCache) Lease(ctx context.Context, key string, ttl time.Duration) (shared.Release, error) {
	if m.LeaseFunc != nil {
		return m.LeaseFunc(ctx, key, ttl)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.leases[key] {
		return nil, shared.ErrLeaseHeld
	}
	if m.leases == nil {
		m.leases = make(map[string]bool)
	}
	m.leases[key] = true
	return func(context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.leases, key)
		return nil
	}, nil
}

// --- Mock Publisher ---
type MockPublisher struct {
	mu        sync.Mutex
	Published []event.Event

	PublishCloudEventFunc func(ctx context.Context, topic string, e event.Event) (string, error)
}

func (m *MockPublisher) PublishCloudEvent(ctx context.Context, topic string, e event.Event) (string, error) {
	m.mu.Lock()
	m.Published = append(m.Published, e)
	m.mu.Unlock()
	if m.PublishCloudEventFunc != nil {
		return m.PublishCloudEventFunc(ctx, topic, e)
	}
	return "msg-id", nil
}

// --- Mock Workout Store ---

// MockStore keeps workouts by external ID and reports created/updated/skipped
// the way a real store would. UpsertFunc overrides that behaviour.
type MockStore struct {
	mu       sync.Mutex
	Workouts map[string]storage.OwnedFields
	Calls    int

	UpsertFunc         func(ctx context.Context, w *storage.Workout) (storage.Action, error)
	AthleteProfileFunc func(ctx context.Context, userID string) (metrics.AthleteProfile, error)
}

func (m *MockStore) Upsert(ctx context.Context, w *storage.Workout) (storage.Action, error) {
	m.mu.Lock()
	m.Calls++
	m.mu.Unlock()
	if m.UpsertFunc != nil {
		return m.UpsertFunc(ctx, w)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Workouts == nil {
		m.Workouts = make(map[string]storage.OwnedFields)
	}
	key := string(w.Provider) + ":" + w.Activity.ExternalID
	owned := w.Owned()
	existing, ok := m.Workouts[key]
	if ok {
		owned = owned.Over(existing)
	}
	owned.LoadUnknown = false
	m.Workouts[key] = owned
	switch {
	case !ok:
		return storage.ActionCreated, nil
	case existing.Equal(owned):
		return storage.ActionSkipped, nil
	default:
		return storage.ActionUpdated, nil
	}
}

func (m *MockStore) AthleteProfile(ctx context.Context, userID string) (metrics.AthleteProfile, error) {
	if m.AthleteProfileFunc != nil {
		return m.AthleteProfileFunc(ctx, userID)
	}
	return metrics.AthleteProfile{}, storage.ErrProfileNotFound
}

// Len is the number of distinct workouts stored.
func (m *MockStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Workouts)
}
