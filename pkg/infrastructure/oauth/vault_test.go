package oauth

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"

	shared "github.com/fitglue/coach-sync/pkg"
	"github.com/fitglue/coach-sync/pkg/infrastructure/cache"
)

type fakeExchanger struct {
	calls  atomic.Int32
	delay  time.Duration
	err    error
	mu     sync.Mutex
	seen   []string
	issued func(n int32) *TokenRecord
}

func (f *fakeExchanger) Exchange(ctx context.Context, provider, refreshToken string) (*TokenRecord, error) {
	n := f.calls.Add(1)
	f.mu.Lock()
	f.seen = append(f.seen, refreshToken)
	f.mu.Unlock()
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.issued != nil {
		return f.issued(n), nil
	}
	return &TokenRecord{
		AccessToken:  "access-new",
		RefreshToken: "refresh-new",
		ExpiresAt:    time.Now().Add(6 * time.Hour),
	}, nil
}

func newTestVault(t *testing.T, ex Exchanger, opts ...VaultOption) (*Vault, *cache.BadgerCache) {
	t.Helper()
	c, err := cache.OpenBadger("")
	if err != nil {
		t.Fatalf("OpenBadger() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return NewVault(c, ex, opts...), c
}

func seed(t *testing.T, c shared.TokenCache, rec TokenRecord) {
	t.Helper()
	raw, _ := json.Marshal(rec)
	err := c.Set(context.Background(),
		shared.CacheEntry{Key: TokenKey("strava", "u1"), Value: raw, TTL: time.Until(rec.ExpiresAt)},
		shared.CacheEntry{Key: RefreshKey("strava", "u1"), Value: []byte(rec.RefreshToken), TTL: time.Hour},
	)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func cached(t *testing.T, c shared.TokenCache) *TokenRecord {
	t.Helper()
	raw, err := c.Get(context.Background(), TokenKey("strava", "u1"))
	if errors.Is(err, shared.ErrCacheMiss) {
		return nil
	}
	if err != nil {
		t.Fatalf("cache get: %v", err)
	}
	var rec TokenRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		t.Fatalf("decode cached record: %v", err)
	}
	return &rec
}

func TestVault_ReturnsCachedToken(t *testing.T) {
	ex := &fakeExchanger{}
	v, c := newTestVault(t, ex)
	seed(t, c, TokenRecord{AccessToken: "access-old", RefreshToken: "refresh-old", ExpiresAt: time.Now().Add(time.Hour)})

	got, err := v.GetValidToken(context.Background(), "strava", "u1")
	if err != nil {
		t.Fatalf("GetValidToken() error = %v", err)
	}
	if got != "access-old" {
		t.Errorf("GetValidToken() = %s, want access-old", got)
	}
	if ex.calls.Load() != 0 {
		t.Errorf("exchanges = %d, want 0", ex.calls.Load())
	}
}

func TestVault_RefreshesWithinSafetyMargin(t *testing.T) {
	ex := &fakeExchanger{}
	v, c := newTestVault(t, ex)
	seed(t, c, TokenRecord{AccessToken: "access-old", RefreshToken: "refresh-old", ExpiresAt: time.Now().Add(30 * time.Second)})

	got, err := v.GetValidToken(context.Background(), "strava", "u1")
	if err != nil {
		t.Fatalf("GetValidToken() error = %v", err)
	}
	if got != "access-new" {
		t.Errorf("GetValidToken() = %s, want access-new", got)
	}
	if ex.seen[0] != "refresh-old" {
		t.Errorf("exchanged refresh token = %s, want refresh-old", ex.seen[0])
	}

	rec := cached(t, c)
	if rec == nil || rec.AccessToken != "access-new" || rec.RefreshToken != "refresh-new" {
		t.Errorf("cached record = %+v", rec)
	}
	raw, err := c.Get(context.Background(), RefreshKey("strava", "u1"))
	if err != nil || string(raw) != "refresh-new" {
		t.Errorf("refresh key = %s, %v", raw, err)
	}
}

func TestVault_ConcurrentCallersShareOneExchange(t *testing.T) {
	ex := &fakeExchanger{delay: 100 * time.Millisecond}
	v, c := newTestVault(t, ex)
	seed(t, c, TokenRecord{AccessToken: "access-old", RefreshToken: "refresh-old", ExpiresAt: time.Now().Add(10 * time.Second)})

	const callers = 20
	var wg sync.WaitGroup
	results := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = v.GetValidToken(context.Background(), "strava", "u1")
		}(i)
	}
	wg.Wait()

	if n := ex.calls.Load(); n != 1 {
		t.Fatalf("exchanges = %d, want 1", n)
	}
	for i := range results {
		if errs[i] != nil || results[i] != "access-new" {
			t.Errorf("caller %d got %q, %v", i, results[i], errs[i])
		}
	}
}

func TestVault_FailedRefreshLeavesCacheUntouched(t *testing.T) {
	ex := &fakeExchanger{err: errors.New("invalid_grant")}
	v, c := newTestVault(t, ex)
	seed(t, c, TokenRecord{AccessToken: "access-old", RefreshToken: "refresh-old", ExpiresAt: time.Now().Add(30 * time.Second)})

	_, err := v.GetValidToken(context.Background(), "strava", "u1")
	if !errors.Is(err, ErrTokenRefreshFailed) {
		t.Fatalf("GetValidToken() error = %v, want ErrTokenRefreshFailed", err)
	}
	var refreshErr *RefreshError
	if !errors.As(err, &refreshErr) || refreshErr.Provider != "strava" || refreshErr.UserID != "u1" {
		t.Errorf("error = %#v, want *RefreshError for strava/u1", err)
	}

	rec := cached(t, c)
	if rec == nil || rec.AccessToken != "access-old" || rec.RefreshToken != "refresh-old" {
		t.Errorf("cached record changed: %+v", rec)
	}
}

func TestVault_NoRefreshToken(t *testing.T) {
	ex := &fakeExchanger{}
	v, _ := newTestVault(t, ex)

	_, err := v.GetValidToken(context.Background(), "strava", "u1")
	if !errors.Is(err, ErrTokenUnavailable) {
		t.Fatalf("GetValidToken() error = %v, want ErrTokenUnavailable", err)
	}
	if ex.calls.Load() != 0 {
		t.Errorf("exchanges = %d, want 0", ex.calls.Load())
	}
}

func TestVault_FallsBackToRefreshKeyAndSeeds(t *testing.T) {
	t.Run("refresh key outlives access record", func(t *testing.T) {
		ex := &fakeExchanger{}
		v, c := newTestVault(t, ex)
		_ = c.Set(context.Background(), shared.CacheEntry{Key: RefreshKey("strava", "u1"), Value: []byte("refresh-kept")})

		if _, err := v.GetValidToken(context.Background(), "strava", "u1"); err != nil {
			t.Fatalf("GetValidToken() error = %v", err)
		}
		if ex.seen[0] != "refresh-kept" {
			t.Errorf("exchanged %s, want refresh-kept", ex.seen[0])
		}
	})

	t.Run("configured seed", func(t *testing.T) {
		ex := &fakeExchanger{}
		v, _ := newTestVault(t, ex, WithRefreshTokenSource(SeededAccounts{"strava": {UserID: "u1", RefreshToken: "refresh-seed"}}))

		if _, err := v.GetValidToken(context.Background(), "strava", "u1"); err != nil {
			t.Fatalf("GetValidToken() error = %v", err)
		}
		if ex.seen[0] != "refresh-seed" {
			t.Errorf("exchanged %s, want refresh-seed", ex.seen[0])
		}
	})

	t.Run("seed belongs to one account", func(t *testing.T) {
		ex := &fakeExchanger{}
		v, _ := newTestVault(t, ex, WithRefreshTokenSource(SeededAccounts{"strava": {UserID: "12345", RefreshToken: "refresh-seed"}}))

		if _, err := v.GetValidToken(context.Background(), "strava", "me"); !errors.Is(err, ErrTokenUnavailable) {
			t.Fatalf("GetValidToken(me) error = %v, want ErrTokenUnavailable", err)
		}
		if ex.calls.Load() != 0 {
			t.Fatalf("exchanges = %d, want the seed left untouched", ex.calls.Load())
		}
		if _, err := v.GetValidToken(context.Background(), "strava", "12345"); err != nil {
			t.Fatalf("GetValidToken(12345) error = %v", err)
		}
		if len(ex.seen) != 1 || ex.seen[0] != "refresh-seed" {
			t.Errorf("exchanged %v, want [refresh-seed]", ex.seen)
		}
	})
}

func TestSeededAccounts(t *testing.T) {
	seeds := SeededAccounts{
		"strava": {UserID: "12345", RefreshToken: "r1"},
		"fitbit": {RefreshToken: "r2"},
	}
	for _, tc := range []struct {
		provider, user, want string
	}{
		{"strava", "12345", "r1"},
		{"strava", "67890", ""},
		{"fitbit", "", ""},
		{"fitbit", "anyone", ""},
		{"withings", "12345", ""},
	} {
		got, err := seeds.RefreshToken(context.Background(), tc.provider, tc.user)
		if err != nil || got != tc.want {
			t.Errorf("RefreshToken(%s, %q) = %q, %v; want %q", tc.provider, tc.user, got, err, tc.want)
		}
	}
}

func TestVault_KeepsRefreshTokenWhenNotRotated(t *testing.T) {
	ex := &fakeExchanger{issued: func(int32) *TokenRecord {
		return &TokenRecord{AccessToken: "access-new", ExpiresAt: time.Now().Add(time.Hour)}
	}}
	v, c := newTestVault(t, ex)
	seed(t, c, TokenRecord{AccessToken: "access-old", RefreshToken: "refresh-old", ExpiresAt: time.Now().Add(5 * time.Second)})

	rec, err := v.Token(context.Background(), "strava", "u1")
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if rec.RefreshToken != "refresh-old" {
		t.Errorf("RefreshToken = %s, want refresh-old", rec.RefreshToken)
	}
}

func TestVault_ForceRefresh(t *testing.T) {
	ex := &fakeExchanger{issued: func(n int32) *TokenRecord {
		return &TokenRecord{AccessToken: "access-" + string(rune('0'+n)), RefreshToken: "refresh-new", ExpiresAt: time.Now().Add(time.Hour)}
	}}
	v, c := newTestVault(t, ex)
	seed(t, c, TokenRecord{AccessToken: "access-0", RefreshToken: "refresh-old", ExpiresAt: time.Now().Add(time.Hour)})
	ctx := context.Background()

	rec, err := v.ForceRefresh(ctx, "strava", "u1", "access-0")
	if err != nil {
		t.Fatalf("ForceRefresh() error = %v", err)
	}
	if rec.AccessToken != "access-1" {
		t.Errorf("ForceRefresh() = %s, want access-1", rec.AccessToken)
	}

	// A second caller still holding the token rejected before gets the
	// replacement without another exchange.
	rec, err = v.ForceRefresh(ctx, "strava", "u1", "access-0")
	if err != nil {
		t.Fatalf("ForceRefresh() error = %v", err)
	}
	if rec.AccessToken != "access-1" || ex.calls.Load() != 1 {
		t.Errorf("ForceRefresh() = %s after %d exchanges, want access-1 after 1", rec.AccessToken, ex.calls.Load())
	}
}

func TestVault_Revoke(t *testing.T) {
	v, c := newTestVault(t, &fakeExchanger{})
	seed(t, c, TokenRecord{AccessToken: "a", RefreshToken: "r", ExpiresAt: time.Now().Add(time.Hour)})

	if err := v.Revoke(context.Background(), "strava", "u1"); err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}
	if rec := cached(t, c); rec != nil {
		t.Errorf("token record survived revoke: %+v", rec)
	}
	if _, err := c.Get(context.Background(), RefreshKey("strava", "u1")); !errors.Is(err, shared.ErrCacheMiss) {
		t.Errorf("refresh key survived revoke: %v", err)
	}
	if _, err := v.GetValidToken(context.Background(), "strava", "u1"); !errors.Is(err, ErrTokenUnavailable) {
		t.Errorf("GetValidToken() after revoke error = %v, want ErrTokenUnavailable", err)
	}
}

func TestVault_CallerCancellationDoesNotAbortSharedRefresh(t *testing.T) {
	ex := &fakeExchanger{delay: 100 * time.Millisecond}
	v, c := newTestVault(t, ex)
	seed(t, c, TokenRecord{AccessToken: "access-old", RefreshToken: "refresh-old", ExpiresAt: time.Now().Add(10 * time.Second)})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := v.Token(ctx, "strava", "u1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Token() error = %v, want deadline exceeded", err)
	}

	got, err := v.GetValidToken(context.Background(), "strava", "u1")
	if err != nil || got != "access-new" {
		t.Fatalf("GetValidToken() = %s, %v", got, err)
	}
	if n := ex.calls.Load(); n != 1 {
		t.Errorf("exchanges = %d, want 1", n)
	}
}

func TestVault_InstancesSharingCacheExchangeOnce(t *testing.T) {
	ex := &fakeExchanger{delay: 100 * time.Millisecond}
	first, c := newTestVault(t, ex)
	second := NewVault(c, ex)
	seed(t, c, TokenRecord{AccessToken: "access-old", RefreshToken: "refresh-old", ExpiresAt: time.Now().Add(10 * time.Second)})

	var wg sync.WaitGroup
	got := make([]string, 2)
	errs := make([]error, 2)
	for i, v := range []*Vault{first, second} {
		wg.Add(1)
		go func(i int, v *Vault) {
			defer wg.Done()
			got[i], errs[i] = v.GetValidToken(context.Background(), "strava", "u1")
		}(i, v)
	}
	wg.Wait()

	for i := range got {
		if errs[i] != nil || got[i] != "access-new" {
			t.Errorf("vault %d: GetValidToken() = %s, %v", i, got[i], errs[i])
		}
	}
	if n := ex.calls.Load(); n != 1 {
		t.Errorf("exchanges = %d, want 1", n)
	}
	if len(ex.seen) != 1 || ex.seen[0] != "refresh-old" {
		t.Errorf("exchanged %v, want [refresh-old]", ex.seen)
	}
}

type leaseFailingCache struct {
	shared.TokenCache
}

func (leaseFailingCache) Lease(context.Context, string, time.Duration) (shared.Release, error) {
	return nil, errors.New("cache unavailable")
}

func TestVault_NoExchangeWithoutLease(t *testing.T) {
	ex := &fakeExchanger{}
	_, c := newTestVault(t, ex)
	seed(t, c, TokenRecord{AccessToken: "access-old", RefreshToken: "refresh-old", ExpiresAt: time.Now().Add(10 * time.Second)})
	v := NewVault(leaseFailingCache{c}, ex)

	if _, err := v.GetValidToken(context.Background(), "strava", "u1"); err == nil {
		t.Fatal("GetValidToken() error = nil, want lease failure")
	}
	if n := ex.calls.Load(); n != 0 {
		t.Errorf("exchanges = %d, want 0", n)
	}
	if rec := cached(t, c); rec == nil || rec.RefreshToken != "refresh-old" {
		t.Errorf("cached record = %+v, want refresh-old kept", rec)
	}
}
