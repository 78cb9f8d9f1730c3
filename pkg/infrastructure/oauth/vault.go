package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/goccy/go-json"
	"golang.org/x/sync/singleflight"

	shared "github.com/fitglue/coach-sync/pkg"
	"github.com/fitglue/coach-sync/pkg/observability"
)

const (
	// DefaultSafetyMargin is how long before expiry a token is already treated as stale.
	DefaultSafetyMargin = 60 * time.Second

	refreshTokenTTL = 365 * 24 * time.Hour
	exchangeTimeout = 30 * time.Second

	// The lease outlives the exchange it guards; a crashed holder frees it on expiry.
	leaseTTL  = exchangeTimeout + 15*time.Second
	leaseWait = 20 * time.Second
)

// RefreshTokenSource supplies a refresh token from outside the cache, such as
// one seeded from configuration right after the user authorized the app.
// It returns "" when it has nothing for the account.
type RefreshTokenSource interface {
	RefreshToken(ctx context.Context, provider, userID string) (string, error)
}

// AccountSeed is a refresh token issued to one provider account.
type AccountSeed struct {
	UserID       string
	RefreshToken string
}

// SeededAccounts holds one configured account per provider. Providers rotate
// the refresh token on use, so a seed is only ever handed to the account it
// was issued for.
type SeededAccounts map[string]AccountSeed

func (s SeededAccounts) RefreshToken(_ context.Context, provider, userID string) (string, error) {
	seed, ok := s[provider]
	if !ok || seed.UserID == "" || seed.UserID != userID {
		return "", nil
	}
	return seed.RefreshToken, nil
}

// Vault owns the token state of every (provider, user) account in a shared cache.
// Refreshes are serialized per account: providers rotate the refresh token on
// every exchange, so two overlapping exchanges would burn the account. Callers
// in one process share a single flight; processes sharing the cache take turns
// through a cache lease.
type Vault struct {
	cache     shared.TokenCache
	exchanger Exchanger
	seeds     RefreshTokenSource
	margin    time.Duration
	now       func() time.Time
	logger    *slog.Logger
	flights   singleflight.Group
}

type VaultOption func(*Vault)

func WithSafetyMargin(d time.Duration) VaultOption {
	return func(v *Vault) { v.margin = d }
}

func WithClock(now func() time.Time) VaultOption {
	return func(v *Vault) { v.now = now }
}

func WithRefreshTokenSource(src RefreshTokenSource) VaultOption {
	return func(v *Vault) { v.seeds = src }
}

func WithLogger(logger *slog.Logger) VaultOption {
	return func(v *Vault) { v.logger = logger }
}

func NewVault(cache shared.TokenCache, exchanger Exchanger, opts ...VaultOption) *Vault {
	v := &Vault{
		cache:     cache,
		exchanger: exchanger,
		margin:    DefaultSafetyMargin,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// GetValidToken returns an access token that stays valid for at least the safety margin.
func (v *Vault) GetValidToken(ctx context.Context, provider, userID string) (string, error) {
	rec, err := v.Token(ctx, provider, userID)
	if err != nil {
		return "", err
	}
	return rec.AccessToken, nil
}

// Token returns the cached record, refreshing it first when absent or stale.
func (v *Vault) Token(ctx context.Context, provider, userID string) (*TokenRecord, error) {
	rec, err := v.load(ctx, provider, userID)
	if err != nil {
		return nil, err
	}
	if rec != nil && v.fresh(rec) {
		return rec, nil
	}
	return v.refresh(ctx, provider, userID, false, "")
}

// ForceRefresh exchanges the refresh token even though the cache looks valid.
// rejected is the access token the provider just refused; if the cache already
// holds a different one, a concurrent caller refreshed and that result is returned.
func (v *Vault) ForceRefresh(ctx context.Context, provider, userID, rejected string) (*TokenRecord, error) {
	return v.refresh(ctx, provider, userID, true, rejected)
}

// Revoke forgets everything cached for the account.
func (v *Vault) Revoke(ctx context.Context, provider, userID string) error {
	v.flights.Forget(TokenKey(provider, userID))
	if err := v.cache.Delete(ctx, TokenKey(provider, userID), RefreshKey(provider, userID)); err != nil {
		return fmt.Errorf("oauth: revoke %s tokens: %w", provider, err)
	}
	return nil
}

// Source binds the vault to one account.
func (v *Vault) Source(provider, userID string) TokenSource {
	return &accountSource{vault: v, provider: provider, userID: userID}
}

func (v *Vault) refresh(ctx context.Context, provider, userID string, force bool, rejected string) (*TokenRecord, error) {
	ch := v.flights.DoChan(TokenKey(provider, userID), func() (interface{}, error) {
		// Everyone sharing this flight depends on it, so it must not die with
		// the context of whichever caller happened to start it.
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), leaseWait+exchangeTimeout)
		defer cancel()
		return v.doRefresh(fctx, provider, userID, force, rejected)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*TokenRecord), nil
	}
}

func (v *Vault) doRefresh(ctx context.Context, provider, userID string, force bool, rejected string) (*TokenRecord, error) {
	logger := v.logger.With("provider", provider, "user_id", userID)

	release, err := v.lease(ctx, provider, userID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("Failed to release token lease", "error", err)
		}
	}()

	// Another flight, here or in another process, may have refreshed while
	// this one waited for the lease.
	current, err := v.load(ctx, provider, userID)
	if err != nil {
		return nil, err
	}
	if current != nil && v.fresh(current) && (!force || current.AccessToken != rejected) {
		return current, nil
	}

	refreshToken, err := v.refreshToken(ctx, provider, userID, current)
	if err != nil {
		return nil, err
	}

	xctx, cancel := context.WithTimeout(ctx, exchangeTimeout)
	defer cancel()
	rec, err := v.exchanger.Exchange(xctx, provider, refreshToken)
	if err != nil {
		observability.RecordTokenRefresh(provider, "failed")
		logger.Warn("Token refresh failed", "forced", force, "error", err)
		return nil, &RefreshError{Provider: provider, UserID: userID, Err: err}
	}
	if rec.AccessToken == "" {
		observability.RecordTokenRefresh(provider, "failed")
		return nil, &RefreshError{Provider: provider, UserID: userID, Err: errors.New("response carried no access token")}
	}
	if rec.RefreshToken == "" {
		rec.RefreshToken = refreshToken
	}
	observability.RecordTokenRefresh(provider, "success")

	if err := v.store(ctx, provider, userID, rec); err != nil {
		// The exchange already rotated the refresh token upstream; the new pair
		// is still good for this caller even though the cache missed it.
		logger.Error("Failed to cache refreshed token", "error", err)
	} else {
		logger.Info("Token refreshed", "forced", force, "expires_at", rec.ExpiresAt)
	}
	return rec, nil
}

// lease waits for the account's refresh lease in the shared cache.
func (v *Vault) lease(ctx context.Context, provider, userID string) (shared.Release, error) {
	key := TokenKey(provider, userID)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 25 * time.Millisecond
	b.MaxInterval = time.Second

	release, err := backoff.Retry(ctx, func() (shared.Release, error) {
		release, err := v.cache.Lease(ctx, key, leaseTTL)
		if err != nil && !errors.Is(err, shared.ErrLeaseHeld) {
			return nil, backoff.Permanent(err)
		}
		return release, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(leaseWait),
	)
	if err != nil {
		return nil, fmt.Errorf("oauth: take refresh lease for %s user %s: %w", provider, userID, err)
	}
	return release, nil
}

func (v *Vault) refreshToken(ctx context.Context, provider, userID string, current *TokenRecord) (string, error) {
	if current != nil && current.RefreshToken != "" {
		return current.RefreshToken, nil
	}

	raw, err := v.cache.Get(ctx, RefreshKey(provider, userID))
	switch {
	case err == nil && len(raw) > 0:
		return string(raw), nil
	case err != nil && !errors.Is(err, shared.ErrCacheMiss):
		return "", fmt.Errorf("oauth: read refresh token: %w", err)
	}

	if v.seeds != nil {
		seed, err := v.seeds.RefreshToken(ctx, provider, userID)
		if err != nil {
			return "", fmt.Errorf("oauth: out-of-band refresh token: %w", err)
		}
		if seed != "" {
			return seed, nil
		}
	}

	return "", fmt.Errorf("%w: no refresh token on record for %s user %s", ErrTokenUnavailable, provider, userID)
}

func (v *Vault) load(ctx context.Context, provider, userID string) (*TokenRecord, error) {
	raw, err := v.cache.Get(ctx, TokenKey(provider, userID))
	if errors.Is(err, shared.ErrCacheMiss) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("oauth: read token cache: %w", err)
	}

	var rec TokenRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		v.logger.Warn("Discarding unreadable token record", "provider", provider, "user_id", userID, "error", err)
		return nil, nil
	}
	return &rec, nil
}

// store writes the record and the refresh token in one atomic cache write.
// The record's TTL is its remaining lifetime so the entry vanishes with the token.
func (v *Vault) store(ctx context.Context, provider, userID string, rec *TokenRecord) error {
	entries := []shared.CacheEntry{{
		Key:   RefreshKey(provider, userID),
		Value: []byte(rec.RefreshToken),
		TTL:   refreshTokenTTL,
	}}

	if ttl := rec.ExpiresAt.Sub(v.now()); ttl > 0 {
		raw, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		entries = append(entries, shared.CacheEntry{Key: TokenKey(provider, userID), Value: raw, TTL: ttl})
	}

	return v.cache.Set(ctx, entries...)
}

func (v *Vault) fresh(rec *TokenRecord) bool {
	return rec.AccessToken != "" && v.now().Add(v.margin).Before(rec.ExpiresAt)
}
