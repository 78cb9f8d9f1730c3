package oauth

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTokenUnavailable means no refresh token exists for the account; the
	// user has to authorize again.
	ErrTokenUnavailable = errors.New("oauth: token unavailable")

	// ErrTokenRefreshFailed means the provider rejected or failed the exchange.
	ErrTokenRefreshFailed = errors.New("oauth: token refresh failed")
)

// TokenRecord is the cached state of one provider account.
// ExpiresAt doubles as the expiry of the cache entry holding it.
type TokenRecord struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// RefreshError wraps a failed exchange. It matches ErrTokenRefreshFailed.
type RefreshError struct {
	Provider string
	UserID   string
	Err      error
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("oauth: refresh %s token for user %s: %v", e.Provider, e.UserID, e.Err)
}

func (e *RefreshError) Unwrap() []error {
	return []error{ErrTokenRefreshFailed, e.Err}
}

// TokenKey is the cache key of an account's TokenRecord.
func TokenKey(provider, userID string) string {
	return provider + ":" + userID + ":token"
}

// RefreshKey is the cache key holding the latest refresh token, which
// outlives the access token entry.
func RefreshKey(provider, userID string) string {
	return provider + ":" + userID + ":refresh"
}
