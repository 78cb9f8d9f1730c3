package oauth

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

// TokenSource supplies tokens for a single provider account.
type TokenSource interface {
	Token(ctx context.Context) (*TokenRecord, error)
	// ForceRefresh replaces rejected, the access token the provider just refused.
	ForceRefresh(ctx context.Context, rejected string) (*TokenRecord, error)
}

type accountSource struct {
	vault    *Vault
	provider string
	userID   string
}

func (s *accountSource) Token(ctx context.Context) (*TokenRecord, error) {
	return s.vault.Token(ctx, s.provider, s.userID)
}

func (s *accountSource) ForceRefresh(ctx context.Context, rejected string) (*TokenRecord, error) {
	return s.vault.ForceRefresh(ctx, s.provider, s.userID, rejected)
}

// Transport is an http.RoundTripper that authenticates all requests
// using the provided TokenSource.
type Transport struct {
	// Source supplies the token to be used.
	Source TokenSource

	// Base is the base RoundTripper used to make the actual HTTP requests.
	// If nil, http.DefaultTransport is used.
	Base http.RoundTripper
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	ctx := req.Context()
	token, err := t.Source.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("oauth: cannot get token: %w", err)
	}

	req2 := cloneRequest(req)
	req2.Header.Set("Authorization", "Bearer "+token.AccessToken)

	resp, err := base.RoundTrip(req2)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	// The provider revoked the token early. Refresh once and retry; a second 401 goes back to the caller.
	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		return resp, nil
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	slog.Warn("Got 401 Unauthorized, attempting force refresh", "url", req.URL.String())

	token, err = t.Source.ForceRefresh(ctx, token.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("oauth: force refresh failed: %w", err)
	}

	retry := cloneRequest(req)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("oauth: rewind request body: %w", err)
		}
		retry.Body = body
	}
	retry.Header.Set("Authorization", "Bearer "+token.AccessToken)
	return base.RoundTrip(retry)
}

// NewClient returns an HTTP client authenticating as the given account.
func NewClient(source TokenSource, base http.RoundTripper) *http.Client {
	return &http.Client{Transport: &Transport{Source: source, Base: base}}
}

// cloneRequest returns a clone of the provided *http.Request.
// The clone is a shallow copy of the struct and its Header map.
func cloneRequest(r *http.Request) *http.Request {
	r2 := new(http.Request)
	*r2 = *r
	r2.Header = make(http.Header, len(r.Header))
	for k, s := range r.Header {
		r2.Header[k] = append([]string(nil), s...)
	}
	return r2
}
