// Package fetcher retrieves provider activities page by page under rate limits.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"

	"github.com/fitglue/coach-sync/pkg/domain/activity"
	"github.com/fitglue/coach-sync/pkg/domain/body"
	httputil "github.com/fitglue/coach-sync/pkg/infrastructure/http"
	"github.com/fitglue/coach-sync/pkg/infrastructure/oauth"
	"github.com/fitglue/coach-sync/pkg/observability"
)

// Query bounds a listing in time. A zero Until means now.
type Query struct {
	Since    time.Time
	Until    time.Time
	PageSize int
}

// Page is one provider response. An empty Next means there are no further pages.
type Page struct {
	Activities []activity.RawActivity
	Next       string
}

// Lister lists activities of one account. cursor is "" for the first page and
// otherwise whatever the previous Page returned as Next.
type Lister interface {
	ListPage(ctx context.Context, q Query, cursor string) (*Page, error)
}

// Getter fetches a single activity by its provider ID.
type Getter interface {
	GetActivity(ctx context.Context, id string) (activity.RawActivity, error)
}

// ClientFactory builds a provider client on top of an authenticated HTTP client.
// The client must implement Lister and may implement Getter.
type ClientFactory func(httpClient *http.Client) Lister

// MeasurementLister reads the body measurements of one account taken in [since, until).
type MeasurementLister interface {
	ListMeasurements(ctx context.Context, since, until time.Time) ([]body.Measurement, error)
}

// MeasurementFactory builds a measurement client on top of an authenticated HTTP client.
type MeasurementFactory func(httpClient *http.Client) MeasurementLister

// Tokens hands out token sources per account. *oauth.Vault satisfies it.
type Tokens interface {
	Source(provider, userID string) oauth.TokenSource
}

type Options struct {
	PageSize        int
	MaxPages        int
	MaxAttempts     int
	RatePerSecond   float64
	RateBurst       int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// Base carries the authenticated requests; nil means http.DefaultTransport.
	Base    http.RoundTripper
	Timeout time.Duration
}

func (o *Options) withDefaults() {
	if o.PageSize <= 0 {
		o.PageSize = 50
	}
	if o.MaxPages <= 0 {
		o.MaxPages = 10
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 4
	}
	if o.RatePerSecond <= 0 {
		o.RatePerSecond = 1
	}
	if o.RateBurst <= 0 {
		o.RateBurst = 5
	}
	if o.InitialInterval <= 0 {
		o.InitialInterval = 500 * time.Millisecond
	}
	if o.MaxInterval <= 0 {
		o.MaxInterval = 30 * time.Second
	}
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
}

// Fetcher owns one rate limiter per provider, shared by every run in the process.
type Fetcher struct {
	tokens       Tokens
	factories    map[activity.Provider]ClientFactory
	measurements map[activity.Provider]MeasurementFactory
	opts         Options
	logger       *slog.Logger

	mu       sync.Mutex
	limiters map[activity.Provider]*rate.Limiter
}

func New(tokens Tokens, factories map[activity.Provider]ClientFactory, opts Options, logger *slog.Logger) *Fetcher {
	opts.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		tokens:       tokens,
		factories:    factories,
		measurements: make(map[activity.Provider]MeasurementFactory),
		opts:         opts,
		logger:       logger,
		limiters:     make(map[activity.Provider]*rate.Limiter),
	}
}

// RegisterMeasurements adds a body-measurement client for provider. Register
// before the first fetch; the registry is not guarded.
func (f *Fetcher) RegisterMeasurements(provider activity.Provider, factory MeasurementFactory) {
	f.measurements[provider] = factory
}

// FetchMeasurements reads the account's body measurements in [since, until)
// under the provider's rate limit and retry policy.
func (f *Fetcher) FetchMeasurements(ctx context.Context, provider activity.Provider, userID string, since, until time.Time) ([]body.Measurement, error) {
	factory, ok := f.measurements[provider]
	if !ok {
		return nil, fmt.Errorf("%s measurements: %w", provider, ErrUnsupported)
	}
	client := factory(f.httpClient(provider, userID))

	var out []body.Measurement
	attempts, err := f.retry(ctx, provider, func(ctx context.Context) error {
		var err error
		out, err = client.ListMeasurements(ctx, since, until)
		return err
	})
	if err != nil {
		return nil, &ExhaustedError{Provider: provider, Page: 1, Attempts: attempts, Err: err}
	}
	return out, nil
}

// Supports reports whether a client is registered for provider.
func (f *Fetcher) Supports(provider activity.Provider) bool {
	_, ok := f.factories[provider]
	return ok
}

// FetchRecent returns a lazy stream over the account's activities in [since, until).
// Nothing is requested until the first call to Next.
func (f *Fetcher) FetchRecent(provider activity.Provider, userID string, since, until time.Time) (*Stream, error) {
	client, err := f.client(provider, userID)
	if err != nil {
		return nil, err
	}
	return &Stream{
		f:        f,
		provider: provider,
		lister:   client,
		query:    Query{Since: since, Until: until, PageSize: f.opts.PageSize},
		logger:   f.logger.With("provider", provider, "user_id", userID),
	}, nil
}

// FetchByID fetches specific activities, such as those named by a webhook event.
func (f *Fetcher) FetchByID(ctx context.Context, provider activity.Provider, userID, id string) (activity.RawActivity, error) {
	client, err := f.client(provider, userID)
	if err != nil {
		return activity.RawActivity{}, err
	}
	getter, ok := client.(Getter)
	if !ok {
		return activity.RawActivity{}, fmt.Errorf("%s: %w", provider, ErrUnsupported)
	}

	var raw activity.RawActivity
	attempts, err := f.retry(ctx, provider, func(ctx context.Context) error {
		var err error
		raw, err = getter.GetActivity(ctx, id)
		return err
	})
	if err != nil {
		return activity.RawActivity{}, &ExhaustedError{Provider: provider, Page: 1, Attempts: attempts, Err: err}
	}
	return raw, nil
}

func (f *Fetcher) client(provider activity.Provider, userID string) (Lister, error) {
	factory, ok := f.factories[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", activity.ErrUnsupportedProvider, provider)
	}
	return factory(f.httpClient(provider, userID)), nil
}

func (f *Fetcher) httpClient(provider activity.Provider, userID string) *http.Client {
	httpClient := oauth.NewClient(f.tokens.Source(string(provider), userID), f.opts.Base)
	httpClient.Timeout = f.opts.Timeout
	return httpClient
}

func (f *Fetcher) limiter(provider activity.Provider) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.limiters[provider]
	if !ok {
		l = rate.NewLimiter(rate.Limit(f.opts.RatePerSecond), f.opts.RateBurst)
		f.limiters[provider] = l
	}
	return l
}

// retry runs call under the provider's rate limit until it succeeds, fails
// permanently or uses up MaxAttempts. It returns the attempts made and the last error.
func (f *Fetcher) retry(ctx context.Context, provider activity.Provider, call func(context.Context) error) (int, error) {
	attempts := 0
	var lastErr error

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = f.opts.InitialInterval
	b.MaxInterval = f.opts.MaxInterval

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		if err := f.limiter(provider).Wait(ctx); err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		attempts++
		lastErr = call(ctx)
		if lastErr == nil {
			observability.RecordFetchPage(string(provider), "ok")
			return struct{}{}, nil
		}
		return struct{}{}, classify(lastErr)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(f.opts.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			observability.RecordFetchPage(string(provider), "retry")
			f.logger.Warn("Provider call failed, backing off", "provider", provider, "attempt", attempts, "retry_in", next, "error", err)
		}),
	)
	if err == nil {
		return attempts, nil
	}
	observability.RecordFetchPage(string(provider), "failed")
	if lastErr == nil {
		lastErr = err
	}
	return attempts, lastErr
}

// classify turns a call error into a backoff directive: honor the provider's
// Retry-After, retry other transient failures with jitter, stop on the rest.
func classify(err error) error {
	var decodeErr *DecodeError
	if errors.As(err, &decodeErr) || errors.Is(err, ErrBadRequest) {
		return backoff.Permanent(err)
	}
	var httpErr *httputil.HTTPError
	if errors.As(err, &httpErr) {
		if !httpErr.Retryable() {
			return backoff.Permanent(err)
		}
		if httpErr.RetryAfter > 0 {
			return backoff.RetryAfter(int(math.Ceil(httpErr.RetryAfter.Seconds())))
		}
		return err
	}
	if errors.Is(err, oauth.ErrTokenUnavailable) || errors.Is(err, oauth.ErrTokenRefreshFailed) || errors.Is(err, context.Canceled) {
		return backoff.Permanent(err)
	}
	return err
}

// DecodeError wraps a response body the provider client could not parse.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return "decode provider response: " + e.Err.Error() }
func (e *DecodeError) Unwrap() error { return e.Err }
