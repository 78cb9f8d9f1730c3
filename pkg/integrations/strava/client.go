// Package strava is a minimal Strava API v3 client: activity listing and
// single-activity reads. Authentication is left to the supplied http.Client.
package strava

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/fitglue/coach-sync/pkg/domain/activity"
	"github.com/fitglue/coach-sync/pkg/fetcher"
	httputil "github.com/fitglue/coach-sync/pkg/infrastructure/http"
)

const (
	defaultBaseURL = "https://www.strava.com/api/v3"
	maxPageSize    = 200
)

// Client is an API client for Strava
type Client struct {
	baseURL string
	client  *http.Client
}

type Option func(*Client)

// WithBaseURL points the client at another host, e.g. a test server.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// NewClient creates a Strava client on top of an authenticated HTTP client
func NewClient(httpClient *http.Client, opts ...Option) *Client {
	c := &Client{baseURL: defaultBaseURL, client: httpClient}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Factory adapts NewClient to fetcher.ClientFactory.
func Factory(opts ...Option) fetcher.ClientFactory {
	return func(httpClient *http.Client) fetcher.Lister {
		return NewClient(httpClient, opts...)
	}
}

func (c *Client) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if err := httputil.ParseErrorResponse(resp); err != nil {
		return nil, err
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return body, nil
}

// ListPage lists the athlete's activities. The cursor is the 1-based page number;
// a page shorter than requested is the last one.
func (c *Client) ListPage(ctx context.Context, q fetcher.Query, cursor string) (*fetcher.Page, error) {
	page := 1
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("%w: strava page cursor %q", fetcher.ErrBadRequest, cursor)
		}
		page = n
	}
	perPage := q.PageSize
	if perPage <= 0 || perPage > maxPageSize {
		perPage = maxPageSize
	}

	params := url.Values{}
	params.Set("page", strconv.Itoa(page))
	params.Set("per_page", strconv.Itoa(perPage))
	if !q.Since.IsZero() {
		params.Set("after", strconv.FormatInt(q.Since.Unix(), 10))
	}
	if !q.Until.IsZero() {
		params.Set("before", strconv.FormatInt(q.Until.Unix(), 10))
	}

	body, err := c.get(ctx, "/athlete/activities", params)
	if err != nil {
		return nil, err
	}

	var items []json.RawMessage
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, &fetcher.DecodeError{Err: err}
	}

	out := &fetcher.Page{Activities: make([]activity.RawActivity, 0, len(items))}
	for _, item := range items {
		out.Activities = append(out.Activities, activity.RawActivity{Provider: activity.ProviderStrava, Payload: item})
	}
	if len(items) == perPage {
		out.Next = strconv.Itoa(page + 1)
	}
	return out, nil
}

// GetActivity retrieves the detailed representation, which includes laps and splits.
func (c *Client) GetActivity(ctx context.Context, id string) (activity.RawActivity, error) {
	if _, err := strconv.ParseInt(id, 10, 64); err != nil {
		return activity.RawActivity{}, fmt.Errorf("%w: strava activity id %q", fetcher.ErrBadRequest, id)
	}

	params := url.Values{}
	params.Set("include_all_efforts", "false")
	body, err := c.get(ctx, "/activities/"+id, params)
	if err != nil {
		return activity.RawActivity{}, err
	}
	if !json.Valid(body) {
		return activity.RawActivity{}, &fetcher.DecodeError{Err: fmt.Errorf("activity %s: invalid JSON", id)}
	}
	return activity.RawActivity{Provider: activity.ProviderStrava, Payload: body}, nil
}
