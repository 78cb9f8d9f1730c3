// Package fitbit lists logged activities from the Fitbit Web API.
package fitbit

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/fitglue/coach-sync/pkg/domain/activity"
	"github.com/fitglue/coach-sync/pkg/fetcher"
	httputil "github.com/fitglue/coach-sync/pkg/infrastructure/http"
)

const (
	defaultBaseURL = "https://api.fitbit.com"
	maxPageSize    = 100
	afterDateFmt   = "2006-01-02T15:04:05"
)

type Client struct {
	baseURL string
	client  *http.Client
}

type Option func(*Client)

func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

func NewClient(httpClient *http.Client, opts ...Option) *Client {
	c := &Client{baseURL: defaultBaseURL, client: httpClient}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func Factory(opts ...Option) fetcher.ClientFactory {
	return func(httpClient *http.Client) fetcher.Lister {
		return NewClient(httpClient, opts...)
	}
}

type listResponse struct {
	Activities []json.RawMessage `json:"activities"`
	Pagination struct {
		Next string `json:"next"`
	} `json:"pagination"`
}

type startOnly struct {
	StartTime string `json:"startTime"`
}

// ListPage lists the activity log in ascending start order. The cursor is the
// absolute "next" URL Fitbit returned, which must stay on the API host.
func (c *Client) ListPage(ctx context.Context, q fetcher.Query, cursor string) (*fetcher.Page, error) {
	u := cursor
	if u == "" {
		limit := q.PageSize
		if limit <= 0 || limit > maxPageSize {
			limit = maxPageSize
		}
		params := url.Values{}
		params.Set("afterDate", q.Since.UTC().Format(afterDateFmt))
		params.Set("sort", "asc")
		params.Set("offset", "0")
		params.Set("limit", strconv.Itoa(limit))
		u = c.baseURL + "/1/user/-/activities/list.json?" + params.Encode()
	} else if !strings.HasPrefix(cursor, c.baseURL+"/") {
		return nil, fmt.Errorf("%w: fitbit pagination left %s", fetcher.ErrBadRequest, c.baseURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
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

	var list listResponse
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, &fetcher.DecodeError{Err: err}
	}

	page := &fetcher.Page{Next: list.Pagination.Next}
	for _, item := range list.Activities {
		if !q.Until.IsZero() && startsAtOrAfter(item, q.Until) {
			// Sorted ascending, so nothing later can fall inside the window.
			page.Next = ""
			break
		}
		page.Activities = append(page.Activities, activity.RawActivity{Provider: activity.ProviderFitbit, Payload: item})
	}
	return page, nil
}

func startsAtOrAfter(item json.RawMessage, until time.Time) bool {
	var s startOnly
	if err := json.Unmarshal(item, &s); err != nil {
		return false
	}
	t, err := time.Parse(time.RFC3339, s.StartTime)
	if err != nil {
		return false
	}
	return !t.Before(until)
}
