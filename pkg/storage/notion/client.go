// Package notion stores workouts in a Notion database.
package notion

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	httputil "github.com/fitglue/coach-sync/pkg/infrastructure/http"
	"github.com/fitglue/coach-sync/pkg/storage"
)

const (
	defaultBaseURL = "https://api.notion.com/v1"
	apiVersion     = "2022-06-28"
)

// Client is a minimal Notion REST client: database queries and page writes.
// Notion allows about three requests per second per integration.
type Client struct {
	baseURL string
	secret  string
	client  *http.Client
	limiter *rate.Limiter
}

type Option func(*Client)

func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.client = h }
}

func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst) }
}

func NewClient(secret string, opts ...Option) *Client {
	c := &Client{
		baseURL: defaultBaseURL,
		secret:  secret,
		client:  &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(3, 3),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Page is a Notion page as returned by the API.
type Page struct {
	ID         string              `json:"id"`
	Properties map[string]Property `json:"properties"`
}

// Property is the read shape of a page property. Only the types this package
// writes are decoded.
type Property struct {
	Type     string       `json:"type"`
	Title    []RichText   `json:"title"`
	RichText []RichText   `json:"rich_text"`
	Number   *float64     `json:"number"`
	Date     *DateValue   `json:"date"`
	Select   *SelectValue `json:"select"`
}

type RichText struct {
	PlainText string `json:"plain_text"`
	Text      struct {
		Content string `json:"content"`
	} `json:"text"`
}

type DateValue struct {
	Start string `json:"start"`
}

type SelectValue struct {
	Name string `json:"name"`
}

// Text returns the concatenated plain text of a title or rich_text property.
func (p Property) Text() string {
	parts := p.RichText
	if len(parts) == 0 {
		parts = p.Title
	}
	var buf bytes.Buffer
	for _, t := range parts {
		if t.PlainText != "" {
			buf.WriteString(t.PlainText)
		} else {
			buf.WriteString(t.Text.Content)
		}
	}
	return buf.String()
}

type QueryRequest struct {
	Filter   any    `json:"filter,omitempty"`
	Sorts    []Sort `json:"sorts,omitempty"`
	PageSize int    `json:"page_size,omitempty"`
}

type Sort struct {
	Property  string `json:"property"`
	Direction string `json:"direction"`
}

type QueryResponse struct {
	Results    []Page `json:"results"`
	HasMore    bool   `json:"has_more"`
	NextCursor string `json:"next_cursor"`
}

func (c *Client) QueryDatabase(ctx context.Context, databaseID string, q QueryRequest) (*QueryResponse, error) {
	var out QueryResponse
	if err := c.do(ctx, http.MethodPost, "/databases/"+databaseID+"/query", q, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreatePage(ctx context.Context, databaseID string, props map[string]any) (*Page, error) {
	body := map[string]any{
		"parent":     map[string]string{"database_id": databaseID},
		"properties": props,
	}
	var out Page
	if err := c.do(ctx, http.MethodPost, "/pages", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdatePage patches only the given properties; everything else on the page is untouched.
func (c *Client) UpdatePage(ctx context.Context, pageID string, props map[string]any) (*Page, error) {
	var out Page
	if err := c.do(ctx, http.MethodPatch, "/pages/"+pageID, map[string]any{"properties": props}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// do sends one request. Throttling, conflicts, 5xx and network failures come
// back marked transient.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return storage.Transient(err)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secret)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Notion-Version", apiVersion)

	resp, err := c.client.Do(req)
	if err != nil {
		return storage.Transient(fmt.Errorf("notion %s %s: %w", method, path, err))
	}
	defer resp.Body.Close()

	if err := httputil.ParseErrorResponse(resp); err != nil {
		var httpErr *httputil.HTTPError
		if errors.As(err, &httpErr) && (httpErr.Retryable() || httpErr.StatusCode == http.StatusConflict) {
			return storage.Transient(err)
		}
		return fmt.Errorf("notion %s %s: %w", method, path, err)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return storage.Transient(fmt.Errorf("read response: %w", err))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
