// Package withings reads smart-scale measurements from the Withings API.
// Authentication is left to the supplied http.Client.
package withings

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/fitglue/coach-sync/pkg/domain/body"
	"github.com/fitglue/coach-sync/pkg/fetcher"
	httputil "github.com/fitglue/coach-sync/pkg/infrastructure/http"
)

const (
	defaultBaseURL = "https://wbsapi.withings.net"
	defaultDevice  = "Withings Device"

	// maxPages bounds the more/offset chain of one listing.
	maxPages = 20
)

// Measure type codes of the getmeas API.
const (
	typeWeight         = 1
	typeFatFreeMass    = 5
	typeBodyFatPercent = 6
	typeFatMass        = 8
	typeMuscleMass     = 76
	typeHydration      = 77
	typeBoneMass       = 88
)

type Client struct {
	baseURL string
	client  *http.Client
}

type Option func(*Client)

// WithBaseURL points the client at another host, e.g. a test server.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = u
		}
	}
}

func NewClient(httpClient *http.Client, opts ...Option) *Client {
	c := &Client{baseURL: defaultBaseURL, client: httpClient}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Factory adapts NewClient to fetcher.MeasurementFactory.
func Factory(opts ...Option) fetcher.MeasurementFactory {
	return func(httpClient *http.Client) fetcher.MeasurementLister {
		return NewClient(httpClient, opts...)
	}
}

type envelope struct {
	Status int             `json:"status"`
	Error  string          `json:"error"`
	Body   json.RawMessage `json:"body"`
}

type measureBody struct {
	MeasureGroups []measureGroup `json:"measuregrps"`
	More          int            `json:"more"`
	Offset        int            `json:"offset"`
}

type measureGroup struct {
	Date     int64     `json:"date"`
	Device   string    `json:"device"`
	Measures []measure `json:"measures"`
}

type measure struct {
	Value int64 `json:"value"`
	Type  int   `json:"type"`
	Unit  int   `json:"unit"`
}

// ListMeasurements follows the more/offset chain until the provider reports
// no further groups.
func (c *Client) ListMeasurements(ctx context.Context, since, until time.Time) ([]body.Measurement, error) {
	if until.IsZero() {
		until = time.Now()
	}
	if !since.Before(until) {
		return nil, fmt.Errorf("%w: withings window %s..%s", fetcher.ErrBadRequest, since, until)
	}

	params := url.Values{}
	params.Set("action", "getmeas")
	params.Set("startdate", strconv.FormatInt(since.Unix(), 10))
	params.Set("enddate", strconv.FormatInt(until.Unix(), 10))

	var out []body.Measurement
	for page := 0; page < maxPages; page++ {
		mb, err := c.getmeas(ctx, params)
		if err != nil {
			return nil, err
		}
		for _, g := range mb.MeasureGroups {
			out = append(out, g.toMeasurement())
		}
		if mb.More == 0 {
			return out, nil
		}
		params.Set("offset", strconv.Itoa(mb.Offset))
	}
	return nil, fmt.Errorf("withings measurements: more than %d pages", maxPages)
}

func (c *Client) getmeas(ctx context.Context, params url.Values) (*measureBody, error) {
	u := c.baseURL + "/v2/measure?" + params.Encode()
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
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &fetcher.DecodeError{Err: err}
	}
	if env.Status != 0 {
		return nil, statusError(env, u)
	}

	var mb measureBody
	if err := json.Unmarshal(env.Body, &mb); err != nil {
		return nil, &fetcher.DecodeError{Err: err}
	}
	return &mb, nil
}

// statusError maps the envelope status onto an HTTPError so the fetcher's
// retry policy applies: 401 is an authentication failure, 601 is Withings'
// rate limit, 2554 and up are server side.
func statusError(env envelope, u string) error {
	code := http.StatusBadRequest
	switch {
	case env.Status == 401:
		code = http.StatusUnauthorized
	case env.Status == 601:
		code = http.StatusTooManyRequests
	case env.Status >= 2554:
		code = http.StatusBadGateway
	}
	return &httputil.HTTPError{
		StatusCode: code,
		Status:     fmt.Sprintf("withings status %d", env.Status),
		Body:       env.Error,
		URL:        u,
	}
}

func (g measureGroup) toMeasurement() body.Measurement {
	m := body.Measurement{
		MeasuredAt: time.Unix(g.Date, 0).UTC(),
		DeviceName: g.Device,
	}
	if m.DeviceName == "" {
		m.DeviceName = defaultDevice
	}
	for _, ms := range g.Measures {
		v := float64(ms.Value) * math.Pow10(ms.Unit)
		switch ms.Type {
		case typeWeight:
			m.WeightKg = &v
		case typeFatFreeMass:
			m.FatFreeMassKg = &v
		case typeBodyFatPercent:
			m.BodyFatPercent = &v
		case typeFatMass:
			m.FatMassKg = &v
		case typeMuscleMass:
			m.MuscleMassKg = &v
		case typeHydration:
			m.HydrationKg = &v
		case typeBoneMass:
			m.BoneMassKg = &v
		}
	}
	return m
}
