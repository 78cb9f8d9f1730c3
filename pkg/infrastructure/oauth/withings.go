package oauth

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"

	httputil "github.com/fitglue/coach-sync/pkg/infrastructure/http"
)

// DefaultWithingsTokenURL is the Withings token endpoint. It does not speak
// plain OAuth2: the grant goes through action=requesttoken and the answer is
// wrapped in a {status, body} envelope served with HTTP 200.
const DefaultWithingsTokenURL = "https://wbsapi.withings.net/v2/oauth2"

// WithingsExchanger performs the refresh grant against the Withings API.
type WithingsExchanger struct {
	creds  ClientCredentials
	client *http.Client
	now    func() time.Time
}

// NewWithingsExchanger builds an exchanger for one Withings application.
// client may be nil to use http.DefaultClient.
func NewWithingsExchanger(creds ClientCredentials, client *http.Client) *WithingsExchanger {
	if creds.TokenURL == "" {
		creds.TokenURL = DefaultWithingsTokenURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &WithingsExchanger{creds: creds, client: client, now: time.Now}
}

type withingsEnvelope struct {
	Status int    `json:"status"`
	Error  string `json:"error"`
	Body   struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int64  `json:"expires_in"`
	} `json:"body"`
}

func (e *WithingsExchanger) Exchange(ctx context.Context, provider, refreshToken string) (*TokenRecord, error) {
	form := url.Values{}
	form.Set("action", "requesttoken")
	form.Set("grant_type", "refresh_token")
	form.Set("client_id", e.creds.ClientID)
	form.Set("client_secret", e.creds.ClientSecret)
	form.Set("refresh_token", refreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.creds.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := e.client.Do(req)
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

	var env withingsEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode %s token response: %w", provider, err)
	}
	if env.Status != 0 {
		return nil, fmt.Errorf("%s token endpoint status %d: %s", provider, env.Status, env.Error)
	}
	if env.Body.AccessToken == "" {
		return nil, fmt.Errorf("%s token response carries no access token", provider)
	}

	lifetime := fallbackLifetime
	if env.Body.ExpiresIn > 0 {
		lifetime = time.Duration(env.Body.ExpiresIn) * time.Second
	}
	rec := &TokenRecord{
		AccessToken:  env.Body.AccessToken,
		RefreshToken: env.Body.RefreshToken,
		ExpiresAt:    e.now().Add(lifetime).UTC(),
	}
	if rec.RefreshToken == "" {
		rec.RefreshToken = refreshToken
	}
	return rec, nil
}

// ProviderExchangers routes each exchange to the exchanger registered for its provider.
type ProviderExchangers map[string]Exchanger

func (p ProviderExchangers) Exchange(ctx context.Context, provider, refreshToken string) (*TokenRecord, error) {
	ex, ok := p[provider]
	if !ok {
		return nil, fmt.Errorf("oauth: no exchanger for %s", provider)
	}
	return ex.Exchange(ctx, provider, refreshToken)
}
