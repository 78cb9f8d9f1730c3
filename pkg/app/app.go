// Package app assembles the sync pipeline from a bootstrapped service.
package app

import (
	"fmt"
	"net/http"

	"github.com/fitglue/coach-sync/pkg/bodymetrics"
	"github.com/fitglue/coach-sync/pkg/bootstrap"
	"github.com/fitglue/coach-sync/pkg/coordinator"
	"github.com/fitglue/coach-sync/pkg/domain/activity"
	"github.com/fitglue/coach-sync/pkg/fetcher"
	"github.com/fitglue/coach-sync/pkg/infrastructure/oauth"
	"github.com/fitglue/coach-sync/pkg/infrastructure/webhook"
	"github.com/fitglue/coach-sync/pkg/integrations/fitbit"
	"github.com/fitglue/coach-sync/pkg/integrations/strava"
	"github.com/fitglue/coach-sync/pkg/integrations/withings"
	"github.com/fitglue/coach-sync/pkg/server"
)

type App struct {
	Service     *bootstrap.Service
	Vault       *oauth.Vault
	Fetcher     *fetcher.Fetcher
	Coordinator *coordinator.Coordinator
	Verifier    *webhook.StravaVerifier
	Providers   []activity.Provider
	// Measurements is nil unless Withings is configured.
	Measurements *bodymetrics.Service
}

// New wires every enabled provider into one vault, fetcher and coordinator.
func New(svc *bootstrap.Service) (*App, error) {
	cfg := svc.Config
	logger := svc.Logger

	creds := map[string]oauth.ClientCredentials{}
	seeds := oauth.SeededAccounts{}
	factories := map[activity.Provider]fetcher.ClientFactory{}
	var providers []activity.Provider

	if cfg.Strava.Enabled() {
		creds[string(activity.ProviderStrava)] = credentials(cfg.Strava)
		factories[activity.ProviderStrava] = strava.Factory()
		providers = append(providers, activity.ProviderStrava)
	}
	if cfg.Fitbit.Enabled() {
		creds[string(activity.ProviderFitbit)] = credentials(cfg.Fitbit)
		factories[activity.ProviderFitbit] = fitbit.Factory()
		providers = append(providers, activity.ProviderFitbit)
	}
	for name, p := range cfg.Providers() {
		if p.RefreshToken != "" {
			seeds[name] = oauth.AccountSeed{UserID: p.AccountID, RefreshToken: p.RefreshToken}
		}
	}
	if len(providers) == 0 {
		logger.Warn("No activity provider credentials configured, every sync will fail")
	}

	tokenClient := &http.Client{Timeout: cfg.HTTPTimeout}
	oauth2Exchanger, err := oauth.NewOAuth2Exchanger(creds, tokenClient)
	if err != nil {
		return nil, fmt.Errorf("oauth exchanger: %w", err)
	}
	exchanger := oauth.ProviderExchangers{}
	for name := range creds {
		exchanger[name] = oauth2Exchanger
	}
	if cfg.Withings.Enabled() {
		exchanger[string(activity.ProviderWithings)] = oauth.NewWithingsExchanger(credentials(cfg.Withings), tokenClient)
	}

	vault := oauth.NewVault(svc.Cache, exchanger,
		oauth.WithRefreshTokenSource(seeds),
		oauth.WithLogger(logger.With("component", "token_vault")))

	f := fetcher.New(vault, factories, fetcher.Options{
		PageSize:      cfg.Sync.PageSize,
		MaxPages:      cfg.Sync.MaxPages,
		MaxAttempts:   cfg.Sync.MaxFetchAttempts,
		RatePerSecond: cfg.Sync.RatePerSecond,
		RateBurst:     cfg.Sync.RateBurst,
		Timeout:       cfg.HTTPTimeout,
	}, logger.With("component", "fetcher"))

	var measurements *bodymetrics.Service
	if cfg.Withings.Enabled() {
		f.RegisterMeasurements(activity.ProviderWithings, withings.Factory(withings.WithBaseURL(cfg.Withings.BaseURL)))
		measurements = bodymetrics.NewService(vault, f, activity.ProviderWithings, logger.With("component", "bodymetrics"))
	}

	coord := coordinator.New(vault, f, svc.Store, svc.Pub, coordinator.Options{
		Lookback:          cfg.Sync.Lookback,
		MaxUpsertAttempts: cfg.Sync.MaxUpsertAttempts,
	}, logger.With("component", "coordinator"))

	return &App{
		Service:      svc,
		Vault:        vault,
		Fetcher:      f,
		Coordinator:  coord,
		Verifier:     webhook.NewStravaVerifier(cfg.Strava.VerifyToken, cfg.Strava.ClientSecret),
		Providers:    providers,
		Measurements: measurements,
	}, nil
}

func credentials(p bootstrap.ProviderConfig) oauth.ClientCredentials {
	return oauth.ClientCredentials{ClientID: p.ClientID, ClientSecret: p.ClientSecret, TokenURL: p.TokenURL}
}

// Server builds the HTTP handlers around the given dispatcher.
func (a *App) Server(d server.Dispatcher) *server.Server {
	cfg := server.Config{
		Verifier:   a.Verifier,
		Dispatcher: d,
		Runner:     a.Coordinator,
		Revoker:    a.Vault,
		APIKey:     a.Service.Config.APIKey,
		Providers:  a.Providers,
		Logger:     a.Service.Logger,
	}
	if a.Measurements != nil {
		cfg.Measurements = a.Measurements
	}
	return server.New(cfg)
}

func (a *App) Router(d server.Dispatcher) http.Handler {
	return a.Server(d).Routes()
}

// Dispatcher publishes to Pub/Sub when publishing is enabled and otherwise
// runs syncs in-process.
func (a *App) Dispatcher() server.Dispatcher {
	if a.Service.Config.EnablePublish {
		return &server.PubSubDispatcher{Publisher: a.Service.Pub}
	}
	return &server.InlineDispatcher{Runner: a.Coordinator, Logger: a.Service.Logger}
}
