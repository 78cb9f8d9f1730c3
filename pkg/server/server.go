// Package server exposes the webhook receiver and the manual sync endpoint.
package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fitglue/coach-sync/pkg/bodymetrics"
	"github.com/fitglue/coach-sync/pkg/coordinator"
	"github.com/fitglue/coach-sync/pkg/domain/activity"
	"github.com/fitglue/coach-sync/pkg/infrastructure/webhook"
	"github.com/fitglue/coach-sync/pkg/observability"
)

// APIKeyHeader authenticates manual sync requests.
const APIKeyHeader = "X-API-Key"

const maxWebhookBody = 64 << 10

// Revoker drops stored credentials for an account. *oauth.Vault satisfies it.
type Revoker interface {
	Revoke(ctx context.Context, provider, userID string) error
}

// Measurements reads body measurements. *bodymetrics.Service satisfies it.
type Measurements interface {
	List(ctx context.Context, userID string, days int) (*bodymetrics.Report, error)
}

type Server struct {
	verifier     *webhook.StravaVerifier
	dispatcher   Dispatcher
	runner       Runner
	revoker      Revoker
	measurements Measurements
	apiKey       string
	providers    map[activity.Provider]bool
	logger       *slog.Logger
}

type Config struct {
	Verifier   *webhook.StravaVerifier
	Dispatcher Dispatcher
	Runner     Runner
	Revoker    Revoker
	// Measurements is optional; without it the measurements route is not mounted.
	Measurements Measurements
	APIKey       string
	// Providers lists the providers manual syncs may target.
	Providers []activity.Provider
	Logger    *slog.Logger
}

func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	providers := make(map[activity.Provider]bool, len(cfg.Providers))
	for _, p := range cfg.Providers {
		providers[p] = true
	}
	return &Server{
		verifier:     cfg.Verifier,
		dispatcher:   cfg.Dispatcher,
		runner:       cfg.Runner,
		revoker:      cfg.Revoker,
		measurements: cfg.Measurements,
		apiKey:       cfg.APIKey,
		providers:    providers,
		logger:       logger.With("component", "server"),
	}
}

// Routes builds the full router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/webhook/strava", s.StravaHandshake)
	r.Post("/webhook/strava", s.StravaEvent)

	r.With(s.requireAPIKey).Post("/sync/{provider}/{user}", s.ManualSync)
	if s.measurements != nil {
		r.With(s.requireAPIKey).Get("/measurements/{user}", s.BodyMeasurements)
	}
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", chimiddleware.GetReqID(r.Context()))
	})
}

func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get(APIKeyHeader)
		if s.apiKey == "" || subtle.ConstantTimeCompare([]byte(got), []byte(s.apiKey)) != 1 {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// StravaHandshake answers the subscription validation GET.
func (s *Server) StravaHandshake(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	challenge, err := s.verifier.VerifyHandshake(q.Get("hub.mode"), q.Get("hub.challenge"), q.Get("hub.verify_token"))
	if err != nil {
		s.logger.Warn("Rejected webhook handshake", "error", err)
		observability.RecordWebhookEvent(string(activity.ProviderStrava), "handshake_rejected")
		http.Error(w, http.StatusText(webhook.AckStatus(err)), webhook.AckStatus(err))
		return
	}
	observability.RecordWebhookEvent(string(activity.ProviderStrava), "handshake")
	writeJSON(w, http.StatusOK, map[string]string{"hub.challenge": challenge})
}

// StravaEvent authenticates a push event, then dispatches or revokes.
func (s *Server) StravaEvent(w http.ResponseWriter, r *http.Request) {
	provider := string(activity.ProviderStrava)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		s.logger.Warn("Failed to read webhook body", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	e, err := s.verifier.AuthenticateEvent(body, r.Header.Get(webhook.SignatureHeader))
	if err != nil {
		status := webhook.AckStatus(err)
		result := "malformed"
		if status != http.StatusOK {
			result = "unauthenticated"
		}
		s.logger.Warn("Rejected webhook event", "error", err, "status", status)
		observability.RecordWebhookEvent(provider, result)
		w.WriteHeader(status)
		return
	}

	logger := s.logger.With("user_id", e.UserID(), "object_type", e.ObjectType, "aspect_type", e.AspectType)

	switch e.Action() {
	case webhook.ActionDeauthorize:
		if err := s.revoker.Revoke(r.Context(), provider, e.UserID()); err != nil {
			logger.Error("Failed to revoke tokens", "error", err)
			observability.RecordWebhookEvent(provider, "error")
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		logger.Info("Athlete deauthorized, tokens revoked")
	case webhook.ActionSync:
		t := coordinator.Trigger{
			Provider:    activity.ProviderStrava,
			UserID:      e.UserID(),
			ActivityIDs: []string{e.ActivityID()},
			Source:      "webhook",
		}
		if err := s.dispatcher.Dispatch(r.Context(), t); err != nil {
			logger.Error("Failed to dispatch sync", "error", err)
			observability.RecordWebhookEvent(provider, "error")
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		logger.Info("Sync dispatched", "activity_id", e.ActivityID())
	default:
		logger.Debug("Webhook event ignored")
	}

	observability.RecordWebhookEvent(provider, e.Action().String())
	w.WriteHeader(http.StatusOK)
}

type manualSyncRequest struct {
	Since       time.Time `json:"since"`
	Until       time.Time `json:"until"`
	ActivityIDs []string  `json:"activity_ids"`
}

// ManualSync runs a sync synchronously and returns its report.
func (s *Server) ManualSync(w http.ResponseWriter, r *http.Request) {
	provider := activity.Provider(chi.URLParam(r, "provider"))
	if !s.providers[provider] {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown provider"})
		return
	}

	var req manualSyncRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(io.LimitReader(r.Body, maxWebhookBody)).Decode(&req); err != nil && err != io.EOF {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
			return
		}
	}

	report, err := s.runner.Run(r.Context(), coordinator.Trigger{
		Provider:    provider,
		UserID:      chi.URLParam(r, "user"),
		Since:       req.Since,
		Until:       req.Until,
		ActivityIDs: req.ActivityIDs,
		Source:      "manual",
	})
	if report == nil {
		s.logger.Error("Manual sync failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "sync failed"})
		return
	}

	status := http.StatusOK
	if report.Status == coordinator.StateFailed {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, report)
}

// BodyMeasurements returns the user's recent measurements with moving
// averages and trends. ?days defaults to seven.
func (s *Server) BodyMeasurements(w http.ResponseWriter, r *http.Request) {
	days := bodymetrics.DefaultDays
	if q := r.URL.Query().Get("days"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "days must be an integer"})
			return
		}
		days = n
	}

	report, err := s.measurements.List(r.Context(), chi.URLParam(r, "user"), days)
	switch {
	case errors.Is(err, bodymetrics.ErrInvalidDays):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case err != nil:
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "measurements unavailable"})
	default:
		writeJSON(w, http.StatusOK, report)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
