// Package bodymetrics serves smart-scale measurements with their rolling
// averages and trend lines. Measurements are read through on every request
// and never written to the workout store.
package bodymetrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fitglue/coach-sync/pkg/domain/activity"
	"github.com/fitglue/coach-sync/pkg/domain/body"
)

const (
	DefaultDays = 7
	MaxDays     = 365
)

// ErrInvalidDays rejects a window outside 1..MaxDays.
var ErrInvalidDays = errors.New("bodymetrics: days out of range")

// Fetcher reads measurements from the provider. *fetcher.Fetcher satisfies it.
type Fetcher interface {
	FetchMeasurements(ctx context.Context, provider activity.Provider, userID string, since, until time.Time) ([]body.Measurement, error)
}

// Tokens is checked before any provider call. *oauth.Vault satisfies it.
type Tokens interface {
	GetValidToken(ctx context.Context, provider, userID string) (string, error)
}

// Report is the answer to one measurement request.
type Report struct {
	Provider     activity.Provider          `json:"provider"`
	UserID       string                     `json:"user_id"`
	Since        time.Time                  `json:"since"`
	Until        time.Time                  `json:"until"`
	Measurements []body.Measurement         `json:"measurements"`
	Trends       map[string]body.Regression `json:"trends"`
}

type Service struct {
	tokens   Tokens
	fetcher  Fetcher
	provider activity.Provider
	window   int
	now      func() time.Time
	logger   *slog.Logger
}

func NewService(tokens Tokens, f Fetcher, provider activity.Provider, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		tokens:   tokens,
		fetcher:  f,
		provider: provider,
		window:   body.DefaultWindow,
		now:      time.Now,
		logger:   logger,
	}
}

// List returns the account's measurements of the last days days, oldest
// first, each carrying its trailing moving average.
func (s *Service) List(ctx context.Context, userID string, days int) (*Report, error) {
	if days < 1 || days > MaxDays {
		return nil, fmt.Errorf("%w: %d", ErrInvalidDays, days)
	}
	logger := s.logger.With("provider", s.provider, "user_id", userID)

	if _, err := s.tokens.GetValidToken(ctx, string(s.provider), userID); err != nil {
		logger.Warn("No usable token for measurements", "error", err)
		return nil, err
	}

	until := s.now().UTC()
	since := until.Add(-time.Duration(days) * 24 * time.Hour)
	ms, err := s.fetcher.FetchMeasurements(ctx, s.provider, userID, since, until)
	if err != nil {
		logger.Error("Failed to fetch measurements", "error", err)
		return nil, err
	}

	ms = body.AddMovingAverage(ms, s.window)
	logger.Info("Measurements served", "count", len(ms), "days", days)
	return &Report{
		Provider:     s.provider,
		UserID:       userID,
		Since:        since,
		Until:        until,
		Measurements: ms,
		Trends:       body.Trends(ms),
	}, nil
}
