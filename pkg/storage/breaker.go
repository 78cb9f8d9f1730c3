package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/fitglue/coach-sync/pkg/domain/metrics"
)

// BreakerStore trips after repeated transient failures so a struggling store
// is not hammered by every record of every run. Permanent failures (bad data,
// validation) do not count against it.
type BreakerStore struct {
	next Store
	cb   *gobreaker.CircuitBreaker[Action]
}

type BreakerConfig struct {
	Name                string
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
}

func NewBreakerStore(next Store, cfg BreakerConfig, logger *slog.Logger) *BreakerStore {
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = 5
	}
	if cfg.OpenTimeout == 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !IsTransient(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Store circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	}

	return &BreakerStore{next: next, cb: gobreaker.NewCircuitBreaker[Action](settings)}
}

func (b *BreakerStore) Upsert(ctx context.Context, w *Workout) (Action, error) {
	action, err := b.cb.Execute(func() (Action, error) {
		return b.next.Upsert(ctx, w)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return "", Transient(fmt.Errorf("store unavailable: %w", err))
	}
	return action, err
}

func (b *BreakerStore) AthleteProfile(ctx context.Context, userID string) (metrics.AthleteProfile, error) {
	return b.next.AthleteProfile(ctx, userID)
}

func (b *BreakerStore) State() gobreaker.State {
	return b.cb.State()
}
