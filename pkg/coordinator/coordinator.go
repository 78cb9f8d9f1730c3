// Package coordinator runs a sync: token, fetch, map, estimate, upsert.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	getsentry "github.com/getsentry/sentry-go"
	"github.com/google/uuid"

	shared "github.com/fitglue/coach-sync/pkg"
	"github.com/fitglue/coach-sync/pkg/domain/activity"
	"github.com/fitglue/coach-sync/pkg/domain/metrics"
	"github.com/fitglue/coach-sync/pkg/fetcher"
	"github.com/fitglue/coach-sync/pkg/infrastructure/pubsub"
	"github.com/fitglue/coach-sync/pkg/infrastructure/sentry"
	"github.com/fitglue/coach-sync/pkg/observability"
	"github.com/fitglue/coach-sync/pkg/storage"
)

// Tokens is the part of the token vault a run needs up front.
type Tokens interface {
	GetValidToken(ctx context.Context, provider, userID string) (string, error)
}

// Fetcher is satisfied by *fetcher.Fetcher.
type Fetcher interface {
	FetchRecent(provider activity.Provider, userID string, since, until time.Time) (*fetcher.Stream, error)
	FetchByID(ctx context.Context, provider activity.Provider, userID, id string) (activity.RawActivity, error)
}

// Trigger describes one requested run. With ActivityIDs set only those
// activities are fetched; otherwise everything in [Since, Until).
type Trigger struct {
	Provider    activity.Provider `json:"provider"`
	UserID      string            `json:"user_id"`
	Since       time.Time         `json:"since,omitempty"`
	Until       time.Time         `json:"until,omitempty"`
	ActivityIDs []string          `json:"activity_ids,omitempty"`
	Source      string            `json:"source,omitempty"`
}

type Options struct {
	// Lookback is used when a Trigger has no Since.
	Lookback              time.Duration
	MaxUpsertAttempts     int
	UpsertInitialInterval time.Duration
	UpsertTimeout         time.Duration
	ProfileTimeout        time.Duration
}

func (o *Options) withDefaults() {
	if o.Lookback <= 0 {
		o.Lookback = 7 * 24 * time.Hour
	}
	if o.MaxUpsertAttempts <= 0 {
		o.MaxUpsertAttempts = 3
	}
	if o.UpsertInitialInterval <= 0 {
		o.UpsertInitialInterval = 250 * time.Millisecond
	}
	if o.UpsertTimeout <= 0 {
		o.UpsertTimeout = 15 * time.Second
	}
	if o.ProfileTimeout <= 0 {
		o.ProfileTimeout = 10 * time.Second
	}
}

type Coordinator struct {
	tokens    Tokens
	fetcher   Fetcher
	store     storage.Store
	publisher shared.Publisher
	opts      Options
	logger    *slog.Logger
	now       func() time.Time
}

// New builds a coordinator. publisher may be nil to skip completion events.
func New(tokens Tokens, f Fetcher, store storage.Store, publisher shared.Publisher, opts Options, logger *slog.Logger) *Coordinator {
	opts.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		tokens:    tokens,
		fetcher:   f,
		store:     store,
		publisher: publisher,
		opts:      opts,
		logger:    logger,
		now:       time.Now,
	}
}

// run is the state of one execution of Run.
type run struct {
	report  *Report
	state   State
	logger  *slog.Logger
	profile metrics.AthleteProfile
	// profileUnavailable is set when the profile read failed, as opposed to
	// the store holding none.
	profileUnavailable bool
}

func (r *run) enter(s State) {
	r.logger.Debug("Sync state", "from", r.state, "to", s)
	r.state = s
}

// Run executes one sync. Token failures abort before anything is fetched and
// come back as the returned error together with a failed report. Every other
// failure is isolated to its record and reported in the outcomes.
func (c *Coordinator) Run(ctx context.Context, t Trigger) (*Report, error) {
	report := &Report{
		RunID:     uuid.NewString(),
		Provider:  t.Provider,
		UserID:    t.UserID,
		StartedAt: c.now().UTC(),
		Outcomes:  []Outcome{},
	}
	r := &run{
		report: report,
		state:  StateIdle,
		logger: c.logger.With("run_id", report.RunID, "provider", t.Provider, "user_id", t.UserID),
	}
	r.logger.Info("Sync run started", "source", t.Source, "activity_ids", len(t.ActivityIDs))

	if _, err := c.tokens.GetValidToken(ctx, string(t.Provider), t.UserID); err != nil {
		report.Status = StateFailed
		report.Error = err.Error()
		c.finish(ctx, r, err)
		return report, fmt.Errorf("sync %s user %s: %w", t.Provider, t.UserID, err)
	}
	r.enter(StateTokenReady)

	r.profile = c.loadProfile(ctx, r, t.UserID)

	r.enter(StateFetching)
	var aborted bool
	if len(t.ActivityIDs) > 0 {
		aborted = c.runByID(ctx, r, t)
	} else {
		aborted = c.runRecent(ctx, r, t)
	}

	report.Status = computeStatus(report, aborted)
	if aborted {
		report.Error = ctx.Err().Error()
	}
	c.finish(ctx, r, nil)
	if aborted {
		return report, ctx.Err()
	}
	return report, nil
}

func (c *Coordinator) runRecent(ctx context.Context, r *run, t Trigger) bool {
	until := t.Until
	if until.IsZero() {
		until = c.now()
	}
	since := t.Since
	if since.IsZero() {
		since = until.Add(-c.opts.Lookback)
	}

	stream, err := c.fetcher.FetchRecent(t.Provider, t.UserID, since, until)
	if err != nil {
		r.report.FetchError = err.Error()
		return false
	}

	for {
		if ctx.Err() != nil {
			return true
		}
		if !stream.Next(ctx) {
			break
		}
		c.process(ctx, r, t, stream.Activity())
	}

	if err := stream.Err(); err != nil {
		if ctx.Err() != nil {
			return true
		}
		r.logger.Warn("Listing ended early, keeping fetched records", "pages", stream.Pages(), "error", err)
		r.report.FetchError = err.Error()
	}
	return false
}

func (c *Coordinator) runByID(ctx context.Context, r *run, t Trigger) bool {
	for _, id := range t.ActivityIDs {
		if ctx.Err() != nil {
			return true
		}
		raw, err := c.fetcher.FetchByID(ctx, t.Provider, t.UserID, id)
		if err != nil {
			r.logger.Warn("Failed to fetch activity", "external_id", id, "error", err)
			c.outcome(r, Outcome{ExternalID: id, Action: ActionFailed, Err: err})
			continue
		}
		c.process(ctx, r, t, raw)
	}
	return false
}

// process takes one raw activity through map, estimate and upsert.
func (c *Coordinator) process(ctx context.Context, r *run, t Trigger, raw activity.RawActivity) {
	r.enter(StateMapping)
	a, err := activity.Map(raw)
	if err != nil {
		id := ""
		var mapErr *activity.MappingError
		if errors.As(err, &mapErr) {
			id = mapErr.ExternalID
		}
		r.logger.Warn("Skipping unmappable activity", "external_id", id, "error", err)
		c.outcome(r, Outcome{ExternalID: id, Action: ActionFailed, Err: err})
		return
	}

	r.enter(StateEstimating)
	result := metrics.Compute(a, r.profile)

	r.enter(StateUpserting)
	w := &storage.Workout{
		UserID:             t.UserID,
		Provider:           t.Provider,
		Activity:           a,
		Metrics:            result,
		ProfileUnavailable: r.profileUnavailable,
	}
	action, err := c.upsert(ctx, r, w)
	if err != nil {
		r.logger.Error("Failed to upsert workout", "external_id", a.ExternalID, "error", err)
		c.outcome(r, Outcome{ExternalID: a.ExternalID, Action: ActionFailed, Err: err})
		return
	}

	logArgs := []any{"external_id", a.ExternalID, "action", action}
	if result.Load != nil {
		logArgs = append(logArgs, "tss", result.Load.TrainingStressScore, "if", result.Load.IntensityFactor, "load_source", result.Load.Source)
	}
	r.logger.Info("Workout synced", logArgs...)
	c.outcome(r, Outcome{ExternalID: a.ExternalID, Action: Action(action)})
}

// upsert retries transient store failures with jittered exponential backoff.
func (c *Coordinator) upsert(ctx context.Context, r *run, w *storage.Workout) (storage.Action, error) {
	attempts := 0
	var lastErr error

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.UpsertInitialInterval

	action, err := backoff.Retry(ctx, func() (storage.Action, error) {
		attempts++
		callCtx, cancel := context.WithTimeout(ctx, c.opts.UpsertTimeout)
		defer cancel()

		action, err := c.store.Upsert(callCtx, w)
		lastErr = err
		if err != nil && !storage.IsTransient(err) {
			return "", backoff.Permanent(err)
		}
		return action, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(c.opts.MaxUpsertAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			r.logger.Warn("Transient store failure, retrying", "external_id", w.Activity.ExternalID, "attempt", attempts, "retry_in", next, "error", err)
		}),
	)
	if err != nil {
		if lastErr == nil {
			lastErr = err
		}
		return "", &UpsertError{ExternalID: w.Activity.ExternalID, Attempts: attempts, Err: lastErr}
	}
	return action, nil
}

func (c *Coordinator) loadProfile(ctx context.Context, r *run, userID string) metrics.AthleteProfile {
	pctx, cancel := context.WithTimeout(ctx, c.opts.ProfileTimeout)
	defer cancel()

	profile, err := c.store.AthleteProfile(pctx, userID)
	if errors.Is(err, storage.ErrProfileNotFound) {
		r.logger.Info("No athlete profile, continuing without load estimation")
		return metrics.AthleteProfile{}
	}
	if err != nil {
		r.logger.Warn("Athlete profile unavailable, continuing without load estimation", "error", err)
		r.profileUnavailable = true
		return metrics.AthleteProfile{}
	}
	return profile
}

func (c *Coordinator) outcome(r *run, o Outcome) {
	r.report.record(o)
	observability.RecordOutcome(string(r.report.Provider), string(o.Action))
}

// finish logs, meters, reports and announces the run. runErr is set only for
// run-level failures.
func (c *Coordinator) finish(ctx context.Context, r *run, runErr error) {
	report := r.report
	report.FinishedAt = c.now().UTC()
	r.enter(report.Status)

	elapsed := report.FinishedAt.Sub(report.StartedAt)
	observability.RecordRun(string(report.Provider), string(report.Status), elapsed)

	tags := map[string]string{
		"run_id":   report.RunID,
		"provider": string(report.Provider),
		"user_id":  report.UserID,
	}
	switch {
	case runErr != nil:
		r.logger.Error("Sync run failed", "error", runErr, "duration", elapsed)
		sentry.CaptureException(runErr, tags, r.logger)
	case report.Status == StatePartialFailure:
		r.logger.Warn("Sync run partially failed",
			"created", report.Counts.Created, "updated", report.Counts.Updated,
			"skipped", report.Counts.Skipped, "failed", report.Counts.Failed,
			"fetch_error", report.FetchError, "duration", elapsed)
		sentry.CaptureMessage(fmt.Sprintf("sync run %s partially failed: %d failed", report.RunID, report.Counts.Failed), getsentry.LevelWarning, tags, r.logger)
	default:
		r.logger.Info("Sync run completed",
			"created", report.Counts.Created, "updated", report.Counts.Updated,
			"skipped", report.Counts.Skipped, "duration", elapsed)
	}

	c.publish(ctx, r)
}

func (c *Coordinator) publish(ctx context.Context, r *run) {
	if c.publisher == nil {
		return
	}
	e, err := pubsub.NewCloudEvent(shared.CloudEventSource, shared.EventTypeSyncCompleted, r.report)
	if err != nil {
		r.logger.Warn("Failed to build completion event", "error", err)
		return
	}
	e.SetSubject(r.report.RunID)

	// The run is over either way; a cancelled caller should not lose the announcement.
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if _, err := c.publisher.PublishCloudEvent(pctx, shared.TopicSyncCompleted, e); err != nil {
		r.logger.Warn("Failed to publish completion event", "error", err)
	}
}
