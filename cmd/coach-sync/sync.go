package main

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/fitglue/coach-sync/pkg/app"
	"github.com/fitglue/coach-sync/pkg/bootstrap"
	"github.com/fitglue/coach-sync/pkg/coordinator"
	"github.com/fitglue/coach-sync/pkg/domain/activity"
)

type syncFlags struct {
	provider    string
	user        string
	since       string
	until       string
	activityIDs []string
}

func newSyncCmd() *cobra.Command {
	var f syncFlags
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync in the foreground and print its report",
		RunE: func(cmd *cobra.Command, _ []string) error {
			trigger, err := f.trigger(time.Now())
			if err != nil {
				return err
			}

			svc, err := bootstrap.NewService(cmd.Context(), "coach-sync")
			if err != nil {
				return err
			}
			defer svc.Close()

			a, err := app.New(svc)
			if err != nil {
				return err
			}

			report, runErr := a.Coordinator.Run(cmd.Context(), trigger)
			if report != nil {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return err
				}
			}
			return runErr
		},
	}
	cmd.Flags().StringVar(&f.provider, "provider", string(activity.ProviderStrava), "provider to sync (strava|fitbit)")
	cmd.Flags().StringVar(&f.user, "user", "", "provider user id")
	cmd.Flags().StringVar(&f.since, "since", "", "window start: RFC 3339 time or a duration ago such as 72h")
	cmd.Flags().StringVar(&f.until, "until", "", "window end: RFC 3339 time (defaults to now)")
	cmd.Flags().StringSliceVar(&f.activityIDs, "activity", nil, "sync only these activity ids")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func (f syncFlags) trigger(now time.Time) (coordinator.Trigger, error) {
	t := coordinator.Trigger{
		Provider:    activity.Provider(f.provider),
		UserID:      f.user,
		ActivityIDs: f.activityIDs,
		Source:      "cli",
	}
	if f.since != "" {
		since, err := parseWhen(f.since, now)
		if err != nil {
			return t, fmt.Errorf("--since: %w", err)
		}
		t.Since = since
	}
	if f.until != "" {
		until, err := time.Parse(time.RFC3339, f.until)
		if err != nil {
			return t, fmt.Errorf("--until: %w", err)
		}
		t.Until = until
	}
	if !t.Since.IsZero() && !t.Until.IsZero() && !t.Since.Before(t.Until) {
		return t, fmt.Errorf("--since must be before --until")
	}
	return t, nil
}

func parseWhen(s string, now time.Time) (time.Time, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return now.Add(-d), nil
	}
	return time.Parse(time.RFC3339, s)
}
