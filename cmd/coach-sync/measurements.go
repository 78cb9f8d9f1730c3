package main

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/fitglue/coach-sync/pkg/app"
	"github.com/fitglue/coach-sync/pkg/bodymetrics"
	"github.com/fitglue/coach-sync/pkg/bootstrap"
)

func newMeasurementsCmd() *cobra.Command {
	var (
		user string
		days int
	)
	cmd := &cobra.Command{
		Use:   "measurements",
		Short: "Print recent Withings body measurements with moving averages and trends",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if days < 1 || days > bodymetrics.MaxDays {
				return fmt.Errorf("--days must be between 1 and %d", bodymetrics.MaxDays)
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
			if a.Measurements == nil {
				return errors.New("withings is not configured")
			}

			report, err := a.Measurements.List(cmd.Context(), user, days)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "withings user id")
	cmd.Flags().IntVar(&days, "days", bodymetrics.DefaultDays, "days of history to read")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
