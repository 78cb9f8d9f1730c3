package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "coach-sync",
		Short:        "Sync Strava and Fitbit workouts into a coaching store",
		Long:         "coach-sync pulls activities from fitness providers, derives training load and upserts the results into the configured workout store.",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newSyncCmd(),
		newEstimateCmd(),
		newMeasurementsCmd(),
	)
	return rootCmd
}
