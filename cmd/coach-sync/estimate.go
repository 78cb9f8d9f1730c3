package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fitglue/coach-sync/pkg/domain/metrics"
)

func newEstimateCmd() *cobra.Command {
	var avgHR, sessionMaxHR, durationS, maxHR, restHR float64
	cmd := &cobra.Command{
		Use:   "estimate",
		Short: "Estimate IF and TSS from heart rate",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if avgHR <= 0 || sessionMaxHR <= 0 || maxHR <= 0 || durationS <= 0 {
				return fmt.Errorf("--avg-hr, --session-max-hr, --max-hr and --duration must be positive")
			}
			ifv, tss := metrics.Estimate(avgHR, sessionMaxHR, durationS, maxHR, restHR)
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "IF %.2f\nTSS %.0f\n", ifv, tss)
			return err
		},
	}
	cmd.Flags().Float64Var(&avgHR, "avg-hr", 0, "session average heart rate")
	cmd.Flags().Float64Var(&sessionMaxHR, "session-max-hr", 0, "session maximum heart rate")
	cmd.Flags().Float64Var(&durationS, "duration", 0, "duration in seconds")
	cmd.Flags().Float64Var(&maxHR, "max-hr", 0, "athlete maximum heart rate")
	cmd.Flags().Float64Var(&restHR, "rest-hr", metrics.DefaultRestHR, "athlete resting heart rate")
	return cmd
}
