package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newOnceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Runs a single search and publish cycle",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			report, err := appInstance.RunOnce(cmd.Context())
			if err != nil {
				return fmt.Errorf("cycle failed: %w", err)
			}
			appInstance.Logger().Info("cycle finished",
				zap.String("run_id", report.RunID),
				zap.String("date", report.TargetDate),
				zap.Int("found", report.Result.Found),
				zap.Int("new", report.Result.New),
				zap.Int("published", report.Result.Published),
			)
			fmt.Fprintf(cmd.OutOrStdout(), "%d/%d published\n", report.Result.Published, report.Result.New)
			return nil
		},
	}
}
