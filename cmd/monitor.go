package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newMonitorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "monitor",
		Short: "Runs the scheduled monitor until terminated",
		Long: `Starts the health endpoint, runs one cycle immediately and then one every
schedule.interval. SIGINT and SIGTERM end the process according to shutdown.mode.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			signals := make(chan os.Signal, 1)
			signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(signals)

			return appInstance.Monitor(cmd.Context(), signals)
		},
	}
}
